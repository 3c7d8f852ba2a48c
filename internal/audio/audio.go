// Package audio activates the A2DP sink profile for a connected device and
// adjusts its sink volume, by shelling out to pactl rather than linking
// against PulseAudio/PipeWire's introspection libraries directly — that
// introspection glue is an external collaborator this daemon only talks to
// at arm's length, the same way the teacher's tools never link libpulse and
// instead treat the audio server as a subprocess boundary. Grounded on
// other_examples' ampli-pi4 bluetooth stream, which shells out to
// bluealsa-aplay via exec.CommandContext rather than binding its audio
// stack directly.
package audio

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"airpodsd/internal/aacpproto"
)

// profilePreference is the ordered list of A2DP profiles to try; the first
// the card actually supports wins.
var profilePreference = []string{"a2dp-sink-sbc_xq", "a2dp-sink-sbc", "a2dp-sink"}

// Controller activates A2DP profiles and adjusts sink volume via pactl.
type Controller struct {
	log            *logrus.Entry
	restartCommand string

	cardIndex map[string]string // MAC -> pactl card index from the latest resolveCard
}

// New creates a controller. restartCommand, if non-empty, is invoked (via a
// shell) once when no A2DP profile is available on the first attempt.
func New(restartCommand string, log *logrus.Entry) *Controller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{
		log:            log.WithField("component", "audio"),
		restartCommand: restartCommand,
		cardIndex:      make(map[string]string),
	}
}

// ActivateA2DP resolves mac's audio card and switches it to the best
// available A2DP profile, retrying once via restartCommand if none are
// available.
func (c *Controller) ActivateA2DP(ctx context.Context, mac string) error {
	if err := c.activateOnce(ctx, mac); err == nil {
		return nil
	}

	if c.restartCommand == "" {
		return fmt.Errorf("%w: no a2dp profile available for %s", aacpproto.ErrAudioUnavailable, mac)
	}

	c.log.WithField("mac", mac).Info("no a2dp profile available, restarting audio server")
	if err := c.runShell(ctx, c.restartCommand); err != nil {
		c.log.WithError(err).Warn("restart command failed")
	}
	delete(c.cardIndex, mac)

	if err := c.activateOnce(ctx, mac); err != nil {
		return fmt.Errorf("%w: %v", aacpproto.ErrAudioUnavailable, err)
	}
	return nil
}

func (c *Controller) activateOnce(ctx context.Context, mac string) error {
	card, profiles, err := c.resolveCard(ctx, mac)
	if err != nil {
		return err
	}

	for _, want := range profilePreference {
		if !profiles[want] {
			continue
		}
		cmd := exec.CommandContext(ctx, "pactl", "set-card-profile", card, want)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("pactl set-card-profile: %w: %s", err, out)
		}
		return nil
	}
	return fmt.Errorf("no preferred a2dp profile found among %v", profiles)
}

// resolveCard matches mac against each card's device.string property and
// returns its pactl index and the set of profiles it advertises. The card
// index is cached per-MAC after the first successful resolution; profiles
// are always re-read since they can change after a reconnect.
func (c *Controller) resolveCard(ctx context.Context, mac string) (string, map[string]bool, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "cards").Output()
	if err != nil {
		return "", nil, fmt.Errorf("pactl list cards: %w", err)
	}

	card, profiles, err := findCard(string(out), mac)
	if err != nil {
		return "", nil, err
	}
	c.cardIndex[mac] = card
	return card, profiles, nil
}

// findCard scans pactl list-cards output for the card whose device.string
// property contains mac, collecting the A2DP profiles that card advertises.
func findCard(output, mac string) (string, map[string]bool, error) {
	macLower := strings.ToLower(mac)
	scanner := bufio.NewScanner(strings.NewReader(output))

	var currentCard string
	var inMatchingCard bool
	profiles := make(map[string]bool)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "Card #"):
			if inMatchingCard {
				return currentCard, profiles, nil
			}
			currentCard = strings.TrimPrefix(line, "Card #")
		case strings.HasPrefix(line, "device.string"):
			if strings.Contains(strings.ToLower(line), macLower) {
				inMatchingCard = true
			}
		case strings.Contains(line, ":") && inMatchingCard:
			name := strings.TrimSpace(strings.SplitN(line, ":", 2)[0])
			for _, p := range profilePreference {
				if name == p {
					profiles[p] = true
				}
			}
		}
	}

	if currentCard == "" || !inMatchingCard {
		return "", nil, fmt.Errorf("no pulseaudio card found for device %s", mac)
	}
	return currentCard, profiles, nil
}

// DeactivateA2DP sets mac's audio card profile to "off".
func (c *Controller) DeactivateA2DP(ctx context.Context, mac string) error {
	card, ok := c.cardIndex[mac]
	if !ok {
		var err error
		card, _, err = c.resolveCard(ctx, mac)
		if err != nil {
			return err
		}
	}
	cmd := exec.CommandContext(ctx, "pactl", "set-card-profile", card, "off")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pactl set-card-profile off: %w: %s", err, out)
	}
	return nil
}

// SetSinkVolume sets the default sink's volume to percent (0-100).
func (c *Controller) SetSinkVolume(ctx context.Context, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cmd := exec.CommandContext(ctx, "pactl", "set-sink-volume", "@DEFAULT_SINK@", fmt.Sprintf("%d%%", percent))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pactl set-sink-volume: %w: %s", err, out)
	}
	return nil
}

// SinkVolume reads the default sink's current volume percentage.
func (c *Controller) SinkVolume(ctx context.Context) (int, error) {
	out, err := exec.CommandContext(ctx, "pactl", "get-sink-volume", "@DEFAULT_SINK@").Output()
	if err != nil {
		return 0, fmt.Errorf("pactl get-sink-volume: %w", err)
	}
	return parseVolumePercent(string(out))
}

func parseVolumePercent(output string) (int, error) {
	idx := strings.Index(output, "%")
	if idx < 3 {
		return 0, fmt.Errorf("audio: could not parse volume from %q", output)
	}
	start := idx - 1
	for start > 0 && output[start-1] >= '0' && output[start-1] <= '9' {
		start--
	}
	return strconv.Atoi(output[start:idx])
}

// FadeVolume steps the sink volume from its current value to target over
// the given duration, in even increments, the way the conversational
// awareness ducking model needs.
func (c *Controller) FadeVolume(ctx context.Context, target int, duration time.Duration) error {
	current, err := c.SinkVolume(ctx)
	if err != nil {
		return err
	}
	const steps = 10
	step := duration / steps
	delta := float64(target-current) / steps

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
		next := current + int(delta*float64(i))
		if err := c.SetSinkVolume(ctx, next); err != nil {
			return err
		}
	}
	return c.SetSinkVolume(ctx, target)
}

func (c *Controller) runShell(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", aacpproto.ErrExternalCommandFailed, out)
	}
	return nil
}

// Package coordinator implements the per-session media/ownership state
// machine: ear-detection-driven A2DP and playback control, multi-host
// ownership handoff, stem-press media control, and conversational-awareness
// volume ducking.
//
// Grounded on the teacher's internal/podstate/coordinator.go for the overall
// "one coordinator per connected device, reacting to a stream of events"
// shape, generalized from that file's simpler "track ear state, log it"
// behavior into the fuller ownership/ducking state machine
// original_source/src/media_controller.rs describes.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"airpodsd/internal/aacp"
	"airpodsd/internal/aacpproto"
	"airpodsd/internal/audio"
	"airpodsd/internal/config"
	"airpodsd/internal/mpris"
)

// Session is the subset of *aacp.Session the coordinator depends on,
// narrowed to an interface so it can be driven by a fake in tests.
type Session interface {
	Events() <-chan aacp.Event
	Snapshot() aacp.PeerState
	SendControlCommand(id aacp.ControlCommandID, value []byte) error
	SendMediaInformation(local, remote string, isPlaying bool) error
	SendSmartRoutingShowUI(mac string) error
	SendHijackRequest(mac string) error
}

// Coordinator owns one device's playback/ownership state machine.
type Coordinator struct {
	session  Session
	mprisCli *mpris.Client
	audioCtl *audio.Controller
	cfg      config.CoordinatorConfig
	localMAC string
	log      *logrus.Entry

	onAudioUnavailable func()

	mu               sync.Mutex
	earIn            [2]bool
	userPlayed       bool
	pausedByUs       map[string]bool
	wasPlaying       bool
	convOriginal     *int
	convStarted      bool
	connectedMACs    []string
	audioUnavailable bool
}

// New creates a coordinator for one AACP session.
func New(session Session, mprisCli *mpris.Client, audioCtl *audio.Controller, cfg config.CoordinatorConfig, localMAC string, log *logrus.Entry) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		session:    session,
		mprisCli:   mprisCli,
		audioCtl:   audioCtl,
		cfg:        cfg,
		localMAC:   localMAC,
		log:        log.WithField("component", "coordinator"),
		pausedByUs: make(map[string]bool),
	}
}

// OnAudioUnavailable registers fn to be invoked the first time A2DP
// activation fails because no sink profile exists; the caller typically
// surfaces this on the shared event bus. Must be set before Run.
func (c *Coordinator) OnAudioUnavailable(fn func()) {
	c.onAudioUnavailable = fn
}

// Run drives the event loop and the 500ms playback poll loop until stop is
// closed.
func (c *Coordinator) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(config.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-c.session.Events():
			if !ok {
				return
			}
			c.handleEvent(ev)
		case <-ticker.C:
			c.pollPlayback()
		}
	}
}

func (c *Coordinator) handleEvent(ev aacp.Event) {
	switch e := ev.(type) {
	case aacp.EarDetectionEvent:
		c.handleEarDetection(e)
	case aacp.ConversationalAwarenessEvent:
		c.handleConvAwareness(e)
	case aacp.ControlCommandEvent:
		if e.Identifier == aacp.CmdOwnsConnection && len(e.Value) > 0 && e.Value[0] == 0 {
			c.handleOwnershipLoss()
		}
	case aacp.OwnershipToFalseRequestEvent:
		_ = c.session.SendControlCommand(aacp.CmdOwnsConnection, []byte{0x00})
		c.handleOwnershipLoss()
	case aacp.StemPressEvent:
		c.handleStemPress(e)
	case aacp.ConnectedDevicesEvent:
		macs := make([]string, 0, len(e.New))
		for _, d := range e.New {
			macs = append(macs, d.MAC)
		}
		c.mu.Lock()
		c.connectedMACs = macs
		c.mu.Unlock()
	}
}

func earIsIn(status aacp.EarStatus) bool { return status == aacp.EarInEar }

// activateA2DP and deactivateA2DP tolerate a nil audio controller, which
// keeps the coordinator's event-handling logic exercisable in tests that
// don't want to depend on a real PulseAudio/PipeWire instance.
func (c *Coordinator) activateA2DP(ctx context.Context) error {
	if c.audioCtl == nil {
		return nil
	}
	err := c.audioCtl.ActivateA2DP(ctx, c.localMAC)
	if errors.Is(err, aacpproto.ErrAudioUnavailable) {
		c.mu.Lock()
		first := !c.audioUnavailable
		c.audioUnavailable = true
		c.mu.Unlock()
		if first && c.onAudioUnavailable != nil {
			c.onAudioUnavailable()
		}
	}
	return err
}

func (c *Coordinator) deactivateA2DP(ctx context.Context) error {
	if c.audioCtl == nil {
		return nil
	}
	return c.audioCtl.DeactivateA2DP(ctx, c.localMAC)
}

func (c *Coordinator) handleEarDetection(e aacp.EarDetectionEvent) {
	oldIn := [2]bool{earIsIn(e.Old[0]), earIsIn(e.Old[1])}
	newIn := [2]bool{earIsIn(e.New[0]), earIsIn(e.New[1])}

	allOldOut := !oldIn[0] && !oldIn[1]
	allNewOut := !newIn[0] && !newIn[1]
	anyNewIn := newIn[0] || newIn[1]

	c.mu.Lock()
	wasPlaying := c.wasPlaying
	c.earIn = newIn
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch {
	case allNewOut && !c.cfg.EarDetectEnabled:
		return
	case anyNewIn && allOldOut:
		if err := c.activateA2DP(ctx); err != nil {
			c.log.WithError(err).Warn("activate a2dp on ear-in failed")
		}
		if wasPlaying {
			c.mu.Lock()
			c.userPlayed = true
			c.mu.Unlock()
		}
		if newIn[0] && newIn[1] {
			c.resumePausedByUs()
		}
	case allNewOut:
		c.pauseAllPlaying(true)
		if c.cfg.DisconnectWhenNoWear {
			if err := c.deactivateA2DP(ctx); err != nil {
				c.log.WithError(err).Warn("disconnect_when_no_wear: deactivate a2dp failed")
			}
		}
	default:
		if newIn[0] != oldIn[0] || newIn[1] != oldIn[1] {
			if newIn[0] && newIn[1] {
				c.resumePausedByUs()
			} else if !allOldOut {
				c.pauseAllPlaying(false)
			}
		}
	}
}

func (c *Coordinator) pauseAllPlaying(remember bool) {
	if c.mprisCli == nil {
		return
	}
	statuses, err := c.mprisCli.Statuses()
	if err != nil {
		c.log.WithError(err).Debug("list mpris statuses failed")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range statuses {
		if !s.Playing {
			continue
		}
		if err := c.mprisCli.Pause(s.ServiceName); err != nil {
			c.log.WithError(err).WithField("player", s.ServiceName).Debug("pause failed")
			continue
		}
		if remember {
			c.pausedByUs[s.ServiceName] = true
		}
	}
}

func (c *Coordinator) resumePausedByUs() {
	c.mu.Lock()
	targets := make([]string, 0, len(c.pausedByUs))
	for name := range c.pausedByUs {
		targets = append(targets, name)
	}
	c.pausedByUs = make(map[string]bool)
	c.mu.Unlock()

	if c.mprisCli == nil {
		return
	}
	for _, name := range targets {
		if err := c.mprisCli.PlayPause(name); err != nil {
			c.log.WithError(err).WithField("player", name).Debug("resume failed")
		}
	}
}

// pollPlayback implements the 500ms "did playback just start" claim logic.
func (c *Coordinator) pollPlayback() {
	if c.mprisCli == nil {
		return
	}
	statuses, err := c.mprisCli.Statuses()
	if err != nil {
		c.log.WithError(err).Debug("mpris poll failed")
		return
	}

	nowPlaying := false
	for _, s := range statuses {
		if s.Playing {
			nowPlaying = true
			break
		}
	}

	c.mu.Lock()
	wasPlaying := c.wasPlaying
	c.wasPlaying = nowPlaying
	earIn := c.earIn
	peers := append([]string(nil), c.connectedMACs...)
	c.mu.Unlock()

	if wasPlaying || !nowPlaying {
		return
	}
	if !earIn[0] || !earIn[1] {
		return // don't steal playback from the real user
	}
	c.claimOwnership(peers)
}

func (c *Coordinator) claimOwnership(peers []string) {
	if err := c.session.SendControlCommand(aacp.CmdOwnsConnection, []byte{0x01}); err != nil {
		c.log.WithError(err).Warn("claim ownership: send control command failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.activateA2DP(ctx); err != nil {
		c.log.WithError(err).Warn("claim ownership: activate a2dp failed")
	}

	for _, peer := range peers {
		if peer == c.localMAC {
			continue
		}
		if err := c.session.SendMediaInformation(c.localMAC, peer, true); err != nil {
			c.log.WithError(err).WithField("peer", peer).Warn("send media information failed")
		}
		if err := c.session.SendSmartRoutingShowUI(peer); err != nil {
			c.log.WithError(err).WithField("peer", peer).Warn("send smart routing show-ui failed")
		}
		if err := c.session.SendHijackRequest(peer); err != nil {
			c.log.WithError(err).WithField("peer", peer).Warn("send hijack request failed")
		}
	}
}

func (c *Coordinator) handleOwnershipLoss() {
	if c.mprisCli != nil {
		statuses, err := c.mprisCli.Statuses()
		if err == nil {
			for _, s := range statuses {
				if s.Playing {
					_ = c.mprisCli.Pause(s.ServiceName)
				}
			}
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.deactivateA2DP(ctx); err != nil {
		c.log.WithError(err).Warn("ownership lost: deactivate a2dp failed")
	}
}

// handleStemPress targets a single MPRIS service: the first one currently
// playing, else the first that exposes the player interface at all.
func (c *Coordinator) handleStemPress(e aacp.StemPressEvent) {
	if e.Kind == aacp.StemLong || c.mprisCli == nil {
		return
	}

	statuses, err := c.mprisCli.Statuses()
	if err != nil || len(statuses) == 0 {
		return
	}

	target := statuses[0].ServiceName
	for _, s := range statuses {
		if s.Playing {
			target = s.ServiceName
			break
		}
	}

	switch e.Kind {
	case aacp.StemSingle:
		_ = c.mprisCli.PlayPause(target)
	case aacp.StemDouble:
		_ = c.mprisCli.Next(target)
	case aacp.StemTriple:
		_ = c.mprisCli.Previous(target)
	}
}

// handleConvAwareness implements the four-phase ducking model: start
// latches the pre-duck volume, deepen fades further, partial restore eases
// back toward (but not past) the recorded original, and end restores it
// fully.
func (c *Coordinator) handleConvAwareness(e aacp.ConversationalAwarenessEvent) {
	if c.audioCtl == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	switch e.Status {
	case 1:
		c.mu.Lock()
		started := c.convStarted
		c.mu.Unlock()
		if started {
			return
		}
		current, err := c.audioCtl.SinkVolume(ctx)
		if err != nil {
			c.log.WithError(err).Debug("conv awareness: read volume failed")
			return
		}
		c.mu.Lock()
		c.convOriginal = &current
		c.convStarted = true
		c.mu.Unlock()
		if current > 25 {
			_ = c.audioCtl.FadeVolume(ctx, 25, time.Second)
		}
	case 2:
		c.mu.Lock()
		original := c.convOriginal
		c.mu.Unlock()
		if original != nil && *original > 15 {
			_ = c.audioCtl.FadeVolume(ctx, 15, time.Second)
		}
	case 3:
		c.mu.Lock()
		original, started := c.convOriginal, c.convStarted
		c.mu.Unlock()
		if !started || original == nil {
			return
		}
		target := *original
		if target > 25 {
			target = 25
		}
		_ = c.audioCtl.FadeVolume(ctx, target, time.Second)
	case 4, 6, 7:
		c.mu.Lock()
		original := c.convOriginal
		c.convOriginal = nil
		c.convStarted = false
		c.mu.Unlock()
		if original != nil {
			_ = c.audioCtl.FadeVolume(ctx, *original, time.Second)
		}
	}
}

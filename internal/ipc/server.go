// Package ipc implements the Unix-domain control socket external clients
// (the terminal UI, the status-line tool) use to observe device state and
// send commands: a 4-byte big-endian length prefix followed by JSON,
// capped at 16 MiB, replaying a snapshot on accept and then streaming
// live updates.
//
// Grounded on original_source/src/ipc.rs's write_msg/read_msg framing and
// accept-loop shape (snapshot replay, then a forwarding task per
// subscriber, then a command-reading loop per connection), adapted from
// tokio tasks into goroutines and from a flat AppEvent log into
// internal/eventbus's folded per-device snapshot.
package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"airpodsd/internal/aacp"
	"airpodsd/internal/dispatch"
	"airpodsd/internal/eventbus"
)

// maxMessageSize bounds a single framed message, client or server side.
const maxMessageSize = 16 * 1024 * 1024

// SocketPath returns $XDG_RUNTIME_DIR/airpods-tui.sock, falling back to
// /tmp/airpods-tui.sock when XDG_RUNTIME_DIR is unset.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "airpods-tui.sock")
	}
	return "/tmp/airpods-tui.sock"
}

// wireCommand is the JSON shape of the second element of a client's
// [DeviceID, Command] tuple.
type wireCommand struct {
	Type  string `json:"type"`
	ID    uint16 `json:"id,omitempty"`
	Value []byte `json:"value,omitempty"`
	Name  string `json:"name,omitempty"`
}

func (c wireCommand) toDispatchCommand() (dispatch.Command, error) {
	switch c.Type {
	case "control_command":
		return dispatch.ControlCommand{ID: aacp.ControlCommandID(c.ID), Value: c.Value}, nil
	case "rename":
		return dispatch.Rename{Name: c.Name}, nil
	default:
		return nil, fmt.Errorf("ipc: unknown command type %q", c.Type)
	}
}

// Sender enqueues a command for a device; satisfied by *dispatch.Dispatcher.
type Sender interface {
	Send(deviceID string, cmd dispatch.Command)
}

// Server accepts IPC connections, replaying each new client a snapshot of
// the bus's current device universe before streaming live updates.
type Server struct {
	bus        *eventbus.Bus
	dispatch   Sender
	log        *logrus.Entry
	socketPath string

	mu       sync.Mutex
	listener net.Listener
}

// New creates a server backed by bus for state and dispatch for inbound
// commands. socketPath overrides the XDG-derived default from SocketPath()
// when non-empty, the override config.Config.IPC.SocketPath supplies.
func New(bus *eventbus.Bus, sender Sender, socketPath string, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if socketPath == "" {
		socketPath = SocketPath()
	}
	return &Server{bus: bus, dispatch: sender, socketPath: socketPath, log: log.WithField("component", "ipc")}
}

// Run binds the socket and accepts connections until stop is closed.
func (s *Server) Run(stop <-chan struct{}) error {
	path := s.socketPath
	_ = os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("ipc: listen on %s: %w", path, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.WithField("path", path).Info("ipc server listening")

	go func() {
		<-stop
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				return err
			}
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	log := s.log.WithField("remote", conn.RemoteAddr())
	log.Debug("ipc client connected")

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	writer := bufio.NewWriter(conn)

	for deviceID, snap := range s.bus.Snapshot() {
		if err := writeUpdate(writer, eventbus.Update{DeviceID: deviceID, Snapshot: snap}); err != nil {
			log.WithError(err).Debug("snapshot replay failed")
			return
		}
	}
	if err := writer.Flush(); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readCommands(conn, log)
	}()

	for {
		select {
		case update, ok := <-sub:
			if !ok {
				return
			}
			if err := writeUpdate(writer, update); err != nil {
				return
			}
			_ = writer.Flush()
		case <-done:
			return
		}
	}
}

func (s *Server) readCommands(conn net.Conn, log *logrus.Entry) {
	reader := bufio.NewReader(conn)
	for {
		data, err := readMessage(reader)
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Debug("ipc read failed")
			}
			return
		}

		var tuple [2]json.RawMessage
		if err := json.Unmarshal(data, &tuple); err != nil {
			log.WithError(err).Warn("ipc: malformed command tuple")
			continue
		}
		var deviceID string
		if err := json.Unmarshal(tuple[0], &deviceID); err != nil {
			log.WithError(err).Warn("ipc: malformed device id")
			continue
		}
		var wc wireCommand
		if err := json.Unmarshal(tuple[1], &wc); err != nil {
			log.WithError(err).Warn("ipc: malformed command")
			continue
		}
		cmd, err := wc.toDispatchCommand()
		if err != nil {
			log.WithError(err).Warn("ipc: unsupported command")
			continue
		}
		s.dispatch.Send(deviceID, cmd)
	}
}

func writeUpdate(w io.Writer, update eventbus.Update) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return writeMessage(w, payload)
}

// ReadUpdate reads one framed JSON message from r and decodes it as an
// eventbus.Update, the shape every message on this socket carries. Exported
// for clients (e.g. internal/statusline) that dial the socket directly
// instead of going through Server.
func ReadUpdate(r io.Reader) (eventbus.Update, error) {
	data, err := readMessage(r)
	if err != nil {
		return eventbus.Update{}, err
	}
	var update eventbus.Update
	if err := json.Unmarshal(data, &update); err != nil {
		return eventbus.Update{}, err
	}
	return update, nil
}

func writeMessage(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readMessage(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxMessageSize {
		return nil, fmt.Errorf("ipc: message of %d bytes exceeds %d byte limit", length, maxMessageSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Package aacpproto defines the error taxonomy shared by the protocol
// session layers (AACP and ATT) and their callers. Errors here are plain
// sentinel values checked with errors.Is, matching the rest of this
// codebase's preference for wrapped stdlib errors over custom error types.
package aacpproto

import "errors"

var (
	// ErrLinkUnavailable indicates the socket/connect attempt failed.
	// Retrying is the session supervisor's responsibility on the next
	// link-up signal, not the caller's.
	ErrLinkUnavailable = errors.New("aacpproto: link unavailable")

	// ErrTimeout indicates a bounded wait elapsed. Handshake steps swallow
	// it; explicit commands surface it to their caller.
	ErrTimeout = errors.New("aacpproto: timeout")

	// ErrPeerClosed indicates an orderly EOF from the peer. The session
	// transitions to Disposed.
	ErrPeerClosed = errors.New("aacpproto: peer closed")

	// ErrProtocolMalformed indicates a payload was too short or carried an
	// unknown tag. Never fatal — the frame is logged and dropped.
	ErrProtocolMalformed = errors.New("aacpproto: protocol malformed")

	// ErrKeyMissing indicates a device record has no IRK or ENC_KEY. The
	// record is skipped during RPA matching, never surfaced as a failure.
	ErrKeyMissing = errors.New("aacpproto: key missing")

	// ErrKeyMalformed indicates a stored key is not exactly 16 bytes.
	ErrKeyMalformed = errors.New("aacpproto: key malformed")

	// ErrAudioUnavailable indicates no A2DP sink profile could be
	// activated even after a restart-audio-server retry. Non-recoverable
	// locally; surfaced once on the event bus.
	ErrAudioUnavailable = errors.New("aacpproto: audio unavailable")

	// ErrExternalCommandFailed indicates an external process (the configured
	// audio restart command) exited non-zero. Logged; the
	// coordinator continues without the side effect.
	ErrExternalCommandFailed = errors.New("aacpproto: external command failed")

	// ErrDisposed indicates an operation was attempted against a session
	// that has already torn down its link.
	ErrDisposed = errors.New("aacpproto: session disposed")
)

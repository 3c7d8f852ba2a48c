package att

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"airpodsd/internal/aacpproto"
)

const (
	opReadRequest             = 0x0A
	opWriteRequest            = 0x12
	opWriteResponse           = 0x13
	opHandleValueNotification = 0x1B
)

// Listener is invoked, on the receive loop's goroutine, for every
// handle-value notification matching its registered handle.
type Listener func(value []byte)

// Client is an ATT request/response/notification session over a single
// L2CAP sequential-packet socket. At most one request may be outstanding at
// a time: Read and Write share a single-capacity response mailbox that the
// next caller must drain before issuing, mirroring ATT's own at-most-one
// in-flight guarantee.
type Client struct {
	fd int

	sendMu    sync.Mutex // serializes issuing requests onto the wire
	responses chan []byte

	listenersMu sync.RWMutex
	listeners   map[uint16][]Listener

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens an ATT session to the given Bluetooth address on PSM 0x001F.
func Dial(mac string) (*Client, error) {
	fd, err := dialL2CAP(mac, PSM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aacpproto.ErrLinkUnavailable, err)
	}

	c := &Client{
		fd:        fd,
		responses: make(chan []byte, 1),
		listeners: make(map[uint16][]Listener),
		closed:    make(chan struct{}),
	}
	go c.recvLoop()
	return c, nil
}

// Read issues an 0x0A read-request for handle and awaits the response.
func (c *Client) Read(ctx context.Context, handle uint16) ([]byte, error) {
	h := encodeHandle(handle)
	return c.request(ctx, []byte{opReadRequest, h[0], h[1]})
}

// Write issues an 0x12 write-request for handle with value and awaits the
// 0x13 write-response (an empty payload on success).
func (c *Client) Write(ctx context.Context, handle uint16, value []byte) error {
	h := encodeHandle(handle)
	packet := make([]byte, 0, 3+len(value))
	packet = append(packet, opWriteRequest, h[0], h[1])
	packet = append(packet, value...)

	_, err := c.request(ctx, packet)
	return err
}

// EnableNotifications writes 0x0100 to the Client Characteristic
// Configuration Descriptor, which by this protocol's convention always
// sits at handle+1.
func (c *Client) EnableNotifications(ctx context.Context, handle uint16) error {
	return c.Write(ctx, handle+1, []byte{0x01, 0x00})
}

// RegisterListener adds sink to the list notified whenever a handle-value
// notification arrives for handle.
func (c *Client) RegisterListener(handle uint16, sink Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners[handle] = append(c.listeners[handle], sink)
}

// request drains any stale response left by an aborted prior call, sends
// the packet, and waits for the next response or ctx's deadline.
func (c *Client) request(ctx context.Context, packet []byte) ([]byte, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case <-c.responses:
	default:
	}

	if _, err := unix.Write(c.fd, packet); err != nil {
		return nil, fmt.Errorf("%w: write: %v", aacpproto.ErrLinkUnavailable, err)
	}

	select {
	case resp := <-c.responses:
		return resp, nil
	case <-c.closed:
		return nil, aacpproto.ErrPeerClosed
	case <-ctx.Done():
		return nil, aacpproto.ErrTimeout
	}
}

// recvLoop reads packets until EOF/error and dispatches them: 0x1B is a
// notification fanned out to per-handle listeners, 0x13 delivers an empty
// response, anything else delivers payload[1:] to the response mailbox.
func (c *Client) recvLoop() {
	defer c.closeOnce.Do(func() { close(c.closed) })

	buf := make([]byte, 512)
	for {
		n, err := unix.Read(c.fd, buf)
		if err != nil || n == 0 {
			return
		}
		packet := append([]byte(nil), buf[:n]...)

		switch packet[0] {
		case opHandleValueNotification:
			if len(packet) < 3 {
				continue
			}
			handle := decodeHandle(packet[1:3])
			value := packet[3:]
			c.dispatch(handle, value)
		case opWriteResponse:
			c.deliverResponse(nil)
		default:
			if len(packet) > 1 {
				c.deliverResponse(packet[1:])
			} else {
				c.deliverResponse(nil)
			}
		}
	}
}

func (c *Client) deliverResponse(payload []byte) {
	select {
	case c.responses <- payload:
	default:
		// A stale unread response already occupies the mailbox; drop it
		// and keep this newer one instead.
		<-c.responses
		c.responses <- payload
	}
}

func (c *Client) dispatch(handle uint16, value []byte) {
	c.listenersMu.RLock()
	sinks := append([]Listener(nil), c.listeners[handle]...)
	c.listenersMu.RUnlock()

	for _, sink := range sinks {
		sink(value)
	}
}

// Close tears down the socket and the receive loop.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return unix.Close(c.fd)
}

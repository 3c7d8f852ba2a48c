// Package att implements a minimal Attribute Protocol (ATT) client over an
// L2CAP sequential-packet socket, used to talk to non-Apple peers (Nothing
// Ear buds) on PSM 0x001F.
//
// The socket plumbing below is adapted from the raw L2CAP connect/read/write
// the AirPods AACP client in this repository already does, generalized to
// golang.org/x/sys/unix instead of bare syscall+unsafe, and to the ATT
// request/response/notification framing instead of AACP's framing.
package att

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// PSM is the L2CAP Protocol/Service Multiplexer for ATT.
	PSM = 0x001F

	connectTimeout  = 10 * time.Second
	responseTimeout = 5 * time.Second
	pollInterval    = 50 * time.Millisecond
)

// bdaddr is a 6-byte Bluetooth device address in the kernel's reversed wire order.
type bdaddr [6]byte

// sockaddrL2 mirrors struct sockaddr_l2 from <bluetooth/l2cap.h>. x/sys/unix
// does not define this Bluetooth-specific sockaddr, so it is declared here
// the same way the AACP client declares its own.
type sockaddrL2 struct {
	family  uint16
	psm     uint16
	addr    bdaddr
	cid     uint16
	addrTyp uint8
	_       [3]byte // struct padding to match the kernel layout
}

func parseMAC(addr string) (bdaddr, error) {
	var out bdaddr

	cleaned := make([]byte, 0, 12)
	for _, c := range addr {
		if c != ':' {
			cleaned = append(cleaned, byte(c))
		}
	}
	if len(cleaned) != 12 {
		return out, fmt.Errorf("att: invalid MAC address %q", addr)
	}

	raw, err := hex.DecodeString(string(cleaned))
	if err != nil {
		return out, fmt.Errorf("att: invalid hex in MAC address: %w", err)
	}

	for i := 0; i < 6; i++ {
		out[i] = raw[5-i]
	}
	return out, nil
}

// dialL2CAP opens an L2CAP sequential-packet socket to mac on the given PSM,
// connects with a 10-second deadline, then polls (also bounded by that same
// deadline) until the kernel reports a nonzero connection identifier —
// i.e. the peer address has actually become usable, not merely that
// connect() returned.
func dialL2CAP(mac string, psm uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return -1, fmt.Errorf("att: socket: %w", err)
	}

	addr, err := parseMAC(mac)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}

	sa := sockaddrL2{
		family: unix.AF_BLUETOOTH,
		psm:    psm,
		addr:   addr,
	}

	deadline := time.Now().Add(connectTimeout)

	// The kernel's L2CAP connect() waits at most SO_SNDTIMEO for the link.
	tv := unix.NsecToTimeval(connectTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("att: set connect timeout: %w", err)
	}

	_, _, errno := unix.Syscall(unix.SYS_CONNECT, uintptr(fd),
		uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa))
	if errno != 0 {
		unix.Close(fd)
		return -1, fmt.Errorf("att: connect: %w", errno)
	}

	for {
		var got sockaddrL2
		size := unsafe.Sizeof(got)
		_, _, errno := unix.Syscall(unix.SYS_GETSOCKNAME, uintptr(fd),
			uintptr(unsafe.Pointer(&got)), uintptr(unsafe.Pointer(&size)))
		if errno == 0 && got.cid != 0 {
			return fd, nil
		}

		if time.Now().After(deadline) {
			unix.Close(fd)
			return -1, fmt.Errorf("att: connect: %w", errTimeout)
		}
		time.Sleep(pollInterval)
	}
}

var errTimeout = fmt.Errorf("timed out waiting for L2CAP connection identifier")

func encodeHandle(handle uint16) [2]byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], handle)
	return b
}

func decodeHandle(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

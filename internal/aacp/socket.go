package aacp

import (
	"encoding/hex"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PSM is the L2CAP Protocol/Service Multiplexer AACP is carried over.
const PSM = 0x1001

type bdaddr [6]byte

type sockaddrL2 struct {
	family  uint16
	psm     uint16
	addr    bdaddr
	cid     uint16
	addrTyp uint8
	_       [3]byte
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
		return out, fmt.Errorf("aacp: invalid MAC address %q", addr)
	}
	raw, err := hex.DecodeString(string(cleaned))
	if err != nil {
		return out, fmt.Errorf("aacp: invalid hex in MAC address: %w", err)
	}
	for i := 0; i < 6; i++ {
		out[i] = raw[5-i]
	}
	return out, nil
}

func dialL2CAP(mac string) (int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return -1, fmt.Errorf("aacp: socket: %w", err)
	}

	addr, err := parseMAC(mac)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}

	sa := sockaddrL2{family: unix.AF_BLUETOOTH, psm: PSM, addr: addr}
	_, _, errno := unix.Syscall(unix.SYS_CONNECT, uintptr(fd),
		uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa))
	if errno != 0 {
		unix.Close(fd)
		return -1, fmt.Errorf("aacp: connect: %w", errno)
	}

	return fd, nil
}

package ble

import (
	"encoding/hex"
	"fmt"
	"strings"

	"airpodsd/internal/rpacrypto"
)

// ResolvesTo reports whether the resolvable private address mac was
// generated from irk: the address is reversed into wire order, split into
// hash (bytes 0..3) and prand (bytes 3..6), and accepted iff
// ah(irk, prand) recomputes the embedded hash, per the Bluetooth Core
// spec's RPA resolution procedure.
//
// mac is expected in the usual colon-separated, most-significant-byte-first
// form; only addresses whose top two bits mark them resolvable (0b01) are
// ever worth checking, but that filtering is the caller's job since it
// needs the address-type bit BlueZ reports alongside the MAC.
func ResolvesTo(mac string, irk [16]byte) (bool, error) {
	addr, err := parseColonMAC(mac)
	if err != nil {
		return false, err
	}

	// Address bytes arrive most-significant-byte-first; reverse into wire
	// (little-endian) order first, then split: bytes[0..3] = hash,
	// bytes[3..6] = prand.
	var reversed [6]byte
	for i := range addr {
		reversed[i] = addr[5-i]
	}
	var hash [3]byte
	copy(hash[:], reversed[0:3])
	var prand [3]byte
	copy(prand[:], reversed[3:6])

	computed, err := rpacrypto.Ah(irk, prand)
	if err != nil {
		return false, fmt.Errorf("ble: resolve address: %w", err)
	}
	return computed == hash, nil
}

func parseColonMAC(mac string) ([6]byte, error) {
	var out [6]byte
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return out, fmt.Errorf("ble: invalid MAC %q", mac)
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return out, fmt.Errorf("ble: invalid MAC byte %q in %q", p, mac)
		}
		out[i] = b[0]
	}
	return out, nil
}

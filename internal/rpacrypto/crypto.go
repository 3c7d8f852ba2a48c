// Package rpacrypto implements the single-block AES primitive the Bluetooth
// Core spec calls e(k, m), and the Resolvable Private Address identity
// function ah(k, r) built on top of it.
//
// A roaming device's random address is verified by recomputing
// ah(irk, prand) and comparing against the address's embedded hash. The
// trailing 16 bytes of a proximity-pairing advertisement are decrypted
// separately by DecryptAdvertisement, with plain AES-128 and no byte
// reversal.
package rpacrypto

import (
	"crypto/aes"
	"fmt"
)

// KeySize is the length in bytes of an IRK or ENC_KEY.
const KeySize = 16

// blockSize is the length in bytes of an AES-128 block, and of e's input/output.
const blockSize = 16

// E computes the Bluetooth Core spec's e(k, m): AES-128 encrypt a single
// block with both the key and the message byte-reversed, then reverse the
// ciphertext. The reversal accounts for the spec's big-endian convention
// over an otherwise little-endian wire.
func E(key, message [KeySize]byte) ([blockSize]byte, error) {
	reversedKey := reverse16(key)
	block, err := aes.NewCipher(reversedKey[:])
	if err != nil {
		return [blockSize]byte{}, fmt.Errorf("rpacrypto: new cipher: %w", err)
	}

	reversedMessage := reverse16(message)
	var ciphertext [blockSize]byte
	block.Encrypt(ciphertext[:], reversedMessage[:])

	return reverse16(ciphertext), nil
}

// Ah computes the RPA hash function ah(k, r): r occupies the first 3 bytes
// of a zero-padded 16-byte block (the remaining 13 bytes are zero), e() is
// applied, and the first 3 bytes of the result are returned.
//
// This placement of r — first, not last — was confirmed against the
// original reference implementation's own ah(); the spec prose describing
// "left-pad r with 13 zero bytes" is ambiguous about which end the padding
// goes on.
func Ah(k [KeySize]byte, r [3]byte) ([3]byte, error) {
	var padded [blockSize]byte
	copy(padded[0:3], r[:])

	encrypted, err := E(k, padded)
	if err != nil {
		return [3]byte{}, fmt.Errorf("rpacrypto: ah: %w", err)
	}

	var hash [3]byte
	copy(hash[:], encrypted[0:3])
	return hash, nil
}

func reverse16(b [16]byte) [16]byte {
	var out [16]byte
	for i := range b {
		out[i] = b[15-i]
	}
	return out
}

// DecryptAdvertisement decrypts the trailing 16-byte encrypted block of a
// proximity-pairing advertisement with AES-128 ECB (no reversal — this is
// plain AES, distinct from the reversed e() above) and validates the result
// using the known magic bytes: the upper nibble of byte 0 must be zero and
// byte 4 must equal 0x2D. A decryption with the wrong key "succeeds" but
// produces garbage that fails this check.
func DecryptAdvertisement(encrypted [blockSize]byte, key [KeySize]byte) ([blockSize]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return [blockSize]byte{}, fmt.Errorf("rpacrypto: new cipher: %w", err)
	}

	var decrypted [blockSize]byte
	block.Decrypt(decrypted[:], encrypted[:])

	if (decrypted[0]&0xF0) != 0 || decrypted[4] != 0x2D {
		return [blockSize]byte{}, fmt.Errorf("rpacrypto: decrypt validation failed: wrong key")
	}

	return decrypted, nil
}

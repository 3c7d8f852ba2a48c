package ble

import (
	"fmt"

	"airpodsd/internal/rpacrypto"
)

// DecryptProximityPayload decrypts the encrypted portion of a proximity
// pairing advertisement (bytes 9-24 of the manufacturer-data payload) using
// either the device's IRK or ENC_KEY. The AES-128 ECB primitive itself lives
// in internal/rpacrypto, shared with resolvable-private-address matching.
func DecryptProximityPayload(encryptedData []byte, key []byte) ([]byte, error) {
	if len(encryptedData) != 16 {
		return nil, fmt.Errorf("encrypted data must be 16 bytes, got %d", len(encryptedData))
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("encryption key must be 16 bytes, got %d", len(key))
	}

	var encArr, keyArr [16]byte
	copy(encArr[:], encryptedData)
	copy(keyArr[:], key)

	decrypted, err := rpacrypto.DecryptAdvertisement(encArr, keyArr)
	if err != nil {
		return nil, err
	}
	return decrypted[:], nil
}

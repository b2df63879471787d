// Package ss58 encodes and decodes SS58 account addresses.
package ss58

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrInvalidAddress   = errors.New("invalid ss58 address")
	ErrChecksumMismatch = errors.New("ss58 checksum mismatch")
)

// checksumPreimage prefix, fixed by the SS58 registry.
var prefixSS58 = []byte("SS58PRE")

// Encode renders a 32-byte public key as an SS58 address under the given
// network prefix.
func Encode(pubKey []byte, network uint16) (string, error) {
	if len(pubKey) != 32 {
		return "", errors.New("public key must be 32 bytes")
	}

	var payload []byte
	if network < 64 {
		payload = append(payload, byte(network))
	} else {
		// Two-byte form: 14 identifier bits spread over two bytes.
		first := byte(((network & 0b0000_0000_1111_1100) >> 2) | 0b0100_0000)
		second := byte((network >> 8) | ((network & 0b11) << 6))
		payload = append(payload, first, second)
	}
	payload = append(payload, pubKey...)

	sum := checksum(payload)
	payload = append(payload, sum[:2]...)
	return base58.Encode(payload), nil
}

// Decode parses an SS58 address, returning the network prefix and the
// 32-byte public key.
func Decode(address string) (uint16, []byte, error) {
	raw := base58.Decode(address)
	if len(raw) < 35 {
		return 0, nil, ErrInvalidAddress
	}

	var network uint16
	var keyStart int
	switch {
	case raw[0] < 64:
		network = uint16(raw[0])
		keyStart = 1
	case raw[0] < 128:
		upper := uint16(raw[0]&0b0011_1111) << 2
		lower := uint16(raw[1])
		network = upper | (lower >> 6) | ((lower & 0b0011_1111) << 8)
		keyStart = 2
	default:
		return 0, nil, ErrInvalidAddress
	}

	if len(raw) != keyStart+32+2 {
		return 0, nil, ErrInvalidAddress
	}

	body := raw[:len(raw)-2]
	sum := checksum(body)
	if !bytes.Equal(sum[:2], raw[len(raw)-2:]) {
		return 0, nil, ErrChecksumMismatch
	}

	pubKey := make([]byte, 32)
	copy(pubKey, raw[keyStart:keyStart+32])
	return network, pubKey, nil
}

func checksum(payload []byte) [64]byte {
	h, _ := blake2b.New512(nil)
	h.Write(prefixSS58)
	h.Write(payload)
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

package tor

import (
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/sha3"
)

// onionChecksumPrefix and onionVersion are fixed inputs to the v3 onion
// address checksum (rend-spec-v3 §6).
const (
	onionChecksumPrefix = ".onion checksum"
	onionVersion        = 0x03
)

// onionBase32 encodes without padding; a v3 address is exactly 56 characters.
var onionBase32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// OnionIDFromPublicKey derives the bare v3 onion identifier (no ".onion"
// suffix) for an ed25519 public key:
//
//	checksum = SHA3-256(".onion checksum" || pubkey || version)[:2]
//	id       = base32(pubkey || checksum || version)
func OnionIDFromPublicKey(pub [32]byte) string {
	h := sha3.New256()
	h.Write([]byte(onionChecksumPrefix))
	h.Write(pub[:])
	h.Write([]byte{onionVersion})
	checksum := h.Sum(nil)[:2]

	raw := make([]byte, 0, 35)
	raw = append(raw, pub[:]...)
	raw = append(raw, checksum...)
	raw = append(raw, onionVersion)
	return strings.ToLower(onionBase32.EncodeToString(raw))
}

// PublicKeyFromExpanded recovers the ed25519 public key from a 64-byte
// expanded secret key: the first 32 bytes are the (clamped) scalar, and the
// public key is that scalar times the base point.
func PublicKeyFromExpanded(key [HiddenServiceKeySize]byte) ([32]byte, error) {
	var pub [32]byte
	s, err := edwards25519.NewScalar().SetBytesWithClamping(key[:32])
	if err != nil {
		return pub, fmt.Errorf("invalid expanded key scalar: %w", err)
	}
	p := (&edwards25519.Point{}).ScalarBaseMult(s)
	copy(pub[:], p.Bytes())
	return pub, nil
}

// OnionIDFromExpandedKey derives the onion identifier a daemon will assign
// to a hidden service pinned with the given expanded secret key. Useful for
// knowing the address before (or without) asking the control port.
func OnionIDFromExpandedKey(key [HiddenServiceKeySize]byte) (string, error) {
	pub, err := PublicKeyFromExpanded(key)
	if err != nil {
		return "", err
	}
	return OnionIDFromPublicKey(pub), nil
}

// addOnionKeyBlob encodes an expanded secret key as the KeyType:KeyBlob
// argument of an ADD_ONION command.
func addOnionKeyBlob(key [HiddenServiceKeySize]byte) string {
	return "ED25519-V3:" + base64.StdEncoding.EncodeToString(key[:])
}

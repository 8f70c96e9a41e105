package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"
)

var ErrInvalidAddress = errors.New("invalid account address")

const (
	accountIDSize  = 20
	addressVersion = 0x00
	checksumSize   = 4
)

// The ledger's base58 dialect reorders the alphabet so addresses start
// with 'r'.
var ledgerAlphabet = base58.NewAlphabet("rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz")

// AccountID derives the 20-byte account id from a signing public key:
// RIPEMD-160 over SHA-256 of the prefixed 33-byte key.
func AccountID(signingPub ed25519.PublicKey) []byte {
	prefixed := make([]byte, 0, 1+len(signingPub))
	prefixed = append(prefixed, keyFamilyPrefix)
	prefixed = append(prefixed, signingPub...)
	sha := sha256.Sum256(prefixed)
	rip := ripemd160.New()
	rip.Write(sha[:])
	return rip.Sum(nil)
}

// EncodeAddress renders an account id as a ledger address: version byte,
// account id, then the first four bytes of a double SHA-256 checksum,
// base58-encoded with the ledger alphabet.
func EncodeAddress(accountID []byte) string {
	payload := make([]byte, 0, 1+len(accountID)+checksumSize)
	payload = append(payload, addressVersion)
	payload = append(payload, accountID...)
	payload = append(payload, checksum(payload)...)
	return base58.EncodeAlphabet(payload, ledgerAlphabet)
}

// DecodeAddress verifies and strips the version byte and checksum,
// returning the raw account id.
func DecodeAddress(address string) ([]byte, error) {
	raw, err := base58.DecodeAlphabet(address, ledgerAlphabet)
	if err != nil {
		return nil, ErrInvalidAddress
	}
	if len(raw) != 1+accountIDSize+checksumSize || raw[0] != addressVersion {
		return nil, ErrInvalidAddress
	}
	body := raw[:len(raw)-checksumSize]
	if !bytes.Equal(raw[len(raw)-checksumSize:], checksum(body)) {
		return nil, ErrInvalidAddress
	}
	return append([]byte(nil), body[1:]...), nil
}

// ValidAddress reports whether address parses and checksums cleanly.
func ValidAddress(address string) bool {
	_, err := DecodeAddress(address)
	return err == nil
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumSize]
}

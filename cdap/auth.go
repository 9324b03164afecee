package cdap

import (
	"crypto/rand"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/rinastack/efcp-core/rerr"
)

// SealAuthValue encrypts plaintext under key using a fresh random nonce,
// producing the AuthValue CACEP carries on CONNECT/CONNECT_R when the
// negotiated policy is not "none". key must be the 32-byte shared secret
// the two AEs agreed on out of band; this package does not negotiate keys.
func SealAuthValue(name string, plaintext []byte, key *[32]byte) (AuthValue, error) {
	var av AuthValue
	av.Name = name
	if _, err := rand.Read(av.Nonce[:]); err != nil {
		return AuthValue{}, rerr.Wrap(rerr.MalformedMessage, "cdap.auth_seal_nonce", err)
	}
	av.Encrypted = secretbox.Seal(nil, plaintext, &av.Nonce, key)
	return av, nil
}

// OpenAuthValue decrypts av.Encrypted under key, verifying the secretbox
// authentication tag. A failed open is a PolicyRejected error: the peer's
// auth value did not match the negotiated secret.
func OpenAuthValue(av AuthValue, key *[32]byte) ([]byte, error) {
	if len(av.Encrypted) == 0 {
		return nil, nil
	}
	plaintext, ok := secretbox.Open(nil, av.Encrypted, &av.Nonce, key)
	if !ok {
		return nil, rerr.New(rerr.PolicyRejected, "cdap.auth_open")
	}
	return plaintext, nil
}

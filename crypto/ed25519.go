// Package crypto implements the signature scheme used for confirmation
// attestations. An owner address is the digest of an ed25519 public key,
// which allows the coordinator to verify that a confirmation was produced
// by the owner it claims to come from without any key registry.
package crypto

import (
	"golang.org/x/crypto/ed25519"

	"github.com/safeseed/custody"
	"github.com/safeseed/custody/errors"
)

// PublicKey is an ed25519 public key.
type PublicKey []byte

// Verify returns true if the signature was created for this message with
// the private key matching this public key.
func (p PublicKey) Verify(message, sig []byte) bool {
	if len(p) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(p), message, sig)
}

// Address returns the address derived from this public key.
func (p PublicKey) Address() custody.Address {
	return custody.NewAddress(p)
}

// Validate returns an error if this is not a well formed public key.
func (p PublicKey) Validate() error {
	if len(p) != ed25519.PublicKeySize {
		return errors.Wrapf(errors.ErrInput, "public key length %d", len(p))
	}
	return nil
}

// Signer is the functionality we use from a private key. No serializing
// requirement, to support hardware devices as well.
type Signer interface {
	Sign(message []byte) ([]byte, error)
	PublicKey() PublicKey
}

// PrivateKey is an ed25519 private key.
type PrivateKey []byte

var _ Signer = PrivateKey(nil)

// Sign returns a matching signature for this private key.
func (p PrivateKey) Sign(message []byte) ([]byte, error) {
	if len(p) != ed25519.PrivateKeySize {
		return nil, errors.Wrapf(errors.ErrInput, "private key length %d", len(p))
	}
	return ed25519.Sign(ed25519.PrivateKey(p), message), nil
}

// PublicKey returns the corresponding public key.
func (p PrivateKey) PublicKey() PublicKey {
	return PublicKey(ed25519.PrivateKey(p).Public().(ed25519.PublicKey))
}

// GenPrivKey returns a random new private key.
func GenPrivKey() PrivateKey {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(err)
	}
	return PrivateKey(priv)
}

// PrivKeyFromSeed will deterministically generate a private key from a
// given seed. Use if you have a strong source of external randomness, or
// for deterministic keys in test cases.
func PrivKeyFromSeed(seed []byte) PrivateKey {
	return PrivateKey(ed25519.NewKeyFromSeed(seed))
}

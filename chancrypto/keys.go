// Package chancrypto implements the cryptographic primitives shared by all
// three NanoMoni payment modes: ECDSA signing over canonical payloads, and
// the canonical, byte-exact serialization those signatures cover. The
// hash-chain (payword) and Merkle-tree (paytree) schemes build on the same
// digest and key types but live in their own packages.
package chancrypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
)

// PublicKey wraps a secp256k1 public key and its DER-encoded
// SubjectPublicKeyInfo form, the wire representation used throughout the
// spec (certificates, headers, commitments).
type PublicKey struct {
	key *btcec.PublicKey
	der []byte
}

// PrivateKey wraps a secp256k1 private key. Only the Issuer and Client
// sides of the system hold one; the Vendor only ever sees PublicKeys.
type PrivateKey struct {
	key *btcec.PrivateKey
}

// GeneratePrivateKey returns a fresh secp256k1 keypair, used by tests and
// by the demo client driver.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes wraps a raw secp256k1 scalar as loaded from disk (the
// Issuer's on-disk key file has no wrapping beyond PEM) into a PrivateKey.
func PrivateKeyFromBytes(b []byte) *PrivateKey {
	key, _ := btcec.PrivKeyFromBytes(b)
	return &PrivateKey{key: key}
}

// PubKey returns the public half of sk.
func (sk *PrivateKey) PubKey() *PublicKey {
	pub := sk.key.PubKey()
	return &PublicKey{key: pub, der: derEncode(pub)}
}

// Raw exposes the underlying btcec private key for signing operations.
func (sk *PrivateKey) Raw() *btcec.PrivateKey { return sk.key }

// ParsePublicKeyDER decodes a DER-encoded SubjectPublicKeyInfo into a
// PublicKey. Malformed input is reported as an error, never a panic, per
// the spec's requirement that verification failures are never exceptions.
func ParsePublicKeyDER(der []byte) (*PublicKey, error) {
	key, err := parseSPKI(der)
	if err != nil {
		return nil, err
	}
	return &PublicKey{key: key, der: append([]byte(nil), der...)}, nil
}

// DER returns the canonical SubjectPublicKeyInfo encoding of pk.
func (pk *PublicKey) DER() []byte {
	return append([]byte(nil), pk.der...)
}

// Raw exposes the underlying btcec public key for verification operations.
func (pk *PublicKey) Raw() *btcec.PublicKey { return pk.key }

// Fingerprint returns the hash-derived fingerprint of pk used to address it
// in logs and as a map key: SHA-256 of the DER encoding, hex-lowercased.
func (pk *PublicKey) Fingerprint() string {
	sum := sha256.Sum256(pk.der)
	return hex.EncodeToString(sum[:])
}

// Equal reports whether pk and other encode the same public key.
func (pk *PublicKey) Equal(other *PublicKey) bool {
	if pk == nil || other == nil {
		return pk == other
	}
	return pk.key.IsEqual(other.key)
}

package chancrypto

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Digest returns the SHA-256 digest of a canonical payload, the quantity
// every signature in the system actually covers (§4.1.1).
func Digest(canonical []byte) [32]byte {
	return sha256.Sum256(canonical)
}

// Sign produces a DER-encoded ECDSA signature over message's SHA-256
// digest. message must already be a canonical encoding (§4.1.1); Sign does
// not canonicalize on the caller's behalf.
func Sign(sk *PrivateKey, message []byte) []byte {
	digest := Digest(message)
	sig := ecdsa.Sign(sk.key, digest[:])
	return sig.Serialize()
}

// Verify reports whether sigDER is a valid DER-encoded ECDSA signature by
// pk over message's SHA-256 digest. Any structural malformation in sigDER
// is a verification failure, never a panic, satisfying §4.1.2.
func Verify(pk *PublicKey, message []byte, sigDER []byte) bool {
	if pk == nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(sigDER)
	if err != nil {
		return false
	}
	digest := Digest(message)
	return sig.Verify(digest[:], pk.key)
}

package chancrypto

import (
	"encoding/asn1"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// The secp256k1 curve has no crypto/x509 support (it is not one of the
// named curves the standard library's PKIX marshaler recognizes), so
// SubjectPublicKeyInfo encode/decode is done by hand against the two OIDs
// below, the same approach taken by Bitcoin-adjacent Go libraries that need
// to interoperate with generic PKIX tooling.
var (
	oidPublicKeyEC = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp256k1   = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

type subjectPublicKeyInfo struct {
	Algorithm algorithmIdentifier
	PublicKey asn1.BitString
}

// derEncode renders pub as a DER SubjectPublicKeyInfo wrapping its
// uncompressed point, per §6.4 of the spec.
func derEncode(pub *btcec.PublicKey) []byte {
	spki := subjectPublicKeyInfo{
		Algorithm: algorithmIdentifier{
			Algorithm:  oidPublicKeyEC,
			Parameters: oidSecp256k1,
		},
		PublicKey: asn1.BitString{
			Bytes:     pub.SerializeUncompressed(),
			BitLength: len(pub.SerializeUncompressed()) * 8,
		},
	}
	der, err := asn1.Marshal(spki)
	if err != nil {
		// SerializeUncompressed is always 65 bytes for a valid curve
		// point; asn1.Marshal of this fixed shape cannot fail.
		panic(fmt.Sprintf("chancrypto: unreachable SPKI marshal failure: %v", err))
	}
	return der
}

// parseSPKI decodes a DER SubjectPublicKeyInfo produced by derEncode,
// rejecting any malformed or unsupported-curve input.
func parseSPKI(der []byte) (*btcec.PublicKey, error) {
	var spki subjectPublicKeyInfo
	rest, err := asn1.Unmarshal(der, &spki)
	if err != nil {
		return nil, fmt.Errorf("chancrypto: malformed SubjectPublicKeyInfo: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("chancrypto: trailing bytes after SubjectPublicKeyInfo")
	}
	if !spki.Algorithm.Algorithm.Equal(oidPublicKeyEC) {
		return nil, fmt.Errorf("chancrypto: unsupported public key algorithm %v",
			spki.Algorithm.Algorithm)
	}
	if !spki.Algorithm.Parameters.Equal(oidSecp256k1) {
		return nil, fmt.Errorf("chancrypto: unsupported curve %v",
			spki.Algorithm.Parameters)
	}
	pub, err := btcec.ParsePubKey(spki.PublicKey.RightAlign())
	if err != nil {
		return nil, fmt.Errorf("chancrypto: invalid curve point: %w", err)
	}
	return pub, nil
}

package issuer

import (
	"context"
	"time"

	"github.com/nanomoni/nanomoni/chancrypto"
	"github.com/nanomoni/nanomoni/nmerrors"
)

// Service issues certificates on behalf of the Issuer and answers the
// Vendor's public-key lookups (§4.4).
type Service struct {
	key *chancrypto.PrivateKey
	reg *Registry
	ttl time.Duration
}

// NewService constructs a Service signing with key and persisting audit
// rows in reg. A nil reg is accepted for tests that exercise issuance
// without a database.
func NewService(key *chancrypto.PrivateKey, reg *Registry, ttl time.Duration) *Service {
	return &Service{key: key, reg: reg, ttl: ttl}
}

// PublicKey returns the Issuer's public key, served verbatim at
// GET /issuer/public_key.
func (s *Service) PublicKey() *chancrypto.PublicKey {
	return s.key.PubKey()
}

// Register approves clientPublicKey unconditionally (the approval/KYC
// policy itself is a Non-goal) and returns a freshly signed certificate
// good for s.ttl starting at now.
func (s *Service) Register(ctx context.Context, clientPublicKey []byte, initialBalance uint64, now time.Time) (Certificate, error) {
	if _, err := chancrypto.ParsePublicKeyDER(clientPublicKey); err != nil {
		return Certificate{}, nmerrors.Wrap(nmerrors.ErrMalformedRequest, "parse client public key")
	}

	cert := Certificate{
		ClientPublicKey: clientPublicKey,
		InitialBalance:  initialBalance,
		IssuedAt:        now,
		ExpiresAt:       now.Add(s.ttl),
	}

	body := chancrypto.CertificateBody{
		ClientPublicKey: cert.ClientPublicKey,
		InitialBalance:  cert.InitialBalance,
		IssuedAt:        uint64(cert.IssuedAt.Unix()),
		ExpiresAt:       uint64(cert.ExpiresAt.Unix()),
	}
	canonical, err := body.Canonical()
	if err != nil {
		return Certificate{}, nmerrors.Wrap(err, "canonicalize certificate body")
	}
	cert.IssuerSignature = chancrypto.Sign(s.key, canonical)

	if s.reg != nil {
		err := s.reg.Insert(ctx, CertificateRecord{
			ClientPublicKey: cert.ClientPublicKey,
			InitialBalance:  cert.InitialBalance,
			IssuedAt:        cert.IssuedAt,
			ExpiresAt:       cert.ExpiresAt,
			IssuerSignature: cert.IssuerSignature,
		})
		if err != nil {
			return Certificate{}, err
		}
	}

	return cert, nil
}

// Certificate is the Issuer-signed grant returned from Register, matching
// core.Certificate's fields so the Vendor can pass it straight through
// (§3.2).
type Certificate struct {
	ClientPublicKey []byte
	InitialBalance  uint64
	IssuedAt        time.Time
	ExpiresAt       time.Time
	IssuerSignature []byte
}

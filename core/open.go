// Package core implements the payment use-cases: open, the three per-mode
// payment flows, and close. Each orchestrates crypto verification against
// the request's canonical payload, then a single call into the channel
// store, per the data flow of one payment: verify, then atomically update
// state.
package core

import (
	"time"

	"github.com/nanomoni/nanomoni/chancrypto"
	"github.com/nanomoni/nanomoni/channeldb"
	"github.com/nanomoni/nanomoni/metrics"
	"github.com/nanomoni/nanomoni/nmerrors"
)

// IssuerKeySource supplies the Issuer public key currently trusted for
// certificate verification, refreshing it on demand when a certificate
// fails to verify (Design Notes, Issuer public key cache).
type IssuerKeySource interface {
	Current() (*chancrypto.PublicKey, error)
	Refresh() (*chancrypto.PublicKey, error)
}

// Certificate is the Issuer-signed grant a Client presents when opening a
// channel (§3.2).
type Certificate struct {
	ClientPublicKey []byte
	InitialBalance  uint64
	IssuedAt        time.Time
	ExpiresAt       time.Time
	IssuerSignature []byte
}

// OpenChannelRequest is the canonical payload a Client signs to open a
// channel (§4.1.1, §4.3.1).
type OpenChannelRequest struct {
	ClientPublicKey []byte
	Mode            channeldb.Mode
	ChannelAmount   uint64
	UnitValue       uint64
	PayWordRoot     [32]byte
	PayWordMaxK     uint32
	PayTreeRoot     [32]byte
	PayTreeMaxI     uint32
	ClientSignature []byte
}

func (r OpenChannelRequest) modeCommitmentBytes() []byte {
	switch r.Mode {
	case channeldb.ModePayWord:
		return r.PayWordRoot[:]
	case channeldb.ModePayTree:
		return r.PayTreeRoot[:]
	default:
		return nil
	}
}

// OpenChannel verifies the certificate, the client's signature over the
// open request, and the channel invariants (I1-I3), then creates the
// channel with latest_state at the unit element for its mode (§4.3.1).
func OpenChannel(store *channeldb.DB, issuer IssuerKeySource, vendorID string, req OpenChannelRequest, cert Certificate, now time.Time) (channeldb.ChannelID, error) {
	if err := verifyCertificate(issuer, cert, now); err != nil {
		return channeldb.ChannelID{}, err
	}

	if string(req.ClientPublicKey) != string(cert.ClientPublicKey) {
		return channeldb.ChannelID{}, nmerrors.ErrInvalidCertificate
	}

	clientKey, err := chancrypto.ParsePublicKeyDER(req.ClientPublicKey)
	if err != nil {
		return channeldb.ChannelID{}, nmerrors.Wrap(nmerrors.ErrInvalidSignature, "parse client public key")
	}

	canonical, err := chancrypto.OpenChannelRequest{
		ClientPublicKey: req.ClientPublicKey,
		Mode:            uint8(req.Mode),
		ChannelAmount:   req.ChannelAmount,
		UnitValue:       req.UnitValue,
		ModeCommitment:  req.modeCommitmentBytes(),
	}.Canonical()
	if err != nil {
		return channeldb.ChannelID{}, nmerrors.Wrap(err, "canonicalize open request")
	}

	if !chancrypto.Verify(clientKey, canonical, req.ClientSignature) {
		return channeldb.ChannelID{}, nmerrors.ErrInvalidSignature
	}

	if err := validateInvariants(req); err != nil {
		return channeldb.ChannelID{}, err
	}

	id := channeldb.NewChannelID()
	ch := &channeldb.Channel{
		ID:              id,
		VendorID:        vendorID,
		ClientPublicKey: req.ClientPublicKey,
		Mode:            req.Mode,
		ChannelAmount:   req.ChannelAmount,
		UnitValue:       req.UnitValue,
		ModeCommitment: channeldb.ModeCommitment{
			PayWordRoot: req.PayWordRoot,
			PayWordMaxK: req.PayWordMaxK,
			PayTreeRoot: req.PayTreeRoot,
			PayTreeMaxI: req.PayTreeMaxI,
		},
		OpenedAt: now,
		Status:   channeldb.StatusOpen,
		LatestState: channeldb.LatestState{
			Token: req.PayWordRoot,
		},
		UpdatedAt: now,
	}

	if err := store.Create(ch); err != nil {
		if err == channeldb.ErrChannelAlreadyExists || err == channeldb.ErrClientAlreadyOpen {
			return channeldb.ChannelID{}, nmerrors.ErrChannelAlreadyOpen
		}
		return channeldb.ChannelID{}, nmerrors.Wrap(err, "create channel")
	}

	metrics.ChannelsOpenedTotal.Inc()
	return id, nil
}

// validateInvariants checks I1 and I2 on the opening request. I3
// (commitment immutability) holds by construction: the store never exposes
// a mutator for ModeCommitment.
func validateInvariants(req OpenChannelRequest) error {
	if req.UnitValue < 1 {
		return nmerrors.ErrInvalidCommitment
	}
	if req.ChannelAmount < req.UnitValue {
		return nmerrors.ErrInvalidCommitment
	}
	if req.Mode == channeldb.ModePayWord {
		if uint64(req.PayWordMaxK)*req.UnitValue > req.ChannelAmount+req.UnitValue {
			return nmerrors.ErrInvalidCommitment
		}
	}
	if req.Mode == channeldb.ModePayTree {
		if uint64(req.PayTreeMaxI)*req.UnitValue > req.ChannelAmount+req.UnitValue {
			return nmerrors.ErrInvalidCommitment
		}
	}
	return nil
}

func verifyCertificate(issuer IssuerKeySource, cert Certificate, now time.Time) error {
	pubKey, err := issuer.Current()
	if err != nil {
		return nmerrors.Wrap(nmerrors.ErrIssuerUnreachable, "fetch issuer key")
	}

	if !certVerifies(pubKey, cert) {
		// A stale cache must not silently validate certificates signed by a
		// rotated key: force one refresh before failing for good.
		refreshed, err := issuer.Refresh()
		if err != nil || !certVerifies(refreshed, cert) {
			return nmerrors.ErrInvalidCertificate
		}
		pubKey = refreshed
	}

	if now.Before(cert.IssuedAt) || now.After(cert.ExpiresAt) {
		return nmerrors.ErrInvalidCertificate
	}
	return nil
}

func certVerifies(issuerKey *chancrypto.PublicKey, cert Certificate) bool {
	body := chancrypto.CertificateBody{
		ClientPublicKey: cert.ClientPublicKey,
		InitialBalance:  cert.InitialBalance,
		IssuedAt:        uint64(cert.IssuedAt.Unix()),
		ExpiresAt:       uint64(cert.ExpiresAt.Unix()),
	}
	canonical, err := body.Canonical()
	if err != nil {
		return false
	}
	return chancrypto.Verify(issuerKey, canonical, cert.IssuerSignature)
}

package chancrypto

import (
	"bytes"
	"fmt"

	"github.com/lightningnetwork/lnd/tlv"
)

// Canonical signing payloads (§4.1.1). Each is encoded as an ascending,
// strictly-typed TLV stream: fixed field order, no optional fields, so two
// honest implementations produce byte-identical output for the same
// values. TLV is the same mechanism the teacher corpus uses to serialize
// everything that ends up signed or hashed, so canonical payloads here
// reuse it rather than inventing a bespoke framing.
const (
	typeClientPublicKey  tlv.Type = 0
	typeMode             tlv.Type = 1
	typeChannelAmount    tlv.Type = 2
	typeUnitValue        tlv.Type = 3
	typeModeCommitment   tlv.Type = 4
	typeChannelID        tlv.Type = 0
	typeCumulativeOwed   tlv.Type = 1
	typeFinalCumulative  tlv.Type = 1
	typeClosedAt         tlv.Type = 2
	typeInitialBalance   tlv.Type = 1
	typeIssuedAt         tlv.Type = 2
	typeExpiresAt        tlv.Type = 3
)

// OpenChannelRequest is the canonical payload signed by the client when
// opening a channel (§4.1.1, §4.3.1).
type OpenChannelRequest struct {
	ClientPublicKey []byte
	Mode            uint8
	ChannelAmount   uint64
	UnitValue       uint64
	ModeCommitment  []byte
}

// Canonical returns the byte-exact TLV encoding of r.
func (r OpenChannelRequest) Canonical() ([]byte, error) {
	mode := uint64(r.Mode)
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeClientPublicKey, &r.ClientPublicKey),
		tlv.MakePrimitiveRecord(typeMode, &mode),
		tlv.MakePrimitiveRecord(typeChannelAmount, &r.ChannelAmount),
		tlv.MakePrimitiveRecord(typeUnitValue, &r.UnitValue),
		tlv.MakePrimitiveRecord(typeModeCommitment, &r.ModeCommitment),
	}
	return encodeStream(records)
}

// SignatureModeUpdate is the canonical payload signed by the client on
// every Signature-mode payment (§3.4, §4.3.2).
type SignatureModeUpdate struct {
	ChannelID            []byte
	CumulativeOwedAmount uint64
}

// Canonical returns the byte-exact TLV encoding of u.
func (u SignatureModeUpdate) Canonical() ([]byte, error) {
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeChannelID, &u.ChannelID),
		tlv.MakePrimitiveRecord(typeCumulativeOwed, &u.CumulativeOwedAmount),
	}
	return encodeStream(records)
}

// ClosingStatement is the canonical payload signed by the client to close
// a channel (§4.3.5).
type ClosingStatement struct {
	ChannelID              []byte
	FinalCumulativeOwed    uint64
	ClosedAt               uint64
}

// Canonical returns the byte-exact TLV encoding of s.
func (s ClosingStatement) Canonical() ([]byte, error) {
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeChannelID, &s.ChannelID),
		tlv.MakePrimitiveRecord(typeFinalCumulative, &s.FinalCumulativeOwed),
		tlv.MakePrimitiveRecord(typeClosedAt, &s.ClosedAt),
	}
	return encodeStream(records)
}

// CertificateBody is the canonical payload signed by the Issuer over a
// client certificate (§3.2).
type CertificateBody struct {
	ClientPublicKey []byte
	InitialBalance  uint64
	IssuedAt        uint64
	ExpiresAt       uint64
}

// Canonical returns the byte-exact TLV encoding of c.
func (c CertificateBody) Canonical() ([]byte, error) {
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeClientPublicKey, &c.ClientPublicKey),
		tlv.MakePrimitiveRecord(typeInitialBalance, &c.InitialBalance),
		tlv.MakePrimitiveRecord(typeIssuedAt, &c.IssuedAt),
		tlv.MakePrimitiveRecord(typeExpiresAt, &c.ExpiresAt),
	}
	return encodeStream(records)
}

func encodeStream(records []tlv.Record) ([]byte, error) {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, fmt.Errorf("chancrypto: build tlv stream: %w", err)
	}
	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, fmt.Errorf("chancrypto: encode tlv stream: %w", err)
	}
	return buf.Bytes(), nil
}

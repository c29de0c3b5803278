package channeldb

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects one of the three payment protocols a channel speaks. It is
// fixed at open and never mutated (I3).
type Mode uint8

const (
	ModeSignature Mode = iota
	ModePayWord
	ModePayTree
)

// String renders m for logs and error messages.
func (m Mode) String() string {
	switch m {
	case ModeSignature:
		return "signature"
	case ModePayWord:
		return "payword"
	case ModePayTree:
		return "paytree"
	default:
		return "unknown"
	}
}

// Status is the channel lifecycle state (I4: open -> closed, never back).
type Status uint8

const (
	StatusOpen Status = iota
	StatusClosed
)

// ChannelID is the opaque, stable, 128-bit identifier assigned at channel
// open (§3.1). A UUID gives us that shape for free along with a proven
// collision-resistant generator.
type ChannelID = uuid.UUID

// NewChannelID returns a fresh random channel identifier.
func NewChannelID() ChannelID {
	return uuid.New()
}

// ParseChannelID parses the string form of a ChannelID, as it appears in
// URL paths.
func ParseChannelID(s string) (ChannelID, error) {
	return uuid.Parse(s)
}

// ModeCommitment is fixed at channel open and never mutated (I3). Only the
// fields relevant to the channel's Mode are meaningful; the rest are zero.
type ModeCommitment struct {
	PayWordRoot [32]byte
	PayWordMaxK uint32

	PayTreeRoot [32]byte
	PayTreeMaxI uint32
}

// LatestState is the per-channel mutable record every accepted payment
// replaces as a whole (§3.4). Only the fields relevant to the channel's
// Mode are meaningful.
type LatestState struct {
	// Signature mode.
	Owed            uint64
	ClientSignature []byte

	// PayWord mode.
	K     uint32
	Token [32]byte

	// PayTree mode.
	I     uint32
	Leaf  [32]byte
	Proof [][32]byte
}

// Index returns the mode-specific monotonic index of s, the common read
// API design note §9 calls for so metrics and close need not know about
// per-mode detail.
func (s LatestState) Index(mode Mode) uint64 {
	switch mode {
	case ModePayWord:
		return uint64(s.K)
	case ModePayTree:
		return uint64(s.I)
	default:
		return s.Owed
	}
}

// CumulativeOwed returns the total amount the client has committed to pay
// under s, given the channel's unit_value.
func (s LatestState) CumulativeOwed(mode Mode, unitValue uint64) uint64 {
	switch mode {
	case ModePayWord:
		return uint64(s.K) * unitValue
	case ModePayTree:
		return uint64(s.I) * unitValue
	default:
		return s.Owed
	}
}

// Channel is the full persisted record for one payment channel (§3.3).
type Channel struct {
	ID              ChannelID
	VendorID        string
	ClientPublicKey []byte // DER SubjectPublicKeyInfo
	Mode            Mode
	ChannelAmount   uint64
	UnitValue       uint64
	ModeCommitment  ModeCommitment
	OpenedAt        time.Time
	Status          Status
	LatestState     LatestState

	// ClosedStatement is populated exactly once, the first time Close
	// succeeds, and is replayed verbatim on every subsequent close
	// attempt so that close is idempotent (§4.3.5, P8).
	ClosedStatement *ClosingRecord

	UpdatedAt time.Time
}

// ClosingRecord is the final statement emitted when a channel closes.
type ClosingRecord struct {
	FinalCumulativeOwedAmount uint64
	ClosedAt                  time.Time
	ClientSignature           []byte
}

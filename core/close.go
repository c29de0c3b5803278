package core

import (
	"time"

	"github.com/nanomoni/nanomoni/chancrypto"
	"github.com/nanomoni/nanomoni/channeldb"
	"github.com/nanomoni/nanomoni/metrics"
	"github.com/nanomoni/nanomoni/nmerrors"
)

// closeSkewAllowance bounds how far a client-supplied closed_at may drift
// from the Vendor's wall clock before the closing statement is rejected as
// stale or forged, rather than merely delayed in transit (§4.1.1).
const closeSkewAllowance = 5 * time.Minute

// ClosingStatement is the final, signed statement returned to the caller
// when a channel closes (§4.3.5).
type ClosingStatement struct {
	FinalCumulativeOwedAmount uint64
	ClosedAt                  time.Time
	ClientSignature           []byte
}

// CloseChannel verifies the client's signature over the canonical closing
// statement — built from the client's own closedAt, exactly as signed,
// not the Vendor's wall clock — then atomically transitions the channel to
// closed. now is the Vendor's wall clock, used only to bound closedAt's
// freshness. A second call on an already-closed channel replays the
// original statement rather than erroring (P8).
func CloseChannel(store *channeldb.DB, id channeldb.ChannelID, finalOwed uint64, closedAt time.Time, signature []byte, now time.Time) (ClosingStatement, error) {
	ch, err := store.Get(id)
	if err != nil {
		return ClosingStatement{}, mapStoreErr(err)
	}

	if ch.ClosedStatement == nil {
		if closedAt.Before(now.Add(-closeSkewAllowance)) || closedAt.After(now.Add(closeSkewAllowance)) {
			return ClosingStatement{}, nmerrors.ErrInvalidSignature
		}

		clientKey, err := chancrypto.ParsePublicKeyDER(ch.ClientPublicKey)
		if err != nil {
			return ClosingStatement{}, nmerrors.Wrap(err, "parse client public key")
		}

		canonical, err := chancrypto.ClosingStatement{
			ChannelID:           id[:],
			FinalCumulativeOwed: finalOwed,
			ClosedAt:            uint64(closedAt.Unix()),
		}.Canonical()
		if err != nil {
			return ClosingStatement{}, nmerrors.Wrap(err, "canonicalize closing statement")
		}
		if !chancrypto.Verify(clientKey, canonical, signature) {
			return ClosingStatement{}, nmerrors.ErrInvalidSignature
		}
	}

	record, err := store.Close(id, channeldb.ClosingRecord{
		FinalCumulativeOwedAmount: finalOwed,
		ClosedAt:                  closedAt,
		ClientSignature:           signature,
	})
	if err != nil {
		return ClosingStatement{}, mapStoreErr(err)
	}

	if ch.ClosedStatement == nil {
		metrics.ChannelsClosedTotal.Inc()
	}
	return ClosingStatement{
		FinalCumulativeOwedAmount: record.FinalCumulativeOwedAmount,
		ClosedAt:                  record.ClosedAt,
		ClientSignature:           record.ClientSignature,
	}, nil
}

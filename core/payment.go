package core

import (
	"github.com/nanomoni/nanomoni/chancrypto"
	"github.com/nanomoni/nanomoni/channeldb"
	"github.com/nanomoni/nanomoni/metrics"
	"github.com/nanomoni/nanomoni/nmerrors"
	"github.com/nanomoni/nanomoni/payword"
	"github.com/nanomoni/nanomoni/paytree"
)

// recordOutcome updates the accepted/rejected payment counters and, on
// acceptance, the per-channel cumulative-owed gauge. It is called from
// every payment use-case so the HTTP layer needs no metrics awareness of
// its own.
func recordOutcome(mode channeldb.Mode, id channeldb.ChannelID, err error, cumulativeOwed uint64) {
	modeLabel := mode.String()
	if err == nil {
		metrics.PaymentsAcceptedTotal.WithLabelValues(modeLabel).Inc()
		metrics.ChannelCumulativeOwed.WithLabelValues(id.String()).Set(float64(cumulativeOwed))
		return
	}
	reason := nmerrors.Cause(err)
	metrics.PaymentsRejectedTotal.WithLabelValues(modeLabel, errLabel(reason)).Inc()
}

func errLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}

// mapStoreErr translates the channel store's closed error set onto the
// public nmerrors taxonomy the HTTP layer reports.
func mapStoreErr(err error) error {
	switch err {
	case nil:
		return nil
	case channeldb.ErrChannelNotFound:
		return nmerrors.ErrChannelNotFound
	case channeldb.ErrChannelClosed:
		return nmerrors.ErrChannelClosed
	case channeldb.ErrModeMismatch:
		return nmerrors.ErrModeMismatch
	case channeldb.ErrNonMonotonicIndex:
		return nmerrors.ErrNonMonotonicIndex
	case channeldb.ErrExceedsChannelAmount:
		return nmerrors.ErrExceedsChannelAmount
	case channeldb.ErrExceedsIndexCap:
		return nmerrors.ErrExceedsIndexCap
	default:
		return nmerrors.Wrap(err, "channel store")
	}
}

// PaySignature verifies the client's signature over the canonical
// (channel_id, cumulative_owed_amount) payload, then applies it via
// signature_guard (§4.3.2). Returns the newly accepted owed amount.
func PaySignature(store *channeldb.DB, id channeldb.ChannelID, cumulativeOwed uint64, signature []byte) (accepted uint64, err error) {
	defer func() { recordOutcome(channeldb.ModeSignature, id, err, accepted) }()

	ch, err := store.Get(id)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	if ch.Mode != channeldb.ModeSignature {
		return 0, nmerrors.ErrModeMismatch
	}

	clientKey, err := chancrypto.ParsePublicKeyDER(ch.ClientPublicKey)
	if err != nil {
		return 0, nmerrors.Wrap(err, "parse client public key")
	}

	canonical, err := chancrypto.SignatureModeUpdate{
		ChannelID:            id[:],
		CumulativeOwedAmount: cumulativeOwed,
	}.Canonical()
	if err != nil {
		return 0, nmerrors.Wrap(err, "canonicalize signature update")
	}
	if !chancrypto.Verify(clientKey, canonical, signature) {
		return 0, nmerrors.ErrInvalidSignature
	}

	updated, err := store.ApplyPayment(id, channeldb.ModeSignature, func(channeldb.LatestState) (channeldb.LatestState, error) {
		return channeldb.LatestState{Owed: cumulativeOwed, ClientSignature: signature}, nil
	})
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return updated.LatestState.Owed, nil
}

// PayWordCache is the advisory per-channel single-hash fast path described
// in §4.3.3. Its zero value is always safe to use; callers typically keep
// one instance alive per open channel for the life of the process.
type PayWordCache struct {
	chain payword.Cache
}

// PayPayWord verifies token against the channel's committed root, falling
// back to full O(max_k-k) verification unless cache holds exactly the
// immediately preceding index, then applies it via payword_guard (§4.3.3).
func PayPayWord(store *channeldb.DB, id channeldb.ChannelID, cache *PayWordCache, k uint32, token [32]byte) (accepted uint32, err error) {
	var unitValue uint64
	defer func() {
		recordOutcome(channeldb.ModePayWord, id, err, uint64(accepted)*unitValue)
	}()

	if k < 1 {
		// k=0 is rejected as non-monotonic against the zero starting
		// index, not as a malformed request: the defect this guards
		// against is comparing against -1 instead of 0 (§4.2.3).
		return 0, nmerrors.ErrNonMonotonicIndex
	}

	ch, err := store.Get(id)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	if ch.Mode != channeldb.ModePayWord {
		return 0, nmerrors.ErrModeMismatch
	}
	unitValue = ch.UnitValue

	if k > ch.ModeCommitment.PayWordMaxK {
		return 0, nmerrors.ErrExceedsIndexCap
	}

	commitment := payword.Commitment{
		Root: ch.ModeCommitment.PayWordRoot,
		MaxK: ch.ModeCommitment.PayWordMaxK,
	}

	var ok bool
	if cache != nil {
		ok = cache.chain.VerifyNext(token, k, commitment)
	} else {
		ok = payword.Verify(token, k, commitment)
	}
	if !ok {
		return 0, nmerrors.ErrInvalidToken
	}

	updated, err := store.ApplyPayment(id, channeldb.ModePayWord, func(channeldb.LatestState) (channeldb.LatestState, error) {
		return channeldb.LatestState{K: k, Token: token}, nil
	})
	if err != nil {
		return 0, mapStoreErr(err)
	}

	if cache != nil {
		cache.chain.Advance(k, token)
	}
	return updated.LatestState.K, nil
}

// PayPayTree verifies (leaf, i, proof) against the channel's committed
// Merkle root, then applies it via paytree_guard (§4.3.4).
func PayPayTree(store *channeldb.DB, id channeldb.ChannelID, i uint32, leaf [32]byte, proof [][32]byte) (accepted uint32, err error) {
	var unitValue uint64
	defer func() {
		recordOutcome(channeldb.ModePayTree, id, err, uint64(accepted)*unitValue)
	}()

	if i < 1 {
		// i=0 is rejected as non-monotonic against the zero starting
		// index: the regression this guards against is the original
		// "accept i=0" defect from comparing against -1 (§4.2.3, §8
		// scenario 4).
		return 0, nmerrors.ErrNonMonotonicIndex
	}

	ch, err := store.Get(id)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	if ch.Mode != channeldb.ModePayTree {
		return 0, nmerrors.ErrModeMismatch
	}
	unitValue = ch.UnitValue

	commitment := paytree.Commitment{
		Root: ch.ModeCommitment.PayTreeRoot,
		MaxI: ch.ModeCommitment.PayTreeMaxI,
	}
	if !paytree.Verify(leaf, i, proof, commitment) {
		return 0, nmerrors.ErrInvalidProof
	}

	updated, err := store.ApplyPayment(id, channeldb.ModePayTree, func(channeldb.LatestState) (channeldb.LatestState, error) {
		return channeldb.LatestState{I: i, Leaf: leaf, Proof: proof}, nil
	})
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return updated.LatestState.I, nil
}

package channeldb

// A guard decides whether a candidate LatestState may replace the current
// one. It runs inside the single bbolt.Update transaction ApplyPayment
// opens, so its monotonicity check and the write that follows it are
// indivisible: two concurrent callers can never both observe the same
// "current" state and both have their write accepted (I6). The guard
// itself never touches cryptography — the caller already verified the
// client's signature, hash-chain preimage, or Merkle proof before calling
// ApplyPayment; the guard enforces only the arithmetic invariants that
// depend on the channel's stored state.

// signatureGuard accepts candidate iff its cumulative owed amount strictly
// exceeds current's and does not exceed the channel amount (§4.2.2,
// §4.3.2).
func signatureGuard(current, candidate LatestState, channelAmount uint64) error {
	if candidate.Owed <= current.Owed {
		return ErrNonMonotonicIndex
	}
	if candidate.Owed > channelAmount {
		return ErrExceedsChannelAmount
	}
	return nil
}

// paywordGuard accepts candidate iff its index k strictly exceeds current's,
// does not exceed the chain's committed length, and its implied cumulative
// amount does not exceed the channel amount (§4.2.2, §4.3.3).
func paywordGuard(current, candidate LatestState, maxK uint32, unitValue, channelAmount uint64) error {
	if candidate.K <= current.K {
		return ErrNonMonotonicIndex
	}
	if candidate.K > maxK {
		return ErrExceedsIndexCap
	}
	if uint64(candidate.K)*unitValue > channelAmount {
		return ErrExceedsChannelAmount
	}
	return nil
}

// paytreeGuard accepts candidate iff its index i strictly exceeds current's,
// does not exceed the tree's committed leaf count, and its implied
// cumulative amount does not exceed the channel amount (§4.2.2, §4.3.4).
func paytreeGuard(current, candidate LatestState, maxI uint32, unitValue, channelAmount uint64) error {
	if candidate.I <= current.I {
		return ErrNonMonotonicIndex
	}
	if candidate.I > maxI {
		return ErrExceedsIndexCap
	}
	if uint64(candidate.I)*unitValue > channelAmount {
		return ErrExceedsChannelAmount
	}
	return nil
}

// applyGuard dispatches to the guard matching ch's fixed mode.
func applyGuard(ch *Channel, candidate LatestState) error {
	switch ch.Mode {
	case ModeSignature:
		return signatureGuard(ch.LatestState, candidate, ch.ChannelAmount)
	case ModePayWord:
		return paywordGuard(ch.LatestState, candidate, ch.ModeCommitment.PayWordMaxK,
			ch.UnitValue, ch.ChannelAmount)
	case ModePayTree:
		return paytreeGuard(ch.LatestState, candidate, ch.ModeCommitment.PayTreeMaxI,
			ch.UnitValue, ch.ChannelAmount)
	default:
		return ErrModeMismatch
	}
}

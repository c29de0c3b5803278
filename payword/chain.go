// Package payword implements the PayWord hash-chain micropayment scheme
// (§4.1.3): a client commits to the tip of a hash chain, then spends it one
// preimage at a time. Full verification needs only the commitment and costs
// MaxK-k hash applications; callers that hold the previously accepted token
// may use the single-hash fast path in VerifyNext instead.
package payword

import (
	"crypto/sha256"
	"fmt"
	"sync"
)

// Commitment is the immutable, channel-opening-time commitment to a
// PayWord hash chain: its root (the tip, s_N) and its length (max_k).
type Commitment struct {
	Root  [32]byte
	MaxK  uint32
}

// Chain is the full hash chain, known only to the client. s[0] is the
// random seed; s[MaxK] is the root handed to the Vendor as the commitment.
type Chain struct {
	seeds []([32]byte)
}

// Generate builds a fresh hash chain of the given length from a random
// seed s0: s_i = H(s_{i-1}) for i = 1..length. The commitment is
// (s_length, length).
func Generate(seed [32]byte, length uint32) (*Chain, Commitment) {
	seeds := make([][32]byte, length+1)
	seeds[0] = seed
	for i := uint32(1); i <= length; i++ {
		seeds[i] = sha256.Sum256(seeds[i-1][:])
	}
	c := &Chain{seeds: seeds}
	return c, Commitment{Root: seeds[length], MaxK: length}
}

// Token returns the preimage to reveal as the k-th payment: token_k =
// s_{N-k}. k must satisfy 1 <= k <= MaxK.
func (c *Chain) Token(k uint32) ([32]byte, error) {
	n := uint32(len(c.seeds) - 1)
	if k < 1 || k > n {
		return [32]byte{}, fmt.Errorf("payword: k=%d out of range [1,%d]", k, n)
	}
	return c.seeds[n-k], nil
}

// Verify is the stateless, full verifier from §4.1.3: it requires
// 1 <= k <= MaxK, then hashes token forward (MaxK-k) times and accepts iff
// the result equals the commitment's root.
func Verify(token [32]byte, k uint32, commitment Commitment) bool {
	if k < 1 || k > commitment.MaxK {
		return false
	}
	cur := token
	for i := uint32(0); i < commitment.MaxK-k; i++ {
		cur = sha256.Sum256(cur[:])
	}
	return cur == commitment.Root
}

// Cache is an advisory, per-channel record of the previously accepted
// (k, token) pair. It exists purely to let VerifyNext skip straight to a
// single hash application; losing it, or never populating it, never
// weakens correctness because VerifyNext falls back to the full Verify
// whenever the cache doesn't apply. It is shared by every concurrent
// request for the same channel, so its own mutex guards each field access.
// That mutex is separate from the channel store's transaction: updating the
// cache is not atomic with the store write of the payment it records.
type Cache struct {
	mu sync.Mutex

	hasPrev  bool
	prevK    uint32
	prevHash [32]byte
}

// Advance records (k, token) as the most recently accepted payment.
func (c *Cache) Advance(k uint32, token [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasPrev = true
	c.prevK = k
	c.prevHash = token
}

// VerifyNext verifies (token, k) against commitment, using the single-hash
// fast path when the cache holds exactly the immediately preceding index;
// it falls back to the full O(MaxK-k) verifier otherwise, including on a
// cache miss or when the candidate index skips ahead (§4.3.3).
func (c *Cache) VerifyNext(token [32]byte, k uint32, commitment Commitment) bool {
	if k < 1 || k > commitment.MaxK {
		return false
	}
	if c != nil {
		c.mu.Lock()
		hasPrev, prevK, prevHash := c.hasPrev, c.prevK, c.prevHash
		c.mu.Unlock()
		if hasPrev && k == prevK+1 {
			return sha256.Sum256(token[:]) == prevHash
		}
	}
	return Verify(token, k, commitment)
}

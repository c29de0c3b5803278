// Package paytree implements the PayTree Merkle-tree micropayment scheme
// (§4.1.4): the client commits to the root of a tree of N leaves, each
// bound to a fresh per-channel secret, then spends leaves one at a time by
// revealing the leaf and its inclusion proof.
package paytree

import (
	"crypto/sha256"
	"fmt"
)

// Commitment is the immutable, channel-opening-time commitment to a
// PayTree: its Merkle root and its leaf count (max_i).
type Commitment struct {
	Root [32]byte
	MaxI uint32
}

// Tree holds every leaf and every level of a built Merkle tree, known only
// to the client, so it can produce an inclusion proof for any leaf index.
type Tree struct {
	levels [][][32]byte // levels[0] is the leaves, levels[len-1] is {root}
}

// Leaf computes leaf i for the given secret and channel ID: H(i || secret
// || channelID), binding every leaf to this channel so a tree built for
// one channel can never be replayed against another (§4.1.4).
func Leaf(i uint32, secret [32]byte, channelID []byte) [32]byte {
	buf := make([]byte, 0, 4+32+len(channelID))
	buf = append(buf, uint32ToBytes(i)...)
	buf = append(buf, secret[:]...)
	buf = append(buf, channelID...)
	return sha256.Sum256(buf)
}

func uint32ToBytes(i uint32) []byte {
	return []byte{byte(i >> 24), byte(i >> 16), byte(i >> 8), byte(i)}
}

func parent(left, right [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return sha256.Sum256(buf)
}

// Build constructs the full tree over leaves 1..n using the given secret
// and channel ID, and returns both the Tree (for proof generation) and its
// Commitment (the value handed to the Vendor at channel open). Odd levels
// are padded by duplicating the last node, a policy that must match
// exactly between Build and Verify.
func Build(n uint32, secret [32]byte, channelID []byte) (*Tree, Commitment) {
	leaves := make([][32]byte, n)
	for i := uint32(1); i <= n; i++ {
		leaves[i-1] = Leaf(i, secret, channelID)
	}

	levels := [][][32]byte{leaves}
	cur := leaves
	for len(cur) > 1 {
		if len(cur)%2 == 1 {
			cur = append(cur, cur[len(cur)-1])
		}
		next := make([][32]byte, len(cur)/2)
		for i := 0; i < len(next); i++ {
			next[i] = parent(cur[2*i], cur[2*i+1])
		}
		levels = append(levels, next)
		cur = next
	}

	t := &Tree{levels: levels}
	root := leaves[0]
	if len(cur) > 0 {
		root = cur[0]
	}
	return t, Commitment{Root: root, MaxI: n}
}

// Proof proves inclusion of leaf index i (1-based) returning the sibling
// hashes from the leaf level up to (but not including) the root.
func (t *Tree) Proof(i uint32) ([][32]byte, error) {
	if i < 1 || int(i) > len(t.levels[0]) {
		return nil, fmt.Errorf("paytree: index %d out of range", i)
	}
	idx := int(i - 1)
	proof := make([][32]byte, 0, len(t.levels))
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		siblingIdx := idx ^ 1
		if siblingIdx >= len(nodes) {
			siblingIdx = idx
		}
		proof = append(proof, nodes[siblingIdx])
		idx /= 2
	}
	return proof, nil
}

// Verify recomputes the Merkle root by folding proof's siblings into leaf
// in the order dictated by the binary representation of i, and accepts iff
// the result equals commitment.Root and 1 <= i <= commitment.MaxI
// (§4.1.4). At each level, the current index's lowest bit selects whether
// the accumulator is the left or right child, then the index shifts down
// one level — the same fold a verifier walks for any binary Merkle tree.
func Verify(leaf [32]byte, i uint32, proof [][32]byte, commitment Commitment) bool {
	if i < 1 || i > commitment.MaxI {
		return false
	}

	idx := i - 1
	cur := leaf
	for _, sibling := range proof {
		if idx&1 == 0 {
			cur = parent(cur, sibling)
		} else {
			cur = parent(sibling, cur)
		}
		idx >>= 1
	}
	return cur == commitment.Root
}

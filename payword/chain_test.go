package payword

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func seed(b byte) [32]byte {
	var s [32]byte
	for i := range s {
		s[i] = b
	}
	return s
}

func TestGenerateAndVerifyFullChain(t *testing.T) {
	chain, commitment := Generate(seed(7), 10)

	for k := uint32(1); k <= 10; k++ {
		token, err := chain.Token(k)
		require.NoError(t, err)
		require.True(t, Verify(token, k, commitment), "k=%d should verify", k)
	}
}

func TestVerifyRejectsWrongIndex(t *testing.T) {
	chain, commitment := Generate(seed(1), 5)

	token, err := chain.Token(3)
	require.NoError(t, err)
	require.False(t, Verify(token, 4, commitment))
}

func TestVerifyRejectsZeroAndOutOfRangeIndex(t *testing.T) {
	chain, commitment := Generate(seed(1), 5)
	token, err := chain.Token(1)
	require.NoError(t, err)

	require.False(t, Verify(token, 0, commitment))
	require.False(t, Verify(token, 6, commitment))
}

func TestTokenRejectsOutOfRange(t *testing.T) {
	chain, _ := Generate(seed(1), 5)
	_, err := chain.Token(0)
	require.Error(t, err)
	_, err = chain.Token(6)
	require.Error(t, err)
}

func TestVerifyNextFastPathMatchesFullVerify(t *testing.T) {
	chain, commitment := Generate(seed(2), 20)

	var cache Cache
	for k := uint32(1); k <= 20; k++ {
		token, err := chain.Token(k)
		require.NoError(t, err)
		require.True(t, cache.VerifyNext(token, k, commitment))
		cache.Advance(k, token)
	}
}

func TestVerifyNextFallsBackOnSkippedIndex(t *testing.T) {
	chain, commitment := Generate(seed(3), 10)

	var cache Cache
	t1, err := chain.Token(1)
	require.NoError(t, err)
	require.True(t, cache.VerifyNext(t1, 1, commitment))
	cache.Advance(1, t1)

	t3, err := chain.Token(3)
	require.NoError(t, err)
	require.True(t, cache.VerifyNext(t3, 3, commitment))
}

func TestVerifyNextRejectsTamperedToken(t *testing.T) {
	chain, commitment := Generate(seed(4), 10)

	var cache Cache
	tampered, err := chain.Token(5)
	require.NoError(t, err)
	tampered[0] ^= 0xFF
	require.False(t, cache.VerifyNext(tampered, 5, commitment))
}

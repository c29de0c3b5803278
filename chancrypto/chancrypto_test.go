package chancrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	sk, err := GeneratePrivateKey()
	require.NoError(t, err)

	msg := []byte("pay the vendor")
	sig := Sign(sk, msg)
	require.True(t, Verify(sk.PubKey(), msg, sig))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	sk, err := GeneratePrivateKey()
	require.NoError(t, err)
	other, err := GeneratePrivateKey()
	require.NoError(t, err)

	msg := []byte("pay the vendor")
	sig := Sign(sk, msg)
	require.False(t, Verify(other.PubKey(), msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	sk, err := GeneratePrivateKey()
	require.NoError(t, err)

	sig := Sign(sk, []byte("pay 10"))
	require.False(t, Verify(sk.PubKey(), []byte("pay 100"), sig))
}

func TestVerifyNeverPanicsOnMalformedSignature(t *testing.T) {
	sk, err := GeneratePrivateKey()
	require.NoError(t, err)

	require.NotPanics(t, func() {
		require.False(t, Verify(sk.PubKey(), []byte("msg"), []byte("not a signature")))
	})
	require.NotPanics(t, func() {
		require.False(t, Verify(sk.PubKey(), []byte("msg"), nil))
	})
}

func TestVerifyNilPublicKeyIsRejectedNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		require.False(t, Verify(nil, []byte("msg"), []byte("sig")))
	})
}

func TestPublicKeyDERRoundTrip(t *testing.T) {
	sk, err := GeneratePrivateKey()
	require.NoError(t, err)

	der := sk.PubKey().DER()
	parsed, err := ParsePublicKeyDER(der)
	require.NoError(t, err)
	require.True(t, sk.PubKey().Equal(parsed))
}

func TestParsePublicKeyDERRejectsGarbage(t *testing.T) {
	_, err := ParsePublicKeyDER([]byte("not der at all"))
	require.Error(t, err)
}

func TestPrivateKeyFromBytesRoundTrip(t *testing.T) {
	sk, err := GeneratePrivateKey()
	require.NoError(t, err)

	raw := sk.Raw().Serialize()
	restored := PrivateKeyFromBytes(raw)
	require.True(t, sk.PubKey().Equal(restored.PubKey()))
}

func TestCanonicalEncodingIsDeterministic(t *testing.T) {
	req := OpenChannelRequest{
		ClientPublicKey: []byte{1, 2, 3},
		Mode:            1,
		ChannelAmount:   1000,
		UnitValue:       1,
		ModeCommitment:  []byte{4, 5, 6},
	}

	a, err := req.Canonical()
	require.NoError(t, err)
	b, err := req.Canonical()
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCanonicalEncodingDiffersOnFieldChange(t *testing.T) {
	base := OpenChannelRequest{ClientPublicKey: []byte{1}, Mode: 0, ChannelAmount: 10, UnitValue: 1}
	changed := base
	changed.ChannelAmount = 20

	a, err := base.Canonical()
	require.NoError(t, err)
	b, err := changed.Canonical()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestFingerprintStableAcrossParses(t *testing.T) {
	sk, err := GeneratePrivateKey()
	require.NoError(t, err)

	der := sk.PubKey().DER()
	parsed, err := ParsePublicKeyDER(der)
	require.NoError(t, err)
	require.Equal(t, sk.PubKey().Fingerprint(), parsed.Fingerprint())
}

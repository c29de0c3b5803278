package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nanomoni/nanomoni/chancrypto"
	"github.com/nanomoni/nanomoni/channeldb"
	"github.com/nanomoni/nanomoni/nmerrors"
	"github.com/nanomoni/nanomoni/payword"
	"github.com/nanomoni/nanomoni/paytree"
)

// staticIssuer is a fixed single-key IssuerKeySource for tests; Refresh
// returns the same key, exercising the "rotated key" failure path only
// when the test swaps it out itself.
type staticIssuer struct {
	key *chancrypto.PublicKey
}

func (s *staticIssuer) Current() (*chancrypto.PublicKey, error) { return s.key, nil }
func (s *staticIssuer) Refresh() (*chancrypto.PublicKey, error) { return s.key, nil }

func openTestDB(t *testing.T) *channeldb.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := channeldb.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func issueCertificate(t *testing.T, issuerKey *chancrypto.PrivateKey, clientKey *chancrypto.PublicKey, now time.Time) Certificate {
	t.Helper()
	body := chancrypto.CertificateBody{
		ClientPublicKey: clientKey.DER(),
		InitialBalance:  0,
		IssuedAt:        uint64(now.Unix()),
		ExpiresAt:       uint64(now.Add(time.Hour).Unix()),
	}
	canonical, err := body.Canonical()
	require.NoError(t, err)
	sig := chancrypto.Sign(issuerKey, canonical)

	return Certificate{
		ClientPublicKey: clientKey.DER(),
		InitialBalance:  0,
		IssuedAt:        now,
		ExpiresAt:       now.Add(time.Hour),
		IssuerSignature: sig,
	}
}

func signOpenRequest(t *testing.T, clientKey *chancrypto.PrivateKey, req OpenChannelRequest) []byte {
	t.Helper()
	canonical, err := chancrypto.OpenChannelRequest{
		ClientPublicKey: req.ClientPublicKey,
		Mode:            uint8(req.Mode),
		ChannelAmount:   req.ChannelAmount,
		UnitValue:       req.UnitValue,
		ModeCommitment:  req.modeCommitmentBytes(),
	}.Canonical()
	require.NoError(t, err)
	return chancrypto.Sign(clientKey, canonical)
}

func TestScenario1SignatureHappyPath(t *testing.T) {
	db := openTestDB(t)
	issuerKey, err := chancrypto.GeneratePrivateKey()
	require.NoError(t, err)
	clientKey, err := chancrypto.GeneratePrivateKey()
	require.NoError(t, err)
	issuer := &staticIssuer{key: issuerKey.PubKey()}
	now := time.Now().UTC()

	cert := issueCertificate(t, issuerKey, clientKey.PubKey(), now)
	req := OpenChannelRequest{
		ClientPublicKey: clientKey.PubKey().DER(),
		Mode:            channeldb.ModeSignature,
		ChannelAmount:   100,
		UnitValue:       1,
	}
	req.ClientSignature = signOpenRequest(t, clientKey, req)

	id, err := OpenChannel(db, issuer, "vendor-1", req, cert, now)
	require.NoError(t, err)

	for _, owed := range []uint64{10, 25, 40} {
		canonical, err := chancrypto.SignatureModeUpdate{ChannelID: id[:], CumulativeOwedAmount: owed}.Canonical()
		require.NoError(t, err)
		sig := chancrypto.Sign(clientKey, canonical)

		accepted, err := PaySignature(db, id, owed, sig)
		require.NoError(t, err)
		require.Equal(t, owed, accepted)
	}

	stmt, err := CloseChannel(db, id, 40, now, signClosingStatement(t, clientKey, id, 40, now), now)
	require.NoError(t, err)
	require.Equal(t, uint64(40), stmt.FinalCumulativeOwedAmount)
}

func signClosingStatement(t *testing.T, clientKey *chancrypto.PrivateKey, id channeldb.ChannelID, finalOwed uint64, now time.Time) []byte {
	t.Helper()
	canonical, err := chancrypto.ClosingStatement{
		ChannelID:           id[:],
		FinalCumulativeOwed: finalOwed,
		ClosedAt:            uint64(now.Unix()),
	}.Canonical()
	require.NoError(t, err)
	return chancrypto.Sign(clientKey, canonical)
}

// TestCloseAcceptsClientClockSkewWithinBound closes a channel where the
// client's signed closed_at and the Vendor's wall clock land on different
// seconds, the way any non-zero network latency would produce in practice.
// Before the fix, the server re-derived closed_at from its own clock
// instead of verifying the client's signed value, so this failed whenever
// the two seconds disagreed.
func TestCloseAcceptsClientClockSkewWithinBound(t *testing.T) {
	db := openTestDB(t)
	issuerKey, err := chancrypto.GeneratePrivateKey()
	require.NoError(t, err)
	clientKey, err := chancrypto.GeneratePrivateKey()
	require.NoError(t, err)
	issuer := &staticIssuer{key: issuerKey.PubKey()}
	now := time.Now().UTC()

	cert := issueCertificate(t, issuerKey, clientKey.PubKey(), now)
	req := OpenChannelRequest{
		ClientPublicKey: clientKey.PubKey().DER(),
		Mode:            channeldb.ModeSignature,
		ChannelAmount:   100,
		UnitValue:       1,
	}
	req.ClientSignature = signOpenRequest(t, clientKey, req)
	id, err := OpenChannel(db, issuer, "vendor-1", req, cert, now)
	require.NoError(t, err)

	clientClosedAt := now.Add(3 * time.Second)
	serverNow := now.Add(4 * time.Second)
	sig := signClosingStatement(t, clientKey, id, 0, clientClosedAt)

	stmt, err := CloseChannel(db, id, 0, clientClosedAt, sig, serverNow)
	require.NoError(t, err)
	require.True(t, stmt.ClosedAt.Equal(clientClosedAt))
}

// TestCloseRejectsClosedAtOutsideSkewBound ensures the client's signed
// closed_at cannot drift arbitrarily far from the Vendor's wall clock.
func TestCloseRejectsClosedAtOutsideSkewBound(t *testing.T) {
	db := openTestDB(t)
	issuerKey, err := chancrypto.GeneratePrivateKey()
	require.NoError(t, err)
	clientKey, err := chancrypto.GeneratePrivateKey()
	require.NoError(t, err)
	issuer := &staticIssuer{key: issuerKey.PubKey()}
	now := time.Now().UTC()

	cert := issueCertificate(t, issuerKey, clientKey.PubKey(), now)
	req := OpenChannelRequest{
		ClientPublicKey: clientKey.PubKey().DER(),
		Mode:            channeldb.ModeSignature,
		ChannelAmount:   100,
		UnitValue:       1,
	}
	req.ClientSignature = signOpenRequest(t, clientKey, req)
	id, err := OpenChannel(db, issuer, "vendor-1", req, cert, now)
	require.NoError(t, err)

	staleClosedAt := now.Add(-time.Hour)
	sig := signClosingStatement(t, clientKey, id, 0, staleClosedAt)

	_, err = CloseChannel(db, id, 0, staleClosedAt, sig, now)
	require.True(t, nmerrors.Is(err, nmerrors.ErrInvalidSignature))
}

func TestScenario2SignatureMonotonicity(t *testing.T) {
	db := openTestDB(t)
	issuerKey, _ := chancrypto.GeneratePrivateKey()
	clientKey, _ := chancrypto.GeneratePrivateKey()
	issuer := &staticIssuer{key: issuerKey.PubKey()}
	now := time.Now().UTC()

	cert := issueCertificate(t, issuerKey, clientKey.PubKey(), now)
	req := OpenChannelRequest{
		ClientPublicKey: clientKey.PubKey().DER(),
		Mode:            channeldb.ModeSignature,
		ChannelAmount:   100,
		UnitValue:       1,
	}
	req.ClientSignature = signOpenRequest(t, clientKey, req)
	id, err := OpenChannel(db, issuer, "vendor-1", req, cert, now)
	require.NoError(t, err)

	sign := func(owed uint64) []byte {
		canonical, err := chancrypto.SignatureModeUpdate{ChannelID: id[:], CumulativeOwedAmount: owed}.Canonical()
		require.NoError(t, err)
		return chancrypto.Sign(clientKey, canonical)
	}

	_, err = PaySignature(db, id, 25, sign(25))
	require.NoError(t, err)

	_, err = PaySignature(db, id, 20, sign(20))
	require.True(t, nmerrors.Is(err, nmerrors.ErrNonMonotonicIndex))
}

func TestScenario3PayWordCap(t *testing.T) {
	db := openTestDB(t)
	issuerKey, _ := chancrypto.GeneratePrivateKey()
	clientKey, _ := chancrypto.GeneratePrivateKey()
	issuer := &staticIssuer{key: issuerKey.PubKey()}
	now := time.Now().UTC()

	var seed [32]byte
	copy(seed[:], []byte("a-random-payword-seed-material!!"))
	chain, commitment := payword.Generate(seed, 3)

	cert := issueCertificate(t, issuerKey, clientKey.PubKey(), now)
	req := OpenChannelRequest{
		ClientPublicKey: clientKey.PubKey().DER(),
		Mode:            channeldb.ModePayWord,
		ChannelAmount:   30,
		UnitValue:       10,
		PayWordRoot:     commitment.Root,
		PayWordMaxK:     commitment.MaxK,
	}
	req.ClientSignature = signOpenRequest(t, clientKey, req)
	id, err := OpenChannel(db, issuer, "vendor-1", req, cert, now)
	require.NoError(t, err)

	cache := &PayWordCache{}
	for k := uint32(1); k <= 3; k++ {
		token, err := chain.Token(k)
		require.NoError(t, err)
		accepted, err := PayPayWord(db, id, cache, k, token)
		require.NoError(t, err)
		require.Equal(t, k, accepted)
	}

	token, err := chain.Token(3)
	require.NoError(t, err)
	_ = token
	var forged [32]byte
	_, err = PayPayWord(db, id, cache, 4, forged)
	require.True(t, nmerrors.Is(err, nmerrors.ErrExceedsIndexCap))
}

func TestScenario4PayTreeZeroIndexRejected(t *testing.T) {
	db := openTestDB(t)
	issuerKey, _ := chancrypto.GeneratePrivateKey()
	clientKey, _ := chancrypto.GeneratePrivateKey()
	issuer := &staticIssuer{key: issuerKey.PubKey()}
	now := time.Now().UTC()

	id16 := channeldb.NewChannelID()
	var secret [32]byte
	copy(secret[:], []byte("paytree-secret-material-for-test"))
	_, commitment := paytree.Build(8, secret, id16[:])

	cert := issueCertificate(t, issuerKey, clientKey.PubKey(), now)
	req := OpenChannelRequest{
		ClientPublicKey: clientKey.PubKey().DER(),
		Mode:            channeldb.ModePayTree,
		ChannelAmount:   80,
		UnitValue:       10,
		PayTreeRoot:     commitment.Root,
		PayTreeMaxI:     commitment.MaxI,
	}
	req.ClientSignature = signOpenRequest(t, clientKey, req)
	id, err := OpenChannel(db, issuer, "vendor-1", req, cert, now)
	require.NoError(t, err)

	_, err = PayPayTree(db, id, 0, [32]byte{}, nil)
	require.True(t, nmerrors.Is(err, nmerrors.ErrNonMonotonicIndex))
}

func TestScenario5ConcurrentRaceAccepts25(t *testing.T) {
	db := openTestDB(t)
	issuerKey, _ := chancrypto.GeneratePrivateKey()
	clientKey, _ := chancrypto.GeneratePrivateKey()
	issuer := &staticIssuer{key: issuerKey.PubKey()}
	now := time.Now().UTC()

	cert := issueCertificate(t, issuerKey, clientKey.PubKey(), now)
	req := OpenChannelRequest{
		ClientPublicKey: clientKey.PubKey().DER(),
		Mode:            channeldb.ModeSignature,
		ChannelAmount:   100,
		UnitValue:       1,
	}
	req.ClientSignature = signOpenRequest(t, clientKey, req)
	id, err := OpenChannel(db, issuer, "vendor-1", req, cert, now)
	require.NoError(t, err)

	sign := func(owed uint64) []byte {
		canonical, err := chancrypto.SignatureModeUpdate{ChannelID: id[:], CumulativeOwedAmount: owed}.Canonical()
		require.NoError(t, err)
		return chancrypto.Sign(clientKey, canonical)
	}

	_, err = PaySignature(db, id, 10, sign(10))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, results[0] = PaySignature(db, id, 20, sign(20))
	}()
	go func() {
		defer wg.Done()
		_, results[1] = PaySignature(db, id, 25, sign(25))
	}()
	wg.Wait()

	accepted := 0
	for _, err := range results {
		if err == nil {
			accepted++
		}
	}
	require.Equal(t, 1, accepted)

	ch, err := db.Get(id)
	require.NoError(t, err)
	require.Equal(t, uint64(25), ch.LatestState.Owed)
}

func TestScenario6TamperedPayWordTokenRejected(t *testing.T) {
	db := openTestDB(t)
	issuerKey, _ := chancrypto.GeneratePrivateKey()
	clientKey, _ := chancrypto.GeneratePrivateKey()
	issuer := &staticIssuer{key: issuerKey.PubKey()}
	now := time.Now().UTC()

	var seed [32]byte
	copy(seed[:], []byte("another-payword-seed-material!!!"))
	_, commitment := payword.Generate(seed, 10)

	cert := issueCertificate(t, issuerKey, clientKey.PubKey(), now)
	req := OpenChannelRequest{
		ClientPublicKey: clientKey.PubKey().DER(),
		Mode:            channeldb.ModePayWord,
		ChannelAmount:   100,
		UnitValue:       10,
		PayWordRoot:     commitment.Root,
		PayWordMaxK:     commitment.MaxK,
	}
	req.ClientSignature = signOpenRequest(t, clientKey, req)
	id, err := OpenChannel(db, issuer, "vendor-1", req, cert, now)
	require.NoError(t, err)

	var randomToken [32]byte
	copy(randomToken[:], []byte("this-is-not-a-valid-chain-token"))

	_, err = PayPayWord(db, id, nil, 1, randomToken)
	require.True(t, nmerrors.Is(err, nmerrors.ErrInvalidToken))

	ch, err := db.Get(id)
	require.NoError(t, err)
	require.Equal(t, uint32(0), ch.LatestState.K)
}

package vendorsvc

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nanomoni/nanomoni/chancrypto"
	"github.com/nanomoni/nanomoni/channeldb"
	"github.com/nanomoni/nanomoni/core"
	"github.com/nanomoni/nanomoni/payword"
)

type fixedIssuer struct {
	key *chancrypto.PublicKey
}

func (f fixedIssuer) Current() (*chancrypto.PublicKey, error) { return f.key, nil }
func (f fixedIssuer) Refresh() (*chancrypto.PublicKey, error) { return f.key, nil }

func openTestStore(t *testing.T) *channeldb.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := channeldb.Open(filepath.Join(dir, "channel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func signedRequest(t *testing.T, method, url string, body interface{}, signer *chancrypto.PrivateKey) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	sig := chancrypto.Sign(signer, raw)
	req := httptest.NewRequest(method, url, bytes.NewReader(raw))
	req.Header.Set("public_key_b64", base64.StdEncoding.EncodeToString(signer.PubKey().DER()))
	req.Header.Set("signature_b64", base64.StdEncoding.EncodeToString(sig))
	return req
}

func issueCertificate(t *testing.T, issuerKey *chancrypto.PrivateKey, clientKey *chancrypto.PrivateKey, initialBalance uint64, now time.Time) core.Certificate {
	t.Helper()
	body := chancrypto.CertificateBody{
		ClientPublicKey: clientKey.PubKey().DER(),
		InitialBalance:  initialBalance,
		IssuedAt:        uint64(now.Unix()),
		ExpiresAt:       uint64(now.Add(time.Hour).Unix()),
	}
	canonical, err := body.Canonical()
	require.NoError(t, err)
	return core.Certificate{
		ClientPublicKey: clientKey.PubKey().DER(),
		InitialBalance:  initialBalance,
		IssuedAt:        now,
		ExpiresAt:       now.Add(time.Hour),
		IssuerSignature: chancrypto.Sign(issuerKey, canonical),
	}
}

func TestHTTPSignatureChannelLifecycle(t *testing.T) {
	store := openTestStore(t)
	issuerKey, err := chancrypto.GeneratePrivateKey()
	require.NoError(t, err)
	clientKey, err := chancrypto.GeneratePrivateKey()
	require.NoError(t, err)

	srv := &Server{
		vendorID: "vendor-1",
		store:    store,
		issuer:   fixedIssuer{key: issuerKey.PubKey()},
		caches:   make(map[channeldb.ChannelID]*core.PayWordCache),
	}
	router := srv.router()

	now := time.Now()
	cert := issueCertificate(t, issuerKey, clientKey, 1000, now)

	openBody := chancrypto.OpenChannelRequest{
		ClientPublicKey: clientKey.PubKey().DER(),
		Mode:            uint8(channeldb.ModeSignature),
		ChannelAmount:   1000,
		UnitValue:       1,
	}
	canonical, err := openBody.Canonical()
	require.NoError(t, err)
	clientSig := chancrypto.Sign(clientKey, canonical)

	reqBody := openRequestBody{
		ClientPublicKeyB64:           base64.StdEncoding.EncodeToString(clientKey.PubKey().DER()),
		Mode:                         uint8(channeldb.ModeSignature),
		ChannelAmount:                1000,
		UnitValue:                    1,
		ClientSignatureB64:           base64.StdEncoding.EncodeToString(clientSig),
		CertificateInitialBalance:    cert.InitialBalance,
		CertificateIssuedAtUnix:      cert.IssuedAt.Unix(),
		CertificateExpiresAtUnix:     cert.ExpiresAt.Unix(),
		CertificateIssuerSignatureB64: base64.StdEncoding.EncodeToString(cert.IssuerSignature),
	}

	req := signedRequest(t, http.MethodPost, "/channel/open", reqBody, clientKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var openResp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &openResp))
	channelID := openResp["channel_id"]
	require.NotEmpty(t, channelID)

	id, err := channeldb.ParseChannelID(channelID)
	require.NoError(t, err)

	update := chancrypto.SignatureModeUpdate{ChannelID: idBytes(id), CumulativeOwedAmount: 40}
	updateCanonical, err := update.Canonical()
	require.NoError(t, err)
	paySig := chancrypto.Sign(clientKey, updateCanonical)

	payReq := signedRequest(t, http.MethodPost, fmt.Sprintf("/channel/%s/pay/signature", channelID),
		paySignatureBody{CumulativeOwedAmount: 40, SignatureB64: base64.StdEncoding.EncodeToString(paySig)},
		clientKey)
	payW := httptest.NewRecorder()
	router.ServeHTTP(payW, payReq)
	require.Equal(t, http.StatusOK, payW.Code)

	var payResp map[string]uint64
	require.NoError(t, json.Unmarshal(payW.Body.Bytes(), &payResp))
	require.Equal(t, uint64(40), payResp["accepted_owed_amount"])

	closeStmt := chancrypto.ClosingStatement{ChannelID: idBytes(id), FinalCumulativeOwed: 40, ClosedAt: uint64(now.Unix())}
	closeCanonical, err := closeStmt.Canonical()
	require.NoError(t, err)
	closeSig := chancrypto.Sign(clientKey, closeCanonical)

	closeReq := signedRequest(t, http.MethodPost, fmt.Sprintf("/channel/%s/close", channelID),
		closeBody{FinalCumulativeOwedAmount: 40, ClosedAt: now.Unix(), ClientSignatureB64: base64.StdEncoding.EncodeToString(closeSig)},
		clientKey)
	closeW := httptest.NewRecorder()
	router.ServeHTTP(closeW, closeReq)
	require.Equal(t, http.StatusOK, closeW.Code)
}

func TestHTTPPayWordRejectsTamperedToken(t *testing.T) {
	store := openTestStore(t)
	issuerKey, err := chancrypto.GeneratePrivateKey()
	require.NoError(t, err)
	clientKey, err := chancrypto.GeneratePrivateKey()
	require.NoError(t, err)

	srv := &Server{
		vendorID: "vendor-1",
		store:    store,
		issuer:   fixedIssuer{key: issuerKey.PubKey()},
		caches:   make(map[channeldb.ChannelID]*core.PayWordCache),
	}
	router := srv.router()

	var seed [32]byte
	copy(seed[:], []byte("payword-http-test-seed-padding!"))
	chain, commitment := payword.Generate(seed, 10)

	now := time.Now()
	cert := issueCertificate(t, issuerKey, clientKey, 1000, now)

	openBody := chancrypto.OpenChannelRequest{
		ClientPublicKey: clientKey.PubKey().DER(),
		Mode:            uint8(channeldb.ModePayWord),
		ChannelAmount:   1000,
		UnitValue:       1,
		ModeCommitment:  commitment.Root[:],
	}
	canonical, err := openBody.Canonical()
	require.NoError(t, err)
	clientSig := chancrypto.Sign(clientKey, canonical)

	reqBody := openRequestBody{
		ClientPublicKeyB64:           base64.StdEncoding.EncodeToString(clientKey.PubKey().DER()),
		Mode:                         uint8(channeldb.ModePayWord),
		ChannelAmount:                1000,
		UnitValue:                    1,
		PayWordRootHex:               hex.EncodeToString(commitment.Root[:]),
		PayWordMaxK:                  commitment.MaxK,
		ClientSignatureB64:           base64.StdEncoding.EncodeToString(clientSig),
		CertificateInitialBalance:    cert.InitialBalance,
		CertificateIssuedAtUnix:      cert.IssuedAt.Unix(),
		CertificateExpiresAtUnix:     cert.ExpiresAt.Unix(),
		CertificateIssuerSignatureB64: base64.StdEncoding.EncodeToString(cert.IssuerSignature),
	}

	req := signedRequest(t, http.MethodPost, "/channel/open", reqBody, clientKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var openResp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &openResp))
	channelID := openResp["channel_id"]

	tampered, err := chain.Token(1)
	require.NoError(t, err)
	tampered[0] ^= 0xFF

	payReq := signedRequest(t, http.MethodPost, fmt.Sprintf("/channel/%s/pay/payword", channelID),
		payWordBody{K: 1, TokenHex: hex.EncodeToString(tampered[:])}, clientKey)
	payW := httptest.NewRecorder()
	router.ServeHTTP(payW, payReq)
	require.Equal(t, http.StatusBadRequest, payW.Code)

	var errResp map[string]string
	require.NoError(t, json.Unmarshal(payW.Body.Bytes(), &errResp))
	require.Equal(t, "invalid_token", errResp["error"])
}

func idBytes(id channeldb.ChannelID) []byte {
	return id[:]
}

// TestHTTPCloseAcceptsClientClockSkew opens and closes a channel where the
// signed closed_at the client sends and the Vendor's wall clock fall on
// different seconds, reproducing ordinary network latency. Before the fix
// the server re-derived closed_at from its own clock instead of the
// client-signed body field, so this only passed when both clocks agreed to
// the second.
func TestHTTPCloseAcceptsClientClockSkew(t *testing.T) {
	store := openTestStore(t)
	issuerKey, err := chancrypto.GeneratePrivateKey()
	require.NoError(t, err)
	clientKey, err := chancrypto.GeneratePrivateKey()
	require.NoError(t, err)

	srv := &Server{
		vendorID: "vendor-1",
		store:    store,
		issuer:   fixedIssuer{key: issuerKey.PubKey()},
		caches:   make(map[channeldb.ChannelID]*core.PayWordCache),
	}
	router := srv.router()

	now := time.Now()
	serverNow := now.Add(4 * time.Second)
	nowFunc = func() time.Time { return serverNow }
	t.Cleanup(func() { nowFunc = time.Now })

	cert := issueCertificate(t, issuerKey, clientKey, 1000, now)
	openBody := chancrypto.OpenChannelRequest{
		ClientPublicKey: clientKey.PubKey().DER(),
		Mode:            uint8(channeldb.ModeSignature),
		ChannelAmount:   100,
		UnitValue:       1,
	}
	canonical, err := openBody.Canonical()
	require.NoError(t, err)
	clientSig := chancrypto.Sign(clientKey, canonical)

	openReq := signedRequest(t, http.MethodPost, "/channel/open", openRequestBody{
		ClientPublicKeyB64:            base64.StdEncoding.EncodeToString(clientKey.PubKey().DER()),
		Mode:                          uint8(channeldb.ModeSignature),
		ChannelAmount:                 100,
		UnitValue:                     1,
		ClientSignatureB64:            base64.StdEncoding.EncodeToString(clientSig),
		CertificateInitialBalance:     cert.InitialBalance,
		CertificateIssuedAtUnix:       cert.IssuedAt.Unix(),
		CertificateExpiresAtUnix:      cert.ExpiresAt.Unix(),
		CertificateIssuerSignatureB64: base64.StdEncoding.EncodeToString(cert.IssuerSignature),
	}, clientKey)
	openW := httptest.NewRecorder()
	router.ServeHTTP(openW, openReq)
	require.Equal(t, http.StatusOK, openW.Code)

	var openResp map[string]string
	require.NoError(t, json.Unmarshal(openW.Body.Bytes(), &openResp))
	channelID := openResp["channel_id"]
	id, err := channeldb.ParseChannelID(channelID)
	require.NoError(t, err)

	clientClosedAt := now.Add(3 * time.Second)
	closeStmt := chancrypto.ClosingStatement{
		ChannelID:           idBytes(id),
		FinalCumulativeOwed: 0,
		ClosedAt:            uint64(clientClosedAt.Unix()),
	}
	closeCanonical, err := closeStmt.Canonical()
	require.NoError(t, err)
	closeSig := chancrypto.Sign(clientKey, closeCanonical)

	closeReq := signedRequest(t, http.MethodPost, fmt.Sprintf("/channel/%s/close", channelID),
		closeBody{FinalCumulativeOwedAmount: 0, ClosedAt: clientClosedAt.Unix(), ClientSignatureB64: base64.StdEncoding.EncodeToString(closeSig)},
		clientKey)
	closeW := httptest.NewRecorder()
	router.ServeHTTP(closeW, closeReq)
	require.Equal(t, http.StatusOK, closeW.Code)
}

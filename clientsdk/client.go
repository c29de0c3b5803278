// Package clientsdk is a minimal Client-role driver: it fetches a
// certificate from the Issuer, opens a channel at the Vendor, and sends
// payments under any of the three modes, wrapping the raw HTTP contract in
// spec §6.1-6.2. It exists to give the demo CLI and end-to-end tests a
// caller; the Client role's own policy (when to pay, how much) is outside
// core scope.
package clientsdk

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nanomoni/nanomoni/chancrypto"
)

// Client drives the HTTP contract on behalf of one Client keypair.
type Client struct {
	httpClient *http.Client
	issuerURL  string
	vendorURL  string
	key        *chancrypto.PrivateKey
}

// New builds a Client signing requests with key.
func New(issuerURL, vendorURL string, key *chancrypto.PrivateKey) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		issuerURL:  issuerURL,
		vendorURL:  vendorURL,
		key:        key,
	}
}

// Certificate mirrors the Issuer's registration response.
type Certificate struct {
	ClientPublicKeyB64 string `json:"client_public_key_b64"`
	InitialBalance     uint64 `json:"initial_balance"`
	IssuedAt           int64  `json:"issued_at"`
	ExpiresAt          int64  `json:"expires_at"`
	IssuerSignatureB64 string `json:"issuer_signature_b64"`
}

// Register asks the Issuer to approve this Client's public key for
// initialBalance.
func (c *Client) Register(initialBalance uint64) (Certificate, error) {
	body, err := json.Marshal(map[string]interface{}{
		"client_public_key_b64": base64.StdEncoding.EncodeToString(c.key.PubKey().DER()),
		"initial_balance":       initialBalance,
	})
	if err != nil {
		return Certificate{}, err
	}

	resp, err := c.httpClient.Post(c.issuerURL+"/issuer/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return Certificate{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Certificate{}, fmt.Errorf("clientsdk: register failed: %s", resp.Status)
	}

	var cert Certificate
	if err := json.NewDecoder(resp.Body).Decode(&cert); err != nil {
		return Certificate{}, err
	}
	return cert, nil
}

// IssuerPublicKey fetches the Issuer's current public key.
func (c *Client) IssuerPublicKey() (*chancrypto.PublicKey, error) {
	resp, err := c.httpClient.Get(c.issuerURL + "/issuer/public_key")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		PublicKeyB64 string `json:"public_key_b64"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	der, err := base64.StdEncoding.DecodeString(payload.PublicKeyB64)
	if err != nil {
		return nil, err
	}
	return chancrypto.ParsePublicKeyDER(der)
}

func (c *Client) post(path string, body interface{}) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	sig := chancrypto.Sign(c.key, raw)

	req, err := http.NewRequest(http.MethodPost, c.vendorURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("public_key_b64", base64.StdEncoding.EncodeToString(c.key.PubKey().DER()))
	req.Header.Set("signature_b64", base64.StdEncoding.EncodeToString(sig))

	return c.httpClient.Do(req)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("clientsdk: request failed: %s: %s", resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// OpenSignatureChannel opens a Signature-mode channel against cert.
func (c *Client) OpenSignatureChannel(cert Certificate, channelAmount uint64) (string, error) {
	openBody := chancrypto.OpenChannelRequest{
		ClientPublicKey: c.key.PubKey().DER(),
		Mode:            0,
		ChannelAmount:   channelAmount,
		UnitValue:       1,
	}
	canonical, err := openBody.Canonical()
	if err != nil {
		return "", err
	}
	clientSig := chancrypto.Sign(c.key, canonical)

	resp, err := c.post("/channel/open", map[string]interface{}{
		"client_public_key_b64":            base64.StdEncoding.EncodeToString(c.key.PubKey().DER()),
		"mode":                              0,
		"channel_amount":                    channelAmount,
		"unit_value":                        1,
		"client_signature_b64":              base64.StdEncoding.EncodeToString(clientSig),
		"certificate_initial_balance":       cert.InitialBalance,
		"certificate_issued_at_unix":        cert.IssuedAt,
		"certificate_expires_at_unix":       cert.ExpiresAt,
		"certificate_issuer_signature_b64":  cert.IssuerSignatureB64,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		ChannelID string `json:"channel_id"`
	}
	if err := decodeResponse(resp, &out); err != nil {
		return "", err
	}
	return out.ChannelID, nil
}

// PaySignature sends a Signature-mode payment for cumulativeOwed.
func (c *Client) PaySignature(channelID string, channelIDBytes []byte, cumulativeOwed uint64) (uint64, error) {
	update := chancrypto.SignatureModeUpdate{ChannelID: channelIDBytes, CumulativeOwedAmount: cumulativeOwed}
	canonical, err := update.Canonical()
	if err != nil {
		return 0, err
	}
	sig := chancrypto.Sign(c.key, canonical)

	resp, err := c.post(fmt.Sprintf("/channel/%s/pay/signature", channelID), map[string]interface{}{
		"cumulative_owed_amount": cumulativeOwed,
		"signature_b64":          base64.StdEncoding.EncodeToString(sig),
	})
	if err != nil {
		return 0, err
	}

	var out struct {
		AcceptedOwedAmount uint64 `json:"accepted_owed_amount"`
	}
	if err := decodeResponse(resp, &out); err != nil {
		return 0, err
	}
	return out.AcceptedOwedAmount, nil
}

// PayWord sends a PayWord-mode payment revealing token at index k.
func (c *Client) PayWord(channelID string, k uint32, token [32]byte) (uint32, error) {
	resp, err := c.post(fmt.Sprintf("/channel/%s/pay/payword", channelID), map[string]interface{}{
		"k":         k,
		"token_hex": hex.EncodeToString(token[:]),
	})
	if err != nil {
		return 0, err
	}

	var out struct {
		AcceptedK uint32 `json:"accepted_k"`
	}
	if err := decodeResponse(resp, &out); err != nil {
		return 0, err
	}
	return out.AcceptedK, nil
}

// PayTree sends a PayTree-mode payment revealing leaf i along with its
// Merkle proof.
func (c *Client) PayTree(channelID string, i uint32, leaf [32]byte, proof [][32]byte) (uint32, error) {
	proofHex := make([]string, len(proof))
	for idx, node := range proof {
		proofHex[idx] = hex.EncodeToString(node[:])
	}

	resp, err := c.post(fmt.Sprintf("/channel/%s/pay/paytree", channelID), map[string]interface{}{
		"i":         i,
		"leaf_hex":  hex.EncodeToString(leaf[:]),
		"proof_hex": proofHex,
	})
	if err != nil {
		return 0, err
	}

	var out struct {
		AcceptedI uint32 `json:"accepted_i"`
	}
	if err := decodeResponse(resp, &out); err != nil {
		return 0, err
	}
	return out.AcceptedI, nil
}

// Close sends the signed closing statement for channelID.
func (c *Client) Close(channelID string, channelIDBytes []byte, finalOwed uint64, closedAt time.Time) (uint64, error) {
	stmt := chancrypto.ClosingStatement{
		ChannelID:           channelIDBytes,
		FinalCumulativeOwed: finalOwed,
		ClosedAt:            uint64(closedAt.Unix()),
	}
	canonical, err := stmt.Canonical()
	if err != nil {
		return 0, err
	}
	sig := chancrypto.Sign(c.key, canonical)

	resp, err := c.post(fmt.Sprintf("/channel/%s/close", channelID), map[string]interface{}{
		"final_cumulative_owed_amount": finalOwed,
		"closed_at":                    closedAt.Unix(),
		"client_signature_b64":         base64.StdEncoding.EncodeToString(sig),
	})
	if err != nil {
		return 0, err
	}

	var out struct {
		FinalCumulativeOwedAmount uint64 `json:"final_cumulative_owed_amount"`
	}
	if err := decodeResponse(resp, &out); err != nil {
		return 0, err
	}
	return out.FinalCumulativeOwedAmount, nil
}

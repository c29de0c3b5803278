package vendorsvc

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nanomoni/nanomoni/chancrypto"
	"github.com/nanomoni/nanomoni/channeldb"
	"github.com/nanomoni/nanomoni/core"
	"github.com/nanomoni/nanomoni/nmerrors"
)

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/channel/open", s.handleOpen).Methods(http.MethodPost)
	r.HandleFunc("/channel/{id}/pay/signature", s.handlePaySignature).Methods(http.MethodPost)
	r.HandleFunc("/channel/{id}/pay/payword", s.handlePayWord).Methods(http.MethodPost)
	r.HandleFunc("/channel/{id}/pay/paytree", s.handlePayTree).Methods(http.MethodPost)
	r.HandleFunc("/channel/{id}/close", s.handleClose).Methods(http.MethodPost)
	return r
}

// authenticatedBody reads the request body and verifies it against the
// public_key_b64/signature_b64 headers every endpoint requires (§6.1): the
// signature covers the exact body bytes, not any re-derived canonical form.
// It returns the verified caller public key alongside the raw body so
// handlers can both check it against a channel's on-file key and decode it.
func authenticatedBody(r *http.Request) (*chancrypto.PublicKey, []byte, error) {
	pubKeyB64 := r.Header.Get("public_key_b64")
	sigB64 := r.Header.Get("signature_b64")
	if pubKeyB64 == "" || sigB64 == "" {
		return nil, nil, nmerrors.ErrMalformedRequest
	}

	der, err := base64.StdEncoding.DecodeString(pubKeyB64)
	if err != nil {
		return nil, nil, nmerrors.ErrMalformedRequest
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, nil, nmerrors.ErrMalformedRequest
	}

	pubKey, err := chancrypto.ParsePublicKeyDER(der)
	if err != nil {
		return nil, nil, nmerrors.ErrInvalidSignature
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, nmerrors.ErrMalformedRequest
	}

	if !chancrypto.Verify(pubKey, body, sig) {
		return nil, nil, nmerrors.ErrInvalidSignature
	}
	return pubKey, body, nil
}

func channelIDFromPath(r *http.Request) (channeldb.ChannelID, error) {
	raw := mux.Vars(r)["id"]
	id, err := channeldb.ParseChannelID(raw)
	if err != nil {
		return channeldb.ChannelID{}, nmerrors.ErrMalformedRequest
	}
	return id, nil
}

type openRequestBody struct {
	ClientPublicKeyB64 string `json:"client_public_key_b64"`
	Mode                uint8  `json:"mode"`
	ChannelAmount       uint64 `json:"channel_amount"`
	UnitValue           uint64 `json:"unit_value"`
	PayWordRootHex      string `json:"payword_root_hex"`
	PayWordMaxK         uint32 `json:"payword_max_k"`
	PayTreeRootHex      string `json:"paytree_root_hex"`
	PayTreeMaxI         uint32 `json:"paytree_max_i"`
	ClientSignatureB64  string `json:"client_signature_b64"`

	CertificateInitialBalance    uint64 `json:"certificate_initial_balance"`
	CertificateIssuedAtUnix      int64  `json:"certificate_issued_at_unix"`
	CertificateExpiresAtUnix     int64  `json:"certificate_expires_at_unix"`
	CertificateIssuerSignatureB64 string `json:"certificate_issuer_signature_b64"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	callerKey, body, err := authenticatedBody(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req openRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nmerrors.ErrMalformedRequest)
		return
	}

	clientKeyDER, err := base64.StdEncoding.DecodeString(req.ClientPublicKeyB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, nmerrors.ErrMalformedRequest)
		return
	}
	if string(clientKeyDER) != string(callerKey.DER()) {
		writeError(w, http.StatusUnauthorized, nmerrors.ErrInvalidSignature)
		return
	}

	clientSig, _ := base64.StdEncoding.DecodeString(req.ClientSignatureB64)
	payWordRoot, _ := decodeHex32(req.PayWordRootHex)
	payTreeRoot, _ := decodeHex32(req.PayTreeRootHex)
	issuerSig, _ := base64.StdEncoding.DecodeString(req.CertificateIssuerSignatureB64)

	openReq := core.OpenChannelRequest{
		ClientPublicKey: clientKeyDER,
		Mode:            channeldb.Mode(req.Mode),
		ChannelAmount:   req.ChannelAmount,
		UnitValue:       req.UnitValue,
		PayWordRoot:     payWordRoot,
		PayWordMaxK:     req.PayWordMaxK,
		PayTreeRoot:     payTreeRoot,
		PayTreeMaxI:     req.PayTreeMaxI,
		ClientSignature: clientSig,
	}
	cert := core.Certificate{
		ClientPublicKey: clientKeyDER,
		InitialBalance:  req.CertificateInitialBalance,
		IssuedAt:        unixTime(req.CertificateIssuedAtUnix),
		ExpiresAt:       unixTime(req.CertificateExpiresAtUnix),
		IssuerSignature: issuerSig,
	}

	id, err := core.OpenChannel(s.store, s.issuer, s.vendorID, openReq, cert, nowFunc())
	if err != nil {
		writeError(w, statusFor(err), nmerrors.Cause(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"channel_id": id.String()})
}

type paySignatureBody struct {
	CumulativeOwedAmount uint64 `json:"cumulative_owed_amount"`
	SignatureB64         string `json:"signature_b64"`
}

func (s *Server) handlePaySignature(w http.ResponseWriter, r *http.Request) {
	id, err := channelIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, body, err := authenticatedBody(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req paySignatureBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nmerrors.ErrMalformedRequest)
		return
	}
	sig, _ := base64.StdEncoding.DecodeString(req.SignatureB64)

	accepted, err := core.PaySignature(s.store, id, req.CumulativeOwedAmount, sig)
	if err != nil {
		s.reportRejection(id, err)
		writeError(w, statusFor(err), nmerrors.Cause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"accepted_owed_amount": accepted})
}

type payWordBody struct {
	K        uint32 `json:"k"`
	TokenHex string `json:"token_hex"`
}

func (s *Server) handlePayWord(w http.ResponseWriter, r *http.Request) {
	id, err := channelIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, body, err := authenticatedBody(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req payWordBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nmerrors.ErrMalformedRequest)
		return
	}
	token, _ := decodeHex32(req.TokenHex)

	accepted, err := core.PayPayWord(s.store, id, s.payWordCache(id), req.K, token)
	if err != nil {
		s.reportRejection(id, err)
		writeError(w, statusFor(err), nmerrors.Cause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"accepted_k": accepted})
}

type payTreeBody struct {
	I        uint32   `json:"i"`
	LeafHex  string   `json:"leaf_hex"`
	ProofHex []string `json:"proof_hex"`
}

func (s *Server) handlePayTree(w http.ResponseWriter, r *http.Request) {
	id, err := channelIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, body, err := authenticatedBody(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req payTreeBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nmerrors.ErrMalformedRequest)
		return
	}
	leaf, _ := decodeHex32(req.LeafHex)
	proof := make([][32]byte, 0, len(req.ProofHex))
	for _, h := range req.ProofHex {
		node, err := decodeHex32(h)
		if err != nil {
			writeError(w, http.StatusBadRequest, nmerrors.ErrMalformedRequest)
			return
		}
		proof = append(proof, node)
	}

	accepted, err := core.PayPayTree(s.store, id, req.I, leaf, proof)
	if err != nil {
		s.reportRejection(id, err)
		writeError(w, statusFor(err), nmerrors.Cause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"accepted_i": accepted})
}

type closeBody struct {
	FinalCumulativeOwedAmount uint64 `json:"final_cumulative_owed_amount"`
	ClosedAt                  int64  `json:"closed_at"`
	ClientSignatureB64        string `json:"client_signature_b64"`
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id, err := channelIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, body, err := authenticatedBody(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req closeBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nmerrors.ErrMalformedRequest)
		return
	}
	sig, _ := base64.StdEncoding.DecodeString(req.ClientSignatureB64)

	stmt, err := core.CloseChannel(s.store, id, req.FinalCumulativeOwedAmount, unixTime(req.ClosedAt), sig, nowFunc())
	if err != nil {
		writeError(w, statusFor(err), nmerrors.Cause(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"final_cumulative_owed_amount": stmt.FinalCumulativeOwedAmount,
		"close_timestamp":              stmt.ClosedAt.Unix(),
	})
}

func (s *Server) reportRejection(id channeldb.ChannelID, err error) {
	if s.auditor == nil {
		return
	}
	s.auditor.Report(id, nmerrors.Cause(err))
}

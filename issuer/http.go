package issuer

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nanomoni/nanomoni/nmerrors"
)

// Handler serves the Issuer's two HTTP endpoints (§6.2).
type Handler struct {
	svc *Service
	now func() time.Time
}

// NewHandler wires svc into a Handler using wall-clock time.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

// Router builds the mux.Router serving this Handler's routes.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/issuer/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/issuer/public_key", h.publicKey).Methods(http.MethodGet)
	return r
}

type registerRequest struct {
	ClientPublicKeyB64 string `json:"client_public_key_b64"`
	InitialBalance     uint64 `json:"initial_balance"`
}

type registerResponse struct {
	ClientPublicKeyB64 string `json:"client_public_key_b64"`
	InitialBalance     uint64 `json:"initial_balance"`
	IssuedAt           int64  `json:"issued_at"`
	ExpiresAt          int64  `json:"expires_at"`
	IssuerSignatureB64 string `json:"issuer_signature_b64"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nmerrors.ErrMalformedRequest)
		return
	}

	clientKey, err := base64.StdEncoding.DecodeString(req.ClientPublicKeyB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, nmerrors.ErrMalformedRequest)
		return
	}

	cert, err := h.svc.Register(r.Context(), clientKey, req.InitialBalance, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, nmerrors.Cause(err))
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		ClientPublicKeyB64: base64.StdEncoding.EncodeToString(cert.ClientPublicKey),
		InitialBalance:     cert.InitialBalance,
		IssuedAt:           cert.IssuedAt.Unix(),
		ExpiresAt:          cert.ExpiresAt.Unix(),
		IssuerSignatureB64: base64.StdEncoding.EncodeToString(cert.IssuerSignature),
	})
}

func (h *Handler) publicKey(w http.ResponseWriter, r *http.Request) {
	der := h.svc.PublicKey().DER()
	writeJSON(w, http.StatusOK, map[string]string{
		"public_key_b64": base64.StdEncoding.EncodeToString(der),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

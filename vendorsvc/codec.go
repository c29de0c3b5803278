package vendorsvc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nanomoni/nanomoni/nmerrors"
)

var nowFunc = time.Now

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return out, nmerrors.ErrMalformedRequest
	}
	copy(out[:], b)
	return out, nil
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps the core's error taxonomy onto HTTP status codes. The
// mapping lives here at the transport edge, so package core never imports
// net/http (§7, SPEC_FULL §4.5).
func statusFor(err error) int {
	switch nmerrors.Cause(err) {
	case nmerrors.ErrChannelNotFound:
		return http.StatusNotFound
	case nmerrors.ErrChannelAlreadyOpen,
		nmerrors.ErrChannelClosed,
		nmerrors.ErrNonMonotonicIndex,
		nmerrors.ErrExceedsChannelAmount,
		nmerrors.ErrExceedsIndexCap,
		nmerrors.ErrModeMismatch:
		return http.StatusConflict
	case nmerrors.ErrInvalidSignature,
		nmerrors.ErrInvalidToken,
		nmerrors.ErrInvalidProof,
		nmerrors.ErrInvalidCertificate,
		nmerrors.ErrInvalidCommitment,
		nmerrors.ErrMalformedRequest:
		return http.StatusBadRequest
	case nmerrors.ErrIssuerUnreachable, nmerrors.ErrStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

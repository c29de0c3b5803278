// Package nmerrors defines the closed taxonomy of errors produced by the
// NanoMoni core: validation errors (the caller's fault), state errors
// (races and ordering violations caught by the channel store), and the
// transient/fatal classes used at the edges of the system.
package nmerrors

import "github.com/go-errors/errors"

// Validation errors. These are never retried; the caller sent something
// that cannot become valid by trying again.
var (
	ErrMalformedRequest  = errors.New("malformed_request")
	ErrInvalidSignature  = errors.New("invalid_signature")
	ErrInvalidToken      = errors.New("invalid_token")
	ErrInvalidProof      = errors.New("invalid_proof")
	ErrInvalidCertificate = errors.New("invalid_certificate")
	ErrInvalidCommitment = errors.New("invalid_commitment")
	ErrModeMismatch      = errors.New("mode_mismatch")
)

// State errors surface a race or an ordering violation detected either by
// the channel store's atomic apply_payment primitive or by the lifecycle
// checks that guard it.
var (
	ErrNonMonotonicIndex   = errors.New("non_monotonic_index")
	ErrExceedsChannelAmount = errors.New("exceeds_channel_amount")
	ErrExceedsIndexCap     = errors.New("exceeds_index_cap")
	ErrChannelClosed       = errors.New("channel_closed")
	ErrChannelAlreadyOpen  = errors.New("channel_already_open")
	ErrChannelNotFound     = errors.New("channel_not_found")
)

// Transient errors may be retried once with backoff at the use-case layer.
var (
	ErrStoreUnavailable  = errors.New("store_unavailable")
	ErrIssuerUnreachable = errors.New("issuer_unreachable")
)

// Fatal errors halt startup; there is no sensible way to keep running.
var (
	ErrConfigMissing      = errors.New("config_missing")
	ErrPrivateKeyUnreadable = errors.New("private_key_unreadable")
)

// Wrap attaches a stack trace to err for logging, preserving err's identity
// for errors.Is/errors.As-style comparisons performed by callers that
// unwrap with Cause.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return errors.WrapPrefix(err, context, 1)
}

// Cause returns the innermost error wrapped by Wrap, or err itself if it
// was never wrapped. Use this to compare against the sentinels above.
//
// The identity check happens before any unwrapping: Wrap, when applied to
// an already-*errors.Error value (a sentinel), mutates that value's
// message in place and returns the same pointer, so a bare sentinel and a
// Wrap'd sentinel are the same object. Unwrapping blindly would walk past
// that object into its internal message error and lose the sentinel's
// identity, so every step checks equality before descending further.
func Cause(err error) error {
	for {
		wrapped, ok := err.(*errors.Error)
		if !ok || wrapped.Err == nil {
			return err
		}
		if _, innerIsError := wrapped.Err.(*errors.Error); !innerIsError {
			return err
		}
		err = wrapped.Err
	}
}

// Is reports whether err is the same sentinel as target, checking identity
// before any unwrapping (see Cause).
func Is(err, target error) bool {
	if err == target {
		return true
	}
	return Cause(err) == target
}

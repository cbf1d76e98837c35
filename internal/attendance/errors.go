package attendance

import (
	"errors"

	"qrattend/internal/registry"
	"qrattend/internal/token"
)

var (
	// ErrRevokedToken is returned for a valid token that is no longer the
	// current token of its slot.
	ErrRevokedToken = errors.New("token revoked")
	// ErrWrongPIN is returned when the teacher PIN does not match.
	ErrWrongPIN = errors.New("wrong pin")
	// ErrDuplicateSubmission is returned when the device already submitted for
	// the slot. It is permanent for that device and slot.
	ErrDuplicateSubmission = errors.New("attendance already recorded from this device for this slot")
)

// Outcome codes reported to callers and audit.
const (
	CodeAccepted       = "accepted"
	CodeMalformed      = "malformed_token"
	CodeTampered       = "tampered_token"
	CodeExpired        = "expired_token"
	CodeRevoked        = "revoked_token"
	CodeWrongPIN       = "wrong_pin"
	CodeDuplicate      = "duplicate_submission"
	CodeNoActiveSlot   = "no_active_slot"
	CodeInternalFailed = "internal_error"
)

// Code maps err to its stable outcome code. A nil error is CodeAccepted and
// anything outside the taxonomy is CodeInternalFailed.
func Code(err error) string {
	switch {
	case err == nil:
		return CodeAccepted
	case errors.Is(err, token.ErrMalformed):
		return CodeMalformed
	case errors.Is(err, token.ErrTampered):
		return CodeTampered
	case errors.Is(err, token.ErrExpired):
		return CodeExpired
	case errors.Is(err, ErrRevokedToken):
		return CodeRevoked
	case errors.Is(err, ErrWrongPIN):
		return CodeWrongPIN
	case errors.Is(err, ErrDuplicateSubmission):
		return CodeDuplicate
	case errors.Is(err, registry.ErrNoActiveSlot):
		return CodeNoActiveSlot
	default:
		return CodeInternalFailed
	}
}

// IsRejection reports whether err is an expected, user-facing outcome rather
// than a storage or programming failure.
func IsRejection(err error) bool {
	c := Code(err)
	return c != CodeAccepted && c != CodeInternalFailed
}

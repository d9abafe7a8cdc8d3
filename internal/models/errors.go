package models

import "errors"

// Validation and availability errors are synchronous and prevent the write.
// Credential errors are best-effort: they are logged and queued for retry
// but never roll back a committed booking.
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrSlotUnavailable  = errors.New("slot unavailable")
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")

	// ErrCredentialFailed is a transient provisioning failure; the booking
	// stays valid on its fallback access code.
	ErrCredentialFailed = errors.New("credential provisioning failed")

	// ErrLockPermission is a permanent vendor-configuration error
	// ("not lock admin"). It is alerted, not retried.
	ErrLockPermission = errors.New("lock permission denied")

	// ErrLockOffline is transient for retry purposes but also surfaced to
	// admin tooling as a hardware-health signal.
	ErrLockOffline = errors.New("lock offline")
)

// IsTransientCredentialError reports whether a credential error should be
// retried by the reconciler.
func IsTransientCredentialError(err error) bool {
	if errors.Is(err, ErrLockPermission) {
		return false
	}
	return errors.Is(err, ErrCredentialFailed) || errors.Is(err, ErrLockOffline)
}

package certificate

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
)

var (
	ErrMalformed                  = errors.New("certificate: malformed")
	ErrMissingSignature           = errors.New("certificate: missing signature")
	ErrMissingEncryptionKey       = errors.New("certificate: missing encryption key")
	ErrExpired                    = errors.New("certificate: expired")
	ErrUnexpectedIssuer           = errors.New("certificate: unexpected issuer")
	ErrInconsistentValidityPeriod = errors.New("certificate: validity period not contained in signer's")
	ErrInconsistentPermissions    = errors.New("certificate: permissions not covered by signer's")
)

// UnknownSignerError is returned when the issuer digest resolves to no
// trusted certificate.
type UnknownSignerError struct {
	ID backend.HashedId8
}

func (e *UnknownSignerError) Error() string {
	return fmt.Sprintf("certificate: unknown signer %s", e.ID)
}

// BackendError wraps a failure of the crypto backend during a check.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string { return "certificate: backend: " + e.Err.Error() }

func (e *BackendError) Unwrap() error { return e.Err }

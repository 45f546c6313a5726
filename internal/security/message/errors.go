package message

import (
	"errors"
	"fmt"
)

var (
	ErrFalseSignature          = errors.New("message: signature does not verify")
	ErrUnexpectedAid           = errors.New("message: unexpected application id")
	ErrPermissionNotGranted    = errors.New("message: signer does not grant the application id")
	ErrMissingGenerationTime   = errors.New("message: missing generation time")
	ErrGenerationTimeOutside   = errors.New("message: generation time outside signer validity")
	ErrAlgorithmMismatch       = errors.New("message: signature algorithm differs from requested")
	ErrMissingEncryptionKey    = errors.New("message: recipient has no encryption key")
	ErrRecipientNotFound       = errors.New("message: no matching recipient")
	ErrUnsupportedRecipient    = errors.New("message: unsupported recipient kind")
	ErrTagMismatch             = errors.New("message: encrypted key tag mismatch")
	ErrDecryptionFailed        = errors.New("message: decryption failed")
	ErrUnsupportedSymmetricKey = errors.New("message: unsupported symmetric key length")
)

// BackendError envuelve un fallo del backend criptográfico.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return fmt.Sprintf("message: backend %s: %v", e.Op, e.Err) }

func (e *BackendError) Unwrap() error { return e.Err }

func backendErr(op string, err error) error { return &BackendError{Op: op, Err: err} }

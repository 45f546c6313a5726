package authorization

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/v2xsec/internal/security/pki"
)

var (
	ErrMissingAuthority          = errors.New("authorization: missing AA, EA or EC certificate")
	ErrRecipientCount            = errors.New("authorization: response must have exactly one recipient")
	ErrUnexpectedSigner          = errors.New("authorization: response not signed by the authorization authority")
	ErrFalseOuterSignature       = errors.New("authorization: false outer signature")
	ErrRequestHashMismatch       = errors.New("authorization: response request hash mismatch")
	ErrMissingCertificate        = errors.New("authorization: ok response without certificate")
	ErrFalseCertificateSignature = errors.New("authorization: false certificate signature")
	ErrKeyMismatch               = errors.New("authorization: certificate key differs from requested key")
)

// RequestError is a failure while building a request.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("authorization request: %s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ResponseError wraps a lower-layer failure while parsing a response.
type ResponseError struct {
	Op  string
	Err error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("authorization response: %s: %v", e.Op, e.Err)
}

func (e *ResponseError) Unwrap() error { return e.Err }

// FailureError es una respuesta válida del AA con código distinto de ok.
type FailureError struct {
	Code pki.AuthorizationResponseCode
}

func (e *FailureError) Error() string { return "authorization: failure: " + e.Code.String() }

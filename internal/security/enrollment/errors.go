package enrollment

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/v2xsec/internal/security/pki"
)

var (
	ErrMissingEA                 = errors.New("enrollment: no enrollment authority certificate")
	ErrRecipientCount            = errors.New("enrollment: response must have exactly one recipient")
	ErrUnexpectedSigner          = errors.New("enrollment: response not signed by the enrollment authority")
	ErrFalseOuterSignature       = errors.New("enrollment: false outer signature")
	ErrRequestHashMismatch       = errors.New("enrollment: response request hash mismatch")
	ErrMissingCertificate        = errors.New("enrollment: ok response without certificate")
	ErrFalseCertificateSignature = errors.New("enrollment: false certificate signature")
	ErrKeyMismatch               = errors.New("enrollment: certificate key differs from requested key")
)

// RequestError is a failure while building a request.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string { return fmt.Sprintf("enrollment request: %s: %v", e.Op, e.Err) }

func (e *RequestError) Unwrap() error { return e.Err }

// ResponseError wraps a lower-layer failure while parsing a response.
type ResponseError struct {
	Op  string
	Err error
}

func (e *ResponseError) Error() string { return fmt.Sprintf("enrollment response: %s: %v", e.Op, e.Err) }

func (e *ResponseError) Unwrap() error { return e.Err }

// FailureError es una respuesta válida del EA con código distinto de ok.
type FailureError struct {
	Code pki.EnrolmentResponseCode
}

func (e *FailureError) Error() string { return "enrollment: failure: " + e.Code.String() }

// Package pki define los cuerpos de mensaje ETSI TS 102941 que viajan dentro
// de los sobres firmados/cifrados, y los marcadores de tipo que identifican
// cada mensaje de protocolo en envelope.SignedData[T].
package pki

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/certificate"
	"github.com/dropDatabas3/v2xsec/internal/security/codec"
	"github.com/dropDatabas3/v2xsec/internal/security/envelope"
)

// Version of EtsiTs102941Data.
const Version = 1

// CertificateFormatTs103097v131 es el único formato soportado.
const CertificateFormatTs103097v131 = 1

var ErrMalformed = errors.New("pki: malformed message")

// Phantom markers for envelope.SignedData[T].
type (
	// InnerEcRequestSignedForPop: InnerEcRequest firmado con la clave nueva.
	InnerEcRequestSignedForPop struct{}
	// EnrollmentRequest: sobre externo firmado con la clave canónica o la del EC.
	EnrollmentRequest  struct{}
	EnrollmentResponse struct{}
	// EcSignatureSigned: SharedAtRequest (por hash externo) firmado con el EC.
	EcSignatureSigned struct{}
	// AuthorizationRequestPop: InnerAtRequest firmado con la clave del AT.
	AuthorizationRequestPop struct{}
	AuthorizationResponse   struct{}
)

// ContentKind discrimina EtsiTs102941DataContent.
type ContentKind uint8

const (
	ContentEnrolmentRequest ContentKind = iota
	ContentEnrolmentResponse
	ContentAuthorizationRequest
	ContentAuthorizationResponse
)

func (k ContentKind) String() string {
	switch k {
	case ContentEnrolmentRequest:
		return "enrolmentRequest"
	case ContentEnrolmentResponse:
		return "enrolmentResponse"
	case ContentAuthorizationRequest:
		return "authorizationRequest"
	case ContentAuthorizationResponse:
		return "authorizationResponse"
	default:
		return fmt.Sprintf("content(%d)", uint8(k))
	}
}

// Data is EtsiTs102941Data. Body holds the encoded inner message selected
// by Kind.
type Data struct {
	_       struct{} `cbor:",toarray"`
	Version uint8
	Kind    ContentKind
	Body    []byte
}

// Wrap encodes body and wraps it in a versioned Data.
func Wrap(kind ContentKind, body any) ([]byte, error) {
	b, err := codec.Marshal(body)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(Data{Version: Version, Kind: kind, Body: b})
}

// Unwrap decodes raw as Data of the expected kind into out.
func Unwrap(raw []byte, kind ContentKind, out any) error {
	var d Data
	if err := codec.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if d.Version != Version {
		return fmt.Errorf("%w: version %d", ErrMalformed, d.Version)
	}
	if d.Kind != kind {
		return fmt.Errorf("%w: got %s, want %s", ErrMalformed, d.Kind, kind)
	}
	if err := codec.Unmarshal(d.Body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	return nil
}

// PublicKeys son las claves solicitadas para el certificado.
type PublicKeys struct {
	_               struct{} `cbor:",toarray"`
	VerificationKey backend.PublicVerificationKey
	EncryptionKey   *backend.PublicEncryptionKey
}

// SubjectAttributes are the attributes requested for the new certificate.
type SubjectAttributes struct {
	_              struct{} `cbor:",toarray"`
	ID             *certificate.CertificateID
	ValidityPeriod *certificate.ValidityPeriod
	AppPermissions []certificate.PsidSsp
}

// InnerEcRequest asks the EA for an enrollment credential.
type InnerEcRequest struct {
	_                          struct{} `cbor:",toarray"`
	ItsID                      []byte
	CertificateFormat          uint8
	PublicKeys                 PublicKeys
	RequestedSubjectAttributes SubjectAttributes
}

// InnerEcResponse carries the EA verdict. Certificate is set only when
// ResponseCode is EnrolmentOK.
type InnerEcResponse struct {
	_            struct{} `cbor:",toarray"`
	RequestHash  [16]byte
	ResponseCode EnrolmentResponseCode
	Certificate  []byte
}

// SharedAtRequest es la parte de la petición de AT que el AA reenvía al EA.
type SharedAtRequest struct {
	_                          struct{} `cbor:",toarray"`
	EaID                       backend.HashedId8
	KeyTag                     [16]byte
	CertificateFormat          uint8
	RequestedSubjectAttributes SubjectAttributes
}

// EcSignatureKind selects the EcSignature variant.
type EcSignatureKind uint8

const (
	// EcSignaturePlain: el sobre firmado viaja en claro.
	EcSignaturePlain EcSignatureKind = iota
	// EcSignatureEncrypted: cifrado hacia el EA (privacidad de la firma del EC).
	EcSignatureEncrypted
)

// EcSignature is the EC-signed SharedAtRequest, optionally encrypted toward
// the EA.
type EcSignature struct {
	_         struct{} `cbor:",toarray"`
	Kind      EcSignatureKind
	Plain     []byte
	Encrypted *envelope.EncryptedData
}

// InnerAtRequest asks the AA for an authorization ticket.
type InnerAtRequest struct {
	_               struct{} `cbor:",toarray"`
	PublicKeys      PublicKeys
	HmacKey         [32]byte
	SharedAtRequest SharedAtRequest
	EcSignature     EcSignature
}

// InnerAtResponse carries the AA verdict.
type InnerAtResponse struct {
	_            struct{} `cbor:",toarray"`
	RequestHash  [16]byte
	ResponseCode AuthorizationResponseCode
	Certificate  []byte
}

// SharedAtRequestDigest is the SHA-256 digest the EC signature covers as
// external data.
func SharedAtRequestDigest(b backend.Backend, s SharedAtRequest) ([]byte, error) {
	enc, err := codec.Marshal(s)
	if err != nil {
		return nil, err
	}
	return b.Hash(backend.SHA256, enc)
}

// Package envelope contiene el contenedor genérico firmado/cifrado
// (IEEE 1609.2 Ieee1609Dot2Data) y el wrapper tipado SignedData[T].
package envelope

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/codec"
)

// ProtocolVersion of Ieee1609Dot2Data.
const ProtocolVersion = 3

var (
	ErrMalformed             = errors.New("envelope: malformed")
	ErrNotSigned             = errors.New("envelope: content is not signed data")
	ErrNotEncrypted          = errors.New("envelope: content is not encrypted data")
	ErrNoData                = errors.New("envelope: payload has no data of the requested shape")
	ErrDataContent           = errors.New("envelope: inner data content is not unsecured")
	ErrHashAlgorithmMismatch = errors.New("envelope: hash id does not match signature algorithm")
	ErrUnsupportedCipher     = errors.New("envelope: unsupported symmetric cipher")
)

// ContentKind es el discriminante de Content.
type ContentKind uint8

const (
	ContentUnsecured ContentKind = iota
	ContentSigned
	ContentEncrypted
)

func (k ContentKind) String() string {
	switch k {
	case ContentUnsecured:
		return "unsecured"
	case ContentSigned:
		return "signed"
	case ContentEncrypted:
		return "encrypted"
	default:
		return fmt.Sprintf("content(%d)", uint8(k))
	}
}

// Data is the top-level secured message.
type Data struct {
	_               struct{} `cbor:",toarray"`
	ProtocolVersion uint8
	Content         Content
}

// Content holds exactly one of the three shapes selected by Kind.
type Content struct {
	_         struct{} `cbor:",toarray"`
	Kind      ContentKind
	Unsecured []byte
	Signed    *SignedDataWire
	Encrypted *EncryptedData
}

// Unsecured wraps raw bytes as an unsecured message.
func Unsecured(b []byte) Data {
	return Data{ProtocolVersion: ProtocolVersion, Content: Content{Kind: ContentUnsecured, Unsecured: b}}
}

// Encrypted wraps enc as a message.
func Encrypted(enc *EncryptedData) Data {
	return Data{ProtocolVersion: ProtocolVersion, Content: Content{Kind: ContentEncrypted, Encrypted: enc}}
}

// Decode parses and validates the shape of a message.
func Decode(raw []byte) (*Data, error) {
	var d Data
	if err := codec.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Encode serializes d.
func (d *Data) Encode() ([]byte, error) { return codec.Marshal(d) }

func (d *Data) validate() error {
	if d.ProtocolVersion != ProtocolVersion {
		return fmt.Errorf("%w: protocol version %d", ErrMalformed, d.ProtocolVersion)
	}
	c := d.Content
	switch c.Kind {
	case ContentUnsecured:
		if c.Signed != nil || c.Encrypted != nil {
			return fmt.Errorf("%w: extra content", ErrMalformed)
		}
	case ContentSigned:
		if c.Signed == nil || c.Encrypted != nil {
			return fmt.Errorf("%w: signed content", ErrMalformed)
		}
		if p := c.Signed.TBSData.Payload.Data; p != nil {
			return p.validate()
		}
	case ContentEncrypted:
		if c.Encrypted == nil || c.Signed != nil {
			return fmt.Errorf("%w: encrypted content", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: content kind %d", ErrMalformed, c.Kind)
	}
	return nil
}

// DecodeEncrypted parses raw and returns its encrypted content.
func DecodeEncrypted(raw []byte) (*EncryptedData, error) {
	d, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if d.Content.Kind != ContentEncrypted {
		return nil, ErrNotEncrypted
	}
	return d.Content.Encrypted, nil
}

// SignedDataWire is the wire signed-data structure.
type SignedDataWire struct {
	_         struct{} `cbor:",toarray"`
	HashID    backend.HashAlgorithm
	TBSData   ToBeSignedData
	Signer    SignerIdentifier
	Signature backend.Signature
}

type ToBeSignedData struct {
	_          struct{} `cbor:",toarray"`
	Payload    SignedDataPayload
	HeaderInfo HeaderInfo
}

// SignedDataPayload carries inline data, an external-data hash, or both.
type SignedDataPayload struct {
	_           struct{} `cbor:",toarray"`
	Data        *Data
	ExtDataHash *HashedData
}

// HashedData referencia datos transportados por fuera de la firma.
type HashedData struct {
	_         struct{} `cbor:",toarray"`
	Algorithm backend.HashAlgorithm
	Digest    []byte
}

type HeaderInfo struct {
	_              struct{} `cbor:",toarray"`
	Psid           backend.Aid
	GenerationTime *backend.Time64
	ExpiryTime     *backend.Time64
}

// SignerKind selects the SignerIdentifier variant.
type SignerKind uint8

const (
	SignerSelf SignerKind = iota
	SignerDigest
	SignerCertificate
)

// SignerIdentifier names who signed: nobody else (self), a certificate by
// digest, or an embedded certificate in its canonical encoding.
type SignerIdentifier struct {
	_           struct{} `cbor:",toarray"`
	Kind        SignerKind
	Digest      backend.HashedId8
	Certificate []byte
}

func SelfSigner() SignerIdentifier { return SignerIdentifier{Kind: SignerSelf} }

func DigestSigner(id backend.HashedId8) SignerIdentifier {
	return SignerIdentifier{Kind: SignerDigest, Digest: id}
}

func CertificateSigner(raw []byte) SignerIdentifier {
	return SignerIdentifier{Kind: SignerCertificate, Certificate: append([]byte(nil), raw...)}
}

// EncryptedData is a symmetric ciphertext plus the key-wrap entries of its
// recipients.
type EncryptedData struct {
	_          struct{} `cbor:",toarray"`
	Recipients []RecipientInfo
	Ciphertext SymmetricCiphertext
}

// RecipientKind selects the RecipientInfo variant.
type RecipientKind uint8

const (
	// RecipientPreShared: clave simétrica ya conocida por el receptor.
	RecipientPreShared RecipientKind = iota
	// RecipientCertificate: clave envuelta con ECIES hacia un certificado.
	RecipientCertificate
)

type RecipientInfo struct {
	_           struct{} `cbor:",toarray"`
	Kind        RecipientKind
	RecipientID backend.HashedId8
	EncKey      *EncryptedDataEncryptionKey
}

// PreSharedRecipient references a symmetric key by its HashedId8.
func PreSharedRecipient(id backend.HashedId8) RecipientInfo {
	return RecipientInfo{Kind: RecipientPreShared, RecipientID: id}
}

// CertificateRecipient wraps key material for the certificate id.
func CertificateRecipient(id backend.HashedId8, key EncryptedDataEncryptionKey) RecipientInfo {
	return RecipientInfo{Kind: RecipientCertificate, RecipientID: id, EncKey: &key}
}

// EncryptedDataEncryptionKey is an ECIES-wrapped symmetric key: ephemeral
// public key V, masked key C and authentication tag T.
type EncryptedDataEncryptionKey struct {
	_     struct{} `cbor:",toarray"`
	Curve backend.Curve
	V     backend.EccPoint
	C     []byte
	T     []byte
}

type SymmetricCiphertext struct {
	_          struct{} `cbor:",toarray"`
	Algorithm  backend.SymmAlgorithm
	Nonce      []byte
	Ciphertext []byte
}

// CCM returns nonce and ciphertext of an AES-128-CCM ciphertext.
func (c SymmetricCiphertext) CCM() (nonce, ct []byte, err error) {
	if c.Algorithm != backend.AES128CCM {
		return nil, nil, ErrUnsupportedCipher
	}
	return c.Nonce, c.Ciphertext, nil
}

// Recipient returns the entry whose id equals id, if any.
func (e *EncryptedData) Recipient(id backend.HashedId8) (RecipientInfo, bool) {
	for _, r := range e.Recipients {
		if r.RecipientID == id {
			return r, true
		}
	}
	return RecipientInfo{}, false
}

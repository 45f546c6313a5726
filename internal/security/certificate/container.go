package certificate

import (
	"fmt"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/codec"
)

// WithHash is a canonical certificate plus its cached wire bytes, hash and
// HashedId8. It is computed once and shared read-only afterwards; callers
// must not mutate the certificate returned by Certificate.
type WithHash struct {
	kind Kind
	cert *Certificate
	raw  []byte
	hash []byte
	id   backend.HashedId8
}

// NewWithHash canonicalizes cert and computes its identifiers. A cert that is
// already canonical is kept as is, so the caller hands over ownership.
func NewWithHash(kind Kind, cert *Certificate, b backend.Backend) (*WithHash, error) {
	if cert.Signature == nil {
		return nil, ErrMissingSignature
	}
	// ya canónico (lo habitual tras Decode de un emisor conforme): sin copia
	canon := cert
	if !isCanonical(cert) {
		canon = Canonicalize(cert)
	}
	raw, err := codec.Marshal(canon)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	digest, err := b.Hash(canon.HashAlgorithm(), raw)
	if err != nil {
		return nil, &BackendError{Err: err}
	}
	return &WithHash{
		kind: kind,
		cert: canon,
		raw:  raw,
		hash: digest,
		id:   backend.HashedId8From(digest),
	}, nil
}

// Parse decodes raw bytes into a certificate of the given variant.
func Parse(kind Kind, raw []byte, b backend.Backend) (*WithHash, error) {
	cert, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if err := checkVariant(kind, cert); err != nil {
		return nil, err
	}
	return NewWithHash(kind, cert, b)
}

// checkVariant enforces the shape every variant must have. Issuer claims are
// left to Check so that they surface as UnexpectedIssuer.
func checkVariant(kind Kind, c *Certificate) error {
	if c.Version != Version3 || c.Type != TypeExplicit {
		return fmt.Errorf("%w: version %d type %d", ErrMalformed, c.Version, c.Type)
	}
	if c.Signature == nil {
		return ErrMissingSignature
	}
	switch kind {
	case Root, EnrollmentAuthority, AuthorizationAuthority:
		if kind != Root && c.ToBeSigned.EncryptionKey == nil {
			return ErrMissingEncryptionKey
		}
	case EnrollmentCredential, AuthorizationTicket:
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrMalformed, kind)
	}
	return nil
}

func (w *WithHash) Kind() Kind { return w.kind }
func (w *WithHash) Certificate() *Certificate { return w.cert }
func (w *WithHash) Raw() []byte { return w.raw }
func (w *WithHash) Hash() []byte { return w.hash }
func (w *WithHash) HashedId8() backend.HashedId8 { return w.id }
func (w *WithHash) HashAlgorithm() backend.HashAlgorithm { return w.cert.HashAlgorithm() }

// VerifyKey is the certificate's verification key.
func (w *WithHash) VerifyKey() backend.PublicVerificationKey {
	return w.cert.ToBeSigned.VerifyKey
}

// EncryptionKey is the certificate's ECIES key, nil when absent.
func (w *WithHash) EncryptionKey() *backend.PublicEncryptionKey {
	return w.cert.ToBeSigned.EncryptionKey
}

// ValidityPeriod is the certificate's validity period.
func (w *WithHash) ValidityPeriod() ValidityPeriod {
	return w.cert.ToBeSigned.ValidityPeriod
}

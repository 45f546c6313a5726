// Package certificate implements the IEEE 1609.2 / ETSI TS 103097 explicit
// certificate model and the validation engine that checks one certificate
// against its claimed signer.
package certificate

import (
	"fmt"
	"time"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/codec"
)

// Kind is the role a certificate plays in the trust chain.
type Kind uint8

const (
	Root Kind = iota
	EnrollmentAuthority
	AuthorizationAuthority
	EnrollmentCredential
	AuthorizationTicket
)

func (k Kind) String() string {
	switch k {
	case Root:
		return "root"
	case EnrollmentAuthority:
		return "ea"
	case AuthorizationAuthority:
		return "aa"
	case EnrollmentCredential:
		return "ec"
	case AuthorizationTicket:
		return "at"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IssuerKind selects the IssuerIdentifier choice.
type IssuerKind uint8

const (
	IssuerSelf IssuerKind = iota
	IssuerSha256Digest
	IssuerSha384Digest
)

// Issuer identifies the signer: self-signed, or the HashedId8 of the signer.
type Issuer struct {
	_        struct{} `cbor:",toarray"`
	Kind     IssuerKind
	Digest   backend.HashedId8
	SelfHash backend.HashAlgorithm
}

// IsSelf reports a self-signed issuer claim.
func (i Issuer) IsSelf() bool { return i.Kind == IssuerSelf }

// IssuerDigest builds a digest issuer for the given signer.
func IssuerDigest(signer *WithHash) Issuer {
	kind := IssuerSha256Digest
	if signer.HashAlgorithm() == backend.SHA384 {
		kind = IssuerSha384Digest
	}
	return Issuer{Kind: kind, Digest: signer.HashedId8()}
}

// CertificateID is the optional certificate name. Empty means "none".
type CertificateID struct {
	_    struct{} `cbor:",toarray"`
	Name string
}

// DurationUnit is the unit of a validity Duration.
type DurationUnit uint8

const (
	Microseconds DurationUnit = iota
	Milliseconds
	Seconds
	Minutes
	Hours
	SixtyHours
	Years
)

// Duration is an IEEE 1609.2 duration: a 16 bit value in a unit.
type Duration struct {
	_     struct{} `cbor:",toarray"`
	Unit  DurationUnit
	Value uint16
}

// Seconds returns the duration rounded down to whole seconds.
func (d Duration) Seconds() uint64 {
	v := uint64(d.Value)
	switch d.Unit {
	case Microseconds:
		return v / 1_000_000
	case Milliseconds:
		return v / 1_000
	case Seconds:
		return v
	case Minutes:
		return v * 60
	case Hours:
		return v * 3600
	case SixtyHours:
		return v * 60 * 3600
	case Years:
		return v * 31556952
	default:
		return 0
	}
}

// ValidityPeriod is a start time plus a duration.
type ValidityPeriod struct {
	_        struct{} `cbor:",toarray"`
	Start    backend.Time32
	Duration Duration
}

// NewValidityPeriod picks the finest unit whose 16 bit value covers d,
// rounding up: the period never ends before start+d.
func NewValidityPeriod(start time.Time, d time.Duration) ValidityPeriod {
	var secs uint64
	if d > 0 {
		secs = uint64((d + time.Second - 1) / time.Second)
	}
	dur := Duration{Unit: Years, Value: 0xffff}
	for _, u := range [...]DurationUnit{Seconds, Minutes, Hours, SixtyHours, Years} {
		size := Duration{Unit: u, Value: 1}.Seconds()
		if n := (secs + size - 1) / size; n <= 0xffff {
			dur = Duration{Unit: u, Value: uint16(n)}
			break
		}
	}
	return ValidityPeriod{Start: backend.Time32From(start), Duration: dur}
}

// End is the first instant outside the period.
func (v ValidityPeriod) End() backend.Time32 {
	return backend.Time32(uint64(v.Start) + v.Duration.Seconds())
}

// Contains reports temporal custody: o lies entirely within v.
func (v ValidityPeriod) Contains(o ValidityPeriod) bool {
	return v.Start <= o.Start && o.End() <= v.End()
}

// ContainsTime reports whether t falls in [start, end).
func (v ValidityPeriod) ContainsTime(t backend.Time32) bool {
	return v.Start <= t && t < v.End()
}

// PsidSsp is an application permission: AID plus optional service specific
// permissions.
type PsidSsp struct {
	_    struct{} `cbor:",toarray"`
	Psid backend.Aid
	Ssp  []byte
}

// SubjectPermissions is either "all" or an explicit list of AIDs.
type SubjectPermissions struct {
	_        struct{} `cbor:",toarray"`
	All      bool
	Explicit []backend.Aid
}

// PsidGroupPermissions grants the right to issue certificates for a set of
// applications.
type PsidGroupPermissions struct {
	_                struct{} `cbor:",toarray"`
	Subject          SubjectPermissions
	MinChainLength   uint8
	ChainLengthRange int8
	EEType           uint8
}

// ToBeSigned is the signed body of a certificate.
type ToBeSigned struct {
	_                    struct{} `cbor:",toarray"`
	ID                   CertificateID
	CrlSeries            uint16
	ValidityPeriod       ValidityPeriod
	AppPermissions       []PsidSsp
	CertIssuePermissions []PsidGroupPermissions
	EncryptionKey        *backend.PublicEncryptionKey
	VerifyKey            backend.PublicVerificationKey
}

// Certificate is an explicit IEEE 1609.2 certificate.
type Certificate struct {
	_          struct{} `cbor:",toarray"`
	Version    uint8
	Type       uint8
	Issuer     Issuer
	ToBeSigned ToBeSigned
	Signature  *backend.Signature
}

const (
	Version3     = 3
	TypeExplicit = 0
)

// Decode parses raw wire bytes without any variant checks.
func Decode(raw []byte) (*Certificate, error) {
	var c Certificate
	if err := codec.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &c, nil
}

// Encode returns the wire bytes of c as is.
func (c *Certificate) Encode() ([]byte, error) {
	return codec.Marshal(c)
}

// ToBeSignedBytes returns the canonical encoding of the signed body.
func (c *Certificate) ToBeSignedBytes() ([]byte, error) {
	return codec.Marshal(canonicalTBS(c.ToBeSigned))
}

// SetSignature replaces the signature with its canonical form.
func (c *Certificate) SetSignature(sig backend.Signature) {
	s := sig.Canonical()
	c.Signature = &s
}

// HashAlgorithm is the algorithm named by the certificate's signature (or
// its own verification key when still unsigned).
func (c *Certificate) HashAlgorithm() backend.HashAlgorithm {
	if c.Signature != nil {
		return c.Signature.Hash()
	}
	return c.ToBeSigned.VerifyKey.Curve.Hash()
}

// IssuePermissions collapses CertIssuePermissions into one SubjectPermissions.
func (c *Certificate) IssuePermissions() SubjectPermissions {
	var out SubjectPermissions
	for _, g := range c.ToBeSigned.CertIssuePermissions {
		if g.Subject.All {
			return SubjectPermissions{All: true}
		}
		out.Explicit = append(out.Explicit, g.Subject.Explicit...)
	}
	return out
}

// Grants reports whether the certificate's app permissions cover aid.
func (c *Certificate) Grants(aid backend.Aid) bool {
	for _, p := range c.ToBeSigned.AppPermissions {
		if p.Psid == aid {
			return true
		}
	}
	return false
}

package backend

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnsupportedHash  = errors.New("backend: unsupported hash algorithm")
	ErrUnsupportedCurve = errors.New("backend: unsupported curve")
	ErrInvalidPoint     = errors.New("backend: invalid curve point")
	ErrKeyNotFound      = errors.New("backend: key not found")
	ErrForeignKey       = errors.New("backend: secret key not owned by this backend")
)

// HashAlgorithm identifica el hash usado por firmas, digests y KDF2.
type HashAlgorithm uint8

const (
	SHA256 HashAlgorithm = iota
	SHA384
	SM3
)

func (h HashAlgorithm) String() string {
	switch h {
	case SHA256:
		return "sha256"
	case SHA384:
		return "sha384"
	case SM3:
		return "sm3"
	default:
		return fmt.Sprintf("hash(%d)", uint8(h))
	}
}

// Size returns the digest length in bytes.
func (h HashAlgorithm) Size() int {
	if h == SHA384 {
		return 48
	}
	return 32
}

// HashedId8 is the low-order eight bytes of a hash, used as a compact
// certificate or key identifier.
type HashedId8 [8]byte

// HashedId8From takes the last eight bytes of digest.
func HashedId8From(digest []byte) HashedId8 {
	var id HashedId8
	if len(digest) >= 8 {
		copy(id[:], digest[len(digest)-8:])
	}
	return id
}

func (id HashedId8) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id is the all-zero identifier.
func (id HashedId8) IsZero() bool { return id == HashedId8{} }

// Aid (PSID) identifies an ITS application.
type Aid uint64

const (
	AidCAM                       Aid = 36
	AidDENM                      Aid = 37
	AidSecuredCertificateRequest Aid = 623
	AidCTL                       Aid = 624
	AidCRL                       Aid = 622
)

// Curve nombra la curva elíptica de una clave o firma.
type Curve uint8

const (
	NistP256 Curve = iota
	BrainpoolP256r1
	BrainpoolP384r1
	NistP384
	SM2
)

func (c Curve) String() string {
	switch c {
	case NistP256:
		return "nistP256"
	case BrainpoolP256r1:
		return "brainpoolP256r1"
	case BrainpoolP384r1:
		return "brainpoolP384r1"
	case NistP384:
		return "nistP384"
	case SM2:
		return "sm2"
	default:
		return fmt.Sprintf("curve(%d)", uint8(c))
	}
}

// ParseCurve acepta el nombre devuelto por String (sin distinguir mayúsculas).
func ParseCurve(name string) (Curve, error) {
	for _, c := range []Curve{NistP256, BrainpoolP256r1, BrainpoolP384r1, NistP384, SM2} {
		if strings.EqualFold(name, c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedCurve, name)
}

// Hash returns the hash algorithm bound to signatures on this curve.
func (c Curve) Hash() HashAlgorithm {
	switch c {
	case BrainpoolP384r1, NistP384:
		return SHA384
	case SM2:
		return SM3
	default:
		return SHA256
	}
}

// FieldSize is the coordinate length in bytes.
func (c Curve) FieldSize() int {
	switch c {
	case BrainpoolP384r1, NistP384:
		return 48
	default:
		return 32
	}
}

// PointKind is the encoding form of an EccPoint.
type PointKind uint8

const (
	PointXOnly PointKind = iota
	PointFill
	PointCompressedY0
	PointCompressedY1
	PointUncompressed
)

// EccPoint is a curve point in one of the IEEE 1609.2 encodings.
type EccPoint struct {
	_    struct{} `cbor:",toarray"`
	Kind PointKind
	X    []byte
	Y    []byte
}

// Compressed returns the compressed form of p. Points already compressed,
// x-only or fill are returned unchanged.
func (p EccPoint) Compressed() EccPoint {
	if p.Kind != PointUncompressed || len(p.Y) == 0 {
		return p
	}
	kind := PointCompressedY0
	if p.Y[len(p.Y)-1]&1 == 1 {
		kind = PointCompressedY1
	}
	return EccPoint{Kind: kind, X: clone(p.X)}
}

// XOnly drops any y information.
func (p EccPoint) XOnly() EccPoint {
	if p.Kind == PointXOnly || p.Kind == PointFill {
		return p
	}
	return EccPoint{Kind: PointXOnly, X: clone(p.X)}
}

// SEC1 returns the SEC1 encoding of a compressed or uncompressed point.
func (p EccPoint) SEC1() ([]byte, error) {
	switch p.Kind {
	case PointCompressedY0:
		return append([]byte{0x02}, p.X...), nil
	case PointCompressedY1:
		return append([]byte{0x03}, p.X...), nil
	case PointUncompressed:
		out := append([]byte{0x04}, p.X...)
		return append(out, p.Y...), nil
	default:
		return nil, ErrInvalidPoint
	}
}

// Equal compares two points after compression.
func (p EccPoint) Equal(o EccPoint) bool {
	a, b := p.Compressed(), o.Compressed()
	return a.Kind == b.Kind && string(a.X) == string(b.X)
}

// PublicVerificationKey is a signature verification key.
type PublicVerificationKey struct {
	_     struct{} `cbor:",toarray"`
	Curve Curve
	Point EccPoint
}

// Canonical returns the key with its point in compressed form.
func (k PublicVerificationKey) Canonical() PublicVerificationKey {
	return PublicVerificationKey{Curve: k.Curve, Point: k.Point.Compressed()}
}

func (k PublicVerificationKey) Equal(o PublicVerificationKey) bool {
	return k.Curve == o.Curve && k.Point.Equal(o.Point)
}

// SymmAlgorithm names the symmetric cipher of an encryption key.
type SymmAlgorithm uint8

const (
	AES128CCM SymmAlgorithm = iota
	SM4CCM
)

// PublicEncryptionKey is an ECIES recipient key.
type PublicEncryptionKey struct {
	_                struct{} `cbor:",toarray"`
	SupportedSymmAlg SymmAlgorithm
	Curve            Curve
	Point            EccPoint
}

func (k PublicEncryptionKey) Canonical() PublicEncryptionKey {
	return PublicEncryptionKey{SupportedSymmAlg: k.SupportedSymmAlg, Curve: k.Curve, Point: k.Point.Compressed()}
}

// Signature is an ECDSA (or SM2) signature in IEEE 1609.2 form.
type Signature struct {
	_     struct{} `cbor:",toarray"`
	Curve Curve
	R     EccPoint
	S     []byte
}

// Hash returns the hash algorithm embedded in the signature variant.
func (s Signature) Hash() HashAlgorithm { return s.Curve.Hash() }

// Canonical returns the signature with R reduced to x-only.
func (s Signature) Canonical() Signature {
	return Signature{Curve: s.Curve, R: s.R.XOnly(), S: clone(s.S)}
}

// PlaceholderSignature returns an all-zero signature used before signing.
func PlaceholderSignature(c Curve) Signature {
	n := c.FieldSize()
	return Signature{Curve: c, R: EccPoint{Kind: PointXOnly, X: make([]byte, n)}, S: make([]byte, n)}
}

// SecretKey is an opaque private key handle owned by a Backend.
type SecretKey interface {
	Curve() Curve
}

// KeyPair is an ephemeral backend key pair. It lives for one request /
// response round trip and is never reused.
type KeyPair struct {
	Secret SecretKey
	Public EccPoint
}

// Curve returns the curve of the key pair.
func (kp *KeyPair) Curve() Curve { return kp.Secret.Curve() }

// ITS epoch: 2004-01-01T00:00:00 TAI.
var itsEpoch = time.Date(2004, time.January, 1, 0, 0, 0, 0, time.UTC)

// leap seconds between the ITS epoch and now (TAI - UTC drift since 2004).
const leapSeconds = 5

// Time32 is seconds since the ITS epoch.
type Time32 uint32

// Time64 is microseconds since the ITS epoch.
type Time64 uint64

func Time32From(t time.Time) Time32 {
	d := t.UTC().Sub(itsEpoch)
	if d < 0 {
		return 0
	}
	return Time32(int64(d/time.Second) + leapSeconds)
}

func (t Time32) Time() time.Time {
	return itsEpoch.Add(time.Duration(int64(t)-leapSeconds) * time.Second)
}

func Time64From(t time.Time) Time64 {
	d := t.UTC().Sub(itsEpoch)
	if d < 0 {
		return 0
	}
	return Time64(int64(d/time.Microsecond) + leapSeconds*1_000_000)
}

func (t Time64) Time() time.Time {
	return itsEpoch.Add(time.Duration(int64(t)-leapSeconds*1_000_000) * time.Microsecond)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

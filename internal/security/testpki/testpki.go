// Package testpki simula una PKI ETSI (Root, EA y AA) para tests: emite
// certificados firmados de verdad y atiende peticiones de enrollment y
// authorization producidas por los drivers.
package testpki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/backend/software"
	"github.com/dropDatabas3/v2xsec/internal/security/certificate"
	"github.com/dropDatabas3/v2xsec/internal/security/message"
)

// Authority es una autoridad con su clave de firma y, salvo el Root, su
// clave de cifrado.
type Authority struct {
	Cert *certificate.WithHash
	sign *ecdsa.PrivateKey
	enc  *backend.KeyPair
}

// EncryptionSecret is the private half of the authority encryption key.
func (a *Authority) EncryptionSecret() backend.SecretKey {
	if a.enc == nil {
		return nil
	}
	return a.enc.Secret
}

// Sign produces a backend signature over data with the authority key.
func (a *Authority) Sign(b backend.Backend) message.SignFunc {
	return func(data []byte) (backend.Signature, error) {
		return signECDSA(b, a.sign, data)
	}
}

// PKI is the simulated Root/EA/AA hierarchy.
type PKI struct {
	B   backend.Backend
	Now time.Time

	Root *Authority
	EA   *Authority
	AA   *Authority

	stations map[string]backend.PublicVerificationKey
	issued   map[backend.HashedId8]*certificate.WithHash

	// Respuestas forzadas (cero = ok).
	EnrolmentCode     uint8
	AuthorizationCode uint8
	// MutateSignedResponse se aplica al sobre firmado antes de cifrarlo.
	MutateSignedResponse func(signed []byte)
}

// New creates a hierarchy valid around now.
func New(now time.Time) (*PKI, error) {
	b, err := software.New(software.Options{Curve: backend.NistP256})
	if err != nil {
		return nil, err
	}
	p := &PKI{
		B:        b,
		Now:      now,
		stations: make(map[string]backend.PublicVerificationKey),
		issued:   make(map[backend.HashedId8]*certificate.WithHash),
	}
	if p.Root, err = p.newAuthority(certificate.Root, nil, "root", 24*time.Hour, 5*365*24*time.Hour); err != nil {
		return nil, err
	}
	if p.EA, err = p.newAuthority(certificate.EnrollmentAuthority, p.Root, "ea", 12*time.Hour, 2*365*24*time.Hour); err != nil {
		return nil, err
	}
	if p.AA, err = p.newAuthority(certificate.AuthorizationAuthority, p.Root, "aa", 12*time.Hour, 2*365*24*time.Hour); err != nil {
		return nil, err
	}
	return p, nil
}

// ExpiredRoot builds a self-signed root whose validity ended before now.
func (p *PKI) ExpiredRoot() (*certificate.WithHash, error) {
	a, err := p.newAuthorityAt(certificate.Root, nil, "old-root", p.Now.Add(-48*time.Hour), time.Hour,
		certificate.SubjectPermissions{All: true})
	if err != nil {
		return nil, err
	}
	return a.Cert, nil
}

func (p *PKI) newAuthority(kind certificate.Kind, issuer *Authority, name string, back, life time.Duration) (*Authority, error) {
	return p.newAuthorityAt(kind, issuer, name, p.Now.Add(-back), life, certificate.SubjectPermissions{All: true})
}

// NewAuthority creates an extra EA/AA under issuer that may only issue perms.
func (p *PKI) NewAuthority(kind certificate.Kind, issuer *Authority, name string, perms certificate.SubjectPermissions) (*Authority, error) {
	return p.newAuthorityAt(kind, issuer, name, p.Now.Add(-6*time.Hour), 365*24*time.Hour, perms)
}

func (p *PKI) newAuthorityAt(kind certificate.Kind, issuer *Authority, name string, start time.Time, life time.Duration, perms certificate.SubjectPermissions) (*Authority, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	a := &Authority{sign: key}
	tbs := certificate.ToBeSigned{
		ID:             certificate.CertificateID{Name: name},
		ValidityPeriod: certificate.NewValidityPeriod(start, life),
		AppPermissions: []certificate.PsidSsp{{Psid: backend.AidSecuredCertificateRequest}},
		CertIssuePermissions: []certificate.PsidGroupPermissions{{
			Subject: perms, MinChainLength: 1,
		}},
		VerifyKey: publicKey(&key.PublicKey),
	}
	if kind != certificate.Root {
		kp, err := p.B.GenerateEphemeralKeyPair(backend.NistP256)
		if err != nil {
			return nil, err
		}
		a.enc = kp
		tbs.EncryptionKey = &backend.PublicEncryptionKey{
			SupportedSymmAlg: backend.AES128CCM, Curve: backend.NistP256, Point: kp.Public,
		}
	}
	signer := issuer
	if signer == nil {
		signer = a
	}
	if a.Cert, err = p.issue(kind, signer, issuer == nil, tbs); err != nil {
		return nil, fmt.Errorf("issue %s: %w", name, err)
	}
	return a, nil
}

// Issue signs tbs with issuer and returns the certificate.
func (p *PKI) Issue(kind certificate.Kind, issuer *Authority, tbs certificate.ToBeSigned) (*certificate.WithHash, error) {
	return p.issue(kind, issuer, false, tbs)
}

func (p *PKI) issue(kind certificate.Kind, issuer *Authority, self bool, tbs certificate.ToBeSigned) (*certificate.WithHash, error) {
	c := &certificate.Certificate{
		Version:    certificate.Version3,
		Type:       certificate.TypeExplicit,
		Issuer:     certificate.Issuer{Kind: certificate.IssuerSelf, SelfHash: backend.SHA256},
		ToBeSigned: tbs,
	}
	var signerData []byte
	if !self {
		c.Issuer = certificate.IssuerDigest(issuer.Cert)
		signerData = issuer.Cert.Raw()
	}
	if err := message.SignWith(c, backend.SHA256, signerData, p.B, issuer.Sign(p.B)); err != nil {
		return nil, err
	}
	return certificate.NewWithHash(kind, c, p.B)
}

// IssueEC emite un EC para key firmado por el EA.
func (p *PKI) IssueEC(key backend.PublicVerificationKey) (*certificate.WithHash, error) {
	return p.IssueECBy(p.EA, key)
}

// IssueECBy emite un EC firmado por issuer (tests de firmante equivocado).
func (p *PKI) IssueECBy(issuer *Authority, key backend.PublicVerificationKey) (*certificate.WithHash, error) {
	ec, err := p.Issue(certificate.EnrollmentCredential, issuer, certificate.ToBeSigned{
		ID:             certificate.CertificateID{Name: "ec"},
		ValidityPeriod: certificate.NewValidityPeriod(p.Now.Add(-time.Hour), 365*24*time.Hour),
		AppPermissions: []certificate.PsidSsp{{Psid: backend.AidSecuredCertificateRequest}},
		VerifyKey:      key,
	})
	if err != nil {
		return nil, err
	}
	p.issued[ec.HashedId8()] = ec
	return ec, nil
}

// IssueAT emite un AT para key firmado por el AA.
func (p *PKI) IssueAT(key backend.PublicVerificationKey) (*certificate.WithHash, error) {
	return p.IssueATBy(p.AA, key)
}

// IssueATBy emite un AT firmado por issuer.
func (p *PKI) IssueATBy(issuer *Authority, key backend.PublicVerificationKey) (*certificate.WithHash, error) {
	return p.Issue(certificate.AuthorizationTicket, issuer, certificate.ToBeSigned{
		ID:             certificate.CertificateID{},
		ValidityPeriod: certificate.NewValidityPeriod(p.Now.Add(-time.Minute), 7*24*time.Hour),
		AppPermissions: []certificate.PsidSsp{{Psid: backend.AidCAM}, {Psid: backend.AidDENM}},
		VerifyKey:      key,
	})
}

// RegisterStation hace que el EA acepte peticiones firmadas con canonical.
func (p *PKI) RegisterStation(itsID []byte, canonical backend.PublicVerificationKey) {
	p.stations[string(itsID)] = canonical
}

func publicKey(pub *ecdsa.PublicKey) backend.PublicVerificationKey {
	kind := backend.PointCompressedY0
	if pub.Y.Bit(0) == 1 {
		kind = backend.PointCompressedY1
	}
	return backend.PublicVerificationKey{
		Curve: backend.NistP256,
		Point: backend.EccPoint{Kind: kind, X: pub.X.FillBytes(make([]byte, 32))},
	}
}

func signECDSA(b backend.Backend, k *ecdsa.PrivateKey, data []byte) (backend.Signature, error) {
	digest, err := b.Hash(backend.SHA256, data)
	if err != nil {
		return backend.Signature{}, err
	}
	r, s, err := ecdsa.Sign(rand.Reader, k, digest)
	if err != nil {
		return backend.Signature{}, err
	}
	return backend.Signature{
		Curve: backend.NistP256,
		R:     backend.EccPoint{Kind: backend.PointXOnly, X: r.FillBytes(make([]byte, 32))},
		S:     s.FillBytes(make([]byte, 32)),
	}, nil
}

var errNoKey = errors.New("testpki: authority has no encryption key")

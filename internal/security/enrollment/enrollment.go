// Package enrollment construye y parsea el intercambio de emisión (y
// re-emisión) del Enrollment Credential con el EA.
//
// BuildRequest y ParseResponse son puras: el único estado entre ambas es el
// *RequestContext que guarda el llamador. Cada BuildRequest usa material
// efímero nuevo; un contexto nunca se reutiliza.
package enrollment

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/certificate"
	"github.com/dropDatabas3/v2xsec/internal/security/codec"
	"github.com/dropDatabas3/v2xsec/internal/security/envelope"
	"github.com/dropDatabas3/v2xsec/internal/security/message"
	"github.com/dropDatabas3/v2xsec/internal/security/pki"
)

// Params describe la petición.
type Params struct {
	// ItsID es el identificador canónico de la estación.
	ItsID []byte
	// Curve de la nueva clave de enrollment.
	Curve      backend.Curve
	Attributes pki.SubjectAttributes
	Now        time.Time
}

// RequestContext holds what ParseResponse needs from the matching
// BuildRequest. Drop it to abandon the exchange.
type RequestContext struct {
	ID           uuid.UUID
	ReEnrollment bool

	key         message.SymmetricKey
	requestHash [16]byte
	ea          *certificate.WithHash
	verifyKey   backend.PublicVerificationKey
}

// RequestHash returns the hash the EA must echo.
func (c *RequestContext) RequestHash() [16]byte { return c.requestHash }

// VerificationKey is the key requested for the new EC.
func (c *RequestContext) VerificationKey() backend.PublicVerificationKey { return c.verifyKey }

// BuildRequest builds an encrypted enrollment request for ea. With ec nil
// the outer envelope is self-signed with the canonical key; otherwise it is
// a re-enrollment signed by the current EC.
func BuildRequest(p Params, ea, ec *certificate.WithHash, b backend.Backend) ([]byte, *RequestContext, error) {
	if ea == nil {
		return nil, nil, ErrMissingEA
	}
	newKey, err := b.GenerateReEnrollmentKeyPair(p.Curve)
	if err != nil {
		return nil, nil, &RequestError{Op: "generate key", Err: err}
	}

	inner := pki.InnerEcRequest{
		ItsID:                      p.ItsID,
		CertificateFormat:          pki.CertificateFormatTs103097v131,
		PublicKeys:                 pki.PublicKeys{VerificationKey: newKey},
		RequestedSubjectAttributes: p.Attributes,
	}
	innerRaw, err := codec.Marshal(inner)
	if err != nil {
		return nil, nil, &RequestError{Op: "encode inner", Err: err}
	}

	// POP con la clave nueva
	pop := envelope.New[pki.InnerEcRequestSignedForPop](envelope.InlineData(innerRaw),
		backend.AidSecuredCertificateRequest, p.Now, newKey.Curve)
	if err := message.SignWith(pop, newKey.Curve.Hash(), nil, b, b.SignWithReEnrollmentKey); err != nil {
		return nil, nil, &RequestError{Op: "sign pop", Err: err}
	}
	popRaw, err := pop.AsBytes()
	if err != nil {
		return nil, nil, &RequestError{Op: "encode pop", Err: err}
	}

	body, err := pki.Wrap(pki.ContentEnrolmentRequest, popRaw)
	if err != nil {
		return nil, nil, &RequestError{Op: "encode body", Err: err}
	}
	outer, err := signOuter(body, p, ec, b)
	if err != nil {
		return nil, nil, err
	}
	outerRaw, err := outer.AsBytes()
	if err != nil {
		return nil, nil, &RequestError{Op: "encode outer", Err: err}
	}

	enc, key, err := message.Encrypt(outerRaw, ea, b)
	if err != nil {
		return nil, nil, &RequestError{Op: "encrypt", Err: err}
	}
	msg := envelope.Encrypted(enc)
	raw, err := msg.Encode()
	if err != nil {
		return nil, nil, &RequestError{Op: "encode request", Err: err}
	}
	reqHash, err := message.RequestHash(b, raw)
	if err != nil {
		return nil, nil, &RequestError{Op: "request hash", Err: err}
	}
	return raw, &RequestContext{
		ID:           uuid.New(),
		ReEnrollment: ec != nil,
		key:          key,
		requestHash:  reqHash,
		ea:           ea,
		verifyKey:    newKey,
	}, nil
}

func signOuter(body []byte, p Params, ec *certificate.WithHash, b backend.Backend) (*envelope.SignedData[pki.EnrollmentRequest], error) {
	if ec == nil {
		canon, err := b.CanonicalPubkey()
		if err != nil {
			return nil, &RequestError{Op: "canonical key", Err: err}
		}
		sd := envelope.New[pki.EnrollmentRequest](envelope.InlineData(body),
			backend.AidSecuredCertificateRequest, p.Now, canon.Curve)
		if err := message.SignWith(sd, canon.Curve.Hash(), nil, b, b.SignWithCanonicalKey); err != nil {
			return nil, &RequestError{Op: "sign outer", Err: err}
		}
		return sd, nil
	}
	curve := ec.VerifyKey().Curve
	sd := envelope.New[pki.EnrollmentRequest](envelope.InlineData(body),
		backend.AidSecuredCertificateRequest, p.Now, curve)
	sd.SetSigner(envelope.DigestSigner(ec.HashedId8()))
	if err := message.SignWith(sd, curve.Hash(), ec.Raw(), b, b.SignWithEnrollmentKey); err != nil {
		return nil, &RequestError{Op: "sign outer", Err: err}
	}
	return sd, nil
}

// ParseResponse decrypts and validates the EA response and returns the new
// EC. A non-ok response code is a *FailureError.
func ParseResponse(raw []byte, ctx *RequestContext, b backend.Backend, now time.Time) (*certificate.WithHash, error) {
	enc, err := envelope.DecodeEncrypted(raw)
	if err != nil {
		return nil, &ResponseError{Op: "decode", Err: err}
	}
	if len(enc.Recipients) != 1 {
		return nil, ErrRecipientCount
	}
	plain, err := message.Decrypt(enc, ctx.key, b)
	if err != nil {
		return nil, &ResponseError{Op: "decrypt", Err: err}
	}
	sd, err := envelope.FromBytes[pki.EnrollmentResponse](plain)
	if err != nil {
		return nil, &ResponseError{Op: "decode outer", Err: err}
	}
	if s := sd.Signer(); s.Kind != envelope.SignerDigest || s.Digest != ctx.ea.HashedId8() {
		return nil, ErrUnexpectedSigner
	}
	if err := message.VerifySignedData(sd, ctx.ea, backend.AidSecuredCertificateRequest, b); err != nil {
		if errors.Is(err, message.ErrFalseSignature) {
			return nil, ErrFalseOuterSignature
		}
		return nil, &ResponseError{Op: "verify outer", Err: err}
	}

	data, err := sd.Data()
	if err != nil {
		return nil, &ResponseError{Op: "payload", Err: err}
	}
	var resp pki.InnerEcResponse
	if err := pki.Unwrap(data, pki.ContentEnrolmentResponse, &resp); err != nil {
		return nil, &ResponseError{Op: "decode body", Err: err}
	}
	if resp.RequestHash != ctx.requestHash {
		return nil, ErrRequestHashMismatch
	}
	if resp.ResponseCode != pki.EnrolmentOK {
		return nil, &FailureError{Code: resp.ResponseCode}
	}
	if len(resp.Certificate) == 0 {
		return nil, ErrMissingCertificate
	}

	ec, err := certificate.Parse(certificate.EnrollmentCredential, resp.Certificate, b)
	if err != nil {
		return nil, &ResponseError{Op: "parse certificate", Err: err}
	}
	ok, err := ec.Check(now, b, func(id backend.HashedId8) *certificate.WithHash {
		if id == ctx.ea.HashedId8() {
			return ctx.ea
		}
		return nil
	})
	if err != nil {
		return nil, &ResponseError{Op: "check certificate", Err: err}
	}
	if !ok {
		return nil, ErrFalseCertificateSignature
	}
	if !ec.VerifyKey().Equal(ctx.verifyKey) {
		return nil, ErrKeyMismatch
	}
	return ec, nil
}

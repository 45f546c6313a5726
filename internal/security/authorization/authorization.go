// Package authorization builds and parses the authorization ticket (AT)
// issuance exchange with the AA.
package authorization

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/certificate"
	"github.com/dropDatabas3/v2xsec/internal/security/envelope"
	"github.com/dropDatabas3/v2xsec/internal/security/message"
	"github.com/dropDatabas3/v2xsec/internal/security/pki"
)

// Params describe la petición de un AT.
type Params struct {
	// Index es el slot del AT en el backend.
	Index      uint64
	Curve      backend.Curve
	Attributes pki.SubjectAttributes
	Now        time.Time
	// ECSignaturePrivacy cifra la firma del EC hacia el EA.
	ECSignaturePrivacy bool
	// ProofOfPossession firma la petición con la clave nueva del AT.
	ProofOfPossession bool
}

// RequestContext holds what ParseResponse needs from the matching
// BuildRequest.
type RequestContext struct {
	ID    uuid.UUID
	Index uint64

	key         message.SymmetricKey
	requestHash [16]byte
	aa          *certificate.WithHash
	verifyKey   backend.PublicVerificationKey
}

func (c *RequestContext) RequestHash() [16]byte { return c.requestHash }

func (c *RequestContext) VerificationKey() backend.PublicVerificationKey { return c.verifyKey }

// BuildRequest builds an encrypted authorization request for aa, backed by
// the station's EC issued by ea.
func BuildRequest(p Params, aa, ea, ec *certificate.WithHash, b backend.Backend) ([]byte, *RequestContext, error) {
	if aa == nil || ea == nil || ec == nil {
		return nil, nil, ErrMissingAuthority
	}
	// la clave queda pendiente: el AT vigente del slot sigue usable hasta CommitATKey
	atKey, err := b.GeneratePendingATKeyPair(p.Index, p.Curve)
	if err != nil {
		return nil, nil, &RequestError{Op: "generate key", Err: err}
	}
	hmacKey, tag, err := message.GenerateHMACAndTag(b, atKey, nil)
	if err != nil {
		return nil, nil, &RequestError{Op: "key tag", Err: err}
	}

	shared := pki.SharedAtRequest{
		EaID:                       ea.HashedId8(),
		KeyTag:                     tag,
		CertificateFormat:          pki.CertificateFormatTs103097v131,
		RequestedSubjectAttributes: p.Attributes,
	}
	ecSig, err := ecSignature(shared, p, ea, ec, b)
	if err != nil {
		return nil, nil, err
	}

	inner := pki.InnerAtRequest{
		PublicKeys:      pki.PublicKeys{VerificationKey: atKey},
		HmacKey:         hmacKey,
		SharedAtRequest: shared,
		EcSignature:     *ecSig,
	}
	body, err := pki.Wrap(pki.ContentAuthorizationRequest, inner)
	if err != nil {
		return nil, nil, &RequestError{Op: "encode body", Err: err}
	}

	var plain []byte
	if p.ProofOfPossession {
		pop := envelope.New[pki.AuthorizationRequestPop](envelope.InlineData(body),
			backend.AidSecuredCertificateRequest, p.Now, atKey.Curve)
		sign := func(data []byte) (backend.Signature, error) { return b.SignWithPendingATKey(p.Index, data) }
		if err := message.SignWith(pop, atKey.Curve.Hash(), nil, b, sign); err != nil {
			return nil, nil, &RequestError{Op: "sign pop", Err: err}
		}
		plain, err = pop.AsBytes()
	} else {
		d := envelope.Unsecured(body)
		plain, err = d.Encode()
	}
	if err != nil {
		return nil, nil, &RequestError{Op: "encode payload", Err: err}
	}

	enc, key, err := message.Encrypt(plain, aa, b)
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
		ID:          uuid.New(),
		Index:       p.Index,
		key:         key,
		requestHash: reqHash,
		aa:          aa,
		verifyKey:   atKey,
	}, nil
}

// ecSignature firma el SharedAtRequest (como hash externo) con la clave del
// EC y, con privacidad, lo cifra hacia el EA.
func ecSignature(shared pki.SharedAtRequest, p Params, ea, ec *certificate.WithHash, b backend.Backend) (*pki.EcSignature, error) {
	digest, err := pki.SharedAtRequestDigest(b, shared)
	if err != nil {
		return nil, &RequestError{Op: "shared request digest", Err: err}
	}
	curve := ec.VerifyKey().Curve
	sd := envelope.New[pki.EcSignatureSigned](envelope.ExternalHash(backend.SHA256, digest),
		backend.AidSecuredCertificateRequest, p.Now, curve)
	sd.SetSigner(envelope.DigestSigner(ec.HashedId8()))
	if err := message.SignWith(sd, curve.Hash(), ec.Raw(), b, b.SignWithEnrollmentKey); err != nil {
		return nil, &RequestError{Op: "sign ec signature", Err: err}
	}
	raw, err := sd.AsBytes()
	if err != nil {
		return nil, &RequestError{Op: "encode ec signature", Err: err}
	}
	if !p.ECSignaturePrivacy {
		return &pki.EcSignature{Kind: pki.EcSignaturePlain, Plain: raw}, nil
	}
	// la clave simétrica de este cifrado no se vuelve a usar
	enc, _, err := message.Encrypt(raw, ea, b)
	if err != nil {
		return nil, &RequestError{Op: "encrypt ec signature", Err: err}
	}
	return &pki.EcSignature{Kind: pki.EcSignatureEncrypted, Encrypted: enc}, nil
}

// ParseResponse decrypts and validates the AA response and returns the new
// AT. A non-ok response code is a *FailureError.
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
	return parseSigned(plain, ctx, b, now)
}

func parseSigned(plain []byte, ctx *RequestContext, b backend.Backend, now time.Time) (*certificate.WithHash, error) {
	sd, err := envelope.FromBytes[pki.AuthorizationResponse](plain)
	if err != nil {
		return nil, &ResponseError{Op: "decode outer", Err: err}
	}
	if s := sd.Signer(); s.Kind != envelope.SignerDigest || s.Digest != ctx.aa.HashedId8() {
		return nil, ErrUnexpectedSigner
	}
	if err := message.VerifySignedData(sd, ctx.aa, backend.AidSecuredCertificateRequest, b); err != nil {
		if errors.Is(err, message.ErrFalseSignature) {
			return nil, ErrFalseOuterSignature
		}
		return nil, &ResponseError{Op: "verify outer", Err: err}
	}

	data, err := sd.Data()
	if err != nil {
		return nil, &ResponseError{Op: "payload", Err: err}
	}
	var resp pki.InnerAtResponse
	if err := pki.Unwrap(data, pki.ContentAuthorizationResponse, &resp); err != nil {
		return nil, &ResponseError{Op: "decode body", Err: err}
	}
	if resp.RequestHash != ctx.requestHash {
		return nil, ErrRequestHashMismatch
	}
	if resp.ResponseCode != pki.AuthorizationOK {
		return nil, &FailureError{Code: resp.ResponseCode}
	}
	if len(resp.Certificate) == 0 {
		return nil, ErrMissingCertificate
	}

	at, err := certificate.Parse(certificate.AuthorizationTicket, resp.Certificate, b)
	if err != nil {
		return nil, &ResponseError{Op: "parse certificate", Err: err}
	}
	ok, err := at.Check(now, b, func(id backend.HashedId8) *certificate.WithHash {
		if id == ctx.aa.HashedId8() {
			return ctx.aa
		}
		return nil
	})
	if err != nil {
		return nil, &ResponseError{Op: "check certificate", Err: err}
	}
	if !ok {
		return nil, ErrFalseCertificateSignature
	}
	if !at.VerifyKey().Equal(ctx.verifyKey) {
		return nil, ErrKeyMismatch
	}
	return at, nil
}

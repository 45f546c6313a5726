package testpki

import (
	"bytes"
	"fmt"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/certificate"
	"github.com/dropDatabas3/v2xsec/internal/security/codec"
	"github.com/dropDatabas3/v2xsec/internal/security/envelope"
	"github.com/dropDatabas3/v2xsec/internal/security/message"
	"github.com/dropDatabas3/v2xsec/internal/security/pki"
)

// HandleEnrollment answers an encrypted enrollment request as the EA.
// Errors are returned only when no encrypted answer can be produced.
func (p *PKI) HandleEnrollment(raw []byte) ([]byte, error) {
	plain, key, reqHash, err := p.open(p.EA, raw)
	if err != nil {
		return nil, err
	}
	code, cert := p.enrol(plain)
	if p.EnrolmentCode != 0 {
		code, cert = pki.EnrolmentResponseCode(p.EnrolmentCode), nil
	}
	resp := pki.InnerEcResponse{RequestHash: reqHash, ResponseCode: code}
	if cert != nil {
		resp.Certificate = cert.Raw()
	}
	body, err := pki.Wrap(pki.ContentEnrolmentResponse, resp)
	if err != nil {
		return nil, err
	}
	sd := envelope.New[pki.EnrollmentResponse](envelope.InlineData(body),
		backend.AidSecuredCertificateRequest, p.Now, backend.NistP256)
	return p.seal(p.EA, sd, key)
}

func (p *PKI) enrol(plain []byte) (pki.EnrolmentResponseCode, *certificate.WithHash) {
	outer, err := envelope.FromBytes[pki.EnrollmentRequest](plain)
	if err != nil {
		return pki.EnrolmentCantParse, nil
	}
	data, err := outer.Data()
	if err != nil {
		return pki.EnrolmentBadContentType, nil
	}
	var popRaw []byte
	if err := pki.Unwrap(data, pki.ContentEnrolmentRequest, &popRaw); err != nil {
		return pki.EnrolmentCantParse, nil
	}
	pop, err := envelope.FromBytes[pki.InnerEcRequestSignedForPop](popRaw)
	if err != nil {
		return pki.EnrolmentCantParse, nil
	}
	innerRaw, err := pop.Data()
	if err != nil {
		return pki.EnrolmentBadContentType, nil
	}
	var inner pki.InnerEcRequest
	if err := codec.Unmarshal(innerRaw, &inner); err != nil {
		return pki.EnrolmentCantParse, nil
	}
	newKey := inner.PublicKeys.VerificationKey
	if ok, err := message.VerifySelfSigned(pop, newKey, p.B); err != nil || !ok {
		return pki.EnrolmentInvalidSignature, nil
	}

	switch s := outer.Signer(); s.Kind {
	case envelope.SignerSelf:
		canonical, known := p.stations[string(inner.ItsID)]
		if !known {
			return pki.EnrolmentUnknownITS, nil
		}
		if ok, err := message.VerifySelfSigned(outer, canonical, p.B); err != nil || !ok {
			return pki.EnrolmentInvalidSignature, nil
		}
	case envelope.SignerDigest:
		ec, known := p.issued[s.Digest]
		if !known {
			return pki.EnrolmentUnknownITS, nil
		}
		if err := message.VerifySignedData(outer, ec, backend.AidSecuredCertificateRequest, p.B); err != nil {
			return pki.EnrolmentInvalidSignature, nil
		}
	default:
		return pki.EnrolmentBadContentType, nil
	}

	ec, err := p.IssueEC(newKey)
	if err != nil {
		return pki.EnrolmentDeniedRequest, nil
	}
	return pki.EnrolmentOK, ec
}

// HandleAuthorization answers an encrypted authorization request as the AA.
func (p *PKI) HandleAuthorization(raw []byte) ([]byte, error) {
	plain, key, reqHash, err := p.open(p.AA, raw)
	if err != nil {
		return nil, err
	}
	code, cert := p.authorize(plain)
	if p.AuthorizationCode != 0 {
		code, cert = pki.AuthorizationResponseCode(p.AuthorizationCode), nil
	}
	resp := pki.InnerAtResponse{RequestHash: reqHash, ResponseCode: code}
	if cert != nil {
		resp.Certificate = cert.Raw()
	}
	body, err := pki.Wrap(pki.ContentAuthorizationResponse, resp)
	if err != nil {
		return nil, err
	}
	sd := envelope.New[pki.AuthorizationResponse](envelope.InlineData(body),
		backend.AidSecuredCertificateRequest, p.Now, backend.NistP256)
	return p.seal(p.AA, sd, key)
}

func (p *PKI) authorize(plain []byte) (pki.AuthorizationResponseCode, *certificate.WithHash) {
	d, err := envelope.Decode(plain)
	if err != nil {
		return pki.AuthorizationItsAaCantParse, nil
	}
	var (
		body []byte
		pop  *envelope.SignedData[pki.AuthorizationRequestPop]
	)
	switch d.Content.Kind {
	case envelope.ContentUnsecured:
		body = d.Content.Unsecured
	case envelope.ContentSigned:
		if pop, err = envelope.FromData[pki.AuthorizationRequestPop](d); err != nil {
			return pki.AuthorizationItsAaCantParse, nil
		}
		if body, err = pop.Data(); err != nil {
			return pki.AuthorizationItsAaBadContentType, nil
		}
	default:
		return pki.AuthorizationItsAaBadContentType, nil
	}

	var inner pki.InnerAtRequest
	if err := pki.Unwrap(body, pki.ContentAuthorizationRequest, &inner); err != nil {
		return pki.AuthorizationItsAaCantParse, nil
	}
	atKey := inner.PublicKeys.VerificationKey
	if pop != nil {
		if ok, err := message.VerifySelfSigned(pop, atKey, p.B); err != nil || !ok {
			return pki.AuthorizationInvalidSignature, nil
		}
	}
	tag, err := message.TagWithKey(p.B, inner.HmacKey, atKey, inner.PublicKeys.EncryptionKey)
	if err != nil || tag != inner.SharedAtRequest.KeyTag {
		return pki.AuthorizationItsAaKeysDontMatch, nil
	}
	if inner.SharedAtRequest.EaID != p.EA.Cert.HashedId8() {
		return pki.AuthorizationItsAaUnknownEA, nil
	}
	if code := p.checkECSignature(inner); code != pki.AuthorizationOK {
		return code, nil
	}

	at, err := p.IssueAT(atKey)
	if err != nil {
		return pki.AuthorizationDeniedPermissions, nil
	}
	return pki.AuthorizationOK, at
}

// checkECSignature hace la validación que el EA haría a pedido del AA.
func (p *PKI) checkECSignature(inner pki.InnerAtRequest) pki.AuthorizationResponseCode {
	raw := inner.EcSignature.Plain
	if inner.EcSignature.Kind == pki.EcSignatureEncrypted {
		if inner.EcSignature.Encrypted == nil {
			return pki.AuthorizationEaAaCantParse
		}
		pt, _, err := message.DecryptWithPrivateKey(inner.EcSignature.Encrypted, p.EA.Cert, p.EA.enc.Secret, p.B)
		if err != nil {
			return pki.AuthorizationEaAaDecryptionFailed
		}
		raw = pt
	}
	sd, err := envelope.FromBytes[pki.EcSignatureSigned](raw)
	if err != nil {
		return pki.AuthorizationEaAaCantParse
	}
	ext, err := sd.ExtDataHash()
	if err != nil {
		return pki.AuthorizationEaAaBadContentType
	}
	digest, err := pki.SharedAtRequestDigest(p.B, inner.SharedAtRequest)
	if err != nil || !bytes.Equal(digest, ext.Digest) {
		return pki.AuthorizationInvalidSignature
	}
	s := sd.Signer()
	ec, known := p.issued[s.Digest]
	if s.Kind != envelope.SignerDigest || !known {
		return pki.AuthorizationUnknownITS
	}
	if err := message.VerifySignedData(sd, ec, backend.AidSecuredCertificateRequest, p.B); err != nil {
		return pki.AuthorizationInvalidSignature
	}
	return pki.AuthorizationOK
}

func (p *PKI) open(a *Authority, raw []byte) ([]byte, message.SymmetricKey, [16]byte, error) {
	var reqHash [16]byte
	if a.enc == nil {
		return nil, message.SymmetricKey{}, reqHash, errNoKey
	}
	enc, err := envelope.DecodeEncrypted(raw)
	if err != nil {
		return nil, message.SymmetricKey{}, reqHash, fmt.Errorf("testpki: %w", err)
	}
	plain, key, err := message.DecryptWithPrivateKey(enc, a.Cert, a.enc.Secret, p.B)
	if err != nil {
		return nil, key, reqHash, fmt.Errorf("testpki: %w", err)
	}
	if reqHash, err = message.RequestHash(p.B, raw); err != nil {
		return nil, key, reqHash, err
	}
	return plain, key, reqHash, nil
}

func (p *PKI) seal(a *Authority, sd signedResponse, key message.SymmetricKey) ([]byte, error) {
	sd.SetSigner(envelope.DigestSigner(a.Cert.HashedId8()))
	if err := message.SignWith(sd, backend.SHA256, a.Cert.Raw(), p.B, a.Sign(p.B)); err != nil {
		return nil, err
	}
	signed, err := sd.AsBytes()
	if err != nil {
		return nil, err
	}
	if p.MutateSignedResponse != nil {
		p.MutateSignedResponse(signed)
	}
	enc, err := message.EncryptWithKey(signed, key, p.B)
	if err != nil {
		return nil, err
	}
	d := envelope.Encrypted(enc)
	return d.Encode()
}

type signedResponse interface {
	message.Signable
	SetSigner(envelope.SignerIdentifier)
	AsBytes() ([]byte, error)
}

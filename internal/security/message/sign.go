// Package message implementa las operaciones criptográficas sobre mensajes y
// certificados: firma/verificación, ECIES + AES-128-CCM, KDF2 y el tag HMAC
// que ata una petición a su clave.
package message

import (
	"fmt"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/certificate"
	"github.com/dropDatabas3/v2xsec/internal/security/envelope"
)

// Signable is anything with a to-be-signed encoding and a signature slot:
// certificates and signed envelopes.
type Signable interface {
	ToBeSignedBytes() ([]byte, error)
	SetSignature(sig backend.Signature)
}

// SignFunc produces a signature over data with a backend key slot, e.g.
// Backend.SignWithEnrollmentKey.
type SignFunc func(data []byte) (backend.Signature, error)

// SignWith signs msg. signerData is empty for self-signed messages and the
// signer certificate's canonical bytes otherwise; the signature covers
// H(tbs) || H(signerData).
func SignWith(msg Signable, alg backend.HashAlgorithm, signerData []byte, b backend.Backend, sign SignFunc) error {
	tbs, err := msg.ToBeSignedBytes()
	if err != nil {
		return fmt.Errorf("message: encode tbs: %w", err)
	}
	input, err := certificate.SigningInput(b, alg, tbs, signerData)
	if err != nil {
		return backendErr("hash", err)
	}
	sig, err := sign(input)
	if err != nil {
		return backendErr("sign", err)
	}
	if sig.Hash() != alg {
		return fmt.Errorf("%w: %s vs %s", ErrAlgorithmMismatch, sig.Hash(), alg)
	}
	msg.SetSignature(sig)
	return nil
}

// VerifySignedData checks sd against the signer certificate: the header AID
// must be expected and granted by the signer, the generation time must lie
// inside the signer's validity and the signature must verify. Every failure
// is a distinct error.
func VerifySignedData[T any](sd *envelope.SignedData[T], signer *certificate.WithHash, expected backend.Aid, b backend.Backend) error {
	hdr := sd.HeaderInfo()
	if hdr.Psid != expected {
		return fmt.Errorf("%w: got %d, want %d", ErrUnexpectedAid, hdr.Psid, expected)
	}
	if !signer.Certificate().Grants(expected) {
		return fmt.Errorf("%w: %d", ErrPermissionNotGranted, expected)
	}
	if hdr.GenerationTime == nil {
		return ErrMissingGenerationTime
	}
	gen := backend.Time32From(hdr.GenerationTime.Time())
	if !signer.ValidityPeriod().ContainsTime(gen) {
		return ErrGenerationTimeOutside
	}
	ok, err := verify(sd, signer.VerifyKey(), signer.Raw(), b)
	if err != nil {
		return err
	}
	if !ok {
		return ErrFalseSignature
	}
	return nil
}

// VerifySelfSigned verifies a self-signed envelope (proof of possession)
// against key.
func VerifySelfSigned[T any](sd *envelope.SignedData[T], key backend.PublicVerificationKey, b backend.Backend) (bool, error) {
	return verify(sd, key, nil, b)
}

func verify[T any](sd *envelope.SignedData[T], key backend.PublicVerificationKey, signerData []byte, b backend.Backend) (bool, error) {
	sig, err := sd.Signature()
	if err != nil {
		return false, err
	}
	tbs, err := sd.ToBeSignedBytes()
	if err != nil {
		return false, fmt.Errorf("message: encode tbs: %w", err)
	}
	input, err := certificate.SigningInput(b, sig.Hash(), tbs, signerData)
	if err != nil {
		return false, backendErr("hash", err)
	}
	ok, err := b.VerifySignature(sig, key, input)
	if err != nil {
		return false, backendErr("verify", err)
	}
	return ok, nil
}

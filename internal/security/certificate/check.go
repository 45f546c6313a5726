package certificate

import (
	"time"

	"github.com/dropDatabas3/v2xsec/internal/metrics"
	"github.com/dropDatabas3/v2xsec/internal/security/backend"
)

// SignerLookup resolves an issuer digest to an already-trusted certificate.
// It returns nil when the digest is unknown.
type SignerLookup func(id backend.HashedId8) *WithHash

// Check validates w against its claimed signer. Steps run in order and the
// first failure aborts:
//
//  1. now must precede the end of the validity period (ErrExpired)
//  2. the issuer claim must fit the variant and resolve via lookup
//     (ErrUnexpectedIssuer, *UnknownSignerError)
//  3. the signer's validity period must contain w's
//  4. the signer's issue permissions must cover w's permissions
//  5. the signature must verify over H(tbs) || H(signer bytes)
//
// A cryptographic mismatch in step 5 returns (false, nil): callers raise
// their own "false signature" condition.
func (w *WithHash) Check(now time.Time, b backend.Backend, lookup SignerLookup) (bool, error) {
	ok, err := w.check(now, b, lookup)
	result := "valid"
	switch {
	case err != nil:
		result = "error"
	case !ok:
		result = "false_signature"
	}
	metrics.CertificateChecks.WithLabelValues(w.kind.String(), result).Inc()
	return ok, err
}

func (w *WithHash) check(now time.Time, b backend.Backend, lookup SignerLookup) (bool, error) {
	c := w.cert

	if backend.Time32From(now) >= c.ToBeSigned.ValidityPeriod.End() {
		return false, ErrExpired
	}

	signer := w
	switch {
	case c.Issuer.IsSelf() && w.kind != Root:
		return false, ErrUnexpectedIssuer
	case !c.Issuer.IsSelf() && w.kind == Root:
		return false, ErrUnexpectedIssuer
	case !c.Issuer.IsSelf():
		if lookup != nil {
			signer = lookup(c.Issuer.Digest)
		} else {
			signer = nil
		}
		if signer == nil || signer.HashedId8() != c.Issuer.Digest {
			return false, &UnknownSignerError{ID: c.Issuer.Digest}
		}
	}

	sc := signer.cert
	if !sc.ToBeSigned.ValidityPeriod.Contains(c.ToBeSigned.ValidityPeriod) {
		return false, ErrInconsistentValidityPeriod
	}
	if !permissionsCovered(sc.IssuePermissions(), c) {
		return false, ErrInconsistentPermissions
	}

	var signerData []byte
	if signer != w {
		signerData = signer.raw
	}
	return verifyCertificateSignature(c, sc.ToBeSigned.VerifyKey, signerData, b)
}

// permissionsCovered checks every AID self may issue or use against the
// signer's issue permissions.
func permissionsCovered(signer SubjectPermissions, c *Certificate) bool {
	if signer.All {
		return true
	}
	own := c.IssuePermissions()
	if own.All {
		return false
	}
	allowed := make(map[backend.Aid]struct{}, len(signer.Explicit))
	for _, aid := range signer.Explicit {
		allowed[aid] = struct{}{}
	}
	for _, aid := range own.Explicit {
		if _, ok := allowed[aid]; !ok {
			return false
		}
	}
	for _, p := range c.ToBeSigned.AppPermissions {
		if _, ok := allowed[p.Psid]; !ok {
			return false
		}
	}
	return true
}

func verifyCertificateSignature(c *Certificate, key backend.PublicVerificationKey, signerData []byte, b backend.Backend) (bool, error) {
	tbs, err := c.ToBeSignedBytes()
	if err != nil {
		return false, ErrMalformed
	}
	alg := c.Signature.Hash()
	data, err := SigningInput(b, alg, tbs, signerData)
	if err != nil {
		return false, &BackendError{Err: err}
	}
	ok, err := b.VerifySignature(c.Signature.Canonical(), key, data)
	if err != nil {
		return false, &BackendError{Err: err}
	}
	return ok, nil
}

// SigningInput builds H(tbs) || H(signerData). signerData is empty for
// self-signed material and the signer certificate's canonical bytes
// otherwise.
func SigningInput(b backend.Backend, alg backend.HashAlgorithm, tbs, signerData []byte) ([]byte, error) {
	h1, err := b.Hash(alg, tbs)
	if err != nil {
		return nil, err
	}
	h2, err := b.Hash(alg, signerData)
	if err != nil {
		return nil, err
	}
	return append(h1, h2...), nil
}

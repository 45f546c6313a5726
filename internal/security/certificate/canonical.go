package certificate

import "github.com/dropDatabas3/v2xsec/internal/security/backend"

// Canonicalize returns a copy of c in the canonical form required before
// hashing: public keys compressed, signature R reduced to x-only. Raw bytes
// feed the hash directly, so an uncanonicalized certificate fails its
// signature check. Canonicalize(Canonicalize(c)) equals Canonicalize(c).
func Canonicalize(c *Certificate) *Certificate {
	out := &Certificate{
		Version:    c.Version,
		Type:       c.Type,
		Issuer:     c.Issuer,
		ToBeSigned: canonicalTBS(c.ToBeSigned),
	}
	if c.Signature != nil {
		s := c.Signature.Canonical()
		out.Signature = &s
	}
	return out
}

func canonicalTBS(t ToBeSigned) ToBeSigned {
	out := t
	out.VerifyKey = t.VerifyKey.Canonical()
	if t.EncryptionKey != nil {
		k := t.EncryptionKey.Canonical()
		out.EncryptionKey = &k
	}
	if t.AppPermissions != nil {
		out.AppPermissions = make([]PsidSsp, len(t.AppPermissions))
		copy(out.AppPermissions, t.AppPermissions)
	}
	if t.CertIssuePermissions != nil {
		out.CertIssuePermissions = make([]PsidGroupPermissions, len(t.CertIssuePermissions))
		copy(out.CertIssuePermissions, t.CertIssuePermissions)
	}
	return out
}

// isCanonical reports whether c is already in canonical form.
func isCanonical(c *Certificate) bool {
	if !pointCompressed(c.ToBeSigned.VerifyKey.Point) {
		return false
	}
	if k := c.ToBeSigned.EncryptionKey; k != nil && !pointCompressed(k.Point) {
		return false
	}
	return c.Signature == nil || c.Signature.R.Kind == backend.PointXOnly
}

func pointCompressed(p backend.EccPoint) bool {
	return p.Kind == backend.PointCompressedY0 || p.Kind == backend.PointCompressedY1
}

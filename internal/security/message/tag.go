package message

import (
	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/codec"
)

// HmacKey is the random key committed in an authorization request.
type HmacKey [32]byte

// Tag es el HMAC-SHA256 truncado a 16 bytes.
type Tag [16]byte

// GenerateHMACAndTag draws a fresh HMAC key and tags the encoded
// verification key (plus encryption key when present) with it.
func GenerateHMACAndTag(b backend.Backend, verify backend.PublicVerificationKey, enc *backend.PublicEncryptionKey) (HmacKey, Tag, error) {
	var key HmacKey
	rnd, err := b.GenerateRandom(len(key))
	if err != nil {
		return key, Tag{}, backendErr("random", err)
	}
	copy(key[:], rnd)
	tag, err := TagWithKey(b, key, verify, enc)
	return key, tag, err
}

// TagWithKey recomputes the tag for a known HMAC key.
func TagWithKey(b backend.Backend, key HmacKey, verify backend.PublicVerificationKey, enc *backend.PublicEncryptionKey) (Tag, error) {
	var tag Tag
	data, err := codec.Marshal(verify.Canonical())
	if err != nil {
		return tag, err
	}
	if enc != nil {
		e, err := codec.Marshal(enc.Canonical())
		if err != nil {
			return tag, err
		}
		data = append(data, e...)
	}
	mac, err := b.HMAC(backend.SHA256, key[:], data)
	if err != nil {
		return tag, backendErr("hmac", err)
	}
	copy(tag[:], mac)
	return tag, nil
}

// RequestHash is the leftmost 16 bytes of SHA-256 over the encoded request.
func RequestHash(b backend.Backend, encoded []byte) ([16]byte, error) {
	var out [16]byte
	h, err := b.Hash(backend.SHA256, encoded)
	if err != nil {
		return out, backendErr("hash", err)
	}
	copy(out[:], h)
	return out, nil
}

package message

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/certificate"
	"github.com/dropDatabas3/v2xsec/internal/security/envelope"
)

const (
	symmetricKeyLen = 16
	nonceLen        = 12
	tagLen          = 16
)

// SymmetricKey is an AES-128 key. It lives for one request/response round
// trip.
type SymmetricKey [symmetricKeyLen]byte

// ID is the pre-shared-key recipient id of k.
func (k SymmetricKey) ID(b backend.Backend) (backend.HashedId8, error) {
	h, err := b.Hash(backend.SHA256, k[:])
	if err != nil {
		return backend.HashedId8{}, backendErr("hash", err)
	}
	return backend.HashedId8From(h), nil
}

// EciesKeySizes returns (ke, km) for the KDF2 output split. Fixed table.
func EciesKeySizes(alg backend.HashAlgorithm) (ke, km int, err error) {
	switch alg {
	case backend.SHA256, backend.SM3:
		return 16, 32, nil
	case backend.SHA384:
		return 24, 48, nil
	default:
		return 0, 0, backend.ErrUnsupportedHash
	}
}

// KDF2 (ISO 18033-2): H(Z || counter || P1) for counter = 1, 2, ...
// truncated to length bytes.
func KDF2(b backend.Backend, alg backend.HashAlgorithm, z, p1 []byte, length int) ([]byte, error) {
	out := make([]byte, 0, length+alg.Size())
	var ctr [4]byte
	for i := uint32(1); len(out) < length; i++ {
		binary.BigEndian.PutUint32(ctr[:], i)
		in := make([]byte, 0, len(z)+4+len(p1))
		in = append(in, z...)
		in = append(in, ctr[:]...)
		in = append(in, p1...)
		h, err := b.Hash(alg, in)
		if err != nil {
			return nil, backendErr("hash", err)
		}
		out = append(out, h...)
	}
	return out[:length], nil
}

// Encrypt encrypts plaintext with a fresh AES-128-CCM key wrapped with ECIES
// toward recipient's encryption key. The key is returned so the caller can
// decrypt the response that references it.
func Encrypt(plaintext []byte, recipient *certificate.WithHash, b backend.Backend) (*envelope.EncryptedData, SymmetricKey, error) {
	var key SymmetricKey
	rnd, err := b.GenerateRandom(symmetricKeyLen)
	if err != nil {
		return nil, key, backendErr("random", err)
	}
	copy(key[:], rnd)

	encKey := recipient.EncryptionKey()
	if encKey == nil {
		return nil, key, ErrMissingEncryptionKey
	}
	wrapped, err := wrapKey(key, *encKey, recipient.Hash(), b)
	if err != nil {
		return nil, key, err
	}
	ct, err := seal(key, plaintext, b)
	if err != nil {
		return nil, key, err
	}
	return &envelope.EncryptedData{
		Recipients: []envelope.RecipientInfo{envelope.CertificateRecipient(recipient.HashedId8(), *wrapped)},
		Ciphertext: *ct,
	}, key, nil
}

// EncryptWithKey encrypts plaintext with a key the recipient already holds.
func EncryptWithKey(plaintext []byte, key SymmetricKey, b backend.Backend) (*envelope.EncryptedData, error) {
	id, err := key.ID(b)
	if err != nil {
		return nil, err
	}
	ct, err := seal(key, plaintext, b)
	if err != nil {
		return nil, err
	}
	return &envelope.EncryptedData{
		Recipients: []envelope.RecipientInfo{envelope.PreSharedRecipient(id)},
		Ciphertext: *ct,
	}, nil
}

// Decrypt opens enc as a holder of key. A pre-shared-key recipient must carry
// exactly the key's id. Output of Encrypt (certificate recipients only) is
// opened directly with the key, without the ECIES unwrap.
func Decrypt(enc *envelope.EncryptedData, key SymmetricKey, b backend.Backend) ([]byte, error) {
	id, err := key.ID(b)
	if err != nil {
		return nil, err
	}
	if r, ok := enc.Recipient(id); ok {
		if r.Kind != envelope.RecipientPreShared {
			return nil, ErrUnsupportedRecipient
		}
		return open(key, enc.Ciphertext, b)
	}
	if len(enc.Recipients) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRecipientNotFound, id)
	}
	for _, r := range enc.Recipients {
		if r.Kind != envelope.RecipientCertificate {
			return nil, fmt.Errorf("%w: %s", ErrRecipientNotFound, id)
		}
	}
	return open(key, enc.Ciphertext, b)
}

// DecryptWithPrivateKey opens enc as the holder of recipient's encryption
// private key. It returns the plaintext and the unwrapped key, which the
// responder uses to encrypt its answer.
func DecryptWithPrivateKey(enc *envelope.EncryptedData, recipient *certificate.WithHash, secret backend.SecretKey, b backend.Backend) ([]byte, SymmetricKey, error) {
	var key SymmetricKey
	r, ok := enc.Recipient(recipient.HashedId8())
	if !ok {
		return nil, key, fmt.Errorf("%w: %s", ErrRecipientNotFound, recipient.HashedId8())
	}
	if r.Kind != envelope.RecipientCertificate || r.EncKey == nil {
		return nil, key, ErrUnsupportedRecipient
	}
	key, err := unwrapKey(*r.EncKey, secret, recipient.Hash(), b)
	if err != nil {
		return nil, key, err
	}
	pt, err := open(key, enc.Ciphertext, b)
	if err != nil {
		return nil, key, err
	}
	return pt, key, nil
}

func wrapKey(key SymmetricKey, to backend.PublicEncryptionKey, p1 []byte, b backend.Backend) (*envelope.EncryptedDataEncryptionKey, error) {
	if to.SupportedSymmAlg != backend.AES128CCM {
		return nil, envelope.ErrUnsupportedCipher
	}
	eph, err := b.GenerateEphemeralKeyPair(to.Curve)
	if err != nil {
		return nil, backendErr("ephemeral keypair", err)
	}
	z, err := b.Derive(eph.Secret, to.Point)
	if err != nil {
		return nil, backendErr("derive", err)
	}
	ke, km, kdf, err := deriveKeys(to.Curve.Hash(), z, p1, b)
	if err != nil {
		return nil, err
	}
	if ke < symmetricKeyLen {
		return nil, ErrUnsupportedSymmetricKey
	}
	c := make([]byte, symmetricKeyLen)
	subtle.XORBytes(c, key[:], kdf[:symmetricKeyLen])
	tag, err := b.HMAC(to.Curve.Hash(), kdf[ke:ke+km], c)
	if err != nil {
		return nil, backendErr("hmac", err)
	}
	return &envelope.EncryptedDataEncryptionKey{
		Curve: to.Curve,
		V:     eph.Public,
		C:     c,
		T:     tag[:tagLen],
	}, nil
}

func unwrapKey(w envelope.EncryptedDataEncryptionKey, secret backend.SecretKey, p1 []byte, b backend.Backend) (SymmetricKey, error) {
	var key SymmetricKey
	if len(w.C) != symmetricKeyLen || len(w.T) != tagLen {
		return key, fmt.Errorf("%w: wrapped key shape", ErrDecryptionFailed)
	}
	z, err := b.Derive(secret, w.V)
	if err != nil {
		return key, backendErr("derive", err)
	}
	ke, km, kdf, err := deriveKeys(w.Curve.Hash(), z, p1, b)
	if err != nil {
		return key, err
	}
	if ke < symmetricKeyLen {
		return key, ErrUnsupportedSymmetricKey
	}
	tag, err := b.HMAC(w.Curve.Hash(), kdf[ke:ke+km], w.C)
	if err != nil {
		return key, backendErr("hmac", err)
	}
	if subtle.ConstantTimeCompare(tag[:tagLen], w.T) != 1 {
		return key, ErrTagMismatch
	}
	subtle.XORBytes(key[:], w.C, kdf[:symmetricKeyLen])
	return key, nil
}

func deriveKeys(alg backend.HashAlgorithm, z, p1 []byte, b backend.Backend) (ke, km int, kdf []byte, err error) {
	ke, km, err = EciesKeySizes(alg)
	if err != nil {
		return 0, 0, nil, err
	}
	kdf, err = KDF2(b, alg, z, p1, ke+km)
	if err != nil {
		return 0, 0, nil, err
	}
	return ke, km, kdf, nil
}

func seal(key SymmetricKey, plaintext []byte, b backend.Backend) (*envelope.SymmetricCiphertext, error) {
	nonce, err := b.GenerateRandom(nonceLen)
	if err != nil {
		return nil, backendErr("random", err)
	}
	ct, err := b.EncryptAES128CCM(key[:], nonce, plaintext)
	if err != nil {
		return nil, backendErr("aes-ccm", err)
	}
	return &envelope.SymmetricCiphertext{Algorithm: backend.AES128CCM, Nonce: nonce, Ciphertext: ct}, nil
}

func open(key SymmetricKey, c envelope.SymmetricCiphertext, b backend.Backend) ([]byte, error) {
	nonce, ct, err := c.CCM()
	if err != nil {
		return nil, err
	}
	pt, err := b.DecryptAES128CCM(key[:], nonce, ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return pt, nil
}

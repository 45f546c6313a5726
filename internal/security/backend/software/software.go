// Package software is the reference crypto backend: stdlib ECDSA/ECDH on the
// NIST curves, SM3 hashing, AES-128-CCM, and a private key store kept in
// memory or as PEM files under a private directory.
package software

import (
	"crypto/aes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"math/big"
	"sync"

	"github.com/emmansun/gmsm/sm3"
	"github.com/pion/dtls/v2/pkg/crypto/ccm"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
)

const (
	ccmNonceSize = 12
	ccmTagSize   = 16
	aes128KeyLen = 16
)

// Options configura el backend.
type Options struct {
	// Dir es el directorio privado de claves. Vacío = solo memoria.
	Dir string
	// Passphrase sella los archivos de claves con secretbox cuando no está vacía.
	Passphrase string
	// Curve para las claves canonical/enrollment generadas en bootstrap.
	Curve backend.Curve
}

// Backend implements backend.Backend.
type Backend struct {
	opts  Options
	store *keyStore

	mu         sync.RWMutex
	canonical  *ecdsa.PrivateKey
	enrollment *ecdsa.PrivateKey
	pending    *ecdsa.PrivateKey
	ats        map[uint64]*ecdsa.PrivateKey
	pendingATs map[uint64]*ecdsa.PrivateKey
}

var _ backend.Backend = (*Backend)(nil)

// New loads the key slots from opts.Dir (if any) and generates the canonical
// and enrollment keys when they do not exist yet.
func New(opts Options) (*Backend, error) {
	b := &Backend{
		opts:       opts,
		ats:        make(map[uint64]*ecdsa.PrivateKey),
		pendingATs: make(map[uint64]*ecdsa.PrivateKey),
	}
	if opts.Dir != "" {
		b.store = &keyStore{dir: opts.Dir, passphrase: opts.Passphrase}
		if err := b.load(); err != nil {
			return nil, err
		}
	}
	var err error
	if b.canonical == nil {
		if b.canonical, err = b.generateAndStore(opts.Curve, slotCanonical); err != nil {
			return nil, err
		}
	}
	if b.enrollment == nil {
		if b.enrollment, err = b.generateAndStore(opts.Curve, slotEnrollment); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Backend) load() error {
	keys, err := b.store.loadAll()
	if err != nil {
		return err
	}
	b.canonical = keys.canonical
	b.enrollment = keys.enrollment
	b.pending = keys.pending
	for idx, k := range keys.ats {
		b.ats[idx] = k
	}
	for idx, k := range keys.pendingATs {
		b.pendingATs[idx] = k
	}
	return nil
}

func (b *Backend) generateAndStore(curve backend.Curve, slot string) (*ecdsa.PrivateKey, error) {
	c, err := ellipticCurve(curve)
	if err != nil {
		return nil, err
	}
	k, err := ecdsa.GenerateKey(c, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if b.store != nil {
		if err := b.store.save(slot, k); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// ----- hashing -----

func newHash(alg backend.HashAlgorithm) (func() hash.Hash, error) {
	switch alg {
	case backend.SHA256:
		return sha256.New, nil
	case backend.SHA384:
		return sha512.New384, nil
	case backend.SM3:
		return sm3.New, nil
	default:
		return nil, backend.ErrUnsupportedHash
	}
}

func (b *Backend) Hash(alg backend.HashAlgorithm, data []byte) ([]byte, error) {
	h, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	hh := h()
	hh.Write(data)
	return hh.Sum(nil), nil
}

func (b *Backend) HMAC(alg backend.HashAlgorithm, key, data []byte) ([]byte, error) {
	h, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	m := hmac.New(h, key)
	m.Write(data)
	return m.Sum(nil), nil
}

func (b *Backend) GenerateRandom(n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("random: %w", err)
	}
	return out, nil
}

// ----- signatures -----

func (b *Backend) VerifySignature(sig backend.Signature, key backend.PublicVerificationKey, data []byte) (bool, error) {
	if sig.Curve != key.Curve {
		return false, nil
	}
	pub, err := publicKey(key.Curve, key.Point)
	if err != nil {
		return false, err
	}
	digest, err := b.Hash(sig.Hash(), data)
	if err != nil {
		return false, err
	}
	if len(sig.R.X) == 0 || len(sig.S) == 0 {
		return false, nil
	}
	r := new(big.Int).SetBytes(sig.R.X)
	s := new(big.Int).SetBytes(sig.S)
	return ecdsa.Verify(pub, digest, r, s), nil
}

func (b *Backend) sign(k *ecdsa.PrivateKey, data []byte) (backend.Signature, error) {
	if k == nil {
		return backend.Signature{}, backend.ErrKeyNotFound
	}
	curve, err := curveOf(k)
	if err != nil {
		return backend.Signature{}, err
	}
	digest, err := b.Hash(curve.Hash(), data)
	if err != nil {
		return backend.Signature{}, err
	}
	r, s, err := ecdsa.Sign(rand.Reader, k, digest)
	if err != nil {
		return backend.Signature{}, fmt.Errorf("ecdsa sign: %w", err)
	}
	n := curve.FieldSize()
	return backend.Signature{
		Curve: curve,
		R:     backend.EccPoint{Kind: backend.PointXOnly, X: r.FillBytes(make([]byte, n))},
		S:     s.FillBytes(make([]byte, n)),
	}, nil
}

func (b *Backend) SignWithCanonicalKey(data []byte) (backend.Signature, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sign(b.canonical, data)
}

func (b *Backend) SignWithEnrollmentKey(data []byte) (backend.Signature, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sign(b.enrollment, data)
}

func (b *Backend) SignWithReEnrollmentKey(data []byte) (backend.Signature, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sign(b.pending, data)
}

func (b *Backend) SignWithATKey(index uint64, data []byte) (backend.Signature, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sign(b.ats[index], data)
}

func (b *Backend) SignWithPendingATKey(index uint64, data []byte) (backend.Signature, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sign(b.pendingATs[index], data)
}

// ----- key slots -----

func (b *Backend) CanonicalPubkey() (backend.PublicVerificationKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return verificationKey(b.canonical)
}

func (b *Backend) EnrollmentPubkey() (backend.PublicVerificationKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return verificationKey(b.enrollment)
}

func (b *Backend) AvailableATKeys() (map[uint64]backend.PublicVerificationKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[uint64]backend.PublicVerificationKey, len(b.ats))
	for idx, k := range b.ats {
		pk, err := verificationKey(k)
		if err != nil {
			return nil, err
		}
		out[idx] = pk
	}
	return out, nil
}

func (b *Backend) GenerateReEnrollmentKeyPair(curve backend.Curve) (backend.PublicVerificationKey, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k, err := b.generateAndStore(curve, slotPending)
	if err != nil {
		return backend.PublicVerificationKey{}, err
	}
	b.pending = k
	return verificationKey(k)
}

func (b *Backend) CommitReEnrollmentKey() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return backend.ErrKeyNotFound
	}
	if b.store != nil {
		if err := b.store.promotePending(); err != nil {
			return err
		}
	}
	b.enrollment, b.pending = b.pending, nil
	return nil
}

func (b *Backend) GenerateATKeyPair(index uint64, curve backend.Curve) (backend.PublicVerificationKey, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k, err := b.generateAndStore(curve, atSlot(index))
	if err != nil {
		return backend.PublicVerificationKey{}, err
	}
	b.ats[index] = k
	return verificationKey(k)
}

func (b *Backend) GeneratePendingATKeyPair(index uint64, curve backend.Curve) (backend.PublicVerificationKey, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k, err := b.generateAndStore(curve, pendingATSlot(index))
	if err != nil {
		return backend.PublicVerificationKey{}, err
	}
	b.pendingATs[index] = k
	return verificationKey(k)
}

func (b *Backend) CommitATKey(index uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k, ok := b.pendingATs[index]
	if !ok {
		return backend.ErrKeyNotFound
	}
	if b.store != nil {
		if err := b.store.promotePendingAT(index); err != nil {
			return err
		}
	}
	b.ats[index] = k
	delete(b.pendingATs, index)
	return nil
}

// ----- ECIES / ECDH -----

type secretKey struct {
	curve backend.Curve
	priv  *ecdsa.PrivateKey
}

func (s *secretKey) Curve() backend.Curve { return s.curve }

func (b *Backend) GenerateEphemeralKeyPair(curve backend.Curve) (*backend.KeyPair, error) {
	c, err := ellipticCurve(curve)
	if err != nil {
		return nil, err
	}
	k, err := ecdsa.GenerateKey(c, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return &backend.KeyPair{
		Secret: &secretKey{curve: curve, priv: k},
		Public: compressedPoint(curve, &k.PublicKey),
	}, nil
}

func (b *Backend) Derive(secret backend.SecretKey, peer backend.EccPoint) ([]byte, error) {
	sk, ok := secret.(*secretKey)
	if !ok {
		return nil, backend.ErrForeignKey
	}
	pub, err := publicKey(sk.curve, peer)
	if err != nil {
		return nil, err
	}
	privECDH, err := sk.priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("ecdh private: %w", err)
	}
	pubECDH, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("ecdh public: %w", err)
	}
	return privECDH.ECDH(pubECDH)
}

// ----- AES-128-CCM -----

func newCCM(key []byte) (ccm.CCM, error) {
	if len(key) != aes128KeyLen {
		return nil, fmt.Errorf("aes-128-ccm: key length %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	return ccm.NewCCM(block, ccmTagSize, ccmNonceSize)
}

func (b *Backend) EncryptAES128CCM(key, nonce, plaintext []byte) ([]byte, error) {
	aead, err := newCCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != ccmNonceSize {
		return nil, fmt.Errorf("aes-128-ccm: nonce length %d", len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func (b *Backend) DecryptAES128CCM(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newCCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != ccmNonceSize {
		return nil, fmt.Errorf("aes-128-ccm: nonce length %d", len(nonce))
	}
	pt, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("aes-128-ccm: %w", err)
	}
	return pt, nil
}

// ----- helpers -----

func ellipticCurve(c backend.Curve) (elliptic.Curve, error) {
	switch c {
	case backend.NistP256:
		return elliptic.P256(), nil
	case backend.NistP384:
		return elliptic.P384(), nil
	default:
		return nil, fmt.Errorf("%w: %s", backend.ErrUnsupportedCurve, c)
	}
}

func curveOf(k *ecdsa.PrivateKey) (backend.Curve, error) {
	switch k.Curve {
	case elliptic.P256():
		return backend.NistP256, nil
	case elliptic.P384():
		return backend.NistP384, nil
	default:
		return 0, backend.ErrUnsupportedCurve
	}
}

func compressedPoint(curve backend.Curve, pub *ecdsa.PublicKey) backend.EccPoint {
	n := curve.FieldSize()
	kind := backend.PointCompressedY0
	if pub.Y.Bit(0) == 1 {
		kind = backend.PointCompressedY1
	}
	return backend.EccPoint{Kind: kind, X: pub.X.FillBytes(make([]byte, n))}
}

func verificationKey(k *ecdsa.PrivateKey) (backend.PublicVerificationKey, error) {
	if k == nil {
		return backend.PublicVerificationKey{}, backend.ErrKeyNotFound
	}
	curve, err := curveOf(k)
	if err != nil {
		return backend.PublicVerificationKey{}, err
	}
	return backend.PublicVerificationKey{Curve: curve, Point: compressedPoint(curve, &k.PublicKey)}, nil
}

// publicKey decodes a compressed or uncompressed point.
func publicKey(curve backend.Curve, p backend.EccPoint) (*ecdsa.PublicKey, error) {
	c, err := ellipticCurve(curve)
	if err != nil {
		return nil, err
	}
	if len(p.X) != curve.FieldSize() {
		return nil, backend.ErrInvalidPoint
	}
	compressed, err := p.Compressed().SEC1()
	if err != nil {
		return nil, err
	}
	x, y := elliptic.UnmarshalCompressed(c, compressed)
	if x == nil {
		return nil, backend.ErrInvalidPoint
	}
	if p.Kind == backend.PointUncompressed && new(big.Int).SetBytes(p.Y).Cmp(y) != 0 {
		return nil, backend.ErrInvalidPoint
	}
	return &ecdsa.PublicKey{Curve: c, X: x, Y: y}, nil
}

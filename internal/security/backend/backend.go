// Package backend defines the key and identity primitives shared by the
// security core and the Backend interface every cryptographic provider
// implements.
//
// The core never touches private keys directly: it asks the backend to sign
// with a named key slot (canonical, enrollment, re-enrollment, AT index) and
// to derive shared secrets from opaque SecretKey handles. Serialization of
// concurrent callers, when needed, is the backend's concern.
package backend

// Backend is a cryptographic provider.
type Backend interface {
	// Hash computes the digest of data.
	Hash(alg HashAlgorithm, data []byte) ([]byte, error)
	// HMAC computes HMAC(key, data) with the given hash.
	HMAC(alg HashAlgorithm, key, data []byte) ([]byte, error)

	// VerifySignature hashes data with the signature's algorithm and checks
	// the signature against key. A mismatch is (false, nil).
	VerifySignature(sig Signature, key PublicVerificationKey, data []byte) (bool, error)

	// GenerateRandom returns n random bytes.
	GenerateRandom(n int) ([]byte, error)
	// GenerateEphemeralKeyPair creates a key pair for one ECIES exchange.
	GenerateEphemeralKeyPair(curve Curve) (*KeyPair, error)
	// Derive returns the ECDH shared secret (x-coordinate) of secret and peer.
	Derive(secret SecretKey, peer EccPoint) ([]byte, error)

	EncryptAES128CCM(key, nonce, plaintext []byte) ([]byte, error)
	DecryptAES128CCM(key, nonce, ciphertext []byte) ([]byte, error)

	// CanonicalPubkey is the manufacturer-provisioned station key.
	CanonicalPubkey() (PublicVerificationKey, error)
	// EnrollmentPubkey is the key bound to the current EC.
	EnrollmentPubkey() (PublicVerificationKey, error)
	// AvailableATKeys maps AT slot indexes to their verification keys.
	AvailableATKeys() (map[uint64]PublicVerificationKey, error)

	// GenerateReEnrollmentKeyPair creates a pending enrollment key.
	GenerateReEnrollmentKeyPair(curve Curve) (PublicVerificationKey, error)
	// CommitReEnrollmentKey promotes the pending key to enrollment key.
	CommitReEnrollmentKey() error
	// GenerateATKeyPair creates (or replaces) the key of an AT slot.
	GenerateATKeyPair(index uint64, curve Curve) (PublicVerificationKey, error)
	// GeneratePendingATKeyPair creates a pending key for an AT slot. The
	// slot's current key keeps signing until CommitATKey.
	GeneratePendingATKeyPair(index uint64, curve Curve) (PublicVerificationKey, error)
	// CommitATKey promotes the pending key of index to the slot key.
	CommitATKey(index uint64) error

	SignWithCanonicalKey(data []byte) (Signature, error)
	SignWithEnrollmentKey(data []byte) (Signature, error)
	SignWithReEnrollmentKey(data []byte) (Signature, error)
	SignWithATKey(index uint64, data []byte) (Signature, error)
	SignWithPendingATKey(index uint64, data []byte) (Signature, error)
}

// Package secretbox sella material privado (claves de la estación) con una
// passphrase: argon2id deriva la clave AES-256 y AES-GCM cifra el contenido.
//
// Formato: v1|m=<KiB>,t=<iter>,p=<par>|base64(salt)|base64(nonce)|base64(ciphertext)
package secretbox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	sealVersion  = "v1"
	sep          = "|"
	nonceSizeGCM = 12 // AES-GCM nonce size recomendado (96 bits)
	saltSize     = 16
	keyLength    = 32 // 32 bytes => AES-256
)

var (
	ErrEmptyPassphrase = errors.New("secretbox: empty passphrase")
	ErrFormat          = errors.New("secretbox: invalid sealed format")
	ErrOpen            = errors.New("secretbox: authentication failed")
)

// Params son los costos de argon2id.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
}

var Default = Params{Memory: 64 * 1024, Time: 3, Parallelism: 1}

// IsSealed reporta si data tiene el encabezado de un contenido sellado.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(sealVersion+sep))
}

// Seal cifra plain con la passphrase usando los parámetros por defecto.
func Seal(passphrase string, plain []byte) ([]byte, error) {
	return SealWith(Default, passphrase, plain)
}

// SealWith cifra plain con parámetros argon2id explícitos.
func SealWith(p Params, passphrase string, plain []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("salt random: %w", err)
	}
	aead, err := newAEAD(p, passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce random: %w", err)
	}
	ct := aead.Seal(nil, nonce, plain, nil)

	out := fmt.Sprintf("%s%sm=%d,t=%d,p=%d%s%s%s%s%s%s",
		sealVersion, sep,
		p.Memory, p.Time, p.Parallelism, sep,
		base64.StdEncoding.EncodeToString(salt), sep,
		base64.StdEncoding.EncodeToString(nonce), sep,
		base64.StdEncoding.EncodeToString(ct),
	)
	return []byte(out), nil
}

// Open descifra un contenido producido por Seal/SealWith.
func Open(passphrase string, sealed []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	parts := bytes.Split(sealed, []byte(sep))
	if len(parts) != 5 || string(parts[0]) != sealVersion {
		return nil, ErrFormat
	}
	var p Params
	var par int
	if n, _ := fmt.Sscanf(string(parts[1]), "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &par); n != 3 || par <= 0 || par > 255 {
		return nil, fmt.Errorf("%w: params", ErrFormat)
	}
	p.Parallelism = uint8(par)

	salt, err := base64.StdEncoding.DecodeString(string(parts[2]))
	if err != nil || len(salt) != saltSize {
		return nil, fmt.Errorf("%w: salt", ErrFormat)
	}
	nonce, err := base64.StdEncoding.DecodeString(string(parts[3]))
	if err != nil || len(nonce) != nonceSizeGCM {
		return nil, fmt.Errorf("%w: nonce", ErrFormat)
	}
	ct, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(parts[4])))
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext", ErrFormat)
	}

	aead, err := newAEAD(p, passphrase, salt)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrOpen
	}
	return pt, nil
}

// GeneratePassphrase devuelve una passphrase aleatoria (base64url sin padding).
func GeneratePassphrase(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func newAEAD(p Params, passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, p.Time, p.Memory, p.Parallelism, keyLength)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aesgcm, nil
}

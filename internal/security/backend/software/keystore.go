package software

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dropDatabas3/v2xsec/internal/security/secretbox"
	"github.com/dropDatabas3/v2xsec/internal/util/atomicwrite"
)

const (
	slotCanonical  = "canonical"
	slotEnrollment = "enrollment"
	slotPending    = "pending_enrollment"
	atSlotPrefix   = "at_"
	// no empieza con atSlotPrefix: loadAll los distingue
	pendingATSlotPrefix = "pending_at_"

	keyFilePerm fs.FileMode = 0o600
	keyDirPerm  fs.FileMode = 0o700
	pemType                 = "EC PRIVATE KEY"
)

// ErrKeyFileSealed se devuelve cuando un archivo está sellado y no hay passphrase.
var ErrKeyFileSealed = errors.New("software: key file is sealed and no passphrase configured")

func atSlot(index uint64) string { return atSlotPrefix + strconv.FormatUint(index, 10) }

func pendingATSlot(index uint64) string {
	return pendingATSlotPrefix + strconv.FormatUint(index, 10)
}

// keyStore persiste claves EC como PEM (opcionalmente sellado) en dir.
type keyStore struct {
	dir        string
	passphrase string
}

type loadedKeys struct {
	canonical  *ecdsa.PrivateKey
	enrollment *ecdsa.PrivateKey
	pending    *ecdsa.PrivateKey
	ats        map[uint64]*ecdsa.PrivateKey
	pendingATs map[uint64]*ecdsa.PrivateKey
}

func (s *keyStore) path(slot string) string {
	return filepath.Join(s.dir, slot+".pem")
}

func (s *keyStore) save(slot string, k *ecdsa.PrivateKey) error {
	der, err := x509.MarshalECPrivateKey(k)
	if err != nil {
		return fmt.Errorf("marshal %s key: %w", slot, err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: der})
	if s.passphrase != "" {
		if data, err = secretbox.Seal(s.passphrase, data); err != nil {
			return fmt.Errorf("seal %s key: %w", slot, err)
		}
	}
	if err := atomicwrite.WriteFile(s.path(slot), data, keyFilePerm, keyDirPerm); err != nil {
		return fmt.Errorf("write %s key: %w", slot, err)
	}
	return nil
}

func (s *keyStore) read(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if secretbox.IsSealed(data) {
		if s.passphrase == "" {
			return nil, fmt.Errorf("%s: %w", path, ErrKeyFileSealed)
		}
		if data, err = secretbox.Open(s.passphrase, data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemType {
		return nil, fmt.Errorf("%s: invalid PEM", path)
	}
	k, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return k, nil
}

func (s *keyStore) loadAll() (*loadedKeys, error) {
	out := &loadedKeys{
		ats:        make(map[uint64]*ecdsa.PrivateKey),
		pendingATs: make(map[uint64]*ecdsa.PrivateKey),
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read key dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".pem") {
			continue
		}
		slot := strings.TrimSuffix(name, ".pem")
		var dst **ecdsa.PrivateKey
		switch {
		case slot == slotCanonical:
			dst = &out.canonical
		case slot == slotEnrollment:
			dst = &out.enrollment
		case slot == slotPending:
			dst = &out.pending
		case strings.HasPrefix(slot, atSlotPrefix), strings.HasPrefix(slot, pendingATSlotPrefix):
			into, prefix := out.ats, atSlotPrefix
			if strings.HasPrefix(slot, pendingATSlotPrefix) {
				into, prefix = out.pendingATs, pendingATSlotPrefix
			}
			idx, err := strconv.ParseUint(strings.TrimPrefix(slot, prefix), 10, 64)
			if err != nil {
				continue
			}
			k, err := s.read(filepath.Join(s.dir, name))
			if err != nil {
				return nil, err
			}
			into[idx] = k
			continue
		default:
			continue
		}
		k, err := s.read(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		*dst = k
	}
	return out, nil
}

// promotePendingAT renombra pending_at_<i>.pem a at_<i>.pem.
func (s *keyStore) promotePendingAT(index uint64) error {
	if err := os.Rename(s.path(pendingATSlot(index)), s.path(atSlot(index))); err != nil {
		return fmt.Errorf("promote pending at[%d] key: %w", index, err)
	}
	return nil
}

// promotePending renombra pending_enrollment.pem a enrollment.pem.
func (s *keyStore) promotePending() error {
	if err := os.Rename(s.path(slotPending), s.path(slotEnrollment)); err != nil {
		return fmt.Errorf("promote pending key: %w", err)
	}
	return nil
}

package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dropDatabas3/v2xsec/internal/util/atomicwrite"
)

const (
	privateDirPerm  fs.FileMode = 0o700
	privateFilePerm fs.FileMode = 0o600
	publicDirPerm   fs.FileMode = 0o755
	publicFilePerm  fs.FileMode = 0o644

	certDir      = "certificates"
	atDir        = "at"
	privateDir   = "private"
	metadataFile = "metadata.yaml"
)

// FileStorage es la implementación de referencia sobre disco:
//
//	<dir>/certificates/{root,ea,aa,ec}.cert
//	<dir>/certificates/at/<index>.cert
//	<dir>/private/            (0700, claves del backend, archivos 0600)
//	<dir>/metadata.yaml
type FileStorage struct {
	dir string
}

var _ Storage = (*FileStorage)(nil)

// OpenFile prepares dir and verifies the private directory permissions. A
// private directory or file with a mode other than 0700/0600 is fatal.
func OpenFile(dir string) (*FileStorage, error) {
	if dir == "" {
		return nil, errors.New("storage: empty directory")
	}
	s := &FileStorage{dir: filepath.Clean(dir)}
	if err := os.MkdirAll(filepath.Join(s.dir, certDir, atDir), publicDirPerm); err != nil {
		return nil, &IOError{Op: "mkdir", Path: s.dir, Err: err}
	}
	priv := s.PrivateDir()
	if err := os.Mkdir(priv, privateDirPerm); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, &IOError{Op: "mkdir", Path: priv, Err: err}
	}
	if err := VerifyPrivateDir(priv); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the storage root.
func (s *FileStorage) Dir() string { return s.dir }

// PrivateDir es donde el backend software guarda sus claves.
func (s *FileStorage) PrivateDir() string { return filepath.Join(s.dir, privateDir) }

// VerifyPrivateDir checks (not sets) that dir is 0700 and every regular file
// in it is 0600.
func VerifyPrivateDir(dir string) error {
	st, err := os.Stat(dir)
	if err != nil {
		return &IOError{Op: "stat", Path: dir, Err: err}
	}
	if !st.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInsecurePermissions, dir)
	}
	if perm := st.Mode().Perm(); perm != privateDirPerm {
		return fmt.Errorf("%w: %s has mode %04o, want %04o", ErrInsecurePermissions, dir, perm, privateDirPerm)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &IOError{Op: "readdir", Path: dir, Err: err}
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return &IOError{Op: "stat", Path: e.Name(), Err: err}
		}
		if perm := info.Mode().Perm(); perm != privateFilePerm {
			return fmt.Errorf("%w: %s has mode %04o, want %04o", ErrInsecurePermissions,
				filepath.Join(dir, e.Name()), perm, privateFilePerm)
		}
	}
	return nil
}

func (s *FileStorage) certPath(name string) string {
	return filepath.Join(s.dir, certDir, name+".cert")
}

func (s *FileStorage) atPath(index uint64) string {
	return filepath.Join(s.dir, certDir, atDir, strconv.FormatUint(index, 10)+".cert")
}

func (s *FileStorage) read(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	return b, nil
}

func (s *FileStorage) write(path string, data []byte) error {
	if err := atomicwrite.WriteFile(path, data, publicFilePerm, publicDirPerm); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (s *FileStorage) LoadRootCertificate() ([]byte, error) { return s.read(s.certPath("root")) }
func (s *FileStorage) LoadEACertificate() ([]byte, error)   { return s.read(s.certPath("ea")) }
func (s *FileStorage) LoadAACertificate() ([]byte, error)   { return s.read(s.certPath("aa")) }
func (s *FileStorage) LoadECCertificate() ([]byte, error)   { return s.read(s.certPath("ec")) }

func (s *FileStorage) LoadATCertificate(index uint64) ([]byte, error) {
	return s.read(s.atPath(index))
}

func (s *FileStorage) StoreRootCertificate(raw []byte) error { return s.write(s.certPath("root"), raw) }
func (s *FileStorage) StoreEACertificate(raw []byte) error   { return s.write(s.certPath("ea"), raw) }
func (s *FileStorage) StoreAACertificate(raw []byte) error   { return s.write(s.certPath("aa"), raw) }
func (s *FileStorage) StoreECCertificate(raw []byte) error   { return s.write(s.certPath("ec"), raw) }

func (s *FileStorage) StoreATCertificate(index uint64, raw []byte) error {
	return s.write(s.atPath(index), raw)
}

func (s *FileStorage) LoadMetadata() (*Metadata, error) {
	b, err := s.read(filepath.Join(s.dir, metadataFile))
	if err != nil {
		return nil, err
	}
	return decodeMetadata(b)
}

func (s *FileStorage) StoreMetadata(m *Metadata) error {
	b, err := encodeMetadata(m)
	if err != nil {
		return fmt.Errorf("storage: metadata: %w", err)
	}
	return s.write(filepath.Join(s.dir, metadataFile), b)
}

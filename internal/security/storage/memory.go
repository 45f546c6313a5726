package storage

import "sync"

// MemoryStorage guarda todo en memoria. Útil para tests y estaciones efímeras.
type MemoryStorage struct {
	mu    sync.RWMutex
	certs map[string][]byte
	ats   map[uint64][]byte
	meta  *Metadata

	// FailMetadataWrites hace fallar StoreMetadata (tests del camino best-effort).
	FailMetadataWrites bool
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		certs: make(map[string][]byte),
		ats:   make(map[uint64][]byte),
	}
}

func (s *MemoryStorage) load(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.certs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *MemoryStorage) store(name string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[name] = append([]byte(nil), raw...)
	return nil
}

func (s *MemoryStorage) LoadRootCertificate() ([]byte, error) { return s.load("root") }
func (s *MemoryStorage) LoadEACertificate() ([]byte, error)   { return s.load("ea") }
func (s *MemoryStorage) LoadAACertificate() ([]byte, error)   { return s.load("aa") }
func (s *MemoryStorage) LoadECCertificate() ([]byte, error)   { return s.load("ec") }

func (s *MemoryStorage) LoadATCertificate(index uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.ats[index]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *MemoryStorage) StoreRootCertificate(raw []byte) error { return s.store("root", raw) }
func (s *MemoryStorage) StoreEACertificate(raw []byte) error   { return s.store("ea", raw) }
func (s *MemoryStorage) StoreAACertificate(raw []byte) error   { return s.store("aa", raw) }
func (s *MemoryStorage) StoreECCertificate(raw []byte) error   { return s.store("ec", raw) }

func (s *MemoryStorage) StoreATCertificate(index uint64, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ats[index] = append([]byte(nil), raw...)
	return nil
}

func (s *MemoryStorage) LoadMetadata() (*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.meta == nil {
		return nil, ErrNotFound
	}
	return s.meta.Clone(), nil
}

func (s *MemoryStorage) StoreMetadata(m *Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailMetadataWrites {
		return &IOError{Op: "write", Path: "memory:metadata", Err: ErrInsecurePermissions}
	}
	s.meta = m.Clone()
	return nil
}

// Package storage persiste los certificados de la estación y la metadata de
// elección de ATs. Los certificados se guardan como bytes opacos ya
// codificados; el parseo vive en el paquete certificate.
package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indica que el artefacto no existe todavía.
	ErrNotFound = errors.New("storage: not found")
	// ErrInsecurePermissions: el directorio/archivo privado no tiene los modos esperados.
	ErrInsecurePermissions = errors.New("storage: insecure permissions")
)

// Storage is the certificate and metadata store consumed by the trust chain
// and the protocol drivers.
type Storage interface {
	LoadRootCertificate() ([]byte, error)
	LoadEACertificate() ([]byte, error)
	LoadAACertificate() ([]byte, error)
	LoadECCertificate() ([]byte, error)
	LoadATCertificate(index uint64) ([]byte, error)

	StoreRootCertificate(raw []byte) error
	StoreEACertificate(raw []byte) error
	StoreAACertificate(raw []byte) error
	StoreECCertificate(raw []byte) error
	StoreATCertificate(index uint64, raw []byte) error

	LoadMetadata() (*Metadata, error)
	StoreMetadata(m *Metadata) error
}

// IOError envuelve un fallo de E/S que no es ErrNotFound.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

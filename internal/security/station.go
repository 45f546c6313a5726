// Package security es la fachada de la estación: reúne backend, cadena de
// confianza, metadata y storage, y expone enrollment, authorization y la
// firma/verificación de mensajes V2X.
package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/v2xsec/internal/observability/logger"
	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/pki"
	"github.com/dropDatabas3/v2xsec/internal/security/storage"
	"github.com/dropDatabas3/v2xsec/internal/security/trust"
)

var (
	ErrNoAuthorizationTicket = errors.New("security: no valid authorization ticket")
	ErrUnknownSigner         = errors.New("security: message signer not resolvable")
	ErrUnexpectedSigner      = errors.New("security: self-signed application message")
	ErrMissingDependency     = errors.New("security: backend, chain and storage are required")
)

// Endpoint is a PKI server reachable through a Transport.
type Endpoint uint8

const (
	EndpointEA Endpoint = iota
	EndpointAA
)

func (e Endpoint) String() string {
	switch e {
	case EndpointEA:
		return "ea"
	case EndpointAA:
		return "aa"
	default:
		return fmt.Sprintf("endpoint(%d)", uint8(e))
	}
}

// Transport delivers an encoded request to a PKI endpoint and returns the
// raw response. HTTP or any other delivery lives outside this package.
type Transport interface {
	Send(ctx context.Context, to Endpoint, request []byte) ([]byte, error)
}

// TransportError is a delivery failure of one attempt.
type TransportError struct {
	Endpoint Endpoint
	Attempt  int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("security: send to %s (attempt %d): %v", e.Endpoint, e.Attempt, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Settings are the station parameters of the PKI exchanges.
type Settings struct {
	// ItsID es el identificador canónico registrado en el EA.
	ItsID []byte
	Curve backend.Curve
	// MaxRetries acota los intentos por intercambio (mínimo 1).
	MaxRetries   int
	RetryBackoff time.Duration

	ECSignaturePrivacy bool
	ProofOfPossession  bool
	// EmbedCertificate firma los mensajes con el AT completo en vez del digest.
	EmbedCertificate bool
	// PeerCacheTTL es la vida de un AT ajeno ya validado (default 10m).
	PeerCacheTTL time.Duration

	ECAttributes pki.SubjectAttributes
	ATAttributes pki.SubjectAttributes
}

const (
	defaultMaxRetries = 3
	defaultPeerTTL    = 10 * time.Minute
)

// Config is the assembled security state of a station. Build it once with
// New and share the pointer.
type Config struct {
	Backend  backend.Backend
	Chain    *trust.Chain
	Metadata *storage.Metadata
	Storage  storage.Storage
	Settings Settings
	Peers    *trust.PeerCache

	// Now defaults to time.Now.
	Now func() time.Time

	mu  sync.Mutex // metadata
	xmu sync.Mutex // un intercambio EA/AA a la vez (slots de clave del backend)
}

// New wires a Config. A nil metadata starts empty.
func New(b backend.Backend, chain *trust.Chain, meta *storage.Metadata, st storage.Storage, s Settings) (*Config, error) {
	if b == nil || chain == nil || st == nil {
		return nil, ErrMissingDependency
	}
	if meta == nil {
		meta = storage.NewMetadata()
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = defaultMaxRetries
	}
	if s.PeerCacheTTL <= 0 {
		s.PeerCacheTTL = defaultPeerTTL
	}
	return &Config{
		Backend:  b,
		Chain:    chain,
		Metadata: meta,
		Storage:  st,
		Settings: s,
		Peers:    trust.NewPeerCache(chain, b, s.PeerCacheTTL),
		Now:      time.Now,
	}, nil
}

func (c *Config) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// persistMetadata escribe la metadata; un fallo solo se loguea. Requiere c.mu.
func (c *Config) persistMetadata(ctx context.Context) {
	if err := c.Storage.StoreMetadata(c.Metadata); err != nil {
		logger.From(ctx).Warn("metadata not persisted",
			logger.Component("security"), logger.Err(err))
	}
}

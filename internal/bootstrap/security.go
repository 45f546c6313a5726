// Package bootstrap arma la estación a partir de la config: storage en disco,
// backend software, cadena de confianza y fachada de seguridad.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/v2xsec/internal/config"
	"github.com/dropDatabas3/v2xsec/internal/observability/logger"
	"github.com/dropDatabas3/v2xsec/internal/security"
	"github.com/dropDatabas3/v2xsec/internal/security/backend/software"
	"github.com/dropDatabas3/v2xsec/internal/security/storage"
	"github.com/dropDatabas3/v2xsec/internal/security/trust"
	"github.com/dropDatabas3/v2xsec/internal/util"
)

// Station es el resultado de SetupSecurity.
type Station struct {
	Security *security.Config
	Storage  *storage.FileStorage
	Backend  *software.Backend
}

// SetupSecurity opens the storage, loads (or generates) the backend keys and
// assembles the trust chain. It returns nil, nil when security is disabled.
// A missing or invalid root certificate is fatal; everything else below the
// root is logged and left out of the chain.
func SetupSecurity(ctx context.Context, cfg *config.Config, now time.Time) (*Station, error) {
	if cfg == nil || !cfg.Security.Enable {
		logger.From(ctx).Info("security disabled", logger.Component("bootstrap"))
		return nil, nil
	}
	log := logger.From(ctx).With(logger.Component("bootstrap"), logger.Path(cfg.Security.StorageDir))

	st, err := storage.OpenFile(cfg.Security.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: storage: %w", err)
	}
	b, err := software.New(software.Options{
		Dir:        st.PrivateDir(),
		Passphrase: cfg.Security.KeyPassphrase,
		Curve:      cfg.Curve(),
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: backend: %w", err)
	}
	if cfg.Security.KeyPassphrase == "" {
		log.Warn("backend keys stored unsealed (no key passphrase)")
	}

	chain, meta, err := trust.Setup(ctx, st, b, now)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: trust chain: %w", err)
	}
	sec, err := security.New(b, chain, meta, st, security.Settings{
		ItsID:              []byte(cfg.Security.CanonicalID),
		Curve:              cfg.Curve(),
		MaxRetries:         cfg.PKI.MaxRetries,
		RetryBackoff:       cfg.RetryBackoff(),
		ECSignaturePrivacy: cfg.Security.ECSignaturePrivacy,
		ProofOfPossession:  cfg.Security.ProofOfPossession,
		EmbedCertificate:   cfg.Security.EmbedCertificate,
		PeerCacheTTL:       cfg.PeerCacheTTL(),
	})
	if err != nil {
		return nil, err
	}

	log.Info("security ready",
		zap.String("its_id", util.MaskID(cfg.Security.CanonicalID)),
		logger.HashedID(chain.Root().HashedId8().String()),
		logger.Count(len(chain.ATIndexes())))
	return &Station{Security: sec, Storage: st, Backend: b}, nil
}

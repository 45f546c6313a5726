package trust

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/v2xsec/internal/metrics"
	"github.com/dropDatabas3/v2xsec/internal/observability/logger"
	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/certificate"
	"github.com/dropDatabas3/v2xsec/internal/security/storage"
)

// Setup assembles the chain from storage. Order and policy:
//
//	root  load+check, fatal
//	ea    load+check, logged and skipped
//	aa    load+check, logged and skipped
//	at[i] per backend AT key, load+check+key match, each independent (needs aa)
//	ec    load+check+key match (needs ea)
//
// Metadata is re-persisted afterwards; a write failure is only logged.
func Setup(ctx context.Context, st storage.Storage, b backend.Backend, now time.Time) (*Chain, *storage.Metadata, error) {
	log := logger.From(ctx).With(logger.Component("trust"))

	root, err := loadRoot(st, b, now)
	if err != nil {
		return nil, nil, err
	}
	chain := newChain(root)
	log.Debug("root loaded", logger.HashedID(root.HashedId8().String()))

	chain.ea = optional(log, certificate.EnrollmentAuthority, func() (*certificate.WithHash, error) {
		return loadChecked(certificate.EnrollmentAuthority, st.LoadEACertificate, chain.issuerLookup(certificate.EnrollmentAuthority), now, b, nil)
	})
	chain.aa = optional(log, certificate.AuthorizationAuthority, func() (*certificate.WithHash, error) {
		return loadChecked(certificate.AuthorizationAuthority, st.LoadAACertificate, chain.issuerLookup(certificate.AuthorizationAuthority), now, b, nil)
	})

	meta, err := st.LoadMetadata()
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn("metadata unreadable, starting empty", logger.Err(err))
		}
		meta = storage.NewMetadata()
	}

	if chain.aa != nil {
		loadATs(log, chain, st, b, now, meta)
	}
	if chain.ea != nil {
		chain.ec = optional(log, certificate.EnrollmentCredential, func() (*certificate.WithHash, error) {
			key, err := b.EnrollmentPubkey()
			if err != nil {
				return nil, &CheckError{Kind: certificate.EnrollmentCredential, Op: "backend key", Err: err}
			}
			return loadChecked(certificate.EnrollmentCredential, st.LoadECCertificate, chain.issuerLookup(certificate.EnrollmentCredential), now, b, &key)
		})
	}

	if err := st.StoreMetadata(meta); err != nil {
		log.Warn("metadata not persisted", logger.Err(err))
	}
	metrics.TrustChainATs.Set(float64(len(chain.ats)))
	log.Info("trust chain ready",
		zap.Bool("ea", chain.ea != nil),
		zap.Bool("aa", chain.aa != nil),
		zap.Bool("ec", chain.ec != nil),
		logger.Count(len(chain.ats)),
	)
	return chain, meta, nil
}

func loadRoot(st storage.Storage, b backend.Backend, now time.Time) (*certificate.WithHash, error) {
	raw, err := st.LoadRootCertificate()
	if err != nil {
		return nil, &CheckError{Kind: certificate.Root, Op: "load", Err: err}
	}
	root, err := certificate.Parse(certificate.Root, raw, b)
	if err != nil {
		return nil, &CheckError{Kind: certificate.Root, Op: "parse", Err: err}
	}
	if err := validate(root, nil, now, b, nil); err != nil {
		return nil, &CheckError{Kind: certificate.Root, Op: "check", Err: err}
	}
	return root, nil
}

func loadChecked(kind certificate.Kind, load func() ([]byte, error), lookup certificate.SignerLookup,
	now time.Time, b backend.Backend, key *backend.PublicVerificationKey) (*certificate.WithHash, error) {
	raw, err := load()
	if err != nil {
		return nil, &CheckError{Kind: kind, Op: "load", Err: err}
	}
	w, err := certificate.Parse(kind, raw, b)
	if err != nil {
		return nil, &CheckError{Kind: kind, Op: "parse", Err: err}
	}
	if err := validate(w, lookup, now, b, key); err != nil {
		return nil, &CheckError{Kind: kind, Op: "check", Err: err}
	}
	return w, nil
}

// optional downgrades a failure to absence. A missing artifact logs at
// Debug, anything else at Warn.
func optional(log *zap.Logger, kind certificate.Kind, step func() (*certificate.WithHash, error)) *certificate.WithHash {
	w, err := step()
	if err == nil {
		return w
	}
	lvl := log.Warn
	if errors.Is(err, storage.ErrNotFound) {
		lvl = log.Debug
	}
	lvl("certificate skipped", logger.Kind(kind.String()), logger.Err(err))
	return nil
}

func loadATs(log *zap.Logger, chain *Chain, st storage.Storage, b backend.Backend, now time.Time, meta *storage.Metadata) {
	keys, err := b.AvailableATKeys()
	if err != nil {
		log.Warn("backend AT keys unavailable", logger.Err(err))
		return
	}
	indexes := make([]uint64, 0, len(keys))
	for idx := range keys {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	for _, idx := range indexes {
		key := keys[idx]
		at, err := loadChecked(certificate.AuthorizationTicket, func() ([]byte, error) {
			return st.LoadATCertificate(idx)
		}, chain.issuerLookup(certificate.AuthorizationTicket), now, b, &key)
		if err != nil {
			var ce *CheckError
			if errors.As(err, &ce) {
				ce.Index = idx
			}
			lvl := log.Warn
			if errors.Is(err, storage.ErrNotFound) {
				lvl = log.Debug
			}
			lvl("authorization ticket skipped", logger.ATIndex(idx), logger.Err(err))
			continue
		}
		counter, _ := meta.Counter(idx)
		meta.SetCounter(idx, counter)
		chain.ats[idx] = &ATEntry{Cert: at, ElectionCounter: counter}
	}
}

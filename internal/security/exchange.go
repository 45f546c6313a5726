package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/v2xsec/internal/metrics"
	"github.com/dropDatabas3/v2xsec/internal/observability/logger"
	"github.com/dropDatabas3/v2xsec/internal/security/authorization"
	"github.com/dropDatabas3/v2xsec/internal/security/certificate"
	"github.com/dropDatabas3/v2xsec/internal/security/enrollment"
)

const (
	protoEnrollment    = "enrollment"
	protoAuthorization = "authorization"
)

// Enroll obtains a new EC from the EA: an initial enrollment signed with the
// canonical key, or a re-enrollment signed with the current EC. On success
// the EC is persisted, the pending enrollment key committed and the EC
// installed into the chain.
func (c *Config) Enroll(ctx context.Context, tr Transport) (*certificate.WithHash, error) {
	log := logger.From(ctx).With(logger.Component("security"), logger.Op("Enroll"))

	c.xmu.Lock()
	defer c.xmu.Unlock()

	ea := c.Chain.EA()
	if ea == nil {
		return nil, enrollment.ErrMissingEA
	}
	current := c.Chain.EC()

	var (
		rctx *enrollment.RequestContext
		ec   *certificate.WithHash
	)
	err := c.exchange(ctx, log, tr, protoEnrollment, EndpointEA,
		func(now time.Time) ([]byte, string, error) {
			raw, rc, err := enrollment.BuildRequest(enrollment.Params{
				ItsID:      c.Settings.ItsID,
				Curve:      c.Settings.Curve,
				Attributes: c.Settings.ECAttributes,
				Now:        now,
			}, ea, current, c.Backend)
			if err != nil {
				return nil, "", err
			}
			rctx = rc
			return raw, rc.ID.String(), nil
		},
		func(resp []byte, now time.Time) (err error) {
			ec, err = enrollment.ParseResponse(resp, rctx, c.Backend, now)
			return err
		})
	if err != nil {
		return nil, err
	}

	if err := c.Storage.StoreECCertificate(ec.Raw()); err != nil {
		return nil, fmt.Errorf("security: persist ec: %w", err)
	}
	if err := c.Backend.CommitReEnrollmentKey(); err != nil {
		return nil, fmt.Errorf("security: commit enrollment key: %w", err)
	}
	if err := c.Chain.InstallEC(ec, c.Backend, c.now()); err != nil {
		return nil, err
	}
	log.Info("enrollment credential installed",
		logger.HashedID(ec.HashedId8().String()),
		zap.Bool("re_enrollment", rctx.ReEnrollment))
	return ec, nil
}

// Authorize obtains a new AT for slot index from the AA. The new key stays
// pending in the backend while the exchange runs, so the slot's current AT
// keeps signing; it is replaced only once the AA response is accepted.
func (c *Config) Authorize(ctx context.Context, tr Transport, index uint64) (*certificate.WithHash, error) {
	log := logger.From(ctx).With(logger.Component("security"), logger.Op("Authorize"), logger.ATIndex(index))

	c.xmu.Lock()
	defer c.xmu.Unlock()

	aa, ea, ec := c.Chain.AA(), c.Chain.EA(), c.Chain.EC()
	if aa == nil || ea == nil || ec == nil {
		return nil, authorization.ErrMissingAuthority
	}

	var (
		rctx *authorization.RequestContext
		at   *certificate.WithHash
	)
	err := c.exchange(ctx, log, tr, protoAuthorization, EndpointAA,
		func(now time.Time) ([]byte, string, error) {
			raw, rc, err := authorization.BuildRequest(authorization.Params{
				Index:              index,
				Curve:              c.Settings.Curve,
				Attributes:         c.Settings.ATAttributes,
				Now:                now,
				ECSignaturePrivacy: c.Settings.ECSignaturePrivacy,
				ProofOfPossession:  c.Settings.ProofOfPossession,
			}, aa, ea, ec, c.Backend)
			if err != nil {
				return nil, "", err
			}
			rctx = rc
			return raw, rc.ID.String(), nil
		},
		func(resp []byte, now time.Time) (err error) {
			at, err = authorization.ParseResponse(resp, rctx, c.Backend, now)
			return err
		})
	if err != nil {
		return nil, err
	}

	// bajo c.mu: SignMessage no ve el AT viejo con la clave nueva
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Backend.CommitATKey(index); err != nil {
		return nil, fmt.Errorf("security: commit at[%d] key: %w", index, err)
	}
	if err := c.Storage.StoreATCertificate(index, at.Raw()); err != nil {
		// la clave del slot ya cambió: el AT viejo no puede seguir firmando
		if c.Chain.RemoveAT(index, c.Metadata) {
			c.persistMetadata(ctx)
		}
		return nil, fmt.Errorf("security: persist at[%d]: %w", index, err)
	}
	if err := c.Chain.InstallAT(index, at, c.Backend, c.now(), c.Metadata); err != nil {
		if c.Chain.RemoveAT(index, c.Metadata) {
			c.persistMetadata(ctx)
		}
		return nil, err
	}
	c.persistMetadata(ctx)
	log.Info("authorization ticket installed", logger.HashedID(at.HashedId8().String()))
	return at, nil
}

// exchange runs build → send → parse. Each attempt builds a brand new
// request and hands the transport a ctx carrying the attempt logger. Only delivery failures are retried; any response that fails to
// parse or carries a failure code ends the exchange.
func (c *Config) exchange(ctx context.Context, log *zap.Logger, tr Transport, protocol string, to Endpoint,
	build func(now time.Time) ([]byte, string, error),
	parse func(resp []byte, now time.Time) error,
) error {
	var lastErr error
	for attempt := 1; attempt <= c.Settings.MaxRetries; attempt++ {
		if attempt > 1 && c.Settings.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.Settings.RetryBackoff):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, reqID, err := build(c.now())
		if err != nil {
			metrics.PKIExchanges.WithLabelValues(protocol, "request_error").Inc()
			return err
		}
		actx, alog := logger.WithExchange(logger.ToContext(ctx, log), protocol, reqID, attempt)
		start := time.Now()

		resp, err := tr.Send(actx, to, raw)
		if err != nil {
			metrics.PKIExchanges.WithLabelValues(protocol, "transport_error").Inc()
			alog.Warn("pki request not delivered", logger.Err(err))
			lastErr = &TransportError{Endpoint: to, Attempt: attempt, Err: err}
			continue
		}

		if err := parse(resp, c.now()); err != nil {
			metrics.PKIExchanges.WithLabelValues(protocol, outcome(err)).Inc()
			alog.Warn("pki response rejected", responseCode(err), logger.Err(err))
			return err
		}
		metrics.PKIExchanges.WithLabelValues(protocol, "ok").Inc()
		alog.Debug("pki exchange completed", logger.Duration(time.Since(start)))
		return nil
	}
	return lastErr
}

func outcome(err error) string {
	var (
		ef *enrollment.FailureError
		af *authorization.FailureError
	)
	if errors.As(err, &ef) || errors.As(err, &af) {
		return "failure"
	}
	return "invalid_response"
}

func responseCode(err error) zap.Field {
	var (
		ef *enrollment.FailureError
		af *authorization.FailureError
	)
	switch {
	case errors.As(err, &ef):
		return logger.ResponseCode(ef.Code.String())
	case errors.As(err, &af):
		return logger.ResponseCode(af.Code.String())
	}
	return zap.Skip()
}

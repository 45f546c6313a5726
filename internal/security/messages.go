package security

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/v2xsec/internal/observability/logger"
	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/certificate"
	"github.com/dropDatabas3/v2xsec/internal/security/envelope"
	"github.com/dropDatabas3/v2xsec/internal/security/message"
)

// ApplicationMessage marks a signed V2X application message (CAM, DENM...).
// The payload semantics belong to the application.
type ApplicationMessage struct{}

// SignMessage signs payload for aid with the least elected valid AT and
// bumps that AT's election counter.
func (c *Config) SignMessage(ctx context.Context, payload []byte, aid backend.Aid) ([]byte, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	idx, at, ok := c.Chain.LeastElectedAT(now)
	if !ok {
		return nil, ErrNoAuthorizationTicket
	}
	if !at.Certificate().Grants(aid) {
		return nil, fmt.Errorf("%w: %d", message.ErrPermissionNotGranted, aid)
	}

	curve := at.VerifyKey().Curve
	sd := envelope.New[ApplicationMessage](envelope.InlineData(payload), aid, now, curve)
	if c.Settings.EmbedCertificate {
		sd.SetSigner(envelope.CertificateSigner(at.Raw()))
	} else {
		sd.SetSigner(envelope.DigestSigner(at.HashedId8()))
	}
	sign := func(data []byte) (backend.Signature, error) { return c.Backend.SignWithATKey(idx, data) }
	if err := message.SignWith(sd, curve.Hash(), at.Raw(), c.Backend, sign); err != nil {
		return nil, err
	}
	raw, err := sd.AsBytes()
	if err != nil {
		return nil, err
	}

	counter, _ := c.Chain.MarkElected(idx, c.Metadata)
	c.persistMetadata(ctx)
	logger.From(ctx).Debug("message signed",
		logger.Component("security"), logger.ATIndex(idx), logger.ElectionCounter(counter))
	return raw, nil
}

// VerifyMessage verifies a signed application message for aid and returns
// its payload and the signer AT. Embedded signer certificates are validated
// against the AA and cached; digests resolve against the chain and cache.
func (c *Config) VerifyMessage(ctx context.Context, raw []byte, aid backend.Aid) ([]byte, *certificate.WithHash, error) {
	now := c.now()
	sd, err := envelope.FromBytes[ApplicationMessage](raw)
	if err != nil {
		return nil, nil, err
	}

	var signer *certificate.WithHash
	switch s := sd.Signer(); s.Kind {
	case envelope.SignerCertificate:
		if signer, err = c.Peers.Resolve(s.Certificate, now); err != nil {
			return nil, nil, fmt.Errorf("security: signer certificate: %w", err)
		}
	case envelope.SignerDigest:
		signer = c.Chain.Lookup(s.Digest)
		if signer == nil {
			var ok bool
			if signer, ok = c.Peers.Get(s.Digest); !ok {
				return nil, nil, fmt.Errorf("%w: %s", ErrUnknownSigner, s.Digest)
			}
		}
	default:
		return nil, nil, ErrUnexpectedSigner
	}

	if err := message.VerifySignedData(sd, signer, aid, c.Backend); err != nil {
		logger.From(ctx).Debug("message rejected",
			logger.Component("security"), logger.HashedID(signer.HashedId8().String()), logger.Err(err))
		return nil, nil, err
	}
	payload, err := sd.Data()
	if err != nil {
		return nil, nil, err
	}
	return payload, signer, nil
}

package trust

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/certificate"
)

// PeerCache memoiza ATs de otras estaciones ya validados contra el AA de la
// cadena, por HashedId8. Cada entrada expira con la validez del certificado
// (acotada por maxTTL).
type PeerCache struct {
	c      *gocache.Cache
	chain  *Chain
	b      backend.Backend
	maxTTL time.Duration
}

func NewPeerCache(chain *Chain, b backend.Backend, maxTTL time.Duration) *PeerCache {
	return &PeerCache{
		c:      gocache.New(maxTTL, time.Minute),
		chain:  chain,
		b:      b,
		maxTTL: maxTTL,
	}
}

// Get returns a cached peer certificate.
func (p *PeerCache) Get(id backend.HashedId8) (*certificate.WithHash, bool) {
	v, ok := p.c.Get(id.String())
	if !ok {
		return nil, false
	}
	w, ok := v.(*certificate.WithHash)
	return w, ok
}

// Resolve parses a peer AT carried inside a message, validates it against
// the chain and caches it.
func (p *PeerCache) Resolve(raw []byte, now time.Time) (*certificate.WithHash, error) {
	w, err := certificate.Parse(certificate.AuthorizationTicket, raw, p.b)
	if err != nil {
		return nil, err
	}
	if cached, ok := p.Get(w.HashedId8()); ok {
		return cached, nil
	}
	if err := validate(w, p.chain.issuerLookup(certificate.AuthorizationTicket), now, p.b, nil); err != nil {
		return nil, err
	}
	ttl := w.ValidityPeriod().End().Time().Sub(now)
	if ttl > p.maxTTL {
		ttl = p.maxTTL
	}
	if ttl > 0 {
		p.c.Set(w.HashedId8().String(), w, ttl)
	}
	return w, nil
}

// Len is the number of cached peers.
func (p *PeerCache) Len() int { return p.c.ItemCount() }

// Package trust arma y mantiene la cadena de confianza de la estación:
// Root → {EA → EC, AA → AT[]}. Nada entra a la cadena sin validarse contra un
// firmante ya confiable.
package trust

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/v2xsec/internal/metrics"
	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/certificate"
	"github.com/dropDatabas3/v2xsec/internal/security/storage"
)

var (
	ErrFalseSignature = errors.New("trust: false certificate signature")
	ErrKeyMismatch    = errors.New("trust: certificate key differs from backend key")
	ErrNoSigner       = errors.New("trust: signer certificate not in chain")
	ErrUnknownSlot    = errors.New("trust: no backend key for AT slot")
)

// CheckError is a failure to load or validate one chain entity.
type CheckError struct {
	Kind  certificate.Kind
	Index uint64 // solo para AT
	Op    string
	Err   error
}

func (e *CheckError) Error() string {
	if e.Kind == certificate.AuthorizationTicket {
		return fmt.Sprintf("trust: %s[%d] %s: %v", e.Kind, e.Index, e.Op, e.Err)
	}
	return fmt.Sprintf("trust: %s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *CheckError) Unwrap() error { return e.Err }

// ATEntry is an authorization ticket and its election counter.
type ATEntry struct {
	Cert            *certificate.WithHash
	ElectionCounter uint64
}

// Chain is the validated certificate set of the station.
type Chain struct {
	mu   sync.RWMutex
	root *certificate.WithHash
	ea   *certificate.WithHash
	aa   *certificate.WithHash
	ec   *certificate.WithHash
	ats  map[uint64]*ATEntry
}

func newChain(root *certificate.WithHash) *Chain {
	return &Chain{root: root, ats: make(map[uint64]*ATEntry)}
}

func (c *Chain) Root() *certificate.WithHash { return c.root }

func (c *Chain) EA() *certificate.WithHash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ea
}

func (c *Chain) AA() *certificate.WithHash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aa
}

func (c *Chain) EC() *certificate.WithHash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ec
}

// AT returns a copy of the entry at index.
func (c *Chain) AT(index uint64) (ATEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.ats[index]
	if !ok {
		return ATEntry{}, false
	}
	return *e, true
}

// ATIndexes devuelve los índices presentes, ordenados.
func (c *Chain) ATIndexes() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint64, 0, len(c.ats))
	for idx := range c.ats {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lookup resolves a HashedId8 against every certificate of the chain.
func (c *Chain) Lookup(id backend.HashedId8) *certificate.WithHash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, w := range []*certificate.WithHash{c.root, c.ea, c.aa, c.ec} {
		if w != nil && w.HashedId8() == id {
			return w
		}
	}
	for _, e := range c.ats {
		if e.Cert.HashedId8() == id {
			return e.Cert
		}
	}
	return nil
}

// issuerLookup resolves only the authority allowed to sign kind:
// EA/AA ← Root, EC ← EA, AT ← AA.
func (c *Chain) issuerLookup(kind certificate.Kind) certificate.SignerLookup {
	return func(id backend.HashedId8) *certificate.WithHash {
		c.mu.RLock()
		defer c.mu.RUnlock()
		var issuer *certificate.WithHash
		switch kind {
		case certificate.EnrollmentAuthority, certificate.AuthorizationAuthority:
			issuer = c.root
		case certificate.EnrollmentCredential:
			issuer = c.ea
		case certificate.AuthorizationTicket:
			issuer = c.aa
		}
		if issuer != nil && issuer.HashedId8() == id {
			return issuer
		}
		return nil
	}
}

// InstallEC validates ec against the EA and the backend enrollment key
// before replacing the current EC.
func (c *Chain) InstallEC(ec *certificate.WithHash, b backend.Backend, now time.Time) error {
	if c.EA() == nil {
		return &CheckError{Kind: certificate.EnrollmentCredential, Op: "install", Err: ErrNoSigner}
	}
	key, err := b.EnrollmentPubkey()
	if err != nil {
		return &CheckError{Kind: certificate.EnrollmentCredential, Op: "backend key", Err: err}
	}
	if err := validate(ec, c.issuerLookup(certificate.EnrollmentCredential), now, b, &key); err != nil {
		return &CheckError{Kind: certificate.EnrollmentCredential, Op: "check", Err: err}
	}
	c.mu.Lock()
	c.ec = ec
	c.mu.Unlock()
	return nil
}

// InstallAT validates at against the AA and the backend key of index, then
// adds it with a zero election counter (mirrored into meta).
func (c *Chain) InstallAT(index uint64, at *certificate.WithHash, b backend.Backend, now time.Time, meta *storage.Metadata) error {
	if c.AA() == nil {
		return &CheckError{Kind: certificate.AuthorizationTicket, Index: index, Op: "install", Err: ErrNoSigner}
	}
	keys, err := b.AvailableATKeys()
	if err != nil {
		return &CheckError{Kind: certificate.AuthorizationTicket, Index: index, Op: "backend keys", Err: err}
	}
	key, ok := keys[index]
	if !ok {
		return &CheckError{Kind: certificate.AuthorizationTicket, Index: index, Op: "backend keys", Err: ErrUnknownSlot}
	}
	if err := validate(at, c.issuerLookup(certificate.AuthorizationTicket), now, b, &key); err != nil {
		return &CheckError{Kind: certificate.AuthorizationTicket, Index: index, Op: "check", Err: err}
	}
	c.mu.Lock()
	c.ats[index] = &ATEntry{Cert: at}
	if meta != nil {
		meta.SetCounter(index, 0)
	}
	n := len(c.ats)
	c.mu.Unlock()
	metrics.TrustChainATs.Set(float64(n))
	return nil
}

// RemoveAT drops the AT at index, e.g. before its backend key is replaced.
func (c *Chain) RemoveAT(index uint64, meta *storage.Metadata) bool {
	c.mu.Lock()
	_, ok := c.ats[index]
	delete(c.ats, index)
	n := len(c.ats)
	c.mu.Unlock()
	if meta != nil {
		meta.Remove(index)
	}
	metrics.TrustChainATs.Set(float64(n))
	return ok
}

// LeastElectedAT picks the unexpired AT with the lowest election counter;
// ties go to the lowest index.
func (c *Chain) LeastElectedAT(now time.Time) (uint64, *certificate.WithHash, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t := backend.Time32From(now)
	var (
		best    *ATEntry
		bestIdx uint64
	)
	for idx, e := range c.ats {
		if !e.Cert.ValidityPeriod().ContainsTime(t) {
			continue
		}
		if best == nil || e.ElectionCounter < best.ElectionCounter ||
			(e.ElectionCounter == best.ElectionCounter && idx < bestIdx) {
			best, bestIdx = e, idx
		}
	}
	if best == nil {
		return 0, nil, false
	}
	return bestIdx, best.Cert, true
}

// MarkElected increments the election counter of index and mirrors it into
// meta.
func (c *Chain) MarkElected(index uint64, meta *storage.Metadata) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.ats[index]
	if !ok {
		return 0, false
	}
	e.ElectionCounter++
	if meta != nil {
		meta.SetCounter(index, e.ElectionCounter)
	}
	return e.ElectionCounter, true
}

// validate runs the certificate check and, when key is given, the
// backend-key match.
func validate(w *certificate.WithHash, lookup certificate.SignerLookup, now time.Time, b backend.Backend, key *backend.PublicVerificationKey) error {
	ok, err := w.Check(now, b, lookup)
	if err != nil {
		return err
	}
	if !ok {
		return ErrFalseSignature
	}
	if key != nil && !w.VerifyKey().Equal(*key) {
		return ErrKeyMismatch
	}
	return nil
}

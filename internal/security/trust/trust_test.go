package trust_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/backend/software"
	"github.com/dropDatabas3/v2xsec/internal/security/certificate"
	"github.com/dropDatabas3/v2xsec/internal/security/storage"
	"github.com/dropDatabas3/v2xsec/internal/security/testpki"
	"github.com/dropDatabas3/v2xsec/internal/security/trust"
)

var now = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

type fixture struct {
	pki *testpki.PKI
	b   *software.Backend
	st  *storage.MemoryStorage
}

func newFixture(t *testing.T, atSlots ...uint64) *fixture {
	t.Helper()
	p, err := testpki.New(now)
	require.NoError(t, err)
	b, err := software.New(software.Options{Curve: backend.NistP256})
	require.NoError(t, err)

	st := storage.NewMemory()
	require.NoError(t, st.StoreRootCertificate(p.Root.Cert.Raw()))
	require.NoError(t, st.StoreEACertificate(p.EA.Cert.Raw()))
	require.NoError(t, st.StoreAACertificate(p.AA.Cert.Raw()))

	ecKey, err := b.EnrollmentPubkey()
	require.NoError(t, err)
	ec, err := p.IssueEC(ecKey)
	require.NoError(t, err)
	require.NoError(t, st.StoreECCertificate(ec.Raw()))

	for _, idx := range atSlots {
		key, err := b.GenerateATKeyPair(idx, backend.NistP256)
		require.NoError(t, err)
		at, err := p.IssueAT(key)
		require.NoError(t, err)
		require.NoError(t, st.StoreATCertificate(idx, at.Raw()))
	}
	return &fixture{pki: p, b: b, st: st}
}

func TestSetup_FullChain(t *testing.T) {
	f := newFixture(t, 0, 1, 2)

	chain, meta, err := trust.Setup(context.Background(), f.st, f.b, now)
	require.NoError(t, err)
	require.NotNil(t, chain.EA())
	require.NotNil(t, chain.AA())
	require.NotNil(t, chain.EC())
	require.Equal(t, []uint64{0, 1, 2}, chain.ATIndexes())
	require.Equal(t, []uint64{0, 1, 2}, meta.Indexes())

	stored, err := f.st.LoadMetadata()
	require.NoError(t, err)
	require.Equal(t, meta.Indexes(), stored.Indexes())

	// cada certificado queda dentro de la validez de su firmante
	for _, idx := range chain.ATIndexes() {
		e, ok := chain.AT(idx)
		require.True(t, ok)
		require.True(t, chain.AA().ValidityPeriod().Contains(e.Cert.ValidityPeriod()))
	}
	require.True(t, chain.Root().ValidityPeriod().Contains(chain.EA().ValidityPeriod()))
	require.True(t, chain.EA().ValidityPeriod().Contains(chain.EC().ValidityPeriod()))
	require.Same(t, chain.EA(), chain.Lookup(chain.EA().HashedId8()))
}

func TestSetup_RootMissingIsFatal(t *testing.T) {
	b, err := software.New(software.Options{Curve: backend.NistP256})
	require.NoError(t, err)

	_, _, err = trust.Setup(context.Background(), storage.NewMemory(), b, now)
	require.ErrorIs(t, err, storage.ErrNotFound)
	var ce *trust.CheckError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, certificate.Root, ce.Kind)
}

func TestSetup_ExpiredRoot(t *testing.T) {
	f := newFixture(t)
	old, err := f.pki.ExpiredRoot()
	require.NoError(t, err)
	require.NoError(t, f.st.StoreRootCertificate(old.Raw()))

	_, _, err = trust.Setup(context.Background(), f.st, f.b, now)
	require.ErrorIs(t, err, certificate.ErrExpired)
}

func TestSetup_ATKeyMismatchIsDropped(t *testing.T) {
	f := newFixture(t, 0, 1, 2)

	// AT del slot 1 emitido para la clave del slot 2
	keys, err := f.b.AvailableATKeys()
	require.NoError(t, err)
	wrong, err := f.pki.IssueAT(keys[2])
	require.NoError(t, err)
	require.NoError(t, f.st.StoreATCertificate(1, wrong.Raw()))

	chain, _, err := trust.Setup(context.Background(), f.st, f.b, now)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 2}, chain.ATIndexes())
	_, ok := chain.AT(1)
	require.False(t, ok)
}

func TestSetup_ForeignEAIsSkipped(t *testing.T) {
	f := newFixture(t, 0)
	other, err := testpki.New(now)
	require.NoError(t, err)
	require.NoError(t, f.st.StoreEACertificate(other.EA.Cert.Raw()))

	chain, _, err := trust.Setup(context.Background(), f.st, f.b, now)
	require.NoError(t, err)
	require.Nil(t, chain.EA())
	require.Nil(t, chain.EC())
	require.NotNil(t, chain.AA())
	require.Len(t, chain.ATIndexes(), 1)
}

func TestSetup_RestoresCountersAndToleratesMetadataWriteFailure(t *testing.T) {
	f := newFixture(t, 0, 1)
	m := storage.NewMetadata()
	m.SetCounter(0, 5)
	require.NoError(t, f.st.StoreMetadata(m))
	f.st.FailMetadataWrites = true

	chain, meta, err := trust.Setup(context.Background(), f.st, f.b, now)
	require.NoError(t, err)
	e0, _ := chain.AT(0)
	e1, _ := chain.AT(1)
	require.Equal(t, uint64(5), e0.ElectionCounter)
	require.Equal(t, uint64(0), e1.ElectionCounter)
	c, ok := meta.Counter(1)
	require.True(t, ok)
	require.Zero(t, c)
}

func TestElection_RoundRobin(t *testing.T) {
	f := newFixture(t, 3, 7)
	chain, meta, err := trust.Setup(context.Background(), f.st, f.b, now)
	require.NoError(t, err)

	var picked []uint64
	for i := 0; i < 4; i++ {
		idx, at, ok := chain.LeastElectedAT(now)
		require.True(t, ok)
		require.NotNil(t, at)
		_, ok = chain.MarkElected(idx, meta)
		require.True(t, ok)
		picked = append(picked, idx)
	}
	require.Equal(t, []uint64{3, 7, 3, 7}, picked)
	c, _ := meta.Counter(3)
	require.Equal(t, uint64(2), c)

	_, _, ok := chain.LeastElectedAT(now.Add(30 * 24 * time.Hour))
	require.False(t, ok, "expired ATs are never elected")
}

func TestInstallAT(t *testing.T) {
	f := newFixture(t)
	chain, meta, err := trust.Setup(context.Background(), f.st, f.b, now)
	require.NoError(t, err)

	key, err := f.b.GenerateATKeyPair(9, backend.NistP256)
	require.NoError(t, err)
	at, err := f.pki.IssueAT(key)
	require.NoError(t, err)

	require.ErrorIs(t, chain.InstallAT(8, at, f.b, now, meta), trust.ErrUnknownSlot)
	require.NoError(t, chain.InstallAT(9, at, f.b, now, meta))
	_, ok := chain.AT(9)
	require.True(t, ok)

	other, err := f.b.GenerateATKeyPair(10, backend.NistP256)
	require.NoError(t, err)
	require.NotNil(t, other)
	require.ErrorIs(t, chain.InstallAT(10, at, f.b, now, meta), trust.ErrKeyMismatch)
}

func TestSetup_DropsATFromWrongIssuer(t *testing.T) {
	f := newFixture(t, 2)
	for idx, issuer := range map[uint64]*testpki.Authority{0: f.pki.EA, 1: f.pki.Root} {
		key, err := f.b.GenerateATKeyPair(idx, backend.NistP256)
		require.NoError(t, err)
		at, err := f.pki.IssueATBy(issuer, key)
		require.NoError(t, err)
		require.NoError(t, f.st.StoreATCertificate(idx, at.Raw()))
	}

	chain, _, err := trust.Setup(context.Background(), f.st, f.b, now)
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, chain.ATIndexes())
}

func TestInstall_RejectsWrongIssuer(t *testing.T) {
	f := newFixture(t)
	chain, meta, err := trust.Setup(context.Background(), f.st, f.b, now)
	require.NoError(t, err)
	var unknown *certificate.UnknownSignerError

	key, err := f.b.GenerateATKeyPair(4, backend.NistP256)
	require.NoError(t, err)
	for _, issuer := range []*testpki.Authority{f.pki.EA, f.pki.Root} {
		at, err := f.pki.IssueATBy(issuer, key)
		require.NoError(t, err)
		require.True(t, errors.As(chain.InstallAT(4, at, f.b, now, meta), &unknown))
	}
	_, ok := chain.AT(4)
	require.False(t, ok)

	enrol, err := f.b.GenerateReEnrollmentKeyPair(backend.NistP256)
	require.NoError(t, err)
	require.NoError(t, f.b.CommitReEnrollmentKey())
	ec, err := f.pki.IssueECBy(f.pki.AA, enrol)
	require.NoError(t, err)
	require.True(t, errors.As(chain.InstallEC(ec, f.b, now), &unknown))

	peers := trust.NewPeerCache(chain, f.b, time.Hour)
	eaAT, err := f.pki.IssueATBy(f.pki.EA, key)
	require.NoError(t, err)
	_, err = peers.Resolve(eaAT.Raw(), now)
	require.True(t, errors.As(err, &unknown))
}

func TestInstallEC_RequiresEnrollmentKey(t *testing.T) {
	f := newFixture(t)
	chain, _, err := trust.Setup(context.Background(), f.st, f.b, now)
	require.NoError(t, err)

	canon, err := f.b.CanonicalPubkey()
	require.NoError(t, err)
	bad, err := f.pki.IssueEC(canon)
	require.NoError(t, err)
	require.ErrorIs(t, chain.InstallEC(bad, f.b, now), trust.ErrKeyMismatch)

	key, err := f.b.EnrollmentPubkey()
	require.NoError(t, err)
	good, err := f.pki.IssueEC(key)
	require.NoError(t, err)
	require.NoError(t, chain.InstallEC(good, f.b, now))
	require.Same(t, good, chain.EC())
}

func TestPeerCache(t *testing.T) {
	f := newFixture(t)
	chain, _, err := trust.Setup(context.Background(), f.st, f.b, now)
	require.NoError(t, err)
	peers := trust.NewPeerCache(chain, f.b, time.Hour)

	peerBackend, err := software.New(software.Options{Curve: backend.NistP256})
	require.NoError(t, err)
	key, err := peerBackend.GenerateATKeyPair(0, backend.NistP256)
	require.NoError(t, err)
	at, err := f.pki.IssueAT(key)
	require.NoError(t, err)

	got, err := peers.Resolve(at.Raw(), now)
	require.NoError(t, err)
	require.Equal(t, at.HashedId8(), got.HashedId8())
	require.Equal(t, 1, peers.Len())
	cached, ok := peers.Get(at.HashedId8())
	require.True(t, ok)
	require.Same(t, got, cached)

	foreign, err := testpki.New(now)
	require.NoError(t, err)
	fat, err := foreign.IssueAT(key)
	require.NoError(t, err)
	_, err = peers.Resolve(fat.Raw(), now)
	var unknown *certificate.UnknownSignerError
	require.True(t, errors.As(err, &unknown))
}

func TestRemoveAT(t *testing.T) {
	f := newFixture(t, 0, 1)
	chain, meta, err := trust.Setup(context.Background(), f.st, f.b, now)
	require.NoError(t, err)

	require.True(t, chain.RemoveAT(0, meta))
	require.False(t, chain.RemoveAT(0, meta))
	require.Equal(t, []uint64{1}, chain.ATIndexes())
	require.Equal(t, []uint64{1}, meta.Indexes())
}

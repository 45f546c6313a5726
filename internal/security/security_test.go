package security_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/v2xsec/internal/security"
	"github.com/dropDatabas3/v2xsec/internal/security/authorization"
	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/backend/software"
	"github.com/dropDatabas3/v2xsec/internal/security/enrollment"
	"github.com/dropDatabas3/v2xsec/internal/security/message"
	"github.com/dropDatabas3/v2xsec/internal/security/pki"
	"github.com/dropDatabas3/v2xsec/internal/security/storage"
	"github.com/dropDatabas3/v2xsec/internal/security/testpki"
	"github.com/dropDatabas3/v2xsec/internal/security/trust"
)

var (
	now            = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	errUnreachable = errors.New("pki unreachable")
)

type pkiTransport struct {
	p        *testpki.PKI
	failures int
	requests [][]byte
}

func (t *pkiTransport) Send(_ context.Context, to security.Endpoint, req []byte) ([]byte, error) {
	t.requests = append(t.requests, req)
	if t.failures > 0 {
		t.failures--
		return nil, errUnreachable
	}
	if to == security.EndpointEA {
		return t.p.HandleEnrollment(req)
	}
	return t.p.HandleAuthorization(req)
}

type station struct {
	cfg *security.Config
	b   *software.Backend
	st  *storage.MemoryStorage
}

func newStation(t *testing.T, p *testpki.PKI, itsID string) *station {
	t.Helper()
	b, err := software.New(software.Options{Curve: backend.NistP256})
	require.NoError(t, err)
	canon, err := b.CanonicalPubkey()
	require.NoError(t, err)
	p.RegisterStation([]byte(itsID), canon)

	st := storage.NewMemory()
	require.NoError(t, st.StoreRootCertificate(p.Root.Cert.Raw()))
	require.NoError(t, st.StoreEACertificate(p.EA.Cert.Raw()))
	require.NoError(t, st.StoreAACertificate(p.AA.Cert.Raw()))

	chain, meta, err := trust.Setup(context.Background(), st, b, now)
	require.NoError(t, err)
	cfg, err := security.New(b, chain, meta, st, security.Settings{
		ItsID:      []byte(itsID),
		Curve:      backend.NistP256,
		MaxRetries: 3,
	})
	require.NoError(t, err)
	cfg.Now = func() time.Time { return now }
	return &station{cfg: cfg, b: b, st: st}
}

func provisioned(t *testing.T, p *testpki.PKI, itsID string, slots ...uint64) *station {
	t.Helper()
	s := newStation(t, p, itsID)
	tr := &pkiTransport{p: p}
	_, err := s.cfg.Enroll(context.Background(), tr)
	require.NoError(t, err)
	for _, idx := range slots {
		_, err := s.cfg.Authorize(context.Background(), tr, idx)
		require.NoError(t, err)
	}
	return s
}

func newPKI(t *testing.T) *testpki.PKI {
	t.Helper()
	p, err := testpki.New(now)
	require.NoError(t, err)
	return p
}

func TestEnrollAuthorizeSignVerify(t *testing.T) {
	p := newPKI(t)
	s := newStation(t, p, "station-a")
	tr := &pkiTransport{p: p}
	ctx := context.Background()

	ec, err := s.cfg.Enroll(ctx, tr)
	require.NoError(t, err)
	require.Same(t, ec, s.cfg.Chain.EC())
	stored, err := s.st.LoadECCertificate()
	require.NoError(t, err)
	require.Equal(t, ec.Raw(), stored)
	key, err := s.b.EnrollmentPubkey()
	require.NoError(t, err)
	require.True(t, key.Equal(ec.VerifyKey()))

	for _, idx := range []uint64{0, 1} {
		at, err := s.cfg.Authorize(ctx, tr, idx)
		require.NoError(t, err)
		e, ok := s.cfg.Chain.AT(idx)
		require.True(t, ok)
		require.Same(t, at, e.Cert)
		raw, err := s.st.LoadATCertificate(idx)
		require.NoError(t, err)
		require.Equal(t, at.Raw(), raw)
	}

	msg, err := s.cfg.SignMessage(ctx, []byte("cam"), backend.AidCAM)
	require.NoError(t, err)
	payload, signer, err := s.cfg.VerifyMessage(ctx, msg, backend.AidCAM)
	require.NoError(t, err)
	require.Equal(t, []byte("cam"), payload)
	first, _ := s.cfg.Chain.AT(0)
	require.Equal(t, first.Cert.HashedId8(), signer.HashedId8())

	_, _, err = s.cfg.VerifyMessage(ctx, msg, backend.AidDENM)
	require.ErrorIs(t, err, message.ErrUnexpectedAid)
}

func TestSignMessage_RotatesAndPersistsCounters(t *testing.T) {
	p := newPKI(t)
	s := provisioned(t, p, "station-a", 0, 1)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.cfg.SignMessage(ctx, []byte{byte(i)}, backend.AidDENM)
		require.NoError(t, err)
	}
	meta, err := s.st.LoadMetadata()
	require.NoError(t, err)
	for _, idx := range []uint64{0, 1} {
		c, ok := meta.Counter(idx)
		require.True(t, ok)
		require.Equal(t, uint64(2), c)
	}
}

func TestSignMessage_Errors(t *testing.T) {
	p := newPKI(t)
	s := provisioned(t, p, "station-a")

	_, err := s.cfg.SignMessage(context.Background(), []byte("x"), backend.AidCAM)
	require.ErrorIs(t, err, security.ErrNoAuthorizationTicket)

	_, err = s.cfg.Authorize(context.Background(), &pkiTransport{p: p}, 0)
	require.NoError(t, err)
	_, err = s.cfg.SignMessage(context.Background(), []byte("x"), backend.AidSecuredCertificateRequest)
	require.ErrorIs(t, err, message.ErrPermissionNotGranted)
}

func TestEnroll_RetriesDeliveryWithFreshRequests(t *testing.T) {
	p := newPKI(t)
	s := newStation(t, p, "station-a")
	tr := &pkiTransport{p: p, failures: 2}

	_, err := s.cfg.Enroll(context.Background(), tr)
	require.NoError(t, err)
	require.Len(t, tr.requests, 3)
	require.NotEqual(t, tr.requests[0], tr.requests[1])
	require.NotEqual(t, tr.requests[1], tr.requests[2])
}

func TestEnroll_GivesUpAfterMaxRetries(t *testing.T) {
	p := newPKI(t)
	s := newStation(t, p, "station-a")
	tr := &pkiTransport{p: p, failures: 5}

	_, err := s.cfg.Enroll(context.Background(), tr)
	require.ErrorIs(t, err, errUnreachable)
	var te *security.TransportError
	require.True(t, errors.As(err, &te))
	require.Equal(t, 3, te.Attempt)
	require.Equal(t, security.EndpointEA, te.Endpoint)
	require.Nil(t, s.cfg.Chain.EC())
}

func TestEnroll_FailureCodeIsNotRetried(t *testing.T) {
	p := newPKI(t)
	p.EnrolmentCode = uint8(pki.EnrolmentDeniedRequest)
	s := newStation(t, p, "station-a")
	tr := &pkiTransport{p: p}

	_, err := s.cfg.Enroll(context.Background(), tr)
	var fe *enrollment.FailureError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, pki.EnrolmentDeniedRequest, fe.Code)
	require.Len(t, tr.requests, 1)
	_, err = s.st.LoadECCertificate()
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEnroll_ReEnrollment(t *testing.T) {
	p := newPKI(t)
	s := provisioned(t, p, "station-a")
	first := s.cfg.Chain.EC()

	second, err := s.cfg.Enroll(context.Background(), &pkiTransport{p: p})
	require.NoError(t, err)
	require.NotEqual(t, first.HashedId8(), second.HashedId8())
	key, err := s.b.EnrollmentPubkey()
	require.NoError(t, err)
	require.True(t, key.Equal(second.VerifyKey()))
}

func TestEnroll_ContextCancelled(t *testing.T) {
	p := newPKI(t)
	s := newStation(t, p, "station-a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := &pkiTransport{p: p}
	_, err := s.cfg.Enroll(ctx, tr)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, tr.requests)
}

func TestAuthorize_RequiresEC(t *testing.T) {
	p := newPKI(t)
	s := newStation(t, p, "station-a")
	_, err := s.cfg.Authorize(context.Background(), &pkiTransport{p: p}, 0)
	require.ErrorIs(t, err, authorization.ErrMissingAuthority)
}

func TestAuthorize_ReplacesSlot(t *testing.T) {
	p := newPKI(t)
	s := provisioned(t, p, "station-a", 0)
	old, _ := s.cfg.Chain.AT(0)
	_, err := s.cfg.SignMessage(context.Background(), []byte("x"), backend.AidCAM)
	require.NoError(t, err)

	at, err := s.cfg.Authorize(context.Background(), &pkiTransport{p: p}, 0)
	require.NoError(t, err)
	require.NotEqual(t, old.Cert.HashedId8(), at.HashedId8())
	e, ok := s.cfg.Chain.AT(0)
	require.True(t, ok)
	require.Zero(t, e.ElectionCounter)
}

func TestAuthorize_FailureKeepsCurrentAT(t *testing.T) {
	p := newPKI(t)
	s := provisioned(t, p, "station-a", 0)
	old, ok := s.cfg.Chain.AT(0)
	require.True(t, ok)
	keys, err := s.b.AvailableATKeys()
	require.NoError(t, err)
	oldKey := keys[0]

	p.AuthorizationCode = uint8(pki.AuthorizationDeniedPermissions)
	_, err = s.cfg.Authorize(context.Background(), &pkiTransport{p: p}, 0)
	var fe *authorization.FailureError
	require.True(t, errors.As(err, &fe))

	e, ok := s.cfg.Chain.AT(0)
	require.True(t, ok)
	require.Equal(t, old.Cert.HashedId8(), e.Cert.HashedId8())
	keys, err = s.b.AvailableATKeys()
	require.NoError(t, err)
	require.True(t, keys[0].Equal(oldKey))
	raw, err := s.st.LoadATCertificate(0)
	require.NoError(t, err)
	require.Equal(t, old.Cert.Raw(), raw)

	// el AT vigente sigue firmando y verificando
	msg, err := s.cfg.SignMessage(context.Background(), []byte("cam"), backend.AidCAM)
	require.NoError(t, err)
	_, signer, err := s.cfg.VerifyMessage(context.Background(), msg, backend.AidCAM)
	require.NoError(t, err)
	require.Equal(t, old.Cert.HashedId8(), signer.HashedId8())

	// un transporte caído tampoco toca el slot
	_, err = s.cfg.Authorize(context.Background(), &pkiTransport{p: p, failures: 5}, 0)
	require.ErrorIs(t, err, errUnreachable)
	e, ok = s.cfg.Chain.AT(0)
	require.True(t, ok)
	require.Equal(t, old.Cert.HashedId8(), e.Cert.HashedId8())
}

func TestVerifyMessage_Peers(t *testing.T) {
	p := newPKI(t)
	a := provisioned(t, p, "station-a", 0)
	b := provisioned(t, p, "station-b", 0)
	ctx := context.Background()

	// sin certificado embebido el digest es desconocido para a
	msg, err := b.cfg.SignMessage(ctx, []byte("hello"), backend.AidCAM)
	require.NoError(t, err)
	_, _, err = a.cfg.VerifyMessage(ctx, msg, backend.AidCAM)
	require.ErrorIs(t, err, security.ErrUnknownSigner)

	b.cfg.Settings.EmbedCertificate = true
	msg, err = b.cfg.SignMessage(ctx, []byte("hello"), backend.AidCAM)
	require.NoError(t, err)
	payload, signer, err := a.cfg.VerifyMessage(ctx, msg, backend.AidCAM)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), payload)
	require.Equal(t, 1, a.cfg.Peers.Len())

	// ya cacheado: el digest alcanza
	b.cfg.Settings.EmbedCertificate = false
	msg, err = b.cfg.SignMessage(ctx, []byte("again"), backend.AidCAM)
	require.NoError(t, err)
	payload, cached, err := a.cfg.VerifyMessage(ctx, msg, backend.AidCAM)
	require.NoError(t, err)
	require.Equal(t, []byte("again"), payload)
	require.Equal(t, signer.HashedId8(), cached.HashedId8())
}

func TestVerifyMessage_ForeignPKI(t *testing.T) {
	a := provisioned(t, newPKI(t), "station-a", 0)
	other := provisioned(t, newPKI(t), "station-x", 0)
	other.cfg.Settings.EmbedCertificate = true

	msg, err := other.cfg.SignMessage(context.Background(), []byte("spoof"), backend.AidCAM)
	require.NoError(t, err)
	_, _, err = a.cfg.VerifyMessage(context.Background(), msg, backend.AidCAM)
	require.Error(t, err)
	require.Zero(t, a.cfg.Peers.Len())
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := security.New(nil, nil, nil, storage.NewMemory(), security.Settings{})
	require.ErrorIs(t, err, security.ErrMissingDependency)
}

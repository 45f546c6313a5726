package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTime32(t *testing.T) {
	require.Equal(t, Time32(0), Time32From(time.Date(2003, 12, 31, 0, 0, 0, 0, time.UTC)))
	// la época ya lleva los 5 segundos intercalares
	require.Equal(t, Time32(5), Time32From(itsEpoch))

	at := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	require.True(t, at.Equal(Time32From(at).Time()))
	// resolución de segundos
	require.Equal(t, Time32From(at), Time32From(at.Add(999*time.Millisecond)))
}

func TestTime64(t *testing.T) {
	require.Equal(t, Time64(5_000_000), Time64From(itsEpoch))
	at := time.Date(2026, 5, 10, 8, 0, 0, 123456000, time.UTC)
	require.True(t, at.Equal(Time64From(at).Time()))
}

func TestHashedId8From(t *testing.T) {
	digest := make([]byte, 32)
	for i := range digest {
		digest[i] = byte(i)
	}
	id := HashedId8From(digest)
	require.Equal(t, HashedId8{24, 25, 26, 27, 28, 29, 30, 31}, id)
	require.Equal(t, "18191a1b1c1d1e1f", id.String())
	require.False(t, id.IsZero())
	require.True(t, HashedId8From([]byte{1, 2}).IsZero())
}

func TestEccPointForms(t *testing.T) {
	x := []byte{0xaa, 0xbb}
	even := EccPoint{Kind: PointUncompressed, X: x, Y: []byte{0x01, 0x02}}
	odd := EccPoint{Kind: PointUncompressed, X: x, Y: []byte{0x01, 0x03}}

	require.Equal(t, PointCompressedY0, even.Compressed().Kind)
	require.Equal(t, PointCompressedY1, odd.Compressed().Kind)
	require.True(t, even.Equal(EccPoint{Kind: PointCompressedY0, X: x}))
	require.False(t, even.Equal(odd))

	require.Equal(t, PointXOnly, odd.XOnly().Kind)
	require.Equal(t, x, odd.XOnly().X)

	sec1, err := odd.Compressed().SEC1()
	require.NoError(t, err)
	require.Equal(t, []byte{0x03, 0xaa, 0xbb}, sec1)
	_, err = odd.XOnly().SEC1()
	require.ErrorIs(t, err, ErrInvalidPoint)
}

func TestCurveProperties(t *testing.T) {
	require.Equal(t, SHA256, NistP256.Hash())
	require.Equal(t, SHA384, NistP384.Hash())
	require.Equal(t, SM3, SM2.Hash())
	require.Equal(t, 48, BrainpoolP384r1.FieldSize())
	require.Equal(t, 32, BrainpoolP256r1.FieldSize())

	_, err := ParseCurve("ed25519")
	require.ErrorIs(t, err, ErrUnsupportedCurve)

	sig := PlaceholderSignature(NistP384)
	require.Len(t, sig.S, 48)
	require.Equal(t, PointXOnly, sig.R.Kind)
}

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	_    struct{} `cbor:",toarray"`
	A    uint8
	B    []byte
	Next *sample
}

func TestMarshal_Deterministic(t *testing.T) {
	v := sample{A: 7, B: []byte{1, 2, 3}, Next: &sample{A: 1}}

	b1, err := Marshal(v)
	require.NoError(t, err)
	b2, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, b1, b2)

	var got sample
	require.NoError(t, Unmarshal(b1, &got))
	require.Equal(t, v.A, got.A)
	require.Equal(t, v.B, got.B)
	require.NotNil(t, got.Next)
	require.Nil(t, got.Next.Next)
}

func TestUnmarshal_RejectsTrailingBytes(t *testing.T) {
	b, err := Marshal(sample{A: 1})
	require.NoError(t, err)

	var got sample
	err = Unmarshal(append(b, 0x00), &got)
	require.ErrorIs(t, err, ErrDecode)
}

func TestUnmarshal_Garbage(t *testing.T) {
	var got sample
	require.ErrorIs(t, Unmarshal([]byte{0xff, 0xff}, &got), ErrDecode)
}

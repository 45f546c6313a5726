package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/codec"
)

type testMsg struct{}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSignedData_RoundTrip(t *testing.T) {
	cases := map[string]*SignedData[testMsg]{
		"inline":   New[testMsg](InlineData([]byte("payload")), backend.AidCAM, now, backend.NistP256),
		"external": New[testMsg](ExternalHash(backend.SHA256, make([]byte, 32)), backend.AidSecuredCertificateRequest, now, backend.NistP256),
		"p384":     New[testMsg](InlineData([]byte{0}), backend.AidDENM, now, backend.NistP384),
	}
	for name, sd := range cases {
		t.Run(name, func(t *testing.T) {
			sd.SetSigner(DigestSigner(backend.HashedId8{1, 2, 3, 4, 5, 6, 7, 8}))
			raw, err := sd.AsBytes()
			require.NoError(t, err)

			back, err := FromBytes[testMsg](raw)
			require.NoError(t, err)
			require.Equal(t, sd.wire, back.wire)

			raw2, err := back.AsBytes()
			require.NoError(t, err)
			require.Equal(t, raw, raw2)
		})
	}
}

func TestSignedData_Accessors(t *testing.T) {
	inline := New[testMsg](InlineData([]byte("x")), backend.AidCAM, now, backend.NistP256)
	b, err := inline.Data()
	require.NoError(t, err)
	require.Equal(t, "x", string(b))
	_, err = inline.ExtDataHash()
	require.ErrorIs(t, err, ErrNoData)

	ext := New[testMsg](ExternalHash(backend.SHA256, []byte{9}), backend.AidCAM, now, backend.NistP256)
	_, err = ext.Data()
	require.ErrorIs(t, err, ErrNoData)
	h, err := ext.ExtDataHash()
	require.NoError(t, err)
	require.Equal(t, []byte{9}, h.Digest)

	require.Equal(t, backend.AidCAM, inline.HeaderInfo().Psid)
	require.NotNil(t, inline.HeaderInfo().GenerationTime)
	require.Equal(t, SignerSelf, inline.Signer().Kind)
}

func TestSignedData_DataContentMustBeUnsecured(t *testing.T) {
	sd := New[testMsg](InlineData([]byte("x")), backend.AidCAM, now, backend.NistP256)
	inner := Encrypted(&EncryptedData{})
	sd.wire.TBSData.Payload.Data = &inner

	_, err := sd.Data()
	require.ErrorIs(t, err, ErrDataContent)
}

func TestSignedData_HashAlgorithmMismatch(t *testing.T) {
	sd := New[testMsg](InlineData([]byte("x")), backend.AidCAM, now, backend.NistP256)
	_, err := sd.Signature()
	require.NoError(t, err)

	sd.wire.HashID = backend.SHA384
	raw, err := sd.AsBytes()
	require.NoError(t, err)
	back, err := FromBytes[testMsg](raw)
	require.NoError(t, err)
	_, err = back.Signature()
	require.ErrorIs(t, err, ErrHashAlgorithmMismatch)

	back.SetSignature(backend.PlaceholderSignature(backend.NistP384))
	sig, err := back.Signature()
	require.NoError(t, err)
	require.Equal(t, backend.SHA384, sig.Hash())
}

func TestFromBytes_NotSigned(t *testing.T) {
	d := Unsecured([]byte("plain"))
	raw, err := d.Encode()
	require.NoError(t, err)
	_, err = FromBytes[testMsg](raw)
	require.ErrorIs(t, err, ErrNotSigned)

	_, err = DecodeEncrypted(raw)
	require.ErrorIs(t, err, ErrNotEncrypted)

	_, err = FromBytes[testMsg]([]byte{0xff, 0x00})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecode_RejectsInconsistentContent(t *testing.T) {
	bad := Data{ProtocolVersion: ProtocolVersion, Content: Content{Kind: ContentSigned}}
	raw, err := codec.Marshal(bad)
	require.NoError(t, err)
	_, err = Decode(raw)
	require.ErrorIs(t, err, ErrMalformed)

	bad = Data{ProtocolVersion: 2, Content: Content{Kind: ContentUnsecured}}
	raw, err = codec.Marshal(bad)
	require.NoError(t, err)
	_, err = Decode(raw)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestEncryptedData_Recipient(t *testing.T) {
	id := backend.HashedId8{7}
	enc := &EncryptedData{
		Recipients: []RecipientInfo{PreSharedRecipient(backend.HashedId8{1}), PreSharedRecipient(id)},
		Ciphertext: SymmetricCiphertext{Algorithm: backend.SM4CCM},
	}
	r, ok := enc.Recipient(id)
	require.True(t, ok)
	require.Equal(t, id, r.RecipientID)
	_, ok = enc.Recipient(backend.HashedId8{2})
	require.False(t, ok)

	_, _, err := enc.Ciphertext.CCM()
	require.ErrorIs(t, err, ErrUnsupportedCipher)
}

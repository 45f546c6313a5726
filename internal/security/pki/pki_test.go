package pki

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
)

func TestResponseCodeNames(t *testing.T) {
	require.Equal(t, "ok", EnrolmentOK.String())
	require.Equal(t, "cantparse", EnrolmentCantParse.String())
	require.Equal(t, "deniedrequest", EnrolmentDeniedRequest.String())
	require.Equal(t, EnrolmentResponseCode(13), EnrolmentDeniedRequest)
	require.Equal(t, "enrolment(14)", EnrolmentResponseCode(14).String())

	require.Equal(t, AuthorizationResponseCode(26), AuthorizationDeniedTooManyCerts)
	require.Equal(t, "deniedtoomanycerts", AuthorizationDeniedTooManyCerts.String())
	require.Equal(t, "its-aa-keysdontmatch", AuthorizationItsAaKeysDontMatch.String())
}

func TestWrapUnwrap(t *testing.T) {
	resp := InnerEcResponse{RequestHash: [16]byte{1}, ResponseCode: EnrolmentUnknownITS}
	raw, err := Wrap(ContentEnrolmentResponse, resp)
	require.NoError(t, err)

	var got InnerEcResponse
	require.NoError(t, Unwrap(raw, ContentEnrolmentResponse, &got))
	require.Equal(t, resp.RequestHash, got.RequestHash)
	require.Equal(t, EnrolmentUnknownITS, got.ResponseCode)

	var wrong InnerAtResponse
	require.ErrorIs(t, Unwrap(raw, ContentAuthorizationResponse, &wrong), ErrMalformed)
	require.ErrorIs(t, Unwrap([]byte("junk"), ContentEnrolmentResponse, &got), ErrMalformed)
}

func TestWrap_SharedAtRequestIsDeterministic(t *testing.T) {
	s := SharedAtRequest{EaID: backend.HashedId8{1, 2}, KeyTag: [16]byte{3}, CertificateFormat: CertificateFormatTs103097v131}
	a, err := Wrap(ContentAuthorizationRequest, s)
	require.NoError(t, err)
	b, err := Wrap(ContentAuthorizationRequest, s)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

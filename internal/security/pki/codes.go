package pki

import "fmt"

// EnrolmentResponseCode (ETSI TS 102941).
type EnrolmentResponseCode uint8

const (
	EnrolmentOK EnrolmentResponseCode = iota
	EnrolmentCantParse
	EnrolmentBadContentType
	EnrolmentImNotTheRecipient
	EnrolmentUnknownEncryptionAlgorithm
	EnrolmentDecryptionFailed
	EnrolmentUnknownITS
	EnrolmentInvalidSignature
	EnrolmentInvalidEncryptionKey
	EnrolmentBadITSStatus
	EnrolmentIncompleteRequest
	EnrolmentDeniedPermissions
	EnrolmentInvalidKeys
	EnrolmentDeniedRequest
)

var enrolmentCodeNames = [...]string{
	"ok", "cantparse", "badcontenttype", "imnottherecipient",
	"unknownencryptionalgorithm", "decryptionfailed", "unknownits",
	"invalidsignature", "invalidencryptionkey", "baditsstatus",
	"incompleterequest", "deniedpermissions", "invalidkeys", "deniedrequest",
}

func (c EnrolmentResponseCode) String() string {
	if int(c) < len(enrolmentCodeNames) {
		return enrolmentCodeNames[c]
	}
	return fmt.Sprintf("enrolment(%d)", uint8(c))
}

// AuthorizationResponseCode (ETSI TS 102941).
type AuthorizationResponseCode uint8

const (
	AuthorizationOK AuthorizationResponseCode = iota
	// errores del AA al parsear
	AuthorizationItsAaCantParse
	AuthorizationItsAaBadContentType
	AuthorizationItsAaImNotTheRecipient
	AuthorizationItsAaUnknownEncryptionAlgorithm
	AuthorizationItsAaDecryptionFailed
	AuthorizationItsAaKeysDontMatch
	AuthorizationItsAaIncompleteRequest
	AuthorizationItsAaInvalidEncryptionKey
	AuthorizationItsAaOutOfSyncRequest
	AuthorizationItsAaUnknownEA
	AuthorizationItsAaInvalidEA
	AuthorizationItsAaDeniedPermissions
	// errores del EA al validar la firma del EC
	AuthorizationAaEaCantReachEA
	AuthorizationEaAaCantParse
	AuthorizationEaAaBadContentType
	AuthorizationEaAaImNotTheRecipient
	AuthorizationEaAaUnknownEncryptionAlgorithm
	AuthorizationEaAaDecryptionFailed
	AuthorizationInvalidAA
	AuthorizationInvalidAASignature
	AuthorizationWrongEA
	AuthorizationUnknownITS
	AuthorizationInvalidSignature
	AuthorizationInvalidEncryptionKey
	AuthorizationDeniedPermissions
	AuthorizationDeniedTooManyCerts
)

var authorizationCodeNames = [...]string{
	"ok", "its-aa-cantparse", "its-aa-badcontenttype", "its-aa-imnottherecipient",
	"its-aa-unknownencryptionalgorithm", "its-aa-decryptionfailed", "its-aa-keysdontmatch",
	"its-aa-incompleterequest", "its-aa-invalidencryptionkey", "its-aa-outofsyncrequest",
	"its-aa-unknownea", "its-aa-invalidea", "its-aa-deniedpermissions", "aa-ea-cantreachea",
	"ea-aa-cantparse", "ea-aa-badcontenttype", "ea-aa-imnottherecipient",
	"ea-aa-unknownencryptionalgorithm", "ea-aa-decryptionfailed", "invalidaa",
	"invalidaasignature", "wrongea", "unknownits", "invalidsignature",
	"invalidencryptionkey", "deniedpermissions", "deniedtoomanycerts",
}

func (c AuthorizationResponseCode) String() string {
	if int(c) < len(authorizationCodeNames) {
		return authorizationCodeNames[c]
	}
	return fmt.Sprintf("authorization(%d)", uint8(c))
}

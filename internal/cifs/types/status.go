package types

import "fmt"

// =============================================================================
// NT_STATUS Codes
// =============================================================================

// Status is an NT_STATUS code carried in the SMB1 header when the client sets
// FLAGS2_NT_STATUS.
//
// [MS-ERREF] Section 2.3
type Status uint32

const (
	StatusSuccess Status = 0x00000000

	// StatusMoreProcessingRequired asks for another extended-security round.
	StatusMoreProcessingRequired Status = 0xC0000016

	StatusInvalidParameter      Status = 0xC000000D
	StatusAccessDenied          Status = 0xC0000022
	StatusPasswordExpired       Status = 0xC0000071
	StatusAccountDisabled       Status = 0xC0000072
	StatusLogonFailure          Status = 0xC000006D
	StatusAccountRestriction    Status = 0xC000006E
	StatusNotSupported          Status = 0xC00000BB
	StatusNetworkBusy           Status = 0xC00000BF
	StatusNetworkNameDeleted    Status = 0xC00000C9
	StatusBadNetworkName        Status = 0xC00000CC
	StatusRequestNotAccepted    Status = 0xC00000D0
	StatusUserSessionDeleted    Status = 0xC0000203
	StatusInsuffServerResources Status = 0xC0000205
	StatusNetworkSessionExpired Status = 0xC000035C
)

var statusNames = map[Status]string{
	StatusSuccess:                "STATUS_SUCCESS",
	StatusMoreProcessingRequired: "STATUS_MORE_PROCESSING_REQUIRED",
	StatusInvalidParameter:       "STATUS_INVALID_PARAMETER",
	StatusAccessDenied:           "STATUS_ACCESS_DENIED",
	StatusPasswordExpired:        "STATUS_PASSWORD_EXPIRED",
	StatusAccountDisabled:        "STATUS_ACCOUNT_DISABLED",
	StatusLogonFailure:           "STATUS_LOGON_FAILURE",
	StatusAccountRestriction:     "STATUS_ACCOUNT_RESTRICTION",
	StatusNotSupported:           "STATUS_NOT_SUPPORTED",
	StatusNetworkBusy:            "STATUS_NETWORK_BUSY",
	StatusNetworkNameDeleted:     "STATUS_NETWORK_NAME_DELETED",
	StatusBadNetworkName:         "STATUS_BAD_NETWORK_NAME",
	StatusRequestNotAccepted:     "STATUS_REQUEST_NOT_ACCEPTED",
	StatusUserSessionDeleted:     "STATUS_USER_SESSION_DELETED",
	StatusInsuffServerResources:  "STATUS_INSUFF_SERVER_RESOURCES",
	StatusNetworkSessionExpired:  "STATUS_NETWORK_SESSION_EXPIRED",
}

// String returns the symbolic name, or the hex value for unknown codes.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", uint32(s))
}

// IsSuccess reports whether the severity bits indicate success.
func (s Status) IsSuccess() bool {
	return s>>30 == 0
}

// IsError reports whether the severity bits indicate an error.
func (s Status) IsError() bool {
	return s>>30 == 3
}

// IsLogonFailure reports whether the status rejects the presented credentials.
func (s Status) IsLogonFailure() bool {
	switch s {
	case StatusLogonFailure, StatusAccountDisabled, StatusPasswordExpired,
		StatusAccountRestriction, StatusAccessDenied:
		return true
	}
	return false
}

// IsBusy reports whether the server refused because the resource is still in
// use or it is temporarily out of resources.
func (s Status) IsBusy() bool {
	switch s {
	case StatusNetworkBusy, StatusRequestNotAccepted, StatusInsuffServerResources:
		return true
	}
	return false
}

// IsSessionGone reports whether the server no longer knows the session or tree.
func (s Status) IsSessionGone() bool {
	switch s {
	case StatusUserSessionDeleted, StatusNetworkSessionExpired, StatusNetworkNameDeleted:
		return true
	}
	return false
}

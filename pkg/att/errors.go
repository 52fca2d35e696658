package att

import (
	"errors"
	"fmt"
)

// ErrorCode is the error code carried by an Error Response.
// It implements error so database and engine code can return codes directly.
type ErrorCode uint8

const (
	ErrInvalidHandle                 ErrorCode = 0x01
	ErrReadNotPermitted              ErrorCode = 0x02
	ErrWriteNotPermitted             ErrorCode = 0x03
	ErrInvalidPDU                    ErrorCode = 0x04
	ErrInsufficientAuthentication    ErrorCode = 0x05
	ErrRequestNotSupported           ErrorCode = 0x06
	ErrInvalidOffset                 ErrorCode = 0x07
	ErrInsufficientAuthorization     ErrorCode = 0x08
	ErrPrepareQueueFull              ErrorCode = 0x09
	ErrAttributeNotFound             ErrorCode = 0x0A
	ErrAttributeNotLong              ErrorCode = 0x0B
	ErrInsufficientEncryptionKeySize ErrorCode = 0x0C
	ErrInvalidAttributeValueLength   ErrorCode = 0x0D
	ErrUnlikely                      ErrorCode = 0x0E
	ErrInsufficientEncryption        ErrorCode = 0x0F
	ErrUnsupportedGroupType          ErrorCode = 0x10
	ErrInsufficientResources         ErrorCode = 0x11
	ErrDatabaseOutOfSync             ErrorCode = 0x12
	ErrValueNotAllowed               ErrorCode = 0x13

	// Common profile and service error codes.
	ErrWriteRequestRejected     ErrorCode = 0xFC
	ErrCCCDImproperlyConfigured ErrorCode = 0xFD
	ErrProcedureInProgress      ErrorCode = 0xFE
	ErrOutOfRange               ErrorCode = 0xFF
)

var errorCodeNames = map[ErrorCode]string{
	ErrInvalidHandle:                 "invalid handle",
	ErrReadNotPermitted:              "read not permitted",
	ErrWriteNotPermitted:             "write not permitted",
	ErrInvalidPDU:                    "invalid PDU",
	ErrInsufficientAuthentication:    "insufficient authentication",
	ErrRequestNotSupported:           "request not supported",
	ErrInvalidOffset:                 "invalid offset",
	ErrInsufficientAuthorization:     "insufficient authorization",
	ErrPrepareQueueFull:              "prepare queue full",
	ErrAttributeNotFound:             "attribute not found",
	ErrAttributeNotLong:              "attribute not long",
	ErrInsufficientEncryptionKeySize: "insufficient encryption key size",
	ErrInvalidAttributeValueLength:   "invalid attribute value length",
	ErrUnlikely:                      "unlikely error",
	ErrInsufficientEncryption:        "insufficient encryption",
	ErrUnsupportedGroupType:          "unsupported group type",
	ErrInsufficientResources:         "insufficient resources",
	ErrDatabaseOutOfSync:             "database out of sync",
	ErrValueNotAllowed:               "value not allowed",
	ErrWriteRequestRejected:          "write request rejected",
	ErrCCCDImproperlyConfigured:      "client characteristic configuration descriptor improperly configured",
	ErrProcedureInProgress:           "procedure already in progress",
	ErrOutOfRange:                    "out of range",
}

func (c ErrorCode) Error() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	if c.IsApplication() {
		return fmt.Sprintf("application error 0x%02X", uint8(c))
	}
	return fmt.Sprintf("error code 0x%02X", uint8(c))
}

// IsApplication reports whether the code lies in the application-defined range 0x80-0x9F.
func (c ErrorCode) IsApplication() bool {
	return c >= 0x80 && c <= 0x9F
}

// Error is an ATT failure tied to the attribute handle that caused it.
// It unwraps to its ErrorCode, so errors.Is(err, ErrReadNotPermitted) matches.
type Error struct {
	Handle uint16
	Code   ErrorCode
}

// NewError returns an Error for the given handle.
func NewError(code ErrorCode, handle uint16) *Error {
	return &Error{Handle: handle, Code: code}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (handle 0x%04X)", e.Code.Error(), e.Handle)
}

func (e *Error) Unwrap() error {
	return e.Code
}

// Codec failures.
var (
	ErrMalformedPDU  = errors.New("malformed PDU")
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrExceedsMTU    = errors.New("PDU exceeds MTU")
)

// DecodeError reports a PDU that could not be decoded.
type DecodeError struct {
	Opcode Opcode
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Opcode, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

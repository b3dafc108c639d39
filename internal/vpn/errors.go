package vpn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrorCode is the classification of a VPN failure recorded in a connection record.
type ErrorCode int32

const (
	ErrorCodeUnknown                    ErrorCode = 1
	ErrorCodeUnsupportedCriticalPayload ErrorCode = 2
	ErrorCodeInvalidIKESPI              ErrorCode = 3
	ErrorCodeInvalidMajorVersion        ErrorCode = 4
	ErrorCodeInvalidSyntax              ErrorCode = 5
	ErrorCodeInvalidMessageID           ErrorCode = 6
	ErrorCodeNoProposalChosen           ErrorCode = 7
	ErrorCodeInvalidKEPayload           ErrorCode = 8
	ErrorCodeAuthenticationFailed       ErrorCode = 9
	ErrorCodeSinglePairRequired         ErrorCode = 10
	ErrorCodeNoAdditionalSAs            ErrorCode = 11
	ErrorCodeInternalAddressFailure     ErrorCode = 12
	ErrorCodeFailedCPRequired           ErrorCode = 13
	ErrorCodeTSUnacceptable             ErrorCode = 14
	ErrorCodeInvalidSelectors           ErrorCode = 15
	ErrorCodeTemporaryFailure           ErrorCode = 16
	ErrorCodeChildSANotFound            ErrorCode = 17
	ErrorCodeNetworkUnknownHost         ErrorCode = 18
	ErrorCodeNetworkProtocolTimeout     ErrorCode = 19
	ErrorCodeNetworkLost                ErrorCode = 20
	ErrorCodeNetworkIO                  ErrorCode = 21
)

// IKE notify error types (RFC 7296 section 3.10.1).
const (
	IKEErrorUnsupportedCriticalPayload = 1
	IKEErrorInvalidIKESPI              = 4
	IKEErrorInvalidMajorVersion        = 5
	IKEErrorInvalidSyntax              = 7
	IKEErrorInvalidMessageID           = 9
	IKEErrorNoProposalChosen           = 14
	IKEErrorInvalidKEPayload           = 17
	IKEErrorAuthenticationFailed       = 24
	IKEErrorSinglePairRequired         = 34
	IKEErrorNoAdditionalSAs            = 35
	IKEErrorInternalAddressFailure     = 36
	IKEErrorFailedCPRequired           = 37
	IKEErrorTSUnacceptable             = 38
	IKEErrorInvalidSelectors           = 39
	IKEErrorTemporaryFailure           = 43
	IKEErrorChildSANotFound            = 44
)

var ikeErrorCodes = map[int]ErrorCode{
	IKEErrorUnsupportedCriticalPayload: ErrorCodeUnsupportedCriticalPayload,
	IKEErrorInvalidIKESPI:              ErrorCodeInvalidIKESPI,
	IKEErrorInvalidMajorVersion:        ErrorCodeInvalidMajorVersion,
	IKEErrorInvalidSyntax:              ErrorCodeInvalidSyntax,
	IKEErrorInvalidMessageID:           ErrorCodeInvalidMessageID,
	IKEErrorNoProposalChosen:           ErrorCodeNoProposalChosen,
	IKEErrorInvalidKEPayload:           ErrorCodeInvalidKEPayload,
	IKEErrorAuthenticationFailed:       ErrorCodeAuthenticationFailed,
	IKEErrorSinglePairRequired:         ErrorCodeSinglePairRequired,
	IKEErrorNoAdditionalSAs:            ErrorCodeNoAdditionalSAs,
	IKEErrorInternalAddressFailure:     ErrorCodeInternalAddressFailure,
	IKEErrorFailedCPRequired:           ErrorCodeFailedCPRequired,
	IKEErrorTSUnacceptable:             ErrorCodeTSUnacceptable,
	IKEErrorInvalidSelectors:           ErrorCodeInvalidSelectors,
	IKEErrorTemporaryFailure:           ErrorCodeTemporaryFailure,
	IKEErrorChildSANotFound:            ErrorCodeChildSANotFound,
}

var (
	ErrNetworkLost     = errors.New("underlying network lost")
	ErrProtocolTimeout = errors.New("ike protocol timeout")
	ErrUnknownHost     = errors.New("unknown host")

	errUnspecified = errors.New("unspecified vpn error")
)

// IKEProtocolError is a failure notified by the IKE peer.
type IKEProtocolError struct {
	Type int
}

func (e *IKEProtocolError) Error() string {
	return fmt.Sprintf("ike protocol error %d", e.Type)
}

// ClassifyError maps a VPN failure to its error code.
func ClassifyError(err error) ErrorCode {
	var ikeErr *IKEProtocolError
	if errors.As(err, &ikeErr) {
		if code, ok := ikeErrorCodes[ikeErr.Type]; ok {
			return code
		}
		return ErrorCodeUnknown
	}
	if errors.Is(err, ErrNetworkLost) {
		return ErrorCodeNetworkLost
	}

	var dnsErr *net.DNSError
	if errors.Is(err, ErrUnknownHost) || (errors.As(err, &dnsErr) && dnsErr.IsNotFound) {
		return ErrorCodeNetworkUnknownHost
	}
	if errors.Is(err, ErrProtocolTimeout) || errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeNetworkProtocolTimeout
	}

	var opErr *net.OpError
	var errno syscall.Errno
	if errors.As(err, &opErr) || errors.As(err, &errno) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ErrorCodeNetworkIO
	}
	return ErrorCodeUnknown
}

// ErrorFromKind builds the error reported by name from remote reporters. ikeType is only
// used by the "ike_protocol" kind. It returns false for unrecognized kinds.
func ErrorFromKind(kind string, ikeType int) (error, bool) {
	switch kind {
	case "ike_protocol":
		return &IKEProtocolError{Type: ikeType}, true
	case "network_lost":
		return ErrNetworkLost, true
	case "unknown_host":
		return ErrUnknownHost, true
	case "timeout":
		return ErrProtocolTimeout, true
	case "io":
		return io.ErrUnexpectedEOF, true
	case "unknown":
		return errUnspecified, true
	}
	return nil, false
}

// Package dberr defines the error taxonomy shared by every layer of the
// client: connection, authentication, metadata lookup, codec conversion,
// and the wire protocol itself.
//
// Most kinds share the *Error type, which carries the Kind and, for
// server errors, the server's error code, so callers can use errors.As
// to recover structured details instead of matching on message text.
// Converter, space and index lookup misses have their own types.
package dberr

import "fmt"

// Kind identifies which taxonomy bucket an error belongs to, for callers
// that only need a coarse classification (errors.Is against the sentinel
// Kind values below).
type Kind int

const (
	KindConnectFailure Kind = iota
	KindAuthFailure
	KindConfigurationError
	KindNotConnected
	KindSpaceNotFound
	KindIndexNotFound
	KindServerError
	KindTimeout
	KindCancelled
	KindConverterNotFound
	KindProtocolError
	KindConnectionClosed
)

func (k Kind) String() string {
	switch k {
	case KindConnectFailure:
		return "ConnectFailure"
	case KindAuthFailure:
		return "AuthFailure"
	case KindConfigurationError:
		return "ConfigurationError"
	case KindNotConnected:
		return "NotConnected"
	case KindSpaceNotFound:
		return "SpaceNotFound"
	case KindIndexNotFound:
		return "IndexNotFound"
	case KindServerError:
		return "ServerError"
	case KindTimeout:
		return "Timeout"
	case KindCancelled:
		return "Cancelled"
	case KindConverterNotFound:
		return "ConverterNotFound"
	case KindProtocolError:
		return "ProtocolError"
	case KindConnectionClosed:
		return "ConnectionClosed"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned across the client's API
// boundary. Wrap additional context with fmt.Errorf("...: %w", err)
// where needed; Kind survives unwrapping via errors.As.
type Error struct {
	Kind    Kind
	Message string
	// Code is set only for KindServerError: the server's low-bits error code.
	Code uint32
}

func (e *Error) Error() string {
	if e.Kind == KindServerError {
		return fmt.Sprintf("%s: server error %#x: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ServerError builds the error the request future registry delivers
// when a response frame's header indicates an error code.
func ServerError(code uint32, message string) *Error {
	return &Error{Kind: KindServerError, Code: code, Message: message}
}

// Is lets errors.Is(err, dberr.Timeout) work against the Kind-carrying
// sentinels below without requiring callers to compare message strings.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel instances for errors.Is comparisons, e.g. errors.Is(err, dberr.Timeout).
var (
	Timeout          = &Error{Kind: KindTimeout}
	Cancelled        = &Error{Kind: KindCancelled}
	ConnectionClosed = &Error{Kind: KindConnectionClosed}
	NotConnected     = &Error{Kind: KindNotConnected}
)

// ConverterNotFoundError reports a missing (source,target) conversion.
type ConverterNotFoundError struct {
	Source string
	Target string
}

func (e *ConverterNotFoundError) Error() string {
	return fmt.Sprintf("%s: no converter for source %s -> target %s", KindConverterNotFound, e.Source, e.Target)
}

// SpaceNotFoundError reports a metadata lookup miss by name or id.
type SpaceNotFoundError struct {
	Ref string // name or numeric id, formatted by the caller
}

func (e *SpaceNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", KindSpaceNotFound, e.Ref)
}

// IndexNotFoundError reports a metadata lookup miss for an index within a space.
type IndexNotFoundError struct {
	SpaceRef string
	IndexRef string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("%s: space %s has no index %s", KindIndexNotFound, e.SpaceRef, e.IndexRef)
}

package errors

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies control-plane failures.
type Kind int

const (
	Unknown Kind = iota
	// OutOfRange: a register index is outside the bank capacity. Fatal to the operation only.
	OutOfRange
	// DeviceUnavailable: the register transport is down or failed.
	DeviceUnavailable
	// MalformedDigest: a flow digest payload could not be decoded.
	MalformedDigest
	// UnauthenticatedPeer: a configured controller has no shared key on record.
	UnauthenticatedPeer
	// DisseminationFailure: a peer could not be reached during adaptation fan-out.
	DisseminationFailure
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case OutOfRange:
		return "out of range"
	case DeviceUnavailable:
		return "device unavailable"
	case MalformedDigest:
		return "malformed digest"
	case UnauthenticatedPeer:
		return "unauthenticated peer"
	case DisseminationFailure:
		return "dissemination failure"
	default:
		return "unknown"
	}
}

// Error is a classified failure of one operation on one subject
// (a register slot, a connection, a peer).
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	Err     error
}

// Sentinels for errors.Is matching on kind alone.
var (
	ErrOutOfRange           = &Error{Kind: OutOfRange}
	ErrDeviceUnavailable    = &Error{Kind: DeviceUnavailable}
	ErrMalformedDigest      = &Error{Kind: MalformedDigest}
	ErrUnauthenticatedPeer  = &Error{Kind: UnauthenticatedPeer}
	ErrDisseminationFailure = &Error{Kind: DisseminationFailure}
)

// New creates a new classified error.
func New(kind Kind, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

// Error returns a human-readable error message.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
		if e.Subject != "" {
			msg += " " + e.Subject
		}
	} else if e.Subject != "" {
		msg += ": " + e.Subject
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind when target carries no Op or Subject,
// so errors.Is(err, ErrOutOfRange) works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" && t.Subject == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return e == t
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

var kindCodes = map[Kind]codes.Code{
	OutOfRange:           codes.OutOfRange,
	DeviceUnavailable:    codes.Unavailable,
	MalformedDigest:      codes.InvalidArgument,
	UnauthenticatedPeer:  codes.Unauthenticated,
	DisseminationFailure: codes.Unavailable,
}

// ToStatus converts err into a gRPC status error carrying the matching code.
// Unclassified errors become codes.Internal.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && KindOf(err) == Unknown {
		return err
	}
	code, ok := kindCodes[KindOf(err)]
	if !ok {
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// FromStatus classifies an error returned by a gRPC call. codes.OutOfRange and
// codes.Unauthenticated keep their meaning; everything else becomes fallback.
func FromStatus(err error, fallback Kind, op, subject string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	kind := fallback
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.OutOfRange:
			kind = OutOfRange
		case codes.Unauthenticated:
			kind = UnauthenticatedPeer
		}
	}
	return New(kind, op, subject, err)
}

// IsTimeout reports whether err is a deadline failure, either a context deadline
// or a gRPC DeadlineExceeded status.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if s, ok := status.FromError(err); ok {
		return s.Code() == codes.DeadlineExceeded
	}
	return false
}

// Package errcode defines the closed set of error kinds reported by the
// ability and form services.
//
// Every service error carries a Kind so transports can map it to a wire
// code and callers can branch with errors.Is against the sentinels:
//
//	if errors.Is(err, errcode.ErrNotExist) { ... }
package errcode

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	OK Kind = iota
	InvalidParam
	NotExist
	OperationNotSelf
	GetInfoFailed
	GetBmsFailed
	BindProviderFailed
	CommonCode
	MaxRefresh
	CfgNotMatch
	NoSuchModule
	NoSuchDimension
	MaxSystemForms
	MaxFormsPerClient
	MaxSystemTempForms
	InvalidState
	TimedOut
	InnerError
	PermissionDeny
)

var kindNames = map[Kind]string{
	OK:                 "ok",
	InvalidParam:       "invalid param",
	NotExist:           "not exist",
	OperationNotSelf:   "operation not self",
	GetInfoFailed:      "get info failed",
	GetBmsFailed:       "get bundle manager failed",
	BindProviderFailed: "bind provider failed",
	CommonCode:         "common error",
	MaxRefresh:         "max refresh reached",
	CfgNotMatch:        "config not match",
	NoSuchModule:       "no such module",
	NoSuchDimension:    "no such dimension",
	MaxSystemForms:     "max system forms",
	MaxFormsPerClient:  "max forms per client",
	MaxSystemTempForms: "max system temp forms",
	InvalidState:       "invalid state",
	TimedOut:           "timed out",
	InnerError:         "inner error",
	PermissionDeny:     "permission denied",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Code is the stable integer used on the wire.
func (k Kind) Code() int32 {
	return int32(k)
}

// FromCode maps a wire code back to a Kind. Unknown codes map to InnerError.
func FromCode(code int32) Kind {
	k := Kind(code)
	if _, ok := kindNames[k]; !ok {
		return InnerError
	}
	return k
}

// Sentinels usable with errors.Is.
var (
	ErrInvalidParam       = &Error{Kind: InvalidParam}
	ErrNotExist           = &Error{Kind: NotExist}
	ErrOperationNotSelf   = &Error{Kind: OperationNotSelf}
	ErrGetInfoFailed      = &Error{Kind: GetInfoFailed}
	ErrGetBmsFailed       = &Error{Kind: GetBmsFailed}
	ErrBindProviderFailed = &Error{Kind: BindProviderFailed}
	ErrCommonCode         = &Error{Kind: CommonCode}
	ErrMaxRefresh         = &Error{Kind: MaxRefresh}
	ErrCfgNotMatch        = &Error{Kind: CfgNotMatch}
	ErrNoSuchModule       = &Error{Kind: NoSuchModule}
	ErrNoSuchDimension    = &Error{Kind: NoSuchDimension}
	ErrMaxSystemForms     = &Error{Kind: MaxSystemForms}
	ErrMaxFormsPerClient  = &Error{Kind: MaxFormsPerClient}
	ErrMaxSystemTempForms = &Error{Kind: MaxSystemTempForms}
	ErrInvalidState       = &Error{Kind: InvalidState}
	ErrTimedOut           = &Error{Kind: TimedOut}
	ErrInnerError         = &Error{Kind: InnerError}
	ErrPermissionDeny     = &Error{Kind: PermissionDeny}
)

// Error is a classified service error.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// New builds an error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf builds an error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

// KindOf extracts the kind of err. nil is OK; unclassified errors are
// InnerError.
func KindOf(err error) Kind {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InnerError
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

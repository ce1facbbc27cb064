package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess       Code = 0
	CodeInternal      Code = 1
	CodeUsage         Code = 2
	CodeAuth          Code = 10
	CodeRateLimited   Code = 11
	CodeUnavailable   Code = 12
	CodeUnsupported   Code = 13
	CodeBlocked       Code = 16
	CodeInsufficient  Code = 17
	CodeRejected      Code = 18
	CodeSigner        Code = 20
	CodeActionPlan    Code = 21
	CodeActionSim     Code = 22
	CodeActionTimeout Code = 23
)

// Kind groups codes into the failure categories reported to callers of the executor.
type Kind string

const (
	KindNone                 Kind = ""
	KindInputValidation      Kind = "input_validation"
	KindInsufficientResource Kind = "insufficient_resource"
	KindExternalCall         Kind = "external_call"
	KindSubmissionRejected   Kind = "submission_rejected"
	KindInternal             Kind = "internal"
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// KindOf classifies err. Untyped errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	typed, ok := As(err)
	if !ok {
		return KindInternal
	}
	return typed.Code.Kind()
}

func (c Code) Kind() Kind {
	switch c {
	case CodeSuccess:
		return KindNone
	case CodeUsage, CodeUnsupported, CodeBlocked, CodeActionPlan:
		return KindInputValidation
	case CodeInsufficient:
		return KindInsufficientResource
	case CodeRejected:
		return KindSubmissionRejected
	case CodeAuth, CodeRateLimited, CodeUnavailable, CodeSigner, CodeActionSim, CodeActionTimeout:
		return KindExternalCall
	default:
		return KindInternal
	}
}

// CodeForKind is the exit code used when only a Kind survives, e.g. a tagged executor result.
func CodeForKind(kind Kind) Code {
	switch kind {
	case KindNone:
		return CodeSuccess
	case KindInputValidation:
		return CodeUsage
	case KindInsufficientResource:
		return CodeInsufficient
	case KindExternalCall:
		return CodeUnavailable
	case KindSubmissionRejected:
		return CodeRejected
	default:
		return CodeInternal
	}
}

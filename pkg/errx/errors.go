// Package errx 定义带错误码的统一错误类型
package errx

import (
	"errors"
	"fmt"
)

// Code 错误码
type Code string

// Error 带错误码的错误
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is 支持 errors.Is 按错误码比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func New(code Code, msg string) *Error { return &Error{Code: code, Msg: msg} }

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, msg string) *Error { return &Error{Code: code, Msg: msg, Err: err} }

// CodeOf 返回错误链上第一个错误码，没有则返回空
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

const (
	CodeHookInstallation    Code = "HOOK_INSTALLATION"
	CodeConditionEvaluation Code = "CONDITION_EVALUATION"
	CodeLifecycleExecution  Code = "LIFECYCLE_EXECUTION"
	CodeQueueOverflow       Code = "QUEUE_OVERFLOW"
	CodeInvalidRule         Code = "INVALID_RULE"
	CodeBlocked             Code = "BLOCKED"
	CodeUnsupported         Code = "UNSUPPORTED"
)

// 哨兵错误，可配合 errors.Is 使用
var (
	ErrBlocked     = New(CodeBlocked, "request blocked by rule")
	ErrUnsupported = New(CodeUnsupported, "operation not supported")
)

// Package errs 定义 testkit 调用链路上的错误分类。
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 错误类别
type Kind string

const (
	KindCompile    Kind = "compile"
	KindResolution Kind = "resolution"
	KindCoercion   Kind = "coercion"
	KindInjection  Kind = "injection"
	KindInvocation Kind = "invocation"
)

// 类别哨兵错误，配合 errors.Is 使用
var (
	ErrCompile    = errors.New("compile error")
	ErrResolution = errors.New("resolution error")
	ErrCoercion   = errors.New("coercion error")
	ErrInjection  = errors.New("injection error")
	ErrInvocation = errors.New("invocation error")
)

var sentinels = map[Kind]error{
	KindCompile:    ErrCompile,
	KindResolution: ErrResolution,
	KindCoercion:   ErrCoercion,
	KindInjection:  ErrInjection,
	KindInvocation: ErrInvocation,
}

// Error testkit 错误
type Error struct {
	Kind    Kind
	Message string
	// Index 参数下标，仅 coercion 错误有效，其余为 -1
	Index int
	// Field 注入失败的字段名
	Field string
	// Stack 被调用代码 panic 时的应用栈
	Stack string
	Cause error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	var b strings.Builder
	switch e.Kind {
	case KindCoercion:
		if e.Index >= 0 {
			fmt.Fprintf(&b, "index:%d, ", e.Index)
		}
	case KindInjection:
		if e.Field != "" {
			fmt.Fprintf(&b, "field:%s, ", e.Field)
		}
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(", ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 支持 errors.Is(err, errs.ErrCoercion) 这类判断
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func newError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Index:   -1,
		Cause:   cause,
	}
}

// Compile 创建编译错误
func Compile(format string, args ...any) *Error {
	return newError(KindCompile, nil, format, args...)
}

// CompileWrap 包装编译器返回的错误
func CompileWrap(cause error, format string, args ...any) *Error {
	return newError(KindCompile, cause, format, args...)
}

// Resolution 创建解析错误
func Resolution(format string, args ...any) *Error {
	return newError(KindResolution, nil, format, args...)
}

// ResolutionWrap 包装解析错误
func ResolutionWrap(cause error, format string, args ...any) *Error {
	return newError(KindResolution, cause, format, args...)
}

// Coercion 创建参数转换错误，index 为参数下标
func Coercion(index int, cause error, format string, args ...any) *Error {
	e := newError(KindCoercion, cause, format, args...)
	e.Index = index
	return e
}

// Injection 创建字段注入错误
func Injection(field string, cause error, format string, args ...any) *Error {
	e := newError(KindInjection, cause, format, args...)
	e.Field = field
	return e
}

// Invocation 创建调用错误
func Invocation(cause error, stack string) *Error {
	e := newError(KindInvocation, cause, "invoke fail")
	e.Stack = stack
	return e
}

// KindOf 返回错误类别，非 testkit 错误返回空串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind 判断错误是否属于某类别
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// AsError 提取 *Error
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

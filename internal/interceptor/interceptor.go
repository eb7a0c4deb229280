// Package interceptor 加载请求携带的拦截器代码，在工具调用前后执行。
//
// 拦截器是一段 Go 源码（base64 编码），需要声明一个结构体并实现：
//
//	InvokeBefore(env, method string, params map[string]string)
//	InvokeAfter(env, method string, params map[string]string, cost int, ret any, err error)
//
// 两个方法都可以额外返回一个 error。前置和后置钩子的失败只记录日志，不影响调用结果。
package interceptor

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"yqhp/testkit/internal/compiler"
	"yqhp/testkit/internal/inject"
	"yqhp/testkit/pkg/errs"
	"yqhp/testkit/pkg/logger"
)

// Phase 钩子阶段
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// 钩子方法名
const (
	MethodBefore = "InvokeBefore"
	MethodAfter  = "InvokeAfter"
)

var (
	errorType  = reflect.TypeFor[error]()
	beforeArgs = []reflect.Type{
		reflect.TypeFor[string](), reflect.TypeFor[string](), reflect.TypeFor[map[string]string](),
	}
	afterArgs = append(append([]reflect.Type{}, beforeArgs...),
		reflect.TypeFor[int](), reflect.TypeFor[any](), errorType,
	)
)

// HookError 钩子执行失败
type HookError struct {
	Phase   Phase
	Message string
	Cause   error
}

// Error 实现 error 接口
func (e *HookError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[interceptor %s] %s: %v", e.Phase, e.Message, e.Cause)
	}
	return fmt.Sprintf("[interceptor %s] %s", e.Phase, e.Message)
}

// Unwrap 返回底层错误
func (e *HookError) Unwrap() error {
	return e.Cause
}

// Hooks 已加载的拦截器
type Hooks struct {
	unit   *compiler.Unit
	before reflect.Value
	after  reflect.Value
}

// Decode 解码 base64 源码
func Decode(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", errs.CompileWrap(err, "interceptor is not valid base64")
	}
	return string(raw), nil
}

// Load 编译拦截器、零值构造并注入依赖。缺少任一钩子方法时返回错误。
func Load(c *compiler.Compiler, bridge *inject.Bridge, encoded string) (*Hooks, error) {
	src, err := Decode(encoded)
	if err != nil {
		return nil, err
	}
	unit, err := c.Compile(src)
	if err != nil {
		return nil, err
	}
	h, err := bind(unit, bridge)
	if err != nil {
		unit.Close()
		return nil, err
	}
	return h, nil
}

func bind(unit *compiler.Unit, bridge *inject.Bridge) (*Hooks, error) {
	instance, err := unit.Instantiate()
	if err != nil {
		return nil, err
	}
	if err := bridge.Inject(instance); err != nil {
		return nil, err
	}
	src, err := unit.Source(instance)
	if err != nil {
		return nil, err
	}

	before, err := method(src, MethodBefore, beforeArgs)
	if err != nil {
		return nil, err
	}
	after, err := method(src, MethodAfter, afterArgs)
	if err != nil {
		return nil, err
	}
	return &Hooks{unit: unit, before: before, after: after}, nil
}

// method 查找钩子方法并校验签名
func method(src *compiler.InstanceSource, name string, args []reflect.Type) (reflect.Value, error) {
	fn, ok := src.BoundMethod(name)
	if !ok {
		return reflect.Value{}, errs.Resolution("interceptor %s must have method %s", src.TypeName(), name)
	}
	ft := fn.Type()
	ok = ft.NumIn() == len(args) && (ft.NumOut() == 0 || (ft.NumOut() == 1 && ft.Out(0) == errorType))
	for i := 0; ok && i < len(args); i++ {
		ok = args[i].AssignableTo(ft.In(i))
	}
	if !ok {
		return reflect.Value{}, errs.Resolution("interceptor method %s has wrong signature %s", name, ft)
	}
	return fn, nil
}

// Before 执行前置钩子
func (h *Hooks) Before(env, method string, params map[string]string) {
	h.call(PhaseBefore, h.before, env, method, params)
}

// After 执行后置钩子，无论调用是否成功都会执行
func (h *Hooks) After(env, method string, params map[string]string, cost int, ret any, err error) {
	h.call(PhaseAfter, h.after, env, method, params, cost, ret, err)
}

// Close 释放编译单元
func (h *Hooks) Close() {
	h.unit.Close()
}

func (h *Hooks) call(phase Phase, fn reflect.Value, args ...any) {
	if err := invoke(phase, fn, args); err != nil {
		logger.Warn("拦截器执行失败", zap.String("phase", string(phase)), zap.Error(err))
	}
}

func invoke(phase Phase, fn reflect.Value, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HookError{Phase: phase, Message: "panic", Cause: fmt.Errorf("%v", r)}
		}
	}()

	ft := fn.Type()
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		if a == nil {
			in[i] = reflect.Zero(ft.In(i))
			continue
		}
		in[i] = reflect.ValueOf(a)
	}
	out := fn.Call(in)
	if len(out) == 1 && !out[0].IsNil() {
		return &HookError{Phase: phase, Message: "returned error", Cause: out[0].Interface().(error)}
	}
	return nil
}

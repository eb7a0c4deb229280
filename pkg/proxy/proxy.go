// Package proxy 描述宿主容器中的拦截代理，并提供还原到原始对象的能力。
//
// 支持两种代理：
//   - KindInterface：实现与目标相同接口的装饰器，通过 Target() 暴露被包装对象；
//   - KindEmbedded：内嵌目标类型的结构体，目标取自 `proxy:"target"` 标记的字段或第一个内嵌指针字段。
package proxy

import (
	"reflect"

	"yqhp/testkit/internal/reflectx"
)

// Kind 代理类型
type Kind int

const (
	KindInterface Kind = iota + 1
	KindEmbedded
)

// String 返回代理类型名称
func (k Kind) String() string {
	switch k {
	case KindInterface:
		return "interface"
	case KindEmbedded:
		return "embedded"
	default:
		return "unknown"
	}
}

// Intercepted 由代理对象实现。
// 内嵌另一个代理的代理必须自己声明 ProxyKind，否则会沿用内层提升上来的 ProxyKind 和 Target，
// 展开时跳过内层。
type Intercepted interface {
	ProxyKind() Kind
}

// TargetSource KindInterface 代理通过它暴露目标
type TargetSource interface {
	Target() any
}

// maxDepth 防止代理互相引用时无限展开
const maxDepth = 32

// Wrapped 代理或直接对象
type Wrapped struct {
	value any
	kind  Kind
}

// Of 对引用进行分类
func Of(v any) Wrapped {
	if p, ok := v.(Intercepted); ok && !isNil(v) {
		return Wrapped{value: v, kind: p.ProxyKind()}
	}
	return Wrapped{value: v}
}

// Value 当前引用
func (w Wrapped) Value() any {
	return w.value
}

// IsProxy 是否是代理
func (w Wrapped) IsProxy() bool {
	return w.kind != 0
}

// Kind 代理类型，直接对象返回 0
func (w Wrapped) Kind() Kind {
	return w.kind
}

// Next 展开一层，无法获得目标时返回 false
func (w Wrapped) Next() (Wrapped, bool) {
	var target any
	switch w.kind {
	case KindInterface:
		ts, ok := w.value.(TargetSource)
		if !ok {
			return w, false
		}
		target = ts.Target()
	case KindEmbedded:
		target = embeddedTarget(w.value)
	default:
		return w, false
	}
	if target == nil || isNil(target) {
		return w, false
	}
	return Of(target), true
}

// Unwrap 逐层展开代理直到非代理对象；某层取不到目标时返回最后一个代理
func Unwrap(v any) any {
	w := Of(v)
	for i := 0; i < maxDepth && w.IsProxy(); i++ {
		next, ok := w.Next()
		if !ok {
			break
		}
		w = next
	}
	return w.Value()
}

// IsProxy 判断引用是否是代理
func IsProxy(v any) bool {
	return Of(v).IsProxy()
}

func embeddedTarget(v any) any {
	s := reflectx.StructOf(reflect.ValueOf(v))
	if !s.IsValid() {
		return nil
	}
	t := s.Type()

	idx := -1
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("proxy") == "target" {
			idx = i
			break
		}
	}
	if idx < 0 {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Anonymous && (f.Type.Kind() == reflect.Pointer || f.Type.Kind() == reflect.Interface) {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return nil
	}

	field := s.Field(idx)
	if reflectx.IsNilable(field.Type()) && field.IsNil() {
		return nil
	}
	out, ok := reflectx.Interface(field)
	if !ok {
		return nil
	}
	return out
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return reflectx.IsNilable(rv.Type()) && rv.IsNil()
}

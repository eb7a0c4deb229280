package resolve

import (
	"reflect"
	"strings"
	"unicode"

	"yqhp/testkit/pkg/container"
	"yqhp/testkit/pkg/errs"
)

// MethodSource 能按名字给出已绑定接收者的方法
type MethodSource interface {
	TypeName() string
	BoundMethod(name string) (reflect.Value, bool)
}

// Method 解析出的方法
type Method struct {
	Owner    string
	Name     string
	Func     reflect.Value
	Params   []reflect.Type
	Results  []reflect.Type
	Variadic bool
}

// Signature 返回 Name(p1, p2) 形式的签名
func (m *Method) Signature() string {
	return signature(m.Name, m.Params)
}

// Call 调用方法，可变参数方法的最后一个参数按切片传入
func (m *Method) Call(args []reflect.Value) []reflect.Value {
	if m.Variadic {
		return m.Func.CallSlice(args)
	}
	return m.Func.Call(args)
}

func signature(name string, params []reflect.Type) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.String()
	}
	return name + "(" + strings.Join(parts, ",") + ")"
}

// Resolve 按方法名和参数类型名列表在目标上查找方法
func (r *Resolver) Resolve(src MethodSource, name string, argTypes []string) (*Method, error) {
	if name == "" {
		return nil, errs.Resolution("methodName is empty")
	}
	resolved, err := r.ResolveTypes(argTypes)
	if err != nil {
		return nil, err
	}

	fn, ok := src.BoundMethod(name)
	if !ok {
		msg := "can not find method %s in %s"
		if isUnexported(name) {
			msg += ", unexported methods are not invokable"
		}
		return nil, errs.Resolution(msg, signature(name, resolved), src.TypeName())
	}

	ft := fn.Type()
	params := make([]reflect.Type, ft.NumIn())
	for i := range params {
		params[i] = ft.In(i)
	}
	if len(params) != len(resolved) {
		return nil, errs.Resolution("can not find method %s in %s, found %s",
			signature(name, resolved), src.TypeName(), signature(name, params))
	}
	for i := range params {
		if !sameParam(params[i], resolved[i]) {
			return nil, errs.Resolution("can not find method %s in %s, found %s",
				signature(name, resolved), src.TypeName(), signature(name, params))
		}
	}

	results := make([]reflect.Type, ft.NumOut())
	for i := range results {
		results[i] = ft.Out(i)
	}
	return &Method{
		Owner:    src.TypeName(),
		Name:     name,
		Func:     fn,
		Params:   params,
		Results:  results,
		Variadic: ft.IsVariadic(),
	}, nil
}

func isUnexported(name string) bool {
	for _, c := range name {
		return !unicode.IsUpper(c)
	}
	return false
}

// beanSource 容器组件的方法来源
type beanSource struct {
	v reflect.Value
}

// Bean 将组件包装为 MethodSource
func Bean(bean any) MethodSource {
	return beanSource{v: reflect.ValueOf(bean)}
}

func (b beanSource) TypeName() string {
	if !b.v.IsValid() {
		return "nil"
	}
	return container.CanonicalName(b.v.Type())
}

func (b beanSource) BoundMethod(name string) (reflect.Value, bool) {
	if !b.v.IsValid() {
		return reflect.Value{}, false
	}
	m := b.v.MethodByName(name)
	if !m.IsValid() {
		return reflect.Value{}, false
	}
	return m, true
}

package tool

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"yqhp/testkit/internal/coerce"
	"yqhp/testkit/internal/jsonx"
	"yqhp/testkit/internal/resolve"
	"yqhp/testkit/internal/tracing"
	"yqhp/testkit/pkg/container"
	"yqhp/testkit/pkg/errs"
	"yqhp/testkit/pkg/proxy"
	"yqhp/testkit/pkg/types"
)

var errorType = reflect.TypeFor[error]()

// simpleName 取类型名最后一段：a/b/pkg.Name -> Name
func simpleName(typeName string) string {
	name := typeName
	if i := strings.LastIndexAny(name, "./"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimLeft(name, "*")
}

// boolParam 解析布尔参数，非法值视为 false
func boolParam(params map[string]string, key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(params[key]))
	return b
}

// bean 容器中解析出的目标组件
type bean struct {
	name     string
	typ      reflect.Type
	instance any
}

// matchesType 组件能否当作 t 使用：可赋值，或 t 为结构体时其指针可赋值，或内嵌代理背后的对象可赋值
func matchesType(instance any, t reflect.Type) bool {
	it := reflect.TypeOf(instance)
	if it.AssignableTo(t) {
		return true
	}
	if t.Kind() == reflect.Struct && it.AssignableTo(reflect.PointerTo(t)) {
		return true
	}
	if proxy.IsProxy(instance) {
		target := reflect.TypeOf(proxy.Unwrap(instance))
		return target.AssignableTo(t) || (t.Kind() == reflect.Struct && target.AssignableTo(reflect.PointerTo(t)))
	}
	return false
}

// candidates 按类型查找组件，结构体类型同时匹配其指针
func candidates(lookup container.Lookup, t reflect.Type) map[string]any {
	found := make(map[string]any)
	maps.Copy(found, lookup.ByType(t))
	if t.Kind() == reflect.Struct {
		maps.Copy(found, lookup.ByType(reflect.PointerTo(t)))
	}
	return found
}

// findBean 按类型和可选的组件名查找。未给名字时要求类型唯一。
func (d *Deps) findBean(typeClass, beanName string) (*bean, error) {
	t, err := d.Resolver.ResolveType(typeClass)
	if err != nil {
		return nil, err
	}

	beanName = strings.TrimSpace(beanName)
	if beanName != "" {
		instance, ok := d.Container.ByName(beanName)
		if !ok {
			return nil, errs.Resolution("can not find %s in this container, no bean named %s", t, beanName)
		}
		if !matchesType(instance, t) {
			return nil, errs.Resolution("can not find %s in this container, bean %s is %T", t, beanName, instance)
		}
		return &bean{name: beanName, typ: t, instance: instance}, nil
	}

	found := candidates(d.Container, t)
	switch len(found) {
	case 0:
		return nil, errs.Resolution("can not find %s in this container", t)
	case 1:
		for name, instance := range found {
			return &bean{name: name, typ: t, instance: instance}, nil
		}
	}
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	slices.Sort(names)
	return nil, errs.Resolution("no union bean of type %s in this container: %s", t, strings.Join(names, ","))
}

// call 已解析的方法和参数
type call struct {
	method *resolve.Method
	args   *coerce.Result
}

// argsOf 参数值的通用形式，用于缓存 key 计算
func (c *call) argsOf() []any {
	out := make([]any, len(c.args.Values))
	for i, v := range c.args.Values {
		if v.IsValid() && v.CanInterface() {
			out[i] = v.Interface()
		}
	}
	return out
}

// resolveCall 在来源上解析方法并转换参数
func (d *Deps) resolveCall(ctx context.Context, src resolve.MethodSource, params map[string]string) (*call, error) {
	_, span := d.Tracer.Start(ctx, "resolve")
	argTypes, err := jsonx.DecodeStrings(params[types.ParamArgTypes])
	if err != nil {
		span.End()
		return nil, errs.ResolutionWrap(err, "argTypes must be a json string array")
	}
	m, err := d.Resolver.Resolve(src, params[types.ParamMethodName], argTypes)
	tracing.RecordError(span, err)
	span.End()
	if err != nil {
		return nil, err
	}

	_, span = d.Tracer.Start(ctx, "coerce")
	defer span.End()
	raws, err := jsonx.DecodeList(params[types.ParamArgs])
	if err != nil {
		return nil, errs.Coercion(-1, err, "args must be a json array")
	}
	if raws == nil {
		raws = make([]any, 0)
	}
	res, err := d.Coercer.CoerceAll(m.Params, raws)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return &call{method: m, args: res}, nil
}

// invoke 调用方法。被调用代码 panic 或返回非空 error 时转为 InvocationError。
func (d *Deps) invoke(ctx context.Context, c *call) (ret any, err error) {
	_, span := d.Tracer.Start(ctx, "invoke")
	span.SetAttributes(attribute.String("method", c.method.Signature()))
	defer func() {
		if r := recover(); r != nil {
			err = errs.Invocation(fmt.Errorf("panic: %v", r), errs.StripStack(debug.Stack()))
		}
		tracing.RecordError(span, err)
		span.End()
	}()

	out := c.method.Call(c.args.Values)
	return unpack(out)
}

// unpack 处理返回值：末位 error 非空即失败；单个返回值直接返回，多个返回值组成列表
func unpack(out []reflect.Value) (any, error) {
	if n := len(out); n > 0 && out[n-1].Type() == errorType {
		if e := out[n-1]; !e.IsNil() {
			return nil, errs.Invocation(e.Interface().(error), "")
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return valueOf(out[0]), nil
	}
	list := make([]any, len(out))
	for i, v := range out {
		list[i] = valueOf(v)
	}
	return list, nil
}

func valueOf(v reflect.Value) any {
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	return v.Interface()
}

// confirm 生成确认信息
func confirm(lines ...string) string {
	return strings.Join(slices.DeleteFunc(lines, func(s string) bool { return s == "" }), "\n")
}

func describeCall(c *call) string {
	return confirm(
		"method: "+c.method.Owner+"#"+c.method.Signature(),
		"args:",
		c.args.Summary,
	)
}

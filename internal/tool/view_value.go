package tool

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/ohler55/ojg/jp"

	"yqhp/testkit/internal/inject"
	"yqhp/testkit/internal/jsonx"
	"yqhp/testkit/internal/reflectx"
	"yqhp/testkit/pkg/errs"
	"yqhp/testkit/pkg/proxy"
	"yqhp/testkit/pkg/types"
)

// ViewValue 查看组件字段的当前值
type ViewValue struct {
	deps *Deps
}

// Name 实现 Tool
func (t *ViewValue) Name() string {
	return types.ToolViewValue
}

// Label 实现 Tool
func (t *ViewValue) Label(params map[string]string) (string, string) {
	return simpleName(params[types.ParamTypeClass]), params[types.ParamFieldName]
}

// Prepare 实现 Tool
func (t *ViewValue) Prepare(_ context.Context, params map[string]string) (*Plan, error) {
	field := strings.TrimSpace(params[types.ParamFieldName])
	if field == "" {
		return nil, errs.Resolution("fieldName is empty")
	}
	var path jp.Expr
	if p := strings.TrimSpace(params[types.ParamPath]); p != "" {
		x, err := jp.ParseString(p)
		if err != nil {
			return nil, errs.ResolutionWrap(err, "bad json path %s", p)
		}
		path = x
	}

	beans, err := t.beans(params)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(beans))
	for name := range beans {
		names = append(names, name)
	}
	slices.Sort(names)

	// 先确认字段存在
	for _, name := range names {
		if _, err := readField(beans[name], field); err != nil {
			return nil, err
		}
	}

	return &Plan{
		Confirm: fmt.Sprintf("beans: %s, field: %s, path: %s", strings.Join(names, ","), field, params[types.ParamPath]),
		run: func(context.Context) (any, error) {
			values := make(map[string]any, len(beans))
			for _, name := range names {
				v, err := readField(beans[name], field)
				if err != nil {
					return nil, err
				}
				if path != nil {
					if v, err = pick(v, path); err != nil {
						return nil, err
					}
				}
				values[name] = v
			}
			if len(values) == 1 {
				return values[names[0]], nil
			}
			return values, nil
		},
	}, nil
}

// beans 指定名字时只取该组件，否则取该类型的全部组件
func (t *ViewValue) beans(params map[string]string) (map[string]any, error) {
	if strings.TrimSpace(params[types.ParamBeanName]) != "" {
		b, err := t.deps.findBean(params[types.ParamTypeClass], params[types.ParamBeanName])
		if err != nil {
			return nil, err
		}
		return map[string]any{b.name: b.instance}, nil
	}
	typ, err := t.deps.Resolver.ResolveType(params[types.ParamTypeClass])
	if err != nil {
		return nil, err
	}
	found := candidates(t.deps.Container, typ)
	if len(found) == 0 {
		return nil, errs.Resolution("can not find %s in this container", typ)
	}
	return found, nil
}

// readField 读取原始对象上的字段，带注入标记的字段只返回类型描述
func readField(instance any, field string) (any, error) {
	target := proxy.Unwrap(instance)
	s := reflectx.StructOf(reflect.ValueOf(target))
	if !s.IsValid() {
		return nil, errs.Resolution("%T is not a struct", target)
	}
	sf, ok := s.Type().FieldByName(field)
	if !ok {
		return nil, errs.Resolution("can not find field %s in %T", field, target)
	}
	fv := s.FieldByIndex(sf.Index)
	v, ok := reflectx.Interface(fv)
	if !ok {
		return nil, errs.Resolution("field %s of %T is not readable", field, target)
	}
	if isInjected(sf) {
		if reflectx.IsUnset(reflectx.Accessible(fv)) {
			return nil, nil
		}
		return fmt.Sprintf("%T", v), nil
	}
	return v, nil
}

func isInjected(sf reflect.StructField) bool {
	if _, ok := inject.MarkerOf(sf); ok {
		return true
	}
	_, ok := sf.Tag.Lookup("inject")
	return ok
}

// pick 按 JSONPath 取值，单个结果直接返回
func pick(v any, path jp.Expr) (any, error) {
	data, err := jsonx.Normalize(v)
	if err != nil {
		return nil, fmt.Errorf("field value can not be serialized: %w", err)
	}
	res := path.Get(data)
	switch len(res) {
	case 0:
		return nil, nil
	case 1:
		return res[0], nil
	}
	return res, nil
}

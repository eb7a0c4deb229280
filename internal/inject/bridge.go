// Package inject 把容器里的组件注入到新建的实例中。
package inject

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/duke-git/lancet/v2/strutil"

	"yqhp/testkit/internal/reflectx"
	"yqhp/testkit/pkg/container"
	"yqhp/testkit/pkg/errs"
	"yqhp/testkit/pkg/proxy"
)

// MarkerKind 字段注入标记类型
type MarkerKind int

const (
	// ByType autowired:"" 按类型注入
	ByType MarkerKind = iota + 1
	// ByQualifier qualifier:"name" 按限定名注入，名字为空时使用字段名
	ByQualifier
	// ByResource resource:"name" 依次按指定名、字段名、首字母小写的字段名、类型查找
	ByResource
)

// String 返回标记对应的标签名
func (k MarkerKind) String() string {
	switch k {
	case ByType:
		return "autowired"
	case ByQualifier:
		return "qualifier"
	case ByResource:
		return "resource"
	}
	return fmt.Sprintf("MarkerKind(%d)", int(k))
}

// Marker 字段上声明的注入元数据
type Marker struct {
	Kind MarkerKind
	Name string
}

// markerOrder 优先级从高到低，每个字段只取第一个
var markerOrder = []MarkerKind{ByType, ByQualifier, ByResource}

// MarkerOf 读取字段的注入标记
func MarkerOf(sf reflect.StructField) (Marker, bool) {
	for _, kind := range markerOrder {
		if name, ok := sf.Tag.Lookup(kind.String()); ok {
			return Marker{Kind: kind, Name: name}, true
		}
	}
	return Marker{}, false
}

// Bridge 对新建实例做字段注入
type Bridge struct {
	lookup container.Lookup
}

// New 创建注入桥，lookup 同时实现 container.Autowirer 时先交给容器自身注入
func New(lookup container.Lookup) *Bridge {
	return &Bridge{lookup: lookup}
}

// Inject 注入实例。先执行容器自身的注入，再处理仍未赋值且带标记的字段。
// 单个字段失败不影响其他字段，所有失败合并返回。
func (b *Bridge) Inject(instance any) error {
	s := reflectx.StructOf(reflect.ValueOf(instance))
	if !s.IsValid() || !s.CanAddr() {
		return errs.Injection("", nil, "instance must be a struct pointer, got %T", instance)
	}

	if aw, ok := b.lookup.(container.Autowirer); ok {
		if err := aw.AutowireBean(instance); err != nil {
			return errs.Injection("", err, "container autowire fail")
		}
	}

	var failures []error
	t := s.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		marker, ok := MarkerOf(sf)
		if !ok {
			continue
		}
		field := reflectx.Accessible(s.Field(i))
		if !field.CanSet() || !reflectx.IsUnset(field) {
			continue
		}
		bean, err := b.find(sf, marker)
		if err != nil {
			failures = append(failures, errs.Injection(sf.Name, err, "inject %s fail", marker.Kind))
			continue
		}
		v, ok := assignable(bean, sf.Type)
		if !ok {
			failures = append(failures, errs.Injection(sf.Name, nil, "bean %T can not assign to %s", bean, sf.Type))
			continue
		}
		field.Set(v)
	}
	return errors.Join(failures...)
}

// assignable 代理不能直接赋值时注入其背后的对象
func assignable(bean any, t reflect.Type) (reflect.Value, bool) {
	v := reflect.ValueOf(bean)
	if v.Type().AssignableTo(t) {
		return v, true
	}
	if !proxy.IsProxy(bean) {
		return v, false
	}
	v = reflect.ValueOf(proxy.Unwrap(bean))
	return v, v.Type().AssignableTo(t)
}

func (b *Bridge) find(sf reflect.StructField, m Marker) (any, error) {
	switch m.Kind {
	case ByType:
		return b.byType(sf.Type)
	case ByQualifier:
		if m.Name != "" {
			if bean, ok := b.lookup.ByName(m.Name); ok {
				return bean, nil
			}
		}
		if bean, ok := b.lookup.ByName(sf.Name); ok {
			return bean, nil
		}
		if m.Name != "" {
			return nil, fmt.Errorf("no bean named %s or %s", m.Name, sf.Name)
		}
		return nil, fmt.Errorf("no bean named %s", sf.Name)
	case ByResource:
		for _, name := range []string{m.Name, sf.Name, strutil.LowerFirst(sf.Name)} {
			if name == "" {
				continue
			}
			if bean, ok := b.lookup.ByName(name); ok {
				return bean, nil
			}
		}
		return b.byType(sf.Type)
	}
	return nil, fmt.Errorf("unknown marker %s", m.Kind)
}

func (b *Bridge) byType(t reflect.Type) (any, error) {
	candidates := b.lookup.ByType(t)
	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("no bean of type %s", t)
	case 1:
		for _, bean := range candidates {
			return bean, nil
		}
	}
	return nil, fmt.Errorf("expected single bean of type %s but found %d", t, len(candidates))
}

// Package container 宿主应用的组件容器：按名字注册组件，按类型/名字查找，
// 并提供容器自身的字段注入能力。testkit 只通过 Lookup 等接口使用它。
package container

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"yqhp/testkit/internal/reflectx"
	"yqhp/testkit/pkg/proxy"
)

// Lookup 组件查找能力
type Lookup interface {
	// ByType 返回所有可赋值给 t 的组件，key 为组件名
	ByType(t reflect.Type) map[string]any
	// ByName 按名字查找组件
	ByName(name string) (any, bool)
	// Types 宿主可见类型表
	Types() *TypeRegistry
}

// Autowirer 容器自身的自动注入能力
type Autowirer interface {
	AutowireBean(instance any) error
}

// PropertySource 宿主配置项
type PropertySource interface {
	Property(key string) (string, bool)
}

// Container 组件容器
type Container struct {
	mu    sync.RWMutex
	names []string
	beans map[string]any
	props map[string]string
	types *TypeRegistry
}

// New 创建容器，types 为空时新建类型表
func New(types *TypeRegistry) *Container {
	if types == nil {
		types = NewTypeRegistry()
	}
	return &Container{
		beans: make(map[string]any),
		props: make(map[string]string),
		types: types,
	}
}

// Register 注册组件，同名组件不能重复注册。
// 组件（以及代理背后的原始对象）的命名类型会一并登记到类型表。
func (c *Container) Register(name string, bean any) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("组件名不能为空")
	}
	if bean == nil {
		return fmt.Errorf("组件 %s 不能为空", name)
	}

	c.mu.Lock()
	if _, ok := c.beans[name]; ok {
		c.mu.Unlock()
		return fmt.Errorf("组件 %s 已存在", name)
	}
	c.beans[name] = bean
	c.names = append(c.names, name)
	c.mu.Unlock()

	for _, v := range []any{bean, proxy.Unwrap(bean)} {
		t := reflect.TypeOf(v)
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Name() != "" && t.PkgPath() != "" {
			_ = c.types.Register(t)
		}
	}
	return nil
}

// MustRegister 注册失败时 panic，用于应用启动阶段
func (c *Container) MustRegister(name string, bean any) {
	if err := c.Register(name, bean); err != nil {
		panic(err)
	}
}

// ByName 按名字查找组件
func (c *Container) ByName(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bean, ok := c.beans[name]
	return bean, ok
}

// ByType 返回所有可赋值给 t 的组件。
// 内嵌代理不能直接赋值给目标类型，此时按代理背后的原始对象判断，返回的仍是代理本身。
func (c *Container) ByType(t reflect.Type) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any)
	for _, name := range c.names {
		bean := c.beans[name]
		if matches(bean, t) {
			out[name] = bean
		}
	}
	return out
}

// NamesForType 按注册顺序返回匹配类型的组件名
func (c *Container) NamesForType(t reflect.Type) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var names []string
	for _, name := range c.names {
		if matches(c.beans[name], t) {
			names = append(names, name)
		}
	}
	return names
}

func matches(bean any, t reflect.Type) bool {
	if t == nil {
		return false
	}
	if reflect.TypeOf(bean).AssignableTo(t) {
		return true
	}
	if proxy.Of(bean).Kind() == proxy.KindEmbedded {
		return reflect.TypeOf(proxy.Unwrap(bean)).AssignableTo(t)
	}
	return false
}

// Types 返回类型表
func (c *Container) Types() *TypeRegistry {
	return c.types
}

// SetProperty 设置配置项
func (c *Container) SetProperty(key, value string) {
	c.mu.Lock()
	c.props[key] = value
	c.mu.Unlock()
}

// Property 读取配置项
func (c *Container) Property(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.props[key]
	return v, ok
}

// AutowireBean 容器自身的注入：处理 `inject` 标签的字段。
// `inject:"name"` 按名字注入，`inject:""` 按类型注入且要求唯一；已有值的字段不覆盖。
func (c *Container) AutowireBean(instance any) error {
	s := reflectx.StructOf(reflect.ValueOf(instance))
	if !s.IsValid() {
		return fmt.Errorf("只能注入结构体指针, 实际为 %T", instance)
	}
	if !s.CanAddr() {
		return fmt.Errorf("只能注入结构体指针, 实际为 %T", instance)
	}

	t := s.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, ok := sf.Tag.Lookup("inject")
		if !ok {
			continue
		}
		field := reflectx.Accessible(s.Field(i))
		if !reflectx.IsUnset(field) {
			continue
		}

		var bean any
		if name != "" {
			b, found := c.ByName(name)
			if !found {
				return fmt.Errorf("字段 %s 注入失败: 找不到组件 %s", sf.Name, name)
			}
			bean = b
		} else {
			candidates := c.ByType(sf.Type)
			if len(candidates) != 1 {
				return fmt.Errorf("字段 %s 注入失败: 类型 %s 匹配到 %d 个组件", sf.Name, sf.Type, len(candidates))
			}
			for _, b := range candidates {
				bean = b
			}
		}

		v := reflect.ValueOf(bean)
		if !v.Type().AssignableTo(sf.Type) {
			// 内嵌代理注入其背后的对象
			v = reflect.ValueOf(proxy.Unwrap(bean))
		}
		if !v.Type().AssignableTo(sf.Type) {
			return fmt.Errorf("字段 %s 注入失败: 组件类型 %T 不能赋值给 %s", sf.Name, bean, sf.Type)
		}
		field.Set(v)
	}
	return nil
}

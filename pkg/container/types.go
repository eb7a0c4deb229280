package container

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"
)

// TypeRegistry 宿主应用对外可见的类型表。
// Go 没有按名字加载类型的能力，宿主需要把希望被调用、被代码片段引用的类型注册进来。
type TypeRegistry struct {
	mu      sync.RWMutex
	types   map[string]reflect.Type
	short   map[string][]reflect.Type
	aliases map[string]reflect.Type
	enums   map[reflect.Type]map[string]reflect.Value
	symbols map[string]map[string]reflect.Value
}

var builtinTypes = map[string]reflect.Type{
	"bool":            reflect.TypeFor[bool](),
	"string":          reflect.TypeFor[string](),
	"int":             reflect.TypeFor[int](),
	"int8":            reflect.TypeFor[int8](),
	"int16":           reflect.TypeFor[int16](),
	"int32":           reflect.TypeFor[int32](),
	"int64":           reflect.TypeFor[int64](),
	"uint":            reflect.TypeFor[uint](),
	"uint8":           reflect.TypeFor[uint8](),
	"uint16":          reflect.TypeFor[uint16](),
	"uint32":          reflect.TypeFor[uint32](),
	"uint64":          reflect.TypeFor[uint64](),
	"byte":            reflect.TypeFor[byte](),
	"rune":            reflect.TypeFor[rune](),
	"float32":         reflect.TypeFor[float32](),
	"float64":         reflect.TypeFor[float64](),
	"any":             reflect.TypeFor[any](),
	"interface {}":    reflect.TypeFor[any](),
	"interface{}":     reflect.TypeFor[any](),
	"error":           reflect.TypeFor[error](),
	"time.Time":       reflect.TypeFor[time.Time](),
	"time.Duration":   reflect.TypeFor[time.Duration](),
	"json.RawMessage": reflect.TypeFor[json.RawMessage](),
}

// jvmAliases IDE 侧按 JVM 规范传递的类型名
var jvmAliases = map[string]reflect.Type{
	"java.lang.String":        reflect.TypeFor[string](),
	"java.lang.Object":        reflect.TypeFor[any](),
	"java.util.Date":          reflect.TypeFor[time.Time](),
	"java.time.LocalDateTime": reflect.TypeFor[time.Time](),
	"java.lang.Integer":       reflect.TypeFor[*int32](),
	"java.lang.Long":          reflect.TypeFor[*int64](),
	"java.lang.Short":         reflect.TypeFor[*int16](),
	"java.lang.Byte":          reflect.TypeFor[*int8](),
	"java.lang.Double":        reflect.TypeFor[*float64](),
	"java.lang.Float":         reflect.TypeFor[*float32](),
	"java.lang.Boolean":       reflect.TypeFor[*bool](),
	"long":                    reflect.TypeFor[int64](),
	"short":                   reflect.TypeFor[int16](),
	"double":                  reflect.TypeFor[float64](),
	"float":                   reflect.TypeFor[float32](),
	"boolean":                 reflect.TypeFor[bool](),
	"char":                    reflect.TypeFor[rune](),
	"java.util.List":          reflect.TypeFor[[]any](),
	"java.util.ArrayList":     reflect.TypeFor[[]any](),
	"java.util.Set":           reflect.TypeFor[[]any](),
	"java.util.Collection":    reflect.TypeFor[[]any](),
	"java.util.Map":           reflect.TypeFor[map[string]any](),
	"java.util.HashMap":       reflect.TypeFor[map[string]any](),
}

// NewTypeRegistry 创建类型表，内置基础类型和 JVM 别名
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{
		types:   make(map[string]reflect.Type),
		short:   make(map[string][]reflect.Type),
		aliases: make(map[string]reflect.Type),
		enums:   make(map[reflect.Type]map[string]reflect.Value),
		symbols: make(map[string]map[string]reflect.Value),
	}
	for name, t := range jvmAliases {
		r.aliases[name] = t
	}
	return r
}

// CanonicalName 返回类型的规范名：命名类型为 importpath.Name，其余为 reflect 的字符串形式
func CanonicalName(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// packageName 从 "pkg.Name" 形式的类型字符串里取包名
func packageName(t reflect.Type) string {
	s := t.String()
	if i := strings.Index(s, "."); i > 0 {
		return s[:i]
	}
	return ""
}

// Register 注册命名类型，指针类型按其元素类型注册
func (r *TypeRegistry) Register(t reflect.Type) error {
	if t == nil {
		return fmt.Errorf("类型不能为空")
	}
	if t.Kind() == reflect.Pointer && t.Name() == "" {
		t = t.Elem()
	}
	if t.Name() == "" || t.PkgPath() == "" {
		return fmt.Errorf("只能注册包级命名类型: %s", t.String())
	}
	if strings.ContainsAny(t.Name(), "[]") {
		return fmt.Errorf("不支持注册泛型实例: %s", t.String())
	}

	name := CanonicalName(t)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[name]; ok {
		return nil
	}
	r.types[name] = t
	r.short[t.String()] = append(r.short[t.String()], t)
	r.addSymbolLocked(t.PkgPath(), packageName(t), t.Name(), reflect.Zero(reflect.PointerTo(t)))
	return nil
}

// RegisterType 泛型形式的 Register
func RegisterType[T any](r *TypeRegistry) reflect.Type {
	t := reflect.TypeFor[T]()
	if err := r.Register(t); err != nil {
		panic(err)
	}
	return t
}

// Alias 为类型增加别名
func (r *TypeRegistry) Alias(name string, t reflect.Type) {
	r.mu.Lock()
	r.aliases[name] = t
	r.mu.Unlock()
}

// RegisterEnum 声明枚举类型及其常量名
func (r *TypeRegistry) RegisterEnum(t reflect.Type, constants map[string]any) error {
	if err := r.Register(t); err != nil {
		return err
	}
	values := make(map[string]reflect.Value, len(constants))
	for name, c := range constants {
		v := reflect.ValueOf(c)
		if !v.IsValid() || !v.Type().ConvertibleTo(t) {
			return fmt.Errorf("枚举常量 %s 不是 %s 类型", name, t.String())
		}
		values[name] = v.Convert(t)
	}
	r.mu.Lock()
	r.enums[t] = values
	r.mu.Unlock()
	return nil
}

// RegisterEnum 泛型形式的 RegisterEnum
func RegisterEnum[T any](r *TypeRegistry, constants map[string]T) {
	m := make(map[string]any, len(constants))
	for k, v := range constants {
		m[k] = v
	}
	if err := r.RegisterEnum(reflect.TypeFor[T](), m); err != nil {
		panic(err)
	}
}

// Enum 返回枚举常量表，非枚举类型返回 false
func (r *TypeRegistry) Enum(t reflect.Type) (map[string]reflect.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.enums[t]
	return m, ok
}

// RegisterSymbol 向代码片段暴露函数或变量，pkgPath 为导入路径
func (r *TypeRegistry) RegisterSymbol(pkgPath, pkgName, name string, v any) {
	r.mu.Lock()
	r.addSymbolLocked(pkgPath, pkgName, name, reflect.ValueOf(v))
	r.mu.Unlock()
}

func (r *TypeRegistry) addSymbolLocked(pkgPath, pkgName, name string, v reflect.Value) {
	key := pkgPath + "/" + pkgName
	if r.symbols[key] == nil {
		r.symbols[key] = make(map[string]reflect.Value)
	}
	r.symbols[key][name] = v
}

// Lookup 按名字精确查找：内置类型、已注册类型、别名、唯一的短名 pkg.Name
func (r *TypeRegistry) Lookup(name string) (reflect.Type, bool) {
	if t, ok := builtinTypes[name]; ok {
		return t, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.types[name]; ok {
		return t, true
	}
	if t, ok := r.aliases[name]; ok {
		return t, true
	}
	if ts := r.short[name]; len(ts) == 1 {
		return ts[0], true
	}
	return nil, false
}

// Visible 判断限定名是否已被宿主类型占用，同时比较完整名和 pkg.Name 短名
func (r *TypeRegistry) Visible(qualified string) bool {
	if _, ok := builtinTypes[qualified]; ok {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.types[qualified]; ok {
		return true
	}
	return len(r.short[qualified]) > 0
}

// Names 已注册类型的规范名
func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Exports 以解释器需要的结构导出符号：key 为 "importpath/pkgname"
func (r *TypeRegistry) Exports() map[string]map[string]reflect.Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string]reflect.Value, len(r.symbols))
	for pkg, syms := range r.symbols {
		m := make(map[string]reflect.Value, len(syms))
		for k, v := range syms {
			m[k] = v
		}
		out[pkg] = m
	}
	return out
}

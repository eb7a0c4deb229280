package cache

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dop251/goja"

	"yqhp/testkit/internal/jsonx"
)

// SimpleKey 默认 key 生成器在多个参数或无参数时使用的组合 key
type SimpleKey []any

// String 形如 SimpleKey [a,b]
func (k SimpleKey) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = KeyString(v)
	}
	return "SimpleKey [" + strings.Join(parts, ",") + "]"
}

// DefaultKey 无参数为空 SimpleKey，单个参数为参数本身，多个参数为 SimpleKey
func DefaultKey(args []any) any {
	switch len(args) {
	case 0:
		return SimpleKey{}
	case 1:
		if args[0] != nil {
			return args[0]
		}
	}
	return SimpleKey(args)
}

// KeyString key 的文本形式
func KeyString(key any) string {
	switch k := key.(type) {
	case nil:
		return "null"
	case string:
		return k
	case time.Time:
		return k.Format(time.RFC3339)
	case fmt.Stringer:
		return k.String()
	}
	switch reflect.ValueOf(key).Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array, reflect.Pointer:
		if s, err := jsonx.MarshalString(key); err == nil {
			return s
		}
	}
	return fmt.Sprint(key)
}

// KeyGenerator 计算缓存 key，表达式用 goja 执行
type KeyGenerator struct {
	// Timeout 单次表达式的执行上限
	Timeout time.Duration
}

// NewKeyGenerator 创建 key 生成器
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{Timeout: 3 * time.Second}
}

// Generate 按声明计算 key，表达式结果为 null/undefined 时返回 nil
func (g *KeyGenerator) Generate(op Operation, args []any) (any, error) {
	if strings.TrimSpace(op.Key) == "" {
		return DefaultKey(args), nil
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := vm.Set("args", args); err != nil {
		return nil, err
	}
	for i, a := range args {
		_ = vm.Set(fmt.Sprintf("p%d", i), a)
		_ = vm.Set(fmt.Sprintf("a%d", i), a)
		if i < len(op.ParamNames) && op.ParamNames[i] != "" {
			_ = vm.Set(op.ParamNames[i], a)
		}
	}

	if g.Timeout > 0 {
		timer := time.AfterFunc(g.Timeout, func() {
			vm.Interrupt("key 表达式执行超时")
		})
		defer timer.Stop()
	}

	v, err := vm.RunString(op.Key)
	if err != nil {
		return nil, fmt.Errorf("key 表达式 %q 执行失败: %w", op.Key, err)
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return v.Export(), nil
}

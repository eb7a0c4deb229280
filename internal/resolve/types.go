// Package resolve 将规范类型名解析为具体类型，并在目标上查找签名匹配的方法。
package resolve

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"yqhp/testkit/pkg/container"
	"yqhp/testkit/pkg/errs"
)

var wildcardReplacer = strings.NewReplacer("? extends ", "", "? super ", "")

// normalize 去掉通配符，裸 ? 视为 any
func normalize(name string) string {
	name = strings.TrimSpace(wildcardReplacer.Replace(name))
	if name == "?" {
		return "any"
	}
	return name
}

// Resolver 方法解析器
type Resolver struct {
	types *container.TypeRegistry
}

// New 创建解析器
func New(types *container.TypeRegistry) *Resolver {
	if types == nil {
		types = container.NewTypeRegistry()
	}
	return &Resolver{types: types}
}

// ResolveType 将规范类型名解析为类型
func (r *Resolver) ResolveType(name string) (reflect.Type, error) {
	raw := name
	name = normalize(name)
	if name == "" {
		return nil, errs.Resolution("type name is empty")
	}
	t, err := r.parse(name)
	if err != nil {
		return nil, errs.ResolutionWrap(err, "can not find class: %s, please check", raw)
	}
	return t, nil
}

// ResolveTypes 批量解析
func (r *Resolver) ResolveTypes(names []string) ([]reflect.Type, error) {
	out := make([]reflect.Type, 0, len(names))
	for _, name := range names {
		t, err := r.ResolveType(name)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *Resolver) parse(name string) (reflect.Type, error) {
	switch {
	case strings.HasPrefix(name, "*"):
		elem, err := r.parse(normalize(name[1:]))
		if err != nil {
			return nil, err
		}
		return reflect.PointerTo(elem), nil

	case strings.HasPrefix(name, "..."):
		elem, err := r.parse(normalize(name[3:]))
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil

	case strings.HasPrefix(name, "[]"):
		elem, err := r.parse(normalize(name[2:]))
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil

	case strings.HasPrefix(name, "map["):
		end := matchingBracket(name, 3)
		if end < 0 {
			return nil, fmt.Errorf("bad map type %s", name)
		}
		key, err := r.parse(normalize(name[4:end]))
		if err != nil {
			return nil, err
		}
		if !key.Comparable() {
			return nil, fmt.Errorf("map key %s is not comparable", key)
		}
		val, err := r.parse(normalize(name[end+1:]))
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(key, val), nil

	case strings.HasPrefix(name, "["):
		end := strings.Index(name, "]")
		if end < 0 {
			return nil, fmt.Errorf("bad array type %s", name)
		}
		n, err := strconv.Atoi(name[1:end])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad array length in %s", name)
		}
		elem, err := r.parse(normalize(name[end+1:]))
		if err != nil {
			return nil, err
		}
		return reflect.ArrayOf(n, elem), nil

	case strings.HasSuffix(name, "[]"):
		// JVM 数组写法 T[]
		elem, err := r.parse(normalize(strings.TrimSuffix(name, "[]")))
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil

	case strings.Contains(name, "<"):
		// JVM 泛型只按原始类型匹配
		return r.parse(normalize(name[:strings.Index(name, "<")]))
	}

	if t, ok := r.lookupNamed(name); ok {
		return t, nil
	}
	return nil, fmt.Errorf("type %s not registered", name)
}

// lookupNamed 先按原名查找；找不到时把包路径部分最右侧的 . 逐个替换为 / 重试，
// 兼容 github.com.acme.svc.User 这类全点号写法。
func (r *Resolver) lookupNamed(name string) (reflect.Type, bool) {
	if t, ok := r.types.Lookup(name); ok {
		return t, true
	}
	sep := strings.LastIndex(name, ".")
	if sep <= 0 {
		return nil, false
	}
	head, tail := name[:sep], name[sep:]
	for {
		i := strings.LastIndex(head, ".")
		if i < 0 {
			return nil, false
		}
		head = head[:i] + "/" + head[i+1:]
		if t, ok := r.types.Lookup(head + tail); ok {
			return t, true
		}
	}
}

// matchingBracket 返回与 open 位置 [ 配对的 ] 下标
func matchingBracket(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// erasure 容器类型只比较种类
func erasure(t reflect.Type) reflect.Kind {
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return t.Kind()
	}
	return reflect.Invalid
}

// sameParam 判断声明的参数类型与解析出的类型是否匹配
func sameParam(declared, resolved reflect.Type) bool {
	if declared == resolved {
		return true
	}
	if k := erasure(resolved); k != reflect.Invalid {
		return erasure(declared) == k
	}
	return false
}

package rest

import (
	"fmt"
	"reflect"

	"yqhp/testkit/internal/jsonx"
)

// Sanitize 保证结果可以序列化：能直接序列化的原样返回，
// 切片和 map 逐个元素降级，其余的转为 %v 文本。
func Sanitize(v any) any {
	if v == nil {
		return nil
	}
	if _, err := jsonx.Marshal(v); err == nil {
		return v
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Sanitize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = Sanitize(iter.Value().Interface())
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
	}
	return fmt.Sprintf("%v", v)
}

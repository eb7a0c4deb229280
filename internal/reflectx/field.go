// Package reflectx 反射辅助，主要处理未导出字段的读写。
package reflectx

import (
	"reflect"
	"unsafe"
)

// Accessible 返回可读写的字段值。
// 未导出字段通过 reflect.NewAt 绕过导出检查，要求所在结构体可寻址。
func Accessible(field reflect.Value) reflect.Value {
	if field.CanSet() {
		return field
	}
	if !field.CanAddr() {
		return field
	}
	return reflect.NewAt(field.Type(), unsafe.Pointer(field.UnsafeAddr())).Elem()
}

// Interface 读取字段值，未导出字段同样可读
func Interface(field reflect.Value) (any, bool) {
	f := Accessible(field)
	if !f.CanInterface() {
		return nil, false
	}
	return f.Interface(), true
}

// StructOf 解引用指针直到结构体，非结构体返回无效值
func StructOf(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	if !v.IsValid() || v.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	return v
}

// IsNilable 类型的零值是否为 nil
func IsNilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// IsUnset 字段是否尚未赋值：可为 nil 的类型判断 nil，其余判断零值
func IsUnset(field reflect.Value) bool {
	if IsNilable(field.Type()) {
		return field.IsNil()
	}
	return field.IsZero()
}

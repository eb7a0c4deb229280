// Package coerce 把 JSON 解出的松散值转换成方法参数需要的具体类型。
package coerce

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"yqhp/testkit/internal/jsonx"
	"yqhp/testkit/pkg/container"
	"yqhp/testkit/pkg/errs"
)

// DateLayout 日期参数唯一支持的文本格式 yyyy-MM-dd HH:mm:ss
const DateLayout = "2006-01-02 15:04:05"

var (
	digitsRe = regexp.MustCompile(`^\d+$`)
	timeType = reflect.TypeFor[time.Time]()

	errDateFormat = errors.New("date need match yyyy-MM-dd HH:mm:ss or ms timestamp")
)

// Coercer 参数转换器，本身无状态，可并发使用
type Coercer struct {
	types *container.TypeRegistry
	loc   *time.Location
}

// Option 转换器选项
type Option func(*Coercer)

// WithLocation 设置解析日期文本使用的时区，默认 time.Local
func WithLocation(loc *time.Location) Option {
	return func(c *Coercer) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// New 创建转换器，types 用于查找枚举常量
func New(types *container.TypeRegistry, opts ...Option) *Coercer {
	if types == nil {
		types = container.NewTypeRegistry()
	}
	c := &Coercer{types: types, loc: time.Local}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result 批量转换结果
type Result struct {
	Values []reflect.Value
	// Summary 每个参数的转换结果，一行一个，转换失败的参数也会列出
	Summary string
}

// CoerceAll 按参数类型逐个转换。
// 遇到失败时继续处理剩余参数以生成完整摘要，返回第一个错误。
func (c *Coercer) CoerceAll(params []reflect.Type, raws []any) (*Result, error) {
	if len(raws) != len(params) {
		return nil, errs.Resolution("args size %d not match method param size %d", len(raws), len(params))
	}
	res := &Result{Values: make([]reflect.Value, len(params))}
	var (
		first error
		b     strings.Builder
	)
	for i, t := range params {
		v, err := c.Coerce(t, raws[i])
		if err != nil {
			if first == nil {
				first = errs.Coercion(i, err, "can not deserialization param")
			}
			fmt.Fprintf(&b, "[%d] %s = <error: %v>\n", i, t, err)
			continue
		}
		res.Values[i] = v
		fmt.Fprintf(&b, "[%d] %s = %s\n", i, t, Describe(v))
	}
	res.Summary = strings.TrimSuffix(b.String(), "\n")
	if first != nil {
		return res, first
	}
	return res, nil
}

// Coerce 将单个值转换为类型 t
func (c *Coercer) Coerce(t reflect.Type, raw any) (reflect.Value, error) {
	if raw == nil {
		return reflect.Zero(t), nil
	}
	if rv := reflect.ValueOf(raw); rv.Type() == t {
		return rv, nil
	}

	if consts, ok := c.types.Enum(t); ok {
		return coerceEnum(t, consts, raw)
	}

	switch {
	case t == timeType:
		return c.coerceTime(raw)
	case t.Kind() == reflect.Pointer && isScalar(t.Elem()):
		// 包装类型：空值为 nil
		if text(raw) == "" {
			return reflect.Zero(t), nil
		}
		elem, err := c.Coerce(t.Elem(), raw)
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		return p, nil
	}

	switch t.Kind() {
	case reflect.String:
		return coerceString(t, raw)
	case reflect.Bool:
		return parseScalar(t, text(raw), func(s string, v reflect.Value) error {
			b, err := strconv.ParseBool(s)
			v.SetBool(b)
			return err
		})
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return parseScalar(t, text(raw), func(s string, v reflect.Value) error {
			n, err := strconv.ParseInt(s, 10, t.Bits())
			v.SetInt(n)
			return err
		})
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return parseScalar(t, text(raw), func(s string, v reflect.Value) error {
			n, err := strconv.ParseUint(s, 10, t.Bits())
			v.SetUint(n)
			return err
		})
	case reflect.Float32, reflect.Float64:
		return parseScalar(t, text(raw), func(s string, v reflect.Value) error {
			f, err := strconv.ParseFloat(s, t.Bits())
			v.SetFloat(f)
			return err
		})
	case reflect.Interface:
		rv := reflect.ValueOf(raw)
		if !rv.Type().Implements(t) {
			return reflect.Value{}, fmt.Errorf("%s does not implement %s", rv.Type(), t)
		}
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	}
	return reencode(t, raw)
}

func isScalar(t reflect.Type) bool {
	if t == timeType {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// text 取值的文本形式
func text(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(raw)
}

func parseScalar(t reflect.Type, s string, set func(string, reflect.Value) error) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	if s == "" {
		return v, nil
	}
	if err := set(s, v); err != nil {
		return reflect.Value{}, err
	}
	return v, nil
}

func coerceString(t reflect.Type, raw any) (reflect.Value, error) {
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case json.Number, bool, float64, float32, int, int64, int32, uint, uint64:
		s = text(v)
	default:
		rv := reflect.ValueOf(raw)
		if rv.Kind() == reflect.String {
			s = rv.String()
			break
		}
		data, err := sonic.MarshalString(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		s = data
	}
	return reflect.ValueOf(s).Convert(t), nil
}

func (c *Coercer) coerceTime(raw any) (reflect.Value, error) {
	s := strings.TrimSpace(text(raw))
	if s == "" {
		return reflect.Zero(timeType), nil
	}
	if digitsRe.MatchString(s) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(time.UnixMilli(ms)), nil
	}
	tm, err := time.ParseInLocation(DateLayout, s, c.loc)
	if err != nil {
		return reflect.Value{}, errDateFormat
	}
	return reflect.ValueOf(tm), nil
}

func coerceEnum(t reflect.Type, consts map[string]reflect.Value, raw any) (reflect.Value, error) {
	name := text(raw)
	if name == "" {
		return reflect.Zero(t), nil
	}
	v, ok := consts[name]
	if !ok {
		return reflect.Value{}, fmt.Errorf("no enum constant %s.%s", t, name)
	}
	return v, nil
}

// reencode 重新编码为 JSON 再按完整类型解码，支持嵌套的泛型容器
func reencode(t reflect.Type, raw any) (reflect.Value, error) {
	data, err := jsonx.Marshal(raw)
	if err != nil {
		return reflect.Value{}, err
	}
	p := reflect.New(t)
	if err := jsonx.Unmarshal(data, p.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return p.Elem(), nil
}

// Describe 转换后值的可读形式，用于确认信息
func Describe(v reflect.Value) string {
	if !v.IsValid() {
		return "null"
	}
	if tm, ok := v.Interface().(time.Time); ok {
		if tm.IsZero() {
			return "null"
		}
		return tm.Format(DateLayout)
	}
	s, err := jsonx.MarshalString(v.Interface())
	if err != nil {
		return fmt.Sprintf("%v", v.Interface())
	}
	return s
}

package coerce

import (
	"encoding/json"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"yqhp/testkit/internal/jsonx"
	"yqhp/testkit/pkg/container"
	"yqhp/testkit/pkg/errs"
)

type Level string

type Address struct {
	City string `json:"city"`
	Zip  int    `json:"zip"`
}

type Member struct {
	Name      string             `json:"name"`
	Addresses []Address          `json:"addresses"`
	Tags      map[string][]int64 `json:"tags"`
}

func newCoercer() *Coercer {
	types := container.NewTypeRegistry()
	container.RegisterEnum(types, map[string]Level{"LOW": "low", "HIGH": "high"})
	return New(types, WithLocation(time.UTC))
}

func TestCoerceDate(t *testing.T) {
	c := newCoercer()
	dateType := reflect.TypeFor[time.Time]()

	t.Run("毫秒时间戳文本", func(t *testing.T) {
		v, err := c.Coerce(dateType, "1700000000000")
		require.NoError(t, err)
		assert.True(t, time.UnixMilli(1700000000000).Equal(v.Interface().(time.Time)))
	})

	t.Run("毫秒时间戳数字", func(t *testing.T) {
		v, err := c.Coerce(dateType, json.Number("1700000000000"))
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000000), v.Interface().(time.Time).UnixMilli())
	})

	t.Run("固定格式", func(t *testing.T) {
		v, err := c.Coerce(dateType, "2024-01-01 00:00:00")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), v.Interface())
	})

	t.Run("其他格式失败", func(t *testing.T) {
		_, err := c.Coerce(dateType, "01/01/2024")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "yyyy-MM-dd HH:mm:ss")

		_, err = c.CoerceAll([]reflect.Type{dateType}, []any{"01/01/2024"})
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.KindCoercion))
	})

	t.Run("空值", func(t *testing.T) {
		v, err := c.Coerce(dateType, "  ")
		require.NoError(t, err)
		assert.True(t, v.Interface().(time.Time).IsZero())
	})
}

func TestCoerceScalars(t *testing.T) {
	c := newCoercer()

	tests := []struct {
		name string
		typ  reflect.Type
		raw  any
		want any
	}{
		{"字符串原样", reflect.TypeFor[string](), "abc", "abc"},
		{"数字转字符串", reflect.TypeFor[string](), json.Number("12"), "12"},
		{"布尔转字符串", reflect.TypeFor[string](), true, "true"},
		{"对象转字符串", reflect.TypeFor[string](), map[string]any{"a": json.Number("1")}, `{"a":1}`},
		{"整数", reflect.TypeFor[int](), json.Number("42"), 42},
		{"整数文本", reflect.TypeFor[int64](), "9007199254740993", int64(9007199254740993)},
		{"空串得零值", reflect.TypeFor[int64](), "", int64(0)},
		{"浮点", reflect.TypeFor[float64](), json.Number("1.5"), 1.5},
		{"布尔", reflect.TypeFor[bool](), "true", true},
		{"无符号", reflect.TypeFor[uint16](), json.Number("65535"), uint16(65535)},
		{"枚举", reflect.TypeFor[Level](), "HIGH", Level("high")},
		{"nil 得零值", reflect.TypeFor[int](), nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := c.Coerce(tt.typ, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Interface())
		})
	}
}

func TestCoercePointer(t *testing.T) {
	c := newCoercer()

	v, err := c.Coerce(reflect.TypeFor[*int64](), "")
	require.NoError(t, err)
	assert.True(t, v.IsNil())

	v, err = c.Coerce(reflect.TypeFor[*int64](), json.Number("7"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), *v.Interface().(*int64))

	v, err = c.Coerce(reflect.TypeFor[*Address](), map[string]any{"city": "hz"})
	require.NoError(t, err)
	assert.Equal(t, "hz", v.Interface().(*Address).City)
}

func TestCoerceFailures(t *testing.T) {
	c := newCoercer()

	for name, tc := range map[string]struct {
		typ reflect.Type
		raw any
	}{
		"整数格式错误": {reflect.TypeFor[int](), "1.5"},
		"整数溢出":   {reflect.TypeFor[int8](), json.Number("300")},
		"布尔格式错误": {reflect.TypeFor[bool](), "yes please"},
		"枚举大小写":  {reflect.TypeFor[Level](), "high"},
		"结构体不匹配": {reflect.TypeFor[Address](), []any{"x"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Coerce(tc.typ, tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestCoerceNestedGeneric(t *testing.T) {
	c := newCoercer()
	raw, err := jsonx.DecodeLoose([]byte(`{"name":"n","addresses":[{"city":"a","zip":1},{"city":"b","zip":2}],"tags":{"x":[1,2]}}`))
	require.NoError(t, err)

	v, err := c.Coerce(reflect.TypeFor[Member](), raw)
	require.NoError(t, err)
	m := v.Interface().(Member)
	assert.Equal(t, "n", m.Name)
	assert.Equal(t, []Address{{"a", 1}, {"b", 2}}, m.Addresses)
	assert.Equal(t, []int64{1, 2}, m.Tags["x"])

	v, err = c.Coerce(reflect.TypeFor[map[string][]Address](), map[string]any{
		"k": []any{map[string]any{"city": "c", "zip": json.Number("3")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, v.Interface().(map[string][]Address)["k"][0].Zip)
}

func TestCoerceAll(t *testing.T) {
	c := newCoercer()
	params := []reflect.Type{reflect.TypeFor[string](), reflect.TypeFor[int](), reflect.TypeFor[Level]()}

	t.Run("成功", func(t *testing.T) {
		res, err := c.CoerceAll(params, []any{"a", json.Number("1"), "LOW"})
		require.NoError(t, err)
		require.Len(t, res.Values, 3)
		assert.Contains(t, res.Summary, `[0] string = "a"`)
		assert.Contains(t, res.Summary, `[2] coerce.Level = "low"`)
	})

	t.Run("失败时仍生成完整摘要", func(t *testing.T) {
		res, err := c.CoerceAll(params, []any{"a", "x", "NONE"})
		require.Error(t, err)
		e, ok := errs.AsError(err)
		require.True(t, ok)
		assert.Equal(t, 1, e.Index)
		assert.Contains(t, err.Error(), "index:1")
		assert.Contains(t, res.Summary, "[1] int = <error")
		assert.Contains(t, res.Summary, "[2] coerce.Level = <error")
	})

	t.Run("参数个数不符", func(t *testing.T) {
		_, err := c.CoerceAll(params, []any{"a"})
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.KindResolution))
	})
}

// 属性: 已经是目标类型的值转换后保持不变
func TestCoerceIdempotent(t *testing.T) {
	c := newCoercer()

	rapid.Check(t, func(t *rapid.T) {
		var raw any
		switch rapid.IntRange(0, 7).Draw(t, "kind") {
		case 0:
			raw = rapid.String().Draw(t, "string")
		case 1:
			raw = rapid.Int64().Draw(t, "int64")
		case 2:
			raw = rapid.Int().Draw(t, "int")
		case 3:
			raw = rapid.Bool().Draw(t, "bool")
		case 4:
			raw = rapid.Float64Range(-1e12, 1e12).Draw(t, "float64")
		case 5:
			raw = time.UnixMilli(rapid.Int64Range(0, 1<<42).Draw(t, "ms"))
		case 6:
			raw = rapid.SampledFrom([]Level{"low", "high"}).Draw(t, "level")
		case 7:
			raw = rapid.SliceOf(rapid.String()).Draw(t, "strings")
		}

		v, err := c.Coerce(reflect.TypeOf(raw), raw)
		if err != nil {
			t.Fatalf("coerce %#v: %v", raw, err)
		}
		again, err := c.Coerce(reflect.TypeOf(raw), v.Interface())
		if err != nil {
			t.Fatalf("coerce again %#v: %v", raw, err)
		}
		if !reflect.DeepEqual(raw, again.Interface()) {
			t.Fatalf("got %#v, want %#v", again.Interface(), raw)
		}
	})
}

// 属性: 整数的文本形式转换回来得到原值
func TestCoerceIntegerTextRoundTrip(t *testing.T) {
	c := newCoercer()

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.Int64().Draw(t, "n")
		asNumber := rapid.Bool().Draw(t, "asNumber")
		var raw any = strconv.FormatInt(n, 10)
		if asNumber {
			raw = json.Number(raw.(string))
		}
		v, err := c.Coerce(reflect.TypeFor[int64](), raw)
		if err != nil {
			t.Fatalf("coerce %v: %v", raw, err)
		}
		if v.Int() != n {
			t.Fatalf("got %d, want %d", v.Int(), n)
		}
	})
}

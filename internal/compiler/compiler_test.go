package compiler

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/testkit/internal/resolve"
	"yqhp/testkit/pkg/container"
	"yqhp/testkit/pkg/errs"
)

// Salutation 宿主类型，供片段引用
type Salutation struct {
	Prefix string
}

func (s *Salutation) Wrap(name string) string { return s.Prefix + name }

const greeterSrc = `package snippet

import (
	"time"

	"yqhp/testkit/internal/compiler"
)

type Greeter struct {
	Salutation *compiler.Salutation
}

func (g *Greeter) Hello(name string, at time.Time) string {
	s := "hello " + name + " at " + at.UTC().Format("2006-01-02")
	if g.Salutation != nil {
		s = g.Salutation.Wrap(s)
	}
	return s
}

func (g *Greeter) secret() string { return "s" }
`

const localSrc = `import "strings"

type Shouter struct{}

func (s *Shouter) shout(v string) string { return strings.ToUpper(v) }
`

func newCompiler() (*Compiler, *container.TypeRegistry) {
	types := container.NewTypeRegistry()
	container.RegisterType[Salutation](types)
	return New(types), types
}

func TestScan(t *testing.T) {
	d, err := Scan(greeterSrc)
	require.NoError(t, err)
	assert.Equal(t, "snippet.Greeter", d.QualifiedName())

	d, err = Scan(localSrc)
	require.NoError(t, err)
	assert.Equal(t, "main.Shouter", d.QualifiedName())

	_, err = Scan("package x\nfunc F() {}")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindCompile))
}

func TestCompileAndCall(t *testing.T) {
	c, types := newCompiler()
	unit, err := c.Compile(greeterSrc)
	require.NoError(t, err)
	defer unit.Close()

	inst, err := unit.Instantiate()
	require.NoError(t, err)

	// 片段里引用的宿主类型就是真实的 Go 类型
	field := reflect.ValueOf(inst).Elem().FieldByName("Salutation")
	require.True(t, field.IsValid())
	field.Set(reflect.ValueOf(&Salutation{Prefix: "> "}))

	src, err := unit.Source(inst)
	require.NoError(t, err)
	m, err := resolve.New(types).Resolve(src, "Hello", []string{"java.lang.String", "java.util.Date"})
	require.NoError(t, err)

	out := m.Call([]reflect.Value{reflect.ValueOf("world"), reflect.ValueOf(time.UnixMilli(1700000000000))})
	require.Len(t, out, 1)
	assert.Equal(t, "> hello world at 2023-11-14", out[0].String())
}

func TestUnexportedMethods(t *testing.T) {
	c, types := newCompiler()
	r := resolve.New(types)

	unit, err := c.Compile(greeterSrc)
	require.NoError(t, err)
	inst, err := unit.Instantiate()
	require.NoError(t, err)
	src, err := unit.Source(inst)
	require.NoError(t, err)
	_, err = r.Resolve(src, "secret", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexported")

	// main 包片段可以调用未导出方法
	local, err := c.Compile(localSrc)
	require.NoError(t, err)
	inst, err = local.Instantiate()
	require.NoError(t, err)
	src, err = local.Source(inst)
	require.NoError(t, err)
	m, err := r.Resolve(src, "shout", []string{"string"})
	require.NoError(t, err)
	assert.Equal(t, "HI", m.Call([]reflect.Value{reflect.ValueOf("hi")})[0].String())

	_, ok := src.BoundMethod("shout(); panic(1)")
	assert.False(t, ok)
}

func TestCompileTwiceYieldsDistinctUnits(t *testing.T) {
	c, _ := newCompiler()

	first, err := c.Compile(greeterSrc)
	require.NoError(t, err)
	second, err := c.Compile(greeterSrc)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())

	a, err := first.Instantiate()
	require.NoError(t, err)
	b, err := second.Instantiate()
	require.NoError(t, err)

	_, err = second.Source(a)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindResolution))
	_, err = first.Source(b)
	require.Error(t, err)

	_, err = first.Source(a)
	assert.NoError(t, err)
}

func TestCompileCollision(t *testing.T) {
	c, types := newCompiler()
	require.NoError(t, types.Register(reflect.TypeFor[Salutation]()))

	src := "package compiler\n\ntype Salutation struct{}\n"
	for range 3 {
		_, err := c.Compile(src)
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.KindCompile))
		assert.Contains(t, err.Error(), "compiler.Salutation")
	}
}

func TestCompileFailures(t *testing.T) {
	c, _ := newCompiler()

	for name, src := range map[string]string{
		"空源码":  "  ",
		"没有类型": "package x\n\nfunc F() {}\n",
		"语法错误": "package x\n\ntype T struct{}\n\nfunc (t *T) F() { return 1 +",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Compile(src)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrCompile)
		})
	}
}

func TestClosedUnit(t *testing.T) {
	c, _ := newCompiler()
	unit, err := c.Compile(localSrc)
	require.NoError(t, err)
	unit.Close()

	_, err = unit.Instantiate()
	assert.Error(t, err)
}

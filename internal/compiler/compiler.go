// Package compiler 在宿主进程内编译并加载提交的 Go 代码片段。
//
// 每次编译使用一个全新的 yaegi 解释器作为加载作用域，作用域的父级是 Go 标准库
// 和宿主 TypeRegistry 导出的符号。解释器不可重入，所有求值共用一把进程级锁。
package compiler

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"yqhp/testkit/pkg/container"
	"yqhp/testkit/pkg/errs"
	"yqhp/testkit/pkg/logger"
)

var (
	packageRe    = regexp.MustCompile(`(?m)^\s*package\s+(\w+)`)
	typeRe       = regexp.MustCompile(`(?m)^\s*type\s+(\w+)\s+struct\b`)
	identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// mainPackage 没有 package 声明的片段归入 main
const mainPackage = "main"

// Compiler 代码片段编译器，进程内共享一个
type Compiler struct {
	mu    sync.Mutex
	types *container.TypeRegistry
	seq   atomic.Int64
}

// New 创建编译器
func New(types *container.TypeRegistry) *Compiler {
	if types == nil {
		types = container.NewTypeRegistry()
	}
	return &Compiler{types: types}
}

// Declaration 从源码中扫描出的包名和类型名
type Declaration struct {
	Package  string
	TypeName string
}

// QualifiedName pkg.Type 形式的限定名
func (d Declaration) QualifiedName() string {
	return d.Package + "." + d.TypeName
}

// Scan 用正则扫描 package 和第一个 struct 类型声明，不做完整语法分析
func Scan(src string) (Declaration, error) {
	var d Declaration
	if m := packageRe.FindStringSubmatch(src); m != nil {
		d.Package = m[1]
	} else {
		d.Package = mainPackage
	}
	m := typeRe.FindStringSubmatch(src)
	if m == nil {
		return d, errs.Compile("can not find type declaration in source, need `type Xxx struct`")
	}
	d.TypeName = m[1]
	return d, nil
}

// Compile 编译源码，返回新的编译单元
func (c *Compiler) Compile(src string) (*Unit, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errs.Compile("source is empty")
	}
	decl, err := Scan(src)
	if err != nil {
		return nil, err
	}
	if c.types.Visible(decl.QualifiedName()) {
		return nil, errs.Compile("%s already exists in the application, rename the type", decl.QualifiedName())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	in := interp.New(interp.Options{})
	if err := in.Use(stdlib.Symbols); err != nil {
		return nil, errs.CompileWrap(err, "load stdlib symbols fail")
	}
	if err := in.Use(c.types.Exports()); err != nil {
		return nil, errs.CompileWrap(err, "load application symbols fail")
	}
	if _, err := in.Eval(src); err != nil {
		return nil, errs.CompileWrap(err, "compile %s fail", decl.QualifiedName())
	}

	u := &Unit{
		Declaration: decl,
		id:          c.seq.Add(1),
		compiler:    c,
		in:          in,
		instances:   make(map[uintptr]string),
	}
	logger.Debug("代码片段编译完成",
		zap.String("type", decl.QualifiedName()),
		zap.Int64("unit", u.id),
		zap.Duration("cost", time.Since(start)))
	return u, nil
}

// Unit 一次编译的结果。不同 Unit 之间的实例互不通用。
type Unit struct {
	Declaration

	id       int64
	compiler *Compiler
	in       *interp.Interpreter
	n        int
	// instances 由本单元创建的实例指针 -> 解释器内变量名
	instances map[uintptr]string
}

// ID 单元序号，进程内唯一
func (u *Unit) ID() int64 {
	return u.id
}

// local 片段是否位于 main 包，此时可以访问未导出方法
func (u *Unit) local() bool {
	return u.Package == mainPackage
}

func (u *Unit) typeRef() string {
	if u.local() {
		return u.TypeName
	}
	return u.QualifiedName()
}

func (u *Unit) eval(code string) (reflect.Value, error) {
	u.compiler.mu.Lock()
	defer u.compiler.mu.Unlock()
	if u.in == nil {
		return reflect.Value{}, fmt.Errorf("unit %d is closed", u.id)
	}
	return u.in.Eval(code)
}

// Instantiate 使用零值构造一个实例，返回指针
func (u *Unit) Instantiate() (any, error) {
	name := fmt.Sprintf("__tk%d", u.n)
	u.n++
	if _, err := u.eval(fmt.Sprintf("var %s = new(%s)", name, u.typeRef())); err != nil {
		return nil, errs.CompileWrap(err, "can not construct %s", u.QualifiedName())
	}
	v, err := u.eval(name)
	if err != nil {
		return nil, errs.CompileWrap(err, "can not construct %s", u.QualifiedName())
	}
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, errs.Compile("construct %s got %s", u.QualifiedName(), v.Kind())
	}
	u.instances[v.Pointer()] = name
	return v.Interface(), nil
}

// Source 返回实例的方法来源，只接受本单元创建的实例
func (u *Unit) Source(instance any) (*InstanceSource, error) {
	v := reflect.ValueOf(instance)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, errs.Resolution("instance of %s must be a non-nil pointer", u.QualifiedName())
	}
	name, ok := u.instances[v.Pointer()]
	if !ok {
		return nil, errs.Resolution("instance is not created by unit %d of %s", u.id, u.QualifiedName())
	}
	return &InstanceSource{unit: u, varName: name}, nil
}

// Close 释放解释器，之后单元不可再用
func (u *Unit) Close() {
	u.compiler.mu.Lock()
	u.in = nil
	u.instances = nil
	u.compiler.mu.Unlock()
}

// InstanceSource 解释器实例上的方法来源
type InstanceSource struct {
	unit    *Unit
	varName string
}

// TypeName 编译出的类型限定名
func (s *InstanceSource) TypeName() string {
	return s.unit.QualifiedName()
}

// BoundMethod 在解释器内取绑定了接收者的方法值
func (s *InstanceSource) BoundMethod(name string) (reflect.Value, bool) {
	if !identifierRe.MatchString(name) {
		return reflect.Value{}, false
	}
	if !s.unit.local() && !isExported(name) {
		return reflect.Value{}, false
	}
	v, err := s.unit.eval(s.varName + "." + name)
	if err != nil || !v.IsValid() || v.Kind() != reflect.Func {
		return reflect.Value{}, false
	}
	return v, true
}

func isExported(name string) bool {
	return name != "" && strings.ToUpper(name[:1]) == name[:1] && name[0] != '_'
}

// Package tool 实现侧服务的各个工具：解析目标、解析方法、转换参数、调用。
package tool

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"yqhp/testkit/internal/cache"
	"yqhp/testkit/internal/coerce"
	"yqhp/testkit/internal/compiler"
	"yqhp/testkit/internal/inject"
	"yqhp/testkit/internal/resolve"
	"yqhp/testkit/pkg/container"
)

// Tool 单个工具
type Tool interface {
	// Name 协议里的方法名
	Name() string
	// Label 追踪用的业务标签和动作标签
	Label(params map[string]string) (biz, action string)
	// Prepare 解析目标、方法和参数，返回待执行的计划
	Prepare(ctx context.Context, params map[string]string) (*Plan, error)
}

// Plan 已解析完成、尚未执行的调用
type Plan struct {
	// Confirm 给用户确认的可读描述
	Confirm string
	run     func(ctx context.Context) (any, error)
	cleanup func()
}

// Run 执行计划
func (p *Plan) Run(ctx context.Context) (any, error) {
	return p.run(ctx)
}

// Close 释放计划持有的资源
func (p *Plan) Close() {
	if p.cleanup != nil {
		p.cleanup()
	}
}

// Deps 工具依赖的宿主能力
type Deps struct {
	Container container.Lookup
	Compiler  *compiler.Compiler
	Resolver  *resolve.Resolver
	Coercer   *coerce.Coercer
	Bridge    *inject.Bridge
	// Cache 宿主没有缓存层时为空
	Cache  *cache.Manager
	Tracer trace.Tracer
}

// NewDeps 按容器补齐默认依赖
func NewDeps(c container.Lookup, cm *cache.Manager) *Deps {
	types := c.Types()
	return &Deps{
		Container: c,
		Compiler:  compiler.New(types),
		Resolver:  resolve.New(types),
		Coercer:   coerce.New(types),
		Bridge:    inject.New(c),
		Cache:     cm,
		Tracer:    otel.Tracer("yqhp/testkit/tool"),
	}
}

// Registry 管理工具的注册和查找。
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewRegistry 创建注册表并注册全部内置工具
func NewRegistry(deps *Deps) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	r.MustRegister(&FunctionCall{deps: deps})
	r.MustRegister(&FlexibleTest{deps: deps})
	r.MustRegister(&SpringCache{deps: deps})
	r.MustRegister(&ViewValue{deps: deps})
	return r
}

// Register 注册工具，同名工具不能重复注册
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("不能注册空工具")
	}
	if t.Name() == "" {
		return fmt.Errorf("工具名不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("工具已注册: %s", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// MustRegister 注册工具，如果出错则 panic。
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get 按名字获取工具
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute 执行工具。prepare 为 true 时只返回确认信息。
func (r *Registry) Execute(ctx context.Context, name string, params map[string]string, prepare bool) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("un support method: %s", name)
	}
	plan, err := t.Prepare(ctx, params)
	if err != nil {
		return nil, err
	}
	defer plan.Close()
	if prepare {
		return plan.Confirm, nil
	}
	return plan.Run(ctx)
}

// Label 追踪标签，未知工具返回方法名本身
func (r *Registry) Label(name string, params map[string]string) (string, string) {
	t, ok := r.Get(name)
	if !ok {
		return name, name
	}
	return t.Label(params)
}

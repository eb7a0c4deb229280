package tool

import (
	"context"
	"fmt"

	"yqhp/testkit/internal/resolve"
	"yqhp/testkit/pkg/container"
	"yqhp/testkit/pkg/proxy"
	"yqhp/testkit/pkg/types"
)

// FunctionCall 调用容器中已有组件的方法
type FunctionCall struct {
	deps *Deps
}

// Name 实现 Tool
func (t *FunctionCall) Name() string {
	return types.ToolFunctionCall
}

// Label 实现 Tool
func (t *FunctionCall) Label(params map[string]string) (string, string) {
	return simpleName(params[types.ParamTypeClass]), params[types.ParamMethodName]
}

// Prepare 实现 Tool
func (t *FunctionCall) Prepare(ctx context.Context, params map[string]string) (*Plan, error) {
	b, err := t.deps.findBean(params[types.ParamTypeClass], params[types.ParamBeanName])
	if err != nil {
		return nil, err
	}

	target := b.instance
	original := boolParam(params, types.ParamOriginal)
	if original && proxy.IsProxy(target) {
		target = proxy.Unwrap(target)
	}

	c, err := t.deps.resolveCall(ctx, resolve.Bean(target), params)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Confirm: confirm(
			fmt.Sprintf("bean: %s (%s)", b.name, container.CanonicalName(b.typ)),
			fmt.Sprintf("original: %t, proxy: %t", original, proxy.IsProxy(b.instance)),
			describeCall(c),
		),
		run: func(ctx context.Context) (any, error) {
			return t.deps.invoke(ctx, c)
		},
	}, nil
}

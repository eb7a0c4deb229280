package tool

import (
	"context"
	"fmt"
	"strings"

	"yqhp/testkit/internal/compiler"
	"yqhp/testkit/internal/tracing"
	"yqhp/testkit/pkg/errs"
	"yqhp/testkit/pkg/types"
)

// DynamicCodeBiz 动态代码在追踪中的业务标签
const DynamicCodeBiz = "dynamic_code"

// FlexibleTest 编译提交的代码片段，零值构造、注入后调用其方法
type FlexibleTest struct {
	deps *Deps
}

// Name 实现 Tool
func (t *FlexibleTest) Name() string {
	return types.ToolFlexibleTest
}

// Label 实现 Tool
func (t *FlexibleTest) Label(params map[string]string) (string, string) {
	return DynamicCodeBiz, params[types.ParamMethodName]
}

// Prepare 实现 Tool。编译单元在计划关闭时释放。
func (t *FlexibleTest) Prepare(ctx context.Context, params map[string]string) (*Plan, error) {
	code := params[types.ParamCode]
	if strings.TrimSpace(code) == "" {
		return nil, errs.Compile("code is empty")
	}

	_, span := t.deps.Tracer.Start(ctx, "compile")
	unit, err := t.deps.Compiler.Compile(code)
	tracing.RecordError(span, err)
	span.End()
	if err != nil {
		return nil, err
	}

	plan, err := t.prepare(ctx, unit, params)
	if err != nil {
		unit.Close()
		return nil, err
	}
	return plan, nil
}

func (t *FlexibleTest) prepare(ctx context.Context, unit *compiler.Unit, params map[string]string) (*Plan, error) {
	instance, err := unit.Instantiate()
	if err != nil {
		return nil, err
	}
	if err := t.deps.Bridge.Inject(instance); err != nil {
		return nil, err
	}
	src, err := unit.Source(instance)
	if err != nil {
		return nil, err
	}
	c, err := t.deps.resolveCall(ctx, src, params)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Confirm: confirm(
			fmt.Sprintf("code: %s (unit %d)", unit.QualifiedName(), unit.ID()),
			describeCall(c),
		),
		run: func(ctx context.Context) (any, error) {
			return t.deps.invoke(ctx, c)
		},
		cleanup: unit.Close,
	}, nil
}

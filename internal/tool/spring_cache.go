package tool

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"yqhp/testkit/internal/cache"
	"yqhp/testkit/internal/resolve"
	"yqhp/testkit/pkg/errs"
	"yqhp/testkit/pkg/logger"
	"yqhp/testkit/pkg/proxy"
	"yqhp/testkit/pkg/types"
)

// SpringCache 按方法上的缓存声明计算 key，并查看或删除对应缓存
type SpringCache struct {
	deps *Deps
}

// Name 实现 Tool
func (t *SpringCache) Name() string {
	return types.ToolSpringCache
}

// Label 实现 Tool
func (t *SpringCache) Label(params map[string]string) (string, string) {
	return simpleName(params[types.ParamTypeClass]), params[types.ParamMethodName]
}

// Prepare 实现 Tool
func (t *SpringCache) Prepare(ctx context.Context, params map[string]string) (*Plan, error) {
	cm := t.deps.Cache
	if cm == nil {
		return nil, errs.Resolution("cache is not enabled in this application")
	}
	action := types.CacheAction(params[types.ParamAction])
	if !action.Valid() {
		return nil, errs.Resolution("un support cache action: %s", action)
	}

	b, err := t.deps.findBean(params[types.ParamTypeClass], params[types.ParamBeanName])
	if err != nil {
		return nil, err
	}
	owner, ok := t.owner(cm.Registry(), b)
	if !ok {
		return nil, errs.Resolution("%s is not cached", b.typ)
	}
	c, err := t.deps.resolveCall(ctx, resolve.Bean(b.instance), params)
	if err != nil {
		return nil, err
	}
	ops := cm.Registry().Operations(owner, c.method.Name)

	return &Plan{
		Confirm: confirm(
			fmt.Sprintf("bean: %s, action: %s, operations: %d", b.name, action, len(ops)),
			describeCall(c),
		),
		run: func(ctx context.Context) (any, error) {
			return apply(ctx, cm, ops, c.argsOf(), action)
		},
	}, nil
}

// owner 缓存声明登记在请求的类型或组件的实际类型上
func (t *SpringCache) owner(src cache.OperationSource, b *bean) (reflect.Type, bool) {
	for _, candidate := range []reflect.Type{b.typ, reflect.TypeOf(b.instance), reflect.TypeOf(proxy.Unwrap(b.instance))} {
		if src.IsCandidate(candidate) {
			return candidate, true
		}
	}
	return nil, false
}

// apply 对每条声明的每个缓存名执行动作
func apply(ctx context.Context, cm *cache.Manager, ops []cache.Operation, args []any, action types.CacheAction) ([]types.CacheOperationRet, error) {
	out := make([]types.CacheOperationRet, 0, len(ops))
	for _, op := range ops {
		key, err := cm.Key(op, args)
		if err != nil {
			return nil, errs.ResolutionWrap(err, "generate cache key fail")
		}
		if key == nil || cache.KeyString(key) == "" {
			continue
		}

		ret := types.CacheOperationRet{Operation: string(op.Kind)}
		for _, name := range op.CacheNames {
			full := cache.StoreKey(name, key)
			switch action {
			case types.CacheBuildKey:
				ret.BuildKeys = append(ret.BuildKeys, full)
			case types.CacheGet:
				if ret.KeyAndVals == nil {
					ret.KeyAndVals = make(map[string]any)
				}
				v, _, err := cm.Store().Get(ctx, full)
				if err != nil {
					return nil, fmt.Errorf("get cache %s fail: %w", full, err)
				}
				ret.KeyAndVals[full] = v
			case types.CacheDelete:
				deleted, err := cm.Store().Delete(ctx, full)
				if err != nil {
					return nil, fmt.Errorf("delete cache %s fail: %w", full, err)
				}
				logger.Info("删除缓存", zap.String("key", full), zap.Bool("existed", deleted))
				ret.DeleteKeys = append(ret.DeleteKeys, full)
			}
		}
		out = append(out, ret)
	}
	return out, nil
}

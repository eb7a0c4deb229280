package rest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/duke-git/lancet/v2/convertor"
	"github.com/duke-git/lancet/v2/netutil"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"yqhp/testkit/internal/interceptor"
	"yqhp/testkit/internal/jsonx"
	"yqhp/testkit/internal/task"
	"yqhp/testkit/internal/tracing"
	"yqhp/testkit/pkg/container"
	"yqhp/testkit/pkg/errs"
	"yqhp/testkit/pkg/logger"
	"yqhp/testkit/pkg/types"
)

// wireRequest 线上的请求，params 的值可能是字符串，也可能是任意 JSON 值
type wireRequest struct {
	Method      string         `json:"method"`
	Params      map[string]any `json:"params"`
	Interceptor string         `json:"interceptor"`
	Trace       bool           `json:"trace"`
	Prepare     bool           `json:"prepare"`
}

// decodeRequest 解析请求体，非字符串参数重新编码为 JSON 文本
func decodeRequest(body []byte) (*types.Request, error) {
	var w wireRequest
	if err := jsonx.Unmarshal(body, &w); err != nil {
		return nil, err
	}
	req := &types.Request{
		Method:      strings.TrimSpace(w.Method),
		Params:      make(map[string]string, len(w.Params)),
		Interceptor: w.Interceptor,
		Trace:       w.Trace,
		Prepare:     w.Prepare,
	}
	for k, v := range w.Params {
		switch x := v.(type) {
		case nil:
		case string:
			req.Params[k] = x
		default:
			s, err := jsonx.MarshalString(x)
			if err != nil {
				return nil, fmt.Errorf("参数 %s 无法编码: %w", k, err)
			}
			req.Params[k] = s
		}
	}
	return req, nil
}

// dispatch POST / 的统一入口
func (s *Server) dispatch(c *fiber.Ctx) error {
	start := time.Now()
	req, err := decodeRequest(c.Body())
	if err != nil {
		requestsTotal.WithLabelValues("unknown", result(false)).Inc()
		return c.Status(fiber.StatusBadRequest).JSON(types.Fail("bad request: " + err.Error()))
	}

	var ret *types.Ret
	switch req.Method {
	case types.MethodHello, types.MethodHi:
		ret = s.hello(req)
	case types.MethodProperty:
		ret = s.property(req)
	case types.MethodStop:
		s.stop()
		ret = types.Success(true)
	case types.MethodGetTaskRet:
		ret = s.taskResult(req)
	case types.MethodStopTask:
		ret = types.Success(s.deps.Tasks.Cancel(req.Param(types.ParamReqID)))
	default:
		if !types.IsTool(req.Method) {
			ret = types.Fail("un support method: " + req.Method)
			break
		}
		ret = s.submit(req)
	}

	// get_task_ret 返回任务自己的耗时
	if req.Method != types.MethodGetTaskRet {
		ret.Cost = time.Since(start).Milliseconds()
	}
	requestSeconds.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(req.Method, result(ret.Success)).Inc()
	return c.JSON(ret)
}

func (s *Server) hello(req *types.Request) *types.Ret {
	data := &types.HelloData{
		EnableTrace: s.deps.Tracing.Enabled(),
		App:         s.cfg.App.Name,
		Env:         s.cfg.App.Env,
		IP:          netutil.GetInternalIp(),
		Port:        s.cfg.Server.Port,
	}
	if cls := strings.TrimSpace(req.Param(types.ParamCls)); cls != "" && s.deps.ToolDeps != nil {
		_, err := s.deps.ToolDeps.Resolver.ResolveType(cls)
		pass := err == nil
		data.TestPass = &pass
	}
	return types.Success(data)
}

func (s *Server) property(req *types.Request) *types.Ret {
	key := strings.TrimSpace(req.Param(types.ParamProperty))
	if key == "" {
		return types.Fail("property is empty")
	}
	src, ok := s.deps.Container.(container.PropertySource)
	if !ok {
		return types.Fail("container has no properties")
	}
	v, found := src.Property(key)
	if !found {
		return types.Success(nil)
	}
	return types.Success(v)
}

func (s *Server) taskResult(req *types.Request) *types.Ret {
	id := strings.TrimSpace(req.Param(types.ParamReqID))
	timeout := s.cfg.Task.PollTimeout
	if raw := strings.TrimSpace(req.Param(types.ParamTimeout)); raw != "" {
		secs, err := convertor.ToFloat(raw)
		if err != nil {
			return types.Fail("bad timeout: " + raw)
		}
		if secs > 0 {
			timeout = time.Duration(secs * float64(time.Second))
		}
	}

	ret, err := s.deps.Tasks.Wait(s.ctx, id, timeout)
	if err != nil {
		return types.Fail(err.Error())
	}
	return ret
}

// submit 工具方法：prepare 模式同步返回确认信息，否则提交为任务并返回 reqId
func (s *Server) submit(req *types.Request) *types.Ret {
	var hooks *interceptor.Hooks
	if strings.TrimSpace(req.Interceptor) != "" {
		h, err := interceptor.Load(s.deps.ToolDeps.Compiler, s.deps.ToolDeps.Bridge, req.Interceptor)
		interceptorLoadsTotal.WithLabelValues(result(err == nil)).Inc()
		if err != nil {
			return types.Fail(errs.Render(err))
		}
		hooks = h
	}

	if req.Prepare {
		// 只校验拦截器，不调用钩子
		if hooks != nil {
			hooks.Close()
		}
		return s.job(req, nil)(s.ctx)
	}

	id, err := s.deps.Tasks.Submit(req.Method, s.job(req, hooks))
	if err != nil {
		if hooks != nil {
			hooks.Close()
		}
		if errors.Is(err, task.ErrBusy) {
			return types.Fail("too many running tasks, please retry later")
		}
		return types.Fail(err.Error())
	}
	return types.Success(id)
}

// job 一次工具调用：拦截器 before，执行，拦截器 after，最后组装结果和 profile
func (s *Server) job(req *types.Request, hooks *interceptor.Hooks) task.Func {
	env := s.cfg.App.Env
	return func(ctx context.Context) *types.Ret {
		if hooks != nil {
			defer hooks.Close()
		}
		start := time.Now()

		var span *tracing.Span
		if req.Trace && s.deps.Tracing.Enabled() {
			biz, action := s.deps.Tools.Label(req.Method, req.Params)
			ctx, span = s.deps.Tracing.Start(ctx, biz, action, "")
		}

		if hooks != nil {
			hooks.Before(env, req.Method, req.Params)
		}
		data, err := s.execute(ctx, req)
		cost := time.Since(start)
		if hooks != nil {
			hooks.After(env, req.Method, req.Params, int(cost.Milliseconds()), data, err)
		}

		var ret *types.Ret
		if err != nil {
			logger.Warn("工具执行失败",
				zap.String("method", req.Method),
				zap.String("kind", string(errs.KindOf(err))),
				zap.Error(err),
			)
			ret = types.Fail(errs.Render(err))
		} else {
			ret = types.Success(Sanitize(data))
		}
		ret.Cost = cost.Milliseconds()
		if span != nil {
			ret.WithProfile(span.End(err))
		}
		toolSeconds.WithLabelValues(req.Method, result(err == nil)).Observe(cost.Seconds())
		return ret
	}
}

// execute 工具内部已处理被调用代码的 panic，这里兜住工具自身的
func (s *Server) execute(ctx context.Context, req *types.Request) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Invocation(fmt.Errorf("panic: %v", r), errs.StripStack(debug.Stack()))
		}
	}()
	return s.deps.Tools.Execute(ctx, req.Method, req.Params, req.Prepare)
}

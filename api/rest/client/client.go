// Package client 调用 testkit 侧服务的 HTTP 客户端，CLI 和 IDE 侧工具共用。
package client

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"yqhp/testkit/internal/jsonx"
	"yqhp/testkit/pkg/types"
)

// Config 客户端配置
type Config struct {
	// BaseURL 侧服务地址，如 http://127.0.0.1:18080
	BaseURL string
	// RequestTimeout 单次 HTTP 请求超时，轮询时会按轮询超时放宽
	RequestTimeout time.Duration
	// PollTimeout Invoke 等待任务结果的上限
	PollTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://127.0.0.1:18080",
		RequestTimeout: 10 * time.Second,
		PollTimeout:    5 * time.Minute,
	}
}

// Client 侧服务客户端
type Client struct {
	config *Config
	agent  *fiber.Client
}

// New 创建客户端
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{config: config, agent: fiber.AcquireClient()}
}

// Close 归还底层客户端
func (c *Client) Close() {
	fiber.ReleaseClient(c.agent)
}

// Call 发送一次请求
func (c *Client) Call(ctx context.Context, req *types.Request) (*types.Ret, error) {
	return c.call(ctx, req, c.config.RequestTimeout)
}

func (c *Client) call(ctx context.Context, req *types.Request, timeout time.Duration) (*types.Ret, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	body, err := jsonx.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq := c.agent.Post(c.config.BaseURL + "/")
	httpReq.Timeout(timeout)
	httpReq.Body(body)
	httpReq.Set("Content-Type", "application/json")

	statusCode, respBody, errs := httpReq.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to call %s: %v", req.Method, errs[0])
	}

	var ret types.Ret
	if err := jsonx.Unmarshal(respBody, &ret); err != nil {
		return nil, fmt.Errorf("call %s failed: %d %s: %s", req.Method, statusCode, fasthttp.StatusMessage(statusCode), string(respBody))
	}
	return &ret, nil
}

// Hello 探活
func (c *Client) Hello(ctx context.Context) (*types.Ret, error) {
	return c.Call(ctx, &types.Request{Method: types.MethodHello})
}

// Stop 关闭侧服务
func (c *Client) Stop(ctx context.Context) (*types.Ret, error) {
	return c.Call(ctx, &types.Request{Method: types.MethodStop})
}

// StopTask 取消任务
func (c *Client) StopTask(ctx context.Context, reqID string) (*types.Ret, error) {
	return c.Call(ctx, &types.Request{
		Method: types.MethodStopTask,
		Params: map[string]string{types.ParamReqID: reqID},
	})
}

// TaskResult 等待任务结果，timeout 为服务端的轮询超时
func (c *Client) TaskResult(ctx context.Context, reqID string, timeout time.Duration) (*types.Ret, error) {
	secs := strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64)
	return c.call(ctx, &types.Request{
		Method: types.MethodGetTaskRet,
		Params: map[string]string{types.ParamReqID: reqID, types.ParamTimeout: secs},
	}, timeout+c.config.RequestTimeout)
}

// Invoke 提交工具调用并等待结果。prepare 请求和提交失败直接返回服务端响应。
func (c *Client) Invoke(ctx context.Context, req *types.Request) (*types.Ret, error) {
	ret, err := c.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if !ret.Success || req.Prepare || !types.IsTool(req.Method) {
		return ret, nil
	}
	reqID, ok := ret.Data.(string)
	if !ok || reqID == "" {
		return nil, fmt.Errorf("unexpected submit response: %v", ret.Data)
	}
	return c.TaskResult(ctx, reqID, c.config.PollTimeout)
}

package rest

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"yqhp/testkit/internal/config"
	"yqhp/testkit/internal/demo"
	"yqhp/testkit/internal/jsonx"
	"yqhp/testkit/internal/task"
	"yqhp/testkit/internal/tool"
	"yqhp/testkit/internal/tracing"
	"yqhp/testkit/pkg/types"
)

// Recorder 拦截器写入调用记录的宿主组件
type Recorder struct {
	mu    sync.Mutex
	Calls []string
}

func (r *Recorder) Add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, s)
}

func (r *Recorder) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Calls...)
}

type testEnv struct {
	server   *Server
	app      *demo.App
	recorder *Recorder
	stopped  chan struct{}
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()
	app, err := demo.New("demo", nil)
	require.NoError(t, err)
	rec := &Recorder{}
	app.Container.MustRegister("recorder", rec)

	cfg := config.DefaultConfig()
	cfg.App.Name = "demo"
	cfg.Server.Port = 18080
	cfg.Server.EnableMetrics = true
	if mutate != nil {
		mutate(cfg)
	}

	tasks, err := task.NewManager(task.Options{PoolSize: 8})
	require.NoError(t, err)
	t.Cleanup(tasks.Close)

	var tp *tracing.Provider
	if cfg.Trace.Enabled {
		tp, err = tracing.NewProvider(context.Background(), cfg.Trace)
		require.NoError(t, err)
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	}

	stopped := make(chan struct{})
	deps := tool.NewDeps(app.Container, app.Cache)
	s := NewServer(cfg, Deps{
		Container: app.Container,
		Tools:     tool.NewRegistry(deps),
		ToolDeps:  deps,
		Tasks:     tasks,
		Tracing:   tp,
		OnStop:    func() { close(stopped) },
	})
	return &testEnv{server: s, app: app, recorder: rec, stopped: stopped}
}

func (e *testEnv) post(t *testing.T, body any) (*types.Ret, int) {
	t.Helper()
	raw, err := jsonx.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(fiber.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := e.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var ret types.Ret
	require.NoError(t, jsonx.Unmarshal(data, &ret), string(data))
	return &ret, resp.StatusCode
}

func (e *testEnv) call(t *testing.T, method string, params map[string]any) *types.Ret {
	t.Helper()
	ret, code := e.post(t, map[string]any{"method": method, "params": params})
	require.Equal(t, fiber.StatusOK, code)
	return ret
}

// submitAndWait 提交工具调用并轮询结果
func (e *testEnv) submitAndWait(t *testing.T, body map[string]any) *types.Ret {
	t.Helper()
	ret, code := e.post(t, body)
	require.Equal(t, fiber.StatusOK, code)
	require.True(t, ret.Success, ret.Message)
	reqID, ok := ret.Data.(string)
	require.True(t, ok)
	require.Len(t, reqID, task.IDLength)

	return e.call(t, types.MethodGetTaskRet, map[string]any{types.ParamReqID: reqID, types.ParamTimeout: 10})
}

func helloParams() map[string]any {
	return map[string]any{
		types.ParamTypeClass:  "yqhp/testkit/internal/demo.UserService",
		types.ParamMethodName: "Hello",
		types.ParamArgTypes:   []string{"java.lang.String", "java.util.Date"},
		types.ParamArgs:       []any{"carol", "2024-01-01 00:00:00"},
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, err := e.server.App().Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	e.call(t, types.MethodHello, nil)
	resp, err = e.server.App().Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "testkit_dispatcher_requests_total")
}

func TestHello(t *testing.T) {
	e := newTestEnv(t, nil)

	ret := e.call(t, types.MethodHello, nil)
	require.True(t, ret.Success)
	data := ret.Data.(map[string]any)
	assert.Equal(t, "demo", data["app"])
	assert.Equal(t, "local", data["env"])
	assert.Equal(t, false, data["enableTrace"])
	assert.NotContains(t, data, "testPass")

	ret = e.call(t, types.MethodHi, map[string]any{types.ParamCls: "yqhp.testkit.internal.demo.UserService"})
	assert.Equal(t, true, ret.Data.(map[string]any)["testPass"])

	ret = e.call(t, types.MethodHello, map[string]any{types.ParamCls: "com.example.Missing"})
	assert.Equal(t, false, ret.Data.(map[string]any)["testPass"])
}

func TestPropertyAndUnknownMethod(t *testing.T) {
	e := newTestEnv(t, nil)

	ret := e.call(t, types.MethodProperty, map[string]any{types.ParamProperty: "app.name"})
	require.True(t, ret.Success)
	assert.Equal(t, "demo", ret.Data)

	ret = e.call(t, types.MethodProperty, map[string]any{types.ParamProperty: "no.such.key"})
	require.True(t, ret.Success)
	assert.Nil(t, ret.Data)

	ret = e.call(t, "nope", nil)
	assert.False(t, ret.Success)
	assert.Equal(t, "un support method: nope", ret.Message)

	req := httptest.NewRequest(fiber.MethodPost, "/", strings.NewReader("{not json"))
	resp, err := e.server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestFunctionCallTask(t *testing.T) {
	e := newTestEnv(t, nil)

	ret := e.submitAndWait(t, map[string]any{"method": types.ToolFunctionCall, "params": helloParams()})
	require.True(t, ret.Success, ret.Message)
	assert.Equal(t, "[audited] hello carol at 2024-01-01 00:00:00", ret.Data)
	assert.Empty(t, ret.Profile)

	params := helloParams()
	params[types.ParamTypeClass] = "com.example.Missing"
	ret = e.submitAndWait(t, map[string]any{"method": types.ToolFunctionCall, "params": params})
	assert.False(t, ret.Success)
	assert.Contains(t, ret.Message, "Missing")
}

func TestPrepareRunsSynchronously(t *testing.T) {
	e := newTestEnv(t, nil)

	ret, code := e.post(t, map[string]any{"method": types.ToolFunctionCall, "params": helloParams(), "prepare": true})
	require.Equal(t, fiber.StatusOK, code)
	require.True(t, ret.Success, ret.Message)
	confirm, ok := ret.Data.(string)
	require.True(t, ok)
	assert.Contains(t, confirm, "Hello")

	bean, _ := e.app.Container.ByName("userService")
	assert.Equal(t, int64(0), bean.(interface{ Calls() int64 }).Calls())
}

const flexibleSnippet = `package snippet

import (
	"time"

	"yqhp/testkit/internal/demo"
)

type HelloTest struct {
	Users *demo.UserService ` + "`autowired:\"\"`" + `
}

func (h *HelloTest) Hello(name string, at time.Time) string {
	return h.Users.Greeting + " " + name + " " + at.UTC().Format("2006-01-02")
}
`

func TestFlexibleTestEndToEnd(t *testing.T) {
	e := newTestEnv(t, nil)

	ret := e.submitAndWait(t, map[string]any{
		"method": types.ToolFlexibleTest,
		"params": map[string]any{
			types.ParamCode:       flexibleSnippet,
			types.ParamMethodName: "Hello",
			types.ParamArgTypes:   `["java.lang.String","java.util.Date"]`,
			types.ParamArgs:       `["world",1700000000000]`,
		},
	})
	require.True(t, ret.Success, ret.Message)
	assert.Equal(t, "hello world 2023-11-14", ret.Data)
}

const sleepSnippet = `package snippet

import "time"

type Slow struct{}

func (s *Slow) Run() string {
	time.Sleep(time.Second)
	return "late"
}
`

func TestPollTimeoutAndCancel(t *testing.T) {
	e := newTestEnv(t, nil)

	ret := e.call(t, types.MethodGetTaskRet, map[string]any{types.ParamReqID: "missing"})
	assert.False(t, ret.Success)
	assert.Equal(t, task.ErrNotFound.Error(), ret.Message)

	ret = e.call(t, types.ToolFlexibleTest, map[string]any{
		types.ParamCode:       sleepSnippet,
		types.ParamMethodName: "Run",
		types.ParamArgTypes:   `[]`,
		types.ParamArgs:       `[]`,
	})
	require.True(t, ret.Success, ret.Message)
	reqID := ret.Data.(string)

	ret = e.call(t, types.MethodGetTaskRet, map[string]any{types.ParamReqID: reqID, types.ParamTimeout: "0.1"})
	assert.False(t, ret.Success)
	assert.Equal(t, task.ErrTimeout.Error(), ret.Message)

	ret = e.call(t, types.MethodStopTask, map[string]any{types.ParamReqID: reqID})
	require.True(t, ret.Success)
	assert.Equal(t, true, ret.Data)

	ret = e.call(t, types.MethodGetTaskRet, map[string]any{types.ParamReqID: reqID, types.ParamTimeout: 5})
	assert.False(t, ret.Success)
	assert.Equal(t, "task is cancelled", ret.Message)

	// 任务跑完后结果仍被丢弃
	time.Sleep(1200 * time.Millisecond)
	ret = e.call(t, types.MethodGetTaskRet, map[string]any{types.ParamReqID: reqID, types.ParamTimeout: 1})
	assert.False(t, ret.Success)
	assert.NotEqual(t, "late", ret.Data)

	ret = e.call(t, types.MethodStopTask, map[string]any{types.ParamReqID: reqID})
	assert.Equal(t, false, ret.Data)
}

const interceptorSnippet = `package hooks

import (
	"fmt"

	"yqhp/testkit/api/rest"
)

type RestAudit struct {
	Rec *rest.Recorder ` + "`autowired:\"\"`" + `
}

func (a *RestAudit) InvokeBefore(env, method string, params map[string]string) {
	a.Rec.Add("before:" + env + ":" + method + ":" + params["methodName"])
}

func (a *RestAudit) InvokeAfter(env, method string, params map[string]string, cost int, ret any, err error) {
	a.Rec.Add(fmt.Sprintf("after:%s:%v:%v", method, ret, err != nil))
	panic("hook exploded")
}
`

func TestInterceptor(t *testing.T) {
	e := newTestEnv(t, nil)
	encoded := base64.StdEncoding.EncodeToString([]byte(interceptorSnippet))

	ret := e.submitAndWait(t, map[string]any{
		"method":      types.ToolFunctionCall,
		"params":      helloParams(),
		"interceptor": encoded,
	})
	require.True(t, ret.Success, ret.Message)
	assert.Equal(t, "[audited] hello carol at 2024-01-01 00:00:00", ret.Data)
	assert.Equal(t, []string{
		"before:local:function-call:Hello",
		"after:function-call:[audited] hello carol at 2024-01-01 00:00:00:false",
	}, e.recorder.Snapshot())

	ret, _ = e.post(t, map[string]any{
		"method":      types.ToolFunctionCall,
		"params":      helloParams(),
		"interceptor": encoded,
		"prepare":     true,
	})
	require.True(t, ret.Success, ret.Message)
	assert.Contains(t, ret.Data, "Hello")
	assert.Len(t, e.recorder.Snapshot(), 2, "prepare 不触发拦截器")

	ret, _ = e.post(t, map[string]any{
		"method":      types.ToolFunctionCall,
		"params":      helloParams(),
		"interceptor": "%%%",
	})
	assert.False(t, ret.Success)
	assert.Contains(t, ret.Message, "base64")
}

func TestTraceProfile(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) {
		cfg.Trace.Enabled = true
		cfg.Trace.Group = "demo"
	})

	ret := e.call(t, types.MethodHello, nil)
	assert.Equal(t, true, ret.Data.(map[string]any)["enableTrace"])

	ret = e.submitAndWait(t, map[string]any{"method": types.ToolFunctionCall, "params": helloParams(), "trace": true})
	require.True(t, ret.Success, ret.Message)
	require.Len(t, ret.Profile, 1)
	p := ret.Profile[0]
	assert.True(t, strings.HasPrefix(p.Link, "0 demo#UserService#Hello(Y,success,NORMAL,"), p.Link)
	assert.Contains(t, p.Link, tracing.LinkSeparator+"0.1 #UserService#")
	assert.True(t, strings.HasSuffix(p.ReqID, "@0"), p.ReqID)
}

func TestStop(t *testing.T) {
	e := newTestEnv(t, nil)

	ret := e.call(t, types.MethodStop, nil)
	require.True(t, ret.Success)
	select {
	case <-e.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop 未触发")
	}
	// 重复 stop 不会再次触发
	ret = e.call(t, types.MethodStop, nil)
	assert.True(t, ret.Success)
}

func TestSanitize(t *testing.T) {
	ch := make(chan int)
	assert.Equal(t, map[string]any{"a": 1}, Sanitize(map[string]any{"a": 1}))

	out := Sanitize([]any{1, ch, "x"}).([]any)
	require.Len(t, out, 3)
	assert.Equal(t, 1, out[0])
	assert.IsType(t, "", out[1])
	assert.Equal(t, "x", out[2])

	m := Sanitize(map[int]any{7: func() {}}).(map[string]any)
	assert.IsType(t, "", m["7"])

	assert.Nil(t, Sanitize(nil))
}

func TestServeInMemory(t *testing.T) {
	e := newTestEnv(t, nil)
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = e.server.Serve(ln) }()
	t.Cleanup(func() { _ = e.server.Shutdown() })

	c := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://testkit/")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(fiber.MIMEApplicationJSON)
	req.SetBodyString(`{"method":"hello"}`)
	require.NoError(t, c.DoTimeout(req, resp, 2*time.Second))
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), `"success":true`)
	assert.NotEmpty(t, resp.Header.Peek(fiber.HeaderXRequestID))
}

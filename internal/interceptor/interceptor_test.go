package interceptor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/testkit/internal/compiler"
	"yqhp/testkit/internal/inject"
	"yqhp/testkit/pkg/container"
	"yqhp/testkit/pkg/errs"
)

// Recorder 宿主组件，拦截器把调用记录写进来
type Recorder struct {
	mu    sync.Mutex
	Calls []string
}

func (r *Recorder) Add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, s)
}

const recorderSrc = `package hooks

import (
	"fmt"

	"yqhp/testkit/internal/interceptor"
)

type Audit struct {
	Rec *interceptor.Recorder ` + "`autowired:\"\"`" + `
}

func (a *Audit) InvokeBefore(env, method string, params map[string]string) {
	a.Rec.Add("before:" + env + ":" + method + ":" + params["methodName"])
}

func (a *Audit) InvokeAfter(env, method string, params map[string]string, cost int, ret any, err error) error {
	a.Rec.Add(fmt.Sprintf("after:%s:%v:%v", method, ret, err))
	if ret == "fail-hook" {
		return fmt.Errorf("hook failed")
	}
	return nil
}
`

const beforeOnlySrc = `package hooks

type Half struct{}

func (h *Half) InvokeBefore(env, method string, params map[string]string) {}
`

const panicSrc = `package hooks

type Boom struct{}

func (b *Boom) InvokeBefore(env, method string, params map[string]string) { panic("boom") }

func (b *Boom) InvokeAfter(env, method string, params map[string]string, cost int, ret any, err error) {}
`

func setup(t *testing.T) (*compiler.Compiler, *inject.Bridge, *Recorder) {
	t.Helper()
	c := container.New(nil)
	rec := &Recorder{}
	c.MustRegister("recorder", rec)
	return compiler.New(c.Types()), inject.New(c), rec
}

func encode(src string) string {
	return base64.StdEncoding.EncodeToString([]byte(src))
}

func TestHooks(t *testing.T) {
	comp, bridge, rec := setup(t)

	h, err := Load(comp, bridge, encode(recorderSrc))
	require.NoError(t, err)
	defer h.Close()

	params := map[string]string{"methodName": "Find"}
	h.Before("local", "function-call", params)
	h.After("local", "function-call", params, 12, "ok", nil)
	h.After("local", "function-call", params, 3, nil, errors.New("bad"))
	// 钩子自身返回错误只记录日志
	h.After("local", "function-call", params, 3, "fail-hook", nil)

	assert.Equal(t, []string{
		"before:local:function-call:Find",
		"after:function-call:ok:<nil>",
		"after:function-call:<nil>:bad",
		"after:function-call:fail-hook:<nil>",
	}, rec.Calls)
}

func TestHookPanicIsSwallowed(t *testing.T) {
	comp, bridge, _ := setup(t)
	h, err := Load(comp, bridge, encode(panicSrc))
	require.NoError(t, err)
	defer h.Close()

	assert.NotPanics(t, func() {
		h.Before("local", "hello", nil)
	})

	err = invoke(PhaseBefore, h.before, []any{"local", "hello", map[string]string(nil)})
	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, PhaseBefore, hookErr.Phase)
	assert.Contains(t, err.Error(), "boom")
}

func TestLoadFailures(t *testing.T) {
	comp, bridge, _ := setup(t)

	tests := []struct {
		name    string
		encoded string
		kind    errs.Kind
		message string
	}{
		{"非 base64", "%%%", errs.KindCompile, "base64"},
		{"缺少 InvokeAfter", encode(beforeOnlySrc), errs.KindResolution, "InvokeAfter"},
		{"没有类型声明", encode("package hooks\n\nfunc F() {}\n"), errs.KindCompile, "type declaration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(comp, bridge, tt.encoded)
			require.Error(t, err)
			assert.True(t, errs.IsKind(err, tt.kind), fmt.Sprintf("%v", err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

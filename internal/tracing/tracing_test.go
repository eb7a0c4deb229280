package tracing

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/testkit/pkg/errs"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := NewProvider(context.Background(), Config{Enabled: true, Group: "demo-app"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Shutdown(context.Background())
	})
	return p
}

var rootPattern = regexp.MustCompile(`^0 demo-app#UserService#Find\(([YN]),([a-z_]+),NORMAL,0,(\d+)\)_req_id\|abc@0;_time\|\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}$`)

func TestProfile(t *testing.T) {
	p := newProvider(t)
	ctx, root := p.Start(context.Background(), "UserService", "Find", "abc")

	tracer := p.Tracer()
	cctx, resolve := tracer.Start(ctx, "resolve")
	_, inner := tracer.Start(cctx, "lookup")
	inner.End()
	resolve.End()

	_, invoke := tracer.Start(ctx, "invoke")
	RecordError(invoke, errs.Invocation(errors.New("boom"), ""))
	invoke.End()

	// 不在关注范围内的链路不会被收集
	_, other := tracer.Start(context.Background(), "other")
	other.End()

	profile := root.End(nil)
	require.NotNil(t, profile)
	assert.Equal(t, "abc@0", profile.ReqID)

	segments := strings.Split(profile.Link, LinkSeparator)
	require.Len(t, segments, 4)

	m := rootPattern.FindStringSubmatch(segments[0])
	require.NotNil(t, m, segments[0])
	assert.Equal(t, "Y", m[1])
	assert.Equal(t, "success", m[2])

	assert.True(t, strings.HasPrefix(segments[1], "0.1 #UserService#resolve(Y,success,NORMAL,"), segments[1])
	assert.True(t, strings.HasPrefix(segments[2], "0.1.1 #UserService#lookup(Y,success,NORMAL,"), segments[2])
	assert.True(t, strings.HasPrefix(segments[3], "0.2 #UserService#invoke(N,error_invocation,NORMAL,"), segments[3])
}

func TestProfileRootError(t *testing.T) {
	p := newProvider(t)
	_, root := p.Start(context.Background(), "dynamic_code", "hello", "")
	profile := root.End(errs.Compile("bad source"))
	require.NotNil(t, profile)
	assert.Contains(t, profile.Link, "#dynamic_code#hello(N,error_compile,NORMAL,0,")
	assert.Len(t, strings.TrimSuffix(profile.ReqID, "@0"), 36, "未提供 reqId 时使用 uuid")
}

func TestExporterConfig(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Exporter: "kafka"})
	assert.Error(t, err)

	p, err := NewProvider(context.Background(), Config{Exporter: "stdout"})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	require.NoError(t, p.Shutdown(context.Background()))
}

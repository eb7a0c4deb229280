// Package tracing 基于 OpenTelemetry 记录一次工具调用的链路，并生成返回给 IDE 的 profile 文本。
package tracing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"yqhp/testkit/pkg/errs"
	"yqhp/testkit/pkg/types"
)

// span 属性
const (
	AttrBiz       = attribute.Key("testkit.biz")
	AttrErrorKind = attribute.Key("testkit.error.kind")
	AttrReqID     = attribute.Key("testkit.req_id")
)

// Config 追踪配置
type Config struct {
	Enabled bool `yaml:"enabled" env:"TK_TRACE_ENABLED"`
	// Exporter none | stdout | otlp
	Exporter string `yaml:"exporter" env:"TK_TRACE_EXPORTER"`
	// Endpoint otlp grpc 地址
	Endpoint string `yaml:"endpoint" env:"TK_TRACE_ENDPOINT"`
	Insecure bool   `yaml:"insecure" env:"TK_TRACE_INSECURE"`
	// Group profile 里的分组名，一般为应用名
	Group string `yaml:"group" env:"TK_TRACE_GROUP"`
}

// RecordError 标记 span 失败并记录错误类别
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	kind := string(errs.KindOf(err))
	if kind == "" {
		kind = "error"
	}
	span.SetAttributes(AttrErrorKind.String(kind))
	span.SetStatus(codes.Error, err.Error())
}

// Provider 链路追踪
type Provider struct {
	cfg       Config
	tp        *sdktrace.TracerProvider
	tracer    trace.Tracer
	collector *Collector
}

// NewProvider 创建 TracerProvider 并设置为全局 provider
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	collector := NewCollector()
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSpanProcessor(collector),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.Group))),
	}
	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return &Provider{
		cfg:       cfg,
		tp:        tp,
		tracer:    tp.Tracer("yqhp/testkit"),
		collector: collector,
	}, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Exporter)) {
	case "", "none":
		return nil, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("创建 stdout exporter 失败: %w", err)
		}
		return exp, nil
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("创建 otlp exporter 失败: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("不支持的 trace exporter: %s", cfg.Exporter)
	}
}

// Enabled 是否开启追踪
func (p *Provider) Enabled() bool {
	return p != nil && p.cfg.Enabled
}

// Tracer 返回 tracer
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown 刷新并关闭 exporter
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// Span 一次请求的根 span
type Span struct {
	p      *Provider
	span   trace.Span
	biz    string
	action string
	reqID  string
}

// Start 开启一条新链路，reqID 为空时生成一个
func (p *Provider) Start(ctx context.Context, biz, action, reqID string) (context.Context, *Span) {
	if reqID == "" {
		reqID = uuid.NewString()
	}
	ctx, span := p.tracer.Start(ctx, biz+"#"+action,
		trace.WithNewRoot(),
		trace.WithAttributes(AttrBiz.String(biz), AttrReqID.String(reqID)),
	)
	p.collector.Watch(span.SpanContext().TraceID())
	return ctx, &Span{p: p, span: span, biz: biz, action: action, reqID: reqID}
}

// End 结束根 span，返回这条链路的 profile
func (s *Span) End(err error) *types.Profile {
	RecordError(s.span, err)
	s.span.End()

	id := s.span.SpanContext().TraceID()
	spans := s.p.collector.Take(id)
	link, cost := Format(Link{
		Group:  s.p.cfg.Group,
		Biz:    s.biz,
		Action: s.action,
		ReqID:  s.reqID,
		RootID: s.span.SpanContext().SpanID(),
	}, spans)
	if link == "" {
		return nil
	}
	return &types.Profile{Link: link, ReqID: s.reqID + "@0", Cost: cost}
}

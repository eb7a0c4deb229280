package tracing

import (
	"context"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Collector 收集被关注链路的已结束 span，供生成 profile 使用
type Collector struct {
	mu    sync.Mutex
	spans map[trace.TraceID][]sdktrace.ReadOnlySpan
}

var _ sdktrace.SpanProcessor = (*Collector)(nil)

// NewCollector 创建收集器
func NewCollector() *Collector {
	return &Collector{spans: make(map[trace.TraceID][]sdktrace.ReadOnlySpan)}
}

// Watch 开始收集某条链路
func (c *Collector) Watch(id trace.TraceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.spans[id]; !ok {
		c.spans[id] = nil
	}
}

// Take 取出并停止收集某条链路
func (c *Collector) Take(id trace.TraceID) []sdktrace.ReadOnlySpan {
	c.mu.Lock()
	defer c.mu.Unlock()
	spans := c.spans[id]
	delete(c.spans, id)
	return spans
}

// OnStart 实现 SpanProcessor
func (c *Collector) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd 实现 SpanProcessor，未关注的链路直接忽略
func (c *Collector) OnEnd(s sdktrace.ReadOnlySpan) {
	id := s.SpanContext().TraceID()
	c.mu.Lock()
	defer c.mu.Unlock()
	if spans, ok := c.spans[id]; ok {
		c.spans[id] = append(spans, s)
	}
}

// Shutdown 实现 SpanProcessor
func (c *Collector) Shutdown(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.spans)
	return nil
}

// ForceFlush 实现 SpanProcessor
func (c *Collector) ForceFlush(context.Context) error { return nil }

package tracing

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// LinkSeparator profile 中各段之间的分隔符
const LinkSeparator = "$M$"

// timeLayout _time 摘要的时间格式
const timeLayout = "2006-01-02 15:04:05.000"

// Link 根 span 的标签
type Link struct {
	Group  string
	Biz    string
	Action string
	ReqID  string
	RootID trace.SpanID
}

// Format 生成 profile 文本，返回文本和根 span 耗时（毫秒）。
//
// 每段形如 `linkid group#biz#action(Y|N,status,NORMAL,begin,cost)`，根段后接 `_req_id|id@0;_time|...` 摘要，
// 子段编号为 0.1、0.2、0.1.1，按开始时间排序，未标注业务的子段沿用根段的业务标签。
func Format(link Link, spans []sdktrace.ReadOnlySpan) (string, int64) {
	var root sdktrace.ReadOnlySpan
	children := make(map[trace.SpanID][]sdktrace.ReadOnlySpan)
	for _, s := range spans {
		if s.SpanContext().SpanID() == link.RootID {
			root = s
			continue
		}
		parent := s.Parent().SpanID()
		children[parent] = append(children[parent], s)
	}
	if root == nil {
		return "", 0
	}
	for _, list := range children {
		slices.SortFunc(list, func(a, b sdktrace.ReadOnlySpan) int {
			return a.StartTime().Compare(b.StartTime())
		})
	}

	begin := root.StartTime()
	var segments []string
	segments = append(segments, segment("0", link.Group, link.Biz, link.Action, root, begin)+
		fmt.Sprintf("_req_id|%s@0;_time|%s", link.ReqID, begin.Format(timeLayout)))

	var walk func(parent trace.SpanID, prefix string)
	walk = func(parent trace.SpanID, prefix string) {
		for i, s := range children[parent] {
			id := fmt.Sprintf("%s.%d", prefix, i+1)
			biz := attr(s, AttrBiz)
			if biz == "" {
				biz = link.Biz
			}
			segments = append(segments, segment(id, "", biz, s.Name(), s, begin))
			walk(s.SpanContext().SpanID(), id)
		}
	}
	walk(link.RootID, "0")

	return strings.Join(segments, LinkSeparator), millis(root.EndTime().Sub(begin))
}

func segment(id, group, biz, action string, s sdktrace.ReadOnlySpan, begin time.Time) string {
	ok, status := "Y", "success"
	if s.Status().Code == codes.Error {
		ok = "N"
		kind := attr(s, AttrErrorKind)
		if kind == "" {
			kind = "error"
		}
		status = "error_" + kind
	}
	return fmt.Sprintf("%s %s#%s#%s(%s,%s,NORMAL,%d,%d)",
		id, group, biz, action, ok, status,
		millis(s.StartTime().Sub(begin)), millis(s.EndTime().Sub(s.StartTime())))
}

func attr(s sdktrace.ReadOnlySpan, key attribute.Key) string {
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func millis(d time.Duration) int64 {
	return d.Milliseconds()
}

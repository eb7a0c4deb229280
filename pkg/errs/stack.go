package errs

import (
	"errors"
	"fmt"
	"strings"
)

// internalMarkers 渲染栈时截断的位置，命中即认为已经进入 testkit 自身的调用链
var internalMarkers = []string{
	"reflect.Value.call",
	"reflect.Value.Call",
	"yqhp/testkit/internal/tool.",
}

// skippedMarkers 解释器内部帧，对使用方没有意义
var skippedMarkers = []string{
	"github.com/traefik/yaegi/",
}

// StripStack 从 debug.Stack() 的输出里截取应用自身的栈帧。
// 保留 panic 之后、进入反射调用之前的帧，goroutine 头和 runtime 帧都去掉。
func StripStack(raw []byte) string {
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	start := 0
	for i, line := range lines {
		if strings.HasPrefix(line, "panic(") {
			// panic( 下一行是文件位置
			start = i + 2
			break
		}
	}
	if start == 0 || start >= len(lines) {
		return ""
	}

	var b strings.Builder
	for i := start; i+1 < len(lines); i += 2 {
		fn := lines[i]
		if isInternalFrame(fn) {
			break
		}
		if isSkippedFrame(fn) {
			continue
		}
		b.WriteString("\tat ")
		b.WriteString(strings.TrimSpace(fn))
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(lines[i+1]))
		b.WriteString("\n")
	}
	return b.String()
}

func isSkippedFrame(fn string) bool {
	for _, m := range skippedMarkers {
		if strings.Contains(fn, m) {
			return true
		}
	}
	return false
}

func isInternalFrame(fn string) bool {
	for _, m := range internalMarkers {
		if strings.Contains(fn, m) {
			return true
		}
	}
	return false
}

// Render 将错误渲染为返回给调用方的文本。
// testkit 自身的错误只输出消息，调用错误附带应用栈，Cause 链逐层展开。
func Render(err error) string {
	if err == nil {
		return ""
	}
	e, ok := AsError(err)
	if !ok {
		return err.Error()
	}
	if e.Kind != KindInvocation {
		return e.Error()
	}

	var b strings.Builder
	cause := e.Cause
	if cause == nil {
		b.WriteString(e.Message)
		b.WriteString("\n")
	}
	first := true
	for cause != nil {
		if !first {
			b.WriteString("Caused by: ")
		}
		fmt.Fprintf(&b, "%s\n", cause.Error())
		if first && e.Stack != "" {
			b.WriteString(e.Stack)
		}
		first = false
		cause = errors.Unwrap(cause)
	}
	return b.String()
}

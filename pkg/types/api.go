// Package types testkit 侧服务的请求/响应类型，服务端和 CLI 客户端共用。
package types

// ============================================================================
// 协议方法
// ============================================================================

const (
	MethodHello      = "hello"
	MethodHi         = "hi"
	MethodProperty   = "property"
	MethodStop       = "stop"
	MethodGetTaskRet = "get_task_ret"
	MethodStopTask   = "stop_task"

	ToolFunctionCall = "function-call"
	ToolFlexibleTest = "flexible-test"
	ToolSpringCache  = "spring-cache"
	ToolViewValue    = "view-value"
)

// Tools 所有工具方法
var Tools = []string{ToolFunctionCall, ToolFlexibleTest, ToolSpringCache, ToolViewValue}

// IsTool 是否为工具方法
func IsTool(method string) bool {
	for _, t := range Tools {
		if t == method {
			return true
		}
	}
	return false
}

// Request 侧服务请求，params 的值统一为字符串，列表类参数为 JSON 文本
type Request struct {
	Method string            `json:"method"`
	Params map[string]string `json:"params,omitempty"`
	// Interceptor base64 编码的拦截器源码
	Interceptor string `json:"interceptor,omitempty"`
	Trace       bool   `json:"trace,omitempty"`
	// Prepare 只解析不执行，返回确认信息
	Prepare bool `json:"prepare,omitempty"`
}

// Param 读取参数，缺失时返回空串
func (r *Request) Param(key string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[key]
}

// Ret 侧服务统一响应
type Ret struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	// Cost 毫秒
	Cost    int64     `json:"cost"`
	Profile []Profile `json:"profile,omitempty"`
}

// Profile 一次链路追踪的结果
type Profile struct {
	Link  string `json:"link"`
	ReqID string `json:"req_id"`
	Cost  int64  `json:"cost"`
}

// Success 成功响应
func Success(data any) *Ret {
	return &Ret{Success: true, Data: data}
}

// Fail 失败响应
func Fail(message string) *Ret {
	return &Ret{Success: false, Message: message}
}

// WithProfile 附加追踪结果，nil 时忽略
func (r *Ret) WithProfile(p *Profile) *Ret {
	if p != nil {
		r.Profile = append(r.Profile, *p)
	}
	return r
}

// HelloData hello 方法返回的数据
type HelloData struct {
	EnableTrace bool   `json:"enableTrace"`
	App         string `json:"app"`
	Env         string `json:"env"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	// TestPass 请求参数 cls 指定的类型能否在宿主中解析
	TestPass *bool `json:"testPass,omitempty"`
}

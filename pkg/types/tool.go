package types

// 工具参数名
const (
	ParamTypeClass  = "typeClass"
	ParamBeanName   = "beanName"
	ParamMethodName = "methodName"
	ParamArgTypes   = "argTypes"
	ParamArgs       = "args"
	ParamOriginal   = "original"
	ParamCode       = "code"
	ParamAction     = "action"
	ParamFieldName  = "fieldName"
	ParamPath       = "path"
	ParamReqID      = "reqId"
	ParamTimeout    = "timeout"
	ParamProperty   = "property"
	ParamCls        = "cls"
)

// CacheAction spring-cache 工具的动作
type CacheAction string

const (
	CacheBuildKey CacheAction = "build_cache_key"
	CacheGet      CacheAction = "get_cache"
	CacheDelete   CacheAction = "delete_cache"
)

// Valid 动作是否合法
func (a CacheAction) Valid() bool {
	switch a {
	case CacheBuildKey, CacheGet, CacheDelete:
		return true
	}
	return false
}

// CacheOperationRet spring-cache 单个缓存声明的处理结果
type CacheOperationRet struct {
	Operation  string         `json:"operation"`
	BuildKeys  []string       `json:"buildKeys,omitempty"`
	KeyAndVals map[string]any `json:"keyAndVals,omitempty"`
	DeleteKeys []string       `json:"deleteKeys,omitempty"`
}

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal 是否为终态
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Rank 状态先后顺序，终态之间同级
func (s TaskStatus) Rank() int {
	switch s {
	case TaskPending:
		return 0
	case TaskRunning:
		return 1
	case TaskCompleted, TaskFailed, TaskCancelled:
		return 2
	}
	return -1
}

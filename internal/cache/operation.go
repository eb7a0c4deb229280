package cache

import (
	"reflect"
	"sync"
)

// OperationKind 缓存声明类型
type OperationKind string

const (
	Cacheable OperationKind = "cacheable"
	Put       OperationKind = "put"
	Evict     OperationKind = "evict"
)

// Operation 方法上的一条缓存声明
type Operation struct {
	Kind       OperationKind
	CacheNames []string
	// Key JavaScript 表达式，可用 args、p0..pN、a0..aN 以及 ParamNames 声明的参数名；为空时使用默认 key
	Key string
	// ParamNames 参数名，Go 反射拿不到形参名，需要声明时给出
	ParamNames []string
}

// OperationSource 缓存声明来源
type OperationSource interface {
	// IsCandidate 类型上是否声明过缓存
	IsCandidate(owner reflect.Type) bool
	// Operations 方法上的缓存声明
	Operations(owner reflect.Type, method string) []Operation
}

// Registry 以代码方式登记缓存声明
type Registry struct {
	mu  sync.RWMutex
	ops map[reflect.Type]map[string][]Operation
}

// NewRegistry 创建登记表
func NewRegistry() *Registry {
	return &Registry{ops: make(map[reflect.Type]map[string][]Operation)}
}

func ownerType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// Declare 为 owner 的方法登记缓存声明，owner 可以是指针类型
func (r *Registry) Declare(owner reflect.Type, method string, ops ...Operation) {
	owner = ownerType(owner)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops[owner] == nil {
		r.ops[owner] = make(map[string][]Operation)
	}
	r.ops[owner][method] = append(r.ops[owner][method], ops...)
}

// IsCandidate 实现 OperationSource
func (r *Registry) IsCandidate(owner reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ops[ownerType(owner)]
	return ok
}

// Operations 实现 OperationSource
func (r *Registry) Operations(owner reflect.Type, method string) []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Operation(nil), r.ops[ownerType(owner)][method]...)
}

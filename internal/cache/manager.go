package cache

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"yqhp/testkit/internal/jsonx"
	"yqhp/testkit/pkg/logger"
)

// KeySeparator 缓存名和 key 之间的分隔符
const KeySeparator = "::"

// StoreKey 存储层使用的完整 key：cacheName::key
func StoreKey(cacheName string, key any) string {
	return cacheName + KeySeparator + KeyString(key)
}

// Manager 缓存管理器，组合声明、key 生成和存储
type Manager struct {
	store  Store
	source *Registry
	keys   *KeyGenerator
	ttl    time.Duration
}

// NewManager 创建缓存管理器，ttl<=0 表示不过期
func NewManager(store Store, ttl time.Duration) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Manager{
		store:  store,
		source: NewRegistry(),
		keys:   NewKeyGenerator(),
		ttl:    ttl,
	}
}

// Store 存储
func (m *Manager) Store() Store {
	return m.store
}

// Registry 缓存声明登记表
func (m *Manager) Registry() *Registry {
	return m.source
}

// Key 计算声明对应的 key
func (m *Manager) Key(op Operation, args []any) (any, error) {
	return m.keys.Generate(op, args)
}

// Cached 按方法上的缓存声明执行读穿缓存：
// cacheable 命中直接返回，未命中调用 load 并回写；put 总是回写；evict 在 load 成功后删除。
func Cached[T any](ctx context.Context, m *Manager, owner reflect.Type, method string, args []any, load func() (T, error)) (T, error) {
	var zero T
	ops := m.source.Operations(owner, method)

	for _, op := range ops {
		if op.Kind != Cacheable {
			continue
		}
		key, err := m.Key(op, args)
		if err != nil {
			return zero, err
		}
		if key == nil {
			continue
		}
		for _, name := range op.CacheNames {
			raw, ok, err := m.store.Get(ctx, StoreKey(name, key))
			if err != nil {
				logger.Warn("读取缓存失败", zap.String("cache", name), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			var v T
			if err := decodeInto(raw, &v); err != nil {
				return zero, fmt.Errorf("缓存 %s 的值无法解析: %w", name, err)
			}
			return v, nil
		}
	}

	v, err := load()
	if err != nil {
		return zero, err
	}

	for _, op := range ops {
		key, err := m.Key(op, args)
		if err != nil || key == nil {
			continue
		}
		for _, name := range op.CacheNames {
			full := StoreKey(name, key)
			switch op.Kind {
			case Cacheable, Put:
				err = m.store.Set(ctx, full, v, m.ttl)
			case Evict:
				_, err = m.store.Delete(ctx, full)
			}
			if err != nil {
				logger.Warn("写入缓存失败", zap.String("key", full), zap.Error(err))
			}
		}
	}
	return v, nil
}

func decodeInto(raw any, out any) error {
	data, err := jsonx.Marshal(raw)
	if err != nil {
		return err
	}
	return jsonx.Unmarshal(data, out)
}

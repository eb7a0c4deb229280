// Package cache 宿主应用的缓存层：缓存声明、key 生成和存储。
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"yqhp/testkit/internal/jsonx"
)

// Store 缓存存储，值以 JSON 编码保存
type Store interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host     string `yaml:"host" env:"TK_REDIS_HOST"`
	Port     int    `yaml:"port" env:"TK_REDIS_PORT"`
	Password string `yaml:"password" env:"TK_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"TK_REDIS_DB"`
}

// Addr host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisStore 基于 go-redis 的存储
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 连接 Redis 并 Ping 一次
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis %s 失败: %w", cfg.Addr(), err)
	}
	return &RedisStore{client: client}, nil
}

// Get 获取值，不存在返回 false
func (s *RedisStore) Get(ctx context.Context, key string) (any, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := jsonx.DecodeLoose(data)
	if err != nil {
		// 非 JSON 内容按原文返回
		return string(data), true, nil
	}
	return v, true, nil
}

// Set 设置键值
func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := jsonx.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// Delete 删除键，返回是否存在
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	return n > 0, err
}

// Close 关闭连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}

type memoryEntry struct {
	data     []byte
	expireAt time.Time
}

// MemoryStore 进程内存储，未配置 Redis 时使用
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get 获取值，过期视为不存在
func (s *MemoryStore) Get(_ context.Context, key string) (any, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || (!e.expireAt.IsZero() && s.now().After(e.expireAt)) {
		return nil, false, nil
	}
	v, err := jsonx.DecodeLoose(e.data)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set 设置键值，ttl<=0 表示不过期
func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := jsonx.Marshal(value)
	if err != nil {
		return err
	}
	e := memoryEntry{data: data}
	if ttl > 0 {
		e.expireAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Delete 删除键
func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	delete(s.entries, key)
	if ok && !e.expireAt.IsZero() && s.now().After(e.expireAt) {
		return false, nil
	}
	return ok, nil
}

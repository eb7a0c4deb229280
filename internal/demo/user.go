package demo

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duke-git/lancet/v2/maputil"
	"github.com/jinzhu/copier"

	"yqhp/testkit/internal/cache"
	"yqhp/testkit/pkg/proxy"
)

// UserRepo 内存中的用户表
type UserRepo struct {
	mu    sync.RWMutex
	users map[int64]*User
}

// NewUserRepo 创建用户表
func NewUserRepo(users ...*User) *UserRepo {
	r := &UserRepo{users: make(map[int64]*User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *UserRepo) Find(id int64) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, false
	}
	return clone(u), true
}

func (r *UserRepo) Save(u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = clone(u)
}

// clone 复制一份用户，调用方修改 Tags 不影响表内数据
func clone(u *User) *User {
	cp := new(User)
	if err := copier.Copy(cp, u); err != nil {
		*cp = *u
	}
	cp.Tags = slices.Clone(u.Tags)
	return cp
}

func (r *UserRepo) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := maputil.Keys(r.users)
	slices.Sort(ids)
	return ids
}

// UserService 用户服务
type UserService struct {
	Repo  *UserRepo      `inject:""`
	Cache *cache.Manager `inject:"cacheManager"`
	// Greeting 问候语前缀
	Greeting string
	Settings map[string]any
}

var userServiceType = reflect.TypeFor[UserService]()

// Hello 问候
func (s *UserService) Hello(name string, at time.Time) string {
	return fmt.Sprintf("%s %s at %s", s.Greeting, name, at.Format("2006-01-02 15:04:05"))
}

// GetUser 按 id 查询，结果进入 users 缓存
func (s *UserService) GetUser(id int64) (*User, error) {
	return cache.Cached(context.Background(), s.Cache, userServiceType, "GetUser", []any{id}, func() (*User, error) {
		u, ok := s.Repo.Find(id)
		if !ok {
			return nil, fmt.Errorf("user %d not found", id)
		}
		return u, nil
	})
}

// Rename 改名，刷新 users 缓存并清除 userNames 缓存
func (s *UserService) Rename(id int64, name string) (*User, error) {
	return cache.Cached(context.Background(), s.Cache, userServiceType, "Rename", []any{id, name}, func() (*User, error) {
		u, ok := s.Repo.Find(id)
		if !ok {
			return nil, fmt.Errorf("user %d not found", id)
		}
		u.Name = name
		s.Repo.Save(u)
		return u, nil
	})
}

// Upgrade 调整等级
func (s *UserService) Upgrade(id int64, level Level) (Level, error) {
	u, ok := s.Repo.Find(id)
	if !ok {
		return LevelNormal, fmt.Errorf("user %d not found", id)
	}
	prev := u.Level
	u.Level = level
	s.Repo.Save(u)
	return prev, nil
}

// Names 按 id 列出用户名，缺失的 id 跳过
func (s *UserService) Names(ids []int64) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.Repo.Find(id); ok {
			names = append(names, u.Name)
		}
	}
	return names
}

// Tag 给用户打标签，标签统一为小写
func (s *UserService) Tag(id int64, tags map[string]int) (int, error) {
	u, ok := s.Repo.Find(id)
	if !ok {
		return 0, fmt.Errorf("user %d not found", id)
	}
	for _, tag := range maputil.Keys(tags) {
		u.Tags = append(u.Tags, strings.ToLower(tag))
	}
	slices.Sort(u.Tags)
	u.Tags = slices.Compact(u.Tags)
	s.Repo.Save(u)
	return len(u.Tags), nil
}

// declareUserCaches 用户服务的缓存声明
func declareUserCaches(r *cache.Registry) {
	r.Declare(userServiceType, "GetUser", cache.Operation{
		Kind:       cache.Cacheable,
		CacheNames: []string{"users"},
		Key:        "'user:' + p0",
	})
	r.Declare(userServiceType, "Rename",
		cache.Operation{
			Kind:       cache.Put,
			CacheNames: []string{"users"},
			Key:        "'user:' + id",
			ParamNames: []string{"id", "name"},
		},
		cache.Operation{
			Kind:       cache.Evict,
			CacheNames: []string{"userNames"},
		},
	)
}

// auditedUserService 内嵌代理，统计 Hello 的调用次数
type auditedUserService struct {
	*UserService
	calls atomic.Int64
}

func (p *auditedUserService) ProxyKind() proxy.Kind { return proxy.KindEmbedded }

func (p *auditedUserService) Hello(name string, at time.Time) string {
	p.calls.Add(1)
	return "[audited] " + p.UserService.Hello(name, at)
}

// Calls 被代理拦截的次数
func (p *auditedUserService) Calls() int64 {
	return p.calls.Load()
}

package demo

import (
	"fmt"
	"time"

	"yqhp/testkit/internal/cache"
	"yqhp/testkit/pkg/container"
)

// App 组装好的宿主应用
type App struct {
	Name      string
	Container *container.Container
	Cache     *cache.Manager
}

// New 组装宿主应用。cm 为空时使用进程内缓存。
func New(name string, cm *cache.Manager) (*App, error) {
	if cm == nil {
		cm = cache.NewManager(cache.NewMemoryStore(), 10*time.Minute)
	}
	c := container.New(nil)

	types := c.Types()
	container.RegisterType[User](types)
	container.RegisterType[Order](types)
	container.RegisterType[OrderService](types)
	container.RegisterEnum(types, Levels)

	declareUserCaches(cm.Registry())

	repo := NewUserRepo(
		&User{ID: 1, Name: "alice", Level: LevelGold, Birthday: time.Date(1990, 5, 1, 0, 0, 0, 0, time.Local)},
		&User{ID: 2, Name: "bob", Level: LevelNormal, Birthday: time.Date(1995, 8, 12, 0, 0, 0, 0, time.Local)},
	)
	users := &UserService{
		Greeting: "hello",
		Settings: map[string]any{
			"limits":  map[string]any{"daily": 100, "burst": 5},
			"regions": []any{"cn", "us"},
		},
	}
	orders := newOrderService()

	beans := []struct {
		name string
		bean any
	}{
		{"cacheManager", cm},
		{"userRepo", repo},
		{"userService", &auditedUserService{UserService: users}},
		{"orderService", &txOrderService{target: orders}},
	}
	for _, b := range beans {
		if err := c.Register(b.name, b.bean); err != nil {
			return nil, err
		}
	}
	for _, bean := range []any{users, orders} {
		if err := c.AutowireBean(bean); err != nil {
			return nil, fmt.Errorf("初始化 %T 失败: %w", bean, err)
		}
	}

	c.SetProperty("app.name", name)
	c.SetProperty("demo.greeting", users.Greeting)

	return &App{Name: name, Container: c, Cache: cm}, nil
}

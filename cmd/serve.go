package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yqhp/testkit/api/rest"
	"yqhp/testkit/internal/cache"
	"yqhp/testkit/internal/config"
	"yqhp/testkit/internal/demo"
	"yqhp/testkit/internal/discovery"
	"yqhp/testkit/internal/task"
	"yqhp/testkit/internal/tool"
	"yqhp/testkit/internal/tracing"
	"yqhp/testkit/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动示例宿主应用和侧服务",
	Long: `启动内置的示例宿主应用（用户、订单服务）并挂载 testkit 侧服务。

侧服务端口：显式配置的 server.port 优先，其次为 server.web_port + 10000，
都没有时在 30001-30099 中选第一个空闲端口。local 环境下会登记到
~/.spring-testkit/apps/<project>.json，退出时移除。`,
	Example: `  # 默认配置启动
  testkit serve

  # 指定配置文件并覆盖端口
  testkit serve --config testkit.yaml --set server.port=18080

  # 登记到本地发现文件
  testkit serve --set app.project=shop --set app.name=order-service`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.Logging.Logger())
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port, err := discovery.ResolvePort(cfg.Server.Port, cfg.Server.WebPort)
	if err != nil {
		return err
	}
	cfg.Server.Port = port

	cm, closeCache, err := newCacheManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	app, err := demo.New(cfg.App.Name, cm)
	if err != nil {
		return fmt.Errorf("初始化宿主应用失败: %w", err)
	}

	var tp *tracing.Provider
	if cfg.Trace.Enabled {
		if cfg.Trace.Group == "" {
			cfg.Trace.Group = cfg.App.Name
		}
		tp, err = tracing.NewProvider(ctx, cfg.Trace)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("关闭 tracer 失败", zap.Error(err))
			}
		}()
	}

	tasks, err := task.NewManager(task.Options{PoolSize: cfg.Task.PoolSize, Retention: cfg.Task.Retention})
	if err != nil {
		return err
	}
	defer tasks.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 缓存未开启时 spring-cache 工具直接报错
	var toolCache *cache.Manager
	if cfg.Cache.Enabled {
		toolCache = app.Cache
	}
	deps := tool.NewDeps(app.Container, toolCache)
	server := rest.NewServer(cfg, rest.Deps{
		Container: app.Container,
		Tools:     tool.NewRegistry(deps),
		ToolDeps:  deps,
		Tasks:     tasks,
		Tracing:   tp,
		OnStop:    cancel,
	})

	if unregister := register(cfg); unregister != nil {
		defer unregister()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartWithContext(gctx)
	})
	g.Go(func() error {
		return tasks.Run(gctx)
	})

	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "testkit 侧服务已启动: http://%s\n", server.Addr())
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("testkit 侧服务已退出")
	return nil
}

// newCacheManager 按配置选择 Redis 或进程内存储
func newCacheManager(ctx context.Context, cfg *config.Config) (*cache.Manager, func(), error) {
	if !cfg.Cache.UseRedis {
		return cache.NewManager(cache.NewMemoryStore(), cfg.Cache.TTL), func() {}, nil
	}
	store, err := cache.NewRedisStore(ctx, cfg.Cache.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	closer := func() {
		if err := store.Close(); err != nil {
			logger.Warn("关闭 Redis 失败", zap.Error(err))
		}
	}
	return cache.NewManager(store, cfg.Cache.TTL), closer, nil
}

// register local 环境下登记到发现文件，返回注销函数
func register(cfg *config.Config) func() {
	if cfg.App.Env != discovery.EnvLocal || cfg.App.Project == "" {
		return nil
	}
	reg, err := discovery.NewRegistry(cfg.Discovery.Home)
	if err != nil {
		logger.Warn("初始化发现目录失败", zap.Error(err))
		return nil
	}
	self := discovery.App{Name: cfg.App.Name, IP: discovery.EnvLocal, Port: cfg.Server.Port}
	if err := reg.Register(cfg.App.Project, self); err != nil {
		logger.Warn("登记应用失败", zap.Error(err))
		return nil
	}
	return func() {
		if err := reg.Remove(cfg.App.Project, self); err != nil {
			logger.Warn("移除登记失败", zap.Error(err))
		}
	}
}

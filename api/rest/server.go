// Package rest testkit 侧服务的 HTTP 入口：单个 POST 端点按 method 分发，
// 工具调用交给任务管理器异步执行，调用方再用 get_task_ret 轮询结果。
package rest

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"yqhp/testkit/internal/config"
	"yqhp/testkit/internal/jsonx"
	"yqhp/testkit/internal/task"
	"yqhp/testkit/internal/tool"
	"yqhp/testkit/internal/tracing"
	"yqhp/testkit/pkg/container"
	"yqhp/testkit/pkg/logger"
	"yqhp/testkit/pkg/types"
)

// Deps 侧服务依赖的宿主能力
type Deps struct {
	Container container.Lookup
	Tools     *tool.Registry
	// ToolDeps 拦截器和 hello 的类型检查复用工具的编译器、解析器和注入桥
	ToolDeps *tool.Deps
	Tasks    *task.Manager
	// Tracing 为空时不追踪
	Tracing *tracing.Provider
	// OnStop 收到 stop 时调用，为空时只关闭 HTTP 服务
	OnStop func()
}

// Server 侧服务
type Server struct {
	app  *fiber.App
	cfg  *config.Config
	deps Deps

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewServer 创建侧服务
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		BodyLimit:             cfg.Server.BodyLimit,
		ErrorHandler:          customErrorHandler,
		AppName:               "testkit " + cfg.App.Name,
		DisableStartupMessage: true,
		JSONEncoder:           jsonx.Marshal,
		JSONDecoder:           jsonx.Unmarshal,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		app:    app,
		cfg:    cfg,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			logger.Error("请求处理 panic", zap.Any("panic", e), zap.String("path", c.Path()))
		},
	}))

	s.app.Use(requestid.New())

	s.app.Use(fiberlogger.New(fiberlogger.Config{
		Format:     "${time} | ${status} | ${latency} | ${locals:requestid} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	if s.cfg.Server.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: "*",
			AllowMethods: "GET,POST,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept",
			MaxAge:       86400,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)
	if s.cfg.Server.EnableMetrics {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}
	s.app.Post("/", s.dispatch)
}

func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(types.Success(nil))
}

// Addr 监听地址
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
}

// Start 启动服务，阻塞直到服务关闭
func (s *Server) Start() error {
	logger.Info("testkit 侧服务启动", zap.String("app", s.cfg.App.Name), zap.String("addr", s.Addr()))
	return s.app.Listen(s.Addr())
}

// Serve 在给定的 listener 上提供服务
func (s *Server) Serve(ln net.Listener) error {
	logger.Info("testkit 侧服务启动", zap.String("app", s.cfg.App.Name), zap.String("addr", ln.Addr().String()))
	return s.app.Listener(ln)
}

// StartWithContext ctx 结束时关闭服务
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown 关闭服务，正在等待结果的轮询立即返回
func (s *Server) Shutdown() error {
	s.cancel()
	return s.app.Shutdown()
}

// ShutdownWithTimeout 带超时的关闭
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	s.cancel()
	return s.app.ShutdownWithTimeout(timeout)
}

// App 返回底层 fiber 应用
func (s *Server) App() *fiber.App {
	return s.app
}

// stop 处理 stop 方法，只生效一次
func (s *Server) stop() {
	s.stopOnce.Do(func() {
		logger.Info("收到 stop，侧服务即将关闭", zap.String("app", s.cfg.App.Name))
		go func() {
			if s.deps.OnStop != nil {
				s.deps.OnStop()
				return
			}
			if err := s.ShutdownWithTimeout(5 * time.Second); err != nil {
				logger.Warn("关闭侧服务失败", zap.Error(err))
			}
		}()
	})
}

// customErrorHandler 路由层的错误同样以 Ret 返回
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(types.Fail(fmt.Sprintf("error_%d: %s", code, message)))
}

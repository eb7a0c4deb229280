// Package logger testkit 的全局日志，基于 zap。
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	global *zap.Logger
	level  = zap.NewAtomicLevel()
	mu     sync.RWMutex
	once   sync.Once
)

// Config 日志配置
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	Output     string // stdout, file, both
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
}

// Init 初始化全局日志，只有第一次调用生效
func Init(cfg *Config) {
	once.Do(func() {
		Replace(build(cfg, level))
	})
}

// Replace 替换全局日志，宿主应用可以传入自己的 zap.Logger
func Replace(l *zap.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	global = l
	mu.Unlock()
}

// SetLevel 运行时调整全局日志级别，未知级别返回错误
func SetLevel(text string) error {
	lv, err := zapcore.ParseLevel(text)
	if err != nil {
		return err
	}
	level.SetLevel(lv)
	return nil
}

// New 按配置创建独立的日志实例，级别不受 SetLevel 影响
func New(cfg *Config) *zap.Logger {
	return build(cfg, zap.NewAtomicLevel())
}

func build(cfg *Config, lv zap.AtomicLevel) *zap.Logger {
	if cfg == nil {
		cfg = &Config{Level: "info", Format: "console", Output: "stdout"}
	}
	if parsed, err := zapcore.ParseLevel(cfg.Level); err == nil {
		lv.SetLevel(parsed)
	} else {
		lv.SetLevel(zapcore.InfoLevel)
	}

	ws := outputs(cfg)
	if ws == nil {
		return zap.NewNop()
	}
	core := zapcore.NewCore(encoder(cfg.Format), ws, lv)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

func encoder(format string) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

// outputs 日志文件按大小滚动
func outputs(cfg *Config) zapcore.WriteSyncer {
	var sinks []zapcore.WriteSyncer
	switch cfg.Output {
	case "", "stdout", "both":
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}
	if (cfg.Output == "file" || cfg.Output == "both") && cfg.FilePath != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}))
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	}
	return zapcore.NewMultiWriteSyncer(sinks...)
}

// L 获取全局日志，未初始化时按默认配置初始化
func L() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(nil)
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Named 返回带名字的子日志，调用方直接使用，不再跳过调用栈
func Named(name string) *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Sync 刷新缓冲，进程退出前调用
func Sync() {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}

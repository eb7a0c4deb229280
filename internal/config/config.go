// Package config 侧服务配置：默认值 < YAML 文件 < 环境变量 < 命令行覆盖。
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/testkit/internal/cache"
	"yqhp/testkit/internal/tracing"
	"yqhp/testkit/pkg/logger"
)

// Config 侧服务完整配置
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Task      TaskConfig      `yaml:"task"`
	Trace     tracing.Config  `yaml:"trace"`
	Cache     CacheConfig     `yaml:"cache"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AppConfig 宿主应用信息
type AppConfig struct {
	Name string `yaml:"name" env:"TK_APP_NAME"`
	// Env 运行环境，local 时登记到本地发现文件
	Env string `yaml:"env" env:"TK_APP_ENV"`
	// Project 本地发现文件名
	Project string `yaml:"project" env:"TK_APP_PROJECT"`
}

// ServerConfig 侧服务 HTTP 配置
type ServerConfig struct {
	Host string `yaml:"host" env:"TK_SERVER_HOST"`
	// Port 显式端口，0 时按 WebPort 推导
	Port int `yaml:"port" env:"TK_SERVER_PORT"`
	// WebPort 宿主 web 端口
	WebPort       int           `yaml:"web_port" env:"TK_SERVER_WEB_PORT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" env:"TK_SERVER_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" env:"TK_SERVER_WRITE_TIMEOUT"`
	BodyLimit     int           `yaml:"body_limit" env:"TK_SERVER_BODY_LIMIT"`
	EnableCORS    bool          `yaml:"enable_cors" env:"TK_SERVER_ENABLE_CORS"`
	EnableMetrics bool          `yaml:"enable_metrics" env:"TK_SERVER_ENABLE_METRICS"`
}

// TaskConfig 异步任务配置
type TaskConfig struct {
	PoolSize    int           `yaml:"pool_size" env:"TK_TASK_POOL_SIZE"`
	Retention   time.Duration `yaml:"retention" env:"TK_TASK_RETENTION"`
	PollTimeout time.Duration `yaml:"poll_timeout" env:"TK_TASK_POLL_TIMEOUT"`
}

// CacheConfig 缓存层配置，未开启 Redis 时使用进程内存储
type CacheConfig struct {
	Enabled  bool              `yaml:"enabled" env:"TK_CACHE_ENABLED"`
	UseRedis bool              `yaml:"use_redis" env:"TK_CACHE_USE_REDIS"`
	TTL      time.Duration     `yaml:"ttl" env:"TK_CACHE_TTL"`
	Redis    cache.RedisConfig `yaml:"redis"`
}

// DiscoveryConfig 本地发现配置
type DiscoveryConfig struct {
	// Home 登记目录的根，默认为用户目录
	Home string `yaml:"home" env:"TK_DISCOVERY_HOME"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level      string `yaml:"level" env:"TK_LOG_LEVEL"`
	Format     string `yaml:"format" env:"TK_LOG_FORMAT"`
	Output     string `yaml:"output" env:"TK_LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"TK_LOG_FILE_PATH"`
	MaxSize    int    `yaml:"max_size" env:"TK_LOG_MAX_SIZE"`
	MaxBackups int    `yaml:"max_backups" env:"TK_LOG_MAX_BACKUPS"`
	MaxAge     int    `yaml:"max_age" env:"TK_LOG_MAX_AGE"`
}

// Logger 转换为日志包的配置
func (c LoggingConfig) Logger() *logger.Config {
	return &logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		FilePath:   c.FilePath,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
	}
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name: "app",
			Env:  "local",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			WebPort:      8080,
			ReadTimeout:  0,
			WriteTimeout: 0,
			BodyLimit:    16 * 1024 * 1024,
		},
		Task: TaskConfig{
			PoolSize:    256,
			Retention:   30 * time.Minute,
			PollTimeout: 86400 * time.Second,
		},
		Trace: tracing.Config{
			Exporter: "none",
		},
		Cache: CacheConfig{
			TTL: 10 * time.Minute,
			Redis: cache.RedisConfig{
				Host: "127.0.0.1",
				Port: 6379,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			FilePath:   "logs/testkit.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Loader 从多个来源加载配置
type Loader struct {
	configPath string
	cmdArgs    map[string]string
	getenv     func(string) string
}

// NewLoader 创建加载器
func NewLoader() *Loader {
	return &Loader{
		cmdArgs: make(map[string]string),
		getenv:  os.Getenv,
	}
}

// WithConfigPath 设置 YAML 文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithCmdArgs 设置命令行覆盖，key 为点分路径，如 server.port
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load 按 默认值 < YAML < 环境变量 < 命令行 的顺序加载
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("从文件加载配置失败: %w", err)
		}
	}

	if err := l.applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return nil, fmt.Errorf("设置配置值 %s 失败: %w", key, err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}
	return nil
}

// applyEnvToStruct 递归处理带 env 标签的字段
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := sf.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue := l.getenv(envTag)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", envTag, sf.Name, err)
		}
	}
	return nil
}

// setConfigValue 按点分路径设置值，路径段与 yaml 标签或字段名匹配
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field := fieldByPath(v, part)
		if !field.IsValid() {
			return fmt.Errorf("未知的配置路径: %s", path)
		}
		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("期望 %s 是结构体，实际是 %s", part, field.Kind())
		}
		v = field
	}
	return nil
}

func fieldByPath(v reflect.Value, part string) reflect.Value {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, _, _ := strings.Cut(sf.Tag.Get("yaml"), ",")
		if tag == part || strings.EqualFold(sf.Name, strings.ReplaceAll(part, "_", "")) {
			return v.Field(i)
		}
	}
	return reflect.Value{}
}

// setFieldValue 从字符串设置字段
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeFor[time.Duration]() {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("无效的时间格式: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("无效的整数: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}
	return nil
}

// Serialize 序列化为 YAML
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig 在默认值基础上解析 YAML
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return cfg, nil
}

// LoadFromFile 从文件加载
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError 单项校验错误
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors 校验错误集合
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors 是否有错误
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var (
	validLevels    = []string{"debug", "info", "warn", "error"}
	validFormats   = []string{"json", "console"}
	validOutputs   = []string{"stdout", "file", "both"}
	validExporters = []string{"", "none", "stdout", "otlp"}
)

// Validate 校验整个配置
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.App.Name) == "" {
		add("app.name", "app name is required")
	}
	if strings.ContainsAny(c.App.Name, ":/") {
		add("app.name", "app name must not contain ':' or '/'")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port", "port must be in 0-65535")
	}
	if c.Server.WebPort < 0 || c.Server.WebPort+10000 > 65535 {
		add("server.web_port", "web port must be in 0-55535")
	}
	if c.Server.ReadTimeout < 0 {
		add("server.read_timeout", "read timeout must be non-negative")
	}
	if c.Server.WriteTimeout < 0 {
		add("server.write_timeout", "write timeout must be non-negative")
	}
	if c.Server.BodyLimit < 0 {
		add("server.body_limit", "body limit must be non-negative")
	}

	if c.Task.PoolSize <= 0 {
		add("task.pool_size", "pool size must be positive")
	}
	if c.Task.Retention <= 0 {
		add("task.retention", "retention must be positive")
	}
	if c.Task.PollTimeout <= 0 {
		add("task.poll_timeout", "poll timeout must be positive")
	}

	if !slices.Contains(validExporters, strings.ToLower(c.Trace.Exporter)) {
		add("trace.exporter", "invalid exporter %q, must be one of none, stdout, otlp", c.Trace.Exporter)
	}
	if strings.EqualFold(c.Trace.Exporter, "otlp") && c.Trace.Endpoint == "" {
		add("trace.endpoint", "endpoint is required for otlp exporter")
	}

	if c.Cache.UseRedis {
		if c.Cache.Redis.Host == "" {
			add("cache.redis.host", "host is required")
		}
		if c.Cache.Redis.Port <= 0 || c.Cache.Redis.Port > 65535 {
			add("cache.redis.port", "port must be in 1-65535")
		}
	}
	if c.Cache.TTL < 0 {
		add("cache.ttl", "ttl must be non-negative")
	}

	if !slices.Contains(validLevels, strings.ToLower(c.Logging.Level)) {
		add("logging.level", "invalid log level %q", c.Logging.Level)
	}
	if !slices.Contains(validFormats, strings.ToLower(c.Logging.Format)) {
		add("logging.format", "invalid log format %q", c.Logging.Format)
	}
	if !slices.Contains(validOutputs, strings.ToLower(c.Logging.Output)) {
		add("logging.output", "invalid log output %q", c.Logging.Output)
	}
	if c.Logging.Output != "stdout" && c.Logging.FilePath == "" {
		add("logging.file_path", "file path is required when output is %s", c.Logging.Output)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

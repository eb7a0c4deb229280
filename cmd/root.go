// Package cmd testkit CLI 的命令实现
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"yqhp/testkit/internal/config"
)

const (
	// Version 当前版本号
	Version = "0.1.0"
	// Banner 版本信息里的 ASCII 艺术
	Banner = `
   _            _   _    _ _
  | |_ ___  ___| |_| | _(_) |_
  | __/ _ \/ __| __| |/ / | __|
  | ||  __/\__ \ |_|   <| | |_   %s
   \__\___||___/\__|_|\_\_|\__|
`
)

var (
	// 全局配置
	cfgFile   string
	debug     bool
	quiet     bool
	overrides []string
)

var rootCmd = &cobra.Command{
	Use:   "testkit",
	Short: "宿主应用内的方法调用与调试侧服务",
	Long: `testkit 随宿主应用启动一个本地 HTTP 侧服务，IDE 或命令行可以借助它
调用容器里任意组件的方法、执行临时编写的代码片段、查看组件字段和计算缓存 key。`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "静默模式")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil, "覆盖配置项，格式: server.port=18080 (可多次指定)")

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// parseOverrides 解析 key=value 形式的覆盖项
func parseOverrides(items []string) (map[string]string, error) {
	out := make(map[string]string, len(items))
	for _, item := range items {
		key, value, ok := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("无效的覆盖项 %q，格式应为 key=value", item)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

// loadConfig 按全局 flags 加载并校验配置
func loadConfig() (*config.Config, error) {
	args, err := parseOverrides(overrides)
	if err != nil {
		return nil, err
	}
	cfg, err := config.NewLoader().WithConfigPath(cfgFile).WithCmdArgs(args).Load()
	if err != nil {
		return nil, err
	}
	switch {
	case debug:
		cfg.Logging.Level = "debug"
	case quiet:
		cfg.Logging.Level = "error"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

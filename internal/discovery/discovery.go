// Package discovery 决定侧服务监听端口，并在本地环境登记运行中的应用，供 IDE 和 CLI 发现。
package discovery

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/duke-git/lancet/v2/fileutil"
	"go.uber.org/zap"

	"yqhp/testkit/internal/jsonx"
	"yqhp/testkit/pkg/logger"
)

const (
	// PortOffset 侧服务端口 = 宿主 web 端口 + PortOffset
	PortOffset = 10000
	// ScanFrom 没有 web 端口时扫描的起始端口
	ScanFrom = 30001
	// ScanTo 扫描的结束端口（含）
	ScanTo = 30099
	// AppsDir 登记文件所在目录，相对用户目录
	AppsDir = ".spring-testkit/apps"
	// EnvLocal 只有本地环境才登记
	EnvLocal = "local"
)

// ResolvePort 显式端口优先，其次 web 端口加偏移，最后扫描空闲端口
func ResolvePort(explicit, webPort int) (int, error) {
	if explicit > 0 {
		return explicit, nil
	}
	if webPort > 0 {
		return webPort + PortOffset, nil
	}
	return FreePort(ScanFrom, ScanTo)
}

// FreePort 返回区间内第一个可监听的端口
func FreePort(from, to int) (int, error) {
	for port := from; port <= to; port++ {
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
		if err != nil {
			continue
		}
		_ = ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in %d-%d", from, to)
}

// App 一个运行中的应用
type App struct {
	Name string
	IP   string
	Port int
}

// String 形如 appName:local:port
func (a App) String() string {
	return a.Name + ":" + a.IP + ":" + strconv.Itoa(a.Port)
}

// ParseApp 解析 appName:ip:port
func ParseApp(s string) (App, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return App{}, fmt.Errorf("un support app item: %s", s)
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return App{}, fmt.Errorf("un support app item: %s", s)
	}
	return App{Name: parts[0], IP: parts[1], Port: port}, nil
}

// Registry 按项目保存运行中应用的 JSON 列表
type Registry struct {
	dir string
	mu  sync.Mutex
}

// NewRegistry home 为空时使用当前用户目录
func NewRegistry(home string) (*Registry, error) {
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("获取用户目录失败: %w", err)
		}
		home = h
	}
	return &Registry{dir: filepath.Join(home, AppsDir)}, nil
}

func (r *Registry) file(project string) (string, error) {
	if strings.TrimSpace(project) == "" {
		return "", fmt.Errorf("project is empty")
	}
	return filepath.Join(r.dir, project+".json"), nil
}

func (r *Registry) load(path string) ([]string, error) {
	if !fileutil.IsExist(path) {
		return nil, nil
	}
	content, err := fileutil.ReadFileToString(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	var items []string
	if err := jsonx.Unmarshal([]byte(content), &items); err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", path, err)
	}
	return items, nil
}

func (r *Registry) store(path string, items []string) error {
	if !fileutil.IsExist(r.dir) {
		if err := fileutil.CreateDir(r.dir + string(filepath.Separator)); err != nil {
			return fmt.Errorf("创建目录 %s 失败: %w", r.dir, err)
		}
	}
	if items == nil {
		items = []string{}
	}
	data, err := jsonx.MarshalString(items)
	if err != nil {
		return err
	}
	return fileutil.WriteStringToFile(path, data, false)
}

// Register 登记应用，已存在时不重复写入
func (r *Registry) Register(project string, app App) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	path, err := r.file(project)
	if err != nil {
		return err
	}
	items, err := r.load(path)
	if err != nil {
		return err
	}
	if slices.Contains(items, app.String()) {
		return nil
	}
	items = append(items, app.String())
	if err := r.store(path, items); err != nil {
		return err
	}
	logger.Info("已登记应用", zap.String("project", project), zap.String("app", app.String()))
	return nil
}

// Remove 移除登记
func (r *Registry) Remove(project string, app App) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	path, err := r.file(project)
	if err != nil {
		return err
	}
	items, err := r.load(path)
	if err != nil {
		return err
	}
	idx := slices.Index(items, app.String())
	if idx < 0 {
		return nil
	}
	return r.store(path, slices.Delete(items, idx, idx+1))
}

// List 项目下登记的应用，无法解析的条目跳过
func (r *Registry) List(project string) ([]App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	path, err := r.file(project)
	if err != nil {
		return nil, err
	}
	items, err := r.load(path)
	if err != nil {
		return nil, err
	}
	apps := make([]App, 0, len(items))
	for _, item := range items {
		app, err := ParseApp(item)
		if err != nil {
			logger.Warn("跳过无法解析的登记", zap.String("item", item))
			continue
		}
		apps = append(apps, app)
	}
	return apps, nil
}

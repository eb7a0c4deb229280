// Package task 管理异步任务：提交后立即返回 id，调用方轮询结果或取消。
package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/duke-git/lancet/v2/random"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"yqhp/testkit/pkg/logger"
	"yqhp/testkit/pkg/types"
)

// IDLength 任务 id 长度
const IDLength = 16

// 默认值
const (
	DefaultPoolSize    = 256
	DefaultPollTimeout = 86400 * time.Second
	DefaultRetention   = 30 * time.Minute
)

// ErrNotFound 任务不存在或已过期
var ErrNotFound = errors.New("not found task")

// ErrTimeout 轮询超时
var ErrTimeout = errors.New("time out")

// ErrBusy 工作池已满
var ErrBusy = errors.New("task pool is busy, try again later")

// Func 任务体，返回的 Ret 原样保存在任务上
type Func func(ctx context.Context) *types.Ret

// Options 任务管理器配置
type Options struct {
	PoolSize  int
	Retention time.Duration
	// JanitorInterval 清理间隔，为 0 时取 Retention 的一半
	JanitorInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.JanitorInterval <= 0 {
		o.JanitorInterval = o.Retention / 2
	}
}

// Record 单个任务的记录
type Record struct {
	ID        string
	Method    string
	CreatedAt time.Time

	mu         sync.RWMutex
	status     types.TaskStatus
	ret        *types.Ret
	finishedAt time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

// Status 当前状态
func (r *Record) Status() types.TaskStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Done 任务进入终态后关闭
func (r *Record) Done() <-chan struct{} {
	return r.done
}

// Ret 终态任务的结果，未结束时返回 nil
func (r *Record) Ret() *types.Ret {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ret
}

// advance 状态只能前进，终态之后不再变化
func (r *Record) advance(to types.TaskStatus, ret *types.Ret, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() || to.Rank() <= r.status.Rank() {
		return false
	}
	r.status = to
	if to.Terminal() {
		r.ret = ret
		r.finishedAt = now
		close(r.done)
	}
	return true
}

func (r *Record) expired(now time.Time, retention time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status.Terminal() && now.Sub(r.finishedAt) > retention
}

// Manager 任务管理器
type Manager struct {
	opts Options
	pool *ants.Pool
	now  func() time.Time

	mu        sync.RWMutex
	tasks     map[string]*Record
	cancelled map[string]struct{}
}

// NewManager 创建任务管理器。工作池满时提交直接失败，不阻塞调用方。
func NewManager(opts Options) (*Manager, error) {
	opts.applyDefaults()
	pool, err := ants.NewPool(opts.PoolSize,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			logger.Error("任务 panic", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("创建工作池失败: %w", err)
	}
	return &Manager{
		opts:      opts,
		pool:      pool,
		now:       time.Now,
		tasks:     make(map[string]*Record),
		cancelled: make(map[string]struct{}),
	}, nil
}

// newID 生成不重复的任务 id
func (m *Manager) newID() string {
	for {
		id := random.RandNumeralOrLetter(IDLength)
		if _, exists := m.tasks[id]; !exists {
			return id
		}
	}
}

// Submit 提交任务并立即返回 id
func (m *Manager) Submit(method string, fn Func) (string, error) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	rec := &Record{
		ID:        m.newID(),
		Method:    method,
		CreatedAt: m.now(),
		status:    types.TaskPending,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.tasks[rec.ID] = rec
	m.mu.Unlock()

	err := m.pool.Submit(func() {
		m.run(ctx, rec, fn)
	})
	if err != nil {
		cancel()
		m.mu.Lock()
		delete(m.tasks, rec.ID)
		m.mu.Unlock()
		if errors.Is(err, ants.ErrPoolOverload) {
			return "", ErrBusy
		}
		return "", fmt.Errorf("提交任务失败: %w", err)
	}
	logger.Debug("任务已提交", zap.String("reqId", rec.ID), zap.String("method", method))
	return rec.ID, nil
}

func (m *Manager) run(ctx context.Context, rec *Record, fn Func) {
	defer rec.cancel()
	if !rec.advance(types.TaskRunning, nil, m.now()) {
		// 开始前已被取消
		return
	}

	ret := m.call(ctx, fn)

	if m.isCancelled(rec.ID) {
		logger.Debug("任务已取消，丢弃结果", zap.String("reqId", rec.ID))
		return
	}
	status := types.TaskCompleted
	if !ret.Success {
		status = types.TaskFailed
	}
	rec.advance(status, ret, m.now())
}

// call 执行任务体，panic 转为失败结果
func (m *Manager) call(ctx context.Context, fn Func) (ret *types.Ret) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("任务执行 panic", zap.Any("panic", r))
			ret = types.Fail(fmt.Sprintf("panic: %v", r))
		}
	}()
	ret = fn(ctx)
	if ret == nil {
		ret = types.Success(nil)
	}
	return ret
}

func (m *Manager) isCancelled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.cancelled[id]
	return ok
}

// Get 查询任务记录
func (m *Manager) Get(id string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tasks[id]
	return rec, ok
}

// Wait 等待任务结束，超时只影响本次轮询，任务继续执行
func (m *Manager) Wait(ctx context.Context, id string, timeout time.Duration) (*types.Ret, error) {
	rec, ok := m.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-rec.Done():
		return rec.Ret(), nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel 尽力取消任务：标记取消、通知任务体的 ctx。
// 找到未结束的任务时返回 true，之后的轮询不会拿到任务原本的结果。
func (m *Manager) Cancel(id string) bool {
	rec, ok := m.Get(id)
	if !ok || rec.Status().Terminal() {
		return false
	}

	m.mu.Lock()
	m.cancelled[id] = struct{}{}
	m.mu.Unlock()

	if !rec.advance(types.TaskCancelled, types.Fail("task is cancelled"), m.now()) {
		// 任务刚好结束
		m.mu.Lock()
		delete(m.cancelled, id)
		m.mu.Unlock()
		return false
	}
	rec.cancel()
	logger.Info("任务已取消", zap.String("reqId", id), zap.String("method", rec.Method))
	return true
}

// Sweep 清理超过保留时间的终态任务，返回清理数量
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.tasks {
		if rec.expired(now, m.opts.Retention) {
			delete(m.tasks, id)
			delete(m.cancelled, id)
			n++
		}
	}
	return n
}

// Run 定期清理，ctx 结束时返回
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				logger.Debug("清理过期任务", zap.Int("count", n))
			}
		}
	}
}

// Stats 各状态的任务数
func (m *Manager) Stats() map[types.TaskStatus]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[types.TaskStatus]int)
	for _, rec := range m.tasks {
		out[rec.Status()]++
	}
	return out
}

// Running 工作池中正在执行的任务数
func (m *Manager) Running() int {
	return m.pool.Running()
}

// Close 取消全部未结束的任务并释放工作池
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.Cancel(id)
	}
	m.pool.Release()
}

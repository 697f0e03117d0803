// Package scheduler 按固定间隔触发后台任务。
//
// 每个任务有独立的计时器，触发后交给协程池执行；
// 上一次执行尚未结束时本次触发直接跳过，错过的触发不会补跑。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"timecapsule/backend/internal/monitoring"
	"timecapsule/backend/internal/pool"
)

var (
	// ErrJobNotFound 任务不存在
	ErrJobNotFound = errors.New("job not found")
	// ErrJobRunning 任务正在执行
	ErrJobRunning = errors.New("job is already running")
	// ErrJobExists 任务名重复
	ErrJobExists = errors.New("job already registered")
	// ErrAlreadyStarted 调度器已启动
	ErrAlreadyStarted = errors.New("scheduler already started")
)

// Job 定时任务描述
type Job struct {
	Name     string
	Interval time.Duration
	// Align 为 true 时首次触发对齐到下一个整间隔（例如整点）
	Align bool
	Run   func(ctx context.Context) error
}

// JobInfo 任务状态
type JobInfo struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"intervalNs"`
	Align     bool          `json:"align"`
	Running   bool          `json:"running"`
	Runs      int64         `json:"runs"`
	LastRun   *time.Time    `json:"lastRun,omitempty"`
	LastError string        `json:"lastError,omitempty"`
}

type entry struct {
	job     Job
	running atomic.Bool

	mu      sync.Mutex
	runs    int64
	lastRun *time.Time
	lastErr error
}

// Scheduler 定时任务调度器
type Scheduler struct {
	pool    *pool.WorkerPool
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	jobs    map[string]*entry
	started bool
}

// New 创建调度器，workers 为执行任务的协程池
func New(workers *pool.WorkerPool, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		pool: workers,
		log:  log,
		now:  time.Now,
		jobs: make(map[string]*entry),
	}
}

// SetMetrics 设置监控指标
func (s *Scheduler) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// Register 注册任务，必须在 Start 之前调用
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("invalid job: name and run are required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("invalid job %q: interval must be positive", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}
	s.jobs[job.Name] = &entry{job: job}
	return nil
}

// Jobs 返回所有任务的状态，按名称排序
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	infos := make([]JobInfo, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		info := JobInfo{
			Name:     e.job.Name,
			Interval: e.job.Interval,
			Align:    e.job.Align,
			Running:  e.running.Load(),
			Runs:     e.runs,
			LastRun:  e.lastRun,
		}
		if e.lastErr != nil {
			info.LastError = e.lastErr.Error()
		}
		e.mu.Unlock()
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Start 启动所有任务的计时器，阻塞直到 ctx 结束
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}

	s.log.Info("scheduler started", zap.Int("jobs", len(entries)))
	wg.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

// Trigger 立即在当前 goroutine 中执行任务
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	if !e.running.CompareAndSwap(false, true) {
		return ErrJobRunning
	}
	return s.run(ctx, e, "manual")
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	log := s.log.With(zap.String("job", e.job.Name))

	if e.job.Align {
		wait := NextBoundary(s.now(), e.job.Interval).Sub(s.now())
		log.Info("job scheduled", zap.Duration("interval", e.job.Interval), zap.Duration("first_run_in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx, e, log)
		}
	} else {
		log.Info("job scheduled", zap.Duration("interval", e.job.Interval))
	}

	ticker := time.NewTicker(e.job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, e, log)
		}
	}
}

// fire 把一次触发交给协程池，上一次未结束或队列已满时跳过
func (s *Scheduler) fire(ctx context.Context, e *entry, log *zap.Logger) {
	if !e.running.CompareAndSwap(false, true) {
		log.Warn("previous run still in progress, skipping tick")
		s.recordSkip(e.job.Name)
		return
	}

	task := func() { _ = s.run(ctx, e, "tick") }

	if s.pool == nil {
		go task()
		return
	}
	if !s.pool.TrySubmit(task) {
		e.running.Store(false)
		log.Warn("worker pool is full, skipping tick")
		s.recordSkip(e.job.Name)
	}
}

// run 执行任务，调用方负责事先把 running 置为 true
func (s *Scheduler) run(ctx context.Context, e *entry, trigger string) (err error) {
	start := s.now()
	log := s.log.With(zap.String("job", e.job.Name), zap.String("trigger", trigger))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			log.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
			if s.metrics != nil {
				s.metrics.RecordPanic()
			}
		}

		duration := s.now().Sub(start)
		e.mu.Lock()
		e.runs++
		e.lastRun = &start
		e.lastErr = err
		e.mu.Unlock()
		e.running.Store(false)

		if s.metrics != nil {
			s.metrics.RecordJobRun(e.job.Name, err, duration)
		}
		if err != nil {
			log.Error("job failed", zap.Error(err), zap.Duration("duration", duration))
		} else {
			log.Debug("job finished", zap.Duration("duration", duration))
		}
	}()

	return e.job.Run(ctx)
}

func (s *Scheduler) recordSkip(name string) {
	if s.metrics != nil {
		s.metrics.RecordJobSkipped(name)
	}
}

// NextBoundary 返回 now 之后的下一个整间隔时刻（UTC 对齐）
func NextBoundary(now time.Time, interval time.Duration) time.Time {
	return now.UTC().Truncate(interval).Add(interval)
}

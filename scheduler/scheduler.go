package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"zh.xyz/dv/ora2pg/models"
)

// DefaultWorkers 默认并发数
const DefaultWorkers = 5

// TableWorker 表的抽取与加载
type TableWorker interface {
	ExtractTable(ctx context.Context, name string) (*models.TableDescriptor, error)
	LoadTable(ctx context.Context, table *models.TableDescriptor) error
}

// ObjectWorker 存储对象的抽取与加载
type ObjectWorker interface {
	ExtractObject(ctx context.Context, key models.ObjectKey) (*models.SourceObject, error)
	LoadObject(ctx context.Context, obj *models.SourceObject) error
}

// Reporter 接收调度过程中的进度与状态变化
type Reporter interface {
	Reportf(format string, args ...any)
	TaskChanged(key models.ObjectKey, state State, err error)
}

type nopReporter struct{}

func (nopReporter) Reportf(string, ...any) {}
func (nopReporter) TaskChanged(models.ObjectKey, State, error) {}

// Scheduler 按依赖顺序并发执行表与存储对象的迁移；每次Run使用独立的运行状态
type Scheduler struct {
	workers  int
	reporter Reporter
	log      *logrus.Entry
}

// New 创建调度器，workers<=0时使用默认并发数
func New(workers int, reporter Reporter, log *logrus.Entry) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{workers: workers, reporter: reporter, log: log.WithField("component", "scheduler")}
}

// Run 先迁移表，再迁移存储对象；每个阶段先提交一轮，再反复处理延迟队列直到为空
func (s *Scheduler) Run(ctx context.Context, tables []string, objects []models.ObjectKey, tw TableWorker, ow ObjectWorker) *Outcome {
	r := &run{
		Scheduler: s,
		tasks:     make(map[models.ObjectKey]*task),
		waitsFor:  make(map[models.ObjectKey]models.ObjectKey),
		outcome:   newOutcome(),
	}

	var tableKeys []models.ObjectKey
	for _, name := range tables {
		key := models.ObjectKey{Kind: models.KindTable, Name: name}
		if r.add(key, tableUnit(tw, name)) {
			tableKeys = append(tableKeys, key)
		}
	}
	var objectKeys []models.ObjectKey
	for _, key := range objects {
		if r.add(key, objectUnit(ow, key)) {
			objectKeys = append(objectKeys, key)
		}
	}

	r.phase(ctx, tableKeys)
	r.phase(ctx, objectKeys)

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range r.tasks {
		r.outcome.States[key] = t.state
	}
	return r.outcome
}

// prepare 抽取元数据，返回依赖与加载函数
type prepare func(ctx context.Context) (deps []models.ObjectKey, load func(context.Context) error, err error)

func tableUnit(w TableWorker, name string) prepare {
	return func(ctx context.Context) ([]models.ObjectKey, func(context.Context) error, error) {
		desc, err := w.ExtractTable(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		var deps []models.ObjectKey
		for _, ref := range desc.References() {
			deps = append(deps, models.ObjectKey{Kind: models.KindTable, Name: ref})
		}
		return deps, func(ctx context.Context) error { return w.LoadTable(ctx, desc) }, nil
	}
}

func objectUnit(w ObjectWorker, key models.ObjectKey) prepare {
	return func(ctx context.Context) ([]models.ObjectKey, func(context.Context) error, error) {
		obj, err := w.ExtractObject(ctx, key)
		if err != nil {
			return nil, nil, err
		}
		return obj.Dependencies, func(ctx context.Context) error { return w.LoadObject(ctx, obj) }, nil
	}
}

type task struct {
	key      models.ObjectKey
	state    State
	prepare  prepare
	finished chan struct{}
}

// run 单次调度的运行状态，task表、延迟队列与等待关系都由mu保护
type run struct {
	*Scheduler

	mu       sync.Mutex
	tasks    map[models.ObjectKey]*task
	deferred []models.ObjectKey
	waitsFor map[models.ObjectKey]models.ObjectKey
	settled  int
	outcome  *Outcome
}

func (r *run) add(key models.ObjectKey, p prepare) bool {
	if _, ok := r.tasks[key]; ok {
		return false
	}
	r.tasks[key] = &task{key: key, state: Pending, prepare: p}
	return true
}

func (r *run) phase(ctx context.Context, keys []models.ObjectKey) {
	if len(keys) == 0 {
		return
	}
	r.wave(ctx, keys)

	for pass := 1; ; pass++ {
		r.mu.Lock()
		retry := r.deferred
		r.deferred = nil
		before := r.settled
		r.mu.Unlock()
		if len(retry) == 0 {
			return
		}

		r.log.WithField("pass", pass).Debugf("重试%d个延迟任务", len(retry))
		r.wave(ctx, retry)

		r.mu.Lock()
		stalled := r.settled == before && len(r.deferred) > 0
		var stuck []models.ObjectKey
		if stalled {
			stuck = r.deferred
			r.deferred = nil
		}
		r.mu.Unlock()

		if stalled {
			for _, key := range stuck {
				if ctx.Err() != nil {
					r.cancel(key)
					continue
				}
				r.finish(key, Failed, ErrDependencyCycle)
			}
			return
		}
	}
}

func (r *run) wave(ctx context.Context, keys []models.ObjectKey) {
	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for _, key := range keys {
		if ctx.Err() != nil {
			r.cancel(key)
			continue
		}
		key := key
		g.Go(func() error {
			r.execute(ctx, key)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) execute(ctx context.Context, key models.ObjectKey) {
	if ctx.Err() != nil {
		r.cancel(key)
		return
	}
	t := r.start(key)

	deps, load, err := t.prepare(ctx)
	if err != nil {
		r.finish(key, Failed, err)
		return
	}
	if blocker, ok := r.resolve(key, deps); !ok {
		r.reporter.Reportf("%s 依赖 %s 尚未完成，稍后重试", key, blocker)
		r.finish(key, Deferred, nil)
		return
	}

	// 已开始的加载不随会话取消中断
	err = load(context.WithoutCancel(ctx))
	switch {
	case errors.Is(err, ErrSkipped):
		r.finish(key, Done, err)
	case err != nil:
		r.finish(key, Failed, err)
	default:
		r.finish(key, Done, nil)
	}
}

// resolve 检查依赖：未开始或已延迟的依赖使本任务延迟；运行中的依赖阻塞等待其结束，
// 等待关系成环时改为延迟；已完成、失败或不在迁移集合中的依赖视为满足
func (r *run) resolve(key models.ObjectKey, deps []models.ObjectKey) (models.ObjectKey, bool) {
	for {
		r.mu.Lock()
		var wait *task
		for _, dep := range deps {
			if dep == key {
				continue
			}
			dt, ok := r.tasks[dep]
			if !ok {
				continue
			}
			switch dt.state {
			case Pending, Deferred:
				r.mu.Unlock()
				return dep, false
			case Running:
				if r.waitCycle(key, dep) {
					r.mu.Unlock()
					return dep, false
				}
				if wait == nil {
					wait = dt
				}
			}
		}
		if wait == nil {
			r.mu.Unlock()
			return models.ObjectKey{}, true
		}
		r.waitsFor[key] = wait.key
		finished := wait.finished
		r.mu.Unlock()

		r.log.WithField("task", key.String()).Debugf("等待 %s", wait.key)
		<-finished

		r.mu.Lock()
		delete(r.waitsFor, key)
		r.mu.Unlock()
	}
}

// waitCycle 若dep沿等待链最终等待key则成环，调用方持有mu
func (r *run) waitCycle(key, dep models.ObjectKey) bool {
	cur := dep
	for i := 0; i <= len(r.waitsFor); i++ {
		next, ok := r.waitsFor[cur]
		if !ok {
			return false
		}
		if next == key {
			return true
		}
		cur = next
	}
	return true
}

func (r *run) start(key models.ObjectKey) *task {
	r.mu.Lock()
	t := r.tasks[key]
	t.state = Running
	t.finished = make(chan struct{})
	r.mu.Unlock()

	r.reporter.TaskChanged(key, Running, nil)
	return t
}

func (r *run) finish(key models.ObjectKey, state State, err error) {
	r.mu.Lock()
	t := r.tasks[key]
	t.state = state
	switch state {
	case Done:
		r.settled++
		if errors.Is(err, ErrSkipped) {
			r.outcome.Skipped = append(r.outcome.Skipped, key)
		} else {
			r.outcome.Done = append(r.outcome.Done, key)
		}
	case Failed:
		r.settled++
		r.outcome.fail(key, err)
	case Deferred:
		r.outcome.Deferrals++
		r.deferred = append(r.deferred, key)
	}
	if t.finished != nil {
		close(t.finished)
		t.finished = nil
	}
	r.mu.Unlock()

	if state == Failed {
		r.log.WithField("task", key.String()).WithError(err).Warn("任务失败")
	}
	r.reporter.TaskChanged(key, state, err)
}

func (r *run) cancel(key models.ObjectKey) {
	r.mu.Lock()
	r.outcome.Cancelled = append(r.outcome.Cancelled, key)
	r.mu.Unlock()

	r.reporter.Reportf("%s 已取消", key)
	r.reporter.TaskChanged(key, Pending, ErrCancelled)
}

package scheduler

import (
	"errors"
	"fmt"

	"zh.xyz/dv/ora2pg/models"
)

// State 任务状态，由调度器维护并对外发布
type State int

const (
	Pending State = iota
	Running
	Done
	Deferred
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Done:
		return "done"
	case Deferred:
		return "deferred"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrDependencyCycle 延迟队列一整轮没有任何进展
	ErrDependencyCycle = errors.New("依赖无法满足（存在循环依赖）")
	// ErrCancelled 会话被取消，任务未开始
	ErrCancelled = errors.New("任务已取消")
	// ErrSkipped 由加载方返回，表示对象未执行但不算失败（如转人工迁移）
	ErrSkipped = errors.New("任务已跳过")
)

// Outcome 一次调度的结果
type Outcome struct {
	Done      []models.ObjectKey
	Failed    map[models.ObjectKey]error
	Skipped   []models.ObjectKey
	Cancelled []models.ObjectKey
	Deferrals int
	States    map[models.ObjectKey]State

	failedOrder []models.ObjectKey
}

func newOutcome() *Outcome {
	return &Outcome{
		Failed: make(map[models.ObjectKey]error),
		States: make(map[models.ObjectKey]State),
	}
}

func (o *Outcome) fail(key models.ObjectKey, err error) {
	if _, ok := o.Failed[key]; !ok {
		o.failedOrder = append(o.failedOrder, key)
	}
	o.Failed[key] = err
}

// Err 汇总失败的任务；没有失败但有任务被取消时返回ErrCancelled
func (o *Outcome) Err() error {
	if len(o.failedOrder) > 0 {
		errs := make([]error, 0, len(o.failedOrder))
		for _, key := range o.failedOrder {
			errs = append(errs, fmt.Errorf("%s: %w", key, o.Failed[key]))
		}
		return errors.Join(errs...)
	}
	if len(o.Cancelled) > 0 {
		return ErrCancelled
	}
	return nil
}

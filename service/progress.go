package service

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"zh.xyz/dv/ora2pg/models"
	"zh.xyz/dv/ora2pg/scheduler"
)

// 进度行保留上限
const maxProgressLines = 500

// 对象日志的动作
const (
	ActionCreate  = "create"
	ActionReplace = "replace"
	ActionManual  = "manual"
	ActionDefer   = "defer"
	ActionSkip    = "skip"
)

// Progress 会话的进度通道：所有行经同一把锁串行写出
type Progress struct {
	sessionID string
	jobID     uint
	rec       Recorder
	log       *logrus.Entry

	mu      sync.Mutex
	lines   []string
	out     io.Writer
	actions map[models.ObjectKey]string
}

// NewProgress 创建进度通道
func NewProgress(sessionID string, jobID uint, rec Recorder, log *logrus.Entry) *Progress {
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Progress{
		sessionID: sessionID,
		jobID:     jobID,
		rec:       rec,
		log:       log,
		actions:   make(map[models.ObjectKey]string),
	}
}

// Attach 额外把进度行写到w（命令行模式输出到stdout）
func (p *Progress) Attach(w io.Writer) {
	p.mu.Lock()
	p.out = w
	p.mu.Unlock()
}

func (p *Progress) Reportf(format string, args ...any) {
	p.write("info", fmt.Sprintf(format, args...))
}

func (p *Progress) Warnf(format string, args ...any) {
	p.write("warning", fmt.Sprintf(format, args...))
}

func (p *Progress) Errorf(format string, args ...any) {
	p.write("error", fmt.Sprintf(format, args...))
}

func (p *Progress) write(level, msg string) {
	line := time.Now().Format("2006-01-02 15:04:05") + ": " + msg

	p.mu.Lock()
	p.lines = append(p.lines, line)
	if len(p.lines) > maxProgressLines {
		p.lines = append([]string(nil), p.lines[len(p.lines)-maxProgressLines:]...)
	}
	if p.out != nil {
		fmt.Fprintln(p.out, line)
	}
	p.mu.Unlock()

	switch level {
	case "error":
		p.log.Error(msg)
	case "warning":
		p.log.Warn(msg)
	default:
		p.log.Info(msg)
	}
	p.rec.Log(&models.MigrationLog{JobID: p.jobID, SessionID: p.sessionID, LogType: level, Message: msg})
}

// Lines 最近的进度行
func (p *Progress) Lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lines...)
}

// Tail 从第from行之后的进度行，from超出范围时返回全部
func (p *Progress) Tail(from int) []string {
	lines := p.Lines()
	if from <= 0 || from > len(lines) {
		return lines
	}
	return lines[from:]
}

// markAction 记录对象本次执行的动作，对象结束时写入对象日志
func (p *Progress) markAction(key models.ObjectKey, action string) {
	p.mu.Lock()
	p.actions[key] = action
	p.mu.Unlock()
}

func (p *Progress) action(key models.ObjectKey) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.actions[key]; ok {
		return a
	}
	return ActionCreate
}

// TaskChanged 调度器发布的任务状态，落为对象日志与指标
func (p *Progress) TaskChanged(key models.ObjectKey, state scheduler.State, err error) {
	entry := &models.ObjectMigrationLog{
		SessionID:  p.sessionID,
		ObjectType: string(key.Kind),
		ObjectName: key.Name,
	}
	switch {
	case state == scheduler.Running:
		return
	case state == scheduler.Done && errors.Is(err, scheduler.ErrSkipped):
		entry.Action, entry.Status = ActionManual, "skipped"
		entry.Message = strings.TrimPrefix(err.Error(), scheduler.ErrSkipped.Error()+": ")
	case state == scheduler.Done:
		entry.Action, entry.Status = p.action(key), "success"
	case state == scheduler.Deferred:
		entry.Action, entry.Status = ActionDefer, "pending"
	case state == scheduler.Failed:
		entry.Action, entry.Status = p.action(key), "failed"
		if err != nil {
			entry.Message = err.Error()
		}
		p.Errorf("%s 迁移失败: %v", key, err)
	case errors.Is(err, scheduler.ErrCancelled):
		entry.Action, entry.Status = ActionSkip, "cancelled"
	default:
		return
	}
	tasksTotal.WithLabelValues(string(key.Kind), entry.Status).Inc()
	p.rec.ObjectLog(entry)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"zh.xyz/dv/ora2pg/catalog"
	"zh.xyz/dv/ora2pg/config"
	"zh.xyz/dv/ora2pg/dbconn"
	"zh.xyz/dv/ora2pg/models"
	"zh.xyz/dv/ora2pg/scheduler"
	"zh.xyz/dv/ora2pg/transfer"
	"zh.xyz/dv/ora2pg/transpile"
)

// SessionState 会话状态，只由会话自身修改
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateExecuting SessionState = "executing"
	StateSuccess   SessionState = "success"
	StateFailed    SessionState = "failed"
)

// Terminal 是否为终止状态
func (s SessionState) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

// Endpoint 会话运行期间独占的一组连接
type Endpoint struct {
	Reader catalog.Reader
	Copier RowCopier
	Close  func()
}

// ConnectFunc 建立会话连接，失败时返回ConnectionError
type ConnectFunc func(ctx context.Context) (*Endpoint, error)

// DialEndpoints 分别打开Oracle与PostgreSQL连接，所有任务复用
func DialEndpoints(source, target *models.DatabaseConnection, schema string, mc config.MigrationConfig, log *logrus.Entry) ConnectFunc {
	return func(ctx context.Context) (*Endpoint, error) {
		src, err := dbconn.Open(ctx, source, "")
		if err != nil {
			return nil, &ConnectionError{Target: "Oracle " + source.Name, Err: err}
		}
		dst, err := dbconn.Open(ctx, target, schema)
		if err != nil {
			src.Close()
			return nil, &ConnectionError{Target: "PostgreSQL " + target.Name, Err: err}
		}
		return &Endpoint{
			Reader: catalog.NewSQLReader(src, dst),
			Copier: transfer.NewCopier(src, dst, mc.WriteShards, mc.BatchSize, log),
			Close: func() {
				dst.Close()
				src.Close()
			},
		}, nil
	}
}

// Options 一次迁移的参数
type Options struct {
	JobID        uint
	Owner        string
	TargetSchema string
	Selection    Selection
	Backup       bool
	Migration    config.MigrationConfig
}

// Deps 会话的外部协作者
type Deps struct {
	Connect  ConnectFunc
	Backup   Backup
	Recorder Recorder
	Notify   func(*Report)
	Log      *logrus.Entry
}

// Report 会话结束时的汇总
type Report struct {
	SessionID    string                  `json:"session_id"`
	JobID        uint                    `json:"job_id"`
	Owner        string                  `json:"owner"`
	TargetSchema string                  `json:"target_schema"`
	State        SessionState            `json:"state"`
	Error        string                  `json:"error,omitempty"`
	Tables       []string                `json:"tables"`
	Objects      []models.ObjectKey      `json:"objects"`
	Done         int                     `json:"done"`
	Failed       map[string]string       `json:"failed,omitempty"`
	Manual       int                     `json:"manual"`
	Cancelled    int                     `json:"cancelled"`
	Deferrals    int                     `json:"deferrals"`
	OuterRefs    []models.OuterReference `json:"outer_refs,omitempty"`
	BackupFile   string                  `json:"backup_file,omitempty"`
	Restored     bool                    `json:"restored"`
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   time.Time               `json:"finished_at"`
}

// Session 一次Oracle schema到PostgreSQL schema的迁移
type Session struct {
	ID string

	opts      Options
	deps      Deps
	progress  *Progress
	artifacts *Artifacts
	log       *logrus.Entry

	mu      sync.Mutex
	state   SessionState
	err     error
	report  *Report
	cancel  context.CancelFunc
	stopped bool
	done    chan struct{}
}

// NewSession 创建处于idle状态的会话
func NewSession(opts Options, deps Deps) *Session {
	id := uuid.NewString()
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Log == nil {
		deps.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	log := deps.Log.WithFields(logrus.Fields{"session": id, "job": opts.JobID})
	return &Session{
		ID:        id,
		opts:      opts,
		deps:      deps,
		progress:  NewProgress(id, opts.JobID, deps.Recorder, log),
		artifacts: NewArtifacts(opts.Migration.ManualDir, opts.Migration.OuterRefFile),
		log:       log,
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// State 当前状态
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err 导致失败的错误
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Report 结束后的汇总，未结束时为nil
func (s *Session) Report() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Progress 进度通道
func (s *Session) Progress() *Progress {
	return s.progress
}

// JobID 所属任务
func (s *Session) JobID() uint {
	return s.opts.JobID
}

// Done 会话进入终止状态时关闭
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// DisableBackup 本次运行不备份目标schema，只能在Run之前调用
func (s *Session) DisableBackup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		s.opts.Backup = false
	}
}

// Stop 取消尚未开始的任务，已开始的加载会执行完
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Run 执行迁移直到结束，返回导致失败的错误
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	s.state = StateExecuting
	if s.stopped {
		cancel()
	}
	s.mu.Unlock()

	report := &Report{
		SessionID:    s.ID,
		JobID:        s.opts.JobID,
		Owner:        s.opts.Owner,
		TargetSchema: s.opts.TargetSchema,
		StartedAt:    time.Now(),
	}
	s.save(report, StateExecuting, nil)

	err := s.execute(ctx, report)
	s.finish(report, err)
	return err
}

func (s *Session) execute(ctx context.Context, report *Report) error {
	if s.opts.Selection.Empty() {
		return errors.New("没有选择任何表或存储对象")
	}
	if s.deps.Connect == nil {
		return errors.New("会话未配置数据库连接")
	}

	endpoint, err := s.deps.Connect(ctx)
	if err != nil {
		return err
	}
	defer endpoint.Close()

	ora := catalog.NewOracle(endpoint.Reader, s.opts.Owner)
	pg := catalog.NewPostgres(endpoint.Reader, s.opts.TargetSchema)

	existed, inv, err := s.preflight(ctx, pg)
	if err != nil {
		return err
	}

	sel, outer, err := ExpandSelection(ctx, ora, s.opts.Selection)
	if err != nil {
		s.dropCreated(pg, existed, report)
		return err
	}
	report.Tables, report.Objects, report.OuterRefs = sel.Tables, sel.Objects, outer
	for _, ref := range outer {
		if strings.EqualFold(ref.RefSchema, ora.Owner()) {
			s.progress.Warnf("%s 依赖已移出迁移的对象 %s，已移出迁移并记录", ref.Object, ref.RefObject)
			continue
		}
		s.progress.Warnf("%s 引用其他schema的对象 %s.%s，已移出迁移并记录", ref.Object, ref.RefSchema, ref.RefObject.Name)
	}
	if sel.Empty() {
		s.dropCreated(pg, existed, report)
		return errors.New("排除跨schema引用后没有可迁移的对象")
	}

	if s.opts.Backup && s.deps.Backup != nil && existed {
		s.progress.Reportf("创建schema %s 的备份", pg.Schema())
		file, err := s.deps.Backup.Dump(ctx, pg.Schema())
		if err != nil {
			return fmt.Errorf("备份失败: %w", err)
		}
		report.BackupFile = file
	}

	s.progress.Reportf("迁移表 %v 和存储对象 %v：Oracle schema %s -> PostgreSQL schema %s",
		sel.Tables, sel.Objects, ora.Owner(), pg.Schema())

	e := &engine{
		ora:       ora,
		pg:        pg,
		reader:    endpoint.Reader,
		copier:    endpoint.Copier,
		tp:        transpile.New(ora.Owner(), pg.Schema(), ora),
		artifacts: s.artifacts,
		progress:  s.progress,
		rec:       s.deps.Recorder,
		sessionID: s.ID,
		inv:       inv,
		seqOwner:  s.opts.Migration.SequenceOwner,
		log:       s.log,
	}
	outcome := scheduler.New(s.opts.Migration.Workers, s.progress, s.log).
		Run(ctx, sel.Tables, sel.Objects, e, e)

	report.Done = len(outcome.Done)
	report.Manual = len(outcome.Skipped)
	report.Cancelled = len(outcome.Cancelled)
	report.Deferrals = outcome.Deferrals
	if len(outcome.Failed) > 0 {
		report.Failed = make(map[string]string, len(outcome.Failed))
		for key, ferr := range outcome.Failed {
			report.Failed[key.String()] = ferr.Error()
		}
	}

	if err := outcome.Err(); err != nil {
		s.rollback(pg, existed, report)
		return err
	}

	if len(outer) > 0 {
		if err := s.artifacts.AppendOuterReferences(ora.Owner(), pg.Schema(), outer); err != nil {
			s.progress.Warnf("写入跨schema引用文件失败: %v", err)
		} else {
			s.progress.Reportf("跨schema引用已写入 %s", s.artifacts.OuterRefFile())
		}
		s.deps.Recorder.OuterReferences(s.ID, outer)
	}
	return nil
}

// preflight 检查权限并确保目标schema存在，返回schema原本是否存在及目标库现有对象
func (s *Session) preflight(ctx context.Context, pg *catalog.Postgres) (bool, inventory, error) {
	var inv inventory
	existed, err := pg.SchemaExists(ctx)
	if err != nil {
		return false, inv, err
	}
	super, err := pg.IsSuperuser(ctx)
	if err != nil {
		return false, inv, err
	}
	if !super {
		allowed, err := pg.CanCreate(ctx, existed)
		if err != nil {
			return false, inv, err
		}
		if !allowed {
			reason := "当前用户不是超级用户，且没有数据库的CREATE权限"
			if existed {
				reason = "当前用户不是超级用户，且没有该schema的CREATE权限"
			}
			return false, inv, &PermissionError{Schema: pg.Schema(), Reason: reason}
		}
	}
	if !existed {
		if err := pg.CreateSchema(ctx); err != nil {
			return false, inv, err
		}
		s.progress.Reportf("schema %s 已在PostgreSQL中创建", pg.Schema())
	}

	if inv.tables, err = pg.Tables(ctx); err != nil {
		return existed, inv, err
	}
	if inv.routines, err = pg.Routines(ctx); err != nil {
		return existed, inv, err
	}
	if inv.triggers, err = pg.Triggers(ctx); err != nil {
		return existed, inv, err
	}
	return existed, inv, nil
}

// rollback 失败后恢复：有备份时删除schema并恢复，schema为本次新建时直接删除
func (s *Session) rollback(pg *catalog.Postgres, existed bool, report *Report) {
	ctx := context.Background()
	switch {
	case report.BackupFile != "":
		s.progress.Warnf("迁移失败，正在将schema %s 恢复到迁移前的状态...", pg.Schema())
		if err := pg.DropSchema(ctx); err != nil {
			s.progress.Errorf("删除schema失败: %v", err)
			return
		}
		if err := s.deps.Backup.Restore(ctx, pg.Schema(), report.BackupFile); err != nil {
			s.progress.Errorf("恢复备份失败: %v", err)
			return
		}
		report.Restored = true
		s.progress.Reportf("schema %s 已恢复到最近一次稳定状态", pg.Schema())
	case !existed && s.opts.Backup:
		s.dropCreated(pg, existed, report)
	}
}

// dropCreated 删除本次会话新建的schema
func (s *Session) dropCreated(pg *catalog.Postgres, existed bool, report *Report) {
	if existed {
		return
	}
	if err := pg.DropSchema(context.Background()); err != nil {
		s.progress.Errorf("删除schema失败: %v", err)
		return
	}
	report.Restored = true
	s.progress.Reportf("已删除本次新建的schema %s", pg.Schema())
}

func (s *Session) finish(report *Report, err error) {
	state := StateSuccess
	if err != nil {
		state = StateFailed
		report.Error = err.Error()
		s.progress.Errorf("迁移失败: %v", err)
	} else {
		s.progress.Reportf("迁移完成！")
	}
	report.State = state
	report.FinishedAt = time.Now()

	s.save(report, state, err)
	sessionsTotal.WithLabelValues(string(state)).Inc()
	sessionDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	if s.deps.Notify != nil {
		s.deps.Notify(report)
	}

	s.mu.Lock()
	s.state = state
	s.err = err
	s.report = report
	s.cancel = nil
	s.mu.Unlock()
	close(s.done)
}

func (s *Session) save(report *Report, state SessionState, err error) {
	rec := &models.MigrationSession{
		ID:           s.ID,
		JobID:        s.opts.JobID,
		Owner:        s.opts.Owner,
		TargetSchema: s.opts.TargetSchema,
		State:        string(state),
		Tables:       len(report.Tables),
		Objects:      len(report.Objects),
		Failed:       len(report.Failed),
		Manual:       report.Manual,
		Deferrals:    report.Deferrals,
		BackupFile:   report.BackupFile,
		Restored:     report.Restored,
		StartedAt:    &report.StartedAt,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if state.Terminal() {
		rec.FinishedAt = &report.FinishedAt
	}
	s.deps.Recorder.SaveSession(rec)
}

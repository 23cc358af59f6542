package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"zh.xyz/dv/ora2pg/config"
	"zh.xyz/dv/ora2pg/models"
)

// Manager 迁移会话注册表：同一任务同时只有一个会话在执行，结束的会话保留一段时间供查询
type Manager struct {
	db  *gorm.DB
	cfg config.MigrationConfig
	log *logrus.Entry

	mu       sync.Mutex
	running  map[uint]*Session
	sessions gcache.Cache
}

// Sessions 全局会话管理器，由InitSessionManager初始化
var Sessions *Manager

// InitSessionManager 初始化全局会话管理器
func InitSessionManager(db *gorm.DB, cfg config.MigrationConfig) {
	Sessions = NewManager(db, cfg)
}

// NewManager 创建会话管理器
func NewManager(db *gorm.DB, cfg config.MigrationConfig) *Manager {
	return &Manager{
		db:       db,
		cfg:      cfg,
		log:      logrus.WithField("component", "sessions"),
		running:  make(map[uint]*Session),
		sessions: gcache.New(200).LRU().Expiration(24 * time.Hour).Build(),
	}
}

// NewJobSession 根据任务配置创建会话（不启动）
func (m *Manager) NewJobSession(jobID uint) (*Session, error) {
	if m.db == nil {
		return nil, fmt.Errorf("元数据库未初始化")
	}
	var job models.MigrationJob
	if err := m.db.Preload("SourceDB").Preload("TargetDB").First(&job, jobID).Error; err != nil {
		return nil, fmt.Errorf("任务不存在: %w", err)
	}
	return m.newSession(&job)
}

// NewAdhocSession 不保存任务，按给定连接与选择创建一次性会话
func (m *Manager) NewAdhocSession(sourceID, targetID uint, owner, schema string, sel Selection) (*Session, error) {
	if m.db == nil {
		return nil, fmt.Errorf("元数据库未初始化")
	}
	job := models.MigrationJob{Owner: owner, TargetSchema: schema, Tables: sel.Tables, Objects: sel.Objects, Backup: true}
	if err := m.db.First(&job.SourceDB, sourceID).Error; err != nil {
		return nil, fmt.Errorf("源连接不存在: %w", err)
	}
	if err := m.db.First(&job.TargetDB, targetID).Error; err != nil {
		return nil, fmt.Errorf("目标连接不存在: %w", err)
	}
	return m.newSession(&job)
}

func (m *Manager) newSession(job *models.MigrationJob) (*Session, error) {
	if job.SourceDB.Type != models.ConnOracle {
		return nil, fmt.Errorf("源连接%s不是Oracle连接", job.SourceDB.Name)
	}
	if job.TargetDB.Type != models.ConnPostgres {
		return nil, fmt.Errorf("目标连接%s不是PostgreSQL连接", job.TargetDB.Name)
	}

	deps := Deps{
		Connect:  DialEndpoints(&job.SourceDB, &job.TargetDB, job.TargetSchema, m.cfg, m.log),
		Backup:   NewPgDump(&job.TargetDB, m.cfg, m.log),
		Recorder: NewGormRecorder(m.db),
		Notify:   m.notify,
		Log:      m.log,
	}
	opts := Options{
		JobID:        job.ID,
		Owner:        job.Owner,
		TargetSchema: job.TargetSchema,
		Selection:    Selection{Tables: job.Tables, Objects: job.Objects},
		Backup:       job.Backup && m.cfg.BackupEnabled(),
		Migration:    m.cfg,
	}
	return NewSession(opts, deps), nil
}

// RunSession 登记并同步执行已创建的会话
func (m *Manager) RunSession(ctx context.Context, s *Session) error {
	if err := m.Track(s); err != nil {
		return err
	}
	defer m.release(s)

	m.markJob(s.JobID(), s.ID, StateExecuting)
	err := s.Run(ctx)
	m.markJob(s.JobID(), s.ID, s.State())
	return err
}

// Track 登记会话；同一任务已有会话在执行时返回ErrSessionRunning
func (m *Manager) Track(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.JobID() != 0 {
		if cur, ok := m.running[s.JobID()]; ok && !cur.State().Terminal() {
			return ErrSessionRunning
		}
		m.running[s.JobID()] = s
	}
	return m.sessions.Set(s.ID, s)
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.running[s.JobID()]; ok && cur == s {
		delete(m.running, s.JobID())
	}
}

// Start 在后台运行任务，立即返回会话
func (m *Manager) Start(jobID uint) (*Session, error) {
	s, err := m.NewJobSession(jobID)
	if err != nil {
		return nil, err
	}
	if err := m.Track(s); err != nil {
		return nil, err
	}
	m.markJob(jobID, s.ID, StateExecuting)

	go func() {
		defer m.release(s)
		_ = s.Run(context.Background())
		m.markJob(jobID, s.ID, s.State())
	}()
	return s, nil
}

// RunJob 同步执行任务（定时任务与命令行使用）
func (m *Manager) RunJob(ctx context.Context, jobID uint, configure func(*Session)) (*Session, error) {
	s, err := m.NewJobSession(jobID)
	if err != nil {
		return nil, err
	}
	if configure != nil {
		configure(s)
	}
	return s, m.RunSession(ctx, s)
}

// Get 查询会话
func (m *Manager) Get(id string) (*Session, error) {
	v, err := m.sessions.Get(id)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return v.(*Session), nil
}

// Running 任务当前正在执行的会话
func (m *Manager) Running(jobID uint) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.running[jobID]
	if !ok || s.State().Terminal() {
		return nil, false
	}
	return s, true
}

// Stop 停止会话
func (m *Manager) Stop(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Stop()
	return nil
}

func (m *Manager) markJob(jobID uint, sessionID string, state SessionState) {
	if m.db == nil || jobID == 0 {
		return
	}
	updates := map[string]any{"status": string(state), "last_session_id": sessionID}
	if state == StateExecuting {
		updates["last_run_at"] = time.Now()
	}
	if err := m.db.Model(&models.MigrationJob{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		m.log.WithError(err).WithField("job", jobID).Warn("更新任务状态失败")
	}
}

func (m *Manager) notify(r *Report) {
	if err := SendSessionReport(m.db, r); err != nil {
		m.log.WithError(err).WithField("session", r.SessionID).Warn("发送迁移报告邮件失败")
	}
}

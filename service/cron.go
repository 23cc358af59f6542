package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"zh.xyz/dv/ora2pg/models"
)

var (
	cronManager *cron.Cron
	cronMu      sync.Mutex
	cronEntries = make(map[uint]cron.EntryID)
)

// InitCronManager 初始化定时任务管理器，并注册所有定时类型的迁移任务
func InitCronManager(db *gorm.DB) {
	cronManager = cron.New(cron.WithSeconds())
	cronManager.Start()

	if db == nil {
		return
	}
	var jobs []models.MigrationJob
	if err := db.Where("run_type = ?", models.RunScheduled).Find(&jobs).Error; err != nil {
		logrus.WithError(err).Warn("加载定时迁移任务失败")
		return
	}
	for i := range jobs {
		if err := ScheduleJob(&jobs[i]); err != nil {
			logrus.WithError(err).WithField("job", jobs[i].ID).Warn("注册定时迁移任务失败")
		}
	}
}

// StopCronManager 停止调度，等待正在执行的任务返回
func StopCronManager() {
	if cronManager != nil {
		<-cronManager.Stop().Done()
	}
}

// ScheduleJob 注册（或重新注册）定时迁移任务
func ScheduleJob(job *models.MigrationJob) error {
	if job.RunType != models.RunScheduled {
		return fmt.Errorf("任务不是定时任务类型")
	}
	if job.CronExpr == "" {
		return fmt.Errorf("定时任务缺少cron表达式")
	}
	if cronManager == nil {
		return fmt.Errorf("定时任务管理器未初始化")
	}

	UnscheduleJob(job.ID)

	jobID := job.ID
	entryID, err := cronManager.AddFunc(job.CronExpr, func() {
		runScheduledJob(jobID)
	})
	if err != nil {
		return fmt.Errorf("添加定时任务失败: %v", err)
	}

	cronMu.Lock()
	cronEntries[jobID] = entryID
	cronMu.Unlock()
	logrus.WithFields(logrus.Fields{"job": jobID, "cron": job.CronExpr}).Info("定时迁移任务已注册")
	return nil
}

// UnscheduleJob 移除定时迁移任务
func UnscheduleJob(jobID uint) {
	cronMu.Lock()
	defer cronMu.Unlock()
	if id, ok := cronEntries[jobID]; ok {
		cronManager.Remove(id)
		delete(cronEntries, jobID)
	}
}

// Scheduled 任务是否已注册定时执行
func Scheduled(jobID uint) bool {
	cronMu.Lock()
	defer cronMu.Unlock()
	_, ok := cronEntries[jobID]
	return ok
}

func runScheduledJob(jobID uint) {
	log := logrus.WithField("job", jobID)
	if Sessions == nil {
		log.Warn("会话管理器未初始化，跳过定时迁移")
		return
	}
	if _, ok := Sessions.Running(jobID); ok {
		log.Info("上一次迁移仍在执行，跳过本次")
		return
	}
	s, err := Sessions.RunJob(context.Background(), jobID, nil)
	if err != nil {
		log.WithError(err).Warn("定时迁移任务执行失败")
		return
	}
	log.WithField("session", s.ID).Info("定时迁移任务执行完成")
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"zh.xyz/dv/ora2pg/database"
	"zh.xyz/dv/ora2pg/models"
	"zh.xyz/dv/ora2pg/service"
)

type JobHandler struct{}

type jobRequest struct {
	Name         string             `json:"name" binding:"required"`
	SourceDBID   uint               `json:"source_db_id" binding:"required"`
	TargetDBID   uint               `json:"target_db_id" binding:"required"`
	Owner        string             `json:"owner" binding:"required"`
	TargetSchema string             `json:"target_schema" binding:"required"`
	Tables       []string           `json:"tables"`
	Objects      []models.ObjectKey `json:"objects"`
	RunType      string             `json:"run_type" binding:"required,oneof=manual scheduled"`
	CronExpr     string             `json:"cron_expr"`
	Backup       *bool              `json:"backup"`
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// validate 检查选择与调度参数，返回错误信息
func (r *jobRequest) validate() string {
	if len(r.Tables) == 0 && len(r.Objects) == 0 {
		return "至少选择一个表或存储对象"
	}
	for i, o := range r.Objects {
		kind, ok := models.ParseObjectKind(string(o.Kind))
		if !ok || kind == models.KindTable || o.Name == "" {
			return "不支持的存储对象: " + o.String()
		}
		r.Objects[i] = models.ObjectKey{Kind: kind, Name: strings.ToUpper(o.Name)}
	}
	for i, t := range r.Tables {
		r.Tables[i] = strings.ToUpper(strings.TrimSpace(t))
	}
	if r.RunType == models.RunScheduled {
		if r.CronExpr == "" {
			return "定时任务需要提供cron表达式"
		}
		if _, err := cronParser.Parse(r.CronExpr); err != nil {
			return "cron表达式无效: " + err.Error()
		}
	}
	return ""
}

func checkConnections(c *gin.Context, sourceID, targetID uint) bool {
	var source, target models.DatabaseConnection
	if err := database.DB.First(&source, sourceID).Error; err != nil || source.Type != models.ConnOracle {
		c.JSON(http.StatusBadRequest, gin.H{"error": "源数据库连接不存在或不是Oracle"})
		return false
	}
	if err := database.DB.First(&target, targetID).Error; err != nil || target.Type != models.ConnPostgres {
		c.JSON(http.StatusBadRequest, gin.H{"error": "目标数据库连接不存在或不是PostgreSQL"})
		return false
	}
	return true
}

func schedule(job *models.MigrationJob) error {
	if job.RunType == models.RunScheduled {
		return service.ScheduleJob(job)
	}
	service.UnscheduleJob(job.ID)
	return nil
}

// CreateJob 创建迁移任务
func (h *JobHandler) CreateJob(c *gin.Context) {
	userID, _ := c.Get("user_id")

	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	if !checkConnections(c, req.SourceDBID, req.TargetDBID) {
		return
	}

	uid, _ := userID.(uint)
	job := models.MigrationJob{
		Name:         req.Name,
		SourceDBID:   req.SourceDBID,
		TargetDBID:   req.TargetDBID,
		Owner:        strings.ToUpper(req.Owner),
		TargetSchema: strings.ToLower(req.TargetSchema),
		Tables:       req.Tables,
		Objects:      req.Objects,
		RunType:      req.RunType,
		CronExpr:     req.CronExpr,
		Backup:       req.Backup == nil || *req.Backup,
		Status:       "idle",
		CreatedBy:    uid,
	}

	if err := database.DB.Create(&job).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建迁移任务失败"})
		return
	}
	if err := schedule(&job); err != nil {
		c.JSON(http.StatusOK, gin.H{"message": "迁移任务已创建，但定时注册失败: " + err.Error(), "data": job})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "迁移任务创建成功",
		"data":    job,
	})
}

// ListJobs 列出所有迁移任务
func (h *JobHandler) ListJobs(c *gin.Context) {
	var jobs []models.MigrationJob
	if err := database.DB.Preload("SourceDB").Preload("TargetDB").Preload("Creator").Order("id DESC").Find(&jobs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

func loadJob(c *gin.Context) (*models.MigrationJob, bool) {
	var job models.MigrationJob
	if err := database.DB.Preload("SourceDB").Preload("TargetDB").Preload("Creator").First(&job, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "迁移任务不存在"})
		return nil, false
	}
	return &job, true
}

// GetJob 获取迁移任务，附带定时状态与正在执行的会话
func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := loadJob(c)
	if !ok {
		return
	}

	resp := gin.H{"data": job, "scheduled": service.Scheduled(job.ID)}
	if service.Sessions != nil {
		if s, running := service.Sessions.Running(job.ID); running {
			resp["session_id"] = s.ID
		}
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateJob 更新迁移任务；执行中的任务不能修改
func (h *JobHandler) UpdateJob(c *gin.Context) {
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	job, ok := loadJob(c)
	if !ok {
		return
	}
	if service.Sessions != nil {
		if _, running := service.Sessions.Running(job.ID); running {
			c.JSON(http.StatusConflict, gin.H{"error": service.ErrSessionRunning.Error()})
			return
		}
	}
	if !checkConnections(c, req.SourceDBID, req.TargetDBID) {
		return
	}

	job.Name = req.Name
	job.SourceDBID = req.SourceDBID
	job.TargetDBID = req.TargetDBID
	job.Owner = strings.ToUpper(req.Owner)
	job.TargetSchema = strings.ToLower(req.TargetSchema)
	job.Tables = req.Tables
	job.Objects = req.Objects
	job.RunType = req.RunType
	job.CronExpr = req.CronExpr
	if req.Backup != nil {
		job.Backup = *req.Backup
	}

	if err := database.DB.Omit("SourceDB", "TargetDB", "Creator").Save(job).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新失败"})
		return
	}
	if err := schedule(job); err != nil {
		c.JSON(http.StatusOK, gin.H{"message": "已更新，但定时注册失败: " + err.Error(), "data": job})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "更新成功",
		"data":    job,
	})
}

// DeleteJob 删除迁移任务
func (h *JobHandler) DeleteJob(c *gin.Context) {
	job, ok := loadJob(c)
	if !ok {
		return
	}
	if service.Sessions != nil {
		if _, running := service.Sessions.Running(job.ID); running {
			c.JSON(http.StatusConflict, gin.H{"error": service.ErrSessionRunning.Error()})
			return
		}
	}

	service.UnscheduleJob(job.ID)
	if err := database.DB.Delete(job).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}

// ScheduleJob 按任务配置注册定时执行
func (h *JobHandler) ScheduleJob(c *gin.Context) {
	job, ok := loadJob(c)
	if !ok {
		return
	}
	if err := service.ScheduleJob(job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "定时任务已注册"})
}

// UnscheduleJob 移除定时执行
func (h *JobHandler) UnscheduleJob(c *gin.Context) {
	job, ok := loadJob(c)
	if !ok {
		return
	}
	service.UnscheduleJob(job.ID)
	c.JSON(http.StatusOK, gin.H{"message": "定时任务已移除"})
}

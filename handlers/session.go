package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"zh.xyz/dv/ora2pg/database"
	"zh.xyz/dv/ora2pg/models"
	"zh.xyz/dv/ora2pg/service"
)

// SessionHandler 迁移会话的执行与查询
type SessionHandler struct{}

// RunJob 启动一次迁移会话，立即返回会话ID
func (h *SessionHandler) RunJob(c *gin.Context) {
	jobID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "任务ID无效"})
		return
	}
	if service.Sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "会话管理器未初始化"})
		return
	}

	s, err := service.Sessions.Start(uint(jobID))
	if errors.Is(err, service.ErrSessionRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "启动迁移失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "迁移会话已启动",
		"session_id": s.ID,
	})
}

func liveSession(c *gin.Context) (*service.Session, bool) {
	if service.Sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "会话管理器未初始化"})
		return nil, false
	}
	s, err := service.Sessions.Get(c.Param("sid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return s, true
}

// StopSession 停止会话；正在导入的表会先完成
func (h *SessionHandler) StopSession(c *gin.Context) {
	s, ok := liveSession(c)
	if !ok {
		return
	}
	if s.State().Terminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "会话已结束"})
		return
	}
	s.Stop()
	c.JSON(http.StatusOK, gin.H{"message": "已发送停止请求"})
}

// GetSession 会话状态与进度行，from指定从第几行开始返回；
// 已移出内存的会话返回运行记录
func (h *SessionHandler) GetSession(c *gin.Context) {
	id := c.Param("sid")
	if service.Sessions != nil {
		if s, err := service.Sessions.Get(id); err == nil {
			from, _ := strconv.Atoi(c.Query("from"))
			resp := gin.H{
				"session_id": s.ID,
				"job_id":     s.JobID(),
				"state":      s.State(),
				"progress":   s.Progress().Tail(from),
			}
			if err := s.Err(); err != nil {
				resp["error"] = err.Error()
			}
			if r := s.Report(); r != nil {
				resp["report"] = r
			}
			c.JSON(http.StatusOK, resp)
			return
		}
	}

	var rec models.MigrationSession
	if database.DB == nil || database.DB.First(&rec, "id = ?", id).Error != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": service.ErrSessionNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": rec.ID, "job_id": rec.JobID, "state": rec.State, "data": rec})
}

// ListJobSessions 任务的历史会话
func (h *SessionHandler) ListJobSessions(c *gin.Context) {
	var sessions []models.MigrationSession
	if err := database.DB.Where("job_id = ?", c.Param("id")).Order("created_at DESC").Limit(50).Find(&sessions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sessions})
}

// GetSessionLogs 会话进度日志，可按log_type过滤
func (h *SessionHandler) GetSessionLogs(c *gin.Context) {
	query := database.DB.Where("session_id = ?", c.Param("sid")).Order("id ASC")
	if t := c.Query("log_type"); t != "" {
		query = query.Where("log_type = ?", t)
	}

	var logs []models.MigrationLog
	if err := query.Limit(1000).Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}

// GetObjectLogs 会话中每个对象的迁移结果
func (h *SessionHandler) GetObjectLogs(c *gin.Context) {
	query := database.DB.Where("session_id = ?", c.Param("sid")).Order("id ASC")
	if t := c.Query("object_type"); t != "" {
		query = query.Where("object_type = ?", t)
	}
	if s := c.Query("status"); s != "" {
		query = query.Where("status = ?", s)
	}

	var logs []models.ObjectMigrationLog
	if err := query.Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}

// GetOuterReferences 会话排除的跨schema引用
func (h *SessionHandler) GetOuterReferences(c *gin.Context) {
	var refs []models.OuterReferenceRecord
	if err := database.DB.Where("session_id = ?", c.Param("sid")).Order("id ASC").Find(&refs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": refs})
}

// GetManualArtifacts 会话中需要人工迁移的对象
func (h *SessionHandler) GetManualArtifacts(c *gin.Context) {
	var artifacts []models.ManualArtifactRecord
	if err := database.DB.Where("session_id = ?", c.Param("sid")).Order("id ASC").Find(&artifacts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": artifacts})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"zh.xyz/dv/ora2pg/database"
	"zh.xyz/dv/ora2pg/dbconn"
	"zh.xyz/dv/ora2pg/models"
)

type DBConnectionHandler struct{}

type connectionRequest struct {
	Type     string `json:"type" binding:"required,oneof=oracle postgres"`
	Host     string `json:"host" binding:"required"`
	Port     string `json:"port" binding:"required"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Database string `json:"database" binding:"required"`
}

func (r connectionRequest) connection() *models.DatabaseConnection {
	return &models.DatabaseConnection{
		Type:     r.Type,
		Host:     r.Host,
		Port:     r.Port,
		Username: r.Username,
		Password: r.Password,
		Database: r.Database,
	}
}

// ping 打开一次独立连接验证配置，随即关闭
func ping(c *gin.Context, conn *models.DatabaseConnection) error {
	db, err := dbconn.Open(c.Request.Context(), conn, "")
	if err != nil {
		return err
	}
	return db.Close()
}

// CreateConnection 创建数据库连接
func (h *DBConnectionHandler) CreateConnection(c *gin.Context) {
	var req struct {
		connectionRequest
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := ping(c, req.connection()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "数据库连接测试失败: " + err.Error()})
		return
	}

	conn := req.connection()
	conn.Name = req.Name
	conn.Description = req.Description
	conn.Status = "active"

	if err := database.DB.Create(conn).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建数据库连接失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "数据库连接创建成功",
		"data":    conn,
	})
}

// ListConnections 列出所有数据库连接，可按type过滤
func (h *DBConnectionHandler) ListConnections(c *gin.Context) {
	query := database.DB.Model(&models.DatabaseConnection{})
	if t := c.Query("type"); t != "" {
		query = query.Where("type = ?", t)
	}

	var connections []models.DatabaseConnection
	if err := query.Find(&connections).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": connections})
}

// GetConnection 获取单个数据库连接
func (h *DBConnectionHandler) GetConnection(c *gin.Context) {
	conn, ok := loadConnection(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": conn})
}

// UpdateConnection 更新数据库连接
func (h *DBConnectionHandler) UpdateConnection(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Host        string `json:"host"`
		Port        string `json:"port"`
		Username    string `json:"username"`
		Password    string `json:"password"`
		Database    string `json:"database"`
		Description string `json:"description"`
		Status      string `json:"status" binding:"omitempty,oneof=active inactive"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, ok := loadConnection(c)
	if !ok {
		return
	}

	if req.Name != "" {
		conn.Name = req.Name
	}
	if req.Host != "" {
		conn.Host = req.Host
	}
	if req.Port != "" {
		conn.Port = req.Port
	}
	if req.Username != "" {
		conn.Username = req.Username
	}
	if req.Password != "" {
		conn.Password = req.Password
	}
	if req.Database != "" {
		conn.Database = req.Database
	}
	if req.Description != "" {
		conn.Description = req.Description
	}
	if req.Status != "" {
		conn.Status = req.Status
	}

	if err := database.DB.Save(conn).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新失败"})
		return
	}
	// 连接参数可能已变化
	dbconn.CloseConnection(conn.ID)

	c.JSON(http.StatusOK, gin.H{
		"message": "更新成功",
		"data":    conn,
	})
}

// DeleteConnection 删除数据库连接；被迁移任务引用时拒绝
func (h *DBConnectionHandler) DeleteConnection(c *gin.Context) {
	conn, ok := loadConnection(c)
	if !ok {
		return
	}

	var used int64
	database.DB.Model(&models.MigrationJob{}).
		Where("source_db_id = ? OR target_db_id = ?", conn.ID, conn.ID).Count(&used)
	if used > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "该连接仍被迁移任务使用"})
		return
	}

	dbconn.CloseConnection(conn.ID)

	if err := database.DB.Delete(conn).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}

// TestConnection 测试数据库连接
func (h *DBConnectionHandler) TestConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := ping(c, req.connection()); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "连接成功",
	})
}

func loadConnection(c *gin.Context) (*models.DatabaseConnection, bool) {
	var conn models.DatabaseConnection
	if err := database.DB.First(&conn, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "数据库连接不存在"})
		return nil, false
	}
	return &conn, true
}

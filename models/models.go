package models

import (
	"time"
)

// User 用户模型
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"type:varchar(255);not null" json:"-"` // 不返回给前端
	Email     string    `gorm:"type:varchar(255);not null" json:"email"`
	Role      string    `gorm:"type:varchar(50);default:user" json:"role"`     // admin, user
	Status    string    `gorm:"type:varchar(50);default:active" json:"status"` // active, inactive
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DatabaseConnection 数据库连接配置
type DatabaseConnection struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"` // 连接名称
	Type        string    `gorm:"not null" json:"type"` // oracle, postgres
	Host        string    `gorm:"not null" json:"host"`
	Port        string    `gorm:"not null" json:"port"`
	Username    string    `gorm:"not null" json:"username"`
	Password    string    `gorm:"not null" json:"-"`
	Database    string    `gorm:"not null" json:"database"` // Oracle为service name
	Description string    `json:"description"`
	Status      string    `gorm:"default:active" json:"status"` // active, inactive
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// 连接类型
const (
	ConnOracle   = "oracle"
	ConnPostgres = "postgres"
)

// 任务运行方式
const (
	RunManual    = "manual"
	RunScheduled = "scheduled"
)

// MigrationJob 迁移任务：一个源schema到目标schema的对象选择
type MigrationJob struct {
	ID            uint               `gorm:"primaryKey" json:"id"`
	Name          string             `gorm:"type:varchar(255);not null" json:"name"`
	SourceDBID    uint               `gorm:"not null" json:"source_db_id"`
	TargetDBID    uint               `gorm:"not null" json:"target_db_id"`
	SourceDB      DatabaseConnection `gorm:"foreignKey:SourceDBID" json:"source_db,omitempty"`
	TargetDB      DatabaseConnection `gorm:"foreignKey:TargetDBID" json:"target_db,omitempty"`
	Owner         string             `gorm:"type:varchar(128);not null" json:"owner"`         // Oracle源schema
	TargetSchema  string             `gorm:"type:varchar(128);not null" json:"target_schema"` // PostgreSQL目标schema
	Tables        []string           `gorm:"serializer:json;type:text" json:"tables"`
	Objects       []ObjectKey        `gorm:"serializer:json;type:text" json:"objects"`
	RunType       string             `gorm:"type:varchar(50);not null;default:manual" json:"run_type"` // manual, scheduled
	CronExpr      string             `gorm:"type:varchar(100)" json:"cron_expr"`
	Backup        bool               `gorm:"default:true" json:"backup"`
	Status        string             `gorm:"type:varchar(50);default:idle" json:"status"` // idle, executing, success, failed
	LastRunAt     *time.Time         `json:"last_run_at"`
	LastSessionID string             `gorm:"type:varchar(64)" json:"last_session_id"`
	CreatedBy     uint               `gorm:"not null" json:"created_by"`
	Creator       User               `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// MigrationLog 迁移会话的进度日志
type MigrationLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	JobID     uint      `gorm:"index" json:"job_id"`
	SessionID string    `gorm:"type:varchar(64);index" json:"session_id"`
	LogType   string    `gorm:"type:varchar(50);not null" json:"log_type"` // info, warning, error
	Message   string    `gorm:"type:text" json:"message"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

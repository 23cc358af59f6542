package models

import (
	"time"
)

// MigrationSession 一次迁移运行的记录
type MigrationSession struct {
	ID           string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	JobID        uint       `gorm:"index" json:"job_id"`
	Owner        string     `gorm:"type:varchar(128)" json:"owner"`
	TargetSchema string     `gorm:"type:varchar(128)" json:"target_schema"`
	State        string     `gorm:"type:varchar(50);not null" json:"state"` // idle, executing, success, failed
	Error        string     `gorm:"type:text" json:"error"`
	Tables       int        `json:"tables"`
	Objects      int        `json:"objects"`
	Failed       int        `json:"failed"`
	Manual       int        `json:"manual"`
	Deferrals    int        `json:"deferrals"`
	BackupFile   string     `gorm:"type:varchar(500)" json:"backup_file"`
	Restored     bool       `json:"restored"`
	StartedAt    *time.Time `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ObjectMigrationLog 单个表或存储对象的迁移结果
type ObjectMigrationLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"type:varchar(64);index" json:"session_id"`
	ObjectType string    `gorm:"type:varchar(50);not null" json:"object_type"`
	ObjectName string    `gorm:"type:varchar(255);not null" json:"object_name"`
	Action     string    `gorm:"type:varchar(50);not null" json:"action"` // create, replace, manual, defer, skip
	Status     string    `gorm:"type:varchar(50);not null" json:"status"` // success, failed, skipped, pending, cancelled
	Message    string    `gorm:"type:text" json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// OuterReferenceRecord 被排除的跨schema依赖
type OuterReferenceRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"type:varchar(64);index" json:"session_id"`
	ObjectType string    `gorm:"type:varchar(50)" json:"object_type"`
	ObjectName string    `gorm:"type:varchar(255)" json:"object_name"`
	RefSchema  string    `gorm:"type:varchar(128)" json:"ref_schema"`
	RefType    string    `gorm:"type:varchar(50)" json:"ref_type"`
	RefName    string    `gorm:"type:varchar(255)" json:"ref_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// ManualArtifactRecord 需要人工迁移的对象
type ManualArtifactRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"type:varchar(64);index" json:"session_id"`
	ObjectType string    `gorm:"type:varchar(50)" json:"object_type"`
	ObjectName string    `gorm:"type:varchar(255)" json:"object_name"`
	Reason     string    `gorm:"type:text" json:"reason"`
	FilePath   string    `gorm:"type:varchar(500)" json:"file_path"`
	Content    string    `gorm:"type:text" json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

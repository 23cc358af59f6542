package service

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"zh.xyz/dv/ora2pg/models"
)

// Recorder 持久化会话的运行记录
type Recorder interface {
	Log(entry *models.MigrationLog)
	ObjectLog(entry *models.ObjectMigrationLog)
	OuterReferences(sessionID string, refs []models.OuterReference)
	ManualArtifact(record *models.ManualArtifactRecord)
	SaveSession(record *models.MigrationSession)
}

type gormRecorder struct {
	db *gorm.DB
}

// NewGormRecorder 基于gorm元数据库的记录器
func NewGormRecorder(db *gorm.DB) Recorder {
	if db == nil {
		return nopRecorder{}
	}
	return &gormRecorder{db: db}
}

func (r *gormRecorder) create(value any) {
	if err := r.db.Create(value).Error; err != nil {
		logrus.WithError(err).Warn("写入迁移记录失败")
	}
}

func (r *gormRecorder) Log(entry *models.MigrationLog) {
	r.create(entry)
}

func (r *gormRecorder) ObjectLog(entry *models.ObjectMigrationLog) {
	r.create(entry)
}

func (r *gormRecorder) OuterReferences(sessionID string, refs []models.OuterReference) {
	if len(refs) == 0 {
		return
	}
	records := make([]models.OuterReferenceRecord, 0, len(refs))
	for _, ref := range refs {
		records = append(records, models.OuterReferenceRecord{
			SessionID:  sessionID,
			ObjectType: string(ref.Object.Kind),
			ObjectName: ref.Object.Name,
			RefSchema:  ref.RefSchema,
			RefType:    string(ref.RefObject.Kind),
			RefName:    ref.RefObject.Name,
		})
	}
	r.create(&records)
}

func (r *gormRecorder) ManualArtifact(record *models.ManualArtifactRecord) {
	r.create(record)
}

func (r *gormRecorder) SaveSession(record *models.MigrationSession) {
	if err := r.db.Save(record).Error; err != nil {
		logrus.WithError(err).WithField("session", record.ID).Warn("保存会话记录失败")
	}
}

type nopRecorder struct{}

func (nopRecorder) Log(*models.MigrationLog) {}
func (nopRecorder) ObjectLog(*models.ObjectMigrationLog) {}
func (nopRecorder) OuterReferences(string, []models.OuterReference) {}
func (nopRecorder) ManualArtifact(*models.ManualArtifactRecord) {}
func (nopRecorder) SaveSession(*models.MigrationSession) {}

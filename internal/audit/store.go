package audit

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("audit: database handle is required")

// AuditRecord is the append-only persisted form of an Entry.
type AuditRecord struct {
	EntryID           string                      `gorm:"column:entry_id;primaryKey;size:64;not null"`
	OccurredAtSeconds int64                       `gorm:"column:occurred_at_s;not null;index:idx_audit_post_time,priority:2"`
	Operation         string                      `gorm:"column:operation;size:64;not null"`
	PostID            string                      `gorm:"column:post_id;size:190;not null;default:'';index:idx_audit_post_time,priority:1"`
	ActorID           string                      `gorm:"column:actor_id;size:190;not null;default:''"`
	GroupIDs          datatypes.JSONSlice[string] `gorm:"column:group_ids"`
	Success           bool                        `gorm:"column:success;not null"`
	ErrorKind         string                      `gorm:"column:error_kind;size:32;not null;default:''"`
	ErrorMessage      string                      `gorm:"column:error_message;type:text;not null;default:''"`
	Metadata          datatypes.JSON              `gorm:"column:metadata"`
}

// TableName provides the explicit table binding for GORM.
func (AuditRecord) TableName() string {
	return "association_audit_log"
}

// GormSink persists entries into the association_audit_log table.
type GormSink struct {
	db *gorm.DB
}

// NewGormSink constructs a sink over db.
func NewGormSink(db *gorm.DB) (*GormSink, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormSink{db: db}, nil
}

// Append inserts entry.
func (s *GormSink) Append(ctx context.Context, entry Entry) error {
	record := AuditRecord{
		EntryID:           entry.ID,
		OccurredAtSeconds: entry.Timestamp.Unix(),
		Operation:         entry.Operation,
		PostID:            entry.PostID,
		ActorID:           entry.ActorID,
		GroupIDs:          datatypes.JSONSlice[string](entry.GroupIDs),
		Success:           entry.Success,
		ErrorKind:         string(entry.ErrorKind),
		ErrorMessage:      entry.Error,
	}
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		record.Metadata = datatypes.JSON(encoded)
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

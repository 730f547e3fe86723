package models

import (
	"time"
)

type AccessLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`
	Method    string    `gorm:"type:varchar(10);not null"`
	Path      string    `gorm:"type:text;not null"`
	Status    int       `gorm:"not null;index"`
	Duration  time.Duration
	ClientIP  string `gorm:"type:varchar(45);not null;index"`
	UserAgent string `gorm:"type:text"`
	BytesSent int    `gorm:"not null;default:0"`
	Reason    string `gorm:"type:varchar(32);index"`
}

// SnapshotRecord describes one admitted outfit snapshot and where it was archived.
type SnapshotRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Key       string    `gorm:"type:varchar(512);not null;uniqueIndex"`
	ClientIP  string    `gorm:"type:varchar(45);not null;index"`
	SizeBytes int64     `gorm:"not null;default:0"`
	Digest    string    `gorm:"type:varchar(128);not null"`
	Emailed   bool      `gorm:"not null;default:false"`
	Archived  bool      `gorm:"not null;default:false"`
	StoredAt  time.Time `gorm:"index;not null"`
}

// OverlaySlot is the single row holding the current overlay payload.
type OverlaySlot struct {
	ID        uint      `gorm:"primaryKey"`
	Payload   []byte    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (AccessLog) TableName() string {
	return "access_logs"
}

func (SnapshotRecord) TableName() string {
	return "snapshot_records"
}

func (OverlaySlot) TableName() string {
	return "overlay_slot"
}

// All lists every model for migrations.
func All() []interface{} {
	return []interface{}{&AccessLog{}, &SnapshotRecord{}, &OverlaySlot{}}
}

package sandbox

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Ledger records issued sessions for audit; the registry stays the source of
// truth for liveness.
type Ledger interface {
	Record(s Session) error
	Deactivate(token string) error
}

// SessionRecord is the persisted row per issued session.
type SessionRecord struct {
	SessionID string    `gorm:"primaryKey;column:session_id"`
	Token     string    `gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	IsActive  bool      `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SessionRecord) TableName() string {
	return "terminal_sessions"
}

type GormLedger struct {
	db *gorm.DB
}

func OpenLedger(path string) (*GormLedger, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: open ledger: %w", err)
	}
	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("sandbox: migrate ledger: %w", err)
	}
	return &GormLedger{db: db}, nil
}

func (l *GormLedger) Record(s Session) error {
	return l.db.Create(&SessionRecord{
		SessionID: s.ID,
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		IsActive:  true,
	}).Error
}

func (l *GormLedger) Deactivate(token string) error {
	return l.db.Model(&SessionRecord{}).
		Where("token = ?", token).
		Update("is_active", false).Error
}

// Active counts rows still marked active.
func (l *GormLedger) Active() (int64, error) {
	var n int64
	err := l.db.Model(&SessionRecord{}).Where("is_active = ?", true).Count(&n).Error
	return n, err
}

func (l *GormLedger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

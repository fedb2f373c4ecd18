package models

import (
	"time"

	"gestionale/internal/shared/constants"
)

type BufferedNotificationModel struct {
	ID           uint   `gorm:"primaryKey"`
	BufferID     string `gorm:"size:32;uniqueIndex;not null"`
	TargetUserID string `gorm:"size:64;not null;index:idx_target_buffered,priority:1"`
	EventID      string `gorm:"size:32;not null;index"`
	EventType    string `gorm:"size:50;not null"`
	Audience     string `gorm:"size:255;not null"`
	Payload      string `gorm:"type:text"`
	EventAt      time.Time
	BufferedAt   time.Time `gorm:"not null;index:idx_target_buffered,priority:2"`
	Attempts     int       `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (BufferedNotificationModel) TableName() string {
	return constants.TableBufferedNotifications
}

package models

import (
	"time"

	"gestionale/internal/shared/constants"
)

type PresenceRecordModel struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:64;uniqueIndex;not null"`
	Role      string `gorm:"size:20;not null"`
	Online    bool   `gorm:"not null;default:false"`
	LastSeen  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PresenceRecordModel) TableName() string {
	return constants.TablePresenceRecords
}

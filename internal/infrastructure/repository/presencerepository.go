package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gestionale/internal/domain/realtime"
	"gestionale/internal/infrastructure/persistence/mappers"
	"gestionale/internal/infrastructure/persistence/models"
)

type PresenceRepositoryImpl struct {
	db     *gorm.DB
	mapper mappers.PresenceMapper
}

func NewPresenceRepository(db *gorm.DB) realtime.PresenceRepository {
	return &PresenceRepositoryImpl{
		db:     db,
		mapper: mappers.NewPresenceMapper(),
	}
}

func (r *PresenceRepositoryImpl) Upsert(ctx context.Context, record realtime.PresenceRecord) error {
	model := r.mapper.ToModel(record)

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "online", "last_seen", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to upsert presence record: %w", err)
	}
	return nil
}

func (r *PresenceRepositoryImpl) Get(ctx context.Context, userID string) (*realtime.PresenceRecord, error) {
	var model models.PresenceRecordModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get presence record: %w", err)
	}
	return r.mapper.ToEntity(&model), nil
}

func (r *PresenceRepositoryImpl) ListAll(ctx context.Context) ([]realtime.PresenceRecord, error) {
	var ms []*models.PresenceRecordModel
	if err := r.db.WithContext(ctx).Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list presence records: %w", err)
	}

	records := make([]realtime.PresenceRecord, 0, len(ms))
	for _, model := range ms {
		records = append(records, *r.mapper.ToEntity(model))
	}
	return records, nil
}

func (r *PresenceRepositoryImpl) ListOnline(ctx context.Context) ([]realtime.PresenceRecord, error) {
	var ms []*models.PresenceRecordModel
	if err := r.db.WithContext(ctx).Where("online = ?", true).Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list online presence records: %w", err)
	}

	records := make([]realtime.PresenceRecord, 0, len(ms))
	for _, model := range ms {
		records = append(records, *r.mapper.ToEntity(model))
	}
	return records, nil
}

func (r *PresenceRepositoryImpl) MarkAllOffline(ctx context.Context) error {
	err := r.db.WithContext(ctx).
		Model(&models.PresenceRecordModel{}).
		Where("online = ?", true).
		Update("online", false).Error
	if err != nil {
		return fmt.Errorf("failed to mark all presence records offline: %w", err)
	}
	return nil
}

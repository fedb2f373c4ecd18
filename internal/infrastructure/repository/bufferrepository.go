package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"gestionale/internal/domain/realtime"
	"gestionale/internal/infrastructure/persistence/mappers"
	"gestionale/internal/infrastructure/persistence/models"
)

type BufferRepositoryImpl struct {
	db     *gorm.DB
	mapper mappers.BufferMapper
}

func NewBufferRepository(db *gorm.DB) realtime.BufferRepository {
	return &BufferRepositoryImpl{
		db:     db,
		mapper: mappers.NewBufferMapper(),
	}
}

func (r *BufferRepositoryImpl) Append(ctx context.Context, item *realtime.BufferedNotification) error {
	model, err := r.mapper.ToModel(item)
	if err != nil {
		return fmt.Errorf("failed to map buffered notification to model: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to append buffered notification: %w", err)
	}
	return nil
}

func (r *BufferRepositoryImpl) ListPending(ctx context.Context, userID string, afterEventID string) ([]*realtime.BufferedNotification, error) {
	query := r.db.WithContext(ctx).
		Where("target_user_id = ?", userID).
		Order("buffered_at ASC, id ASC")

	if afterEventID != "" {
		var watermark models.BufferedNotificationModel
		err := r.db.WithContext(ctx).
			Where("target_user_id = ? AND event_id = ?", userID, afterEventID).
			First(&watermark).Error
		switch err {
		case nil:
			query = query.Where("buffered_at > ? OR (buffered_at = ? AND id > ?)",
				watermark.BufferedAt, watermark.BufferedAt, watermark.ID)
		case gorm.ErrRecordNotFound:
			// Unknown watermark: the acknowledged event already left the
			// buffer, so everything pending is newer than it.
		default:
			return nil, fmt.Errorf("failed to resolve watermark: %w", err)
		}
	}

	var ms []*models.BufferedNotificationModel
	if err := query.Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}

	entities, err := r.mapper.ToEntities(ms)
	if err != nil {
		return nil, fmt.Errorf("failed to map pending notifications: %w", err)
	}
	return entities, nil
}

func (r *BufferRepositoryImpl) DeleteByIDs(ctx context.Context, bufferIDs []string) error {
	if len(bufferIDs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).
		Where("buffer_id IN ?", bufferIDs).
		Delete(&models.BufferedNotificationModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete buffered notifications: %w", err)
	}
	return nil
}

func (r *BufferRepositoryImpl) DeleteOldest(ctx context.Context, userID string, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&models.BufferedNotificationModel{}).
		Where("target_user_id = ?", userID).
		Order("buffered_at ASC, id ASC").
		Limit(n).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("failed to find oldest notifications: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&models.BufferedNotificationModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete oldest notifications: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

func (r *BufferRepositoryImpl) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	result := r.db.WithContext(ctx).
		Where("buffered_at < ?", cutoff).
		Delete(&models.BufferedNotificationModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired notifications: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

func (r *BufferRepositoryImpl) CountForUser(ctx context.Context, userID string) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.BufferedNotificationModel{}).
		Where("target_user_id = ?", userID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count notifications for user: %w", err)
	}
	return int(count), nil
}

func (r *BufferRepositoryImpl) CountPending(ctx context.Context) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.BufferedNotificationModel{}).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count pending notifications: %w", err)
	}
	return int(count), nil
}

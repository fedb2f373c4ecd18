package mappers

import (
	"encoding/json"
	"fmt"

	"gestionale/internal/domain/realtime"
	"gestionale/internal/infrastructure/persistence/models"
)

type BufferMapper interface {
	ToEntity(model *models.BufferedNotificationModel) (*realtime.BufferedNotification, error)
	ToModel(entity *realtime.BufferedNotification) (*models.BufferedNotificationModel, error)
	ToEntities(ms []*models.BufferedNotificationModel) ([]*realtime.BufferedNotification, error)
}

type BufferMapperImpl struct{}

func NewBufferMapper() BufferMapper {
	return &BufferMapperImpl{}
}

func (m *BufferMapperImpl) ToEntity(model *models.BufferedNotificationModel) (*realtime.BufferedNotification, error) {
	if model == nil {
		return nil, nil
	}

	var audience realtime.Audience
	if err := json.Unmarshal([]byte(model.Audience), &audience); err != nil {
		return nil, fmt.Errorf("failed to decode audience: %w", err)
	}

	return &realtime.BufferedNotification{
		BufferID:     model.BufferID,
		TargetUserID: model.TargetUserID,
		Envelope: &realtime.EventEnvelope{
			EventID:   model.EventID,
			Type:      model.EventType,
			Audience:  audience,
			Payload:   json.RawMessage(model.Payload),
			CreatedAt: model.EventAt,
		},
		BufferedAt: model.BufferedAt,
		Attempts:   model.Attempts,
	}, nil
}

func (m *BufferMapperImpl) ToModel(entity *realtime.BufferedNotification) (*models.BufferedNotificationModel, error) {
	if entity == nil {
		return nil, nil
	}
	if entity.Envelope == nil {
		return nil, fmt.Errorf("buffered notification has no envelope")
	}

	audience, err := json.Marshal(entity.Envelope.Audience)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audience: %w", err)
	}

	return &models.BufferedNotificationModel{
		BufferID:     entity.BufferID,
		TargetUserID: entity.TargetUserID,
		EventID:      entity.Envelope.EventID,
		EventType:    entity.Envelope.Type,
		Audience:     string(audience),
		Payload:      string(entity.Envelope.Payload),
		EventAt:      entity.Envelope.CreatedAt,
		BufferedAt:   entity.BufferedAt,
		Attempts:     entity.Attempts,
	}, nil
}

func (m *BufferMapperImpl) ToEntities(ms []*models.BufferedNotificationModel) ([]*realtime.BufferedNotification, error) {
	entities := make([]*realtime.BufferedNotification, 0, len(ms))
	for _, model := range ms {
		entity, err := m.ToEntity(model)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

package mappers

import (
	"gestionale/internal/domain/realtime"
	"gestionale/internal/infrastructure/persistence/models"
	"gestionale/internal/shared/authorization"
)

type PresenceMapper interface {
	ToEntity(model *models.PresenceRecordModel) *realtime.PresenceRecord
	ToModel(entity realtime.PresenceRecord) *models.PresenceRecordModel
}

type PresenceMapperImpl struct{}

func NewPresenceMapper() PresenceMapper {
	return &PresenceMapperImpl{}
}

func (m *PresenceMapperImpl) ToEntity(model *models.PresenceRecordModel) *realtime.PresenceRecord {
	if model == nil {
		return nil
	}
	return &realtime.PresenceRecord{
		UserID:   model.UserID,
		Role:     authorization.ParseUserRole(model.Role),
		Online:   model.Online,
		LastSeen: model.LastSeen,
	}
}

func (m *PresenceMapperImpl) ToModel(entity realtime.PresenceRecord) *models.PresenceRecordModel {
	return &models.PresenceRecordModel{
		UserID:   entity.UserID,
		Role:     entity.Role.String(),
		Online:   entity.Online,
		LastSeen: entity.LastSeen,
	}
}

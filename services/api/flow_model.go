package api

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type flowModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	CollectionID uuid.UUID `gorm:"type:uuid"`
	DisplayName  string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (flowModel) TableName() string { return "flows" }

func (f flowModel) toAPI() Flow {
	return Flow{
		ID:           f.ID,
		CollectionID: f.CollectionID,
		DisplayName:  f.DisplayName,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

type flowVersionModel struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	FlowID      uuid.UUID         `gorm:"type:uuid"`
	DisplayName string            `gorm:"type:text"`
	Data        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"type:timestamptz;autoCreateTime"`
}

func (flowVersionModel) TableName() string { return "flow_versions" }

func (f flowVersionModel) toAPI() FlowVersion {
	return FlowVersion{
		ID:          f.ID,
		FlowID:      f.FlowID,
		DisplayName: f.DisplayName,
		Data:        f.Data,
		CreatedAt:   f.CreatedAt,
	}
}

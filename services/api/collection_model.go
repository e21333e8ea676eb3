package api

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type collectionModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProjectID   uuid.UUID `gorm:"type:uuid"`
	DisplayName string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (collectionModel) TableName() string { return "collections" }

func (c collectionModel) toAPI() Collection {
	return Collection{
		ID:          c.ID,
		ProjectID:   c.ProjectID,
		DisplayName: c.DisplayName,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

type collectionVersionModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	CollectionID uuid.UUID         `gorm:"type:uuid"`
	DisplayName  string            `gorm:"type:text"`
	Data         datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"type:timestamptz;autoCreateTime"`
}

func (collectionVersionModel) TableName() string { return "collection_versions" }

func (c collectionVersionModel) toAPI() CollectionVersion {
	return CollectionVersion{
		ID:           c.ID,
		CollectionID: c.CollectionID,
		DisplayName:  c.DisplayName,
		Data:         c.Data,
		CreatedAt:    c.CreatedAt,
	}
}

type instanceModel struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProjectID           uuid.UUID `gorm:"type:uuid"`
	CollectionID        uuid.UUID `gorm:"type:uuid"`
	CollectionVersionID uuid.UUID `gorm:"type:uuid"`
	CreatedAt           time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (instanceModel) TableName() string { return "instances" }

func (i instanceModel) toAPI() Instance {
	return Instance{
		ID:                  i.ID,
		ProjectID:           i.ProjectID,
		CollectionID:        i.CollectionID,
		CollectionVersionID: i.CollectionVersionID,
		CreatedAt:           i.CreatedAt,
	}
}

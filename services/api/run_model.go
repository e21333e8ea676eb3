package api

import (
	"time"

	"github.com/google/uuid"
)

type runModel struct {
	ID                    uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ProjectID             uuid.UUID  `gorm:"type:uuid"`
	CollectionID          uuid.UUID  `gorm:"type:uuid"`
	CollectionVersionID   uuid.UUID  `gorm:"type:uuid"`
	FlowID                uuid.UUID  `gorm:"type:uuid"`
	FlowVersionID         uuid.UUID  `gorm:"type:uuid"`
	InstanceID            *uuid.UUID `gorm:"type:uuid"`
	FlowDisplayName       string     `gorm:"type:text"`
	CollectionDisplayName string     `gorm:"type:text"`
	Status                string     `gorm:"type:text"`
	StartedAt             time.Time  `gorm:"type:timestamptz"`
	FinishedAt            *time.Time `gorm:"type:timestamptz"`
	LogsFileID            *uuid.UUID `gorm:"type:uuid"`
}

func (runModel) TableName() string { return "runs" }

func (r runModel) toAPI() Run {
	return Run{
		ID:                    r.ID,
		ProjectID:             r.ProjectID,
		CollectionID:          r.CollectionID,
		CollectionVersionID:   r.CollectionVersionID,
		FlowID:                r.FlowID,
		FlowVersionID:         r.FlowVersionID,
		InstanceID:            r.InstanceID,
		FlowDisplayName:       r.FlowDisplayName,
		CollectionDisplayName: r.CollectionDisplayName,
		Status:                r.Status,
		StartedAt:             r.StartedAt,
		FinishedAt:            r.FinishedAt,
		LogsFileID:            r.LogsFileID,
	}
}

func fromAPI(run Run) runModel {
	return runModel{
		ID:                    run.ID,
		ProjectID:             run.ProjectID,
		CollectionID:          run.CollectionID,
		CollectionVersionID:   run.CollectionVersionID,
		FlowID:                run.FlowID,
		FlowVersionID:         run.FlowVersionID,
		InstanceID:            run.InstanceID,
		FlowDisplayName:       run.FlowDisplayName,
		CollectionDisplayName: run.CollectionDisplayName,
		Status:                run.Status,
		StartedAt:             run.StartedAt,
		FinishedAt:            run.FinishedAt,
		LogsFileID:            run.LogsFileID,
	}
}

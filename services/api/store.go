package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"flowrund/pkg/bus"
	"flowrund/pkg/cursor"
	gos3 "flowrund/pkg/s3"
)

// Store holds external dependencies required by the API layer.
type Store struct {
	DB  *pgxpool.Pool
	ORM *gorm.DB
	S3  *gos3.Client
	Bus *bus.Bus
}

// Datastore is the persistence contract the handlers depend on. Lookups
// return a false bool, never an error, when the id is unknown.
type Datastore interface {
	CreateRun(ctx context.Context, run Run) (Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (Run, bool, error)
	ListRuns(ctx context.Context, projectID uuid.UUID, req cursor.Request, limit int) ([]Run, cursor.Page, error)
	FinishRun(ctx context.Context, id uuid.UUID, status string, logsFileID *uuid.UUID, finishedAt time.Time) (Run, bool, error)
	CountRunsStartedSince(ctx context.Context, projectID uuid.UUID, since time.Time) (int64, error)

	GetFlow(ctx context.Context, id uuid.UUID) (Flow, bool, error)
	GetFlowVersion(ctx context.Context, id uuid.UUID) (FlowVersion, bool, error)
	GetCollectionVersion(ctx context.Context, id uuid.UUID) (CollectionVersion, bool, error)
	GetCollection(ctx context.Context, id uuid.UUID) (Collection, bool, error)
	GetInstance(ctx context.Context, id uuid.UUID) (Instance, bool, error)

	CreateCollection(ctx context.Context, c Collection) (Collection, error)
	CreateCollectionVersion(ctx context.Context, v CollectionVersion) (CollectionVersion, error)
	CreateFlow(ctx context.Context, f Flow) (Flow, error)
	CreateFlowVersion(ctx context.Context, v FlowVersion) (FlowVersion, error)
	CreateInstance(ctx context.Context, inst Instance) (Instance, error)
}

type gormStore struct {
	orm *gorm.DB
}

// NewDatastore wraps a gorm handle in the Datastore contract.
func NewDatastore(orm *gorm.DB) Datastore {
	return &gormStore{orm: orm}
}

func (s *gormStore) CreateRun(ctx context.Context, run Run) (Run, error) {
	model := fromAPI(run)
	if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
		return Run{}, err
	}
	return model.toAPI(), nil
}

func (s *gormStore) GetRun(ctx context.Context, id uuid.UUID) (Run, bool, error) {
	var model runModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return model.toAPI(), true, nil
}

// ListRuns pages through a project's runs in (started_at, id) descending
// order. Runs without an instance id are test runs and stay out of listings.
func (s *gormStore) ListRuns(ctx context.Context, projectID uuid.UUID, req cursor.Request, limit int) ([]Run, cursor.Page, error) {
	base := s.orm.WithContext(ctx).
		Model(&runModel{}).
		Where("project_id = ?", projectID).
		Where("instance_id IS NOT NULL")

	var (
		models   []runModel
		backward = req.Before != nil
	)

	query := base
	switch {
	case backward:
		query = query.
			Where("(started_at, id) > (?, ?)", req.Before.StartedAt, req.Before.ID).
			Order("started_at ASC").Order("id ASC")
	case req.After != nil:
		query = query.
			Where("(started_at, id) < (?, ?)", req.After.StartedAt, req.After.ID).
			Order("started_at DESC").Order("id DESC")
	default:
		query = query.Order("started_at DESC").Order("id DESC")
	}

	// Fetch one extra row to learn whether another page exists.
	if err := query.Limit(limit + 1).Find(&models).Error; err != nil {
		return nil, cursor.Page{}, err
	}

	hasExtra := len(models) > limit
	if hasExtra {
		models = models[:limit]
	}
	if backward {
		for i, j := 0, len(models)-1; i < j; i, j = i+1, j-1 {
			models[i], models[j] = models[j], models[i]
		}
	}

	runs := make([]Run, 0, len(models))
	for _, m := range models {
		runs = append(runs, m.toAPI())
	}

	var page cursor.Page
	if len(runs) > 0 {
		first := cursor.Position{StartedAt: runs[0].StartedAt, ID: runs[0].ID}
		last := cursor.Position{StartedAt: runs[len(runs)-1].StartedAt, ID: runs[len(runs)-1].ID}

		if backward {
			page.Next = cursor.EncodeNext(last)
			if hasExtra {
				page.Previous = cursor.EncodePrevious(first)
			}
		} else {
			if hasExtra {
				page.Next = cursor.EncodeNext(last)
			}
			if req.After != nil {
				page.Previous = cursor.EncodePrevious(first)
			}
		}
	}

	return runs, page, nil
}

func (s *gormStore) FinishRun(ctx context.Context, id uuid.UUID, status string, logsFileID *uuid.UUID, finishedAt time.Time) (Run, bool, error) {
	orm := s.orm.WithContext(ctx)

	var model runModel
	err := orm.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}

	updates := map[string]any{
		"status":       status,
		"logs_file_id": logsFileID,
		"finished_at":  finishedAt,
	}
	if err := orm.Model(&model).Updates(updates).Error; err != nil {
		return Run{}, false, err
	}

	if err := orm.First(&model, "id = ?", id).Error; err != nil {
		return Run{}, false, err
	}
	return model.toAPI(), true, nil
}

func (s *gormStore) CountRunsStartedSince(ctx context.Context, projectID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := s.orm.WithContext(ctx).
		Model(&runModel{}).
		Where("project_id = ? AND started_at >= ?", projectID, since).
		Count(&count).Error
	return count, err
}

func (s *gormStore) GetFlow(ctx context.Context, id uuid.UUID) (Flow, bool, error) {
	var model flowModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Flow{}, false, nil
	}
	if err != nil {
		return Flow{}, false, err
	}
	return model.toAPI(), true, nil
}

func (s *gormStore) GetFlowVersion(ctx context.Context, id uuid.UUID) (FlowVersion, bool, error) {
	var model flowVersionModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return FlowVersion{}, false, nil
	}
	if err != nil {
		return FlowVersion{}, false, err
	}
	return model.toAPI(), true, nil
}

func (s *gormStore) GetCollectionVersion(ctx context.Context, id uuid.UUID) (CollectionVersion, bool, error) {
	var model collectionVersionModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CollectionVersion{}, false, nil
	}
	if err != nil {
		return CollectionVersion{}, false, err
	}
	return model.toAPI(), true, nil
}

func (s *gormStore) GetCollection(ctx context.Context, id uuid.UUID) (Collection, bool, error) {
	var model collectionModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Collection{}, false, nil
	}
	if err != nil {
		return Collection{}, false, err
	}
	return model.toAPI(), true, nil
}

func (s *gormStore) GetInstance(ctx context.Context, id uuid.UUID) (Instance, bool, error) {
	var model instanceModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Instance{}, false, nil
	}
	if err != nil {
		return Instance{}, false, err
	}
	return model.toAPI(), true, nil
}

func (s *gormStore) CreateCollection(ctx context.Context, c Collection) (Collection, error) {
	model := collectionModel{
		ID:          c.ID,
		ProjectID:   c.ProjectID,
		DisplayName: c.DisplayName,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
		return Collection{}, err
	}
	return model.toAPI(), nil
}

func (s *gormStore) CreateCollectionVersion(ctx context.Context, v CollectionVersion) (CollectionVersion, error) {
	model := collectionVersionModel{
		ID:           v.ID,
		CollectionID: v.CollectionID,
		DisplayName:  v.DisplayName,
		Data:         v.Data,
		CreatedAt:    v.CreatedAt,
	}
	if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
		return CollectionVersion{}, err
	}
	return model.toAPI(), nil
}

func (s *gormStore) CreateFlow(ctx context.Context, f Flow) (Flow, error) {
	model := flowModel{
		ID:           f.ID,
		CollectionID: f.CollectionID,
		DisplayName:  f.DisplayName,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
	if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
		return Flow{}, err
	}
	return model.toAPI(), nil
}

func (s *gormStore) CreateFlowVersion(ctx context.Context, v FlowVersion) (FlowVersion, error) {
	model := flowVersionModel{
		ID:          v.ID,
		FlowID:      v.FlowID,
		DisplayName: v.DisplayName,
		Data:        v.Data,
		CreatedAt:   v.CreatedAt,
	}
	if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
		return FlowVersion{}, err
	}
	return model.toAPI(), nil
}

func (s *gormStore) CreateInstance(ctx context.Context, inst Instance) (Instance, error) {
	model := instanceModel{
		ID:                  inst.ID,
		ProjectID:           inst.ProjectID,
		CollectionID:        inst.CollectionID,
		CollectionVersionID: inst.CollectionVersionID,
		CreatedAt:           inst.CreatedAt,
	}
	if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
		return Instance{}, err
	}
	return model.toAPI(), nil
}

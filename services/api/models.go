package api

import (
	"time"

	"github.com/google/uuid"
)

// Collection groups flows into a deployable unit owned by a project.
type Collection struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CollectionVersion is an immutable snapshot of a collection's configuration.
type CollectionVersion struct {
	ID           uuid.UUID      `json:"id"`
	CollectionID uuid.UUID      `json:"collection_id"`
	DisplayName  string         `json:"display_name"`
	Data         map[string]any `json:"data"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Flow is a user-defined automation definition.
type Flow struct {
	ID           uuid.UUID `json:"id"`
	CollectionID uuid.UUID `json:"collection_id"`
	DisplayName  string    `json:"display_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FlowVersion is an immutable snapshot of a flow's definition.
type FlowVersion struct {
	ID          uuid.UUID      `json:"id"`
	FlowID      uuid.UUID      `json:"flow_id"`
	DisplayName string         `json:"display_name"`
	Data        map[string]any `json:"data"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Instance is a deployed, addressable activation of a collection version.
type Instance struct {
	ID                  uuid.UUID `json:"id"`
	ProjectID           uuid.UUID `json:"project_id"`
	CollectionID        uuid.UUID `json:"collection_id"`
	CollectionVersionID uuid.UUID `json:"collection_version_id"`
	CreatedAt           time.Time `json:"created_at"`
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (a *API) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID   uuid.UUID `json:"project_id"`
		DisplayName string    `json:"display_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}
	if req.ProjectID == uuid.Nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("project_id is required"))
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("display_name is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	now := a.now()
	created, err := a.data.CreateCollection(ctx, Collection{
		ID:          uuid.New(),
		ProjectID:   req.ProjectID,
		DisplayName: req.DisplayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"collection": created})
}

func (a *API) handleCreateCollectionVersion(w http.ResponseWriter, r *http.Request) {
	collectionID, err := uuid.Parse(chi.URLParam(r, "collectionID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("valid collection id is required"))
		return
	}

	var req struct {
		DisplayName string         `json:"display_name"`
		Data        map[string]any `json:"data"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.Data == nil {
		req.Data = map[string]any{}
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	collection, ok, err := a.data.GetCollection(ctx, collectionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	if !ok {
		respondErrorParams(w, http.StatusNotFound, CodeCollectionNotFound,
			fmt.Errorf("collection %s not found", collectionID),
			map[string]any{"collection_id": collectionID})
		return
	}

	// Versions snapshot the collection's display name at creation time.
	if req.DisplayName == "" {
		req.DisplayName = collection.DisplayName
	}

	created, err := a.data.CreateCollectionVersion(ctx, CollectionVersion{
		ID:           uuid.New(),
		CollectionID: collectionID,
		DisplayName:  req.DisplayName,
		Data:         req.Data,
		CreatedAt:    a.now(),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"collection_version": created})
}

func (a *API) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CollectionVersionID uuid.UUID `json:"collection_version_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}
	if req.CollectionVersionID == uuid.Nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("collection_version_id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	version, ok, err := a.data.GetCollectionVersion(ctx, req.CollectionVersionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	if !ok {
		respondErrorParams(w, http.StatusNotFound, CodeCollectionVersionNotFound,
			fmt.Errorf("collection version %s not found", req.CollectionVersionID),
			map[string]any{"collection_version_id": req.CollectionVersionID})
		return
	}

	collection, ok, err := a.data.GetCollection(ctx, version.CollectionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	if !ok {
		respondErrorParams(w, http.StatusNotFound, CodeCollectionNotFound,
			fmt.Errorf("collection %s not found", version.CollectionID),
			map[string]any{"collection_id": version.CollectionID})
		return
	}

	created, err := a.data.CreateInstance(ctx, Instance{
		ID:                  uuid.New(),
		ProjectID:           collection.ProjectID,
		CollectionID:        version.CollectionID,
		CollectionVersionID: version.ID,
		CreatedAt:           a.now(),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"instance": created})
}

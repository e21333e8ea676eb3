package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (a *API) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CollectionID uuid.UUID `json:"collection_id"`
		DisplayName  string    `json:"display_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}
	if req.CollectionID == uuid.Nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("collection_id is required"))
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("display_name is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	_, ok, err := a.data.GetCollection(ctx, req.CollectionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	if !ok {
		respondErrorParams(w, http.StatusNotFound, CodeCollectionNotFound,
			fmt.Errorf("collection %s not found", req.CollectionID),
			map[string]any{"collection_id": req.CollectionID})
		return
	}

	now := a.now()
	created, err := a.data.CreateFlow(ctx, Flow{
		ID:           uuid.New(),
		CollectionID: req.CollectionID,
		DisplayName:  req.DisplayName,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"flow": created})
}

func (a *API) handleCreateFlowVersion(w http.ResponseWriter, r *http.Request) {
	flowID, err := uuid.Parse(chi.URLParam(r, "flowID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("valid flow id is required"))
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

	flow, ok, err := a.data.GetFlow(ctx, flowID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	if !ok {
		respondErrorParams(w, http.StatusNotFound, CodeFlowNotFound,
			fmt.Errorf("flow %s not found", flowID),
			map[string]any{"flow_id": flowID})
		return
	}

	if req.DisplayName == "" {
		req.DisplayName = flow.DisplayName
	}

	created, err := a.data.CreateFlowVersion(ctx, FlowVersion{
		ID:          uuid.New(),
		FlowID:      flowID,
		DisplayName: req.DisplayName,
		Data:        req.Data,
		CreatedAt:   a.now(),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"flow_version": created})
}

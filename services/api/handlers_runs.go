package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"flowrund/pkg/cursor"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

func (a *API) handleRunStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InstanceID          *uuid.UUID     `json:"instance_id"`
		FlowVersionID       uuid.UUID      `json:"flow_version_id"`
		CollectionVersionID uuid.UUID      `json:"collection_version_id"`
		Payload             map[string]any `json:"payload"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}
	if req.FlowVersionID == uuid.Nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("flow_version_id is required"))
		return
	}
	if req.CollectionVersionID == uuid.Nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("collection_version_id is required"))
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	// All lookups must succeed before any write. A failed lookup leaves no
	// partial run behind.
	flowVersion, ok, err := a.data.GetFlowVersion(ctx, req.FlowVersionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	if !ok {
		runStartRejectedTotal.WithLabelValues(CodeFlowVersionNotFound).Inc()
		respondErrorParams(w, http.StatusNotFound, CodeFlowVersionNotFound,
			fmt.Errorf("flow version %s not found", req.FlowVersionID),
			map[string]any{"flow_version_id": req.FlowVersionID})
		return
	}

	collectionVersion, ok, err := a.data.GetCollectionVersion(ctx, req.CollectionVersionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	if !ok {
		runStartRejectedTotal.WithLabelValues(CodeCollectionVersionNotFound).Inc()
		respondErrorParams(w, http.StatusNotFound, CodeCollectionVersionNotFound,
			fmt.Errorf("collection version %s not found", req.CollectionVersionID),
			map[string]any{"collection_version_id": req.CollectionVersionID})
		return
	}

	collection, ok, err := a.data.GetCollection(ctx, collectionVersion.CollectionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	if !ok {
		runStartRejectedTotal.WithLabelValues(CodeCollectionNotFound).Inc()
		respondErrorParams(w, http.StatusNotFound, CodeCollectionNotFound,
			fmt.Errorf("collection %s not found", collectionVersion.CollectionID),
			map[string]any{"collection_id": collectionVersion.CollectionID})
		return
	}

	if req.InstanceID != nil {
		_, ok, err := a.data.GetInstance(ctx, *req.InstanceID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, CodeInternal, err)
			return
		}
		if !ok {
			runStartRejectedTotal.WithLabelValues(CodeInstanceNotFound).Inc()
			respondErrorParams(w, http.StatusNotFound, CodeInstanceNotFound,
				fmt.Errorf("instance %s not found", *req.InstanceID),
				map[string]any{"instance_id": *req.InstanceID})
			return
		}
	}

	if a.config.RunQuota > 0 {
		now := a.now()
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		count, err := a.data.CountRunsStartedSince(ctx, collection.ProjectID, monthStart)
		if err != nil {
			respondError(w, http.StatusInternalServerError, CodeInternal, err)
			return
		}
		if count >= a.config.RunQuota {
			runStartRejectedTotal.WithLabelValues(CodeQuotaExceeded).Inc()
			respondErrorParams(w, http.StatusPaymentRequired, CodeQuotaExceeded,
				fmt.Errorf("project %s exceeded its monthly run quota of %d", collection.ProjectID, a.config.RunQuota),
				map[string]any{"project_id": collection.ProjectID, "quota": a.config.RunQuota})
			return
		}
	}

	run := Run{
		ID:                    uuid.New(),
		ProjectID:             collection.ProjectID,
		CollectionID:          collectionVersion.CollectionID,
		CollectionVersionID:   collectionVersion.ID,
		FlowID:                flowVersion.FlowID,
		FlowVersionID:         flowVersion.ID,
		InstanceID:            req.InstanceID,
		FlowDisplayName:       flowVersion.DisplayName,
		CollectionDisplayName: collectionVersion.DisplayName,
		Status:                StatusRunning,
		StartedAt:             a.now(),
	}

	created, err := a.data.CreateRun(ctx, run)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}

	runsStartedTotal.Inc()

	// The run is durably RUNNING at this point; execution dispatch is
	// fire-and-forget and never fails the request.
	a.publishJSON(ctx, runBeginTopic, map[string]any{
		"run":     created,
		"payload": req.Payload,
	})

	respondJSON(w, http.StatusCreated, map[string]any{"run": created})
}

func (a *API) handleRunGet(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("valid run id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	run, ok, err := a.data.GetRun(ctx, runID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	if !ok {
		respondErrorParams(w, http.StatusNotFound, CodeRunNotFound,
			fmt.Errorf("run %s not found", runID),
			map[string]any{"run_id": runID})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (a *API) handleRunList(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("project_id")))
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("valid project_id is required"))
		return
	}

	req, err := cursor.Decode(r.URL.Query().Get("cursor"))
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}

	limit := defaultPageSize
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, CodeBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	runs, page, err := a.data.ListRuns(ctx, projectID, req, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"items":  runs,
		"cursor": page,
	})
}

func (a *API) handleRunFinish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID      uuid.UUID  `json:"run_id"`
		Status     string     `json:"status"`
		LogsFileID *uuid.UUID `json:"logs_file_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, err)
		return
	}
	if req.RunID == uuid.Nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("run_id is required"))
		return
	}
	req.Status = strings.TrimSpace(strings.ToLower(req.Status))
	if req.Status == "" {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("status is required"))
		return
	}
	// The store does not validate transitions; terminality is enforced here.
	if !IsTerminal(req.Status) {
		respondError(w, http.StatusBadRequest, CodeStatusNotTerminal,
			fmt.Errorf("status %q is not terminal", req.Status))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	run, ok, err := a.data.FinishRun(ctx, req.RunID, req.Status, req.LogsFileID, a.now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	if !ok {
		respondErrorParams(w, http.StatusNotFound, CodeRunNotFound,
			fmt.Errorf("run %s not found", req.RunID),
			map[string]any{"run_id": req.RunID})
		return
	}

	runsFinishedTotal.WithLabelValues(run.Status).Inc()

	a.publishJSON(ctx, runFinishedTopic, map[string]any{
		"run_id":      run.ID,
		"flow_id":     run.FlowID,
		"project_id":  run.ProjectID,
		"status":      run.Status,
		"finished_at": run.FinishedAt,
	})

	respondJSON(w, http.StatusOK, map[string]any{"run": run})
}

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// logsKey builds the object key for a run's log file. Logs are stored
// zstd-compressed newline-delimited JSON.
func logsKey(runID, logsFileID uuid.UUID) string {
	return fmt.Sprintf("runs/%s/%s.ndjson.zst", runID, logsFileID)
}

// handleRunLogsUpload allocates a logs file id and returns a presigned PUT
// URL. The id only becomes visible on the run once finish is called with it.
func (a *API) handleRunLogsUpload(w http.ResponseWriter, r *http.Request) {
	if a.signer == nil {
		respondError(w, http.StatusFailedDependency, CodeInternal, errors.New("s3 client not configured"))
		return
	}

	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("valid run id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	_, ok, err := a.data.GetRun(ctx, runID)
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

	logsFileID := uuid.New()
	uploadURL, err := a.signer.PresignPut(ctx, a.config.LogsBucket, logsKey(runID, logsFileID), a.config.PresignTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, fmt.Errorf("presign put: %w", err))
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"logs_file_id": logsFileID,
		"upload_url":   uploadURL,
	})
}

func (a *API) handleRunLogsDownload(w http.ResponseWriter, r *http.Request) {
	if a.signer == nil {
		respondError(w, http.StatusFailedDependency, CodeInternal, errors.New("s3 client not configured"))
		return
	}

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
	if run.LogsFileID == nil {
		respondErrorParams(w, http.StatusNotFound, CodeLogsNotFound,
			fmt.Errorf("run %s has no logs", runID),
			map[string]any{"run_id": runID})
		return
	}

	downloadURL, err := a.signer.PresignGet(ctx, a.config.LogsBucket, logsKey(runID, *run.LogsFileID), a.config.PresignTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, fmt.Errorf("presign get: %w", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"download_url": downloadURL})
}

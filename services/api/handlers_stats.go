package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"flowrund/pkg/db"
)

type runStatusCount struct {
	Status string `db:"status" json:"status"`
	Count  int64  `db:"count" json:"count"`
}

// handleRunStats reports per-status run counts for a project. This is a
// reporting query and goes straight to the pool rather than through the ORM.
func (a *API) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if a.pool == nil {
		respondError(w, http.StatusFailedDependency, CodeInternal, errors.New("database pool not configured"))
		return
	}

	projectID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("project_id")))
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, errors.New("valid project_id is required"))
		return
	}

	query := `
        SELECT status, count(*) AS count
        FROM runs
        WHERE project_id = $1
        GROUP BY status
        ORDER BY status;
    `

	var counts []runStatusCount
	if err := db.Select(r.Context(), a.pool, &counts, query, projectID); err != nil {
		respondError(w, http.StatusInternalServerError, CodeInternal, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"counts":     counts,
	})
}

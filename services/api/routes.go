package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/collections", a.handleCreateCollection)
		r.Post("/collections/{collectionID}/versions", a.handleCreateCollectionVersion)
		r.Post("/flows", a.handleCreateFlow)
		r.Post("/flows/{flowID}/versions", a.handleCreateFlowVersion)
		r.Post("/instances", a.handleCreateInstance)

		r.Post("/runs/start", a.handleRunStart)
		r.Post("/runs/finish", a.handleRunFinish)
		r.Get("/runs", a.handleRunList)
		r.Get("/runs/stats", a.handleRunStats)
		r.Get("/runs/{runID}", a.handleRunGet)
		r.Post("/runs/{runID}/logs", a.handleRunLogsUpload)
		r.Get("/runs/{runID}/logs", a.handleRunLogsDownload)
	})

	return r, nil
}

// Package server exposes the store's read-only aggregate queries over HTTP
// for remote pollers. There are deliberately no mutation routes: all writes
// go through the CLI against the shared store.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/captaindev404/prd-tools-sub010/internal/domain"
	"github.com/captaindev404/prd-tools-sub010/internal/engine"
)

// Config for the HTTP handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

// New returns the read-only aggregates API handler.
func New(cfg Config) http.Handler {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Task Coordination API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStats(group, cfg.Engine)
	registerReady(group, cfg.Engine)
	registerEpics(group, cfg.Engine)
	registerAudit(group, cfg.Engine)

	return router
}

func handleError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return huma.Error404NotFound(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Aggregate item and worker counts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Stats `json:"body"`
	}, error) {
		s, err := e.Repo.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stats `json:"body"`
		}{Body: s}, nil
	})
}

func registerReady(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ready",
		Method:      http.MethodGet,
		Path:        "/ready",
		Summary:     "Items whose dependencies are all satisfied",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.WorkItem `json:"body"`
	}, error) {
		items, err := e.Graph.Ready(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkItem `json:"body"`
		}{Body: items}, nil
	})
}

func registerEpics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "epics",
		Method:      http.MethodGet,
		Path:        "/epics",
		Summary:     "Per-epic progress summary",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.EpicSummary `json:"body"`
	}, error) {
		epics, err := e.Repo.EpicSummaries(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.EpicSummary `json:"body"`
		}{Body: epics}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "audit-tail",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Most recent audit entries",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20" minimum:"1" maximum:"200"`
	}) (*struct {
		Body []domain.AuditEntry `json:"body"`
	}, error) {
		entries, err := e.Repo.LatestAudit(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditEntry `json:"body"`
		}{Body: entries}, nil
	})
}

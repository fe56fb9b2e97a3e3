// Package server exposes the OCR demo application over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/MeKo-Tech/ocrstudio/internal/config"
	"github.com/MeKo-Tech/ocrstudio/internal/gateway"
	"github.com/MeKo-Tech/ocrstudio/internal/history"
	"github.com/MeKo-Tech/ocrstudio/internal/model"
	"github.com/MeKo-Tech/ocrstudio/internal/task"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ocrGateway is the slice of the inference gateway the server needs.
type ocrGateway interface {
	RunOCR(ctx context.Context, req gateway.Request) (*history.Result, error)
}

// historyStore is the slice of the history store the server needs.
type historyStore interface {
	List() []history.Entry
	Get(id string) (*history.Result, error)
	Download(id, format string) ([]byte, string, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	gateway  ocrGateway
	registry *task.Registry
	store    historyStore

	corsOrigin    string
	maxUploadMB   int
	defaultPrompt string
	modelEndpoint string

	// progressIdleTimeout bounds how long a progress stream waits without a
	// single update before giving up.
	progressIdleTimeout time.Duration
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigin      string
	MaxUploadMB     int
	TimeoutSec      int
	ShutdownTimeout int
	ModelEndpoint   string
}

// HealthResponse is returned by the health endpoint. ModelConfigured reports
// whether a model endpoint is set, not whether the service answers; the first
// inference is the real probe.
type HealthResponse struct {
	Status          string   `json:"status"`
	ModelConfigured bool     `json:"modelConfigured"`
	Modes           []string `json:"modes"`
	Time            string   `json:"time"`
}

// ModesResponse describes the available inference modes.
type ModesResponse struct {
	Modes         map[string]model.ModeConfig `json:"modes"`
	DefaultPrompt string                      `json:"defaultPrompt"`
	MaxImageMB    int                         `json:"maxImageMb"`
}

// TaskCreateResponse carries a freshly created task id.
type TaskCreateResponse struct {
	TaskID string `json:"taskId"`
}

// HistoryListResponse wraps the history listing.
type HistoryListResponse struct {
	Items []history.Entry `json:"items"`
}

// ErrorResponse is the error body for non-2xx responses.
type ErrorResponse struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// NewServer creates a server around the given collaborators.
func NewServer(cfg Config, gw ocrGateway, registry *task.Registry, store historyStore, defaultPrompt string) *Server {
	return &Server{
		gateway:             gw,
		registry:            registry,
		store:               store,
		corsOrigin:          cfg.CORSOrigin,
		maxUploadMB:         cfg.MaxUploadMB,
		defaultPrompt:       defaultPrompt,
		modelEndpoint:       cfg.ModelEndpoint,
		progressIdleTimeout: 5 * time.Minute,
	}
}

// NewFromConfig wires a fully functional server from application config.
func NewFromConfig(cfg *config.Config) (*Server, error) {
	store, err := history.NewStore(cfg.History)
	if err != nil {
		return nil, err
	}

	registry := task.NewRegistry()
	runner := model.NewHTTPRunner(cfg.Model)
	gw := gateway.New(runner, registry, store, cfg)

	return NewServer(Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		CORSOrigin:      cfg.Server.CORSOrigin,
		MaxUploadMB:     cfg.Server.MaxUploadMB,
		TimeoutSec:      cfg.Server.TimeoutSec,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		ModelEndpoint:   cfg.Model.Endpoint,
	}, gw, registry, store, cfg.Model.DefaultPrompt), nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/api/modes", s.corsMiddleware(s.modesHandler))
	mux.HandleFunc("/api/task/create", s.corsMiddleware(s.taskCreateHandler))
	mux.HandleFunc("/api/progress/{taskId}", s.corsMiddleware(s.progressHandler))
	mux.HandleFunc("/ws/progress/{taskId}", s.progressWebSocketHandler)
	mux.HandleFunc("/api/ocr", s.corsMiddleware(s.ocrHandler))
	mux.HandleFunc("/api/history", s.corsMiddleware(s.historyListHandler))
	mux.HandleFunc("/api/history/{id}", s.corsMiddleware(s.historyGetHandler))
	mux.HandleFunc("/api/history/{id}/download", s.corsMiddleware(s.historyDownloadHandler))
	mux.Handle("/metrics", promhttp.Handler())
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/automation"
	"github.com/browzerlabs/browzer-engine/internal/workflow"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Automation is the engine surface exposed over HTTP.
type Automation interface {
	Start(ctx context.Context, req automation.StartRequest) (*schemas.AutomationSession, error)
	Stop(id string) error
	Get(ctx context.Context, id string) (*schemas.AutomationSession, error)
	List(ctx context.Context, limit int) ([]*schemas.AutomationSession, error)
	Subscribe(sessionID string) (<-chan schemas.Notification, func())
}

// Catalog serves stored recordings and workflows.
type Catalog interface {
	GetRecording(ctx context.Context, id string) (*schemas.RecordingSession, error)
	ListRecordings(ctx context.Context, limit int) ([]*schemas.RecordingSession, error)
	GetWorkflow(ctx context.Context, id string) (*schemas.WorkflowDefinition, error)
	ListWorkflows(ctx context.Context, limit int) ([]*schemas.WorkflowDefinition, error)
	SearchWorkflows(ctx context.Context, query string, limit int) ([]*schemas.WorkflowDefinition, error)
}

// Enhancer rewrites a stored workflow with collaborator help.
type Enhancer interface {
	EnhanceWorkflow(ctx context.Context, id string) (*schemas.WorkflowDefinition, error)
}

// Response is the JSON envelope for every API reply.
type Response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Handlers manages HTTP request handling for the API.
type Handlers struct {
	log      *zap.Logger
	engine   Automation
	catalog  Catalog
	enhancer Enhancer
}

// NewHandlers creates a new Handlers instance. enhancer may be nil.
func NewHandlers(logger *zap.Logger, engine Automation, catalog Catalog, enhancer Enhancer) *Handlers {
	return &Handlers{
		log:      logger.Named("handlers"),
		engine:   engine,
		catalog:  catalog,
		enhancer: enhancer,
	}
}

// RegisterRoutes mounts the JSON API under /api/v1.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.HandleStartSession)
			r.Get("/", h.HandleListSessions)
			r.Get("/{sessionID}", h.HandleGetSession)
			r.Post("/{sessionID}/stop", h.HandleStopSession)
		})
		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", h.HandleListWorkflows)
			r.Get("/{workflowID}", h.HandleGetWorkflow)
			r.Get("/{workflowID}/export", h.HandleExportWorkflow)
			r.Post("/{workflowID}/enhance", h.HandleEnhanceWorkflow)
		})
		r.Route("/recordings", func(r chi.Router) {
			r.Get("/", h.HandleListRecordings)
			r.Get("/{recordingID}", h.HandleGetRecording)
		})
	})
}

// HandleHealthCheck confirms the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req automation.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	// APIKey is never decoded from the body.
	req.APIKey = r.Header.Get("X-LLM-API-Key")

	session, err := h.engine.Start(r.Context(), req)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.log.Info("Session accepted", zap.String("session_id", session.SessionID), zap.String("mode", string(session.AgentMode)))
	h.respondWithStatus(w, http.StatusAccepted, "accepted", session)
}

func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.List(r.Context(), limitParam(r))
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, sessions)
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, session)
}

func (h *Handlers) HandleStopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.engine.Stop(id); err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithStatus(w, http.StatusAccepted, "stopping", map[string]string{"session_id": id})
}

func (h *Handlers) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	var (
		workflows []*schemas.WorkflowDefinition
		err       error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		workflows, err = h.catalog.SearchWorkflows(r.Context(), q, limitParam(r))
	} else {
		workflows, err = h.catalog.ListWorkflows(r.Context(), limitParam(r))
	}
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, workflows)
}

func (h *Handlers) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.catalog.GetWorkflow(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, wf)
}

// HandleExportWorkflow writes the workflow as a YAML document.
func (h *Handlers) HandleExportWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.catalog.GetWorkflow(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", wf.ID+".yaml"))
	if err := workflow.ExportYAML(w, wf); err != nil {
		h.log.Error("Failed to export workflow", zap.String("workflow_id", wf.ID), zap.Error(err))
	}
}

// HandleEnhanceWorkflow runs an enhancement pass. On collaborator failure the
// unchanged definition is returned alongside the error.
func (h *Handlers) HandleEnhanceWorkflow(w http.ResponseWriter, r *http.Request) {
	if h.enhancer == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Workflow enhancement is not configured.")
		return
	}
	wf, err := h.enhancer.EnhanceWorkflow(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		if errors.Is(err, schemas.ErrCollaborator) && wf != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			h.encode(w, Response{Status: "unchanged", Data: wf, Error: err.Error()})
			return
		}
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, wf)
}

func (h *Handlers) HandleListRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := h.catalog.ListRecordings(r.Context(), limitParam(r))
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, recs)
}

func (h *Handlers) HandleGetRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := h.catalog.GetRecording(r.Context(), chi.URLParam(r, "recordingID"))
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, rec)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// respondWithDomainError maps the error taxonomy onto HTTP status codes.
func (h *Handlers) respondWithDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schemas.ErrSessionNotFound), errors.Is(err, schemas.ErrNotFound):
		h.respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, schemas.ErrSessionAlreadyRunning):
		h.respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, schemas.ErrCollaborator):
		h.respondWithError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, schemas.ErrStorage):
		h.log.Error("Storage failure while serving request", zap.Error(err))
		h.respondWithError(w, http.StatusServiceUnavailable, "Storage is unavailable.")
	default:
		h.respondWithError(w, http.StatusBadRequest, err.Error())
	}
}

func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	h.encode(w, Response{Status: "error", Error: message})
}

func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respondWithStatus(w, statusCode, "success", data)
}

func (h *Handlers) respondWithStatus(w http.ResponseWriter, statusCode int, status string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	h.encode(w, Response{Status: status, Data: data})
}

func (h *Handlers) encode(w http.ResponseWriter, resp Response) {
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}

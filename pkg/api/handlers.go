package api

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/weftworks/weft/pkg/artifacts"
	"github.com/weftworks/weft/pkg/executor"
	"github.com/weftworks/weft/pkg/fault"
	"github.com/weftworks/weft/pkg/intent"
	"github.com/weftworks/weft/pkg/session"
)

// Server exposes the fabric over HTTP.
type Server struct {
	sessions *session.Manager
	executor *executor.Executor
	plane    *artifacts.Plane
	service  string
	version  string
	logger   *slog.Logger
}

func NewServer(sessions *session.Manager, ex *executor.Executor, plane *artifacts.Plane, service, version string) (*Server, error) {
	if sessions == nil {
		return nil, fault.NotWired("api server", "session manager")
	}
	if ex == nil {
		return nil, fault.NotWired("api server", "execution lifecycle manager")
	}
	if plane == nil {
		return nil, fault.NotWired("api server", "artifact plane")
	}
	return &Server{
		sessions: sessions,
		executor: ex,
		plane:    plane,
		service:  service,
		version:  version,
		logger:   slog.Default().With("component", "api"),
	}, nil
}

// Handler builds the route table wrapped in the standard middleware chain.
func (s *Server) Handler(idem IdempotencyStorer, limiter *RateLimiter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/create", s.handleSessionCreate)
	mux.HandleFunc("POST /api/session/upgrade", s.handleSessionUpgrade)
	mux.HandleFunc("GET /api/session/{id}", s.handleSessionGet)
	mux.HandleFunc("POST /api/intent/submit", s.handleIntentSubmit)
	mux.HandleFunc("GET /api/execution/{id}/status", s.handleExecutionStatus)
	mux.HandleFunc("GET /api/artifacts/visual/{path...}", s.handleArtifactVisual)
	mux.HandleFunc("GET /api/artifacts/{id}", s.handleArtifactGet)
	mux.HandleFunc("GET /health", s.handleHealth)

	var handler http.Handler = mux
	if idem != nil {
		handler = IdempotencyMiddleware(idem)(handler)
	}
	if limiter != nil {
		handler = limiter.Middleware(handler)
	}
	return LoggingMiddleware(s.logger)(handler)
}

type sessionCreateRequest struct {
	TenantID          string                 `json:"tenant_id,omitempty"`
	UserID            string                 `json:"user_id,omitempty"`
	SessionID         string                 `json:"session_id,omitempty"`
	ExecutionContract map[string]interface{} `json:"execution_contract,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "request body is not valid JSON")
		return
	}

	var (
		sess *session.Session
		err  error
	)
	if req.TenantID == "" {
		sess, err = s.sessions.CreateAnonymous(r.Context(), req.ExecutionContract, req.Metadata)
	} else {
		sess, err = s.sessions.CreateAuthenticated(r.Context(), req.TenantID, req.UserID, req.SessionID, req.ExecutionContract, req.Metadata)
	}
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	resp := map[string]interface{}{
		"session_id": sess.SessionID,
		"tenant_id":  sess.TenantID,
		"user_id":    sess.UserID,
		"created_at": sess.CreatedAt.Format(time.RFC3339),
	}
	if sess.Token != "" {
		resp["session_token"] = sess.Token
	}
	writeJSON(w, http.StatusCreated, resp)
}

type sessionUpgradeRequest struct {
	SessionID string                 `json:"session_id"`
	UserID    string                 `json:"user_id"`
	TenantID  string                 `json:"tenant_id"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleSessionUpgrade(w http.ResponseWriter, r *http.Request) {
	var req sessionUpgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "request body is not valid JSON")
		return
	}
	sess, err := s.sessions.Upgrade(r.Context(), req.SessionID, req.UserID, req.TenantID, req.Metadata)
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"), r.URL.Query().Get("tenant_id"))
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type intentSubmitRequest struct {
	IntentID       string                 `json:"intent_id,omitempty"`
	IntentType     string                 `json:"intent_type"`
	TenantID       string                 `json:"tenant_id"`
	SessionID      string                 `json:"session_id"`
	SolutionID     string                 `json:"solution_id"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
}

func (s *Server) handleIntentSubmit(w http.ResponseWriter, r *http.Request) {
	var req intentSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "request body is not valid JSON")
		return
	}
	in, err := intent.New(req.IntentType, req.TenantID, req.SessionID, req.SolutionID, intent.Spec{
		IntentID:       req.IntentID,
		Parameters:     req.Parameters,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		WriteFault(w, r, err)
		return
	}

	result, err := s.executor.Execute(r.Context(), in)
	if err != nil {
		// The submission itself was rejected; no execution exists.
		WriteFault(w, r, err)
		return
	}
	// Handler-level failures still produced an execution; callers read the
	// details from the status endpoint.
	status := "accepted"
	if !result.Success {
		status = "failed"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"execution_id": result.ExecutionID,
		"intent_id":    result.IntentID,
		"status":       status,
		"replayed":     result.Replayed,
		"created_at":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := q.Get("tenant_id")
	if tenantID == "" {
		WriteBadRequest(w, r, "tenant_id is required")
		return
	}
	view, err := s.executor.Status(r.Context(), tenantID, r.PathValue("id"),
		q.Get("include_artifacts") == "true", q.Get("include_visuals") == "true")
	if err != nil {
		WriteFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleArtifactGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := q.Get("tenant_id")
	if tenantID == "" {
		WriteBadRequest(w, r, "tenant_id is required")
		return
	}
	includeVisuals := q.Get("include_visuals") == "true"
	got, err := s.plane.Get(r.Context(), r.PathValue("id"), tenantID, true, includeVisuals)
	if err != nil {
		WriteFault(w, r, err)
		return
	}

	resp := map[string]interface{}{"registry": got.Registry}
	if len(got.Payload) > 0 {
		var decoded interface{}
		if json.Unmarshal(got.Payload, &decoded) == nil {
			resp["payload"] = decoded
		} else {
			resp["payload_base64"] = base64.StdEncoding.EncodeToString(got.Payload)
		}
	}
	if includeVisuals && len(got.Visuals) > 0 {
		visuals := make(map[string]string, len(got.Visuals))
		for name, data := range got.Visuals {
			visuals[name] = base64.StdEncoding.EncodeToString(data)
		}
		resp["visuals"] = visuals
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArtifactVisual(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		WriteBadRequest(w, r, "tenant_id is required")
		return
	}
	path := r.PathValue("path")
	data, err := s.plane.GetVisual(r.Context(), tenantID, path)
	if err != nil {
		WriteNotFound(w, r, "visual not found")
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": s.service,
		"version": s.version,
	})
}

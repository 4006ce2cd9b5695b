package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/xray"
	"github.com/ashita-ai/xray/internal/auth"
	"github.com/ashita-ai/xray/internal/demo"
	"github.com/ashita-ai/xray/internal/model"
	"github.com/ashita-ai/xray/internal/service/executions"
)

// Pinger is implemented by store backends with a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	execSvc             *executions.Service
	jwtMgr              *auth.JWTManager
	broker              *Broker
	demoRunner          *demo.Pipeline
	storePinger         Pinger
	adminKeyHash        string
	viewerKeyHash       string
	storeBackend        string
	logger              *slog.Logger
	startedAt           time.Time
	maxRequestBodyBytes int64
	maxPageSize         int
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker, DemoRunner, StorePinger.
type HandlersDeps struct {
	ExecSvc             *executions.Service
	JWTMgr              *auth.JWTManager
	Broker              *Broker
	DemoRunner          *demo.Pipeline
	StorePinger         Pinger
	AdminKeyHash        string
	ViewerKeyHash       string
	StoreBackend        string
	Logger              *slog.Logger
	MaxRequestBodyBytes int64
	MaxPageSize         int
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		execSvc:             d.ExecSvc,
		jwtMgr:              d.JWTMgr,
		broker:              d.Broker,
		demoRunner:          d.DemoRunner,
		storePinger:         d.StorePinger,
		adminKeyHash:        d.AdminKeyHash,
		viewerKeyHash:       d.ViewerKeyHash,
		storeBackend:        d.StoreBackend,
		logger:              d.Logger,
		startedAt:           time.Now(),
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		maxPageSize:         d.MaxPageSize,
	}
}

// HandleAuthToken handles POST /auth/token. The presented key is checked
// against the configured admin hash first, then the viewer hash.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Key == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "key is required")
		return
	}

	role, ok := h.matchKey(req.Key)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(role)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		Role:      string(role),
		ExpiresAt: expiresAt,
	})
}

// matchKey resolves a presented API key to a role. When no hash matches,
// a dummy verification runs so the response time does not reveal whether
// any keys are configured.
func (h *Handlers) matchKey(key string) (auth.Role, bool) {
	verified := false
	if h.adminKeyHash != "" {
		verified = true
		if ok, err := auth.VerifyKey(key, h.adminKeyHash); err == nil && ok {
			return auth.RoleAdmin, true
		}
	}
	if h.viewerKeyHash != "" {
		verified = true
		if ok, err := auth.VerifyKey(key, h.viewerKeyHash); err == nil && ok {
			return auth.RoleViewer, true
		}
	}
	if !verified {
		auth.DummyVerify()
	}
	return "", false
}

// HandleListExecutions handles GET /api/executions.
func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	q, err := queryFromRequest(r, h.maxPageSize)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	summaries, total, err := h.execSvc.List(r.Context(), q)
	if err != nil {
		h.writeServiceError(w, r, "failed to list executions", err)
		return
	}
	writeList(w, r, summaries, total, q.Limit, q.Offset)
}

// HandleGetExecution handles GET /api/executions/{id}.
func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	execution, err := h.execSvc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, "failed to get execution", err)
		return
	}
	writeJSON(w, r, http.StatusOK, execution)
}

// HandleGetSteps handles GET /api/executions/{id}/steps.
func (h *Handlers) HandleGetSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := h.execSvc.Steps(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, "failed to get steps", err)
		return
	}
	writeJSON(w, r, http.StatusOK, steps)
}

// HandleUpdateMetadata handles PATCH /api/executions/{id}.
func (h *Handlers) HandleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateMetadataRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	execution, err := h.execSvc.UpdateMetadata(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.writeServiceError(w, r, "failed to update execution metadata", err)
		return
	}
	writeJSON(w, r, http.StatusOK, execution)
}

// HandleDeleteExecution handles DELETE /api/executions/{id}.
func (h *Handlers) HandleDeleteExecution(w http.ResponseWriter, r *http.Request) {
	if err := h.execSvc.Delete(r.Context(), []string{r.PathValue("id")}); err != nil {
		h.writeServiceError(w, r, "failed to delete execution", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"deleted": true})
}

// HandleDeleteExecutions handles DELETE /api/executions (bulk).
func (h *Handlers) HandleDeleteExecutions(w http.ResponseWriter, r *http.Request) {
	var req model.DeleteExecutionsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "ids is required")
		return
	}

	if err := h.execSvc.Delete(r.Context(), req.IDs); err != nil {
		h.writeServiceError(w, r, "failed to delete executions", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"deleted": true, "count": len(req.IDs)})
}

// HandleCompare handles GET /api/executions/compare?a=<id>&b=<id>.
func (h *Handlers) HandleCompare(w http.ResponseWriter, r *http.Request) {
	aID := r.URL.Query().Get("a")
	bID := r.URL.Query().Get("b")
	if aID == "" || bID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "both a and b execution ids are required")
		return
	}

	diff, err := h.execSvc.Compare(r.Context(), aID, bID)
	if err != nil {
		h.writeServiceError(w, r, "failed to compare executions", err)
		return
	}
	writeJSON(w, r, http.StatusOK, diff)
}

// HandleStats handles GET /api/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.execSvc.Statistics(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "failed to compute statistics", err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleExport handles GET /api/export. Matching executions stream out
// as newline-delimited JSON, one full execution per line.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	q, err := queryFromRequest(r, h.maxPageSize)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="executions.ndjson"`)
	w.WriteHeader(http.StatusOK)

	if _, err := h.execSvc.Export(r.Context(), q, w); err != nil {
		// Headers already sent; log and cut the stream.
		h.logger.Error("export stream failed",
			"error", err, "request_id", RequestIDFromContext(r.Context()))
	}
}

// HandleDemoRun handles POST /api/demo/run.
func (h *Handlers) HandleDemoRun(w http.ResponseWriter, r *http.Request) {
	if h.demoRunner == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "demo pipeline not configured")
		return
	}

	result, err := h.demoRunner.Run(r.Context(), "")
	if err != nil {
		h.writeInternalError(w, r, "demo run failed", err)
		return
	}

	resp := model.DemoRunResponse{
		ExecutionID: result.ExecutionID,
		Steps:       result.Steps,
	}
	if result.Selected != nil {
		resp.SelectedID = result.Selected.ASIN
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleSubscribe handles GET /api/events (SSE).
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "event stream not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	if h.storePinger != nil {
		if err := h.storePinger.Ping(r.Context()); err != nil {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status: status,
		Store:  h.storeBackend,
		Uptime: int64(time.Since(h.startedAt).Seconds()),
	})
}

// writeServiceError maps service errors onto HTTP statuses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, xray.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "execution not found")
	case errors.Is(err, executions.ErrDeleteUnsupported):
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInvalidInput, "store does not support deletion")
	case xray.IsValidation(err):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	default:
		h.writeInternalError(w, r, msg, err)
	}
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// queryFromRequest parses list filter parameters into an ExecutionQuery.
func queryFromRequest(r *http.Request, maxPageSize int) (model.ExecutionQuery, error) {
	params := r.URL.Query()
	q := model.ExecutionQuery{
		Name:     params.Get("name"),
		Tag:      params.Get("tag"),
		Status:   model.ExecutionStatus(params.Get("status")),
		MinSteps: queryInt(r, "min_steps", 0),
		MaxSteps: queryInt(r, "max_steps", 0),
		Limit:    queryInt(r, "limit", maxPageSize),
		Offset:   queryInt(r, "offset", 0),
	}

	from, err := queryTime(r, "from")
	if err != nil {
		return model.ExecutionQuery{}, err
	}
	q.From = from

	to, err := queryTime(r, "to")
	if err != nil {
		return model.ExecutionQuery{}, err
	}
	q.To = to

	return q, nil
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errors.New("invalid " + key + ": expected RFC3339 format (e.g. 2024-01-01T00:00:00Z)")
	}
	return &t, nil
}

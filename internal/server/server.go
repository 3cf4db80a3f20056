package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/config"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/errors"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/logging"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/engine"
)

// JSON-RPC 2.0 error codes. The -3200x range is reserved for the server.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeNotFound       = -32001
	codeInvalidState   = -32002
)

const maxBodyBytes = 1 << 20

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server implements the HTTP and JSON-RPC front end of the optimization
// engine. Submitted runs execute in the background, at most
// OPT_WORKER_COUNT at a time.
type Server struct {
	cfg    *config.Config
	logger Logger
	engine *engine.Engine

	slots chan struct{}
	ctx   context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup
}

// NewServer creates a new server instance with the given config, logger
// and engine.
func NewServer(cfg *config.Config, logger Logger, eng *engine.Engine) *Server {
	workers := cfg.Optimization.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger,
		engine: eng,
		slots:  make(chan struct{}, workers),
		ctx:    ctx,
		stop:   stop,
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/optimizations", s.handleList)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/metrics/{id}", s.handleMetrics)
		r.Delete("/optimization/{id}", s.handleCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// Close cancels every run, including those waiting for a worker slot, and
// waits for their goroutines to return.
func (s *Server) Close() error {
	s.stop()
	s.engine.Close()
	s.wg.Wait()
	return nil
}

// submit registers the run with the engine and schedules it.
func (s *Server) submit(spec config.RunSpec) (string, error) {
	id, err := spec.Submit(s.engine)
	if err != nil {
		return "", err
	}

	s.wg.Add(1)
	go s.runOptimization(id, spec.Name)

	s.logger.Info("Optimization submitted", map[string]interface{}{
		"optimization_id": id,
		"objective":       spec.Objective,
		"method":          spec.Method,
	})
	return id, nil
}

// runOptimization waits for a worker slot and runs the context to the end.
func (s *Server) runOptimization(id, name string) {
	defer s.wg.Done()

	select {
	case s.slots <- struct{}{}:
	case <-s.ctx.Done():
		return
	}
	defer func() { <-s.slots }()

	fields := map[string]interface{}{"optimization_id": id}
	if name != "" {
		fields["name"] = name
	}
	log := s.logger.WithFields(fields)

	res, err := s.engine.Start(s.ctx, id)
	switch {
	case optimization.KindOf(err) == optimization.KindNotFound:
		// Deleted while queued.
		log.Debug("Optimization removed before start")
	case optimization.KindOf(err) == optimization.KindInvalidState:
		log.Debug("Optimization no longer startable", map[string]interface{}{"error": err.Error()})
	case err != nil:
		log.Error("Optimization failed", map[string]interface{}{"error": err.Error()})
	default:
		log.Info("Optimization finished", map[string]interface{}{
			"reason":     string(res.TerminationReason),
			"iterations": res.Iterations,
			"loss":       res.Loss,
			"converged":  res.Converged,
		})
	}
}

type startResult struct {
	ID     string `json:"optimization_id"`
	Status string `json:"status"`
}

type statusView struct {
	ID           string               `json:"optimization_id"`
	Status       optimization.Status  `json:"status"`
	Method       string               `json:"method"`
	Hybrid       bool                 `json:"hybrid,omitempty"`
	Iteration    int                  `json:"iteration"`
	LearningRate float64              `json:"learning_rate"`
	StartTime    *time.Time           `json:"start_time,omitempty"`
	EndTime      *time.Time           `json:"end_time,omitempty"`
	Result       *optimization.Result `json:"result,omitempty"`
	Error        string               `json:"error,omitempty"`
	History      []optimization.Step  `json:"history,omitempty"`
}

func newStatusView(c optimization.Context, history bool) statusView {
	v := statusView{
		ID:           c.ID,
		Status:       c.Status,
		Method:       c.Method.String(),
		Hybrid:       c.Config.IsHybrid,
		LearningRate: c.Params.LearningRate,
		Result:       c.Result,
		Error:        c.Error,
	}
	if n := len(c.Steps); n > 0 {
		v.Iteration = c.Steps[n-1].Iteration
	}
	if !c.StartTime.IsZero() {
		t := c.StartTime
		v.StartTime = &t
	}
	if !c.EndTime.IsZero() {
		t := c.EndTime
		v.EndTime = &t
	}
	if history {
		v.History = c.Steps
	}
	return v
}

func (s *Server) status(id string, history bool) (statusView, error) {
	c, err := s.engine.Get(id)
	if err != nil {
		return statusView{}, err
	}
	return newStatusView(c, history), nil
}

func (s *Server) list() []statusView {
	contexts := s.engine.List()
	out := make([]statusView, len(contexts))
	for i, c := range contexts {
		out[i] = newStatusView(c, false)
	}
	return out
}

// cancel stops a running context. Contexts in any other state are reported
// as InvalidState.
func (s *Server) cancel(id string) error {
	if s.engine.Cancel(id) {
		s.logger.Info("Optimization cancelled", map[string]interface{}{"optimization_id": id})
		return nil
	}
	c, err := s.engine.Get(id)
	if err != nil {
		return err
	}
	return optimization.NewErrorf(optimization.KindInvalidState,
		"cannot cancel optimization with status: %s", c.Status).WithOperation("cancel")
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type idParams struct {
	ID      string `json:"optimization_id"`
	History bool   `json:"history,omitempty"`
}

// decodeParams accepts params either as an object or as an array whose
// first element is the object.
func decodeParams(raw json.RawMessage, dst interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return errors.New("missing required parameters")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return errors.Wrap(err, "invalid parameter format")
		}
		if len(list) == 0 {
			return errors.New("missing required parameters")
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Wrap(err, "invalid parameter format, expected object")
	}
	return nil
}

func decodeID(raw json.RawMessage) (idParams, error) {
	var p idParams
	if err := decodeParams(raw, &p); err != nil {
		return p, err
	}
	if p.ID == "" {
		return p, errors.New("optimization_id is required")
	}
	return p, nil
}

// invalidParams marks errors that should be reported as -32602.
type invalidParams struct{ error }

func (e invalidParams) Unwrap() error { return e.error }

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&request); err != nil {
		s.respondWithError(w, codeParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", request.ID)
		return
	}

	// Route to appropriate handler
	var result interface{}
	var err error

	switch request.Method {
	case "optimization.start":
		var spec config.RunSpec
		if err = decodeParams(request.Params, &spec); err != nil {
			err = invalidParams{err}
			break
		}
		var id string
		if id, err = s.submit(spec); err != nil {
			err = invalidParams{err}
			break
		}
		result = startResult{ID: id, Status: string(optimization.StatusCreated)}
	case "optimization.status":
		var p idParams
		if p, err = decodeID(request.Params); err != nil {
			err = invalidParams{err}
			break
		}
		result, err = s.status(p.ID, p.History)
	case "optimization.metrics":
		var p idParams
		if p, err = decodeID(request.Params); err != nil {
			err = invalidParams{err}
			break
		}
		result, err = s.engine.Metrics(p.ID)
	case "optimization.cancel":
		var p idParams
		if p, err = decodeID(request.Params); err != nil {
			err = invalidParams{err}
			break
		}
		if err = s.cancel(p.ID); err == nil {
			result = map[string]interface{}{"optimization_id": p.ID, "cancelled": true}
		}
	case "optimization.list":
		result = s.list()
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithRPCError(w, err, request.ID)
		return
	}

	// Send successful response
	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) respondWithRPCError(w http.ResponseWriter, err error, id interface{}) {
	var ip invalidParams
	code := codeServerError
	switch {
	case errors.As(err, &ip):
		code = codeInvalidParams
	case optimization.KindOf(err) == optimization.KindNotFound:
		code = codeNotFound
	case optimization.KindOf(err) == optimization.KindInvalidState:
		code = codeInvalidState
	case optimization.KindOf(err) == optimization.KindInvalidConfig:
		code = codeInvalidParams
	}
	s.respondWithError(w, code, err.Error(), id)
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("JSON-RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}

// httpStatus maps engine error kinds onto HTTP status codes.
func httpStatus(err error) int {
	switch optimization.KindOf(err) {
	case optimization.KindNotFound:
		return http.StatusNotFound
	case optimization.KindInvalidState:
		return http.StatusConflict
	case optimization.KindInvalidConfig:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleOptimize handles POST /api/v1/optimize. The body is a run spec.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var spec config.RunSpec
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}

	id, err := s.submit(spec)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResult{ID: id, Status: string(optimization.StatusCreated)})
}

// handleStatus handles GET /api/v1/status/{id}. ?history=true adds the
// recorded steps.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	history, _ := strconv.ParseBool(r.URL.Query().Get("history"))
	view, err := s.status(chi.URLParam(r, "id"), history)
	if err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleMetrics handles GET /api/v1/metrics/{id}.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.Metrics(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleList handles GET /api/v1/optimizations.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"optimizations": s.list()})
}

// handleCancel handles DELETE /api/v1/optimization/{id}. A running
// optimization is cancelled; any other one is removed.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.engine.Cancel(id) {
		s.logger.Info("Optimization cancelled", map[string]interface{}{"optimization_id": id})
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
		return
	}

	if err := s.engine.Delete(id); err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	s.logger.Info("Optimization deleted", map[string]interface{}{"optimization_id": id})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/osprey-sim/internal/domain"
	"github.com/opensource-finance/osprey-sim/internal/generator"
	"github.com/opensource-finance/osprey-sim/internal/repository"
	"github.com/opensource-finance/osprey-sim/internal/topology"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	gen     *generator.Generator
	version string

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, gen *generator.Generator, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		gen:     gen,
		version: version,
		active:  make(map[string]context.CancelFunc),
	}
}

// RunRequest is the request body for POST /runs.
// Exactly one of Topology and Generate must be set.
type RunRequest struct {
	generator.Overrides
	Topology *topology.Document        `json:"topology,omitempty"`
	Generate *topology.GenerateOptions `json:"generate,omitempty"`
}

// RunResponse is the response for an accepted run.
type RunResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// CreateRun handles POST /runs. With ?wait=true the run executes within the
// request and the summary is returned; otherwise it runs in the background.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	doc, err := req.document()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}

	run, err := h.gen.Prepare(ctx, doc, req.Overrides)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, generator.ErrRunExists):
			status = http.StatusConflict
		case errors.Is(err, generator.ErrSetup):
			status = http.StatusBadRequest
		}
		slog.Error("failed to prepare run", "run_id", req.RunID, "error", err)
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		summary, err := run.Execute(ctx)
		if err != nil && summary == nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}

	// The run outlives the request but keeps its trace context
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.track(run.ID(), cancel)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.untrack(run.ID())

		if _, err := run.Execute(runCtx); err != nil {
			slog.Error("run failed", "run_id", run.ID(), "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, RunResponse{
		RunID:  run.ID(),
		Status: domain.RunStatusRunning,
	})
}

func (req *RunRequest) document() (*topology.Document, error) {
	switch {
	case req.Topology != nil && req.Generate != nil:
		return nil, errors.New("only one of topology and generate may be set")
	case req.Topology != nil:
		if err := req.Topology.Validate(); err != nil {
			return nil, err
		}
		return req.Topology, nil
	case req.Generate != nil:
		if err := req.Generate.Validate(); err != nil {
			return nil, err
		}
		return topology.Generate(*req.Generate), nil
	default:
		return nil, errors.New("topology or generate is required")
	}
}

func (h *Handler) track(runID string, cancel context.CancelFunc) {
	h.mu.Lock()
	h.active[runID] = cancel
	h.mu.Unlock()
}

func (h *Handler) untrack(runID string) {
	h.mu.Lock()
	if cancel, ok := h.active[runID]; ok {
		cancel()
		delete(h.active, runID)
	}
	h.mu.Unlock()
}

// CancelRun handles DELETE /runs/{id} for a run still executing.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	h.mu.Lock()
	cancel, ok := h.active[runID]
	h.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no active run with this id",
		})
		return
	}

	cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"runId":  runID,
		"status": "cancelling",
	})
}

// CancelAll cancels every background run and waits for them to record their outcome.
func (h *Handler) CancelAll() {
	h.mu.Lock()
	for _, cancel := range h.active {
		cancel()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// ListRuns handles GET /runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}
	if runs == nil {
		runs = []*domain.RunSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	runID := chi.URLParam(r, "id")
	run, err := h.repo.GetRun(r.Context(), runID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get run", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get run",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// ListTransactions handles GET /runs/{id}/transactions.
// Query parameters: step, alert, sar, limit, offset.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	runID := chi.URLParam(r, "id")
	filter, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	txs, err := h.repo.ListTransactions(r.Context(), runID, filter)
	if err != nil {
		slog.Error("failed to list transactions", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list transactions",
		})
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

func parseFilter(r *http.Request) (domain.TransactionFilter, error) {
	q := r.URL.Query()
	var f domain.TransactionFilter

	if v := q.Get("step"); v != "" {
		step, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, errors.New("step must be an integer")
		}
		f.Step = &step
	}
	if v := q.Get("alert"); v != "" {
		alertID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, errors.New("alert must be an integer")
		}
		f.AlertID = &alertID
	}
	if v := q.Get("sar"); v != "" {
		sar, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("sar must be a boolean")
		}
		f.SAROnly = sar
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return f, errors.New("offset must be a non-negative integer")
		}
		f.Offset = offset
	}
	return f, nil
}

// GetCounters handles GET /runs/{id}/counters. With ?step=N the step counter is included.
func (h *Handler) GetCounters(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "cache not available",
		})
		return
	}

	ctx := r.Context()
	runID := chi.URLParam(r, "id")
	keys := []string{domain.CounterTotal, domain.CounterSAR, domain.CounterNormal}
	if v := r.URL.Query().Get("step"); v != "" {
		step, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "step must be an integer",
			})
			return
		}
		keys = append(keys, domain.StepCounterKey(step))
	}

	counters := make(map[string]int64, len(keys))
	for _, key := range keys {
		n, err := h.cache.GetCounter(ctx, runID, key)
		if err != nil {
			slog.Error("failed to read counter", "run_id", runID, "key", key, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to read counters",
			})
			return
		}
		counters[key] = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runId":    runID,
		"counters": counters,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

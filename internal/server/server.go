package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"lostctl/internal/engine"
	"lostctl/internal/metrics"
	"lostctl/internal/pipeline"
	"lostctl/internal/storage"
)

// Config wires the HTTP API to the rest of lostctl.
type Config struct {
	Addr     string
	Store    *storage.Store
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics
	// EngineStatus reports engine availability for /engine and /healthz.
	EngineStatus func(ctx context.Context) engine.Status
	Logger       *slog.Logger
}

// Server exposes identify, generate and database jobs over HTTP and streams
// results to websocket and SSE clients.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	status   func(ctx context.Context) engine.Status
	log      *slog.Logger
	hub      *Hub
	server   *http.Server
}

// New creates a server; call Start to listen or Handler to embed it.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     cfg.Addr,
		store:    cfg.Store,
		pipeline: cfg.Pipeline,
		metrics:  cfg.Metrics,
		status:   cfg.EngineStatus,
		log:      logger,
		hub:      NewHub(logger),
	}
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler(ctx)
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down http server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("http server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler returns the routed API and starts the result hub, which runs until
// ctx is done.
func (s *Server) Handler(ctx context.Context) http.Handler {
	go s.hub.Run(ctx)
	if s.pipeline != nil {
		go s.forwardResults(ctx)
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/engine", s.handleEngine).Methods(http.MethodGet)
	r.HandleFunc("/identify", s.handleIdentify).Methods(http.MethodPost)
	r.HandleFunc("/generate", s.handleGenerate).Methods(http.MethodPost)
	r.HandleFunc("/database", s.handleDatabase).Methods(http.MethodPost)
	r.HandleFunc("/jobs", s.handleJobs).Methods(http.MethodGet)
	r.HandleFunc("/invocations", s.handleInvocations).Methods(http.MethodGet)
	r.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/stream", s.handleJobStream).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.ServeWS).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) forwardResults(ctx context.Context) {
	results, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			payload, err := json.Marshal(res.View())
			if err != nil {
				s.log.Warn("failed to encode result", "job", res.Job.ID, "error", err)
				continue
			}
			s.hub.Broadcast(payload)
		}
	}
}

type engineResponse struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) engineStatus(ctx context.Context) engineResponse {
	if s.status == nil {
		return engineResponse{Error: "engine status unavailable"}
	}
	st := s.status(ctx)
	if s.metrics != nil {
		s.metrics.SetEngineStatus(st)
	}
	resp := engineResponse{Available: st.Available, Path: st.Path, Version: st.Version}
	if st.Error != nil {
		resp.Error = st.Error.Error()
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request) {
	resp := s.engineStatus(r.Context())
	code := http.StatusOK
	if !resp.Available {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type identifyRequest struct {
	Path       string            `json:"path"`
	Variant    string            `json:"variant"`
	Overrides  map[string]string `json:"overrides"`
	PlotOutput string            `json:"plot_output"`
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}
	job := pipeline.Job{
		ID:        uuid.NewString(),
		Type:      pipeline.JobIdentify,
		InputPath: req.Path,
		Variant:   req.Variant,
		Overrides: parseOverrides(req.Overrides),
	}
	if req.PlotOutput != "" {
		job.Options = map[string]any{"plotOutput": req.PlotOutput}
	}
	s.runJob(w, r, job)
}

type generateRequest struct {
	Type      string            `json:"type"`
	Output    string            `json:"output"`
	Raw       *bool             `json:"raw"`
	Annotated *bool             `json:"annotated"`
	Overrides map[string]string `json:"overrides"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Output == "" {
		writeError(w, http.StatusBadRequest, errors.New("output is required"))
		return
	}
	opts := map[string]any{}
	if req.Raw != nil {
		opts["raw"] = *req.Raw
	}
	if req.Annotated != nil {
		opts["annotated"] = *req.Annotated
	}
	s.runJob(w, r, pipeline.Job{
		ID:        uuid.NewString(),
		Type:      pipeline.JobGenerate,
		Output:    req.Output,
		Variant:   req.Type,
		Overrides: parseOverrides(req.Overrides),
		Options:   opts,
	})
}

type databaseRequest struct {
	Variant   string            `json:"variant"`
	Overrides map[string]string `json:"overrides"`
}

func (s *Server) handleDatabase(w http.ResponseWriter, r *http.Request) {
	var req databaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	s.runJob(w, r, pipeline.Job{
		ID:        uuid.NewString(),
		Type:      pipeline.JobDatabase,
		Variant:   req.Variant,
		Overrides: parseOverrides(req.Overrides),
	})
}

// runJob runs job synchronously on the shared pipeline and writes its result.
func (s *Server) runJob(w http.ResponseWriter, r *http.Request, job pipeline.Job) {
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no pipeline configured"))
		return
	}
	res := s.pipeline.RunAll(r.Context(), []pipeline.Job{job})[0]
	writeJSON(w, statusFor(res.Error), res.View())
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, engine.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, engine.ErrLaunch):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentInvocations(r.URL.Query().Get("operation"), limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.Attitudes(r.URL.Query().Get("image"), limitParam(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no pipeline configured"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(res.View())
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

// parseOverrides turns a JSON flag map into Args, sorted by flag for a stable
// argument order.
func parseOverrides(m map[string]string) *engine.Args {
	if len(m) == 0 {
		return nil
	}
	flags := make([]string, 0, len(m))
	for flag := range m {
		flags = append(flags, flag)
	}
	sort.Strings(flags)
	args := engine.NewArgs()
	for _, flag := range flags {
		args.Set(flag, engine.ParseValue(m[flag]))
	}
	return args
}

func limitParam(r *http.Request, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

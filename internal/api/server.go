// Package api provides the operational HTTP surface of the engine: health,
// background job status and circuit breaker state.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/trading-arena/internal/circuitbreaker"
	"github.com/trading-arena/internal/logging"
	"github.com/trading-arena/internal/worker"
)

// JobRunner exposes the scheduler to the status endpoints
type JobRunner interface {
	Status() []worker.JobStatus
	RunNow(ctx context.Context, name string) error
}

// BreakerReporter exposes circuit breaker statistics
type BreakerReporter interface {
	AllStats() []circuitbreaker.Stats
}

// HealthCheck is one dependency probed by /health
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	jobs       JobRunner
	breakers   BreakerReporter
	checks     []HealthCheck
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	HealthTimeout   time.Duration
	// TriggerRPS limits manual job triggers per client
	TriggerRPS int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, jobs JobRunner, breakers BreakerReporter, logger *logging.Logger, checks ...HealthCheck) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:   mux.NewRouter(),
		jobs:     jobs,
		breakers: breakers,
		checks:   checks,
		logger:   logger,
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(RequestLoggerMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	status := s.router.PathPrefix("/status").Subrouter()
	status.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	status.HandleFunc("/breakers", s.handleBreakers).Methods("GET")

	trigger := status.PathPrefix("/jobs").Subrouter()
	trigger.Use(RateLimitMiddleware(NewRateLimiter(s.config.TriggerRPS, 1)))
	trigger.HandleFunc("/{name}/run", s.handleRunJob).Methods("POST")
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth probes every dependency; any failure reports 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	timeout := s.config.HealthTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	healthy := true
	results := make(map[string]checkResult, len(s.checks))
	for _, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			healthy = false
			results[check.Name] = checkResult{Status: "down", Error: err.Error()}
			continue
		}
		results[check.Name] = checkResult{Status: "up"}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "trading-arena",
		"checks":  results,
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": s.jobs.Status()})
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"breakers": s.breakers.AllStats()})
}

// handleRunJob runs a registered job synchronously and reports its status.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var found bool
	for _, st := range s.jobs.Status() {
		if st.Name == name {
			found = true
			break
		}
	}
	if !found {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("job %s not registered", name), nil)
		return
	}

	err := s.jobs.RunNow(r.Context(), name)
	code := http.StatusOK
	if err != nil {
		code = http.StatusInternalServerError
	}
	for _, st := range s.jobs.Status() {
		if st.Name == name {
			respondJSON(w, code, st)
			return
		}
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondError(w, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("job %s not registered", name), nil)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting status server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down status server")
	return s.httpServer.Shutdown(ctx)
}

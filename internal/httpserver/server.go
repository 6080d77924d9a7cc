// Package httpserver exposes the engine's control surface: a health
// check, a Prometheus scrape endpoint, a POST to trigger a run, a GET to
// poll a run's status, and a WebSocket to stream a run's outcome as it
// completes. Bootstrap uses fiber.New with recover/logger/cors
// middleware and graceful shutdown on SIGINT/SIGTERM.
package httpserver

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jordigilh/ocpaggregator/internal/config"
	"github.com/jordigilh/ocpaggregator/internal/metrics"
	"github.com/jordigilh/ocpaggregator/internal/orchestrator"
)

// RunStatus is the polling/streaming view of one triggered run.
type RunStatus struct {
	ID         string    `json:"id"`
	SourceUUID string    `json:"source_uuid"`
	Year       string    `json:"year"`
	Month      string    `json:"month"`
	State      string    `json:"state"` // "running", "succeeded", "failed"
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	PodRows    int       `json:"pod_rows,omitempty"`
	StorageRows int      `json:"storage_rows,omitempty"`
}

// Server is the aggregation engine's control surface.
type Server struct {
	app     *fiber.App
	orch    *orchestrator.Orchestrator
	metrics *metrics.Registry

	mu   sync.RWMutex
	runs map[string]*RunStatus
}

// New builds the Fiber app and registers every route.
func New(orch *orchestrator.Orchestrator, metricsReg *metrics.Registry) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "ocpaggregator",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST",
	}))

	s := &Server{
		app:     app,
		orch:    orch,
		metrics: metricsReg,
		runs:    make(map[string]*RunStatus),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", s.healthHandler)
	s.app.Get("/metrics", s.metricsHandler)
	s.app.Post("/runs", s.triggerRunHandler)
	s.app.Get("/runs/:id", s.getRunHandler)

	s.app.Use("/runs/:id/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/runs/:id/stream", websocket.New(s.streamRunHandler))
}

// Listen starts the server and blocks until it is shut down.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) metricsHandler(c *fiber.Ctx) error {
	handler := adaptor.HTTPHandler(promhttp.HandlerFor(s.metrics.Registerer(), promhttp.HandlerOpts{}))
	return handler(c)
}

type triggerRunRequest struct {
	OrgID        string `json:"org_id"`
	ProviderKind string `json:"provider_kind"`
	SourceUUID   string `json:"source_uuid"`
	ClusterID    string `json:"cluster_id"`
	ClusterAlias string `json:"cluster_alias"`
	Year         string `json:"year"`
	Month        string `json:"month"`
}

func (s *Server) triggerRunHandler(c *fiber.Ctx) error {
	var req triggerRunRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.SourceUUID == "" || req.Year == "" || req.Month == "" {
		return c.Status(400).JSON(fiber.Map{"error": "source_uuid, year, and month are required"})
	}

	runID := uuid.NewString()
	status := &RunStatus{
		ID:         runID,
		SourceUUID: req.SourceUUID,
		Year:       req.Year,
		Month:      req.Month,
		State:      "running",
		StartedAt:  time.Now(),
	}
	s.mu.Lock()
	s.runs[runID] = status
	s.mu.Unlock()

	id := config.RunIdentity{
		OrgID:        req.OrgID,
		ProviderKind: req.ProviderKind,
		SourceUUID:   req.SourceUUID,
		ClusterID:    req.ClusterID,
		ClusterAlias: req.ClusterAlias,
		Year:         req.Year,
		Month:        req.Month,
	}

	go s.runAsync(runID, id)

	return c.Status(202).JSON(fiber.Map{"run_id": runID})
}

func (s *Server) runAsync(runID string, id config.RunIdentity) {
	summary, err := s.orch.Run(context.Background(), id)

	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.runs[runID]
	if status == nil {
		return
	}
	status.EndedAt = time.Now()
	status.PodRows = summary.PodRows
	status.StorageRows = summary.StorageRows
	if err != nil {
		status.State = "failed"
		status.Error = err.Error()
		log.Error().Err(err).Str("run_id", runID).Msg("triggered run failed")
		return
	}
	status.State = "succeeded"
}

func (s *Server) getRunHandler(c *fiber.Ctx) error {
	id := c.Params("id")
	s.mu.RLock()
	status, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "run not found"})
	}
	return c.JSON(status)
}

// streamRunHandler pushes status updates for a run over a WebSocket until
// it reaches a terminal state, using a simple poll-and-push ticker loop.
func (s *Server) streamRunHandler(c *websocket.Conn) {
	id := c.Params("id")
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.RLock()
		status, ok := s.runs[id]
		var snapshot RunStatus
		if ok {
			snapshot = *status
		}
		s.mu.RUnlock()

		if !ok {
			c.WriteJSON(fiber.Map{"error": "run not found"})
			return
		}
		if err := c.WriteJSON(snapshot); err != nil {
			return
		}
		if snapshot.State != "running" {
			return
		}
	}
}

package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bidscout/bidscout/internal/db"
	"github.com/bidscout/bidscout/internal/scrape"
)

type Server struct {
	Store        *db.Store
	Orchestrator *scrape.Orchestrator
	Echo         *echo.Echo

	logger      *zap.Logger
	adminSecret string

	// Background scrape tracking. One full pass at a time.
	jobMu      sync.Mutex
	runningJob *scrapeJob
}

type scrapeJob struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"` // running, completed, failed
	StartedAt time.Time         `json:"started_at"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
	Report    *scrape.RunReport `json:"report,omitempty"`
}

func NewServer(store *db.Store, orch *scrape.Orchestrator, adminSecret string, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		Store:        store,
		Orchestrator: orch,
		Echo:         e,
		logger:       logger,
		adminSecret:  adminSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.Echo.Group("/api/v1")
	api.GET("/opportunities", s.handleListOpportunities)
	api.GET("/runs", s.handleRecentRuns)

	admin := api.Group("")
	admin.Use(s.adminMiddleware)
	admin.POST("/scrape/run", s.handleScrapeAll)
	admin.POST("/scrape/source/:id", s.handleScrapeSource)
	admin.GET("/scrape/status", s.handleScrapeStatus)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	stats, err := s.Store.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": scrape.ScraperVersion,
		"stats":   stats,
	})
}

func (s *Server) handleListOpportunities(c echo.Context) error {
	params := db.ListParams{
		Source:     c.QueryParam("source"),
		Query:      c.QueryParam("q"),
		ActiveOnly: c.QueryParam("active") == "true",
	}
	if v := c.QueryParam("limit"); v != "" {
		params.Limit, _ = strconv.Atoi(v)
	}
	if v := c.QueryParam("offset"); v != "" {
		params.Offset, _ = strconv.Atoi(v)
	}

	result, err := s.Store.ListOpportunities(c.Request().Context(), params)
	if err != nil {
		s.logger.Error("failed to list opportunities", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleRecentRuns(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	runs, err := s.Store.RecentRuns(c.Request().Context(), c.QueryParam("source"), limit)
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

// handleScrapeAll kicks off a full pass in the background. Only one pass
// runs at a time; a second request while one is active gets a 409 with the
// running job's id.
func (s *Server) handleScrapeAll(c echo.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := *s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error": "a scrape pass is already running",
			"job":   job,
		})
	}

	job := &scrapeJob{
		ID:        uuid.NewString(),
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		// Detached from the request: the pass outlives the HTTP exchange.
		report := s.Orchestrator.RunAll(context.Background())

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		now := time.Now().UTC()
		job.EndedAt = &now
		job.Report = report
		if report.Failed() == len(report.Sources) && len(report.Sources) > 0 {
			job.Status = "failed"
		} else {
			job.Status = "completed"
		}
	}()

	return c.JSON(http.StatusAccepted, job)
}

// handleScrapeSource runs one source synchronously and returns its report.
func (s *Server) handleScrapeSource(c echo.Context) error {
	report, err := s.Orchestrator.RunSource(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleScrapeStatus(c echo.Context) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.runningJob == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"job": nil})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"job": s.runningJob})
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.adminSecret == "" {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "admin secret not configured"})
		}

		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if adminHeader == s.adminSecret {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			if authHeader[7:] == s.adminSecret {
				return next(c)
			}
		}

		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
}

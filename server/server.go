// Package server exposes the published game data and the justice system
// over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/mischief-tracker/justice"
	"github.com/brettboylen/mischief-tracker/models"
)

// ResultStore holds the last published result; false means nothing current
type ResultStore interface {
	Latest() (*models.ReconciledResult, bool)
}

// Runner runs the pipeline on demand and reports per-source stats
type Runner interface {
	RunOnce(ctx context.Context) (*models.ReconciledResult, error)
	SourceStats() map[string]models.Stats
}

// errNoResult is served while the store is empty or its entry has expired
var errNoResult = errors.New("no result published yet")

// Server wires handlers onto an echo instance
type Server struct {
	echo    *echo.Echo
	results ResultStore
	runner  Runner
	justice *justice.Service
	log     *logrus.Logger
}

// Options configures the HTTP server
type Options struct {
	MaxRequestsPerMinute int
	Gatherer             prometheus.Gatherer
	// Ping, when set, must succeed for /healthz to report OK
	Ping func(ctx context.Context) error
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates the HTTP API
func New(results ResultStore, runner Runner, justiceSvc *justice.Service, opts Options, log *logrus.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// middleware
	e.Use(middleware.Recover())
	e.Use(requestLogger(log))
	if opts.MaxRequestsPerMinute > 0 {
		e.Use(rateLimiter(opts.MaxRequestsPerMinute))
	}

	s := &Server{
		echo:    e,
		results: results,
		runner:  runner,
		justice: justiceSvc,
		log:     log,
	}

	e.GET("/healthz", func(c echo.Context) error {
		if opts.Ping != nil {
			if err := opts.Ping(c.Request().Context()); err != nil {
				log.WithError(err).Warn("Health check failed")
				return c.String(http.StatusServiceUnavailable, "UNAVAILABLE")
			}
		}
		return c.String(http.StatusOK, "OK")
	})
	if opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	data := e.Group("/api")
	data.GET("/data", s.getData)
	data.GET("/leaderboard", s.getLeaderboard)
	data.GET("/missions/:id", s.getMission)
	data.GET("/geography", s.getGeography)
	data.GET("/sources", s.getSources)
	data.POST("/scrape", s.postScrape)

	if justiceSvc != nil {
		j := data.Group("/justice")
		j.POST("/trials", s.createTrial)
		j.GET("/trials", s.listTrials)
		j.GET("/trials/:id", s.getTrial)
		j.POST("/trials/:id/votes", s.castVote)
		j.GET("/honor/:user", s.getHonor)
		j.GET("/debts/:user", s.getDebts)
		j.POST("/debts/:id/paid", s.markPaid)
	}

	return s
}

// Handler returns the underlying http handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on port until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context, port int) error {
	errCh := make(chan error, 1)
	go func() {
		serverAddr := fmt.Sprintf(":%d", port)
		s.log.WithField("port", port).Info("Starting API server")
		if err := s.echo.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}

func requestLogger(log *logrus.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
			}).Debug("Request handled")
			return nil
		},
	})
}

func rateLimiter(maxRequestsPerMinute int) echo.MiddlewareFunc {
	requestsPerSecond := float64(maxRequestsPerMinute) / 60.0

	// use 95% of the rate limit to be safe
	rateLimit := rate.Limit(requestsPerSecond * 0.95)

	deny := func(ctx echo.Context) error {
		return ctx.JSON(http.StatusTooManyRequests, errorResponse{
			Error: "Rate limit exceeded, please try again later",
		})
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz" || c.Path() == "/metrics"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rateLimit,
				Burst:     5,
				ExpiresIn: 3 * time.Minute,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return deny(ctx)
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return deny(ctx)
		},
	})
}

// withLatest answers 503 until a run has published a result, and again once it expires
func (s *Server) withLatest(c echo.Context, fn func(*models.ReconciledResult) error) error {
	result, ok := s.results.Latest()
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: errNoResult.Error()})
	}
	return fn(result)
}

func (s *Server) getData(c echo.Context) error {
	return s.withLatest(c, func(result *models.ReconciledResult) error {
		return c.JSON(http.StatusOK, result)
	})
}

func (s *Server) getLeaderboard(c echo.Context) error {
	limit := -1
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
		}
		limit = n
	}

	return s.withLatest(c, func(result *models.ReconciledResult) error {
		entries := result.Leaderboard
		if limit >= 0 && limit < len(entries) {
			entries = entries[:limit]
		}
		return c.JSON(http.StatusOK, entries)
	})
}

type missionResponse struct {
	MissionID models.MissionID       `json:"mission_id"`
	Counts    models.PlatformCounts  `json:"counts"`
	Winners   models.PlatformWinners `json:"winners"`
}

func (s *Server) getMission(c echo.Context) error {
	id, convErr := strconv.Atoi(c.Param("id"))
	if convErr != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "mission id must be an integer"})
	}

	mission := models.MissionID(id)
	return s.withLatest(c, func(result *models.ReconciledResult) error {
		counts, ok := result.Missions[mission]
		if !ok {
			return c.JSON(http.StatusNotFound, errorResponse{
				Error: fmt.Sprintf("No posts recorded for mission %d", id),
			})
		}
		return c.JSON(http.StatusOK, missionResponse{
			MissionID: mission,
			Counts:    counts,
			Winners:   result.Winners[mission],
		})
	})
}

func (s *Server) getGeography(c echo.Context) error {
	return s.withLatest(c, func(result *models.ReconciledResult) error {
		return c.JSON(http.StatusOK, result.Geography)
	})
}

func (s *Server) getSources(c echo.Context) error {
	return c.JSON(http.StatusOK, s.runner.SourceStats())
}

func (s *Server) postScrape(c echo.Context) error {
	result, err := s.runner.RunOnce(c.Request().Context())
	if err != nil {
		s.log.WithError(err).Error("Manual scrape failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

// justiceError maps service errors onto HTTP statuses
func (s *Server) justiceError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, justice.ErrTrialNotFound), errors.Is(err, justice.ErrDebtNotFound):
		status = http.StatusNotFound
	case errors.Is(err, justice.ErrInsufficientHonor):
		status = http.StatusForbidden
	case errors.Is(err, justice.ErrTrialClosed), errors.Is(err, justice.ErrAlreadyVoted),
		errors.Is(err, justice.ErrInvalidVerdict), errors.Is(err, justice.ErrInvalidParty):
		status = http.StatusBadRequest
	default:
		s.log.WithError(err).Error("Justice request failed")
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

type createTrialRequest struct {
	Accuser     string `json:"accuser"`
	Accused     string `json:"accused"`
	EvidenceURL string `json:"evidence_url"`
	Accusation  string `json:"accusation"`
}

func (s *Server) createTrial(c echo.Context) error {
	var req createTrialRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	trial, err := s.justice.CreateTrial(c.Request().Context(), req.Accuser, req.Accused, req.EvidenceURL, req.Accusation)
	if err != nil {
		return s.justiceError(c, err)
	}
	return c.JSON(http.StatusCreated, trial)
}

func (s *Server) listTrials(c echo.Context) error {
	trials, err := s.justice.ActiveTrials(c.Request().Context())
	if err != nil {
		return s.justiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"trials": trials})
}

func (s *Server) getTrial(c echo.Context) error {
	trial, err := s.justice.Trial(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.justiceError(c, err)
	}
	return c.JSON(http.StatusOK, trial)
}

type voteRequest struct {
	Voter   string `json:"voter"`
	Verdict string `json:"verdict"`
}

func (s *Server) castVote(c echo.Context) error {
	var req voteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	trial, err := s.justice.CastVote(c.Request().Context(), c.Param("id"), req.Voter, req.Verdict)
	if err != nil {
		return s.justiceError(c, err)
	}
	return c.JSON(http.StatusOK, trial)
}

func (s *Server) getHonor(c echo.Context) error {
	user := c.Param("user")
	ctx := c.Request().Context()

	honor, err := s.justice.Honor(ctx, user)
	if err != nil {
		return s.justiceError(c, err)
	}
	points, err := s.justice.Points(ctx, user)
	if err != nil {
		return s.justiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"user":              justice.NormalizeHandle(user),
		"honor_score":       honor,
		"points_adjustment": points,
	})
}

func (s *Server) getDebts(c echo.Context) error {
	debts, err := s.justice.Debts(c.Request().Context(), c.Param("user"))
	if err != nil {
		return s.justiceError(c, err)
	}
	return c.JSON(http.StatusOK, debts)
}

func (s *Server) markPaid(c echo.Context) error {
	if err := s.justice.MarkPaid(c.Request().Context(), c.Param("id")); err != nil {
		return s.justiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": models.DebtPaid})
}

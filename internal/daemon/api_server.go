package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"quarantine/internal/api"
	"quarantine/internal/config"
	"quarantine/internal/logging"
	"quarantine/internal/queue"
)

type apiServer struct {
	bind     string
	logger   *slog.Logger
	daemon   *Daemon
	queueSvc *api.QueueService
	echo     *echo.Echo

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, nil
	}

	var history api.HistoryReader
	if d.journal != nil {
		history = d.journal
	}
	srv := &apiServer{
		bind:     bind,
		logger:   logging.NewComponentLogger(logger, "api-server"),
		daemon:   d,
		queueSvc: api.NewQueueService(d.store, history),
	}
	srv.echo = srv.routes(cfg.API.Token)
	return srv, nil
}

func (s *apiServer) routes(token string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("api request",
				logging.String("method", v.Method),
				logging.String("uri", v.URI),
				logging.Int("status", v.Status),
				logging.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	e.Use(authMiddleware(token))

	g := e.Group("/api")
	g.GET("/status", s.handleStatus)
	g.GET("/queue", s.handleQueue)
	g.GET("/queue/:id", s.handleQueueEntry)
	g.GET("/queue/:id/history", s.handleQueueHistory)
	return e
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server := s.server
	listener := s.listener
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(c echo.Context) error {
	status := s.daemon.Status(c.Request().Context())
	return c.JSON(http.StatusOK, toAPIStatus(status))
}

func (s *apiServer) handleQueue(c echo.Context) error {
	var states []queue.State
	for _, value := range c.QueryParams()["state"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			state, ok := queue.ParseState(part)
			if !ok {
				return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown state %q", part))
			}
			states = append(states, state)
		}
	}

	entries, err := s.queueSvc.List(c.Request().Context(), states...)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []api.QueueEntry{}
	}
	return c.JSON(http.StatusOK, api.QueueListResponse{Entries: entries})
}

func (s *apiServer) handleQueueEntry(c echo.Context) error {
	entry, err := s.describe(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, api.QueueEntryResponse{Entry: *entry})
}

func (s *apiServer) handleQueueHistory(c echo.Context) error {
	entry, err := s.describe(c)
	if err != nil {
		return err
	}
	history, err := s.queueSvc.History(c.Request().Context(), entry.ID)
	if errors.Is(err, api.ErrHistoryUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, history)
}

func (s *apiServer) describe(c echo.Context) (*api.QueueEntry, error) {
	id := strings.ToLower(strings.TrimSpace(c.Param("id")))
	if !queue.ValidID(id) {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid entry id")
	}
	entry, err := s.queueSvc.Describe(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "queue entry not found")
	}
	return entry, nil
}

func (s *apiServer) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	message := err.Error()
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		message = fmt.Sprint(httpErr.Message)
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("api request failed",
			logging.String("uri", c.Request().RequestURI),
			logging.Error(err),
		)
	}
	if writeErr := c.JSON(code, api.ErrorResponse{Error: message}); writeErr != nil {
		s.logger.Error("failed to encode response", logging.Error(writeErr))
	}
}

func toAPIStatus(status Status) api.DaemonStatus {
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		QueuePath:    status.QueuePath,
		JournalPath:  status.JournalPath,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Recovery: api.RecoveryStatus{
			Requeued: len(status.Recovery.Requeued),
			Failed:   len(status.Recovery.Failed),
			Resumed:  len(status.Recovery.Reporting),
		},
	}
	if status.Ingest != nil {
		payload.Ingest = &api.IngestStatus{
			Running:    status.Ingest.Running,
			WatchDir:   status.Ingest.WatchDir,
			Registered: status.Ingest.Summary.Registered,
			Duplicates: status.Ingest.Summary.Duplicates,
			Skipped:    status.Ingest.Summary.Skipped,
			Extracted:  status.Ingest.Summary.Extracted,
			LastError:  status.Ingest.LastError,
		}
	}
	return payload
}

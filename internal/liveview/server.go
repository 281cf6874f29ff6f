package liveview

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/vmihailenco/msgpack/v5"

	"production-test/internal/db"
	"production-test/internal/telemetry"
)

// MIMEMsgpack selects the msgpack encoding on the readings endpoint.
const MIMEMsgpack = "application/msgpack"

// RunStore is the history the API reads from; *db.DB implements it.
type RunStore interface {
	ListRuns(ctx context.Context, f db.RunFilter) ([]db.RunInfo, error)
	GetRun(ctx context.Context, sessionID string) (db.RunInfo, error)
	RunReadings(ctx context.Context, sessionID string) ([]telemetry.Reading, error)
}

// Server is the live view HTTP server.
type Server struct {
	Echo     *echo.Echo
	Hub      *Hub
	store    RunStore
	version  string
	upgrader websocket.Upgrader
	listener net.Listener
}

// New builds the echo instance and registers routes. store may be nil, in
// which case the history endpoints answer 503.
func New(hub *Hub, store RunStore, version string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	e.Use(middleware.Recover())

	s := &Server{
		Echo:    e,
		Hub:     hub,
		store:   store,
		version: version,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/ws", s.handleWebSocket)

	runs := s.Echo.Group("/api/runs")
	runs.GET("", s.handleListRuns)
	runs.GET("/:id", s.handleGetRun)
	runs.GET("/:id/readings", s.handleRunReadings)
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = l
	s.Echo.Listener = l
	go func() {
		if err := s.Echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Echo.Logger.Errorf("liveview: %v", err)
		}
	}()
	return nil
}

// Addr is the bound address after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown disconnects websocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Hub.Close()
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"clients": s.Hub.Clients(),
	})
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	s.Hub.Serve(ws)
	return nil
}

func (s *Server) handleListRuns(c echo.Context) error {
	if s.store == nil {
		return newUnavailableError("run history is disabled")
	}
	f := db.RunFilter{Serial: c.QueryParam("serial"), Outcome: c.QueryParam("outcome")}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return newBadRequestError("invalid limit", err)
		}
		f.Limit = n
	}
	runs, err := s.store.ListRuns(c.Request().Context(), f)
	if err != nil {
		return newInternalError("failed to list runs", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"run_count": len(runs), "runs": runs})
}

func (s *Server) handleGetRun(c echo.Context) error {
	if s.store == nil {
		return newUnavailableError("run history is disabled")
	}
	id := c.Param("id")
	run, err := s.store.GetRun(c.Request().Context(), id)
	if errors.Is(err, db.ErrRunNotFound) {
		return newNotFoundError("run", id)
	}
	if err != nil {
		return newInternalError("failed to load run", err)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleRunReadings(c echo.Context) error {
	if s.store == nil {
		return newUnavailableError("run history is disabled")
	}
	id := c.Param("id")
	readings, err := s.store.RunReadings(c.Request().Context(), id)
	if errors.Is(err, db.ErrRunNotFound) {
		return newNotFoundError("run", id)
	}
	if err != nil {
		return newInternalError("failed to load readings", err)
	}
	series := telemetry.FromReadings(readings)

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), MIMEMsgpack) {
		data, err := msgpack.Marshal(map[string]any{
			"session_id": id,
			"count":      series.Len(),
			"readings":   series,
		})
		if err != nil {
			return newInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, MIMEMsgpack, data)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": id,
		"count":      series.Len(),
		"readings":   series,
	})
}

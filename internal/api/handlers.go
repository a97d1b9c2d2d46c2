package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"github.com/manpreetbhatti/codesync-relay/internal/db"
	"github.com/manpreetbhatti/codesync-relay/internal/execute"
	"github.com/manpreetbhatti/codesync-relay/internal/identity"
	"github.com/manpreetbhatti/codesync-relay/internal/journal"
	"github.com/manpreetbhatti/codesync-relay/internal/presence"
	"github.com/manpreetbhatti/codesync-relay/internal/ratelimit"
	"github.com/manpreetbhatti/codesync-relay/internal/ws"
)

const readyTimeout = 3 * time.Second

type API struct {
	hub      *ws.Hub
	database *db.Database
	journal  *journal.Recorder
	presence *presence.Directory
	executor *execute.Client
	verifier *identity.Verifier
	connects *ratelimit.KeyedLimiters
	log      *slog.Logger
}

type Params struct {
	fx.In

	Hub      *ws.Hub
	Database *db.Database
	Journal  *journal.Recorder
	// nil when REDIS_URL is unset
	Presence *presence.Directory `optional:"true"`
	Executor *execute.Client
	// nil when AUTH_JWT_SECRET is unset
	Verifier *identity.Verifier `optional:"true"`
	// nil disables the per-address upgrade limit
	Connects *ratelimit.KeyedLimiters `optional:"true"`
	Logger   *slog.Logger
}

func New(params Params) *API {
	return &API{
		hub:      params.Hub,
		database: params.Database,
		journal:  params.Journal,
		presence: params.Presence,
		executor: params.Executor,
		verifier: params.Verifier,
		connects: params.Connects,
		log:      params.Logger,
	}
}

func (a *API) Resolve(e *echo.Echo) error {
	e.GET("/health", a.HealthHandler)
	e.GET("/ws", a.WebSocketHandler)

	g := e.Group("/api")
	g.GET("/ready", a.ReadyHandler)
	g.GET("/stats", a.StatsHandler)
	g.GET("/rooms", a.ListRoomsHandler)
	g.GET("/rooms/:id", a.GetRoomHandler)
	g.GET("/rooms/:id/sessions", a.ListSessionsHandler)
	g.POST("/execute", a.ExecuteHandler)
	return nil
}

func jsonResponse(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, data)
}

func errorResponse(c echo.Context, status int, message string) error {
	return jsonResponse(c, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(c echo.Context) error {
	return jsonResponse(c, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadyHandler pings the journal database and, when configured, redis.
func (a *API) ReadyHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readyTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.database.Ping(ctx)
	})
	if a.presence != nil {
		g.Go(func() error {
			return a.presence.Ping(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		a.log.Warn("readiness check failed", "err", err)
		return errorResponse(c, http.StatusServiceUnavailable, "Not ready")
	}
	return jsonResponse(c, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *API) StatsHandler(c echo.Context) error {
	relayStats := a.hub.Stats()
	stats := map[string]interface{}{
		"active_rooms":     relayStats.Rooms,
		"active_clients":   relayStats.Connections,
		"delivered":        relayStats.Delivered,
		"dropped":          relayStats.Dropped,
		"handled":          relayStats.Handled,
		"rejected":         relayStats.Rejected,
		"journal_written":  a.journal.Written(),
		"journal_dropped":  a.journal.Dropped(),
		"presence_enabled": a.presence != nil,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}

	if a.presence != nil {
		stats["presence_dropped"] = a.presence.Dropped()
	}

	dbStats, err := a.database.GetStats()
	if err != nil {
		a.log.Warn("reading journal stats failed", "err", err)
	} else {
		stats["total_sessions"] = dbStats["session_count"]
		stats["open_sessions"] = dbStats["open_sessions"]
		stats["total_executions"] = dbStats["execution_count"]
	}

	return jsonResponse(c, http.StatusOK, stats)
}

// Room handlers

// ListRoomsHandler lists the rooms live on this relay. With ?scope=cluster
// it reads the presence directory instead.
func (a *API) ListRoomsHandler(c echo.Context) error {
	if c.QueryParam("scope") == "cluster" {
		if a.presence == nil {
			return errorResponse(c, http.StatusNotImplemented, "Presence directory is not configured")
		}
		rooms, err := a.presence.List(c.Request().Context())
		if err != nil {
			a.log.Error("listing presence rooms failed", "err", err)
			return errorResponse(c, http.StatusBadGateway, "Failed to list rooms")
		}
		return jsonResponse(c, http.StatusOK, map[string]interface{}{"rooms": rooms})
	}

	return jsonResponse(c, http.StatusOK, map[string]interface{}{
		"rooms": a.hub.Rooms(),
	})
}

func (a *API) GetRoomHandler(c echo.Context) error {
	roomID := c.Param("id")
	if roomID == "" {
		return errorResponse(c, http.StatusBadRequest, "Room ID is required")
	}

	summary, ok := a.hub.Room(roomID)
	if !ok {
		return errorResponse(c, http.StatusNotFound, "Room not found")
	}
	return jsonResponse(c, http.StatusOK, summary)
}

func (a *API) ListSessionsHandler(c echo.Context) error {
	roomID := c.Param("id")
	if roomID == "" {
		return errorResponse(c, http.StatusBadRequest, "Room ID is required")
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	sessions, err := a.database.ListSessions(roomID, limit, offset)
	if err != nil {
		a.log.Error("listing sessions failed", "room", roomID, "err", err)
		return errorResponse(c, http.StatusInternalServerError, "Failed to list sessions")
	}

	return jsonResponse(c, http.StatusOK, map[string]interface{}{
		"room_id":  roomID,
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
	})
}

// Execution

// ExecuteHandler proxies a run to the sandbox. Every outcome, including
// failures, answers with {output, isError}.
func (a *API) ExecuteHandler(c echo.Context) error {
	var req execute.Request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return jsonResponse(c, http.StatusBadRequest, execute.Result{Output: "Error: Invalid request body", IsError: true})
	}

	started := time.Now()
	result, err := a.executor.Execute(c.Request().Context(), req)
	if err != nil {
		status, message := executeFailure(err)
		if status == http.StatusBadRequest && !isUpstream(err) {
			return jsonResponse(c, status, execute.Result{Output: message, IsError: true})
		}
		a.log.Warn("execution failed", "language", req.Language, "status", status, "err", err)
		result = execute.Result{Output: message, IsError: true}
		a.journal.RecordExecution(execute.NormalizeLanguage(req.Language), true, time.Since(started))
		return jsonResponse(c, status, result)
	}

	a.journal.RecordExecution(execute.NormalizeLanguage(req.Language), result.IsError, time.Since(started))
	return jsonResponse(c, http.StatusOK, result)
}

func executeFailure(err error) (int, string) {
	var upstream *execute.UpstreamError
	switch {
	case errors.Is(err, execute.ErrLanguageRequired), errors.Is(err, execute.ErrCodeRequired):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, execute.ErrTimeout):
		return http.StatusRequestTimeout, execute.ErrTimeout.Error()
	case errors.As(err, &upstream):
		return upstream.Status, upstream.Message
	default:
		return http.StatusInternalServerError, execute.ErrUnavailable.Error()
	}
}

func isUpstream(err error) bool {
	var upstream *execute.UpstreamError
	return errors.As(err, &upstream)
}

// WebSocket

func (a *API) WebSocketHandler(c echo.Context) error {
	if a.connects != nil && !a.connects.Allow(c.RealIP()) {
		a.log.Warn("upgrade rate limited", "remote", c.RealIP())
		return errorResponse(c, http.StatusTooManyRequests, "Too many connection attempts")
	}

	username, err := a.verifier.Authenticate(c.Request())
	if err != nil {
		a.log.Info("upgrade rejected", "remote", c.RealIP(), "err", err)
		return errorResponse(c, http.StatusUnauthorized, err.Error())
	}

	ws.ServeWs(a.hub, c.Response(), c.Request(), username)
	return nil
}

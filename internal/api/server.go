// Package api is the agent's HTTP surface: the intercepted application
// routes, the window WebSocket channel, push ingest, and the operational
// endpoints.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hhsbooking/shellworker/internal/clients"
	"github.com/hhsbooking/shellworker/internal/datastore"
	"github.com/hhsbooking/shellworker/internal/intercept"
	"github.com/hhsbooking/shellworker/internal/notify"
	"github.com/hhsbooking/shellworker/internal/shell"
	"github.com/hhsbooking/shellworker/internal/worker"
)

const (
	// sourceHeader tells callers how a response was produced.
	sourceHeader = "X-Shellworker-Source"

	// Push ingest rate limit.
	pushRatePerSecond = 20
	pushRateBurst     = 40

	// maxPushBody bounds ingest payload size.
	maxPushBody = 64 * 1024

	historyDefaultLimit = 50
	historyMaxLimit     = 500
)

// Publisher is the push ingest sink. Satisfied by worker.PushBus.
type Publisher interface {
	Publish(d worker.Delivery)
}

// Options wires the server's collaborators.
type Options struct {
	Worker      *worker.Worker
	Interceptor *intercept.Interceptor
	Hub         *clients.Hub
	Bus         Publisher
	PushState   *notify.PushState
	Registry    *notify.Registry
	Shell       *shell.Manager
	History     datastore.NotificationRepository
	Gatherer    prometheus.Gatherer
	Log         *zap.Logger
}

// Server mounts the agent's routes on an echo instance.
type Server struct {
	echo      *echo.Echo
	worker    *worker.Worker
	intercept *intercept.Interceptor
	hub       *clients.Hub
	bus       Publisher
	pushState *notify.PushState
	registry  *notify.Registry
	shell     *shell.Manager
	history   datastore.NotificationRepository
	log       *zap.Logger
	started   time.Time
}

func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		echo:      echo.New(),
		worker:    opts.Worker,
		intercept: opts.Interceptor,
		hub:       opts.Hub,
		bus:       opts.Bus,
		pushState: opts.PushState,
		registry:  opts.Registry,
		shell:     opts.Shell,
		history:   opts.History,
		log:       log,
		started:   time.Now(),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealthz)
	e.GET("/status", s.handleStatus)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	e.GET("/ws", s.hub.Handle)

	pushLimiter := middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:  pushRatePerSecond,
			Burst: pushRateBurst,
		},
	))
	e.POST("/push", s.handlePush, pushLimiter)
	e.POST("/notifications/:id/click", s.handleClick)
	e.GET("/notifications/history", s.handleHistory)

	// Everything else is application traffic and goes through the fetch
	// policy.
	e.Any("/*", s.handleFetch)

	return s
}

// Echo exposes the underlying instance for listening and shutdown.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// fetchExchange is the fetch event payload: the inbound request going in,
// the policy result coming out.
type fetchExchange struct {
	req    *http.Request
	result intercept.Result
}

func (s *Server) handleFetch(c echo.Context) error {
	ex := &fetchExchange{req: c.Request()}
	err := s.worker.Dispatch(c.Request().Context(), worker.KindFetch, ex)
	if err != nil {
		s.log.Warn("fetch failed",
			zap.String("uri", c.Request().RequestURI),
			zap.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream unreachable and no cached copy",
		})
	}

	ent := ex.result.Entry
	h := c.Response().Header()
	for k, vs := range ent.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	h.Set(sourceHeader, string(ex.result.Source))
	return c.Blob(ent.Status, ent.Header.Get("Content-Type"), ent.Body)
}

// FetchHandler builds the worker's fetch event handler. It lives in this
// package so the dispatch table and the HTTP surface agree on the payload
// shape.
func FetchHandler(interceptor *intercept.Interceptor) worker.Handler {
	return func(ctx context.Context, ev *worker.Event) error {
		ex, ok := ev.Payload.(*fetchExchange)
		if !ok {
			return echo.NewHTTPError(http.StatusInternalServerError, "bad fetch payload")
		}
		result, err := interceptor.Intercept(ctx, ex.req, ev)
		if err != nil {
			return err
		}
		ex.result = result
		return nil
	}
}

func (s *Server) handlePush(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPushBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	if len(body) > maxPushBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}
	s.bus.Publish(worker.Delivery{Body: body})
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleClick(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "notification ID is required")
	}
	var body struct {
		Action string `json:"action"`
	}
	// An empty or absent body is the default click.
	_ = c.Bind(&body)

	click := notify.Click{NotificationID: id, Action: body.Action}
	if err := s.worker.Dispatch(c.Request().Context(), worker.KindNotificationClick, click); err != nil {
		s.log.Error("click routing failed", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "click routing failed")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleHistory(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusNotFound, "history persistence is disabled")
	}
	filter := datastore.HistoryFilter{
		Tag:    c.QueryParam("tag"),
		Status: c.QueryParam("status"),
		Limit:  historyDefaultLimit,
	}
	if err := echo.QueryParamsBinder(c).
		Int("limit", &filter.Limit).
		Int("offset", &filter.Offset).
		BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad pagination parameters")
	}
	if filter.Limit > historyMaxLimit {
		filter.Limit = historyMaxLimit
	}
	records, total, err := s.history.List(c.Request().Context(), filter)
	if err != nil {
		s.log.Error("history query failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "history query failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"total":   total,
		"records": records,
	})
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

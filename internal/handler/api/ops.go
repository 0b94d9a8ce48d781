package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"FxAlert/internal/domain/models"
	domrepo "FxAlert/internal/domain/repository"
	xhttp "FxAlert/pkg/http"
	xlogger "FxAlert/pkg/logger"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// OpsHandler serves the read-only operator endpoints.
type OpsHandler struct {
	logger *xlogger.Logger
	states domrepo.SignalStateStore
	events domrepo.EventLog
	subs   domrepo.SubscriptionStore
	checks map[string]HealthCheck
}

func NewOpsHandler(logger *xlogger.Logger, states domrepo.SignalStateStore, events domrepo.EventLog,
	subs domrepo.SubscriptionStore, checks map[string]HealthCheck) *OpsHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &OpsHandler{logger: logger, states: states, events: events, subs: subs, checks: checks}
}

func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/signals/state", h.State)
	g.GET("/signals/history", h.History)
	g.GET("/subscriptions", h.Subscriptions)
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *OpsHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	rep := healthReport{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("health check failed", xlogger.String("check", name), xlogger.Error(err))
			rep.Status = "degraded"
			rep.Checks[name] = "down"
			continue
		}
		rep.Checks[name] = "up"
	}
	if rep.Status != "ok" {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, rep)
	}
	return xhttp.SuccessResponse(c, rep)
}

func normalizeQueryPair(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	p, err := models.NormalizePair(raw)
	if err != nil {
		return "", xhttp.BadRequestError("invalid pair").WithParam("pair", raw)
	}
	return p, nil
}

func (h *OpsHandler) State(c echo.Context) error {
	req := &models.StateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pair, err := normalizeQueryPair(req.Pair)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	all, err := h.states.List(c.Request().Context())
	if err != nil {
		h.logger.Error("list signal states", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, apiError(err))
	}
	rows := make([]models.SignalState, 0, len(all))
	for _, st := range all {
		if pair != "" && st.Pair != pair {
			continue
		}
		if req.Timeframe != "" && string(st.Timeframe) != req.Timeframe {
			continue
		}
		rows = append(rows, st)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *OpsHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pair, err := normalizeQueryPair(req.Pair)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	q := domrepo.HistoryQuery{Pair: pair, Timeframe: models.Timeframe(req.Timeframe), Limit: req.Limit}
	if req.From != "" {
		t, ok := xhttp.ParseTime(req.From)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("invalid from").WithParam("from", req.From))
		}
		q.From = t
	}
	if req.To != "" {
		t, ok := xhttp.ParseTime(req.To)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("invalid to").WithParam("to", req.To))
		}
		q.To = t
	}

	rows, err := h.events.History(c.Request().Context(), q)
	if err != nil {
		h.logger.Error("signal history", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, apiError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *OpsHandler) Subscriptions(c echo.Context) error {
	req := &models.SubscriptionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	var (
		rows []models.Subscription
		err  error
	)
	if req.RecipientID != "" {
		rows, err = h.subs.ListByRecipient(ctx, req.RecipientID)
		if len(rows) > req.Limit {
			rows = rows[:req.Limit]
		}
	} else {
		rows, err = h.subs.ListAll(ctx, req.Limit)
	}
	if err != nil {
		h.logger.Error("list subscriptions", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, apiError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// apiError maps store errors onto API errors. Store outages read as 503 so
// that callers retry.
func apiError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return xhttp.NotFoundError("not found")
	case errors.Is(err, models.ErrInvalidParams):
		return xhttp.BadRequestError("invalid parameters")
	case errors.Is(err, context.Canceled):
		return xhttp.InternalError(err)
	default:
		return xhttp.UnavailableError("store unavailable")
	}
}

package api

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"explorer/internal/explore"
	"explorer/internal/models"
	"explorer/internal/observability"
)

type Handler struct {
	explorer atomic.Pointer[explore.Explorer]
	sessions *explore.Sessions
	broker   *explore.Broker
	metrics  *observability.Metrics
}

func NewHandler(sessions *explore.Sessions, broker *explore.Broker, metrics *observability.Metrics) *Handler {
	h := &Handler{sessions: sessions, broker: broker, metrics: metrics}
	sessions.OnEvict(func(id string) { h.closeStreams(id) })
	return h
}

// SetExplorer swaps in freshly loaded data. Sessions opened on the previous
// data are closed along with their event streams.
func (h *Handler) SetExplorer(ex *explore.Explorer) {
	h.explorer.Store(ex)
	h.closeStreams(h.sessions.Reset()...)
	h.metrics.SetSessions(0)
}

// closeStreams ends the event streams of sessions that no longer exist.
func (h *Handler) closeStreams(ids ...string) {
	for _, id := range ids {
		h.broker.Drop(id)
	}
	h.metrics.SetSubscribers(h.broker.Subscribers())
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))

	api := e.Group("/api", h.requireLoaded)
	api.GET("/meta", h.GetMeta)
	api.POST("/sessions", h.OpenSession)
	api.GET("/sessions/:id", h.GetSession)
	api.DELETE("/sessions/:id", h.CloseSession)
	api.POST("/sessions/:id/sliders/:sampler", h.MoveSlider)
	api.POST("/sessions/:id/cluster", h.SelectCluster)
	api.POST("/sessions/:id/lines/:plot", h.SelectLineColumn)
	api.POST("/sessions/:id/show-all", h.ShowAll)
	api.POST("/sessions/:id/lower-triangle", h.LowerTriangle)
	api.POST("/sessions/:id/training", h.ShowTraining)
	api.POST("/sessions/:id/map", h.SelectMap)
	api.GET("/sessions/:id/sources", h.ListSources)
	api.GET("/sessions/:id/sources/:name", h.GetSource)
	api.GET("/sessions/:id/events", h.Events)
	api.GET("/sessions/:id/page", h.Page)
	api.GET("/sessions/:id/lines/:plot/png", h.LinePNG)
}

// requireLoaded answers 503 until the background load finishes.
func (h *Handler) requireLoaded(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.explorer.Load() == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "data is still loading")
		}
		return next(c)
	}
}

// --- HANDLERS ---
func getPaginationParams(c echo.Context, defaultLimit int) (int, int) {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	offset, err := strconv.Atoi(c.QueryParam("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (h *Handler) Health(c echo.Context) error {
	status := "ok"
	if h.explorer.Load() == nil {
		status = "loading"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":   status,
		"sessions": h.sessions.Len(),
	})
}

func (h *Handler) GetMeta(c echo.Context) error {
	return c.JSON(http.StatusOK, h.explorer.Load().Meta())
}

func (h *Handler) OpenSession(c echo.Context) error {
	s, err := h.sessions.Open(h.explorer.Load())
	if err != nil {
		return toHTTPError(err)
	}
	h.metrics.SetSessions(h.sessions.Len())
	return c.JSON(http.StatusCreated, s.Snapshot())
}

func (h *Handler) session(c echo.Context) (*explore.Session, error) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		return nil, toHTTPError(err)
	}
	return s, nil
}

func (h *Handler) GetSession(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Snapshot())
}

func (h *Handler) CloseSession(c echo.Context) error {
	id := c.Param("id")
	if err := h.sessions.Close(id); err != nil {
		return toHTTPError(err)
	}
	h.closeStreams(id)
	h.metrics.SetSessions(h.sessions.Len())
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MoveSlider(c echo.Context) error {
	var req models.SliderRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	sampler := c.Param("sampler")
	return h.apply(c, explore.EventSlider, func(s *explore.Session) (*models.Update, error) {
		return s.MoveSlider(sampler, req.Value)
	})
}

func (h *Handler) SelectCluster(c echo.Context) error {
	var req models.ClusterRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	return h.apply(c, explore.EventCluster, func(s *explore.Session) (*models.Update, error) {
		return s.SelectCluster(req.Method)
	})
}

func (h *Handler) SelectLineColumn(c echo.Context) error {
	plot, err := strconv.Atoi(c.Param("plot"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "plot must be an integer")
	}
	var req models.LineRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	return h.apply(c, explore.EventLine, func(s *explore.Session) (*models.Update, error) {
		return s.SelectLineColumn(plot, req.Column)
	})
}

func (h *Handler) ShowAll(c echo.Context) error {
	var req models.ToggleRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	return h.apply(c, explore.EventShowAll, func(s *explore.Session) (*models.Update, error) {
		return s.ShowAll(req.Active)
	})
}

func (h *Handler) LowerTriangle(c echo.Context) error {
	var req models.ToggleRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	return h.apply(c, explore.EventLowerTriangle, func(s *explore.Session) (*models.Update, error) {
		return s.SetLowerTriangle(req.Active)
	})
}

func (h *Handler) ShowTraining(c echo.Context) error {
	var req models.ToggleRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	return h.apply(c, explore.EventShowTraining, func(s *explore.Session) (*models.Update, error) {
		return s.SetShowTraining(req.Active)
	})
}

func (h *Handler) SelectMap(c echo.Context) error {
	var req models.MapRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	return h.apply(c, explore.EventMap, func(s *explore.Session) (*models.Update, error) {
		return s.SelectMap(req.Sampler, req.Kind)
	})
}

// apply runs one selection event, records it, and fans the update out to
// the session's event streams.
func (h *Handler) apply(c echo.Context, kind string, event func(*explore.Session) (*models.Update, error)) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}

	start := time.Now()
	up, err := event(s)
	h.metrics.ObserveEvent(kind, err, time.Since(start))
	if err != nil {
		return toHTTPError(err)
	}

	h.broker.Publish(up)
	return c.JSON(http.StatusOK, up)
}

func (h *Handler) ListSources(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}

	names := s.SourceNames()
	out := make([]models.SourceSummary, 0, len(names))
	for _, name := range names {
		ds, ok := s.Source(name)
		if !ok {
			continue
		}
		rows, _ := ds.Rows()
		out = append(out, models.SourceSummary{Name: name, Rows: rows, Columns: ds.Keys()})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetSource(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}

	name := c.Param("name")
	ds, ok := s.Source(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown source "+strconv.Quote(name))
	}
	total, err := ds.Rows()
	if err != nil {
		return toHTTPError(err)
	}
	limit, offset := getPaginationParams(c, total)

	page := models.SourcePage{
		Name:   name,
		Data:   ds.Page(offset, limit),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	return writeCachedJSON(c, page)
}

func (h *Handler) Page(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return renderPage(c, s)
}

func toHTTPError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return echo.NewHTTPError(statusFor(err), err.Error()).SetInternal(err)
}

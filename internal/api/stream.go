package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/zeebo/xxh3"

	"explorer/internal/explore"
	"explorer/internal/render"
)

const keepAlive = 15 * time.Second

// Events streams the session's updates as server-sent events.
func (h *Handler) Events(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}

	updates, cancel := h.broker.Subscribe(s.ID)
	h.metrics.SetSubscribers(h.broker.Subscribers())
	defer func() {
		cancel()
		h.metrics.SetSubscribers(h.broker.Subscribers())
	}()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			data, err := json.Marshal(up)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", up.Event, data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

// writeCachedJSON answers 304 when the client already holds the same body.
func writeCachedJSON(c echo.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	etag := strconv.Quote(strconv.FormatUint(xxh3.Hash(body), 16))

	c.Response().Header().Set("ETag", etag)
	if c.Request().Header.Get("If-None-Match") == etag {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSONBlob(http.StatusOK, body)
}

func renderPage(c echo.Context, s *explore.Session) error {
	var buf bytes.Buffer
	if err := render.Page(&buf, s); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// LinePNG renders one line plot of the session as a static image.
func (h *Handler) LinePNG(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	plot, err := strconv.Atoi(c.Param("plot"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "plot must be an integer")
	}

	st := s.Snapshot()
	if plot < 0 || plot >= len(st.Axes) {
		return toHTTPError(fmt.Errorf("%w: %d", explore.ErrUnknownPlot, plot))
	}

	ex := s.Explorer()
	var buf bytes.Buffer
	err = render.LinePNG(&buf, ex.Meta(), st, st.Axes[plot], ex.Columns().ActiveX)
	if errors.Is(err, render.ErrNoPoints) {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "image/png", buf.Bytes())
}

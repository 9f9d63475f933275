package api_test

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"explorer/internal/api"
	"explorer/internal/config"
	"explorer/internal/explore"
	"explorer/internal/manifest"
	"explorer/internal/models"
	"explorer/internal/observability"
	"explorer/internal/selector"
)

type testServer struct {
	*httptest.Server
	handler *api.Handler
}

func newTestServer(t *testing.T, loaded bool) *testServer {
	t.Helper()
	return newLimitedServer(t, loaded, 8)
}

func newLimitedServer(t *testing.T, loaded bool, maxSessions int) *testServer {
	t.Helper()

	h := api.NewHandler(explore.NewSessions(maxSessions, time.Hour), explore.NewBroker(4), observability.NewMetrics())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(api.NewServer(config.ServerConfig{}, logger, h))
	t.Cleanup(srv.Close)

	if loaded {
		h.SetExplorer(loadToy(t))
	}
	return &testServer{Server: srv, handler: h}
}

func loadToy(t *testing.T) *explore.Explorer {
	t.Helper()

	m, err := manifest.Load(filepath.Join("..", "explore", "testdata", "explorer.yaml"))
	require.NoError(t, err)
	ex, err := explore.Load(context.Background(), m, explore.Options{
		Padding:   selector.Padding{Lower: 0.05, Upper: 0.05},
		LinePlots: 2,
	})
	require.NoError(t, err)
	return ex
}

// subscribe opens the session's event stream and returns once it is live.
func (s *testServer) subscribe(t *testing.T, ctx context.Context, session string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+"/api/sessions/"+session+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return resp
}

func (s *testServer) metrics(t *testing.T) string {
	t.Helper()

	resp := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func (s *testServer) do(t *testing.T, method, path, body string, header ...string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (s *testServer) open(t *testing.T) models.State {
	t.Helper()

	resp := s.do(t, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[models.State](t, resp)
}

func TestUnavailableUntilLoaded(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, false)

	resp := srv.do(t, http.MethodGet, "/api/meta", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "loading", decode[map[string]any](t, resp)["status"])
}

func TestGetMeta(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, true)

	resp := srv.do(t, http.MethodGet, "/api/meta", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	meta := decode[models.Meta](t, resp)
	assert.Equal(t, []string{"uncertainty", "random"}, meta.Samplers)
	assert.Equal(t, 3, meta.ActiveDim)
	assert.Equal(t, 2, meta.SymMult)
}

func TestSessionEvents(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, true)
	st := srv.open(t)
	base := "/api/sessions/" + st.Session

	resp := srv.do(t, http.MethodPost, base+"/sliders/uncertainty", `{"value": 1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	up := decode[map[string]any](t, resp)
	assert.Equal(t, explore.EventSlider, up["event"])
	sources := up["sources"].(map[string]any)
	active := sources["active:uncertainty"].(map[string]any)
	assert.Equal(t, []any{"r0", "r1"}, active["dim1"])

	resp = srv.do(t, http.MethodPost, base+"/cluster", `{"method": "average"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, base+"/lines/0", `{"column": "loss"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	line := decode[models.Update](t, resp)
	require.Len(t, line.Axes, 1)
	assert.InDelta(t, 0.945, line.Axes[0].Range.End, 1e-12)

	resp = srv.do(t, http.MethodPost, base+"/show-all", `{"active": true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[models.State](t, resp)
	assert.Equal(t, "average", state.Method)
	assert.True(t, state.ShowAll)
	assert.Equal(t, 3, state.Sliders["uncertainty"])
}

func TestTogglesAndMap(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, true)
	st := srv.open(t)
	require.NotNil(t, st.Map)
	assert.Equal(t, "uncertainty", st.Map.Sampler)
	base := "/api/sessions/" + st.Session

	resp := srv.do(t, http.MethodPost, base+"/lower-triangle", `{"active": true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	up := decode[models.Update](t, resp)
	assert.Equal(t, explore.EventLowerTriangle, up.Event)
	require.NotNil(t, up.Toggles)
	assert.True(t, up.Toggles.LowerTriangle)

	resp = srv.do(t, http.MethodPost, base+"/training", `{"active": true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, base+"/map", `{"sampler": "random", "kind": "density"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	up = decode[models.Update](t, resp)
	require.NotNil(t, up.Map)
	assert.Equal(t, "density", up.Map.Kind)
	assert.Contains(t, up.Sources, explore.SourcePrediction)

	resp = srv.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[models.State](t, resp)
	assert.Equal(t, models.Toggles{LowerTriangle: true, ShowTraining: true}, state.Toggles)
	assert.Equal(t, "random", state.Map.Sampler)

	resp = srv.do(t, http.MethodGet, base+"/page", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Contains(t, srv.metrics(t), `explorer_selection_events_total{kind="map",status="ok"} 1`)
}

func TestEventErrors(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, true)
	base := "/api/sessions/" + srv.open(t).Session

	cases := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown session", "/api/sessions/nope/cluster", `{"method": "none"}`, http.StatusNotFound},
		{"unknown sampler", base + "/sliders/greedy", `{"value": 1}`, http.StatusNotFound},
		{"slider out of range", base + "/sliders/random", `{"value": 9}`, http.StatusBadRequest},
		{"unknown method", base + "/cluster", `{"method": "centroid"}`, http.StatusNotFound},
		{"unknown column", base + "/lines/0", `{"column": "dim1"}`, http.StatusBadRequest},
		{"unknown plot", base + "/lines/5", `{"column": "loss"}`, http.StatusBadRequest},
		{"bad plot", base + "/lines/x", `{"column": "loss"}`, http.StatusBadRequest},
		{"bad body", base + "/cluster", `{`, http.StatusBadRequest},
		{"unknown map sampler", base + "/map", `{"sampler": "greedy", "kind": "prediction"}`, http.StatusNotFound},
		{"bad toggle", base + "/lower-triangle", `{"active": "yes"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := srv.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestSourcesPagination(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, true)
	base := "/api/sessions/" + srv.open(t).Session

	resp := srv.do(t, http.MethodGet, base+"/sources", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summaries := decode[[]models.SourceSummary](t, resp)
	require.Len(t, summaries, 6)
	assert.Equal(t, explore.SourcePrediction, summaries[5].Name)
	assert.Equal(t, 6, summaries[5].Rows)
	assert.Equal(t, "heatmap", summaries[0].Name)
	assert.Equal(t, 9, summaries[0].Rows)

	resp = srv.do(t, http.MethodGet, base+"/sources/heatmap?limit=4&offset=6", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	page := decode[map[string]any](t, resp)
	assert.EqualValues(t, 9, page["total"])
	assert.EqualValues(t, 6, page["offset"])
	data := page["data"].(map[string]any)
	assert.Len(t, data["entry_value"], 3)

	resp = srv.do(t, http.MethodGet, base+"/sources/heatmap?limit=4&offset=6", "", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, base+"/sources/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCloseSession(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, true)
	base := "/api/sessions/" + srv.open(t).Session

	assert.Equal(t, http.StatusNoContent, srv.do(t, http.MethodDelete, base, "").StatusCode)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, base, "").StatusCode)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodDelete, base, "").StatusCode)
}

func TestPageAndMetrics(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, true)
	base := "/api/sessions/" + srv.open(t).Session

	resp := srv.do(t, http.MethodGet, base+"/page", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	srv.do(t, http.MethodPost, base+"/cluster", `{"method": "ward"}`)

	resp = srv.do(t, http.MethodGet, base+"/lines/0/png", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	srv.do(t, http.MethodPost, base+"/show-all", `{"active": true}`)
	resp = srv.do(t, http.MethodGet, base+"/lines/0/png", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, base+"/lines/7/png", "").StatusCode)

	body := srv.metrics(t)
	assert.Contains(t, body, `explorer_selection_events_total{kind="cluster",status="ok"} 1`)
	assert.Contains(t, body, "explorer_sessions_active 1")
}

func TestEventStream(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, true)
	base := "/api/sessions/" + srv.open(t).Session

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp := srv.subscribe(t, ctx, strings.TrimPrefix(base, "/api/sessions/"))
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Headers are flushed after subscribing.
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, base+"/show-all", `{"active": true}`).StatusCode)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: show_all\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data: {"), line)
}

func TestEvictedSessionStreamEnds(t *testing.T) {
	t.Parallel()

	srv := newLimitedServer(t, true, 1)
	first := srv.open(t).Session

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp := srv.subscribe(t, ctx, first)
	assert.Contains(t, srv.metrics(t), "explorer_event_subscribers 1")

	srv.open(t)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/sessions/"+first, "").StatusCode)

	_, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "stream should end when its session is evicted")
	assert.Contains(t, srv.metrics(t), "explorer_event_subscribers 0")
}

func TestReloadEndsStreams(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, true)
	session := srv.open(t).Session

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp := srv.subscribe(t, ctx, session)

	srv.handler.SetExplorer(loadToy(t))

	_, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "stream should end when the data is reloaded")
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/sessions/"+session, "").StatusCode)
	assert.Contains(t, srv.metrics(t), "explorer_event_subscribers 0")
}

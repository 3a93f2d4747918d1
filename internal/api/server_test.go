package api

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aaronlmathis/voltwatch/internal/config"
	"github.com/aaronlmathis/voltwatch/internal/dashboard"
	"github.com/aaronlmathis/voltwatch/internal/fetch"
)

type stubFetcher struct {
	mu      sync.Mutex
	payload any
	err     error
	devices []string
}

func (f *stubFetcher) FetchTelemetry(_ context.Context, deviceID string, _, _ time.Time) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append(f.devices, deviceID)
	return f.payload, f.err
}

type stubDevices struct {
	devices []fetch.Device
	err     error
}

func (d *stubDevices) ListDevices(context.Context) ([]fetch.Device, error) {
	return d.devices, d.err
}

type stubReadiness struct{ err error }

func (s stubReadiness) TestConnection(context.Context) error { return s.err }

type stubStream struct{ room string }

func (s *stubStream) ServeWS(w http.ResponseWriter, _ *http.Request, room string) {
	s.room = room
	w.WriteHeader(http.StatusSwitchingProtocols)
}

// columnarPayload holds four readings between 09:00 and 12:00 UTC
func columnarPayload() any {
	return map[string]any{
		"results": []any{map[string]any{
			"series": []any{map[string]any{
				"columns": []any{"time", "state_of_charge", "voltage", "cell1", "cell2", "charging"},
				"values": []any{
					[]any{"2024-03-01T09:00:00Z", 60.0, 52.0, 3.30, 3.31, false},
					[]any{"2024-03-01T10:00:00Z", 70.0, 52.4, 3.31, 3.31, true},
					[]any{"2024-03-01T11:00:00Z", 80.0, 52.8, 3.32, 3.30, true},
					[]any{"2024-03-01T12:00:00Z", 90.0, 53.0, 3.33, 3.30, true},
				},
			}},
		}},
	}
}

type testEnv struct {
	server  *Server
	fetcher *stubFetcher
	devices *stubDevices
	stream  *stubStream
}

func newTestEnv(t *testing.T, deviceID string) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	fetcher := &stubFetcher{payload: columnarPayload()}
	state := dashboard.NewState(dashboard.Selection{DeviceID: deviceID, Window: 24 * time.Hour, MaxHour: 23})
	svc := dashboard.NewService(logger, state, fetcher,
		dashboard.WithLocation(time.UTC),
		dashboard.WithClock(func() time.Time { return time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC) }))

	cfg := &config.Config{Server: config.ServerConfig{
		RequestTimeout: "5s",
		CORS:           config.CORSConfig{AllowOrigins: []string{"http://localhost:5173"}},
	}}
	env := &testEnv{
		fetcher: fetcher,
		devices: &stubDevices{devices: []fetch.Device{{ID: "pack-1", Name: "Garage"}}},
		stream:  &stubStream{},
	}
	env.server = NewServer(logger, cfg, Dependencies{
		Dashboard: svc,
		Devices:   env.devices,
		Readiness: stubReadiness{},
		Stream:    env.stream,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHealthVersionMetrics(t *testing.T) {
	env := newTestEnv(t, "pack-1")

	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/version", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec), "version")

	rec = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voltwatch_http_requests_total")
}

func TestReadyz_UpstreamDown(t *testing.T) {
	env := newTestEnv(t, "pack-1")
	env.server.readiness = stubReadiness{err: errors.New("connection refused")}

	rec := env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "error", decodeBody(t, rec)["status"])
}

func TestListDevices(t *testing.T) {
	env := newTestEnv(t, "pack-1")

	rec := env.do(t, http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])

	env.devices.err = errors.New("boom")
	rec = env.do(t, http.MethodGet, "/api/v1/devices", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestState(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/api/v1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "", body["deviceId"])
	assert.Equal(t, "24h0m0s", body["window"])
	assert.Equal(t, "UTC", body["timezone"])

	rec = env.do(t, http.MethodPut, "/api/v1/state", `{"deviceId":"pack-7","window":"6h","minHour":8,"maxHour":20}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decodeBody(t, rec)
	state := body["state"].(map[string]interface{})
	assert.Equal(t, "pack-7", state["deviceId"])
	assert.Equal(t, "6h0m0s", state["window"])
	assert.Contains(t, body, "status")
	assert.Equal(t, []string{"pack-7"}, env.fetcher.devices)

	rec = env.do(t, http.MethodPut, "/api/v1/state", `{"start":"2024-03-01T00:00:00Z","end":"2024-03-02T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	state = decodeBody(t, rec)["state"].(map[string]interface{})
	assert.Equal(t, "2024-03-01T00:00:00Z", state["start"])
	assert.NotContains(t, state, "window")
}

func TestPutState_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"deviceId":`},
		{"unknown key", `{"device":"pack-1"}`},
		{"bad window", `{"window":"tomorrow"}`},
		{"inverted hours", `{"minHour":20,"maxHour":4}`},
		{"start without end", `{"start":"2024-03-01T00:00:00Z"}`},
		{"unparseable start", `{"start":"soon","end":"2024-03-01T00:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "pack-1")
			rec := env.do(t, http.MethodPut, "/api/v1/state", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "error", decodeBody(t, rec)["status"])
			assert.Empty(t, env.fetcher.devices)
		})
	}
}

func TestStateRequest_ZonelessBoundsUseDashboardZone(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	start, end := "2024-03-01 00:00", "2024-03-02 00:00"
	sel, err := stateRequest{Start: &start, End: &end}.apply(dashboard.Selection{DeviceID: "pack-1", MaxHour: 23}, kolkata)
	require.NoError(t, err)
	assert.True(t, sel.Start.Equal(time.Date(2024, 2, 29, 18, 30, 0, 0, time.UTC)), "got %s", sel.Start)
	assert.Equal(t, 24*time.Hour, sel.End.Sub(sel.Start))
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	env = newTestEnv(t, "pack-1")
	rec = env.do(t, http.MethodPost, "/api/v1/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["charging"])
	assert.Equal(t, float64(4), body["samples"])

	env.fetcher.err = errors.New("upstream down")
	rec = env.do(t, http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, "pack-1")

	rec := env.do(t, http.MethodGet, "/api/v1/stats?fields=state_of_charge,soh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "pack-1", body["deviceId"])
	assert.Equal(t, false, body["noDataForRange"])

	statistics := body["statistics"].([]interface{})
	require.Len(t, statistics, 1)
	soc := statistics[0].(map[string]interface{})
	assert.Equal(t, "soc", soc["field"])
	assert.Equal(t, 90.0, soc["current"])
	assert.Equal(t, 30.0, soc["trend"])

	rec = env.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["statistics"], 4)
}

func TestDeviations(t *testing.T) {
	env := newTestEnv(t, "pack-1")

	rec := env.do(t, http.MethodGet, "/api/v1/deviations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "history", body["mode"])
	assert.Len(t, body["deviations"], 2)

	rec = env.do(t, http.MethodGet, "/api/v1/deviations?mode=balance&fields=cell1,cell2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "balance", decodeBody(t, rec)["mode"])

	rec = env.do(t, http.MethodGet, "/api/v1/deviations?mode=sideways", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus_NoDataForRange(t *testing.T) {
	env := newTestEnv(t, "pack-1")
	env.fetcher.payload = map[string]any{"series": nil}

	rec := env.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["noDataForRange"])
	assert.Equal(t, float64(0), body["samples"])

	rec = env.do(t, http.MethodGet, "/api/v1/charts/soc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["noDataForRange"])
	assert.NotContains(t, body, "geometry")
}

func TestSeries(t *testing.T) {
	env := newTestEnv(t, "pack-1")

	rec := env.do(t, http.MethodGet, "/api/v1/series", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "columnar", body["shape"])
	series := body["series"].(map[string]interface{})
	assert.Len(t, series["samples"], 4)

	// served from the snapshot, not refetched
	env.do(t, http.MethodGet, "/api/v1/series", "")
	assert.Len(t, env.fetcher.devices, 1)
}

func TestChart(t *testing.T) {
	env := newTestEnv(t, "pack-1")

	rec := env.do(t, http.MethodGet, "/api/v1/charts/soc?width=400&height=200", "")
	require.Equal(t, http.StatusOK, rec.Code)
	geometry := decodeBody(t, rec)["geometry"].(map[string]interface{})
	assert.Equal(t, 400.0, geometry["width"])
	assert.Len(t, geometry["points"], 4)

	rec = env.do(t, http.MethodGet, "/api/v1/charts/soh", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/charts/soc?width=5", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/charts/cell1.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 800, img.Bounds().Dx())

	rec = env.do(t, http.MethodGet, "/api/v1/charts/soh.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestETag(t *testing.T) {
	env := newTestEnv(t, "pack-1")

	rec := env.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = env.do(t, http.MethodGet, "/api/v1/status", "", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, "pack-1")

	rec := env.do(t, http.MethodOptions, "/api/v1/state", "", "Origin", "http://localhost:5173")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(t, http.MethodGet, "/healthz", "", "Origin", "http://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStream(t *testing.T) {
	env := newTestEnv(t, "pack-1")

	env.do(t, http.MethodGet, "/api/v1/stream", "")
	assert.Equal(t, "pack-1", env.stream.room)

	env.do(t, http.MethodGet, "/api/v1/stream?device=pack-9", "")
	assert.Equal(t, "pack-9", env.stream.room)

	env = newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/api/v1/stream", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestParseFieldsParam(t *testing.T) {
	assert.Nil(t, parseFieldsParam(" "))
	assert.Equal(t, []string{"soc", "cell_1", "temp_2"}, parseFieldsParam("state_of_charge, cell1,,temperature2,soc"))
}

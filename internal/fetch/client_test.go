package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

func newTestClient(t *testing.T, server *httptest.Server, auth AuthConfig, cache Cache) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), zaptest.NewLogger(t), Config{
		BaseURL:       server.URL + "/api",
		DevicesPath:   "/devices",
		TelemetryPath: "/devices/{device}/telemetry",
		Timeout:       5 * time.Second,
		RatePerSecond: 100,
		Burst:         10,
		CacheTTL:      time.Minute,
		Auth:          auth,
	}, cache)
	require.NoError(t, err)
	return client
}

func TestFetchTelemetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/devices/pack%2F7/telemetry", r.URL.EscapedPath())
		assert.Equal(t, "2024-03-01T00:00:00Z", r.URL.Query().Get("start"))
		assert.Equal(t, "2024-03-02T00:00:00Z", r.URL.Query().Get("end"))
		assert.Contains(t, r.Header.Get("User-Agent"), "voltwatch/")
		_, _ = w.Write([]byte(`{"results":[{"series":[{"columns":["time","soc"],"values":[["2024-03-01T01:00:00Z",77]]}]}]}`))
	}))
	defer server.Close()

	cache := NewMemoryCache(time.Minute)
	defer cache.Close()
	client := newTestClient(t, server, AuthConfig{}, cache)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	for i := 0; i < 2; i++ {
		raw, err := client.FetchTelemetry(context.Background(), "pack/7", start, end)
		require.NoError(t, err)

		result := telemetry.NormalizeRawPayload("pack/7", raw)
		require.Equal(t, 1, result.Series.Len())
		assert.Equal(t, 77.0, result.Series.Samples[0].Value(telemetry.FieldSOC))
	}
	assert.Equal(t, int32(1), calls.Load(), "second fetch is served from cache")
	assert.Equal(t, 1, cache.Len())
}

func TestFetchTelemetry_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "device offline", http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server, AuthConfig{}, nil)
	_, err := client.FetchTelemetry(context.Background(), "pack-7", time.Now().Add(-time.Hour), time.Now())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamStatus))
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "device offline")
}

func TestFetchTelemetry_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	client := newTestClient(t, server, AuthConfig{}, nil)
	_, err := client.FetchTelemetry(context.Background(), "pack-7", time.Now().Add(-time.Hour), time.Now())
	assert.Error(t, err)
}

func TestFetchTelemetry_RequiresDevice(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := newTestClient(t, server, AuthConfig{}, nil)
	_, err := client.FetchTelemetry(context.Background(), "", time.Now(), time.Now())
	assert.Error(t, err)
}

func TestListDevices(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []Device
	}{
		{
			name: "objects",
			body: `[{"id":"pack-2","name":"Garage"},{"device_id":"pack-1"},{"name":"no id"}]`,
			want: []Device{{ID: "pack-1", Name: "pack-1"}, {ID: "pack-2", Name: "Garage"}},
		},
		{
			name: "ids",
			body: `["b","a"]`,
			want: []Device{{ID: "a", Name: "a"}, {ID: "b", Name: "b"}},
		},
		{
			name: "wrapped",
			body: `{"devices":[{"serial":12345}]}`,
			want: []Device{{ID: "12345", Name: "12345"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/devices", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			devices, err := newTestClient(t, server, AuthConfig{}, nil).ListDevices(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, devices)
		})
	}
}

func TestBearerAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(t, server, AuthConfig{Mode: AuthBearer, Token: "s3cret"}, nil)
	assert.NoError(t, client.TestConnection(context.Background()))
}

func TestOAuth2ClientCredentialsWithDiscovery(t *testing.T) {
	var tokenRequests atomic.Int32
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 server.URL,
			"authorization_endpoint": server.URL + "/authorize",
			"token_endpoint":         server.URL + "/token",
			"jwks_uri":               server.URL + "/jwks",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"issued-token","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/api/devices", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer issued-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`["pack-1"]`))
	})

	client := newTestClient(t, server, AuthConfig{
		Mode:         AuthOAuth2,
		Issuer:       server.URL,
		ClientID:     "voltwatch",
		ClientSecret: "secret",
	}, nil)

	for i := 0; i < 3; i++ {
		devices, err := client.ListDevices(context.Background())
		require.NoError(t, err)
		assert.Len(t, devices, 1)
	}
	assert.Equal(t, int32(1), tokenRequests.Load(), "token is reused until it expires")
}

func TestNewClient_RejectsBadConfig(t *testing.T) {
	_, err := NewClient(context.Background(), zaptest.NewLogger(t), Config{BaseURL: "not a url"}, nil)
	assert.Error(t, err)

	_, err = NewClient(context.Background(), zaptest.NewLogger(t), Config{
		BaseURL: "http://localhost",
		Auth:    AuthConfig{Mode: "kerberos"},
	}, nil)
	assert.Error(t, err)
}

func TestMemoryCache(t *testing.T) {
	cache := NewMemoryCache(time.Hour)
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, cache.Set(ctx, "b", []byte("2"), -time.Second))

	got, ok, err := cache.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), got)

	_, ok, _ = cache.Get(ctx, "b")
	assert.False(t, ok, "expired entries are misses")

	cache.sweep(time.Now())
	assert.Equal(t, 1, cache.Len())

	cache.Close()
	cache.Close()
}

package openweather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

const currentPayload = `{"current":{"dt":1700000000,"temp":12.5,"humidity":81,"pressure":1013,"weather":[{"description":"light rain"}]}}`

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(nil, Config{
		APIKey:  "key",
		BaseURL: url,
		Lat:     33.8888,
		Lon:     -84.5095,
		Backoff: BackoffConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	if _, err := NewClient(nil, Config{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestFetchCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("appid") != "key" || q.Get("units") != "metric" || q.Get("lat") != "33.8888" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, currentPayload)
	}))
	defer srv.Close()

	obs, err := testClient(t, srv.URL).FetchCurrent(context.Background())
	if err != nil {
		t.Fatalf("FetchCurrent: %v", err)
	}
	if obs.Temperature != 12.5 || obs.Humidity != 81 || obs.Pressure != 1013 {
		t.Errorf("unexpected observation: %+v", obs)
	}
	if obs.Description != "Light Rain" {
		t.Errorf("Description = %q, want Light Rain", obs.Description)
	}
	if !obs.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Timestamp = %v", obs.Timestamp)
	}
}

func TestFetchCurrent_Caches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, currentPayload)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.FetchCurrent(context.Background()); err != nil {
			t.Fatalf("FetchCurrent: %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 upstream call, got %d", got)
	}
}

func TestFetchCurrent_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, currentPayload)
	}))
	defer srv.Close()

	if _, err := testClient(t, srv.URL).FetchCurrent(context.Background()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestFetchCurrent_Unauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).FetchCurrent(context.Background())
	if !errors.Is(err, errUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("unauthorized responses must not be retried, got %d calls", calls.Load())
	}
}

func TestFetchCurrent_MissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"current":{"dt":1700000000,"temp":12.5}}`)
	}))
	defer srv.Close()

	if _, err := testClient(t, srv.URL).FetchCurrent(context.Background()); err == nil {
		t.Fatal("expected error for incomplete payload")
	}
}

func TestFetchCurrent_ServesStaleOnFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, currentPayload)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	now := time.Now()
	c.now = func() time.Time { return now }
	if _, err := c.FetchCurrent(context.Background()); err != nil {
		t.Fatalf("FetchCurrent: %v", err)
	}

	fail.Store(true)
	now = now.Add(10 * time.Minute)
	obs, err := c.FetchCurrent(context.Background())
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if obs.Temperature != 12.5 {
		t.Errorf("expected stale observation, got %+v", obs)
	}
}

func TestDoRequestWithResilience_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "test"})
	cfg := HTTPClientConfig{Client: http.DefaultClient, Backoff: BackoffConfig{InitialInterval: time.Millisecond}}
	_, err := doRequestWithResilience(ctx, cfg, cb, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:1", nil)
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDoRequestWithResilience_InvalidConfig(t *testing.T) {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "test"})
	_, err := doRequestWithResilience(context.Background(), HTTPClientConfig{}, cb, nil)
	if !errors.Is(err, errNoHTTPClient) {
		t.Errorf("expected errNoHTTPClient, got %v", err)
	}
	_, err = doRequestWithResilience(context.Background(), HTTPClientConfig{Client: http.DefaultClient}, cb, nil)
	if !errors.Is(err, errInvalidConfig) {
		t.Errorf("expected errInvalidConfig, got %v", err)
	}
}

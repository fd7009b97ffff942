// Package openweather fetches official current conditions from the
// OpenWeatherMap One Call API and compares them with local readings, as a
// sanity check on sensor calibration.
package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// DefaultBaseURL is the One Call 3.0 endpoint.
const DefaultBaseURL = "https://api.openweathermap.org/data/3.0/onecall"

// Config configures a Client.
type Config struct {
	APIKey   string
	BaseURL  string
	Lat      float64
	Lon      float64
	CacheTTL time.Duration
	Backoff  BackoffConfig
}

// Observation is the official current conditions at the station's coordinates.
type Observation struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"` // °C
	Humidity    float64   `json:"humidity"`    // %
	Pressure    float64   `json:"pressure"`    // hPa
	Description string    `json:"description,omitempty"`
}

// Client fetches official observations.
type Client struct {
	cfg     Config
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	now     func() time.Time

	mu        sync.Mutex
	cached    *Observation
	fetchedAt time.Time
}

// NewClient creates a client. A nil httpClient uses a 10s-timeout default.
func NewClient(httpClient *http.Client, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openweather api key is not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Backoff.InitialInterval <= 0 {
		cfg.Backoff = BackoffConfig{MaxRetries: 3, InitialInterval: 500 * time.Millisecond, MaxInterval: 5 * time.Second}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		cfg:     cfg,
		httpCfg: HTTPClientConfig{Client: httpClient, Backoff: cfg.Backoff},
		circuit: cb,
		now:     time.Now,
	}, nil
}

// FetchCurrent returns the current official observation, served from cache
// within the cache TTL. When a fetch fails and a cached observation exists,
// the cached value is returned with the error.
func (c *Client) FetchCurrent(ctx context.Context) (Observation, error) {
	c.mu.Lock()
	if c.cached != nil && c.now().Sub(c.fetchedAt) < c.cfg.CacheTTL {
		obs := *c.cached
		c.mu.Unlock()
		return obs, nil
	}
	c.mu.Unlock()

	obs, err := c.fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.cached != nil {
			return *c.cached, err
		}
		return Observation{}, err
	}
	c.cached = &obs
	c.fetchedAt = c.now()
	return obs, nil
}

func (c *Client) fetch(ctx context.Context) (Observation, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", strconv.FormatFloat(c.cfg.Lat, 'f', 4, 64))
		values.Set("lon", strconv.FormatFloat(c.cfg.Lon, 'f', 4, 64))
		values.Set("appid", c.cfg.APIKey)
		values.Set("units", "metric")
		values.Set("exclude", "minutely,hourly,daily,alerts")
		return http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s?%s", c.cfg.BaseURL, values.Encode()), nil)
	}

	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, buildRequest)
	if err != nil {
		return Observation{}, fmt.Errorf("failed to fetch official weather: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Current struct {
			Dt       int64    `json:"dt"`
			Temp     *float64 `json:"temp"`
			Humidity *float64 `json:"humidity"`
			Pressure *float64 `json:"pressure"`
			Weather  []struct {
				Description string `json:"description"`
			} `json:"weather"`
		} `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Observation{}, fmt.Errorf("failed to decode official weather: %w", err)
	}

	cur := payload.Current
	if cur.Temp == nil || cur.Humidity == nil || cur.Pressure == nil {
		return Observation{}, errors.New("official weather response is missing current conditions")
	}
	obs := Observation{
		Timestamp:   time.Unix(cur.Dt, 0).UTC(),
		Temperature: *cur.Temp,
		Humidity:    *cur.Humidity,
		Pressure:    *cur.Pressure,
	}
	if cur.Dt == 0 {
		obs.Timestamp = c.now().UTC()
	}
	if len(cur.Weather) > 0 {
		obs.Description = titleCase(cur.Weather[0].Description)
	}
	return obs, nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

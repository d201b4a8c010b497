package salesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/cashier_backend/config"
	"golang.org/x/time/rate"
)

type ClientConfig struct {
	BaseURL         string
	APIKey          string
	APIKeyHeader    string
	RateLimitPerMin int
	Timeout         time.Duration
}

// ClientConfigFromEnv reads POS_API_* settings.
func ClientConfigFromEnv() ClientConfig {
	return ClientConfig{
		BaseURL:         strings.TrimSpace(os.Getenv("POS_API_BASE_URL")),
		APIKey:          strings.TrimSpace(os.Getenv("POS_API_KEY")),
		APIKeyHeader:    strings.TrimSpace(os.Getenv("POS_API_KEY_HEADER")),
		RateLimitPerMin: config.IntFromEnv("POS_RATE_LIMIT_PER_MIN", 10),
		Timeout:         30 * time.Second,
	}
}

type posClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   *rate.Limiter
}

func newPosClient(cfg ClientConfig) (*posClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("pos api base url is empty")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("pos api key is empty")
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &posClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiKeyHdr: cfg.APIKeyHeader,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitPerMin)), 1),
	}, nil
}

type posListResponse struct {
	Data       []json.RawMessage `json:"data"`
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

func (r posListResponse) records() []json.RawMessage {
	if len(r.Data) > 0 {
		return r.Data
	}
	return r.Items
}

func (r posListResponse) more() bool {
	if r.HasMore != nil {
		return *r.HasMore && r.NextCursor != ""
	}
	return r.NextCursor != ""
}

func (c *posClient) getList(ctx context.Context, path string, params url.Values) (posListResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return posListResponse{}, err
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return posListResponse{}, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return posListResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return posListResponse{}, fmt.Errorf("pos api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed posListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return posListResponse{}, err
	}
	return parsed, nil
}

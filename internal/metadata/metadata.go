// Package metadata implements the TMDB-backed lookup service that supplies
// the Match Worker Pool's duration filter with expected episode runtimes
// (internal/matchpool.MetadataSource).
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/matchpool"
)

const (
	defaultBaseURL = "https://api.themoviedb.org/3"
	defaultTimeout = 20 * time.Second
)

// Client queries TMDB for series and episode metadata, rate limited to the
// configured requests-per-second ceiling.
type Client struct {
	apiKey   string
	baseURL  string
	language string
	http     *http.Client
	limiter  *rate.Limiter
}

// New builds a Client from the loaded TMDB config group. APIKey is accepted
// either as a classic v3 API key (sent as a query parameter) or a v4 bearer
// read access token (sent as an Authorization header); a key containing
// exactly two dots is treated as a bearer token.
func New(cfg config.TMDB) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = "en-US"
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 30
	}
	return &Client{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		baseURL:  baseURL,
		language: language,
		http:     &http.Client{Timeout: defaultTimeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// isBearerToken reports whether apiKey looks like a v4 read access token
// (a JWT) rather than a v3 API key (a 32-character hex string).
func (c *Client) isBearerToken() bool {
	return strings.Count(c.apiKey, ".") == 2
}

func (c *Client) authorize(req *http.Request, params url.Values) {
	if c.isBearerToken() {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	} else {
		params.Set("api_key", c.apiKey)
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.apiKey == "" {
		return errors.New("metadata: tmdb api key is not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if params == nil {
		params = url.Values{}
	}
	if params.Get("language") == "" {
		params.Set("language", c.language)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("metadata: build request: %w", err)
	}
	c.authorize(req, params)
	req.URL.RawQuery = params.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("metadata: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("metadata: tmdb returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("metadata: decode response: %w", err)
	}
	return nil
}

type searchResult struct {
	Results []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"results"`
}

type seasonResult struct {
	Episodes []struct {
		EpisodeNumber int `json:"episode_number"`
		Runtime       int `json:"runtime"`
	} `json:"episodes"`
}

// ResolveSeriesID searches TMDB for a TV series by name and returns its ID.
func (c *Client) ResolveSeriesID(ctx context.Context, seriesName string) (int, error) {
	var result searchResult
	params := url.Values{"query": {seriesName}}
	if err := c.get(ctx, "/search/tv", params, &result); err != nil {
		return 0, err
	}
	if len(result.Results) == 0 {
		return 0, fmt.Errorf("metadata: no tmdb series found for %q", seriesName)
	}
	return result.Results[0].ID, nil
}

// EpisodeRuntimes implements matchpool.MetadataSource: it resolves the
// series by name, then fetches the named season's episode list and returns
// each episode's TMDB-reported runtime in minutes.
func (c *Client) EpisodeRuntimes(ctx context.Context, seriesName string, season int) ([]matchpool.EpisodeRuntime, error) {
	seriesID, err := c.ResolveSeriesID(ctx, seriesName)
	if err != nil {
		return nil, err
	}

	var result seasonResult
	path := "/tv/" + strconv.Itoa(seriesID) + "/season/" + strconv.Itoa(season)
	if err := c.get(ctx, path, nil, &result); err != nil {
		return nil, err
	}

	runtimes := make([]matchpool.EpisodeRuntime, 0, len(result.Episodes))
	for _, ep := range result.Episodes {
		if ep.Runtime <= 0 {
			continue
		}
		runtimes = append(runtimes, matchpool.EpisodeRuntime{Minutes: float64(ep.Runtime)})
	}
	if len(runtimes) == 0 {
		return nil, fmt.Errorf("metadata: tmdb reported no runtimes for %q season %d", seriesName, season)
	}
	return runtimes, nil
}

package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ingestorchestrator/internal/config"
)

func TestEpisodeRuntimesResolvesSeriesThenSeason(t *testing.T) {
	var seenPaths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPaths = append(seenPaths, r.URL.Path)
		switch r.URL.Path {
		case "/search/tv":
			json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]any{{"id": 42, "name": "Example Show"}},
			})
		case "/tv/42/season/1":
			json.NewEncoder(w).Encode(map[string]any{
				"episodes": []map[string]any{
					{"episode_number": 1, "runtime": 42},
					{"episode_number": 2, "runtime": 0}, // missing runtime, should be skipped
					{"episode_number": 3, "runtime": 45},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(config.TMDB{APIKey: "test-key", BaseURL: server.URL, RequestsPerSecond: 1000})

	runtimes, err := client.EpisodeRuntimes(context.Background(), "Example Show", 1)
	if err != nil {
		t.Fatalf("EpisodeRuntimes() error = %v", err)
	}
	if len(runtimes) != 2 {
		t.Fatalf("len(runtimes) = %d, want 2 (zero-runtime episode skipped)", len(runtimes))
	}
	if runtimes[0].Minutes != 42 || runtimes[1].Minutes != 45 {
		t.Fatalf("runtimes = %+v, want [42 45]", runtimes)
	}
	if len(seenPaths) != 2 || seenPaths[0] != "/search/tv" || seenPaths[1] != "/tv/42/season/1" {
		t.Fatalf("seenPaths = %v, want search then season lookup", seenPaths)
	}
}

func TestEpisodeRuntimesErrorsWhenSeriesNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	}))
	defer server.Close()

	client := New(config.TMDB{APIKey: "test-key", BaseURL: server.URL, RequestsPerSecond: 1000})
	if _, err := client.EpisodeRuntimes(context.Background(), "Unknown Show", 1); err == nil {
		t.Fatal("EpisodeRuntimes() error = nil, want error when series not found")
	}
}

func TestGetRequiresAPIKey(t *testing.T) {
	client := New(config.TMDB{})
	var out struct{}
	if err := client.get(context.Background(), "/search/tv", nil, &out); err == nil {
		t.Fatal("get() error = nil, want error when api key missing")
	}
}

func TestAuthorizeUsesBearerForJWTShapedKey(t *testing.T) {
	client := New(config.TMDB{APIKey: "a.b.c"})
	if !client.isBearerToken() {
		t.Fatal("isBearerToken() = false, want true for dotted JWT-shaped key")
	}

	client2 := New(config.TMDB{APIKey: "deadbeefcafef00d"})
	if client2.isBearerToken() {
		t.Fatal("isBearerToken() = true, want false for a plain v3 key")
	}
}

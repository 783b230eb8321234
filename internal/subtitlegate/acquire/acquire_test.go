package acquire

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/jobqueue"
	"ingestorchestrator/internal/subtitles/opensubtitles"
)

func newTestAcquirer(t *testing.T, server *httptest.Server) *Acquirer {
	t.Helper()
	client, err := opensubtitles.New(opensubtitles.Config{
		APIKey:    "abc",
		UserAgent: "ingestorchestrator/test",
		BaseURL:   server.URL,
	})
	if err != nil {
		t.Fatalf("opensubtitles.New returned error: %v", err)
	}
	return newAcquirer(client, []string{"en"}, filepath.Join(t.TempDir(), "subtitles"), nil, nil)
}

func TestNewReturnsNilWhenDisabled(t *testing.T) {
	cfg := &config.Config{}
	acquirer, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if acquirer != nil {
		t.Fatal("expected a nil acquirer when subtitles are disabled")
	}
}

func TestAcquireDownloadsRankedCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/subtitles":
			resp := map[string]any{
				"data": []map[string]any{
					{
						"id": "1",
						"attributes": map[string]any{
							"language":       "en",
							"download_count": 100,
							"files":          []map[string]any{{"file_id": 1}},
						},
					},
				},
				"meta": map[string]any{"total_count": 1},
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "/download":
			resp := map[string]any{
				"link":      "/payload",
				"file_name": "show.s01e01.en.srt",
				"language":  "en",
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "/payload":
			_, _ = w.Write([]byte("1\n00:00:00,000 --> 00:00:01,000\nHello\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	acquirer := newTestAcquirer(t, server)
	status, err := acquirer.Acquire(context.Background(), 42, "Example Show", 1)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if status != jobqueue.SubtitleCompleted {
		t.Fatalf("expected SubtitleCompleted, got %s", status)
	}

	path := filepath.Join(acquirer.rootDir, "42", "show.s01e01.en.srt")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected downloaded subtitle at %s: %v", path, err)
	}
}

func TestAcquireSkipsDownloadOnCacheHit(t *testing.T) {
	downloadCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/subtitles":
			resp := map[string]any{
				"data": []map[string]any{
					{
						"id": "1",
						"attributes": map[string]any{
							"language":       "en",
							"download_count": 100,
							"files":          []map[string]any{{"file_id": 7}},
						},
					},
				},
				"meta": map[string]any{"total_count": 1},
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "/download":
			downloadCalls++
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := opensubtitles.New(opensubtitles.Config{APIKey: "abc", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("opensubtitles.New returned error: %v", err)
	}
	cacheDir := t.TempDir()
	cache, err := opensubtitles.NewCache(cacheDir, nil)
	if err != nil {
		t.Fatalf("NewCache returned error: %v", err)
	}
	if _, err := cache.Store(opensubtitles.CacheEntry{FileID: 7, Language: "en", FileName: "cached.srt"}, []byte("cached body")); err != nil {
		t.Fatalf("cache.Store returned error: %v", err)
	}

	acquirer := newAcquirer(client, []string{"en"}, filepath.Join(t.TempDir(), "subtitles"), cache, nil)
	status, err := acquirer.Acquire(context.Background(), 11, "Cached Show", 2)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if status != jobqueue.SubtitleCompleted {
		t.Fatalf("expected SubtitleCompleted, got %s", status)
	}
	if downloadCalls != 0 {
		t.Fatalf("expected cache hit to skip download, got %d download calls", downloadCalls)
	}

	path := filepath.Join(acquirer.rootDir, "11", "cached.srt")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected cached subtitle written to disk: %v", err)
	}
	if string(data) != "cached body" {
		t.Fatalf("expected cached body, got %q", string(data))
	}
}

func TestAcquireRetriesTransientDownloadFailure(t *testing.T) {
	downloadAttempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/subtitles":
			resp := map[string]any{
				"data": []map[string]any{
					{
						"id": "1",
						"attributes": map[string]any{
							"language":       "en",
							"download_count": 100,
							"files":          []map[string]any{{"file_id": 9}},
						},
					},
				},
				"meta": map[string]any{"total_count": 1},
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "/download":
			downloadAttempts++
			if downloadAttempts == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			resp := map[string]any{
				"link":      "/payload",
				"file_name": "retry.srt",
				"language":  "en",
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "/payload":
			_, _ = w.Write([]byte("1\n00:00:00,000 --> 00:00:01,000\nRetried\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	acquirer := newTestAcquirer(t, server)
	start := time.Now()
	status, err := acquirer.Acquire(context.Background(), 5, "Flaky Show", 1)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if status != jobqueue.SubtitleCompleted {
		t.Fatalf("expected SubtitleCompleted after retry, got %s", status)
	}
	if downloadAttempts != 2 {
		t.Fatalf("expected exactly one retry, got %d attempts", downloadAttempts)
	}
	if elapsed := time.Since(start); elapsed < opensubtitles.InitialBackoff {
		t.Fatalf("expected retry to wait at least the initial backoff, waited %s", elapsed)
	}
}

func TestAcquireReturnsNoneWithoutResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"data": []map[string]any{}, "meta": map[string]any{"total_count": 0}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	acquirer := newTestAcquirer(t, server)
	status, err := acquirer.Acquire(context.Background(), 7, "Empty Show", 3)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if status != jobqueue.SubtitleNone {
		t.Fatalf("expected SubtitleNone, got %s", status)
	}
}

// Package acquire implements subtitlegate.Acquirer against the OpenSubtitles
// REST API, giving the Subtitle Coordinator a concrete collaborator to drive.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/jobqueue"
	"ingestorchestrator/internal/subtitles/opensubtitles"
)

// maxDownloadsPerJob bounds how many candidate subtitle files a single
// acquisition writes to disk. OpenSubtitles search results are already
// ordered by download_count, so the first few are the ones worth keeping.
const maxDownloadsPerJob = 5

// Acquirer satisfies subtitlegate.Acquirer by running one season-level
// OpenSubtitles search per job and downloading the top-ranked results into a
// per-job directory under the staging tree.
type Acquirer struct {
	client    *opensubtitles.Client
	languages []string
	rootDir   string
	cache     *opensubtitles.Cache
	logger    *slog.Logger
}

// New builds an Acquirer from subtitle configuration. It returns a nil
// Acquirer and a nil error when subtitle acquisition is disabled or no API
// key is configured, so the daemon still starts: the caller wires the nil
// Acquirer, whose Acquire reports SubtitleNone, and the Subtitle Coordinator
// records that as SubtitleFailed for the job.
func New(cfg *config.Config, logger *slog.Logger) (*Acquirer, error) {
	if cfg == nil {
		return nil, errors.New("acquire: config is required")
	}
	if !cfg.Subtitles.Enabled || strings.TrimSpace(cfg.Subtitles.OpenSubtitlesAPIKey) == "" {
		return nil, nil
	}

	client, err := opensubtitles.New(opensubtitles.Config{
		APIKey:    cfg.Subtitles.OpenSubtitlesAPIKey,
		UserAgent: cfg.Subtitles.OpenSubtitlesUserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("acquire: build opensubtitles client: %w", err)
	}

	languages := cfg.Subtitles.Languages
	if len(languages) == 0 {
		languages = []string{"en"}
	}

	root := filepath.Join(strings.TrimSpace(cfg.Paths.StagingDir), "subtitles")

	cache, err := opensubtitles.NewCache(filepath.Join(root, ".cache"), logger)
	if err != nil {
		return nil, fmt.Errorf("acquire: build download cache: %w", err)
	}

	return newAcquirer(client, languages, root, cache, logger), nil
}

func newAcquirer(client *opensubtitles.Client, languages []string, rootDir string, cache *opensubtitles.Cache, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{
		client:    client,
		languages: languages,
		rootDir:   rootDir,
		cache:     cache,
		logger:    logger,
	}
}

// Acquire searches OpenSubtitles for the given series and season and
// downloads the top-ranked candidates to disk, returning the terminal
// jobqueue.SubtitleStatus for the acquisition.
func (a *Acquirer) Acquire(ctx context.Context, jobID int64, seriesName string, season int) (jobqueue.SubtitleStatus, error) {
	if a == nil {
		return jobqueue.SubtitleNone, nil
	}
	seriesName = strings.TrimSpace(seriesName)
	if seriesName == "" {
		return jobqueue.SubtitleNone, errors.New("acquire: series name is required")
	}

	resp, err := a.searchWithRetry(ctx, opensubtitles.SearchRequest{
		Query:     seriesName,
		Season:    season,
		MediaType: "episode",
		Languages: a.languages,
	})
	if err != nil {
		a.logger.Warn("subtitle search failed", "job_id", jobID, "series", seriesName, "season", season, "error", err)
		return jobqueue.SubtitleFailed, err
	}
	if len(resp.Subtitles) == 0 {
		return jobqueue.SubtitleNone, nil
	}

	destDir := filepath.Join(a.rootDir, strconv.FormatInt(jobID, 10))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return jobqueue.SubtitleFailed, fmt.Errorf("acquire: create destination directory: %w", err)
	}

	candidates := resp.Subtitles
	if len(candidates) > maxDownloadsPerJob {
		candidates = candidates[:maxDownloadsPerJob]
	}

	downloaded := 0
	for _, candidate := range candidates {
		result, err := a.fetchCandidate(ctx, seriesName, season, candidate)
		if err != nil {
			a.logger.Warn("subtitle download failed", "job_id", jobID, "file_id", candidate.FileID, "error", err)
			continue
		}

		name := sanitizeFileName(result.FileName)
		if name == "" {
			name = fmt.Sprintf("%s.%d.srt", candidate.Language, candidate.FileID)
		}
		if err := os.WriteFile(filepath.Join(destDir, name), result.Data, 0o644); err != nil {
			return jobqueue.SubtitleFailed, fmt.Errorf("acquire: write subtitle file: %w", err)
		}
		downloaded++
	}

	switch {
	case downloaded == 0:
		return jobqueue.SubtitleFailed, errors.New("acquire: no candidate subtitles could be downloaded")
	case downloaded < len(resp.Subtitles):
		return jobqueue.SubtitlePartial, nil
	default:
		return jobqueue.SubtitleCompleted, nil
	}
}

// fetchCandidate returns the subtitle payload for candidate, preferring a
// cached copy from an earlier job over a fresh OpenSubtitles download.
func (a *Acquirer) fetchCandidate(ctx context.Context, seriesName string, season int, candidate opensubtitles.Subtitle) (opensubtitles.DownloadResult, error) {
	if cached, ok, err := a.cache.Load(candidate.FileID); err == nil && ok {
		a.logger.Debug("subtitle cache hit", "file_id", candidate.FileID)
		return cached.DownloadResult(), nil
	}

	result, err := a.downloadWithRetry(ctx, candidate.FileID)
	if err != nil {
		return result, err
	}

	if _, err := a.cache.Store(opensubtitles.CacheEntry{
		FileID:      candidate.FileID,
		Language:    result.Language,
		FileName:    result.FileName,
		DownloadURL: result.DownloadURL,
		Season:      season,
	}, result.Data); err != nil {
		a.logger.Warn("subtitle cache store failed", "file_id", candidate.FileID, "error", err)
	}
	return result, nil
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(filepath.Base(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

// searchWithRetry retries a search failure that opensubtitles.IsRetriable
// classifies as transient, up to MaxRateRetries times, with backoff starting
// at InitialBackoff, doubling each attempt and capped at MaxBackoff.
func (a *Acquirer) searchWithRetry(ctx context.Context, req opensubtitles.SearchRequest) (opensubtitles.SearchResponse, error) {
	var resp opensubtitles.SearchResponse
	var err error
	backoff := opensubtitles.InitialBackoff
	for attempt := 0; attempt <= opensubtitles.MaxRateRetries; attempt++ {
		resp, err = a.client.Search(ctx, req)
		if err == nil || !opensubtitles.IsRetriable(err) {
			return resp, err
		}
		if attempt == opensubtitles.MaxRateRetries {
			break
		}
		a.logger.Warn("retrying subtitle search", "attempt", attempt+1, "error", err)
		if waitErr := opensubtitles.SleepWithContext(ctx, backoff); waitErr != nil {
			return resp, waitErr
		}
		backoff = nextBackoff(backoff)
	}
	return resp, err
}

// downloadWithRetry applies the same retry policy to a single file download.
func (a *Acquirer) downloadWithRetry(ctx context.Context, fileID int64) (opensubtitles.DownloadResult, error) {
	var result opensubtitles.DownloadResult
	var err error
	backoff := opensubtitles.InitialBackoff
	for attempt := 0; attempt <= opensubtitles.MaxRateRetries; attempt++ {
		result, err = a.client.Download(ctx, fileID, opensubtitles.DownloadOptions{Format: "srt"})
		if err == nil || !opensubtitles.IsRetriable(err) {
			return result, err
		}
		if attempt == opensubtitles.MaxRateRetries {
			break
		}
		a.logger.Warn("retrying subtitle download", "file_id", fileID, "attempt", attempt+1, "error", err)
		if waitErr := opensubtitles.SleepWithContext(ctx, backoff); waitErr != nil {
			return result, waitErr
		}
		backoff = nextBackoff(backoff)
	}
	return result, err
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > opensubtitles.MaxBackoff {
		return opensubtitles.MaxBackoff
	}
	return next
}

// Package organizer places finished titles into the library tree: it backs
// the Conflict Resolver's Organizer interface (episode placement), the Match
// Worker Pool's Organizer interface (extras routing), and the Job
// Orchestrator's MovieOrganizer interface (movie placement).
package organizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"log/slog"

	"ingestorchestrator/internal/apperr"
	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/jobqueue"
)

// Notifier publishes organization-complete and extra-organized events;
// satisfied by internal/notify.Service.
type Notifier interface {
	Publish(ctx context.Context, event string, payload map[string]any) error
}

const (
	EventOrganized      = "organization_completed"
	EventExtraOrganized = "extra_organized"
)

// HTTPDoer is the collaborator used to ping Jellyfin for a library refresh
// after a file lands. Satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Organizer moves ripped, matched titles into their final library location.
type Organizer struct {
	store    *jobqueue.Store
	cfg      *config.Config
	logger   *slog.Logger
	notifier Notifier
	http     HTTPDoer
}

// New builds an Organizer. httpClient may be nil; Jellyfin refresh is then
// a no-op.
func New(cfg *config.Config, store *jobqueue.Store, notifier Notifier, httpClient HTTPDoer, logger *slog.Logger) *Organizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Organizer{store: store, cfg: cfg, logger: logger, notifier: notifier, http: httpClient}
}

var episodeCodePattern = regexp.MustCompile(`(?i)^s(\d{1,2})e(\d{1,3})$`)

func parseEpisodeCode(code string) (season, episode int, ok bool) {
	m := episodeCodePattern.FindStringSubmatch(strings.TrimSpace(code))
	if m == nil {
		return 0, 0, false
	}
	season, _ = strconv.Atoi(m[1])
	episode, _ = strconv.Atoi(m[2])
	return season, episode, true
}

// Place is the Conflict Resolver's placement hook: it resolves the title's
// series and season from its job, derives the TV library path from the
// matched episode code, and moves the ripped file there.
func (o *Organizer) Place(ctx context.Context, title jobqueue.Title) (string, error) {
	job, err := o.store.GetJob(ctx, title.JobID)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrNotFound, "organizing", "load job", "failed to load job for placement", err)
	}

	season, episode, ok := parseEpisodeCode(title.MatchedEpisode)
	if !ok {
		return "", apperr.Wrap(apperr.ErrValidation, "organizing", "parse episode code",
			fmt.Sprintf("matched episode %q is not a recognizable SxxEyy code", title.MatchedEpisode), nil)
	}

	series := seriesName(job)
	seasonDir := fmt.Sprintf("Season %02d", season)
	targetDir := filepath.Join(o.libraryRoot(), o.tvDir(), sanitizeName(series), seasonDir)

	base := fmt.Sprintf("%s - S%02dE%02d", sanitizeName(series), season, episode)
	filename := base + editionSuffix(title.Edition) + ext(title.OutputFilename)

	finalPath, err := o.moveIntoLibrary(targetDir, filename, title.OutputFilename)
	if err != nil {
		return "", err
	}

	o.refreshJellyfin(ctx)
	o.notify(ctx, EventOrganized, map[string]any{
		"job_id":     job.ID,
		"title_id":   title.ID,
		"series":     series,
		"episode":    title.MatchedEpisode,
		"final_path": finalPath,
	})

	return finalPath, nil
}

// MoveToExtras is the Match Worker Pool's duration-filter escape hatch: a
// ripped title whose runtime matches no known episode is parked in the
// series' extras folder instead of being handed to the matcher.
func (o *Organizer) MoveToExtras(ctx context.Context, title jobqueue.Title) (string, error) {
	job, err := o.store.GetJob(ctx, title.JobID)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrNotFound, "organizing", "load job", "failed to load job for extras placement", err)
	}

	series := seriesName(job)
	seasonDir := "Season 00"
	if job.DetectedSeason != nil {
		seasonDir = fmt.Sprintf("Season %02d", *job.DetectedSeason)
	}
	extrasDirName := strings.TrimSpace(o.cfg.Library.ExtrasDirName)
	if extrasDirName == "" {
		extrasDirName = "extras"
	}
	targetDir := filepath.Join(o.libraryRoot(), o.tvDir(), sanitizeName(series), seasonDir, extrasDirName)

	filename := fmt.Sprintf("%s - extra %d", sanitizeName(series), title.TitleIndex) + ext(title.OutputFilename)

	finalPath, err := o.moveIntoLibrary(targetDir, filename, title.OutputFilename)
	if err != nil {
		return "", err
	}

	o.notify(ctx, EventExtraOrganized, map[string]any{
		"job_id":     job.ID,
		"title_id":   title.ID,
		"series":     series,
		"final_path": finalPath,
	})

	return finalPath, nil
}

// PlaceMovie is the Job Orchestrator's placement hook for a movie job's
// chosen title.
func (o *Organizer) PlaceMovie(ctx context.Context, job jobqueue.Job, title jobqueue.Title) (string, error) {
	name := sanitizeName(movieName(job))
	targetDir := filepath.Join(o.libraryRoot(), o.moviesDir(), name)
	filename := name + editionSuffix(title.Edition) + ext(title.OutputFilename)

	finalPath, err := o.moveIntoLibrary(targetDir, filename, title.OutputFilename)
	if err != nil {
		return "", err
	}

	o.refreshJellyfin(ctx)
	o.notify(ctx, EventOrganized, map[string]any{
		"job_id":     job.ID,
		"title_id":   title.ID,
		"movie":      name,
		"final_path": finalPath,
	})

	return finalPath, nil
}

func (o *Organizer) libraryRoot() string {
	if o.cfg == nil {
		return ""
	}
	return o.cfg.Paths.LibraryDir
}

func (o *Organizer) tvDir() string {
	if o.cfg == nil {
		return "tv"
	}
	return o.cfg.Library.TVDir
}

func (o *Organizer) moviesDir() string {
	if o.cfg == nil {
		return "movies"
	}
	return o.cfg.Library.MoviesDir
}

func seriesName(job jobqueue.Job) string {
	if name := strings.TrimSpace(job.DetectedTitle); name != "" {
		return name
	}
	if name := strings.TrimSpace(job.VolumeLabel); name != "" {
		return name
	}
	return "Unknown Series"
}

func movieName(job jobqueue.Job) string {
	if name := strings.TrimSpace(job.DetectedTitle); name != "" {
		return name
	}
	if name := strings.TrimSpace(job.VolumeLabel); name != "" {
		return name
	}
	return "Unknown Movie"
}

func editionSuffix(edition string) string {
	edition = strings.TrimSpace(edition)
	if edition == "" {
		return ""
	}
	return " - " + edition
}

func ext(path string) string {
	e := filepath.Ext(path)
	if e == "" {
		return ".mkv"
	}
	return e
}

var slugDisallowed = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// sanitizeName strips characters that are illegal in filesystem paths on
// common targets while preserving the human-readable title.
func sanitizeName(name string) string {
	cleaned := slugDisallowed.ReplaceAllString(strings.TrimSpace(name), "")
	cleaned = strings.Trim(cleaned, " .")
	if cleaned == "" {
		return "Unknown"
	}
	return cleaned
}

// moveIntoLibrary moves sourcePath into targetDir/filename, applying the
// configured collision policy, and returns the final path actually used.
func (o *Organizer) moveIntoLibrary(targetDir, filename, sourcePath string) (string, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return "", apperr.Wrap(apperr.ErrValidation, "organizing", "move file", "title has no output file to organize", nil)
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.ErrFilesystem, "organizing", "create library dir", "failed to create library directory", err)
	}

	finalPath := filepath.Join(targetDir, filename)
	overwrite := o.cfg != nil && o.cfg.Library.OverwriteExisting
	if overwrite {
		if err := removeExistingTarget(finalPath); err != nil {
			return "", apperr.Wrap(apperr.ErrFilesystem, "organizing", "clear existing target", "failed to remove existing library file", err)
		}
	} else {
		finalPath = nextAvailablePath(targetDir, filename)
	}

	if err := moveOrCopy(sourcePath, finalPath); err != nil {
		return "", apperr.Wrap(apperr.ErrFilesystem, "organizing", "move file", "failed to move file into library", err)
	}
	if err := validateEditionFilename(finalPath, filename); err != nil {
		o.logger.Warn("edition filename validation failed", "final_path", finalPath, "error", err)
	}
	return finalPath, nil
}

// nextAvailablePath appends " (N)" before the extension until it finds a
// name that doesn't already exist.
func nextAvailablePath(targetDir, filename string) string {
	candidate := filepath.Join(targetDir, filename)
	if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
		return candidate
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	suffix := filepath.Ext(filename)
	for n := 1; n < 10000; n++ {
		candidate = filepath.Join(targetDir, fmt.Sprintf("%s (%d)%s", base, n, suffix))
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
	return candidate
}

func removeExistingTarget(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("existing library path %q is a directory", path)
	}
	return os.Remove(path)
}

// moveOrCopy renames sourcePath to targetPath, falling back to a copy+remove
// when the move crosses filesystem boundaries.
func moveOrCopy(sourcePath, targetPath string) error {
	if err := os.Rename(sourcePath, targetPath); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return err
	}
	if err := copyFile(sourcePath, targetPath); err != nil {
		return err
	}
	return os.Remove(sourcePath)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// validateEditionFilename checks that an edition suffix survived into the
// final filename, catching logic bugs in the name-building path above.
func validateEditionFilename(finalPath, filename string) error {
	if !strings.Contains(filename, " - ") {
		return nil
	}
	base := filepath.Base(finalPath)
	if !strings.Contains(strings.TrimSuffix(base, filepath.Ext(base)), " - ") {
		return fmt.Errorf("edition suffix missing from final filename %q", base)
	}
	return nil
}

func (o *Organizer) refreshJellyfin(ctx context.Context) {
	if o.http == nil || o.cfg == nil || !o.cfg.Jellyfin.Enabled {
		return
	}
	baseURL := strings.TrimRight(strings.TrimSpace(o.cfg.Jellyfin.URL), "/")
	apiKey := strings.TrimSpace(o.cfg.Jellyfin.APIKey)
	if baseURL == "" || apiKey == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/Library/Refresh", nil)
	if err != nil {
		o.logger.Warn("build jellyfin refresh request failed", "error", err)
		return
	}
	req.Header.Set("X-Emby-Token", apiKey)
	resp, err := o.http.Do(req)
	if err != nil {
		o.logger.Warn("jellyfin refresh failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		o.logger.Warn("jellyfin refresh returned non-success", "status", resp.StatusCode)
	}
}

func (o *Organizer) notify(ctx context.Context, event string, payload map[string]any) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Publish(ctx, event, payload); err != nil {
		o.logger.Warn("organizer notification failed", "event", event, "error", err)
	}
}

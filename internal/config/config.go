package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config encapsulates all configuration values for the orchestrator.
type Config struct {
	Paths         Paths         `toml:"paths" json:"paths"`
	TMDB          TMDB          `toml:"tmdb" json:"tmdb"`
	Jellyfin      Jellyfin      `toml:"jellyfin" json:"jellyfin"`
	Library       Library       `toml:"library" json:"library"`
	Sentinel      Sentinel      `toml:"sentinel" json:"sentinel"`
	RipDriver     RipDriver     `toml:"rip_driver" json:"rip_driver"`
	MatchPool     MatchPool     `toml:"match_pool" json:"match_pool"`
	Conflict      Conflict      `toml:"conflict" json:"conflict"`
	Classify      Classify      `toml:"classify" json:"classify"`
	Notifications Notifications `toml:"notifications" json:"notifications"`
	Subtitles     Subtitles     `toml:"subtitles" json:"subtitles"`
	Workflow      Workflow      `toml:"workflow" json:"workflow"`
	Logging       Logging       `toml:"logging" json:"logging"`
}

// Paths groups filesystem locations used by the daemon.
type Paths struct {
	StagingDir   string `toml:"staging_dir" json:"staging_dir"`
	LibraryDir   string `toml:"library_dir" json:"library_dir"`
	LogDir       string `toml:"log_dir" json:"log_dir"`
	ReviewDir    string `toml:"review_dir" json:"review_dir"`
	DatabasePath string `toml:"database_path" json:"database_path"`
	APIBind      string `toml:"api_bind" json:"api_bind"`
	SocketPath   string `toml:"socket_path" json:"socket_path"`
	PIDFile      string `toml:"pid_file" json:"pid_file"`
}

// TMDB holds the metadata service credentials and tuning.
type TMDB struct {
	APIKey              string  `toml:"api_key" json:"api_key"`
	BaseURL             string  `toml:"base_url" json:"base_url"`
	Language            string  `toml:"language" json:"language"`
	ConfidenceThreshold float64 `toml:"confidence_threshold" json:"confidence_threshold"`
	RequestsPerSecond   float64 `toml:"requests_per_second" json:"requests_per_second"`
}

// Jellyfin controls optional post-organization library refresh.
type Jellyfin struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	URL     string `toml:"url" json:"url"`
	APIKey  string `toml:"api_key" json:"api_key"`
}

// Library names the subdirectories under Paths.LibraryDir.
type Library struct {
	MoviesDir         string `toml:"movies_dir" json:"movies_dir"`
	TVDir             string `toml:"tv_dir" json:"tv_dir"`
	ExtrasDirName     string `toml:"extras_dir_name" json:"extras_dir_name"`
	OverwriteExisting bool   `toml:"overwrite_existing" json:"overwrite_existing"`
}

// Sentinel configures the Drive Sentinel.
type Sentinel struct {
	Drives       []string `toml:"drives" json:"drives"`
	PollInterval float64  `toml:"poll_interval_seconds" json:"poll_interval_seconds"`
	UseNetlink   bool     `toml:"use_netlink" json:"use_netlink"`
}

// RipDriver configures external-tool invocation and the File-Ready Gate.
type RipDriver struct {
	MakeMKVPath          string  `toml:"makemkv_path" json:"makemkv_path"`
	FFprobePath          string  `toml:"ffprobe_path" json:"ffprobe_path"`
	InfoTimeoutSeconds   int     `toml:"info_timeout_seconds" json:"info_timeout_seconds"`
	FilePollInterval     float64 `toml:"file_poll_interval_seconds" json:"file_poll_interval_seconds"`
	FSCompletionInterval float64 `toml:"fs_completion_interval_seconds" json:"fs_completion_interval_seconds"`
	StabilityChecks      int     `toml:"stability_checks" json:"stability_checks"`
	ReadyFraction        float64 `toml:"ready_fraction" json:"ready_fraction"`
	FileReadyTimeout     float64 `toml:"file_ready_timeout_seconds" json:"file_ready_timeout_seconds"`
}

// MatchPool bounds concurrency for the Match Worker Pool.
type MatchPool struct {
	MaxConcurrentMatches int     `toml:"max_concurrent_matches" json:"max_concurrent_matches"`
	SubtitleWaitTimeout  float64 `toml:"subtitle_wait_timeout_seconds" json:"subtitle_wait_timeout_seconds"`
	MatchConfidence      float64 `toml:"match_confidence_threshold" json:"match_confidence_threshold"`
}

// Conflict holds a destination-collision mode and a resolver round count.
// Both are normalized and validated at load but read by no component:
// collisions follow Library.OverwriteExisting and the Conflict Resolver
// runs a fixed three rounds.
type Conflict struct {
	DefaultResolution string `toml:"default_resolution" json:"default_resolution"`
	MaxRounds         int    `toml:"max_rounds" json:"max_rounds"`
}

// Classify holds the disc-content classification thresholds.
type Classify struct {
	MovieMinDurationSeconds    int     `toml:"movie_min_duration_seconds" json:"movie_min_duration_seconds"`
	TVMinDurationSeconds       int     `toml:"tv_min_duration_seconds" json:"tv_min_duration_seconds"`
	TVMaxDurationSeconds       int     `toml:"tv_max_duration_seconds" json:"tv_max_duration_seconds"`
	TVDurationVarianceSeconds  int     `toml:"tv_duration_variance_seconds" json:"tv_duration_variance_seconds"`
	TVMinClusterSize           int     `toml:"tv_min_cluster_size" json:"tv_min_cluster_size"`
	MovieDominanceThreshold    float64 `toml:"movie_dominance_threshold" json:"movie_dominance_threshold"`
	DurationFilterToleranceSec int     `toml:"duration_filter_tolerance_seconds" json:"duration_filter_tolerance_seconds"`
}

// Notifications configures the ntfy-backed notification service.
type Notifications struct {
	NtfyTopic           string `toml:"ntfy_topic" json:"ntfy_topic"`
	RequestTimeout      int    `toml:"request_timeout_seconds" json:"request_timeout_seconds"`
	DedupWindowSeconds  int    `toml:"dedup_window_seconds" json:"dedup_window_seconds"`
	NotifyIdentify      bool   `toml:"notify_identify" json:"notify_identify"`
	NotifyRip           bool   `toml:"notify_rip" json:"notify_rip"`
	NotifyMatch         bool   `toml:"notify_match" json:"notify_match"`
	NotifyOrganization  bool   `toml:"notify_organization" json:"notify_organization"`
	NotifyReview        bool   `toml:"notify_review" json:"notify_review"`
	NotifyErrors        bool   `toml:"notify_errors" json:"notify_errors"`
}

// Subtitles configures the Subtitle Coordinator's acquisition collaborator.
type Subtitles struct {
	Enabled                bool     `toml:"enabled" json:"enabled"`
	OpenSubtitlesAPIKey    string   `toml:"opensubtitles_api_key" json:"opensubtitles_api_key"`
	OpenSubtitlesUserAgent string   `toml:"opensubtitles_user_agent" json:"opensubtitles_user_agent"`
	Languages              []string `toml:"languages" json:"languages"`
	ReadinessTimeout       float64  `toml:"readiness_timeout_seconds" json:"readiness_timeout_seconds"`
}

// Workflow holds poll/heartbeat intervals. They are validated at load; the
// Job Orchestrator does not read them.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval_seconds" json:"queue_poll_interval_seconds"`
	ErrorRetryInterval int `toml:"error_retry_interval_seconds" json:"error_retry_interval_seconds"`
	HeartbeatInterval  int `toml:"heartbeat_interval_seconds" json:"heartbeat_interval_seconds"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout_seconds" json:"heartbeat_timeout_seconds"`
}

// Logging selects the slog handler and retention policy.
type Logging struct {
	Format        string `toml:"format" json:"format"`
	Level         string `toml:"level" json:"level"`
	RetentionDays int    `toml:"retention_days" json:"retention_days"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ingestorchestrator/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/ingestorchestrator/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ingestorchestrator.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LibraryDir, c.Paths.LogDir, c.Paths.ReviewDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if pathValue[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository's path expansion rules to other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

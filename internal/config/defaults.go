package config

const (
	defaultStagingDir   = "~/.local/share/ingestorchestrator/staging"
	defaultLibraryDir   = "~/library"
	defaultLogDir       = "~/.local/share/ingestorchestrator/logs"
	defaultReviewDir    = "~/review"
	defaultDatabasePath = "~/.local/share/ingestorchestrator/ingestd.db"
	defaultAPIBind      = "127.0.0.1:7487"
	defaultSocketPath   = "~/.local/share/ingestorchestrator/ingestd.sock"
	defaultPIDFile      = "~/.local/share/ingestorchestrator/ingestd.pid"
	defaultMoviesDir    = "movies"
	defaultTVDir        = "tv"
	defaultTMDBLanguage = "en-US"
	defaultTMDBBaseURL  = "https://api.themoviedb.org/3"
	defaultLogFormat    = "console"
	defaultLogLevel     = "info"
	defaultHeartbeat    = 15
	defaultHeartbeatTTL = 120
	defaultRetentionDay = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir:   defaultStagingDir,
			LibraryDir:   defaultLibraryDir,
			LogDir:       defaultLogDir,
			ReviewDir:    defaultReviewDir,
			DatabasePath: defaultDatabasePath,
			APIBind:      defaultAPIBind,
			SocketPath:   defaultSocketPath,
			PIDFile:      defaultPIDFile,
		},
		TMDB: TMDB{
			Language:            defaultTMDBLanguage,
			BaseURL:             defaultTMDBBaseURL,
			ConfidenceThreshold: 0.8,
			RequestsPerSecond:   30,
		},
		Jellyfin: Jellyfin{Enabled: false},
		Library: Library{
			MoviesDir:     defaultMoviesDir,
			TVDir:         defaultTVDir,
			ExtrasDirName: "extras",
		},
		Sentinel: Sentinel{
			Drives:       []string{"/dev/sr0"},
			PollInterval: 2.0,
			UseNetlink:   true,
		},
		RipDriver: RipDriver{
			MakeMKVPath:          "makemkvcon",
			FFprobePath:          "ffprobe",
			InfoTimeoutSeconds:   120,
			FilePollInterval:     5.0,
			FSCompletionInterval: 3.0,
			StabilityChecks:      2,
			ReadyFraction:        0.85,
			FileReadyTimeout:     600,
		},
		MatchPool: MatchPool{
			MaxConcurrentMatches: 2,
			SubtitleWaitTimeout:  300,
			MatchConfidence:      0.7,
		},
		Conflict: Conflict{
			DefaultResolution: "rename",
			MaxRounds:         3,
		},
		Classify: Classify{
			MovieMinDurationSeconds:    4800,
			TVMinDurationSeconds:       1080,
			TVMaxDurationSeconds:       4200,
			TVDurationVarianceSeconds:  120,
			TVMinClusterSize:           3,
			MovieDominanceThreshold:    0.6,
			DurationFilterToleranceSec: 300,
		},
		Notifications: Notifications{
			RequestTimeout:     10,
			DedupWindowSeconds: 600,
			NotifyIdentify:     true,
			NotifyRip:          true,
			NotifyMatch:        true,
			NotifyOrganization: true,
			NotifyReview:       true,
			NotifyErrors:       true,
		},
		Subtitles: Subtitles{
			Languages:              []string{"en"},
			OpenSubtitlesUserAgent: "ingestorchestrator/dev",
			ReadinessTimeout:       300,
		},
		Workflow: Workflow{
			QueuePollInterval:  5,
			ErrorRetryInterval: 10,
			HeartbeatInterval:  defaultHeartbeat,
			HeartbeatTimeout:   defaultHeartbeatTTL,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultRetentionDay,
		},
	}
}

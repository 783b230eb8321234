package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTMDB(); err != nil {
		return err
	}
	if err := c.validateLibrary(); err != nil {
		return err
	}
	if err := c.validateSentinel(); err != nil {
		return err
	}
	if err := c.validateRipDriver(); err != nil {
		return err
	}
	if err := c.validateMatchPool(); err != nil {
		return err
	}
	if err := c.validateConflict(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateSubtitles(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTMDB() error {
	if c.TMDB.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/ingestorchestrator/config.toml"
		}
		return fmt.Errorf("tmdb.api_key is required. Set TMDB_API_KEY env var or edit %s", defaultPath)
	}
	if c.TMDB.ConfidenceThreshold < 0 || c.TMDB.ConfidenceThreshold > 1 {
		return errors.New("tmdb.confidence_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateLibrary() error {
	if c.Library.MoviesDir == "" {
		return errors.New("library.movies_dir must be set")
	}
	if c.Library.TVDir == "" {
		return errors.New("library.tv_dir must be set")
	}
	return nil
}

func (c *Config) validateSentinel() error {
	if len(c.Sentinel.Drives) == 0 {
		return errors.New("sentinel.drives must list at least one drive")
	}
	if c.Sentinel.PollInterval <= 0 {
		return errors.New("sentinel.poll_interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validateRipDriver() error {
	if c.RipDriver.StabilityChecks <= 0 {
		return errors.New("rip_driver.stability_checks must be positive")
	}
	if c.RipDriver.ReadyFraction <= 0 || c.RipDriver.ReadyFraction > 1 {
		return errors.New("rip_driver.ready_fraction must be in (0, 1]")
	}
	if c.RipDriver.FilePollInterval <= 0 {
		return errors.New("rip_driver.file_poll_interval_seconds must be positive")
	}
	if c.RipDriver.FSCompletionInterval <= 0 {
		return errors.New("rip_driver.fs_completion_interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validateMatchPool() error {
	if c.MatchPool.MaxConcurrentMatches <= 0 {
		return errors.New("match_pool.max_concurrent_matches must be positive")
	}
	if c.MatchPool.MatchConfidence < 0 || c.MatchPool.MatchConfidence > 1 {
		return errors.New("match_pool.match_confidence_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateConflict() error {
	switch c.Conflict.DefaultResolution {
	case "ask", "overwrite", "rename", "skip":
	default:
		return fmt.Errorf("conflict.default_resolution: unsupported value %q", c.Conflict.DefaultResolution)
	}
	if c.Conflict.MaxRounds <= 0 {
		return errors.New("conflict.max_rounds must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval_seconds must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout_seconds must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout_seconds must be greater than heartbeat_interval_seconds")
	}
	return nil
}

func (c *Config) validateSubtitles() error {
	if !c.Subtitles.Enabled {
		return nil
	}
	if c.Subtitles.OpenSubtitlesAPIKey == "" {
		return errors.New("subtitles.opensubtitles_api_key must be set when subtitles.enabled is true")
	}
	if len(c.Subtitles.Languages) == 0 {
		return errors.New("subtitles.languages must include at least one language when enabled")
	}
	return nil
}

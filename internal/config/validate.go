package config

import (
	"fmt"
	"strings"

	"github.com/umasagashi/capture-core/internal/capture/condition"
	"github.com/umasagashi/capture-core/internal/capture/geometry"
	"github.com/umasagashi/capture-core/internal/orchestrator"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the agent-local settings for invalid values, returning
// every problem found. Out-of-range values are clamped to a safe default in
// place rather than rejected outright: Load logs these as warnings and
// still starts.
func (s *Settings) Validate() []error {
	var errs []error

	if s.LogLevel != "" && !validLogLevels[strings.ToLower(s.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", s.LogLevel))
	}

	if s.LogFormat != "" && s.LogFormat != "text" && s.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", s.LogFormat))
	}

	if s.LogMaxSizeMB < 1 {
		errs = append(errs, fmt.Errorf("log_max_size_mb %d is below minimum 1, clamping", s.LogMaxSizeMB))
		s.LogMaxSizeMB = 1
	}

	if s.LogMaxBackups < 0 {
		errs = append(errs, fmt.Errorf("log_max_backups %d is negative, clamping", s.LogMaxBackups))
		s.LogMaxBackups = 0
	}

	if s.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue_capacity %d is below minimum 1, clamping", s.QueueCapacity))
		s.QueueCapacity = 1
	}

	if s.DefaultScrapingDir == "" {
		errs = append(errs, fmt.Errorf("default_scraping_dir is empty"))
	}
	if s.DefaultStorageDir == "" {
		errs = append(errs, fmt.Errorf("default_storage_dir is empty"))
	}

	return errs
}

// ValidateSessionConfig checks the JSON session config pushed by the host
// (spec.md §6) against the ConfigError taxonomy in spec.md §7: malformed
// shape or missing required fields are fatal at session start. There is no
// partial-start recovery, so LoadSessionConfig refuses to hand back a
// config that fails here.
func ValidateSessionConfig(cfg *orchestrator.Config) []error {
	var errs []error

	if cfg.StorageDir == "" {
		errs = append(errs, fmt.Errorf("storage_dir is required"))
	}
	if cfg.CharaDetail.ScrapingDir == "" {
		errs = append(errs, fmt.Errorf("chara_detail.scraping_dir is required"))
	}
	if len(cfg.CharaDetail.SceneContext) == 0 {
		errs = append(errs, fmt.Errorf("chara_detail.scene_context is required"))
	} else if _, err := condition.FromJSON(cfg.CharaDetail.SceneContext); err != nil {
		errs = append(errs, fmt.Errorf("chara_detail.scene_context: %w", err))
	}

	if cfg.CharaDetail.SceneScraper.EndTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("chara_detail.scene_scraper.end_timeout_ms must be >= 0"))
	}

	for i, page := range cfg.CharaDetail.SceneScraper.Pages {
		if page.ContentRect == (geometry.Rect[float64]{}) {
			errs = append(errs, fmt.Errorf("chara_detail.scene_scraper.pages[%d].content_rect is required", i))
		}
		if page.InitialScrollThreshold < 0 || page.InitialScrollThreshold > 1 {
			errs = append(errs, fmt.Errorf("chara_detail.scene_scraper.pages[%d].initial_scroll_threshold must be in [0,1]", i))
		}
		if page.MinimumScrollThreshold < 0 || page.MinimumScrollThreshold > 1 {
			errs = append(errs, fmt.Errorf("chara_detail.scene_scraper.pages[%d].minimum_scroll_threshold must be in [0,1]", i))
		}
	}

	return errs
}

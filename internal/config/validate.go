package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// ReportParser is the cron parser used for report.schedule.
var ReportParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks field ranges and duration strings. It never mutates cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is empty (set it in the config or via %s)", EnvToken)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}

	durations := []struct{ path, raw string }{
		{"edit.min_delay", cfg.Edit.MinDelay},
		{"edit.flood_fallback", cfg.Edit.FloodFallback},
		{"edit.timeout_retry", cfg.Edit.TimeoutRetry},
		{"edit.error_pause", cfg.Edit.ErrorPause},
		{"edit.call_timeout", cfg.Edit.CallTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	switch strings.ToUpper(strings.TrimSpace(cfg.Edit.ParseMode)) {
	case "", "HTML", "MARKDOWN", "MARKDOWNV2", "NONE":
	default:
		return fmt.Errorf("edit.parse_mode: unsupported %q", cfg.Edit.ParseMode)
	}

	if cfg.Settings.DefaultInsertLine < 0 {
		return fmt.Errorf("settings.default_insert_line must be >= 1")
	}

	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	if cfg.Debug != nil && cfg.Debug.Enabled && strings.TrimSpace(cfg.Debug.Address) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(cfg.Debug.Address)); err != nil {
			return fmt.Errorf("debug.address: %w", err)
		}
	}

	if cfg.Report != nil && cfg.Report.Enabled {
		if _, err := ReportParser.Parse(strings.TrimSpace(cfg.Report.Schedule)); err != nil {
			return fmt.Errorf("report.schedule: invalid %q: %w", cfg.Report.Schedule, err)
		}
	}
	return nil
}

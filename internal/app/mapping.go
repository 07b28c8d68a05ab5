package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"chanedit/internal/config"
	"chanedit/internal/debug"
	"chanedit/internal/edit"
	"chanedit/internal/report"
	"chanedit/internal/settings"
	"chanedit/internal/storage"
	"chanedit/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// groupLogChat parses telegram.group_log. 0 means unset or invalid.
func groupLogChat(cfg *config.Config) int64 {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapEditConfig(cfg *config.Config) (edit.Config, error) {
	ec := cfg.Edit
	var out edit.Config
	var err error
	if out.MinDelay, err = config.ParseDurationOrDefault("edit.min_delay", ec.MinDelay, edit.DefaultMinDelay); err != nil {
		return edit.Config{}, err
	}
	if out.FloodFallback, err = config.ParseDurationOrDefault("edit.flood_fallback", ec.FloodFallback, edit.DefaultFloodFallback); err != nil {
		return edit.Config{}, err
	}
	if out.TimeoutRetry, err = config.ParseDurationOrDefault("edit.timeout_retry", ec.TimeoutRetry, edit.DefaultTimeoutRetry); err != nil {
		return edit.Config{}, err
	}
	if out.ErrorPause, err = config.ParseDurationOrDefault("edit.error_pause", ec.ErrorPause, edit.DefaultErrorPause); err != nil {
		return edit.Config{}, err
	}
	if out.CallTimeout, err = config.ParseDurationOrDefault("edit.call_timeout", ec.CallTimeout, edit.DefaultCallTimeout); err != nil {
		return edit.Config{}, err
	}

	switch pm := strings.ToUpper(strings.TrimSpace(ec.ParseMode)); pm {
	case "":
		out.ParseMode = edit.DefaultParseMode
	case "NONE":
		out.ParseMode = ""
	case "HTML":
		out.ParseMode = "HTML"
	case "MARKDOWN":
		out.ParseMode = "Markdown"
	case "MARKDOWNV2":
		out.ParseMode = "MarkdownV2"
	default:
		return edit.Config{}, fmt.Errorf("edit.parse_mode: unsupported %q", ec.ParseMode)
	}
	out.Footer = ec.Footer
	return out, nil
}

func mapSettingsDefaults(cfg *config.Config) settings.Settings {
	s := settings.Settings{
		ChannelID:  strings.TrimSpace(cfg.Settings.DefaultChannelID),
		InsertLine: cfg.Settings.DefaultInsertLine,
	}
	if s.ChannelID == "" {
		s.ChannelID = settings.DefaultChannelID
	}
	if s.InsertLine < 1 {
		s.InsertLine = settings.DefaultInsertLine
	}
	return s
}

// mapStorageConfig returns enabled=false for driver "none" (settings stay in memory).
// A missing storage section means the flat settings file.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "file"}, true, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "none":
		return storage.Config{}, false, nil
	case "", "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapReportConfig(cfg *config.Config) report.Config {
	if cfg == nil || cfg.Report == nil {
		return report.Config{}
	}
	return report.Config{Enabled: cfg.Report.Enabled, Schedule: strings.TrimSpace(cfg.Report.Schedule)}
}

func mapDebugConfig(cfg *config.Config) debug.Config {
	if cfg == nil || cfg.Debug == nil {
		return debug.Config{}
	}
	return debug.Config{
		Enabled:              cfg.Debug.Enabled,
		Address:              strings.TrimSpace(cfg.Debug.Address),
		BlockProfileRate:     cfg.Debug.BlockProfileRate,
		MutexProfileFraction: cfg.Debug.MutexProfileFraction,
	}
}

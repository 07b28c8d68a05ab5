package config

import (
	"chanedit/pkg/logx"
	"reflect"
	"strings"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) ||
		(oldCfg.Telegram.Token != newCfg.Telegram.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Edit != newCfg.Edit {
		changed = append(changed, "edit")
		attrs = append(attrs,
			logx.String("edit.min_delay", newCfg.Edit.MinDelay),
			logx.String("edit.flood_fallback", newCfg.Edit.FloodFallback),
			logx.String("edit.timeout_retry", newCfg.Edit.TimeoutRetry),
			logx.String("edit.error_pause", newCfg.Edit.ErrorPause),
			logx.Bool("edit.footer_custom", newCfg.Edit.Footer != ""),
		)
	}

	if oldCfg.Settings != newCfg.Settings {
		// Defaults only matter on first start; still worth surfacing.
		changed = append(changed, "settings")
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	if !reflect.DeepEqual(oldCfg.Report, newCfg.Report) {
		changed = append(changed, "report")
		if newCfg.Report != nil {
			attrs = append(attrs,
				logx.Bool("report.enabled", newCfg.Report.Enabled),
				logx.String("report.schedule", newCfg.Report.Schedule),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
		if newCfg.Debug != nil {
			attrs = append(attrs,
				logx.Bool("debug.enabled", newCfg.Debug.Enabled),
				logx.String("debug.address", newCfg.Debug.Address),
			)
		}
	}

	return changed, attrs
}

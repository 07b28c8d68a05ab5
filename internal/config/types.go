package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Edit controls the edit worker timings and output format.
	Edit EditConfig `json:"edit"`

	// Settings seeds the persisted runtime settings when no saved state exists.
	Settings SettingsConfig `json:"settings"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Report  *ReportConfig  `json:"report,omitempty"`
	Debug   *DebugConfig   `json:"debug,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty; BOT_TOKEN from the environment (or .env) is used instead.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// EditConfig controls the edit worker.
//
// All durations are Go duration strings. Defaults (when omitted/zero):
//   - min_delay: "1s"       pause after every successful edit
//   - flood_fallback: "10s" pause when flood control gives no retry hint (job dropped)
//   - timeout_retry: "5s"   delay before a timed-out edit is requeued
//   - error_pause: "2s"     pause after any other failure (job dropped)
//   - call_timeout: "30s"   per remote call deadline
//   - parse_mode: "HTML"
//   - footer: built-in footer
type EditConfig struct {
	MinDelay      string `json:"min_delay,omitempty"`
	FloodFallback string `json:"flood_fallback,omitempty"`
	TimeoutRetry  string `json:"timeout_retry,omitempty"`
	ErrorPause    string `json:"error_pause,omitempty"`
	CallTimeout   string `json:"call_timeout,omitempty"`
	ParseMode     string `json:"parse_mode,omitempty"`
	Footer        string `json:"footer,omitempty"`
}

type SettingsConfig struct {
	DefaultChannelID  string `json:"default_channel_id,omitempty"`
	DefaultInsertLine int    `json:"default_insert_line,omitempty"`
}

// StorageConfig controls where runtime settings are persisted.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./settings.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ReportConfig controls the periodic status report written to the log.
type ReportConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron expression or descriptor (e.g. "@every 1h", "0 * * * *").
	Schedule string `json:"schedule"`
}

// DebugConfig controls the loopback pprof/status listener.
type DebugConfig struct {
	Enabled              bool   `json:"enabled"`
	Address              string `json:"address"`
	BlockProfileRate     int    `json:"block_profile_rate"`
	MutexProfileFraction int    `json:"mutex_profile_fraction"`
}

package storage

import (
	"context"
	"errors"
	"strings"

	"chanedit/pkg/logx"
)

// Store is the persistence API used by the settings store.
type Store interface {
	// LoadSettings returns ok=false (and no error) when nothing was saved yet.
	LoadSettings(ctx context.Context) (rec SettingsRecord, ok bool, err error)
	SaveSettings(ctx context.Context, rec SettingsRecord) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store. An empty driver selects "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "file"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

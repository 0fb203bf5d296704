package storage

import (
	"errors"
	"regexp"
	"strings"

	logx "funbot/pkg/logx"
)

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (DocStore, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func checkName(name string) error {
	if !nameRe.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

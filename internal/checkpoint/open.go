package checkpoint

import (
	"fmt"
	"log/slog"
)

// Open creates the backend named by driver: "sqlite" (path), "postgres"
// (dsn) or "memory". poolSize caps the backend's own connection pool.
func Open(driver, path, dsn string, poolSize int, logger *slog.Logger) (Store, error) {
	switch driver {
	case "sqlite", "":
		s, err := NewSQLite(path, poolSize)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgres(dsn, poolSize, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

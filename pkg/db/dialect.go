package db

import (
	"fmt"
	"strings"

	puresqlite "github.com/glebarez/sqlite"
	"github.com/smallbiznis/kantoor/internal/config"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect picks the gorm dialector for DATABASE_TYPE. "sqlite" is the pure
// Go driver used for local runs and tests; "sqlite3" is the cgo driver.
// The schema and the sequence counter rely on ON CONFLICT and RETURNING,
// so only postgres and sqlite are accepted.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch cfg.DBType {
	case "postgres", "postgresql":
		return postgres.Open(PostgresDSN(cfg)), nil
	case "sqlite":
		return puresqlite.Open(sqlitePath(cfg)), nil
	case "sqlite3":
		return cgosqlite.Open(sqlitePath(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.DBType)
	}
}

// PostgresDSN prefers DATABASE_URL over the discrete DATABASE_* settings.
func PostgresDSN(cfg config.Config) string {
	if cfg.DBURL != "" {
		return cfg.DBURL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)
}

func sqlitePath(cfg config.Config) string {
	path := strings.TrimSpace(cfg.DBPath)
	if path == "" {
		return "kantoor.db"
	}
	return path
}

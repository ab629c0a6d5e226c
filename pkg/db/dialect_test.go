package db

import (
	"testing"

	"github.com/smallbiznis/kantoor/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectNames(t *testing.T) {
	tests := []struct {
		dbType string
		want   string
	}{
		{dbType: "postgres", want: "postgres"},
		{dbType: "postgresql", want: "postgres"},
		{dbType: "sqlite", want: "sqlite"},
		{dbType: "sqlite3", want: "sqlite"},
	}

	for _, tt := range tests {
		t.Run(tt.dbType, func(t *testing.T) {
			dialector, err := Dialect(config.Config{DBType: tt.dbType})
			require.NoError(t, err)
			assert.Equal(t, tt.want, dialector.Name())
		})
	}
}

func TestDialectRejectsUnknownType(t *testing.T) {
	for _, dbType := range []string{"oracle", "mysql", ""} {
		_, err := Dialect(config.Config{DBType: dbType})
		assert.Error(t, err, dbType)
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := config.Config{
		DBHost:     "db",
		DBPort:     "5432",
		DBName:     "kantoor",
		DBUser:     "app",
		DBPassword: "pw",
		DBSSLMode:  "disable",
	}
	assert.Equal(t, "host=db user=app password=pw dbname=kantoor port=5432 sslmode=disable TimeZone=UTC", PostgresDSN(cfg))

	cfg.DBURL = "postgres://app:pw@db:5432/kantoor"
	assert.Equal(t, cfg.DBURL, PostgresDSN(cfg))
}

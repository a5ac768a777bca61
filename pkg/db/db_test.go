package db

import (
	"testing"

	"smallbiznis-missions/pkg/config"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
)

func TestDialect(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Type = "postgres"
	cfg.Database.DBName = "missions"
	_, ok := Dialect(cfg).(*postgres.Dialector)
	require.True(t, ok)

	cfg.Database.Type = "mysql"
	_, ok = Dialect(cfg).(*mysql.Dialector)
	require.True(t, ok)

	cfg.Database.Type = "sqlite"
	_, ok = Dialect(cfg).(*sqlite.Dialector)
	require.True(t, ok)
}

func TestExtractDBNameFromDSN(t *testing.T) {
	require.Equal(t, "missions", extractDBNameFromDSN("host=localhost user=a dbname=missions port=5432"))
	require.Equal(t, "missions", extractDBNameFromDSN("u:p@tcp(localhost:3306)/missions?parseTime=True"))
	require.Equal(t, "unknown", extractDBNameFromDSN(""))
}

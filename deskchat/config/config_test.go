package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deskchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
db_driver: sqlite
sqlite_path: /tmp/file.db
jwt_secret: from-file
token_ttl: 2h
cors_origins: ["http://a.example"]
`), 0o644))

	t.Setenv("DESKCHAT_CONFIG", path)
	t.Setenv("PORT", "9100")
	t.Setenv("CORS_ORIGINS", "http://b.example, http://c.example")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "9100", cfg.Port)
	require.Equal(t, DriverSQLite, cfg.DBDriver)
	require.Equal(t, "/tmp/file.db", cfg.SQLitePath)
	require.Equal(t, "from-file", cfg.JWTSecret)
	require.Equal(t, 2*time.Hour, cfg.TokenTTL)
	require.Equal(t, []string{"http://b.example", "http://c.example"}, cfg.CORSOrigins)
	require.True(t, cfg.MinIOUseSSL)
	require.False(t, cfg.MinIOEnabled())
}

func TestLoadConfig_RequiresSecret(t *testing.T) {
	t.Setenv("DESKCHAT_CONFIG", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_DRIVER", "sqlite")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := defaults()
	cfg.JWTSecret = "s"
	cfg.DBDriver = "mysql"
	require.Error(t, cfg.Validate())

	cfg.DBDriver = DriverPostgres
	require.Error(t, cfg.Validate())

	cfg.DBHost = "localhost"
	cfg.DBName = "deskchat"
	require.NoError(t, cfg.Validate())
}

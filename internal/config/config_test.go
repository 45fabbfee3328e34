package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chessrelay/internal/config"
)

func TestLoadAppliesPortDefault(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")

	cfg, err := config.Load([]string{"secret", "adminsecret"}, envFile)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Authentication)
	assert.Equal(t, "adminsecret", cfg.AdminAuthentication)
	assert.Equal(t, "55555", cfg.Port)
	assert.NotEmpty(t, cfg.IP)
}

func TestLoadCreatesDefaultEnvFileWhenMissing(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")

	_, err := config.Load([]string{"secret", "adminsecret", "12345", "127.0.0.1"}, envFile)
	require.NoError(t, err)

	_, statErr := os.Stat(envFile)
	assert.NoError(t, statErr)
}

func TestLoadOverlaysExistingEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DB_TYPE=postgres\nDB_HOST=db.internal\nDB_PORT=5433\nADMIN_TOTP_SECRET=ABC123\n"), 0o644))

	cfg, err := config.Load([]string{"secret", "adminsecret", "12345", "127.0.0.1"}, envFile)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBType)
	assert.Equal(t, "db.internal", cfg.DBHost)
	assert.Equal(t, 5433, cfg.DBPort)
	assert.Equal(t, "ABC123", cfg.AdminTOTPSecret)
}

func TestLoadRejectsTooManyArguments(t *testing.T) {
	dir := t.TempDir()
	_, err := config.Load([]string{"a", "b", "c", "d", "e"}, filepath.Join(dir, ".env"))
	require.Error(t, err)
}

func TestDataDirReplacesDotsInHost(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	cfg, err := config.Load([]string{"secret", "adminsecret", "12345", "192.168.1.5"}, envFile)
	require.NoError(t, err)
	assert.Equal(t, "data_192_168_1_5_12345", cfg.DataDir)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
database:
  host: localhost
  type: postgres
storage:
  type: local
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "1.0.0", cfg.Materialization.Version)
	assert.Equal(t, "./data", cfg.Materialization.DataDir)
	assert.Equal(t, int64(512), cfg.Materialization.ChunkSizeX)
	assert.Equal(t, 10, cfg.Queue.Concurrency)
}

func TestLoad_CustomValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
materialization:
  version: "2.0.0"
  data_dir: "/tmp/data"
  chunk_size_x: 1024
database:
  type: postgres
  host: db.example.com
  port: 5432
  database: minnie65_phase3_v1
  user: admin
  password: secret
storage:
  type: local
  local_path: /tmp/storage
queue:
  concurrency: 8
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "2.0.0", cfg.Materialization.Version)
	assert.Equal(t, "/tmp/data", cfg.Materialization.DataDir)
	assert.Equal(t, int64(1024), cfg.Materialization.ChunkSizeX)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "minnie65_phase3_v1", cfg.Database.Database)
	assert.Equal(t, 8, cfg.Queue.Concurrency)
}

func TestLoad_InvalidDatabaseType(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
database:
  type: sqlite
  host: localhost
storage:
  type: local
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	_, err = Load(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

// Note: Storage validation tests live in internal/storage.

func TestLoad_COSWithCredentials(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
database:
  type: postgres
  host: localhost
storage:
  type: cos
  bucket: test-bucket
  region: ap-guangzhou
  secret_id: test-id
  secret_key: test-key
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, "cos", cfg.Storage.Type)
	assert.Equal(t, "test-bucket", cfg.Storage.Bucket)
}

func TestValidate_EmptyHost(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{
			Type: "postgres",
			Host: "",
		},
		Storage: StorageConfig{Type: "local"},
		Queue:   QueueConfig{Concurrency: 1},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database host is required")
}

func TestValidate_InvalidConcurrency(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Type: "postgres", Host: "localhost"},
		Storage:  StorageConfig{Type: "local"},
		Queue:    QueueConfig{Concurrency: 0},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency must be at least 1")
}

func TestGetRunDir(t *testing.T) {
	cfg := &Config{
		Materialization: MaterializationConfig{DataDir: "/tmp/data"},
	}

	runDir := cfg.GetRunDir("run-uuid-123")
	assert.Equal(t, "/tmp/data/run-uuid-123", runDir)
}

func TestEnsureDataDir(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "materialization", "data")

	cfg := &Config{
		Materialization: MaterializationConfig{DataDir: dataDir},
	}

	err := cfg.EnsureDataDir()
	require.NoError(t, err)

	_, err = os.Stat(dataDir)
	assert.NoError(t, err)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestLoadFromReader(t *testing.T) {
	content := []byte(`
database:
  type: mysql
  host: mysql.local
storage:
  type: local
`)
	cfg, err := LoadFromReader("yaml", content)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Type)
	assert.Equal(t, "mysql.local", cfg.Database.Host)
}

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Pipeline.QueryLimit)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, "file_docs", cfg.VectorStore.Collection)
	assert.Empty(t, cfg.VectorStore.Chromem.Path)
	assert.Equal(t, "fastembed", cfg.Embeddings.Provider)
	assert.True(t, cfg.Telemetry.Insecure, "default true booleans survive unmarshal")
}

func TestLoad_YAMLFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, `server:
  http_host: 127.0.0.1
  http_port: 9191
  shutdown_timeout: 3s
  max_body_size: 64M
  max_file_size: 512K
pipeline:
  query_limit: 10
vectorstore:
  provider: qdrant
  collection: docs
  qdrant:
    host: qdrant.internal
    port: 6400
    use_tls: true
events:
  nats_url: nats://localhost:4222
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9191", cfg.Server.Addr())
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, ByteSize(64<<20), cfg.Server.MaxBodySize)
	assert.Equal(t, ByteSize(512<<10), cfg.Server.MaxFileSize)
	assert.Equal(t, 10, cfg.Pipeline.QueryLimit)
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, 6400, cfg.VectorStore.Qdrant.Port)
	assert.True(t, cfg.VectorStore.Qdrant.UseTLS)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.NATSURL)
	assert.Equal(t, "docsearch", cfg.Events.SubjectPrefix)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, "server:\n  http_port: 9191\n", 0600)

	t.Setenv("DOCSEARCH_SERVER_HTTP_PORT", "7777")
	t.Setenv("DOCSEARCH_SERVER_API_KEY", "s3cret")
	t.Setenv("DOCSEARCH_PIPELINE_MAX_LIST_LIMIT", "50")
	t.Setenv("DOCSEARCH_VECTORSTORE_CHROMEM_PATH", "/var/lib/docsearch")
	t.Setenv("DOCSEARCH_VECTORSTORE_QDRANT_API_KEY", "qkey")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Server.APIKey.Value())
	assert.Equal(t, 50, cfg.Pipeline.MaxListLimit)
	assert.Equal(t, "/var/lib/docsearch", cfg.VectorStore.Chromem.Path)
	assert.Equal(t, "qkey", cfg.VectorStore.Qdrant.APIKey.Value())
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	path := writeConfig(t, "server:\n  http_port: 9191\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_ReadOnlyPermissionsAccepted(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, "server:\n  http_port: 9191\n", 0400)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoad_FileTooLarge(t *testing.T) {
	content := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	path := writeConfig(t, content, 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoad_InvalidValuesFailValidation(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, "pipeline:\n  query_limit: 0\n", 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query_limit")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"DOCSEARCH_SERVER_HTTP_PORT":           "server.http_port",
		"DOCSEARCH_PIPELINE_QUERY_LIMIT":       "pipeline.query_limit",
		"DOCSEARCH_VECTORSTORE_PROVIDER":       "vectorstore.provider",
		"DOCSEARCH_VECTORSTORE_CHROMEM_PATH":   "vectorstore.chromem.path",
		"DOCSEARCH_VECTORSTORE_QDRANT_USE_TLS": "vectorstore.qdrant.use_tls",
		"DOCSEARCH_EVENTS_NATS_URL":            "events.nats_url",
		"DOCSEARCH_DEBUG":                      "debug",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, envKey(in))
		})
	}
}

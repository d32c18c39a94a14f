package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero shutdown", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"file larger than body", func(c *Config) { c.Server.MaxFileSize = c.Server.MaxBodySize + 1 }, "max_file_size"},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, "rate_limit"},
		{"rate without burst", func(c *Config) { c.Server.RateLimit = 5; c.Server.RateBurst = 0 }, "rate_burst"},
		{"zero query limit", func(c *Config) { c.Pipeline.QueryLimit = 0 }, "query_limit"},
		{"zero list limit", func(c *Config) { c.Pipeline.MaxListLimit = 0 }, "max_list_limit"},
		{"unknown embedder", func(c *Config) { c.Embeddings.Provider = "word2vec" }, "embeddings.provider"},
		{"missing model", func(c *Config) { c.Embeddings.Model = "" }, "embeddings.model"},
		{"tei without url", func(c *Config) { c.Embeddings.Provider = "tei"; c.Embeddings.BaseURL = "" }, "base_url"},
		{"unknown store", func(c *Config) { c.VectorStore.Provider = "pinecone" }, "vectorstore.provider"},
		{"empty collection", func(c *Config) { c.VectorStore.Collection = "" }, "collection"},
		{"qdrant without host", func(c *Config) { c.VectorStore.Provider = "qdrant"; c.VectorStore.Qdrant.Host = "" }, "qdrant.host"},
		{"nats without prefix", func(c *Config) { c.Events.NATSURL = "nats://x"; c.Events.SubjectPrefix = "" }, "subject_prefix"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad telemetry protocol", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Protocol = "udp" }, "telemetry.protocol"},
		{"bad sample rate", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.SampleRate = 2 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_DisabledTelemetryIgnoresProtocol(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.Protocol = "udp"
	assert.NoError(t, cfg.Validate())
}

func TestSecret_Redacts(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	out, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(out))

	assert.False(t, Secret("").IsSet())
	assert.Equal(t, "", Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"1024", 1024},
		{"512K", 512 << 10},
		{"512kb", 512 << 10},
		{"32M", 32 << 20},
		{"2G", 2 << 30},
		{" 8MB ", 8 << 20},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var b ByteSize
			require.NoError(t, b.UnmarshalText([]byte(tt.in)))
			assert.Equal(t, tt.want, b)
		})
	}

	var b ByteSize
	assert.Error(t, b.UnmarshalText([]byte("")))
	assert.Error(t, b.UnmarshalText([]byte("-1K")))
	assert.Error(t, b.UnmarshalText([]byte("12Mx")))

	assert.Equal(t, "32M", ByteSize(32<<20).String())
	assert.Equal(t, "1G", ByteSize(1<<30).String())
	assert.Equal(t, "1500", ByteSize(1500).String())
	assert.Equal(t, "0", ByteSize(0).String())
}

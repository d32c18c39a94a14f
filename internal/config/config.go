// Package config provides configuration loading for docsearch.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file,
// and DOCSEARCH_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete docsearch configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Events      EventsConfig      `koanf:"events"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// MaxBodySize caps the size of a whole request body (ingest uploads included).
	MaxBodySize ByteSize `koanf:"max_body_size"`

	// MaxFileSize caps a single uploaded file.
	MaxFileSize ByteSize `koanf:"max_file_size"`

	// RateLimit is the sustained requests per second allowed per client IP.
	// Zero disables rate limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	// APIKey, when set, is required on every endpoint except /health.
	APIKey Secret `koanf:"api_key"`
}

// PipelineConfig holds ingestion and query pipeline settings.
type PipelineConfig struct {
	// QueryLimit is the number of matches returned by a query.
	QueryLimit int `koanf:"query_limit"`

	// MaxListLimit caps the page size a listing caller may request.
	MaxListLimit int `koanf:"max_list_limit"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "fastembed", "tei", "openai".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	CacheDir string `koanf:"cache_dir"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`

	// Dimension overrides the detected vector size for remote providers.
	Dimension int `koanf:"dimension"`
}

// VectorStoreConfig selects and configures the vector repository.
type VectorStoreConfig struct {
	// Provider is one of "chromem", "qdrant".
	Provider   string        `koanf:"provider"`
	Collection string        `koanf:"collection"`
	Chromem    ChromemConfig `koanf:"chromem"`
	Qdrant     QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the store in memory.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey Secret `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
}

// EventsConfig configures ingestion event publishing.
type EventsConfig struct {
	// NATSURL enables publishing when non-empty.
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig holds the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	ServiceName    string   `koanf:"service_name"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// Default returns a configuration populated with defaults.
//
// The defaults reproduce the original single-process service: an in-memory
// chromem collection named "file_docs", the all-MiniLM-L6-v2 model, five
// results per query, and no listing page size.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: 10 * time.Second,
			MaxBodySize:     ByteSize(32 << 20),
			MaxFileSize:     ByteSize(8 << 20),
			RateBurst:       20,
		},
		Pipeline: PipelineConfig{
			QueryLimit:   5,
			MaxListLimit: 1000,
		},
		Embeddings: EmbeddingsConfig{
			Provider: "fastembed",
			Model:    "sentence-transformers/all-MiniLM-L6-v2",
			BaseURL:  "http://localhost:8080",
		},
		VectorStore: VectorStoreConfig{
			Provider:   "chromem",
			Collection: "file_docs",
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
		},
		Events: EventsConfig{
			SubjectPrefix: "docsearch",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			ServiceName:    "docsearch",
			SampleRate:     1.0,
			ExportInterval: Duration(15 * time.Second),
		},
	}
}

var (
	validEmbeddingProviders = []string{"fastembed", "tei", "openai"}
	validStoreProviders     = []string{"chromem", "qdrant"}
	validLogFormats         = []string{"json", "console"}
	validTelemetryProtocols = []string{"grpc", "http/protobuf"}
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, errors.New("server.max_body_size must be positive"))
	}
	if c.Server.MaxFileSize <= 0 || c.Server.MaxFileSize > c.Server.MaxBodySize {
		errs = append(errs, fmt.Errorf("server.max_file_size must be in (0, %s]", c.Server.MaxBodySize))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit cannot be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, errors.New("server.rate_burst must be at least 1 when rate limiting is enabled"))
	}

	if c.Pipeline.QueryLimit < 1 {
		errs = append(errs, fmt.Errorf("pipeline.query_limit must be positive, got %d", c.Pipeline.QueryLimit))
	}
	if c.Pipeline.MaxListLimit < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_list_limit must be positive, got %d", c.Pipeline.MaxListLimit))
	}

	if !oneOf(c.Embeddings.Provider, validEmbeddingProviders) {
		errs = append(errs, fmt.Errorf("embeddings.provider must be one of %v, got %q", validEmbeddingProviders, c.Embeddings.Provider))
	}
	if c.Embeddings.Model == "" {
		errs = append(errs, errors.New("embeddings.model is required"))
	}
	if (c.Embeddings.Provider == "tei" || c.Embeddings.Provider == "openai") && c.Embeddings.BaseURL == "" {
		errs = append(errs, fmt.Errorf("embeddings.base_url is required for provider %q", c.Embeddings.Provider))
	}
	if c.Embeddings.Dimension < 0 {
		errs = append(errs, errors.New("embeddings.dimension cannot be negative"))
	}

	if !oneOf(c.VectorStore.Provider, validStoreProviders) {
		errs = append(errs, fmt.Errorf("vectorstore.provider must be one of %v, got %q", validStoreProviders, c.VectorStore.Provider))
	}
	if c.VectorStore.Collection == "" {
		errs = append(errs, errors.New("vectorstore.collection is required"))
	}
	if c.VectorStore.Provider == "qdrant" {
		if c.VectorStore.Qdrant.Host == "" {
			errs = append(errs, errors.New("vectorstore.qdrant.host is required"))
		}
		if c.VectorStore.Qdrant.Port < 1 || c.VectorStore.Qdrant.Port > 65535 {
			errs = append(errs, fmt.Errorf("invalid qdrant port: %d", c.VectorStore.Qdrant.Port))
		}
	}

	if c.Events.NATSURL != "" && c.Events.SubjectPrefix == "" {
		errs = append(errs, errors.New("events.subject_prefix is required when events.nats_url is set"))
	}

	if !oneOf(c.Logging.Format, validLogFormats) {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
		}
		if !oneOf(c.Telemetry.Protocol, validTelemetryProtocols) {
			errs = append(errs, fmt.Errorf("telemetry.protocol must be one of %v, got %q", validTelemetryProtocols, c.Telemetry.Protocol))
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate))
		}
	}

	return errors.Join(errs...)
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return true
		}
	}
	return false
}

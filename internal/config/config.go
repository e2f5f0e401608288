// Package config defines the broker's Config struct — the full option table
// from spec.md §6 — and the defaults/validation shared by every loader.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Transport selects the wire framing the broker listens on.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// TelemetryMode toggles OTEL export.
type TelemetryMode string

const (
	TelemetryEnabled  TelemetryMode = "enabled"
	TelemetryDisabled TelemetryMode = "disabled"
)

// Logger identifies one of the destinations a log record can be routed to.
type Logger string

const (
	LoggerStderr Logger = "stderr"
	LoggerDisk   Logger = "disk"
	LoggerMCP    Logger = "mcp"
)

// SimilarityFunction is the Atlas Vector Search distance metric.
type SimilarityFunction string

const (
	SimilarityEuclidean  SimilarityFunction = "euclidean"
	SimilarityCosine     SimilarityFunction = "cosine"
	SimilarityDotProduct SimilarityFunction = "dotProduct"
)

// PreviewFeature names an opt-in feature gate (spec.md §4.3, §6).
type PreviewFeature string

const PreviewVectorSearch PreviewFeature = "vectorSearch"

// Default confirmation-required tool set (spec.md §6).
var DefaultConfirmationRequiredTools = []string{
	"atlas-create-access-list",
	"atlas-create-db-user",
	"drop-database",
	"drop-collection",
	"delete-many",
	"drop-index",
}

// Default logger set (spec.md §6).
var DefaultLoggers = []Logger{LoggerDisk, LoggerMCP}

// Config is the fully resolved broker configuration. Every field name
// matches spec.md §6's option table (camelCase CLI flag / MDB_MCP_<SNAKE>
// env var), resolved through internal/cliconfig's precedence chain.
type Config struct {
	ConnectionString string
	Transport        Transport
	HTTPPort         int
	HTTPHost         string

	IdleTimeout           time.Duration
	NotificationTimeout   time.Duration

	ReadOnly   bool
	IndexCheck bool

	DisabledTools             []string
	ConfirmationRequiredTools []string

	Telemetry TelemetryMode
	Loggers   []Logger

	MaxDocumentsPerQuery int
	MaxBytesPerQuery     int64

	VoyageAPIKey                   string
	VectorSearchDimensions         int
	VectorSearchSimilarityFunction SimilarityFunction
	DisableEmbeddingsValidation    bool

	PreviewFeatures []PreviewFeature

	AtlasTemporaryDatabaseUserLifetime time.Duration

	// SessionStoreRedisURL points the HTTP transport's idle-timeout tracker
	// at a shared Redis deployment (internal/sessionstore). Empty uses an
	// in-process tracker instead; this setting has no effect under stdio
	// transport, which has exactly one session per process.
	SessionStoreRedisURL string
}

// Defaults returns the spec.md §6 default configuration.
func Defaults() Config {
	return Config{
		Transport:                          TransportStdio,
		HTTPPort:                           3000,
		HTTPHost:                           "127.0.0.1",
		IdleTimeout:                        600_000 * time.Millisecond,
		NotificationTimeout:                540_000 * time.Millisecond,
		Telemetry:                          TelemetryEnabled,
		Loggers:                            append([]Logger{}, DefaultLoggers...),
		MaxDocumentsPerQuery:               100,
		MaxBytesPerQuery:                   16 * 1024 * 1024,
		VectorSearchDimensions:             1024,
		VectorSearchSimilarityFunction:     SimilarityCosine,
		ConfirmationRequiredTools:          append([]string{}, DefaultConfirmationRequiredTools...),
		AtlasTemporaryDatabaseUserLifetime: 4 * time.Hour,
	}
}

// HasPreviewFeature reports whether name is enabled.
func (c Config) HasPreviewFeature(name PreviewFeature) bool {
	for _, f := range c.PreviewFeatures {
		if f == name {
			return true
		}
	}
	return false
}

// Validate checks bounds and enum membership, collecting every violation so
// callers can print a consolidated multi-line error (spec.md §6).
func (c Config) Validate() error {
	var problems []string

	switch c.Transport {
	case TransportStdio, TransportHTTP:
	case "sse":
		problems = append(problems, "transport=sse is not supported; use stdio or http")
	default:
		problems = append(problems, fmt.Sprintf("transport: unrecognized value %q", c.Transport))
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		problems = append(problems, fmt.Sprintf("httpPort: %d out of range 1..65535", c.HTTPPort))
	}

	switch c.Telemetry {
	case TelemetryEnabled, TelemetryDisabled:
	default:
		problems = append(problems, fmt.Sprintf("telemetry: unrecognized value %q", c.Telemetry))
	}

	if len(c.Loggers) == 0 {
		problems = append(problems, "loggers: must be a non-empty subset of {stderr, disk, mcp}")
	}
	seen := make(map[Logger]bool, len(c.Loggers))
	for _, l := range c.Loggers {
		switch l {
		case LoggerStderr, LoggerDisk, LoggerMCP:
		default:
			problems = append(problems, fmt.Sprintf("loggers: unrecognized value %q", l))
		}
		if seen[l] {
			problems = append(problems, fmt.Sprintf("loggers: duplicate value %q", l))
		}
		seen[l] = true
	}

	switch c.VectorSearchSimilarityFunction {
	case "", SimilarityEuclidean, SimilarityCosine, SimilarityDotProduct:
	default:
		problems = append(problems, fmt.Sprintf("vectorSearchSimilarityFunction: unrecognized value %q", c.VectorSearchSimilarityFunction))
	}

	if c.HasPreviewFeature(PreviewVectorSearch) && c.VoyageAPIKey == "" {
		problems = append(problems, "voyageApiKey is mandatory when previewFeatures includes vectorSearch")
	}

	if c.MaxDocumentsPerQuery < 1 {
		problems = append(problems, fmt.Sprintf("maxDocumentsPerQuery: must be >= 1, got %d", c.MaxDocumentsPerQuery))
	}
	if c.MaxBytesPerQuery < 1 {
		problems = append(problems, fmt.Sprintf("maxBytesPerQuery: must be >= 1, got %d", c.MaxBytesPerQuery))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
}

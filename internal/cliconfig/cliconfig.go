// Package cliconfig resolves internal/config.Config from a positional
// connection specifier, CLI flags, environment variables, an optional YAML
// file, and spec.md §6 defaults, in that order of precedence.
package cliconfig

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"

	"github.com/mongodb-tool-broker/broker/internal/config"
)

// Result is what Load returns: the resolved config plus any non-fatal
// warnings (e.g. the --connectionString deprecation notice) a caller should
// surface through its logger.
type Result struct {
	Config   config.Config
	Warnings []string
}

type kind int

const (
	kindString kind = iota
	kindInt
	kindBool
	kindDurationMs
	kindStringList
)

type optionDef struct {
	flag string // CLI flag name, e.g. "connectionString"
	env  string // env var name, e.g. "MDB_MCP_CONNECTION_STRING"
	kind kind
}

var optionDefs = []optionDef{
	{"connectionString", "MDB_MCP_CONNECTION_STRING", kindString},
	{"transport", "MDB_MCP_TRANSPORT", kindString},
	{"httpPort", "MDB_MCP_HTTP_PORT", kindInt},
	{"httpHost", "MDB_MCP_HTTP_HOST", kindString},
	{"idleTimeoutMs", "MDB_MCP_IDLE_TIMEOUT_MS", kindInt},
	{"notificationTimeoutMs", "MDB_MCP_NOTIFICATION_TIMEOUT_MS", kindInt},
	{"readOnly", "MDB_MCP_READ_ONLY", kindBool},
	{"indexCheck", "MDB_MCP_INDEX_CHECK", kindBool},
	{"disabledTools", "MDB_MCP_DISABLED_TOOLS", kindStringList},
	{"confirmationRequiredTools", "MDB_MCP_CONFIRMATION_REQUIRED_TOOLS", kindStringList},
	{"telemetry", "MDB_MCP_TELEMETRY", kindString},
	{"loggers", "MDB_MCP_LOGGERS", kindStringList},
	{"maxDocumentsPerQuery", "MDB_MCP_MAX_DOCUMENTS_PER_QUERY", kindInt},
	{"maxBytesPerQuery", "MDB_MCP_MAX_BYTES_PER_QUERY", kindInt},
	{"voyageApiKey", "MDB_MCP_VOYAGE_API_KEY", kindString},
	{"vectorSearchDimensions", "MDB_MCP_VECTOR_SEARCH_DIMENSIONS", kindInt},
	{"vectorSearchSimilarityFunction", "MDB_MCP_VECTOR_SEARCH_SIMILARITY_FUNCTION", kindString},
	{"disableEmbeddingsValidation", "MDB_MCP_DISABLE_EMBEDDINGS_VALIDATION", kindBool},
	{"previewFeatures", "MDB_MCP_PREVIEW_FEATURES", kindStringList},
	{"atlasTemporaryDatabaseUserLifetimeMs", "MDB_MCP_ATLAS_TEMPORARY_DATABASE_USER_LIFETIME_MS", kindInt},
	{"sessionStoreRedisUrl", "MDB_MCP_SESSION_STORE_REDIS_URL", kindString},
}

func knownFlagNames() []string {
	names := make([]string, 0, len(optionDefs))
	for _, d := range optionDefs {
		names = append(names, d.flag)
	}
	return names
}

// Load resolves a Config from args (as in os.Args[1:]), an environment
// lookup function (os.LookupEnv-shaped), and an optional YAML document
// (nil/empty to skip). Precedence, highest first: positional connection
// specifier, named flag, environment variable, YAML file, default.
func Load(args []string, getenv func(string) (string, bool), yamlDoc []byte) (Result, error) {
	cfg := config.Defaults()
	var warnings []string

	if len(yamlDoc) > 0 {
		raw := make(map[string]any)
		if err := yaml.Unmarshal(yamlDoc, &raw); err != nil {
			return Result{}, fmt.Errorf("parse config file: %w", err)
		}
		if err := applyRaw(&cfg, raw, "config file"); err != nil {
			return Result{}, err
		}
	}

	envValues := make(map[string]string)
	for _, d := range optionDefs {
		if v, ok := getenv(d.env); ok {
			envValues[d.flag] = v
		}
	}
	if err := applyStrings(&cfg, envValues, "environment variable"); err != nil {
		return Result{}, err
	}

	flagValues, positional, err := parseFlags(args)
	if err != nil {
		return Result{}, err
	}
	if _, ok := flagValues["connectionString"]; ok {
		warnings = append(warnings, "--connectionString is deprecated; pass the connection string as a positional argument instead")
	}
	if err := applyStrings(&cfg, flagValues, "flag"); err != nil {
		return Result{}, err
	}

	if positional != "" {
		cfg.ConnectionString = positional
	}

	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	return Result{Config: cfg, Warnings: warnings}, nil
}

// parseFlags scans args for "--name" / "--name=value" / "--name value"
// pairs plus at most one bare positional token (the connection specifier).
// Unknown flags produce an error with a Levenshtein-based suggestion.
func parseFlags(args []string) (map[string]string, string, error) {
	values := make(map[string]string)
	var positional string

	known := knownFlagNames()

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			if positional != "" {
				return nil, "", fmt.Errorf("unexpected extra positional argument %q", arg)
			}
			positional = arg
			continue
		}

		name := strings.TrimPrefix(arg, "--")
		var value string
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			value = name[eq+1:]
			name = name[:eq]
		} else if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			value = args[i+1]
			i++
		} else {
			value = "true"
		}

		if !contains(known, name) {
			return nil, "", fmt.Errorf("unknown flag --%s%s", name, suggestFlag(name, known))
		}
		values[name] = value
	}

	return values, positional, nil
}

// suggestFlag returns a " (did you mean --X?)" hint when a known flag is
// within Levenshtein distance 2 of name, or "" otherwise.
func suggestFlag(name string, known []string) string {
	type candidate struct {
		name string
		dist int
	}
	var best *candidate
	for _, k := range known {
		d := levenshtein.ComputeDistance(name, k)
		if d > 2 {
			continue
		}
		if best == nil || d < best.dist {
			best = &candidate{name: k, dist: d}
		}
	}
	if best == nil {
		return ""
	}
	return fmt.Sprintf(" (did you mean --%s?)", best.name)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// applyStrings applies string-encoded option values (from flags or env) onto
// cfg, converting per the option's declared kind.
func applyStrings(cfg *config.Config, values map[string]string, source string) error {
	for _, d := range optionDefs {
		v, ok := values[d.flag]
		if !ok {
			continue
		}
		if err := setField(cfg, d, v); err != nil {
			return fmt.Errorf("%s %s: %w", source, d.flag, err)
		}
	}
	return nil
}

func setField(cfg *config.Config, d optionDef, v string) error {
	switch d.flag {
	case "connectionString":
		cfg.ConnectionString = v
	case "transport":
		cfg.Transport = config.Transport(v)
	case "httpPort":
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		cfg.HTTPPort = n
	case "httpHost":
		cfg.HTTPHost = v
	case "idleTimeoutMs":
		ms, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		cfg.IdleTimeout = time.Duration(ms) * time.Millisecond
	case "notificationTimeoutMs":
		ms, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		cfg.NotificationTimeout = time.Duration(ms) * time.Millisecond
	case "readOnly":
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		cfg.ReadOnly = b
	case "indexCheck":
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		cfg.IndexCheck = b
	case "disabledTools":
		cfg.DisabledTools = splitList(v)
	case "confirmationRequiredTools":
		cfg.ConfirmationRequiredTools = splitList(v)
	case "telemetry":
		cfg.Telemetry = config.TelemetryMode(v)
	case "loggers":
		cfg.Loggers = toLoggers(splitList(v))
	case "maxDocumentsPerQuery":
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		cfg.MaxDocumentsPerQuery = n
	case "maxBytesPerQuery":
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		cfg.MaxBytesPerQuery = n
	case "voyageApiKey":
		cfg.VoyageAPIKey = v
	case "vectorSearchDimensions":
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		cfg.VectorSearchDimensions = n
	case "vectorSearchSimilarityFunction":
		cfg.VectorSearchSimilarityFunction = config.SimilarityFunction(v)
	case "disableEmbeddingsValidation":
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		cfg.DisableEmbeddingsValidation = b
	case "previewFeatures":
		cfg.PreviewFeatures = toPreviewFeatures(splitList(v))
	case "atlasTemporaryDatabaseUserLifetimeMs":
		ms, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		cfg.AtlasTemporaryDatabaseUserLifetime = time.Duration(ms) * time.Millisecond
	case "sessionStoreRedisUrl":
		cfg.SessionStoreRedisURL = v
	}
	return nil
}

// applyRaw applies a YAML-decoded map using the same option table, coercing
// scalar/list values loosely since YAML already typed them.
func applyRaw(cfg *config.Config, raw map[string]any, source string) error {
	strValues := make(map[string]string)
	for _, d := range optionDefs {
		v, ok := raw[d.flag]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			strValues[d.flag] = val
		case bool:
			strValues[d.flag] = strconv.FormatBool(val)
		case int:
			strValues[d.flag] = strconv.Itoa(val)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprintf("%v", item))
			}
			strValues[d.flag] = strings.Join(parts, ",")
		default:
			strValues[d.flag] = fmt.Sprintf("%v", val)
		}
	}
	return applyStrings(cfg, strValues, source)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func toLoggers(names []string) []config.Logger {
	out := make([]config.Logger, 0, len(names))
	for _, n := range names {
		out = append(out, config.Logger(n))
	}
	return out
}

func toPreviewFeatures(names []string) []config.PreviewFeature {
	out := make([]config.PreviewFeature, 0, len(names))
	for _, n := range names {
		out = append(out, config.PreviewFeature(n))
	}
	return out
}

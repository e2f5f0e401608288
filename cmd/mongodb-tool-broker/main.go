// Command mongodb-tool-broker starts the MongoDB/Atlas Tool Broker: it wires
// the dispatcher, tool families, and a stdio or HTTP transport per the
// resolved configuration (spec.md §6) and blocks until the process receives
// an interrupt or the transport exits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mongodb-tool-broker/broker/internal/atlasclient"
	"github.com/mongodb-tool-broker/broker/internal/cliconfig"
	"github.com/mongodb-tool-broker/broker/internal/config"
	"github.com/mongodb-tool-broker/broker/internal/dispatcher"
	"github.com/mongodb-tool-broker/broker/internal/embeddings"
	"github.com/mongodb-tool-broker/broker/internal/keychain"
	"github.com/mongodb-tool-broker/broker/internal/mongoprovider"
	"github.com/mongodb-tool-broker/broker/internal/session"
	"github.com/mongodb-tool-broker/broker/internal/sessionstore"
	"github.com/mongodb-tool-broker/broker/internal/telemetry"
	"github.com/mongodb-tool-broker/broker/internal/transport/httpstream"
	"github.com/mongodb-tool-broker/broker/internal/transport/stdio"
	"github.com/mongodb-tool-broker/broker/internal/voyage"
	toolsatlas "github.com/mongodb-tool-broker/broker/tools/atlas"
	toolsgraph "github.com/mongodb-tool-broker/broker/tools/graph"
	toolsmongodb "github.com/mongodb-tool-broker/broker/tools/mongodb"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mongodb-tool-broker:", err)
		os.Exit(1)
	}
}

func run() error {
	var yamlDoc []byte
	if path := os.Getenv("MDB_MCP_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		yamlDoc = data
	}

	result, err := cliconfig.Load(os.Args[1:], os.LookupEnv, yamlDoc)
	if err != nil {
		return fmt.Errorf("resolve configuration: %w", err)
	}
	cfg := result.Config

	logger := newLogger(cfg)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, warning := range result.Warnings {
		logger.Warn(ctx, warning)
	}

	kc := keychain.New()
	if cfg.ConnectionString != "" {
		kc.Append(cfg.ConnectionString, keychain.KindURL)
	}

	sessions := session.NewManager(mongoprovider.Connect, cfg.ConnectionString)

	var embedder embeddings.Embedder
	if cfg.VoyageAPIKey != "" {
		embedder = voyage.New(cfg.VoyageAPIKey, 0, kc)
	}
	embedderFactory := func(execCtx *dispatcher.ExecutionContext) *embeddings.Manager {
		if embedder == nil {
			return nil
		}
		provider, err := execCtx.Sessions.EnsureConnected(execCtx, execCtx.SessionID)
		if err != nil {
			return nil
		}
		return embeddings.New(provider, embedder, cfg.DisableEmbeddingsValidation)
	}

	atlasClientFactory := newAtlasClientFactory(kc)

	// Confirmation elicitation requires a mid-call round trip to the model
	// client; neither transport here carries that channel yet, so the
	// dispatcher's default AutoApprove confirmer is used (see DESIGN.md).
	d := dispatcher.New(dispatcher.WithLogger(logger))
	toolsmongodb.Register(d, embedderFactory)
	toolsgraph.Register(d)
	toolsatlas.Register(d, atlasClientFactory)

	switch cfg.Transport {
	case config.TransportHTTP:
		addr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
		store, err := newSessionStore(cfg.SessionStoreRedisURL)
		if err != nil {
			return fmt.Errorf("configure session store: %w", err)
		}
		handler := httpstream.NewHandler(d, sessions, cfg, logger, store)
		server := httpstream.NewServer(addr, handler, cfg.IdleTimeout)
		logger.Info(ctx, "listening for HTTP tool calls", "addr", addr)
		return server.Run(ctx)
	default:
		server := stdio.New(os.Stdin, os.Stdout, d, sessions, cfg, "stdio", logger)
		return server.Serve(ctx)
	}
}

// newLogger picks the logging backend the teacher's CLI would for the
// chosen transport: stdout is reserved for the JSON-RPC stream under stdio
// (spec.md §6 "Text output conventions"), so stdio always logs to stderr;
// HTTP mode uses the OTEL-backed logger when telemetry is enabled.
func newLogger(cfg config.Config) telemetry.Logger {
	if cfg.Transport == config.TransportStdio {
		return telemetry.NewStderrLogger()
	}
	if cfg.Telemetry == config.TelemetryEnabled {
		return telemetry.NewClueLogger()
	}
	return telemetry.NewNoopLogger()
}

// newSessionStore builds the HTTP transport's idle-timeout tracker: a
// shared Redis-backed store when redisURL is configured, or an in-process
// one otherwise. Redis is optional because a single broker instance behind
// one client needs no cross-process session sharing (internal/sessionstore).
func newSessionStore(redisURL string) (sessionstore.Store, error) {
	if redisURL == "" {
		return sessionstore.NewMemory(), nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse session store redis url: %w", err)
	}
	return sessionstore.NewRedis(redis.NewClient(opts), "mongodb-tool-broker:session:"), nil
}

// newAtlasClientFactory builds a single shared Atlas client from the
// MDB_MCP_API_CLIENT_ID/MDB_MCP_API_CLIENT_SECRET environment variables
// (spec.md §6 credentials are never accepted as tool arguments). Returns nil
// when no credentials are configured; tools.atlas.Register treats a nil
// factory's FeatureDisabled error as the expected outcome.
func newAtlasClientFactory(kc *keychain.Keychain) toolsatlas.ClientFactory {
	clientID := os.Getenv("MDB_MCP_API_CLIENT_ID")
	clientSecret := os.Getenv("MDB_MCP_API_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return nil
	}
	client := atlasclient.New(clientID, clientSecret, kc)
	return func(*dispatcher.ExecutionContext) (atlasclient.Client, error) {
		return client, nil
	}
}

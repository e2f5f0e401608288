package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongodb-tool-broker/broker/internal/config"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.TransportStdio, cfg.Transport)
	assert.Equal(t, 100, cfg.MaxDocumentsPerQuery)
	assert.ElementsMatch(t, config.DefaultConfirmationRequiredTools, cfg.ConfirmationRequiredTools)
}

func TestValidateRejectsSSETransport(t *testing.T) {
	cfg := config.Defaults()
	cfg.Transport = "sse"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport=sse is not supported")
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := config.Defaults()
	cfg.HTTPPort = 70000
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "httpPort")
}

func TestValidateRequiresVoyageKeyForVectorSearch(t *testing.T) {
	cfg := config.Defaults()
	cfg.PreviewFeatures = []config.PreviewFeature{config.PreviewVectorSearch}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voyageApiKey")

	cfg.VoyageAPIKey = "key"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsEmptyLoggers(t *testing.T) {
	cfg := config.Defaults()
	cfg.Loggers = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loggers")
}

func TestValidateRejectsDuplicateLoggers(t *testing.T) {
	cfg := config.Defaults()
	cfg.Loggers = []config.Logger{config.LoggerDisk, config.LoggerDisk}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestHasPreviewFeature(t *testing.T) {
	cfg := config.Defaults()
	assert.False(t, cfg.HasPreviewFeature(config.PreviewVectorSearch))
	cfg.PreviewFeatures = []config.PreviewFeature{config.PreviewVectorSearch}
	assert.True(t, cfg.HasPreviewFeature(config.PreviewVectorSearch))
}

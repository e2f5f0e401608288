package toolerrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
)

func TestCodeOf(t *testing.T) {
	err := toolerrors.New(toolerrors.NotConnected, "no active connection")
	assert.Equal(t, toolerrors.NotConnected, toolerrors.CodeOf(err))
}

func TestCodeOfUnclassifiedError(t *testing.T) {
	assert.Equal(t, toolerrors.Unexpected, toolerrors.CodeOf(errors.New("boom")))
}

func TestCodeOfNil(t *testing.T) {
	assert.Equal(t, toolerrors.Code(""), toolerrors.CodeOf(nil))
}

func TestWrappedErrorsAs(t *testing.T) {
	inner := toolerrors.New(toolerrors.EmbeddingServiceError, "voyage returned 500")
	wrapped := fmt.Errorf("generate embeddings: %w", inner)

	var te *toolerrors.Error
	require.True(t, errors.As(wrapped, &te))
	assert.Equal(t, toolerrors.EmbeddingServiceError, te.Code)
}

func TestWithIssues(t *testing.T) {
	err := toolerrors.New(toolerrors.InvalidArguments, "invalid arguments").
		WithIssues([]toolerrors.FieldIssue{{Field: "database", Constraint: "missing_field"}})
	issues := toolerrors.IssuesOf(err)
	require.Len(t, issues, 1)
	assert.Equal(t, "database", issues[0].Field)
}

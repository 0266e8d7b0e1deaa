package quarry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuarryErrorRendersCause(t *testing.T) {
	cause := errors.New("relation dropped")

	err := NewQueryExecutionError("bulk batch query failed", cause).WithModel("users")
	assert.Contains(t, err.Error(), "bulk batch query failed")
	assert.Contains(t, err.Error(), "relation dropped")
	assert.Contains(t, err.Error(), "model users")

	bare := NewQueryExecutionError("bulk batch query failed", nil)
	assert.Equal(t, "[execution:QUERY_EXECUTION_ERROR] bulk batch query failed", bare.Error())
}

func TestQuarryErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewInternalError("pool exhausted", cause)

	assert.ErrorIs(t, err, cause)
}

func TestQuarryErrorFieldRendering(t *testing.T) {
	err := NewValidationError("limit", "must be positive")
	assert.Equal(t, "[validation:VALIDATION_FAILED] field 'limit': must be positive", err.Error())
}

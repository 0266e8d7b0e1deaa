package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lychee-technology/quarry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteQuarryErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"model not found", quarry.NewModelNotFoundError("users"), http.StatusNotFound},
		{"job not found", quarry.NewJobNotFoundError("abc"), http.StatusNotFound},
		{"validation", quarry.NewValidationError("limit", "too large"), http.StatusBadRequest},
		{"scope construction", quarry.NewScopeConstructionError("bad filter", nil), http.StatusBadRequest},
		{"query execution", quarry.NewQueryExecutionError("boom", nil), http.StatusInternalServerError},
		{"plain error", errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeQuarryError(rec, tt.err)

			assert.Equal(t, tt.want, rec.Code)

			var resp APIResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, writeSuccess(rec, http.StatusOK, map[string]any{"ok": true}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

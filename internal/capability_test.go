package internal

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigramProbeMemoizes(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM pg_extension`).
		WithArgs("pg_trgm").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	probe := NewCapabilityProbe(mock)
	assert.True(t, probe.TrigramAvailable(ctx))
	// The second call must answer from memory; any query here would be an
	// unmet expectation.
	assert.True(t, probe.TrigramAvailable(ctx))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrigramProbeFailureMeansAbsent(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM pg_extension`).
		WithArgs("pg_trgm").
		WillReturnError(errors.New("connection reset"))

	probe := NewCapabilityProbe(mock)
	assert.False(t, probe.TrigramAvailable(ctx))

	// Failures are not memoized; the next call probes again.
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM pg_extension`).
		WithArgs("pg_trgm").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	assert.False(t, probe.TrigramAvailable(ctx))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchVectorUsable(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	model := testModel()
	model.SearchVectorColumn = "search_vector"

	mock.ExpectQuery(`SELECT EXISTS\(\s*SELECT 1 FROM information_schema\.columns`).
		WithArgs("users", "search_vector").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS\(\s*SELECT 1 FROM pg_indexes`).
		WithArgs("users", "search_vector").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	probe := NewCapabilityProbe(mock)
	assert.True(t, probe.SearchVectorUsable(ctx, model))
	// Memoized per table.
	assert.True(t, probe.SearchVectorUsable(ctx, model))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchVectorColumnWithoutIndexIsUnusable(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	model := testModel()
	model.SearchVectorColumn = "search_vector"

	mock.ExpectQuery(`information_schema\.columns`).
		WithArgs("users", "search_vector").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`pg_indexes`).
		WithArgs("users", "search_vector").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	probe := NewCapabilityProbe(mock)
	assert.False(t, probe.SearchVectorUsable(ctx, model))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchVectorUnconfiguredModel(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	probe := NewCapabilityProbe(mock)
	assert.False(t, probe.SearchVectorUsable(context.Background(), testModel()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProbeReset(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`pg_extension`).WithArgs("pg_trgm").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	probe := NewCapabilityProbe(mock)
	assert.False(t, probe.TrigramAvailable(ctx))

	probe.Reset()
	mock.ExpectQuery(`pg_extension`).WithArgs("pg_trgm").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	assert.True(t, probe.TrigramAvailable(ctx))

	require.NoError(t, mock.ExpectationsWereMet())
}

package internal

import (
	"context"
	"strings"
	"testing"

	"github.com/lychee-technology/quarry"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSearchConfig() quarry.SearchConfig {
	return quarry.SearchConfig{
		TrigramThreshold:    0.3,
		SuggestionThreshold: 0.1,
		MinQueryLength:      3,
		MinSuggestionLength: 2,
	}
}

func newTestSearchEngine(t *testing.T) (*SearchEngine, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewSearchEngine(mock, NewCapabilityProbe(mock), testSearchConfig()), mock
}

func TestSearchBlankQueryMatchesNothing(t *testing.T) {
	engine, mock := newTestSearchEngine(t)

	scoped := engine.Search(context.Background(), NewScope(testModel()), "   ", quarry.StrategyAuto)
	assert.True(t, scoped.IsNone(), "blank search means nothing matched, not no filter")

	// No capability probe, no query of any kind.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveShortQueryForcesBasic(t *testing.T) {
	engine, mock := newTestSearchEngine(t)

	got := engine.Resolve(context.Background(), testModel(), "Jo", quarry.StrategyAuto)
	assert.Equal(t, quarry.StrategyBasic, got)

	// Short input must not even probe capabilities.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveCountsRunesNotBytes(t *testing.T) {
	engine, mock := newTestSearchEngine(t)

	// Two CJK characters are six bytes but still below the three-character
	// minimum, so the query stays on the basic floor without probing.
	got := engine.Resolve(context.Background(), testModel(), "日本", quarry.StrategyAuto)
	assert.Equal(t, quarry.StrategyBasic, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveExplicitStrategyWins(t *testing.T) {
	engine, mock := newTestSearchEngine(t)

	got := engine.Resolve(context.Background(), testModel(), "John", quarry.StrategyTrigram)
	assert.Equal(t, quarry.StrategyTrigram, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAutoPrefersFullText(t *testing.T) {
	engine, mock := newTestSearchEngine(t)
	model := testModel()
	model.SearchVectorColumn = "search_vector"

	mock.ExpectQuery(`information_schema\.columns`).
		WithArgs("users", "search_vector").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`pg_indexes`).
		WithArgs("users", "search_vector").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	got := engine.Resolve(context.Background(), model, "John", quarry.StrategyAuto)
	assert.Equal(t, quarry.StrategyFullText, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAutoFallsBackToTrigram(t *testing.T) {
	engine, mock := newTestSearchEngine(t)

	mock.ExpectQuery(`pg_extension`).WithArgs("pg_trgm").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	got := engine.Resolve(context.Background(), testModel(), "John", quarry.StrategyAuto)
	assert.Equal(t, quarry.StrategyTrigram, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAutoBasicFloor(t *testing.T) {
	engine, mock := newTestSearchEngine(t)

	mock.ExpectQuery(`pg_extension`).WithArgs("pg_trgm").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	got := engine.Resolve(context.Background(), testModel(), "John", quarry.StrategyAuto)
	assert.Equal(t, quarry.StrategyBasic, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBasicSearchPredicate(t *testing.T) {
	engine, _ := newTestSearchEngine(t)

	scoped := engine.Search(context.Background(), NewScope(testModel()), "John", quarry.StrategyBasic)
	sql, args := scoped.SelectSQL([]string{"id"}, "")

	assert.Equal(t,
		"SELECT t.id FROM users t WHERE "+
			"(t.name ILIKE '%' || $1 || '%' OR t.email ILIKE '%' || $2 || '%')",
		sql)
	assert.Equal(t, []any{"John", "John"}, args)
}

func TestBasicSearchIncludesParentDisplayColumn(t *testing.T) {
	engine, _ := newTestSearchEngine(t)
	model := testModel()
	model.Associations = append(model.Associations, quarry.Association{
		Name:          "company",
		Table:         "companies",
		ForeignKey:    "owner_id",
		Cardinality:   quarry.CardinalityOneToOne,
		DisplayColumn: "company_name",
	})

	scoped := engine.Search(context.Background(), NewScope(model), "Acme", quarry.StrategyBasic)
	sql, args := scoped.SelectSQL([]string{"id"}, "")

	assert.Contains(t, sql, "LEFT JOIN companies company ON company.owner_id = t.id")
	assert.Contains(t, sql, "company.company_name ILIKE '%' || $3 || '%'")
	assert.Equal(t, []any{"Acme", "Acme", "Acme"}, args)
}

func TestBasicSearchJoinedScopeSelectsDistinct(t *testing.T) {
	engine, _ := newTestSearchEngine(t)
	model := testModel()
	model.Associations = append(model.Associations, quarry.Association{
		Name:          "purchase",
		Table:         "purchases",
		ForeignKey:    "user_id",
		Cardinality:   quarry.CardinalityOneToMany,
		DisplayColumn: "reference",
	})

	scoped := engine.Search(context.Background(), NewScope(model), "Acme", quarry.StrategyBasic)
	sql, _ := scoped.SelectSQL([]string{"id", "name"}, "")

	// A user matching several purchases must come back once, not once per child.
	assert.True(t, strings.HasPrefix(sql, "SELECT DISTINCT t.id, t.name FROM users t"), sql)
	assert.Contains(t, sql, "LEFT JOIN purchases purchase ON purchase.user_id = t.id")
}

func TestTrigramSearchPredicateAndOrder(t *testing.T) {
	engine, _ := newTestSearchEngine(t)

	scoped := engine.Search(context.Background(), NewScope(testModel()), "Jhon", quarry.StrategyTrigram)
	sql, args := scoped.SelectSQL([]string{"id"}, "")

	assert.Contains(t, sql, "GREATEST(similarity(t.name, $1), similarity(t.email, $2)) > $3")
	assert.Contains(t, sql, "ORDER BY GREATEST(similarity(t.name, 'Jhon'), similarity(t.email, 'Jhon')) DESC")
	assert.Equal(t, []any{"Jhon", "Jhon", 0.3}, args)
}

func TestFullTextSearchPredicateAndOrder(t *testing.T) {
	engine, _ := newTestSearchEngine(t)
	model := testModel()
	model.SearchVectorColumn = "search_vector"
	model.SearchLanguage = "english"

	scoped := engine.Search(context.Background(), NewScope(model), "John Smith", quarry.StrategyFullText)
	sql, args := scoped.SelectSQL([]string{"id"}, "")

	assert.Contains(t, sql, "t.search_vector @@ plainto_tsquery('english', $1)")
	assert.Contains(t, sql, "ORDER BY ts_rank(t.search_vector, plainto_tsquery('english', 'John Smith')) DESC")
	assert.Equal(t, []any{"John Smith"}, args)
}

func TestFullTextWithoutVectorFallsBackToBasic(t *testing.T) {
	engine, _ := newTestSearchEngine(t)

	scoped := engine.Search(context.Background(), NewScope(testModel()), "John", quarry.StrategyFullText)
	sql, _ := scoped.SelectSQL([]string{"id"}, "")
	assert.Contains(t, sql, "ILIKE")
	assert.NotContains(t, sql, "plainto_tsquery")
}

func TestSuggestionsShortQueryIsEmpty(t *testing.T) {
	engine, mock := newTestSearchEngine(t)

	got, err := engine.Suggestions(context.Background(), NewScope(testModel()), "J", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSuggestionsMinimumCountsRunes(t *testing.T) {
	engine, mock := newTestSearchEngine(t)

	// One CJK character is three bytes but one character, below the minimum.
	got, err := engine.Suggestions(context.Background(), NewScope(testModel()), "日", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSuggestionsDeduplicateAcrossColumns(t *testing.T) {
	engine, mock := newTestSearchEngine(t)

	mock.ExpectQuery(`pg_extension`).WithArgs("pg_trgm").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`SELECT DISTINCT t\.name AS value FROM users t`).
		WithArgs("jo", 10).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).
			AddRow(strPtr("John")).AddRow(strPtr("Joan")).AddRow((*string)(nil)))
	mock.ExpectQuery(`SELECT DISTINCT t\.email AS value FROM users t`).
		WithArgs("jo", 10).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).
			AddRow(strPtr("John")).AddRow(strPtr("jo@example.com")))

	got, err := engine.Suggestions(context.Background(), NewScope(testModel()), "jo", 10)
	require.NoError(t, err)

	assert.Equal(t, []quarry.Suggestion{
		{Column: "name", Value: "John"},
		{Column: "name", Value: "Joan"},
		{Column: "email", Value: "jo@example.com"},
	}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSuggestionsStopAtLimit(t *testing.T) {
	engine, mock := newTestSearchEngine(t)

	mock.ExpectQuery(`pg_extension`).WithArgs("pg_trgm").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	// Only the first column is queried once the limit is filled.
	mock.ExpectQuery(`SELECT DISTINCT t\.name AS value FROM users t`).
		WithArgs("jo", 2).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).
			AddRow(strPtr("John")).AddRow(strPtr("Joan")).AddRow(strPtr("Jonas")))

	got, err := engine.Suggestions(context.Background(), NewScope(testModel()), "jo", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }

package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func translateSQL(t *testing.T, cfg SQLConfig, input string) (*SQLResult, error) {
	t.Helper()
	return NewSQLTranslator(cfg).Translate(mustParse(t, input))
}

func TestSQLComparisons(t *testing.T) {
	assert := assert.New(t)
	cfg := DefaultSQLConfig()

	tests := []struct {
		input string
		sql   string
		args  []any
	}{
		{
			"view_count >= 100 AND language IN ('en', 'de')",
			"(view_count >= $1 AND language IN ($2, $3))",
			[]any{int64(100), "en", "de"},
		},
		{
			"a = 1 OR b != 'x'",
			"(a = $1 OR b != $2)",
			[]any{int64(1), "x"},
		},
		{
			"NOT is_nsfw = true",
			"NOT (is_nsfw = $1)",
			[]any{true},
		},
		{
			"duration BETWEEN 5 AND 60",
			"duration BETWEEN $1 AND $2",
			[]any{int64(5), int64(60)},
		},
		{
			"game_name IS NULL AND language IS NOT NULL",
			"(game_name IS NULL AND language IS NOT NULL)",
			nil,
		},
		{
			"language NOT IN ('en')",
			"language NOT IN ($1)",
			[]any{"en"},
		},
		{
			"title ILIKE '%clutch%'",
			"title ILIKE $1",
			[]any{"%clutch%"},
		},
	}

	for _, tt := range tests {
		res, err := translateSQL(t, cfg, tt.input)
		if !assert.NoError(err, tt.input) {
			continue
		}
		assert.Equal(tt.sql, res.SQL, tt.input)
		assert.Equal(tt.args, res.Args, tt.input)
	}
}

func TestSQLFieldMapping(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultSQLConfig()
	cfg.TableAlias = "c"
	cfg.FieldMapping = map[string]string{"game": "game_name", "views": "view_count"}

	res, err := translateSQL(t, cfg, "game = 'Minecraft' AND views > 10")
	require.NoError(t, err)
	assert.Equal("(c.game_name = $1 AND c.view_count > $2)", res.SQL)

	cfg.StrictFields = true
	_, err = translateSQL(t, cfg, "secret = 1")
	assert.True(errors.Is(err, ErrFieldNotAllowed))
}

func TestSQLLikeGuard(t *testing.T) {
	assert := assert.New(t)
	cfg := DefaultSQLConfig()

	_, err := translateSQL(t, cfg, "title LIKE '%ab'")
	assert.True(errors.Is(err, ErrInvalidLikePattern))

	res, err := translateSQL(t, cfg, "title LIKE '%abc'")
	require.NoError(t, err)
	assert.Equal("title LIKE $1", res.SQL)

	_, err = translateSQL(t, cfg, "title LIKE 5")
	assert.True(errors.Is(err, ErrInvalidLikePattern))
}

func TestSQLFullText(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultSQLConfig()
	res, err := translateSQL(t, cfg, "funny cat")
	require.NoError(t, err)
	assert.Equal("search_vector @@ to_tsquery('english', $1)", res.SQL)
	assert.Equal([]any{"funny:* & cat:*"}, res.Args)

	cfg.TextFields = []string{"title", "creator_name"}
	res, err = translateSQL(t, cfg, "is_nsfw = false funny")
	require.NoError(t, err)
	assert.Equal("(is_nsfw = $1 AND (to_tsvector('english', COALESCE(title, '')) || to_tsvector('english', COALESCE(creator_name, ''))) @@ to_tsquery('english', $2))", res.SQL)
	assert.Equal([]any{false, "funny:*"}, res.Args)

	sq := DefaultSQLConfig()
	sq.Dialect = SQLite
	sq.TextFields = []string{"title"}
	res, err = translateSQL(t, sq, "funny cat")
	require.NoError(t, err)
	assert.Equal("(COALESCE(title, '') LIKE ?) AND (COALESCE(title, '') LIKE ?)", res.SQL)
	assert.Equal([]any{"%funny%", "%cat%"}, res.Args)

	sq.TextFields = nil
	_, err = translateSQL(t, sq, "funny")
	assert.Error(err)
}

func TestSQLiteDialect(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultSQLConfig()
	cfg.Dialect = SQLite
	res, err := translateSQL(t, cfg, "title ILIKE '%clutch%' AND view_count > 3")
	require.NoError(t, err)
	assert.Equal("(title LIKE ? AND view_count > ?)", res.SQL)
}

func TestSQLDepthLimit(t *testing.T) {
	cfg := DefaultSQLConfig()
	cfg.MaxDepth = 2
	_, err := translateSQL(t, cfg, "a = 1 AND (b = 2 OR c = 3)")
	assert.True(t, errors.Is(err, ErrMaxDepthExceeded))
}

func TestBuildSelectQuery(t *testing.T) {
	assert := assert.New(t)

	tr := NewSQLTranslator(DefaultSQLConfig())
	res, err := tr.BuildSelectQuery("clips", []string{"id", "title"}, mustParse(t, "view_count > 10"), Options{
		Page:      2,
		Limit:     10,
		SortField: "view_count",
		SortDir:   "asc",
	})
	require.NoError(t, err)
	assert.Equal("SELECT id, title FROM clips WHERE view_count > $1 ORDER BY view_count ASC LIMIT $2 OFFSET $3", res.SQL)
	assert.Equal([]any{int64(10), 10, 10}, res.Args)
	assert.Equal(10, res.Limit)
	assert.Equal(10, res.Offset)

	res, err = tr.BuildSelectQuery("clips", nil, nil, Options{Limit: 1000})
	require.NoError(t, err)
	assert.Equal("SELECT * FROM clips LIMIT $1 OFFSET $2", res.SQL)
	assert.Equal([]any{100, 0}, res.Args)

	_, err = tr.BuildSelectQuery("clips; drop", nil, nil, Options{})
	assert.True(errors.Is(err, ErrInvalidField))

	_, err = tr.BuildSelectQuery("clips", nil, nil, Options{SortField: "1bad"})
	assert.True(errors.Is(err, ErrInvalidField))

	res, err = tr.BuildCountQuery("clips", mustParse(t, "view_count > 10"))
	require.NoError(t, err)
	assert.Equal("SELECT COUNT(*) FROM clips WHERE view_count > $1", res.SQL)
	assert.Equal([]any{int64(10)}, res.Args)
}

func TestToTSQuery(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("funny:* & cats:*", ToTSQuery("funny & cat's"))
	assert.Equal("", ToTSQuery("  & | "))
}

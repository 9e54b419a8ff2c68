package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, input string) Node {
	t.Helper()
	n, err := Parse(input)
	require.NoError(t, err, input)
	return n
}

func TestValidatorAcceptsCleanQueries(t *testing.T) {
	assert := assert.New(t)
	v := NewValidator(DefaultValidatorConfig())

	for _, input := range []string{
		"funny cats",
		"view_count >= 100 AND language IN ('en', 'de')",
		"game_name IS NOT NULL OR title ILIKE '%clutch%'",
		"duration BETWEEN 5 AND 60",
		"clip.title = 'x'",
	} {
		assert.Empty(v.Validate(mustParse(t, input)), input)
	}
}

func TestValidatorFieldRules(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultValidatorConfig()
	cfg.AllowedFields = []string{"title", "view_count", "email"}
	cfg.DisallowedFields = []string{"email"}
	v := NewValidator(cfg)

	errs := v.Validate(mustParse(t, "game_name = 'x'"))
	assert.True(errs.HasCode(CodeFieldNotAllowed))

	errs = v.Validate(mustParse(t, "email = 'a@b.c'"))
	assert.True(errs.HasCode(CodeDisallowedField))
	assert.False(errs.HasCode(CodeFieldNotAllowed))

	errs = v.Validate(mustParse(t, "a.b.c = 1"))
	assert.True(errs.HasCode(CodeInvalidFieldName))

	errs = v.Validate(&FullText{Query: "x", Fields: []string{"bad-field"}})
	assert.True(errs.HasCode(CodeInvalidFieldName))
}

func TestValidatorValues(t *testing.T) {
	assert := assert.New(t)
	v := NewValidator(DefaultValidatorConfig())

	errs := v.Validate(mustParse(t, "title = '1; DROP TABLE users'"))
	assert.True(errs.HasCode(CodeSQLInjectionDetected))

	errs = v.Validate(mustParse(t, "title = 'a -- b'"))
	assert.True(errs.HasCode(CodeSQLInjectionDetected))

	errs = v.Validate(mustParse(t, `"x' UNION SELECT password FROM users"`))
	assert.True(errs.HasCode(CodeSQLInjectionDetected))

	long := strings.Repeat("a", 1001)
	errs = v.Validate(mustParse(t, "title = '"+long+"'"))
	assert.True(errs.HasCode(CodeStringTooLong))

	errs = v.Validate(mustParse(t, "title IN ('ok', '"+long+"')"))
	assert.True(errs.HasCode(CodeStringTooLong))

	errs = v.Validate(mustParse(t, "title LIKE '%%'"))
	assert.True(errs.HasCode(CodeWildcardsNotAllowed))

	errs = v.Validate(&RangeExpr{Field: &Field{Name: "duration"}, Min: nil, Max: int64(5)})
	require.Len(t, errs, 1)
	assert.Equal(CodeNilRangeValue, errs[0].Code)
	assert.Equal("min", errs[0].Field)

	errs = v.Validate(&FullText{Query: "  "})
	assert.True(errs.HasCode(CodeEmptyQuery))
}

func TestValidatorLimits(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultValidatorConfig()
	cfg.MaxInValues = 2
	cfg.AllowWildcards = false
	v := NewValidator(cfg)

	errs := v.Validate(mustParse(t, "view_count IN (1, 2, 3)"))
	assert.True(errs.HasCode(CodeTooManyInValues))

	errs = v.Validate(mustParse(t, `"cat*"`))
	assert.True(errs.HasCode(CodeWildcardsNotAllowed))

	deep := strings.Repeat("NOT ", 12) + "a = 1"
	errs = NewValidator(DefaultValidatorConfig()).Validate(mustParse(t, deep))
	require.Len(t, errs, 1)
	assert.Equal(CodeMaxDepthExceeded, errs[0].Code)
}

func TestValidateInput(t *testing.T) {
	assert := assert.New(t)
	v := NewValidator(DefaultValidatorConfig())

	assert.True(v.ValidateInput("").HasCode(CodeEmptyQuery))
	assert.True(v.ValidateInput(" \t").HasCode(CodeEmptyQuery))
	assert.True(v.ValidateInput(strings.Repeat("x", 2001)).HasCode(CodeQueryTooLong))
	assert.Nil(v.ValidateInput("funny"))

	errs := v.ValidateInput("")
	assert.Contains(errs.Error(), "Query cannot be empty")
}

func TestSafeQueryLimits(t *testing.T) {
	assert := assert.New(t)
	limits := DefaultSafeQueryLimits()

	errs := limits.Validate(&Options{Offset: -1, Page: -1, SortDir: "up"})
	assert.True(errs.HasCode(CodeNegativeOffset))
	assert.True(errs.HasCode(CodeNegativePage))
	assert.True(errs.HasCode(CodeInvalidSortDirection))
	assert.Empty(limits.Validate(&Options{SortDir: "asc"}))

	opts := Options{Page: 3, Limit: 500}
	limits.Apply(&opts)
	assert.Equal(100, opts.Limit)
	assert.Equal(200, opts.Offset)
	assert.Equal(SortDesc, opts.SortDir)

	opts = Options{Offset: 50000, SortDir: "asc"}
	limits.Apply(&opts)
	assert.Equal(20, opts.Limit)
	assert.Equal(10000, opts.Offset)
	assert.Equal(SortAsc, opts.SortDir)
}

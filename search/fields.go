package search

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/subculture-collective/clipper/query"
)

var (
	ErrInvalidQuery = errors.New("invalid search query")
	ErrInvalidSort  = errors.New("invalid sort field")
)

// Query-language field names and the clip column / document field each one
// refers to. Clip documents use the column names as field names.
var clipFields = map[string]string{
	"title":       "title",
	"creator":     "creator_name",
	"broadcaster": "broadcaster_name",
	"game":        "game_name",
	"language":    "language",
	"duration":    "duration",
	"views":       "view_count",
	"votes":       "vote_score",
	"comments":    "comment_count",
	"favorites":   "favorite_count",
	"featured":    "is_featured",
	"nsfw":        "is_nsfw",
	"trending":    "trending_score",
	"created":     "created_at",
}

var sqlTextFields = []string{"title", "creator", "broadcaster", "game"}

var openSearchTextFields = []string{"title^3", "creator_name", "broadcaster_name^2", "game_name"}

// Fields lists the field names usable in search queries.
func Fields() []string {
	out := make([]string, 0, len(clipFields))
	for k := range clipFields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newValidator() *query.Validator {
	cfg := query.DefaultValidatorConfig()
	cfg.AllowedFields = Fields()
	return query.NewValidator(cfg)
}

// parseQuery validates and parses raw, returning a nil node for an empty
// query. Every failure wraps ErrInvalidQuery.
func parseQuery(v *query.Validator, raw string, opts *query.Options) (query.Node, error) {
	if errs := query.DefaultSafeQueryLimits().Validate(opts); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, errs)
	}
	if opts.SortField != "" {
		if _, ok := clipFields[opts.SortField]; !ok {
			return nil, fmt.Errorf("%w: %w: %s", ErrInvalidQuery, ErrInvalidSort, opts.SortField)
		}
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	if errs := v.ValidateInput(raw); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, errs)
	}
	node, err := query.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if errs := v.Validate(node); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, errs)
	}
	return node, nil
}

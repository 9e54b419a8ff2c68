package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/subculture-collective/clipper/models"
	"github.com/subculture-collective/clipper/query"

	"gorm.io/gorm"
)

// SQLSearcher runs clip searches directly against the database, for
// deployments without OpenSearch.
type SQLSearcher struct {
	db        *gorm.DB
	dialect   query.Dialect
	validator *query.Validator
	logger    *slog.Logger
}

var _ Searcher = (*SQLSearcher)(nil)

func NewSQLSearcher(db *gorm.DB, logger *slog.Logger) *SQLSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	dialect := query.Postgres
	if db.Dialector.Name() == "sqlite" {
		dialect = query.SQLite
	}
	return &SQLSearcher{
		db:        db,
		dialect:   dialect,
		validator: newValidator(),
		logger:    logger.With("component", "search", "backend", "sql"),
	}
}

func (s *SQLSearcher) SearchClips(ctx context.Context, raw string, opts query.Options) (*Results, error) {
	start := time.Now()
	node, err := parseQuery(s.validator, raw, &opts)
	if err != nil {
		searchQueries.WithLabelValues("sql", "invalid").Inc()
		return nil, err
	}

	where := "NOT is_removed AND NOT is_hidden"
	var args []any
	if node != nil {
		cfg := query.DefaultSQLConfig()
		cfg.Dialect = s.dialect
		cfg.FieldMapping = clipFields
		cfg.StrictFields = true
		cfg.TextFields = sqlTextFields
		res, err := query.NewSQLTranslator(cfg).Translate(node)
		if err != nil {
			searchQueries.WithLabelValues("sql", "invalid").Inc()
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}
		where += " AND (" + res.SQL + ")"
		args = res.Args
	}

	query.DefaultSafeQueryLimits().Apply(&opts)
	order := "created_at DESC"
	if opts.SortField != "" {
		order = clipFields[opts.SortField] + " " + opts.SortDir
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM clips WHERE %s ORDER BY %s, id LIMIT %d OFFSET %d", where, order, opts.Limit, opts.Offset)

	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Raw("SELECT COUNT(*) FROM clips WHERE "+where, args...).Scan(&total).Error; err != nil {
		searchQueries.WithLabelValues("sql", "error").Inc()
		return nil, fmt.Errorf("counting search results: %w", err)
	}
	var clips []models.Clip
	if err := db.Raw(sb.String(), args...).Scan(&clips).Error; err != nil {
		searchQueries.WithLabelValues("sql", "error").Inc()
		return nil, fmt.Errorf("running search: %w", err)
	}
	searchDuration.WithLabelValues("sql").Observe(time.Since(start).Seconds())
	searchQueries.WithLabelValues("sql", "ok").Inc()

	out := &Results{
		Total: total,
		Page:  opts.Offset/opts.Limit + 1,
		Limit: opts.Limit,
		Hits:  make([]Hit, len(clips)),
	}
	for i := range clips {
		out.Hits[i] = Hit{ID: clips[i].ID.String(), Clip: TransformClip(&clips[i])}
	}
	return out, nil
}

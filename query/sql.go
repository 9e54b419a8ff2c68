package query

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidField        = errors.New("invalid field name")
	ErrFieldNotAllowed     = errors.New("field not allowed")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrInvalidValue        = errors.New("invalid value")
	ErrMaxDepthExceeded    = errors.New("max query depth exceeded")
	ErrInvalidLikePattern  = errors.New("invalid LIKE pattern")
	ErrTooManyInValues     = errors.New("too many IN values")
)

type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

type SQLConfig struct {
	Dialect    Dialect
	TableAlias string
	// maps query field names to column names; with StrictFields set,
	// only mapped fields may be used
	FieldMapping map[string]string
	StrictFields bool
	// columns searched by free-text terms; for Postgres an empty list means
	// the precomputed search_vector column
	TextFields  []string
	MaxDepth    int
	MaxInValues int
	Limits      SafeQueryLimits
}

func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		Dialect:     Postgres,
		MaxDepth:    10,
		MaxInValues: 1000,
		Limits:      DefaultSafeQueryLimits(),
	}
}

type SQLResult struct {
	SQL    string
	Args   []any
	Limit  int
	Offset int
}

// SQLTranslator turns an AST into a parameterized WHERE clause. User
// values are only ever passed as placeholder arguments. A translator is not
// safe for concurrent use; create one per query.
type SQLTranslator struct {
	cfg   SQLConfig
	args  []any
	depth int
}

func NewSQLTranslator(cfg SQLConfig) *SQLTranslator {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}
	if cfg.MaxInValues <= 0 {
		cfg.MaxInValues = 1000
	}
	if cfg.Limits.MaxLimit == 0 {
		cfg.Limits = DefaultSafeQueryLimits()
	}
	return &SQLTranslator{cfg: cfg}
}

// Translate returns the WHERE clause (without the keyword) for node.
func (t *SQLTranslator) Translate(node Node) (*SQLResult, error) {
	if node == nil {
		return nil, ErrEmptyQuery
	}
	t.args = nil
	t.depth = 0
	where, err := t.translate(node)
	if err != nil {
		return nil, err
	}
	return &SQLResult{SQL: where, Args: t.args}, nil
}

// BuildSelectQuery builds a full paginated SELECT. A nil node selects every
// row, still bounded by LIMIT.
func (t *SQLTranslator) BuildSelectQuery(table string, columns []string, node Node, opts Options) (*SQLResult, error) {
	if table == "" {
		return nil, errors.New("table name required")
	}
	if !IsValidFieldName(table) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidField, table)
	}
	t.args = nil
	t.depth = 0

	cols := "*"
	if len(columns) > 0 {
		for _, c := range columns {
			if !IsValidFieldName(c) {
				return nil, fmt.Errorf("%w: %s", ErrInvalidField, c)
			}
		}
		cols = strings.Join(columns, ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, t.tableRef(table))
	if node != nil {
		where, err := t.translate(node)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	t.cfg.Limits.Apply(&opts)
	if opts.SortField != "" {
		col, err := t.column(opts.SortField)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s", col, opts.SortDir)
	}

	sb.WriteString(" LIMIT ")
	sb.WriteString(t.bind(opts.Limit))
	sb.WriteString(" OFFSET ")
	sb.WriteString(t.bind(opts.Offset))

	return &SQLResult{SQL: sb.String(), Args: t.args, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// BuildCountQuery builds the matching COUNT(*) for pagination metadata.
func (t *SQLTranslator) BuildCountQuery(table string, node Node) (*SQLResult, error) {
	if !IsValidFieldName(table) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidField, table)
	}
	t.args = nil
	t.depth = 0
	sql := "SELECT COUNT(*) FROM " + t.tableRef(table)
	if node != nil {
		where, err := t.translate(node)
		if err != nil {
			return nil, err
		}
		sql += " WHERE " + where
	}
	return &SQLResult{SQL: sql, Args: t.args}, nil
}

func (t *SQLTranslator) tableRef(table string) string {
	if t.cfg.TableAlias != "" {
		return table + " " + t.cfg.TableAlias
	}
	return table
}

func (t *SQLTranslator) bind(v any) string {
	t.args = append(t.args, v)
	if t.cfg.Dialect == SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", len(t.args))
}

func (t *SQLTranslator) column(name string) (string, error) {
	if !IsValidFieldName(name) {
		return "", fmt.Errorf("%w: %s", ErrInvalidField, name)
	}
	col := name
	if mapped, ok := t.cfg.FieldMapping[name]; ok {
		col = mapped
	} else if t.cfg.StrictFields {
		return "", fmt.Errorf("%w: %s", ErrFieldNotAllowed, name)
	}
	if t.cfg.TableAlias != "" && !strings.Contains(col, ".") {
		col = t.cfg.TableAlias + "." + col
	}
	return col, nil
}

func (t *SQLTranslator) translate(node Node) (string, error) {
	t.depth++
	defer func() { t.depth-- }()
	if t.depth > t.cfg.MaxDepth {
		return "", ErrMaxDepthExceeded
	}

	switch n := node.(type) {
	case *BinaryExpr:
		return t.translateBinary(n)
	case *UnaryExpr:
		return t.translateUnary(n)
	case *Field:
		return t.column(n.Name)
	case *Literal:
		return t.bind(n.Value), nil
	case *InExpr:
		return t.translateIn(n)
	case *RangeExpr:
		col, err := t.column(n.Field.Name)
		if err != nil {
			return "", err
		}
		if n.Min == nil || n.Max == nil {
			return "", fmt.Errorf("%w: BETWEEN bounds are required", ErrInvalidValue)
		}
		lo := t.bind(n.Min)
		hi := t.bind(n.Max)
		return fmt.Sprintf("%s BETWEEN %s AND %s", col, lo, hi), nil
	case *FullText:
		return t.translateFullText(n)
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedOperator, node)
	}
}

var sqlOperators = map[Kind]string{
	KindEq:    "=",
	KindNe:    "!=",
	KindGt:    ">",
	KindGe:    ">=",
	KindLt:    "<",
	KindLe:    "<=",
	KindLike:  "LIKE",
	KindILike: "ILIKE",
}

func (t *SQLTranslator) translateBinary(n *BinaryExpr) (string, error) {
	if n.Op == KindAnd || n.Op == KindOr {
		left, err := t.translate(n.Left)
		if err != nil {
			return "", err
		}
		right, err := t.translate(n.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", left, n.Op, right), nil
	}

	op, ok := sqlOperators[n.Op]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedOperator, n.Op)
	}

	if n.Op == KindLike || n.Op == KindILike {
		lit, ok := n.Right.(*Literal)
		if !ok {
			return "", fmt.Errorf("%w: LIKE requires a string pattern", ErrInvalidLikePattern)
		}
		pattern, ok := lit.Value.(string)
		if !ok {
			return "", fmt.Errorf("%w: LIKE requires a string pattern", ErrInvalidLikePattern)
		}
		if err := validateLikePattern(pattern); err != nil {
			return "", err
		}
		// sqlite LIKE is already case-insensitive for ASCII
		if n.Op == KindILike && t.cfg.Dialect == SQLite {
			op = "LIKE"
		}
	}

	left, err := t.translate(n.Left)
	if err != nil {
		return "", err
	}
	right, err := t.translate(n.Right)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", left, op, right), nil
}

// validateLikePattern rejects short patterns with a leading wildcard, which
// force a full scan for almost no selectivity.
func validateLikePattern(pattern string) error {
	if strings.HasPrefix(pattern, "%") && len(pattern) < 4 {
		return fmt.Errorf("%w: leading wildcard requires at least 3 characters", ErrInvalidLikePattern)
	}
	return nil
}

func (t *SQLTranslator) translateUnary(n *UnaryExpr) (string, error) {
	child, err := t.translate(n.Child)
	if err != nil {
		return "", err
	}
	switch n.Op {
	case KindNot:
		return fmt.Sprintf("NOT (%s)", child), nil
	case KindIsNull:
		return child + " IS NULL", nil
	case KindIsNotNull:
		return child + " IS NOT NULL", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedOperator, n.Op)
	}
}

func (t *SQLTranslator) translateIn(n *InExpr) (string, error) {
	if len(n.Values) > t.cfg.MaxInValues {
		return "", fmt.Errorf("%w: got %d, max %d", ErrTooManyInValues, len(n.Values), t.cfg.MaxInValues)
	}
	col, err := t.column(n.Field.Name)
	if err != nil {
		return "", err
	}
	op := "IN"
	if n.Negate {
		op = "NOT IN"
	}
	// an empty IN list matches nothing; NOT IN () matches everything
	if len(n.Values) == 0 {
		if n.Negate {
			return "1 = 1", nil
		}
		return "1 = 0", nil
	}
	placeholders := make([]string, len(n.Values))
	for i, v := range n.Values {
		placeholders[i] = t.bind(v)
	}
	return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(placeholders, ", ")), nil
}

func (t *SQLTranslator) translateFullText(n *FullText) (string, error) {
	words := strings.Fields(n.Query)
	if len(words) == 0 {
		return "", ErrEmptyQuery
	}
	fields := n.Fields
	if len(fields) == 0 {
		fields = t.cfg.TextFields
	}

	if t.cfg.Dialect == SQLite {
		if len(fields) == 0 {
			return "", fmt.Errorf("%w: no text fields configured", ErrInvalidField)
		}
		// every word must appear in at least one field
		clauses := make([]string, 0, len(words))
		for _, w := range words {
			ors := make([]string, 0, len(fields))
			for _, f := range fields {
				col, err := t.column(f)
				if err != nil {
					return "", err
				}
				ors = append(ors, fmt.Sprintf("COALESCE(%s, '') LIKE %s", col, t.bind("%"+w+"%")))
			}
			clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
		}
		return strings.Join(clauses, " AND "), nil
	}

	tsQuery := ToTSQuery(n.Query)
	if tsQuery == "" {
		return "", ErrEmptyQuery
	}
	tsq := t.bind(tsQuery)
	if len(fields) == 0 {
		col := "search_vector"
		if t.cfg.TableAlias != "" {
			col = t.cfg.TableAlias + "." + col
		}
		return fmt.Sprintf("%s @@ to_tsquery('english', %s)", col, tsq), nil
	}
	exprs := make([]string, len(fields))
	for i, f := range fields {
		col, err := t.column(f)
		if err != nil {
			return "", err
		}
		exprs[i] = fmt.Sprintf("to_tsvector('english', COALESCE(%s, ''))", col)
	}
	return fmt.Sprintf("(%s) @@ to_tsquery('english', %s)", strings.Join(exprs, " || "), tsq), nil
}

// ToTSQuery converts free text into a prefix-matching tsquery where every
// word must match, eg "funny cat" becomes "funny:* & cat:*". Characters with
// meaning in tsquery syntax are dropped.
func ToTSQuery(text string) string {
	var terms []string
	for _, w := range strings.Fields(text) {
		w = strings.Map(func(r rune) rune {
			switch r {
			case '&', '|', '!', '(', ')', ':', '*', '\'', '\\', '<', '>':
				return -1
			}
			return r
		}, w)
		if w != "" {
			terms = append(terms, w+":*")
		}
	}
	return strings.Join(terms, " & ")
}

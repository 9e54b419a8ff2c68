package query

import (
	"fmt"
	"strings"
)

type OpenSearchConfig struct {
	FieldMapping map[string]string
	StrictFields bool
	// default fields for free-text terms; entries may carry a boost, eg "title^3"
	TextFields  []string
	MaxDepth    int
	MaxInValues int
	Limits      SafeQueryLimits
}

// OpenSearchTranslator turns an AST into OpenSearch query DSL, as nested
// maps ready for JSON encoding.
type OpenSearchTranslator struct {
	cfg   OpenSearchConfig
	depth int
}

func NewOpenSearchTranslator(cfg OpenSearchConfig) *OpenSearchTranslator {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}
	if cfg.MaxInValues <= 0 {
		cfg.MaxInValues = 1000
	}
	if cfg.Limits.MaxLimit == 0 {
		cfg.Limits = DefaultSafeQueryLimits()
	}
	return &OpenSearchTranslator{cfg: cfg}
}

func (t *OpenSearchTranslator) Translate(node Node) (map[string]any, error) {
	if node == nil {
		return nil, ErrEmptyQuery
	}
	t.depth = 0
	return t.translate(node)
}

// BuildSearchQuery wraps the translated query with pagination and sort.
func (t *OpenSearchTranslator) BuildSearchQuery(node Node, opts Options) (map[string]any, error) {
	q, err := t.Translate(node)
	if err != nil {
		return nil, err
	}
	return t.wrap(q, opts)
}

// BuildMatchAllQuery matches every document, narrowed by filters in
// non-scoring filter context.
func (t *OpenSearchTranslator) BuildMatchAllQuery(filters []Node, opts Options) (map[string]any, error) {
	var q map[string]any
	if len(filters) == 0 {
		q = map[string]any{"match_all": map[string]any{}}
	} else {
		clauses := make([]any, 0, len(filters))
		for _, f := range filters {
			t.depth = 0
			fc, err := t.translate(f)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, fc)
		}
		q = map[string]any{"bool": map[string]any{"filter": clauses}}
	}
	return t.wrap(q, opts)
}

func (t *OpenSearchTranslator) wrap(q map[string]any, opts Options) (map[string]any, error) {
	t.cfg.Limits.Apply(&opts)
	out := map[string]any{
		"query": q,
		"from":  opts.Offset,
		"size":  opts.Limit,
	}
	if opts.SortField != "" {
		field, err := t.field(opts.SortField)
		if err != nil {
			return nil, err
		}
		out["sort"] = []any{
			map[string]any{field: map[string]any{"order": strings.ToLower(opts.SortDir)}},
		}
	}
	return out, nil
}

func (t *OpenSearchTranslator) field(name string) (string, error) {
	if !IsValidFieldName(name) {
		return "", fmt.Errorf("%w: %s", ErrInvalidField, name)
	}
	if mapped, ok := t.cfg.FieldMapping[name]; ok {
		return mapped, nil
	}
	if t.cfg.StrictFields {
		return "", fmt.Errorf("%w: %s", ErrFieldNotAllowed, name)
	}
	return name, nil
}

func (t *OpenSearchTranslator) translate(node Node) (map[string]any, error) {
	t.depth++
	defer func() { t.depth-- }()
	if t.depth > t.cfg.MaxDepth {
		return nil, ErrMaxDepthExceeded
	}

	switch n := node.(type) {
	case *BinaryExpr:
		return t.translateBinary(n)
	case *UnaryExpr:
		return t.translateUnary(n)
	case *InExpr:
		return t.translateIn(n)
	case *RangeExpr:
		f, err := t.field(n.Field.Name)
		if err != nil {
			return nil, err
		}
		if n.Min == nil || n.Max == nil {
			return nil, fmt.Errorf("%w: BETWEEN bounds are required", ErrInvalidValue)
		}
		return map[string]any{
			"range": map[string]any{f: map[string]any{"gte": n.Min, "lte": n.Max}},
		}, nil
	case *FullText:
		return t.translateFullText(n)
	case *Field, *Literal:
		return nil, fmt.Errorf("%w: bare %s cannot be a query", ErrUnsupportedOperator, node.Kind())
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedOperator, node)
	}
}

var rangeOperators = map[Kind]string{
	KindGt: "gt",
	KindGe: "gte",
	KindLt: "lt",
	KindLe: "lte",
}

func (t *OpenSearchTranslator) translateBinary(n *BinaryExpr) (map[string]any, error) {
	switch n.Op {
	case KindAnd, KindOr:
		left, err := t.translate(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := t.translate(n.Right)
		if err != nil {
			return nil, err
		}
		if n.Op == KindAnd {
			return map[string]any{"bool": map[string]any{"must": []any{left, right}}}, nil
		}
		return map[string]any{"bool": map[string]any{
			"should":               []any{left, right},
			"minimum_should_match": 1,
		}}, nil
	}

	fieldNode, ok := n.Left.(*Field)
	if !ok {
		return nil, fmt.Errorf("%w: comparison requires a field", ErrInvalidField)
	}
	lit, ok := n.Right.(*Literal)
	if !ok {
		return nil, fmt.Errorf("%w: comparison requires a literal value", ErrInvalidValue)
	}
	f, err := t.field(fieldNode.Name)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case KindEq:
		return map[string]any{"term": map[string]any{f: lit.Value}}, nil
	case KindNe:
		return mustNot(map[string]any{"term": map[string]any{f: lit.Value}}), nil
	case KindGt, KindGe, KindLt, KindLe:
		return map[string]any{
			"range": map[string]any{f: map[string]any{rangeOperators[n.Op]: lit.Value}},
		}, nil
	case KindLike, KindILike:
		pattern, ok := lit.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: LIKE requires a string pattern", ErrInvalidLikePattern)
		}
		return map[string]any{
			"wildcard": map[string]any{f: map[string]any{
				"value":            LikeToWildcard(pattern),
				"case_insensitive": n.Op == KindILike,
			}},
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, n.Op)
}

func mustNot(clause map[string]any) map[string]any {
	return map[string]any{"bool": map[string]any{"must_not": []any{clause}}}
}

func (t *OpenSearchTranslator) translateUnary(n *UnaryExpr) (map[string]any, error) {
	if n.Op == KindNot {
		child, err := t.translate(n.Child)
		if err != nil {
			return nil, err
		}
		return mustNot(child), nil
	}

	fieldNode, ok := n.Child.(*Field)
	if !ok {
		return nil, fmt.Errorf("%w: %s requires a field", ErrInvalidField, n.Op)
	}
	f, err := t.field(fieldNode.Name)
	if err != nil {
		return nil, err
	}
	exists := map[string]any{"exists": map[string]any{"field": f}}
	switch n.Op {
	case KindIsNull:
		return mustNot(exists), nil
	case KindIsNotNull:
		return exists, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, n.Op)
}

func (t *OpenSearchTranslator) translateIn(n *InExpr) (map[string]any, error) {
	if len(n.Values) > t.cfg.MaxInValues {
		return nil, fmt.Errorf("%w: got %d, max %d", ErrTooManyInValues, len(n.Values), t.cfg.MaxInValues)
	}
	f, err := t.field(n.Field.Name)
	if err != nil {
		return nil, err
	}
	terms := map[string]any{"terms": map[string]any{f: n.Values}}
	if n.Negate {
		return mustNot(terms), nil
	}
	return terms, nil
}

func (t *OpenSearchTranslator) translateFullText(n *FullText) (map[string]any, error) {
	if strings.TrimSpace(n.Query) == "" {
		return nil, ErrEmptyQuery
	}

	var fields []string
	if len(n.Fields) > 0 {
		for _, name := range n.Fields {
			f, err := t.field(name)
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
		}
	} else {
		fields = t.cfg.TextFields
	}

	if len(fields) == 1 {
		match := map[string]any{
			"query":     n.Query,
			"fuzziness": "AUTO",
			"operator":  "and",
		}
		if n.Boost > 0 {
			match["boost"] = n.Boost
		}
		return map[string]any{"match": map[string]any{fields[0]: match}}, nil
	}

	mm := map[string]any{
		"query":     n.Query,
		"fuzziness": "AUTO",
		"operator":  "and",
	}
	if len(fields) > 0 {
		mm["fields"] = fields
	}
	if n.Boost > 0 {
		mm["boost"] = n.Boost
	}
	return map[string]any{"multi_match": mm}, nil
}

// LikeToWildcard converts a SQL LIKE pattern to OpenSearch wildcard syntax:
// % becomes *, _ becomes ?, and a backslash-escaped % or _ stays literal.
func LikeToWildcard(pattern string) string {
	var sb strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '\\' && i+1 < len(pattern) && (pattern[i+1] == '%' || pattern[i+1] == '_') {
			sb.WriteByte(pattern[i+1])
			i++
			continue
		}
		switch c {
		case '%':
			sb.WriteByte('*')
		case '_':
			sb.WriteByte('?')
		case '*', '?':
			// literal in LIKE, special in wildcard
			sb.WriteByte('\\')
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

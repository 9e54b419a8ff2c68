package query

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation error codes. These are stable and returned to API clients.
const (
	CodeMaxDepthExceeded     = "MAX_DEPTH_EXCEEDED"
	CodeInvalidFieldName     = "INVALID_FIELD_NAME"
	CodeDisallowedField      = "DISALLOWED_FIELD"
	CodeFieldNotAllowed      = "FIELD_NOT_ALLOWED"
	CodeStringTooLong        = "STRING_TOO_LONG"
	CodeSQLInjectionDetected = "SQL_INJECTION_DETECTED"
	CodeTooManyValues        = "TOO_MANY_VALUES"
	CodeTooManyInValues      = "TOO_MANY_IN_VALUES"
	CodeNilRangeValue        = "NIL_RANGE_VALUE"
	CodeEmptyQuery           = "EMPTY_QUERY"
	CodeQueryTooLong         = "QUERY_TOO_LONG"
	CodeWildcardsNotAllowed  = "WILDCARDS_NOT_ALLOWED"
	CodeNegativeOffset       = "NEGATIVE_OFFSET"
	CodeNegativePage         = "NEGATIVE_PAGE"
	CodeInvalidSortDirection = "INVALID_SORT_DIRECTION"
)

type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationErrors collects every problem found in a query.
type ValidationErrors []*ValidationError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.Error()
	}
	return "invalid query: " + strings.Join(msgs, "; ")
}

// HasCode reports whether any error carries the given code.
func (ve ValidationErrors) HasCode(code string) bool {
	for _, e := range ve {
		if e.Code == code {
			return true
		}
	}
	return false
}

type ValidatorConfig struct {
	AllowedFields    []string
	DisallowedFields []string
	MaxDepth         int
	MaxInValues      int
	MaxStringLength  int
	// MaxQueryLength bounds the raw input string
	MaxQueryLength int
	AllowWildcards bool
}

func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxDepth:        10,
		MaxInValues:     1000,
		MaxStringLength: 1000,
		MaxQueryLength:  2000,
		AllowWildcards:  true,
	}
}

var fieldNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

var sqlInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i);\s*drop\s+`),
	regexp.MustCompile(`(?i);\s*delete\s+`),
	regexp.MustCompile(`(?i);\s*insert\s+`),
	regexp.MustCompile(`(?i);\s*update\s+`),
	regexp.MustCompile(`(?i);\s*alter\s+`),
	regexp.MustCompile(`(?i);\s*truncate\s+`),
	regexp.MustCompile(`(?i)union\s+(all\s+)?select`),
	regexp.MustCompile(`--`),
	regexp.MustCompile(`/\*.*\*/`),
	regexp.MustCompile(`(?i)\bxp_\w+`),
}

func IsValidFieldName(name string) bool {
	return fieldNameRegex.MatchString(name)
}

func containsSQLInjection(s string) bool {
	for _, re := range sqlInjectionPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

type Validator struct {
	cfg        ValidatorConfig
	allowed    map[string]bool
	disallowed map[string]bool
}

func NewValidator(cfg ValidatorConfig) *Validator {
	v := &Validator{
		cfg:        cfg,
		allowed:    make(map[string]bool, len(cfg.AllowedFields)),
		disallowed: make(map[string]bool, len(cfg.DisallowedFields)),
	}
	for _, f := range cfg.AllowedFields {
		v.allowed[f] = true
	}
	for _, f := range cfg.DisallowedFields {
		v.disallowed[f] = true
	}
	return v
}

// ValidateInput checks the raw query string before parsing.
func (v *Validator) ValidateInput(raw string) ValidationErrors {
	if strings.TrimSpace(raw) == "" {
		return ValidationErrors{{Message: "Query cannot be empty", Code: CodeEmptyQuery}}
	}
	if v.cfg.MaxQueryLength > 0 && len(raw) > v.cfg.MaxQueryLength {
		return ValidationErrors{{
			Message: fmt.Sprintf("Query exceeds maximum length of %d", v.cfg.MaxQueryLength),
			Code:    CodeQueryTooLong,
		}}
	}
	return nil
}

// Validate walks the AST and returns every violation found, or nil.
func (v *Validator) Validate(node Node) ValidationErrors {
	var errs ValidationErrors
	add := func(field, msg, code string) {
		errs = append(errs, &ValidationError{Field: field, Message: msg, Code: code})
	}

	depthReported := false
	Walk(node, func(n Node, depth int) bool {
		if depth > v.cfg.MaxDepth {
			if !depthReported {
				add("", "Query exceeds maximum depth", CodeMaxDepthExceeded)
				depthReported = true
			}
			return false
		}

		switch n := n.(type) {
		case *Field:
			v.checkField(n.Name, add)
		case *Literal:
			v.checkString(n.Value, "", add)
		case *BinaryExpr:
			if n.Op == KindLike || n.Op == KindILike {
				if lit, ok := n.Right.(*Literal); ok {
					if s, ok := lit.Value.(string); ok && strings.Trim(s, "%_") == "" {
						add(fieldName(n.Left), "LIKE pattern cannot consist only of wildcards", CodeWildcardsNotAllowed)
					}
				}
			}
		case *InExpr:
			if v.cfg.MaxInValues > 0 && len(n.Values) > v.cfg.MaxInValues {
				add(n.Field.Name, fmt.Sprintf("IN clause exceeds maximum of %d values", v.cfg.MaxInValues), CodeTooManyInValues)
			}
			for _, val := range n.Values {
				v.checkString(val, n.Field.Name, add)
			}
		case *RangeExpr:
			for _, b := range []struct {
				name string
				val  any
			}{{"min", n.Min}, {"max", n.Max}} {
				if b.val == nil {
					add(b.name, "Range value cannot be nil", CodeNilRangeValue)
					continue
				}
				v.checkString(b.val, b.name, add)
			}
		case *FullText:
			v.checkFullText(n, add)
		}
		return true
	})
	return errs
}

func fieldName(n Node) string {
	if f, ok := n.(*Field); ok {
		return f.Name
	}
	return ""
}

func (v *Validator) checkField(name string, add func(field, msg, code string)) {
	if !IsValidFieldName(name) {
		add(name, "Invalid field name format", CodeInvalidFieldName)
		return
	}
	if v.disallowed[name] {
		add(name, "Field is not allowed in queries", CodeDisallowedField)
		return
	}
	if len(v.allowed) > 0 && !v.allowed[name] {
		add(name, "Field is not in allowed list", CodeFieldNotAllowed)
	}
}

func (v *Validator) checkString(val any, field string, add func(field, msg, code string)) {
	s, ok := val.(string)
	if !ok {
		return
	}
	if v.cfg.MaxStringLength > 0 && len(s) > v.cfg.MaxStringLength {
		add(field, fmt.Sprintf("String value exceeds maximum length of %d", v.cfg.MaxStringLength), CodeStringTooLong)
	}
	if containsSQLInjection(s) {
		add(field, "Value contains potentially dangerous SQL patterns", CodeSQLInjectionDetected)
	}
}

func (v *Validator) checkFullText(n *FullText, add func(field, msg, code string)) {
	if strings.TrimSpace(n.Query) == "" {
		add("query", "Full-text search query cannot be empty", CodeEmptyQuery)
		return
	}
	if v.cfg.MaxStringLength > 0 && len(n.Query) > v.cfg.MaxStringLength {
		add("query", "Full-text search query exceeds maximum length", CodeQueryTooLong)
	}
	if !v.cfg.AllowWildcards && strings.ContainsAny(n.Query, "*?") {
		add("query", "Wildcards are not allowed in full-text search", CodeWildcardsNotAllowed)
	}
	if containsSQLInjection(n.Query) {
		add("query", "Value contains potentially dangerous SQL patterns", CodeSQLInjectionDetected)
	}
	for _, f := range n.Fields {
		if !IsValidFieldName(f) {
			add(f, "Invalid field name in full-text search", CodeInvalidFieldName)
		}
	}
}

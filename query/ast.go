// Package query implements the clip search query language: a small boolean
// filter grammar with free-text terms, a validator that enforces safety
// limits, and translators to PostgreSQL/SQLite WHERE clauses and OpenSearch
// query DSL.
//
// Example:
//
//	funny cats AND game_name = "Minecraft" AND view_count >= 1000 AND language IN ('en', 'de')
package query

import (
	"fmt"
	"strings"
)

type Kind int

const (
	KindAnd Kind = iota
	KindOr
	KindNot

	KindEq
	KindNe
	KindGt
	KindGe
	KindLt
	KindLe
	KindLike
	KindILike
	KindIn
	KindNotIn
	KindBetween
	KindIsNull
	KindIsNotNull

	KindFullText
	KindField
	KindLiteral
)

var kindNames = [...]string{
	"AND", "OR", "NOT",
	"=", "!=", ">", ">=", "<", "<=", "LIKE", "ILIKE", "IN", "NOT IN", "BETWEEN", "IS NULL", "IS NOT NULL",
	"FULLTEXT", "FIELD", "LITERAL",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(k))
}

// IsComparison is true for binary operators comparing a field to a value.
func (k Kind) IsComparison() bool {
	return k >= KindEq && k <= KindILike
}

// Node is an element of a parsed query.
type Node interface {
	Kind() Kind
	String() string
}

// BinaryExpr covers AND, OR and the comparison operators.
type BinaryExpr struct {
	Op    Kind
	Left  Node
	Right Node
}

func (n *BinaryExpr) Kind() Kind { return n.Op }

func (n *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right)
}

// UnaryExpr covers NOT, IS NULL and IS NOT NULL.
type UnaryExpr struct {
	Op    Kind
	Child Node
}

func (n *UnaryExpr) Kind() Kind { return n.Op }

func (n *UnaryExpr) String() string {
	return fmt.Sprintf("(%s %s)", n.Op, n.Child)
}

type Field struct {
	Name string
}

func (n *Field) Kind() Kind     { return KindField }
func (n *Field) String() string { return n.Name }

// Literal holds a string, int64, float64 or bool value.
type Literal struct {
	Value any
}

func (n *Literal) Kind() Kind { return KindLiteral }

func (n *Literal) String() string {
	if s, ok := n.Value.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", n.Value)
}

type InExpr struct {
	Field  *Field
	Values []any
	Negate bool
}

func (n *InExpr) Kind() Kind {
	if n.Negate {
		return KindNotIn
	}
	return KindIn
}

func (n *InExpr) String() string {
	strs := make([]string, len(n.Values))
	for i, v := range n.Values {
		strs[i] = fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf("(%s %s [%s])", n.Field, n.Kind(), strings.Join(strs, ", "))
}

// RangeExpr is an inclusive BETWEEN. A nil bound is a validation error.
type RangeExpr struct {
	Field *Field
	Min   any
	Max   any
}

func (n *RangeExpr) Kind() Kind { return KindBetween }

func (n *RangeExpr) String() string {
	return fmt.Sprintf("(%s BETWEEN %v AND %v)", n.Field, n.Min, n.Max)
}

// FullText is a free-text search. When Fields is empty the translator's
// configured text fields are searched.
type FullText struct {
	Query  string
	Fields []string
	Boost  float64
}

func (n *FullText) Kind() Kind { return KindFullText }

func (n *FullText) String() string {
	return fmt.Sprintf("FULLTEXT(%q, fields=%v)", n.Query, n.Fields)
}

// Walk calls fn for every node in the tree, depth first, with the depth of
// the node (root is 0). Returning false stops descent into that node.
func Walk(node Node, fn func(n Node, depth int) bool) {
	walk(node, 0, fn)
}

func walk(node Node, depth int, fn func(Node, int) bool) {
	if node == nil || !fn(node, depth) {
		return
	}
	switch n := node.(type) {
	case *BinaryExpr:
		walk(n.Left, depth+1, fn)
		walk(n.Right, depth+1, fn)
	case *UnaryExpr:
		walk(n.Child, depth+1, fn)
	case *InExpr:
		walk(n.Field, depth+1, fn)
	case *RangeExpr:
		walk(n.Field, depth+1, fn)
	}
}

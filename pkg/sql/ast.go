// Package sql implements the restricted SQL dialect described by §6: a
// hand-rolled lexer and recursive-descent parser producing the statement
// AST the executor consumes. Grounded on
// original_source/backend/app/core/parser_sql.py's statement shapes and
// grammar (CreateTableStatement/InsertStatement/DeleteStatement/
// SelectStatement, value-literal rules, where-condition precedence), but
// reimplemented as a tokenizer + descent parser rather than ported
// regexes, since nothing in the teacher or the rest of the retrieval pack
// parses text with regular expressions.
package sql

import "github.com/bobboyms/multidex/pkg/types"

// Statement is implemented by every parsed statement kind.
type Statement interface {
	isStatement()
}

// ColumnDef is one parsed column declaration inside CREATE TABLE.
type ColumnDef struct {
	Name         string
	DataType     types.DataType
	Size         int
	IsPrimaryKey bool
	HasIndex     bool
	IndexType    types.IndexType
}

// CreateTableStatement is produced by "CREATE TABLE ...".
type CreateTableStatement struct {
	TableName        string
	Columns          []ColumnDef
	PrimaryKey       string
	PrimaryIndexType types.IndexType
	FromFile         string // "" when no FROM FILE clause
	UsingIndex       types.IndexType
}

func (*CreateTableStatement) isStatement() {}

// InsertStatement is produced by "INSERT INTO ...". Columns is nil for the
// positional form (VALUES must supply one value per table column in
// declaration order); Values holds one entry per value tuple, supporting
// the "VALUES (...), (...), (...)" multi-row form.
type InsertStatement struct {
	TableName string
	Columns   []string
	Values    [][]Literal
}

func (*InsertStatement) isStatement() {}

// ConditionKind tags a WHERE clause's shape.
type ConditionKind int

const (
	CondEqual ConditionKind = iota
	CondBetween
	CondSpatial
)

// Condition is a parsed WHERE clause, one of the three forms §6 allows.
type Condition struct {
	Kind   ConditionKind
	Column string

	// CondEqual
	Value Literal

	// CondBetween
	MinValue Literal
	MaxValue Literal

	// CondSpatial
	PointX, PointY float64
	Radius         float64
}

// DeleteStatement is produced by "DELETE FROM ...". Where is nil when no
// WHERE clause was given.
type DeleteStatement struct {
	TableName string
	Where     *Condition
}

func (*DeleteStatement) isStatement() {}

// SelectStatement is produced by "SELECT ...". Columns is ["*"] for a
// wildcard projection.
type SelectStatement struct {
	Columns   []string
	TableName string
	Where     *Condition
}

func (*SelectStatement) isStatement() {}

// LiteralKind tags a parsed value literal's shape.
type LiteralKind int

const (
	LiteralInt LiteralKind = iota
	LiteralFloat
	LiteralString
	LiteralArray
)

// Literal is a raw parsed value, not yet coerced to a column's declared
// type — that coercion is the executor's job (§7's value-conversion
// errors are row-level, not parse-level).
type Literal struct {
	Kind  LiteralKind
	Int   int64
	Float float64
	Str   string
	ArrX  float64
	ArrY  float64
}

package errors

import (
	"fmt"
)

type TableAlreadyExistsError struct {
	Name string
}

func (e *TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("table %q already exists", e.Name)
}

type TableNotFoundError struct {
	Name string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q not found", e.Name)
}

type TwoPrimarykeysError struct {
	Total int
}

func (e *TwoPrimarykeysError) Error() string {
	return fmt.Sprintf("you have defined a total of %d primary keys, only one primary key is allowed", e.Total)
}

type PrimarykeyNotDefinedError struct {
	TableName string
}

func (e *PrimarykeyNotDefinedError) Error() string {
	return fmt.Sprintf("primary key not defined on table %q", e.TableName)
}

type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key violation: key %q already exists in unique index", e.Key)
}

type IndexNotFoundError struct {
	Name string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index %q not found", e.Name)
}

type InvalidKeyTypeError struct {
	Name     string
	TypeName string
}

func (e *InvalidKeyTypeError) Error() string {
	return fmt.Sprintf("invalid key type for index %q: %s", e.Name, e.TypeName)
}

// SchemaError reports a violation of a table/column invariant at CREATE
// TABLE time (VARCHAR without size, ARRAY_FLOAT indexed by something other
// than rtree, missing/duplicate primary key, ...).
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: %s", e.Reason)
}

// ColumnNotFoundError reports a reference to a column that does not exist
// on a table (INSERT column list, WHERE clause, projection list).
type ColumnNotFoundError struct {
	Table  string
	Column string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found on table %q", e.Column, e.Table)
}

// ValueConversionError reports a row-level failure to parse or coerce a
// literal into a column's declared type (bad date, non-numeric INT,
// malformed ARRAY_FLOAT, ...). Row-level: the caller accumulates these and
// continues rather than aborting the statement.
type ValueConversionError struct {
	Column string
	Value  string
	Reason string
}

func (e *ValueConversionError) Error() string {
	return fmt.Sprintf("cannot convert value %q for column %q: %s", e.Value, e.Column, e.Reason)
}

// ParseError reports malformed SQL input: unknown keyword, missing
// delimiter, malformed literal.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s", e.Reason)
}

// IndexCapacityError reports that an index has exhausted its structural
// capacity (extendible hash hitting both its overflow chain limit and
// MAX_GLOBAL_DEPTH). Fatal to the triggering insert.
type IndexCapacityError struct {
	Index  string
	Reason string
}

func (e *IndexCapacityError) Error() string {
	return fmt.Sprintf("index %q exhausted capacity: %s", e.Index, e.Reason)
}

// CatalogError reports a table catalog lifecycle failure: table already
// exists, table not found, metadata corrupt.
type CatalogError struct {
	Reason string
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog error: %s", e.Reason)
}

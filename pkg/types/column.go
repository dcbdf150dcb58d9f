package types

import (
	"strings"

	"github.com/bobboyms/multidex/pkg/errors"
)

// IndexType names a secondary index kind, as accepted after INDEX in a
// column definition.
type IndexType string

const (
	IndexAVL   IndexType = "avl"
	IndexBTree IndexType = "btree"
	IndexHash  IndexType = "hash"
	IndexISAM  IndexType = "isam"
	IndexRTree IndexType = "rtree"
	IndexSeq   IndexType = "seq"
)

func ParseIndexType(s string) (IndexType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "avl":
		return IndexAVL, true
	case "btree":
		return IndexBTree, true
	case "hash":
		return IndexHash, true
	case "isam":
		return IndexISAM, true
	case "rtree":
		return IndexRTree, true
	case "seq":
		return IndexSeq, true
	default:
		return "", false
	}
}

// Column describes one field of a table, per §3.
type Column struct {
	Name         string
	DataType     DataType
	Size         int // meaningful for VARCHAR only
	IsPrimaryKey bool
	HasIndex     bool
	IndexType    IndexType
}

// Validate enforces the invariants listed in §3: VARCHAR requires a size,
// and ARRAY_FLOAT may only be indexed with rtree.
func (c *Column) Validate() error {
	if c.DataType == VARCHAR && c.Size <= 0 {
		return &errors.SchemaError{Reason: "VARCHAR column \"" + c.Name + "\" requires a size"}
	}
	if c.DataType == ARRAY_FLOAT && c.HasIndex && c.IndexType != IndexRTree {
		return &errors.SchemaError{Reason: "ARRAY_FLOAT column \"" + c.Name + "\" may only use an rtree index"}
	}
	return nil
}

// GetSize returns the on-disk width of this column, per §3.
func (c *Column) GetSize() int {
	return c.DataType.Size(c.Size)
}

// KeyType reports the comparable-key family used by §4.7's index-manager
// key-type mapping: INT/DATE -> int, FLOAT -> float, VARCHAR -> string.
func (c *Column) KeyType() (string, error) {
	switch c.DataType {
	case INT, DATE:
		return "int", nil
	case FLOAT:
		return "float", nil
	case VARCHAR:
		return "string", nil
	default:
		return "", &errors.SchemaError{Reason: "data type " + c.DataType.String() + " has no index key type"}
	}
}

// ColumnDoc is the JSON/BSON-serializable shape of a Column, used by
// pkg/schema for metadata.json persistence.
type ColumnDoc struct {
	Name         string `json:"name" bson:"name"`
	DataType     string `json:"data_type" bson:"data_type"`
	Size         int    `json:"size" bson:"size"`
	IsPrimaryKey bool   `json:"is_primary_key" bson:"is_primary_key"`
	HasIndex     bool   `json:"has_index" bson:"has_index"`
	IndexType    string `json:"index_type" bson:"index_type"`
}

func (c *Column) ToDoc() ColumnDoc {
	return ColumnDoc{
		Name:         c.Name,
		DataType:     c.DataType.String(),
		Size:         c.Size,
		IsPrimaryKey: c.IsPrimaryKey,
		HasIndex:     c.HasIndex,
		IndexType:    string(c.IndexType),
	}
}

func ColumnFromDoc(doc ColumnDoc) (*Column, error) {
	dt, ok := ParseDataType(doc.DataType)
	if !ok {
		return nil, &errors.SchemaError{Reason: "unknown data type " + doc.DataType}
	}
	col := &Column{
		Name:         doc.Name,
		DataType:     dt,
		Size:         doc.Size,
		IsPrimaryKey: doc.IsPrimaryKey,
		HasIndex:     doc.HasIndex,
		IndexType:    IndexType(doc.IndexType),
	}
	return col, col.Validate()
}

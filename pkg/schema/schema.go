// Package schema holds the table catalog: column definitions, on-disk
// directory layout, and the create/drop/load lifecycle of §3's tables.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bobboyms/multidex/pkg/errors"
	"github.com/bobboyms/multidex/pkg/types"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	metadataFileName = "metadata.json"
	dataFileName     = "_data.dat"
	indicesDirName   = "indices"
)

// Table describes one table's schema and the paths to its on-disk files.
type Table struct {
	ID               string
	Name             string
	Columns          []*types.Column
	PrimaryKey       string
	PrimaryIndexType types.IndexType

	TableDir     string
	MetadataPath string
	DataFilePath string
	IndicesDir   string
}

// tableDoc is the bson/JSON document persisted at MetadataPath.
type tableDoc struct {
	ID               string            `json:"id" bson:"id"`
	Name             string            `json:"name" bson:"name"`
	Columns          []types.ColumnDoc `json:"columns" bson:"columns"`
	PrimaryKey       string            `json:"primary_key" bson:"primary_key"`
	PrimaryIndexType string            `json:"primary_index_type" bson:"primary_index_type"`
}

// newTable builds a Table for tableDir, validating and completing the
// primary key column the way table_manager.py's constructor does: if no
// column is already marked as the primary key, the column named primaryKey
// is marked IsPrimaryKey/HasIndex with IndexType set to primaryIndexType.
func newTable(tableDir, name string, columns []*types.Column, primaryKey string, primaryIndexType types.IndexType) (*Table, error) {
	var pkCol *types.Column
	pkCount := 0
	for _, c := range columns {
		if c.IsPrimaryKey {
			pkCount++
			if pkCol == nil {
				pkCol = c
			}
		}
	}
	if pkCount > 1 {
		return nil, &errors.TwoPrimarykeysError{Total: pkCount}
	}
	if pkCol == nil {
		for _, c := range columns {
			if c.Name == primaryKey {
				pkCol = c
				break
			}
		}
		if pkCol == nil {
			return nil, &errors.PrimarykeyNotDefinedError{TableName: name}
		}
		pkCol.IsPrimaryKey = true
		pkCol.HasIndex = true
		pkCol.IndexType = primaryIndexType
	}

	for _, c := range columns {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	t := &Table{
		ID:               uuid.NewString(),
		Name:             name,
		Columns:          columns,
		PrimaryKey:       pkCol.Name,
		PrimaryIndexType: pkCol.IndexType,
		TableDir:         tableDir,
		MetadataPath:     filepath.Join(tableDir, metadataFileName),
		DataFilePath:     filepath.Join(tableDir, dataFileName),
		IndicesDir:       filepath.Join(tableDir, indicesDirName),
	}
	return t, nil
}

// GetColumn returns the column named name, or nil if absent.
func (t *Table) GetColumn(name string) *types.Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// GetPrimaryKeyColumn returns the table's primary key column.
func (t *Table) GetPrimaryKeyColumn() *types.Column {
	return t.GetColumn(t.PrimaryKey)
}

// GetIndexedColumns returns every column carrying a secondary index,
// including the primary key.
func (t *Table) GetIndexedColumns() []*types.Column {
	var out []*types.Column
	for _, c := range t.Columns {
		if c.HasIndex {
			out = append(out, c)
		}
	}
	return out
}

// GetRecordSize returns the fixed width of one heap slot for this table.
func (t *Table) GetRecordSize() int {
	size := 0
	for _, c := range t.Columns {
		size += c.GetSize()
	}
	return size
}

// GetColumnOffset returns the byte offset of name within a serialized
// record, or -1 if the column does not exist.
func (t *Table) GetColumnOffset(name string) int {
	offset := 0
	for _, c := range t.Columns {
		if c.Name == name {
			return offset
		}
		offset += c.GetSize()
	}
	return -1
}

func (t *Table) toDoc() tableDoc {
	docs := make([]types.ColumnDoc, len(t.Columns))
	for i, c := range t.Columns {
		docs[i] = c.ToDoc()
	}
	return tableDoc{
		ID:               t.ID,
		Name:             t.Name,
		Columns:          docs,
		PrimaryKey:       t.PrimaryKey,
		PrimaryIndexType: string(t.PrimaryIndexType),
	}
}

// SaveMetadata writes the table's schema to MetadataPath as extended JSON,
// the way the teacher's pkg/storage/bson.go round-trips documents through
// bson.MarshalExtJSON.
func (t *Table) SaveMetadata() error {
	b, err := bson.MarshalExtJSON(t.toDoc(), true, false)
	if err != nil {
		return fmt.Errorf("marshal metadata for table %q: %w", t.Name, err)
	}
	return os.WriteFile(t.MetadataPath, b, 0644)
}

// loadTable reads tableDir/metadata.json and reconstructs a Table.
func loadTable(tableDir string) (*Table, error) {
	metadataPath := filepath.Join(tableDir, metadataFileName)
	b, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", metadataPath, err)
	}

	var doc tableDoc
	if err := bson.UnmarshalExtJSON(b, true, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal metadata %s: %w", metadataPath, err)
	}

	columns := make([]*types.Column, len(doc.Columns))
	for i, cd := range doc.Columns {
		col, err := types.ColumnFromDoc(cd)
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", doc.Name, err)
		}
		columns[i] = col
	}

	primaryIndexType, _ := types.ParseIndexType(doc.PrimaryIndexType)
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Table{
		ID:               id,
		Name:             doc.Name,
		Columns:          columns,
		PrimaryKey:       doc.PrimaryKey,
		PrimaryIndexType: primaryIndexType,
		TableDir:         tableDir,
		MetadataPath:     metadataPath,
		DataFilePath:     filepath.Join(tableDir, dataFileName),
		IndicesDir:       filepath.Join(tableDir, indicesDirName),
	}, nil
}

// Catalog tracks every table known under DataDir, mirroring
// table_manager.py's TableManager.
type Catalog struct {
	DataDir string

	mu     sync.RWMutex
	tables map[string]*Table
}

// NewCatalog opens dataDir, creating it if absent, and loads every table
// whose subdirectory carries a metadata.json.
func NewCatalog(dataDir string) (*Catalog, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	c := &Catalog{DataDir: dataDir, tables: make(map[string]*Table)}
	if err := c.loadAllTables(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) loadAllTables() error {
	entries, err := os.ReadDir(c.DataDir)
	if err != nil {
		return fmt.Errorf("scan data dir %s: %w", c.DataDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		tableDir := filepath.Join(c.DataDir, e.Name())
		metadataPath := filepath.Join(tableDir, metadataFileName)
		if _, err := os.Stat(metadataPath); err != nil {
			continue
		}
		t, err := loadTable(tableDir)
		if err != nil {
			return err
		}
		c.tables[t.Name] = t
	}
	return nil
}

// CreateTable registers a new table, writes its metadata, and creates its
// directory layout. Rejects an already-existing table name.
func (c *Catalog) CreateTable(name string, columns []*types.Column, primaryKey string, primaryIndexType types.IndexType) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[name]; exists {
		return nil, &errors.TableAlreadyExistsError{Name: name}
	}

	tableDir := filepath.Join(c.DataDir, name)
	t, err := newTable(tableDir, name, columns, primaryKey, primaryIndexType)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(t.IndicesDir, 0755); err != nil {
		return nil, fmt.Errorf("create table dir %s: %w", t.TableDir, err)
	}
	if err := t.SaveMetadata(); err != nil {
		return nil, err
	}

	c.tables[name] = t
	return t, nil
}

// DropTable removes a table's entire directory and its catalog entry.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, exists := c.tables[name]
	if !exists {
		return &errors.TableNotFoundError{Name: name}
	}
	if err := os.RemoveAll(t.TableDir); err != nil {
		return fmt.Errorf("remove table dir %s: %w", t.TableDir, err)
	}
	delete(c.tables, name)
	return nil
}

// GetTable returns the table named name.
func (c *Catalog) GetTable(name string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	return t, ok
}

// TableExists reports whether name is a known table.
func (c *Catalog) TableExists(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tables[name]
	return ok
}

// ListTables returns every known table name.
func (c *Catalog) ListTables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}

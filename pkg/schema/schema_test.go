package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bobboyms/multidex/pkg/types"
)

func sampleColumns() []*types.Column {
	return []*types.Column{
		{Name: "id", DataType: types.INT},
		{Name: "name", DataType: types.VARCHAR, Size: 20},
		{Name: "price", DataType: types.FLOAT, HasIndex: true, IndexType: types.IndexAVL},
	}
}

func TestCreateTable_MarksPrimaryKey(t *testing.T) {
	cat, err := NewCatalog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	tbl, err := cat.CreateTable("products", sampleColumns(), "id", types.IndexBTree)
	if err != nil {
		t.Fatal(err)
	}

	pk := tbl.GetColumn("id")
	if pk == nil || !pk.IsPrimaryKey || !pk.HasIndex || pk.IndexType != types.IndexBTree {
		t.Fatalf("expected id to be marked primary key with btree index, got %+v", pk)
	}
	if tbl.PrimaryKey != "id" {
		t.Errorf("expected PrimaryKey=id, got %s", tbl.PrimaryKey)
	}
}

func TestCreateTable_MissingPrimaryKeyColumn(t *testing.T) {
	cat, err := NewCatalog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = cat.CreateTable("products", sampleColumns(), "does_not_exist", types.IndexBTree)
	if err == nil {
		t.Fatal("expected error for missing primary key column")
	}
}

func TestCreateTable_Duplicate(t *testing.T) {
	cat, err := NewCatalog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cat.CreateTable("products", sampleColumns(), "id", types.IndexBTree); err != nil {
		t.Fatal(err)
	}
	if _, err := cat.CreateTable("products", sampleColumns(), "id", types.IndexBTree); err == nil {
		t.Fatal("expected error creating duplicate table")
	}
}

func TestCreateTable_VarcharWithoutSizeRejected(t *testing.T) {
	cat, err := NewCatalog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cols := []*types.Column{
		{Name: "id", DataType: types.INT},
		{Name: "name", DataType: types.VARCHAR},
	}
	if _, err := cat.CreateTable("bad", cols, "id", types.IndexBTree); err == nil {
		t.Fatal("expected error for VARCHAR column without size")
	}
}

func TestCatalog_DirectoryLayout(t *testing.T) {
	dataDir := t.TempDir()
	cat, err := NewCatalog(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := cat.CreateTable("products", sampleColumns(), "id", types.IndexBTree)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(tbl.MetadataPath); err != nil {
		t.Errorf("expected metadata.json to exist: %v", err)
	}
	if _, err := os.Stat(tbl.IndicesDir); err != nil {
		t.Errorf("expected indices dir to exist: %v", err)
	}
	if tbl.DataFilePath != filepath.Join(dataDir, "products", "_data.dat") {
		t.Errorf("unexpected data file path: %s", tbl.DataFilePath)
	}
}

func TestCatalog_LoadAllTables(t *testing.T) {
	dataDir := t.TempDir()
	cat1, err := NewCatalog(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cat1.CreateTable("products", sampleColumns(), "id", types.IndexBTree); err != nil {
		t.Fatal(err)
	}

	cat2, err := NewCatalog(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if !cat2.TableExists("products") {
		t.Fatal("expected products table to be loaded from disk")
	}

	tbl, _ := cat2.GetTable("products")
	price := tbl.GetColumn("price")
	if price == nil || !price.HasIndex || price.IndexType != types.IndexAVL {
		t.Errorf("expected price column's index metadata to survive reload, got %+v", price)
	}
}

func TestCatalog_DropTable(t *testing.T) {
	dataDir := t.TempDir()
	cat, err := NewCatalog(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := cat.CreateTable("products", sampleColumns(), "id", types.IndexBTree)
	if err != nil {
		t.Fatal(err)
	}

	if err := cat.DropTable("products"); err != nil {
		t.Fatal(err)
	}
	if cat.TableExists("products") {
		t.Error("expected products to be gone from catalog")
	}
	if _, err := os.Stat(tbl.TableDir); !os.IsNotExist(err) {
		t.Error("expected table directory to be removed")
	}
}

func TestCatalog_DropTable_NotFound(t *testing.T) {
	cat, err := NewCatalog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := cat.DropTable("ghost"); err == nil {
		t.Fatal("expected error dropping unknown table")
	}
}

func TestTable_GetRecordSizeAndOffsets(t *testing.T) {
	cat, err := NewCatalog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := cat.CreateTable("products", sampleColumns(), "id", types.IndexBTree)
	if err != nil {
		t.Fatal(err)
	}

	if got, want := tbl.GetRecordSize(), 4+20+4; got != want {
		t.Errorf("record size = %d, want %d", got, want)
	}
	if got := tbl.GetColumnOffset("name"); got != 4 {
		t.Errorf("name offset = %d, want 4", got)
	}
	if got := tbl.GetColumnOffset("price"); got != 24 {
		t.Errorf("price offset = %d, want 24", got)
	}
	if got := tbl.GetColumnOffset("nope"); got != -1 {
		t.Errorf("unknown column offset = %d, want -1", got)
	}
}

func TestTable_GetIndexedColumns(t *testing.T) {
	cat, err := NewCatalog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := cat.CreateTable("products", sampleColumns(), "id", types.IndexBTree)
	if err != nil {
		t.Fatal(err)
	}

	indexed := tbl.GetIndexedColumns()
	names := map[string]bool{}
	for _, c := range indexed {
		names[c.Name] = true
	}
	if !names["id"] || !names["price"] {
		t.Errorf("expected id and price to be indexed, got %+v", indexed)
	}
	if len(indexed) != 2 {
		t.Errorf("expected exactly 2 indexed columns, got %d", len(indexed))
	}
}

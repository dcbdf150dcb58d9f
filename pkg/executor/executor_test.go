package executor

import (
	"testing"

	"github.com/bobboyms/multidex/pkg/schema"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cat, err := schema.NewCatalog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := New(cat)
	t.Cleanup(func() { e.Close() })
	return e
}

func createProducts(t *testing.T, e *Engine) {
	t.Helper()
	res := e.ExecuteSQL(`CREATE TABLE products (
		id INT PRIMARY KEY INDEX HASH,
		name VARCHAR[20] INDEX BTREE,
		price FLOAT INDEX AVL,
		loc ARRAY INDEX RTREE
	)`)
	if !res.Success {
		t.Fatalf("create table failed: %s", res.Error)
	}
}

func TestCreateTable(t *testing.T) {
	e := newTestEngine(t)
	createProducts(t, e)
	if !e.catalog.TableExists("products") {
		t.Fatal("expected table products to exist")
	}
}

func TestInsertAndSelect(t *testing.T) {
	e := newTestEngine(t)
	createProducts(t, e)

	ins := e.ExecuteSQL(`INSERT INTO products VALUES (1, "Laptop", 2500.0, ARRAY[-12.06, -77.03]), (2, "Mouse", 50.0, ARRAY[-12.07, -77.04])`)
	if !ins.Success || ins.Count != 2 {
		t.Fatalf("insert = %+v", ins)
	}

	sel := e.ExecuteSQL(`SELECT * FROM products WHERE id = 1`)
	if !sel.Success || sel.Count != 1 {
		t.Fatalf("select equal = %+v", sel)
	}
	if sel.Data[0]["name"].S != "Laptop" {
		t.Errorf("row = %+v", sel.Data[0])
	}

	selAll := e.ExecuteSQL(`SELECT * FROM products`)
	if !selAll.Success || selAll.Count != 2 {
		t.Fatalf("select all = %+v", selAll)
	}

	selRange := e.ExecuteSQL(`SELECT * FROM products WHERE price BETWEEN 10.0 AND 1000.0`)
	if !selRange.Success || selRange.Count != 1 {
		t.Fatalf("select range = %+v", selRange)
	}
}

func TestInsertNamedColumns(t *testing.T) {
	e := newTestEngine(t)
	createProducts(t, e)

	ins := e.ExecuteSQL(`INSERT INTO products (id, name, price, loc) VALUES (5, 'Keyboard', 150.0, ARRAY[0.0, 0.0])`)
	if !ins.Success || ins.Count != 1 {
		t.Fatalf("insert = %+v", ins)
	}
	sel := e.ExecuteSQL(`SELECT name FROM products WHERE id = 5`)
	if !sel.Success || sel.Count != 1 || sel.Data[0]["name"].S != "Keyboard" {
		t.Fatalf("select = %+v", sel)
	}
}

func TestDeleteEqualRemovesRowAndIndexEntry(t *testing.T) {
	e := newTestEngine(t)
	createProducts(t, e)
	e.ExecuteSQL(`INSERT INTO products VALUES (1, "Laptop", 2500.0, ARRAY[-12.06, -77.03])`)

	del := e.ExecuteSQL(`DELETE FROM products WHERE id = 1`)
	if !del.Success || del.Count != 1 {
		t.Fatalf("delete = %+v", del)
	}

	sel := e.ExecuteSQL(`SELECT * FROM products WHERE id = 1`)
	if !sel.Success || sel.Count != 0 {
		t.Fatalf("expected no rows after delete, got %+v", sel)
	}
}

func TestDeleteNoWhereDeletesAll(t *testing.T) {
	e := newTestEngine(t)
	createProducts(t, e)
	e.ExecuteSQL(`INSERT INTO products VALUES (1, "Laptop", 2500.0, ARRAY[-12.06, -77.03])`)
	e.ExecuteSQL(`INSERT INTO products VALUES (2, "Mouse", 50.0, ARRAY[-12.07, -77.04])`)

	del := e.ExecuteSQL(`DELETE FROM products`)
	if !del.Success || del.Count != 2 {
		t.Fatalf("delete = %+v", del)
	}

	sel := e.ExecuteSQL(`SELECT * FROM products`)
	if !sel.Success || sel.Count != 0 {
		t.Fatalf("expected empty table after full delete, got %+v", sel)
	}
}

func TestSpatialSelect(t *testing.T) {
	e := newTestEngine(t)
	createProducts(t, e)
	e.ExecuteSQL(`INSERT INTO products VALUES (1, "Near", 10.0, ARRAY[0.0, 0.0])`)
	e.ExecuteSQL(`INSERT INTO products VALUES (2, "Far", 20.0, ARRAY[100.0, 100.0])`)

	sel := e.ExecuteSQL(`SELECT * FROM products WHERE loc IN (ARRAY[0.0, 0.0], 1.0)`)
	if !sel.Success {
		t.Fatalf("spatial select failed: %s", sel.Error)
	}
	if sel.Count != 1 || sel.Data[0]["name"].S != "Near" {
		t.Fatalf("spatial select = %+v", sel)
	}
}

func TestInsertRowErrorAccumulates(t *testing.T) {
	e := newTestEngine(t)
	createProducts(t, e)

	ins := e.ExecuteSQL(`INSERT INTO products VALUES (1, "Ok", 10.0, ARRAY[0.0, 0.0]), ("bad", "Bad Row", 20.0, ARRAY[1.0, 1.0])`)
	if ins.Count != 1 {
		t.Fatalf("expected exactly one successful row, got %+v", ins)
	}
	if len(ins.RowErrors) != 1 {
		t.Fatalf("expected one accumulated row error, got %+v", ins.RowErrors)
	}
}

func TestValidateSQL(t *testing.T) {
	kind, err := ValidateSQL(`SELECT * FROM products WHERE id = 1`)
	if err != nil || kind != "SELECT" {
		t.Fatalf("kind=%q err=%v", kind, err)
	}
	if _, err := ValidateSQL(`NOT VALID SQL ###`); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSelectUnknownTable(t *testing.T) {
	e := newTestEngine(t)
	sel := e.ExecuteSQL(`SELECT * FROM ghost`)
	if sel.Success {
		t.Fatal("expected failure for unknown table")
	}
}

func TestTableCountsTracksDeletes(t *testing.T) {
	e := newTestEngine(t)
	createProducts(t, e)
	e.ExecuteSQL(`INSERT INTO products VALUES (1, "A", 1.0, ARRAY[0.0, 0.0])`)
	e.ExecuteSQL(`INSERT INTO products VALUES (2, "B", 2.0, ARRAY[0.0, 0.0])`)
	e.ExecuteSQL(`DELETE FROM products WHERE id = 1`)

	total, active, err := e.TableCounts("products")
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || active != 1 {
		t.Fatalf("total=%d active=%d", total, active)
	}
}

func TestDropTable(t *testing.T) {
	e := newTestEngine(t)
	createProducts(t, e)
	if err := e.DropTable("products"); err != nil {
		t.Fatal(err)
	}
	if e.catalog.TableExists("products") {
		t.Fatal("expected table to be dropped")
	}
}

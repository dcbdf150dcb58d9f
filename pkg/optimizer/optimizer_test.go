package optimizer

import (
	"testing"

	"github.com/bobboyms/multidex/pkg/schema"
	"github.com/bobboyms/multidex/pkg/sql"
	"github.com/bobboyms/multidex/pkg/types"
)

func newTestTable(t *testing.T) *schema.Table {
	t.Helper()
	cat, err := schema.NewCatalog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	columns := []*types.Column{
		{Name: "id", DataType: types.INT, HasIndex: true, IndexType: types.IndexHash},
		{Name: "name", DataType: types.VARCHAR, Size: 20, HasIndex: true, IndexType: types.IndexBTree},
		{Name: "price", DataType: types.FLOAT, HasIndex: true, IndexType: types.IndexAVL},
		{Name: "when", DataType: types.DATE, HasIndex: true, IndexType: types.IndexISAM},
		{Name: "loc", DataType: types.ARRAY_FLOAT, HasIndex: true, IndexType: types.IndexRTree},
		{Name: "notes", DataType: types.VARCHAR, Size: 50},
	}
	tbl, err := cat.CreateTable("products", columns, "id", types.IndexHash)
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func TestOptimizeSelect_NoWhere(t *testing.T) {
	table := newTestTable(t)
	plan := OptimizeSelect(&sql.SelectStatement{Columns: []string{"*"}, TableName: "products"}, table)
	if plan.Operation != OpSequentialScan || plan.Cost != 1000 {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestOptimizeSelect_HashEquality(t *testing.T) {
	table := newTestTable(t)
	stmt := &sql.SelectStatement{
		Columns:   []string{"*"},
		TableName: "products",
		Where:     &sql.Condition{Kind: sql.CondEqual, Column: "id", Value: sql.Literal{Kind: sql.LiteralInt, Int: 2}},
	}
	plan := OptimizeSelect(stmt, table)
	if plan.Operation != OpIndexScan || plan.IndexType != types.IndexHash || plan.Cost != 1 {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestOptimizeSelect_BTreeRange(t *testing.T) {
	table := newTestTable(t)
	stmt := &sql.SelectStatement{
		Columns:   []string{"*"},
		TableName: "products",
		Where: &sql.Condition{
			Kind: sql.CondBetween, Column: "name",
			MinValue: sql.Literal{Kind: sql.LiteralString, Str: "A"},
			MaxValue: sql.Literal{Kind: sql.LiteralString, Str: "M"},
		},
	}
	plan := OptimizeSelect(stmt, table)
	if plan.Operation != OpRangeScan || plan.IndexType != types.IndexBTree || plan.Cost != 10 {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestOptimizeSelect_HashRangeFallsBackToSequential(t *testing.T) {
	table := newTestTable(t)
	stmt := &sql.SelectStatement{
		Columns:   []string{"*"},
		TableName: "products",
		Where: &sql.Condition{
			Kind: sql.CondBetween, Column: "id",
			MinValue: sql.Literal{Kind: sql.LiteralInt, Int: 1},
			MaxValue: sql.Literal{Kind: sql.LiteralInt, Int: 5},
		},
	}
	plan := OptimizeSelect(stmt, table)
	if plan.Operation != OpSequentialFilter {
		t.Fatalf("expected sequential_filter fallback for hash-only range, got %+v", plan)
	}
}

func TestOptimizeSelect_NoIndex(t *testing.T) {
	table := newTestTable(t)
	stmt := &sql.SelectStatement{
		Columns:   []string{"*"},
		TableName: "products",
		Where:     &sql.Condition{Kind: sql.CondEqual, Column: "notes", Value: sql.Literal{Kind: sql.LiteralString, Str: "x"}},
	}
	plan := OptimizeSelect(stmt, table)
	if plan.Operation != OpSequentialFilter || plan.Cost != 500 {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestOptimizeSelect_Spatial(t *testing.T) {
	table := newTestTable(t)
	stmt := &sql.SelectStatement{
		Columns:   []string{"*"},
		TableName: "products",
		Where:     &sql.Condition{Kind: sql.CondSpatial, Column: "loc", PointX: -12.07, PointY: -77.05, Radius: 0.03},
	}
	plan := OptimizeSelect(stmt, table)
	if plan.Operation != OpSpatialScan || plan.IndexType != types.IndexRTree || plan.Cost != 20 {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestOptimizeSelect_ColumnNotFound(t *testing.T) {
	table := newTestTable(t)
	stmt := &sql.SelectStatement{
		Columns:   []string{"*"},
		TableName: "products",
		Where:     &sql.Condition{Kind: sql.CondEqual, Column: "missing", Value: sql.Literal{Kind: sql.LiteralInt, Int: 1}},
	}
	plan := OptimizeSelect(stmt, table)
	if plan.Operation != OpSequentialScan {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestOptimizeDelete_NoWhereDeletesAll(t *testing.T) {
	table := newTestTable(t)
	plan := OptimizeDelete(&sql.DeleteStatement{TableName: "products"}, table)
	if plan.Operation != OpSequentialScan {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestOptimizeDelete_EqualUsesIndex(t *testing.T) {
	table := newTestTable(t)
	stmt := &sql.DeleteStatement{
		TableName: "products",
		Where:     &sql.Condition{Kind: sql.CondEqual, Column: "id", Value: sql.Literal{Kind: sql.LiteralInt, Int: 1}},
	}
	plan := OptimizeDelete(stmt, table)
	if plan.Operation != OpIndexScan || plan.IndexType != types.IndexHash {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestMonotonicity_EqualNeverExceedsSequentialScan(t *testing.T) {
	table := newTestTable(t)
	stmt := &sql.SelectStatement{
		Columns:   []string{"*"},
		TableName: "products",
		Where:     &sql.Condition{Kind: sql.CondEqual, Column: "id", Value: sql.Literal{Kind: sql.LiteralInt, Int: 1}},
	}
	plan := OptimizeSelect(stmt, table)
	if plan.Cost > Costs["sequential_scan"] {
		t.Fatalf("equality plan cost %d exceeds sequential_scan cost %d", plan.Cost, Costs["sequential_scan"])
	}
}

func TestEstimateSelectivity(t *testing.T) {
	table := newTestTable(t)
	if s := EstimateSelectivity(nil, table); s != 1.0 {
		t.Errorf("nil condition selectivity = %v", s)
	}
	eq := &sql.Condition{Kind: sql.CondEqual, Column: "id", Value: sql.Literal{Kind: sql.LiteralInt, Int: 1}}
	if s := EstimateSelectivity(eq, table); s != 0.01 {
		t.Errorf("equal selectivity = %v", s)
	}
	spatial := &sql.Condition{Kind: sql.CondSpatial, Column: "loc", Radius: 0.2}
	if s := EstimateSelectivity(spatial, table); s != 0.3 {
		t.Errorf("spatial selectivity = %v", s)
	}
}

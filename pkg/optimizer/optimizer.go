// Package optimizer implements the cost-based access-path selection
// described by §4.8, grounded on
// original_source/backend/app/core/query_optimizer.py's QueryOptimizer:
// the same static cost table, the same equality/range/spatial dispatch
// on a column's declared index type, and the same selectivity-estimation
// buckets.
package optimizer

import (
	"fmt"

	"github.com/bobboyms/multidex/pkg/schema"
	"github.com/bobboyms/multidex/pkg/sql"
	"github.com/bobboyms/multidex/pkg/types"
)

// Operation names the access path a Plan selects.
type Operation string

const (
	OpSequentialScan   Operation = "sequential_scan"
	OpSequentialFilter Operation = "sequential_filter"
	OpIndexScan        Operation = "index_scan"
	OpRangeScan        Operation = "range_scan"
	OpSpatialScan      Operation = "spatial_scan"
)

// Costs is the dimensionless static cost table from §4.8, carried over
// verbatim from query_optimizer.py's self.costs.
var Costs = map[string]int{
	"sequential_scan":   1000,
	"sequential_filter": 500,
	"hash_lookup":       1,
	"btree_lookup":      3,
	"avl_lookup":        3,
	"isam_lookup":       5,
	"btree_range":       10,
	"avl_range":         10,
	"isam_range":        15,
	"rtree_spatial":     20,
}

// Plan is one access-path decision, mirroring ExecutionPlan.
type Plan struct {
	Operation   Operation
	IndexType   types.IndexType
	IndexColumn string
	Cost        int
	Description string
}

// OptimizeSelect mirrors QueryOptimizer.optimize_select: no WHERE clause
// is a sequential scan; otherwise the condition kind and the column's
// index type (if any) pick the cheapest applicable path.
func OptimizeSelect(stmt *sql.SelectStatement, table *schema.Table) *Plan {
	if stmt.Where == nil {
		return &Plan{
			Operation:   OpSequentialScan,
			Cost:        Costs["sequential_scan"],
			Description: fmt.Sprintf("Sequential scan of table %q (%d bytes/record)", table.Name, table.GetRecordSize()),
		}
	}
	return optimizeCondition(stmt.Where, table)
}

// OptimizeDelete mirrors QueryOptimizer.optimize_delete: same dispatch as
// OptimizeSelect, except a spatial WHERE on DELETE isn't handled by the
// original (there is no spatial DELETE in §4.9's executor dispatch) and
// falls back to sequential scan, matching the original's missing
// 'spatial' branch in optimize_delete.
func OptimizeDelete(stmt *sql.DeleteStatement, table *schema.Table) *Plan {
	if stmt.Where == nil {
		return &Plan{
			Operation:   OpSequentialScan,
			Cost:        Costs["sequential_scan"],
			Description: fmt.Sprintf("Delete all records from %q", table.Name),
		}
	}
	cond := stmt.Where
	if cond.Kind == sql.CondSpatial {
		return &Plan{
			Operation:   OpSequentialScan,
			Cost:        Costs["sequential_scan"],
			Description: "Sequential scan: condition 'spatial' not supported for DELETE",
		}
	}
	return optimizeCondition(cond, table)
}

func optimizeCondition(cond *sql.Condition, table *schema.Table) *Plan {
	column := table.GetColumn(cond.Column)
	if column == nil {
		return &Plan{
			Operation:   OpSequentialScan,
			Cost:        Costs["sequential_scan"],
			Description: fmt.Sprintf("Sequential scan: column %q not found", cond.Column),
		}
	}
	switch cond.Kind {
	case sql.CondEqual:
		return optimizeEqual(column, cond)
	case sql.CondBetween:
		return optimizeRange(column, cond)
	case sql.CondSpatial:
		return optimizeSpatial(column, cond)
	default:
		return &Plan{
			Operation:   OpSequentialScan,
			Cost:        Costs["sequential_scan"],
			Description: "Sequential scan: unsupported condition",
		}
	}
}

func optimizeEqual(column *types.Column, cond *sql.Condition) *Plan {
	if !column.HasIndex {
		return &Plan{
			Operation:   OpSequentialFilter,
			Cost:        Costs["sequential_filter"],
			Description: fmt.Sprintf("Sequential scan with filter on %q (no index)", column.Name),
		}
	}
	switch column.IndexType {
	case types.IndexHash:
		return &Plan{
			Operation:   OpIndexScan,
			IndexType:   types.IndexHash,
			IndexColumn: column.Name,
			Cost:        Costs["hash_lookup"],
			Description: fmt.Sprintf("Hash lookup on %q for %s = %v", column.Name, column.Name, cond.Value),
		}
	case types.IndexBTree, types.IndexAVL:
		return &Plan{
			Operation:   OpIndexScan,
			IndexType:   column.IndexType,
			IndexColumn: column.Name,
			Cost:        Costs["btree_lookup"],
			Description: fmt.Sprintf("%s lookup on %q for %s = %v", string(column.IndexType), column.Name, column.Name, cond.Value),
		}
	case types.IndexISAM:
		return &Plan{
			Operation:   OpIndexScan,
			IndexType:   types.IndexISAM,
			IndexColumn: column.Name,
			Cost:        Costs["isam_lookup"],
			Description: fmt.Sprintf("ISAM lookup on %q for %s = %v", column.Name, column.Name, cond.Value),
		}
	default:
		return &Plan{
			Operation:   OpSequentialFilter,
			Cost:        Costs["sequential_filter"],
			Description: fmt.Sprintf("Sequential scan: index type %q not supported for equality", column.IndexType),
		}
	}
}

func optimizeRange(column *types.Column, cond *sql.Condition) *Plan {
	if !column.HasIndex {
		return &Plan{
			Operation:   OpSequentialFilter,
			Cost:        Costs["sequential_filter"],
			Description: fmt.Sprintf("Sequential scan with filter on %q (no index)", column.Name),
		}
	}
	switch column.IndexType {
	case types.IndexBTree, types.IndexAVL:
		return &Plan{
			Operation:   OpRangeScan,
			IndexType:   column.IndexType,
			IndexColumn: column.Name,
			Cost:        Costs["btree_range"],
			Description: fmt.Sprintf("%s range scan on %q BETWEEN %v AND %v", string(column.IndexType), column.Name, cond.MinValue, cond.MaxValue),
		}
	case types.IndexISAM:
		return &Plan{
			Operation:   OpRangeScan,
			IndexType:   types.IndexISAM,
			IndexColumn: column.Name,
			Cost:        Costs["isam_range"],
			Description: fmt.Sprintf("ISAM range scan on %q BETWEEN %v AND %v", column.Name, cond.MinValue, cond.MaxValue),
		}
	default:
		return &Plan{
			Operation:   OpSequentialFilter,
			Cost:        Costs["sequential_filter"],
			Description: fmt.Sprintf("Sequential scan: index type %q not supported for range", column.IndexType),
		}
	}
}

func optimizeSpatial(column *types.Column, cond *sql.Condition) *Plan {
	if !column.HasIndex || column.IndexType != types.IndexRTree {
		return &Plan{
			Operation:   OpSequentialFilter,
			Cost:        Costs["sequential_filter"],
			Description: fmt.Sprintf("Sequential scan with spatial filter on %q (no R-Tree)", column.Name),
		}
	}
	return &Plan{
		Operation:   OpSpatialScan,
		IndexType:   types.IndexRTree,
		IndexColumn: column.Name,
		Cost:        Costs["rtree_spatial"],
		Description: fmt.Sprintf("R-Tree spatial scan on %q near (%v, %v) radius %v", column.Name, cond.PointX, cond.PointY, cond.Radius),
	}
}

// Explain renders a human-readable multi-line plan description,
// mirroring QueryOptimizer.get_explain_plan.
func Explain(stmt *sql.SelectStatement, table *schema.Table) string {
	plan := OptimizeSelect(stmt, table)
	out := fmt.Sprintf("EXPLAIN for query on table %q:\n  Operation: %s\n  Estimated cost: %d\n  Description: %s\n",
		table.Name, plan.Operation, plan.Cost, plan.Description)
	if plan.IndexType != "" {
		out += fmt.Sprintf("  Index used: %s\n  Indexed column: %s\n", plan.IndexType, plan.IndexColumn)
	}
	indexed := table.GetIndexedColumns()
	names := make([]string, len(indexed))
	for i, c := range indexed {
		names[i] = c.Name
	}
	out += fmt.Sprintf("  Record size: %d bytes\n  Indexed columns: %v\n", table.GetRecordSize(), names)
	return out
}

// EstimateSelectivity mirrors QueryOptimizer.estimate_selectivity's static
// buckets: equality is assumed highly selective, range scales with the
// numeric span, and spatial scales with the search radius.
func EstimateSelectivity(cond *sql.Condition, table *schema.Table) float64 {
	if cond == nil {
		return 1.0
	}
	switch cond.Kind {
	case sql.CondEqual:
		return 0.01
	case sql.CondBetween:
		column := table.GetColumn(cond.Column)
		if column != nil && column.DataType == types.INT {
			rangeSize := numericValue(cond.MaxValue) - numericValue(cond.MinValue)
			switch {
			case rangeSize < 100:
				return 0.1
			case rangeSize < 1000:
				return 0.3
			default:
				return 0.5
			}
		}
		return 0.2
	case sql.CondSpatial:
		switch {
		case cond.Radius < 0.01:
			return 0.05
		case cond.Radius < 0.1:
			return 0.15
		default:
			return 0.3
		}
	default:
		return 0.1
	}
}

func numericValue(lit sql.Literal) float64 {
	if lit.Kind == sql.LiteralFloat {
		return lit.Float
	}
	return float64(lit.Int)
}

// Package executor implements the statement-dispatch layer described by
// §4.9, grounded on original_source/backend/app/core/query_executro.py's
// QueryExecutor: one method per statement kind, row-level failures
// accumulated instead of aborting the whole statement, and every
// DELETE/SELECT access path chosen by pkg/optimizer before falling back to
// a sequential heap scan.
package executor

import (
	"fmt"

	"github.com/bobboyms/multidex/pkg/csvload"
	"github.com/bobboyms/multidex/pkg/errors"
	"github.com/bobboyms/multidex/pkg/heap"
	"github.com/bobboyms/multidex/pkg/index"
	"github.com/bobboyms/multidex/pkg/optimizer"
	"github.com/bobboyms/multidex/pkg/query"
	"github.com/bobboyms/multidex/pkg/schema"
	"github.com/bobboyms/multidex/pkg/sql"
	"github.com/bobboyms/multidex/pkg/types"
)

// Result is the uniform response shape every operation returns, matching
// query_executro.py's returned result dicts (success/data/count/error).
type Result struct {
	Success   bool
	Operation string
	Data      []map[string]types.Value
	Count     int
	Error     string
	Explain   string
	RowErrors []string // accumulated per-row failures that did not abort the statement
	CSVResult *csvload.Result
	TableName string
}

// tableHandles caches one table's open heap + index managers so repeated
// statements against the same table don't reopen files every call.
type tableHandles struct {
	heap  *heap.Manager
	index *index.Manager
}

// Engine executes parsed statements against a catalog, opening and
// caching each table's storage handles lazily, the way QueryExecutor
// holds a TableManager and an IndexManager per table.
type Engine struct {
	catalog *schema.Catalog
	open    map[string]*tableHandles
}

// New wraps catalog in an executor, matching QueryExecutor.__init__.
func New(catalog *schema.Catalog) *Engine {
	return &Engine{catalog: catalog, open: make(map[string]*tableHandles)}
}

// Close releases every open table handle.
func (e *Engine) Close() error {
	for _, h := range e.open {
		h.index.Close()
		h.heap.Close()
	}
	return nil
}

func (e *Engine) handlesFor(table *schema.Table) (*tableHandles, error) {
	if h, ok := e.open[table.Name]; ok {
		return h, nil
	}
	hm, err := heap.Open(table.DataFilePath, table.Columns)
	if err != nil {
		return nil, fmt.Errorf("open heap for table %q: %w", table.Name, err)
	}
	im, err := index.Open(table)
	if err != nil {
		hm.Close()
		return nil, fmt.Errorf("open indices for table %q: %w", table.Name, err)
	}
	h := &tableHandles{heap: hm, index: im}
	e.open[table.Name] = h
	return h, nil
}

// ExecuteSQL parses sqlText and executes the resulting statement, matching
// QueryExecutor.execute's single entry point.
func (e *Engine) ExecuteSQL(sqlText string) *Result {
	stmt, err := sql.Parse(sqlText)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}
	return e.Execute(stmt)
}

// ValidateSQL reports whether sqlText parses, and the statement kind it
// parses to, without touching storage — supplementing db_engine.py's
// validate_sql (present in the original, unreachable from routes.py, kept
// here for completeness).
func ValidateSQL(sqlText string) (kind string, err error) {
	stmt, err := sql.Parse(sqlText)
	if err != nil {
		return "", err
	}
	switch stmt.(type) {
	case *sql.CreateTableStatement:
		return "CREATE_TABLE", nil
	case *sql.InsertStatement:
		return "INSERT", nil
	case *sql.DeleteStatement:
		return "DELETE", nil
	case *sql.SelectStatement:
		return "SELECT", nil
	default:
		return "", &errors.ParseError{Reason: "unrecognized statement"}
	}
}

// Catalog exposes the underlying table catalog for callers (the HTTP
// facade) that need schema introspection without going through SQL.
func (e *Engine) Catalog() *schema.Catalog {
	return e.catalog
}

// TableCounts reports a table's total and active record counts,
// supplementing `get_count`/`get_active_count` (record_handler.py) which
// the original exposes as two separate calls.
func (e *Engine) TableCounts(name string) (total int32, active int32, err error) {
	table, ok := e.catalog.GetTable(name)
	if !ok {
		return 0, 0, &errors.TableNotFoundError{Name: name}
	}
	handles, err := e.handlesFor(table)
	if err != nil {
		return 0, 0, err
	}
	total = handles.heap.Count()
	active, err = handles.heap.ActiveCount()
	if err != nil {
		return 0, 0, err
	}
	return total, active, nil
}

// DropTable closes any open handles for name and removes it from the
// catalog, supplementing table_manager.py's drop_table (reachable only
// through the HTTP facade's table administration surface, never SQL).
func (e *Engine) DropTable(name string) error {
	if h, ok := e.open[name]; ok {
		h.index.Close()
		h.heap.Close()
		delete(e.open, name)
	}
	return e.catalog.DropTable(name)
}

// Execute dispatches stmt to the matching _execute_* method.
func (e *Engine) Execute(stmt sql.Statement) *Result {
	switch s := stmt.(type) {
	case *sql.CreateTableStatement:
		return e.executeCreateTable(s)
	case *sql.InsertStatement:
		return e.executeInsert(s)
	case *sql.DeleteStatement:
		return e.executeDelete(s)
	case *sql.SelectStatement:
		return e.executeSelect(s)
	default:
		return &Result{Success: false, Error: "unsupported statement"}
	}
}

// executeCreateTable mirrors _execute_create_table: build the column set,
// register it with the catalog, then (if FROM FILE was given) bulk-load
// the CSV — create-then-load, per Open Question 3.
func (e *Engine) executeCreateTable(stmt *sql.CreateTableStatement) *Result {
	columns := make([]*types.Column, len(stmt.Columns))
	for i, cd := range stmt.Columns {
		columns[i] = &types.Column{
			Name:         cd.Name,
			DataType:     cd.DataType,
			Size:         cd.Size,
			IsPrimaryKey: cd.IsPrimaryKey,
			HasIndex:     cd.HasIndex,
			IndexType:    cd.IndexType,
		}
	}

	table, err := e.catalog.CreateTable(stmt.TableName, columns, stmt.PrimaryKey, stmt.PrimaryIndexType)
	if err != nil {
		return &Result{Success: false, Operation: "CREATE_TABLE", Error: err.Error()}
	}

	res := &Result{Success: true, Operation: "CREATE_TABLE", TableName: table.Name}
	if stmt.FromFile == "" {
		return res
	}

	handles, err := e.handlesFor(table)
	if err != nil {
		return &Result{Success: false, Operation: "CREATE_TABLE", Error: err.Error()}
	}
	csvRes, err := csvload.LoadFile(stmt.FromFile, table, handles.heap, handles.index)
	if err != nil {
		return &Result{Success: false, Operation: "CREATE_TABLE", Error: err.Error(), TableName: table.Name}
	}
	res.CSVResult = csvRes
	res.Count = csvRes.InsertedCount
	return res
}

// executeInsert mirrors _execute_insert / _create_record_from_values: one
// heap insert + index insert per VALUES row, row failures accumulated
// rather than aborting the whole statement, per §7.
func (e *Engine) executeInsert(stmt *sql.InsertStatement) *Result {
	table, ok := e.catalog.GetTable(stmt.TableName)
	if !ok {
		return &Result{Success: false, Operation: "INSERT", Error: (&errors.TableNotFoundError{Name: stmt.TableName}).Error()}
	}
	handles, err := e.handlesFor(table)
	if err != nil {
		return &Result{Success: false, Operation: "INSERT", Error: err.Error()}
	}

	columnOrder := stmt.Columns
	if len(columnOrder) == 0 {
		columnOrder = make([]string, len(table.Columns))
		for i, c := range table.Columns {
			columnOrder[i] = c.Name
		}
	}

	res := &Result{Success: true, Operation: "INSERT", TableName: table.Name}
	for rowIdx, row := range stmt.Values {
		if len(row) != len(columnOrder) {
			res.RowErrors = append(res.RowErrors, fmt.Sprintf("row %d: expected %d values, got %d", rowIdx+1, len(columnOrder), len(row)))
			continue
		}
		record, recordMap, err := buildRecord(table, columnOrder, row)
		if err != nil {
			res.RowErrors = append(res.RowErrors, fmt.Sprintf("row %d: %v", rowIdx+1, err))
			continue
		}
		slot, err := handles.heap.Insert(record)
		if err != nil {
			res.RowErrors = append(res.RowErrors, fmt.Sprintf("row %d: %v", rowIdx+1, err))
			continue
		}
		if err := handles.index.Insert(recordMap, slot); err != nil {
			res.RowErrors = append(res.RowErrors, fmt.Sprintf("row %d: %v", rowIdx+1, err))
			continue
		}
		res.Count++
	}
	if err := handles.index.SaveAll(); err != nil {
		res.Success = false
		res.Error = err.Error()
	}
	if res.Count == 0 && len(res.RowErrors) > 0 {
		res.Success = false
		res.Error = "no rows inserted"
	}
	return res
}

// buildRecord converts one VALUES row into a heap.Record (column order)
// and a map keyed by column name (for the index manager), validating
// every literal against its declared column type.
func buildRecord(table *schema.Table, columnOrder []string, row []sql.Literal) (heap.Record, map[string]types.Value, error) {
	byName := make(map[string]types.Value, len(table.Columns))
	for i, colName := range columnOrder {
		col := table.GetColumn(colName)
		if col == nil {
			return nil, nil, &errors.ColumnNotFoundError{Table: table.Name, Column: colName}
		}
		val, err := literalToValue(row[i], col)
		if err != nil {
			return nil, nil, err
		}
		byName[col.Name] = val
	}
	record := make(heap.Record, len(table.Columns))
	for i, c := range table.Columns {
		v, ok := byName[c.Name]
		if !ok {
			v = types.Null()
		}
		record[i] = v
	}
	return record, byName, nil
}

// literalToValue coerces a parsed SQL literal into a types.Value for
// col's declared type, matching _create_record_from_values's per-type
// conversion (including the DATE-from-string and ARRAY-from-tuple paths).
func literalToValue(lit sql.Literal, col *types.Column) (types.Value, error) {
	switch col.DataType {
	case types.INT:
		switch lit.Kind {
		case sql.LiteralInt:
			return types.IntValue(int32(lit.Int)), nil
		case sql.LiteralFloat:
			return types.IntValue(int32(lit.Float)), nil
		default:
			return types.Value{}, &errors.ValueConversionError{Column: col.Name, Value: litString(lit), Reason: "expected an integer"}
		}
	case types.FLOAT:
		switch lit.Kind {
		case sql.LiteralFloat:
			return types.FloatValue(float32(lit.Float)), nil
		case sql.LiteralInt:
			return types.FloatValue(float32(lit.Int)), nil
		default:
			return types.Value{}, &errors.ValueConversionError{Column: col.Name, Value: litString(lit), Reason: "expected a float"}
		}
	case types.VARCHAR:
		if lit.Kind != sql.LiteralString {
			return types.Value{}, &errors.ValueConversionError{Column: col.Name, Value: litString(lit), Reason: "expected a string"}
		}
		s := lit.Str
		if col.Size > 0 && len(s) > col.Size {
			s = s[:col.Size]
		}
		return types.StrValue(s), nil
	case types.DATE:
		if lit.Kind != sql.LiteralString {
			return types.Value{}, &errors.ValueConversionError{Column: col.Name, Value: litString(lit), Reason: "expected a date string"}
		}
		epoch, err := types.ParseDate(lit.Str)
		if err != nil {
			return types.Value{}, &errors.ValueConversionError{Column: col.Name, Value: lit.Str, Reason: "unrecognized date format"}
		}
		return types.DateValue(epoch), nil
	case types.ARRAY_FLOAT:
		if lit.Kind != sql.LiteralArray {
			return types.Value{}, &errors.ValueConversionError{Column: col.Name, Value: litString(lit), Reason: "expected ARRAY[x, y]"}
		}
		return types.PointValue(float32(lit.ArrX), float32(lit.ArrY)), nil
	default:
		return types.Value{}, &errors.ValueConversionError{Column: col.Name, Value: litString(lit), Reason: "unsupported data type"}
	}
}

func litString(lit sql.Literal) string {
	switch lit.Kind {
	case sql.LiteralInt:
		return fmt.Sprintf("%d", lit.Int)
	case sql.LiteralFloat:
		return fmt.Sprintf("%g", lit.Float)
	case sql.LiteralString:
		return lit.Str
	case sql.LiteralArray:
		return fmt.Sprintf("[%g, %g]", lit.ArrX, lit.ArrY)
	default:
		return ""
	}
}

// conditionKey converts a sql.Condition's literal(s) into
// types.Comparable keys matching cond.Column's declared type, the way
// query_executro.py coerces WHERE literals before calling into the index
// manager.
func conditionKey(lit sql.Literal, col *types.Column) (types.Comparable, error) {
	val, err := literalToValue(lit, col)
	if err != nil {
		return nil, err
	}
	return val.ToComparable()
}

// executeDelete mirrors _execute_delete / _delete_with_condition /
// _delete_all_records: a plan picks the access path, every matching slot
// is tombstoned in the heap, and (per Open Question 1) the full row read
// back before deletion is handed to the index manager so AVL/hash/ISAM
// entries are pruned too (B+/R-tree entries are left stale on purpose).
func (e *Engine) executeDelete(stmt *sql.DeleteStatement) *Result {
	table, ok := e.catalog.GetTable(stmt.TableName)
	if !ok {
		return &Result{Success: false, Operation: "DELETE", Error: (&errors.TableNotFoundError{Name: stmt.TableName}).Error()}
	}
	handles, err := e.handlesFor(table)
	if err != nil {
		return &Result{Success: false, Operation: "DELETE", Error: err.Error()}
	}

	plan := optimizer.OptimizeDelete(stmt, table)
	res := &Result{Success: true, Operation: "DELETE", TableName: table.Name, Explain: plan.Description}

	var slots []int32
	switch plan.Operation {
	case optimizer.OpSequentialScan:
		if stmt.Where == nil {
			allSlots, _, err := handles.heap.ScanAll()
			if err != nil {
				return &Result{Success: false, Operation: "DELETE", Error: err.Error()}
			}
			slots = allSlots
		} else {
			slots, err = e.sequentialMatch(handles, table, stmt.Where)
			if err != nil {
				return &Result{Success: false, Operation: "DELETE", Error: err.Error()}
			}
		}
	case optimizer.OpSequentialFilter:
		slots, err = e.sequentialMatch(handles, table, stmt.Where)
		if err != nil {
			return &Result{Success: false, Operation: "DELETE", Error: err.Error()}
		}
	case optimizer.OpIndexScan:
		col := table.GetColumn(stmt.Where.Column)
		key, err := conditionKey(stmt.Where.Value, col)
		if err != nil {
			return &Result{Success: false, Operation: "DELETE", Error: err.Error()}
		}
		slot, found, err := handles.index.Search(col.Name, key)
		if err != nil {
			return &Result{Success: false, Operation: "DELETE", Error: err.Error()}
		}
		if found {
			slots = []int32{slot}
		}
	case optimizer.OpRangeScan:
		col := table.GetColumn(stmt.Where.Column)
		lo, err := conditionKey(stmt.Where.MinValue, col)
		if err != nil {
			return &Result{Success: false, Operation: "DELETE", Error: err.Error()}
		}
		hi, err := conditionKey(stmt.Where.MaxValue, col)
		if err != nil {
			return &Result{Success: false, Operation: "DELETE", Error: err.Error()}
		}
		slots, err = handles.index.RangeSearch(col.Name, lo, hi)
		if err != nil {
			return &Result{Success: false, Operation: "DELETE", Error: err.Error()}
		}
	}

	for _, slot := range slots {
		deleted, err := handles.heap.IsDeleted(slot)
		if err != nil || deleted {
			continue
		}
		record, err := handles.heap.Read(slot)
		if err != nil {
			continue
		}
		recordMap := recordToMap(table, record)
		if _, err := handles.heap.Delete(slot); err != nil {
			res.RowErrors = append(res.RowErrors, err.Error())
			continue
		}
		if err := handles.index.Delete(recordMap); err != nil {
			res.RowErrors = append(res.RowErrors, err.Error())
			continue
		}
		res.Count++
	}
	if err := handles.index.SaveAll(); err != nil {
		res.Success = false
		res.Error = err.Error()
	}
	return res
}

// sequentialMatch scans every active record and evaluates cond in memory,
// matching _delete_with_condition / _select_with_condition's fallback
// path when no index can serve a condition.
func (e *Engine) sequentialMatch(handles *tableHandles, table *schema.Table, cond *sql.Condition) ([]int32, error) {
	allSlots, records, err := handles.heap.ScanAll()
	if err != nil {
		return nil, err
	}
	var out []int32
	for i, record := range records {
		recordMap := recordToMap(table, record)
		matched, err := evaluateCondition(recordMap, table, cond)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, allSlots[i])
		}
	}
	return out, nil
}

// evaluateCondition applies cond to recordMap in memory, matching
// _matches_condition's equal/between/spatial branches.
func evaluateCondition(recordMap map[string]types.Value, table *schema.Table, cond *sql.Condition) (bool, error) {
	if cond == nil {
		return true, nil
	}
	col := table.GetColumn(cond.Column)
	if col == nil {
		return false, &errors.ColumnNotFoundError{Table: table.Name, Column: cond.Column}
	}
	val, ok := recordMap[cond.Column]
	if !ok || val.IsNull() {
		return false, nil
	}
	key, err := val.ToComparable()
	if err != nil {
		return false, err
	}
	switch cond.Kind {
	case sql.CondEqual:
		target, err := conditionKey(cond.Value, col)
		if err != nil {
			return false, err
		}
		return query.Equal(target).Matches(key), nil
	case sql.CondBetween:
		lo, err := conditionKey(cond.MinValue, col)
		if err != nil {
			return false, err
		}
		hi, err := conditionKey(cond.MaxValue, col)
		if err != nil {
			return false, err
		}
		return query.Between(lo, hi).Matches(key), nil
	case sql.CondSpatial:
		if val.Kind != types.KindPoint {
			return false, nil
		}
		dx := float64(val.X) - cond.PointX
		dy := float64(val.Y) - cond.PointY
		return dx*dx+dy*dy <= cond.Radius*cond.Radius, nil
	default:
		return false, nil
	}
}

// recordToMap converts a positional heap.Record into a column-name-keyed
// map, the shape the index manager and condition evaluator use.
func recordToMap(table *schema.Table, record heap.Record) map[string]types.Value {
	out := make(map[string]types.Value, len(table.Columns))
	for i, c := range table.Columns {
		if i < len(record) {
			out[c.Name] = record[i]
		}
	}
	return out
}

// executeSelect mirrors _execute_select / _select_with_condition /
// _select_all / _project_columns / _point_in_radius: the optimizer
// chooses an access path, every candidate slot is re-validated against
// the heap's tombstone (closing the gap left by stale B+/R-tree entries),
// and the surviving rows are projected to the requested columns.
func (e *Engine) executeSelect(stmt *sql.SelectStatement) *Result {
	table, ok := e.catalog.GetTable(stmt.TableName)
	if !ok {
		return &Result{Success: false, Operation: "SELECT", Error: (&errors.TableNotFoundError{Name: stmt.TableName}).Error()}
	}
	handles, err := e.handlesFor(table)
	if err != nil {
		return &Result{Success: false, Operation: "SELECT", Error: err.Error()}
	}

	plan := optimizer.OptimizeSelect(stmt, table)
	res := &Result{Success: true, Operation: "SELECT", TableName: table.Name, Explain: plan.Description}

	var slots []int32
	switch plan.Operation {
	case optimizer.OpSequentialScan:
		if stmt.Where == nil {
			allSlots, _, err := handles.heap.ScanAll()
			if err != nil {
				return &Result{Success: false, Operation: "SELECT", Error: err.Error()}
			}
			slots = allSlots
		} else {
			slots, err = e.sequentialMatch(handles, table, stmt.Where)
			if err != nil {
				return &Result{Success: false, Operation: "SELECT", Error: err.Error()}
			}
		}
	case optimizer.OpSequentialFilter:
		slots, err = e.sequentialMatch(handles, table, stmt.Where)
		if err != nil {
			return &Result{Success: false, Operation: "SELECT", Error: err.Error()}
		}
	case optimizer.OpIndexScan:
		col := table.GetColumn(stmt.Where.Column)
		key, err := conditionKey(stmt.Where.Value, col)
		if err != nil {
			return &Result{Success: false, Operation: "SELECT", Error: err.Error()}
		}
		slot, found, err := handles.index.Search(col.Name, key)
		if err != nil {
			return &Result{Success: false, Operation: "SELECT", Error: err.Error()}
		}
		if found {
			slots = []int32{slot}
		}
	case optimizer.OpRangeScan:
		col := table.GetColumn(stmt.Where.Column)
		lo, err := conditionKey(stmt.Where.MinValue, col)
		if err != nil {
			return &Result{Success: false, Operation: "SELECT", Error: err.Error()}
		}
		hi, err := conditionKey(stmt.Where.MaxValue, col)
		if err != nil {
			return &Result{Success: false, Operation: "SELECT", Error: err.Error()}
		}
		slots, err = handles.index.RangeSearch(col.Name, lo, hi)
		if err != nil {
			return &Result{Success: false, Operation: "SELECT", Error: err.Error()}
		}
	case optimizer.OpSpatialScan:
		col := table.GetColumn(stmt.Where.Column)
		slots, err = handles.index.SpatialSearch(col.Name, stmt.Where.PointX, stmt.Where.PointY, stmt.Where.Radius)
		if err != nil {
			return &Result{Success: false, Operation: "SELECT", Error: err.Error()}
		}
	}

	projection := stmt.Columns
	projectAll := len(projection) == 1 && projection[0] == "*"

	for _, slot := range slots {
		deleted, err := handles.heap.IsDeleted(slot)
		if err != nil || deleted {
			continue
		}
		record, err := handles.heap.Read(slot)
		if err != nil {
			continue
		}
		recordMap := recordToMap(table, record)
		if stmt.Where != nil && plan.Operation != optimizer.OpSequentialFilter && plan.Operation != optimizer.OpSequentialScan {
			// Index-served paths already matched on key; a spatial index
			// path still needs the precise radius check (rtree prunes on
			// its bounding box, not the exact circle).
			if stmt.Where.Kind == sql.CondSpatial {
				matched, err := evaluateCondition(recordMap, table, stmt.Where)
				if err != nil || !matched {
					continue
				}
			}
		}
		row := recordMap
		if !projectAll {
			row = make(map[string]types.Value, len(projection))
			for _, colName := range projection {
				if table.GetColumn(colName) == nil {
					res.RowErrors = append(res.RowErrors, (&errors.ColumnNotFoundError{Table: table.Name, Column: colName}).Error())
					continue
				}
				row[colName] = recordMap[colName]
			}
		}
		res.Data = append(res.Data, row)
	}
	res.Count = len(res.Data)
	return res
}

// Explain renders the access-path explanation for a SELECT statement,
// matching QueryExecutor.explain.
func (e *Engine) Explain(stmt *sql.SelectStatement) (string, error) {
	table, ok := e.catalog.GetTable(stmt.TableName)
	if !ok {
		return "", &errors.TableNotFoundError{Name: stmt.TableName}
	}
	return optimizer.Explain(stmt, table), nil
}

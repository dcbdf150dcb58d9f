// Package csvload implements the CSV bulk loader described by §1/§4.9 as
// an external collaborator: it is never reached from a bare SQL
// statement, only from "CREATE TABLE ... FROM FILE", per Open Question 3.
// Grounded on original_source/backend/app/core/csv_loader.py's CSVLoader:
// header validation against the table's declared columns, per-row value
// parsing (including the DATE multi-format fallback and the
// ARRAY_FLOAT bracket-stripping), and accumulating up to 10 surfaced row
// errors while counting every failure.
package csvload

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bobboyms/multidex/pkg/errors"
	"github.com/bobboyms/multidex/pkg/heap"
	"github.com/bobboyms/multidex/pkg/index"
	"github.com/bobboyms/multidex/pkg/schema"
	"github.com/bobboyms/multidex/pkg/types"
)

// maxSurfacedErrors bounds how many row errors load_from_csv returns to
// the caller, matching csv_loader.py's errors[:10].
const maxSurfacedErrors = 10

// Result mirrors load_from_csv's returned dict.
type Result struct {
	TableName      string
	TotalRows      int
	InsertedCount  int
	ErrorCount     int
	Errors         []string
	PrimaryKey     string
	IndexedColumns []string
}

// LoadFile reads csvPath, validates its header row against table's
// columns, and inserts one row per CSV record into hm + im, continuing
// past per-row failures the way the original does.
func LoadFile(csvPath string, table *schema.Table, hm *heap.Manager, im *index.Manager) (*Result, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("csvload: open %s: %w", csvPath, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csvload: read %s: %w", csvPath, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("csvload: %s is empty", csvPath)
	}

	headers := rows[0]
	if err := validateHeaders(headers, table); err != nil {
		return nil, err
	}
	headerIndex := make(map[string]int, len(headers))
	for i, h := range headers {
		headerIndex[strings.TrimSpace(h)] = i
	}

	result := &Result{
		TableName: table.Name,
		TotalRows: len(rows) - 1,
	}
	for _, col := range table.Columns {
		if col.HasIndex {
			result.IndexedColumns = append(result.IndexedColumns, col.Name)
		}
	}
	result.PrimaryKey = table.PrimaryKey

	for rowNum, row := range rows[1:] {
		record, recordMap, err := rowToRecord(row, headerIndex, table)
		if err != nil {
			result.ErrorCount++
			msg := fmt.Sprintf("row %d: %v", rowNum+2, err)
			if len(result.Errors) < maxSurfacedErrors {
				result.Errors = append(result.Errors, msg)
			}
			continue
		}
		slot, err := hm.Insert(record)
		if err != nil {
			result.ErrorCount++
			msg := fmt.Sprintf("row %d: %v", rowNum+2, err)
			if len(result.Errors) < maxSurfacedErrors {
				result.Errors = append(result.Errors, msg)
			}
			continue
		}
		if err := im.Insert(recordMap, slot); err != nil {
			result.ErrorCount++
			msg := fmt.Sprintf("row %d: %v", rowNum+2, err)
			if len(result.Errors) < maxSurfacedErrors {
				result.Errors = append(result.Errors, msg)
			}
			continue
		}
		result.InsertedCount++
	}

	if err := im.SaveAll(); err != nil {
		return result, err
	}
	return result, nil
}

// validateHeaders requires every table column (in particular the primary
// key) to appear in the CSV header row; extra CSV columns are ignored.
func validateHeaders(headers []string, table *schema.Table) error {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[strings.TrimSpace(h)] = true
	}
	var missing []string
	for _, col := range table.Columns {
		if !present[col.Name] {
			missing = append(missing, col.Name)
		}
	}
	if len(missing) > 0 {
		return &errors.SchemaError{Reason: fmt.Sprintf("csv missing columns: %v", missing)}
	}
	return nil
}

func rowToRecord(row []string, headerIndex map[string]int, table *schema.Table) (heap.Record, map[string]types.Value, error) {
	record := make(heap.Record, len(table.Columns))
	recordMap := make(map[string]types.Value, len(table.Columns))
	for i, col := range table.Columns {
		csvIdx, ok := headerIndex[col.Name]
		if !ok {
			return nil, nil, &errors.ColumnNotFoundError{Table: table.Name, Column: col.Name}
		}
		if csvIdx >= len(row) {
			return nil, nil, &errors.ValueConversionError{Column: col.Name, Value: "", Reason: "row is shorter than its header"}
		}
		raw := strings.TrimSpace(row[csvIdx])
		val, err := parseCSVValue(raw, col)
		if err != nil {
			return nil, nil, err
		}
		record[i] = val
		recordMap[col.Name] = val
	}
	return record, recordMap, nil
}

// parseCSVValue mirrors csv_loader.py's _parse_csv_value: an empty
// string, "\N", or "NULL" (case-insensitive) parses to a Null value;
// otherwise the raw text is coerced to the column's declared type.
func parseCSVValue(raw string, col *types.Column) (types.Value, error) {
	upper := strings.ToUpper(raw)
	if raw == "" || upper == `\N` || upper == "NULL" {
		return types.Null(), nil
	}

	switch col.DataType {
	case types.INT:
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return types.Value{}, &errors.ValueConversionError{Column: col.Name, Value: raw, Reason: "not a valid integer"}
		}
		return types.IntValue(int32(n)), nil
	case types.FLOAT:
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return types.Value{}, &errors.ValueConversionError{Column: col.Name, Value: raw, Reason: "not a valid float"}
		}
		return types.FloatValue(float32(f)), nil
	case types.VARCHAR:
		v := raw
		if col.Size > 0 && len(v) > col.Size {
			v = v[:col.Size]
		}
		return types.StrValue(v), nil
	case types.DATE:
		epoch, err := types.ParseDate(raw)
		if err != nil {
			return types.Value{}, &errors.ValueConversionError{Column: col.Name, Value: raw, Reason: "unrecognized date format"}
		}
		return types.DateValue(epoch), nil
	case types.ARRAY_FLOAT:
		x, y, err := parseArrayFloat(raw)
		if err != nil {
			return types.Value{}, &errors.ValueConversionError{Column: col.Name, Value: raw, Reason: err.Error()}
		}
		return types.PointValue(float32(x), float32(y)), nil
	default:
		return types.Value{}, &errors.ValueConversionError{Column: col.Name, Value: raw, Reason: "unsupported data type"}
	}
}

// parseArrayFloat strips an "ARRAY[...]" or "[...]" wrapper and parses the
// two comma-separated floats inside, matching _parse_array_float.
func parseArrayFloat(raw string) (float64, float64, error) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(strings.ToUpper(trimmed), "ARRAY[") && strings.HasSuffix(trimmed, "]"):
		trimmed = trimmed[len("ARRAY[") : len(trimmed)-1]
	case strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"):
		trimmed = trimmed[1 : len(trimmed)-1]
	}
	parts := strings.Split(trimmed, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("ARRAY_FLOAT must have exactly 2 elements: %q", raw)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid ARRAY_FLOAT x component %q", parts[0])
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid ARRAY_FLOAT y component %q", parts[1])
	}
	return x, y, nil
}

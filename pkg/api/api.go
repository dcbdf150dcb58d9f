// Package api implements the HTTP facade described by §6's external
// interface, grounded on original_source/backend/app/routes.py and
// schemas.py for the request/response shapes: POST /query, GET /tables,
// GET /tables/{name}, POST /explain, GET /stats, GET /health, plus a
// DELETE /tables/{name} administration route supplementing
// table_manager.py's drop_table (never reachable through the SQL
// grammar itself, per SPEC_FULL.md's supplemented features).
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bobboyms/multidex/pkg/executor"
	"github.com/bobboyms/multidex/pkg/sql"
	"github.com/bobboyms/multidex/pkg/types"
)

// Server wires an executor.Engine to HTTP handlers, in the same
// explicit-constructor style the teacher's cmd/example programs use
// instead of a global singleton (the original's routes.py module-level
// `db_engine` global is not reproduced).
type Server struct {
	engine    *executor.Engine
	startedAt time.Time
}

// NewServer builds a Server around engine.
func NewServer(engine *executor.Engine) *Server {
	return &Server{engine: engine, startedAt: time.Now()}
}

// Routes returns the HTTP handler tree, using Go's method+pattern mux
// (net/http.ServeMux), the standard-library routing idiom since neither
// the teacher nor the rest of the retrieval pack carries an HTTP router
// dependency.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /tables", s.handleListTables)
	mux.HandleFunc("GET /tables/{name}", s.handleTableInfo)
	mux.HandleFunc("DELETE /tables/{name}", s.handleDropTable)
	mux.HandleFunc("POST /explain", s.handleExplain)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)
	return mux
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Success bool                     `json:"success"`
	Data    []map[string]interface{} `json:"data,omitempty"`
	Count   int                      `json:"count"`
	Time    float64                  `json:"time"`
	Error   string                   `json:"error,omitempty"`
	Explain string                   `json:"explain,omitempty"`
}

// handleQuery mirrors routes.py's execute_query: parse+run one SQL
// statement, timing the call the way QueryResponse.time does.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, queryResponse{Success: false, Error: err.Error()})
		return
	}

	started := time.Now()
	result := s.engine.ExecuteSQL(req.Query)
	elapsed := time.Since(started).Seconds()

	resp := queryResponse{
		Success: result.Success,
		Count:   result.Count,
		Time:    elapsed,
		Error:   result.Error,
		Explain: result.Explain,
	}
	if result.Data != nil {
		resp.Data = make([]map[string]interface{}, len(result.Data))
		for i, row := range result.Data {
			resp.Data[i] = jsonRow(row)
		}
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

type tableInfo struct {
	Name             string        `json:"name"`
	Columns          []interface{} `json:"columns"`
	PrimaryKey       string        `json:"primary_key"`
	PrimaryIndexType string        `json:"primary_index_type"`
	RecordSize       int           `json:"record_size"`
	TotalRecords     int32         `json:"total_records"`
	ActiveRecords    int32         `json:"active_records"`
	IndexedColumns   []string      `json:"indexed_columns"`
}

func (s *Server) buildTableInfo(name string) (*tableInfo, error) {
	table, ok := s.engine.Catalog().GetTable(name)
	if !ok {
		return nil, fmt.Errorf("table %q not found", name)
	}
	total, active, err := s.engine.TableCounts(name)
	if err != nil {
		return nil, err
	}
	indexed := table.GetIndexedColumns()
	indexedNames := make([]string, len(indexed))
	for i, c := range indexed {
		indexedNames[i] = c.Name
	}
	cols := make([]interface{}, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = c.ToDoc()
	}
	return &tableInfo{
		Name:             table.Name,
		Columns:          cols,
		PrimaryKey:       table.PrimaryKey,
		PrimaryIndexType: string(table.PrimaryIndexType),
		RecordSize:       table.GetRecordSize(),
		TotalRecords:     total,
		ActiveRecords:    active,
		IndexedColumns:   indexedNames,
	}, nil
}

type tableListResponse struct {
	Success bool        `json:"success"`
	Tables  []tableInfo `json:"tables"`
	Count   int         `json:"count"`
}

// handleListTables mirrors routes.py's list_tables.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	names := s.engine.Catalog().ListTables()
	tables := make([]tableInfo, 0, len(names))
	for _, name := range names {
		info, err := s.buildTableInfo(name)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
			return
		}
		tables = append(tables, *info)
	}
	writeJSON(w, http.StatusOK, tableListResponse{Success: true, Tables: tables, Count: len(tables)})
}

// handleTableInfo mirrors routes.py's get_table_info.
func (s *Server) handleTableInfo(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	info, err := s.buildTableInfo(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "table": info})
}

// handleDropTable supplements routes.py: there is no DROP TABLE route in
// the original (db_engine.py.drop_table is only ever called directly),
// but §... SUPPLEMENTED FEATURES adds a table administration surface
// rather than a SQL keyword, so it lands here.
func (s *Server) handleDropTable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.engine.DropTable(name); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type explainRequest struct {
	Query string `json:"query"`
}

type explainResponse struct {
	Success bool        `json:"success"`
	Plan    interface{} `json:"plan,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// handleExplain mirrors routes.py's explain_query: only SELECT statements
// carry an access plan, matching QueryExecutor.explain's scope.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, explainResponse{Success: false, Error: err.Error()})
		return
	}
	stmt, err := sql.Parse(req.Query)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, explainResponse{Success: false, Error: err.Error()})
		return
	}
	sel, ok := stmt.(*sql.SelectStatement)
	if !ok {
		writeJSON(w, http.StatusBadRequest, explainResponse{Success: false, Error: "EXPLAIN only supports SELECT statements"})
		return
	}
	plan, err := s.engine.Explain(sel)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, explainResponse{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, explainResponse{Success: true, Plan: plan})
}

type statsResponse struct {
	Success      bool   `json:"success"`
	TotalTables  int    `json:"total_tables"`
	TotalRecords int64  `json:"total_records"`
	Uptime       string `json:"uptime,omitempty"`
}

// handleStats mirrors routes.py's get_system_stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	names := s.engine.Catalog().ListTables()
	var totalRecords int64
	for _, name := range names {
		total, _, err := s.engine.TableCounts(name)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
			return
		}
		totalRecords += int64(total)
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Success:      true,
		TotalTables:  len(names),
		TotalRecords: totalRecords,
		Uptime:       time.Since(s.startedAt).String(),
	})
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// handleHealth mirrors routes.py's health_check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now(), Version: "1.0.0"})
}

// handleRoot mirrors routes.py's root endpoint summary.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "multidex storage engine API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"POST /query":           "Execute a SQL statement",
			"GET /tables":           "List every known table",
			"GET /tables/{name}":    "Table schema and record counts",
			"DELETE /tables/{name}": "Drop a table",
			"POST /explain":         "Access plan for a SELECT statement",
			"GET /stats":            "System-wide record counts",
			"GET /health":           "Health check",
		},
	})
}

// jsonRow converts one projected row's types.Value map into a
// JSON-marshalable map, rendering DATE columns with
// types.FormatDate the way the original's deserialize_value hands
// callers a formatted string rather than a raw epoch.
func jsonRow(row map[string]types.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = jsonValue(v)
	}
	return out
}

func jsonValue(v types.Value) interface{} {
	switch v.Kind {
	case types.KindNull:
		return nil
	case types.KindInt:
		return v.I
	case types.KindFloat:
		return v.F
	case types.KindStr:
		return v.S
	case types.KindDate:
		return types.FormatDate(v.D)
	case types.KindPoint:
		return []float32{v.X, v.Y}
	default:
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

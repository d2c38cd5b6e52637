package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/metricsheet/metricsheet/internal/alerts"
	"github.com/metricsheet/metricsheet/internal/board"
	"github.com/metricsheet/metricsheet/internal/history"
	"github.com/metricsheet/metricsheet/pkg/period"
	"github.com/metricsheet/metricsheet/pkg/sheet"
)

// Handler is the HTTP handler for all /api/v1/* endpoints.
// Reads come from the board's live table, history from the store.
type Handler struct {
	board  *board.Board
	hist   history.Store
	engine *alerts.Engine
	mux    *http.ServeMux
}

// New creates a Handler wired to the given board, history store and
// alert engine, and registers all routes. engine may be nil, in which
// case the alerts endpoint serves an empty list.
func New(b *board.Board, hist history.Store, engine *alerts.Engine) http.Handler {
	h := &Handler{board: b, hist: hist, engine: engine, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/healthz", h.healthz)
	h.mux.HandleFunc("/api/v1/metrics", h.metrics)
	h.mux.HandleFunc("/api/v1/periods", h.periods)
	h.mux.HandleFunc("/api/v1/grid", h.grid)
	h.mux.HandleFunc("/api/v1/cell", h.cell)
	h.mux.HandleFunc("/api/v1/update", h.update)
	h.mux.HandleFunc("/api/v1/history", h.recent)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// healthz returns GET /api/v1/healthz — liveness plus table shape.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Metrics: len(h.board.Metrics()),
		Periods: len(h.board.Periods()),
	})
}

// metrics returns GET /api/v1/metrics — metric names in declaration order.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, MetricsResponse{Metrics: h.board.Metrics()})
}

// periods returns GET /api/v1/periods — every known period key, ascending.
func (h *Handler) periods(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, PeriodsResponse{Periods: periodKeys(h.board.Periods())})
}

// grid returns GET /api/v1/grid — the whole table in one response.
func (h *Handler) grid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jsonResp(w, http.StatusOK, BuildGrid(h.board))
}

// cell returns GET /api/v1/cell?metric=X&period=Y — a single cell.
func (h *Handler) cell(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	metric := r.URL.Query().Get("metric")
	key := r.URL.Query().Get("period")
	if metric == "" || key == "" {
		jsonErr(w, http.StatusBadRequest, "metric and period query parameters are required")
		return
	}
	p, err := period.FromKey(key)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	v, err := h.board.Value(metric, p)
	if err != nil {
		jsonErr(w, http.StatusNotFound, "unknown metric")
		return
	}
	jsonResp(w, http.StatusOK, CellResponse{
		Metric: metric,
		Period: p.Key(),
		Value:  nullableString(v),
	})
}

// update handles POST /api/v1/update — applies raw writes as one batch.
func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	writes := make([]sheet.Write, 0, len(req.Writes))
	for _, wr := range req.Writes {
		p, err := period.FromKey(wr.Period)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		value := sheet.Absent()
		if wr.Value != nil {
			d, err := decimal.NewFromString(*wr.Value)
			if err != nil {
				jsonErr(w, http.StatusBadRequest, "invalid value "+strconv.Quote(*wr.Value))
				return
			}
			value = sheet.Present(d)
		}
		writes = append(writes, sheet.Write{Metric: wr.Metric, Period: p, Value: value})
	}

	batch, err := h.board.Apply(r.Context(), "api", writes)
	if err != nil {
		if errors.Is(err, sheet.ErrUnknownMetric) {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	jsonResp(w, http.StatusOK, UpdateResponse{
		Batch:   batch.ID,
		Source:  batch.Source,
		Changes: ChangeResponses(batch.Changes),
	})
}

// alerts returns GET /api/v1/alerts — firing and recently resolved alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.engine == nil {
		jsonResp(w, http.StatusOK, []alerts.Alert{})
		return
	}
	jsonResp(w, http.StatusOK, h.engine.Active())
}

// recent returns GET /api/v1/history?limit=N — recorded changes, newest first.
func (h *Handler) recent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.hist.Recent(r.Context(), limit)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntryResponse{
			Batch:  e.BatchID,
			Source: e.Source,
			At:     e.At.UTC().Format(time.RFC3339),
			Metric: e.Metric,
			Period: e.Period,
			Old:    nullableString(e.Old),
			New:    nullableString(e.New),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// BuildGrid snapshots the board into the grid response shape. Shared
// with the WebSocket hub, which sends it as the connect frame.
func BuildGrid(b *board.Board) GridResponse {
	cells := make(map[string]map[string]string)
	for _, cell := range b.Export() {
		if !cell.Value.Valid {
			continue
		}
		row, ok := cells[cell.Metric]
		if !ok {
			row = make(map[string]string)
			cells[cell.Metric] = row
		}
		row[cell.Period.Key()] = cell.Value.Decimal.String()
	}
	return GridResponse{
		Metrics: b.Metrics(),
		Periods: periodKeys(b.Periods()),
		Cells:   cells,
	}
}

// ChangeResponses maps changes to their JSON representation.
func ChangeResponses(changes []sheet.Change) []ChangeResponse {
	out := make([]ChangeResponse, 0, len(changes))
	for _, c := range changes {
		out = append(out, ChangeResponse{
			Metric: c.Metric,
			Period: c.Period.Key(),
			Old:    nullableString(c.Old),
			New:    nullableString(c.New),
		})
	}
	return out
}

func periodKeys(periods []period.Period) []string {
	keys := make([]string, 0, len(periods))
	for _, p := range periods {
		keys = append(keys, p.Key())
	}
	return keys
}

func nullableString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

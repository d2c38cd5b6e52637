package api

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse reports service liveness plus table shape counts.
type HealthResponse struct {
	Status  string `json:"status"`
	Metrics int    `json:"metrics"`
	Periods int    `json:"periods"`
}

type MetricsResponse struct {
	Metrics []string `json:"metrics"`
}

type PeriodsResponse struct {
	Periods []string `json:"periods"`
}

// GridResponse is the full table. Cells holds only present values,
// keyed by metric then period key; an absent cell is a missing key.
type GridResponse struct {
	Metrics []string                     `json:"metrics"`
	Periods []string                     `json:"periods"`
	Cells   map[string]map[string]string `json:"cells"`
}

// CellResponse is a single cell. Value is null when the cell is absent.
type CellResponse struct {
	Metric string  `json:"metric"`
	Period string  `json:"period"`
	Value  *string `json:"value"`
}

// UpdateRequest carries raw writes. A null value clears the cell.
type UpdateRequest struct {
	Writes []WriteRequest `json:"writes"`
}

type WriteRequest struct {
	Metric string  `json:"metric"`
	Period string  `json:"period"`
	Value  *string `json:"value"`
}

// UpdateResponse echoes the applied batch and every resulting change,
// rollups included, in recomputation order.
type UpdateResponse struct {
	Batch   string           `json:"batch"`
	Source  string           `json:"source"`
	Changes []ChangeResponse `json:"changes"`
}

type ChangeResponse struct {
	Metric string  `json:"metric"`
	Period string  `json:"period"`
	Old    *string `json:"old"`
	New    *string `json:"new"`
}

// HistoryEntryResponse is one recorded change, newest first.
type HistoryEntryResponse struct {
	Batch  string  `json:"batch"`
	Source string  `json:"source"`
	At     string  `json:"at"`
	Metric string  `json:"metric"`
	Period string  `json:"period"`
	Old    *string `json:"old"`
	New    *string `json:"new"`
}

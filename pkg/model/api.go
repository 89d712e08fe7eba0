package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions configures list queries with pagination and filtering.
type ListOptions struct {
	Limit  int
	Offset int
	State  RunState  // optional run state filter
	Kind   EventKind // optional event kind filter
	Task   *int      // optional event task filter
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20, Offset: 0}
}

// MaxListLimit bounds a single page. Traces are long, so the cap is higher
// than a typical resource listing.
const MaxListLimit = 1000

// Clamp enforces limits (max MaxListLimit, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// AdmissionRequest is the body of POST /admission.
type AdmissionRequest struct {
	Tasks []TaskSpec `json:"tasks"`
}

// TaskSpec is the timing description of one periodic task.
type TaskSpec struct {
	Name     string `json:"name,omitempty" yaml:"name"`
	Priority uint32 `json:"priority" yaml:"priority"`
	C        uint32 `json:"c" yaml:"c"`
	T        uint32 `json:"t" yaml:"t"`
}

// RegionCheckRequest is the body of POST /regions/check.
type RegionCheckRequest struct {
	Number    uint32 `json:"number"`
	Base      uint32 `json:"base"`
	SizeLog2  uint8  `json:"size_log2"`
	Execute   bool   `json:"execute"`
	UserWrite bool   `json:"user_write"`
}

// CreateRunRequest is the body of POST /runs.
type CreateRunRequest struct {
	// Name overrides the scenario's own name.
	Name string `json:"name,omitempty"`
	// Scenario is the scenario document in YAML.
	Scenario string `json:"scenario"`
}

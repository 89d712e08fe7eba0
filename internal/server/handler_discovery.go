package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "rtk API",
		Version:     "v1",
		Description: "Rate-monotonic kernel: admission analysis, MPU region checks and scenario runs on the host platform",
		Endpoints: []endpointInfo{
			{"/api/v1/admission", []string{"POST"}, "Schedulability test for a periodic task set"},
			{"/api/v1/regions/check", []string{"POST"}, "Validate an MPU region and show its register encoding"},
			{"/api/v1/runs", []string{"GET", "POST"}, "Execute a scenario; list recorded runs (?state=)"},
			{"/api/v1/runs/{id}", []string{"GET", "DELETE"}, "Single run with console output"},
			{"/api/v1/runs/{id}/events", []string{"GET"}, "Execution trace (?kind=, ?task=, ?limit=, ?offset=)"},
			{"/api/v1/runs/{id}/report", []string{"GET"}, "Execution order, response times and mutex holds"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}

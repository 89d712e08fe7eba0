package server

import (
	"net/http"

	"github.com/me/rtk/internal/admission"
	"github.com/me/rtk/pkg/model"
)

type admissionResponse struct {
	admission.Result
	Names []string `json:"names,omitempty"`
}

func (s *Server) handleAdmission(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.AdmissionRequest
	if !decodeJSON(w, r, reqID, &req) {
		return
	}

	tasks := make([]admission.Task, len(req.Tasks))
	names := make([]string, len(req.Tasks))
	named := false
	for i, t := range req.Tasks {
		tasks[i] = admission.Task{Priority: t.Priority, C: t.C, T: t.T}
		names[i] = t.Name
		named = named || t.Name != ""
	}
	resp := admissionResponse{Result: admission.Check(tasks)}
	if named {
		resp.Names = names
	}
	if !resp.Schedulable {
		s.logger.Info("task set rejected", "request_id", reqID, "method", resp.Method,
			"utilization", resp.Utilization, "failing", resp.Failing)
	}
	respondOK(w, reqID, resp)
}

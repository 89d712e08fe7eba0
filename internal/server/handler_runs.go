package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/me/rtk/internal/report"
	"github.com/me/rtk/internal/scenario"
	"github.com/me/rtk/pkg/model"
)

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.CreateRunRequest
	if !decodeJSON(w, r, reqID, &req) {
		return
	}
	if strings.TrimSpace(req.Scenario) == "" {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("scenario is required",
			model.FieldError{Field: "scenario", Message: "required"}))
		return
	}

	sc, err := scenario.Load([]byte(req.Scenario))
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			apiErr = model.NewValidationError(err.Error())
		}
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	if req.Name != "" {
		sc.Name = req.Name
	}
	mc := sc.MachineConfig()
	if err := s.config.Run.CheckTables(mc.Kernel.MaxTasks, mc.Kernel.MaxMutexes); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error(),
			model.FieldError{Field: "kernel", Message: err.Error()}))
		return
	}
	sc.Run.MaxTicks, sc.Run.Realtime = s.config.Run.Apply(mc.MaxTicks, mc.Realtime)

	run := &model.Run{
		ID:        "run_" + uuid.New().String(),
		Name:      sc.Name,
		State:     model.RunStateRunning,
		Scenario:  req.Scenario,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateRun(r.Context(), run); err != nil {
		respondInternal(w, reqID, err)
		return
	}
	s.logger.Info("run started", "run_id", run.ID, "scenario", run.Name, "max_ticks", sc.Run.MaxTicks)

	if err := s.execute(r.Context(), run, sc); err != nil {
		respondInternal(w, reqID, err)
		return
	}
	respondCreated(w, reqID, run)
}

// execute runs sc to completion and records the outcome on run. A scenario
// that fails to build still yields a FAILED run; only store errors are
// returned.
func (s *Server) execute(ctx context.Context, run *model.Run, sc *scenario.Scenario) error {
	if s.config.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Run.Timeout)
		defer cancel()
	}

	in, err := scenario.Build(sc, s.logger)
	if err != nil {
		run.State = model.RunStateFailed
		run.Error = err.Error()
	} else {
		out := in.Run(ctx)
		if !run.State.CanTransitionTo(out.State) {
			return &model.InvalidTransitionError{Entity: "run", ID: run.ID, From: string(run.State), To: string(out.State)}
		}
		run.State = out.State
		run.Ticks = out.Ticks
		run.Switches = out.Switches
		run.EventCount = len(out.Events)
		run.Names = out.Names
		run.Console = out.Console
		if out.Err != nil {
			run.Error = out.Err.Error()
		}
		// the run's own deadline may have expired; the record still has to land
		if err := s.store.AppendEvents(context.WithoutCancel(ctx), run.ID, out.Events); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	run.CompletedAt = &now
	s.logger.Info("run finished", "run_id", run.ID, "state", run.State, "ticks", run.Ticks, "events", run.EventCount)
	return s.store.UpdateRun(context.WithoutCancel(ctx), run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	if state := r.URL.Query().Get("state"); state != "" {
		opts.State = model.RunState(strings.ToUpper(state))
		if opts.State != model.RunStateRunning && !opts.State.IsTerminal() {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("unknown run state",
				model.FieldError{Field: "state", Message: state}))
			return
		}
	}

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	respondList(w, reqID, runs, pagination(opts, total))
}

// lookupRun fetches the run named in the URL, writing a 404 or 500 when it
// cannot be returned.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request, reqID string) *model.Run {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondInternal(w, reqID, err)
		return nil
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return nil
	}
	return run
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if run := s.lookupRun(w, r, reqID); run != nil {
		respondOK(w, reqID, run)
	}
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	run := s.lookupRun(w, r, reqID)
	if run == nil {
		return
	}
	if err := s.store.DeleteRun(r.Context(), run.ID); err != nil {
		respondInternal(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"id": run.ID, "deleted": true})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	q := r.URL.Query()
	if kind := q.Get("kind"); kind != "" {
		opts.Kind = model.EventKind(strings.ToLower(kind))
	}
	if raw := q.Get("task"); raw != "" {
		task, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid query parameters",
				model.FieldError{Field: "task", Message: "must be an integer"}))
			return
		}
		opts.Task = &task
	}

	run := s.lookupRun(w, r, reqID)
	if run == nil {
		return
	}
	events, total, err := s.store.ListEvents(r.Context(), run.ID, opts)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	respondList(w, reqID, events, pagination(opts, total))
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	run := s.lookupRun(w, r, reqID)
	if run == nil {
		return
	}
	events, err := s.store.AllEvents(r.Context(), run.ID)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	respondOK(w, reqID, report.Build(events, report.Options{Names: run.Names, EndTick: run.Ticks}))
}

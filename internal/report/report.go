// Package report analyzes execution traces: who ran in which order, how
// long each job took from release to completion, and whether mutex
// ownership ever overlapped.
package report

import (
	"fmt"
	"io"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/me/rtk/pkg/model"
)

// Options supplies what a trace alone does not carry.
type Options struct {
	// Names labels task slots in the output.
	Names map[int]string
	// EndTick closes open intervals; 0 means the last event's tick.
	EndTick uint64
}

// Report is the analysis of one trace.
type Report struct {
	Ticks          uint64      `json:"ticks"`
	Order          []int       `json:"order"`
	Tasks          []TaskStats `json:"tasks"`
	Holds          []Hold      `json:"holds"`
	Violations     []string    `json:"violations,omitempty"`
	DeadlineMisses int         `json:"deadline_misses"`
}

// TaskStats summarizes one user task slot over the whole trace.
type TaskStats struct {
	Task           int     `json:"task"`
	Name           string  `json:"name,omitempty"`
	Period         uint64  `json:"period"`
	Activations    int     `json:"activations"`
	Completed      int     `json:"completed"`
	CPU            uint64  `json:"cpu"`
	MeanResponse   float64 `json:"mean_response"`
	StdDevResponse float64 `json:"stddev_response"`
	P95Response    float64 `json:"p95_response"`
	MaxResponse    uint64  `json:"max_response"`
	DeadlineMisses int     `json:"deadline_misses"`

	responses []float64
}

// Hold is one ownership interval of a mutex.
type Hold struct {
	Mutex int    `json:"mutex"`
	Task  int    `json:"task"`
	From  uint64 `json:"from"`
	To    uint64 `json:"to"`
	Open  bool   `json:"open,omitempty"`
}

// Exclusive reports whether no mutex ever had two owners.
func (r *Report) Exclusive() bool {
	return len(r.Violations) == 0
}

type job struct {
	release uint64
	pending bool
}

// Build analyzes events, which must be in trace order. Only slots that
// appear in a create event count as user tasks; idle and main never do.
func Build(events []model.Event, opts Options) *Report {
	end := opts.EndTick
	if end == 0 && len(events) > 0 {
		end = events[len(events)-1].Tick
	}
	r := &Report{Ticks: end, Order: []int{}, Holds: []Hold{}}

	stats := make(map[int]*TaskStats)
	jobs := make(map[int]*job)
	open := make(map[int]int) // mutex -> index into r.Holds
	started := false
	running, since := -1, uint64(0)

	release := func(task int, tick uint64) {
		s, j := stats[task], jobs[task]
		if s == nil {
			return
		}
		s.Activations++
		j.release, j.pending = tick, true
	}
	finish := func(task int, tick uint64, completed bool) {
		s, j := stats[task], jobs[task]
		if s == nil || !j.pending {
			return
		}
		j.pending = false
		resp := tick - j.release
		if completed {
			s.Completed++
			s.responses = append(s.responses, float64(resp))
			s.MaxResponse = max(s.MaxResponse, resp)
		}
		if s.Period > 0 && resp > s.Period {
			s.DeadlineMisses++
		}
	}
	charge := func(tick uint64) {
		if s := stats[running]; s != nil {
			s.CPU += tick - since
		}
		since = tick
	}

	for _, ev := range events {
		switch ev.Kind {
		case model.EventCreate:
			s := stats[ev.Task]
			if s == nil {
				s = &TaskStats{Task: ev.Task, Name: opts.Names[ev.Task]}
				stats[ev.Task] = s
			}
			s.Period = uint64(ev.T)
			jobs[ev.Task] = &job{}
			if started {
				release(ev.Task, ev.Tick)
			}
		case model.EventStart:
			started = true
			since = ev.Tick
			for id := range stats {
				release(id, ev.Tick)
			}
		case model.EventRelease:
			release(ev.Task, ev.Tick)
		case model.EventWait:
			finish(ev.Task, ev.Tick, true)
		case model.EventExit, model.EventKill:
			finish(ev.Task, ev.Tick, false)
		case model.EventSwitch:
			charge(ev.Tick)
			running = ev.Task
			if stats[ev.Task] != nil {
				r.Order = append(r.Order, ev.Task)
			}
		case model.EventAcquire:
			if i, ok := open[ev.Mutex]; ok {
				r.Violations = append(r.Violations, fmt.Sprintf(
					"tick %d: task %d acquired mutex %d held by task %d since tick %d",
					ev.Tick, ev.Task, ev.Mutex, r.Holds[i].Task, r.Holds[i].From))
			}
			open[ev.Mutex] = len(r.Holds)
			r.Holds = append(r.Holds, Hold{Mutex: ev.Mutex, Task: ev.Task, From: ev.Tick, Open: true})
		case model.EventUnlock:
			if i, ok := open[ev.Mutex]; ok && r.Holds[i].Task == ev.Task {
				r.Holds[i].To, r.Holds[i].Open = ev.Tick, false
				delete(open, ev.Mutex)
			}
		}
	}
	if started {
		charge(end)
	}
	for i := range r.Holds {
		if r.Holds[i].Open {
			r.Holds[i].To = end
		}
	}

	for _, s := range stats {
		// a job still running at the end counts as a miss once it is overdue
		if j := jobs[s.Task]; j.pending && s.Period > 0 && end-j.release > s.Period {
			s.DeadlineMisses++
		}
		s.summarize()
		r.DeadlineMisses += s.DeadlineMisses
		r.Tasks = append(r.Tasks, *s)
	}
	sort.Slice(r.Tasks, func(i, j int) bool { return r.Tasks[i].Task < r.Tasks[j].Task })
	return r
}

func (s *TaskStats) summarize() {
	n := len(s.responses)
	if n == 0 {
		return
	}
	if n == 1 {
		s.MeanResponse = s.responses[0]
	} else {
		s.MeanResponse, s.StdDevResponse = stat.MeanStdDev(s.responses, nil)
	}
	sorted := slices.Clone(s.responses)
	slices.Sort(sorted)
	s.P95Response = stat.Quantile(0.95, stat.Empirical, sorted, nil)
}

// Format writes a human-readable summary.
func (r *Report) Format(w io.Writer) {
	fmt.Fprintf(w, "%-6s  %-12s  %8s  %6s  %6s  %8s  %8s  %8s  %6s\n",
		"TASK", "NAME", "PERIOD", "JOBS", "DONE", "CPU", "MEAN", "MAX", "MISSES")
	for _, s := range r.Tasks {
		fmt.Fprintf(w, "%-6d  %-12s  %8d  %6d  %6d  %8d  %8.1f  %8d  %6d\n",
			s.Task, s.Name, s.Period, s.Activations, s.Completed, s.CPU, s.MeanResponse, s.MaxResponse, s.DeadlineMisses)
	}
	fmt.Fprintf(w, "\nticks: %d  deadline misses: %d  mutex holds: %d\n", r.Ticks, r.DeadlineMisses, len(r.Holds))
	if r.Exclusive() {
		fmt.Fprintln(w, "mutual exclusion: ok")
		return
	}
	fmt.Fprintln(w, "mutual exclusion: VIOLATED")
	for _, v := range r.Violations {
		fmt.Fprintf(w, "  %s\n", v)
	}
}

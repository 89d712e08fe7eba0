// Package admission decides whether a set of periodic tasks is schedulable
// under rate-monotonic fixed-priority scheduling.
package admission

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Task is the timing description of one periodic task. Lower Priority
// values are more urgent.
type Task struct {
	Priority uint32
	C        uint32 // worst-case computation time, ticks
	T        uint32 // period and implicit deadline, ticks
}

// Method names the test that produced a verdict.
type Method string

const (
	MethodEmpty             Method = "empty"
	MethodUtilizationBound  Method = "utilization-bound"
	MethodResponseTime      Method = "response-time"
	MethodInvalidParameters Method = "invalid-parameters"
)

// Result is the verdict of Check.
type Result struct {
	Schedulable bool    `json:"schedulable"`
	Method      Method  `json:"method"`
	Tasks       int     `json:"tasks"`
	Utilization float64 `json:"utilization"`
	Bound       float64 `json:"bound"`
	// ResponseTimes is indexed like the input slice; only filled when the
	// exact test ran. A task whose analysis exceeded its period carries the
	// first iterate that did.
	ResponseTimes []uint64 `json:"response_times,omitempty"`
	// Failing is the index of the first task that missed its deadline, -1 if none.
	Failing int `json:"failing"`
}

// Bound returns the Liu–Layland utilization bound n·(2^(1/n) − 1).
func Bound(n int) float64 {
	if n <= 0 {
		return 0
	}
	fn := float64(n)
	return fn * (math.Pow(2, 1/fn) - 1)
}

// Utilization returns Σ Cᵢ/Tᵢ. Tasks with T == 0 count as infinite load.
func Utilization(tasks []Task) float64 {
	shares := make([]float64, len(tasks))
	for i, t := range tasks {
		if t.T == 0 {
			return math.Inf(1)
		}
		shares[i] = float64(t.C) / float64(t.T)
	}
	return floats.Sum(shares)
}

// Check runs the utilization-bound test and falls back to exact
// response-time analysis when the bound is not met.
func Check(tasks []Task) Result {
	res := Result{Tasks: len(tasks), Failing: -1}
	if len(tasks) == 0 {
		res.Schedulable = true
		res.Method = MethodEmpty
		return res
	}
	for i, t := range tasks {
		if t.C == 0 || t.T == 0 || t.C > t.T {
			res.Method = MethodInvalidParameters
			res.Failing = i
			res.Utilization = Utilization(tasks)
			return res
		}
	}

	res.Utilization = Utilization(tasks)
	res.Bound = Bound(len(tasks))
	if res.Utilization <= res.Bound {
		res.Schedulable = true
		res.Method = MethodUtilizationBound
		return res
	}

	res.Method = MethodResponseTime
	res.ResponseTimes, res.Failing = ResponseTimes(tasks)
	res.Schedulable = res.Failing < 0
	return res
}

// ResponseTimes computes each task's worst-case response time by iterating
// Rᵢ = Cᵢ + Σ ⌈Rᵢ/Tⱼ⌉·Cⱼ over every task j at equal or higher priority.
// It returns the times in input order and the index of the first task
// (in priority order) whose response time exceeds its period, or -1.
func ResponseTimes(tasks []Task) ([]uint64, int) {
	order := make([]int, len(tasks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return tasks[order[a]].Priority < tasks[order[b]].Priority
	})

	times := make([]uint64, len(tasks))
	failing := -1
	for rank, i := range order {
		ti := tasks[i]
		r := uint64(ti.C)
		for {
			demand := uint64(ti.C)
			for _, j := range order[:rank] {
				tj := tasks[j]
				demand += ceilDiv(r, uint64(tj.T)) * uint64(tj.C)
			}
			// equal priorities interfere with each other as well
			for _, j := range order[rank+1:] {
				if tasks[j].Priority != ti.Priority {
					break
				}
				demand += ceilDiv(r, uint64(tasks[j].T)) * uint64(tasks[j].C)
			}
			if demand == r || demand > uint64(ti.T) {
				r = demand
				break
			}
			r = demand
		}
		times[i] = r
		if r > uint64(ti.T) && failing < 0 {
			failing = i
		}
	}
	return times, failing
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}

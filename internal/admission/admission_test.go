package admission

import (
	"math"
	"testing"
)

func TestBound(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 0},
		{1, 1.0},
		{2, 0.8284},
		{3, 0.7798},
		{4, 0.7568},
		{10, 0.7177},
		{30, 0.7012},
	}
	for _, tt := range tests {
		if got := Bound(tt.n); math.Abs(got-tt.want) > 1e-4 {
			t.Errorf("Bound(%d) = %.5f, want %.4f", tt.n, got, tt.want)
		}
	}
	if got := Bound(1000); got < math.Ln2 || got > math.Ln2+1e-3 {
		t.Errorf("Bound(1000) = %f, want close to ln 2", got)
	}
}

func TestUtilization(t *testing.T) {
	tasks := []Task{{0, 50, 1000}, {1, 50, 2000}, {2, 50, 3000}}
	want := 0.05 + 0.025 + 50.0/3000
	if got := Utilization(tasks); math.Abs(got-want) > 1e-12 {
		t.Errorf("Utilization = %f, want %f", got, want)
	}
	if got := Utilization([]Task{{0, 1, 0}}); !math.IsInf(got, 1) {
		t.Errorf("Utilization with T=0 = %f, want +Inf", got)
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		tasks  []Task
		ok     bool
		method Method
	}{
		{"empty", nil, true, MethodEmpty},
		{"three light tasks", []Task{{0, 50, 1000}, {1, 50, 2000}, {2, 50, 3000}}, true, MethodUtilizationBound},
		{"single full task", []Task{{0, 10, 10}}, true, MethodUtilizationBound},
		{"mixed periods under bound", []Task{{0, 40, 410}, {1, 300, 800}, {2, 350, 1200}}, true, MethodUtilizationBound},
		{"fourteen tasks", fourteen(), true, MethodUtilizationBound},
		{"harmonic over bound", []Task{{0, 1, 2}, {1, 2, 4}}, true, MethodResponseTime},
		{"harmonic full load", []Task{{0, 25, 100}, {1, 50, 200}, {2, 100, 400}, {3, 200, 800}}, true, MethodResponseTime},
		{"over bound and late", []Task{{0, 2, 4}, {1, 3, 6}}, false, MethodResponseTime},
		{"overloaded", []Task{{0, 60, 100}, {1, 50, 100}}, false, MethodResponseTime},
		{"C above T", []Task{{0, 11, 10}}, false, MethodInvalidParameters},
		{"zero period", []Task{{0, 1, 0}}, false, MethodInvalidParameters},
		{"zero computation", []Task{{0, 0, 10}}, false, MethodInvalidParameters},
	}
	for _, tt := range tests {
		res := Check(tt.tasks)
		if res.Schedulable != tt.ok {
			t.Errorf("%s: Schedulable = %v, want %v (U=%.4f bound=%.4f)", tt.name, res.Schedulable, tt.ok, res.Utilization, res.Bound)
		}
		if res.Method != tt.method {
			t.Errorf("%s: Method = %q, want %q", tt.name, res.Method, tt.method)
		}
	}
}

func fourteen() []Task {
	tasks := make([]Task, 14)
	for i := range tasks {
		tasks[i] = Task{Priority: uint32(i), C: 100, T: 7000}
	}
	return tasks
}

func TestResponseTimes(t *testing.T) {
	tasks := []Task{{0, 1, 2}, {1, 2, 4}}
	times, failing := ResponseTimes(tasks)
	if failing != -1 {
		t.Errorf("failing = %d, want -1", failing)
	}
	if times[0] != 1 || times[1] != 4 {
		t.Errorf("times = %v, want [1 4]", times)
	}
}

func TestResponseTimes_InputOrderPreserved(t *testing.T) {
	// Listed lowest priority first; results must still line up with input.
	tasks := []Task{{2, 3, 20}, {0, 1, 5}, {1, 2, 10}}
	times, failing := ResponseTimes(tasks)
	if failing != -1 {
		t.Fatalf("failing = %d, want -1", failing)
	}
	// R(p0) = 1; R(p1) = 2 + 1 = 3; R(p2) = 3 + ⌈7/5⌉·1 + ⌈7/10⌉·2 = 7
	want := []uint64{7, 1, 3}
	for i := range want {
		if times[i] != want[i] {
			t.Errorf("times[%d] = %d, want %d", i, times[i], want[i])
		}
	}
}

func TestResponseTimes_ReportsFirstFailure(t *testing.T) {
	tasks := []Task{{1, 3, 6}, {0, 2, 4}}
	_, failing := ResponseTimes(tasks)
	if failing != 0 {
		t.Errorf("failing = %d, want 0 (the priority-1 task)", failing)
	}
}

func TestCheck_RejectsWhenCandidateBreaksSet(t *testing.T) {
	admitted := []Task{{0, 50, 100}, {1, 20, 100}}
	if res := Check(admitted); !res.Schedulable {
		t.Fatalf("base set rejected: %+v", res)
	}
	candidate := append(admitted, Task{Priority: 2, C: 40, T: 100})
	res := Check(candidate)
	if res.Schedulable {
		t.Fatalf("candidate set accepted: %+v", res)
	}
	if res.Failing != 2 {
		t.Errorf("Failing = %d, want 2", res.Failing)
	}
}

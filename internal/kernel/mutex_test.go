package kernel

import (
	"errors"
	"testing"

	"github.com/me/rtk/pkg/model"
)

func TestMutexInit_Capacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMutexes = 1
	h := newHarness(t, cfg)

	m, err := h.k.MutexInit(0)
	if err != nil || m != 0 {
		t.Fatalf("MutexInit = %d, %v", m, err)
	}
	if _, err := h.k.MutexInit(0); !errors.Is(err, model.ErrCapacity) {
		t.Errorf("second MutexInit = %v, want CAPACITY_EXHAUSTED", err)
	}
}

func TestMutex_Errors(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	m, _ := h.k.MutexInit(0)
	h.create(t, 0, 1, 10)

	if err := h.k.MutexLock(m); !errors.Is(err, model.ErrState) {
		t.Errorf("lock before start = %v, want INVALID_STATE", err)
	}
	h.start(t)

	if err := h.k.MutexLock(7); !errors.Is(err, model.ErrArgument) {
		t.Errorf("lock of bad handle = %v, want INVALID_ARGUMENT", err)
	}
	if err := h.k.MutexUnlock(m); !errors.Is(err, model.ErrState) {
		t.Errorf("unlock of free mutex = %v, want INVALID_STATE", err)
	}
	if err := h.k.MutexLock(m); err != nil {
		t.Fatalf("MutexLock: %v", err)
	}
	if err := h.k.MutexLock(m); !errors.Is(err, model.ErrState) {
		t.Errorf("recursive lock = %v, want INVALID_STATE", err)
	}
	if err := h.k.MutexUnlock(m); err != nil {
		t.Fatalf("MutexUnlock: %v", err)
	}

	h.k.WaitUntilNextPeriod()
	if err := h.k.MutexLock(m); !errors.Is(err, model.ErrState) {
		t.Errorf("lock from idle = %v, want INVALID_STATE", err)
	}
}

func TestMutex_CeilingRaisesEffectivePriority(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	a, _ := h.k.MutexInit(1)
	b, _ := h.k.MutexInit(0)
	h.create(t, 2, 1, 10)
	h.start(t)

	steps := []struct {
		op   func(MutexID) error
		m    MutexID
		want uint32
	}{
		{h.k.MutexLock, a, 1},
		{h.k.MutexLock, b, 0},
		{h.k.MutexUnlock, a, 0}, // release out of order
		{h.k.MutexUnlock, b, 2},
	}
	for i, st := range steps {
		if err := st.op(st.m); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := h.k.GetPriority(); got != st.want {
			t.Errorf("step %d: priority = %d, want %d", i, got, st.want)
		}
	}
	info, _ := h.k.Task(2)
	if info.Priority != 2 || len(info.Held) != 0 {
		t.Errorf("task = %+v", info)
	}
}

func TestMutex_CeilingPreventsPreemption(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	m, _ := h.k.MutexInit(0) // p0 and p2
	h.create(t, 0, 2, 20)
	h.create(t, 1, 2, 20)
	h.create(t, 2, 4, 20)
	h.start(t)

	h.k.WaitUntilNextPeriod() // p0
	h.k.WaitUntilNextPeriod() // p1
	if err := h.k.MutexLock(m); err != nil {
		t.Fatalf("MutexLock: %v", err)
	}

	// p0 and p1 are released but neither outranks the ceiling
	h.ticks(20)
	if h.k.Current() != 2 {
		t.Fatalf("current = %d while holding the ceiling, want 2", h.k.Current())
	}
	if h.state(0) != model.TaskStateReady || h.state(1) != model.TaskStateReady {
		t.Errorf("states = %s, %s", h.state(0), h.state(1))
	}

	if err := h.k.MutexUnlock(m); err != nil {
		t.Fatalf("MutexUnlock: %v", err)
	}
	if h.k.Current() != 0 {
		t.Errorf("current = %d after unlock, want 0", h.k.Current())
	}
	if h.rec.count(model.EventBlock) != 0 {
		t.Errorf("block events = %d, want 0", h.rec.count(model.EventBlock))
	}
}

func TestMutex_BlockAndInherit(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	m, _ := h.k.MutexInit(2) // ceiling set too low for p0
	h.create(t, 0, 2, 20)
	h.create(t, 1, 2, 20)
	h.create(t, 2, 4, 20)
	h.start(t)

	h.k.WaitUntilNextPeriod() // p0
	h.k.WaitUntilNextPeriod() // p1
	if h.k.Current() != 2 {
		t.Fatalf("current = %d, want 2", h.k.Current())
	}
	if err := h.k.MutexLock(m); err != nil {
		t.Fatalf("MutexLock: %v", err)
	}

	h.ticks(20) // p0 and p1 released, p0 preempts
	if h.k.Current() != 0 {
		t.Fatalf("current = %d, want 0", h.k.Current())
	}
	if err := h.k.MutexLock(m); err != nil {
		t.Fatalf("MutexLock: %v", err)
	}

	// p0 blocks, p2 inherits priority 0 and runs ahead of p1
	if h.state(0) != model.TaskStateBlockedOnMutex {
		t.Errorf("p0 state = %s, want BLOCKED_ON_MUTEX", h.state(0))
	}
	if h.k.Current() != 2 || h.k.GetPriority() != 0 {
		t.Errorf("current = %d priority = %d, want 2 at 0", h.k.Current(), h.k.GetPriority())
	}
	if h.state(1) != model.TaskStateReady {
		t.Errorf("p1 state = %s, want READY", h.state(1))
	}
	if mu := h.k.Mutexes()[m]; mu.Owner != 2 || len(mu.Waiters) != 1 || mu.Waiters[0] != 0 {
		t.Errorf("mutex = %+v", mu)
	}

	if err := h.k.MutexUnlock(m); err != nil {
		t.Fatalf("MutexUnlock: %v", err)
	}
	if h.k.Current() != 0 {
		t.Errorf("current = %d after unlock, want 0", h.k.Current())
	}
	p0, _ := h.k.Task(0)
	p2, _ := h.k.Task(2)
	if len(p0.Held) != 1 || p0.Held[0] != m || p0.WaitingOn != NoMutex {
		t.Errorf("p0 held = %v waiting = %d", p0.Held, p0.WaitingOn)
	}
	if p2.Effective != 2 {
		t.Errorf("p2 effective = %d, want 2", p2.Effective)
	}
	if h.rec.count(model.EventBlock) != 1 || h.rec.count(model.EventAcquire) != 2 {
		t.Errorf("block events = %d, acquire events = %d", h.rec.count(model.EventBlock), h.rec.count(model.EventAcquire))
	}
}

func TestMutex_CeilingBlocksFreeMutex(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	shared, _ := h.k.MutexInit(1) // p1 and p2
	own, _ := h.k.MutexInit(1)    // p1 only
	h.create(t, 1, 2, 20)
	h.create(t, 2, 4, 20)
	h.start(t)

	h.k.WaitUntilNextPeriod() // p1
	if err := h.k.MutexLock(shared); err != nil {
		t.Fatalf("MutexLock: %v", err)
	}
	h.k.WaitUntilNextPeriod() // p2 sleeps holding shared

	// both released at tick 20 at priority 1; p1 arrives first
	h.ticks(20)
	if h.k.Current() != 1 {
		t.Fatalf("current = %d, want 1", h.k.Current())
	}
	if err := h.k.MutexLock(own); err != nil {
		t.Fatalf("MutexLock: %v", err)
	}
	if h.state(1) != model.TaskStateBlockedOnMutex {
		t.Fatalf("p1 state = %s, want blocked by ceiling", h.state(1))
	}
	if mu := h.k.Mutexes()[own]; mu.Owner != NoTask {
		t.Errorf("free mutex owner = %d", mu.Owner)
	}
	if h.k.Current() != 2 || h.k.GetPriority() != 1 {
		t.Errorf("current = %d priority = %d, want 2 at 1", h.k.Current(), h.k.GetPriority())
	}

	if err := h.k.MutexUnlock(shared); err != nil {
		t.Fatalf("MutexUnlock: %v", err)
	}
	if h.k.Current() != 1 {
		t.Errorf("current = %d, want 1", h.k.Current())
	}
	if mu := h.k.Mutexes()[own]; mu.Owner != 1 || len(mu.Waiters) != 0 {
		t.Errorf("mutex = %+v", mu)
	}
	p2, _ := h.k.Task(2)
	if p2.Effective != 2 {
		t.Errorf("p2 effective = %d, want 2", p2.Effective)
	}
}

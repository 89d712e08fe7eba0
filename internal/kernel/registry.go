package kernel

import (
	"fmt"

	"github.com/me/rtk/internal/admission"
	"github.com/me/rtk/pkg/model"
)

// TaskParams describes a task to create.
type TaskParams struct {
	Entry    any
	Arg      any
	Priority uint32
	C        uint32
	T        uint32
}

// tcb is one slot of the task table.
type tcb struct {
	id        TaskID
	entry     any
	arg       any
	priority  uint32 // static
	effective uint32
	c, t      uint32
	state     model.TaskState

	firstRelease uint64
	nextRelease  uint64

	held      []MutexID // acquisition order
	waitingOn MutexID

	stackBase uint32
	stackLog2 uint8

	arrival  uint64 // FIFO stamp among equal priorities
	used     uint64 // ticks consumed by the current job
	jobs     uint64
	overruns uint64
}

// TaskInfo is a read-only snapshot of a task slot.
type TaskInfo struct {
	ID           TaskID          `json:"id"`
	Priority     uint32          `json:"priority"`
	Effective    uint32          `json:"effective"`
	C            uint32          `json:"c"`
	T            uint32          `json:"t"`
	State        model.TaskState `json:"state"`
	FirstRelease uint64          `json:"first_release"`
	NextRelease  uint64          `json:"next_release"`
	Held         []MutexID       `json:"held,omitempty"`
	WaitingOn    MutexID         `json:"waiting_on"`
	StackBase    uint32          `json:"stack_base"`
	StackLog2    uint8           `json:"stack_log2"`
	Jobs         uint64          `json:"jobs"`
	Overruns     uint64          `json:"overruns"`
	Entry        any             `json:"-"`
	Arg          any             `json:"-"`
}

// ThreadCreate admits a periodic task into the slot named by its priority.
// Creation fails without any state change when the priority has no slot,
// the slot is occupied, or the task set including the candidate would not
// be schedulable. When called after Start, the new task's first release is
// the current tick and a more urgent task preempts its creator.
func (k *Kernel) ThreadCreate(p TaskParams) (TaskID, error) {
	if err := k.ready(); err != nil {
		return NoTask, err
	}
	if p.Priority >= k.cfg.MaxTasks {
		err := model.NewKernelError(model.ErrCapacityExhausted,
			"priority %d outside task table of %d slots", p.Priority, k.cfg.MaxTasks)
		k.reject(NoTask, err)
		return NoTask, err
	}
	slot := &k.tasks[p.Priority]
	if !slot.state.IsFree() {
		err := model.NewKernelError(model.ErrCapacityExhausted, "slot %d is occupied", p.Priority)
		k.reject(slot.id, err)
		return NoTask, err
	}

	set := k.admittedSet()
	set = append(set, admission.Task{Priority: p.Priority, C: p.C, T: p.T})
	if res := admission.Check(set); !res.Schedulable {
		err := model.NewKernelError(model.ErrAdmissionRejected,
			"task (C=%d, T=%d) at priority %d: %s test failed, U=%.4f bound=%.4f",
			p.C, p.T, p.Priority, res.Method, res.Utilization, res.Bound)
		k.reject(slot.id, err)
		return NoTask, err
	}

	if !k.transition(slot, model.TaskStateReady) {
		return NoTask, k.halted
	}
	slot.entry = p.Entry
	slot.arg = p.Arg
	slot.priority = p.Priority
	slot.effective = p.Priority
	slot.c = p.C
	slot.t = p.T
	slot.held = nil
	slot.waitingOn = NoMutex
	slot.used = 0
	slot.jobs = 0
	slot.overruns = 0
	slot.arrival = k.nextSeq()
	if k.started {
		slot.firstRelease = k.ticks
		slot.nextRelease = k.ticks + uint64(p.T)
	}

	k.logger.Debug("task created", "task", slot.id, "c", p.C, "t", p.T)
	k.emit(model.Event{
		Kind:   model.EventCreate,
		Task:   int(slot.id),
		Mutex:  int(NoMutex),
		Detail: fmt.Sprintf("C=%d T=%d", p.C, p.T),
		C:      p.C,
		T:      p.T,
	})
	k.reschedule()
	return slot.id, nil
}

func (k *Kernel) reject(id TaskID, err error) {
	k.logger.Warn("task creation rejected", "error", err)
	k.trace(model.EventReject, id, NoMutex, err.Error())
}

// admittedSet returns the timing parameters of every live user task.
func (k *Kernel) admittedSet() []admission.Task {
	var set []admission.Task
	for i := 0; i < int(k.cfg.MaxTasks); i++ {
		t := &k.tasks[i]
		if t.state.IsLive() {
			set = append(set, admission.Task{Priority: t.priority, C: t.c, T: t.t})
		}
	}
	return set
}

// Task returns a snapshot of slot id.
func (k *Kernel) Task(id TaskID) (TaskInfo, bool) {
	if id < 0 || int(id) >= len(k.tasks) {
		return TaskInfo{}, false
	}
	t := &k.tasks[id]
	return TaskInfo{
		ID:           t.id,
		Priority:     t.priority,
		Effective:    t.effective,
		C:            t.c,
		T:            t.t,
		State:        t.state,
		FirstRelease: t.firstRelease,
		NextRelease:  t.nextRelease,
		Held:         append([]MutexID(nil), t.held...),
		WaitingOn:    t.waitingOn,
		StackBase:    t.stackBase,
		StackLog2:    t.stackLog2,
		Jobs:         t.jobs,
		Overruns:     t.overruns,
		Entry:        t.entry,
		Arg:          t.arg,
	}, true
}

// Tasks returns snapshots of every slot, user slots first, then idle and main.
func (k *Kernel) Tasks() []TaskInfo {
	out := make([]TaskInfo, 0, len(k.tasks))
	for i := range k.tasks {
		info, _ := k.Task(TaskID(i))
		out = append(out, info)
	}
	return out
}

func (k *Kernel) liveUserTasks() int {
	n := 0
	for i := 0; i < int(k.cfg.MaxTasks); i++ {
		if k.tasks[i].state.IsLive() {
			n++
		}
	}
	return n
}

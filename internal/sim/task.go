package sim

import (
	"fmt"
	"runtime"

	"github.com/me/rtk/internal/kernel"
	"github.com/me/rtk/internal/mpu"
)

// result is what a trap hands back to the task that raised it.
type result struct {
	val  uint64
	id   int
	err  error
	dead bool
}

// Task is the user-mode view of one running task. Its methods are the
// system calls and must only be called from the task's own body.
type Task struct {
	m    *Machine
	id   kernel.TaskID
	name string
	body Body
	arg  any

	resume  chan result
	pending result
}

// ID returns the task's slot.
func (t *Task) ID() kernel.TaskID {
	return t.id
}

// Name returns the name the task was created with.
func (t *Task) Name() string {
	return t.name
}

// Arg returns the argument the task was created with.
func (t *Task) Arg() any {
	return t.arg
}

func (t *Task) run() {
	defer t.m.wg.Done()
	t.park()
	t.body(t)
	t.syscall(func(k *kernel.Kernel) result {
		k.ThreadExit()
		return result{}
	})
}

// park waits for the permit to run. A dead permit or machine shutdown ends
// the goroutine.
func (t *Task) park() result {
	select {
	case r := <-t.resume:
		if r.dead {
			runtime.Goexit()
		}
		return r
	case <-t.m.done:
		runtime.Goexit()
	}
	panic("unreachable")
}

// syscall traps into the kernel and parks until this task is current again.
func (t *Task) syscall(fn func(k *kernel.Kernel) result) result {
	select {
	case t.m.traps <- trap{task: t, fn: fn}:
	case <-t.m.done:
		runtime.Goexit()
	}
	return t.park()
}

// Compute burns n ticks of CPU time. The task may be preempted between any
// two ticks.
func (t *Task) Compute(n uint64) {
	for i := uint64(0); i < n; i++ {
		t.syscall(func(k *kernel.Kernel) result {
			t.m.tick(k)
			return result{}
		})
	}
}

// waitForInterrupt sleeps until the next tick.
func (t *Task) waitForInterrupt() {
	t.syscall(func(k *kernel.Kernel) result {
		t.m.tick(k)
		return result{}
	})
}

// WaitUntilNextPeriod ends the current job.
func (t *Task) WaitUntilNextPeriod() {
	t.syscall(func(k *kernel.Kernel) result {
		k.WaitUntilNextPeriod()
		return result{}
	})
}

// Time returns ticks since the scheduler started.
func (t *Task) Time() uint64 {
	return t.syscall(func(k *kernel.Kernel) result {
		return result{val: k.GetTime()}
	}).val
}

// ThreadTime returns ticks since this task's first release.
func (t *Task) ThreadTime() uint64 {
	return t.syscall(func(k *kernel.Kernel) result {
		return result{val: k.ThreadTime()}
	}).val
}

// Priority returns this task's effective priority.
func (t *Task) Priority() uint32 {
	return uint32(t.syscall(func(k *kernel.Kernel) result {
		return result{val: uint64(k.GetPriority())}
	}).val)
}

// MutexInit allocates a mutex.
func (t *Task) MutexInit(ceiling uint32) (kernel.MutexID, error) {
	r := t.syscall(func(k *kernel.Kernel) result {
		id, err := k.MutexInit(ceiling)
		return result{id: int(id), err: err}
	})
	return kernel.MutexID(r.id), r.err
}

// Lock acquires m, blocking while the ceiling protocol forbids it.
func (t *Task) Lock(m kernel.MutexID) error {
	return t.syscall(func(k *kernel.Kernel) result {
		return result{err: k.MutexLock(m)}
	}).err
}

// Unlock releases m.
func (t *Task) Unlock(m kernel.MutexID) error {
	return t.syscall(func(k *kernel.Kernel) result {
		return result{err: k.MutexUnlock(m)}
	}).err
}

// Create spawns another task.
func (t *Task) Create(spec TaskSpec) (kernel.TaskID, error) {
	r := t.syscall(func(k *kernel.Kernel) result {
		id, err := t.m.create(spec)
		return result{id: int(id), err: err}
	})
	return kernel.TaskID(r.id), r.err
}

// Kill terminates this task. It does not return.
func (t *Task) Kill() {
	t.syscall(func(k *kernel.Kernel) result {
		k.ThreadKill()
		return result{}
	})
	runtime.Goexit()
}

// Printf writes a line to the console.
func (t *Task) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.syscall(func(k *kernel.Kernel) result {
		t.m.print(t.id, msg)
		return result{}
	})
}

// Fault raises a memory management fault with the given status and
// faulting address, as if the last instruction had been denied.
func (t *Task) Fault(status, addr uint32) {
	t.syscall(func(k *kernel.Kernel) result {
		t.m.regs.Raise(status, addr)
		k.MemManage()
		return result{}
	})
}

// Touch accesses addr. A denied access raises a data access violation, so
// Touch returns only when the access is allowed.
func (t *Task) Touch(addr uint32, write bool) {
	t.syscall(func(k *kernel.Kernel) result {
		if !k.Accessible(addr, write, false) {
			t.m.regs.Raise(mpu.DACCVIOL|mpu.MMARVALID, addr)
			k.MemManage()
		}
		return result{}
	})
}

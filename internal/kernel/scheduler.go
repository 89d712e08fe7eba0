package kernel

import (
	"fmt"

	"github.com/me/rtk/pkg/model"
)

// Start programs the tick at hz, releases every created task at tick 0 and
// switches away from main. Main stays parked until every user task has
// exited; the platform resumes it at that point.
func (k *Kernel) Start(hz uint32) error {
	if err := k.ready(); err != nil {
		return err
	}
	if k.started {
		return model.NewKernelError(model.ErrInvalidState, "scheduler already started")
	}
	if hz == 0 {
		return model.NewKernelError(model.ErrInvalidArgument, "tick frequency must be positive")
	}
	if k.current != k.MainTask() {
		return model.NewKernelError(model.ErrInvalidState, "start must be called by the main task")
	}
	if err := k.port.StartTimer(hz); err != nil {
		return fmt.Errorf("starting tick timer: %w", err)
	}

	k.started = true
	k.hz = hz
	for i := 0; i < int(k.cfg.MaxTasks); i++ {
		t := &k.tasks[i]
		if t.state.IsLive() {
			t.firstRelease = k.ticks
			t.nextRelease = k.ticks + uint64(t.t)
		}
	}

	main := &k.tasks[k.MainTask()]
	if !k.transition(main, model.TaskStateWaitingForPeriod) {
		return k.halted
	}
	k.logger.Info("scheduler started", "hz", hz, "tasks", k.liveUserTasks())
	k.trace(model.EventStart, k.MainTask(), NoMutex, fmt.Sprintf("%d Hz", hz))
	k.resumeMainIfDone()
	k.reschedule()
	return nil
}

// Hz returns the tick frequency passed to Start.
func (k *Kernel) Hz() uint32 {
	return k.hz
}

// Tick is the periodic timer handler. It charges one tick to the running
// task, advances time, releases every task whose period boundary is now,
// and reschedules.
func (k *Kernel) Tick() {
	if !k.started || k.halted != nil {
		return
	}
	k.tasks[k.current].used++
	k.ticks++

	for i := 0; i < int(k.cfg.MaxTasks); i++ {
		t := &k.tasks[i]
		if !t.state.IsLive() || t.nextRelease != k.ticks {
			continue
		}
		t.nextRelease += uint64(t.t)
		if t.state != model.TaskStateWaitingForPeriod {
			// the job is still running at its deadline
			t.overruns++
			k.logger.Debug("deadline overrun", "task", t.id, "tick", k.ticks)
			continue
		}
		if !k.transition(t, model.TaskStateReady) {
			return
		}
		t.used = 0
		t.arrival = k.nextSeq()
		k.trace(model.EventRelease, t.id, NoMutex, "")
	}
	k.reschedule()
}

// WaitUntilNextPeriod ends the running task's current job. The task sleeps
// until its next release; a task that overran its deadline waits for the
// release after the one it missed. Idle and main have no period and return
// at once.
func (k *Kernel) WaitUntilNextPeriod() {
	if !k.started || k.halted != nil {
		return
	}
	t := &k.tasks[k.current]
	if int(t.id) >= int(k.cfg.MaxTasks) {
		k.logger.Warn("wait until next period from a task without period", "task", t.id)
		return
	}
	if !k.transition(t, model.TaskStateWaitingForPeriod) {
		return
	}
	t.jobs++
	k.trace(model.EventWait, t.id, NoMutex, "")
	k.reschedule()
}

// GetTime returns ticks since Start.
func (k *Kernel) GetTime() uint64 {
	return k.ticks
}

// ThreadTime returns ticks since the running task's first release.
func (k *Kernel) ThreadTime() uint64 {
	if k.current == NoTask {
		return 0
	}
	t := &k.tasks[k.current]
	if int(t.id) >= int(k.cfg.MaxTasks) {
		return k.ticks
	}
	return k.ticks - t.firstRelease
}

// GetPriority returns the running task's effective priority.
func (k *Kernel) GetPriority() uint32 {
	if k.current == NoTask {
		return 0
	}
	return k.tasks[k.current].effective
}

// ThreadKill terminates the running task. Killing main or idle, or a task
// that still holds a mutex, halts the kernel.
func (k *Kernel) ThreadKill() {
	k.terminate(k.current, model.EventKill, "thread kill")
}

// ThreadExit is the path taken when a task's entry returns; it is ThreadKill
// under another name in the trace.
func (k *Kernel) ThreadExit() {
	k.terminate(k.current, model.EventExit, "entry returned")
}

func (k *Kernel) terminate(id TaskID, kind model.EventKind, cause string) {
	if k.halted != nil || id == NoTask {
		return
	}
	if id == k.MainTask() || id == k.IdleTask() {
		k.halt(model.ErrIntegrity, id, fmt.Sprintf("%s: %s task cannot terminate", cause, k.taskName(id)))
		return
	}
	t := &k.tasks[id]
	if len(t.held) > 0 {
		k.halt(model.ErrIntegrity, id, fmt.Sprintf("%s while holding mutexes %v", cause, t.held))
		return
	}
	if !k.transition(t, model.TaskStateZombie) {
		return
	}
	t.waitingOn = NoMutex
	if k.cfg.Protection == model.ProtectionPerTask && id == k.current {
		k.mpu.Disable(regionStack)
	}
	k.logger.Debug("task terminated", "task", id, "cause", cause)
	k.trace(kind, id, NoMutex, cause)
	k.resumeMainIfDone()
	k.reschedule()
}

func (k *Kernel) taskName(id TaskID) string {
	switch id {
	case k.MainTask():
		return "main"
	case k.IdleTask():
		return "idle"
	}
	return fmt.Sprintf("task %d", id)
}

// resumeMainIfDone makes main selectable once no user task is live.
func (k *Kernel) resumeMainIfDone() {
	if !k.started || k.liveUserTasks() > 0 {
		return
	}
	main := &k.tasks[k.MainTask()]
	if main.state != model.TaskStateWaitingForPeriod {
		return
	}
	if k.transition(main, model.TaskStateReady) {
		main.arrival = k.nextSeq()
		k.logger.Info("all tasks exited", "tick", k.ticks)
	}
}

// selectNext returns the runnable task with the numerically lowest
// effective priority, earliest arrival first among equals. Idle is always
// runnable, so the result is never NoTask after ThreadInit.
func (k *Kernel) selectNext() TaskID {
	best := NoTask
	for i := range k.tasks {
		t := &k.tasks[i]
		if !t.state.IsRunnable() {
			continue
		}
		if best == NoTask {
			best = t.id
			continue
		}
		b := &k.tasks[best]
		if t.effective < b.effective || (t.effective == b.effective && t.arrival < b.arrival) {
			best = t.id
		}
	}
	return best
}

// reschedule switches to the most urgent runnable task if it is not the
// one running.
func (k *Kernel) reschedule() {
	if !k.started || k.halted != nil {
		return
	}
	next := k.selectNext()
	if next == NoTask {
		k.halt(model.ErrIntegrity, NoTask, "no runnable task")
		return
	}
	prev := k.current
	if next == prev {
		// main resuming after every task exited
		if p := &k.tasks[prev]; p.state == model.TaskStateReady {
			k.transition(p, model.TaskStateRunning)
		}
		return
	}
	if p := &k.tasks[prev]; p.state == model.TaskStateRunning {
		if !k.transition(p, model.TaskStateReady) {
			return
		}
	}
	n := &k.tasks[next]
	if !k.transition(n, model.TaskStateRunning) {
		return
	}
	k.current = next
	if !k.installWindow(n) {
		return
	}
	k.trace(model.EventSwitch, next, NoMutex, fmt.Sprint(prev))
	k.port.SwitchContext(prev, next)
}

// installWindow grants the incoming task access to its own stack window.
// Main runs on the boot stack, which lies in user data.
func (k *Kernel) installWindow(t *tcb) bool {
	if k.cfg.Protection != model.ProtectionPerTask {
		return true
	}
	if t.id == k.MainTask() {
		k.mpu.Disable(regionStack)
		return true
	}
	if err := k.mpu.Enable(regionStack, t.stackBase, t.stackLog2, false, true); err != nil {
		k.halt(model.ErrIntegrity, t.id, fmt.Sprintf("installing stack window: %v", err))
		return false
	}
	return true
}

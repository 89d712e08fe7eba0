// Package kernel implements the core of a single-core rate-monotonic
// real-time kernel: a fixed-size task table with priority-indexed slots,
// a preemptive fixed-priority scheduler driven by a periodic tick, mutexes
// under the priority ceiling protocol, and per-task stack protection.
//
// The kernel is a passive state machine. Every entry point runs in trap
// context: exactly one caller at a time, never concurrently with the tick.
// Machine-specific work is delegated to a Platform.
package kernel

import (
	"fmt"
	"log/slog"

	"github.com/me/rtk/internal/mpu"
	"github.com/me/rtk/pkg/model"
)

// Kernel is the task table, scheduler and mutex table of one core.
type Kernel struct {
	port   Platform
	mpu    *mpu.Manager
	tracer Tracer
	logger *slog.Logger

	cfg         Config
	initialized bool
	started     bool
	hz          uint32
	halted      *model.FatalError

	tasks   []tcb
	mutexes []mutex
	ticks   uint64
	current TaskID
	seq     uint64
}

// New creates a kernel bound to a platform and a region manager.
func New(port Platform, regions *mpu.Manager, logger *slog.Logger) *Kernel {
	return &Kernel{
		port:    port,
		mpu:     regions,
		logger:  logger.With("component", "kernel"),
		current: NoTask,
	}
}

// SetTracer installs a receiver for kernel events. nil disables tracing.
func (k *Kernel) SetTracer(t Tracer) {
	k.tracer = t
}

// ThreadInit sets up the task table, the idle and main tasks, the mutex
// table and the protection regions. It may be called again to reset the
// kernel as long as the scheduler has not been started.
func (k *Kernel) ThreadInit(cfg Config) error {
	if k.halted != nil {
		return model.NewKernelError(model.ErrInvalidState, "kernel halted")
	}
	if k.started {
		return model.NewKernelError(model.ErrInvalidState, "scheduler already started")
	}
	if cfg.Layout == (MemoryLayout{}) {
		cfg.Layout = DefaultLayout()
	}
	if err := cfg.validate(); err != nil {
		k.logger.Warn("thread init rejected", "error", err)
		return err
	}

	n := int(cfg.MaxTasks)
	winLog2 := StackWindowLog2(cfg.StackWords)
	tasks := make([]tcb, n+2)
	for i := range tasks {
		tasks[i] = tcb{
			id:        TaskID(i),
			state:     model.TaskStateEmpty,
			waitingOn: NoMutex,
		}
		if i <= n {
			tasks[i].stackBase = cfg.Layout.StackArena.Base + uint32(i)<<winLog2
			tasks[i].stackLog2 = winLog2
		}
	}

	idle := &tasks[n]
	idle.entry = cfg.Idle
	idle.priority = cfg.MaxTasks + 1
	idle.effective = idle.priority
	idle.state = model.TaskStateReady

	// main runs on the boot stack inside user data
	main := &tasks[n+1]
	main.priority = cfg.MaxTasks
	main.effective = main.priority
	main.state = model.TaskStateRunning

	k.cfg = cfg
	k.tasks = tasks
	k.mutexes = make([]mutex, 0, cfg.MaxMutexes)
	k.ticks = 0
	k.seq = 0
	k.current = TaskID(n + 1)

	if err := k.programRegions(); err != nil {
		return err
	}
	k.initialized = true
	k.logger.Info("thread init",
		"max_tasks", cfg.MaxTasks,
		"stack_words", cfg.StackWords,
		"window_log2", winLog2,
		"protection", cfg.Protection,
		"max_mutexes", cfg.MaxMutexes,
	)
	return nil
}

func (k *Kernel) programRegions() error {
	l := k.cfg.Layout
	if err := k.mpu.Enable(regionUserCode, l.UserCode.Base, l.UserCode.SizeLog2, true, false); err != nil {
		return err
	}
	if err := k.mpu.Enable(regionUserData, l.UserData.Base, l.UserData.SizeLog2, false, true); err != nil {
		return err
	}
	if k.cfg.Protection == model.ProtectionKernelOnly {
		if err := k.mpu.Enable(regionStack, l.StackArena.Base, l.StackArena.SizeLog2, false, true); err != nil {
			return err
		}
	} else {
		k.mpu.Disable(regionStack)
	}
	k.mpu.EnableProtection()
	return nil
}

// ready reports whether the kernel accepts calls.
func (k *Kernel) ready() error {
	if k.halted != nil {
		return model.NewKernelError(model.ErrInvalidState, "kernel halted")
	}
	if !k.initialized {
		return model.NewKernelError(model.ErrInvalidState, "thread init has not run")
	}
	return nil
}

// transition moves t to next, halting the kernel on an illegal edge.
func (k *Kernel) transition(t *tcb, next model.TaskState) bool {
	if !t.state.CanTransitionTo(next) {
		k.halt(model.ErrIntegrity, t.id, fmt.Sprintf("illegal task state transition %s -> %s", t.state, next))
		return false
	}
	t.state = next
	return true
}

func (k *Kernel) nextSeq() uint64 {
	k.seq++
	return k.seq
}

// halt records the first fatal condition and hands it to the platform.
func (k *Kernel) halt(code model.ErrorCode, task TaskID, reason string) {
	if k.halted != nil {
		return
	}
	k.halted = &model.FatalError{Code: code, Task: int(task), Reason: reason}
	k.logger.Error("kernel halted", "code", code, "task", task, "reason", reason)
	k.trace(model.EventHalt, task, NoMutex, k.halted.Error())
	k.port.Halt(k.halted)
}

func (k *Kernel) trace(kind model.EventKind, task TaskID, m MutexID, detail string) {
	k.emit(model.Event{Kind: kind, Task: int(task), Mutex: int(m), Detail: detail})
}

func (k *Kernel) emit(ev model.Event) {
	if k.tracer == nil {
		return
	}
	ev.Tick = k.ticks
	k.tracer.TraceEvent(ev)
}

// IdleTask returns the idle task's slot.
func (k *Kernel) IdleTask() TaskID {
	return TaskID(k.cfg.MaxTasks)
}

// MainTask returns the slot of the task that called ThreadInit.
func (k *Kernel) MainTask() TaskID {
	return TaskID(k.cfg.MaxTasks + 1)
}

// Config returns the configuration passed to ThreadInit.
func (k *Kernel) Config() Config {
	return k.cfg
}

// Current returns the running task.
func (k *Kernel) Current() TaskID {
	return k.current
}

// Started reports whether Start has run.
func (k *Kernel) Started() bool {
	return k.started
}

// Halted returns the fatal condition that stopped the kernel, or nil.
func (k *Kernel) Halted() *model.FatalError {
	return k.halted
}

// Done reports whether every user task has exited after Start, which is when
// the main task resumes.
func (k *Kernel) Done() bool {
	return k.started && k.liveUserTasks() == 0
}

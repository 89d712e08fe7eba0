// Package sim runs the kernel on a workstation. Every task body runs on its
// own goroutine, but only the task the kernel names as current ever holds
// the permit to execute; all kernel calls are carried to a single machine
// goroutine as traps, so the kernel sees exactly the one-caller-at-a-time
// discipline of a single-core trap handler.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/me/rtk/internal/kernel"
	"github.com/me/rtk/internal/logging"
	"github.com/me/rtk/internal/mpu"
	"github.com/me/rtk/pkg/model"
)

// ErrTickLimit is returned by Run when the configured tick budget is spent
// before every task exited.
var ErrTickLimit = errors.New("tick limit reached")

// Body is the code of a task. It must reach the kernel only through t.
type Body func(t *Task)

// Config holds the machine configuration.
type Config struct {
	Kernel kernel.Config
	// Hz is the tick frequency passed to Start.
	Hz uint32
	// MaxTicks stops the run with ErrTickLimit; 0 means no limit.
	MaxTicks uint64
	// Realtime paces ticks at Hz against the wall clock.
	Realtime bool
	// Idle replaces the default wait-for-interrupt idle body.
	Idle Body
}

// DefaultConfig returns a configuration with a 1 kHz tick and a budget of
// one simulated minute.
func DefaultConfig() Config {
	return Config{
		Kernel:   kernel.DefaultConfig(),
		Hz:       1000,
		MaxTicks: 60_000,
	}
}

// TaskSpec describes a task to create.
type TaskSpec struct {
	Name     string
	Priority uint32
	C        uint32
	T        uint32
	Body     Body
	Arg      any
}

// Machine owns a kernel, its register file and the task goroutines.
type Machine struct {
	cfg     Config
	logger  *slog.Logger
	regs    *mpu.RegisterFile
	regions *mpu.Manager
	kernel  *kernel.Kernel
	trace   *Recorder
	console io.Writer

	threads map[kernel.TaskID]*Task
	names   map[kernel.TaskID]string
	traps   chan trap
	done    chan struct{}
	wg      sync.WaitGroup

	running  bool
	epoch    time.Time
	switches uint64
}

type trap struct {
	task *Task
	fn   func(k *kernel.Kernel) result
}

// NewMachine builds a machine and runs ThreadInit with cfg.Kernel. The
// caller plays the main task until Run.
func NewMachine(cfg Config, logger *slog.Logger) (*Machine, error) {
	if cfg.Hz == 0 {
		return nil, model.NewKernelError(model.ErrInvalidArgument, "tick frequency must be positive")
	}
	m := &Machine{
		cfg:     cfg,
		logger:  logger.With("component", "sim"),
		regs:    mpu.NewRegisterFile(),
		trace:   NewRecorder(),
		console: io.Discard,
		threads: make(map[kernel.TaskID]*Task),
		names:   make(map[kernel.TaskID]string),
		traps:   make(chan trap),
		done:    make(chan struct{}),
	}
	m.regions = mpu.NewManager(m.regs, logger)
	m.kernel = kernel.New(m, m.regions, logger)
	m.kernel.SetTracer(m.trace)

	idle := defaultIdle
	kcfg := cfg.Kernel
	kcfg.Idle = nil
	if cfg.Idle != nil {
		idle = cfg.Idle
		kcfg.Idle = cfg.Idle
	}
	if err := m.kernel.ThreadInit(kcfg); err != nil {
		return nil, err
	}
	m.spawn(m.kernel.IdleTask(), "idle", idle, nil)
	m.names[m.kernel.MainTask()] = "main"
	return m, nil
}

func defaultIdle(t *Task) {
	for {
		t.waitForInterrupt()
	}
}

// SetConsole directs task output to w.
func (m *Machine) SetConsole(w io.Writer) {
	m.console = w
}

// Kernel returns the kernel. Its state may be inspected before and after Run.
func (m *Machine) Kernel() *kernel.Kernel {
	return m.kernel
}

// Regions returns the region manager.
func (m *Machine) Regions() *mpu.Manager {
	return m.regions
}

// Trace returns the event recorder.
func (m *Machine) Trace() *Recorder {
	return m.trace
}

// Names returns the latest name given to each slot.
func (m *Machine) Names() map[kernel.TaskID]string {
	out := make(map[kernel.TaskID]string, len(m.names))
	for id, n := range m.names {
		out[id] = n
	}
	return out
}

// Create creates a task from the main context before Run.
func (m *Machine) Create(spec TaskSpec) (kernel.TaskID, error) {
	if m.running {
		return kernel.NoTask, model.NewKernelError(model.ErrInvalidState, "machine is running; create from a task")
	}
	return m.create(spec)
}

// MutexInit allocates a mutex from the main context before Run.
func (m *Machine) MutexInit(ceiling uint32) (kernel.MutexID, error) {
	if m.running {
		return kernel.NoMutex, model.NewKernelError(model.ErrInvalidState, "machine is running; allocate from a task")
	}
	return m.kernel.MutexInit(ceiling)
}

// create runs in trap context: the main context before Run, the machine
// goroutine during it.
func (m *Machine) create(spec TaskSpec) (kernel.TaskID, error) {
	if spec.Body == nil {
		return kernel.NoTask, model.NewKernelError(model.ErrInvalidArgument, "task %q has no body", spec.Name)
	}
	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("task%d", spec.Priority)
	}
	// the goroutine must exist before the kernel can switch to it
	t := m.newTask(kernel.TaskID(spec.Priority), name, spec.Body, spec.Arg)
	prev, hadPrev := m.threads[t.id], m.threads[t.id] != nil
	m.threads[t.id] = t

	id, err := m.kernel.ThreadCreate(kernel.TaskParams{
		Entry:    spec.Body,
		Arg:      spec.Arg,
		Priority: spec.Priority,
		C:        spec.C,
		T:        spec.T,
	})
	if err != nil {
		if hadPrev {
			m.threads[t.id] = prev
		} else {
			delete(m.threads, t.id)
		}
		return kernel.NoTask, err
	}
	m.names[id] = name
	m.start(t)
	m.logger.Debug("task spawned", "task", id, "name", name)
	return id, nil
}

func (m *Machine) newTask(id kernel.TaskID, name string, body Body, arg any) *Task {
	return &Task{
		m:      m,
		id:     id,
		name:   name,
		body:   body,
		arg:    arg,
		resume: make(chan result, 1),
	}
}

func (m *Machine) spawn(id kernel.TaskID, name string, body Body, arg any) {
	t := m.newTask(id, name, body, arg)
	m.threads[id] = t
	m.names[id] = name
	m.start(t)
}

func (m *Machine) start(t *Task) {
	m.wg.Add(1)
	go t.run()
}

// Run starts the scheduler and drives the machine until every user task has
// exited (nil), the kernel halts (the *model.FatalError), the tick budget is
// spent (ErrTickLimit), or ctx is done.
func (m *Machine) Run(ctx context.Context) error {
	if m.running {
		return model.NewKernelError(model.ErrInvalidState, "machine already ran")
	}
	m.running = true
	if err := m.kernel.Start(m.cfg.Hz); err != nil {
		m.shutdown(true)
		return err
	}

	for {
		if h := m.kernel.Halted(); h != nil {
			m.shutdown(true)
			return h
		}
		if m.kernel.Done() {
			m.logger.Info("all tasks exited", "ticks", m.kernel.GetTime(), "switches", m.switches)
			m.shutdown(true)
			return nil
		}
		if m.cfg.MaxTicks > 0 && m.kernel.GetTime() >= m.cfg.MaxTicks {
			m.logger.Info("tick limit reached", "ticks", m.kernel.GetTime())
			m.shutdown(true)
			return ErrTickLimit
		}

		cur := m.kernel.Current()
		t, ok := m.threads[cur]
		if !ok {
			m.shutdown(true)
			return fmt.Errorf("no context for task %d", cur)
		}
		t.resume <- t.pending
		t.pending = result{}

		select {
		case tr := <-m.traps:
			tr.task.pending = tr.fn(m.kernel)
			m.reap()
		case <-ctx.Done():
			// the running task may never trap again; do not wait for it
			m.shutdown(false)
			return ctx.Err()
		}
	}
}

// reap ends the goroutines of tasks that became zombies.
func (m *Machine) reap() {
	for id, t := range m.threads {
		info, _ := m.kernel.Task(id)
		if info.State != model.TaskStateZombie {
			continue
		}
		delete(m.threads, id)
		t.resume <- result{dead: true}
	}
}

func (m *Machine) shutdown(wait bool) {
	close(m.done)
	if wait {
		m.wg.Wait()
	}
}

// StartTimer implements kernel.Platform.
func (m *Machine) StartTimer(hz uint32) error {
	if m.cfg.Realtime && hz > 1_000_000 {
		return fmt.Errorf("cannot pace %d Hz in real time", hz)
	}
	m.epoch = time.Now()
	m.logger.Debug("timer started", "hz", hz)
	return nil
}

// SwitchContext implements kernel.Platform. The saved context of a task is
// its parked goroutine; Run resumes whichever task is current.
func (m *Machine) SwitchContext(from, to kernel.TaskID) {
	m.switches++
	logging.Trace(m.logger, "context switch", "from", from, "to", to)
}

// Halt implements kernel.Platform.
func (m *Machine) Halt(err *model.FatalError) {
	fmt.Fprintf(m.console, "%s\n", err)
}

// Close ends the task goroutines of a machine that will never run. It is a
// no-op once Run has been called.
func (m *Machine) Close() {
	if m.running {
		return
	}
	m.running = true
	m.shutdown(true)
}

// Done is closed when Run returns. Task bodies that can run without trapping
// watch it to stop on their own.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Switches returns the number of context switches performed.
func (m *Machine) Switches() uint64 {
	return m.switches
}

// tick is the timer interrupt. In real-time mode it first waits for the
// tick's wall-clock deadline.
func (m *Machine) tick(k *kernel.Kernel) {
	if m.cfg.Realtime {
		due := m.epoch.Add(time.Duration(k.GetTime()+1) * time.Second / time.Duration(m.cfg.Hz))
		if d := time.Until(due); d > 0 {
			time.Sleep(d)
		}
	}
	k.Tick()
}

func (m *Machine) print(id kernel.TaskID, msg string) {
	now := m.kernel.GetTime()
	fmt.Fprintf(m.console, "[%6d] %s: %s\n", now, m.names[id], msg)
	m.trace.TraceEvent(model.Event{
		Tick:   now,
		Kind:   model.EventPrint,
		Task:   int(id),
		Mutex:  int(kernel.NoMutex),
		Detail: msg,
	})
}

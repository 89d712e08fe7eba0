package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dop251/goja"

	"github.com/me/rtk/internal/kernel"
	"github.com/me/rtk/internal/sim"
	"github.com/me/rtk/pkg/model"
)

// Instance is a scenario bound to a ready-to-run machine.
type Instance struct {
	Scenario *Scenario
	Machine  *sim.Machine

	console bytes.Buffer
	mutexes map[string]kernel.MutexID
	specs   map[string]sim.TaskSpec
	windows map[string]uint32
}

// Outcome summarizes a finished run.
type Outcome struct {
	State    model.RunState
	Err      error
	Ticks    uint64
	Switches uint64
	Events   []model.Event
	Console  string
	Names    map[int]string
	Tasks    []kernel.TaskInfo
}

// Build creates the machine, allocates the mutexes and creates every task
// not marked spawn.
func Build(s *Scenario, logger *slog.Logger) (*Instance, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	in := &Instance{
		Scenario: s,
		mutexes:  make(map[string]kernel.MutexID),
		specs:    make(map[string]sim.TaskSpec),
		windows:  make(map[string]uint32),
	}

	cfg := s.MachineConfig()
	if s.Idle != nil {
		cfg.Idle = in.body("idle", *s.Idle)
	}
	m, err := sim.NewMachine(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init kernel: %w", err)
	}
	m.SetConsole(&in.console)
	in.Machine = m

	for _, mu := range s.Mutexes {
		id, err := m.MutexInit(mu.Ceiling)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("mutex %s: %w", mu.Name, err)
		}
		in.mutexes[mu.Name] = id
	}
	for _, t := range s.Tasks {
		if w, ok := m.Kernel().StackWindow(kernel.TaskID(t.Priority)); ok {
			in.windows[t.Name] = w.Base
		}
		in.specs[t.Name] = sim.TaskSpec{
			Name:     t.Name,
			Priority: t.Priority,
			C:        t.C,
			T:        t.T,
			Body:     in.body(t.Name, t.Body),
			Arg:      t.Arg,
		}
	}
	for _, t := range s.Tasks {
		if t.Spawn {
			continue
		}
		if _, err := m.Create(in.specs[t.Name]); err != nil {
			m.Close()
			return nil, fmt.Errorf("create %s: %w", t.Name, err)
		}
	}
	return in, nil
}

// Tee copies console output to w as well.
func (in *Instance) Tee(w io.Writer) {
	in.Machine.SetConsole(io.MultiWriter(&in.console, w))
}

// Run drives the machine to completion.
func (in *Instance) Run(ctx context.Context) *Outcome {
	err := in.Machine.Run(ctx)
	k := in.Machine.Kernel()
	names := make(map[int]string)
	for id, n := range in.Machine.Names() {
		names[int(id)] = n
	}
	return &Outcome{
		State:    StateOf(err),
		Err:      err,
		Ticks:    k.GetTime(),
		Switches: in.Machine.Switches(),
		Events:   in.Machine.Trace().Events(),
		Console:  in.console.String(),
		Names:    names,
		Tasks:    k.Tasks(),
	}
}

// Execute builds and runs s.
func Execute(ctx context.Context, s *Scenario, logger *slog.Logger) (*Outcome, error) {
	in, err := Build(s, logger)
	if err != nil {
		return nil, err
	}
	return in.Run(ctx), nil
}

// StateOf maps the result of sim.Machine.Run to a run state.
func StateOf(err error) model.RunState {
	var fatal *model.FatalError
	switch {
	case err == nil:
		return model.RunStateCompleted
	case errors.As(err, &fatal):
		return model.RunStateHalted
	case errors.Is(err, sim.ErrTickLimit):
		return model.RunStateTickLimit
	}
	return model.RunStateFailed
}

func (in *Instance) body(name string, b Body) sim.Body {
	if b.Script != "" {
		return in.scriptBody(name)
	}
	return func(tk *sim.Task) {
		for i := 0; b.Forever || i < max(b.Repeat, 1); i++ {
			for _, st := range b.Steps {
				in.step(tk, st)
			}
		}
	}
}

func (in *Instance) step(tk *sim.Task, st Step) {
	switch st.Op {
	case OpCompute:
		tk.Compute(st.Ticks)
	case OpLock:
		if err := tk.Lock(in.mutexes[st.Target]); err != nil {
			tk.Printf("lock %s: %v", st.Target, err)
		}
	case OpUnlock:
		if err := tk.Unlock(in.mutexes[st.Target]); err != nil {
			tk.Printf("unlock %s: %v", st.Target, err)
		}
	case OpWait:
		tk.WaitUntilNextPeriod()
	case OpPrint:
		tk.Printf("%s", st.Text)
	case OpSpawn:
		if _, err := tk.Create(in.specs[st.Target]); err != nil {
			tk.Printf("spawn %s: %v", st.Target, err)
		}
	case OpFault:
		tk.Fault(st.Status, st.Addr)
	case OpTouch:
		addr := st.Addr
		if st.Window != "" {
			addr += in.windows[st.Window]
		}
		tk.Touch(addr, st.Write)
	case OpKill:
		tk.Kill()
	}
}

func (in *Instance) scriptBody(name string) sim.Body {
	prog := in.Scenario.programs[name]
	return func(tk *sim.Task) {
		vm := goja.New()
		finished := make(chan struct{})
		defer close(finished)
		go func() {
			select {
			case <-in.Machine.Done():
				vm.Interrupt("machine stopped")
			case <-finished:
			}
		}()
		if err := in.bind(vm, tk); err != nil {
			tk.Printf("script setup: %v", err)
			return
		}
		if _, err := vm.RunProgram(prog); err != nil {
			var stopped *goja.InterruptedError
			if errors.As(err, &stopped) {
				return
			}
			tk.Printf("script error: %v", err)
		}
	}
}

// bind exposes the task API to a script. Kernel errors surface as
// JavaScript exceptions.
func (in *Instance) bind(vm *goja.Runtime, tk *sim.Task) error {
	throw := func(err error) {
		if err != nil {
			panic(vm.NewGoError(err))
		}
	}
	mutex := func(name string) kernel.MutexID {
		id, ok := in.mutexes[name]
		if !ok {
			panic(vm.NewTypeError("unknown mutex %q", name))
		}
		return id
	}

	fns := map[string]any{
		"compute": func(n int64) {
			if n > 0 {
				tk.Compute(uint64(n))
			}
		},
		"lock":   func(name string) { throw(tk.Lock(mutex(name))) },
		"unlock": func(name string) { throw(tk.Unlock(mutex(name))) },
		"wait":   tk.WaitUntilNextPeriod,
		"print": func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			tk.Printf("%s", strings.Join(parts, " "))
			return goja.Undefined()
		},
		"spawn": func(name string) int64 {
			spec, ok := in.specs[name]
			if t, _ := in.Scenario.task(name); !ok || !t.Spawn {
				panic(vm.NewTypeError("task %q cannot be spawned", name))
			}
			id, err := tk.Create(spec)
			throw(err)
			return int64(id)
		},
		"fault": func(status, addr int64) { tk.Fault(uint32(status), uint32(addr)) },
		"touch": func(addr int64, write bool) { tk.Touch(uint32(addr), write) },
		"window": func(name string) int64 {
			base, ok := in.windows[name]
			if !ok {
				panic(vm.NewTypeError("unknown task %q", name))
			}
			return int64(base)
		},
		"kill":       tk.Kill,
		"time":       func() int64 { return int64(tk.Time()) },
		"threadTime": func() int64 { return int64(tk.ThreadTime()) },
		"priority":   func() int64 { return int64(tk.Priority()) },
		"arg":        tk.Arg(),
		"task":       map[string]any{"id": int(tk.ID()), "name": tk.Name()},
	}
	for name, v := range fns {
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

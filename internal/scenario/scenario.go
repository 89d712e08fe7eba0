// Package scenario loads task-set descriptions from YAML and turns them into
// runnable machines. A task body is either a list of steps or a JavaScript
// script.
package scenario

import (
	"bytes"
	"fmt"
	"os"

	"github.com/dop251/goja"
	"gopkg.in/yaml.v3"

	"github.com/me/rtk/internal/kernel"
	"github.com/me/rtk/internal/sim"
	"github.com/me/rtk/pkg/model"
)

// Scenario is a complete run description.
type Scenario struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Kernel      KernelSpec `yaml:"kernel" json:"kernel"`
	Run         RunSpec    `yaml:"run" json:"run"`
	Idle        *Body      `yaml:"idle,omitempty" json:"idle,omitempty"`
	Mutexes     []Mutex    `yaml:"mutexes" json:"mutexes"`
	Tasks       []Task     `yaml:"tasks" json:"tasks"`

	programs map[string]*goja.Program
}

// KernelSpec overrides kernel.DefaultConfig. Zero fields keep the default.
type KernelSpec struct {
	MaxTasks   uint32               `yaml:"max_tasks,omitempty" json:"max_tasks,omitempty"`
	StackWords uint32               `yaml:"stack_words,omitempty" json:"stack_words,omitempty"`
	Protection string               `yaml:"protection,omitempty" json:"protection,omitempty"`
	MaxMutexes uint32               `yaml:"max_mutexes,omitempty" json:"max_mutexes,omitempty"`
	Layout     *kernel.MemoryLayout `yaml:"layout,omitempty" json:"layout,omitempty"`
}

// RunSpec overrides sim.DefaultConfig. Zero fields keep the default.
type RunSpec struct {
	Hz       uint32 `yaml:"hz,omitempty" json:"hz,omitempty"`
	MaxTicks uint64 `yaml:"max_ticks,omitempty" json:"max_ticks,omitempty"`
	Realtime bool   `yaml:"realtime,omitempty" json:"realtime,omitempty"`
}

// Mutex declares a named priority-ceiling mutex.
type Mutex struct {
	Name    string `yaml:"name" json:"name"`
	Ceiling uint32 `yaml:"ceiling" json:"ceiling"`
}

// Body is the code of a task: Steps run Repeat times (once when zero, or
// without end when Forever), or Script runs once.
type Body struct {
	Steps   []Step `yaml:"steps,omitempty" json:"steps,omitempty"`
	Repeat  int    `yaml:"repeat,omitempty" json:"repeat,omitempty"`
	Forever bool   `yaml:"forever,omitempty" json:"forever,omitempty"`
	Script  string `yaml:"script,omitempty" json:"script,omitempty"`
}

// Task declares a periodic task. Spawn tasks are not created at start; a
// running task creates them with a spawn step.
type Task struct {
	Name     string `yaml:"name" json:"name"`
	Priority uint32 `yaml:"priority" json:"priority"`
	C        uint32 `yaml:"c" json:"c"`
	T        uint32 `yaml:"t" json:"t"`
	Spawn    bool   `yaml:"spawn,omitempty" json:"spawn,omitempty"`
	Arg      any    `yaml:"arg,omitempty" json:"arg,omitempty"`
	Body     `yaml:",inline"`
}

// Load parses and validates a scenario document.
func Load(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	if s.Name == "" {
		s.Name = "scenario"
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads and loads a scenario file.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Load(data)
}

// Validate checks names, references and scripts, and compiles the scripts.
// It returns nil or an *model.APIError listing every problem.
func (s *Scenario) Validate() error {
	var errs []model.FieldError
	errs = append(errs, s.validateKernel()...)
	errs = append(errs, s.validateMutexes()...)
	errs = append(errs, s.validateTasks()...)
	if s.Idle != nil {
		errs = append(errs, s.validateBody("idle", "idle", *s.Idle, true)...)
	}
	if len(errs) == 0 {
		return nil
	}
	return model.NewValidationError("scenario validation failed", errs...)
}

func (s *Scenario) validateKernel() []model.FieldError {
	var errs []model.FieldError
	if _, err := model.ParseProtectionMode(s.Kernel.Protection); err != nil {
		errs = append(errs, model.FieldError{Field: "kernel.protection", Message: err.Error()})
	}
	return errs
}

func (s *Scenario) validateMutexes() []model.FieldError {
	var errs []model.FieldError
	seen := make(map[string]bool)
	for i, m := range s.Mutexes {
		field := fmt.Sprintf("mutexes[%d].name", i)
		if m.Name == "" {
			errs = append(errs, model.FieldError{Field: field, Message: "mutex name is required"})
			continue
		}
		if seen[m.Name] {
			errs = append(errs, model.FieldError{Field: field, Message: fmt.Sprintf("duplicate mutex %q", m.Name)})
		}
		seen[m.Name] = true
	}
	return errs
}

func (s *Scenario) validateTasks() []model.FieldError {
	var errs []model.FieldError
	if len(s.Tasks) == 0 {
		return []model.FieldError{{Field: "tasks", Message: "at least one task is required"}}
	}
	seen := make(map[string]bool)
	for i, t := range s.Tasks {
		field := fmt.Sprintf("tasks[%d]", i)
		if t.Name == "" {
			errs = append(errs, model.FieldError{Field: field + ".name", Message: "task name is required"})
			continue
		}
		if t.Name == "idle" || t.Name == "main" {
			errs = append(errs, model.FieldError{Field: field + ".name", Message: fmt.Sprintf("task name %q is reserved", t.Name)})
			continue
		}
		if seen[t.Name] {
			errs = append(errs, model.FieldError{Field: field + ".name", Message: fmt.Sprintf("duplicate task %q", t.Name)})
		}
		seen[t.Name] = true
		errs = append(errs, s.validateBody(field, t.Name, t.Body, false)...)
	}
	return errs
}

func (s *Scenario) validateBody(field, name string, b Body, idle bool) []model.FieldError {
	var errs []model.FieldError
	switch {
	case len(b.Steps) > 0 && b.Script != "":
		return []model.FieldError{{Field: field, Message: "steps and script are mutually exclusive"}}
	case len(b.Steps) == 0 && b.Script == "":
		return []model.FieldError{{Field: field, Message: "a body needs steps or a script"}}
	case b.Script != "":
		prog, err := goja.Compile(name, b.Script, false)
		if err != nil {
			return []model.FieldError{{Field: field + ".script", Message: err.Error()}}
		}
		if s.programs == nil {
			s.programs = make(map[string]*goja.Program)
		}
		s.programs[name] = prog
		return nil
	}

	if b.Repeat < 0 {
		errs = append(errs, model.FieldError{Field: field + ".repeat", Message: "repeat must not be negative"})
	}
	if idle && !b.Forever {
		errs = append(errs, model.FieldError{Field: field + ".forever", Message: "idle steps must repeat forever"})
	}
	for j, st := range b.Steps {
		sf := fmt.Sprintf("%s.steps[%d]", field, j)
		if idle && !st.Op.idleSafe() {
			errs = append(errs, model.FieldError{Field: sf, Message: fmt.Sprintf("%s is not allowed in idle", st.Op)})
			continue
		}
		switch st.Op {
		case OpLock, OpUnlock:
			if !s.hasMutex(st.Target) {
				errs = append(errs, model.FieldError{Field: sf, Message: fmt.Sprintf("unknown mutex %q", st.Target)})
			}
		case OpSpawn:
			t, ok := s.task(st.Target)
			switch {
			case !ok:
				errs = append(errs, model.FieldError{Field: sf, Message: fmt.Sprintf("unknown task %q", st.Target)})
			case !t.Spawn:
				errs = append(errs, model.FieldError{Field: sf, Message: fmt.Sprintf("task %q is not marked spawn", st.Target)})
			}
		case OpTouch:
			if st.Window != "" {
				if _, ok := s.task(st.Window); !ok {
					errs = append(errs, model.FieldError{Field: sf, Message: fmt.Sprintf("unknown task %q", st.Window)})
				}
			}
		}
	}
	return errs
}

func (s *Scenario) hasMutex(name string) bool {
	for _, m := range s.Mutexes {
		if m.Name == name {
			return true
		}
	}
	return false
}

func (s *Scenario) task(name string) (Task, bool) {
	for _, t := range s.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return Task{}, false
}

// MachineConfig returns the machine configuration the scenario asks for.
func (s *Scenario) MachineConfig() sim.Config {
	cfg := sim.DefaultConfig()
	k := &cfg.Kernel
	if s.Kernel.MaxTasks != 0 {
		k.MaxTasks = s.Kernel.MaxTasks
	}
	if s.Kernel.StackWords != 0 {
		k.StackWords = s.Kernel.StackWords
	}
	if s.Kernel.MaxMutexes != 0 {
		k.MaxMutexes = s.Kernel.MaxMutexes
	}
	if mode, err := model.ParseProtectionMode(s.Kernel.Protection); err == nil {
		k.Protection = mode
	}
	if s.Kernel.Layout != nil {
		k.Layout = *s.Kernel.Layout
	}
	if s.Run.Hz != 0 {
		cfg.Hz = s.Run.Hz
	}
	if s.Run.MaxTicks != 0 {
		cfg.MaxTicks = s.Run.MaxTicks
	}
	cfg.Realtime = s.Run.Realtime
	return cfg
}

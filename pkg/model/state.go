package model

import (
	"fmt"
	"strings"
)

// TaskState represents the lifecycle state of a kernel task slot.
type TaskState string

const (
	TaskStateEmpty            TaskState = "EMPTY"
	TaskStateReady            TaskState = "READY"
	TaskStateRunning          TaskState = "RUNNING"
	TaskStateBlockedOnMutex   TaskState = "BLOCKED_ON_MUTEX"
	TaskStateWaitingForPeriod TaskState = "WAITING_FOR_PERIOD"
	TaskStateZombie           TaskState = "ZOMBIE"
)

// String returns the string representation of the task state.
func (s TaskState) String() string {
	return string(s)
}

// IsLive returns true if the slot holds a task that has not exited.
func (s TaskState) IsLive() bool {
	switch s {
	case TaskStateReady, TaskStateRunning, TaskStateBlockedOnMutex, TaskStateWaitingForPeriod:
		return true
	}
	return false
}

// IsFree returns true if the slot may be reused by a new task.
func (s TaskState) IsFree() bool {
	return s == TaskStateEmpty || s == TaskStateZombie
}

// IsRunnable returns true if the scheduler may select a task in this state.
func (s TaskState) IsRunnable() bool {
	return s == TaskStateReady || s == TaskStateRunning
}

// ValidTaskTransitions defines the allowed state transitions for task slots.
// ZOMBIE -> READY is slot reuse by a new task.
var ValidTaskTransitions = map[TaskState][]TaskState{
	TaskStateEmpty:            {TaskStateReady},
	TaskStateReady:            {TaskStateRunning},
	TaskStateRunning:          {TaskStateReady, TaskStateWaitingForPeriod, TaskStateBlockedOnMutex, TaskStateZombie},
	TaskStateWaitingForPeriod: {TaskStateReady},
	TaskStateBlockedOnMutex:   {TaskStateReady},
	TaskStateZombie:           {TaskStateReady},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, allowed := range ValidTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ProtectionMode selects how stack memory is isolated.
type ProtectionMode string

const (
	// ProtectionPerTask installs the running task's stack window on every switch.
	ProtectionPerTask ProtectionMode = "PER_TASK"
	// ProtectionKernelOnly installs a single static kernel/user boundary.
	ProtectionKernelOnly ProtectionMode = "KERNEL_ONLY"
)

// String returns the string representation of the protection mode.
func (m ProtectionMode) String() string {
	return string(m)
}

// ParseProtectionMode accepts the canonical names and the lowercase/dashed
// spellings used in scenario files.
func ParseProtectionMode(s string) (ProtectionMode, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "PER_TASK", "PER_THREAD":
		return ProtectionPerTask, nil
	case "KERNEL_ONLY", "":
		return ProtectionKernelOnly, nil
	}
	return "", fmt.Errorf("unknown protection mode %q", s)
}

// RunState represents the lifecycle state of a recorded simulation run.
type RunState string

const (
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateHalted    RunState = "HALTED"
	RunStateTickLimit RunState = "TICK_LIMIT"
	RunStateFailed    RunState = "FAILED"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// IsTerminal returns true if the run is in a final state.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateHalted, RunStateTickLimit, RunStateFailed:
		return true
	}
	return false
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[RunState][]RunState{
	RunStateRunning: {RunStateCompleted, RunStateHalted, RunStateTickLimit, RunStateFailed},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range ValidRunTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

package kernel

import "github.com/me/rtk/pkg/model"

// TaskID is a bounds-checked index into the task table.
type TaskID int

// MutexID is an opaque handle into the mutex table.
type MutexID int

// NoTask marks an absent task reference.
const NoTask TaskID = -1

// NoMutex marks an absent mutex reference.
const NoMutex MutexID = -1

// Platform is the narrow interface to the machine-specific layer: the timer,
// the register save/restore of a context switch, and the halt path. The
// kernel calls it from trap context only.
type Platform interface {
	// StartTimer programs the periodic tick interrupt.
	StartTimer(hz uint32) error
	// SwitchContext saves the context of from and resumes to. The stack
	// window of to is already installed when it is called. from may be a
	// task that just became a zombie.
	SwitchContext(from, to TaskID)
	// Halt stops the system. On hardware it does not return.
	Halt(err *model.FatalError)
}

// Tracer receives every scheduling-visible kernel event.
type Tracer interface {
	TraceEvent(ev model.Event)
}

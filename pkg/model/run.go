package model

import "time"

// EventKind identifies a scheduling-visible action in a trace.
type EventKind string

const (
	EventStart   EventKind = "start"   // scheduler started
	EventSwitch  EventKind = "switch"  // Task is the task switched to, Detail the one switched from
	EventRelease EventKind = "release" // periodic release of Task
	EventWait    EventKind = "wait"    // Task finished its job and waits for its next period
	EventLock    EventKind = "lock"    // Task requested Mutex
	EventAcquire EventKind = "acquire" // Task now owns Mutex
	EventBlock   EventKind = "block"   // Task blocked on Mutex
	EventUnlock  EventKind = "unlock"  // Task released Mutex
	EventCreate  EventKind = "create"  // Task was admitted
	EventReject  EventKind = "reject"  // creation refused; Detail holds the reason
	EventExit    EventKind = "exit"    // Task entry returned
	EventKill    EventKind = "kill"    // Task killed itself or was killed by a fault
	EventFault   EventKind = "fault"   // memory protection fault raised by Task
	EventPrint   EventKind = "print"   // console output from Task
	EventHalt    EventKind = "halt"    // kernel halted; Detail holds the reason
)

// Event is one entry of an execution trace. Task and Mutex are -1 when not
// applicable.
type Event struct {
	Seq    int       `json:"seq"`
	Tick   uint64    `json:"tick"`
	Kind   EventKind `json:"kind"`
	Task   int       `json:"task"`
	Mutex  int       `json:"mutex"`
	Detail string    `json:"detail,omitempty"`
	// C and T are the admitted budget and period; set on create events only.
	C uint32 `json:"c,omitempty"`
	T uint32 `json:"t,omitempty"`
}

// Run is a recorded execution of a scenario on the host platform.
type Run struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	State       RunState       `json:"state"`
	Scenario    string         `json:"scenario"`
	Ticks       uint64         `json:"ticks"`
	Switches    uint64         `json:"switches"`
	EventCount  int            `json:"event_count"`
	Error       string         `json:"error,omitempty"`
	Names       map[int]string `json:"names,omitempty"`
	Console     string         `json:"console,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

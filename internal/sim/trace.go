package sim

import (
	"sync"

	"github.com/me/rtk/pkg/model"
)

// Recorder collects trace events in order and assigns sequence numbers.
// It is safe to read while a machine is running.
type Recorder struct {
	mu     sync.Mutex
	events []model.Event
	hooks  []func(model.Event)
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// TraceEvent implements kernel.Tracer.
func (r *Recorder) TraceEvent(ev model.Event) {
	r.mu.Lock()
	ev.Seq = len(r.events)
	r.events = append(r.events, ev)
	hooks := r.hooks
	r.mu.Unlock()

	for _, h := range hooks {
		h(ev)
	}
}

// OnEvent registers fn to be called for every event after it is recorded.
func (r *Recorder) OnEvent(fn func(model.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

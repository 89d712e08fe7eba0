package kernel

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/me/rtk/pkg/model"
)

// mutex is one entry of the mutex table. Waiters are kept in arrival order.
type mutex struct {
	id      MutexID
	ceiling uint32
	owner   TaskID
	waiters []TaskID
}

// MutexInfo is a read-only snapshot of a mutex.
type MutexInfo struct {
	ID      MutexID  `json:"id"`
	Ceiling uint32   `json:"ceiling"`
	Owner   TaskID   `json:"owner"`
	Waiters []TaskID `json:"waiters,omitempty"`
}

// MutexInit allocates a mutex with the given priority ceiling: the most
// urgent static priority of any task that will lock it.
func (k *Kernel) MutexInit(ceiling uint32) (MutexID, error) {
	if err := k.ready(); err != nil {
		return NoMutex, err
	}
	if len(k.mutexes) >= cap(k.mutexes) {
		return NoMutex, model.NewKernelError(model.ErrCapacityExhausted,
			"mutex table full (%d entries)", cap(k.mutexes))
	}
	id := MutexID(len(k.mutexes))
	k.mutexes = append(k.mutexes, mutex{id: id, ceiling: ceiling, owner: NoTask})
	k.logger.Debug("mutex created", "mutex", id, "ceiling", ceiling)
	return id, nil
}

func (k *Kernel) mutex(m MutexID) (*mutex, error) {
	if m < 0 || int(m) >= len(k.mutexes) {
		return nil, model.NewKernelError(model.ErrInvalidArgument, "invalid mutex handle %d", m)
	}
	return &k.mutexes[m], nil
}

// lockable checks the caller for mutex operations. Only user tasks lock;
// idle must never block and main is parked while tasks run.
func (k *Kernel) lockable() (*tcb, error) {
	if err := k.ready(); err != nil {
		return nil, err
	}
	if !k.started {
		return nil, model.NewKernelError(model.ErrInvalidState, "mutex operations need a started scheduler")
	}
	if int(k.current) >= int(k.cfg.MaxTasks) {
		return nil, model.NewKernelError(model.ErrInvalidState, "%s task cannot use mutexes", k.taskName(k.current))
	}
	return &k.tasks[k.current], nil
}

// MutexLock acquires m for the running task. The lock is granted when m is
// free and the caller's effective priority is strictly more urgent than
// every ceiling of mutexes held by other tasks; the owner then runs at no
// less than the ceiling. Otherwise the caller blocks and the task standing
// in its way inherits its priority.
func (k *Kernel) MutexLock(m MutexID) error {
	t, err := k.lockable()
	if err != nil {
		return err
	}
	mu, err := k.mutex(m)
	if err != nil {
		return err
	}
	if mu.owner == t.id {
		return model.NewKernelError(model.ErrInvalidState, "task %d already holds mutex %d", t.id, m)
	}
	if t.priority < mu.ceiling {
		k.logger.Warn("ceiling violation", "task", t.id, "priority", t.priority, "mutex", m, "ceiling", mu.ceiling)
	}
	k.trace(model.EventLock, t.id, m, "")

	if k.grantable(t, mu) {
		k.grant(t, mu)
		k.recomputePriorities()
		return nil
	}

	if !k.transition(t, model.TaskStateBlockedOnMutex) {
		return nil
	}
	t.waitingOn = m
	mu.waiters = append(mu.waiters, t.id)
	holder := k.blocker(t)
	k.logger.Debug("task blocked", "task", t.id, "mutex", m, "blocker", holder)
	k.trace(model.EventBlock, t.id, m, fmt.Sprintf("blocked by %d", holder))
	k.recomputePriorities()
	k.reschedule()
	return nil
}

// MutexUnlock releases m. Every blocked task is then re-examined, most
// urgent first, so the top waiter of m takes it over when the ceiling
// allows.
func (k *Kernel) MutexUnlock(m MutexID) error {
	t, err := k.lockable()
	if err != nil {
		return err
	}
	mu, err := k.mutex(m)
	if err != nil {
		return err
	}
	if mu.owner != t.id {
		return model.NewKernelError(model.ErrInvalidState, "task %d does not hold mutex %d", t.id, m)
	}

	t.held = slices.DeleteFunc(t.held, func(h MutexID) bool { return h == m })
	mu.owner = NoTask
	k.trace(model.EventUnlock, t.id, m, "")

	k.wakeBlocked()
	k.recomputePriorities()
	k.reschedule()
	return nil
}

// systemCeiling returns the most urgent ceiling among mutexes held by tasks
// other than exclude, and the holder of that mutex. The holder is NoTask
// when no such mutex is held.
func (k *Kernel) systemCeiling(exclude TaskID) (uint32, TaskID) {
	var ceiling uint32
	holder := NoTask
	for i := range k.mutexes {
		mu := &k.mutexes[i]
		if mu.owner == NoTask || mu.owner == exclude {
			continue
		}
		if holder == NoTask || mu.ceiling < ceiling {
			ceiling = mu.ceiling
			holder = mu.owner
		}
	}
	return ceiling, holder
}

func (k *Kernel) grantable(t *tcb, mu *mutex) bool {
	if mu.owner != NoTask {
		return false
	}
	ceiling, holder := k.systemCeiling(t.id)
	return holder == NoTask || t.effective < ceiling
}

func (k *Kernel) grant(t *tcb, mu *mutex) {
	mu.owner = t.id
	t.held = append(t.held, mu.id)
	t.waitingOn = NoMutex
	k.trace(model.EventAcquire, t.id, mu.id, "")
}

// wake grants mu to a blocked waiter and makes it ready.
func (k *Kernel) wake(w *tcb, mu *mutex) {
	k.grant(w, mu)
	if k.transition(w, model.TaskStateReady) {
		w.arrival = k.nextSeq()
	}
}

// wakeBlocked grants free mutexes to blocked tasks that now pass the lock
// predicate, most urgent first, until nothing changes.
func (k *Kernel) wakeBlocked() {
	for {
		granted := false
		for _, w := range k.blockedByPriority() {
			t := &k.tasks[w]
			mu := &k.mutexes[t.waitingOn]
			if !k.grantable(t, mu) {
				continue
			}
			mu.waiters = slices.DeleteFunc(mu.waiters, func(id TaskID) bool { return id == w })
			k.wake(t, mu)
			granted = true
			break
		}
		if !granted {
			return
		}
	}
}

func (k *Kernel) blockedByPriority() []TaskID {
	var ids []TaskID
	for i := range k.tasks {
		if k.tasks[i].state == model.TaskStateBlockedOnMutex {
			ids = append(ids, TaskID(i))
		}
	}
	slices.SortStableFunc(ids, func(a, b TaskID) int {
		ta, tb := &k.tasks[a], &k.tasks[b]
		if c := cmp.Compare(ta.effective, tb.effective); c != 0 {
			return c
		}
		return cmp.Compare(ta.arrival, tb.arrival)
	})
	return ids
}

// blocker returns the task a blocked task is waiting behind: the owner of
// the requested mutex, or the holder of the system ceiling.
func (k *Kernel) blocker(t *tcb) TaskID {
	if t.waitingOn == NoMutex {
		return NoTask
	}
	mu := &k.mutexes[t.waitingOn]
	if mu.owner != NoTask {
		return mu.owner
	}
	_, holder := k.systemCeiling(t.id)
	return holder
}

// recomputePriorities sets every effective priority to the most urgent of
// the static priority and the ceilings of held mutexes, then applies
// inheritance along blocking chains until a fixpoint.
func (k *Kernel) recomputePriorities() {
	for i := range k.tasks {
		t := &k.tasks[i]
		t.effective = t.priority
		for _, m := range t.held {
			t.effective = min(t.effective, k.mutexes[m].ceiling)
		}
	}
	for changed := true; changed; {
		changed = false
		for i := range k.tasks {
			w := &k.tasks[i]
			if w.state != model.TaskStateBlockedOnMutex {
				continue
			}
			b := k.blocker(w)
			if b == NoTask {
				continue
			}
			if bt := &k.tasks[b]; w.effective < bt.effective {
				bt.effective = w.effective
				changed = true
			}
		}
	}
}

// Mutexes returns snapshots of every allocated mutex.
func (k *Kernel) Mutexes() []MutexInfo {
	out := make([]MutexInfo, len(k.mutexes))
	for i, mu := range k.mutexes {
		out[i] = MutexInfo{
			ID:      mu.id,
			Ceiling: mu.ceiling,
			Owner:   mu.owner,
			Waiters: append([]TaskID(nil), mu.waiters...),
		}
	}
	return out
}

package kernel

import (
	"github.com/me/rtk/internal/mpu"
	"github.com/me/rtk/pkg/model"
)

// MemManage is the memory management fault handler. It reads and clears the
// fault status and applies HandleMemoryFault.
func (k *Kernel) MemManage() {
	k.HandleMemoryFault(k.mpu.ReadFault())
}

// HandleMemoryFault disposes of a protection fault raised by the running
// task. A fault during exception stacking halts the kernel; any other fault
// kills the offender, with the same exemptions as ThreadKill.
func (k *Kernel) HandleMemoryFault(f mpu.Fault) {
	if k.halted != nil || k.current == NoTask {
		return
	}
	id := k.current
	k.trace(model.EventFault, id, NoMutex, f.String())
	switch k.mpu.Diagnose(f) {
	case mpu.ActionHalt:
		k.halt(model.ErrMemoryFault, id, "stacking error: "+f.String())
	default:
		k.terminate(id, model.EventKill, "memory fault: "+f.String())
	}
}

// StackWindow returns the stack window of slot id. Main has none.
func (k *Kernel) StackWindow(id TaskID) (mpu.Region, bool) {
	if id < 0 || int(id) >= len(k.tasks) || id == k.MainTask() {
		return mpu.Region{}, false
	}
	t := &k.tasks[id]
	return mpu.Region{
		Number:    regionStack,
		Base:      t.stackBase,
		SizeLog2:  t.stackLog2,
		UserWrite: true,
		Enabled:   true,
	}, true
}

// Accessible reports whether the running task may touch addr: user code,
// user data and, depending on the protection mode, the whole stack arena or
// only its own window. Executing is allowed only in user code.
func (k *Kernel) Accessible(addr uint32, write, execute bool) bool {
	r, ok := k.mpu.Covering(addr)
	if !ok {
		return false
	}
	if execute {
		return r.Execute
	}
	if write {
		return r.UserWrite
	}
	return true
}

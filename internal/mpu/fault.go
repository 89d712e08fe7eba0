package mpu

import (
	"fmt"
	"strings"
)

// MemManage fault status bits (low byte of CFSR).
const (
	IACCVIOL  = 1 << 0 // instruction access violation
	DACCVIOL  = 1 << 1 // data access violation
	MUNSTKERR = 1 << 3 // fault on exception return unstacking
	MSTKERR   = 1 << 4 // fault on exception entry stacking
	MMARVALID = 1 << 7 // MMFAR holds the faulting address
)

const memManageMask = 0xFF

// Fault is a latched memory protection fault.
type Fault struct {
	Status  uint32 `json:"status"`
	Address uint32 `json:"address"`
}

// StackingError reports whether the processor faulted while pushing the
// exception frame. The frame may already have overwritten memory next to the
// stack, so nothing that lives there can be trusted.
func (f Fault) StackingError() bool {
	return f.Status&MSTKERR != 0
}

// AddressValid reports whether Address identifies the faulting access.
func (f Fault) AddressValid() bool {
	return f.Status&MMARVALID != 0
}

// Causes lists the human-readable causes encoded in Status.
func (f Fault) Causes() []string {
	var causes []string
	if f.Status&MSTKERR != 0 {
		causes = append(causes, "stacking error")
	}
	if f.Status&MUNSTKERR != 0 {
		causes = append(causes, "unstacking error")
	}
	if f.Status&DACCVIOL != 0 {
		causes = append(causes, "data access violation")
	}
	if f.Status&IACCVIOL != 0 {
		causes = append(causes, "instruction access violation")
	}
	return causes
}

func (f Fault) String() string {
	causes := strings.Join(f.Causes(), ", ")
	if causes == "" {
		causes = "unknown cause"
	}
	if f.AddressValid() {
		return fmt.Sprintf("%s at %#x", causes, f.Address)
	}
	return causes
}

// Action is what the kernel must do about a fault.
type Action int

const (
	// ActionKill kills the offending task under the normal kill rules.
	ActionKill Action = iota
	// ActionHalt aborts the system.
	ActionHalt
)

func (a Action) String() string {
	if a == ActionHalt {
		return "halt"
	}
	return "kill"
}

// ReadFault latches the fault registers and clears the status bits.
func (m *Manager) ReadFault() Fault {
	f := Fault{
		Status:  m.regs.Read(RegCFSR) & memManageMask,
		Address: m.regs.Read(RegMMFAR),
	}
	m.regs.Write(RegCFSR, f.Status)
	return f
}

// Diagnose logs every cause of f and decides how to recover. A stacking
// error is unrecoverable; every other violation kills the offending task.
func (m *Manager) Diagnose(f Fault) Action {
	attrs := []any{"status", fmt.Sprintf("%#x", f.Status), "causes", f.Causes()}
	if f.AddressValid() {
		attrs = append(attrs, "address", fmt.Sprintf("%#x", f.Address))
		if r, ok := m.Covering(f.Address); ok {
			attrs = append(attrs, "region", r.Number)
		} else {
			attrs = append(attrs, "region", "none")
		}
	}
	m.logger.Warn("memory protection fault", attrs...)

	if f.StackingError() {
		m.logger.Error("stack overflow during exception entry, aborting")
		return ActionHalt
	}
	return ActionKill
}

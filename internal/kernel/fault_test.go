package kernel

import (
	"testing"

	"github.com/me/rtk/internal/mpu"
	"github.com/me/rtk/pkg/model"
)

func TestMemManage_KillsOffender(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Protection = model.ProtectionPerTask
	h := newHarness(t, cfg)
	h.create(t, 0, 1, 10)
	h.create(t, 1, 1, 10)
	h.start(t)

	// task 0 writes into task 1's stack window
	h.regs.Raise(mpu.DACCVIOL|mpu.MMARVALID, 0x20008410)
	h.k.MemManage()

	if h.port.halted != nil {
		t.Fatalf("kernel halted: %v", h.port.halted)
	}
	if h.state(0) != model.TaskStateZombie {
		t.Errorf("offender state = %s, want ZOMBIE", h.state(0))
	}
	if h.k.Current() != 1 {
		t.Errorf("current = %d, want 1", h.k.Current())
	}
	if h.regs.Read(mpu.RegCFSR) != 0 {
		t.Errorf("CFSR = %#x, want cleared", h.regs.Read(mpu.RegCFSR))
	}
	if h.rec.count(model.EventFault) != 1 || h.rec.count(model.EventKill) != 1 {
		t.Errorf("fault events = %d, kill events = %d", h.rec.count(model.EventFault), h.rec.count(model.EventKill))
	}
}

func TestHandleMemoryFault_Fatal(t *testing.T) {
	tests := []struct {
		name   string
		status uint32
		idle   bool
		code   model.ErrorCode
	}{
		{"stacking error", mpu.MSTKERR, false, model.ErrMemoryFault},
		{"stacking error with data violation", mpu.MSTKERR | mpu.DACCVIOL, false, model.ErrMemoryFault},
		{"violation by idle", mpu.DACCVIOL, true, model.ErrIntegrity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig())
			h.create(t, 0, 1, 10)
			h.start(t)
			if tt.idle {
				h.k.WaitUntilNextPeriod()
			}
			offender := h.k.Current()

			h.k.HandleMemoryFault(mpu.Fault{Status: tt.status})
			if h.port.halted == nil {
				t.Fatal("kernel did not halt")
			}
			if h.port.halted.Code != tt.code || h.port.halted.Task != int(offender) {
				t.Errorf("halt = %+v, want %s by task %d", h.port.halted, tt.code, offender)
			}
		})
	}
}

func TestAccessible(t *testing.T) {
	tests := []struct {
		mode                 model.ProtectionMode
		addr                 uint32
		write, execute, want bool
	}{
		{model.ProtectionPerTask, 0x00000100, false, true, true},
		{model.ProtectionPerTask, 0x00000100, true, false, false},
		{model.ProtectionPerTask, 0x20000100, true, false, true},
		{model.ProtectionPerTask, 0x20000100, false, true, false},
		{model.ProtectionPerTask, 0x20008010, true, false, true},  // own window
		{model.ProtectionPerTask, 0x20008410, true, false, false}, // task 1's window
		{model.ProtectionKernelOnly, 0x20008410, true, false, true},
		{model.ProtectionKernelOnly, 0x40000000, false, false, false},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Protection = tt.mode
		h := newHarness(t, cfg)
		h.create(t, 0, 1, 10)
		h.create(t, 1, 1, 10)
		h.start(t)
		if got := h.k.Accessible(tt.addr, tt.write, tt.execute); got != tt.want {
			t.Errorf("%s: Accessible(%#x, write=%v, exec=%v) = %v, want %v",
				tt.mode, tt.addr, tt.write, tt.execute, got, tt.want)
		}
	}
}

package mpu

// Reg names one memory-mapped register the region manager touches.
type Reg int

const (
	RegTYPER Reg = iota // region count
	RegCTRL             // enable + background region
	RegRNR              // region number select
	RegRBAR             // base address of the selected region
	RegRASR             // size/attributes of the selected region
	RegCFSR             // configurable fault status
	RegMMFAR            // faulting address
)

var regNames = [...]string{"TYPER", "CTRL", "RNR", "RBAR", "RASR", "CFSR", "MMFAR"}

func (r Reg) String() string {
	if r < 0 || int(r) >= len(regNames) {
		return "REG?"
	}
	return regNames[r]
}

// Registers is the hardware access port. On a device it is backed by MMIO;
// on the host by RegisterFile.
type Registers interface {
	Read(r Reg) uint32
	Write(r Reg, v uint32)
}

// CTRL bits.
const (
	CtrlEnable   = 1 << 0
	CtrlBGRegion = 1 << 2
)

// RASR fields.
const (
	RASREnable       = 1 << 0
	RASRSizeMask     = 0b111110
	RASRAPUserRO     = 0b10 << 24
	RASRAPUserRW     = 0b11 << 24
	RASRAPMask       = 0b111 << 24
	RASRExecuteNever = 1 << 28
)

const rnrMask = 0xFF

// RegisterFile is an in-memory MPU: RBAR and RASR are banked by the value
// last written to RNR, the fault registers are plain storage.
type RegisterFile struct {
	ctrl  uint32
	rnr   uint32
	rbar  [NumRegions]uint32
	rasr  [NumRegions]uint32
	cfsr  uint32
	mmfar uint32
}

// NewRegisterFile returns a register file with all regions disabled.
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{}
}

func (f *RegisterFile) Read(r Reg) uint32 {
	switch r {
	case RegTYPER:
		return NumRegions << 8
	case RegCTRL:
		return f.ctrl
	case RegRNR:
		return f.rnr
	case RegRBAR:
		if f.rnr < NumRegions {
			return f.rbar[f.rnr]
		}
	case RegRASR:
		if f.rnr < NumRegions {
			return f.rasr[f.rnr]
		}
	case RegCFSR:
		return f.cfsr
	case RegMMFAR:
		return f.mmfar
	}
	return 0
}

func (f *RegisterFile) Write(r Reg, v uint32) {
	switch r {
	case RegCTRL:
		f.ctrl = v
	case RegRNR:
		f.rnr = v & rnrMask
	case RegRBAR:
		if f.rnr < NumRegions {
			f.rbar[f.rnr] = v
		}
	case RegRASR:
		if f.rnr < NumRegions {
			f.rasr[f.rnr] = v
		}
	case RegCFSR:
		// write-one-to-clear, as on the device
		f.cfsr &^= v
	case RegMMFAR:
		f.mmfar = v
	}
}

// Raise latches a fault into CFSR/MMFAR the way the hardware does before
// taking the MemManage exception.
func (f *RegisterFile) Raise(status, addr uint32) {
	f.cfsr |= status
	f.mmfar = addr
}

package kernel

import (
	"github.com/me/rtk/internal/mpu"
	"github.com/me/rtk/pkg/model"
)

// Segment is a naturally aligned memory range.
type Segment struct {
	Base     uint32 `yaml:"base" json:"base"`
	SizeLog2 uint8  `yaml:"size_log2" json:"size_log2"`
}

// Size returns the segment size in bytes.
func (s Segment) Size() uint64 {
	return 1 << s.SizeLog2
}

func (s Segment) overlaps(o Segment) bool {
	return uint64(s.Base) < uint64(o.Base)+o.Size() && uint64(o.Base) < uint64(s.Base)+s.Size()
}

// MemoryLayout places user code, user data and the stack arena. Each
// segment becomes one protection region.
type MemoryLayout struct {
	UserCode   Segment `yaml:"user_code" json:"user_code"`
	UserData   Segment `yaml:"user_data" json:"user_data"`
	StackArena Segment `yaml:"stack_arena" json:"stack_arena"`
}

// Region numbers used by the kernel.
const (
	regionUserCode uint32 = 0
	regionUserData uint32 = 1
	regionStack    uint32 = 2
)

// DefaultLayout matches a Cortex-M4 with 256 KiB flash and 64 KiB SRAM: the
// upper 32 KiB of SRAM hold the user stacks.
func DefaultLayout() MemoryLayout {
	return MemoryLayout{
		UserCode:   Segment{Base: 0x00000000, SizeLog2: 18},
		UserData:   Segment{Base: 0x20000000, SizeLog2: 15},
		StackArena: Segment{Base: 0x20008000, SizeLog2: 15},
	}
}

// Config is the argument of ThreadInit.
type Config struct {
	// MaxTasks is the number of user task slots. Priorities 0..MaxTasks-1
	// map one to one onto slots.
	MaxTasks uint32
	// StackWords is the per-task stack size in 32-bit words, rounded up to
	// a power of two when the window is carved.
	StackWords uint32
	// Idle is the entry of a custom idle task; nil selects the default
	// wait-for-interrupt idle.
	Idle any
	// Protection selects per-task or kernel-only stack protection.
	Protection model.ProtectionMode
	// MaxMutexes is the mutex table capacity.
	MaxMutexes uint32
	// Layout places the protected segments. The zero value means DefaultLayout.
	Layout MemoryLayout
}

// DefaultConfig returns a small kernel-only configuration.
func DefaultConfig() Config {
	return Config{
		MaxTasks:   4,
		StackWords: 256,
		Protection: model.ProtectionKernelOnly,
		MaxMutexes: 4,
		Layout:     DefaultLayout(),
	}
}

// StackWindowLog2 returns log2 of the per-task stack window for the given
// stack size in words.
func StackWindowLog2(stackWords uint32) uint8 {
	bytes := uint64(stackWords) * 4
	if bytes > 1<<31 {
		return mpu.MaxSizeLog2
	}
	k := mpu.Log2Ceil(uint32(bytes))
	if k < mpu.MinSizeLog2 {
		k = mpu.MinSizeLog2
	}
	return k
}

func (c Config) validate() error {
	if c.MaxTasks == 0 {
		return model.NewKernelError(model.ErrInvalidArgument, "max tasks must be at least 1")
	}
	if c.StackWords == 0 {
		return model.NewKernelError(model.ErrInvalidArgument, "stack size must be at least 1 word")
	}
	switch c.Protection {
	case model.ProtectionPerTask, model.ProtectionKernelOnly:
	default:
		return model.NewKernelError(model.ErrInvalidArgument, "unknown protection mode %q", c.Protection)
	}
	segments := []struct {
		name   string
		region uint32
		seg    Segment
	}{
		{"user code", regionUserCode, c.Layout.UserCode},
		{"user data", regionUserData, c.Layout.UserData},
		{"stack arena", regionStack, c.Layout.StackArena},
	}
	for i, s := range segments {
		if err := mpu.Validate(s.region, s.seg.Base, s.seg.SizeLog2); err != nil {
			return model.NewKernelError(model.ErrInvalidRegion, "%s segment: %v", s.name, err)
		}
		for _, prev := range segments[:i] {
			if s.seg.overlaps(prev.seg) {
				return model.NewKernelError(model.ErrInvalidRegion, "%s segment overlaps %s segment", s.name, prev.name)
			}
		}
	}

	// User slots plus idle each need a window; main runs on the boot stack.
	windows := uint64(c.MaxTasks) + 1
	need := windows << StackWindowLog2(c.StackWords)
	if need > c.Layout.StackArena.Size() {
		return model.NewKernelError(model.ErrCapacityExhausted,
			"%d stacks of %d words need %d bytes, arena holds %d", windows, c.StackWords, need, c.Layout.StackArena.Size())
	}
	return nil
}

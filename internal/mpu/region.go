// Package mpu manages the hardware memory-protection regions: validation,
// programming through a register port, and memory fault diagnosis.
package mpu

import (
	"fmt"
	"log/slog"

	"github.com/me/rtk/pkg/model"
)

const (
	// NumRegions is the hardware region capacity.
	NumRegions = 8
	// MaxRegion is the highest valid region number.
	MaxRegion = NumRegions - 1
	// MinSizeLog2 is the protection granularity (32 bytes).
	MinSizeLog2 = 5
	// MaxSizeLog2 is the largest encodable region (4 GiB).
	MaxSizeLog2 = 32
)

// Region mirrors one programmed hardware region.
type Region struct {
	Number    uint32 `json:"number"`
	Base      uint32 `json:"base"`
	SizeLog2  uint8  `json:"size_log2"`
	Execute   bool   `json:"execute"`
	UserWrite bool   `json:"user_write"`
	Enabled   bool   `json:"enabled"`
}

// Size returns the region size in bytes.
func (r Region) Size() uint64 {
	return 1 << r.SizeLog2
}

// Contains reports whether addr falls inside the region.
func (r Region) Contains(addr uint32) bool {
	a := uint64(addr)
	return a >= uint64(r.Base) && a < uint64(r.Base)+r.Size()
}

// Validate checks a region request without touching hardware.
func Validate(number, base uint32, sizeLog2 uint8) error {
	if number > MaxRegion {
		return model.NewKernelError(model.ErrInvalidRegion, "region number %d exceeds %d", number, MaxRegion)
	}
	if sizeLog2 < MinSizeLog2 {
		return model.NewKernelError(model.ErrInvalidRegion, "region size 2^%d below minimum 2^%d", sizeLog2, MinSizeLog2)
	}
	if sizeLog2 > MaxSizeLog2 {
		return model.NewKernelError(model.ErrInvalidRegion, "region size 2^%d above maximum 2^%d", sizeLog2, MaxSizeLog2)
	}
	if uint64(base)&(uint64(1)<<sizeLog2-1) != 0 {
		return model.NewKernelError(model.ErrInvalidRegion, "base %#x not aligned to 2^%d", base, sizeLog2)
	}
	return nil
}

// Manager owns the region table and programs it through a Registers port.
type Manager struct {
	regs    Registers
	regions [NumRegions]Region
	logger  *slog.Logger
}

// NewManager creates a region manager over the given register port.
func NewManager(regs Registers, logger *slog.Logger) *Manager {
	m := &Manager{
		regs:   regs,
		logger: logger.With("component", "mpu"),
	}
	for i := range m.regions {
		m.regions[i].Number = uint32(i)
	}
	return m
}

// EnableProtection turns the MPU on with the privileged background region,
// so the kernel keeps access to everything not covered by a region.
func (m *Manager) EnableProtection() {
	m.regs.Write(RegCTRL, CtrlEnable|CtrlBGRegion)
}

// Enable programs region number with the given window and permissions.
// Invalid requests return an INVALID_REGION error and write nothing.
func (m *Manager) Enable(number, base uint32, sizeLog2 uint8, execute, userWrite bool) error {
	if err := Validate(number, base, sizeLog2); err != nil {
		m.logger.Warn("region rejected", "region", number, "base", fmt.Sprintf("%#x", base), "size_log2", sizeLog2, "error", err)
		return err
	}

	m.regs.Write(RegRNR, number)
	m.regs.Write(RegRBAR, base)
	m.regs.Write(RegRASR, EncodeRASR(sizeLog2, execute, userWrite))

	m.regions[number] = Region{
		Number:    number,
		Base:      base,
		SizeLog2:  sizeLog2,
		Execute:   execute,
		UserWrite: userWrite,
		Enabled:   true,
	}
	m.logger.Debug("region enabled", "region", number, "base", fmt.Sprintf("%#x", base), "size_log2", sizeLog2,
		"execute", execute, "user_write", userWrite)
	return nil
}

// Disable clears the enable bit of region number, keeping its configuration.
// Out-of-range numbers are ignored.
func (m *Manager) Disable(number uint32) {
	if number > MaxRegion {
		m.logger.Warn("disable of invalid region ignored", "region", number)
		return
	}
	m.regs.Write(RegRNR, number)
	m.regs.Write(RegRASR, m.regs.Read(RegRASR)&^RASREnable)
	m.regions[number].Enabled = false
}

// Region returns the recorded state of region number.
func (m *Manager) Region(number uint32) (Region, bool) {
	if number > MaxRegion {
		return Region{}, false
	}
	return m.regions[number], true
}

// Regions returns a copy of the region table.
func (m *Manager) Regions() []Region {
	out := make([]Region, NumRegions)
	copy(out, m.regions[:])
	return out
}

// Covering returns the enabled region with the highest number that contains
// addr; higher-numbered regions take priority on overlap, as in hardware.
func (m *Manager) Covering(addr uint32) (Region, bool) {
	for i := MaxRegion; i >= 0; i-- {
		r := m.regions[i]
		if r.Enabled && r.Contains(addr) {
			return r, true
		}
	}
	return Region{}, false
}

// EncodeRASR returns the attribute/size register value of an enabled region.
// sizeLog2 must already be validated.
func EncodeRASR(sizeLog2 uint8, execute, userWrite bool) uint32 {
	ap := uint32(RASRAPUserRO)
	if userWrite {
		ap = RASRAPUserRW
	}
	var xn uint32 = RASRExecuteNever
	if execute {
		xn = 0
	}
	size := (uint32(sizeLog2-1) << 1) & RASRSizeMask
	return size | ap | xn | RASREnable
}

// Log2Ceil returns the smallest k such that 2^k >= n. n == 0 is treated as 1.
func Log2Ceil(n uint32) uint8 {
	var k uint8
	for uint64(n) > uint64(1)<<k {
		k++
	}
	return k
}

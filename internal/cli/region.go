package cli

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/rtk/internal/kernel"
	"github.com/me/rtk/internal/mpu"
)

func newRegionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "region",
		Short: "MPU region arithmetic",
	}
	cmd.AddCommand(
		newRegionCheckCmd(),
		newRegionLog2CeilCmd(),
		newRegionFaultCmd(),
	)
	return cmd
}

// parseUint32 accepts decimal, 0x-hex and 0b-binary.
func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return uint32(v), nil
}

func newRegionCheckCmd() *cobra.Command {
	var number uint32
	var base string
	var sizeLog2 uint8
	var execute, userWrite bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a region and print its register encoding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := parseUint32(base)
			if err != nil {
				return err
			}
			if err := mpu.Validate(number, b, sizeLog2); err != nil {
				return err
			}
			r := mpu.Region{Number: number, Base: b, SizeLog2: sizeLog2, Execute: execute, UserWrite: userWrite, Enabled: true}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Region %d: valid\n", number)
			fmt.Fprintf(out, "  Range: %#x - %#x (%s)\n", r.Base, uint64(r.Base)+r.Size()-1, humanize.IBytes(r.Size()))
			fmt.Fprintf(out, "  RBAR:  0x%08x\n", r.Base)
			fmt.Fprintf(out, "  RASR:  0x%08x\n", mpu.EncodeRASR(sizeLog2, execute, userWrite))
			return nil
		},
	}

	cmd.Flags().Uint32Var(&number, "number", 0, "Region number (0-7)")
	cmd.Flags().StringVar(&base, "base", "0", "Base address (decimal or 0x hex)")
	cmd.Flags().Uint8Var(&sizeLog2, "size-log2", mpu.MinSizeLog2, "log2 of the region size in bytes")
	cmd.Flags().BoolVar(&execute, "execute", false, "Allow instruction fetch")
	cmd.Flags().BoolVar(&userWrite, "user-write", false, "Allow unprivileged writes")
	return cmd
}

func newRegionLog2CeilCmd() *cobra.Command {
	var words bool

	cmd := &cobra.Command{
		Use:   "log2ceil <n>...",
		Short: "Smallest k with 2^k >= n; with --words, the stack window for n words",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, arg := range args {
				n, err := parseUint32(arg)
				if err != nil {
					return err
				}
				k := mpu.Log2Ceil(n)
				if words {
					k = kernel.StackWindowLog2(n)
				}
				fmt.Fprintf(out, "%s\t%d\t%s\n", arg, k, humanize.IBytes(uint64(1)<<k))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&words, "words", false, "Treat n as a stack size in 32-bit words")
	return cmd
}

func newRegionFaultCmd() *cobra.Command {
	var status, addr string

	cmd := &cobra.Command{
		Use:   "fault",
		Short: "Decode a MemManage fault status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseUint32(status)
			if err != nil {
				return err
			}
			a, err := parseUint32(addr)
			if err != nil {
				return err
			}
			f := mpu.Fault{Status: st, Address: a}

			out := cmd.OutOrStdout()
			action := mpu.NewManager(mpu.NewRegisterFile(), logger).Diagnose(f)
			fmt.Fprintf(out, "Fault: %s\n", f)
			fmt.Fprintf(out, "  Kernel response: %s\n", action)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "0", "CFSR value (decimal, 0x hex or 0b binary)")
	cmd.Flags().StringVar(&addr, "addr", "0", "MMFAR value")
	return cmd
}

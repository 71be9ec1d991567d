// Package emulator is the command-line entrypoint for the flux-engine core:
// mounting a disk image behind the RDATA/WDATA ring buffers and drive state
// machine the way the firmware's own interrupt handlers would, plus a
// hardware-independent format-conversion utility.
package emulator

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:   "floppy",
	Short: "Floppy disk flux emulator and image conversion tool",
	Long: `Mounts a disk image behind the flux engine core (RDATA/WDATA rings,
write-side PLL, drive step/motor state machine) the way the firmware would,
or converts between on-disk image formats directly.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

// Execute runs the emulator CLI.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

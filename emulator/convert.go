package emulator

import (
	"fmt"

	"github.com/sergev/flashfloppy/hfe"
	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert SRC.EXT DEST.EXT",
	Short: "Convert between image formats",
	Long: `Convert between image formats.
Reads contents of the SRC.EXT file and writes it to DEST.EXT file.
Format of floppy image is defined by extension. No hardware is used.
Supported image formats:
    *.adf          - Amiga Disk File
    *.hfe          - HxC Floppy Emulator
    *.img or *.ima - raw binary contents of the entire disk`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		srcFilename, destFilename := args[0], args[1]

		disk, err := hfe.Read(srcFilename)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", srcFilename, err)
		}
		if err := hfe.Write(destFilename, disk); err != nil {
			return fmt.Errorf("failed to write file %s: %w", destFilename, err)
		}

		fmt.Printf("Successfully converted %s to %s\n", srcFilename, destFilename)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)
}

// Command floppy mounts a disk image behind the flux-engine core (RDATA/
// WDATA DMA rings, write-side PLL, drive step/motor state machine) or
// converts between on-disk image formats directly.
package main

import "github.com/sergev/flashfloppy/emulator"

func main() {
	emulator.Execute()
}

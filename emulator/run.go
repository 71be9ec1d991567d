package emulator

import (
	"fmt"

	"github.com/sergev/flashfloppy/config"
	"github.com/sergev/flashfloppy/drive"
	"github.com/sergev/flashfloppy/fluxengine"
	"github.com/sergev/flashfloppy/image"
	"github.com/sergev/flashfloppy/timer"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run IMAGE",
	Short: "Mount IMAGE and drive it through the emulator core",
	Long: `Loads IMAGE through the image-format handler layer (hfe/adf/img, dsk,
or a mounted Direct-Access session) and drives fluxengine.Engine the way the
firmware's RDATA DMA-completion interrupt would: filling the read ring,
tracking index phase, and reporting under/overrun counts for track 0, side 0.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return Run(args[0])
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// defaultMotorDelayMS/defaultHeadSettleMS match config.Drive.applyDefaults'
// own firmware defaults, used when no configuration file is present.
const (
	defaultMotorDelayMS = 750
	defaultHeadSettleMS = 15
)

// Run mounts path and exercises one simulated revolution of track 0, side 0
// through the flux engine core, printing a status summary. Drive timing
// (motor spin-up delay, head-settle delay) comes from the configured
// default drive when available, falling back to the firmware defaults.
func Run(path string) error {
	img, err := image.OpenFile(path)
	if err != nil {
		return err
	}
	if err := img.Handler.SetupTrack(img, 0); err != nil {
		return fmt.Errorf("setup track 0: %w", err)
	}

	motorDelayMS, headSettleMS := defaultMotorDelayMS, defaultHeadSettleMS
	if err := config.Initialize(); err == nil {
		motorDelayMS = config.Options.MotorDelayMS
		headSettleMS = config.Options.HeadSettleMS
	}

	queue := timer.NewQueue()
	maxCyl := img.Geometry.NrCyls - 1
	if maxCyl < 0 {
		maxCyl = 0
	}
	d := drive.New(queue, uint64(motorDelayMS)*1_000_000, uint64(headSettleMS)*1_000_000, maxCyl)
	d.Motor.Assert(0)
	queue.Tick(uint64(motorDelayMS) * 1_000_000)

	engine := fluxengine.NewEngine(img)
	engine.Read.Start()
	var ticks uint32
	for engine.Read.Len() < 512 {
		pushed := engine.Fill()
		if pushed == 0 {
			break
		}
		ticks += pushed
	}
	engine.Read.Activate()
	deadline := engine.NextIndexDeadline()

	fmt.Printf("Mounted %s: %d cylinders, %d side(s)\n", path, img.Geometry.NrCyls, img.Geometry.NrSides)
	fmt.Printf("Drive motor on: %v (spin-up %dms)\n", d.Motor.On, motorDelayMS)
	fmt.Printf("Track 0 side 0: %d bitcells, ring filled %d ticks, next index in %d ticks\n",
		img.Geometry.TracklenBC, ticks, deadline)
	fmt.Printf("Underruns: %d, overruns: %d\n", engine.Underruns(), engine.Overruns())
	return nil
}

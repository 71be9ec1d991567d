// Package image implements the format-independent disk image model: a
// computed track geometry, the current-track decode cursor, the shared
// read/write/staging bit buffers, and the per-format Handler interface that
// fluxengine drives to turn those buffers into (and out of) flux.
//
// A Handler owns the on-disk representation (an hfe.Disk, a dsk.Disk, a
// da.State, ...) and is responsible for translating it to and from the
// Image's buffers; Image itself never looks inside that representation.
package image

import "fmt"

// Geometry is the computed per-image layout a Handler publishes after Open,
// and may refine per-track in SetupTrack (some formats vary track length).
type Geometry struct {
	NrCyls       int    // number of cylinders
	NrSides      int    // number of sides (1 or 2)
	TracklenBC   int    // current track length, in bitcells
	TicksPerCell int64  // nominal sample-clock ticks per bitcell
	StkPerRev    uint32 // sample-clock ticks per revolution (index period)
}

// Image is the shared, format-independent state fluxengine drives: the
// active Handler, its computed Geometry, the current track/side, the decode
// cursor into the current track's flux stream, and the three ring buffers
// the core spec calls read, write, and staging.
//
// ReadBits holds the current track's bitstream as the Handler last prepared
// it for RdataFlux. WriteBits accumulates bitcells decoded from captured
// WDATA edges until WriteTrack commits them. WriteStaging is a spare buffer
// for a previously committed track; no Handler in this package sets or
// reads it.
type Image struct {
	Handler  Handler
	Geometry Geometry

	CurCyl  int
	CurSide int

	// DecodeCursor indexes into the Handler's current flux-interval stream;
	// RdataFlux advances it and wraps at the revolution boundary so repeated
	// calls continue streaming rather than restarting each time.
	DecodeCursor int64

	ReadBits     []byte
	WriteBits    []byte
	WriteStaging []byte

	// WriteRecordLost is set when a write-ring overrun discarded bitcells
	// mid-record; WriteTrack must refuse to commit while it is set, and
	// SetupTrack and fluxengine's Engine.CommitWrite clear it for the next
	// record.
	WriteRecordLost bool

	// Scratch is the Handler's own backing value (*hfe.Disk, *dsk.Disk,
	// *da.State, ...), exposed so callers that know the concrete format can
	// reach into it without the Handler interface growing format-specific
	// methods.
	Scratch any
}

// Handler is the per-format adapter fluxengine drives. Open loads the
// backing image and publishes its Geometry. SetupTrack selects a track
// (trackIdx = cyl*NrSides+side) and prepares ReadBits/the flux cursor for
// it (formats that store decoded bytes rather than a ready flux stream, like
// dsk, synthesize one there). ReadTrack reports whether the current track's
// flux stream is ready. WriteTrack commits the bitcells accumulated in
// WriteBits and reports whether it did. RdataFlux
// fills out with up to len(out) flux-interval reload values, starting from
// Image.DecodeCursor, and returns how many it wrote. Sync flushes any
// pending WriteTrack commits to the backing store.
type Handler interface {
	Open(img *Image) error
	SetupTrack(img *Image, trackIdx int) error
	ReadTrack(img *Image) bool
	WriteTrack(img *Image) bool
	RdataFlux(img *Image, out []uint16) int
	Sync(img *Image) error
}

// AppendBit packs bit into bits at bit position n (MSB-first within each
// byte), growing bits as needed, and returns the (possibly reallocated)
// slice.
func AppendBit(bits []byte, n int, bit bool) []byte {
	byteIdx := n / 8
	for len(bits) <= byteIdx {
		bits = append(bits, 0)
	}
	if bit {
		bits[byteIdx] |= 1 << uint(7-(n%8))
	}
	return bits
}

// FluxIntervals converts an MFM bitcell stream into a cyclic sequence of
// sample-clock reload values covering one full rotation, grounded on
// mfm.GenerateFluxTransitions/mfm.CoverFullRotation and scaled from
// nanoseconds to sampleHz ticks. Shared by every Handler backed by an MFM
// bitstream (hfe, dsk).
func FluxIntervals(bits []byte, bitRateKhz, rpm uint16, sampleHz uint64, transitionsFn func([]byte, uint16) ([]uint64, error), coverFn func([]uint64, uint16, uint16) []uint64) ([]uint16, error) {
	if len(bits) == 0 {
		return nil, fmt.Errorf("image: empty track bitstream")
	}
	transitions, err := transitionsFn(bits, bitRateKhz)
	if err != nil {
		return nil, fmt.Errorf("image: flux conversion: %w", err)
	}
	transitions = coverFn(transitions, bitRateKhz, rpm)

	intervals := make([]uint16, 0, len(transitions))
	var prevTick uint64
	for _, ns := range transitions {
		tick := ns * sampleHz / 1_000_000_000
		d := tick - prevTick
		if d == 0 {
			d = 1
		}
		if d > 0xFFFF {
			d = 0xFFFF
		}
		intervals = append(intervals, uint16(d))
		prevTick = tick
	}
	return intervals, nil
}

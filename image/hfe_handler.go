package image

import (
	"fmt"

	"github.com/sergev/flashfloppy/hfe"
	"github.com/sergev/flashfloppy/mfm"
)

// sampleClockHz is the sample-clock rate flux-interval reload values are
// expressed in, matching the HxC-compatible emulator frequency hfe already
// assumes for its own bit-rate arithmetic.
const sampleClockHz = hfe.FLOPPYEMUFREQ

// HFEHandler adapts an *hfe.Disk (loaded from any hfe.Read-supported format:
// HFE, ADF, IMG/IMA, ...) to the Handler interface. hfe.Disk's per-track MFM
// bitstream is already the common representation every one of those formats
// normalises to, so one handler serves all of them.
type HFEHandler struct {
	path string
	disk *hfe.Disk

	intervals []uint16 // current track's cyclic flux-interval stream
}

// NewHFEHandler returns a Handler that loads path (auto-detected by
// extension, via hfe.Read) on Open.
func NewHFEHandler(path string) *HFEHandler {
	return &HFEHandler{path: path}
}

func (h *HFEHandler) Open(img *Image) error {
	disk, err := hfe.Read(h.path)
	if err != nil {
		return fmt.Errorf("image: open %s: %w", h.path, err)
	}
	h.disk = disk
	img.Scratch = disk
	img.Geometry = Geometry{
		NrCyls:       int(disk.Header.NumberOfTrack),
		NrSides:      int(disk.Header.NumberOfSide),
		TicksPerCell: int64(sampleClockHz) / (int64(disk.Header.BitRate) * 1000 * 2),
		StkPerRev:    uint32(60 * sampleClockHz / uint32(disk.Header.FloppyRPM)),
	}
	return nil
}

func (h *HFEHandler) track(trackIdx int, img *Image) (*hfe.TrackData, int, error) {
	cyl := trackIdx / img.Geometry.NrSides
	side := trackIdx % img.Geometry.NrSides
	if cyl < 0 || cyl >= len(h.disk.Tracks) {
		return nil, side, fmt.Errorf("image: track index %d out of range", trackIdx)
	}
	return &h.disk.Tracks[cyl], side, nil
}

func (h *HFEHandler) SetupTrack(img *Image, trackIdx int) error {
	t, side, err := h.track(trackIdx, img)
	if err != nil {
		return err
	}

	cyl := trackIdx / img.Geometry.NrSides
	bits := t.Side0
	if side == 1 {
		bits = t.Side1
	}

	img.CurCyl = cyl
	img.CurSide = side
	img.ReadBits = bits
	img.WriteBits = nil
	img.WriteRecordLost = false
	img.DecodeCursor = 0
	img.Geometry.TracklenBC = len(bits) * 8

	intervals, err := FluxIntervals(bits, h.disk.Header.BitRate, h.disk.Header.FloppyRPM,
		sampleClockHz, mfm.GenerateFluxTransitions, mfm.CoverFullRotation)
	if err != nil {
		return fmt.Errorf("image: track %d: %w", trackIdx, err)
	}
	h.intervals = intervals
	return nil
}

// ReadTrack reports whether the current track's flux stream is ready.
// hfe-backed tracks are already stored as a complete bitstream, so this is
// always true once SetupTrack has run.
func (h *HFEHandler) ReadTrack(img *Image) bool {
	return len(h.intervals) > 0
}

// WriteTrack commits the bitcells accumulated in img.WriteBits as the
// current track's new MFM bitstream, unless a write-ring overrun marked the
// record lost.
func (h *HFEHandler) WriteTrack(img *Image) bool {
	if img.WriteRecordLost || len(img.WriteBits) == 0 {
		return false
	}
	t, side, err := h.track(img.CurCyl*img.Geometry.NrSides+img.CurSide, img)
	if err != nil {
		return false
	}
	if side == 1 {
		t.Side1 = img.WriteBits
	} else {
		t.Side0 = img.WriteBits
	}
	return true
}

func (h *HFEHandler) RdataFlux(img *Image, out []uint16) int {
	if len(h.intervals) == 0 {
		return 0
	}
	n := 0
	for n < len(out) {
		idx := int(img.DecodeCursor) % len(h.intervals)
		out[n] = h.intervals[idx]
		img.DecodeCursor++
		n++
	}
	return n
}

func (h *HFEHandler) Sync(img *Image) error {
	if err := hfe.Write(h.path, h.disk); err != nil {
		return fmt.Errorf("image: sync %s: %w", h.path, err)
	}
	return nil
}

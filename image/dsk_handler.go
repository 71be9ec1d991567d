package image

import (
	"fmt"

	"github.com/sergev/flashfloppy/dsk"
	"github.com/sergev/flashfloppy/mfm"
)

// dskBitRate and dskRPM assume standard double-density IBM-PC timing; DSK
// carries no bit-rate/RPM fields of its own (it stores decoded sector bytes,
// not flux), so a fixed nominal clock is used to synthesize one.
const (
	dskBitRate = 250
	dskRPM     = 300
)

// DSKHandler adapts a *dsk.Disk (CPCEMU-format decoded sector bytes, one or
// more copies per sector) to the Handler interface by synthesizing an
// IBM-PC MFM bitstream per track on demand, the same encoder hfe/img.go uses
// for raw IMG images.
type DSKHandler struct {
	path string
	disk *dsk.Disk

	intervals []uint16
	track     *dsk.Track
}

// NewDSKHandler returns a Handler that loads path as a DSK image on Open.
func NewDSKHandler(path string) *DSKHandler {
	return &DSKHandler{path: path}
}

func (h *DSKHandler) Open(img *Image) error {
	d, err := dsk.Read(h.path)
	if err != nil {
		return fmt.Errorf("image: open %s: %w", h.path, err)
	}
	h.disk = d
	img.Scratch = d

	cyls, heads := 0, 0
	for _, t := range d.Tracks {
		if t.Cylinder+1 > cyls {
			cyls = t.Cylinder + 1
		}
		if t.Head+1 > heads {
			heads = t.Head + 1
		}
	}
	if heads == 0 {
		heads = 1
	}
	img.Geometry = Geometry{
		NrCyls:       cyls,
		NrSides:      heads,
		TicksPerCell: int64(sampleClockHz) / (dskBitRate * 1000 * 2),
		StkPerRev:    uint32(60 * sampleClockHz / dskRPM),
	}
	return nil
}

func (h *DSKHandler) SetupTrack(img *Image, trackIdx int) error {
	cyl := trackIdx / img.Geometry.NrSides
	side := trackIdx % img.Geometry.NrSides

	t := h.disk.FindTrack(cyl, side)
	if t == nil {
		return fmt.Errorf("image: track %d.%d not present in dsk image", cyl, side)
	}
	h.track = t

	// A weak sector's copy cycles on every read (ReadWeak), so each
	// SetupTrack of a weak track may encode a different bit pattern,
	// reproducing copy-protection schemes that vary data across revolutions.
	sectors := make([][]byte, len(t.Sectors))
	for i := range t.Sectors {
		sectors[i] = t.Sectors[i].ReadWeak()
	}

	maxHalfBits := dskBitRate * 1000 * 60 / dskRPM * 2
	bits := mfm.NewWriter(maxHalfBits).EncodeTrackIBMPC(sectors, cyl, side, len(sectors))

	img.CurCyl = cyl
	img.CurSide = side
	img.ReadBits = bits
	img.WriteBits = nil
	img.WriteRecordLost = false
	img.DecodeCursor = 0
	img.Geometry.TracklenBC = len(bits) * 8

	intervals, err := FluxIntervals(bits, dskBitRate, dskRPM, sampleClockHz,
		mfm.GenerateFluxTransitions, mfm.CoverFullRotation)
	if err != nil {
		return fmt.Errorf("image: track %d.%d: %w", cyl, side, err)
	}
	h.intervals = intervals
	return nil
}

func (h *DSKHandler) ReadTrack(img *Image) bool {
	return len(h.intervals) > 0
}

// WriteTrack decodes the MFM bitstream accumulated in img.WriteBits back
// into sector bytes (mirroring hfe.WriteIMG's decode loop) and stores them
// as the current track's sole copy, replacing any stored weak-sector
// alternatives.
func (h *DSKHandler) WriteTrack(img *Image) bool {
	if img.WriteRecordLost || len(img.WriteBits) == 0 || h.track == nil {
		return false
	}

	reader := mfm.NewReader(img.WriteBits)
	sectorsPerTrack := reader.CountSectorsIBMPC()
	if sectorsPerTrack == 0 {
		return false
	}

	reader = mfm.NewReader(img.WriteBits)
	decoded := make(map[int][]byte)
	for len(decoded) < sectorsPerTrack {
		num, data, err := reader.ReadSectorIBMPC(img.CurCyl, img.CurSide)
		if err != nil {
			break
		}
		decoded[num] = data
	}

	for i := range h.track.Sectors {
		sec := &h.track.Sectors[i]
		if data, ok := decoded[int(sec.Number)]; ok {
			sec.Copies = [][]byte{data}
		}
	}
	return true
}

func (h *DSKHandler) RdataFlux(img *Image, out []uint16) int {
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

// Sync is a no-op: this module doesn't re-serialise DSK's DIB/TIB/SIB
// container back to disk, since the DA/flux-emulation paths that exercise
// DSKHandler only need in-memory read/write of the already-parsed sectors.
func (h *DSKHandler) Sync(img *Image) error {
	return nil
}

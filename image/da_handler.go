package image

import (
	"fmt"

	"github.com/sergev/flashfloppy/da"
	"github.com/sergev/flashfloppy/mfm"
)

// daBitRate/daRPM pick a nominal clock to carry the DA status/command
// sector over the same RDATA/WDATA flux channel as a real track, since DA
// has no physical media timing of its own.
const (
	daBitRate = 250
	daRPM     = 300
)

// DAHandler adapts da.State (the Direct-Access command/status protocol) to
// the Handler interface. It exposes a single synthetic track: reading it
// yields the current status sector MFM-encoded as an IBM-PC sector 1;
// writing it decodes a command sector and applies it to the DA state.
type DAHandler struct {
	state *da.State

	intervals []uint16
}

// NewDAHandler returns a Handler reporting firmwareVersion in its status
// sector.
func NewDAHandler(firmwareVersion string) *DAHandler {
	return &DAHandler{state: &da.State{FirmwareVersion: firmwareVersion}}
}

// State returns the underlying DA state, for callers (e.g. the emulator
// loop) that need to select images or report status outside the Handler
// interface.
func (h *DAHandler) State() *da.State { return h.state }

func (h *DAHandler) Open(img *Image) error {
	img.Scratch = h.state
	img.Geometry = Geometry{
		NrCyls:       1,
		NrSides:      1,
		TicksPerCell: int64(sampleClockHz) / (daBitRate * 1000 * 2),
		StkPerRev:    uint32(60 * sampleClockHz / daRPM),
	}
	return nil
}

func (h *DAHandler) SetupTrack(img *Image, trackIdx int) error {
	status := h.state.StatusSector()
	maxHalfBits := daBitRate * 1000 * 60 / daRPM * 2
	bits := mfm.NewWriter(maxHalfBits).EncodeTrackIBMPC([][]byte{status[:]}, 0, 0, 1)

	img.CurCyl = 0
	img.CurSide = 0
	img.ReadBits = bits
	img.WriteBits = nil
	img.WriteRecordLost = false
	img.DecodeCursor = 0
	img.Geometry.TracklenBC = len(bits) * 8

	intervals, err := FluxIntervals(bits, daBitRate, daRPM, sampleClockHz,
		mfm.GenerateFluxTransitions, mfm.CoverFullRotation)
	if err != nil {
		return fmt.Errorf("image: da status track: %w", err)
	}
	h.intervals = intervals
	return nil
}

func (h *DAHandler) ReadTrack(img *Image) bool {
	return len(h.intervals) > 0
}

// WriteTrack decodes the command sector written over WDATA and applies it
// to the DA state, per da.Handle's request/response contract.
func (h *DAHandler) WriteTrack(img *Image) bool {
	if img.WriteRecordLost || len(img.WriteBits) == 0 {
		return false
	}
	reader := mfm.NewReader(img.WriteBits)
	_, data, err := reader.ReadSectorIBMPC(0, 0)
	if err != nil {
		return false
	}
	cmd, param, err := da.ParseCommand(data)
	if err != nil {
		return false
	}
	h.state.Apply(cmd, param)
	return true
}

func (h *DAHandler) RdataFlux(img *Image, out []uint16) int {
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

// Sync is a no-op: DA state lives only for the current session, it is never
// persisted to a backing file.
func (h *DAHandler) Sync(img *Image) error {
	return nil
}

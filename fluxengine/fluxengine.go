// Package fluxengine models the RDATA/WDATA DMA ring buffers and state
// machines described by the flux engine: fixed-size single-producer,
// single-consumer rings plus an inactive/starting/active/stopping state
// machine, driven by direct calls to its methods (Fill, CaptureEdge,
// DecodeEdges, CommitWrite) instead of a hardware DMA-completion interrupt,
// and fed by an image.Handler rather than directly by hardware.
package fluxengine

import (
	"github.com/sergev/flashfloppy/image"
	"github.com/sergev/flashfloppy/wpll"
)

const ringSize = 1024 // power of two; index masking uses ringMask
const ringMask = ringSize - 1

// State is the DMA ring's lifecycle, shared by the read and write rings.
type State int

const (
	Inactive State = iota
	Starting
	Active
	Stopping
)

// ReadRing carries flux-interval reload values (in sample-clock ticks) from
// an image handler's rdata_flux producer to a simulated RDATA consumer.
type ReadRing struct {
	state State
	buf   [ringSize]uint16
	prod  uint16
	cons  uint16
}

// State returns the ring's current lifecycle state.
func (r *ReadRing) State() State { return r.state }

// Len returns the number of queued, unconsumed intervals.
func (r *ReadRing) Len() int {
	return int(r.prod-r.cons) & ringMask
}

// Push appends one flux-interval reload value; it is the caller's
// responsibility not to overrun the ring (Len() < ringSize-1).
func (r *ReadRing) Push(interval uint16) {
	r.buf[r.prod&ringMask] = interval
	r.prod++
}

// Pop removes and returns the next queued interval. ok is false if the ring
// is empty (an underrun).
func (r *ReadRing) Pop() (interval uint16, ok bool) {
	if r.cons == r.prod {
		return 0, false
	}
	v := r.buf[r.cons&ringMask]
	r.cons++
	return v, true
}

// Start transitions inactive->starting. Refill (image handler's rdata_flux)
// should be called until the ring is at least half full, then Activate.
func (r *ReadRing) Start() {
	if r.state == Inactive {
		r.state = Starting
	}
}

// Activate transitions starting->active once the ring has been pre-filled.
func (r *ReadRing) Activate() {
	if r.state == Starting {
		r.state = Active
	}
}

// Stop transitions active->stopping (track change, side change, WGATE, or
// cancellation); the ring drains via Pop until empty, then call Idle.
func (r *ReadRing) Stop() {
	if r.state == Active || r.state == Starting {
		r.state = Stopping
	}
}

// Idle transitions stopping->inactive once the ring has fully drained.
func (r *ReadRing) Idle() {
	if r.state == Stopping && r.Len() == 0 {
		r.state = Inactive
	}
}

// WriteRing carries captured WDATA edge timestamps (sample-clock counts)
// from a simulated input-capture DMA to the PLL/bitcell decoder. Capture
// reports false, without storing timestamp, when the ring is already full —
// the caller (Engine.CaptureEdge) turns that into an overrun.
type WriteRing struct {
	state State
	buf   [ringSize]uint32
	prod  uint16
	cons  uint16
}

func (w *WriteRing) State() State { return w.state }

func (w *WriteRing) Len() int {
	return int(w.prod-w.cons) & ringMask
}

// Capture stores timestamp if the ring has room, and reports whether it
// did; the ring keeps one slot permanently empty (ringSize-1 capacity) so
// Len()'s producer/consumer-distance trick can tell full from empty.
func (w *WriteRing) Capture(timestamp uint32) bool {
	if w.Len() >= ringSize-1 {
		return false
	}
	w.buf[w.prod&ringMask] = timestamp
	w.prod++
	return true
}

func (w *WriteRing) Decode() (timestamp uint32, ok bool) {
	if w.cons == w.prod {
		return 0, false
	}
	v := w.buf[w.cons&ringMask]
	w.cons++
	return v, true
}

func (w *WriteRing) Start() {
	if w.state == Inactive {
		w.state = Starting
		w.state = Active // input-capture runs continuously once armed
	}
}

func (w *WriteRing) Stop() {
	if w.state == Active {
		w.state = Stopping
	}
}

func (w *WriteRing) Idle() {
	if w.state == Stopping && w.Len() == 0 {
		w.state = Inactive
	}
}

// Engine drives one track's read and write rings against an *image.Image,
// refilling the read ring from Image.Handler.RdataFlux on each Fill and
// decoding captured write edges through a wpll.State into Image.WriteBits,
// tracking index phase the way the core spec's resync logic does: after
// refilling, if the cursor has wrapped past the declared per-revolution
// tick count, the next index deadline is computed from the remainder so the
// index pulse stays phase-locked to the flux pattern.
type Engine struct {
	Read  ReadRing
	Write WriteRing
	Img   *image.Image

	wpll         wpll.State
	haveLastEdge bool

	ticksSinceIndex uint32
	underruns       int
	overruns        int
}

// NewEngine returns an engine driven by img; img.Handler must already have
// had SetupTrack called to select the active track.
func NewEngine(img *image.Image) *Engine {
	return &Engine{Img: img}
}

// Underruns reports how many read-ring Pop calls found an empty ring.
func (e *Engine) Underruns() int { return e.underruns }

// Overruns reports how many write-ring Capture calls found a full ring —
// each one discards the edge and marks the in-progress write record lost.
func (e *Engine) Overruns() int { return e.overruns }

// Fill refills the read ring up to its half-full threshold by asking the
// image handler for more flux intervals. Returns the number of sample-clock
// ticks worth of interval pushed, for index-phase bookkeeping.
func (e *Engine) Fill() uint32 {
	if e.Img == nil || e.Img.Handler == nil {
		return 0
	}
	need := ringSize/2 - e.Read.Len()
	if need <= 0 {
		return 0
	}
	buf := make([]uint16, need)
	n := e.Img.Handler.RdataFlux(e.Img, buf)

	var ticksPushed uint32
	for i := 0; i < n; i++ {
		e.Read.Push(buf[i])
		ticksPushed += uint32(buf[i])
		e.ticksSinceIndex += uint32(buf[i])
	}
	return ticksPushed
}

// NextIndexDeadline returns how many sample-clock ticks remain until the
// next index pulse should fire, given the image's declared tick count per
// revolution, resyncing the internal cursor exactly at the boundary.
func (e *Engine) NextIndexDeadline() uint32 {
	if e.Img == nil {
		return 0
	}
	perRev := e.Img.Geometry.StkPerRev
	if perRev == 0 {
		return 0
	}
	remainder := e.ticksSinceIndex % perRev
	e.ticksSinceIndex = remainder
	return perRev - remainder
}

// ConsumeFlux pops n intervals from the read ring, as a simulated RDATA
// timer-reload consumer would; it records an underrun for any pop that
// finds the ring empty.
func (e *Engine) ConsumeFlux(n int) []uint16 {
	out := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		v, ok := e.Read.Pop()
		if !ok {
			e.underruns++
			break
		}
		out = append(out, v)
	}
	return out
}

// CaptureEdge records one WDATA edge at sample-clock timestamp, as a
// hardware input-capture DMA channel would. On a write-ring overrun the
// edge is discarded and the in-progress write record is marked lost per the
// flux engine's overrun contract; decoding is left to a subsequent
// DecodeEdges call so capture itself never blocks.
func (e *Engine) CaptureEdge(timestamp uint32) {
	if !e.Write.Capture(timestamp) {
		e.overruns++
		if e.Img != nil {
			e.Img.WriteRecordLost = true
		}
	}
}

// DecodeEdges drains the write ring through the write-side PLL, appending
// one bitcell (1 for the edge's own cell, 0 for each skipped cell before
// it) per decoded edge into Image.WriteBits, and returns how many edges
// were decoded. bitcellTicks is the nominal sample-clock ticks per bitcell
// (Image.Geometry.TicksPerCell).
func (e *Engine) DecodeEdges(bitcellTicks int64) int {
	if e.Img == nil {
		return 0
	}
	decoded := 0
	var lastTimestamp uint32
	for {
		timestamp, ok := e.Write.Decode()
		if !ok {
			break
		}
		if !e.haveLastEdge {
			e.haveLastEdge = true
			lastTimestamp = timestamp
			e.wpll.Reset()
			skipped, hit := e.wpll.Edge(0, bitcellTicks)
			e.appendDecodedEdge(skipped, hit)
			decoded++
			continue
		}
		distance := int64(timestamp - lastTimestamp)
		lastTimestamp = timestamp
		skipped, hit := e.wpll.Edge(distance, bitcellTicks)
		e.appendDecodedEdge(skipped, hit)
		decoded++
	}
	return decoded
}

func (e *Engine) appendDecodedEdge(skipped int, hit bool) {
	if !hit {
		return
	}
	n := len(e.Img.WriteBits) * 8
	for i := 0; i < skipped; i++ {
		e.Img.WriteBits = image.AppendBit(e.Img.WriteBits, n, false)
		n++
	}
	e.Img.WriteBits = image.AppendBit(e.Img.WriteBits, n, true)
}

// CommitWrite hands the accumulated write bitcells to the image handler.
// It resets WriteBits and the decode state for the next record regardless
// of outcome, matching the spec's "current write record" framing — a lost
// or committed record doesn't carry over into the next one.
func (e *Engine) CommitWrite() bool {
	if e.Img == nil || e.Img.Handler == nil {
		return false
	}
	ok := e.Img.Handler.WriteTrack(e.Img)
	e.Img.WriteBits = nil
	e.Img.WriteRecordLost = false
	e.haveLastEdge = false
	e.wpll.Reset()
	return ok
}

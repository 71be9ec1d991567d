// Package wpll implements the write-side phase-locked loop that recovers
// bitcell timing from captured WDATA edge timestamps. It runs the 16.16
// fixed-point PI loop against live edge timing as edges arrive one at a
// time.
package wpll

// Q16 is the fixed-point scale: phase_step is expressed in units of
// 1/65536th of the nominal bitcell period.
const Q16 = 1 << 16

const (
	nominalStep = Q16 // phase_step starts at the nominal value
	propShift   = 4   // 1/16 proportional term
	intShift    = 6   // 1/64 integral term
)

const integralMax = int32(1<<31 - 1)

// State tracks the PLL's running phase_step and integral accumulator across
// successive edges for one write gate assertion.
type State struct {
	PhaseStep int64 // Q16 fixed-point fraction of the nominal bitcell period
	Integral  int32
	synced    bool
}

// Reset returns the PLL to its nominal, unsynchronised state, called at the
// start of each WGATE assertion.
func (s *State) Reset() {
	s.PhaseStep = nominalStep
	s.Integral = 0
	s.synced = false
}

// Edge processes one captured WDATA edge, `distance` nanoseconds since the
// previous edge (or since WGATE assertion for the first edge), against a
// nominal bitcell duration of bitcellTicks nanoseconds (write_bc_ticks).
//
// It returns the number of bitcells that were skipped (emitted as 0) before
// the bitcell containing this edge (emitted as 1), and hit=false if the edge
// was rejected as a glitch (falls within the previous bitcell).
func (s *State) Edge(distance, bitcellTicks int64) (bitcellsSkipped int, hit bool) {
	if bitcellTicks <= 0 {
		return 0, false
	}

	bitcellDuration := (s.PhaseStep * bitcellTicks) >> 16

	if !s.synced {
		// First pulse after WGATE: synchronise by placing the edge at the
		// midpoint of the current bitcell.
		s.synced = true
		return 0, true
	}

	if distance < bitcellDuration/2 {
		// Glitch filter: edge falls within the previous bitcell.
		return 0, false
	}

	skipped := 0
	remaining := distance
	for remaining >= bitcellDuration+bitcellDuration/2 {
		remaining -= bitcellDuration
		skipped++
	}
	// The previous edge sits at the midpoint of its bitcell, so the bitcell
	// containing this edge starts half a bitcell after it.
	remaining -= bitcellDuration / 2

	// remaining is now the distance from the left edge of the bitcell that
	// contains this edge.
	phaseError := (remaining - bitcellDuration/2) * Q16 / bitcellTicks

	integral := int64(s.Integral) + phaseError
	if integral > int64(integralMax) {
		integral = int64(integralMax)
	}
	if integral < -int64(integralMax)-1 {
		integral = -int64(integralMax) - 1
	}
	s.Integral = int32(integral)

	s.PhaseStep = nominalStep + phaseError>>propShift + int64(s.Integral)>>intShift

	return skipped, true
}

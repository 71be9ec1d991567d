// Package drive implements the floppy drive/head state machine: cylinder
// position, motor spin-up, step debounce/settle, and the write-drain policy
// applied when the host deasserts WGATE.
package drive

import "github.com/sergev/flashfloppy/timer"

// StepState is the step-pulse state machine: idle -> started (direction
// latched by StepBegin) -> settling (cylinder counter advanced by
// StepDebounce; head-settle delay, index gated low) -> idle. StepLatched is
// counted as active but no handler in this package sets it.
type StepState int

const (
	StepIdle StepState = iota
	StepStarted
	StepLatched
	StepSettling
)

// Active reports whether the step state machine is currently started or
// latched (the union the spec calls "active").
func (s StepState) Active() bool {
	return s == StepStarted || s == StepLatched
}

// WriteDrainPolicy selects how reads resume after WGATE deasserts.
type WriteDrainPolicy int

const (
	// DrainInstant: read stays paused until all queued writes are persisted;
	// index remains suppressed.
	DrainInstant WriteDrainPolicy = iota
	// DrainRealtime: reads resume immediately where writes ended; no index
	// suppression.
	DrainRealtime
	// DrainEOT: the read head is repositioned so the next index arrives
	// within roughly 20ms, then resumes.
	DrainEOT
)

// Motor tracks spin-up: On becomes true only after Delay has elapsed with
// the motor signal continuously asserted.
type Motor struct {
	On      bool
	Delay   uint64 // nanoseconds of continuous assertion required
	timer   timer.Timer
	queue   *timer.Queue
	started uint64
}

// NewMotor returns a motor controller arming spin-up timers on queue.
func NewMotor(queue *timer.Queue, delay uint64) *Motor {
	return &Motor{Delay: delay, queue: queue}
}

// Assert begins (or continues) motor spin-up. On becomes true after Delay
// has elapsed, unless Deassert is called first.
func (m *Motor) Assert(now uint64) {
	if m.On || m.timer.Active() {
		return
	}
	m.started = now
	m.timer.Deadline = now + m.Delay
	m.timer.Callback = func(any) { m.On = true }
	m.queue.Arm(&m.timer)
}

// Deassert stops the motor immediately, cancelling any pending spin-up.
func (m *Motor) Deassert() {
	m.queue.Cancel(&m.timer)
	m.On = false
}

// Drive holds head position, selection, and motor/step state for one
// emulated unit.
type Drive struct {
	Cyl             int
	Head            int
	Selected        bool
	Writing         bool
	Motor           *Motor
	StepState       StepState
	IndexSuppressed bool
	RestartPos      int64 // sample-tick cursor to resume reads at after a seek

	MaxCyl int

	stepDir   int // +1 or -1, latched at StepStarted
	stepTimer timer.Timer
	settleDur uint64
}

// New returns a drive with motor spin-up delay motorDelay and head-settle
// duration settleDelay (both in nanoseconds), stepping over maxCyl+1
// cylinders (0..maxCyl inclusive).
func New(queue *timer.Queue, motorDelay, settleDelay uint64, maxCyl int) *Drive {
	return &Drive{
		Motor:     NewMotor(queue, motorDelay),
		MaxCyl:    maxCyl,
		settleDur: settleDelay,
	}
}

// StepBegin is the high-priority handler: it latches step direction and
// intent without moving the cylinder counter yet.
func (d *Drive) StepBegin(dir int) {
	if dir > 0 {
		d.stepDir = 1
	} else {
		d.stepDir = -1
	}
	d.StepState = StepStarted
}

// StepDebounce is the lower-priority handler, invoked after a >=2ms debounce
// window: it advances the cylinder counter and begins the settle delay.
func (d *Drive) StepDebounce(queue *timer.Queue, now uint64) {
	if d.StepState != StepStarted {
		return
	}
	newCyl := d.Cyl + d.stepDir
	if newCyl < 0 {
		newCyl = 0
	}
	if newCyl > d.MaxCyl {
		newCyl = d.MaxCyl
	}
	d.Cyl = newCyl
	d.StepState = StepSettling
	d.IndexSuppressed = true

	d.stepTimer.Deadline = now + d.settleDur
	d.stepTimer.Callback = func(any) {
		d.StepState = StepIdle
		d.IndexSuppressed = false
	}
	queue.Arm(&d.stepTimer)
}

// SideSelect changes the active head. It only updates Head; it does not stop
// an in-flight read pipeline or re-run track setup.
func (d *Drive) SideSelect(head int) {
	d.Head = head
}

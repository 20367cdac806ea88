package controls

// DefaultHalfPeriod is the blink half period in simulation ticks (400 ms at 25 Hz).
const DefaultHalfPeriod = 10

// Blinker is a boolean oscillator with a half period counted in ticks. The
// zero value starts in the on phase, so an indicator lights on its first
// frame.
type Blinker struct {
	HalfPeriod int
	count      int
	off        bool
}

// Tick advances the oscillator and reports whether the phase just turned on.
func (b *Blinker) Tick() (rising bool) {
	half := b.HalfPeriod
	if half <= 0 {
		half = DefaultHalfPeriod
	}
	b.count++
	if b.count < half {
		return false
	}
	b.count = 0
	b.off = !b.off
	return !b.off
}

// On is the current phase.
func (b *Blinker) On() bool { return !b.off }

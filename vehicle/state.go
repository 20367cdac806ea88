// Package vehicle holds the simulated drivetrain state and the fixed-step
// dynamics that advance it.
package vehicle

import "fmt"

// Ranges shared by the integrator and every external writer.
const (
	MaxSpeed = 260.0  // km/h
	MaxRPM   = 8000.0 // rev/min
	MaxFuel  = 100.0  // percent
	MaxTemp  = 150.0  // °C

	IdleRPM         = 800.0
	RedlineRPM      = 7800.0
	MaxReverseSpeed = 40.0
)

// Gear is the selector position. The numeric value is the index carried on
// the bus.
type Gear uint8

const (
	Park Gear = iota
	Reverse
	Neutral
	Drive

	numGears = 4
)

var gearNames = [numGears]string{"P", "R", "N", "D"}

func (g Gear) String() string {
	if g < numGears {
		return gearNames[g]
	}
	return fmt.Sprintf("Gear(%d)", uint8(g))
}

// Next returns the following position of the P→R→N→D→P cycle.
func (g Gear) Next() Gear {
	return (g + 1) % numGears
}

// GearFromIndex maps a bus index to a gear. Out-of-range indices select Park.
func GearFromIndex(idx byte) Gear {
	if idx < numGears {
		return Gear(idx)
	}
	return Park
}

// State is the mutable simulation state.
type State struct {
	Speed    float64 `json:"speed"`
	RPM      float64 `json:"rpm"`
	Fuel     float64 `json:"fuel"`
	Temp     float64 `json:"temp"`
	Gear     Gear    `json:"gear"`
	EngineOn bool    `json:"engineOn"`

	Odometer float64 `json:"odometer"` // km
	Trip     float64 `json:"trip"`     // km
}

// DefaultState is the power-on state: engine off, Park, full tank, warm engine.
func DefaultState() State {
	return State{
		Fuel:     MaxFuel,
		Temp:     90,
		Gear:     Park,
		Odometer: 42358,
		Trip:     156.8,
	}
}

// Clamp forces every numeric field into its declared range.
func (s *State) Clamp() {
	s.Speed = Clamp(s.Speed, 0, MaxSpeed)
	s.RPM = Clamp(s.RPM, 0, MaxRPM)
	s.Fuel = Clamp(s.Fuel, 0, MaxFuel)
	s.Temp = Clamp(s.Temp, 0, MaxTemp)
	if s.Gear >= numGears {
		s.Gear = Park
	}
}

// Inputs are the pedal positions, both in percent.
type Inputs struct {
	Throttle float64 `json:"throttle"`
	Brake    float64 `json:"brake"`
}

// Clamp forces both pedals into [0,100].
func (in *Inputs) Clamp() {
	in.Throttle = Clamp(in.Throttle, 0, 100)
	in.Brake = Clamp(in.Brake, 0, 100)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

// DefaultEase is the smoothing factor used when no other is specified.
const DefaultEase = 0.15

// Lerp moves a a fraction f of the way toward b. It is the single smoothing
// primitive for the integrator and the display filters.
func Lerp(a, b, f float64) float64 {
	return a + (b-a)*f
}

package vehicle

import (
	"math"
	"time"
)

// Params are the environment constants of the integrator.
type Params struct {
	// Dt is the wall time one step represents; it only drives the distance
	// counters. The dynamics themselves are expressed per step.
	Dt time.Duration
	// AmbientTemp is where coolant settles with the engine off.
	AmbientTemp float64
}

// DefaultParams matches a 40 ms simulation tick at 22 °C.
func DefaultParams() Params {
	return Params{Dt: 40 * time.Millisecond, AmbientTemp: 22}
}

// Per-step rates.
const (
	engineOffSpeedDecay = 2.0
	engineOffRPMDecay   = 100.0
	idleCoastDecay      = 1.5
	driveCoastDecay     = 0.3
	driveBrakeRPMDrop   = 300.0
	driveBrakeGain      = 0.4
	reverseBrakeGain    = 0.3

	rpmEase        = 0.1
	driveRPMEase   = 0.15
	reverseEase    = 0.05
	warmEase       = 0.01
	coolEase       = 0.005
	fuelPerStep    = 0.002
	operatingTemp  = 90.0
	loadTempSpread = 15.0
)

// band emulates a group of gear ratios for the Drive accelerating branch.
type band struct {
	below       float64 // speed upper bound, exclusive
	accel       float64 // speed gained per unit of throttle
	baseRPM     float64
	perSpeed    float64
	perThrottle float64
}

var driveBands = [...]band{
	{below: 60, accel: 0.15, baseRPM: 800, perSpeed: 80, perThrottle: 30},
	{below: 120, accel: 0.08, baseRPM: 2000, perSpeed: 35, perThrottle: 25},
	{below: math.Inf(1), accel: 0.04, baseRPM: 2500, perSpeed: 25, perThrottle: 20},
}

func bandFor(speed float64) band {
	for _, b := range driveBands {
		if speed < b.below {
			return b
		}
	}
	return driveBands[len(driveBands)-1]
}

// Step advances s by one tick under in. It is deterministic and does not
// modify its arguments. Every numeric output is clamped.
func Step(s State, in Inputs, p Params) State {
	in.Clamp()
	next := s

	if !s.EngineOn {
		next.Speed = math.Max(0, s.Speed-engineOffSpeedDecay)
		next.RPM = math.Max(0, s.RPM-engineOffRPMDecay)
		next.Temp = Lerp(s.Temp, p.AmbientTemp, coolEase)
		advanceDistance(&next, p.Dt)
		next.Clamp()
		return next
	}

	switch s.Gear {
	case Park, Neutral:
		next.RPM = Lerp(s.RPM, IdleRPM+in.Throttle*60, rpmEase)
		next.Speed = math.Max(0, s.Speed-idleCoastDecay)

	case Reverse:
		next.RPM = Lerp(s.RPM, IdleRPM+in.Throttle*50, rpmEase)
		if in.Brake > 0 {
			next.Speed = math.Max(0, s.Speed-in.Brake*reverseBrakeGain)
		} else {
			next.Speed = Lerp(s.Speed, in.Throttle/100*MaxReverseSpeed, reverseEase)
		}

	case Drive:
		stepDrive(&next, s, in)
	}

	if in.Throttle > 0 {
		next.Fuel = math.Max(0, s.Fuel-in.Throttle/100*fuelPerStep)
	}
	next.Temp = Lerp(s.Temp, operatingTemp+in.Throttle/100*loadTempSpread, warmEase)

	advanceDistance(&next, p.Dt)
	next.Clamp()
	return next
}

func stepDrive(next *State, s State, in Inputs) {
	switch {
	case in.Brake > 0:
		next.Speed = math.Max(0, s.Speed-in.Brake*driveBrakeGain)
		next.RPM = math.Max(IdleRPM, s.RPM-driveBrakeRPMDrop)

	case in.Throttle > 0:
		// Band and target rpm come from the speed at the start of the step.
		b := bandFor(s.Speed)
		target := math.Min(RedlineRPM, b.baseRPM+s.Speed*b.perSpeed+in.Throttle*b.perThrottle)
		next.Speed = s.Speed + in.Throttle*b.accel
		next.RPM = Lerp(s.RPM, target, driveRPMEase)

	default:
		next.Speed = math.Max(0, s.Speed-driveCoastDecay)
		if next.Speed > 0 {
			next.RPM = Lerp(s.RPM, IdleRPM+next.Speed*20, rpmEase)
		} else {
			next.RPM = Lerp(s.RPM, IdleRPM, rpmEase)
		}
	}
}

func advanceDistance(s *State, dt time.Duration) {
	if dt <= 0 || s.Speed <= 0 {
		return
	}
	km := s.Speed * dt.Hours()
	s.Odometer += km
	s.Trip += km
}

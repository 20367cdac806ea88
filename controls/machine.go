package controls

import "github.com/notnil/dashsim/vehicle"

// Toggles are the discrete indicator states.
type Toggles struct {
	LeftSignal   bool `json:"leftSignal"`
	RightSignal  bool `json:"rightSignal"`
	Hazard       bool `json:"hazard"`
	ParkingBrake bool `json:"parkingBrake"`
	DoorOpen     bool `json:"doorOpen"`
	SeatbeltOff  bool `json:"seatbeltOff"`
	HighBeam     bool `json:"highBeam"`

	// Warning mirrors. Only EngineWarn is driven here; the rest are
	// placeholders for diagnostics and stay false.
	EngineWarn  bool `json:"engineWarn"`
	Battery     bool `json:"battery"`
	OilPressure bool `json:"oilPressure"`
	ABSWarn     bool `json:"absWarn"`
	TPMS        bool `json:"tpms"`
	Airbag      bool `json:"airbag"`
}

// Outputs is a set of bus signals a transition changed.
type Outputs uint16

const (
	OutEngineWarn Outputs = 1 << iota
	OutGear
	OutSignals // left and right, always together
	OutSeatbelt
	OutParkingBrake
	OutHighBeam
	OutDoor
)

func (o Outputs) Has(x Outputs) bool { return o&x != 0 }

// Event is a discrete trigger for the audio collaborator.
type Event uint8

const (
	EventNone Event = iota
	EventTurnSignal
	EventWarning
)

func (e Event) String() string {
	switch e {
	case EventTurnSignal:
		return "turn_signal"
	case EventWarning:
		return "warning"
	default:
		return "none"
	}
}

// Result describes the side effects of one transition.
type Result struct {
	Outputs Outputs
	Event   Event
}

// Apply performs the transition for a pressed key. It mutates s and t in
// place and never blocks. Pedal keys and KeyNone have no transition.
func Apply(k Key, s *vehicle.State, t *Toggles) Result {
	switch k {
	case KeyEngine:
		s.EngineOn = !s.EngineOn
		t.EngineWarn = !s.EngineOn
		r := Result{Outputs: OutEngineWarn}
		if !s.EngineOn {
			r.Event = EventWarning
		}
		return r

	case KeyGear:
		s.Gear = s.Gear.Next()
		return Result{Outputs: OutGear}

	case KeyLeftSignal:
		t.LeftSignal = !t.LeftSignal
		return signalResult(t.LeftSignal, &t.RightSignal)

	case KeyRightSignal:
		t.RightSignal = !t.RightSignal
		return signalResult(t.RightSignal, &t.LeftSignal)

	case KeyHazard:
		t.Hazard = !t.Hazard
		t.LeftSignal, t.RightSignal = t.Hazard, t.Hazard
		r := Result{Outputs: OutSignals}
		if t.Hazard {
			r.Event = EventTurnSignal
		}
		return r

	case KeyHighBeam:
		t.HighBeam = !t.HighBeam
		return Result{Outputs: OutHighBeam}

	case KeyParkingBrake:
		return flip(&t.ParkingBrake, OutParkingBrake)

	case KeyDoor:
		return flip(&t.DoorOpen, OutDoor)

	case KeySeatbelt:
		return flip(&t.SeatbeltOff, OutSeatbelt)
	}
	return Result{}
}

// signalResult clears the opposite side when a signal turns on.
func signalResult(on bool, other *bool) Result {
	r := Result{Outputs: OutSignals}
	if on {
		*other = false
		r.Event = EventTurnSignal
	}
	return r
}

// flip toggles a warning flag, notifying on activation only.
func flip(flag *bool, out Outputs) Result {
	*flag = !*flag
	r := Result{Outputs: out}
	if *flag {
		r.Event = EventWarning
	}
	return r
}

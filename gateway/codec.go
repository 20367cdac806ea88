package gateway

import (
	"errors"
	"fmt"

	"github.com/notnil/dashsim/canbus"
	"github.com/notnil/dashsim/controls"
	"github.com/notnil/dashsim/vehicle"
)

// ErrShortPayload is returned when an inbound frame lacks the bytes its
// decode rule reads.
var ErrShortPayload = errors.New("gateway: short payload")

// Signal is one single-byte value destined for an identifier.
type Signal struct {
	ID    uint32
	Value byte
}

func (s Signal) String() string { return fmt.Sprintf("%03X=%d", s.ID, s.Value) }

// Frame builds the wire frame for s.
func (s Signal) Frame() canbus.Frame {
	f := canbus.Frame{ID: s.ID, Len: 1}
	f.Data[0] = s.Value
	return f
}

// unit truncates v to an integer byte, saturating at the byte range.
func unit(v float64) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return byte(v)
	}
}

func flag(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Telemetry returns the per-tick gauge signals for s. Gear is published on
// change only, see Controls.
func Telemetry(s vehicle.State) []Signal {
	return []Signal{
		{IDSpeed, unit(s.Speed)},
		{IDRPM, unit(s.RPM / 100)},
		{IDFuel, unit(s.Fuel)},
		{IDTemp, unit(s.Temp)},
	}
}

// Controls returns the signals for the outputs a transition changed. The
// two turn signals are always sent together so the inactive side is
// explicitly cleared.
func Controls(out controls.Outputs, s vehicle.State, t controls.Toggles) []Signal {
	var sigs []Signal
	if out.Has(controls.OutEngineWarn) {
		sigs = append(sigs, Signal{IDEngineWarn, flag(t.EngineWarn)})
	}
	if out.Has(controls.OutGear) {
		sigs = append(sigs, Signal{IDGear, byte(s.Gear)})
	}
	if out.Has(controls.OutSignals) {
		sigs = append(sigs,
			Signal{IDLeftSignal, flag(t.LeftSignal)},
			Signal{IDRightSignal, flag(t.RightSignal)},
		)
	}
	if out.Has(controls.OutSeatbelt) {
		sigs = append(sigs, Signal{IDSeatbelt, flag(t.SeatbeltOff)})
	}
	if out.Has(controls.OutParkingBrake) {
		sigs = append(sigs, Signal{IDParkingBrake, flag(t.ParkingBrake)})
	}
	if out.Has(controls.OutHighBeam) {
		sigs = append(sigs, Signal{IDHighBeam, flag(t.HighBeam)})
	}
	if out.Has(controls.OutDoor) {
		sigs = append(sigs, Signal{IDDoor, flag(t.DoorOpen)})
	}
	return sigs
}

// decodeRule applies one inbound payload to s.
type decodeRule struct {
	minLen int
	apply  func(s *vehicle.State, data []byte)
}

var decodeRules = map[uint32]decodeRule{
	IDSpeedOverride: {1, func(s *vehicle.State, d []byte) {
		s.Speed = vehicle.Clamp(float64(d[0]), 0, vehicle.MaxSpeed)
	}},
	IDRPMOverride: {1, func(s *vehicle.State, d []byte) {
		s.RPM = vehicle.Clamp(float64(d[0])*100, 0, vehicle.MaxRPM)
	}},
	IDGearOverride: {1, func(s *vehicle.State, d []byte) {
		s.Gear = vehicle.GearFromIndex(d[0])
	}},
	IDFuelOverride: {1, func(s *vehicle.State, d []byte) {
		s.Fuel = vehicle.Clamp(float64(d[0]), 0, vehicle.MaxFuel)
	}},
	IDTempOverride: {1, func(s *vehicle.State, d []byte) {
		s.Temp = vehicle.Clamp(float64(d[0]), 0, vehicle.MaxTemp)
	}},
}

// Decode applies an inbound frame to s. It reports false for identifiers
// without a decode rule. A payload shorter than the rule needs leaves s
// untouched and returns ErrShortPayload.
func Decode(f canbus.Frame, s *vehicle.State) (bool, error) {
	if f.Extended || f.RTR {
		return false, nil
	}
	rule, ok := decodeRules[f.ID]
	if !ok {
		return false, nil
	}
	data := f.Payload()
	if len(data) < rule.minLen {
		return true, fmt.Errorf("%w: id %03X len %d", ErrShortPayload, f.ID, len(data))
	}
	rule.apply(s, data)
	return true, nil
}

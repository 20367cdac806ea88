package controls

import (
	"testing"

	"github.com/notnil/dashsim/vehicle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	cases := map[string]Key{
		"e": KeyEngine, "E": KeyEngine,
		"g": KeyGear,
		"Left": KeyLeftSignal, "Right": KeyRightSignal,
		"h": KeyHazard, "b": KeyHighBeam, "p": KeyParkingBrake,
		"d": KeyDoor, "t": KeySeatbelt,
		"Up": KeyAccelerate, "w": KeyAccelerate, "W": KeyAccelerate,
		"Down": KeyBrake,
	}
	for name, want := range cases {
		got, ok := ParseKey(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := ParseKey("F13")
	assert.False(t, ok)
	_, ok = ParseKey("left")
	assert.False(t, ok, "arrow names are case sensitive")
}

func TestEdgeDetector(t *testing.T) {
	var d EdgeDetector
	held := KeySet(0).With(KeyEngine)

	pressed, released := d.Update(held)
	assert.True(t, pressed.Has(KeyEngine))
	assert.True(t, released.Empty())

	pressed, _ = d.Update(held)
	assert.True(t, pressed.Empty(), "holding produces no new edge")

	_, released = d.Update(0)
	assert.True(t, released.Has(KeyEngine))

	pressed, _ = d.Update(held)
	assert.True(t, pressed.Has(KeyEngine), "release then press is a new edge")
}

func TestKeyboard_RepeatAndSharedBindings(t *testing.T) {
	kb := NewKeyboard()

	assert.True(t, kb.Down("g").Has(KeyGear))
	assert.True(t, kb.Down("g").Empty(), "auto-repeat is not an edge")
	assert.True(t, kb.Down("G").Empty(), "shift does not make a new key")
	assert.True(t, kb.Up("G").Has(KeyGear))

	kb.Down("Up")
	assert.True(t, kb.Down("w").Empty())
	assert.True(t, kb.Up("Up").Empty(), "W still holds accelerate")
	assert.True(t, kb.Held().Has(KeyAccelerate))
	assert.True(t, kb.Up("w").Has(KeyAccelerate))
	assert.False(t, kb.Held().Has(KeyAccelerate))

	assert.True(t, kb.Down("F1").Empty())
	assert.True(t, kb.Up("F1").Empty())

	kb.Down("Down")
	kb.Reset()
	assert.True(t, kb.Held().Empty())
	assert.True(t, kb.Down("Down").Has(KeyBrake))
}

func TestApply_GearFourCycle(t *testing.T) {
	s := vehicle.DefaultState()
	var tg Toggles
	start := s.Gear
	for i := 0; i < 4; i++ {
		r := Apply(KeyGear, &s, &tg)
		assert.True(t, r.Outputs.Has(OutGear))
		assert.Equal(t, EventNone, r.Event)
	}
	assert.Equal(t, start, s.Gear)
}

func TestApply_Engine(t *testing.T) {
	s := vehicle.DefaultState()
	var tg Toggles

	r := Apply(KeyEngine, &s, &tg)
	assert.True(t, s.EngineOn)
	assert.False(t, tg.EngineWarn)
	assert.Equal(t, Result{Outputs: OutEngineWarn}, r)

	r = Apply(KeyEngine, &s, &tg)
	assert.False(t, s.EngineOn)
	assert.True(t, tg.EngineWarn)
	assert.Equal(t, EventWarning, r.Event)
}

func TestApply_SignalExclusionAndHazard(t *testing.T) {
	var s vehicle.State
	var tg Toggles

	r := Apply(KeyRightSignal, &s, &tg)
	assert.True(t, tg.RightSignal)
	assert.Equal(t, EventTurnSignal, r.Event)

	Apply(KeyLeftSignal, &s, &tg)
	assert.True(t, tg.LeftSignal)
	assert.False(t, tg.RightSignal, "left clears right")

	Apply(KeyRightSignal, &s, &tg)
	assert.False(t, tg.LeftSignal, "right clears left")

	r = Apply(KeyRightSignal, &s, &tg)
	assert.False(t, tg.RightSignal)
	assert.Equal(t, EventNone, r.Event, "deactivation is silent")
	assert.True(t, r.Outputs.Has(OutSignals))

	r = Apply(KeyHazard, &s, &tg)
	assert.True(t, tg.Hazard && tg.LeftSignal && tg.RightSignal)
	assert.Equal(t, EventTurnSignal, r.Event)

	Apply(KeyHazard, &s, &tg)
	assert.False(t, tg.Hazard || tg.LeftSignal || tg.RightSignal)

	// A single signal does not clear hazard.
	Apply(KeyHazard, &s, &tg)
	Apply(KeyLeftSignal, &s, &tg)
	assert.True(t, tg.Hazard)
}

func TestApply_ExclusionHoldsForAnySequence(t *testing.T) {
	var s vehicle.State
	var tg Toggles
	seq := []Key{KeyLeftSignal, KeyHazard, KeyRightSignal, KeyLeftSignal, KeyHazard, KeyRightSignal, KeyLeftSignal, KeyLeftSignal, KeyHazard, KeyRightSignal}
	for i := 0; i < 50; i++ {
		Apply(seq[(i*7)%len(seq)], &s, &tg)
		if tg.LeftSignal && tg.RightSignal {
			require.True(t, tg.Hazard, "step %d", i)
		}
	}
}

func TestApply_WarningToggles(t *testing.T) {
	cases := []struct {
		key  Key
		out  Outputs
		flag func(*Toggles) bool
		warn bool
	}{
		{KeyParkingBrake, OutParkingBrake, func(t *Toggles) bool { return t.ParkingBrake }, true},
		{KeyDoor, OutDoor, func(t *Toggles) bool { return t.DoorOpen }, true},
		{KeySeatbelt, OutSeatbelt, func(t *Toggles) bool { return t.SeatbeltOff }, true},
		{KeyHighBeam, OutHighBeam, func(t *Toggles) bool { return t.HighBeam }, false},
	}
	for _, tc := range cases {
		t.Run(tc.key.String(), func(t *testing.T) {
			var s vehicle.State
			var tg Toggles

			on := Apply(tc.key, &s, &tg)
			assert.True(t, tc.flag(&tg))
			assert.Equal(t, tc.out, on.Outputs)
			if tc.warn {
				assert.Equal(t, EventWarning, on.Event)
			} else {
				assert.Equal(t, EventNone, on.Event)
			}

			off := Apply(tc.key, &s, &tg)
			assert.False(t, tc.flag(&tg))
			assert.Equal(t, EventNone, off.Event)
		})
	}
}

func TestApply_PedalsHaveNoTransition(t *testing.T) {
	s := vehicle.DefaultState()
	var tg Toggles
	assert.Equal(t, Result{}, Apply(KeyAccelerate, &s, &tg))
	assert.Equal(t, Result{}, Apply(KeyBrake, &s, &tg))
	assert.Equal(t, vehicle.DefaultState(), s)
}

func TestBlinker(t *testing.T) {
	b := Blinker{HalfPeriod: 3}
	assert.True(t, b.On(), "starts lit")
	var phases []bool
	rises := 0
	for i := 0; i < 12; i++ {
		if b.Tick() {
			rises++
		}
		phases = append(phases, b.On())
	}
	assert.Equal(t, []bool{true, true, false, false, false, true, true, true, false, false, false, true}, phases)
	assert.Equal(t, 2, rises)

	var zero Blinker
	for i := 0; i < 2*DefaultHalfPeriod-1; i++ {
		assert.False(t, zero.Tick())
	}
	assert.True(t, zero.Tick())
	assert.True(t, zero.On())
}

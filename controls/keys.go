// Package controls turns raw key events into discrete cluster transitions.
//
// Key presses are tracked as a set of held logical keys. An EdgeDetector
// diffs successive sets, so holding a key (or OS auto-repeat) never repeats
// a transition; only release followed by press produces a new edge.
package controls

import (
	"strings"
)

// Key is a logical cluster control.
type Key uint8

const (
	KeyNone Key = iota
	KeyEngine
	KeyGear
	KeyLeftSignal
	KeyRightSignal
	KeyHazard
	KeyHighBeam
	KeyParkingBrake
	KeyDoor
	KeySeatbelt
	KeyAccelerate
	KeyBrake

	numKeys
)

var keyNames = [numKeys]string{
	"none", "engine", "gear", "left", "right", "hazard",
	"high_beam", "parking_brake", "door", "seatbelt", "accelerate", "brake",
}

func (k Key) String() string {
	if k < numKeys {
		return keyNames[k]
	}
	return "unknown"
}

// bindings maps raw key names to logical keys. Single letters are matched
// case-insensitively.
var bindings = map[string]Key{
	"E":     KeyEngine,
	"G":     KeyGear,
	"H":     KeyHazard,
	"B":     KeyHighBeam,
	"P":     KeyParkingBrake,
	"D":     KeyDoor,
	"T":     KeySeatbelt,
	"W":     KeyAccelerate,
	"Left":  KeyLeftSignal,
	"Right": KeyRightSignal,
	"Up":    KeyAccelerate,
	"Down":  KeyBrake,
}

// normalize folds single letters to upper case so "w" and "W" are the same
// physical key regardless of shift state.
func normalize(name string) string {
	if len(name) == 1 {
		return strings.ToUpper(name)
	}
	return name
}

// ParseKey resolves a raw key name.
func ParseKey(name string) (Key, bool) {
	k, ok := bindings[normalize(name)]
	return k, ok
}

// KeySet is a set of logical keys.
type KeySet uint32

func (s KeySet) Has(k Key) bool { return s&(1<<k) != 0 }

func (s KeySet) With(k Key) KeySet { return s | 1<<k }

func (s KeySet) Without(k Key) KeySet { return s &^ (1 << k) }

func (s KeySet) Empty() bool { return s == 0 }

// Keys lists the members in declaration order.
func (s KeySet) Keys() []Key {
	var out []Key
	for k := KeyNone + 1; k < numKeys; k++ {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// EdgeDetector synthesizes pressed and released events from successive
// held-key sets.
type EdgeDetector struct {
	prev KeySet
}

// Update records held as the current set and returns the keys that became
// held and the keys that stopped being held since the previous call.
func (d *EdgeDetector) Update(held KeySet) (pressed, released KeySet) {
	pressed = held &^ d.prev
	released = d.prev &^ held
	d.prev = held
	return pressed, released
}

// Keyboard tracks raw key names so that two physical keys bound to the same
// logical key (Up and W) stay held until both are released.
type Keyboard struct {
	raw   map[string]Key
	edges EdgeDetector
}

func NewKeyboard() *Keyboard {
	return &Keyboard{raw: make(map[string]Key)}
}

// Down records a key-down and returns the logical keys that were pressed by
// it. Unknown names and repeats return an empty set.
func (kb *Keyboard) Down(name string) KeySet {
	k, ok := ParseKey(name)
	if !ok {
		return 0
	}
	kb.raw[normalize(name)] = k
	pressed, _ := kb.edges.Update(kb.Held())
	return pressed
}

// Up records a key-up and returns the logical keys it released.
func (kb *Keyboard) Up(name string) KeySet {
	name = normalize(name)
	if _, ok := kb.raw[name]; !ok {
		return 0
	}
	delete(kb.raw, name)
	_, released := kb.edges.Update(kb.Held())
	return released
}

// Held returns the current logical key set.
func (kb *Keyboard) Held() KeySet {
	var s KeySet
	for _, k := range kb.raw {
		s = s.With(k)
	}
	return s
}

// Reset releases everything.
func (kb *Keyboard) Reset() {
	clear(kb.raw)
	kb.edges.Update(0)
}

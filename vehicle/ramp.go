package vehicle

// Pedal ramp rates per tick.
const (
	ThrottleRise = 2.0
	ThrottleFall = 3.0
	BrakeRise    = 3.0
	BrakeFall    = 4.0
)

// Ramp moves the pedals one tick toward the held keys: a held pedal rises, a
// released one falls. The result stays in [0,100].
func Ramp(in Inputs, accelerate, brake bool) Inputs {
	if accelerate {
		in.Throttle += ThrottleRise
	} else {
		in.Throttle -= ThrottleFall
	}
	if brake {
		in.Brake += BrakeRise
	} else {
		in.Brake -= BrakeFall
	}
	in.Clamp()
	return in
}

// Package gateway maps cluster state onto CAN frames and back.
//
// Outbound telemetry goes through a rate-limited Publisher. Inbound
// overrides are drained in bounded bursts by Ingest. The two identifier
// tables are disjoint so the gateway never consumes its own telemetry.
package gateway

import "slices"

// Outbound identifiers.
const (
	IDSpeed        uint32 = 0x100
	IDRPM          uint32 = 0x101
	IDGear         uint32 = 0x102
	IDFuel         uint32 = 0x103
	IDTemp         uint32 = 0x104
	IDEngineWarn   uint32 = 0x200
	IDSeatbelt     uint32 = 0x202
	IDParkingBrake uint32 = 0x205
	IDHighBeam     uint32 = 0x206
	IDLeftSignal   uint32 = 0x300
	IDRightSignal  uint32 = 0x301
	IDDoor         uint32 = 0x302
)

// Inbound override identifiers.
const (
	IDSpeedOverride uint32 = 0x110
	IDRPMOverride   uint32 = 0x111
	IDGearOverride  uint32 = 0x112
	IDFuelOverride  uint32 = 0x113
	IDTempOverride  uint32 = 0x114
)

// Outbound lists every identifier the gateway publishes.
var Outbound = []uint32{
	IDSpeed, IDRPM, IDGear, IDFuel, IDTemp,
	IDEngineWarn, IDSeatbelt, IDParkingBrake, IDHighBeam,
	IDLeftSignal, IDRightSignal, IDDoor,
}

// Inbound lists every identifier Ingest decodes.
var Inbound = []uint32{
	IDSpeedOverride, IDRPMOverride, IDGearOverride, IDFuelOverride, IDTempOverride,
}

func IsOutbound(id uint32) bool { return slices.Contains(Outbound, id) }

func IsInbound(id uint32) bool { return slices.Contains(Inbound, id) }

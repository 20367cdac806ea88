package scenario

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/notnil/dashsim/cluster"
	"github.com/notnil/dashsim/controls"
	"github.com/notnil/dashsim/gateway"
	"github.com/notnil/dashsim/vehicle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Drive(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "drive.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "drive-and-coast", s.Name)
	assert.Equal(t, 80, s.Ticks)
	require.Len(t, s.Steps, 10)

	rep, err := Run(context.Background(), s, cluster.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, rep.Passed(), "failures: %v", rep.Failures)
	assert.Equal(t, vehicle.Drive, rep.Final.State.Gear)
	assert.Equal(t, uint64(80), rep.Final.Tick)
	assert.Equal(t, 3, rep.Sent[gateway.IDGear], "one frame per gear change")
	assert.Positive(t, rep.Sent[gateway.IDSpeed])
	assert.Less(t, rep.Final.State.Fuel, 100.0)
}

func TestRun_FuelOverride(t *testing.T) {
	s, err := Parse([]byte(`
name: fuel
ticks: 10
steps:
  - tick: 5
    frames:
      - {id: 0x113, data: [40]}
expect:
  fuel: {min: 39.9, max: 40.1}
`))
	require.NoError(t, err)

	rep, err := Run(context.Background(), s, cluster.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, rep.Passed(), "failures: %v", rep.Failures)
	assert.InDelta(t, 40, rep.Final.State.Fuel, 1e-9)
}

func TestRun_OverrideHoldsOverIntegrator(t *testing.T) {
	s, err := Parse([]byte(`
name: hot-stop
ticks: 21
steps:
  - {tick: 0, press: [e]}
  - {tick: 1, release: [e], press: [g]}
  - {tick: 2, release: [g]}
  - {tick: 3, press: [g]}
  - {tick: 4, release: [g]}
  - {tick: 5, press: [g, Up]}
  - tick: 20
    frames:
      - {id: 0x114, data: [150]}
      - {id: 0x110, data: [0]}
`))
	require.NoError(t, err)

	rep, err := Run(context.Background(), s, cluster.DefaultConfig(), nil)
	require.NoError(t, err)
	st := rep.Final.State
	require.True(t, st.EngineOn)
	require.Equal(t, vehicle.Drive, st.Gear)
	assert.Positive(t, rep.Final.Inputs.Throttle)
	assert.Equal(t, 150.0, st.Temp, "override is what the tick ends on")
	assert.Zero(t, st.Speed)
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	s, err := Parse([]byte(`
name: parked
ticks: 5
steps:
  - {tick: 0, press: [Left]}
expect:
  speed: {min: 10}
  gear: D
  engineOn: true
`))
	require.NoError(t, err)

	rep, err := Run(context.Background(), s, cluster.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.False(t, rep.Passed())
	assert.Len(t, rep.Failures, 3)
	assert.Equal(t, []controls.Event{controls.EventTurnSignal}, rep.Events)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing name", "ticks: 3", "name is required"},
		{"zero ticks", "name: x", "ticks must be positive"},
		{"unknown field", "name: x\nticks: 3\nspeed: 4", "not found"},
		{"tick out of range", "name: x\nticks: 3\nsteps: [{tick: 3}]", "outside"},
		{"bad frame", "name: x\nticks: 3\nsteps: [{tick: 0, frames: [{id: 0x113, data: [1,2,3,4,5,6,7,8,9]}]}]", "frame 113"},
		{"byte range", "name: x\nticks: 3\nsteps: [{tick: 0, frames: [{id: 0x113, data: [300]}]}]", "out of range"},
		{"bad gear", "name: x\nticks: 3\nexpect: {gear: X}", "unknown gear"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("name: x\nticks: 3\nsteps: [{tick: 0, press: [F12]}]"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

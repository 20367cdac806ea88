package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/notnil/dashsim/canbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "dashsim", cmd.Use)
	assert.Contains(t, cmd.Long, "CAN bus")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"run", "simulate", "monitor", "inject", "link", "journal"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)

	iface := cmd.PersistentFlags().Lookup("iface")
	require.NotNil(t, iface)
	assert.Equal(t, "i", iface.Shorthand)

	for _, name := range []string{"log-level", "driver"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestConfigErrors(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "simulate", "x.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "--driver", "bogus", "monitor")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSimulate(t *testing.T) {
	path := writeFile(t, "fuel.yaml", `
name: fuel
ticks: 10
steps:
  - tick: 2
    frames: [{id: 0x113, data: [40]}]
expect:
  fuel: {min: 39.9, max: 40.1}
`)
	out, err := execute(t, "--log-level", "error", "simulate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "scenario fuel: 10 ticks")
	assert.Contains(t, out, "fuel 40.00 %")
	assert.Contains(t, out, "PASS")
}

func TestSimulate_FailedExpectation(t *testing.T) {
	path := writeFile(t, "parked.yaml", `
name: parked
ticks: 3
expect:
  engineOn: true
`)
	out, err := execute(t, "--log-level", "error", "simulate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL engineOn false, want true")
}

func TestSimulate_JSON(t *testing.T) {
	path := writeFile(t, "idle.yaml", "name: idle\nticks: 4\n")
	out, err := execute(t, "--log-level", "error", "simulate", "--json", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "idle"`)
	assert.Contains(t, out, `"103"`)
}

func TestInject(t *testing.T) {
	out, err := execute(t, "--log-level", "error", "inject", "--id", "0x113", "--data", "150")
	require.NoError(t, err)
	assert.Equal(t, "113 [1] 96\n", out)

	_, err = execute(t, "inject", "--id", "0x800")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, canbus.ErrInvalidID)
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		id, data string
		want     canbus.Frame
		wantErr  bool
	}{
		{id: "0x113", data: "150", want: canbus.MustFrame(0x113, []byte{150})},
		{id: "272", data: "0x01, 2,3", want: canbus.MustFrame(0x110, []byte{1, 2, 3})},
		{id: "0x114", data: "", want: canbus.MustFrame(0x114, nil)},
		{id: "x", data: "1", wantErr: true},
		{id: "0x113", data: "256", wantErr: true},
		{id: "0x113", data: "1,2,3,4,5,6,7,8,9", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.id+"/"+tt.data, func(t *testing.T) {
			f, err := parseFrame(tt.id, tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f)
		})
	}
}

func TestJournal_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	out, err := execute(t, "--log-level", "error", "journal", "--path", path, "--last", "5")
	require.NoError(t, err)
	assert.Equal(t, "0 frames stored\n", out)
}

func TestLink_UnknownInterface(t *testing.T) {
	_, err := execute(t, "--log-level", "error", "link", "status", "dashsim-nope0")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/notnil/dashsim/internal/scenario"
	"github.com/spf13/cobra"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	JSON bool
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a scripted scenario without a wall clock",
		Long: `Run a YAML scenario tick by tick on a private loopback bus and print the
final cluster state. The command fails when an expectation does not hold.

Example:
  dashsim simulate testdata/drive.yaml
  dashsim simulate --json drive.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := scenario.Load(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "loading scenario", err)
			}
			rep, err := scenario.Run(cmd.Context(), s, opts.Config.ClusterConfig(), opts.Logging.Logger())
			if err != nil {
				return WrapExitError(ExitFailure, "running scenario", err)
			}
			if err := printReport(cmd.OutOrStdout(), s, rep, opts.JSON); err != nil {
				return err
			}
			if !rep.Passed() {
				return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("scenario %s: %d expectation(s) failed", s.Name, len(rep.Failures))}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the report as JSON")

	return cmd
}

func printReport(w io.Writer, s *scenario.Scenario, rep *scenario.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Name     string         `json:"name"`
			Snapshot any            `json:"snapshot"`
			Events   int            `json:"events"`
			Sent     map[string]int `json:"sent"`
			Failures []string       `json:"failures"`
		}{s.Name, rep.Final, len(rep.Events), sentByHex(rep.Sent), rep.Failures})
	}

	st := rep.Final.State
	fmt.Fprintf(w, "scenario %s: %d ticks\n", s.Name, rep.Final.Tick)
	fmt.Fprintf(w, "  speed %.1f km/h  rpm %.0f  gear %s  engine %t\n", st.Speed, st.RPM, st.Gear, st.EngineOn)
	fmt.Fprintf(w, "  fuel %.2f %%  temp %.1f C  odometer %.1f km  trip %.1f km\n", st.Fuel, st.Temp, st.Odometer, st.Trip)
	fmt.Fprintf(w, "  events %d\n", len(rep.Events))
	ids := make([]uint32, 0, len(rep.Sent))
	for id := range rep.Sent {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  sent %03X x%d\n", id, rep.Sent[id])
	}
	for _, f := range rep.Failures {
		fmt.Fprintf(w, "  FAIL %s\n", f)
	}
	if rep.Passed() {
		fmt.Fprintln(w, "  PASS")
	}
	return nil
}

func sentByHex(sent map[uint32]int) map[string]int {
	out := make(map[string]int, len(sent))
	for id, n := range sent {
		out[fmt.Sprintf("%03X", id)] = n
	}
	return out
}

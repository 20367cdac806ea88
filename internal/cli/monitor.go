package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/notnil/dashsim/canbus"
	"github.com/notnil/dashsim/gateway"
	"github.com/spf13/cobra"
)

// MonitorOptions holds flags for the monitor command.
type MonitorOptions struct {
	*RootOptions
	All     bool
	Inbound bool
}

// NewMonitorCommand creates the monitor command.
func NewMonitorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MonitorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print cluster frames seen on the bus",
		Long: `Print frames from the configured bus, one per line, until interrupted.
By default only the cluster's outbound identifiers are shown.

Example:
  dashsim monitor --driver socketcan
  dashsim monitor --inbound`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus, closeBus, err := openBus(opts.Config.Bus, opts.Logging.Logger())
			if err != nil {
				return WrapExitError(ExitCommandError, "opening bus", err)
			}
			defer closeBus()

			mux := canbus.NewMux(ctx, bus)
			defer mux.Close()
			frames, cancel := mux.Subscribe(opts.filter(), 256)
			defer cancel()

			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-mux.Done():
					return nil
				case f, ok := <-frames:
					if !ok {
						return nil
					}
					fmt.Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05.000"), f)
				}
			}
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "show every frame")
	cmd.Flags().BoolVar(&opts.Inbound, "inbound", false, "show override frames instead of telemetry")

	return cmd
}

func (o *MonitorOptions) filter() canbus.FrameFilter {
	switch {
	case o.All:
		return nil
	case o.Inbound:
		return canbus.And(canbus.StandardOnly(), canbus.ByIDs(gateway.Inbound...))
	default:
		return canbus.And(canbus.StandardOnly(), canbus.ByIDs(gateway.Outbound...))
	}
}

package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/notnil/dashsim/canbus"
	"github.com/notnil/dashsim/gateway"
	"github.com/spf13/cobra"
)

// InjectOptions holds flags for the inject command.
type InjectOptions struct {
	*RootOptions
	ID      string
	Data    string
	Count   int
	Every   time.Duration
	Timeout time.Duration
}

// NewInjectCommand creates the inject command.
func NewInjectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InjectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Send a frame onto the bus",
		Long: `Send one frame, or a short train of frames, onto the configured bus.
Identifiers and bytes accept decimal or 0x-prefixed hex.

Example:
  dashsim inject --driver socketcan --id 0x113 --data 150
  dashsim inject --id 0x110 --data 0x50 --count 10 --every 100ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFrame(opts.ID, opts.Data)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid frame", err)
			}
			logger := opts.Logging.Logger()
			if !gateway.IsInbound(f.ID) {
				logger.Warn("identifier is not an override the cluster consumes", "id", fmt.Sprintf("%03X", f.ID))
			}

			bus, closeBus, err := openBus(opts.Config.Bus, logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "opening bus", err)
			}
			defer closeBus()

			for i := 0; i < opts.Count; i++ {
				if i > 0 && opts.Every > 0 {
					select {
					case <-cmd.Context().Done():
						return nil
					case <-time.After(opts.Every):
					}
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
				err := bus.Send(ctx, f)
				cancel()
				if err != nil {
					return WrapExitError(ExitFailure, "sending frame", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "standard frame identifier (required)")
	cmd.Flags().StringVar(&opts.Data, "data", "", "comma separated payload bytes")
	cmd.Flags().IntVar(&opts.Count, "count", 1, "number of frames to send")
	cmd.Flags().DurationVar(&opts.Every, "every", 0, "delay between frames")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Second, "per-frame send timeout")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

// parseFrame builds a standard data frame from flag text such as "0x113"
// and "150" or "0x01,2,3".
func parseFrame(id, data string) (canbus.Frame, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(id), 0, 32)
	if err != nil {
		return canbus.Frame{}, fmt.Errorf("id %q: %w", id, err)
	}
	var payload []byte
	if strings.TrimSpace(data) != "" {
		for _, part := range strings.Split(data, ",") {
			b, err := strconv.ParseUint(strings.TrimSpace(part), 0, 8)
			if err != nil {
				return canbus.Frame{}, fmt.Errorf("data byte %q: %w", part, err)
			}
			payload = append(payload, byte(b))
		}
	}
	return canbus.NewFrame(uint32(v), payload)
}

package cli

import (
	"fmt"

	"github.com/notnil/dashsim/canbus"
	"github.com/spf13/cobra"
)

// NewLinkCommand creates the link command and its up, down and status
// subcommands. They default to bus.interface when no argument is given.
func NewLinkCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Manage the CAN network interface",
		Long: `Bring a Linux CAN interface up or down, or report its state.
Changing the state requires CAP_NET_ADMIN.

Example:
  sudo dashsim link up can0
  dashsim link status`,
	}

	iface := func(args []string) string {
		if len(args) == 1 {
			return args[0]
		}
		return rootOpts.Config.Bus.Interface
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up [iface]",
		Short: "Set IFF_UP on the interface",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := iface(args)
			if err := canbus.SetInterfaceUp(name); err != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("bringing %s up", name), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s up\n", name)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down [iface]",
		Short: "Clear IFF_UP on the interface",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := iface(args)
			if err := canbus.SetInterfaceDown(name); err != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("bringing %s down", name), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s down\n", name)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status [iface]",
		Short: "Report whether the interface is up",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := iface(args)
			up, err := canbus.IsInterfaceUp(name)
			if err != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("reading %s", name), err)
			}
			state := "down"
			if up {
				state = "up"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", name, state)
			return nil
		},
	})

	return cmd
}

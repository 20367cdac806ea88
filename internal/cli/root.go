// Package cli implements the dashsim command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/notnil/dashsim/internal/config"
	"github.com/notnil/dashsim/internal/logging"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags and the state PersistentPreRunE prepares
// for every subcommand.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	Driver     string
	Interface  string

	Config  *config.Config
	Logging *logging.Manager
	console io.Writer
	logFile *os.File
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Logging: logging.NewManager()}

	cmd := &cobra.Command{
		Use:   "dashsim",
		Short: "Simulated vehicle instrument cluster on a CAN bus",
		Long: `dashsim simulates a vehicle instrument cluster. It integrates vehicle
dynamics from pedal input, handles discrete controls, publishes telemetry on a
CAN bus and applies override frames received from other nodes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.prepare(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logFile != nil {
				return opts.logFile.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (json, yaml or toml)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override logLevel (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "override bus.driver (loopback or socketcan)")
	cmd.PersistentFlags().StringVarP(&opts.Interface, "iface", "i", "", "override bus.interface")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewMonitorCommand(opts))
	cmd.AddCommand(NewInjectCommand(opts))
	cmd.AddCommand(NewLinkCommand(opts))
	cmd.AddCommand(NewJournalCommand(opts))

	return cmd
}

func (o *RootOptions) prepare(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading config", err)
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.Driver != "" || o.Interface != "" {
		if o.Driver != "" {
			cfg.Bus.Driver = o.Driver
		}
		if o.Interface != "" {
			cfg.Bus.Interface = o.Interface
		}
		if err := cfg.Validate(); err != nil {
			return WrapExitError(ExitCommandError, "invalid flags", err)
		}
	}
	o.Config = cfg

	o.console = cmd.ErrOrStderr()
	lopts := logging.Options{Level: cfg.LogLevel, Console: o.console}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("opening log file %s", cfg.LogFile), err)
		}
		o.logFile = f
		lopts.File = f
	}
	o.Logging.Setup(lopts)
	return nil
}

package cli

import (
	"fmt"
	"strconv"

	"github.com/notnil/dashsim/internal/journal"
	"github.com/spf13/cobra"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Path string
	Last int
	ID   string
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print recorded frames from the journal database",
		Long: `Print the newest frames recorded by "dashsim run" with journal.enabled,
newest first, followed by the stored row count.

Example:
  dashsim journal --last 20
  dashsim journal --path run.db --id 0x100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.Path
			if path == "" {
				path = opts.Config.Journal.Path
			}
			var id *uint32
			if opts.ID != "" {
				v, err := strconv.ParseUint(opts.ID, 0, 32)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --id", err)
				}
				id32 := uint32(v)
				id = &id32
			}

			j, err := journal.Open(journal.Config{Path: path}, opts.Logging.Logger())
			if err != nil {
				return WrapExitError(ExitCommandError, "opening journal", err)
			}
			defer j.Close()

			entries, err := j.Recent(cmd.Context(), opts.Last)
			if err != nil {
				return WrapExitError(ExitFailure, "reading journal", err)
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				if id != nil && e.FrameID != *id {
					continue
				}
				fmt.Fprintln(out, e)
			}
			n, err := j.Count(cmd.Context(), id)
			if err != nil {
				return WrapExitError(ExitFailure, "counting journal", err)
			}
			fmt.Fprintf(out, "%d frames stored\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Path, "path", "", "journal database (defaults to journal.path)")
	cmd.Flags().IntVarP(&opts.Last, "last", "n", 20, "number of rows to read")
	cmd.Flags().StringVar(&opts.ID, "id", "", "only show this identifier among the rows read")

	return cmd
}

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/engine"
)

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <id>",
		Short: "Discard a queued operation",
		Long: `Remove one operation from the queue without replaying it.

Use this to clear an operation that blocks the head of the queue or one
whose kind this version cannot replay. Dropping an unknown id succeeds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid operation id %q", args[0]))
			}
			return runDrop(rootOpts, cmd, id)
		},
	}
}

func runDrop(opts *RootOptions, cmd *cobra.Command, id int64) error {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log, opts.Verbose, cmd.ErrOrStderr())

	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore(st)

	if err := engine.New(st, nil, nil).Discard(commandContext(cmd), id); err != nil {
		return WrapExitError(ExitFailure, "failed to drop operation", err)
	}
	return out.Success(map[string]int64{"dropped": id}, fmt.Sprintf("dropped operation %d", id))
}

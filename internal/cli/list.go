package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/engine"
	"github.com/roach88/chatsync/internal/ir"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show queued operations in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
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

	ops, err := engine.New(st, nil, nil).Pending(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read queue", err)
	}
	return out.Success(ops, formatOperations(ops))
}

func formatOperations(ops []ir.PendingOperation) string {
	if len(ops) == 0 {
		return "queue empty"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-8s %-36s %-36s %s\n", "ID", "KIND", "PLACEHOLDER", "CONVERSATION", "ENDPOINT")
	for _, op := range ops {
		fmt.Fprintf(&b, "%-6d %-8s %-36s %-36s %s\n",
			op.ID, op.Kind, dash(op.PlaceholderID), dash(op.ConversationID), op.EndpointBase)
	}
	return strings.TrimRight(b.String(), "\n")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

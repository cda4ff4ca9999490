package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/engine"
	"github.com/roach88/chatsync/internal/notify"
	"github.com/roach88/chatsync/internal/transport"
)

// FlushResult is the flush command's output.
type FlushResult struct {
	Result engine.PassResult `json:"result"`
	Events []notify.Event    `json:"events"`
	Error  string            `json:"error,omitempty"`
}

// NewFlushCommand creates the flush command.
func NewFlushCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Replay the queued operations now",
		Long: `Run one replay pass over the queue.

Exits 1 when a call failed and the backlog was left in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlush(rootOpts, cmd)
		},
	}
	return cmd
}

func runFlush(opts *RootOptions, cmd *cobra.Command) error {
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

	rec := &notify.Recorder{}
	client := transport.New(transport.Options{
		Timeout:   cfg.Transport.Timeout.Std(),
		UserAgent: cfg.Transport.UserAgent,
	})
	eng := engine.New(st, client, rec, engine.WithResolutionTTL(cfg.Store.ResolutionTTL.Std()))

	result, passErr := eng.Flush(commandContext(cmd))
	res := FlushResult{Result: result, Events: rec.Events()}
	if passErr != nil {
		res.Error = passErr.Error()
		if out.Format == "json" {
			_ = out.Error(errorCode(passErr), passErr.Error(), res)
		} else {
			fmt.Fprintln(out.Writer, formatFlush(res))
		}
		return WrapExitError(exitCodeFor(passErr), "flush failed", passErr)
	}
	return out.Success(res, formatFlush(res))
}

func formatFlush(res FlushResult) string {
	r := res.Result
	var b strings.Builder
	if r.Snapshot == 0 {
		b.WriteString("queue empty")
	} else {
		fmt.Fprintf(&b, "delivered %d of %d, deferred %d, skipped %d",
			len(r.Delivered), r.Snapshot, len(r.Deferred), len(r.Skipped))
		if r.Aborted {
			fmt.Fprintf(&b, ", aborted at operation %d", r.FailedID)
		}
	}
	for _, ev := range res.Events {
		b.WriteString("\n")
		b.WriteString(formatEvent(ev))
	}
	if res.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", res.Error)
	}
	return b.String()
}

func formatEvent(ev notify.Event) string {
	switch ev.Type {
	case notify.TypeChatResponse:
		s := fmt.Sprintf("  %s conversation=%s", ev.Type, ev.ConversationID)
		if ev.ClientMessageID != "" {
			s += " client_message=" + ev.ClientMessageID
		}
		if ev.ReplyText != "" {
			s += fmt.Sprintf(" reply=%q", ev.ReplyText)
		}
		return s
	default:
		return fmt.Sprintf("  %s: %s", ev.Type, ev.Message)
	}
}

// errorCode is the machine-readable code for a command failure.
func errorCode(err error) string {
	var ee *engine.Error
	if errors.As(err, &ee) {
		return string(ee.Code)
	}
	return "COMMAND_ERROR"
}

// exitCodeFor maps engine errors to exit codes: rejected input is a command
// error, everything else a failure.
func exitCodeFor(err error) int {
	if engine.IsInvalidRequest(err) {
		return ExitCommandError
	}
	return ExitFailure
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/chatsync/internal/engine"
	"github.com/roach88/chatsync/internal/ir"
	"github.com/roach88/chatsync/internal/notify"
	"github.com/roach88/chatsync/internal/transport"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	Kind            string
	Endpoint        string
	Headers         map[string]string
	Payload         string
	PayloadFile     string
	Placeholder     string
	NewPlaceholder  bool
	Conversation    string
	ClientMessageID string
	Defer           bool
}

// EnqueueResult is the enqueue command's output.
type EnqueueResult struct {
	ID            int64          `json:"id"`
	PlaceholderID string         `json:"placeholderId,omitempty"`
	Events        []notify.Event `json:"events"`
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue an outbound chat request",
		Long: `Persist a chat request in the queue.

By default the queue is replayed immediately in this process. With --defer
the operation is only persisted and left for "chatsync flush" or a running
daemon.

Example:
  chatsync enqueue --kind start --endpoint https://chat.example.com/api/conversations \
      --new-placeholder --payload '{"text":"hi"}' --defer
  chatsync enqueue --kind message --endpoint https://chat.example.com/api/conversations \
      --placeholder 6f1c... --payload '{"text":"still there?"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Kind, "kind", string(ir.KindMessage), "operation kind (start|message)")
	f.StringVar(&opts.Endpoint, "endpoint", "", "endpoint base of the chat API (required)")
	f.StringToStringVarP(&opts.Headers, "header", "H", nil, "request header as Name=Value (repeatable)")
	f.StringVar(&opts.Payload, "payload", "", "JSON request body")
	f.StringVar(&opts.PayloadFile, "payload-file", "", "read the JSON request body from a file")
	f.StringVar(&opts.Placeholder, "placeholder", "", "client placeholder conversation id")
	f.BoolVar(&opts.NewPlaceholder, "new-placeholder", false, "generate a placeholder id")
	f.StringVar(&opts.Conversation, "conversation", "", "server conversation id, if already known")
	f.StringVar(&opts.ClientMessageID, "client-message-id", "", "client message id echoed in the chat-response event")
	f.BoolVar(&opts.Defer, "defer", false, "only persist; do not replay now")
	_ = cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagsMutuallyExclusive("payload", "payload-file")
	cmd.MarkFlagsMutuallyExclusive("placeholder", "new-placeholder")

	return cmd
}

func runEnqueue(opts *EnqueueOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	req, err := opts.request()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid request", err)
	}

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
	engOpts := []engine.EngineOption{engine.WithResolutionTTL(cfg.Store.ResolutionTTL.Std())}
	if opts.Defer {
		engOpts = append(engOpts, engine.WithArmer(persistOnly{}))
	}
	eng := engine.New(st, client, rec, engOpts...)

	id, err := eng.Enqueue(commandContext(cmd), req)
	if err != nil {
		_ = out.Error(errorCode(err), err.Error(), nil)
		return WrapExitError(exitCodeFor(err), "enqueue failed", err)
	}

	res := EnqueueResult{ID: id, PlaceholderID: req.PlaceholderID, Events: rec.Events()}
	return out.Success(res, formatEnqueue(res))
}

func (o *EnqueueOptions) request() (ir.Request, error) {
	payload := o.Payload
	if o.PayloadFile != "" {
		data, err := os.ReadFile(o.PayloadFile)
		if err != nil {
			return ir.Request{}, err
		}
		payload = string(data)
	}

	req := ir.Request{
		Kind:            ir.Kind(o.Kind),
		EndpointBase:    o.Endpoint,
		Headers:         o.Headers,
		PlaceholderID:   o.Placeholder,
		ConversationID:  o.Conversation,
		ClientMessageID: o.ClientMessageID,
	}
	if strings.TrimSpace(payload) != "" {
		req.Payload = json.RawMessage(payload)
	}
	if o.NewPlaceholder {
		req.PlaceholderID = uuid.NewString()
	}
	return req, req.Validate()
}

func formatEnqueue(res EnqueueResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "queued operation %d", res.ID)
	if res.PlaceholderID != "" {
		fmt.Fprintf(&b, " (placeholder %s)", res.PlaceholderID)
	}
	for _, ev := range res.Events {
		b.WriteString("\n")
		b.WriteString(formatEvent(ev))
	}
	return b.String()
}

// persistOnly is an Armer for one-shot commands: the operation stays queued
// for a later flush.
type persistOnly struct{}

func (persistOnly) Arm(context.Context) error { return nil }

// Command chatsync is the durable chat outbox: a daemon plus one-shot
// queue commands.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/chatsync/internal/cli"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "chatsync:", err)
	}
	os.Exit(cli.GetExitCode(err))
}

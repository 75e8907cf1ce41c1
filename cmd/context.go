package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	cmdcore "github.com/projecteru2/fcsdk/cmd/core"
)

// newCommandContext is canceled on the first SIGINT or SIGTERM so a
// foreground run can stop its VMM and roll back.
func newCommandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
}

func commandContext(cmd *cobra.Command) context.Context {
	return cmdcore.CommandContext(cmd)
}

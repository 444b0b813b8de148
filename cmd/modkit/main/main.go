package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/arthur-debert/modkit/cmd/modkit"
	"github.com/arthur-debert/modkit/pkg/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := modkit.NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		msg := err.Error()
		var e *errors.Error
		if stderrors.As(err, &e) {
			msg = e.Describe()
		}
		pterm.Error.WithWriter(os.Stderr).Println(msg)
		fmt.Fprintln(os.Stderr)
		stop()
		os.Exit(1)
	}
}

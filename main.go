// sockchat - multi-user encrypted chat server and console client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sockchat/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sockchat: %v\n", err)
		os.Exit(1)
	}
}

// Filereceiver waits for one file from a filesender on a UDP port and writes
// it to the output directory.
//
// Usage:
//
//	filereceiver [flags] <port>
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/1ureka/udpft/internal/command"
)

func main() {
	// cancelled on Ctrl+C
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := command.ReceiverApp().RunContext(ctx, os.Args); err != nil {
		os.Exit(1)
	}
}

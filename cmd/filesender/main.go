// Filesender sends one file to a filereceiver over UDP using stop-and-wait
// acknowledgments.
//
// Usage:
//
//	filesender [flags] <host> <port> <source_file> <destination_file_name>
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

	if err := command.SenderApp().RunContext(ctx, os.Args); err != nil {
		// ExitErrHandler already exited for cli.Exit errors
		os.Exit(1)
	}
}

package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/1ureka/udpft/internal/config"
	"github.com/1ureka/udpft/internal/protocol"
	"github.com/1ureka/udpft/internal/sender"
	"github.com/1ureka/udpft/internal/transport"
	"github.com/1ureka/udpft/internal/util"
)

const senderUsage = "usage: filesender [flags] <host> <port> <source_file> <destination_file_name>"

// SenderApp returns the filesender app.
func SenderApp() *cli.App {
	return &cli.App{
		Name:            "filesender",
		Usage:           "Send one file to a filereceiver over UDP",
		UsageText:       senderUsage,
		ArgsUsage:       "<host> <port> <source_file> <destination_file_name>",
		Version:         Version,
		HideHelpCommand: true,
		ExitErrHandler:  ExitErrHandler,
		Flags:           append(senderFlags(), commonFlags()...),
		Action:          sendAction,
	}
}

func senderFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:    "timeout",
			Usage:   "Initial ack timeout per frame",
			Value:   config.DefaultBaseTimeout,
			EnvVars: []string{"UDPFT_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "max-retries",
			Usage:   "Retransmissions per frame before giving up, 0 retries forever",
			EnvVars: []string{"UDPFT_MAX_RETRIES"},
		},
		&cli.Float64Flag{
			Name:    "backoff",
			Usage:   "Timeout multiplier per retransmission, 1 keeps it fixed",
			Value:   config.DefaultBackoff,
			EnvVars: []string{"UDPFT_BACKOFF"},
		},
		&cli.DurationFlag{
			Name:    "max-timeout",
			Usage:   "Upper bound for the backed-off timeout, 0 means none",
			EnvVars: []string{"UDPFT_MAX_TIMEOUT"},
		},
	}
}

// senderConfig merges defaults, the config file, and flags.
func senderConfig(c *cli.Context) (config.SenderConfig, error) {
	cfg := config.DefaultSenderConfig()

	file, err := loadFile(c)
	if err != nil {
		return cfg, err
	}
	file.ApplySender(&cfg)

	if c.IsSet("timeout") {
		cfg.Retry.BaseTimeout = c.Duration("timeout")
	}
	if c.IsSet("max-retries") {
		cfg.Retry.MaxRetries = c.Int("max-retries")
	}
	if c.IsSet("backoff") {
		cfg.Retry.Backoff = c.Float64("backoff")
	}
	if c.IsSet("max-timeout") {
		cfg.Retry.MaxTimeout = c.Duration("max-timeout")
	}

	return cfg, cfg.Validate()
}

func sendAction(c *cli.Context) error {
	if c.NArg() != 4 {
		return usageError(senderUsage, nil)
	}
	host := c.Args().Get(0)
	srcPath := c.Args().Get(2)
	destName := c.Args().Get(3)

	port, err := parsePort(c.Args().Get(1))
	if err != nil {
		return usageError(senderUsage, err)
	}
	cfg, err := senderConfig(c)
	if err != nil {
		return failure("%v", err)
	}

	setup(c)

	src, err := os.Open(srcPath)
	if err != nil {
		return failure("failed to open source file: %v", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return failure("failed to stat source file: %v", err)
	}
	if info.IsDir() {
		return failure("%s is a directory", srcPath)
	}

	peer, err := transport.Resolve(host, port)
	if err != nil {
		return failure("%v", err)
	}
	conn, err := transport.Listen(0)
	if err != nil {
		return failure("%v", err)
	}
	defer conn.Close()

	eng, err := sender.New(conn, peer, cfg)
	if err != nil {
		return failure("%v", err)
	}

	total := int(protocol.UnitCount(info.Size()))
	progress := newProgress(c, fmt.Sprintf("Sending %s", filepath.Base(srcPath)), total)
	eng.OnProgress(progress.Update)

	util.LogInfo("sending %s (%s, %d units) to %s as %q",
		srcPath, strings.TrimSpace(util.FormatBytes(float64(info.Size()))), total, peer, destName)

	res, err := eng.Send(c.Context, destName, src, info.Size())
	progress.Stop()
	if err != nil {
		return failure("transfer failed after %d of %d units: %v", res.Units, total, err)
	}

	util.LogSuccess("sent %d bytes in %v (%d retransmissions)",
		res.Bytes, res.Elapsed.Round(time.Millisecond), res.Retransmits)
	return nil
}

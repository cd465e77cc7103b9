package command

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/1ureka/udpft/internal/config"
	"github.com/1ureka/udpft/internal/receiver"
	"github.com/1ureka/udpft/internal/transport"
	"github.com/1ureka/udpft/internal/util"
)

const receiverUsage = "usage: filereceiver [flags] <port>"

// ReceiverApp returns the filereceiver app.
func ReceiverApp() *cli.App {
	return &cli.App{
		Name:            "filereceiver",
		Usage:           "Receive one file from a filesender over UDP",
		UsageText:       receiverUsage,
		ArgsUsage:       "<port>",
		Version:         Version,
		HideHelpCommand: true,
		ExitErrHandler:  ExitErrHandler,
		Flags:           append(receiverFlags(), commonFlags()...),
		Action:          receiveAction,
	}
}

func receiverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "out-dir",
			Aliases: []string{"o"},
			Usage:   "Directory the received file is written to",
			Value:   ".",
			EnvVars: []string{"UDPFT_OUT_DIR"},
		},
		&cli.DurationFlag{
			Name:    "linger",
			Usage:   "Keep acking duplicates for this quiet period after completion",
			EnvVars: []string{"UDPFT_LINGER"},
		},
		&cli.BoolFlag{
			Name:    "repeat-meta-ack",
			Usage:   "Ack the metadata once more when the first content frame arrives",
			EnvVars: []string{"UDPFT_REPEAT_META_ACK"},
		},
	}
}

// receiverConfig merges defaults, the config file, and flags.
func receiverConfig(c *cli.Context) (config.ReceiverConfig, error) {
	cfg := config.DefaultReceiverConfig()

	file, err := loadFile(c)
	if err != nil {
		return cfg, err
	}
	file.ApplyReceiver(&cfg)

	if c.IsSet("out-dir") {
		cfg.OutputDir = c.String("out-dir")
	}
	if c.IsSet("linger") {
		cfg.Linger = c.Duration("linger")
	}
	if c.IsSet("repeat-meta-ack") {
		cfg.RepeatMetaAck = c.Bool("repeat-meta-ack")
	}

	return cfg, cfg.Validate()
}

func receiveAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError(receiverUsage, nil)
	}
	port, err := parsePort(c.Args().Get(0))
	if err != nil {
		return usageError(receiverUsage, err)
	}
	cfg, err := receiverConfig(c)
	if err != nil {
		return failure("%v", err)
	}

	setup(c)

	conn, err := transport.Listen(port)
	if err != nil {
		return failure("%v", err)
	}
	defer conn.Close()

	eng, err := receiver.New(conn, cfg)
	if err != nil {
		return failure("%v", err)
	}

	// the unit count is only known once the metadata arrives
	var progress *util.Progress
	eng.OnProgress(func(written, total int) {
		if progress == nil {
			progress = newProgress(c, "Receiving", total)
		}
		progress.Update(written, total)
	})
	defer func() { progress.Stop() }()

	util.LogInfo("listening on %s, writing to %s", conn.LocalAddr(), cfg.OutputDir)

	res, err := eng.Receive(c.Context)
	if err != nil {
		return failure("transfer failed: %v", err)
	}

	progress.Stop()
	progress = nil
	util.Scoped(res.SessionID).Success("received %q: %d bytes in %v -> %s",
		res.FileName, res.Bytes, res.Elapsed.Round(time.Millisecond), res.Path)
	return nil
}

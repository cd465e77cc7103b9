// Package command builds the filesender and filereceiver command-line apps.
//
// Both apps read their settings in the same order: built-in defaults, then
// the optional --config YAML file, then UDPFT_* environment variables, then
// flags. Usage errors exit with status 1 after printing the usage line.
package command

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/1ureka/udpft/internal/config"
	"github.com/1ureka/udpft/internal/util"
)

// Version is set via ldflags at build time.
var Version = "dev"

const statsInterval = time.Second

// Flags shared by both apps.
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML config file",
			EnvVars: []string{"UDPFT_CONFIG"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "Enable debug logging",
			EnvVars: []string{"UDPFT_DEBUG"},
		},
		&cli.BoolFlag{
			Name:    "no-progress",
			Usage:   "Do not draw a progress bar",
			EnvVars: []string{"UDPFT_NO_PROGRESS"},
		},
		&cli.BoolFlag{
			Name:    "stats",
			Usage:   "Log traffic statistics every second",
			EnvVars: []string{"UDPFT_STATS"},
		},
	}
}

// ExitErrHandler prints the message of a cli.Exit error and exits with its
// code. Any other error is printed and exits with status 1.
func ExitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// loadFile reads the --config file, if one was given.
func loadFile(c *cli.Context) (*config.File, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	return config.Load(path)
}

// parsePort parses a positional port argument.
func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("port %q is not a number: %w", raw, config.ErrInvalid)
	}
	if err := config.ValidatePort(port); err != nil {
		return 0, err
	}
	return port, nil
}

// setup applies --debug and --stats and prints the banner.
func setup(c *cli.Context) {
	if c.Bool("debug") {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("%s v%s", c.App.Name, Version))
	pterm.Println()

	if c.Bool("stats") {
		util.StartStatsReporter(c.Context, statsInterval)
	}
}

// newProgress starts a progress bar unless --no-progress is set. The nil
// result it returns otherwise is a valid no-op bar.
func newProgress(c *cli.Context, title string, total int) *util.Progress {
	if c.Bool("no-progress") {
		return nil
	}
	return util.NewProgress(title, total)
}

// usageError prints the problem and exits 1 with the usage line.
func usageError(usage string, err error) error {
	if err != nil {
		return cli.Exit(fmt.Sprintf("%v\n%s", err, usage), 1)
	}
	return cli.Exit(usage, 1)
}

// failure wraps a runtime error for the exit handler.
func failure(format string, args ...any) error {
	return cli.Exit(fmt.Sprintf(format, args...), 1)
}

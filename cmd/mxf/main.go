// cmd/mxf/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mxfkit/internal/logger"
	"github.com/samcharles93/mxfkit/internal/registry"
	"github.com/samcharles93/mxfkit/internal/version"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "mxf",
		Usage:   "Inspect and rewrap MXF container files",
		Version: version.String(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			infoCmd(),
			dumpCmd(),
			rewrapCmd(),
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup builds the registry and logger shared by every subcommand, from
// the shared flag destinations.
func setup() (*registry.Registry, logger.Logger, error) {
	reg := registry.Baseline()
	for _, path := range dictPaths {
		if err := reg.LoadDictionary(path); err != nil {
			return nil, nil, err
		}
	}
	log := logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logger.ParseLevel(logLevel),
	}))
	return reg, log, nil
}

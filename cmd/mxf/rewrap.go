package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mxfkit/pkg/mxf"
)

func rewrapCmd() *cli.Command {
	return &cli.Command{
		Name:      "rewrap",
		Usage:     "Read an MXF file and write an equivalent, freshly serialised copy",
		ArgsUsage: "<in.mxf> <out.mxf>",
		Flags:     sharedFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() < 2 {
				return fmt.Errorf("usage: mxf rewrap <in.mxf> <out.mxf>")
			}
			reg, log, err := setup()
			if err != nil {
				return err
			}
			f, err := mxf.Open(cmd.Args().Get(0), reg, log)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			if err := f.Rewrap(cmd.Args().Get(1)); err != nil {
				return fmt.Errorf("rewrap: %w", err)
			}
			return nil
		},
	}
}

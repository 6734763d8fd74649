package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tuner/internal/train"
	"github.com/samcharles93/tuner/internal/version"
)

// exitDiverged is the exit status of a run aborted by a non-finite loss.
const exitDiverged = 2

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "tuner",
		Usage:   "Multi-task LoRA fine-tuning and evaluation",
		Version: version.String(),
		Flags:   append(loggingFlags(), configFlag()),
		Before:  setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			initCmd(),
			trainCmd(),
			evalCmd(),
			serveCmd(),
			inspectCmd(),
			versionCmd(),
		},
	}
}

func exitCode(err error) int {
	if errors.Is(err, train.ErrTrainingDiverged) {
		return exitDiverged
	}
	return 1
}

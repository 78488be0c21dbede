package commands

import (
	"io"

	"github.com/spf13/cobra"

	"ragqa/internal/logger"
	"ragqa/internal/tui"
)

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Ask questions in an interactive terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.readyPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			// Log lines would corrupt the alternate screen.
			logger.SetOutput(io.Discard)
			return tui.Run(p)
		},
	}
}

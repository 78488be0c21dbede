package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ragqa/internal/web"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the question form and JSON API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := opts.readyPipeline(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			if addr == "" {
				addr = opts.cfg.Server.Addr
			}
			return web.Serve(ctx, addr, web.NewRouter(p, opts.cfg.Server.Mode))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

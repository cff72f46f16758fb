package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vigil/cmd/internal/app"
)

func newServeCommand() *cobra.Command {
	var addr string

	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, the alert stream, and the cleanup sweeps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			src := source()
			if addr != "" {
				src.Set("VIGIL_HTTP_ADDR", addr)
			}
			cfg, err := app.LoadConfig(src)
			if err != nil {
				return err
			}
			log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				log.Error("server.init.fail", "err", err)
				return err
			}
			return a.Run(ctx)
		},
	}
	c.Flags().StringVar(&addr, "addr", "", "listen address (overrides VIGIL_HTTP_ADDR)")
	return c
}

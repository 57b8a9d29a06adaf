package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentsh/linkguard/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	var syncOnStart bool
	var watchConfig bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the URL checking API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			s, err := server.New(cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()
			if watchConfig && opts.configPath != "" {
				if err := s.WatchConfig(ctx, opts.configPath); err != nil {
					return err
				}
			}
			if syncOnStart {
				// The lists stay empty until the next POST /api/v1/update on failure.
				_ = s.Sync(ctx)
			}
			return s.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&syncOnStart, "sync-on-start", true, "Run one threat list update before serving")
	cmd.Flags().BoolVar(&watchConfig, "watch-config", false, "Reload the scan allowlist when --config changes")
	return cmd
}

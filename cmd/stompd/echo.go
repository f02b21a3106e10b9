package main

import (
	"github.com/spf13/cobra"

	"github.com/luciancaetano/stompnet/internal/codec"
	"github.com/luciancaetano/stompnet/internal/echo"
	"github.com/luciancaetano/stompnet/internal/server"
)

func echoCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "echo [port] [tpc|reactor]",
		Short: "Run the line echo service",
		Long: `Run a newline-delimited echo service on the broker's dispatch layer.
Each line is answered with an echo of its tail; the line "bye" closes the
connection. Useful as a smoke test of either dispatch strategy.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := applyServerArgs(&cfg.Server, args); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			logger.Info("starting echo service", "mode", cfg.Server.Mode, "addr", cfg.Server.Addr)

			maxSize := cfg.Server.MaxFrameSize
			srv := newTCPServer(cfg.Server, server.Config{
				Protocol: func() server.MessagingProtocol { return echo.New(logger) },
				Codec:    func() codec.EncoderDecoder { return codec.NewLineCodec(maxSize) },
				Logger:   logger,
			})

			ctx, cancel := signalContext(logger)
			defer cancel()
			return srv.Serve(ctx)
		},
	}
}

package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/twpayne/go-terrain/internal/ledger"
	"github.com/twpayne/go-terrain/internal/server"
)

func newServeCmd(o *options) *cobra.Command {
	var listen string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := o.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			p, err := newPipeline(cfg, logger)
			if err != nil {
				return err
			}

			serverOptions := []server.Option{
				server.WithLogger(logger),
				server.WithFileWait(time.Duration(cfg.Pipeline.FileWait)),
			}
			if cfg.LedgerPath != "" {
				l, err := ledger.Open(cfg.LedgerPath)
				if err != nil {
					return err
				}
				defer l.Close()
				serverOptions = append(serverOptions, server.WithLedger(l))
			}

			gin.SetMode(gin.ReleaseMode)
			s, err := server.New(p, cfg.UploadDir, serverOptions...)
			if err != nil {
				return err
			}
			return s.ListenAndServe(cmd.Context(), cfg.Listen)
		},
	}
	serveCmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return serveCmd
}

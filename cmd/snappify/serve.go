package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Nadiam75/snappify/internal/server"
	"github.com/Nadiam75/snappify/internal/server/endpoints"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Snappify server",
	Long: `Start the Snappify HTTP server.

The server connects to each enabled engine's model server and loads the
models once it is listening. Engines with container.managed set are
started in Docker first and stopped again on shutdown (Ctrl+C or SIGTERM).

The server provides:
  - /health     - Basic server health check
  - /ready      - Readiness check (engine initialization finished)
  - /models     - Per-engine status
  - /ocr        - Recognize one image
  - /ocr/batch  - Recognize up to max_batch images
  - /metrics    - Per-engine run metrics

Examples:
  snappify serve                    # Start on the configured port (default 8000)
  snappify serve --port 3000        # Start on custom port
  snappify serve --host 127.0.0.1   # Bind to loopback only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger()
		if err != nil {
			return err
		}

		h, err := getHome()
		if err != nil {
			return err
		}
		if pid, running := h.RunningPID(); running {
			return fmt.Errorf("snappify is already running (pid %d)", pid)
		}

		cfgMgr, err := loadConfig(h)
		if err != nil {
			return err
		}
		if f := cfgMgr.ConfigFile(); f != "" {
			logger.Info("loaded config", "file", f)
			cfgMgr.WatchConfig()
		}
		cfg := cfgMgr.Get()

		host, port := cfg.Server.Host, cfg.Server.Port
		if cmd.Flags().Changed("host") {
			host = serveHost
		}
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		rt, err := buildRuntime(ctx, h, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := h.WritePID(); err != nil {
			return err
		}
		defer h.RemovePID()

		srv, err := server.New(server.Config{
			Host:            host,
			Port:            port,
			Registry:        rt.registry,
			Orchestrator:    rt.orchestrator,
			ResultStore:     rt.store,
			Metrics:         rt.metrics,
			ConfigManager:   cfgMgr,
			Home:            h,
			UploadDir:       rt.uploadDir,
			MaxUploadBytes:  int64(cfg.Server.MaxUploadMB) << 20,
			SwaggerSpecPath: endpoints.GetSwaggerSpecPath(),
			Logger:          logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "0.0.0.0", "Host to bind to (overrides server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "8000", "Port to listen on (overrides server.port)")

	rootCmd.AddCommand(serveCmd)
}

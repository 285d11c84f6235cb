package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/storyforge/storyforge/internal/bookstore"
	"github.com/storyforge/storyforge/internal/config"
	"github.com/storyforge/storyforge/internal/home"
	"github.com/storyforge/storyforge/internal/server"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the storyforge server",
	Long: `Start the storyforge HTTP server.

The server provides:
  - POST /api/books/generate - Generate a complete illustrated book
  - GET  /api/books          - List the book library
  - GET  /api/books/{id}     - Fetch a single book
  - POST /api/books/{id}/stars - Rate a book
  - /health, /ready          - Health and readiness checks

Examples:
  storyforge serve                # Start on default port 8080
  storyforge serve --port 3000    # Start on custom port`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cfgPath := cfgFile
		if cfgPath == "" && h.ConfigExists() {
			cfgPath = h.ConfigPath()
		}
		mgr, err := config.NewManager(cfgPath)
		if err != nil {
			return err
		}
		mgr.WatchConfig()
		cfg := mgr.Get()

		databaseURL := config.ResolveEnvVars(cfg.Database.URL)
		if err := bookstore.Migrate(databaseURL, logger); err != nil {
			return err
		}
		store, err := bookstore.New(ctx, databaseURL, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		coordinator, err := buildPipeline(ctx, cfg, store, logger)
		if err != nil {
			return err
		}

		host := serveHost
		if host == "" {
			host = cfg.Server.Host
		}
		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv, err := server.New(server.Config{
			Host:        host,
			Port:        port,
			Coordinator: coordinator,
			Store:       store,
			Logger:      logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from config)")

	rootCmd.AddCommand(serveCmd)
}

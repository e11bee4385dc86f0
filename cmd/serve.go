package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/airframesio/epias-extractor/cmd/coordinator"
	"github.com/airframesio/epias-extractor/cmd/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the job-control HTTP API",
	Long: `Starts the job-control API. Clients log in with their EPİAŞ credentials,
start and poll extraction jobs, stream progress over a websocket and download
finished jobs as Excel workbooks. Sessions expire after --session-ttl minutes
without activity, together with their jobs.`,
	Run: func(_ *cobra.Command, _ []string) {
		runServe()
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8000", "address to listen on")
	serveCmd.Flags().String("secret", "", "secret signing session tokens (at least 16 characters)")
	serveCmd.Flags().Int("session-ttl", int(server.DefaultSessionTTL/time.Minute), "minutes of inactivity before a session is closed")

	bindFlags(serveCmd.Flags(), map[string]string{
		"server.addr":        "addr",
		"server.secret":      "secret",
		"server.session_ttl": "session-ttl",
	})
}

func runServe() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	config := loadConfig()
	initLogger(config.Debug, config.LogFormat)

	logger.Info("")
	logger.Info(fmt.Sprintf("⚡ EPİAŞ Extractor API v%s", Version))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	if err := config.ValidateServer(); err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		os.Exit(1)
	}

	startVersionCheck(config.Debug)

	ctx, stop := commandContext()
	defer stop()

	checkpoints, closeStore, err := openCheckpointStore(ctx, config)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ %s", err.Error()))
		os.Exit(1)
	}
	defer closeStore()

	fanout, health, err := buildSinks(ctx, config, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ %s", err.Error()))
		os.Exit(1)
	}
	defer fanout.Close()
	if fanout.Len() > 0 {
		logger.Info(fmt.Sprintf("📦 Publishing enabled: %v", fanout.Names()))
	}

	srv, err := server.New(server.Config{
		Secret:             []byte(config.Server.Secret),
		SessionTTL:         time.Duration(config.Server.SessionTTL) * time.Minute,
		ClientOptions:      clientOptions(config),
		CoordinatorOptions: []coordinator.Option{coordinator.WithLogger(logger)},
		Checkpoints:        checkpoints,
		Sinks:              fanout,
		Health:             health,
		Version:            Version,
		Logger:             logger,
	})
	if err != nil {
		logger.Error(fmt.Sprintf("❌ %s", err.Error()))
		os.Exit(1)
	}
	defer srv.Close()

	logger.Info("⌨️  Press Ctrl+C to stop the server")
	if err := srv.Run(ctx, config.Server.Addr); err != nil {
		logger.Error(fmt.Sprintf("❌ Server failed: %s", err.Error()))
		os.Exit(1)
	}
	logger.Info("✅ Server stopped")
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/airframesio/epias-extractor/cmd/coordinator"
	"github.com/airframesio/epias-extractor/cmd/epias"
	"github.com/airframesio/epias-extractor/cmd/store"
)

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/airframesio/epias-extractor/cmd.Version=1.2.3"
	Version = "dev"

	// signalContext is set by main() before Cobra initialization so signals
	// are registered before any library can interfere
	signalContext context.Context
	stopFilePath  string

	// versionCheckResult is shared between the startup check and the TUI
	versionCheckResult *VersionCheckResult

	cfgFile string

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D9FF"))

	logger *slog.Logger
)

// SetSignalContext stores the signal-aware context created in main()
// This must be called before Execute() to ensure proper signal handling
func SetSignalContext(ctx context.Context, stopFile string) {
	signalContext = ctx
	stopFilePath = stopFile
}

// broadcastLogHandler wraps a slog handler and broadcasts logs to WebSocket clients
type broadcastLogHandler struct {
	handler slog.Handler
}

func newBroadcastLogHandler(handler slog.Handler) *broadcastLogHandler {
	return &broadcastLogHandler{handler: handler}
}

func (h *broadcastLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *broadcastLogHandler) Handle(ctx context.Context, r slog.Record) error {
	// logBroadcast only exists while the viewer runs
	if logBroadcast != nil {
		logMsg := LogMessage{
			Timestamp: r.Time.Format("2006-01-02 15:04:05"),
			Level:     r.Level.String(),
			Message:   r.Message,
		}
		select {
		case logBroadcast <- logMsg:
		default:
			// Channel full, drop rather than block logging
		}
	}

	return h.handler.Handle(ctx, r)
}

func (h *broadcastLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &broadcastLogHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h *broadcastLogHandler) WithGroup(name string) slog.Handler {
	return &broadcastLogHandler{handler: h.handler.WithGroup(name)}
}

// textOnlyHandler outputs human-readable lines without key=value pairs,
// suitable for interactive terminal usage
type textOnlyHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{
		opts:   *opts,
		writer: w,
	}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	// Format: YYYY-MM-DD HH:MM:SS LEVEL message
	_, err := fmt.Fprintf(h.writer, "%s %s %s\n", r.Time.Format("2006-01-02 15:04:05"), r.Level.String(), r.Message)
	return err
}

func (h *textOnlyHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	return h
}

// newLogger builds the handler chain for a format writing to w
func newLogger(w io.Writer, isDebug bool, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if isDebug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "logfmt":
		handler = slog.NewTextHandler(w, opts)
	default: // "text" or anything else
		handler = newTextOnlyHandler(w, opts)
	}

	return slog.New(newBroadcastLogHandler(handler))
}

// initLogger initializes the package logger based on debug flag and log format
func initLogger(isDebug bool, format string) {
	logger = newLogger(os.Stdout, isDebug, format)
}

var rootCmd = &cobra.Command{
	Use:     "epias-extractor",
	Version: Version,
	Short:   "⚡ Extract EPİAŞ real-time generation data to Excel workbooks",
	Long: titleStyle.Render("EPİAŞ Extractor") + `

A CLI tool to extract real-time electricity generation data from the EPİAŞ
transparency platform. Authenticates with your platform account, splits the
date range into chunks, fetches every page of every chunk, and writes an Excel
workbook with the records, a summary and daily totals.

Runs are checkpointed after every chunk and resume where they stopped. Results
can also be written as a raw JSONL/CSV/Parquet dump and published to S3,
PostgreSQL, InfluxDB or Kafka.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract generation data for a date range",
	Long:  `Extract real-time generation data for a date range into an Excel workbook, resuming from the last checkpoint of the same range and plant.`,
	Run: func(_ *cobra.Command, _ []string) {
		runExtract()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(plantsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(viewerCmd)

	// Persistent flags (available to all subcommands)
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.epias-extractor.yaml)")
	flags.BoolP("debug", "d", false, "enable debug output")
	flags.String("log-format", "text", "log format (text, logfmt, json)")

	flags.String("username", "", "EPİAŞ transparency platform username")
	flags.String("password", "", "EPİAŞ transparency platform password")
	flags.String("auth-url", epias.DefaultAuthURL, "ticket-granting endpoint")
	flags.String("base-url", epias.DefaultBaseURL, "generation service base URL")
	flags.Int("page-size", epias.DefaultPageSize, "records requested per page")
	flags.Int("timeout", int(epias.DefaultTimeout/time.Second), "request timeout in seconds")

	flags.String("format", "jsonl", "raw dump format: jsonl, csv, parquet")
	flags.String("compression", "zstd", "raw dump compression: zstd, lz4, gzip, none")
	flags.Int("compression-level", 3, "compression level (zstd: 1-22, lz4/gzip: 1-9, none: 0)")

	flags.String("store", storeFile, "checkpoint store: file, redis, none")
	flags.String("checkpoint-dir", store.DefaultCheckpointDir(), "directory of the file checkpoint store")
	flags.String("redis-url", "", "redis URL of the redis checkpoint store")
	flags.Int("checkpoint-ttl", 72, "hours a redis checkpoint is kept (0 = forever)")

	flags.String("s3-endpoint", "", "S3-compatible endpoint URL")
	flags.String("s3-bucket", "", "S3 bucket name (enables the S3 sink)")
	flags.String("s3-access-key", "", "S3 access key")
	flags.String("s3-secret-key", "", "S3 secret key")
	flags.String("s3-region", regionAuto, "S3 region")
	flags.String("path-template", "", "S3 path template with placeholders: {key}, {plant}, {YYYY}, {MM}, {DD}")

	flags.String("db-host", "localhost", "PostgreSQL host")
	flags.Int("db-port", 5432, "PostgreSQL port")
	flags.String("db-user", "", "PostgreSQL user")
	flags.String("db-password", "", "PostgreSQL password")
	flags.String("db-name", "", "PostgreSQL database name (enables the PostgreSQL sink)")
	flags.String("db-sslmode", "disable", "PostgreSQL SSL mode (disable, require, verify-ca, verify-full)")
	flags.String("db-table", "epias_generation", "PostgreSQL table receiving records")

	flags.String("influx-url", "", "InfluxDB URL (enables the InfluxDB sink)")
	flags.String("influx-token", "", "InfluxDB API token")
	flags.String("influx-org", "", "InfluxDB organization")
	flags.String("influx-bucket", "", "InfluxDB bucket")
	flags.String("influx-measurement", "generation", "InfluxDB measurement")

	flags.StringSlice("kafka-brokers", nil, "Kafka brokers (enables the Kafka sink)")
	flags.String("kafka-topic", "epias.generation", "Kafka topic")
	flags.String("kafka-client-id", "epias-extractor", "Kafka client id")

	// Extract-specific flags
	extractCmd.Flags().Bool("dry-run", false, "plan the chunks without fetching")
	extractCmd.Flags().String("start-date", "", "start date (YYYY-MM-DD, required)")
	extractCmd.Flags().String("end-date", time.Now().In(epias.Location).Format(coordinator.DateLayout), "end date (YYYY-MM-DD)")
	extractCmd.Flags().Int64("plant-id", 0, "restrict to one power plant (0 = all plants)")
	extractCmd.Flags().Int("chunk-days", coordinator.DefaultChunkDays, "days fetched per chunk (1-90)")
	extractCmd.Flags().Bool("fresh", false, "discard any checkpoint and fetch every chunk again")
	extractCmd.Flags().StringP("output", "o", "", "workbook path (default epias_generation_<timestamp>.xlsx)")
	extractCmd.Flags().Bool("include-plants", false, "add the power plant list to the workbook")
	extractCmd.Flags().String("raw-output", "", "also write the raw records to this path")
	extractCmd.Flags().Bool("viewer", false, "start the embedded checkpoint viewer web server")
	extractCmd.Flags().Int("viewer-port", 8080, "port for the checkpoint viewer web server")

	// Note: We don't use MarkFlagRequired because it checks before viper loads the config file.
	// Instead, validation happens in config.Validate() which runs after all config sources are loaded.

	bindFlags(flags, map[string]string{
		"debug":              "debug",
		"log_format":         "log-format",
		"username":           "username",
		"password":           "password",
		"api.auth_url":       "auth-url",
		"api.base_url":       "base-url",
		"api.page_size":      "page-size",
		"api.timeout":        "timeout",
		"output.format":      "format",
		"output.compression": "compression",
		"output.level":       "compression-level",
		"checkpoint.store":   "store",
		"checkpoint.dir":     "checkpoint-dir",
		"checkpoint.redis":   "redis-url",
		"checkpoint.ttl":     "checkpoint-ttl",
		"s3.endpoint":        "s3-endpoint",
		"s3.bucket":          "s3-bucket",
		"s3.access_key":      "s3-access-key",
		"s3.secret_key":      "s3-secret-key",
		"s3.region":          "s3-region",
		"s3.path_template":   "path-template",
		"db.host":            "db-host",
		"db.port":            "db-port",
		"db.user":            "db-user",
		"db.password":        "db-password",
		"db.name":            "db-name",
		"db.sslmode":         "db-sslmode",
		"db.table":           "db-table",
		"influx.url":         "influx-url",
		"influx.token":       "influx-token",
		"influx.org":         "influx-org",
		"influx.bucket":      "influx-bucket",
		"influx.measurement": "influx-measurement",
		"kafka.brokers":      "kafka-brokers",
		"kafka.topic":        "kafka-topic",
		"kafka.client_id":    "kafka-client-id",
	})

	bindFlags(extractCmd.Flags(), map[string]string{
		"dry_run":               "dry-run",
		"start_date":            "start-date",
		"end_date":              "end-date",
		"plant_id":              "plant-id",
		"chunk_days":            "chunk-days",
		"fresh":                 "fresh",
		"output.workbook":       "output",
		"output.include_plants": "include-plants",
		"output.raw_path":       "raw-output",
		"viewer":                "viewer",
		"viewer_port":           "viewer-port",
	})
}

// bindFlags binds viper keys to the named flags of a flag set
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		_ = viper.BindPFlag(key, flags.Lookup(name))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".epias-extractor")
	}

	// EPIAS_USERNAME, EPIAS_PASSWORD, EPIAS_S3_BUCKET, ...
	viper.SetEnvPrefix("EPIAS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && viper.GetBool("debug") {
		if logger == nil {
			initLogger(true, viper.GetString("log_format"))
		}
		logger.Debug(fmt.Sprintf("📄 Using config file: %s", viper.ConfigFileUsed()))
	}
}

// loadConfig collects every setting from flags, environment and config file
func loadConfig() *Config {
	return &Config{
		Debug:      viper.GetBool("debug"),
		LogFormat:  viper.GetString("log_format"),
		DryRun:     viper.GetBool("dry_run"),
		Viewer:     viper.GetBool("viewer"),
		ViewerPort: viper.GetInt("viewer_port"),
		API: APIConfig{
			Username: viper.GetString("username"),
			Password: viper.GetString("password"),
			AuthURL:  viper.GetString("api.auth_url"),
			BaseURL:  viper.GetString("api.base_url"),
			PageSize: viper.GetInt("api.page_size"),
			Timeout:  viper.GetInt("api.timeout"),
		},
		StartDate: viper.GetString("start_date"),
		EndDate:   viper.GetString("end_date"),
		PlantID:   viper.GetInt64("plant_id"),
		ChunkDays: viper.GetInt("chunk_days"),
		Fresh:     viper.GetBool("fresh"),
		Output: OutputConfig{
			Workbook:         viper.GetString("output.workbook"),
			IncludePlants:    viper.GetBool("output.include_plants"),
			RawPath:          viper.GetString("output.raw_path"),
			RawFormat:        viper.GetString("output.format"),
			Compression:      viper.GetString("output.compression"),
			CompressionLevel: viper.GetInt("output.level"),
		},
		Checkpoint: CheckpointConfig{
			Store:    viper.GetString("checkpoint.store"),
			Dir:      viper.GetString("checkpoint.dir"),
			RedisURL: viper.GetString("checkpoint.redis"),
			TTL:      viper.GetInt("checkpoint.ttl"),
		},
		S3: S3Config{
			Endpoint:     viper.GetString("s3.endpoint"),
			Bucket:       viper.GetString("s3.bucket"),
			AccessKey:    viper.GetString("s3.access_key"),
			SecretKey:    viper.GetString("s3.secret_key"),
			Region:       viper.GetString("s3.region"),
			PathTemplate: viper.GetString("s3.path_template"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetInt("db.port"),
			User:     viper.GetString("db.user"),
			Password: viper.GetString("db.password"),
			Name:     viper.GetString("db.name"),
			SSLMode:  viper.GetString("db.sslmode"),
			Table:    viper.GetString("db.table"),
		},
		Influx: InfluxConfig{
			URL:         viper.GetString("influx.url"),
			Token:       viper.GetString("influx.token"),
			Org:         viper.GetString("influx.org"),
			Bucket:      viper.GetString("influx.bucket"),
			Measurement: viper.GetString("influx.measurement"),
		},
		Kafka: KafkaConfig{
			Brokers:  viper.GetStringSlice("kafka.brokers"),
			Topic:    viper.GetString("kafka.topic"),
			ClientID: viper.GetString("kafka.client_id"),
		},
		Server: ServerConfig{
			Addr:       viper.GetString("server.addr"),
			Secret:     viper.GetString("server.secret"),
			SessionTTL: viper.GetInt("server.session_ttl"),
		},
	}
}

// commandContext returns the signal context created in main(), or a fallback
func commandContext() (context.Context, context.CancelFunc) {
	if signalContext != nil {
		return signalContext, func() {}
	}
	logger.Warn("Signal context not set, creating fallback...")
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// startVersionCheck checks for updates in the background and waits briefly
func startVersionCheck(isDebug bool) {
	updateCheckDone := make(chan struct{})
	go func() {
		defer close(updateCheckDone)
		result := checkForUpdates(context.Background(), Version)
		versionCheckResult = &result

		if result.UpdateAvailable {
			logger.Info("")
			logger.Info(fmt.Sprintf("💡 %s", formatUpdateMessage(result)))
		} else if result.Error != nil && isDebug {
			logger.Debug(fmt.Sprintf("Version check failed: %v", result.Error))
		}
	}()

	select {
	case <-updateCheckDone:
	case <-time.After(2 * time.Second):
		logger.Debug("Version check taking longer than expected, continuing...")
	}
}

// forceExitAfterCancel exits with 130 when shutdown after an interrupt takes
// longer than two seconds. Close the returned channel once work has stopped.
func forceExitAfterCancel(ctx context.Context) chan<- struct{} {
	exited := make(chan struct{})
	go func() {
		select {
		case <-exited:
			return
		case <-ctx.Done():
		}
		logger.Info("")
		logger.Info("⚠️  Interrupt signal received, shutting down...")

		select {
		case <-exited:
		case <-time.After(2 * time.Second):
			logger.Error("⚠️  Graceful shutdown timed out, forcing exit...")
			os.Exit(130)
		}
	}()
	return exited
}

func runExtract() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	config := loadConfig()

	if config.Viewer {
		enableLogBroadcast()
	}
	initLogger(config.Debug, config.LogFormat)

	logger.Info("")
	logger.Info(fmt.Sprintf("⚡ EPİAŞ Extractor v%s", Version))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	// In TUI mode, printing to stderr corrupts the display
	if config.Debug && stopFilePath != "" {
		fmt.Fprintln(os.Stderr, "\n"+infoStyle.Render("💡 To stop the extractor: Press CTRL-C, or run:"))
		fmt.Fprintf(os.Stderr, "   "+infoStyle.Render("touch %s")+"\n\n", stopFilePath)
	}

	logger.Debug("Validating configuration...")
	if err := config.Validate(); err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		os.Exit(1)
	}
	logger.Debug("Configuration validated successfully")

	startVersionCheck(config.Debug)

	ctx, stop := commandContext()
	defer stop()

	exited := forceExitAfterCancel(ctx)

	logger.Debug("Creating extractor...")
	extractor := NewExtractor(config, logger)
	err := extractor.Run(ctx)
	close(exited)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("")
			logger.Info("⚠️  Extraction cancelled by user")
			os.Exit(130)
		}
		logger.Error(fmt.Sprintf("❌ Extraction failed: %s", err.Error()))
		os.Exit(1)
	}

	logger.Info("")
	logger.Info("✅ Extraction completed successfully!")
}

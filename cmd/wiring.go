package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/airframesio/epias-extractor/cmd/compressors"
	"github.com/airframesio/epias-extractor/cmd/epias"
	"github.com/airframesio/epias-extractor/cmd/formatters"
	"github.com/airframesio/epias-extractor/cmd/sinks"
	"github.com/airframesio/epias-extractor/cmd/store"
)

// clientOptions maps the API settings onto client options
func clientOptions(config *Config) []epias.Option {
	return []epias.Option{
		epias.WithAuthURL(config.API.AuthURL),
		epias.WithBaseURL(config.API.BaseURL),
		epias.WithPageSize(config.API.PageSize),
		epias.WithHTTPClient(&http.Client{Timeout: time.Duration(config.API.Timeout) * time.Second}),
		epias.WithUserAgent("epias-extractor/" + Version),
	}
}

func newClient(config *Config, log *slog.Logger) *epias.Client {
	return epias.NewClient(append(clientOptions(config), epias.WithLogger(log))...)
}

// openCheckpointStore opens the configured backend. The returned func
// releases it.
func openCheckpointStore(ctx context.Context, config *Config) (store.CheckpointStore, func(), error) {
	switch config.Checkpoint.Store {
	case storeRedis:
		client, err := store.DialRedis(ctx, config.Checkpoint.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store.NewRedisCheckpointStore(client, config.checkpointTTL()), func() { _ = client.Close() }, nil
	case storeNone:
		return store.NopCheckpointStore{}, func() {}, nil
	default:
		fileStore, err := store.NewFileCheckpointStore(config.Checkpoint.Dir)
		if err != nil {
			return nil, nil, err
		}
		return fileStore, func() {}, nil
	}
}

// buildSinks connects every enabled sink. Health checks are returned for the
// sinks that can report one.
func buildSinks(ctx context.Context, config *Config, log *slog.Logger) (*sinks.Fanout, map[string]func(context.Context) error, error) {
	var built []sinks.Sink
	health := make(map[string]func(context.Context) error)

	fail := func(err error) (*sinks.Fanout, map[string]func(context.Context) error, error) {
		for _, s := range built {
			_ = s.Close()
		}
		return nil, nil, err
	}

	if config.S3.Bucket != "" {
		s3Sink, err := sinks.NewS3Sink(config.s3Sink(), log)
		if err != nil {
			return fail(fmt.Errorf("failed to create S3 sink: %w", err))
		}
		built = append(built, s3Sink)
	}

	if config.Postgres.Name != "" {
		db, err := sinks.OpenPostgres(ctx, config.postgresSink())
		if err != nil {
			return fail(fmt.Errorf("failed to connect to PostgreSQL: %w", err))
		}
		pgSink, err := sinks.NewPostgresSink(db, config.Postgres.Table, log)
		if err != nil {
			_ = db.Close()
			return fail(err)
		}
		built = append(built, pgSink)
		health["postgres"] = db.PingContext
	}

	if config.Influx.URL != "" {
		influxSink := sinks.NewInfluxSink(config.influxSink(), log)
		built = append(built, influxSink)
		health["influxdb"] = influxSink.Health
	}

	if len(config.Kafka.Brokers) > 0 {
		kafkaSink, err := sinks.NewKafkaSink(config.kafkaSink(), log)
		if err != nil {
			return fail(fmt.Errorf("failed to connect to Kafka: %w", err))
		}
		built = append(built, kafkaSink)
	}

	return sinks.NewFanout(log, built...), health, nil
}

// encodeRaw renders records in the raw dump format, compressing unless the
// format compresses internally
func encodeRaw(records []epias.Record, format, compression string, level int) ([]byte, error) {
	formatter := formatters.GetFormatterWithCompression(format, compression)
	data, err := formatter.Format(records)
	if err != nil {
		return nil, fmt.Errorf("failed to format records: %w", err)
	}
	if formatters.UsesInternalCompression(format) {
		return data, nil
	}

	compressor, err := compressors.GetCompressor(compression)
	if err != nil {
		return nil, err
	}
	if level == 0 {
		level = compressor.DefaultLevel()
	}
	compressed, err := compressor.Compress(data, level)
	if err != nil {
		return nil, fmt.Errorf("failed to compress records: %w", err)
	}
	return compressed, nil
}

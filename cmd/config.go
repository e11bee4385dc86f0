package cmd

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/airframesio/epias-extractor/cmd/compressors"
	"github.com/airframesio/epias-extractor/cmd/coordinator"
	"github.com/airframesio/epias-extractor/cmd/sinks"
)

// Static errors for configuration validation
var (
	ErrUsernameRequired        = errors.New("EPİAŞ username is required")
	ErrPasswordRequired        = errors.New("EPİAŞ password is required")
	ErrStartDateRequired       = errors.New("start date is required")
	ErrStartDateFormatInvalid  = errors.New("invalid start date format")
	ErrEndDateFormatInvalid    = errors.New("invalid end date format")
	ErrDateRangeInvalid        = errors.New("end date must not be before start date")
	ErrPlantIDInvalid          = errors.New("plant id must be positive")
	ErrChunkDaysInvalid        = errors.New("chunk days must be between 1 and 90")
	ErrPageSizeInvalid         = errors.New("page size must be between 1 and 10000")
	ErrTimeoutInvalid          = errors.New("request timeout must be >= 1 second")
	ErrOutputFormatInvalid     = errors.New("output format must be one of: jsonl, csv, parquet")
	ErrCompressionInvalid      = errors.New("compression must be one of: zstd, lz4, gzip, none")
	ErrCompressionLevelInvalid = errors.New("compression level must be between 1 and 22 (zstd), 1-9 (lz4/gzip)")
	ErrCheckpointStoreInvalid  = errors.New("checkpoint store must be one of: file, redis, none")
	ErrRedisURLRequired        = errors.New("redis URL is required for the redis checkpoint store")
	ErrCheckpointTTLInvalid    = errors.New("checkpoint TTL must be >= 0")
	ErrViewerPortInvalid       = errors.New("viewer port must be between 1 and 65535")
	ErrS3EndpointRequired      = errors.New("S3 endpoint is required")
	ErrS3AccessKeyRequired     = errors.New("S3 access key is required")
	ErrS3SecretKeyRequired     = errors.New("S3 secret key is required")
	ErrS3RegionInvalid         = errors.New("S3 region contains invalid characters or is too long")
	ErrDatabaseUserRequired    = errors.New("database user is required")
	ErrDatabasePortInvalid     = errors.New("database port must be between 1 and 65535")
	ErrTableNameInvalid        = errors.New("table name is invalid: must be 1-63 characters, start with a letter or underscore, and contain only letters, numbers, and underscores")
	ErrInfluxTokenRequired     = errors.New("InfluxDB token is required")
	ErrInfluxOrgRequired       = errors.New("InfluxDB organization is required")
	ErrInfluxBucketRequired    = errors.New("InfluxDB bucket is required")
	ErrKafkaTopicRequired      = errors.New("Kafka topic is required")
	ErrServerSecretRequired    = errors.New("server secret is required")
	ErrServerSecretTooShort    = errors.New("server secret must be at least 16 characters")
	ErrSessionTTLInvalid       = errors.New("session TTL must be >= 1 minute")
)

const (
	regionAuto = "auto"

	storeFile  = "file"
	storeRedis = "redis"
	storeNone  = "none"
)

type Config struct {
	Debug      bool
	LogFormat  string
	DryRun     bool
	Viewer     bool
	ViewerPort int
	API        APIConfig
	StartDate  string
	EndDate    string
	PlantID    int64 // 0 selects every plant
	ChunkDays  int
	Fresh      bool // discard any checkpoint before running
	Output     OutputConfig
	Checkpoint CheckpointConfig
	S3         S3Config
	Postgres   PostgresConfig
	Influx     InfluxConfig
	Kafka      KafkaConfig
	Server     ServerConfig
}

type APIConfig struct {
	Username string
	Password string
	AuthURL  string
	BaseURL  string
	PageSize int
	Timeout  int // Request timeout in seconds
}

type OutputConfig struct {
	Workbook         string // xlsx path; empty uses the timestamped default
	IncludePlants    bool
	RawPath          string // optional raw dump next to the workbook
	RawFormat        string
	Compression      string
	CompressionLevel int
}

type CheckpointConfig struct {
	Store    string
	Dir      string
	RedisURL string
	TTL      int // Hours a redis checkpoint survives (0 = forever)
}

// S3Config enables the S3 sink when Bucket is set.
type S3Config struct {
	Endpoint     string
	Bucket       string
	AccessKey    string
	SecretKey    string
	Region       string
	PathTemplate string
}

// PostgresConfig enables the PostgreSQL sink when Name is set.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	Table    string
}

// InfluxConfig enables the InfluxDB sink when URL is set.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// KafkaConfig enables the Kafka sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

type ServerConfig struct {
	Addr       string
	Secret     string
	SessionTTL int // Minutes
}

// validPostgreSQLIdentifier checks if a string is a valid PostgreSQL identifier
// to prevent SQL injection attacks
var validPostgreSQLIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var validRegion = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// isValidTableName validates that a table name is safe to use in SQL queries
func isValidTableName(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	return validPostgreSQLIdentifier.MatchString(name)
}

// isValidRegion validates that an S3 region is reasonable
func isValidRegion(region string) bool {
	if region == "" || len(region) > 50 {
		return false
	}
	return validRegion.MatchString(region)
}

func isValidOutputFormat(format string) bool {
	validFormats := map[string]bool{
		"jsonl":   true,
		"csv":     true,
		"parquet": true,
	}
	return validFormats[format]
}

func isValidCompression(compression string) bool {
	return slices.Contains(compressors.Names(), compression)
}

// isValidCompressionLevel validates compression level based on compression type
func isValidCompressionLevel(compression string, level int) bool {
	return compressors.ValidLevel(compression, level)
}

// SinksEnabled reports whether any sink is configured.
func (c *Config) SinksEnabled() bool {
	return c.S3.Bucket != "" || c.Postgres.Name != "" || c.Influx.URL != "" || len(c.Kafka.Brokers) > 0
}

// DateRange parses the configured dates. An empty end date means today.
func (c *Config) DateRange() (coordinator.DateRange, error) {
	if c.StartDate == "" {
		return coordinator.DateRange{}, ErrStartDateRequired
	}
	start, err := coordinator.ParseDate(c.StartDate)
	if err != nil {
		return coordinator.DateRange{}, fmt.Errorf("%w: %w", ErrStartDateFormatInvalid, err)
	}
	end := coordinator.Midnight(time.Now())
	if c.EndDate != "" {
		if end, err = coordinator.ParseDate(c.EndDate); err != nil {
			return coordinator.DateRange{}, fmt.Errorf("%w: %w", ErrEndDateFormatInvalid, err)
		}
	}
	r, err := coordinator.NewDateRange(start, end)
	if err != nil {
		return coordinator.DateRange{}, fmt.Errorf("%w: %s > %s", ErrDateRangeInvalid, c.StartDate, c.EndDate)
	}
	return r, nil
}

// Plant returns the plant filter, nil for every plant.
func (c *Config) Plant() *int64 {
	if c.PlantID == 0 {
		return nil
	}
	id := c.PlantID
	return &id
}

// ValidateCredentials checks what every command talking to the platform needs.
func (c *Config) ValidateCredentials() error {
	if c.API.Username == "" {
		return ErrUsernameRequired
	}
	if c.API.Password == "" {
		return ErrPasswordRequired
	}
	if c.API.PageSize < 1 || c.API.PageSize > 10000 {
		return fmt.Errorf("%w, got %d", ErrPageSizeInvalid, c.API.PageSize)
	}
	if c.API.Timeout < 1 {
		return fmt.Errorf("%w, got %d", ErrTimeoutInvalid, c.API.Timeout)
	}
	return nil
}

// Validate checks an extract run.
func (c *Config) Validate() error {
	if err := c.ValidateCredentials(); err != nil {
		return err
	}

	if _, err := c.DateRange(); err != nil {
		return err
	}
	if c.PlantID < 0 {
		return fmt.Errorf("%w, got %d", ErrPlantIDInvalid, c.PlantID)
	}
	if c.ChunkDays < 1 || c.ChunkDays > coordinator.MaxChunkDays {
		return fmt.Errorf("%w, got %d", ErrChunkDaysInvalid, c.ChunkDays)
	}

	if err := c.validateOutput(); err != nil {
		return err
	}
	if err := c.validateCheckpoint(); err != nil {
		return err
	}

	if c.Viewer && (c.ViewerPort < 1 || c.ViewerPort > 65535) {
		return fmt.Errorf("%w, got %d", ErrViewerPortInvalid, c.ViewerPort)
	}

	return c.validateSinks()
}

// ValidateServer checks a serve run. Credentials come from each login instead.
func (c *Config) ValidateServer() error {
	if c.Server.Secret == "" {
		return ErrServerSecretRequired
	}
	if len(c.Server.Secret) < 16 {
		return ErrServerSecretTooShort
	}
	if c.Server.SessionTTL < 1 {
		return fmt.Errorf("%w, got %d", ErrSessionTTLInvalid, c.Server.SessionTTL)
	}
	if c.API.PageSize < 1 || c.API.PageSize > 10000 {
		return fmt.Errorf("%w, got %d", ErrPageSizeInvalid, c.API.PageSize)
	}
	if c.API.Timeout < 1 {
		return fmt.Errorf("%w, got %d", ErrTimeoutInvalid, c.API.Timeout)
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	if err := c.validateCheckpoint(); err != nil {
		return err
	}
	return c.validateSinks()
}

func (c *Config) validateOutput() error {
	if !isValidOutputFormat(c.Output.RawFormat) {
		return fmt.Errorf("%w: '%s'", ErrOutputFormatInvalid, c.Output.RawFormat)
	}
	if !isValidCompression(c.Output.Compression) {
		return fmt.Errorf("%w: '%s'", ErrCompressionInvalid, c.Output.Compression)
	}
	if !isValidCompressionLevel(c.Output.Compression, c.Output.CompressionLevel) {
		return fmt.Errorf("%w for compression %s: got %d", ErrCompressionLevelInvalid, c.Output.Compression, c.Output.CompressionLevel)
	}
	return nil
}

func (c *Config) validateCheckpoint() error {
	switch c.Checkpoint.Store {
	case storeFile, storeNone:
	case storeRedis:
		if c.Checkpoint.RedisURL == "" {
			return ErrRedisURLRequired
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrCheckpointStoreInvalid, c.Checkpoint.Store)
	}
	if c.Checkpoint.TTL < 0 {
		return fmt.Errorf("%w, got %d", ErrCheckpointTTLInvalid, c.Checkpoint.TTL)
	}
	return nil
}

// validateSinks checks only the sinks that are enabled.
func (c *Config) validateSinks() error {
	if c.S3.Bucket != "" {
		if c.S3.Endpoint == "" {
			return ErrS3EndpointRequired
		}
		if c.S3.AccessKey == "" {
			return ErrS3AccessKeyRequired
		}
		if c.S3.SecretKey == "" {
			return ErrS3SecretKeyRequired
		}
		if c.S3.Region != "" && c.S3.Region != regionAuto && !isValidRegion(c.S3.Region) {
			return fmt.Errorf("%w: %s", ErrS3RegionInvalid, c.S3.Region)
		}
	}

	if c.Postgres.Name != "" {
		if c.Postgres.User == "" {
			return ErrDatabaseUserRequired
		}
		if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
			return fmt.Errorf("%w, got %d", ErrDatabasePortInvalid, c.Postgres.Port)
		}
		if !isValidTableName(c.Postgres.Table) {
			return fmt.Errorf("%w: '%s'", ErrTableNameInvalid, c.Postgres.Table)
		}
	}

	if c.Influx.URL != "" {
		if c.Influx.Token == "" {
			return ErrInfluxTokenRequired
		}
		if c.Influx.Org == "" {
			return ErrInfluxOrgRequired
		}
		if c.Influx.Bucket == "" {
			return ErrInfluxBucketRequired
		}
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return ErrKafkaTopicRequired
	}
	return nil
}

// s3Sink maps the flat S3 settings onto the sink's configuration.
func (c *Config) s3Sink() sinks.S3Config {
	return sinks.S3Config{
		Endpoint:         c.S3.Endpoint,
		Region:           c.S3.Region,
		AccessKey:        c.S3.AccessKey,
		SecretKey:        c.S3.SecretKey,
		Bucket:           c.S3.Bucket,
		PathTemplate:     c.S3.PathTemplate,
		Format:           c.Output.RawFormat,
		Compression:      c.Output.Compression,
		CompressionLevel: c.Output.CompressionLevel,
	}
}

func (c *Config) postgresSink() sinks.PostgresConfig {
	return sinks.PostgresConfig{
		Host:     c.Postgres.Host,
		Port:     c.Postgres.Port,
		User:     c.Postgres.User,
		Password: c.Postgres.Password,
		Name:     c.Postgres.Name,
		SSLMode:  c.Postgres.SSLMode,
		Table:    c.Postgres.Table,
	}
}

func (c *Config) influxSink() sinks.InfluxConfig {
	return sinks.InfluxConfig{
		URL:         c.Influx.URL,
		Token:       c.Influx.Token,
		Org:         c.Influx.Org,
		Bucket:      c.Influx.Bucket,
		Measurement: c.Influx.Measurement,
	}
}

func (c *Config) kafkaSink() sinks.KafkaConfig {
	return sinks.KafkaConfig{
		Brokers:  c.Kafka.Brokers,
		Topic:    c.Kafka.Topic,
		ClientID: c.Kafka.ClientID,
	}
}

// checkpointTTL converts the configured hours for the redis store.
func (c *Config) checkpointTTL() time.Duration {
	return time.Duration(c.Checkpoint.TTL) * time.Hour
}

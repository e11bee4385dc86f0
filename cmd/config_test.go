package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		LogFormat:  "text",
		ViewerPort: 8080,
		API: APIConfig{
			Username: "operator",
			Password: "secret",
			PageSize: 500,
			Timeout:  30,
		},
		StartDate: "2025-05-01",
		EndDate:   "2025-05-31",
		ChunkDays: 15,
		Output: OutputConfig{
			RawFormat:        "jsonl",
			Compression:      "zstd",
			CompressionLevel: 3,
		},
		Checkpoint: CheckpointConfig{Store: storeFile},
		Server: ServerConfig{
			Secret:     "0123456789abcdef",
			SessionTTL: 120,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing username", mutate: func(c *Config) { c.API.Username = "" }, wantErr: ErrUsernameRequired},
		{name: "missing password", mutate: func(c *Config) { c.API.Password = "" }, wantErr: ErrPasswordRequired},
		{name: "page size too large", mutate: func(c *Config) { c.API.PageSize = 10001 }, wantErr: ErrPageSizeInvalid},
		{name: "zero timeout", mutate: func(c *Config) { c.API.Timeout = 0 }, wantErr: ErrTimeoutInvalid},
		{name: "missing start date", mutate: func(c *Config) { c.StartDate = "" }, wantErr: ErrStartDateRequired},
		{name: "bad start date", mutate: func(c *Config) { c.StartDate = "01/05/2025" }, wantErr: ErrStartDateFormatInvalid},
		{name: "bad end date", mutate: func(c *Config) { c.EndDate = "2025-13-01" }, wantErr: ErrEndDateFormatInvalid},
		{name: "reversed range", mutate: func(c *Config) { c.EndDate = "2025-04-30" }, wantErr: ErrDateRangeInvalid},
		{name: "negative plant", mutate: func(c *Config) { c.PlantID = -1 }, wantErr: ErrPlantIDInvalid},
		{name: "zero chunk days", mutate: func(c *Config) { c.ChunkDays = 0 }, wantErr: ErrChunkDaysInvalid},
		{name: "chunk days too large", mutate: func(c *Config) { c.ChunkDays = 91 }, wantErr: ErrChunkDaysInvalid},
		{name: "unknown raw format", mutate: func(c *Config) { c.Output.RawFormat = "xml" }, wantErr: ErrOutputFormatInvalid},
		{name: "unknown compression", mutate: func(c *Config) { c.Output.Compression = "brotli" }, wantErr: ErrCompressionInvalid},
		{name: "gzip level too high", mutate: func(c *Config) {
			c.Output.Compression = "gzip"
			c.Output.CompressionLevel = 10
		}, wantErr: ErrCompressionLevelInvalid},
		{name: "none with level", mutate: func(c *Config) {
			c.Output.Compression = "none"
			c.Output.CompressionLevel = 1
		}, wantErr: ErrCompressionLevelInvalid},
		{name: "unknown store", mutate: func(c *Config) { c.Checkpoint.Store = "etcd" }, wantErr: ErrCheckpointStoreInvalid},
		{name: "redis without url", mutate: func(c *Config) { c.Checkpoint.Store = storeRedis }, wantErr: ErrRedisURLRequired},
		{name: "negative ttl", mutate: func(c *Config) { c.Checkpoint.TTL = -1 }, wantErr: ErrCheckpointTTLInvalid},
		{name: "viewer port out of range", mutate: func(c *Config) {
			c.Viewer = true
			c.ViewerPort = 70000
		}, wantErr: ErrViewerPortInvalid},
		{name: "viewer port ignored when disabled", mutate: func(c *Config) { c.ViewerPort = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSinkValidation(t *testing.T) {
	s3 := func(c *Config) {
		c.S3 = S3Config{Endpoint: "https://s3.example.com", Bucket: "generation", AccessKey: "ak", SecretKey: "sk", Region: "eu-central-1"}
	}
	pg := func(c *Config) {
		c.Postgres = PostgresConfig{Host: "localhost", Port: 5432, User: "epias", Name: "energy", Table: "injection_quantity"}
	}
	influx := func(c *Config) {
		c.Influx = InfluxConfig{URL: "http://localhost:8086", Token: "t", Org: "o", Bucket: "b"}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{name: "s3", mutate: s3},
		{name: "s3 auto region", mutate: func(c *Config) { s3(c); c.S3.Region = regionAuto }},
		{name: "s3 missing endpoint", mutate: func(c *Config) { s3(c); c.S3.Endpoint = "" }, wantErr: ErrS3EndpointRequired},
		{name: "s3 missing access key", mutate: func(c *Config) { s3(c); c.S3.AccessKey = "" }, wantErr: ErrS3AccessKeyRequired},
		{name: "s3 missing secret key", mutate: func(c *Config) { s3(c); c.S3.SecretKey = "" }, wantErr: ErrS3SecretKeyRequired},
		{name: "s3 bad region", mutate: func(c *Config) { s3(c); c.S3.Region = "eu central" }, wantErr: ErrS3RegionInvalid},
		{name: "postgres", mutate: pg},
		{name: "postgres missing user", mutate: func(c *Config) { pg(c); c.Postgres.User = "" }, wantErr: ErrDatabaseUserRequired},
		{name: "postgres bad port", mutate: func(c *Config) { pg(c); c.Postgres.Port = 0 }, wantErr: ErrDatabasePortInvalid},
		{name: "postgres injected table", mutate: func(c *Config) { pg(c); c.Postgres.Table = "x; DROP TABLE y" }, wantErr: ErrTableNameInvalid},
		{name: "postgres table too long", mutate: func(c *Config) {
			pg(c)
			c.Postgres.Table = "t234567890123456789012345678901234567890123456789012345678901234"
		}, wantErr: ErrTableNameInvalid},
		{name: "influx", mutate: influx},
		{name: "influx missing token", mutate: func(c *Config) { influx(c); c.Influx.Token = "" }, wantErr: ErrInfluxTokenRequired},
		{name: "influx missing org", mutate: func(c *Config) { influx(c); c.Influx.Org = "" }, wantErr: ErrInfluxOrgRequired},
		{name: "influx missing bucket", mutate: func(c *Config) { influx(c); c.Influx.Bucket = "" }, wantErr: ErrInfluxBucketRequired},
		{name: "kafka missing topic", mutate: func(c *Config) { c.Kafka.Brokers = []string{"localhost:9092"} }, wantErr: ErrKafkaTopicRequired},
		{name: "kafka", mutate: func(c *Config) {
			c.Kafka.Brokers = []string{"localhost:9092"}
			c.Kafka.Topic = "generation"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.True(t, config.SinksEnabled())
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("no sinks", func(t *testing.T) {
		assert.False(t, validConfig().SinksEnabled())
	})
}

func TestServerValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "credentials not needed", mutate: func(c *Config) {
			c.API.Username = ""
			c.API.Password = ""
			c.StartDate = ""
		}},
		{name: "missing secret", mutate: func(c *Config) { c.Server.Secret = "" }, wantErr: ErrServerSecretRequired},
		{name: "short secret", mutate: func(c *Config) { c.Server.Secret = "short" }, wantErr: ErrServerSecretTooShort},
		{name: "zero session ttl", mutate: func(c *Config) { c.Server.SessionTTL = 0 }, wantErr: ErrSessionTTLInvalid},
		{name: "bad page size", mutate: func(c *Config) { c.API.PageSize = 0 }, wantErr: ErrPageSizeInvalid},
		{name: "bad store", mutate: func(c *Config) { c.Checkpoint.Store = "disk" }, wantErr: ErrCheckpointStoreInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)
			err := config.ValidateServer()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfigDateRange(t *testing.T) {
	config := validConfig()
	r, err := config.DateRange()
	require.NoError(t, err)
	assert.Equal(t, "2025-05-01 - 2025-05-31", r.String())
	assert.Equal(t, 30, r.Days())

	_, offset := r.Start.Zone()
	assert.Equal(t, 3*60*60, offset)

	t.Run("empty end date is today", func(t *testing.T) {
		config := validConfig()
		config.StartDate = "2020-01-01"
		config.EndDate = ""
		r, err := config.DateRange()
		require.NoError(t, err)
		today := time.Now().In(r.End.Location())
		assert.Equal(t, today.Format("2006-01-02"), r.End.Format("2006-01-02"))
	})
}

func TestConfigPlant(t *testing.T) {
	config := validConfig()
	assert.Nil(t, config.Plant())

	config.PlantID = 2614
	plant := config.Plant()
	require.NotNil(t, plant)
	assert.Equal(t, int64(2614), *plant)

	*plant = 1
	assert.Equal(t, int64(2614), config.PlantID)
}

func TestCheckpointTTL(t *testing.T) {
	config := validConfig()
	assert.Equal(t, time.Duration(0), config.checkpointTTL())
	config.Checkpoint.TTL = 48
	assert.Equal(t, 48*time.Hour, config.checkpointTTL())
}

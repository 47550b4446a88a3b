package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/stateaudit/pkg/archive"
	"github.com/platinummonkey/stateaudit/pkg/observability"
	"github.com/platinummonkey/stateaudit/pkg/storage"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadConfig
const EnvPrefix = "STATEAUDIT_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// Actor headers set by an authenticating proxy
	UsernameHeader string `yaml:"username_header"`
	UserIDHeader   string `yaml:"user_id_header"`
}

// ArchiveConfig holds the scheduled archive settings
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	Prefix   string `yaml:"prefix"`
	Compress bool   `yaml:"compress"`

	S3 archive.S3Config `yaml:"s3"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// OTel converts the settings into an observability.OTelConfig
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	otel := observability.DefaultOTelConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    4 << 20,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Archive: ArchiveConfig{
			Schedule: "30 2 * * *",
			Prefix:   "audit",
			Compress: true,
			S3: archive.S3Config{
				Region: "us-east-1",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "text",
			MetricsEnabled:     true,
			OTelEndpoint:       otel.Endpoint,
			OTelServiceName:    otel.ServiceName,
			OTelServiceVersion: otel.ServiceVersion,
			OTelInsecure:       otel.Insecure,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads the defaults, the YAML file named by STATEAUDIT_CONFIG_FILE
// when set, and finally the environment variables
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv(EnvPrefix+"CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path onto cfg. Unknown keys are rejected.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	loadServerConfig(&cfg.Server)
	loadStorageConfig(&cfg.Storage)
	loadArchiveConfig(&cfg.Archive)
	loadObservabilityConfig(&cfg.Observability)
}

// loadServerConfig loads server configuration from environment
func loadServerConfig(s *ServerConfig) {
	s.Host = getEnv(EnvPrefix+"HOST", s.Host)
	s.Port = getEnv(EnvPrefix+"PORT", s.Port)
	s.ReadTimeout = getEnvDuration(EnvPrefix+"READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration(EnvPrefix+"WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration(EnvPrefix+"IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration(EnvPrefix+"SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxBodyBytes = getEnvInt64(EnvPrefix+"MAX_BODY_BYTES", s.MaxBodyBytes)
	s.HealthPort = getEnv(EnvPrefix+"HEALTH_PORT", s.HealthPort)
	s.UsernameHeader = getEnv(EnvPrefix+"USERNAME_HEADER", s.UsernameHeader)
	s.UserIDHeader = getEnv(EnvPrefix+"USER_ID_HEADER", s.UserIDHeader)
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig(c *storage.Config) {
	c.Backend = strings.ToLower(getEnv(EnvPrefix+"BACKEND", c.Backend))

	// File backend
	c.FileFolder = getEnv(EnvPrefix+"FILE_FOLDER", c.FileFolder)
	c.FilePrefix = getEnv(EnvPrefix+"FILE_PREFIX", c.FilePrefix)

	// HTTP backend
	c.HTTPSendURL = getEnv(EnvPrefix+"HTTP_SEND_URL", c.HTTPSendURL)
	c.HTTPFetchURL = getEnv(EnvPrefix+"HTTP_FETCH_URL", c.HTTPFetchURL)
	c.HTTPFetchMethod = getEnv(EnvPrefix+"HTTP_FETCH_METHOD", c.HTTPFetchMethod)
	c.HTTPSendEncoding = getEnv(EnvPrefix+"HTTP_SEND_ENCODING", c.HTTPSendEncoding)
	c.HTTPTimeout = getEnvDuration(EnvPrefix+"HTTP_TIMEOUT", c.HTTPTimeout)
	if headers := getEnv(EnvPrefix+"HTTP_HEADERS", ""); headers != "" {
		c.HTTPHeaders = parseHeaders(headers)
	}

	// Table backend
	c.TableDriver = getEnv(EnvPrefix+"TABLE_DRIVER", c.TableDriver)
	c.TableDSN = getEnv(EnvPrefix+"TABLE_DSN", c.TableDSN)
	c.TableName = getEnv(EnvPrefix+"TABLE_NAME", c.TableName)
	if maxConns := getEnvInt(EnvPrefix+"TABLE_MAX_CONNS", 0); maxConns > 0 {
		c.TableMaxConns = maxConns
	}
	if minConns := getEnvInt(EnvPrefix+"TABLE_MIN_CONNS", 0); minConns > 0 {
		c.TableMinConns = minConns
	}
	c.TableMaxLifetime = getEnvDuration(EnvPrefix+"TABLE_MAX_LIFETIME", c.TableMaxLifetime)
	c.TableTimeout = getEnvDuration(EnvPrefix+"TABLE_TIMEOUT", c.TableTimeout)

	// Mirror
	c.MirrorFolder = getEnv(EnvPrefix+"MIRROR_FOLDER", c.MirrorFolder)
	c.MirrorConcurrent = getEnvBool(EnvPrefix+"MIRROR_CONCURRENT", c.MirrorConcurrent)

	// Cache
	c.CacheEnabled = getEnvBool(EnvPrefix+"CACHE_ENABLED", c.CacheEnabled)
	if size := getEnvInt(EnvPrefix+"CACHE_SIZE", 0); size > 0 {
		c.CacheSize = size
	}
	c.CacheTTL = getEnvDuration(EnvPrefix+"CACHE_TTL", c.CacheTTL)
	c.RedisURL = getEnv(EnvPrefix+"REDIS_URL", c.RedisURL)
	c.RedisPassword = getEnv(EnvPrefix+"REDIS_PASSWORD", c.RedisPassword)
	if redisDB := getEnvInt(EnvPrefix+"REDIS_DB", -1); redisDB >= 0 {
		c.RedisDB = redisDB
	}
	c.RedisMaxRetries = getEnvInt(EnvPrefix+"REDIS_MAX_RETRIES", c.RedisMaxRetries)
	if poolSize := getEnvInt(EnvPrefix+"REDIS_POOL_SIZE", 0); poolSize > 0 {
		c.RedisPoolSize = poolSize
	}
}

// loadArchiveConfig loads archive configuration from environment
func loadArchiveConfig(a *ArchiveConfig) {
	a.Enabled = getEnvBool(EnvPrefix+"ARCHIVE_ENABLED", a.Enabled)
	a.Schedule = getEnv(EnvPrefix+"ARCHIVE_SCHEDULE", a.Schedule)
	a.Prefix = getEnv(EnvPrefix+"ARCHIVE_PREFIX", a.Prefix)
	a.Compress = getEnvBool(EnvPrefix+"ARCHIVE_COMPRESS", a.Compress)

	a.S3.Endpoint = getEnv(EnvPrefix+"S3_ENDPOINT", a.S3.Endpoint)
	a.S3.Region = getEnv(EnvPrefix+"S3_REGION", a.S3.Region)
	a.S3.Bucket = getEnv(EnvPrefix+"S3_BUCKET", a.S3.Bucket)
	a.S3.AccessKey = getEnv(EnvPrefix+"S3_ACCESS_KEY", a.S3.AccessKey)
	a.S3.SecretKey = getEnv(EnvPrefix+"S3_SECRET_KEY", a.S3.SecretKey)
	a.S3.UsePathStyle = getEnvBool(EnvPrefix+"S3_USE_PATH_STYLE", a.S3.UsePathStyle)
	a.S3.CreateBucket = getEnvBool(EnvPrefix+"S3_CREATE_BUCKET", a.S3.CreateBucket)
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig(o *ObservabilityConfig) {
	o.LogLevel = getEnv(EnvPrefix+"LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv(EnvPrefix+"LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool(EnvPrefix+"METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool(EnvPrefix+"OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv(EnvPrefix+"OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv(EnvPrefix+"OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv(EnvPrefix+"OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool(EnvPrefix+"OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat(EnvPrefix+"OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Archive.Enabled {
		if c.Archive.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required when archiving is enabled")
		}
		if c.Archive.Schedule == "" {
			return fmt.Errorf("archive schedule is required when archiving is enabled")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseHeaders parses "Name: value, Other: value" pairs
func parseHeaders(s string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		if name = strings.TrimSpace(name); name != "" {
			headers[name] = strings.TrimSpace(value)
		}
	}
	return headers
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/stateaudit/pkg/audit"
)

// Backend names
const (
	BackendFile  = "file"
	BackendHTTP  = "http"
	BackendTable = "table"
)

// Config for the audit backend
type Config struct {
	Backend string `yaml:"backend"`

	// File backend
	FileFolder string `yaml:"file_folder"`
	FilePrefix string `yaml:"file_prefix"`

	// HTTP backend
	HTTPSendURL      string            `yaml:"http_send_url"`
	HTTPFetchURL     string            `yaml:"http_fetch_url"`
	HTTPFetchMethod  string            `yaml:"http_fetch_method"`
	HTTPSendEncoding string            `yaml:"http_send_encoding"`
	HTTPHeaders      map[string]string `yaml:"http_headers"`
	HTTPTimeout      time.Duration     `yaml:"http_timeout"`

	// Table backend
	TableDriver      string        `yaml:"table_driver"`
	TableDSN         string        `yaml:"table_dsn"`
	TableName        string        `yaml:"table_name"`
	TableMaxConns    int           `yaml:"table_max_conns"`
	TableMinConns    int           `yaml:"table_min_conns"`
	TableMaxLifetime time.Duration `yaml:"table_max_lifetime"`
	TableTimeout     time.Duration `yaml:"table_timeout"`

	// MirrorFolder also writes every record as a file into this folder
	MirrorFolder     string `yaml:"mirror_folder"`
	MirrorConcurrent bool   `yaml:"mirror_concurrent"`

	// Cache config
	CacheEnabled    bool          `yaml:"cache_enabled"`
	CacheSize       int           `yaml:"cache_size"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	RedisURL        string        `yaml:"redis_url"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	RedisMaxRetries int           `yaml:"redis_max_retries"`
	RedisPoolSize   int           `yaml:"redis_pool_size"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Backend:          BackendFile,
		FileFolder:       "/var/lib/stateaudit",
		FilePrefix:       "audit-",
		HTTPFetchMethod:  "GET",
		HTTPSendEncoding: string(audit.EncodingForm),
		HTTPTimeout:      30 * time.Second,
		TableDriver:      string(audit.DialectPostgres),
		TableName:        audit.DefaultTableName,
		TableMaxConns:    20,
		TableMinConns:    2,
		TableMaxLifetime: 30 * time.Minute,
		TableTimeout:     10 * time.Second,
		CacheSize:        1024,
		CacheTTL:         10 * time.Minute,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
	}
}

// Validate checks the settings of the selected backend
func (c Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case BackendFile:
		if c.FileFolder == "" {
			return fmt.Errorf("file folder is required for the file backend")
		}
	case BackendHTTP:
		if c.HTTPSendURL == "" && c.HTTPFetchURL == "" {
			return fmt.Errorf("a send or fetch URL is required for the http backend")
		}
	case BackendTable:
		if c.TableDSN == "" {
			return fmt.Errorf("table DSN is required for the table backend")
		}
		if _, err := audit.ParseDialect(c.TableDriver); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid backend: %q (must be file, http, or table)", c.Backend)
	}
	return nil
}

// Package config loads stateaudit configuration.
//
// Values come from three layers, each overriding the previous one: the
// built-in defaults, an optional YAML file named by STATEAUDIT_CONFIG_FILE and
// the STATEAUDIT_* environment variables.
//
// Server settings:
//
//	STATEAUDIT_HOST="0.0.0.0"
//	STATEAUDIT_PORT="8080"
//	STATEAUDIT_HEALTH_PORT="9090"
//	STATEAUDIT_USERNAME_HEADER="X-Forwarded-User"
//
// Backend settings:
//
//	STATEAUDIT_BACKEND="table"  # file, http, table
//	STATEAUDIT_TABLE_DRIVER="postgres"
//	STATEAUDIT_TABLE_DSN="postgres://audit@localhost/audit?sslmode=disable"
//	STATEAUDIT_CACHE_ENABLED="true"
//	STATEAUDIT_REDIS_URL="redis://localhost:6379/0"
//
// Archive settings:
//
//	STATEAUDIT_ARCHIVE_ENABLED="true"
//	STATEAUDIT_ARCHIVE_SCHEDULE="30 2 * * *"
//	STATEAUDIT_S3_BUCKET="audit-archive"
//
// The same settings in YAML:
//
//	storage:
//	  backend: table
//	  table_dsn: postgres://audit@localhost/audit?sslmode=disable
//	archive:
//	  enabled: true
//	  s3:
//	    bucket: audit-archive
package config

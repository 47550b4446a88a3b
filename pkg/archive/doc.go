// Package archive uploads windows of audit records to S3 compatible object
// storage as newline delimited JSON.
package archive

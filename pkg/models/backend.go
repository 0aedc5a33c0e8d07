// Package models provides data structures used throughout the gateway.
package models

import (
	"fmt"
	"strings"
	"time"
)

// BackendKind identifies the family of a configured database. It selects the
// pool implementation, the catalog dialect and the query dialect.
type BackendKind string

const (
	KindPostgres BackendKind = "postgres"
	KindMySQL    BackendKind = "mysql"
	KindDuckDB   BackendKind = "duckdb"
	KindRedis    BackendKind = "redis"
	KindMongoDB  BackendKind = "mongodb"
)

// Kinds lists every supported backend kind.
var Kinds = []BackendKind{KindPostgres, KindMySQL, KindDuckDB, KindRedis, KindMongoDB}

// ParseBackendKind resolves a configured type name, accepting common synonyms.
func ParseBackendKind(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return KindPostgres, nil
	case "mysql", "mariadb":
		return KindMySQL, nil
	case "duckdb", "duck", "motherduck":
		return KindDuckDB, nil
	case "redis":
		return KindRedis, nil
	case "mongodb", "mongo":
		return KindMongoDB, nil
	default:
		return "", fmt.Errorf("unsupported database type %q", s)
	}
}

// String implements fmt.Stringer.
func (k BackendKind) String() string {
	return string(k)
}

// IsSQL reports whether the kind speaks SQL.
func (k BackendKind) IsSQL() bool {
	switch k {
	case KindPostgres, KindMySQL, KindDuckDB:
		return true
	}
	return false
}

// BackendConfig is one configured database.
type BackendConfig struct {
	Name           string        `yaml:"name" json:"name" mapstructure:"name"`
	Type           string        `yaml:"type" json:"type" mapstructure:"type"`
	ConnString     string        `yaml:"conn_string" json:"conn_string" mapstructure:"conn_string"`
	MaxConnections int           `yaml:"max_connections" json:"max_connections" mapstructure:"max_connections"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" json:"acquire_timeout" mapstructure:"acquire_timeout"`
}

// Kind parses the configured type.
func (c BackendConfig) Kind() (BackendKind, error) {
	return ParseBackendKind(c.Type)
}

// BackendInfo is the public description of a registered alias.
type BackendInfo struct {
	Alias string      `json:"name"`
	Kind  BackendKind `json:"type"`
}

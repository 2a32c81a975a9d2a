package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 60 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const (
	CleanupJobInterval = 1 * time.Hour
	// Revoked or expired sessions are kept this long before being purged.
	SessionRetention = 30 * 24 * time.Hour
)

// Audit query bounds
const (
	AuditDefaultPageSize = 50
	AuditMaxPageSize     = 200
	AuditDefaultStatDays = 7
	AuditMaxStatDays     = 365
	AuditExportMaxRows   = 100000
	// Fire-and-forget audit inserts run detached from the request with this budget.
	AuditWriteTimeout = 5 * time.Second
)

// Credential policy
const (
	MinPasswordLength = 12
	BcryptCost        = 12
	// Optimistic counter updates give up after this many version conflicts.
	CounterUpdateRetries = 3
)

// Package audit provides append-only, tamper-evident audit logging.
//
// Every entry is HMAC-signed over a canonical form before it is stored, so
// after-the-fact edits to the table are detectable. The package defines the
// Logger interface; StoreLogger persists entries in the service database and
// ConsoleLogger writes them to zerolog only (used by short-lived CLI paths
// and tests).
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Entry is a single audit record. ParentID 0 means the system actor.
type Entry struct {
	ID           string         `json:"id"`
	ParentID     int64          `json:"parent_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	IP           string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Signature    string         `json:"signature,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Filter selects entries for Query, Count, and Aggregate.
type Filter struct {
	ID           string
	ParentID     *int64
	Action       string
	ResourceType string
	ResourceID   string
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
	Offset       int
}

// AggregateBy names a grouping dimension.
type AggregateBy string

const (
	ByAction       AggregateBy = "action"
	ByResourceType AggregateBy = "resource_type"
	ByDay          AggregateBy = "day"
)

// Bucket is one aggregate row.
type Bucket struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Logger is the audit backend contract.
type Logger interface {
	Log(ctx context.Context, e Entry) error
	Query(ctx context.Context, f Filter) ([]Entry, error)
	Count(ctx context.Context, f Filter) (int, error)
	Aggregate(ctx context.Context, by AggregateBy, f Filter) ([]Bucket, error)
	Close() error
}

var (
	globalLogger Logger
	loggerMu     sync.RWMutex
)

// SetLogger installs the process-wide audit logger. Call once at startup.
func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	globalLogger = l
}

// GetLogger returns the installed logger, defaulting to console output.
func GetLogger() Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return consoleFallback
}

// Close closes the installed logger.
func Close() error {
	loggerMu.RLock()
	l := globalLogger
	loggerMu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Close()
}

// Record fills in the entry id and timestamp and logs through the installed
// logger. Audit failures are never propagated to the calling operation; they
// are reported on the service log instead.
func Record(ctx context.Context, e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := GetLogger().Log(ctx, e); err != nil {
		log.Error().Err(err).Str("action", e.Action).Msg("Failed to record audit entry")
	}
}

var consoleFallback = NewConsoleLogger()

// ConsoleLogger writes entries to zerolog and keeps nothing.
type ConsoleLogger struct{}

// NewConsoleLogger creates a console-only audit logger.
func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{}
}

// Log writes the entry to zerolog.
func (c *ConsoleLogger) Log(ctx context.Context, e Entry) error {
	log.Info().
		Str("audit_id", e.ID).
		Str("action", e.Action).
		Int64("parent_id", e.ParentID).
		Str("resource_type", e.ResourceType).
		Str("resource_id", e.ResourceID).
		Time("created_at", e.CreatedAt).
		Msg("Audit entry")
	return nil
}

// Query returns nothing; console entries are not retained.
func (c *ConsoleLogger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	return nil, nil
}

// Count returns zero; console entries are not retained.
func (c *ConsoleLogger) Count(ctx context.Context, f Filter) (int, error) {
	return 0, nil
}

// Aggregate returns nothing; console entries are not retained.
func (c *ConsoleLogger) Aggregate(ctx context.Context, by AggregateBy, f Filter) ([]Bucket, error) {
	return nil, nil
}

// Close is a no-op.
func (c *ConsoleLogger) Close() error {
	return nil
}

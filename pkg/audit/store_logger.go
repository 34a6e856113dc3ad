package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// StoreLogger persists signed entries in the service database. It shares the
// store's single-writer handle, so there is no separate audit database to
// back up or lose. The table is append-only: this type has no update or
// delete statement.
type StoreLogger struct {
	mu     sync.RWMutex
	db     *sql.DB
	signer *Signer
}

// NewStoreLogger attaches the audit log to the shared database handle and
// ensures its table. Secret derives the signing key; see NewSigner.
func NewStoreLogger(db *sql.DB, secret []byte) (*StoreLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	signer, err := NewSigner(secret)
	if err != nil {
		return nil, err
	}

	l := &StoreLogger{db: db, signer: signer}
	if err := l.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize audit schema: %w", err)
	}

	log.Info().
		Bool("signingEnabled", signer.SigningEnabled()).
		Msg("Audit logger initialized")
	return l, nil
}

func (l *StoreLogger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		parent_id INTEGER REFERENCES parent_users(id) ON DELETE SET NULL,
		action TEXT NOT NULL,
		resource_type TEXT,
		resource_id TEXT,
		details TEXT,
		ip_address TEXT,
		user_agent TEXT,
		signature TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_parent ON audit_logs(parent_id) WHERE parent_id IS NOT NULL;
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

// Log signs the entry and appends it.
func (l *StoreLogger) Log(ctx context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Signature = l.signer.Sign(e)

	var details any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = string(b)
	}
	var parentID any
	if e.ParentID != 0 {
		parentID = e.ParentID
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, parent_id, action, resource_type, resource_id,
			details, ip_address, user_agent, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, parentID, e.Action, e.ResourceType, e.ResourceID,
		details, e.IP, e.UserAgent, e.Signature, e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	log.Debug().
		Str("audit_id", e.ID).
		Str("action", e.Action).
		Int64("parent_id", e.ParentID).
		Str("resource_type", e.ResourceType).
		Str("resource_id", e.ResourceID).
		Msg("Audit entry")
	return nil
}

// Query retrieves entries matching the filter, newest first.
func (l *StoreLogger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	query := `SELECT id, parent_id, action, resource_type, resource_id,
		details, ip_address, user_agent, signature, created_at
		FROM audit_logs` + filterClause(f)
	args := filterArgs(f)

	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		// SQLite requires LIMIT when OFFSET is present.
		if f.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			parentID  sql.NullInt64
			resType   sql.NullString
			resID     sql.NullString
			details   sql.NullString
			ip        sql.NullString
			userAgent sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &parentID, &e.Action, &resType, &resID,
			&details, &ip, &userAgent, &e.Signature, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ParentID = parentID.Int64
		e.ResourceType = resType.String
		e.ResourceID = resID.String
		e.IP = ip.String
		e.UserAgent = userAgent.String
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details for %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of entries matching the filter.
func (l *StoreLogger) Count(ctx context.Context, f Filter) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var count int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs`+filterClause(f), filterArgs(f)...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return count, nil
}

// Aggregate groups matching entries by action, resource type, or day.
func (l *StoreLogger) Aggregate(ctx context.Context, by AggregateBy, f Filter) ([]Bucket, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var dim string
	switch by {
	case ByAction:
		dim = "action"
	case ByResourceType:
		dim = "COALESCE(resource_type, '')"
	case ByDay:
		dim = "strftime('%Y-%m-%d', created_at, 'unixepoch')"
	default:
		return nil, fmt.Errorf("unknown aggregate dimension %q", by)
	}

	query := `SELECT ` + dim + ` AS k, COUNT(*) FROM audit_logs` + filterClause(f) +
		` GROUP BY k ORDER BY k`
	rows, err := l.db.QueryContext(ctx, query, filterArgs(f)...)
	if err != nil {
		return nil, fmt.Errorf("aggregate audit entries: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// VerifyEntry recomputes the signature for a stored entry.
func (l *StoreLogger) VerifyEntry(e Entry) bool {
	return l.signer.Verify(e)
}

// Close releases nothing: the database handle belongs to the store.
func (l *StoreLogger) Close() error {
	return nil
}

func filterClause(f Filter) string {
	clause := " WHERE 1=1"
	if f.ID != "" {
		clause += " AND id = ?"
	}
	if f.ParentID != nil {
		clause += " AND parent_id = ?"
	}
	if f.Action != "" {
		clause += " AND action = ?"
	}
	if f.ResourceType != "" {
		clause += " AND resource_type = ?"
	}
	if f.ResourceID != "" {
		clause += " AND resource_id = ?"
	}
	if f.StartTime != nil {
		clause += " AND created_at >= ?"
	}
	if f.EndTime != nil {
		clause += " AND created_at <= ?"
	}
	return clause
}

func filterArgs(f Filter) []any {
	var args []any
	if f.ID != "" {
		args = append(args, f.ID)
	}
	if f.ParentID != nil {
		args = append(args, *f.ParentID)
	}
	if f.Action != "" {
		args = append(args, f.Action)
	}
	if f.ResourceType != "" {
		args = append(args, f.ResourceType)
	}
	if f.ResourceID != "" {
		args = append(args, f.ResourceID)
	}
	if f.StartTime != nil {
		args = append(args, f.StartTime.Unix())
	}
	if f.EndTime != nil {
		args = append(args, f.EndTime.Unix())
	}
	return args
}

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var auditTableDDL = map[string]string{
	"sqlite": `CREATE TABLE IF NOT EXISTS audit_logs (
	id VARCHAR(64) PRIMARY KEY,
	actor VARCHAR(128),
	role VARCHAR(32),
	action VARCHAR(64) NOT NULL,
	resource_type VARCHAR(64),
	resource_id VARCHAR(128),
	metadata TEXT,
	payload_digest VARCHAR(64),
	ip VARCHAR(64),
	user_agent VARCHAR(255),
	created_at TEXT NOT NULL
)`,
	"postgres": `CREATE TABLE IF NOT EXISTS audit_logs (
	id VARCHAR(64) PRIMARY KEY,
	actor VARCHAR(128),
	role VARCHAR(32),
	action VARCHAR(64) NOT NULL,
	resource_type VARCHAR(64),
	resource_id VARCHAR(128),
	metadata TEXT,
	payload_digest VARCHAR(64),
	ip VARCHAR(64),
	user_agent VARCHAR(255),
	created_at TIMESTAMPTZ NOT NULL
)`,
	"mysql": `CREATE TABLE IF NOT EXISTS audit_logs (
	id VARCHAR(64) PRIMARY KEY,
	actor VARCHAR(128),
	role VARCHAR(32),
	action VARCHAR(64) NOT NULL,
	resource_type VARCHAR(64),
	resource_id VARCHAR(128),
	metadata TEXT,
	payload_digest VARCHAR(64),
	ip VARCHAR(64),
	user_agent VARCHAR(255),
	created_at DATETIME(3) NOT NULL
)`,
}

// Repository writes audit logs to the reading store's database.
type Repository struct {
	db      *sql.DB
	dialect string
}

// NewRepository constructs an audit repository for dialect sqlite, postgres or mysql.
func NewRepository(db *sql.DB, dialect string) *Repository {
	if db == nil {
		return nil
	}
	dialect = strings.ToLower(dialect)
	if _, ok := auditTableDDL[dialect]; !ok {
		dialect = "sqlite"
	}
	return &Repository{db: db, dialect: dialect}
}

// EnsureTable creates audit_logs when missing.
func (r *Repository) EnsureTable(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	if _, err := r.db.ExecContext(ctx, auditTableDDL[r.dialect]); err != nil {
		return fmt.Errorf("audit repo: create table: %w", err)
	}
	return nil
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry = normalize(entry)

	var createdAt any = entry.CreatedAt.UTC()
	if r.dialect == "sqlite" {
		createdAt = entry.CreatedAt.UTC().Format("2006-01-02 15:04:05.000")
	}
	_, err := r.db.ExecContext(ctx, r.placeholders(`
INSERT INTO audit_logs (
	id, actor, role, action, resource_type, resource_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	?,?,?,?,?,?,?,?,?,?,?
)`), entry.ID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
		string(entry.Metadata), entry.PayloadDigest, entry.IP, entry.UserAgent, createdAt)
	return err
}

func (r *Repository) placeholders(query string) string {
	if r.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

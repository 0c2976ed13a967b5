package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	telemetry "leakwatch/internal/telemetry/domain"
)

const defaultTable = "sensor_data"

// Dialect names a supported SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// ParseDialect maps a DB_DRIVER value onto a dialect.
func ParseDialect(value string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	default:
		return "", fmt.Errorf("sqlstore: unsupported driver %q", value)
	}
}

func (d Dialect) driverName() string {
	switch d {
	case Postgres:
		return "pgx"
	case MySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

func openDB(dialect Dialect, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("sqlstore: empty dsn")
	}
	if dialect == MySQL && !strings.Contains(dsn, "parseTime=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "parseTime=true"
	}
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		// one connection serializes appends and keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// Open opens a pool for driver and wraps it in a Store. Callers run EnsureSchema before use.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := openDB(dialect, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", dialect, err)
	}
	return New(db, dialect, opts...)
}

// Store is the SQL-backed reading store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a store over an open pool.
func New(db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: nil db")
	}
	if dialect == "" {
		dialect = SQLite
	}
	s := &Store{db: db, dialect: dialect, table: defaultTable, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the backend dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

const selectColumns = `id, sensor1, sensor2, sensor3, leak_confirmed, burst_confirmed, leak_location,
	confidence, correlation_score, stability_score, environmental_noise, active_sensors,
	burst_type, burst_intensity, burst_dismissed, timestamp`

// Append inserts one observation and returns its id.
func (s *Store) Append(ctx context.Context, in telemetry.ObservationInput) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlstore: nil db")
	}
	if err := in.Validate(); err != nil {
		return 0, err
	}
	var location sql.NullString
	if in.LeakLocation != nil {
		location = sql.NullString{String: *in.LeakLocation, Valid: true}
	}
	args := []any{
		in.SensorValues[0], in.SensorValues[1], in.SensorValues[2],
		boolInt(in.LeakConfirmed), boolInt(in.BurstConfirmed), location,
		in.Confidence, in.CorrelationScore, in.StabilityScore,
		boolInt(in.EnvironmentalNoise), in.ActiveSensors,
		string(in.BurstType), in.BurstIntensity, boolInt(in.BurstDismissed),
		s.timestampArg(s.now().UTC()),
	}
	query := s.rebind(`INSERT INTO ` + s.table + ` (
	sensor1, sensor2, sensor3, leak_confirmed, burst_confirmed, leak_location,
	confidence, correlation_score, stability_score, environmental_noise, active_sensors,
	burst_type, burst_intensity, burst_dismissed, timestamp
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	if s.dialect == Postgres {
		var id int64
		if err := s.db.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, storageErr("append", err)
		}
		return id, nil
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageErr("append", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("append", err)
	}
	return id, nil
}

// Latest returns the row with the highest id, or nil when the table is empty.
func (s *Store) Latest(ctx context.Context) (*telemetry.Observation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlstore: nil db")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM `+s.table+` ORDER BY id DESC LIMIT 1`)
	obs, err := scanObservation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("latest", err)
	}
	return &obs, nil
}

// Recent returns up to n of the newest rows, oldest first.
func (s *Store) Recent(ctx context.Context, n int) ([]telemetry.Observation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlstore: nil db")
	}
	if n <= 0 {
		return []telemetry.Observation{}, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+selectColumns+` FROM `+s.table+` ORDER BY id DESC LIMIT ?`), n)
	if err != nil {
		return nil, storageErr("recent", err)
	}
	defer rows.Close()

	out := make([]telemetry.Observation, 0, n)
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, storageErr("recent", err)
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("recent", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MarkLatestDismissed sets burst_dismissed on the newest row.
func (s *Store) MarkLatestDismissed(ctx context.Context) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("sqlstore: nil db")
	}
	var query string
	if s.dialect == MySQL {
		// MySQL rejects a subquery on the table being updated.
		query = `UPDATE ` + s.table + ` SET burst_dismissed = 1 ORDER BY id DESC LIMIT 1`
	} else {
		query = `UPDATE ` + s.table + ` SET burst_dismissed = 1 WHERE id = (SELECT MAX(id) FROM ` + s.table + `)`
	}
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return false, storageErr("dismiss", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("dismiss", err)
	}
	if affected > 0 {
		return true, nil
	}
	// MySQL reports zero affected rows when the flag was already set.
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table).Scan(&count); err != nil {
		return false, storageErr("dismiss", err)
	}
	return count > 0, nil
}

// Count returns the number of stored rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlstore: nil db")
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table).Scan(&count); err != nil {
		return 0, storageErr("count", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (telemetry.Observation, error) {
	var obs telemetry.Observation
	var (
		leak, burst, noise, dismissed sql.NullInt64
		location, burstType           sql.NullString
		confidence, correlation       sql.NullFloat64
		stability, intensity          sql.NullFloat64
		active                        sql.NullInt64
		s1, s2, s3                    sql.NullFloat64
		ts                            dbTime
	)
	if err := row.Scan(
		&obs.ID, &s1, &s2, &s3, &leak, &burst, &location,
		&confidence, &correlation, &stability, &noise, &active,
		&burstType, &intensity, &dismissed, &ts,
	); err != nil {
		return obs, err
	}
	obs.SensorValues = [telemetry.SensorCount]int64{int64(s1.Float64), int64(s2.Float64), int64(s3.Float64)}
	obs.LeakConfirmed = leak.Int64 != 0
	obs.BurstConfirmed = burst.Int64 != 0
	obs.EnvironmentalNoise = noise.Int64 != 0
	obs.BurstDismissed = dismissed.Int64 != 0
	if location.Valid && location.String != "" {
		value := location.String
		obs.LeakLocation = &value
	}
	obs.Confidence = confidence.Float64
	obs.CorrelationScore = correlation.Float64
	obs.StabilityScore = stability.Float64
	obs.BurstIntensity = intensity.Float64
	obs.ActiveSensors = int(active.Int64)
	obs.BurstType = telemetry.BurstNormal
	if burstType.Valid {
		if parsed, err := telemetry.ParseBurstType(burstType.String); err == nil {
			obs.BurstType = parsed
		}
	}
	obs.Timestamp = ts.Time
	return obs, nil
}

func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const sqliteTimeLayout = "2006-01-02 15:04:05.000"

func (s *Store) timestampArg(t time.Time) any {
	if s.dialect == SQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", telemetry.ErrStorageFailure, op, err)
}

// dbTime scans timestamps stored natively or as text, including rows
// written by CURRENT_TIMESTAMP defaults. Values without a zone are UTC.
type dbTime struct {
	Time time.Time
}

var dbTimeLayouts = []string{
	sqliteTimeLayout,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case int64:
		t.Time = time.Unix(v, 0).UTC()
		return nil
	default:
		return fmt.Errorf("sqlstore: unsupported timestamp type %T", src)
	}
}

func (t *dbTime) parse(value string) error {
	value = strings.TrimSpace(value)
	for _, layout := range dbTimeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("sqlstore: unparseable timestamp %q", value)
}

var _ telemetry.Repository = (*Store)(nil)

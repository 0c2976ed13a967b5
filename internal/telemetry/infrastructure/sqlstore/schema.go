package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	telemetry "leakwatch/internal/telemetry/domain"
)

// SchemaVersion is the layout revision written to the schema_version marker.
const SchemaVersion = 2

const markerTable = "schema_version"

// coreColumns make up the first current-layout revision.
var coreColumns = []string{
	"id", "sensor1", "sensor2", "sensor3",
	"leak_confirmed", "burst_confirmed", "leak_location",
	"confidence", "correlation_score", "stability_score",
	"environmental_noise", "active_sensors", "timestamp",
}

// additiveColumn was introduced after the core layout and is added in place.
type additiveColumn struct {
	name string
	ddl  map[Dialect]string
}

var additiveColumns = []additiveColumn{
	{name: "burst_type", ddl: map[Dialect]string{
		SQLite:   "VARCHAR(32) DEFAULT 'NORMAL FLOW'",
		Postgres: "VARCHAR(32) NOT NULL DEFAULT 'NORMAL FLOW'",
		MySQL:    "VARCHAR(32) NOT NULL DEFAULT 'NORMAL FLOW'",
	}},
	{name: "burst_intensity", ddl: map[Dialect]string{
		SQLite:   "REAL DEFAULT 0",
		Postgres: "DOUBLE PRECISION NOT NULL DEFAULT 0",
		MySQL:    "DOUBLE NOT NULL DEFAULT 0",
	}},
	{name: "burst_dismissed", ddl: map[Dialect]string{
		SQLite:   "INTEGER DEFAULT 0",
		Postgres: "INTEGER NOT NULL DEFAULT 0",
		MySQL:    "INTEGER NOT NULL DEFAULT 0",
	}},
}

// legacyColumns identify the superseded single-value layout.
var legacyColumns = []string{"value", "sensor_value"}

var createTable = map[Dialect]string{
	SQLite: `CREATE TABLE %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sensor1 INTEGER NOT NULL,
	sensor2 INTEGER NOT NULL,
	sensor3 INTEGER NOT NULL,
	leak_confirmed INTEGER DEFAULT 0,
	burst_confirmed INTEGER DEFAULT 0,
	leak_location VARCHAR(255),
	confidence REAL DEFAULT 0,
	correlation_score REAL DEFAULT 0,
	stability_score REAL DEFAULT 0,
	environmental_noise INTEGER DEFAULT 0,
	active_sensors INTEGER DEFAULT 0,
	burst_type VARCHAR(32) DEFAULT 'NORMAL FLOW',
	burst_intensity REAL DEFAULT 0,
	burst_dismissed INTEGER DEFAULT 0,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
)`,
	Postgres: `CREATE TABLE %s (
	id BIGSERIAL PRIMARY KEY,
	sensor1 BIGINT NOT NULL,
	sensor2 BIGINT NOT NULL,
	sensor3 BIGINT NOT NULL,
	leak_confirmed INTEGER NOT NULL DEFAULT 0,
	burst_confirmed INTEGER NOT NULL DEFAULT 0,
	leak_location VARCHAR(255),
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	correlation_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	stability_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	environmental_noise INTEGER NOT NULL DEFAULT 0,
	active_sensors INTEGER NOT NULL DEFAULT 0,
	burst_type VARCHAR(32) NOT NULL DEFAULT 'NORMAL FLOW',
	burst_intensity DOUBLE PRECISION NOT NULL DEFAULT 0,
	burst_dismissed INTEGER NOT NULL DEFAULT 0,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	MySQL: `CREATE TABLE %s (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	sensor1 BIGINT NOT NULL,
	sensor2 BIGINT NOT NULL,
	sensor3 BIGINT NOT NULL,
	leak_confirmed INTEGER NOT NULL DEFAULT 0,
	burst_confirmed INTEGER NOT NULL DEFAULT 0,
	leak_location VARCHAR(255),
	confidence DOUBLE NOT NULL DEFAULT 0,
	correlation_score DOUBLE NOT NULL DEFAULT 0,
	stability_score DOUBLE NOT NULL DEFAULT 0,
	environmental_noise INTEGER NOT NULL DEFAULT 0,
	active_sensors INTEGER NOT NULL DEFAULT 0,
	burst_type VARCHAR(32) NOT NULL DEFAULT 'NORMAL FLOW',
	burst_intensity DOUBLE NOT NULL DEFAULT 0,
	burst_dismissed INTEGER NOT NULL DEFAULT 0,
	timestamp DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3)
)`,
}

// Migration describes what EnsureSchema did.
type Migration string

const (
	MigrationNone     Migration = "none"
	MigrationCreated  Migration = "created"
	MigrationRebuilt  Migration = "rebuilt"
	MigrationExtended Migration = "extended"
)

// EnsureSchema brings the reading table to the current layout. A marker at the
// current version short-circuits inspection. Otherwise the column set is inspected:
// the single-value layout is dropped and recreated, missing additive columns are
// added with defaults, a missing table is created. Any other shape, or a marker
// newer than this build, returns telemetry.ErrSchemaMismatch.
func (s *Store) EnsureSchema(ctx context.Context) (Migration, error) {
	if s == nil || s.db == nil {
		return MigrationNone, errors.New("sqlstore: nil db")
	}
	version, err := s.markerVersion(ctx)
	if err != nil {
		return MigrationNone, err
	}
	if version > SchemaVersion {
		return MigrationNone, fmt.Errorf("%w: stored schema version %d is newer than %d", telemetry.ErrSchemaMismatch, version, SchemaVersion)
	}

	columns, err := s.columns(ctx, s.table)
	if err != nil {
		return MigrationNone, err
	}
	if version == SchemaVersion && len(columns) > 0 {
		return MigrationNone, nil
	}

	migration, err := s.migrate(ctx, columns)
	if err != nil {
		return MigrationNone, err
	}
	if err := s.writeMarker(ctx); err != nil {
		return MigrationNone, err
	}
	return migration, nil
}

func (s *Store) migrate(ctx context.Context, columns map[string]bool) (Migration, error) {
	if len(columns) == 0 {
		if err := s.create(ctx); err != nil {
			return MigrationNone, err
		}
		return MigrationCreated, nil
	}

	if !columns["sensor1"] {
		for _, legacy := range legacyColumns {
			if columns[legacy] {
				if _, err := s.db.ExecContext(ctx, `DROP TABLE `+s.table); err != nil {
					return MigrationNone, storageErr("drop legacy table", err)
				}
				if err := s.create(ctx); err != nil {
					return MigrationNone, err
				}
				return MigrationRebuilt, nil
			}
		}
	}

	known := make(map[string]bool, len(coreColumns)+len(additiveColumns))
	var missingCore []string
	for _, name := range coreColumns {
		known[name] = true
		if !columns[name] {
			missingCore = append(missingCore, name)
		}
	}
	if len(missingCore) > 0 {
		return MigrationNone, fmt.Errorf("%w: table %s lacks columns %s", telemetry.ErrSchemaMismatch, s.table, strings.Join(missingCore, ", "))
	}
	for _, col := range additiveColumns {
		known[col.name] = true
	}
	var unknown []string
	for name := range columns {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return MigrationNone, fmt.Errorf("%w: table %s has unexpected columns %s", telemetry.ErrSchemaMismatch, s.table, strings.Join(unknown, ", "))
	}

	migration := MigrationNone
	for _, col := range additiveColumns {
		if columns[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", s.table, col.name, col.ddl[s.dialect])
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return MigrationNone, storageErr("add column "+col.name, err)
		}
		migration = MigrationExtended
	}
	return migration, nil
}

func (s *Store) create(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(createTable[s.dialect], s.table)); err != nil {
		return storageErr("create table", err)
	}
	return nil
}

// columns returns the lower-cased column names of table; empty when the table is absent.
func (s *Store) columns(ctx context.Context, table string) (map[string]bool, error) {
	var query string
	switch s.dialect {
	case Postgres:
		query = `SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`
	case MySQL:
		query = `SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?`
	default:
		query = `SELECT name FROM pragma_table_info(?)`
	}
	rows, err := s.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, storageErr("inspect "+table, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storageErr("inspect "+table, err)
		}
		out[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("inspect "+table, err)
	}
	return out, nil
}

func (s *Store) markerVersion(ctx context.Context) (int, error) {
	columns, err := s.columns(ctx, markerTable)
	if err != nil {
		return 0, err
	}
	if len(columns) == 0 {
		return 0, nil
	}
	var version int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM `+markerTable).Scan(&version); err != nil {
		return 0, storageErr("read schema version", err)
	}
	return version, nil
}

func (s *Store) writeMarker(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+markerTable+` (version INTEGER NOT NULL)`); err != nil {
		return storageErr("create schema version", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+markerTable); err != nil {
		return storageErr("write schema version", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO `+markerTable+` (version) VALUES (?)`), SchemaVersion); err != nil {
		return storageErr("write schema version", err)
	}
	return nil
}

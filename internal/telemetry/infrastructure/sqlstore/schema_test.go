package sqlstore

import (
	"context"
	"errors"
	"testing"

	telemetry "leakwatch/internal/telemetry/domain"
)

func exec(t *testing.T, store *Store, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		if _, err := store.DB().Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
}

func TestEnsureSchema_CreatesFreshTable(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()

	migration, err := store.EnsureSchema(ctx)
	if err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if migration != MigrationCreated {
		t.Fatalf("expected created, got %s", migration)
	}
	again, err := store.EnsureSchema(ctx)
	if err != nil || again != MigrationNone {
		t.Fatalf("expected no-op on second run, got %s err=%v", again, err)
	}
	version, err := store.markerVersion(ctx)
	if err != nil || version != SchemaVersion {
		t.Fatalf("expected marker %d, got %d err=%v", SchemaVersion, version, err)
	}
}

func TestEnsureSchema_RebuildsLegacyLayout(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()
	exec(t, store,
		`CREATE TABLE sensor_data (id INTEGER PRIMARY KEY AUTOINCREMENT, sensor_value INTEGER, status TEXT, timestamp DATETIME DEFAULT CURRENT_TIMESTAMP)`,
		`INSERT INTO sensor_data (sensor_value, status) VALUES (42, 'ok')`,
	)

	migration, err := store.EnsureSchema(ctx)
	if err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if migration != MigrationRebuilt {
		t.Fatalf("expected rebuilt, got %s", migration)
	}
	count, err := store.Count(ctx)
	if err != nil || count != 0 {
		t.Fatalf("legacy rows must be dropped, count=%d err=%v", count, err)
	}
	if _, err := store.Append(ctx, sampleInput(telemetry.BurstNormal, 1, 2, 3)); err != nil {
		t.Fatalf("append after rebuild: %v", err)
	}
}

func TestEnsureSchema_AddsMissingColumns(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()
	exec(t, store,
		`CREATE TABLE sensor_data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sensor1 INTEGER NOT NULL, sensor2 INTEGER NOT NULL, sensor3 INTEGER NOT NULL,
			leak_confirmed INTEGER DEFAULT 0, burst_confirmed INTEGER DEFAULT 0,
			leak_location TEXT, confidence REAL DEFAULT 0,
			correlation_score INTEGER DEFAULT 0, stability_score INTEGER DEFAULT 0,
			environmental_noise INTEGER DEFAULT 0, active_sensors INTEGER DEFAULT 0,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP)`,
		`INSERT INTO sensor_data (sensor1, sensor2, sensor3, leak_confirmed) VALUES (150, 180, 120, 1)`,
	)

	migration, err := store.EnsureSchema(ctx)
	if err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if migration != MigrationExtended {
		t.Fatalf("expected extended, got %s", migration)
	}
	latest, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.SensorValues != [telemetry.SensorCount]int64{150, 180, 120} {
		t.Fatalf("existing row must survive, got %+v", latest)
	}
	if latest.BurstType != telemetry.BurstNormal || latest.BurstIntensity != 0 || latest.BurstDismissed {
		t.Fatalf("expected defaults on added columns, got %+v", latest)
	}
	if latest.Timestamp.IsZero() {
		t.Fatalf("expected CURRENT_TIMESTAMP value to be scanned")
	}
}

func TestEnsureSchema_UnknownShapeIsFatal(t *testing.T) {
	store := openMemory(t)
	exec(t, store, `CREATE TABLE sensor_data (id INTEGER PRIMARY KEY, reading BLOB)`)

	_, err := store.EnsureSchema(context.Background())
	if !errors.Is(err, telemetry.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestEnsureSchema_UnexpectedExtraColumn(t *testing.T) {
	store := openMigrated(t)
	exec(t, store,
		`DELETE FROM schema_version`,
		`ALTER TABLE sensor_data ADD COLUMN pressure REAL`,
	)
	_, err := store.EnsureSchema(context.Background())
	if !errors.Is(err, telemetry.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestEnsureSchema_NewerMarkerIsFatal(t *testing.T) {
	store := openMigrated(t)
	exec(t, store, `UPDATE schema_version SET version = 99`)

	_, err := store.EnsureSchema(context.Background())
	if !errors.Is(err, telemetry.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestEnsureSchema_MarkerWithoutTableRecreates(t *testing.T) {
	store := openMigrated(t)
	exec(t, store, `DROP TABLE sensor_data`)

	migration, err := store.EnsureSchema(context.Background())
	if err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if migration != MigrationCreated {
		t.Fatalf("expected created, got %s", migration)
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "fleet_user"),
		dbGetEnv("DB_PASSWORD", "fleet_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "fleet_monitor"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	// Run all steps in order
	step1_extensions(ctx, conn)
	step2_readings_table(ctx, conn)
	step3_activities_table(ctx, conn)
	step4_indexes(ctx, conn)
	step5_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_calibration")
}

// ─────────────────────────────────────────────────────────────
// Step 1 — Extensions
// ─────────────────────────────────────────────────────────────
func step1_extensions(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Extensions ──────────────────────────")

	// TimescaleDB — required for hypertable
	execOrFatal(ctx, conn,
		"CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;",
		"timescaledb extension",
	)
}

// ─────────────────────────────────────────────────────────────
// Step 2 — fuel_readings table
// ─────────────────────────────────────────────────────────────
func step2_readings_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: fuel_readings table ─────────────────")

	// Create the table
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS fuel_readings (

			-- Time column — TimescaleDB partitions data by this.
			-- Device time, not server time: the engine orders by it
			timestamp     TIMESTAMPTZ      NOT NULL,

			-- Server receipt time — device clocks drift, received_at
			-- is always accurate
			received_at   TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			-- Identity
			device_id     TEXT             NOT NULL,
			sensor_id     INTEGER          NOT NULL DEFAULT 0,

			-- GPS position at the time of the reading
			latitude      DOUBLE PRECISION NOT NULL DEFAULT 0,
			longitude     DOUBLE PRECISION NOT NULL DEFAULT 0,

			-- Decoded raw sensor value, in sensor points
			raw_points    DOUBLE PRECISION NOT NULL DEFAULT 0,

			-- Calibrated level in litres.
			-- NULL when the reading could not be calibrated; warm-start
			-- replay only loads rows where this is present
			fuel_level    DOUBLE PRECISION,

			-- Device event code; values >= 100 mark stored-origin rows
			event_code    INTEGER          NOT NULL DEFAULT 0
		);
	`, "fuel_readings table created")

	// Convert to TimescaleDB hypertable
	// Partitions into time chunks so the warm-start window scan and
	// retention only touch recent chunks
	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'fuel_readings',
			'timestamp',
			if_not_exists => TRUE
		);
	`, "fuel_readings converted to hypertable")
}

// ─────────────────────────────────────────────────────────────
// Step 3 — fuel_activities table
// ─────────────────────────────────────────────────────────────
func step3_activities_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: fuel_activities table ───────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS fuel_activities (

			-- Detector-assigned UUID; the fanout may redeliver, inserts
			-- are ON CONFLICT DO NOTHING on this key
			id               UUID             PRIMARY KEY,

			-- Identity — same values as fuel_readings
			device_id        TEXT             NOT NULL,
			sensor_id        INTEGER          NOT NULL,

			-- Must exactly match domain.ActivityType constants
			activity_type    TEXT             NOT NULL,

			-- Signed litres: negative for drains, positive for fills
			volume_litres    DOUBLE PRECISION NOT NULL,

			-- Event span, taken from the window samples that armed and
			-- confirmed it
			start_time       TIMESTAMPTZ      NOT NULL,
			end_time         TIMESTAMPTZ      NOT NULL,

			-- Where the vehicle was when the event started and ended —
			-- a drain at a depot reads very differently from one parked
			-- overnight on a roadside
			start_latitude   DOUBLE PRECISION NOT NULL DEFAULT 0,
			start_longitude  DOUBLE PRECISION NOT NULL DEFAULT 0,
			end_latitude     DOUBLE PRECISION NOT NULL DEFAULT 0,
			end_longitude    DOUBLE PRECISION NOT NULL DEFAULT 0,

			detected_at      TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			CONSTRAINT chk_activity_type CHECK (
				activity_type IN ('FUEL_FILL', 'FUEL_DRAIN')
			)
		);
	`, "fuel_activities table created")
}

// ─────────────────────────────────────────────────────────────
// Step 4 — Indexes
// ─────────────────────────────────────────────────────────────
func step4_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_readings_device_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_readings_device_time
				  ON fuel_readings (device_id, timestamp DESC);`,
			why: "query: reading history for one device",
		},
		{
			name: "idx_readings_leveled",
			sql: `CREATE INDEX IF NOT EXISTS idx_readings_leveled
				  ON fuel_readings (device_id, timestamp DESC)
				  WHERE fuel_level IS NOT NULL;`,
			why: "query: warm-start replay (partial index)",
		},
		{
			name: "idx_activities_device",
			sql: `CREATE INDEX IF NOT EXISTS idx_activities_device
				  ON fuel_activities (device_id, detected_at DESC);`,
			why: "query: activity history for one device",
		},
		{
			name: "idx_activities_type",
			sql: `CREATE INDEX IF NOT EXISTS idx_activities_type
				  ON fuel_activities (activity_type, detected_at DESC);`,
			why: "query: recent drains across the fleet",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-40s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 5 — Verify everything was created
// ─────────────────────────────────────────────────────────────
func step5_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: Verification ────────────────────────")

	// Check tables exist
	tables := []string{"fuel_readings", "fuel_activities"}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	// Check hypertable
	var hypertableName string
	err := conn.QueryRow(ctx, `
		SELECT hypertable_name
		FROM timescaledb_information.hypertables
		WHERE hypertable_name = 'fuel_readings'
	`).Scan(&hypertableName)
	if err != nil {
		log.Fatalf("fuel_readings is not a hypertable: %v", err)
	}
	fmt.Printf("  ✓ hypertable: %s (time partitioned)\n", hypertableName)

	// Check indexes
	var indexCount int
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename IN ('fuel_readings', 'fuel_activities')
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED — %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

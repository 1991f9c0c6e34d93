package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS plates (
		id              BIGSERIAL PRIMARY KEY,
		number          TEXT NOT NULL,
		normalized      TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_plates_normalized ON plates(normalized);`,
	`CREATE TABLE IF NOT EXISTS plate_sightings (
		id              BIGSERIAL PRIMARY KEY,
		plate_id        BIGINT NOT NULL REFERENCES plates(id),
		track_id        UUID NOT NULL,
		source          TEXT NOT NULL,
		confidence      DOUBLE PRECISION,
		rect            JSONB,
		readings        JSONB,
		first_seen      TIMESTAMPTZ NOT NULL,
		seen_at         TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_sightings_plate_id ON plate_sightings(plate_id);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_sightings_seen_at ON plate_sightings(seen_at);`,
	`CREATE TABLE IF NOT EXISTS target_alerts (
		id          BIGSERIAL PRIMARY KEY,
		target      TEXT NOT NULL,
		plate       TEXT NOT NULL,
		track_id    UUID NOT NULL,
		alerted_at  TIMESTAMPTZ NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_target_alerts_alerted_at ON target_alerts(alerted_at);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

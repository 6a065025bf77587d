package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	// btree_gist lets the slots exclusion constraint mix equality on
	// clinician_id with range overlap.
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,
	`CREATE TABLE IF NOT EXISTS clinicians (
		id          uuid PRIMARY KEY,
		name        text NOT NULL,
		specialty   text,
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS patients (
		id          uuid PRIMARY KEY,
		name        text NOT NULL,
		email       text,
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS slots (
		id            uuid PRIMARY KEY,
		clinician_id  uuid NOT NULL REFERENCES clinicians(id),
		start_time    timestamptz NOT NULL,
		end_time      timestamptz NOT NULL,
		status        text NOT NULL DEFAULT 'available',
		version       bigint NOT NULL DEFAULT 0,
		created_at    timestamptz NOT NULL DEFAULT now(),
		updated_at    timestamptz NOT NULL DEFAULT now(),
		CHECK (end_time > start_time),
		CONSTRAINT slots_no_overlap EXCLUDE USING gist (
			clinician_id WITH =,
			tstzrange(start_time, end_time) WITH &&
		)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_slots_clinician_start
		ON slots (clinician_id, start_time)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id          uuid PRIMARY KEY,
		patient_id  uuid NOT NULL REFERENCES patients(id),
		slot_id     uuid REFERENCES slots(id),
		status      text NOT NULL DEFAULT 'pending',
		reason      text,
		is_walk_in  boolean NOT NULL DEFAULT false,
		expires_at  timestamptz,
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_patient
		ON bookings (patient_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_pending_expiry
		ON bookings (expires_at)
		WHERE status = 'pending' AND expires_at IS NOT NULL`,
}

// Migrate applies the schema idempotently. Used by cmd/seed before loading
// fixtures; production deployments may run the same statements out of band.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}

package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// lockNotAvailable is the SQLSTATE raised by FOR UPDATE NOWAIT when the row
// lock is held by another transaction.
const lockNotAvailable = "55P03"

// exclusionViolation is the SQLSTATE raised when an insert collides with the
// slots_no_overlap exclusion constraint.
const exclusionViolation = "23P01"

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanClinician(row pgx.Row) (*Clinician, error) {
	var c Clinician
	var specialty *string

	err := row.Scan(
		&c.ID,
		&c.Name,
		&specialty,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicianNotFound
		}
		return nil, err
	}

	c.Specialty = specialty
	return &c, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.ClinicianID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking

	err := row.Scan(
		&b.ID,
		&b.PatientID,
		&b.SlotID,
		&b.Status,
		&b.Reason,
		&b.IsWalkIn,
		&b.ExpiresAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	return &b, nil
}

const bookingColumns = `id, patient_id, slot_id, status, reason, is_walk_in, expires_at, created_at, updated_at`

// Plain reads

func (s *PgStore) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (s *PgStore) GetClinicianByID(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM clinicians
		WHERE id = $1
	`, id)
	return scanClinician(row)
}

func (s *PgStore) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, clinician_id, start_time, end_time, status, version, created_at, updated_at
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (s *PgStore) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (s *PgStore) GetBookingDetail(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	b, err := s.GetBookingByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.hydrateDetail(ctx, b)
}

func (s *PgStore) hydrateDetail(ctx context.Context, b *Booking) (*BookingDetail, error) {
	detail := &BookingDetail{Booking: *b}

	p, err := s.GetPatientByID(ctx, b.PatientID)
	if err != nil && !errors.Is(err, ErrPatientNotFound) {
		return nil, err
	}
	detail.Patient = p

	if b.SlotID != nil {
		slot, err := s.GetSlotByID(ctx, *b.SlotID)
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			return nil, err
		}
		if slot != nil {
			detail.Slot = slot
			c, err := s.GetClinicianByID(ctx, slot.ClinicianID)
			if err != nil && !errors.Is(err, ErrClinicianNotFound) {
				return nil, err
			}
			detail.Clinician = c
		}
	}

	return detail, nil
}

// CreateSlot inserts a new available slot. Per-clinician non-overlap is
// enforced by the slots_no_overlap exclusion constraint, which holds even
// when two inserts for overlapping intervals race under READ COMMITTED: the
// second blocks on the first's commit and then fails with 23P01.
func (s *PgStore) CreateSlot(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (*Slot, error) {
	id := uuid.New()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO slots (id, clinician_id, start_time, end_time, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'available', 0, now(), now())
		RETURNING id, clinician_id, start_time, end_time, status, version, created_at, updated_at
	`, id, clinicianID, start, end)

	slot, err := scanSlot(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
			return nil, ErrSlotOverlap
		}
		return nil, err
	}
	return slot, nil
}

func (s *PgStore) ListAvailableSlots(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, clinician_id, start_time, end_time, status, version, created_at, updated_at
		FROM slots
		WHERE clinician_id = $1
		  AND status = 'available'
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`, clinicianID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *slot)
	}

	return result, rows.Err()
}

func (s *PgStore) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID) ([]BookingDetail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	return s.collectDetails(ctx, rows)
}

func (s *PgStore) ListBookingsByClinician(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]BookingDetail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.id, b.patient_id, b.slot_id, b.status, b.reason, b.is_walk_in, b.expires_at, b.created_at, b.updated_at
		FROM bookings b
		JOIN slots sl ON sl.id = b.slot_id
		WHERE sl.clinician_id = $1
		  AND sl.start_time >= $2
		  AND sl.start_time < $3
		ORDER BY sl.start_time
	`, clinicianID, from, to)
	if err != nil {
		return nil, err
	}
	return s.collectDetails(ctx, rows)
}

func (s *PgStore) collectDetails(ctx context.Context, rows pgx.Rows) ([]BookingDetail, error) {
	var bookings []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]BookingDetail, 0, len(bookings))
	for i := range bookings {
		detail, err := s.hydrateDetail(ctx, &bookings[i])
		if err != nil {
			return nil, err
		}
		result = append(result, *detail)
	}
	return result, nil
}

func (s *PgStore) FindExpiredPending(ctx context.Context, now time.Time) ([]Booking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	return result, rows.Err()
}

// Transactions

func (s *PgStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

// LockSlot takes the slot row lock without waiting. A held lock surfaces as
// SQLSTATE 55P03 and maps to ErrSlotContended so callers fail fast instead
// of queueing behind the concurrent claimer.
func (t *pgTx) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, clinician_id, start_time, end_time, status, version, created_at, updated_at
		FROM slots
		WHERE id = $1
		FOR UPDATE NOWAIT
	`, id)

	slot, err := scanSlot(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
			return nil, ErrSlotContended
		}
		return nil, err
	}
	return slot, nil
}

func (t *pgTx) MarkSlotBooked(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE slots
		SET status = 'booked',
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'available'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseSlot takes the row lock blocking, unlike the NOWAIT claim path.
// Two opposite-direction reschedules (A->B and B->A) can therefore deadlock
// on each other's claimed rows; Postgres aborts one of them with a full
// rollback, which keeps the all-or-nothing guarantee and lets the aborted
// caller retry.
func (t *pgTx) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE slots
		SET status = 'available',
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status <> 'available'
	`, id)
	return err
}

func (t *pgTx) InsertBooking(ctx context.Context, b *Booking) error {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO bookings (id, patient_id, slot_id, status, reason, is_walk_in, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+bookingColumns+`
	`, b.ID, b.PatientID, b.SlotID, b.Status, b.Reason, b.IsWalkIn, b.ExpiresAt)

	inserted, err := scanBooking(row)
	if err != nil {
		return err
	}
	*b = *inserted
	return nil
}

func (t *pgTx) LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanBooking(row)
}

func (t *pgTx) UpdateBooking(ctx context.Context, b *Booking) error {
	row := t.tx.QueryRow(ctx, `
		UPDATE bookings
		SET slot_id = $2,
		    status = $3,
		    reason = $4,
		    expires_at = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+bookingColumns+`
	`, b.ID, b.SlotID, b.Status, b.Reason, b.ExpiresAt)

	updated, err := scanBooking(row)
	if err != nil {
		return err
	}
	*b = *updated
	return nil
}

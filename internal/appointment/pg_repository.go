package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	a.id::text,
	COALESCE(a.patient_id::text, ''),
	COALESCE(p.name, ''),
	to_char(a.date, 'YYYY-MM-DD'),
	to_char(a.start_time, 'HH24:MI'),
	a.duration_minutes,
	a.status,
	a.fit_in,
	a.blocked`

const appointmentFrom = `
	FROM appointments a
	LEFT JOIN patients p ON p.id = a.patient_id`

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var phone, document *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&phone,
		&document,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	if phone != nil {
		p.Phone = *phone
	}
	if document != nil {
		p.Document = *document
	}
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PatientName,
		&a.Date,
		&a.StartTime,
		&a.Duration,
		&a.Status,
		&a.FitIn,
		&a.Blocked,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func nullablePatient(id string) (*uuid.UUID, error) {
	if id == "" {
		return nil, nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse patient id: %w", err)
	}
	return &parsed, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, phone, document, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) SearchPatients(ctx context.Context, term string, limit int) ([]Patient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, phone, document, created_at, updated_at
		FROM patients
		WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR document = $1
		ORDER BY name
		LIMIT $2
	`, strings.TrimSpace(term), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+appointmentFrom+`
		WHERE a.id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByRange(ctx context.Context, from, to string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+appointmentFrom+`
		WHERE a.date BETWEEN $1::date AND $2::date
		ORDER BY a.date, a.start_time
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	patientID, err := nullablePatient(a.PatientID)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, date, start_time, duration_minutes, status, fit_in, blocked, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4::time, $5, $6, $7, $8, now(), now())
	`, id, patientID, a.Date, a.StartTime, a.Duration, a.Status, a.FitIn, a.Blocked)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	return r.GetAppointmentByID(ctx, id)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return nil, ErrAppointmentNotFound
	}
	patientID, err := nullablePatient(a.PatientID)
	if err != nil {
		return nil, err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET patient_id = $2,
		    date = $3::date,
		    start_time = $4::time,
		    duration_minutes = $5,
		    fit_in = $6,
		    updated_at = now()
		WHERE id = $1
	`, id, patientID, a.Date, a.StartTime, a.Duration, a.FitIn)
	if err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAppointmentNotFound
	}

	return r.GetAppointmentByID(ctx, id)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status string) (*Appointment, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAppointmentNotFound
	}

	return r.GetAppointmentByID(ctx, id)
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

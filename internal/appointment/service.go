package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/clinic-agenda/internal/redis"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentUpdated       = "APPOINTMENT_UPDATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventSlotUnblocked            = "SLOT_UNBLOCKED"
)

const maxSearchResults = 50

var (
	ErrInvalidAppointment = errors.New("invalid appointment")
	ErrInvalidStatus      = errors.New("status must not be empty")
	ErrNotBlocked         = errors.New("appointment is not a slot block")
	ErrMutationInFlight   = errors.New("another change to this appointment is in progress, please retry")
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	log    zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		log:    logger,
	}
}

// WeekRange returns the Monday and Sunday of the week containing ref.
func WeekRange(ref time.Time) (time.Time, time.Time) {
	offset := (int(ref.Weekday()) + 6) % 7
	start := time.Date(ref.Year(), ref.Month(), ref.Day()-offset, 0, 0, 0, 0, ref.Location())
	return start, start.AddDate(0, 0, 6)
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidAppointment, s)
	}
	return d, nil
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, ErrAppointmentNotFound
	}
	return id, nil
}

// ListDay returns every appointment on the given date ordered by start time.
func (s *Service) ListDay(ctx context.Context, date string) ([]Appointment, error) {
	if _, err := parseDate(date); err != nil {
		return nil, err
	}
	list, err := s.repo.ListAppointmentsByRange(ctx, date, date)
	if err != nil {
		return nil, fmt.Errorf("list day: %w", err)
	}
	return list, nil
}

// ListWeek returns the appointments of the Monday..Sunday week containing ref.
func (s *Service) ListWeek(ctx context.Context, ref string) ([]Appointment, error) {
	d, err := parseDate(ref)
	if err != nil {
		return nil, err
	}
	from, to := WeekRange(d)
	list, err := s.repo.ListAppointmentsByRange(ctx, from.Format(DateLayout), to.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("list week: %w", err)
	}
	return list, nil
}

// ValidateConflict reports the appointments whose interval intersects the
// proposed one. The answer is advisory: a fit-in query is feasible even when
// conflicts exist, and nothing here blocks a later create.
func (s *Service) ValidateConflict(ctx context.Context, q ConflictQuery) (ConflictResult, error) {
	proposed, err := NewInterval(q.Date, q.StartTime, q.Duration)
	if err != nil {
		return ConflictResult{}, err
	}

	existing, err := s.repo.ListAppointmentsByRange(ctx, q.Date, q.Date)
	if err != nil {
		return ConflictResult{}, fmt.Errorf("load day for conflict check: %w", err)
	}

	conflicts := []Conflict{}
	for _, a := range existing {
		if a.ID == q.IgnoreID || a.Status == StatusCanceled {
			continue
		}
		iv, err := a.Interval()
		if err != nil {
			s.log.Warn().Err(err).Str("appointment_id", a.ID).Msg("skipping appointment with invalid interval")
			continue
		}
		if Overlaps(proposed, iv) {
			conflicts = append(conflicts, Conflict{
				ID:          a.ID,
				PatientName: a.PatientName,
				StartTime:   iv.Start.Format(TimeLayout),
				EndTime:     iv.End.Format(TimeLayout),
			})
		}
	}

	res := ConflictResult{
		Feasible:  len(conflicts) == 0 || q.FitIn,
		Conflicts: conflicts,
	}
	switch {
	case len(conflicts) == 0:
		res.Message = "horário livre"
	case q.FitIn:
		res.Message = fmt.Sprintf("encaixe permitido sobre %d agendamento(s)", len(conflicts))
	default:
		res.Message = fmt.Sprintf("conflito com %d agendamento(s)", len(conflicts))
	}
	return res, nil
}

func validateAppointment(a Appointment) error {
	if _, err := NewInterval(a.Date, a.StartTime, a.Duration); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAppointment, err)
	}
	if a.PatientID == "" && !a.Blocked {
		return fmt.Errorf("%w: patient is required", ErrInvalidAppointment)
	}
	return nil
}

// CreateAppointment stores a new appointment or slot block.
func (s *Service) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if err := validateAppointment(a); err != nil {
		return nil, err
	}
	if a.PatientID != "" {
		if err := s.checkPatient(ctx, a.PatientID); err != nil {
			return nil, err
		}
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}

	created, err := s.repo.CreateAppointment(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"date":       created.Date,
		"start_time": created.StartTime,
		"fit_in":     created.FitIn,
		"blocked":    created.Blocked,
	})
	return created, nil
}

// UpdateAppointment rewrites schedule fields of an existing appointment.
func (s *Service) UpdateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if _, err := parseID(a.ID); err != nil {
		return nil, err
	}
	if err := validateAppointment(a); err != nil {
		return nil, err
	}
	if a.PatientID != "" {
		if err := s.checkPatient(ctx, a.PatientID); err != nil {
			return nil, err
		}
	}

	var updated *Appointment
	err := s.withLock(ctx, "appointment:"+a.ID, func(lockCtx context.Context) error {
		u, err := s.repo.UpdateAppointment(lockCtx, a)
		if err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentUpdated, map[string]any{
		"date":       updated.Date,
		"start_time": updated.StartTime,
	})
	return updated, nil
}

// ChangeStatus sets a new status. Concurrent changes to the same
// appointment are rejected with ErrMutationInFlight.
func (s *Service) ChangeStatus(ctx context.Context, id, status string) (*Appointment, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	status = strings.TrimSpace(status)
	if status == "" {
		return nil, ErrInvalidStatus
	}

	var updated *Appointment
	err = s.withLock(ctx, "appointment:"+id, func(lockCtx context.Context) error {
		u, err := s.repo.UpdateAppointmentStatus(lockCtx, uid, status)
		if err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentStatusChanged, map[string]any{"status": status})
	return updated, nil
}

func (s *Service) CancelAppointment(ctx context.Context, id string) (*Appointment, error) {
	return s.ChangeStatus(ctx, id, StatusCanceled)
}

// Unblock removes a slot block so the interval becomes bookable again.
func (s *Service) Unblock(ctx context.Context, id string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}

	err = s.withLock(ctx, "unblock:"+id, func(lockCtx context.Context) error {
		a, err := s.repo.GetAppointmentByID(lockCtx, uid)
		if err != nil {
			return err
		}
		if !a.Blocked {
			return ErrNotBlocked
		}
		return s.repo.DeleteAppointment(lockCtx, uid)
	})
	if err != nil {
		return err
	}

	s.logEvent(ctx, id, EventSlotUnblocked, map[string]any{})
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrPatientNotFound
	}
	return s.repo.GetPatientByID(ctx, uid)
}

func (s *Service) SearchPatients(ctx context.Context, term string) ([]Patient, error) {
	list, err := s.repo.SearchPatients(ctx, term, maxSearchResults)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	return list, nil
}

func (s *Service) checkPatient(ctx context.Context, id string) error {
	if _, err := s.GetPatient(ctx, id); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return err
		}
		return fmt.Errorf("load patient: %w", err)
	}
	return nil
}

func (s *Service) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, key, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrMutationInFlight
	}
	return err
}

func (s *Service) logEvent(ctx context.Context, appointmentID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		Payload:   data,
		CreatedAt: time.Now(),
	}
	if apptID, err := uuid.Parse(appointmentID); err == nil {
		ev.AppointmentID = &apptID
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Str("appointment_id", appointmentID).Msg("failed to insert event log")
	}
}

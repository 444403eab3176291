package appointment

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/clinic-agenda/internal/redis"
)

var _ Repository = (*memRepository)(nil)
var _ redisclient.Locker = (*memLocker)(nil)

// memRepository is an in-memory Repository for service tests.
type memRepository struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]Patient
	appointments map[string]Appointment
	events       []EventLog

	ListErr error
}

func newMemRepository() *memRepository {
	return &memRepository{
		patients:     map[uuid.UUID]Patient{},
		appointments: map[string]Appointment{},
	}
}

func (m *memRepository) addPatient(name string) Patient {
	p := Patient{ID: uuid.New(), Name: name}
	m.patients[p.ID] = p
	return p
}

func (m *memRepository) add(a Appointment) Appointment {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	m.appointments[a.ID] = a
	return a
}

func (m *memRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *memRepository) SearchPatients(_ context.Context, term string, limit int) ([]Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Patient{}
	for _, p := range m.patients {
		out = append(out, p)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id.String()]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *memRepository) ListAppointmentsByRange(_ context.Context, from, to string) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := []Appointment{}
	for _, a := range m.appointments {
		if a.Date >= from && a.Date <= to {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date+out[i].StartTime < out[j].Date+out[j].StartTime
	})
	return out, nil
}

func (m *memRepository) CreateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.NewString()
	m.appointments[a.ID] = a
	return &a, nil
}

func (m *memRepository) UpdateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.appointments[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.Status = cur.Status
	a.Blocked = cur.Blocked
	m.appointments[a.ID] = a
	return &a, nil
}

func (m *memRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, status string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id.String()]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.Status = status
	m.appointments[a.ID] = a
	return &a, nil
}

func (m *memRepository) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[id.String()]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.appointments, id.String())
	return nil
}

func (m *memRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// memLocker mimics the Redis locker with a process-local set of held keys.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker { return &memLocker{held: map[string]bool{}} }

func (l *memLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[key] {
		l.mu.Unlock()
		return redisclient.ErrLockNotAcquired
	}
	l.held[key] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}

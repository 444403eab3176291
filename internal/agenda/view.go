// Package agenda holds the state behind the calendar and patient record
// screens and decides which asynchronous results may be applied to it.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-agenda/internal/appointment"
	"github.com/hackgods/clinic-agenda/internal/conflict"
	"github.com/hackgods/clinic-agenda/internal/coord"
	"github.com/hackgods/clinic-agenda/internal/directory"
	"github.com/hackgods/clinic-agenda/internal/filter"
	"github.com/hackgods/clinic-agenda/internal/prefs"
	"github.com/hackgods/clinic-agenda/internal/transport"
)

// Sequencer keys, one per calendar list.
const (
	keyDay  = "day"
	keyWeek = "week"
)

type MutationKind string

const (
	MutationStatus  MutationKind = "status"
	MutationUnblock MutationKind = "unblock"
)

type Options struct {
	Transport transport.Transport
	// Directory is shared by every view in the process. A private one is
	// created when nil.
	Directory *directory.Cache
	Store     prefs.Store
	Logger    zerolog.Logger
}

// View is the state of one agenda screen. Construct it once per screen
// and pass it by reference.
type View struct {
	transport transport.Transport
	dir       *directory.Cache
	checker   *conflict.Checker
	store     prefs.Store
	log       zerolog.Logger

	seq    *coord.Sequencer
	guards map[MutationKind]*coord.Guard

	mu      sync.RWMutex
	mode    prefs.Mode
	filters filter.Normalized
	dates   map[string]time.Time
	records map[string][]appointment.Appointment
}

// NewView reads persisted preferences; unreadable values fall back to defaults.
func NewView(ctx context.Context, opts Options) (*View, error) {
	if opts.Transport == nil {
		return nil, errors.New("agenda: transport is required")
	}
	if opts.Directory == nil {
		opts.Directory = directory.New()
	}
	if opts.Store == nil {
		opts.Store = prefs.NewMemoryStore()
	}

	p := prefs.Load(ctx, opts.Store, opts.Logger)

	return &View{
		transport: opts.Transport,
		dir:       opts.Directory,
		checker:   conflict.NewChecker(opts.Transport, opts.Logger),
		store:     opts.Store,
		log:       opts.Logger,
		seq:       coord.NewSequencer(),
		guards: map[MutationKind]*coord.Guard{
			MutationStatus:  coord.NewGuard(),
			MutationUnblock: coord.NewGuard(),
		},
		mode:    p.Mode,
		filters: p.Filters,
		dates:   map[string]time.Time{},
		records: map[string][]appointment.Appointment{},
	}, nil
}

func (v *View) Mode() prefs.Mode {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.mode
}

func (v *View) Filters() filter.Normalized {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.filters
}

// SelectedDate is the date of the list currently on screen.
func (v *View) SelectedDate() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dates[v.listKey()]
}

func (v *View) listKey() string {
	if v.mode == prefs.ModeWeek {
		return keyWeek
	}
	return keyDay
}

func (v *View) SetMode(ctx context.Context, m prefs.Mode) error {
	if !m.Valid() {
		return fmt.Errorf("agenda: invalid view mode %q", m)
	}
	v.mu.Lock()
	v.mode = m
	v.mu.Unlock()

	if err := prefs.SaveMode(ctx, v.store, m); err != nil {
		v.log.Warn().Err(err).Msg("failed to persist view mode")
	}
	return nil
}

// LoadDay fetches the appointments of date. It reports whether the result
// was applied: a response overtaken by a later load is dropped silently.
func (v *View) LoadDay(ctx context.Context, date time.Time) (bool, error) {
	return v.load(ctx, keyDay, transport.ActionListDay, date)
}

// LoadWeek fetches the Monday..Sunday week containing ref.
func (v *View) LoadWeek(ctx context.Context, ref time.Time) (bool, error) {
	return v.load(ctx, keyWeek, transport.ActionListWeek, ref)
}

func (v *View) load(ctx context.Context, key, action string, date time.Time) (bool, error) {
	ticket := v.seq.Next(key)

	var list []appointment.Appointment
	err := transport.Do(ctx, v.transport, action, map[string]string{"data": date.Format(appointment.DateLayout)}, &list)

	// The ticket check and the apply share the lock, so a newer load can
	// never be overwritten by an older one that passed the check first.
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.seq.IsCurrent(key, ticket) {
		v.log.Debug().Str("view", key).Uint64("ticket", ticket).Msg("dropping stale response")
		return false, nil
	}
	if err != nil {
		if transport.IsCancelled(err) {
			return false, nil
		}
		return false, &RetryableError{Op: "load " + key, Err: err}
	}

	if list == nil {
		list = []appointment.Appointment{}
	}
	for _, a := range list {
		v.dir.PutAppointment(a)
	}
	v.dir.Enrich(list)

	v.records[key] = list
	v.dates[key] = date
	return true, nil
}

// Records returns a copy of the unfiltered list for the current mode.
func (v *View) Records() []appointment.Appointment {
	v.mu.RLock()
	defer v.mu.RUnlock()
	src := v.records[v.listKey()]
	out := make([]appointment.Appointment, len(src))
	copy(out, src)
	return out
}

// Visible returns the current list, enriched with cached names and filtered.
func (v *View) Visible() []appointment.Appointment {
	v.mu.RLock()
	f := v.filters
	v.mu.RUnlock()

	list := v.dir.Enrich(v.Records())
	return filter.Apply(list, f, v.dir.ResolveName)
}

// ApplyFilters normalizes and persists c, then returns the visible list.
func (v *View) ApplyFilters(ctx context.Context, c filter.Criteria) []appointment.Appointment {
	n := filter.Normalize(c)
	v.mu.Lock()
	v.filters = n
	v.mu.Unlock()

	if err := prefs.SaveFilters(ctx, v.store, c); err != nil {
		v.log.Warn().Err(err).Msg("failed to persist filters")
	}
	return v.Visible()
}

// ValidateConflict never blocks: see conflict.Checker.
func (v *View) ValidateConflict(ctx context.Context, q conflict.Query) conflict.Result {
	return v.checker.Validate(ctx, q)
}

// AcquireMutation marks id as having a mutation of kind in flight. It
// returns false when one already is.
func (v *View) AcquireMutation(kind MutationKind, id string) bool {
	g, ok := v.guards[kind]
	if !ok {
		return false
	}
	return g.TryAcquire(id)
}

func (v *View) ReleaseMutation(kind MutationKind, id string) {
	if g, ok := v.guards[kind]; ok {
		g.Release(id)
	}
}

func (v *View) MutationInFlight(kind MutationKind, id string) bool {
	g, ok := v.guards[kind]
	return ok && g.Held(id)
}

// CacheRecord feeds patient data from any payload into the shared directory.
func (v *View) CacheRecord(rec map[string]any) bool {
	return v.dir.Put(rec)
}

// ChangeStatus sets the status of appointment id. A second call for the
// same id while the first is outstanding returns (false, nil) without
// reaching the transport.
func (v *View) ChangeStatus(ctx context.Context, id, status string) (bool, error) {
	if !v.AcquireMutation(MutationStatus, id) {
		return false, nil
	}
	defer v.ReleaseMutation(MutationStatus, id)

	var updated appointment.Appointment
	err := transport.Do(ctx, v.transport, transport.ActionChangeStatus, map[string]string{"id": id, "status": status}, &updated)
	if err != nil {
		return false, v.submitError("change status", err)
	}
	v.mutateRecord(id, func(a *appointment.Appointment) bool {
		a.Status = status
		if updated.Status != "" {
			a.Status = updated.Status
		}
		return true
	})
	return true, nil
}

// Cancel cancels appointment id and removes it from the loaded lists.
func (v *View) Cancel(ctx context.Context, id string) (bool, error) {
	if !v.AcquireMutation(MutationStatus, id) {
		return false, nil
	}
	defer v.ReleaseMutation(MutationStatus, id)

	if err := transport.Do(ctx, v.transport, transport.ActionCancel, map[string]string{"id": id}, nil); err != nil {
		return false, v.submitError("cancel", err)
	}
	v.mutateRecord(id, func(*appointment.Appointment) bool { return false })
	return true, nil
}

// Unblock releases a blocked slot and removes the block from the loaded lists.
func (v *View) Unblock(ctx context.Context, id string) (bool, error) {
	if !v.AcquireMutation(MutationUnblock, id) {
		return false, nil
	}
	defer v.ReleaseMutation(MutationUnblock, id)

	if err := transport.Do(ctx, v.transport, transport.ActionUnblock, map[string]string{"id": id}, nil); err != nil {
		return false, v.submitError("unblock", err)
	}
	v.mutateRecord(id, func(*appointment.Appointment) bool { return false })
	return true, nil
}

// Save creates a (when a.ID is empty) or updates it after a conflict check.
// An infeasible check returns *ConflictError and nothing is submitted.
func (v *View) Save(ctx context.Context, a appointment.Appointment) (*appointment.Appointment, error) {
	res := v.checker.Validate(ctx, conflict.Query{
		Date:      a.Date,
		StartTime: a.StartTime,
		Duration:  a.Duration,
		IgnoreID:  a.ID,
		FitIn:     a.FitIn,
	})
	if !res.Feasible {
		return nil, &ConflictError{Result: res}
	}

	action := transport.ActionUpdate
	if a.ID == "" {
		action = transport.ActionCreate
	}

	var saved appointment.Appointment
	if err := transport.Do(ctx, v.transport, action, a, &saved); err != nil {
		if transport.IsCancelled(err) {
			return nil, err
		}
		return nil, &RetryableError{Op: "save appointment", Err: err}
	}

	v.dir.PutAppointment(saved)
	if saved.PatientName == "" {
		saved.PatientName = v.dir.ResolveName(&saved)
	}
	v.upsert(saved)
	return &saved, nil
}

func (v *View) submitError(op string, err error) error {
	if transport.IsCancelled(err) {
		return nil
	}
	return &RetryableError{Op: op, Err: err}
}

// mutateRecord applies fn to every loaded copy of id; fn returning false
// removes the record.
func (v *View) mutateRecord(id string, fn func(*appointment.Appointment) bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, list := range v.records {
		out := list[:0:0]
		for i := range list {
			a := list[i]
			if a.ID == id && !fn(&a) {
				continue
			}
			out = append(out, a)
		}
		v.records[key] = out
	}
}

// upsert places a in every loaded list whose range includes its date and
// drops it from lists that no longer do, so a rescheduled appointment
// leaves its old day.
func (v *View) upsert(a appointment.Appointment) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, list := range v.records {
		if !v.covers(key, a.Date) {
			out := list[:0:0]
			for i := range list {
				if list[i].ID != a.ID {
					out = append(out, list[i])
				}
			}
			v.records[key] = out
			continue
		}
		replaced := false
		for i := range list {
			if list[i].ID == a.ID {
				list[i] = a
				replaced = true
			}
		}
		if !replaced {
			list = append(list, a)
		}
		v.records[key] = list
	}
}

// covers reports whether the list loaded under key includes date.
func (v *View) covers(key, date string) bool {
	d, err := time.Parse(appointment.DateLayout, date)
	if err != nil {
		return false
	}
	loaded, ok := v.dates[key]
	if !ok {
		return false
	}
	if key == keyDay {
		return loaded.Format(appointment.DateLayout) == date
	}
	from, to := appointment.WeekRange(loaded)
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return !d.Before(from) && !d.After(to)
}

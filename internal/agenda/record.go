package agenda

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-agenda/internal/appointment"
	"github.com/hackgods/clinic-agenda/internal/coord"
	"github.com/hackgods/clinic-agenda/internal/directory"
	"github.com/hackgods/clinic-agenda/internal/transport"
)

// RecordView backs the patient record screen. Navigating to another
// patient, or typing a new search, aborts the request it supersedes.
type RecordView struct {
	transport transport.Transport
	dir       *directory.Cache
	log       zerolog.Logger

	open   *coord.Canceller
	search *coord.Canceller

	mu      sync.RWMutex
	patient *appointment.Patient
	results []appointment.Patient
}

func NewRecordView(opts Options) (*RecordView, error) {
	if opts.Transport == nil {
		return nil, errors.New("agenda: transport is required")
	}
	if opts.Directory == nil {
		opts.Directory = directory.New()
	}
	return &RecordView{
		transport: opts.Transport,
		dir:       opts.Directory,
		log:       opts.Logger,
		open:      coord.NewCanceller(),
		search:    coord.NewCanceller(),
	}, nil
}

// Patient returns the patient on screen, or nil.
func (r *RecordView) Patient() *appointment.Patient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.patient == nil {
		return nil
	}
	p := *r.patient
	return &p
}

func (r *RecordView) SearchResults() []appointment.Patient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]appointment.Patient, len(r.results))
	copy(out, r.results)
	return out
}

// Open loads patient id. It returns (false, nil) when the load was
// superseded or cancelled; such a load never touches the cache or state.
func (r *RecordView) Open(ctx context.Context, id string) (bool, error) {
	h := r.begin(ctx, r.open)
	defer r.open.Finish(h)

	var p appointment.Patient
	err := transport.Do(h.Context(), r.transport, transport.ActionGetPatient, map[string]string{"idPaciente": id}, &p)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.open.IsActive(h) {
		r.log.Debug().Str("patient_id", id).Msg("patient load superseded")
		return false, nil
	}
	if err != nil {
		if transport.IsCancelled(err) {
			return false, nil
		}
		return false, &RetryableError{Op: "load patient", Err: err}
	}

	r.dir.PutPatient(p)
	r.patient = &p
	return true, nil
}

// SearchPatients runs a name/document search. Every result is added to the
// shared directory so later list renders resolve names locally.
func (r *RecordView) SearchPatients(ctx context.Context, term string) ([]appointment.Patient, bool, error) {
	h := r.begin(ctx, r.search)
	defer r.search.Finish(h)

	var list []appointment.Patient
	err := transport.Do(h.Context(), r.transport, transport.ActionSearchPatients, map[string]string{"termo": term}, &list)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.search.IsActive(h) {
		return nil, false, nil
	}
	if err != nil {
		if transport.IsCancelled(err) {
			return nil, false, nil
		}
		return nil, false, &RetryableError{Op: "search patients", Err: err}
	}

	for _, p := range list {
		r.dir.PutPatient(p)
	}
	r.results = list
	return list, true, nil
}

// begin starts a request under r.mu. Results are checked and applied under
// the same lock, so a request cannot be superseded between its check and
// its write.
func (r *RecordView) begin(ctx context.Context, c *coord.Canceller) *coord.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return c.Begin(ctx)
}

// Close aborts any background request when the screen goes away.
func (r *RecordView) Close() {
	r.open.CancelAll()
	r.search.CancelAll()
}

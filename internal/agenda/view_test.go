package agenda

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-agenda/internal/appointment"
	"github.com/hackgods/clinic-agenda/internal/conflict"
	"github.com/hackgods/clinic-agenda/internal/directory"
	"github.com/hackgods/clinic-agenda/internal/filter"
	"github.com/hackgods/clinic-agenda/internal/prefs"
	"github.com/hackgods/clinic-agenda/internal/transport"
)

var (
	dayA = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	dayB = time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
)

func newTestView(t *testing.T, tr transport.Transport, store prefs.Store) *View {
	t.Helper()
	v, err := NewView(context.Background(), Options{Transport: tr, Store: store, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return v
}

type loadResult struct {
	applied bool
	err     error
}

func TestStaleDayResponseIsDropped(t *testing.T) {
	tr := newPendingTransport()
	v := newTestView(t, tr, nil)
	ctx := context.Background()

	resA := make(chan loadResult, 1)
	go func() {
		ok, err := v.LoadDay(ctx, dayA)
		resA <- loadResult{ok, err}
	}()
	callA := tr.next(t)
	assert.Equal(t, map[string]string{"data": "2025-03-10"}, callA.payload)

	resB := make(chan loadResult, 1)
	go func() {
		ok, err := v.LoadDay(ctx, dayB)
		resB <- loadResult{ok, err}
	}()
	callB := tr.next(t)

	// day A resolves first but was superseded
	callA.respond(`[{"id":"a1","idPaciente":"p1","nomeCompleto":"Ana","data":"2025-03-10","horaInicio":"09:00","duracaoMinutos":30,"status":"agendado"}]`)
	ra := <-resA
	require.NoError(t, ra.err)
	assert.False(t, ra.applied)
	assert.Empty(t, v.Records())

	callB.respond(`[{"id":"b1","idPaciente":"p2","nomeCompleto":"Bruno","data":"2025-03-11","horaInicio":"10:00","duracaoMinutos":30,"status":"agendado"}]`)
	rb := <-resB
	require.NoError(t, rb.err)
	assert.True(t, rb.applied)

	recs := v.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "b1", recs[0].ID)
	assert.Equal(t, dayB, v.SelectedDate())
}

func TestStaleFailureIsNotSurfaced(t *testing.T) {
	tr := newPendingTransport()
	v := newTestView(t, tr, nil)
	ctx := context.Background()

	resA := make(chan loadResult, 1)
	go func() {
		ok, err := v.LoadDay(ctx, dayA)
		resA <- loadResult{ok, err}
	}()
	callA := tr.next(t)

	resB := make(chan loadResult, 1)
	go func() {
		ok, err := v.LoadDay(ctx, dayB)
		resB <- loadResult{ok, err}
	}()
	callB := tr.next(t)

	callB.respond(`[]`)
	require.True(t, (<-resB).applied)

	callA.fail(errors.New("network down"))
	ra := <-resA
	assert.NoError(t, ra.err)
	assert.False(t, ra.applied)
}

func TestDayAndWeekSequencesAreIndependent(t *testing.T) {
	tr := newPendingTransport()
	v := newTestView(t, tr, nil)
	ctx := context.Background()

	resDay := make(chan loadResult, 1)
	go func() {
		ok, err := v.LoadDay(ctx, dayA)
		resDay <- loadResult{ok, err}
	}()
	callDay := tr.next(t)

	resWeek := make(chan loadResult, 1)
	go func() {
		ok, err := v.LoadWeek(ctx, dayA)
		resWeek <- loadResult{ok, err}
	}()
	callWeek := tr.next(t)
	assert.Equal(t, transport.ActionListWeek, callWeek.action)

	callWeek.respond(`[{"id":"w1","data":"2025-03-12","horaInicio":"08:00","duracaoMinutos":30}]`)
	callDay.respond(`[{"id":"d1","data":"2025-03-10","horaInicio":"08:00","duracaoMinutos":30}]`)
	assert.True(t, (<-resWeek).applied)
	assert.True(t, (<-resDay).applied)

	assert.Equal(t, "d1", v.Records()[0].ID)
	require.NoError(t, v.SetMode(ctx, prefs.ModeWeek))
	assert.Equal(t, "w1", v.Records()[0].ID)
}

func TestLoadFailureIsRetryable(t *testing.T) {
	tr := newScriptedTransport().onError(transport.ActionListDay, &transport.Error{Action: transport.ActionListDay, Code: "unavailable"})
	v := newTestView(t, tr, nil)

	ok, err := v.LoadDay(context.Background(), dayA)
	assert.False(t, ok)
	var re *RetryableError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.UserMessage(), "Tente novamente")
	assert.Equal(t, "unavailable", transport.CodeOf(err))
}

func TestCancelledLoadIsSwallowed(t *testing.T) {
	tr := newScriptedTransport().on(transport.ActionListDay, `[]`)
	tr.block = make(chan struct{})
	v := newTestView(t, tr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := v.LoadDay(ctx, dayA)
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.True(t, v.SelectedDate().IsZero())
}

func TestLoadFeedsDirectoryAndFilters(t *testing.T) {
	dir := directory.New()
	dir.Put(map[string]any{"idPaciente": "p3", "nomeCompleto": "Carla Antônia"})

	tr := newScriptedTransport().on(transport.ActionListDay, `[
		{"id":"a1","idPaciente":"p1","nomeCompleto":"Ana","status":"agendado"},
		{"id":"a2","idPaciente":"p2","nome":"João","status":"concluído"},
		{"id":"a3","idPaciente":"p3","status":"em_atendimento"},
		{"id":"a4","idPaciente":"p1","status":"atendido"}
	]`)
	v, err := NewView(context.Background(), Options{Transport: tr, Directory: dir, Logger: zerolog.Nop()})
	require.NoError(t, err)

	ok, err := v.LoadDay(context.Background(), dayA)
	require.NoError(t, err)
	require.True(t, ok)

	// names observed in the list are cached for later views
	e, found := dir.Summary("p2")
	require.True(t, found)
	assert.Equal(t, "João", e.Name)
	assert.Equal(t, "Carla Antônia", v.Records()[2].PatientName)
	assert.Equal(t, "Ana", v.Records()[3].PatientName)

	got := v.ApplyFilters(context.Background(), filter.Criteria{Name: "antonia"})
	require.Len(t, got, 1)
	assert.Equal(t, "a3", got[0].ID)

	got = v.ApplyFilters(context.Background(), filter.Criteria{Status: "Concluído"})
	assert.Equal(t, []string{"a2", "a4"}, ids(got))

	got = v.ApplyFilters(context.Background(), filter.Criteria{Status: "em atendimento"})
	assert.Equal(t, []string{"a3"}, ids(got))

	assert.Len(t, v.ApplyFilters(context.Background(), filter.Criteria{}), 4)
}

func TestPreferencesPersistAcrossViews(t *testing.T) {
	store := prefs.NewMemoryStore()
	tr := newScriptedTransport()
	ctx := context.Background()

	v := newTestView(t, tr, store)
	assert.Equal(t, prefs.ModeDay, v.Mode())
	require.NoError(t, v.SetMode(ctx, prefs.ModeWeek))
	v.ApplyFilters(ctx, filter.Criteria{Name: "  Márcia ", Status: "Agendado"})
	assert.Error(t, v.SetMode(ctx, prefs.Mode("month")))

	again := newTestView(t, tr, store)
	assert.Equal(t, prefs.ModeWeek, again.Mode())
	assert.Equal(t, filter.Normalized{Term: "marcia", StatusFilter: "agendado"}, again.Filters())
}

func TestCorruptPreferencesUseDefaults(t *testing.T) {
	store := prefs.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, prefs.KeyViewMode, "???"))
	require.NoError(t, store.Set(ctx, prefs.KeyFiltersV2, "[1,2"))

	v := newTestView(t, newScriptedTransport(), store)
	assert.Equal(t, prefs.ModeDay, v.Mode())
	assert.True(t, v.Filters().IsZero())
}

func TestChangeStatusGuardsDuplicateClicks(t *testing.T) {
	tr := newPendingTransport()
	v := newTestView(t, tr, nil)
	ctx := context.Background()

	first := make(chan loadResult, 1)
	go func() {
		ok, err := v.ChangeStatus(ctx, "a1", appointment.StatusInProgress)
		first <- loadResult{ok, err}
	}()
	c := tr.next(t)
	assert.Equal(t, transport.ActionChangeStatus, c.action)
	assert.True(t, v.MutationInFlight(MutationStatus, "a1"))

	// second click on the same row is a local no-op
	ok, err := v.ChangeStatus(ctx, "a1", appointment.StatusCompleted)
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.Empty(t, tr.calls)

	// the unblock guard is separate
	assert.True(t, v.AcquireMutation(MutationUnblock, "a1"))
	v.ReleaseMutation(MutationUnblock, "a1")

	c.respond(`{"id":"a1","status":"em_atendimento"}`)
	r := <-first
	require.NoError(t, r.err)
	assert.True(t, r.applied)
	assert.False(t, v.MutationInFlight(MutationStatus, "a1"))
}

func TestGuardReleasedAfterFailure(t *testing.T) {
	tr := newScriptedTransport().onError(transport.ActionChangeStatus, errors.New("500"))
	v := newTestView(t, tr, nil)

	ok, err := v.ChangeStatus(context.Background(), "a1", "concluido")
	assert.False(t, ok)
	var re *RetryableError
	assert.ErrorAs(t, err, &re)
	assert.False(t, v.MutationInFlight(MutationStatus, "a1"))

	_, _ = v.ChangeStatus(context.Background(), "a1", "concluido")
	assert.Equal(t, 2, tr.count(transport.ActionChangeStatus))
}

func TestAcquireUnknownKind(t *testing.T) {
	v := newTestView(t, newScriptedTransport(), nil)
	assert.False(t, v.AcquireMutation(MutationKind("other"), "a1"))
	v.ReleaseMutation(MutationKind("other"), "a1")
}

func TestStatusCancelAndUnblockUpdateLoadedList(t *testing.T) {
	tr := newScriptedTransport().
		on(transport.ActionListDay, `[
			{"id":"a1","status":"agendado","data":"2025-03-10"},
			{"id":"a2","status":"agendado","data":"2025-03-10"},
			{"id":"b1","bloqueado":true,"data":"2025-03-10"}
		]`).
		on(transport.ActionChangeStatus, `{"id":"a1","status":"concluido"}`).
		on(transport.ActionCancel, `{}`).
		on(transport.ActionUnblock, `{}`)
	v := newTestView(t, tr, nil)
	ctx := context.Background()

	_, err := v.LoadDay(ctx, dayA)
	require.NoError(t, err)

	ok, err := v.ChangeStatus(ctx, "a1", "concluido")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "concluido", v.Records()[0].Status)

	ok, err = v.Cancel(ctx, "a2")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.Unblock(ctx, "b1")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []string{"a1"}, ids(v.Records()))
}

func TestSaveRunsConflictCheckFirst(t *testing.T) {
	tr := newScriptedTransport().
		on(transport.ActionValidateConflict, `{"ok":false,"conflitos":[{"id":"x","horaInicio":"10:00","horaFim":"10:50"}],"mensagem":"conflito com 1 agendamento(s)"}`)
	v := newTestView(t, tr, nil)

	_, err := v.Save(context.Background(), appointment.Appointment{PatientID: "p1", Date: "2025-03-10", StartTime: "10:15", Duration: 30})
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.Result.Conflicts, 1)
	assert.Equal(t, 0, tr.count(transport.ActionCreate))
}

func TestSaveFailsOpenWhenCheckUnavailable(t *testing.T) {
	tr := newScriptedTransport().
		on(transport.ActionListDay, `[]`).
		on(transport.ActionCreate, `{"id":"new","idPaciente":"p1","data":"2025-03-10","horaInicio":"10:15","duracaoMinutos":30,"status":"agendado"}`)
	v := newTestView(t, tr, nil)
	v.CacheRecord(map[string]any{"idPaciente": "p1", "nome": "Ana"})
	ctx := context.Background()

	_, err := v.LoadDay(ctx, dayA)
	require.NoError(t, err)

	// validateConflict is not scripted: the checker fails open
	saved, err := v.Save(ctx, appointment.Appointment{PatientID: "p1", Date: "2025-03-10", StartTime: "10:15", Duration: 30})
	require.NoError(t, err)
	assert.Equal(t, "new", saved.ID)
	assert.Equal(t, "Ana", saved.PatientName)
	assert.Equal(t, 1, tr.count(transport.ActionValidateConflict))

	assert.Equal(t, []string{"new"}, ids(v.Records()))
}

func TestSaveUpdateThreadsIgnoreID(t *testing.T) {
	var seen conflict.Query
	tr := transport.Func(func(_ context.Context, action string, payload any) (json.RawMessage, error) {
		switch action {
		case transport.ActionValidateConflict:
			seen = payload.(conflict.Query)
			return json.RawMessage(`{"ok":true,"conflitos":[]}`), nil
		case transport.ActionUpdate:
			return json.RawMessage(`{"id":"a1","data":"2025-03-10","horaInicio":"11:00","duracaoMinutos":30}`), nil
		}
		return nil, errors.New("unexpected " + action)
	})
	v := newTestView(t, tr, nil)

	_, err := v.Save(context.Background(), appointment.Appointment{ID: "a1", Date: "2025-03-10", StartTime: "11:00", Duration: 30, FitIn: true})
	require.NoError(t, err)
	assert.Equal(t, "a1", seen.IgnoreID)
	assert.True(t, seen.FitIn)
}

func TestSaveMovesAppointmentToAnotherDay(t *testing.T) {
	list := `[
		{"id":"a1","status":"agendado","data":"2025-03-10","horaInicio":"09:00","duracaoMinutos":30},
		{"id":"a2","status":"agendado","data":"2025-03-10","horaInicio":"10:00","duracaoMinutos":30}
	]`
	tr := newScriptedTransport().
		on(transport.ActionListDay, list).
		on(transport.ActionListWeek, list).
		on(transport.ActionValidateConflict, `{"ok":true,"conflitos":[]}`).
		on(transport.ActionUpdate, `{"id":"a1","status":"agendado","data":"2025-03-11","horaInicio":"09:00","duracaoMinutos":30}`)
	v := newTestView(t, tr, nil)
	ctx := context.Background()

	_, err := v.LoadDay(ctx, dayA)
	require.NoError(t, err)
	require.NoError(t, v.SetMode(ctx, prefs.ModeWeek))
	_, err = v.LoadWeek(ctx, dayA)
	require.NoError(t, err)

	_, err = v.Save(ctx, appointment.Appointment{ID: "a1", Date: "2025-03-11", StartTime: "09:00", Duration: 30})
	require.NoError(t, err)

	week := v.Records()
	require.Equal(t, []string{"a1", "a2"}, ids(week))
	assert.Equal(t, "2025-03-11", week[0].Date)

	require.NoError(t, v.SetMode(ctx, prefs.ModeDay))
	assert.Equal(t, []string{"a2"}, ids(v.Records()))
}

func TestNewViewRequiresTransport(t *testing.T) {
	_, err := NewView(context.Background(), Options{})
	assert.Error(t, err)
}

func ids(list []appointment.Appointment) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-agenda/internal/appointment"
	"github.com/hackgods/clinic-agenda/internal/transport"
)

// AgendaService is the server-side behaviour behind the action endpoint.
type AgendaService interface {
	ListDay(ctx context.Context, date string) ([]appointment.Appointment, error)
	ListWeek(ctx context.Context, ref string) ([]appointment.Appointment, error)
	ValidateConflict(ctx context.Context, q appointment.ConflictQuery) (appointment.ConflictResult, error)
	CreateAppointment(ctx context.Context, a appointment.Appointment) (*appointment.Appointment, error)
	UpdateAppointment(ctx context.Context, a appointment.Appointment) (*appointment.Appointment, error)
	ChangeStatus(ctx context.Context, id, status string) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id string) (*appointment.Appointment, error)
	Unblock(ctx context.Context, id string) error
	GetPatient(ctx context.Context, id string) (*appointment.Patient, error)
	SearchPatients(ctx context.Context, term string) ([]appointment.Patient, error)
}

type actionFunc func(ctx context.Context, body json.RawMessage) (any, error)

type ActionHandler struct {
	actions map[string]actionFunc
	log     zerolog.Logger
}

func NewActionHandler(svc AgendaService, logger zerolog.Logger) *ActionHandler {
	return &ActionHandler{
		actions: buildActions(svc),
		log:     logger,
	}
}

var errBadPayload = errors.New("bad payload")

func decode[T any](body json.RawMessage) (T, error) {
	var v T
	if len(body) == 0 {
		return v, errBadPayload
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, errBadPayload
	}
	return v, nil
}

func buildActions(svc AgendaService) map[string]actionFunc {
	return map[string]actionFunc{
		transport.ActionListDay: func(ctx context.Context, body json.RawMessage) (any, error) {
			req, err := decode[dateRequest](body)
			if err != nil {
				return nil, err
			}
			return svc.ListDay(ctx, req.Date)
		},
		transport.ActionListWeek: func(ctx context.Context, body json.RawMessage) (any, error) {
			req, err := decode[dateRequest](body)
			if err != nil {
				return nil, err
			}
			return svc.ListWeek(ctx, req.Date)
		},
		transport.ActionValidateConflict: func(ctx context.Context, body json.RawMessage) (any, error) {
			q, err := decode[appointment.ConflictQuery](body)
			if err != nil {
				return nil, err
			}
			return svc.ValidateConflict(ctx, q)
		},
		transport.ActionCreate: func(ctx context.Context, body json.RawMessage) (any, error) {
			a, err := decode[appointment.Appointment](body)
			if err != nil {
				return nil, err
			}
			return svc.CreateAppointment(ctx, a)
		},
		transport.ActionUpdate: func(ctx context.Context, body json.RawMessage) (any, error) {
			a, err := decode[appointment.Appointment](body)
			if err != nil {
				return nil, err
			}
			return svc.UpdateAppointment(ctx, a)
		},
		transport.ActionChangeStatus: func(ctx context.Context, body json.RawMessage) (any, error) {
			req, err := decode[statusRequest](body)
			if err != nil {
				return nil, err
			}
			return svc.ChangeStatus(ctx, req.ID, req.Status)
		},
		transport.ActionCancel: func(ctx context.Context, body json.RawMessage) (any, error) {
			req, err := decode[idRequest](body)
			if err != nil {
				return nil, err
			}
			return svc.CancelAppointment(ctx, req.ID)
		},
		transport.ActionUnblock: func(ctx context.Context, body json.RawMessage) (any, error) {
			req, err := decode[idRequest](body)
			if err != nil {
				return nil, err
			}
			if err := svc.Unblock(ctx, req.ID); err != nil {
				return nil, err
			}
			return okResponse{OK: true}, nil
		},
		transport.ActionGetPatient: func(ctx context.Context, body json.RawMessage) (any, error) {
			req, err := decode[patientRequest](body)
			if err != nil {
				return nil, err
			}
			return svc.GetPatient(ctx, req.PatientID)
		},
		transport.ActionSearchPatients: func(ctx context.Context, body json.RawMessage) (any, error) {
			req, err := decode[searchRequest](body)
			if err != nil {
				return nil, err
			}
			return svc.SearchPatients(ctx, req.Term)
		},
	}
}

// Dispatch serves POST /actions/{action}.
func (h *ActionHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "action")
	action, ok := h.actions[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_action", name)
		return
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	result, err := action(r.Context(), body)
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).
				Str("request_id", GetRequestID(r.Context())).
				Str("action", name).
				Msg("action failed")
		}
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadPayload):
		return http.StatusBadRequest, "invalid_payload"
	case errors.Is(err, appointment.ErrPatientNotFound):
		return http.StatusNotFound, "patient_not_found"
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found"
	case errors.Is(err, appointment.ErrInvalidAppointment),
		errors.Is(err, appointment.ErrInvalidInterval),
		errors.Is(err, appointment.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, appointment.ErrNotBlocked):
		return http.StatusConflict, "not_blocked"
	case errors.Is(err, appointment.ErrMutationInFlight):
		return http.StatusConflict, "mutation_in_flight"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request_aborted"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

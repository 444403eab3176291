package appointment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Canonical status values written by the server. Clients still receive
// legacy free-text values and match them by synonym (see the filter package).
const (
	StatusScheduled  = "agendado"
	StatusInProgress = "em_atendimento"
	StatusCompleted  = "concluido"
	StatusCanceled   = "cancelado"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Patient struct {
	ID        uuid.UUID `json:"idPaciente"`
	Name      string    `json:"nomeCompleto"`
	Phone     string    `json:"telefone,omitempty"`
	Document  string    `json:"cpf,omitempty"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Appointment is the wire shape shared by the server and the agenda views.
type Appointment struct {
	ID          string `json:"id"`
	PatientID   string `json:"idPaciente"`
	PatientName string `json:"nomeCompleto,omitempty"`
	Date        string `json:"data"`
	StartTime   string `json:"horaInicio"`
	Duration    int    `json:"duracaoMinutos"`
	Status      string `json:"status"`
	FitIn       bool   `json:"encaixe"`
	Blocked     bool   `json:"bloqueado,omitempty"`
}

type appointmentWire Appointment

// UnmarshalJSON accepts the legacy "nome" field when "nomeCompleto" is absent.
func (a *Appointment) UnmarshalJSON(data []byte) error {
	var w struct {
		appointmentWire
		LegacyName string `json:"nome"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Appointment(w.appointmentWire)
	if a.PatientName == "" {
		a.PatientName = w.LegacyName
	}
	return nil
}

// Interval returns the half-open [start, end) interval the appointment occupies.
func (a Appointment) Interval() (Interval, error) {
	return NewInterval(a.Date, a.StartTime, a.Duration)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// ConflictQuery asks whether a proposed interval fits on the agenda.
type ConflictQuery struct {
	Date      string `json:"data"`
	StartTime string `json:"horaInicio"`
	Duration  int    `json:"duracaoMinutos"`
	IgnoreID  string `json:"ignorarId,omitempty"`
	FitIn     bool   `json:"encaixe"`
}

type Conflict struct {
	ID          string `json:"id"`
	PatientName string `json:"nomeCompleto,omitempty"`
	StartTime   string `json:"horaInicio"`
	EndTime     string `json:"horaFim"`
}

type ConflictResult struct {
	Feasible  bool       `json:"ok"`
	Conflicts []Conflict `json:"conflitos"`
	Message   string     `json:"mensagem,omitempty"`
}

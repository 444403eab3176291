// Package directory caches patient display data observed in any payload
// so list views can show a name without fetching it again.
package directory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/hackgods/clinic-agenda/internal/appointment"
)

// Upstream payloads are inconsistent about field names. The first
// non-empty alias in each list wins.
var (
	idFields       = []string{"idPaciente", "pacienteId", "patientId"}
	nameFields     = []string{"nomeCompleto", "nome", "nomePaciente"}
	phoneFields    = []string{"telefone", "celular", "phone"}
	documentFields = []string{"cpf", "documento", "document"}

	// A bare "id" names the patient only on patient-shaped records. On an
	// appointment it is the appointment id.
	appointmentFields = []string{"horaInicio", "duracaoMinutos", "encaixe", "bloqueado"}
)

// Entry is the cached summary of one patient.
type Entry struct {
	ID       string `json:"idPaciente"`
	Name     string `json:"nomeCompleto"`
	Phone    string `json:"telefone,omitempty"`
	Document string `json:"cpf,omitempty"`
}

// Cache maps patient id to Entry for the lifetime of the process.
// Entries are never invalidated; a later Put for the same id overwrites.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func New() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

func pick(rec map[string]any, fields []string) string {
	for _, f := range fields {
		v, ok := rec[f]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case json.Number:
			s = t.String()
		case fmt.Stringer:
			s = t.String()
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			s = strconv.Itoa(t)
		case int64:
			s = strconv.FormatInt(t, 10)
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func patientID(rec map[string]any) string {
	if id := pick(rec, idFields); id != "" {
		return id
	}
	for _, f := range appointmentFields {
		if _, ok := rec[f]; ok {
			return ""
		}
	}
	return pick(rec, []string{"id"})
}

// Put records the patient data carried by rec, a patient or an
// appointment payload. It returns false when no patient identifier could
// be extracted.
func (c *Cache) Put(rec map[string]any) bool {
	if rec == nil {
		return false
	}
	id := patientID(rec)
	if id == "" {
		return false
	}
	c.store(Entry{
		ID:       id,
		Name:     pick(rec, nameFields),
		Phone:    pick(rec, phoneFields),
		Document: pick(rec, documentFields),
	})
	return true
}

// PutPatient records a typed patient.
func (c *Cache) PutPatient(p appointment.Patient) {
	c.store(Entry{ID: p.ID.String(), Name: p.Name, Phone: p.Phone, Document: p.Document})
}

// PutAppointment records the patient embedded in a, if it names one.
func (c *Cache) PutAppointment(a appointment.Appointment) {
	if a.PatientID == "" || strings.TrimSpace(a.PatientName) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[a.PatientID]
	e.ID = a.PatientID
	e.Name = strings.TrimSpace(a.PatientName)
	c.entries[a.PatientID] = e
}

func (c *Cache) store(e Entry) {
	c.mu.Lock()
	c.entries[e.ID] = e
	c.mu.Unlock()
}

// ResolveName returns the appointment's own name, else the cached name for
// its patient, else "". It never performs I/O.
func (c *Cache) ResolveName(a *appointment.Appointment) string {
	if a == nil {
		return ""
	}
	if name := strings.TrimSpace(a.PatientName); name != "" {
		return name
	}
	if a.PatientID == "" {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[a.PatientID].Name
}

// Enrich fills PatientName in place for every appointment lacking one and
// returns list. Running it twice changes nothing.
func (c *Cache) Enrich(list []appointment.Appointment) []appointment.Appointment {
	for i := range list {
		if strings.TrimSpace(list[i].PatientName) != "" {
			continue
		}
		if name := c.ResolveName(&list[i]); name != "" {
			list[i].PatientName = name
		}
	}
	return list
}

// Summary returns a copy of the cached entry for id.
func (c *Cache) Summary(id string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return &e, true
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

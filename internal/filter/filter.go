// Package filter matches agenda records against the text and status
// filters typed by the user.
package filter

import (
	"strings"

	"github.com/hackgods/clinic-agenda/internal/appointment"
	"github.com/hackgods/clinic-agenda/internal/textnorm"
)

// Criteria is the raw filter input as typed or as persisted.
type Criteria struct {
	Name   string `json:"nome" yaml:"nome"`
	Status string `json:"status" yaml:"status"`
}

// Normalized holds accent-free, lowercased, trimmed filters.
// An empty field matches everything.
type Normalized struct {
	Term         string `json:"term" yaml:"term"`
	StatusFilter string `json:"statusFilter" yaml:"statusFilter"`
}

func (n Normalized) IsZero() bool { return n.Term == "" && n.StatusFilter == "" }

// NameResolver returns the display name of a record.
type NameResolver func(*appointment.Appointment) string

// Normalize applies textnorm.Normalize to both fields of c.
func Normalize(c Criteria) Normalized {
	return Normalized{
		Term:         textnorm.Normalize(c.Name),
		StatusFilter: textnorm.Normalize(c.Status),
	}
}

// MatchesStatus applies the legacy synonym rules in order; the first
// rule whose trigger appears in statusFilter decides.
func MatchesStatus(value, statusFilter string) bool {
	f := textnorm.Normalize(statusFilter)
	if f == "" {
		return true
	}
	v := textnorm.Normalize(value)

	switch {
	case strings.Contains(f, "concl"):
		return strings.Contains(v, "concl") || strings.Contains(v, "atendid")
	case strings.Contains(f, "agend"):
		return strings.Contains(v, "agend") || strings.Contains(v, "marc")
	case strings.Contains(f, "em atendimento"), strings.Contains(f, "em_atend"), strings.Contains(f, "atend"):
		// "atendido" means completed and must not show under in-progress
		return strings.Contains(v, "em_atend") || strings.Contains(v, "em atend") ||
			(strings.Contains(v, "atend") && !strings.Contains(v, "atendid"))
	default:
		return strings.Contains(v, f)
	}
}

// MatchesRecord reports whether rec passes both filters. A nil record never matches.
func MatchesRecord(rec *appointment.Appointment, term, statusFilter string, resolve NameResolver) bool {
	if rec == nil {
		return false
	}
	if t := textnorm.Normalize(term); t != "" {
		name := rec.PatientName
		if resolve != nil {
			name = resolve(rec)
		}
		if !strings.Contains(textnorm.Normalize(name), t) {
			return false
		}
	}
	return MatchesStatus(rec.Status, statusFilter)
}

// Apply returns the records of list that match n, in order.
func Apply(list []appointment.Appointment, n Normalized, resolve NameResolver) []appointment.Appointment {
	out := make([]appointment.Appointment, 0, len(list))
	for i := range list {
		if MatchesRecord(&list[i], n.Term, n.StatusFilter, resolve) {
			out = append(out, list[i])
		}
	}
	return out
}

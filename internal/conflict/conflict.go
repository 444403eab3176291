// Package conflict asks the agenda server whether a proposed appointment
// overlaps existing ones.
//
// Checking is advisory. When the server cannot answer, Validate reports
// the slot as feasible so booking is never blocked by an outage.
package conflict

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-agenda/internal/appointment"
	"github.com/hackgods/clinic-agenda/internal/transport"
)

// Query is the proposed interval. IgnoreID is the appointment being edited,
// so it is not compared against its own previous version.
type Query = appointment.ConflictQuery

type Result = appointment.ConflictResult

type Checker struct {
	transport transport.Transport
	log       zerolog.Logger
}

func NewChecker(t transport.Transport, logger zerolog.Logger) *Checker {
	return &Checker{transport: t, log: logger}
}

// Validate never returns an error. Transport failures fail open with a
// diagnostic message.
func (c *Checker) Validate(ctx context.Context, q Query) Result {
	var res Result
	err := transport.Do(ctx, c.transport, transport.ActionValidateConflict, q, &res)
	if err != nil {
		return c.failOpen(q, err)
	}
	if res.Conflicts == nil {
		res.Conflicts = []appointment.Conflict{}
	}
	return res
}

func (c *Checker) failOpen(q Query, err error) Result {
	msg := fmt.Sprintf("conflict check unavailable: %v", err)
	if transport.IsCancelled(err) {
		c.log.Debug().Str("date", q.Date).Str("start", q.StartTime).Msg("conflict check cancelled")
	} else {
		c.log.Warn().Err(err).
			Str("date", q.Date).
			Str("start", q.StartTime).
			Int("duration", q.Duration).
			Str("code", transport.CodeOf(err)).
			Msg("conflict check failed, allowing booking")
	}
	return Result{Feasible: true, Conflicts: []appointment.Conflict{}, Message: msg}
}

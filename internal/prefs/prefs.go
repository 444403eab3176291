package prefs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-agenda/internal/filter"
)

// Keys under which the agenda view persists its state.
const (
	KeyViewMode  = "agenda:viewMode"
	KeyFiltersV2 = "agenda:filters:v2"
)

type Mode string

const (
	ModeDay  Mode = "day"
	ModeWeek Mode = "week"
)

func (m Mode) Valid() bool { return m == ModeDay || m == ModeWeek }

type Preferences struct {
	Mode    Mode
	Filters filter.Normalized
}

func Defaults() Preferences {
	return Preferences{Mode: ModeDay}
}

// Load reads preferences from store. Missing or unreadable values fall back
// to defaults and are logged, never returned as errors.
func Load(ctx context.Context, store Store, logger zerolog.Logger) Preferences {
	p := Defaults()

	if v, ok, err := store.Get(ctx, KeyViewMode); err != nil {
		logger.Warn().Err(err).Str("key", KeyViewMode).Msg("failed to read view mode, using default")
	} else if ok {
		if m := Mode(v); m.Valid() {
			p.Mode = m
		} else {
			logger.Warn().Str("key", KeyViewMode).Str("value", v).Msg("ignoring unknown view mode")
		}
	}

	if v, ok, err := store.Get(ctx, KeyFiltersV2); err != nil {
		logger.Warn().Err(err).Str("key", KeyFiltersV2).Msg("failed to read filters, using default")
	} else if ok && v != "" {
		var c filter.Criteria
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			logger.Warn().Err(err).Str("key", KeyFiltersV2).Msg("ignoring corrupt filters")
		} else {
			p.Filters = filter.Normalize(c)
		}
	}

	return p
}

func SaveMode(ctx context.Context, store Store, m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("invalid view mode %q", m)
	}
	return store.Set(ctx, KeyViewMode, string(m))
}

func SaveFilters(ctx context.Context, store Store, c filter.Criteria) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return store.Set(ctx, KeyFiltersV2, string(data))
}

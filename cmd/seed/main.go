package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-agenda/internal/appointment"
	"github.com/hackgods/clinic-agenda/internal/config"
	"github.com/hackgods/clinic-agenda/internal/db"
)

// Free-text statuses as older clients wrote them. The agenda filter has to
// match these by synonym.
var legacyStatuses = []string{
	appointment.StatusScheduled,
	"Agendado",
	"marcado",
	"Em atendimento",
	appointment.StatusInProgress,
	"Concluído",
	"atendido",
	appointment.StatusCompleted,
}

const (
	dayStartHour = 8
	dayEndHour   = 18
	slotMinutes  = 30
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Logger("seed")

	if err := cfg.RequirePostgres(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	patients, err := seedPatients(ctx, pool, faker, logger, 500)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	monday, _ := appointment.WeekRange(time.Now())
	if err := seedWeek(ctx, pool, faker, logger, patients, monday); err != nil {
		logger.Fatal().Err(err).Msg("seed appointments")
	}

	logger.Info().Msg("seed complete")
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, logger zerolog.Logger, count int) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding patients")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, phone, document, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, faker.Name(), faker.Phone(), faker.Numerify("###.###.###-##"))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info().Int("count", len(ids)).Msg("patients seeded")
	return ids, nil
}

// seedWeek fills Monday..Friday with back-to-back slots, a few fit-ins that
// overlap an existing slot and a few blocked slots.
func seedWeek(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, logger zerolog.Logger, patients []uuid.UUID, monday time.Time) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	insert := func(patient *uuid.UUID, date time.Time, start string, minutes int, status string, fitIn, blocked bool) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (id, patient_id, date, start_time, duration_minutes, status, fit_in, blocked, created_at, updated_at)
			VALUES ($1, $2, $3, $4::time, $5, $6, $7, $8, now(), now())
		`, uuid.New(), patient, date, start, minutes, status, fitIn, blocked)
		return err
	}

	total := 0
	for d := 0; d < 5; d++ {
		date := monday.AddDate(0, 0, d)
		for minute := dayStartHour * 60; minute < dayEndHour*60; minute += slotMinutes {
			start := fmt.Sprintf("%02d:%02d", minute/60, minute%60)

			switch roll := faker.Number(1, 100); {
			case roll <= 15:
				continue
			case roll <= 20:
				if err := insert(nil, date, start, slotMinutes, appointment.StatusScheduled, false, true); err != nil {
					return err
				}
			default:
				p := patients[faker.Number(0, len(patients)-1)]
				status := legacyStatuses[faker.Number(0, len(legacyStatuses)-1)]
				if faker.Number(1, 20) == 1 {
					status = appointment.StatusCanceled
				}
				if err := insert(&p, date, start, slotMinutes, status, false, false); err != nil {
					return err
				}

				if faker.Number(1, 10) == 1 {
					fit := patients[faker.Number(0, len(patients)-1)]
					fitStart := fmt.Sprintf("%02d:%02d", minute/60, minute%60+10)
					if err := insert(&fit, date, fitStart, 15, appointment.StatusScheduled, true, false); err != nil {
						return err
					}
					total++
				}
			}
			total++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Int("count", total).Str("week_of", monday.Format(appointment.DateLayout)).Msg("appointments seeded")
	return nil
}

package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-agenda/internal/agenda"
	"github.com/hackgods/clinic-agenda/internal/appointment"
	"github.com/hackgods/clinic-agenda/internal/config"
	"github.com/hackgods/clinic-agenda/internal/directory"
	"github.com/hackgods/clinic-agenda/internal/prefs"
	redisclient "github.com/hackgods/clinic-agenda/internal/redis"
	"github.com/hackgods/clinic-agenda/internal/transport"
)

type SimConfig struct {
	Duration      time.Duration
	Workers       int
	SwitchRatio   float64
	StatusRatio   float64
	ConflictRatio float64
	RecordRatio   float64
	DaySpread     int
}

// OperationMetrics counts outcomes of one kind of agenda operation.
// Applied: the result reached view state. Stale: superseded or cancelled and
// dropped. Rejected: refused locally or by the server lock.
type OperationMetrics struct {
	Total     int64
	Applied   int64
	Stale     int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeStale
	outcomeRejected
	outcomeError
)

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeApplied:
		atomic.AddInt64(&om.Applied, 1)
	case outcomeStale:
		atomic.AddInt64(&om.Stale, 1)
	case outcomeRejected:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	DaySwitch    OperationMetrics
	StatusToggle OperationMetrics
	Conflict     OperationMetrics
	RecordOpen   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	client  transport.Transport
	dir     *directory.Cache
	store   prefs.Store
	log     zerolog.Logger
	metrics Metrics
}

func main() {
	base, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := base.Logger("simulate")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Str("agenda_url", base.AgendaURL).
		Str("prefs_backend", base.PrefsBackend).
		Msg("simulator starting")

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, base)
	if err != nil {
		logger.Fatal().Err(err).Msg("open preference store")
	}
	defer closeStore()

	sim := &Simulator{
		config: cfg,
		client: transport.NewHTTPClient(base.AgendaURL, base.ClientTimeout),
		dir:    directory.New(),
		store:  store,
		log:    logger,
	}

	sim.Run(ctx)
	sim.PrintReport()
}

func openStore(ctx context.Context, cfg config.Config) (prefs.Store, func(), error) {
	switch cfg.PrefsBackend {
	case "file":
		s, err := prefs.NewFileStore(cfg.PrefsPath)
		return s, func() {}, err
	case "redis":
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return nil, nil, err
		}
		return prefs.NewRedisStore(rdb, "simulate", 0), func() { _ = rdb.Close() }, nil
	default:
		return prefs.NewMemoryStore(), func() {}, nil
	}
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		SwitchRatio:   getFloat("SIM_SWITCH_RATIO", 0.4),
		StatusRatio:   getFloat("SIM_STATUS_RATIO", 0.2),
		ConflictRatio: getFloat("SIM_CONFLICT_RATIO", 0.25),
		RecordRatio:   getFloat("SIM_RECORD_RATIO", 0.15),
		DaySpread:     getInt("SIM_DAY_SPREAD", 6),
	}

	total := cfg.SwitchRatio + cfg.StatusRatio + cfg.ConflictRatio + cfg.RecordRatio
	if total > 0 {
		cfg.SwitchRatio /= total
		cfg.StatusRatio /= total
		cfg.ConflictRatio /= total
		cfg.RecordRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.DaySpread < 1 {
		return fmt.Errorf("SIM_DAY_SPREAD must be >= 1")
	}
	return nil
}

func (s *Simulator) Run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.config.Duration)
	defer cancel()

	s.log.Info().Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			if err := s.worker(ctx, workerID); err != nil {
				s.log.Error().Err(err).Int("worker", workerID).Msg("worker stopped")
			}
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

// Each worker behaves like one receptionist with its own agenda screen.
// The directory cache and preference store are shared, as they would be
// between screens of the same client.
func (s *Simulator) worker(ctx context.Context, workerID int) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	opts := agenda.Options{
		Transport: s.client,
		Directory: s.dir,
		Store:     s.store,
		Logger:    s.log.With().Int("worker", workerID).Logger(),
	}

	view, err := agenda.NewView(ctx, opts)
	if err != nil {
		return err
	}
	record, err := agenda.NewRecordView(opts)
	if err != nil {
		return err
	}
	defer record.Close()

	if _, err := view.LoadDay(ctx, time.Now()); err != nil {
		s.log.Warn().Err(err).Msg("initial load failed")
	}

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.SwitchRatio:
			s.doDaySwitch(ctx, rng, view)
		case r < s.config.SwitchRatio+s.config.StatusRatio:
			s.doStatusToggle(ctx, rng, view)
		case r < s.config.SwitchRatio+s.config.StatusRatio+s.config.ConflictRatio:
			s.doConflict(ctx, rng, view)
		default:
			s.doRecordOpen(ctx, rng, view, record)
		}
	}
	return nil
}

func (s *Simulator) randomDay(rng *rand.Rand) time.Time {
	return time.Now().AddDate(0, 0, rng.Intn(s.config.DaySpread))
}

// doDaySwitch fires several day loads at once, as a user clicking through
// dates faster than the server answers. Only the last one may apply.
func (s *Simulator) doDaySwitch(ctx context.Context, rng *rand.Rand, view *agenda.View) {
	clicks := 2 + rng.Intn(3)
	days := make([]time.Time, clicks)
	for i := range days {
		days[i] = s.randomDay(rng)
	}

	var wg sync.WaitGroup
	for _, day := range days {
		wg.Add(1)
		go func(day time.Time) {
			defer wg.Done()
			start := time.Now()
			applied, err := view.LoadDay(ctx, day)
			s.metrics.DaySwitch.Record(time.Since(start), classify(applied, err))
		}(day)
		time.Sleep(time.Duration(rng.Intn(20)) * time.Millisecond)
	}
	wg.Wait()
}

// doStatusToggle double-clicks a status change on one appointment.
func (s *Simulator) doStatusToggle(ctx context.Context, rng *rand.Rand, view *agenda.View) {
	visible := view.Records()
	candidates := make([]appointment.Appointment, 0, len(visible))
	for _, a := range visible {
		if !a.Blocked && a.Status != appointment.StatusCanceled {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return
	}

	target := candidates[rng.Intn(len(candidates))]
	next := appointment.StatusInProgress
	if target.Status == appointment.StatusInProgress {
		next = appointment.StatusCompleted
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			applied, err := view.ChangeStatus(ctx, target.ID, next)
			o := classify(applied, err)
			if err == nil && !applied {
				// the guard refused the second click locally
				o = outcomeRejected
			}
			s.metrics.StatusToggle.Record(time.Since(start), o)
		}()
	}
	wg.Wait()
}

// doConflict validates a random half-hour slot on the selected day.
// Applied counts feasible answers, Rejected infeasible ones.
func (s *Simulator) doConflict(ctx context.Context, rng *rand.Rand, view *agenda.View) {
	day := view.SelectedDate()
	if day.IsZero() {
		day = time.Now()
	}
	q := appointment.ConflictQuery{
		Date:      day.Format(appointment.DateLayout),
		StartTime: fmt.Sprintf("%02d:%02d", 8+rng.Intn(10), 30*rng.Intn(2)),
		Duration:  []int{15, 30, 45, 60}[rng.Intn(4)],
		FitIn:     rng.Float64() < 0.1,
	}

	start := time.Now()
	res := view.ValidateConflict(ctx, q)
	o := outcomeApplied
	if !res.Feasible {
		o = outcomeRejected
	}
	s.metrics.Conflict.Record(time.Since(start), o)
}

// doRecordOpen navigates between two patient records quickly; the first
// fetch is usually cancelled by the second.
func (s *Simulator) doRecordOpen(ctx context.Context, rng *rand.Rand, view *agenda.View, record *agenda.RecordView) {
	var ids []string
	for _, a := range view.Records() {
		if a.PatientID != "" {
			ids = append(ids, a.PatientID)
		}
	}
	if len(ids) == 0 {
		return
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		id := ids[rng.Intn(len(ids))]
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			applied, err := record.Open(ctx, id)
			s.metrics.RecordOpen.Record(time.Since(start), classify(applied, err))
		}()
		time.Sleep(time.Duration(rng.Intn(10)) * time.Millisecond)
	}
	wg.Wait()
}

func classify(applied bool, err error) outcome {
	switch {
	case err == nil && applied:
		return outcomeApplied
	case err == nil:
		return outcomeStale
	case transport.CodeOf(err) == "mutation_in_flight":
		return outcomeRejected
	default:
		return outcomeError
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("AGENDA SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Directory entries: %d\n", s.dir.Len())
	fmt.Println()

	printOperationReport("Day switch", &s.metrics.DaySwitch)
	printOperationReport("Status double click", &s.metrics.StatusToggle)
	printOperationReport("Conflict check", &s.metrics.Conflict)
	printOperationReport("Record open", &s.metrics.RecordOpen)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	applied := atomic.LoadInt64(&om.Applied)
	stale := atomic.LoadInt64(&om.Stale)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Applied: %d (%.1f%%)\n", applied, pct(applied))
	if stale > 0 {
		fmt.Printf("  Stale/cancelled: %d (%.1f%%)\n", stale, pct(stale))
	}
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, pct(rejected))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

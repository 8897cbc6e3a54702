package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/noctua-health/somnia/internal/config"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/models"
)

const (
	healthCheckInterval = time.Hour
	alertHistorySize    = 50
)

// TierResult is the outcome of the most recent run of one tier.
type TierResult struct {
	Tier     string    `json:"tier"`
	At       time.Time `json:"at"`
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	BackupID string    `json:"backup_id,omitempty"`
}

// HealthStatus is a point-in-time summary of the backup subsystem.
type HealthStatus struct {
	Healthy       bool                 `json:"healthy"`
	LastSuccessAt time.Time            `json:"last_success_at"`
	MaxAge        string               `json:"max_age"`
	TierResults   []TierResult         `json:"tier_results"`
	NextRuns      map[string]time.Time `json:"next_runs,omitempty"`
	TierCounts    map[string]int       `json:"tier_counts"`
	RecentAlerts  []Alert              `json:"recent_alerts"`
}

// Scheduler drives the Grandfather-Father-Son rotation: one ticker per tier,
// an hourly health probe, and a retention sweep after every successful run.
// Tier runs are serialized; if a weekly run fires while a daily one is in
// flight it simply waits.
type Scheduler struct {
	svc      *Service
	cfg      config.Backup
	notifier Notifier
	logger   *logger.Logger

	runMu sync.Mutex // serializes tier runs

	mu       sync.Mutex // guards the fields below
	results  map[string]TierResult
	nextRuns map[string]time.Time
	alerts   []Alert

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler constructs the scheduler. notifier may be nil, in which case
// alerts are only kept in the in-memory history.
func NewScheduler(svc *Service, cfg config.Backup, notifier Notifier, log *logger.Logger) *Scheduler {
	return &Scheduler{
		svc:      svc,
		cfg:      cfg,
		notifier: notifier,
		logger:   log,
		results:  make(map[string]TierResult),
		nextRuns: make(map[string]time.Time),
	}
}

// Start launches the tier tickers and the health probe. It returns
// immediately; Stop shuts everything down.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	tiers := map[string]time.Duration{
		models.BackupTierDaily:   s.cfg.DailyInterval,
		models.BackupTierWeekly:  s.cfg.WeeklyInterval,
		models.BackupTierMonthly: s.cfg.MonthlyInterval,
	}

	var wg sync.WaitGroup
	for tier, interval := range tiers {
		if interval <= 0 {
			continue
		}
		wg.Add(1)
		go func(tier string, interval time.Duration) {
			defer wg.Done()
			s.tierLoop(ctx, tier, interval)
		}(tier, interval)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.healthLoop(ctx)
	}()

	go func() {
		wg.Wait()
		close(s.done)
	}()

	s.logger.Info().Str("func", "Start").Msg("backup scheduler started")
}

// Stop cancels all loops and waits for them to drain.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info().Str("func", "Stop").Msg("backup scheduler stopped")
}

func (s *Scheduler) tierLoop(ctx context.Context, tier string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.setNextRun(tier, time.Now().UTC().Add(interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunTier(ctx, tier)
			s.setNextRun(tier, time.Now().UTC().Add(interval))
		}
	}
}

func (s *Scheduler) setNextRun(tier string, at time.Time) {
	s.mu.Lock()
	s.nextRuns[tier] = at
	s.mu.Unlock()
}

// RunTier takes one snapshot for the tier, records the result, and runs the
// retention sweep. It is also the entry point for operator-triggered runs.
func (s *Scheduler) RunTier(ctx context.Context, tier string) TierResult {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	result := TierResult{Tier: tier, At: time.Now().UTC()}

	record, err := s.svc.Create(ctx, tier)
	if err != nil {
		result.Error = err.Error()
		s.logger.Error().Err(err).Str("func", "RunTier").Str("tier", tier).Msg("snapshot failed")
		s.raiseAlert(ctx, Alert{
			Severity: "error",
			Message:  "backup failed: " + err.Error(),
			Tier:     tier,
			At:       result.At,
		})
	} else {
		result.Success = true
		result.BackupID = record.ID

		if _, err := s.svc.CleanupOldBackups(ctx); err != nil {
			s.logger.Error().Err(err).Str("func", "RunTier").Msg("retention sweep failed")
		}
	}

	s.mu.Lock()
	s.results[tier] = result
	s.mu.Unlock()
	return result
}

// VerifySnapshot checks one snapshot's integrity and raises an alert when
// the check fails, so a corrupted snapshot shows up in health and
// notifications rather than only in the caller's error. Unknown snapshot
// identifiers are the caller's mistake and raise nothing.
func (s *Scheduler) VerifySnapshot(ctx context.Context, id string) error {
	err := s.svc.Verify(ctx, id)
	if err == nil || errors.Is(err, ErrBackupNotFound) {
		return err
	}

	var tier string
	if record, metaErr := s.svc.Metadata().Get(id); metaErr == nil {
		tier = record.Tier
	}
	s.logger.Error().Err(err).Str("func", "VerifySnapshot").Str("id", id).Msg("snapshot verification failed")
	s.raiseAlert(ctx, Alert{
		Severity: "error",
		Message:  "backup verification failed: " + err.Error(),
		Tier:     tier,
		At:       time.Now().UTC(),
	})
	return err
}

func (s *Scheduler) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth(ctx)
		}
	}
}

func (s *Scheduler) checkHealth(ctx context.Context) {
	last, err := s.svc.Metadata().LastSuccessAt()
	if err != nil {
		s.logger.Error().Err(err).Str("func", "checkHealth").Msg("reading backup metadata")
		return
	}

	if last.IsZero() || time.Since(last) <= s.cfg.MaxAge {
		return
	}

	s.raiseAlert(ctx, Alert{
		Severity: "warning",
		Message:  "no successful backup since " + last.Format(time.RFC3339),
		At:       time.Now().UTC(),
	})
}

func (s *Scheduler) raiseAlert(ctx context.Context, alert Alert) {
	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	if len(s.alerts) > alertHistorySize {
		s.alerts = s.alerts[len(s.alerts)-alertHistorySize:]
	}
	s.mu.Unlock()

	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, alert); err != nil {
		s.logger.Error().Err(err).Str("func", "raiseAlert").Msg("delivering alert")
	}
}

// Health reports the scheduler's view of backup freshness alongside recent
// results, per-tier schedule and retention state, and alerts.
func (s *Scheduler) Health() HealthStatus {
	last, err := s.svc.Metadata().LastSuccessAt()
	if err != nil {
		s.logger.Error().Err(err).Str("func", "Health").Msg("reading backup metadata")
	}

	tierCounts := make(map[string]int)
	if records, err := s.svc.Metadata().List(); err == nil {
		for _, record := range records {
			tierCounts[record.Tier]++
		}
	} else {
		s.logger.Error().Err(err).Str("func", "Health").Msg("reading backup metadata")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]TierResult, 0, len(s.results))
	for _, r := range s.results {
		results = append(results, r)
	}
	nextRuns := make(map[string]time.Time, len(s.nextRuns))
	for tier, at := range s.nextRuns {
		nextRuns[tier] = at
	}
	alerts := make([]Alert, len(s.alerts))
	copy(alerts, s.alerts)

	healthy := !last.IsZero() && time.Since(last) <= s.cfg.MaxAge
	if last.IsZero() && len(results) == 0 {
		// Nothing has run yet; not unhealthy, just new.
		healthy = true
	}

	return HealthStatus{
		Healthy:       healthy,
		LastSuccessAt: last,
		MaxAge:        s.cfg.MaxAge.String(),
		TierResults:   results,
		NextRuns:      nextRuns,
		TierCounts:    tierCounts,
		RecentAlerts:  alerts,
	}
}

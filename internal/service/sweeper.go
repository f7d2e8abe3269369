package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/config"
	"github.com/prn-tf/quill/internal/lock"
	"github.com/prn-tf/quill/internal/metrics"
	"github.com/prn-tf/quill/internal/repository"
)

// SecretSweeper clears expired reset tokens, verification tokens and OTPs.
// Expired secrets are already rejected on use; sweeping keeps the digests
// from lingering in storage.
type SecretSweeper struct {
	users   repository.UserRepository
	locker  lock.Locker
	metrics *metrics.Metrics
	logger  zerolog.Logger
	config  SweeperConfig
	now     func() time.Time

	// Control
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// SweeperConfig contains sweeper configuration.
type SweeperConfig struct {
	// Enabled determines if the sweeper runs automatically.
	Enabled bool

	// Interval is how often to sweep.
	Interval time.Duration

	// DryRun counts what would be cleared without clearing it.
	DryRun bool
}

// DefaultSweeperConfig returns sensible defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Enabled:  true,
		Interval: 10 * time.Minute,
	}
}

// SweeperConfigFrom builds a SweeperConfig from the sweeper section.
func SweeperConfigFrom(cfg config.SweeperConfig) SweeperConfig {
	out := SweeperConfig{Enabled: cfg.Enabled, Interval: cfg.Interval, DryRun: cfg.DryRun}
	if out.Interval <= 0 {
		out.Interval = DefaultSweeperConfig().Interval
	}
	return out
}

// NewSecretSweeper creates a new sweeper.
func NewSecretSweeper(
	users repository.UserRepository,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config SweeperConfig,
) *SecretSweeper {
	return &SecretSweeper{
		users:    users,
		locker:   locker,
		metrics:  m,
		logger:   logger.With().Str("service", "sweeper").Logger(),
		config:   config,
		now:      time.Now,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the sweep scheduler.
func (s *SecretSweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().
		Dur("interval", s.config.Interval).
		Bool("dry_run", s.config.DryRun).
		Msg("Starting secret sweeper")

	go s.runLoop()
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *SecretSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	<-s.doneChan

	s.logger.Info().Msg("Secret sweeper stopped")
}

func (s *SecretSweeper) runLoop() {
	defer close(s.doneChan)

	s.RunOnce(context.Background())

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

// SweepResult contains the result of one sweep.
type SweepResult struct {
	// Expired is the number of expired secrets found.
	Expired int64

	// UsersCleared is the number of accounts whose expired secrets were cleared.
	// Zero in dry run mode.
	UsersCleared int64

	// Skipped reports that another instance held the sweep lock.
	Skipped bool

	// Errors is the number of errors encountered.
	Errors int

	// Duration is how long the run took.
	Duration time.Duration
}

// RunOnce executes a single sweep.
// This can be called manually or by the scheduler.
func (s *SecretSweeper) RunOnce(ctx context.Context) SweepResult {
	start := time.Now()
	result := SweepResult{}

	lockKey := lock.Keys.SecretSweep()
	lockTTL := s.config.Interval / 2
	if lockTTL < 5*time.Minute {
		lockTTL = 5 * time.Minute
	}

	acquired, err := s.locker.Acquire(ctx, lockKey, lockTTL)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to acquire sweep lock")
		result.Errors++
		result.Duration = time.Since(start)
		return result
	}
	if !acquired {
		s.logger.Debug().Msg("Sweep lock held by another process, skipping run")
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}
	defer func() {
		if _, err := s.locker.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			s.logger.Error().Err(err).Msg("Failed to release sweep lock")
		}
	}()

	now := s.now().UTC()

	expired, err := s.users.CountExpiredSecrets(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to count expired secrets")
		result.Errors++
		result.Duration = time.Since(start)
		return result
	}
	result.Expired = expired
	if s.metrics != nil {
		s.metrics.SweeperExpiredPending.Set(float64(expired))
	}

	if expired > 0 && s.config.DryRun {
		s.logger.Info().Int64("expired", expired).Msg("[DRY RUN] Would clear expired secrets")
	}

	if expired > 0 && !s.config.DryRun {
		cleared, err := s.users.ClearExpiredSecrets(ctx, now)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to clear expired secrets")
			result.Errors++
		} else {
			result.UsersCleared = cleared
			if s.metrics != nil {
				s.metrics.SweeperExpiredPending.Set(0)
			}
		}
	}

	result.Duration = time.Since(start)
	s.metrics.RecordSweep(result.Duration.Seconds(), result.UsersCleared)

	s.logger.Info().
		Int64("expired", result.Expired).
		Int64("users_cleared", result.UsersCleared).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("Secret sweep completed")

	return result
}

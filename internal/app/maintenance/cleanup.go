package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/authcore/internal/models"
	"github.com/charlesng35/authcore/pkg/logger"
	"github.com/charlesng35/authcore/pkg/metrics"
)

const defaultTokenSpec = "@daily"

// Cleaner coordinates background maintenance tasks. Today that is purging
// action tokens that can no longer be redeemed.
type Cleaner struct {
	db        *gorm.DB
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention time.Duration

	tokenSchedule string

	mu       sync.Mutex
	lastRun  time.Time
	failures int
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling and cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithTokenSchedule overrides the cron specification for token cleanup.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// WithConsumedRetention keeps consumed tokens for d after consumption before
// they are purged.
func WithConsumedRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retention = d
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(db *gorm.DB, opts ...Option) (*Cleaner, error) {
	if db == nil {
		return nil, errors.New("maintenance: db is required")
	}

	cleaner := &Cleaner{
		db:            db,
		now:           time.Now,
		tokenSchedule: defaultTokenSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner, nil
}

// Start registers cleanup jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if _, err := c.cron.AddFunc(c.tokenSchedule, func() {
		stats, err := c.purge(context.Background())
		if err != nil {
			c.log.Warn("token cleanup failed", zap.Error(err))
			return
		}
		c.log.Info("token cleanup complete",
			zap.Int64("expired", stats.Expired),
			zap.Int64("consumed", stats.Consumed),
		)
	}); err != nil {
		return fmt.Errorf("maintenance: schedule token cleanup: %w", err)
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once
// running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all cleanup routines sequentially. Used in tests and
// during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := c.purge(ctx)
	return err
}

func (c *Cleaner) purge(ctx context.Context) (TokenCleanupStats, error) {
	now := c.now()
	stats, err := PurgeActionTokens(ctx, c.db, now, c.retention)

	c.mu.Lock()
	c.lastRun = now
	if err != nil {
		c.failures++
	} else {
		c.failures = 0
	}
	c.mu.Unlock()

	return stats, err
}

// LastRun reports when the purge last ran and how many runs in a row have
// failed. The time is zero before the first run.
func (c *Cleaner) LastRun() (time.Time, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun, c.failures
}

// TokenCleanupStats captures the number of action tokens removed per reason.
type TokenCleanupStats struct {
	Expired  int64
	Consumed int64
}

// Total returns the number of rows removed.
func (s TokenCleanupStats) Total() int64 {
	return s.Expired + s.Consumed
}

// PurgeActionTokens removes action tokens that expired before now and tokens
// consumed more than retention ago. Both deletes run even if one fails.
func PurgeActionTokens(ctx context.Context, db *gorm.DB, now time.Time, retention time.Duration) (TokenCleanupStats, error) {
	if db == nil {
		return TokenCleanupStats{}, errors.New("cleanup tokens: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		stats TokenCleanupStats
		errs  error
	)

	if result := db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.ActionToken{}); result.Error != nil {
		errs = multierr.Append(errs, fmt.Errorf("cleanup tokens: expired: %w", result.Error))
	} else {
		stats.Expired = result.RowsAffected
	}

	if result := db.WithContext(ctx).
		Where("consumed_at IS NOT NULL AND consumed_at <= ?", now.Add(-retention)).
		Delete(&models.ActionToken{}); result.Error != nil {
		errs = multierr.Append(errs, fmt.Errorf("cleanup tokens: consumed: %w", result.Error))
	} else {
		stats.Consumed = result.RowsAffected
	}

	metrics.PurgedTokens.Add(float64(stats.Total()))
	return stats, errs
}

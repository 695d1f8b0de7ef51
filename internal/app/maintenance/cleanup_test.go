package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/charlesng35/authcore/internal/database/testutil"
	"github.com/charlesng35/authcore/internal/models"
	"github.com/charlesng35/authcore/pkg/crypto"
)

func seedToken(t *testing.T, db *gorm.DB, expiresAt time.Time, consumedAt *time.Time) *models.ActionToken {
	t.Helper()

	token := &models.ActionToken{
		UserID:     uuid.NewString(),
		Purpose:    models.PurposeResetPassword,
		TokenHash:  crypto.HashToken(uuid.NewString()),
		ExpiresAt:  expiresAt,
		ConsumedAt: consumedAt,
	}
	require.NoError(t, db.Create(token).Error)
	return token
}

func TestPurgeActionTokens(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)
	consumed := now.Add(-2 * time.Hour)

	expired := seedToken(t, db, now.Add(-time.Hour), nil)
	used := seedToken(t, db, now.Add(time.Hour), &consumed)
	active := seedToken(t, db, now.Add(time.Hour), nil)

	stats, err := PurgeActionTokens(context.Background(), db, now, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Expired)
	require.Equal(t, int64(1), stats.Consumed)
	require.Equal(t, int64(2), stats.Total())

	assertGone := func(id string) {
		var token models.ActionToken
		require.ErrorIs(t, db.First(&token, "id = ?", id).Error, gorm.ErrRecordNotFound)
	}
	assertGone(expired.ID)
	assertGone(used.ID)

	var remaining models.ActionToken
	require.NoError(t, db.First(&remaining, "id = ?", active.ID).Error)
}

func TestPurgeActionTokensHonoursRetention(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)
	old := now.Add(-48 * time.Hour)

	keep := seedToken(t, db, now.Add(time.Hour), &recent)
	drop := seedToken(t, db, now.Add(time.Hour), &old)

	stats, err := PurgeActionTokens(context.Background(), db, now, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Consumed)

	var token models.ActionToken
	require.NoError(t, db.First(&token, "id = ?", keep.ID).Error)
	require.ErrorIs(t, db.First(&token, "id = ?", drop.ID).Error, gorm.ErrRecordNotFound)
}

func TestPurgeActionTokensRequiresDB(t *testing.T) {
	_, err := PurgeActionTokens(context.Background(), nil, time.Now(), 0)
	require.Error(t, err)

	_, err = NewCleaner(nil)
	require.Error(t, err)
}

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := fixedClock{current: time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)}

	seedToken(t, db, clock.Now().Add(-time.Hour), nil)
	seedToken(t, db, clock.Now().Add(time.Hour), nil)

	c, err := NewCleaner(db,
		WithNow(clock.Now),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)
	require.NoError(t, err)

	require.NoError(t, c.RunOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.ActionToken{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestCleanerStartRejectsBadSchedule(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	c, err := NewCleaner(db, WithTokenSchedule("not a schedule"))
	require.NoError(t, err)
	require.Error(t, c.Start())
}

func TestCleanerStartStop(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	c, err := NewCleaner(db, WithTokenSchedule("@every 1h"))
	require.NoError(t, err)
	require.NoError(t, c.Start())

	select {
	case <-c.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("cleaner did not stop")
	}
}

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}

func TestCleanerTracksLastRun(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)

	cleaner, err := NewCleaner(db, WithNow(func() time.Time { return now }))
	require.NoError(t, err)

	at, failures := cleaner.LastRun()
	require.True(t, at.IsZero())
	require.Zero(t, failures)

	require.NoError(t, cleaner.RunOnce(context.Background()))
	at, failures = cleaner.LastRun()
	require.Equal(t, now, at)
	require.Zero(t, failures)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	require.Error(t, cleaner.RunOnce(context.Background()))
	_, failures = cleaner.LastRun()
	require.Equal(t, 1, failures)
}

package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/authcore/internal/database/testutil"
	"github.com/charlesng35/authcore/internal/models"
	"github.com/charlesng35/authcore/pkg/crypto"
)

type tokenFixture struct {
	db      *gorm.DB
	svc     *ActionTokenService
	current time.Time
	mu      sync.Mutex
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()

	f := &tokenFixture{
		db:      testutil.MustOpenTestDB(t, testutil.WithAutoMigrate()),
		current: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	svc, err := NewActionTokenService(f.db, WithActionTokenClock(f.now))
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *tokenFixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *tokenFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

func TestNewActionTokenServiceRequiresDB(t *testing.T) {
	_, err := NewActionTokenService(nil)
	require.EqualError(t, err, "action token service: db is required")
}

func TestActionTokenIssueStoresOnlyHash(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	value, err := f.svc.Issue(ctx, "user-1", models.PurposeVerifyEmail, time.Hour)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(value), 43)

	var stored models.ActionToken
	require.NoError(t, f.db.First(&stored).Error)
	require.Equal(t, crypto.HashToken(value), stored.TokenHash)
	require.NotContains(t, stored.TokenHash, value)
	require.Equal(t, "user-1", stored.UserID)
	require.True(t, stored.ExpiresAt.Equal(f.now().Add(time.Hour)))
	require.Nil(t, stored.ConsumedAt)
}

func TestActionTokenIssueValidatesInput(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, "", models.PurposeVerifyEmail, time.Hour)
	require.Error(t, err)
	_, err = f.svc.Issue(ctx, "user-1", models.TokenPurpose("login"), time.Hour)
	require.Error(t, err)
	_, err = f.svc.Issue(ctx, "user-1", models.PurposeVerifyEmail, 0)
	require.Error(t, err)
}

func TestActionTokenValuesAreUnique(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		value, err := f.svc.Issue(ctx, "user-1", models.PurposeResetPassword, time.Hour)
		require.NoError(t, err)
		_, dup := seen[value]
		require.False(t, dup)
		seen[value] = struct{}{}
	}
}

func TestActionTokenConsumeOnce(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	value, err := f.svc.Issue(ctx, "user-1", models.PurposeResetPassword, time.Hour)
	require.NoError(t, err)

	userID, err := f.svc.Consume(ctx, value, models.PurposeResetPassword)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)

	_, err = f.svc.Consume(ctx, value, models.PurposeResetPassword)
	require.ErrorIs(t, err, ErrInvalidToken)

	var stored models.ActionToken
	require.NoError(t, f.db.First(&stored).Error)
	require.NotNil(t, stored.ConsumedAt)
}

func TestActionTokenConsumeRejects(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	value, err := f.svc.Issue(ctx, "user-1", models.PurposeVerifyEmail, time.Hour)
	require.NoError(t, err)

	_, err = f.svc.Consume(ctx, "", models.PurposeVerifyEmail)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.Consume(ctx, "unknown-value", models.PurposeVerifyEmail)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.Consume(ctx, value, models.PurposeResetPassword)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Wrong purpose does not burn the token.
	userID, err := f.svc.Consume(ctx, value, models.PurposeVerifyEmail)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)
}

func TestActionTokenExpires(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	value, err := f.svc.Issue(ctx, "user-1", models.PurposeResetPassword, time.Hour)
	require.NoError(t, err)

	f.advance(time.Hour)

	_, err = f.svc.Consume(ctx, value, models.PurposeResetPassword)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestActionTokenConcurrentConsumeSucceedsOnce(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	value, err := f.svc.Issue(ctx, "user-1", models.PurposeResetPassword, time.Hour)
	require.NoError(t, err)

	const attempts = 100
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		invalid   int
		other     []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Consume(ctx, value, models.PurposeResetPassword)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case err == ErrInvalidToken:
				invalid++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, other)
	require.Equal(t, 1, successes)
	require.Equal(t, attempts-1, invalid)
}

func TestActionTokenCountAndRevoke(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Issue(ctx, "user-1", models.PurposeResetPassword, time.Hour)
		require.NoError(t, err)
	}
	_, err := f.svc.Issue(ctx, "user-1", models.PurposeVerifyEmail, time.Hour)
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, "user-2", models.PurposeResetPassword, time.Hour)
	require.NoError(t, err)

	count, err := f.svc.CountActive(ctx, "user-1", models.PurposeResetPassword)
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	revoked, err := f.svc.RevokeOutstanding(ctx, "user-1", models.PurposeResetPassword)
	require.NoError(t, err)
	require.EqualValues(t, 3, revoked)

	count, err = f.svc.CountActive(ctx, "user-1", models.PurposeResetPassword)
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = f.svc.CountActive(ctx, "user-1", models.PurposeVerifyEmail)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, err = f.svc.CountActive(ctx, "user-2", models.PurposeResetPassword)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

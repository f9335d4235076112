package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/timebank/backend/internal/config"
	"github.com/timebank/backend/internal/models"
)

func expectLockPeriod(mock sqlmock.Sqlmock, p *models.RewardPeriod) {
	mock.ExpectQuery("SELECT id, started_at, pool_amount, participant_count, finalized\\s+FROM reward_periods WHERE id = \\$1 FOR UPDATE").
		WithArgs(p.ID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "started_at", "pool_amount", "participant_count", "finalized"}).
			AddRow(p.ID, p.StartedAt, p.PoolAmount, p.ParticipantCount, p.Finalized))
}

func openPeriod(pool int64) *models.RewardPeriod {
	return &models.RewardPeriod{
		ID:         2,
		StartedAt:  time.Now().UTC().Add(-7 * 24 * time.Hour),
		PoolAmount: pool,
	}
}

func TestRewardsService_StartNewPeriod(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewLedgerService(db, NewEventPublisher(nil))
	service := NewRewardsService(db, ledger, NewEventPublisher(nil))
	ctx := context.Background()

	t.Run("requires admin", func(t *testing.T) {
		_, err := service.StartNewPeriod(ctx, "alice")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("successful start", func(t *testing.T) {
		mock.ExpectBegin()
		expectPausedCheck(mock, false)

		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM reward_periods WHERE finalized = false\\)").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectQuery("UPDATE counters SET value = value \\+ 1 WHERE name = \\$1 RETURNING value").
			WithArgs("reward_periods").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(2))

		mock.ExpectExec("INSERT INTO reward_periods").
			WithArgs(int64(2), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		period, err := service.StartNewPeriod(ctx, "timebank-admin")
		assert.NoError(t, err)
		assert.Equal(t, int64(2), period.ID)
		assert.False(t, period.Finalized)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("previous period still open", func(t *testing.T) {
		mock.ExpectBegin()
		expectPausedCheck(mock, false)

		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM reward_periods WHERE finalized = false\\)").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		mock.ExpectRollback()

		_, err := service.StartNewPeriod(ctx, "timebank-admin")
		assert.ErrorIs(t, err, models.ErrPeriodNotFinalized)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRewardsService_ContributeToPool(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewLedgerService(db, NewEventPublisher(nil))
	service := NewRewardsService(db, ledger, NewEventPublisher(nil))
	ctx := context.Background()

	t.Run("contribution debits contributor and grows pool", func(t *testing.T) {
		p := openPeriod(300)

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockPeriod(mock, p)

		expectLockAccount(mock, "carol", 600, true, 1)

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "carol", int64(-500), "DEBIT", int64(100), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts SET credit_balance = \\$1").
			WithArgs(int64(100), sqlmock.AnyArg(), "carol", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE reward_periods SET pool_amount = pool_amount \\+ \\$1 WHERE id = \\$2").
			WithArgs(int64(500), p.ID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO pool_contributions").
			WithArgs(p.ID, "carol", int64(500)).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		err := service.ContributeToPool(ctx, "carol", p.ID, 500)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("contribution to finalized period", func(t *testing.T) {
		p := openPeriod(800)
		p.Finalized = true

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockPeriod(mock, p)
		mock.ExpectRollback()

		err := service.ContributeToPool(ctx, "carol", p.ID, 100)
		assert.ErrorIs(t, err, models.ErrPeriodFinalized)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		p := openPeriod(0)

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockPeriod(mock, p)
		expectLockAccount(mock, "carol", 50, true, 1)
		mock.ExpectRollback()

		err := service.ContributeToPool(ctx, "carol", p.ID, 500)
		assert.ErrorIs(t, err, models.ErrInsufficientCredits)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRewardsService_RegisterActivity(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewLedgerService(db, NewEventPublisher(nil))
	service := NewRewardsService(db, ledger, NewEventPublisher(nil))
	ctx := context.Background()

	t.Run("requires admin", func(t *testing.T) {
		_, err := service.RegisterActivity(ctx, "alice", "bob", 2, 300)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("score below eligibility floor", func(t *testing.T) {
		_, err := service.RegisterActivity(ctx, "timebank-admin", "bob", 2, 5)
		assert.ErrorIs(t, err, models.ErrNotEligible)
	})

	t.Run("gold tier registration", func(t *testing.T) {
		p := openPeriod(800)

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockPeriod(mock, p)

		mock.ExpectQuery("SELECT is_active FROM accounts WHERE principal = \\$1").
			WithArgs("bob").
			WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(true))

		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM activity_records WHERE period_id = \\$1 AND user_principal = \\$2\\)").
			WithArgs(p.ID, "bob").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectExec("INSERT INTO activity_records").
			WithArgs(p.ID, "bob", int64(600), "GOLD").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE reward_periods SET participant_count = participant_count \\+ 1 WHERE id = \\$1").
			WithArgs(p.ID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		record, err := service.RegisterActivity(ctx, "timebank-admin", "bob", p.ID, 600)
		assert.NoError(t, err)
		assert.Equal(t, models.TierGold, record.Tier)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("re-registration does not double count", func(t *testing.T) {
		p := openPeriod(800)

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockPeriod(mock, p)

		mock.ExpectQuery("SELECT is_active FROM accounts WHERE principal = \\$1").
			WithArgs("bob").
			WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(true))

		mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM activity_records WHERE period_id = \\$1 AND user_principal = \\$2\\)").
			WithArgs(p.ID, "bob").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		mock.ExpectExec("INSERT INTO activity_records").
			WithArgs(p.ID, "bob", int64(1200), "PLATINUM").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		record, err := service.RegisterActivity(ctx, "timebank-admin", "bob", p.ID, 1200)
		assert.NoError(t, err)
		assert.Equal(t, models.TierPlatinum, record.Tier)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRewardsService_FinalizePeriod(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewLedgerService(db, NewEventPublisher(nil))
	service := NewRewardsService(db, ledger, NewEventPublisher(nil))
	ctx := context.Background()

	t.Run("pool split by tier weight", func(t *testing.T) {
		p := openPeriod(800)
		p.ParticipantCount = 2

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockPeriod(mock, p)

		mock.ExpectQuery("SELECT user_principal, tier FROM activity_records WHERE period_id = \\$1 ORDER BY user_principal").
			WithArgs(p.ID).
			WillReturnRows(sqlmock.NewRows([]string{"user_principal", "tier"}).
				AddRow("alice", "GOLD").
				AddRow("bob", "SILVER"))

		// totalWeight = 3 + 2; alice gets 800*3/5, bob gets 800*2/5
		mock.ExpectExec("INSERT INTO user_rewards").
			WithArgs(p.ID, "alice", int64(480)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO user_rewards").
			WithArgs(p.ID, "bob", int64(320)).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE reward_periods SET finalized = true WHERE id = \\$1").
			WithArgs(p.ID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		period, err := service.FinalizePeriod(ctx, "timebank-admin", p.ID)
		assert.NoError(t, err)
		assert.True(t, period.Finalized)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second finalize rejected", func(t *testing.T) {
		p := openPeriod(800)
		p.Finalized = true

		mock.ExpectBegin()
		expectPausedCheck(mock, false)
		expectLockPeriod(mock, p)
		mock.ExpectRollback()

		_, err := service.FinalizePeriod(ctx, "timebank-admin", p.ID)
		assert.ErrorIs(t, err, models.ErrPeriodFinalized)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRewardsService_ClaimReward(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewLedgerService(db, NewEventPublisher(nil))
	service := NewRewardsService(db, ledger, NewEventPublisher(nil))
	ctx := context.Background()

	t.Run("successful claim", func(t *testing.T) {
		mock.ExpectBegin()
		expectPausedCheck(mock, false)

		mock.ExpectQuery("SELECT finalized FROM reward_periods WHERE id = \\$1").
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"finalized"}).AddRow(true))

		mock.ExpectQuery("SELECT amount, claimed FROM user_rewards WHERE period_id = \\$1 AND user_principal = \\$2 FOR UPDATE").
			WithArgs(int64(2), "alice").
			WillReturnRows(sqlmock.NewRows([]string{"amount", "claimed"}).AddRow(480, false))

		expectLockAccount(mock, "alice", 20, true, 5)

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "alice", int64(480), "CREDIT", int64(500), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts SET credit_balance = \\$1").
			WithArgs(int64(500), sqlmock.AnyArg(), "alice", 5).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE user_rewards SET claimed = true WHERE period_id = \\$1 AND user_principal = \\$2").
			WithArgs(int64(2), "alice").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE accounts SET lifetime_rewards = lifetime_rewards \\+ \\$1 WHERE principal = \\$2").
			WithArgs(int64(480), "alice").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		amount, err := service.ClaimReward(ctx, "alice", 2)
		assert.NoError(t, err)
		assert.Equal(t, int64(480), amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second claim rejected", func(t *testing.T) {
		mock.ExpectBegin()
		expectPausedCheck(mock, false)

		mock.ExpectQuery("SELECT finalized FROM reward_periods WHERE id = \\$1").
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"finalized"}).AddRow(true))

		mock.ExpectQuery("SELECT amount, claimed FROM user_rewards WHERE period_id = \\$1 AND user_principal = \\$2 FOR UPDATE").
			WithArgs(int64(2), "alice").
			WillReturnRows(sqlmock.NewRows([]string{"amount", "claimed"}).AddRow(480, true))

		mock.ExpectRollback()

		_, err := service.ClaimReward(ctx, "alice", 2)
		assert.ErrorIs(t, err, models.ErrAlreadyClaimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("claim before finalization", func(t *testing.T) {
		mock.ExpectBegin()
		expectPausedCheck(mock, false)

		mock.ExpectQuery("SELECT finalized FROM reward_periods WHERE id = \\$1").
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"finalized"}).AddRow(false))

		mock.ExpectRollback()

		_, err := service.ClaimReward(ctx, "alice", 2)
		assert.ErrorIs(t, err, models.ErrPeriodNotFinalized)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no reward computed", func(t *testing.T) {
		mock.ExpectBegin()
		expectPausedCheck(mock, false)

		mock.ExpectQuery("SELECT finalized FROM reward_periods WHERE id = \\$1").
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"finalized"}).AddRow(true))

		mock.ExpectQuery("SELECT amount, claimed FROM user_rewards WHERE period_id = \\$1 AND user_principal = \\$2 FOR UPDATE").
			WithArgs(int64(2), "mallory").
			WillReturnRows(sqlmock.NewRows([]string{"amount", "claimed"}))

		mock.ExpectRollback()

		_, err := service.ClaimReward(ctx, "mallory", 2)
		assert.ErrorIs(t, err, models.ErrNotEligible)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTierFor(t *testing.T) {
	service := &RewardsService{policy: config.LoadPolicyConfig()}

	assert.Equal(t, models.TierBronze, service.tierFor(10))
	assert.Equal(t, models.TierSilver, service.tierFor(200))
	assert.Equal(t, models.TierGold, service.tierFor(500))
	assert.Equal(t, models.TierPlatinum, service.tierFor(1000))
}

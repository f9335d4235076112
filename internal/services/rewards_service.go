package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/timebank/backend/internal/audit"
	"github.com/timebank/backend/internal/config"
	"github.com/timebank/backend/internal/metrics"
	"github.com/timebank/backend/internal/models"
)

// Tier weights used when a finalized pool is split across participants.
const (
	weightBronze   = 1
	weightSilver   = 2
	weightGold     = 3
	weightPlatinum = 5
)

// RewardsService runs periodic reward cycles. Contributors fund the open
// period's pool out of their own balances, participants earn a tier from
// registered activity, and finalization splits the pool by tier weight.
// Rewards are claimable exactly once.
type RewardsService struct {
	db     *sql.DB
	ledger CreditLedger
	audit  *audit.Logger
	events *EventPublisher
	policy *config.PolicyConfig
}

func NewRewardsService(db *sql.DB, ledger CreditLedger, events *EventPublisher) *RewardsService {
	return &RewardsService{
		db:     db,
		ledger: ledger,
		audit:  audit.NewLogger(),
		events: events,
		policy: config.LoadPolicyConfig(),
	}
}

// StartNewPeriod opens a new reward period. Admin only; the previous period
// must already be finalized.
func (s *RewardsService) StartNewPeriod(ctx context.Context, caller string) (*models.RewardPeriod, error) {
	if caller != s.policy.AdminPrincipal {
		return nil, models.ErrUnauthorized
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return nil, err
	}

	var open bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM reward_periods WHERE finalized = false)`).Scan(&open); err != nil {
		return nil, err
	}
	if open {
		return nil, models.ErrPeriodNotFinalized
	}

	id, err := nextID(tx, "reward_periods")
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO reward_periods (id, started_at, pool_amount, participant_count, finalized)
		VALUES ($1, $2, 0, 0, false)`, id, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[REWARDS] Period %d started", id)
	metrics.OperationsTotal.WithLabelValues("rewards", "start_period").Inc()
	s.events.Publish(ctx, "rewards", "period", fmt.Sprintf("%d", id), "STARTED", caller)

	return &models.RewardPeriod{ID: id, StartedAt: now}, nil
}

// ContributeToPool debits the contributor and grows the open period's pool.
// A zero periodID targets the current open period.
func (s *RewardsService) ContributeToPool(ctx context.Context, contributor string, periodID, amount int64) error {
	if amount <= 0 {
		return models.ErrInvalidParams
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return err
	}

	period, err := lockRewardPeriod(tx, periodID)
	if err != nil {
		return err
	}
	if period.Finalized {
		return models.ErrPeriodFinalized
	}

	referenceID := uuid.NewString()
	if err := s.ledger.DebitTx(tx, contributor, amount, referenceID, now); err != nil {
		return err
	}

	_, err = tx.Exec(`UPDATE reward_periods SET pool_amount = pool_amount + $1 WHERE id = $2`, amount, period.ID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO pool_contributions (period_id, contributor, amount) VALUES ($1, $2, $3)
		ON CONFLICT (period_id, contributor) DO UPDATE SET amount = pool_contributions.amount + $3`,
		period.ID, contributor, amount)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.audit.LogTransfer(referenceID, contributor, fmt.Sprintf("pool:%d", period.ID), amount, "CONTRIBUTED")
	metrics.OperationsTotal.WithLabelValues("rewards", "contribute").Inc()
	s.events.Publish(ctx, "rewards", "contribution", fmt.Sprintf("%d", period.ID), "RECORDED", contributor)
	return nil
}

// RegisterActivity records a user's activity score for the open period and
// derives their tier. Admin only; scores below the eligibility floor are
// rejected. Re-registering updates the score without double-counting the
// participant.
func (s *RewardsService) RegisterActivity(ctx context.Context, caller, userPrincipal string, periodID, activityScore int64) (*models.ActivityRecord, error) {
	if caller != s.policy.AdminPrincipal {
		return nil, models.ErrUnauthorized
	}
	if activityScore < s.policy.MinActivityScore {
		return nil, models.ErrNotEligible
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return nil, err
	}

	period, err := lockRewardPeriod(tx, periodID)
	if err != nil {
		return nil, err
	}
	if period.Finalized {
		return nil, models.ErrPeriodFinalized
	}

	var active bool
	err = tx.QueryRow(`SELECT is_active FROM accounts WHERE principal = $1`, userPrincipal).Scan(&active)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, models.ErrUserInactive
	}

	tier := s.tierFor(activityScore)

	var existed bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM activity_records WHERE period_id = $1 AND user_principal = $2)`, period.ID, userPrincipal).Scan(&existed); err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO activity_records (period_id, user_principal, activity_score, tier) VALUES ($1, $2, $3, $4)
		ON CONFLICT (period_id, user_principal) DO UPDATE SET activity_score = $3, tier = $4`,
		period.ID, userPrincipal, activityScore, tier)
	if err != nil {
		return nil, err
	}

	if !existed {
		_, err = tx.Exec(`UPDATE reward_periods SET participant_count = participant_count + 1 WHERE id = $1`, period.ID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	metrics.OperationsTotal.WithLabelValues("rewards", "register_activity").Inc()
	return &models.ActivityRecord{
		PeriodID:      period.ID,
		UserPrincipal: userPrincipal,
		ActivityScore: activityScore,
		Tier:          tier,
	}, nil
}

// FinalizePeriod freezes the open period and computes each participant's
// reward as poolAmount * tierWeight / totalWeight, integer division. Any
// remainder stays in the pool row and is never distributed.
func (s *RewardsService) FinalizePeriod(ctx context.Context, caller string, periodID int64) (*models.RewardPeriod, error) {
	if caller != s.policy.AdminPrincipal {
		return nil, models.ErrUnauthorized
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return nil, err
	}

	period, err := lockRewardPeriod(tx, periodID)
	if err != nil {
		return nil, err
	}
	if period.Finalized {
		return nil, models.ErrPeriodFinalized
	}

	rows, err := tx.Query(`SELECT user_principal, tier FROM activity_records WHERE period_id = $1 ORDER BY user_principal`, period.ID)
	if err != nil {
		return nil, err
	}

	type participant struct {
		principal string
		weight    int64
	}
	var participants []participant
	var totalWeight int64
	for rows.Next() {
		var principal, tier string
		if err := rows.Scan(&principal, &tier); err != nil {
			rows.Close()
			return nil, err
		}
		weight := tierWeight(tier)
		participants = append(participants, participant{principal: principal, weight: weight})
		totalWeight += weight
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if totalWeight > 0 {
		for _, p := range participants {
			reward := period.PoolAmount * p.weight / totalWeight
			if reward == 0 {
				continue
			}
			_, err = tx.Exec(`INSERT INTO user_rewards (period_id, user_principal, amount, claimed) VALUES ($1, $2, $3, false)`,
				period.ID, p.principal, reward)
			if err != nil {
				return nil, err
			}
		}
	}

	if _, err := tx.Exec(`UPDATE reward_periods SET finalized = true WHERE id = $1`, period.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	period.Finalized = true
	log.Printf("[REWARDS] Period %d finalized: pool=%d participants=%d", period.ID, period.PoolAmount, len(participants))
	metrics.OperationsTotal.WithLabelValues("rewards", "finalize_period").Inc()
	s.events.Publish(ctx, "rewards", "period", fmt.Sprintf("%d", period.ID), "FINALIZED", caller)
	return period, nil
}

// ClaimReward pays out a computed reward once. The amount moves from the
// pool into the claimant's balance and lifetime rewards total.
func (s *RewardsService) ClaimReward(ctx context.Context, caller string, periodID int64) (int64, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return 0, err
	}

	var finalized bool
	err = tx.QueryRow(`SELECT finalized FROM reward_periods WHERE id = $1`, periodID).Scan(&finalized)
	if err == sql.ErrNoRows {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if !finalized {
		return 0, models.ErrPeriodNotFinalized
	}

	var amount int64
	var claimed bool
	err = tx.QueryRow(`SELECT amount, claimed FROM user_rewards WHERE period_id = $1 AND user_principal = $2 FOR UPDATE`,
		periodID, caller).Scan(&amount, &claimed)
	if err == sql.ErrNoRows {
		return 0, models.ErrNotEligible
	}
	if err != nil {
		return 0, err
	}
	if claimed {
		return 0, models.ErrAlreadyClaimed
	}

	referenceID := uuid.NewString()
	if err := s.ledger.CreditTx(tx, caller, amount, referenceID, now); err != nil {
		return 0, err
	}

	_, err = tx.Exec(`UPDATE user_rewards SET claimed = true WHERE period_id = $1 AND user_principal = $2`, periodID, caller)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(`UPDATE accounts SET lifetime_rewards = lifetime_rewards + $1 WHERE principal = $2`, amount, caller)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.audit.LogTransfer(referenceID, fmt.Sprintf("pool:%d", periodID), caller, amount, "CLAIMED")
	metrics.OperationsTotal.WithLabelValues("rewards", "claim").Inc()
	s.events.Publish(ctx, "rewards", "reward", fmt.Sprintf("%d", periodID), "CLAIMED", caller)
	return amount, nil
}

// GetCurrentPeriod returns the open period, if one exists.
func (s *RewardsService) GetCurrentPeriod(ctx context.Context) (*models.RewardPeriod, error) {
	period := &models.RewardPeriod{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, pool_amount, participant_count, finalized
		FROM reward_periods WHERE finalized = false ORDER BY id DESC LIMIT 1`).Scan(
		&period.ID, &period.StartedAt, &period.PoolAmount, &period.ParticipantCount, &period.Finalized,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return period, nil
}

// GetPeriod returns a period by id.
func (s *RewardsService) GetPeriod(ctx context.Context, periodID int64) (*models.RewardPeriod, error) {
	period := &models.RewardPeriod{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, pool_amount, participant_count, finalized
		FROM reward_periods WHERE id = $1`, periodID).Scan(
		&period.ID, &period.StartedAt, &period.PoolAmount, &period.ParticipantCount, &period.Finalized,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return period, nil
}

// GetPoolContribution returns what one contributor has put into a period.
// Principals with no contribution hold zero.
func (s *RewardsService) GetPoolContribution(ctx context.Context, periodID int64, contributor string) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx, `
		SELECT amount FROM pool_contributions WHERE period_id = $1 AND contributor = $2`,
		periodID, contributor).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// GetUserReward returns the reward computed for a user in a period.
func (s *RewardsService) GetUserReward(ctx context.Context, periodID int64, userPrincipal string) (*models.UserReward, error) {
	reward := &models.UserReward{}
	err := s.db.QueryRowContext(ctx, `
		SELECT period_id, user_principal, amount, claimed FROM user_rewards WHERE period_id = $1 AND user_principal = $2`,
		periodID, userPrincipal).Scan(&reward.PeriodID, &reward.UserPrincipal, &reward.Amount, &reward.Claimed)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return reward, nil
}

// IsEligibleForRewards reports whether a user has an activity record in the
// period that clears the eligibility floor.
func (s *RewardsService) IsEligibleForRewards(ctx context.Context, periodID int64, userPrincipal string) (bool, error) {
	var score int64
	err := s.db.QueryRowContext(ctx, `
		SELECT activity_score FROM activity_records WHERE period_id = $1 AND user_principal = $2`,
		periodID, userPrincipal).Scan(&score)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return score >= s.policy.MinActivityScore, nil
}

// GetLifetimeRewards returns the total a user has ever claimed.
func (s *RewardsService) GetLifetimeRewards(ctx context.Context, userPrincipal string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT lifetime_rewards FROM accounts WHERE principal = $1`, userPrincipal).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return total, nil
}

// GetRewardsStats aggregates reward flow across all periods.
func (s *RewardsService) GetRewardsStats(ctx context.Context) (*models.RewardsStats, error) {
	stats := &models.RewardsStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM reward_periods),
		       (SELECT COALESCE(SUM(amount), 0) FROM pool_contributions),
		       (SELECT COALESCE(SUM(amount), 0) FROM user_rewards),
		       (SELECT COALESCE(SUM(amount), 0) FROM user_rewards WHERE claimed = true)`).Scan(
		&stats.Periods, &stats.TotalContributed, &stats.TotalDistributed, &stats.TotalClaimed,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *RewardsService) tierFor(score int64) string {
	switch {
	case score >= s.policy.PlatinumThreshold:
		return models.TierPlatinum
	case score >= s.policy.GoldThreshold:
		return models.TierGold
	case score >= s.policy.SilverThreshold:
		return models.TierSilver
	default:
		return models.TierBronze
	}
}

func tierWeight(tier string) int64 {
	switch tier {
	case models.TierPlatinum:
		return weightPlatinum
	case models.TierGold:
		return weightGold
	case models.TierSilver:
		return weightSilver
	default:
		return weightBronze
	}
}

// lockRewardPeriod locks a period row. A zero id resolves to the newest open
// period.
func lockRewardPeriod(tx *sql.Tx, id int64) (*models.RewardPeriod, error) {
	period := &models.RewardPeriod{}
	var err error
	if id == 0 {
		err = tx.QueryRow(`
			SELECT id, started_at, pool_amount, participant_count, finalized
			FROM reward_periods WHERE finalized = false ORDER BY id DESC LIMIT 1 FOR UPDATE`).Scan(
			&period.ID, &period.StartedAt, &period.PoolAmount, &period.ParticipantCount, &period.Finalized,
		)
	} else {
		err = tx.QueryRow(`
			SELECT id, started_at, pool_amount, participant_count, finalized
			FROM reward_periods WHERE id = $1 FOR UPDATE`, id).Scan(
			&period.ID, &period.StartedAt, &period.PoolAmount, &period.ParticipantCount, &period.Finalized,
		)
	}
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return period, nil
}

package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/timebank/backend/internal/config"
	"github.com/timebank/backend/internal/metrics"
	"github.com/timebank/backend/internal/models"
)

// ExchangeService models the bilateral service-exchange lifecycle. Completion
// is a dual-confirmation protocol: both parties must confirm independently,
// and there is no rollback once both have.
type ExchangeService struct {
	db     *sql.DB
	events *EventPublisher
	policy *config.PolicyConfig
}

func NewExchangeService(db *sql.DB, events *EventPublisher) *ExchangeService {
	return &ExchangeService{
		db:     db,
		events: events,
		policy: config.LoadPolicyConfig(),
	}
}

// CreateExchange opens a Pending exchange between requester and provider.
func (s *ExchangeService) CreateExchange(ctx context.Context, requester, provider, skillName string, hours int64, start, end time.Time) (*models.Exchange, error) {
	if skillName == "" || hours <= 0 {
		return nil, models.ErrInvalidParams
	}
	if requester == provider {
		return nil, models.ErrSelfReferential
	}
	if !end.After(start) {
		return nil, models.ErrInvalidParams
	}
	duration := end.Sub(start)
	if duration < s.policy.MinExchangeDuration || duration > s.policy.MaxExchangeDuration {
		return nil, models.ErrInvalidParams
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

	for _, principal := range []string{requester, provider} {
		var active bool
		err := tx.QueryRow(`SELECT is_active FROM accounts WHERE principal = $1`, principal).Scan(&active)
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, models.ErrUserInactive
		}
	}

	id, err := nextID(tx, "exchanges")
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO exchanges (id, requester, provider, skill_name, hours_requested, scheduled_start, scheduled_end, status, confirmed_by_requester, confirmed_by_provider, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, false, $9)`,
		id, requester, provider, skillName, hours, start, end, models.ExchangeStatusPending, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[EXCHANGE] Created exchange %d: %s -> %s (%s, %dh)", id, requester, provider, skillName, hours)
	metrics.OperationsTotal.WithLabelValues("exchange", "create").Inc()
	s.events.Publish(ctx, "exchange", "exchange", fmt.Sprintf("%d", id), models.ExchangeStatusPending, requester, provider)

	return &models.Exchange{
		ID:             id,
		Requester:      requester,
		Provider:       provider,
		SkillName:      skillName,
		HoursRequested: hours,
		ScheduledStart: start,
		ScheduledEnd:   end,
		Status:         models.ExchangeStatusPending,
		CreatedAt:      now,
	}, nil
}

// AcceptExchange moves a Pending exchange to Accepted. Provider only.
func (s *ExchangeService) AcceptExchange(ctx context.Context, caller string, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return err
	}

	exchange, err := lockExchange(tx, id)
	if err != nil {
		return err
	}
	if caller != exchange.Provider {
		return models.ErrUnauthorized
	}
	if err := requireStatus(exchange.Status, models.ExchangeStatusPending); err != nil {
		return err
	}

	if _, err := tx.Exec(`UPDATE exchanges SET status = $1 WHERE id = $2`, models.ExchangeStatusAccepted, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.OperationsTotal.WithLabelValues("exchange", "accept").Inc()
	s.events.Publish(ctx, "exchange", "exchange", fmt.Sprintf("%d", id), models.ExchangeStatusAccepted, exchange.Requester, exchange.Provider)
	return nil
}

// ConfirmCompletion records one party's completion confirmation. When both
// parties have confirmed, the exchange completes and the hour counters of
// both accounts are updated. Re-confirming is rejected.
func (s *ExchangeService) ConfirmCompletion(ctx context.Context, caller string, id int64) (*models.Exchange, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return nil, err
	}

	exchange, err := lockExchange(tx, id)
	if err != nil {
		return nil, err
	}
	if caller != exchange.Requester && caller != exchange.Provider {
		return nil, models.ErrUnauthorized
	}
	if err := requireStatus(exchange.Status, models.ExchangeStatusAccepted); err != nil {
		return nil, err
	}

	if caller == exchange.Requester {
		if exchange.ConfirmedByRequester {
			return nil, models.ErrAlreadyConfirmed
		}
		exchange.ConfirmedByRequester = true
	} else {
		if exchange.ConfirmedByProvider {
			return nil, models.ErrAlreadyConfirmed
		}
		exchange.ConfirmedByProvider = true
	}

	completed := exchange.ConfirmedByRequester && exchange.ConfirmedByProvider
	if completed {
		exchange.Status = models.ExchangeStatusCompleted
		exchange.CompletedAt = &now
	}

	_, err = tx.Exec(`UPDATE exchanges SET confirmed_by_requester = $1, confirmed_by_provider = $2, status = $3, completed_at = $4 WHERE id = $5`,
		exchange.ConfirmedByRequester, exchange.ConfirmedByProvider, exchange.Status, exchange.CompletedAt, id)
	if err != nil {
		return nil, err
	}

	if completed {
		// Provider gave the hours, requester received them. Lock in
		// consistent order, same discipline as credit transfers.
		firstLock, secondLock := exchange.Requester, exchange.Provider
		if firstLock > secondLock {
			firstLock, secondLock = secondLock, firstLock
		}
		accounts := map[string]*models.Account{}
		for _, principal := range []string{firstLock, secondLock} {
			account, err := lockAccount(tx, principal)
			if err != nil {
				return nil, err
			}
			accounts[principal] = account
		}

		provider := accounts[exchange.Provider]
		_, err = tx.Exec(`UPDATE accounts SET hours_given = hours_given + $1, version = version + 1, updated_at = $2 WHERE principal = $3 AND version = $4`,
			exchange.HoursRequested, now, exchange.Provider, provider.Version)
		if err != nil {
			return nil, err
		}

		requester := accounts[exchange.Requester]
		_, err = tx.Exec(`UPDATE accounts SET hours_received = hours_received + $1, version = version + 1, updated_at = $2 WHERE principal = $3 AND version = $4`,
			exchange.HoursRequested, now, exchange.Requester, requester.Version)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	metrics.OperationsTotal.WithLabelValues("exchange", "confirm").Inc()
	if completed {
		log.Printf("[EXCHANGE] Exchange %d completed (%dh of %s)", id, exchange.HoursRequested, exchange.SkillName)
		s.events.Publish(ctx, "exchange", "exchange", fmt.Sprintf("%d", id), models.ExchangeStatusCompleted, exchange.Requester, exchange.Provider)
	}
	return exchange, nil
}

// CancelExchange cancels a Pending or Accepted exchange. Requester only.
func (s *ExchangeService) CancelExchange(ctx context.Context, caller string, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return err
	}

	exchange, err := lockExchange(tx, id)
	if err != nil {
		return err
	}
	if caller != exchange.Requester {
		return models.ErrUnauthorized
	}
	if exchange.Status == models.ExchangeStatusCompleted {
		return models.ErrAlreadyCompleted
	}
	if exchange.Status == models.ExchangeStatusCancelled {
		return models.ErrAlreadyCancelled
	}

	if _, err := tx.Exec(`UPDATE exchanges SET status = $1 WHERE id = $2`, models.ExchangeStatusCancelled, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.OperationsTotal.WithLabelValues("exchange", "cancel").Inc()
	s.events.Publish(ctx, "exchange", "exchange", fmt.Sprintf("%d", id), models.ExchangeStatusCancelled, exchange.Requester, exchange.Provider)
	return nil
}

// SubmitReview records a rating from one party about the other. Completed
// exchanges only, one review per party, rating 1..5. The counterparty's
// reputation score grows by the rating.
func (s *ExchangeService) SubmitReview(ctx context.Context, caller string, id int64, rating int, comment string) error {
	if rating < 1 || rating > 5 {
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

	exchange, err := lockExchange(tx, id)
	if err != nil {
		return err
	}
	if caller != exchange.Requester && caller != exchange.Provider {
		return models.ErrUnauthorized
	}
	if exchange.Status != models.ExchangeStatusCompleted {
		return models.ErrNotCompleted
	}

	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM reviews WHERE exchange_id = $1 AND reviewer = $2)`, id, caller).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return models.ErrAlreadyReviewed
	}

	_, err = tx.Exec(`INSERT INTO reviews (exchange_id, reviewer, rating, comment, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, caller, rating, comment, now)
	if err != nil {
		return err
	}

	reviewee := exchange.Provider
	if caller == exchange.Provider {
		reviewee = exchange.Requester
	}
	account, err := lockAccount(tx, reviewee)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE accounts SET reputation_score = reputation_score + $1, version = version + 1, updated_at = $2 WHERE principal = $3 AND version = $4`,
		rating, now, reviewee, account.Version)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.OperationsTotal.WithLabelValues("exchange", "review").Inc()
	s.events.Publish(ctx, "exchange", "review", fmt.Sprintf("%d", id), "SUBMITTED", caller, reviewee)
	return nil
}

// GetExchange returns an exchange with its reviews.
func (s *ExchangeService) GetExchange(ctx context.Context, id int64) (*models.Exchange, error) {
	exchange := &models.Exchange{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, requester, provider, skill_name, hours_requested, scheduled_start, scheduled_end, status, confirmed_by_requester, confirmed_by_provider, created_at, completed_at
		FROM exchanges WHERE id = $1`, id).Scan(
		&exchange.ID, &exchange.Requester, &exchange.Provider, &exchange.SkillName,
		&exchange.HoursRequested, &exchange.ScheduledStart, &exchange.ScheduledEnd,
		&exchange.Status, &exchange.ConfirmedByRequester, &exchange.ConfirmedByProvider,
		&exchange.CreatedAt, &exchange.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT exchange_id, reviewer, rating, comment, created_at FROM reviews WHERE exchange_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var review models.Review
		if err := rows.Scan(&review.ExchangeID, &review.Reviewer, &review.Rating, &review.Comment, &review.CreatedAt); err != nil {
			return nil, err
		}
		exchange.Reviews = append(exchange.Reviews, review)
	}
	return exchange, rows.Err()
}

// GetExchangeStats returns exchange counts by status.
func (s *ExchangeService) GetExchangeStats(ctx context.Context) (*models.ExchangeStats, error) {
	stats := &models.ExchangeStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'PENDING'),
		       COUNT(*) FILTER (WHERE status = 'ACCEPTED'),
		       COUNT(*) FILTER (WHERE status = 'COMPLETED'),
		       COUNT(*) FILTER (WHERE status = 'CANCELLED')
		FROM exchanges`).Scan(&stats.Total, &stats.Pending, &stats.Accepted, &stats.Completed, &stats.Cancelled)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// IsExchangeActive reports whether the exchange is Pending or Accepted.
func (s *ExchangeService) IsExchangeActive(ctx context.Context, id int64) (bool, error) {
	status, err := s.exchangeStatus(ctx, id)
	if err != nil {
		return false, err
	}
	return status == models.ExchangeStatusPending || status == models.ExchangeStatusAccepted, nil
}

// IsExchangeCompleted reports whether the exchange reached Completed.
func (s *ExchangeService) IsExchangeCompleted(ctx context.Context, id int64) (bool, error) {
	status, err := s.exchangeStatus(ctx, id)
	if err != nil {
		return false, err
	}
	return status == models.ExchangeStatusCompleted, nil
}

func (s *ExchangeService) exchangeStatus(ctx context.Context, id int64) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM exchanges WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

func lockExchange(tx *sql.Tx, id int64) (*models.Exchange, error) {
	exchange := &models.Exchange{}
	err := tx.QueryRow(`
		SELECT id, requester, provider, skill_name, hours_requested, scheduled_start, scheduled_end, status, confirmed_by_requester, confirmed_by_provider, created_at, completed_at
		FROM exchanges WHERE id = $1 FOR UPDATE`, id).Scan(
		&exchange.ID, &exchange.Requester, &exchange.Provider, &exchange.SkillName,
		&exchange.HoursRequested, &exchange.ScheduledStart, &exchange.ScheduledEnd,
		&exchange.Status, &exchange.ConfirmedByRequester, &exchange.ConfirmedByProvider,
		&exchange.CreatedAt, &exchange.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return exchange, nil
}

// requireStatus maps a wrong current status to the matching sentinel.
func requireStatus(current, want string) error {
	if current == want {
		return nil
	}
	switch current {
	case models.ExchangeStatusAccepted:
		return models.ErrAlreadyAccepted
	case models.ExchangeStatusCompleted:
		return models.ErrAlreadyCompleted
	case models.ExchangeStatusCancelled:
		return models.ErrAlreadyCancelled
	default:
		return models.ErrInvalidParams
	}
}

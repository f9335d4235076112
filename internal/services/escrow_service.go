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

// EscrowService locks credits away from the depositor until the release
// timelock elapses or an administrator resolves a dispute. Locked value lives
// in the escrow row itself, so escrowed credits can never be double-spent.
type EscrowService struct {
	db     *sql.DB
	ledger CreditLedger
	audit  *audit.Logger
	events *EventPublisher
	policy *config.PolicyConfig
}

func NewEscrowService(db *sql.DB, ledger CreditLedger, events *EventPublisher) *EscrowService {
	return &EscrowService{
		db:     db,
		ledger: ledger,
		audit:  audit.NewLogger(),
		events: events,
		policy: config.LoadPolicyConfig(),
	}
}

// CreateEscrow debits the depositor and locks the amount until releaseAfter.
// An exchange reference is optional but must point at a real exchange.
func (s *EscrowService) CreateEscrow(ctx context.Context, depositor, beneficiary string, amount int64, releaseAfter time.Time, exchangeID *int64) (*models.Escrow, error) {
	if amount <= 0 {
		return nil, models.ErrInvalidParams
	}
	if depositor == beneficiary {
		return nil, models.ErrSelfReferential
	}

	now := time.Now().UTC()
	if releaseAfter.Sub(now) < s.policy.MinEscrowDuration {
		return nil, models.ErrInvalidParams
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return nil, err
	}

	var beneficiaryActive bool
	err = tx.QueryRow(`SELECT is_active FROM accounts WHERE principal = $1`, beneficiary).Scan(&beneficiaryActive)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !beneficiaryActive {
		return nil, models.ErrUserInactive
	}

	if exchangeID != nil {
		var exists bool
		if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM exchanges WHERE id = $1)`, *exchangeID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, models.ErrNotFound
		}
	}

	id, err := nextID(tx, "escrows")
	if err != nil {
		return nil, err
	}

	referenceID := uuid.NewString()
	if err := s.ledger.DebitTx(tx, depositor, amount, referenceID, now); err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO escrows (id, depositor, beneficiary, amount, exchange_id, created_at, release_after, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, depositor, beneficiary, amount, exchangeID, now, releaseAfter, models.EscrowStatusLocked)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogTransfer(referenceID, depositor, fmt.Sprintf("escrow:%d", id), amount, "LOCKED")
	metrics.OperationsTotal.WithLabelValues("escrow", "create").Inc()
	s.events.Publish(ctx, "escrow", "escrow", fmt.Sprintf("%d", id), models.EscrowStatusLocked, depositor, beneficiary)

	return &models.Escrow{
		ID:           id,
		Depositor:    depositor,
		Beneficiary:  beneficiary,
		Amount:       amount,
		ExchangeID:   exchangeID,
		CreatedAt:    now,
		ReleaseAfter: releaseAfter,
		Status:       models.EscrowStatusLocked,
	}, nil
}

// ReleaseEscrow pays out the locked amount to the beneficiary. After the
// timelock either party may release; before it only the depositor can, which
// is in effect an early payout of their own funds. Exactly one release ever
// succeeds for a given escrow.
func (s *EscrowService) ReleaseEscrow(ctx context.Context, caller string, id int64) (*models.Escrow, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return nil, err
	}

	escrow, err := lockEscrow(tx, id)
	if err != nil {
		return nil, err
	}
	if caller != escrow.Depositor && caller != escrow.Beneficiary {
		return nil, models.ErrUnauthorized
	}
	if escrow.Status == models.EscrowStatusReleased {
		return nil, models.ErrAlreadyReleased
	}
	if escrow.Status == models.EscrowStatusDisputed {
		return nil, models.ErrEscrowDisputed
	}
	if now.Before(escrow.ReleaseAfter) && caller != escrow.Depositor {
		return nil, models.ErrTimelockNotElapsed
	}

	referenceID := uuid.NewString()
	if err := s.ledger.CreditTx(tx, escrow.Beneficiary, escrow.Amount, referenceID, now); err != nil {
		return nil, err
	}

	_, err = tx.Exec(`UPDATE escrows SET status = $1, released_to = $2, released_at = $3 WHERE id = $4`,
		models.EscrowStatusReleased, escrow.Beneficiary, now, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	escrow.Status = models.EscrowStatusReleased
	escrow.ReleasedTo = escrow.Beneficiary
	escrow.ReleasedAt = &now

	s.audit.LogTransfer(referenceID, fmt.Sprintf("escrow:%d", id), escrow.Beneficiary, escrow.Amount, "RELEASED")
	metrics.OperationsTotal.WithLabelValues("escrow", "release").Inc()
	s.events.Publish(ctx, "escrow", "escrow", fmt.Sprintf("%d", id), models.EscrowStatusReleased, escrow.Depositor, escrow.Beneficiary)
	return escrow, nil
}

// RaiseDispute freezes a locked escrow. Either party may dispute; a disputed
// escrow can only move again through admin resolution.
func (s *EscrowService) RaiseDispute(ctx context.Context, caller string, id int64, reason string) error {
	if reason == "" {
		return models.ErrInvalidParams
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return err
	}

	escrow, err := lockEscrow(tx, id)
	if err != nil {
		return err
	}
	if caller != escrow.Depositor && caller != escrow.Beneficiary {
		return models.ErrUnauthorized
	}
	if escrow.Status == models.EscrowStatusReleased {
		return models.ErrAlreadyReleased
	}
	if escrow.Status == models.EscrowStatusDisputed {
		return models.ErrEscrowDisputed
	}

	_, err = tx.Exec(`UPDATE escrows SET status = $1, dispute_reason = $2, disputed_by = $3 WHERE id = $4`,
		models.EscrowStatusDisputed, reason, caller, id)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("[ESCROW] Escrow %d disputed by %s: %s", id, caller, reason)
	metrics.OperationsTotal.WithLabelValues("escrow", "dispute").Inc()
	s.events.Publish(ctx, "escrow", "escrow", fmt.Sprintf("%d", id), models.EscrowStatusDisputed, escrow.Depositor, escrow.Beneficiary)
	return nil
}

// ResolveDispute is admin-only. Refunding credits the depositor and closes
// the escrow; otherwise the escrow returns to Locked and the normal release
// rules apply again.
func (s *EscrowService) ResolveDispute(ctx context.Context, caller string, id int64, refund bool) error {
	if caller != s.policy.AdminPrincipal {
		return models.ErrUnauthorized
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

	escrow, err := lockEscrow(tx, id)
	if err != nil {
		return err
	}
	if escrow.Status != models.EscrowStatusDisputed {
		return models.ErrInvalidParams
	}

	if refund {
		referenceID := uuid.NewString()
		if err := s.ledger.CreditTx(tx, escrow.Depositor, escrow.Amount, referenceID, now); err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE escrows SET status = $1, released_to = $2, released_at = $3 WHERE id = $4`,
			models.EscrowStatusReleased, escrow.Depositor, now, id)
		if err != nil {
			return err
		}
		s.audit.LogTransfer(referenceID, fmt.Sprintf("escrow:%d", id), escrow.Depositor, escrow.Amount, "REFUNDED")
	} else {
		_, err = tx.Exec(`UPDATE escrows SET status = $1, dispute_reason = '', disputed_by = '' WHERE id = $2`,
			models.EscrowStatusLocked, id)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.OperationsTotal.WithLabelValues("escrow", "resolve_dispute").Inc()
	s.events.Publish(ctx, "escrow", "escrow", fmt.Sprintf("%d", id), "RESOLVED", escrow.Depositor, escrow.Beneficiary)
	return nil
}

// GetEscrowDetails returns the escrow record.
func (s *EscrowService) GetEscrowDetails(ctx context.Context, id int64) (*models.Escrow, error) {
	escrow := &models.Escrow{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, depositor, beneficiary, amount, exchange_id, created_at, release_after, status, dispute_reason, disputed_by, released_to, released_at
		FROM escrows WHERE id = $1`, id).Scan(
		&escrow.ID, &escrow.Depositor, &escrow.Beneficiary, &escrow.Amount,
		&escrow.ExchangeID, &escrow.CreatedAt, &escrow.ReleaseAfter, &escrow.Status,
		&escrow.DisputeReason, &escrow.DisputedBy, &escrow.ReleasedTo, &escrow.ReleasedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

// GetEscrowStats returns escrow counts and the value still locked.
func (s *EscrowService) GetEscrowStats(ctx context.Context) (*models.EscrowStats, error) {
	stats := &models.EscrowStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'LOCKED'),
		       COUNT(*) FILTER (WHERE status = 'RELEASED'),
		       COUNT(*) FILTER (WHERE status = 'DISPUTED'),
		       COALESCE(SUM(amount) FILTER (WHERE status IN ('LOCKED', 'DISPUTED')), 0)
		FROM escrows`).Scan(&stats.Total, &stats.Locked, &stats.Released, &stats.Disputed, &stats.ValueHeld)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func lockEscrow(tx *sql.Tx, id int64) (*models.Escrow, error) {
	escrow := &models.Escrow{}
	err := tx.QueryRow(`
		SELECT id, depositor, beneficiary, amount, exchange_id, created_at, release_after, status, dispute_reason, disputed_by, released_to, released_at
		FROM escrows WHERE id = $1 FOR UPDATE`, id).Scan(
		&escrow.ID, &escrow.Depositor, &escrow.Beneficiary, &escrow.Amount,
		&escrow.ExchangeID, &escrow.CreatedAt, &escrow.ReleaseAfter, &escrow.Status,
		&escrow.DisputeReason, &escrow.DisputedBy, &escrow.ReleasedTo, &escrow.ReleasedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

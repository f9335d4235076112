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

// LedgerService owns accounts, credit balances and the protocol pause switch.
// Every mutating method runs as one all-or-nothing database transaction; the
// ledger clock is read once per operation and used for every timestamp and
// temporal check inside it.
type LedgerService struct {
	db     *sql.DB
	audit  *audit.Logger
	events *EventPublisher
	policy *config.PolicyConfig
}

func NewLedgerService(db *sql.DB, events *EventPublisher) *LedgerService {
	return &LedgerService{
		db:     db,
		audit:  audit.NewLogger(),
		events: events,
		policy: config.LoadPolicyConfig(),
	}
}

// CreditLedger is the narrow balance-mutation capability the escrow and
// rewards modules depend on. Both methods run inside the caller's transaction
// and fail fast without partial effects.
type CreditLedger interface {
	DebitTx(tx *sql.Tx, principal string, amount int64, referenceID string, now time.Time) error
	CreditTx(tx *sql.Tx, principal string, amount int64, referenceID string, now time.Time) error
}

// Register creates an account for principal with the initial credit grant.
func (s *LedgerService) Register(ctx context.Context, principal string) (*models.Account, error) {
	if principal == "" {
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

	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM accounts WHERE principal = $1)`, principal).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, models.ErrAlreadyRegistered
	}

	_, err = tx.Exec(`
		INSERT INTO accounts (principal, joined_at, hours_given, hours_received, reputation_score, is_active, credit_balance, lifetime_rewards, version, updated_at)
		VALUES ($1, $2, 0, 0, 0, true, $3, 0, 1, $2)`,
		principal, now, models.InitialCreditBalance)
	if err != nil {
		return nil, err
	}

	referenceID := uuid.NewString()
	if err := appendLedgerEntry(tx, referenceID, principal, models.InitialCreditBalance, models.EntryTypeCredit, models.InitialCreditBalance, now); err != nil {
		return nil, err
	}

	// The initial grant enters circulation at registration.
	_, err = tx.Exec(`
		UPDATE protocol_state SET registered_users = registered_users + 1, circulating_credits = circulating_credits + $1, updated_at = $2 WHERE id = 1`,
		models.InitialCreditBalance, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[LEDGER] Registered principal %s", principal)
	metrics.OperationsTotal.WithLabelValues("ledger", "register").Inc()
	s.events.Publish(ctx, "ledger", "account", principal, models.AccountStatusActive, principal)

	return &models.Account{
		Principal:     principal,
		JoinedAt:      now,
		IsActive:      true,
		CreditBalance: models.InitialCreditBalance,
		Version:       1,
		UpdatedAt:     now,
	}, nil
}

// TransferCredits atomically moves amount from one account to the other.
// Total circulating credits are unchanged by transfers.
func (s *LedgerService) TransferCredits(ctx context.Context, from, to string, amount int64) (string, error) {
	if amount <= 0 {
		return "", models.ErrInvalidParams
	}
	if from == to {
		return "", models.ErrSelfTransfer
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return "", err
	}

	// Lock accounts in consistent order to prevent deadlocks.
	firstLock, secondLock := from, to
	if from > to {
		firstLock, secondLock = to, from
	}

	first, err := lockAccount(tx, firstLock)
	if err != nil {
		return "", err
	}
	second, err := lockAccount(tx, secondLock)
	if err != nil {
		return "", err
	}

	fromAccount, toAccount := first, second
	if firstLock != from {
		fromAccount, toAccount = second, first
	}

	if !fromAccount.IsActive || !toAccount.IsActive {
		return "", models.ErrUserInactive
	}
	if fromAccount.CreditBalance < amount {
		return "", models.ErrInsufficientCredits
	}

	referenceID := uuid.NewString()

	if err := appendLedgerEntry(tx, referenceID, from, -amount, models.EntryTypeDebit, fromAccount.CreditBalance-amount, now); err != nil {
		return "", err
	}
	if err := appendLedgerEntry(tx, referenceID, to, amount, models.EntryTypeCredit, toAccount.CreditBalance+amount, now); err != nil {
		return "", err
	}

	if err := updateAccountBalance(tx, from, fromAccount.CreditBalance-amount, fromAccount.Version, now); err != nil {
		return "", err
	}
	if err := updateAccountBalance(tx, to, toAccount.CreditBalance+amount, toAccount.Version, now); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	s.audit.LogTransfer(referenceID, from, to, amount, "SUCCESS")
	metrics.OperationsTotal.WithLabelValues("ledger", "transfer").Inc()
	metrics.CreditsTransferred.Add(float64(amount))
	s.events.Publish(ctx, "ledger", "transfer", referenceID, "COMPLETED", from, to)

	return referenceID, nil
}

// MintCredits is admin-only and expands the circulating supply.
func (s *LedgerService) MintCredits(ctx context.Context, caller, to string, amount int64) error {
	if caller != s.policy.AdminPrincipal {
		return models.ErrUnauthorized
	}
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

	account, err := lockAccount(tx, to)
	if err != nil {
		return err
	}

	referenceID := uuid.NewString()
	if err := appendLedgerEntry(tx, referenceID, to, amount, models.EntryTypeCredit, account.CreditBalance+amount, now); err != nil {
		return err
	}
	if err := updateAccountBalance(tx, to, account.CreditBalance+amount, account.Version, now); err != nil {
		return err
	}

	_, err = tx.Exec(`UPDATE protocol_state SET circulating_credits = circulating_credits + $1, updated_at = $2 WHERE id = 1`, amount, now)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.audit.LogOperation(referenceID, to, "MINT", fmt.Sprintf("Minted %d credits", amount))
	metrics.OperationsTotal.WithLabelValues("ledger", "mint").Inc()
	s.events.Publish(ctx, "ledger", "mint", referenceID, "COMPLETED", to)
	return nil
}

// BurnCredits is admin-only and contracts the circulating supply.
func (s *LedgerService) BurnCredits(ctx context.Context, caller, from string, amount int64) error {
	if caller != s.policy.AdminPrincipal {
		return models.ErrUnauthorized
	}
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

	account, err := lockAccount(tx, from)
	if err != nil {
		return err
	}
	if account.CreditBalance < amount {
		return models.ErrInsufficientCredits
	}

	referenceID := uuid.NewString()
	if err := appendLedgerEntry(tx, referenceID, from, -amount, models.EntryTypeDebit, account.CreditBalance-amount, now); err != nil {
		return err
	}
	if err := updateAccountBalance(tx, from, account.CreditBalance-amount, account.Version, now); err != nil {
		return err
	}

	_, err = tx.Exec(`UPDATE protocol_state SET circulating_credits = circulating_credits - $1, updated_at = $2 WHERE id = 1`, amount, now)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.audit.LogOperation(referenceID, from, "BURN", fmt.Sprintf("Burned %d credits", amount))
	metrics.OperationsTotal.WithLabelValues("ledger", "burn").Inc()
	s.events.Publish(ctx, "ledger", "burn", referenceID, "COMPLETED", from)
	return nil
}

// SetActive toggles the caller's activation state. Setting the state the
// account already holds is a no-op success.
func (s *LedgerService) SetActive(ctx context.Context, principal string, active bool) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkProtocolPaused(tx); err != nil {
		return err
	}

	account, err := lockAccount(tx, principal)
	if err != nil {
		return err
	}
	if account.IsActive == active {
		return tx.Commit()
	}

	_, err = tx.Exec(`UPDATE accounts SET is_active = $1, version = version + 1, updated_at = $2 WHERE principal = $3 AND version = $4`,
		active, now, principal, account.Version)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	status := models.AccountStatusDeactivated
	if active {
		status = models.AccountStatusActive
	}
	log.Printf("[LEDGER] Principal %s set to %s", principal, status)
	metrics.OperationsTotal.WithLabelValues("ledger", "set_active").Inc()
	s.events.Publish(ctx, "ledger", "account", principal, status, principal)
	return nil
}

// ToggleProtocolPause flips the global pause switch. While paused, every
// mutating entry point across all modules fails.
func (s *LedgerService) ToggleProtocolPause(ctx context.Context, caller string) (bool, error) {
	if caller != s.policy.AdminPrincipal {
		return false, models.ErrUnauthorized
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var paused bool
	if err := tx.QueryRow(`UPDATE protocol_state SET paused = NOT paused, updated_at = $1 WHERE id = 1 RETURNING paused`, now).Scan(&paused); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	log.Printf("[LEDGER] Protocol pause toggled to %v by %s", paused, caller)
	metrics.OperationsTotal.WithLabelValues("ledger", "toggle_pause").Inc()
	status := "UNPAUSED"
	if paused {
		status = "PAUSED"
	}
	s.events.Publish(ctx, "ledger", "protocol", "1", status, caller)
	return paused, nil
}

// GetAccount returns the full account record for a principal.
func (s *LedgerService) GetAccount(ctx context.Context, principal string) (*models.Account, error) {
	account := &models.Account{}
	err := s.db.QueryRowContext(ctx, `
		SELECT principal, joined_at, hours_given, hours_received, reputation_score, is_active, credit_balance, lifetime_rewards, version, updated_at
		FROM accounts WHERE principal = $1`, principal).Scan(
		&account.Principal, &account.JoinedAt, &account.HoursGiven, &account.HoursReceived,
		&account.ReputationScore, &account.IsActive, &account.CreditBalance,
		&account.LifetimeRewards, &account.Version, &account.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetBalance returns the credit balance for a principal.
func (s *LedgerService) GetBalance(ctx context.Context, principal string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `SELECT credit_balance FROM accounts WHERE principal = $1`, principal).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// IsActive reports whether a principal is registered and active.
func (s *LedgerService) IsActive(ctx context.Context, principal string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, `SELECT is_active FROM accounts WHERE principal = $1`, principal).Scan(&active)
	if err == sql.ErrNoRows {
		return false, models.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return active, nil
}

// GetProtocolStats returns the global ledger counters.
func (s *LedgerService) GetProtocolStats(ctx context.Context) (*models.ProtocolStats, error) {
	stats := &models.ProtocolStats{}
	err := s.db.QueryRowContext(ctx, `SELECT paused, registered_users, circulating_credits FROM protocol_state WHERE id = 1`).Scan(
		&stats.Paused, &stats.RegisteredUsers, &stats.CirculatingCredits,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// DebitTx implements CreditLedger inside a caller transaction. The account
// must be active and funded.
func (s *LedgerService) DebitTx(tx *sql.Tx, principal string, amount int64, referenceID string, now time.Time) error {
	account, err := lockAccount(tx, principal)
	if err != nil {
		return err
	}
	if !account.IsActive {
		return models.ErrUserInactive
	}
	if account.CreditBalance < amount {
		return models.ErrInsufficientCredits
	}
	if err := appendLedgerEntry(tx, referenceID, principal, -amount, models.EntryTypeDebit, account.CreditBalance-amount, now); err != nil {
		return err
	}
	return updateAccountBalance(tx, principal, account.CreditBalance-amount, account.Version, now)
}

// CreditTx implements CreditLedger inside a caller transaction. Credits are
// accepted even by deactivated accounts so held funds are never stranded.
func (s *LedgerService) CreditTx(tx *sql.Tx, principal string, amount int64, referenceID string, now time.Time) error {
	account, err := lockAccount(tx, principal)
	if err != nil {
		return err
	}
	if err := appendLedgerEntry(tx, referenceID, principal, amount, models.EntryTypeCredit, account.CreditBalance+amount, now); err != nil {
		return err
	}
	return updateAccountBalance(tx, principal, account.CreditBalance+amount, account.Version, now)
}

// Shared transaction helpers. All services in this package run against the
// same schema and use the same locking discipline.

func checkProtocolPaused(tx *sql.Tx) error {
	var paused bool
	if err := tx.QueryRow(`SELECT paused FROM protocol_state WHERE id = 1`).Scan(&paused); err != nil {
		return err
	}
	if paused {
		return models.ErrProtocolPaused
	}
	return nil
}

func nextID(tx *sql.Tx, counter string) (int64, error) {
	var id int64
	if err := tx.QueryRow(`UPDATE counters SET value = value + 1 WHERE name = $1 RETURNING value`, counter).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func lockAccount(tx *sql.Tx, principal string) (*models.Account, error) {
	account := &models.Account{}
	err := tx.QueryRow(`SELECT principal, credit_balance, is_active, version FROM accounts WHERE principal = $1 FOR UPDATE`, principal).Scan(
		&account.Principal, &account.CreditBalance, &account.IsActive, &account.Version,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

func updateAccountBalance(tx *sql.Tx, principal string, newBalance int64, version int, now time.Time) error {
	result, err := tx.Exec(`UPDATE accounts SET credit_balance = $1, version = version + 1, updated_at = $2 WHERE principal = $3 AND version = $4`,
		newBalance, now, principal, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", principal)
	}
	return nil
}

func appendLedgerEntry(tx *sql.Tx, referenceID, principal string, amount int64, entryType string, balance int64, now time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (reference_id, principal, amount, entry_type, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		referenceID, principal, amount, entryType, balance, now)
	return err
}

package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ficore/backend/internal/audit"
	"github.com/ficore/backend/internal/models"
	"github.com/ficore/backend/pkg/metrics"
)

// CreditLedgerService is the only writer of accounts.balance. Every
// mutation commits the balance update, a ledger_entries row and an
// audit_logs row in one database transaction, or none of them.
type CreditLedgerService struct {
	db      *sql.DB
	audit   *audit.Logger
	metrics *metrics.Collector
}

func NewCreditLedgerService(db *sql.DB, collector *metrics.Collector) *CreditLedgerService {
	return &CreditLedgerService{
		db:      db,
		audit:   audit.NewLogger(),
		metrics: collector,
	}
}

// ApplyMutation runs one ledger mutation in its own transaction.
func (s *CreditLedgerService) ApplyMutation(ctx context.Context, userID string, amount int64, entryType models.EntryType, ref, actorID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.ApplyMutationTx(ctx, tx, userID, amount, entryType, ref, actorID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.MutationCommitted(actorID, userID, amount, entryType, ref)
	return nil
}

// ApplyMutationTx applies a mutation inside a caller-owned transaction, so
// a feature handler can commit its domain effect and the matching debit as
// one unit. The balance update is conditional on the resulting balance
// staying non-negative; two racing debits cannot both pass it.
func (s *CreditLedgerService) ApplyMutationTx(ctx context.Context, tx *sql.Tx, userID string, amount int64, entryType models.EntryType, ref, actorID string) error {
	if amount == 0 {
		return errors.New("ledger mutation amount must be non-zero")
	}

	now := time.Now()

	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $1, updated_at = $2
		WHERE user_id = $3 AND balance + $1 >= 0`,
		amount, now, userID)
	if err != nil {
		s.audit.LogError(actorID, userID, err)
		return fmt.Errorf("balance update failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}

	if rowsAffected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM accounts WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
			return fmt.Errorf("account lookup failed: %w", err)
		}
		if !exists {
			return ErrUserNotFound
		}
		s.metrics.RecordInsufficientBalance()
		return ErrInsufficientBalance
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (user_id, amount, entry_type, ref, facilitated_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, amount, string(entryType), ref, actorID, now); err != nil {
		s.audit.LogError(actorID, userID, err)
		return fmt.Errorf("ledger entry insert failed: %w", err)
	}

	details, _ := json.Marshal(map[string]any{
		"user_id":    userID,
		"amount":     amount,
		"entry_type": entryType,
		"ref":        ref,
	})
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (actor_id, action, details, created_at)
		VALUES ($1, $2, $3, $4)`,
		actorID, "ledger_"+string(entryType), string(details), now); err != nil {
		s.audit.LogError(actorID, userID, err)
		return fmt.Errorf("audit log insert failed: %w", err)
	}

	return nil
}

// MutationCommitted emits the operational audit line and metrics for a
// mutation. It must only run after the enclosing transaction has committed;
// ApplyMutation calls it itself, callers of ApplyMutationTx call it after
// their own Commit. A rolled-back mutation is never counted.
func (s *CreditLedgerService) MutationCommitted(actorID, userID string, amount int64, entryType models.EntryType, ref string) {
	s.audit.LogMutation(actorID, userID, amount, string(entryType), ref)
	s.metrics.RecordMutation(string(entryType), amount)
}

// HasSufficientBalance is the advisory gate used before a fee-bearing
// action runs. It is a plain read; the authoritative check is the
// conditional update in ApplyMutationTx.
func (s *CreditLedgerService) HasSufficientBalance(ctx context.Context, userID string, required int64) (bool, error) {
	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= required, nil
}

// Balance reads the current cached balance.
func (s *CreditLedgerService) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("balance lookup failed: %w", err)
	}
	return balance, nil
}

// ListEntries returns a user's ledger history, newest first.
func (s *CreditLedgerService) ListEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, entry_type, ref, facilitated_by, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger entry query failed: %w", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		var entryType string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &entryType, &e.Ref, &e.FacilitatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EntryType = models.EntryType(entryType)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ListAuditLogs returns recent administrative audit rows, newest first.
func (s *CreditLedgerService) ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, action, details, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit log query failed: %w", err)
	}
	defer rows.Close()

	logs := []models.AuditLogEntry{}
	for rows.Next() {
		var l models.AuditLogEntry
		if err := rows.Scan(&l.ID, &l.ActorID, &l.Action, &l.Details, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}

	return logs, rows.Err()
}

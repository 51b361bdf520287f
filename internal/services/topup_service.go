package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ficore/backend/internal/audit"
	"github.com/ficore/backend/internal/config"
	"github.com/ficore/backend/internal/models"
	"github.com/ficore/backend/pkg/metrics"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

// TopUpService owns the top-up request lifecycle: user submission into
// pending, admin resolution into approved or denied exactly once.
type TopUpService struct {
	db      *sql.DB
	redis   *redis.Client
	ledger  *CreditLedgerService
	audit   *audit.Logger
	metrics *metrics.Collector
	config  *config.CreditsConfig
}

func NewTopUpService(db *sql.DB, redisClient *redis.Client, ledger *CreditLedgerService, collector *metrics.Collector) *TopUpService {
	return &TopUpService{
		db:      db,
		redis:   redisClient,
		ledger:  ledger,
		audit:   audit.NewLogger(),
		metrics: collector,
		config:  config.LoadCreditsConfig(),
	}
}

// SubmitRequest persists a pending top-up request. It never touches the
// balance; only an approval does, through the ledger service.
func (s *TopUpService) SubmitRequest(ctx context.Context, userID string, amount int64, paymentMethod, receiptRef, facilitatedByAgent string) (*models.TopUpRequest, error) {
	log.Printf("[TOPUP] SubmitRequest - userID: %s, amount: %d, method: %s", userID, amount, paymentMethod)

	if !s.config.AmountAllowed(amount) {
		return nil, ErrAmountNotAllowed
	}

	if err := s.checkRateLimit(ctx, userID); err != nil {
		log.Printf("[TOPUP] SubmitRequest - rate limit for %s: %v", userID, err)
		return nil, err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("account lookup failed: %w", err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	now := time.Now()
	req := &models.TopUpRequest{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Amount:             amount,
		PaymentMethod:      paymentMethod,
		ReceiptReference:   receiptRef,
		Status:             models.TopUpPending,
		FacilitatedByAgent: facilitatedByAgent,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO topup_requests (id, user_id, amount, payment_method, receipt_reference, status, facilitated_by_agent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.ID, req.UserID, req.Amount, req.PaymentMethod, req.ReceiptReference,
		string(req.Status), req.FacilitatedByAgent, req.CreatedAt, req.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to store top-up request: %w", err)
	}

	s.incrementRateLimit(ctx, userID)

	log.Printf("[TOPUP] SubmitRequest - created request %s", req.ID)
	return req, nil
}

// ResolveRequest moves a pending request to a terminal state. The status
// flip is conditioned on status='pending', so a second resolution finds
// zero rows and fails instead of crediting twice. On approval the ledger
// credit runs in the same transaction as the flip.
func (s *TopUpService) ResolveRequest(ctx context.Context, requestID string, approve bool, adminID string) (*models.TopUpRequest, error) {
	decision := models.TopUpDenied
	if approve {
		decision = models.TopUpApproved
	}
	log.Printf("[TOPUP] ResolveRequest - request: %s, decision: %s, admin: %s", requestID, decision, adminID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin resolution transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	req := &models.TopUpRequest{ID: requestID, Status: decision, AdminID: adminID, UpdatedAt: now}
	err = tx.QueryRowContext(ctx, `
		UPDATE topup_requests
		SET status = $2, admin_id = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING user_id, amount, payment_method, receipt_reference, facilitated_by_agent, created_at`,
		requestID, string(decision), adminID, now).Scan(
		&req.UserID, &req.Amount, &req.PaymentMethod, &req.ReceiptReference,
		&req.FacilitatedByAgent, &req.CreatedAt)

	if err == sql.ErrNoRows {
		var status string
		lookupErr := tx.QueryRowContext(ctx,
			`SELECT status FROM topup_requests WHERE id = $1`, requestID).Scan(&status)
		if lookupErr == sql.ErrNoRows {
			return nil, ErrRequestNotFound
		}
		if lookupErr != nil {
			return nil, fmt.Errorf("request lookup failed: %w", lookupErr)
		}
		return nil, ErrAlreadyResolved
	}
	if err != nil {
		return nil, fmt.Errorf("request update failed: %w", err)
	}

	ref := fmt.Sprintf("top-up approval %s via %s", requestID, req.PaymentMethod)
	if approve {
		if err := s.ledger.ApplyMutationTx(ctx, tx, req.UserID, req.Amount, models.EntryAdd, ref, adminID); err != nil {
			s.audit.LogError(adminID, req.UserID, err)
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit resolution: %w", err)
	}

	if approve {
		s.ledger.MutationCommitted(adminID, req.UserID, req.Amount, models.EntryAdd, ref)
	}
	s.audit.LogResolution(adminID, requestID, string(decision), req.Amount)
	s.metrics.RecordResolution(string(decision))
	return req, nil
}

// GetRequest fetches one request by id.
func (s *TopUpService) GetRequest(ctx context.Context, requestID string) (*models.TopUpRequest, error) {
	req := &models.TopUpRequest{ID: requestID}
	var status string
	var adminID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, amount, payment_method, receipt_reference, status, admin_id, facilitated_by_agent, created_at, updated_at
		FROM topup_requests
		WHERE id = $1`, requestID).Scan(
		&req.UserID, &req.Amount, &req.PaymentMethod, &req.ReceiptReference,
		&status, &adminID, &req.FacilitatedByAgent, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("request lookup failed: %w", err)
	}
	req.Status = models.TopUpStatus(status)
	req.AdminID = adminID.String
	return req, nil
}

// ListPending returns the admin review queue, oldest first.
func (s *TopUpService) ListPending(ctx context.Context, limit int) ([]models.TopUpRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, payment_method, receipt_reference, facilitated_by_agent, created_at, updated_at
		FROM topup_requests
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending request query failed: %w", err)
	}
	defer rows.Close()

	requests := []models.TopUpRequest{}
	for rows.Next() {
		req := models.TopUpRequest{Status: models.TopUpPending}
		if err := rows.Scan(&req.ID, &req.UserID, &req.Amount, &req.PaymentMethod,
			&req.ReceiptReference, &req.FacilitatedByAgent, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}

// PaymentReferenceQR renders the payment reference of a request as a QR
// PNG, for display next to manual payment instructions.
func (s *TopUpService) PaymentReferenceQR(ctx context.Context, requestID string) ([]byte, error) {
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"request_id": req.ID,
		"user_id":    req.UserID,
		"amount":     req.Amount,
		"method":     req.PaymentMethod,
	})
	if err != nil {
		return nil, err
	}

	return qrcode.Encode(string(payload), qrcode.Medium, 256)
}

func (s *TopUpService) checkRateLimit(ctx context.Context, userID string) error {
	if s.redis == nil {
		return nil
	}
	key := fmt.Sprintf("topup:ratelimit:%s", userID)
	count, err := s.redis.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return err
	}

	if count >= s.config.MaxSubmissionsPerDay {
		return ErrRateLimited
	}

	return nil
}

func (s *TopUpService) incrementRateLimit(ctx context.Context, userID string) {
	if s.redis == nil {
		return
	}
	key := fmt.Sprintf("topup:ratelimit:%s", userID)
	pipe := s.redis.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 24*time.Hour)
	pipe.Exec(ctx)
}

package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ficore/backend/internal/audit"
	"github.com/ficore/backend/internal/config"
	"github.com/ficore/backend/internal/models"
	"github.com/ficore/backend/pkg/metrics"
	"github.com/lib/pq"
)

// AgentService implements agent-assisted provisioning: trader account
// creation with a signup bonus, credit requests submitted on a trader's
// behalf, and the assisted-by membership set.
type AgentService struct {
	db      *sql.DB
	topups  *TopUpService
	ledger  *CreditLedgerService
	audit   *audit.Logger
	metrics *metrics.Collector
	config  *config.CreditsConfig
}

// RegisterTraderInput carries the new trader's identity fields.
type RegisterTraderInput struct {
	Username  string `json:"username" validate:"required,min=3,max=32"`
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"firstName" validate:"required,min=2"`
	LastName  string `json:"lastName" validate:"required,min=2"`
}

// RegisteredTrader is returned once at registration. Credential carries
// the single-use plaintext secret; it is never stored or shown again.
type RegisteredTrader struct {
	User       models.User           `json:"user"`
	Balance    int64                 `json:"balance"`
	Credential models.TempCredential `json:"credential"`
}

func NewAgentService(db *sql.DB, topups *TopUpService, ledger *CreditLedgerService, collector *metrics.Collector) *AgentService {
	return &AgentService{
		db:      db,
		topups:  topups,
		ledger:  ledger,
		audit:   audit.NewLogger(),
		metrics: collector,
		config:  config.LoadCreditsConfig(),
	}
}

// RegisterTrader creates a trader account, grants the signup bonus through
// the ledger and issues a single-use expiring credential, all in one
// database transaction.
func (s *AgentService) RegisterTrader(ctx context.Context, agentID string, input RegisterTraderInput) (*RegisteredTrader, error) {
	log.Printf("[AGENT] RegisterTrader - agent: %s, username: %s", agentID, input.Username)

	username := strings.ToLower(strings.TrimSpace(input.Username))
	email := strings.ToLower(strings.TrimSpace(input.Email))

	var usernameTaken, emailTaken bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE username = $1),
		       EXISTS(SELECT 1 FROM users WHERE email = $2)`,
		username, email).Scan(&usernameTaken, &emailTaken); err != nil {
		return nil, fmt.Errorf("identity lookup failed: %w", err)
	}
	if usernameTaken {
		return nil, ErrUsernameTaken
	}
	if emailTaken {
		return nil, ErrEmailTaken
	}

	secret := s.generateSecret()
	hashedSecret := s.hashSecret(secret)
	now := time.Now()
	expiresAt := now.Add(s.config.CredentialTTL)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin registration transaction: %w", err)
	}
	defer tx.Rollback()

	var userID int
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO users (username, email, first_name, last_name, role, registered_by_agent, assisted_by_agents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id`,
		username, email, input.FirstName, input.LastName,
		string(models.RoleTrader), agentID, pq.Array([]string{}), now).Scan(&userID); err != nil {
		return nil, fmt.Errorf("user insert failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance, updated_at)
		VALUES ($1, $2, $3)`,
		username, 0, now); err != nil {
		return nil, fmt.Errorf("account insert failed: %w", err)
	}

	ref := fmt.Sprintf("signup bonus for %s registered by agent %s", username, agentID)
	if err := s.ledger.ApplyMutationTx(ctx, tx, username, s.config.SignupBonus, models.EntrySignupBonus, ref, agentID); err != nil {
		s.audit.LogError(agentID, username, err)
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO temp_credentials (user_id, secret_hash, used, expires_at, created_at)
		VALUES ($1, $2, false, $3, $4)`,
		username, hashedSecret, expiresAt, now); err != nil {
		return nil, fmt.Errorf("credential insert failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}

	s.ledger.MutationCommitted(agentID, username, s.config.SignupBonus, models.EntrySignupBonus, ref)
	s.metrics.RecordTraderProvisioned()
	log.Printf("[AGENT] RegisterTrader - created trader %s (id %d) with bonus %d", username, userID, s.config.SignupBonus)

	return &RegisteredTrader{
		User: models.User{
			ID:                userID,
			Username:          username,
			Email:             email,
			Role:              models.RoleTrader,
			RegisteredByAgent: agentID,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		Balance: s.config.SignupBonus,
		Credential: models.TempCredential{
			UserID:    username,
			Secret:    secret,
			ExpiresAt: expiresAt,
			CreatedAt: now,
		},
	}, nil
}

// SubmitCreditRequestForTrader submits a top-up request on a trader's
// behalf, tagged with the facilitating agent.
func (s *AgentService) SubmitCreditRequestForTrader(ctx context.Context, agentID, traderID string, amount int64, paymentMethod string) (*models.TopUpRequest, error) {
	if err := s.requireTrader(ctx, traderID); err != nil {
		return nil, err
	}
	return s.topups.SubmitRequest(ctx, traderID, amount, paymentMethod, "", agentID)
}

// AssistTrader records the agent into the trader's assisted-by set.
// Adding an existing member is a no-op.
func (s *AgentService) AssistTrader(ctx context.Context, agentID, traderID string) error {
	if err := s.requireTrader(ctx, traderID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET assisted_by_agents = array_append(assisted_by_agents, $2), updated_at = $3
		WHERE username = $1 AND NOT ($2 = ANY(assisted_by_agents))`,
		traderID, agentID, time.Now())
	if err != nil {
		return fmt.Errorf("assisted-by update failed: %w", err)
	}

	log.Printf("[AGENT] AssistTrader - agent %s assisting trader %s", agentID, traderID)
	return nil
}

// VerifyCredential consumes a single-use temporary credential. The row is
// locked, checked and marked used inside one transaction so a credential
// can only ever be consumed once.
func (s *AgentService) VerifyCredential(ctx context.Context, userID, secret string) error {
	hashedSecret := s.hashSecret(secret)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin credential transaction: %w", err)
	}
	defer tx.Rollback()

	var used bool
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT used, expires_at
		FROM temp_credentials
		WHERE user_id = $1 AND secret_hash = $2
		FOR UPDATE`,
		userID, hashedSecret).Scan(&used, &expiresAt)
	if err == sql.ErrNoRows {
		return ErrCredentialInvalid
	}
	if err != nil {
		return fmt.Errorf("credential lookup failed: %w", err)
	}

	if used || time.Now().After(expiresAt) {
		return ErrCredentialInvalid
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE temp_credentials
		SET used = true, used_at = $2
		WHERE user_id = $1 AND secret_hash = $3`,
		userID, time.Now(), hashedSecret); err != nil {
		return fmt.Errorf("credential update failed: %w", err)
	}

	return tx.Commit()
}

// CleanupExpiredCredentials deletes expired and stale consumed
// credentials. Called periodically by the reaper in cmd/server.
func (s *AgentService) CleanupExpiredCredentials(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM temp_credentials
		WHERE expires_at < $1 OR (used = true AND used_at < $2)`,
		time.Now(), time.Now().Add(-24*time.Hour))
	return err
}

func (s *AgentService) requireTrader(ctx context.Context, traderID string) error {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM users WHERE username = $1`, traderID).Scan(&role)
	if err == sql.ErrNoRows {
		return ErrTraderNotFound
	}
	if err != nil {
		return fmt.Errorf("trader lookup failed: %w", err)
	}
	if models.Role(role) != models.RoleTrader {
		return ErrTraderNotFound
	}
	return nil
}

func (s *AgentService) generateSecret() string {
	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	secret := make([]byte, s.config.CredentialLength)
	charsetLen := big.NewInt(int64(len(charset)))

	for i := range secret {
		n, _ := rand.Int(rand.Reader, charsetLen)
		secret[i] = charset[n.Int64()]
	}

	return string(secret)
}

func (s *AgentService) hashSecret(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	for i := 1; i < s.config.HashIterations; i++ {
		hash = sha256.Sum256(hash[:])
	}
	return hex.EncodeToString(hash[:])
}

package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ficore/backend/internal/config"
	"github.com/ficore/backend/internal/models"
	"github.com/ficore/backend/pkg/metrics"
	"github.com/google/uuid"
)

// Actor identifies the authenticated caller of a fee-bearing action.
type Actor struct {
	UserID string
	Role   models.Role
}

// ActorFromContext reads the identity the auth middleware stored.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	userID, ok := ctx.Value("userID").(string)
	if !ok || userID == "" {
		return Actor{}, false
	}
	roleStr, _ := ctx.Value("userRole").(string)
	role, ok := models.ParseRole(roleStr)
	if !ok {
		role = models.RolePersonal
	}
	return Actor{UserID: userID, Role: role}, true
}

// PDFRenderer is the boundary to the document rendering service. It
// returns an opaque reference to the rendered document.
type PDFRenderer interface {
	Render(ctx context.Context, userID, docType string) (string, error)
}

type loggingRenderer struct{}

func (loggingRenderer) Render(_ context.Context, userID, docType string) (string, error) {
	ref := uuid.NewString()
	log.Printf("[RECORDS] Rendered %s document %s for %s", docType, ref, userID)
	return ref, nil
}

// RecordsService implements the fee-bearing bookkeeping features. Every
// handler follows one protocol: admin skips the fee, everyone else passes
// the advisory gate, and the domain write plus the spend debit commit in
// the same transaction.
type RecordsService struct {
	db        *sql.DB
	ledger    *CreditLedgerService
	notifier  *NotificationService
	renderer  PDFRenderer
	validator *ValidationHelper
	metrics   *metrics.Collector
	config    *config.CreditsConfig
}

func NewRecordsService(db *sql.DB, ledger *CreditLedgerService, notifier *NotificationService, collector *metrics.Collector) *RecordsService {
	return &RecordsService{
		db:        db,
		ledger:    ledger,
		notifier:  notifier,
		renderer:  loggingRenderer{},
		validator: NewValidationHelper(),
		metrics:   collector,
		config:    config.LoadCreditsConfig(),
	}
}

// chargeAction wraps a domain effect with the debit protocol. fn runs
// inside the transaction; when it succeeds the debit for the action's cost
// is applied in the same transaction before commit. Admins pay nothing.
func (s *RecordsService) chargeAction(ctx context.Context, actor Actor, action, ref string, fn func(tx *sql.Tx) error) error {
	cost := s.config.Cost(action)
	if actor.Role == models.RoleAdmin {
		cost = 0
	}

	if cost > 0 {
		ok, err := s.ledger.HasSufficientBalance(ctx, actor.UserID, cost)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInsufficientBalance
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if cost > 0 {
		if err := s.ledger.ApplyMutationTx(ctx, tx, actor.UserID, -cost, models.EntrySpend, ref, actor.UserID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if cost > 0 {
		s.ledger.MutationCommitted(actor.UserID, actor.UserID, -cost, models.EntrySpend, ref)
	}
	return nil
}

// CreateDebtor records a new debtor.
// @Summary Create debtor
// @Description Create a debtor record, debiting the fixed credit cost
// @Tags records
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param debtor body object{name=string,phone=string,amountOwed=int64,notes=string} true "Debtor data"
// @Success 201 {object} models.Debtor
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Router /records/debtors [post]
func (s *RecordsService) CreateDebtor(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Name       string `json:"name" validate:"required,min=2"`
		Phone      string `json:"phone,omitempty"`
		AmountOwed int64  `json:"amountOwed" validate:"gte=0"`
		Notes      string `json:"notes,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	debtor := &models.Debtor{
		ID:         uuid.NewString(),
		UserID:     actor.UserID,
		Name:       req.Name,
		Phone:      req.Phone,
		AmountOwed: req.AmountOwed,
		Notes:      req.Notes,
		CreatedAt:  time.Now(),
	}

	ref := fmt.Sprintf("create debtor %s (%s)", debtor.Name, debtor.ID)
	err := s.chargeAction(r.Context(), actor, config.ActionCreateDebtor, ref, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(r.Context(), `
			INSERT INTO debtors (id, user_id, name, phone, amount_owed, notes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			debtor.ID, debtor.UserID, debtor.Name, debtor.Phone, debtor.AmountOwed, debtor.Notes, debtor.CreatedAt)
		return err
	})
	if err != nil {
		s.sendServiceError(w, actor, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(debtor)
}

// CreateCreditor records a new creditor.
// @Summary Create creditor
// @Tags records
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param creditor body object{name=string,phone=string,amountDue=int64,notes=string} true "Creditor data"
// @Success 201 {object} models.Creditor
// @Failure 402 {object} services.ErrorResponse
// @Router /records/creditors [post]
func (s *RecordsService) CreateCreditor(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Name      string `json:"name" validate:"required,min=2"`
		Phone     string `json:"phone,omitempty"`
		AmountDue int64  `json:"amountDue" validate:"gte=0"`
		Notes     string `json:"notes,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	creditor := &models.Creditor{
		ID:        uuid.NewString(),
		UserID:    actor.UserID,
		Name:      req.Name,
		Phone:     req.Phone,
		AmountDue: req.AmountDue,
		Notes:     req.Notes,
		CreatedAt: time.Now(),
	}

	ref := fmt.Sprintf("create creditor %s (%s)", creditor.Name, creditor.ID)
	err := s.chargeAction(r.Context(), actor, config.ActionCreateCreditor, ref, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(r.Context(), `
			INSERT INTO creditors (id, user_id, name, phone, amount_due, notes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			creditor.ID, creditor.UserID, creditor.Name, creditor.Phone, creditor.AmountDue, creditor.Notes, creditor.CreatedAt)
		return err
	})
	if err != nil {
		s.sendServiceError(w, actor, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(creditor)
}

// AddInventoryItem records a stock item.
// @Summary Add inventory item
// @Tags records
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param item body object{name=string,quantity=int64,unitCost=int64} true "Inventory item"
// @Success 201 {object} models.InventoryItem
// @Failure 402 {object} services.ErrorResponse
// @Router /records/inventory [post]
func (s *RecordsService) AddInventoryItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Name     string `json:"name" validate:"required,min=2"`
		Quantity int64  `json:"quantity" validate:"gte=0"`
		UnitCost int64  `json:"unitCost" validate:"gte=0"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	item := &models.InventoryItem{
		ID:        uuid.NewString(),
		UserID:    actor.UserID,
		Name:      req.Name,
		Quantity:  req.Quantity,
		UnitCost:  req.UnitCost,
		CreatedAt: time.Now(),
	}

	ref := fmt.Sprintf("add inventory item %s (%s)", item.Name, item.ID)
	err := s.chargeAction(r.Context(), actor, config.ActionAddInventoryItem, ref, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(r.Context(), `
			INSERT INTO inventory_items (id, user_id, name, quantity, unit_cost, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, item.UserID, item.Name, item.Quantity, item.UnitCost, item.CreatedAt)
		return err
	})
	if err != nil {
		s.sendServiceError(w, actor, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(item)
}

// SendReminder sends (or snoozes) a payment reminder for a debtor. A full
// send costs two units, a snooze one. The notification itself goes out
// after commit and never rolls the debit back.
// @Summary Send debtor reminder
// @Tags records
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param reminder body object{debtorId=string,message=string,snoozeOnly=bool} true "Reminder"
// @Success 200 {object} map[string]string
// @Failure 402 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /records/reminders [post]
func (s *RecordsService) SendReminder(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		DebtorID   string `json:"debtorId" validate:"required"`
		Message    string `json:"message,omitempty"`
		SnoozeOnly bool   `json:"snoozeOnly"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	action := config.ActionSendReminder
	if req.SnoozeOnly {
		action = config.ActionSnoozeReminder
	}

	var debtorPhone string
	reminderID := uuid.NewString()
	ref := fmt.Sprintf("reminder %s for debtor %s", reminderID, req.DebtorID)
	err := s.chargeAction(r.Context(), actor, action, ref, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(r.Context(),
			`SELECT phone FROM debtors WHERE id = $1 AND user_id = $2`,
			req.DebtorID, actor.UserID).Scan(&debtorPhone)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(r.Context(), `
			INSERT INTO reminders (id, user_id, debtor_id, message, snooze, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			reminderID, actor.UserID, req.DebtorID, req.Message, req.SnoozeOnly, time.Now())
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			SendErrorResponse(w, "Debtor not found", http.StatusNotFound, nil)
			return
		}
		s.sendServiceError(w, actor, err)
		return
	}

	if !req.SnoozeOnly {
		go s.notifier.NotifyReminder(actor.UserID, debtorPhone, req.Message)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"reminderId": reminderID, "status": "sent"})
}

// GeneratePDF renders a bookkeeping report through the document boundary
// and records its opaque reference.
// @Summary Generate PDF report
// @Tags records
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param report body object{docType=string} true "Report type"
// @Success 201 {object} map[string]string
// @Failure 402 {object} services.ErrorResponse
// @Router /records/reports [post]
func (s *RecordsService) GeneratePDF(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		DocType string `json:"docType" validate:"required,oneof=debtors creditors inventory summary"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	// Rendering happens inside the charge protocol so an insufficient
	// balance short-circuits before the document is ever produced.
	docID := uuid.NewString()
	ref := fmt.Sprintf("generate %s report %s", req.DocType, docID)
	var storageRef string
	err := s.chargeAction(r.Context(), actor, config.ActionGeneratePDF, ref, func(tx *sql.Tx) error {
		var err error
		storageRef, err = s.renderer.Render(r.Context(), actor.UserID, req.DocType)
		if err != nil {
			log.Printf("[RECORDS] PDF render failed for %s: %v", actor.UserID, err)
			return fmt.Errorf("document render failed: %w", err)
		}

		_, err = tx.ExecContext(r.Context(), `
			INSERT INTO documents (id, user_id, doc_type, storage_ref, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			docID, actor.UserID, req.DocType, storageRef, time.Now())
		return err
	})
	if err != nil {
		s.sendServiceError(w, actor, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"documentId": docID, "storageRef": storageRef})
}

// UploadReceipt records the opaque storage reference of an uploaded
// payment receipt.
// @Summary Record uploaded receipt
// @Tags records
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param receipt body object{storageRef=string,label=string} true "Receipt reference"
// @Success 201 {object} models.Receipt
// @Failure 402 {object} services.ErrorResponse
// @Router /records/receipts [post]
func (s *RecordsService) UploadReceipt(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		StorageRef string `json:"storageRef" validate:"required"`
		Label      string `json:"label,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	receipt := &models.Receipt{
		ID:         uuid.NewString(),
		UserID:     actor.UserID,
		StorageRef: req.StorageRef,
		Label:      req.Label,
		CreatedAt:  time.Now(),
	}

	ref := fmt.Sprintf("upload receipt %s", receipt.ID)
	err := s.chargeAction(r.Context(), actor, config.ActionUploadReceipt, ref, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(r.Context(), `
			INSERT INTO receipts (id, user_id, storage_ref, label, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			receipt.ID, receipt.UserID, receipt.StorageRef, receipt.Label, receipt.CreatedAt)
		return err
	})
	if err != nil {
		s.sendServiceError(w, actor, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(receipt)
}

// ListDebtors returns the caller's debtors. Reads are free.
// @Summary List debtors
// @Tags records
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Debtor
// @Router /records/debtors [get]
func (s *RecordsService) ListDebtors(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, user_id, name, phone, amount_owed, notes, created_at
		FROM debtors
		WHERE user_id = $1
		ORDER BY created_at DESC`, actor.UserID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch debtors", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	debtors := []models.Debtor{}
	for rows.Next() {
		var d models.Debtor
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &d.Phone, &d.AmountOwed, &d.Notes, &d.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch debtors", http.StatusInternalServerError, nil)
			return
		}
		debtors = append(debtors, d)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(debtors)
}

func (s *RecordsService) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := s.validator.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}

	return true
}

func (s *RecordsService) sendServiceError(w http.ResponseWriter, actor Actor, err error) {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		log.Printf("[RECORDS] Insufficient balance for %s", actor.UserID)
		SendErrorResponse(w, "Insufficient Ficore Credits", http.StatusPaymentRequired, nil)
	case errors.Is(err, ErrUserNotFound):
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
	default:
		log.Printf("[RECORDS] Action failed for %s: %v", actor.UserID, err)
		SendErrorResponse(w, "Action failed", http.StatusInternalServerError, nil)
	}
}

package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ficore/backend/internal/services"
)

// CreditsHandler exposes read-only views over the ledger: balance,
// per-user history and the admin audit trail.
type CreditsHandler struct {
	ledger *services.CreditLedgerService
}

func NewCreditsHandler(ledger *services.CreditLedgerService) *CreditsHandler {
	return &CreditsHandler{ledger: ledger}
}

// Balance returns the caller's current credit balance
// @Summary Get credit balance
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{userId=string,balance=int64}
// @Failure 404 {object} services.ErrorResponse
// @Router /credits/balance [get]
func (h *CreditsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	actor, ok := services.ActorFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := h.ledger.Balance(r.Context(), actor.UserID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[CREDITS] Balance lookup failed for %s: %v", actor.UserID, err)
		services.SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"userId": actor.UserID, "balance": balance})
}

// History returns the caller's ledger entries, newest first
// @Summary Get ledger history
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum entries returned (default 50)"
// @Success 200 {array} models.LedgerEntry
// @Router /credits/history [get]
func (h *CreditsHandler) History(w http.ResponseWriter, r *http.Request) {
	actor, ok := services.ActorFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := parseLimit(r, 50, 200)

	entries, err := h.ledger.ListEntries(r.Context(), actor.UserID, limit)
	if err != nil {
		log.Printf("[CREDITS] History lookup failed for %s: %v", actor.UserID, err)
		services.SendErrorResponse(w, "Failed to fetch history", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// AuditLogs returns recent audit rows for the admin surface
// @Summary List audit logs
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum rows returned (default 100)"
// @Success 200 {array} models.AuditLogEntry
// @Router /admin/audit-logs [get]
func (h *CreditsHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100, 500)

	logs, err := h.ledger.ListAuditLogs(r.Context(), limit)
	if err != nil {
		log.Printf("[CREDITS] Audit log lookup failed: %v", err)
		services.SendErrorResponse(w, "Failed to fetch audit logs", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}

func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= max {
			limit = l
		}
	}
	return limit
}

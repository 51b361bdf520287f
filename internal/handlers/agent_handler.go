package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/ficore/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

type AgentHandler struct {
	service   *services.AgentService
	notifier  *services.NotificationService
	validator *services.ValidationHelper
}

func NewAgentHandler(service *services.AgentService, notifier *services.NotificationService) *AgentHandler {
	return &AgentHandler{
		service:   service,
		notifier:  notifier,
		validator: services.NewValidationHelper(),
	}
}

// RegisterTrader provisions a trader account with a signup bonus
// @Summary Register trader
// @Description Create a trader account, grant the signup bonus and issue a one-time credential
// @Tags agents
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param trader body services.RegisterTraderInput true "Trader identity"
// @Success 201 {object} services.RegisteredTrader
// @Failure 409 {object} services.ErrorResponse
// @Router /agents/traders [post]
func (h *AgentHandler) RegisterTrader(w http.ResponseWriter, r *http.Request) {
	actor, ok := services.ActorFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req services.RegisterTraderInput

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	trader, err := h.service.RegisterTrader(r.Context(), actor.UserID, req)
	if err != nil {
		writeAgentError(w, err)
		return
	}

	go h.notifier.NotifyTraderRegistered(trader.User.Username, actor.UserID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(trader)
}

// SubmitCreditRequest submits a top-up request on a trader's behalf
// @Summary Submit credit request for trader
// @Tags agents
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param traderId path string true "Trader username"
// @Param request body object{amount=int64,paymentMethod=string} true "Credit request"
// @Success 201 {object} models.TopUpRequest
// @Failure 404 {object} services.ErrorResponse
// @Router /agents/traders/{traderId}/credit-requests [post]
func (h *AgentHandler) SubmitCreditRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := services.ActorFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	traderID := chi.URLParam(r, "traderId")

	var req struct {
		Amount        int64  `json:"amount" validate:"required,gt=0"`
		PaymentMethod string `json:"paymentMethod" validate:"required,oneof=bank_transfer card ussd cash"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	request, err := h.service.SubmitCreditRequestForTrader(r.Context(), actor.UserID, traderID, req.Amount, req.PaymentMethod)
	if err != nil {
		writeAgentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(request)
}

// AssistTrader records the agent into the trader's assisted-by set
// @Summary Assist trader
// @Description Grant the agent read access to the trader's records; idempotent
// @Tags agents
// @Produce json
// @Security BearerAuth
// @Param traderId path string true "Trader username"
// @Success 200 {object} map[string]string
// @Failure 404 {object} services.ErrorResponse
// @Router /agents/traders/{traderId}/assist [put]
func (h *AgentHandler) AssistTrader(w http.ResponseWriter, r *http.Request) {
	actor, ok := services.ActorFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	traderID := chi.URLParam(r, "traderId")

	if err := h.service.AssistTrader(r.Context(), actor.UserID, traderID); err != nil {
		writeAgentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"traderId": traderID, "status": "assisting"})
}

// VerifyCredential consumes a trader's one-time credential
// @Summary Verify temporary credential
// @Tags agents
// @Accept json
// @Produce json
// @Param credential body object{username=string,secret=string} true "Credential"
// @Success 200 {object} map[string]bool
// @Failure 401 {object} services.ErrorResponse
// @Router /auth/verify-credential [post]
func (h *AgentHandler) VerifyCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required"`
		Secret   string `json:"secret" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.VerifyCredential(r.Context(), req.Username, req.Secret); err != nil {
		if errors.Is(err, services.ErrCredentialInvalid) {
			services.SendErrorResponse(w, "Invalid or expired credential", http.StatusUnauthorized, nil)
			return
		}
		log.Printf("[AGENT] Credential verification failed: %v", err)
		services.SendErrorResponse(w, "Action failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"valid": true})
}

func writeAgentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrTraderNotFound):
		services.SendErrorResponse(w, "Trader not found", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrUsernameTaken):
		services.SendErrorResponse(w, "Username Already Exists", http.StatusConflict, nil)
	case errors.Is(err, services.ErrEmailTaken):
		services.SendErrorResponse(w, "Email Already Exists", http.StatusConflict, nil)
	case errors.Is(err, services.ErrAmountNotAllowed):
		services.SendErrorResponse(w, "Amount not in allowed set", http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrRateLimited):
		services.SendErrorResponse(w, "Too many submissions", http.StatusTooManyRequests, nil)
	case errors.Is(err, services.ErrUserNotFound):
		services.SendErrorResponse(w, "Not found", http.StatusNotFound, nil)
	default:
		log.Printf("[AGENT] Request failed: %v", err)
		services.SendErrorResponse(w, "Action failed", http.StatusInternalServerError, nil)
	}
}

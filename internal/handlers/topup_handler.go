package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/ficore/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

type TopUpHandler struct {
	service   *services.TopUpService
	notifier  *services.NotificationService
	validator *services.ValidationHelper
}

func NewTopUpHandler(service *services.TopUpService, notifier *services.NotificationService) *TopUpHandler {
	return &TopUpHandler{
		service:   service,
		notifier:  notifier,
		validator: services.NewValidationHelper(),
	}
}

// Submit creates a pending top-up request for the authenticated user
// @Summary Submit top-up request
// @Description Submit a request to add Ficore Credits, pending admin approval
// @Tags credits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,paymentMethod=string,receiptReference=string} true "Top-up request"
// @Success 201 {object} models.TopUpRequest
// @Failure 400 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /credits/topups [post]
func (h *TopUpHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := services.ActorFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount           int64  `json:"amount" validate:"required,gt=0"`
		PaymentMethod    string `json:"paymentMethod" validate:"required,oneof=bank_transfer card ussd cash"`
		ReceiptReference string `json:"receiptReference,omitempty"`
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

	request, err := h.service.SubmitRequest(r.Context(), actor.UserID, req.Amount, req.PaymentMethod, req.ReceiptReference, "")
	if err != nil {
		writeTopUpError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(request)
}

// Resolve approves or denies a pending top-up request
// @Summary Resolve top-up request
// @Description Approve (crediting the ledger) or deny a pending request; a request resolves at most once
// @Tags credits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param requestId path string true "Request ID"
// @Param decision body object{decision=string} true "approve or deny"
// @Success 200 {object} models.TopUpRequest
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /credits/topups/{requestId}/resolve [put]
func (h *TopUpHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actor, ok := services.ActorFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	requestID := chi.URLParam(r, "requestId")

	var req struct {
		Decision string `json:"decision" validate:"required,oneof=approve deny"`
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

	request, err := h.service.ResolveRequest(r.Context(), requestID, req.Decision == "approve", actor.UserID)
	if err != nil {
		writeTopUpError(w, err)
		return
	}

	go h.notifier.NotifyTopUpResolved(request.UserID, string(request.Status))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(request)
}

// ListPending returns the admin review queue
// @Summary List pending top-up requests
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum requests returned (default 50)"
// @Success 200 {array} models.TopUpRequest
// @Router /credits/topups/pending [get]
func (h *TopUpHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	requests, err := h.service.ListPending(r.Context(), limit)
	if err != nil {
		log.Printf("[TOPUP] Failed to list pending requests: %v", err)
		services.SendErrorResponse(w, "Failed to fetch requests", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(requests)
}

// PaymentQR returns the payment reference of a request as a QR PNG
// @Summary Top-up payment QR
// @Tags credits
// @Produce png
// @Security BearerAuth
// @Param requestId path string true "Request ID"
// @Success 200 {file} binary
// @Failure 404 {object} services.ErrorResponse
// @Router /credits/topups/{requestId}/qr [get]
func (h *TopUpHandler) PaymentQR(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	png, err := h.service.PaymentReferenceQR(r.Context(), requestID)
	if err != nil {
		writeTopUpError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func writeTopUpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrRequestNotFound), errors.Is(err, services.ErrUserNotFound):
		services.SendErrorResponse(w, "Not found", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrAlreadyResolved):
		services.SendErrorResponse(w, "Request already resolved", http.StatusConflict, nil)
	case errors.Is(err, services.ErrAmountNotAllowed):
		services.SendErrorResponse(w, "Amount not in allowed set", http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrRateLimited):
		services.SendErrorResponse(w, "Too many submissions", http.StatusTooManyRequests, nil)
	default:
		log.Printf("[TOPUP] Request failed: %v", err)
		services.SendErrorResponse(w, "Action failed", http.StatusInternalServerError, nil)
	}
}

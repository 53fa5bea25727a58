package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unimart/backend/internal/models"
)

// NegotiationService handles price haggling on listings. A negotiation is
// single-round: the seller accepts, rejects or counters, and a counter
// closes the row (the buyer opens a fresh offer at the countered price if
// they want it).
type NegotiationService struct {
	db        *sql.DB
	pricing   *PricingService
	validator *ValidationHelper
}

func NewNegotiationService(db *sql.DB, pricing *PricingService) *NegotiationService {
	return &NegotiationService{
		db:        db,
		pricing:   pricing,
		validator: NewValidationHelper(),
	}
}

// validateOfferPrice enforces the offer invariant against the listed
// price.
func validateOfferPrice(offer, original float64) error {
	if offer <= 0 {
		return errors.New("offer price must be positive")
	}
	if offer > original {
		return fmt.Errorf("offer price %.2f cannot exceed the listed price %.2f", offer, original)
	}
	return nil
}

// validateCounterPrice enforces offer <= counter <= original.
func validateCounterPrice(counter, offer, original float64) error {
	if counter < offer {
		return fmt.Errorf("counter price %.2f cannot be below the buyer's offer %.2f", counter, offer)
	}
	if counter > original {
		return fmt.Errorf("counter price %.2f cannot exceed the listed price %.2f", counter, original)
	}
	return nil
}

func isTerminalNegotiationStatus(status string) bool {
	return status != models.NegotiationStatusPending
}

type CreateNegotiationRequest struct {
	ProductID  int     `json:"productId" validate:"required,gt=0"`
	OfferPrice float64 `json:"offerPrice" validate:"required,gt=0"`
}

// CreateNegotiation godoc
// @Summary Make a price offer on a listed product
// @Tags Negotiations
// @Accept json
// @Produce json
// @Param request body CreateNegotiationRequest true "Offer details"
// @Success 201 {object} models.Negotiation
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/negotiations [post]
func (ns *NegotiationService) CreateNegotiation(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateNegotiationRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := ns.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var sellerID int
	var listedPrice float64
	var productStatus string
	err := ns.db.QueryRowContext(r.Context(),
		`SELECT seller_id, price, status FROM products WHERE id = $1`,
		req.ProductID,
	).Scan(&sellerID, &listedPrice, &productStatus)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Product not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to load product", http.StatusInternalServerError, nil)
		return
	}

	if productStatus != models.ProductStatusActive {
		SendErrorResponse(w, "Product is no longer available", http.StatusBadRequest, nil)
		return
	}
	if sellerID == buyerID {
		SendErrorResponse(w, "You cannot make an offer on your own product", http.StatusBadRequest, nil)
		return
	}
	if err := validateOfferPrice(req.OfferPrice, listedPrice); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	negotiation := &models.Negotiation{
		ProductID:     req.ProductID,
		BuyerID:       buyerID,
		SellerID:      sellerID,
		OriginalPrice: listedPrice,
		OfferPrice:    round2(req.OfferPrice),
		Status:        models.NegotiationStatusPending,
	}

	err = ns.db.QueryRowContext(r.Context(),
		`INSERT INTO negotiations (product_id, buyer_id, seller_id, original_price, offer_price, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW()) RETURNING id, created_at, updated_at`,
		negotiation.ProductID, negotiation.BuyerID, negotiation.SellerID,
		negotiation.OriginalPrice, negotiation.OfferPrice, negotiation.Status,
	).Scan(&negotiation.ID, &negotiation.CreatedAt, &negotiation.UpdatedAt)
	if err != nil {
		log.Printf("[NEGOTIATION] Failed to create offer on product %d: %v", req.ProductID, err)
		SendErrorResponse(w, "Failed to create negotiation", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[NEGOTIATION] Offer %d created: product=%d buyer=%d offer=%.2f", negotiation.ID, req.ProductID, buyerID, negotiation.OfferPrice)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(negotiation)
}

type RespondNegotiationRequest struct {
	Action       string   `json:"action" validate:"required,oneof=accept reject counter"`
	CounterPrice *float64 `json:"counterPrice,omitempty" validate:"omitempty,gt=0"`
}

// RespondToNegotiation godoc
// @Summary Accept, reject or counter a pending offer (seller only)
// @Tags Negotiations
// @Accept json
// @Produce json
// @Param id path int true "Negotiation ID"
// @Param request body RespondNegotiationRequest true "Response"
// @Success 200 {object} map[string]any
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/negotiations/{id} [patch]
func (ns *NegotiationService) RespondToNegotiation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	negotiationID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid negotiation ID", http.StatusBadRequest, nil)
		return
	}

	var req RespondNegotiationRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := ns.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Action == "counter" && req.CounterPrice == nil {
		SendErrorResponse(w, "counterPrice is required when countering", http.StatusBadRequest, nil)
		return
	}

	negotiation, err := ns.loadNegotiation(r, negotiationID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Negotiation not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to load negotiation", http.StatusInternalServerError, nil)
		return
	}

	if userID != negotiation.SellerID {
		SendErrorResponse(w, "Only the seller can respond to an offer", http.StatusForbidden, nil)
		return
	}
	if isTerminalNegotiationStatus(negotiation.Status) {
		SendErrorResponse(w, fmt.Sprintf("Negotiation is already %s", negotiation.Status), http.StatusBadRequest, nil)
		return
	}

	newStatus := models.NegotiationStatusRejected
	var counterPrice *float64
	switch req.Action {
	case "accept":
		newStatus = models.NegotiationStatusAccepted
	case "counter":
		if err := validateCounterPrice(*req.CounterPrice, negotiation.OfferPrice, negotiation.OriginalPrice); err != nil {
			SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
			return
		}
		rounded := round2(*req.CounterPrice)
		counterPrice = &rounded
		newStatus = models.NegotiationStatusCountered
	}

	// CAS on the pending status so two seller tabs cannot both respond.
	result, err := ns.db.ExecContext(r.Context(),
		`UPDATE negotiations SET status = $1, counter_offer_price = $2, updated_at = NOW() WHERE id = $3 AND status = $4`,
		newStatus, counterPrice, negotiationID, models.NegotiationStatusPending,
	)
	if err != nil {
		log.Printf("[NEGOTIATION] Failed to respond to offer %d: %v", negotiationID, err)
		SendErrorResponse(w, "Failed to update negotiation", http.StatusInternalServerError, nil)
		return
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		SendErrorResponse(w, "Negotiation was already resolved", http.StatusConflict, nil)
		return
	}

	negotiation.Status = newStatus
	negotiation.CounterOfferPrice = counterPrice
	log.Printf("[NEGOTIATION] Offer %d %s by seller %d", negotiationID, newStatus, userID)

	response := map[string]any{"negotiation": negotiation}
	if newStatus == models.NegotiationStatusAccepted {
		response["pricing"] = ns.pricing.CalculateNegotiationPricing(negotiation.OfferPrice, "card")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// CancelNegotiation godoc
// @Summary Withdraw a pending offer (buyer only)
// @Tags Negotiations
// @Produce json
// @Param id path int true "Negotiation ID"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/negotiations/{id} [delete]
func (ns *NegotiationService) CancelNegotiation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	negotiationID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid negotiation ID", http.StatusBadRequest, nil)
		return
	}

	negotiation, err := ns.loadNegotiation(r, negotiationID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Negotiation not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to load negotiation", http.StatusInternalServerError, nil)
		return
	}

	if userID != negotiation.BuyerID {
		SendErrorResponse(w, "Only the buyer can withdraw an offer", http.StatusForbidden, nil)
		return
	}
	if isTerminalNegotiationStatus(negotiation.Status) {
		SendErrorResponse(w, fmt.Sprintf("Negotiation is already %s", negotiation.Status), http.StatusBadRequest, nil)
		return
	}

	result, err := ns.db.ExecContext(r.Context(),
		`UPDATE negotiations SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		models.NegotiationStatusCancelled, negotiationID, models.NegotiationStatusPending,
	)
	if err != nil {
		SendErrorResponse(w, "Failed to cancel negotiation", http.StatusInternalServerError, nil)
		return
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		SendErrorResponse(w, "Negotiation was already resolved", http.StatusConflict, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Offer withdrawn"})
}

// ListNegotiations godoc
// @Summary List the caller's negotiations on either side, newest first
// @Tags Negotiations
// @Produce json
// @Success 200 {object} map[string]any
// @Security BearerAuth
// @Router /api/v1/negotiations [get]
func (ns *NegotiationService) ListNegotiations(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := ns.db.QueryContext(r.Context(),
		`SELECT id, product_id, buyer_id, seller_id, original_price, offer_price, counter_offer_price, status, created_at, updated_at FROM negotiations WHERE buyer_id = $1 OR seller_id = $1 ORDER BY created_at DESC LIMIT 50`,
		userID,
	)
	if err != nil {
		SendErrorResponse(w, "Failed to load negotiations", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	negotiations := []models.Negotiation{}
	for rows.Next() {
		var n models.Negotiation
		if err := rows.Scan(&n.ID, &n.ProductID, &n.BuyerID, &n.SellerID, &n.OriginalPrice, &n.OfferPrice, &n.CounterOfferPrice, &n.Status, &n.CreatedAt, &n.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to load negotiations", http.StatusInternalServerError, nil)
			return
		}
		negotiations = append(negotiations, n)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"negotiations": negotiations,
		"count":        len(negotiations),
	})
}

func (ns *NegotiationService) loadNegotiation(r *http.Request, id int) (*models.Negotiation, error) {
	n := &models.Negotiation{}
	err := ns.db.QueryRowContext(r.Context(),
		`SELECT id, product_id, buyer_id, seller_id, original_price, offer_price, counter_offer_price, status, created_at, updated_at FROM negotiations WHERE id = $1`,
		id,
	).Scan(&n.ID, &n.ProductID, &n.BuyerID, &n.SellerID, &n.OriginalPrice, &n.OfferPrice, &n.CounterOfferPrice, &n.Status, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return n, nil
}

package services

import (
	"encoding/json"
	"net/http"

	"github.com/unimart/backend/internal/config"
)

// PricingAPI exposes the pricing engine over HTTP so clients can show
// live breakdowns before an order exists.
type PricingAPI struct {
	pricing   *PricingService
	cfg       *config.Pricing
	validator *ValidationHelper
}

func NewPricingAPI(pricing *PricingService, cfg *config.Pricing) *PricingAPI {
	return &PricingAPI{
		pricing:   pricing,
		cfg:       cfg,
		validator: NewValidationHelper(),
	}
}

type CalculatePricingRequest struct {
	SellerPrice   float64 `json:"sellerPrice" validate:"required,gt=0"`
	PaymentMethod string  `json:"paymentMethod" validate:"required,oneof=card bank_transfer ussd"`
}

// Calculate godoc
// @Summary Price an order from the seller's desired proceeds
// @Tags Pricing
// @Accept json
// @Produce json
// @Param request body CalculatePricingRequest true "Seller price and payment method"
// @Success 200 {object} models.PricingBreakdown
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/pricing/calculate [post]
func (pa *PricingAPI) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculatePricingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := pa.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pa.pricing.CalculateFromSellerPrice(req.SellerPrice, req.PaymentMethod))
}

type ReversePricingRequest struct {
	BuyerPrice    float64 `json:"buyerPrice" validate:"required,gt=0"`
	PaymentMethod string  `json:"paymentMethod" validate:"required,oneof=card bank_transfer ussd"`
}

// Reverse godoc
// @Summary Recover a seller price from a buyer-facing total
// @Tags Pricing
// @Accept json
// @Produce json
// @Param request body ReversePricingRequest true "Buyer total and payment method"
// @Success 200 {object} models.PricingBreakdown
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/pricing/reverse [post]
func (pa *PricingAPI) Reverse(w http.ResponseWriter, r *http.Request) {
	var req ReversePricingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := pa.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pa.pricing.CalculateFromBuyerPrice(req.BuyerPrice, req.PaymentMethod))
}

// GetConfig godoc
// @Summary Current pricing policy: commission, fee schedules and limits
// @Tags Pricing
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/v1/pricing/config [get]
func (pa *PricingAPI) GetConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"commissionRate":          pa.pricing.CommissionRate(),
		"fees":                    pa.cfg.Fees,
		"minDeposit":              pa.cfg.MinDeposit,
		"minWithdrawal":           pa.cfg.MinWithdrawal,
		"unverifiedWithdrawalCap": pa.cfg.UnverifiedWithdrawalCap,
	})
}

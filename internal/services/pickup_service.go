package services

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/unimart/backend/internal/models"
)

const pickupCodeTTL = 24 * time.Hour

// PickupService issues one-time codes for in-person handoffs. The buyer
// fetches a code (and its QR render) once the order is ready_for_pickup;
// the seller redeems it at handoff, which marks the order delivered.
// Codes live in Redis under the pickup TTL and burn on redemption.
type PickupService struct {
	redis     *redis.Client
	orders    *OrderService
	validator *ValidationHelper
}

func NewPickupService(redisClient *redis.Client, orders *OrderService) *PickupService {
	return &PickupService{
		redis:     redisClient,
		orders:    orders,
		validator: NewValidationHelper(),
	}
}

func pickupKey(orderID string) string { return "pickup:" + orderID }

func newPickupCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// GetPickupCode godoc
// @Summary Fetch the buyer's one-time pickup code and QR image
// @Tags Orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/orders/{id}/pickup-code [get]
func (ps *PickupService) GetPickupCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	if ps.redis == nil {
		SendErrorResponse(w, "Pickup codes are unavailable right now", http.StatusServiceUnavailable, nil)
		return
	}

	order, err := ps.orders.loadOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to load order", http.StatusInternalServerError, nil)
		return
	}

	if userID != order.BuyerID {
		SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		return
	}
	if order.DeliveryMethod != models.DeliveryMethodPickup {
		SendErrorResponse(w, "Order is not a pickup order", http.StatusBadRequest, nil)
		return
	}
	if order.Status != models.OrderStatusReadyForPickup {
		SendErrorResponse(w, "Order is not ready for pickup", http.StatusBadRequest, nil)
		return
	}

	// Reuse an outstanding code so refreshing the page doesn't burn it.
	code, err := ps.redis.Get(r.Context(), pickupKey(order.ID)).Result()
	if err == redis.Nil {
		code, err = newPickupCode()
		if err == nil {
			err = ps.redis.Set(r.Context(), pickupKey(order.ID), code, pickupCodeTTL).Err()
		}
	}
	if err != nil {
		log.Printf("[PICKUP] Failed to issue code for order %s: %v", order.ID, err)
		SendErrorResponse(w, "Failed to issue pickup code", http.StatusInternalServerError, nil)
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		log.Printf("[PICKUP] Failed to render QR for order %s: %v", order.ID, err)
		SendErrorResponse(w, "Failed to render pickup code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"code":   code,
		"qrCode": "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	})
}

type RedeemPickupRequest struct {
	Code string `json:"code" validate:"required,len=8,alphanum"`
}

// RedeemPickupCode godoc
// @Summary Redeem a buyer's pickup code at handoff (seller only)
// @Description A valid code marks the order delivered and burns the code.
// @Tags Orders
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body RedeemPickupRequest true "Pickup code"
// @Success 200 {object} models.Order
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/orders/{id}/pickup/redeem [post]
func (ps *PickupService) RedeemPickupCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	if ps.redis == nil {
		SendErrorResponse(w, "Pickup codes are unavailable right now", http.StatusServiceUnavailable, nil)
		return
	}

	var req RedeemPickupRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := ps.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	order, err := ps.orders.loadOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to load order", http.StatusInternalServerError, nil)
		return
	}

	if userID != order.SellerID {
		SendErrorResponse(w, "Only the seller can redeem a pickup code", http.StatusForbidden, nil)
		return
	}

	stored, err := ps.redis.Get(r.Context(), pickupKey(order.ID)).Result()
	if err != nil && err != redis.Nil {
		log.Printf("[PICKUP] Failed to look up code for order %s: %v", order.ID, err)
		SendErrorResponse(w, "Failed to verify pickup code", http.StatusInternalServerError, nil)
		return
	}
	if err == redis.Nil || !strings.EqualFold(stored, req.Code) {
		SendErrorResponse(w, "Invalid or expired pickup code", http.StatusBadRequest, nil)
		return
	}

	if err := checkTransition(order, userID, models.OrderStatusDelivered); err != nil {
		ps.orders.sendTransitionError(w, err)
		return
	}
	if err := ps.orders.applyTransition(r.Context(), order, models.OrderStatusDelivered, userID, "Pickup code redeemed"); err != nil {
		if errors.Is(err, ErrTransitionConflict) {
			SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
			return
		}
		SendErrorResponse(w, "Failed to update order", http.StatusInternalServerError, nil)
		return
	}

	ps.redis.Del(r.Context(), pickupKey(order.ID))
	log.Printf("[PICKUP] Order %s delivered via pickup code", order.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/unimart/backend/internal/metrics"
	"github.com/unimart/backend/internal/models"
	"github.com/unimart/backend/internal/notifier"
	"github.com/unimart/backend/internal/squad"
)

// ErrTransitionConflict means the order moved under us between load and
// write. Clients retry with the fresh status.
var ErrTransitionConflict = errors.New("order status changed concurrently, retry")

// OrderService owns order creation and the lifecycle state machine. Every
// status write is a compare-and-set against the loaded status plus an
// audit row, in one database transaction.
type OrderService struct {
	db        *sql.DB
	squad     *squad.Client
	pricing   *PricingService
	wallet    *WalletService
	notifier  *notifier.Service
	metrics   *metrics.Registry
	validator *ValidationHelper
	opsToken  string
}

func NewOrderService(db *sql.DB, squadClient *squad.Client, pricing *PricingService, wallet *WalletService, mailer *notifier.Service, m *metrics.Registry, opsToken string) *OrderService {
	return &OrderService{
		db:        db,
		squad:     squadClient,
		pricing:   pricing,
		wallet:    wallet,
		notifier:  mailer,
		metrics:   m,
		validator: NewValidationHelper(),
		opsToken:  opsToken,
	}
}

type CreateOrderRequest struct {
	ProductID      int    `json:"productId" validate:"required,gt=0"`
	PaymentMethod  string `json:"paymentMethod" validate:"required,oneof=card bank_transfer ussd"`
	DeliveryMethod string `json:"deliveryMethod" validate:"required,oneof=pickup delivery"`
	NegotiationID  *int   `json:"negotiationId,omitempty" validate:"omitempty,gt=0"`
}

// CreateOrder godoc
// @Summary Create an order for a listed product and open payment checkout
// @Tags Orders
// @Accept json
// @Produce json
// @Param request body CreateOrderRequest true "Order details"
// @Success 201 {object} map[string]any
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/orders [post]
func (os *OrderService) CreateOrder(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateOrderRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := os.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var sellerID int
	var listedPrice float64
	var productStatus string
	err := os.db.QueryRowContext(r.Context(),
		`SELECT seller_id, price, status FROM products WHERE id = $1`,
		req.ProductID,
	).Scan(&sellerID, &listedPrice, &productStatus)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Product not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[ORDER] Failed to load product %d: %v", req.ProductID, err)
		SendErrorResponse(w, "Failed to load product", http.StatusInternalServerError, nil)
		return
	}

	if productStatus != models.ProductStatusActive {
		SendErrorResponse(w, "Product is no longer available", http.StatusBadRequest, nil)
		return
	}
	if sellerID == buyerID {
		SendErrorResponse(w, "You cannot buy your own product", http.StatusBadRequest, nil)
		return
	}

	agreedPrice := listedPrice
	if req.NegotiationID != nil {
		var offerPrice float64
		var negotiationStatus string
		err := os.db.QueryRowContext(r.Context(),
			`SELECT COALESCE(counter_offer_price, offer_price), status FROM negotiations WHERE id = $1 AND product_id = $2 AND buyer_id = $3`,
			*req.NegotiationID, req.ProductID, buyerID,
		).Scan(&offerPrice, &negotiationStatus)
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Negotiation not found", http.StatusNotFound, nil)
			return
		}
		if err != nil {
			SendErrorResponse(w, "Failed to load negotiation", http.StatusInternalServerError, nil)
			return
		}
		if negotiationStatus != models.NegotiationStatusAccepted {
			SendErrorResponse(w, "Negotiation is not accepted", http.StatusBadRequest, nil)
			return
		}
		agreedPrice = offerPrice
	}

	breakdown := os.pricing.CalculateFromSellerPrice(agreedPrice, req.PaymentMethod)

	order := &models.Order{
		ID:             uuid.NewString(),
		BuyerID:        buyerID,
		SellerID:       sellerID,
		ProductID:      req.ProductID,
		TotalAmount:    breakdown.BuyerPays,
		SellerAmount:   breakdown.SellerReceives,
		Commission:     breakdown.PlatformCommission,
		GatewayFee:     breakdown.PaymentFee,
		CommissionRate: breakdown.CommissionRate,
		PaymentMethod:  req.PaymentMethod,
		DeliveryMethod: req.DeliveryMethod,
		Status:         models.OrderStatusPending,
	}
	order.PaymentRef = "ORD-" + order.ID

	tx, err := os.db.BeginTx(r.Context(), nil)
	if err != nil {
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO orders (id, buyer_id, seller_id, product_id, total_amount, seller_amount, commission, gateway_fee, commission_rate, payment_method, delivery_method, status, payment_ref, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())`,
		order.ID, order.BuyerID, order.SellerID, order.ProductID,
		order.TotalAmount, order.SellerAmount, order.Commission, order.GatewayFee, order.CommissionRate,
		order.PaymentMethod, order.DeliveryMethod, order.Status, order.PaymentRef,
	)
	if err != nil {
		log.Printf("[ORDER] Failed to insert order %s: %v", order.ID, err)
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}
	if err := os.insertHistory(tx, order.ID, models.OrderStatusPending, buyerID, "Order created"); err != nil {
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}
	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}

	var buyerEmail string
	if err := os.db.QueryRowContext(r.Context(), `SELECT email FROM users WHERE id = $1`, buyerID).Scan(&buyerEmail); err != nil {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	session, err := os.squad.InitializePayment(r.Context(), order.TotalAmount, buyerEmail, order.PaymentRef, paymentChannels(req.PaymentMethod))
	if err != nil {
		var sqErr *squad.Error
		if errors.As(err, &sqErr) {
			SendErrorResponse(w, sqErr.Message, sqErr.HTTPStatus(), nil)
			return
		}
		SendErrorResponse(w, "Payment gateway unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	os.metrics.RecordOrderCreated(order.PaymentMethod)
	log.Printf("[ORDER] Order %s created: buyer=%d seller=%d total=%.2f", order.ID, buyerID, sellerID, order.TotalAmount)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"order":       order,
		"pricing":     breakdown,
		"checkoutUrl": session.CheckoutURL,
	})
}

func paymentChannels(method string) []string {
	switch method {
	case "bank_transfer":
		return []string{"bank"}
	case "ussd":
		return []string{"ussd"}
	default:
		return []string{"card"}
	}
}

// loadOrder fetches one order by ID.
func (os *OrderService) loadOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order := &models.Order{}
	err := os.db.QueryRowContext(ctx,
		`SELECT id, buyer_id, seller_id, product_id, total_amount, seller_amount, commission, gateway_fee, commission_rate, payment_method, delivery_method, status, payment_ref, created_at, updated_at FROM orders WHERE id = $1`,
		orderID,
	).Scan(
		&order.ID, &order.BuyerID, &order.SellerID, &order.ProductID,
		&order.TotalAmount, &order.SellerAmount, &order.Commission, &order.GatewayFee, &order.CommissionRate,
		&order.PaymentMethod, &order.DeliveryMethod, &order.Status, &order.PaymentRef,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return order, nil
}

// LoadOrderByPaymentRef resolves a gateway reference back to its order.
func (os *OrderService) LoadOrderByPaymentRef(ctx context.Context, paymentRef string) (*models.Order, error) {
	var orderID string
	err := os.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE payment_ref = $1`, paymentRef).Scan(&orderID)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve payment ref: %w", err)
	}
	return os.loadOrder(ctx, orderID)
}

func (os *OrderService) insertHistory(tx *sql.Tx, orderID, status string, changedBy int, note string) error {
	_, err := tx.Exec(
		`INSERT INTO order_status_history (order_id, status, changed_by, note, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		orderID, status, changedBy, note,
	)
	if err != nil {
		return fmt.Errorf("failed to record status history: %w", err)
	}
	return nil
}

// applyTransition writes the new status with a compare-and-set on the
// status we validated against, plus the audit row, in one transaction.
// Zero rows on the CAS means a concurrent writer won; that attempt loses
// cleanly and the audit trail stays linear.
func (os *OrderService) applyTransition(ctx context.Context, order *models.Order, newStatus string, changedBy int, note string) error {
	tx, err := os.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		newStatus, order.ID, order.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if rows == 0 {
		return ErrTransitionConflict
	}

	if err := os.insertHistory(tx, order.ID, newStatus, changedBy, note); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	os.metrics.RecordTransition(order.Status, newStatus)
	log.Printf("[ORDER] Order %s: %s -> %s (by %d)", order.ID, order.Status, newStatus, changedBy)

	if os.notifier != nil {
		go os.notifyStatusChange(order, newStatus)
	}

	order.Status = newStatus
	return nil
}

// SystemTransition applies a system-actor move (paid, completed,
// refunded). Only internal reconciliation paths call this; it bypasses
// the actor check but never the legality check.
func (os *OrderService) SystemTransition(ctx context.Context, orderID, newStatus, note string) (*models.Order, error) {
	order, err := os.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !canTransition(order.Status, newStatus) {
		return nil, &InvalidTransitionError{
			From:    order.Status,
			To:      newStatus,
			Allowed: allowedNextStatuses(order.Status),
		}
	}

	if err := os.applyTransition(ctx, order, newStatus, 0, note); err != nil {
		return nil, err
	}
	return order, nil
}

// MarkPaid is the webhook entry point: pending -> paid plus the escrow
// hold for the seller's share. Resumable: if a previous delivery applied
// the transition but the escrow hold failed, the retry skips the
// transition and places the missing hold.
func (os *OrderService) MarkPaid(ctx context.Context, orderID string) error {
	order, err := os.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}

	switch order.Status {
	case models.OrderStatusPending:
		if err := os.applyTransition(ctx, order, models.OrderStatusPaid, 0, "Payment confirmed by gateway"); err != nil {
			return err
		}
	case models.OrderStatusPaid:
		// Retry after a partial settlement; the hold below is idempotent.
	default:
		return &InvalidTransitionError{
			From:    order.Status,
			To:      models.OrderStatusPaid,
			Allowed: allowedNextStatuses(order.Status),
		}
	}

	if err := os.wallet.HoldEscrow(ctx, order.SellerID, order.SellerAmount, order.ID); err != nil {
		return fmt.Errorf("order %s marked paid but escrow hold failed: %w", orderID, err)
	}

	if _, err := os.db.ExecContext(ctx,
		`UPDATE products SET status = $1, updated_at = NOW() WHERE id = $2`,
		models.ProductStatusSold, order.ProductID,
	); err != nil {
		log.Printf("[ORDER] Failed to mark product %d sold for order %s: %v", order.ProductID, orderID, err)
	}
	return nil
}

// finalize runs the buyer_confirmed -> completed system step and pays the
// seller out of escrow.
func (os *OrderService) finalize(ctx context.Context, order *models.Order) {
	completed, err := os.SystemTransition(ctx, order.ID, models.OrderStatusCompleted, "Buyer confirmed receipt")
	if err != nil {
		log.Printf("[ORDER] Failed to complete order %s: %v", order.ID, err)
		return
	}
	if err := os.wallet.ReleaseEscrow(ctx, completed.SellerID, completed.SellerAmount, completed.ID); err != nil {
		log.Printf("[ORDER] CRITICAL: order %s completed but escrow release failed: %v", order.ID, err)
	}
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note" validate:"omitempty,max=500"`
}

// UpdateOrderStatus godoc
// @Summary Apply a lifecycle transition to an order
// @Tags Orders
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body UpdateOrderStatusRequest true "Target status"
// @Success 200 {object} models.Order
// @Failure 400 {object} TransitionErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/orders/{id}/status [patch]
func (os *OrderService) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	orderID := chi.URLParam(r, "id")

	var req UpdateOrderStatusRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := os.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	order, err := os.loadOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to load order", http.StatusInternalServerError, nil)
		return
	}

	wasPaid := order.Status != models.OrderStatusPending

	if err := checkTransition(order, userID, req.Status); err != nil {
		os.sendTransitionError(w, err)
		return
	}

	if err := os.applyTransition(r.Context(), order, req.Status, userID, req.Note); err != nil {
		if errors.Is(err, ErrTransitionConflict) {
			os.metrics.RecordTransitionError("conflict")
			SendErrorResponse(w, ErrTransitionConflict.Error(), http.StatusConflict, nil)
			return
		}
		SendErrorResponse(w, "Failed to update order", http.StatusInternalServerError, nil)
		return
	}

	switch req.Status {
	case models.OrderStatusBuyerConfirmed:
		os.finalize(r.Context(), order)
	case models.OrderStatusCancelled:
		if wasPaid {
			if err := os.wallet.RefundOrder(r.Context(), order.BuyerID, order.SellerID, order.SellerAmount, order.TotalAmount, order.ID); err != nil {
				log.Printf("[ORDER] CRITICAL: order %s cancelled but refund failed: %v", order.ID, err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

func (os *OrderService) sendTransitionError(w http.ResponseWriter, err error) {
	var invalid *InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		os.metrics.RecordTransitionError("illegal_edge")
		SendTransitionError(w, invalid)
	case errors.Is(err, ErrNotParticipant):
		os.metrics.RecordTransitionError("not_participant")
		SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, ErrActorNotAllowed), errors.Is(err, ErrSystemOnlyStatus):
		os.metrics.RecordTransitionError("wrong_actor")
		SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, ErrUnknownStatus):
		os.metrics.RecordTransitionError("unknown_status")
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	default:
		SendErrorResponse(w, "Failed to update order", http.StatusInternalServerError, nil)
	}
}

// GetOrder godoc
// @Summary Fetch one order (participants only)
// @Tags Orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} models.Order
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/orders/{id} [get]
func (os *OrderService) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	order, err := os.loadOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to load order", http.StatusInternalServerError, nil)
		return
	}
	if userID != order.BuyerID && userID != order.SellerID {
		SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"order":           order,
		"allowedStatuses": allowedNextStatuses(order.Status),
	})
}

// ListOrders godoc
// @Summary List the caller's orders as buyer or seller, newest first
// @Tags Orders
// @Produce json
// @Param role query string false "buyer or seller (default both)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Success 200 {object} map[string]any
// @Security BearerAuth
// @Router /api/v1/orders [get]
func (os *OrderService) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	query := `SELECT id, buyer_id, seller_id, product_id, total_amount, seller_amount, commission, gateway_fee, commission_rate, payment_method, delivery_method, status, payment_ref, created_at, updated_at FROM orders WHERE (buyer_id = $1 OR seller_id = $1) ORDER BY created_at DESC LIMIT $2`
	switch r.URL.Query().Get("role") {
	case "buyer":
		query = `SELECT id, buyer_id, seller_id, product_id, total_amount, seller_amount, commission, gateway_fee, commission_rate, payment_method, delivery_method, status, payment_ref, created_at, updated_at FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC LIMIT $2`
	case "seller":
		query = `SELECT id, buyer_id, seller_id, product_id, total_amount, seller_amount, commission, gateway_fee, commission_rate, payment_method, delivery_method, status, payment_ref, created_at, updated_at FROM orders WHERE seller_id = $1 ORDER BY created_at DESC LIMIT $2`
	}

	rows, err := os.db.QueryContext(r.Context(), query, userID, limit)
	if err != nil {
		log.Printf("[ORDER] Failed to list orders for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to load orders", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(
			&order.ID, &order.BuyerID, &order.SellerID, &order.ProductID,
			&order.TotalAmount, &order.SellerAmount, &order.Commission, &order.GatewayFee, &order.CommissionRate,
			&order.PaymentMethod, &order.DeliveryMethod, &order.Status, &order.PaymentRef,
			&order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			SendErrorResponse(w, "Failed to load orders", http.StatusInternalServerError, nil)
			return
		}
		orders = append(orders, order)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"orders": orders,
		"count":  len(orders),
	})
}

// GetOrderHistory godoc
// @Summary Fetch the audit trail of an order's status changes
// @Tags Orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} map[string]any
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/orders/{id}/history [get]
func (os *OrderService) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	order, err := os.loadOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to load order", http.StatusInternalServerError, nil)
		return
	}
	if userID != order.BuyerID && userID != order.SellerID {
		SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		return
	}

	rows, err := os.db.QueryContext(r.Context(),
		`SELECT id, order_id, status, changed_by, note, created_at FROM order_status_history WHERE order_id = $1 ORDER BY created_at ASC, id ASC`,
		order.ID,
	)
	if err != nil {
		SendErrorResponse(w, "Failed to load history", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	history := []models.OrderStatusHistory{}
	for rows.Next() {
		var entry models.OrderStatusHistory
		if err := rows.Scan(&entry.ID, &entry.OrderID, &entry.Status, &entry.ChangedBy, &entry.Note, &entry.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to load history", http.StatusInternalServerError, nil)
			return
		}
		history = append(history, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"orderId": order.ID,
		"history": history,
	})
}

type ResolveDisputeRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=refund release"`
	Note    string `json:"note" validate:"omitempty,max=500"`
}

// ResolveDispute godoc
// @Summary Resolve a disputed order (ops only)
// @Description Settles a dispute either by refunding the buyer or
// releasing escrow to the seller. Guarded by the internal ops token, not
// user auth.
// @Tags Orders
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body ResolveDisputeRequest true "Resolution"
// @Success 200 {object} models.Order
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /internal/orders/{id}/resolve [post]
func (os *OrderService) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	if os.opsToken == "" || subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Ops-Token")), []byte(os.opsToken)) != 1 {
		SendErrorResponse(w, "Not found", http.StatusNotFound, nil)
		return
	}

	var req ResolveDisputeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := os.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	target := models.OrderStatusRefunded
	note := "Dispute resolved in buyer's favour"
	if req.Outcome == "release" {
		target = models.OrderStatusCompleted
		note = "Dispute resolved in seller's favour"
	}
	if req.Note != "" {
		note = req.Note
	}

	order, err := os.SystemTransition(r.Context(), chi.URLParam(r, "id"), target, note)
	if err != nil {
		var invalid *InvalidTransitionError
		switch {
		case errors.Is(err, ErrOrderNotFound):
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
		case errors.As(err, &invalid):
			SendTransitionError(w, invalid)
		case errors.Is(err, ErrTransitionConflict):
			SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
		default:
			SendErrorResponse(w, "Failed to resolve dispute", http.StatusInternalServerError, nil)
		}
		return
	}

	if req.Outcome == "refund" {
		if err := os.wallet.RefundOrder(r.Context(), order.BuyerID, order.SellerID, order.SellerAmount, order.TotalAmount, order.ID); err != nil {
			log.Printf("[ORDER] CRITICAL: order %s refunded but wallet refund failed: %v", order.ID, err)
		}
	} else {
		if err := os.wallet.ReleaseEscrow(r.Context(), order.SellerID, order.SellerAmount, order.ID); err != nil {
			log.Printf("[ORDER] CRITICAL: order %s released but escrow release failed: %v", order.ID, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// notifyStatusChange emails whoever cares about the new status. Best
// effort on a caller goroutine.
func (os *OrderService) notifyStatusChange(order *models.Order, newStatus string) {
	recipientID := order.BuyerID
	if newStatus == models.OrderStatusPaid || newStatus == models.OrderStatusCompleted {
		recipientID = order.SellerID
	}

	var email string
	if err := os.db.QueryRow(`SELECT email FROM users WHERE id = $1`, recipientID).Scan(&email); err != nil {
		log.Printf("[ORDER] Failed to resolve notification recipient for order %s: %v", order.ID, err)
		return
	}
	os.notifier.SendOrderEmail(email, order, newStatus)
}

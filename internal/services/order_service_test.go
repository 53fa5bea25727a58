package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unimart/backend/internal/config"
	"github.com/unimart/backend/internal/metrics"
	"github.com/unimart/backend/internal/models"
	"github.com/unimart/backend/internal/squad"
)

const testOrderID = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

func newTestOrderService(t *testing.T) (*OrderService, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := metrics.NewWith(prometheus.NewRegistry())
	pricing := NewPricingService(testPricingConfig())
	wallet := &WalletService{
		db:        db,
		pricing:   pricing,
		metrics:   registry,
		validator: NewValidationHelper(),
		cfg:       testPricingConfig(),
	}

	return &OrderService{
		db:        db,
		pricing:   pricing,
		wallet:    wallet,
		metrics:   registry,
		validator: NewValidationHelper(),
	}, mock
}

func authedRequest(method, target, body string, userID int) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := context.WithValue(req.Context(), "userID", strconv.Itoa(userID))
	return req.WithContext(ctx)
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func orderColumns() []string {
	return []string{
		"id", "buyer_id", "seller_id", "product_id",
		"total_amount", "seller_amount", "commission", "gateway_fee", "commission_rate",
		"payment_method", "delivery_method", "status", "payment_ref",
		"created_at", "updated_at",
	}
}

func orderRow(mockRows *sqlmock.Rows, status string) *sqlmock.Rows {
	return mockRows.AddRow(
		testOrderID, 10, 20, 5,
		11100.0, 9000.0, 1000.0, 100.0, 0.10,
		"bank_transfer", "delivery", status, "ORD-"+testOrderID,
		time.Now(), time.Now(),
	)
}

func expectOrderLoad(mock sqlmock.Sqlmock, status string) {
	mock.ExpectQuery(`SELECT .+ FROM orders WHERE id = \$1`).
		WithArgs(testOrderID).
		WillReturnRows(orderRow(sqlmock.NewRows(orderColumns()), status))
}

func TestUpdateOrderStatus(t *testing.T) {
	statusURL := "/api/v1/orders/" + testOrderID + "/status"

	t.Run("seller confirms a paid order", func(t *testing.T) {
		svc, mock := newTestOrderService(t)

		expectOrderLoad(mock, models.OrderStatusPaid)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE orders SET status = \$1, updated_at = NOW\(\) WHERE id = \$2 AND status = \$3`).
			WithArgs(models.OrderStatusSellerConfirmed, testOrderID, models.OrderStatusPaid).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_status_history`).
			WithArgs(testOrderID, models.OrderStatusSellerConfirmed, 20, "").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodPatch, statusURL, `{"status":"seller_confirmed"}`, 20), "id", testOrderID)
		svc.UpdateOrderStatus(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var order models.Order
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
		assert.Equal(t, models.OrderStatusSellerConfirmed, order.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("buyer cannot mark the order shipped", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		expectOrderLoad(mock, models.OrderStatusPreparing)

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodPatch, statusURL, `{"status":"shipped"}`, 10), "id", testOrderID)
		svc.UpdateOrderStatus(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("paid is rejected for users because it is system only", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		expectOrderLoad(mock, models.OrderStatusPending)

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodPatch, statusURL, `{"status":"paid"}`, 10), "id", testOrderID)
		svc.UpdateOrderStatus(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Error, "system")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("illegal edge returns the allowed set", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		expectOrderLoad(mock, models.OrderStatusPaid)

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodPatch, statusURL, `{"status":"delivered"}`, 20), "id", testOrderID)
		svc.UpdateOrderStatus(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp TransitionErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, models.OrderStatusPaid, resp.CurrentStatus)
		assert.Equal(t, models.OrderStatusDelivered, resp.RequestedStatus)
		assert.ElementsMatch(t, []string{"seller_confirmed", "cancelled", "disputed"}, resp.AllowedStatuses)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stranger gets not participant", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		expectOrderLoad(mock, models.OrderStatusPaid)

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodPatch, statusURL, `{"status":"seller_confirmed"}`, 99), "id", testOrderID)
		svc.UpdateOrderStatus(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("losing the compare-and-set race returns conflict", func(t *testing.T) {
		svc, mock := newTestOrderService(t)

		expectOrderLoad(mock, models.OrderStatusPaid)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE orders SET status = \$1`).
			WithArgs(models.OrderStatusSellerConfirmed, testOrderID, models.OrderStatusPaid).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodPatch, statusURL, `{"status":"seller_confirmed"}`, 20), "id", testOrderID)
		svc.UpdateOrderStatus(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown order returns not found", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectQuery(`SELECT .+ FROM orders WHERE id = \$1`).
			WithArgs(testOrderID).
			WillReturnError(sql.ErrNoRows)

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodPatch, statusURL, `{"status":"cancelled"}`, 10), "id", testOrderID)
		svc.UpdateOrderStatus(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("buyer confirmation completes the order and releases escrow", func(t *testing.T) {
		svc, mock := newTestOrderService(t)

		// buyer applies buyer_confirmed
		expectOrderLoad(mock, models.OrderStatusDelivered)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE orders SET status = \$1`).
			WithArgs(models.OrderStatusBuyerConfirmed, testOrderID, models.OrderStatusDelivered).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_status_history`).
			WithArgs(testOrderID, models.OrderStatusBuyerConfirmed, 10, "").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		// system completes
		expectOrderLoad(mock, models.OrderStatusBuyerConfirmed)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE orders SET status = \$1`).
			WithArgs(models.OrderStatusCompleted, testOrderID, models.OrderStatusBuyerConfirmed).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_status_history`).
			WithArgs(testOrderID, models.OrderStatusCompleted, 0, "Buyer confirmed receipt").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		// escrow release pays the seller
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .+ FROM wallets WHERE user_id = \$1 FOR UPDATE`).
			WithArgs(20).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "escrow_balance", "version"}).
				AddRow(3, 20, 500.0, 9000.0, 4))
		mock.ExpectExec(`UPDATE wallets SET balance = \$1`).
			WithArgs(9500.0, 0.0, 3, 4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO transactions`).
			WithArgs(3, models.TxTypeEscrowRelease, 9000.0, models.TxStatusCompleted, testOrderID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`INSERT INTO transactions`).
			WithArgs(3, models.TxTypeSale, 9000.0, models.TxStatusCompleted, testOrderID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodPatch, statusURL, `{"status":"buyer_confirmed"}`, 10), "id", testOrderID)
		svc.UpdateOrderStatus(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetOrder(t *testing.T) {
	t.Run("participant sees the order and its allowed moves", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		expectOrderLoad(mock, models.OrderStatusPaid)

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodGet, "/api/v1/orders/"+testOrderID, "", 10), "id", testOrderID)
		svc.GetOrder(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Order           models.Order `json:"order"`
			AllowedStatuses []string     `json:"allowedStatuses"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, testOrderID, resp.Order.ID)
		assert.ElementsMatch(t, []string{"seller_confirmed", "cancelled", "disputed"}, resp.AllowedStatuses)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("strangers cannot see the order", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		expectOrderLoad(mock, models.OrderStatusPaid)

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodGet, "/api/v1/orders/"+testOrderID, "", 99), "id", testOrderID)
		svc.GetOrder(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateOrder(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initiate", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"status": 200, "success": true, "message": "ok",
			"data": map[string]string{"checkout_url": "https://checkout.test/session"},
		})
	}))
	defer gateway.Close()

	t.Run("creates a pending order with a pricing snapshot", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		svc.squad = squad.NewClient(&config.Squad{BaseURL: gateway.URL, SecretKey: "sk_test"})

		mock.ExpectQuery(`SELECT seller_id, price, status FROM products WHERE id = \$1`).
			WithArgs(5).
			WillReturnRows(sqlmock.NewRows([]string{"seller_id", "price", "status"}).
				AddRow(20, 10000.0, models.ProductStatusActive))
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO orders`).
			WithArgs(sqlmock.AnyArg(), 10, 20, 5,
				11100.0, 9000.0, 1000.0, 100.0, 0.10,
				"bank_transfer", "delivery", models.OrderStatusPending, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`INSERT INTO order_status_history`).
			WithArgs(sqlmock.AnyArg(), models.OrderStatusPending, 10, "Order created").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		mock.ExpectQuery(`SELECT email FROM users WHERE id = \$1`).
			WithArgs(10).
			WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("buyer@campus.edu"))

		body := `{"productId":5,"paymentMethod":"bank_transfer","deliveryMethod":"delivery"}`
		w := httptest.NewRecorder()
		svc.CreateOrder(w, authedRequest(http.MethodPost, "/api/v1/orders", body, 10))

		assert.Equal(t, http.StatusCreated, w.Code)
		var resp struct {
			Order       models.Order            `json:"order"`
			Pricing     models.PricingBreakdown `json:"pricing"`
			CheckoutURL string                  `json:"checkoutUrl"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, models.OrderStatusPending, resp.Order.Status)
		assert.Equal(t, 11100.0, resp.Pricing.BuyerPays)
		assert.Equal(t, 9000.0, resp.Pricing.SellerReceives)
		assert.Equal(t, "https://checkout.test/session", resp.CheckoutURL)
		assert.Equal(t, "ORD-"+resp.Order.ID, resp.Order.PaymentRef)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("buying your own product is rejected", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectQuery(`SELECT seller_id, price, status FROM products WHERE id = \$1`).
			WithArgs(5).
			WillReturnRows(sqlmock.NewRows([]string{"seller_id", "price", "status"}).
				AddRow(10, 10000.0, models.ProductStatusActive))

		body := `{"productId":5,"paymentMethod":"card","deliveryMethod":"pickup"}`
		w := httptest.NewRecorder()
		svc.CreateOrder(w, authedRequest(http.MethodPost, "/api/v1/orders", body, 10))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sold products cannot be ordered", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		mock.ExpectQuery(`SELECT seller_id, price, status FROM products WHERE id = \$1`).
			WithArgs(5).
			WillReturnRows(sqlmock.NewRows([]string{"seller_id", "price", "status"}).
				AddRow(20, 10000.0, models.ProductStatusSold))

		body := `{"productId":5,"paymentMethod":"card","deliveryMethod":"pickup"}`
		w := httptest.NewRecorder()
		svc.CreateOrder(w, authedRequest(http.MethodPost, "/api/v1/orders", body, 10))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown fields in the body are rejected", func(t *testing.T) {
		svc, _ := newTestOrderService(t)

		body := `{"productId":5,"paymentMethod":"card","deliveryMethod":"pickup","admin":true}`
		w := httptest.NewRecorder()
		svc.CreateOrder(w, authedRequest(http.MethodPost, "/api/v1/orders", body, 10))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMarkPaid(t *testing.T) {
	t.Run("webhook settlement holds the seller amount in escrow", func(t *testing.T) {
		svc, mock := newTestOrderService(t)

		expectOrderLoad(mock, models.OrderStatusPending)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE orders SET status = \$1`).
			WithArgs(models.OrderStatusPaid, testOrderID, models.OrderStatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_status_history`).
			WithArgs(testOrderID, models.OrderStatusPaid, 0, "Payment confirmed by gateway").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		// lazy wallet creation for the seller, then the escrow hold
		mock.ExpectQuery(`SELECT .+ FROM wallets WHERE user_id = \$1`).
			WithArgs(20).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "escrow_balance", "version", "created_at", "updated_at"}).
				AddRow(3, 20, 0.0, 0.0, 1, time.Now(), time.Now()))
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .+ FROM wallets WHERE user_id = \$1 FOR UPDATE`).
			WithArgs(20).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "escrow_balance", "version"}).
				AddRow(3, 20, 0.0, 0.0, 1))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs(3, testOrderID, models.TxTypeEscrowHold).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(`UPDATE wallets SET balance = \$1`).
			WithArgs(0.0, 9000.0, 3, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO transactions`).
			WithArgs(3, models.TxTypeEscrowHold, 9000.0, models.TxStatusCompleted, testOrderID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		mock.ExpectExec(`UPDATE products SET status = \$1`).
			WithArgs(models.ProductStatusSold, 5).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := svc.MarkPaid(context.Background(), testOrderID)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gateway retry places a hold the first settlement missed", func(t *testing.T) {
		svc, mock := newTestOrderService(t)

		// order already paid, so no status transition this time
		expectOrderLoad(mock, models.OrderStatusPaid)
		mock.ExpectQuery(`SELECT .+ FROM wallets WHERE user_id = \$1`).
			WithArgs(20).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "escrow_balance", "version", "created_at", "updated_at"}).
				AddRow(3, 20, 0.0, 0.0, 1, time.Now(), time.Now()))
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .+ FROM wallets WHERE user_id = \$1 FOR UPDATE`).
			WithArgs(20).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "escrow_balance", "version"}).
				AddRow(3, 20, 0.0, 0.0, 1))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs(3, testOrderID, models.TxTypeEscrowHold).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(`UPDATE wallets SET balance = \$1`).
			WithArgs(0.0, 9000.0, 3, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO transactions`).
			WithArgs(3, models.TxTypeEscrowHold, 9000.0, models.TxStatusCompleted, testOrderID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		mock.ExpectExec(`UPDATE products SET status = \$1`).
			WithArgs(models.ProductStatusSold, 5).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := svc.MarkPaid(context.Background(), testOrderID)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gateway retry on a settled order moves no money", func(t *testing.T) {
		svc, mock := newTestOrderService(t)

		expectOrderLoad(mock, models.OrderStatusPaid)
		mock.ExpectQuery(`SELECT .+ FROM wallets WHERE user_id = \$1`).
			WithArgs(20).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "escrow_balance", "version", "created_at", "updated_at"}).
				AddRow(3, 20, 0.0, 9000.0, 2, time.Now(), time.Now()))
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .+ FROM wallets WHERE user_id = \$1 FOR UPDATE`).
			WithArgs(20).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "escrow_balance", "version"}).
				AddRow(3, 20, 0.0, 9000.0, 2))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs(3, testOrderID, models.TxTypeEscrowHold).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		mock.ExpectExec(`UPDATE products SET status = \$1`).
			WithArgs(models.ProductStatusSold, 5).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := svc.MarkPaid(context.Background(), testOrderID)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("settlement past paid is an illegal transition", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		expectOrderLoad(mock, models.OrderStatusDelivered)

		err := svc.MarkPaid(context.Background(), testOrderID)
		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, models.OrderStatusDelivered, invalid.From)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSystemTransition(t *testing.T) {
	t.Run("records changed_by zero", func(t *testing.T) {
		svc, mock := newTestOrderService(t)

		expectOrderLoad(mock, models.OrderStatusDisputed)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE orders SET status = \$1`).
			WithArgs(models.OrderStatusRefunded, testOrderID, models.OrderStatusDisputed).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_status_history`).
			WithArgs(testOrderID, models.OrderStatusRefunded, 0, "resolved").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		order, err := svc.SystemTransition(context.Background(), testOrderID, models.OrderStatusRefunded, "resolved")
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusRefunded, order.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects illegal system moves", func(t *testing.T) {
		svc, mock := newTestOrderService(t)
		expectOrderLoad(mock, models.OrderStatusPending)

		_, err := svc.SystemTransition(context.Background(), testOrderID, models.OrderStatusCompleted, "nope")
		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

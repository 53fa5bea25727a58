package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unimart/backend/internal/models"
)

func newTestPickupService(t *testing.T) (*PickupService, sqlmock.Sqlmock, redismock.ClientMock) {
	t.Helper()

	orders, mock := newTestOrderService(t)
	redisClient, redisMock := redismock.NewClientMock()

	return NewPickupService(redisClient, orders), mock, redisMock
}

func expectPickupOrderLoad(mock sqlmock.Sqlmock, status string) {
	mock.ExpectQuery(`SELECT .+ FROM orders WHERE id = \$1`).
		WithArgs(testOrderID).
		WillReturnRows(sqlmock.NewRows(orderColumns()).AddRow(
			testOrderID, 10, 20, 5,
			11100.0, 9000.0, 1000.0, 100.0, 0.10,
			"bank_transfer", models.DeliveryMethodPickup, status, "ORD-"+testOrderID,
			time.Now(), time.Now(),
		))
}

func TestGetPickupCode(t *testing.T) {
	codeURL := "/api/v1/orders/" + testOrderID + "/pickup-code"

	t.Run("issues and stores a fresh code", func(t *testing.T) {
		svc, mock, redisMock := newTestPickupService(t)

		expectPickupOrderLoad(mock, models.OrderStatusReadyForPickup)
		redisMock.ExpectGet(pickupKey(testOrderID)).RedisNil()
		redisMock.Regexp().ExpectSet(pickupKey(testOrderID), `^[0-9A-F]{8}$`, pickupCodeTTL).SetVal("OK")

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodGet, codeURL, "", 10), "id", testOrderID)
		svc.GetPickupCode(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp["code"], 8)
		assert.Contains(t, resp["qrCode"], "data:image/png;base64,")
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("refreshing reuses the outstanding code", func(t *testing.T) {
		svc, mock, redisMock := newTestPickupService(t)

		expectPickupOrderLoad(mock, models.OrderStatusReadyForPickup)
		redisMock.ExpectGet(pickupKey(testOrderID)).SetVal("ABCD1234")

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodGet, codeURL, "", 10), "id", testOrderID)
		svc.GetPickupCode(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ABCD1234", resp["code"])
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("only the buyer sees the code", func(t *testing.T) {
		svc, mock, _ := newTestPickupService(t)
		expectPickupOrderLoad(mock, models.OrderStatusReadyForPickup)

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodGet, codeURL, "", 20), "id", testOrderID)
		svc.GetPickupCode(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delivery orders have no pickup code", func(t *testing.T) {
		svc, mock, _ := newTestPickupService(t)
		expectOrderLoad(mock, models.OrderStatusReadyForPickup)

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodGet, codeURL, "", 10), "id", testOrderID)
		svc.GetPickupCode(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("codes exist only while the order is ready", func(t *testing.T) {
		svc, mock, _ := newTestPickupService(t)
		expectPickupOrderLoad(mock, models.OrderStatusPreparing)

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodGet, codeURL, "", 10), "id", testOrderID)
		svc.GetPickupCode(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRedeemPickupCode(t *testing.T) {
	redeemURL := "/api/v1/orders/" + testOrderID + "/pickup/redeem"

	t.Run("a valid code marks the order delivered and burns it", func(t *testing.T) {
		svc, mock, redisMock := newTestPickupService(t)

		expectPickupOrderLoad(mock, models.OrderStatusReadyForPickup)
		redisMock.ExpectGet(pickupKey(testOrderID)).SetVal("ABCD1234")
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE orders SET status = \$1`).
			WithArgs(models.OrderStatusDelivered, testOrderID, models.OrderStatusReadyForPickup).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_status_history`).
			WithArgs(testOrderID, models.OrderStatusDelivered, 20, "Pickup code redeemed").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		redisMock.ExpectDel(pickupKey(testOrderID)).SetVal(1)

		w := httptest.NewRecorder()
		// Codes are compared case-insensitively.
		req := withURLParam(authedRequest(http.MethodPost, redeemURL, `{"code":"abcd1234"}`, 20), "id", testOrderID)
		svc.RedeemPickupCode(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var order models.Order
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
		assert.Equal(t, models.OrderStatusDelivered, order.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("a wrong code is rejected", func(t *testing.T) {
		svc, mock, redisMock := newTestPickupService(t)

		expectPickupOrderLoad(mock, models.OrderStatusReadyForPickup)
		redisMock.ExpectGet(pickupKey(testOrderID)).SetVal("ABCD1234")

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodPost, redeemURL, `{"code":"FFFF0000"}`, 20), "id", testOrderID)
		svc.RedeemPickupCode(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("an expired code is rejected", func(t *testing.T) {
		svc, mock, redisMock := newTestPickupService(t)

		expectPickupOrderLoad(mock, models.OrderStatusReadyForPickup)
		redisMock.ExpectGet(pickupKey(testOrderID)).RedisNil()

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodPost, redeemURL, `{"code":"ABCD1234"}`, 20), "id", testOrderID)
		svc.RedeemPickupCode(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("a redis failure is a server error, not an invalid code", func(t *testing.T) {
		svc, mock, redisMock := newTestPickupService(t)

		expectPickupOrderLoad(mock, models.OrderStatusReadyForPickup)
		redisMock.ExpectGet(pickupKey(testOrderID)).SetErr(errors.New("connection refused"))

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodPost, redeemURL, `{"code":"ABCD1234"}`, 20), "id", testOrderID)
		svc.RedeemPickupCode(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("only the seller can redeem", func(t *testing.T) {
		svc, mock, _ := newTestPickupService(t)
		expectPickupOrderLoad(mock, models.OrderStatusReadyForPickup)

		w := httptest.NewRecorder()
		req := withURLParam(authedRequest(http.MethodPost, redeemURL, `{"code":"ABCD1234"}`, 10), "id", testOrderID)
		svc.RedeemPickupCode(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

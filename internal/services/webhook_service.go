package services

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/unimart/backend/internal/metrics"
	"github.com/unimart/backend/internal/squad"
)

const webhookDedupeTTL = 24 * time.Hour

// WebhookService receives gateway callbacks and turns confirmed charges
// into wallet credits or order payments. Payload amounts are never
// trusted: every event is re-verified against the gateway before money
// moves.
type WebhookService struct {
	redis   *redis.Client
	squad   *squad.Client
	orders  *OrderService
	wallet  *WalletService
	metrics *metrics.Registry
}

func NewWebhookService(redisClient *redis.Client, squadClient *squad.Client, orders *OrderService, wallet *WalletService, m *metrics.Registry) *WebhookService {
	return &WebhookService{
		redis:   redisClient,
		squad:   squadClient,
		orders:  orders,
		wallet:  wallet,
		metrics: m,
	}
}

// claimEvent marks a transaction ref as being processed. Returns false
// when another delivery already claimed it. No Redis means no dedupe;
// the downstream handlers are idempotent enough to survive that.
func (wh *WebhookService) claimEvent(ctx context.Context, ref string) bool {
	if wh.redis == nil {
		return true
	}
	ok, err := wh.redis.SetNX(ctx, "webhook:"+ref, "1", webhookDedupeTTL).Result()
	if err != nil {
		log.Printf("[WEBHOOK] Dedupe check failed for %s: %v", ref, err)
		return true
	}
	return ok
}

// releaseEvent undoes a claim so the gateway's retry can reprocess.
func (wh *WebhookService) releaseEvent(ctx context.Context, ref string) {
	if wh.redis == nil {
		return
	}
	wh.redis.Del(ctx, "webhook:"+ref)
}

// HandleSquadWebhook godoc
// @Summary Gateway payment webhook
// @Description Verifies the HMAC signature, re-verifies the charge with
// the gateway, then credits a deposit or marks an order paid.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/webhooks/squad [post]
func (wh *WebhookService) HandleSquadWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1048576))
	if err != nil {
		SendErrorResponse(w, "Failed to read webhook body", http.StatusBadRequest, nil)
		return
	}

	signature := r.Header.Get("x-squad-encrypted-body")
	if !wh.squad.VerifyWebhookSignature(body, signature) {
		wh.metrics.RecordWebhook("bad_signature")
		log.Printf("[WEBHOOK] Rejected webhook with bad signature from %s", r.RemoteAddr)
		SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	event, err := squad.ParseWebhook(body)
	if err != nil {
		wh.metrics.RecordWebhook("malformed")
		SendErrorResponse(w, "Malformed payload", http.StatusBadRequest, nil)
		return
	}

	if event.Event != squad.EventChargeSuccessful {
		wh.metrics.RecordWebhook("ignored")
		wh.respondOK(w)
		return
	}
	if event.TransactionRef == "" {
		wh.metrics.RecordWebhook("malformed")
		SendErrorResponse(w, "Missing transaction reference", http.StatusBadRequest, nil)
		return
	}

	ctx := r.Context()
	if !wh.claimEvent(ctx, event.TransactionRef) {
		wh.metrics.RecordWebhook("duplicate")
		log.Printf("[WEBHOOK] Duplicate delivery for %s ignored", event.TransactionRef)
		wh.respondOK(w)
		return
	}

	// The signed payload proves origin, not settlement. Only the verify
	// endpoint's amount is allowed to move money.
	status, err := wh.squad.VerifyTransaction(ctx, event.TransactionRef)
	if err != nil {
		wh.releaseEvent(ctx, event.TransactionRef)
		wh.metrics.RecordWebhook("verify_failed")
		log.Printf("[WEBHOOK] Gateway verification failed for %s: %v", event.TransactionRef, err)
		SendErrorResponse(w, "Verification failed, retry later", http.StatusBadGateway, nil)
		return
	}
	if !strings.EqualFold(status.TransactionStatus, "success") {
		// The charge may still settle; free the claim so the gateway's
		// next delivery is not dropped as a duplicate.
		wh.releaseEvent(ctx, event.TransactionRef)
		wh.metrics.RecordWebhook("not_settled")
		log.Printf("[WEBHOOK] Charge %s reported %s, not settling", event.TransactionRef, status.TransactionStatus)
		wh.respondOK(w)
		return
	}

	if err := wh.settle(ctx, event.TransactionRef, status.TransactionAmount); err != nil {
		wh.releaseEvent(ctx, event.TransactionRef)
		wh.metrics.RecordWebhook("failed")
		log.Printf("[WEBHOOK] Failed to settle %s: %v", event.TransactionRef, err)
		SendErrorResponse(w, "Failed to process event", http.StatusInternalServerError, nil)
		return
	}

	wh.metrics.RecordWebhook("processed")
	log.Printf("[WEBHOOK] Settled %s for %.2f", event.TransactionRef, status.TransactionAmount)
	wh.respondOK(w)
}

// settle routes a verified charge by reference prefix: DEP- funds a
// wallet, ORD- pays an order.
func (wh *WebhookService) settle(ctx context.Context, ref string, amount float64) error {
	switch {
	case strings.HasPrefix(ref, "DEP-"):
		return wh.wallet.CompleteDeposit(ctx, ref, amount)
	case strings.HasPrefix(ref, "ORD-"):
		return wh.orders.MarkPaid(ctx, strings.TrimPrefix(ref, "ORD-"))
	default:
		log.Printf("[WEBHOOK] Unrecognized reference %s, nothing to settle", ref)
		return nil
	}
}

func (wh *WebhookService) respondOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

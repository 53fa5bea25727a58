package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/unimart/backend/internal/config"
	"github.com/unimart/backend/internal/models"
)

// Service sends transactional emails through the provider's JSON API.
// Delivery is strictly best effort: every failure is logged and swallowed,
// and callers fire sends on their own goroutine so a slow provider can
// never block an order transition.
type Service struct {
	apiURL     string
	apiKey     string
	from       string
	httpClient *http.Client
}

func New(cfg *config.Mailer) *Service {
	return &Service{
		apiURL:     cfg.APIURL,
		apiKey:     cfg.APIKey,
		from:       cfg.From,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// statusTemplate maps an order status to its email. Statuses without an
// entry send nothing.
func statusTemplate(status string) (subject, body string, ok bool) {
	switch status {
	case models.OrderStatusPaid:
		return "Order confirmed",
			"Your payment was received and the seller has been notified. Order %s is now being processed.", true
	case models.OrderStatusShipped, models.OrderStatusOutForDelivery:
		return "Your order is on the way",
			"Order %s has been shipped. You will be notified when it arrives.", true
	case models.OrderStatusDelivered:
		return "Your order has arrived",
			"Order %s was marked delivered. Please confirm receipt so the seller can be paid.", true
	case models.OrderStatusCompleted:
		return "Order complete",
			"Order %s is complete. Thanks for trading on UniMart.", true
	default:
		return "", "", false
	}
}

// SendOrderEmail emails the recipient about an order reaching status.
// Safe to call for any status; unmapped ones are a no-op.
func (s *Service) SendOrderEmail(recipient string, order *models.Order, status string) {
	subject, body, ok := statusTemplate(status)
	if !ok || recipient == "" {
		return
	}

	message := fmt.Sprintf(body, order.ID)

	if s.apiKey == "" {
		log.Printf("[NOTIFY] (dry-run) to=%s subject=%q order=%s", recipient, subject, order.ID)
		return
	}

	payload := map[string]any{
		"personalizations": []map[string]any{
			{"to": []map[string]string{{"email": recipient}}},
		},
		"from":    map[string]string{"email": s.from},
		"subject": subject,
		"content": []map[string]string{{"type": "text/plain", "value": message}},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[NOTIFY] Failed to marshal email for order %s: %v", order.ID, err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.apiURL, bytes.NewBuffer(data))
	if err != nil {
		log.Printf("[NOTIFY] Failed to build email request for order %s: %v", order.ID, err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Printf("[NOTIFY] Email send failed for order %s: %v", order.ID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("[NOTIFY] Email provider returned status %d for order %s", resp.StatusCode, order.ID)
		return
	}

	log.Printf("[NOTIFY] Sent %q to %s for order %s", subject, recipient, order.ID)
}

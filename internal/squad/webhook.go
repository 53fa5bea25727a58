package squad

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// WebhookEvent is the subset of the gateway's webhook payload this service
// consumes. Amount arrives in kobo.
type WebhookEvent struct {
	Event          string  `json:"Event"`
	TransactionRef string  `json:"TransactionRef"`
	Amount         float64 `json:"Amount"`
	Email          string  `json:"Email"`
}

const EventChargeSuccessful = "charge_successful"

// AmountNaira converts the kobo payload amount to Naira.
func (e *WebhookEvent) AmountNaira() float64 {
	return e.Amount / 100
}

// VerifyWebhookSignature checks the x-squad-encrypted-body header: an
// uppercase hex HMAC-SHA512 of the raw request body under the secret key.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(c.secretKey))
	mac.Write(body)
	expected := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
	return hmac.Equal([]byte(expected), []byte(strings.ToUpper(signature)))
}

// ParseWebhook decodes a verified webhook body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, &Error{Category: CategoryInvalidRequest, Message: "malformed webhook payload"}
	}
	return &event, nil
}

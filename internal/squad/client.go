package squad

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/unimart/backend/internal/config"
)

// Client talks to the Squad payment gateway (JSON over HTTPS, bearer-key
// auth). All amounts cross the wire in kobo.
type Client struct {
	baseURL     string
	secretKey   string
	callbackURL string
	httpClient  *http.Client
}

func NewClient(cfg *config.Squad) *Client {
	return &Client{
		baseURL:     cfg.BaseURL,
		secretKey:   cfg.SecretKey,
		callbackURL: cfg.CallbackURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// envelope is the gateway's standard response wrapper.
type envelope struct {
	Status  int             `json:"status"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// CheckoutSession is the result of initializing a payment.
type CheckoutSession struct {
	CheckoutURL    string `json:"checkout_url"`
	TransactionRef string `json:"transaction_ref"`
}

// TransactionStatus is the gateway's view of one charge.
type TransactionStatus struct {
	TransactionRef    string  `json:"transaction_ref"`
	TransactionStatus string  `json:"transaction_status"`
	TransactionAmount float64 `json:"transaction_amount"`
	Email             string  `json:"email"`
}

// TransferResult is the gateway's acknowledgement of a payout.
type TransferResult struct {
	TransactionReference string `json:"transaction_reference"`
	ResponseDescription  string `json:"response_description"`
}

// BankAccount is a resolved account from the lookup endpoint.
type BankAccount struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
}

// Bank is one entry from the bank list.
type Bank struct {
	Name string `json:"bank_name"`
	Code string `json:"bank_code"`
}

func naira2Kobo(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// InitializePayment opens a checkout session for amount Naira. The caller's
// transactionRef comes back in the webhook and ties the charge to a deposit
// or order.
func (c *Client) InitializePayment(ctx context.Context, amount float64, email, transactionRef string, paymentChannels []string) (*CheckoutSession, error) {
	body := map[string]any{
		"amount":           naira2Kobo(amount),
		"email":            email,
		"currency":         "NGN",
		"transaction_ref":  transactionRef,
		"callback_url":     c.callbackURL,
		"payment_channels": paymentChannels,
	}

	var session CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/transaction/initiate", body, &session); err != nil {
		return nil, err
	}
	if session.TransactionRef == "" {
		session.TransactionRef = transactionRef
	}
	return &session, nil
}

// VerifyTransaction fetches the authoritative status of a charge. Used to
// reconcile webhooks before trusting their payload.
func (c *Client) VerifyTransaction(ctx context.Context, transactionRef string) (*TransactionStatus, error) {
	var status TransactionStatus
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(transactionRef), nil, &status); err != nil {
		return nil, err
	}
	status.TransactionAmount = status.TransactionAmount / 100 // kobo to Naira
	return &status, nil
}

// InitiateTransfer pays amount Naira out to a bank account.
func (c *Client) InitiateTransfer(ctx context.Context, amount float64, bankCode, accountNumber, accountName, reference, remark string) (*TransferResult, error) {
	body := map[string]any{
		"transaction_reference": reference,
		"amount":                fmt.Sprintf("%d", naira2Kobo(amount)),
		"bank_code":             bankCode,
		"account_number":        accountNumber,
		"account_name":          accountName,
		"currency_id":           "NGN",
		"remark":                remark,
	}

	var result TransferResult
	if err := c.do(ctx, http.MethodPost, "/payout/transfer", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// VerifyBankAccount resolves an account number to its registered name.
func (c *Client) VerifyBankAccount(ctx context.Context, bankCode, accountNumber string) (*BankAccount, error) {
	q := url.Values{}
	q.Set("bank_code", bankCode)
	q.Set("account_number", accountNumber)

	var account BankAccount
	if err := c.do(ctx, http.MethodGet, "/payout/account/lookup?"+q.Encode(), nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetBankList fetches the gateway's supported banks.
func (c *Client) GetBankList(ctx context.Context) ([]Bank, error) {
	var banks []Bank
	if err := c.do(ctx, http.MethodGet, "/merchant/banks", nil, &banks); err != nil {
		return nil, err
	}
	return banks, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload *bytes.Buffer = &bytes.Buffer{}
	if body != nil {
		if err := json.NewEncoder(payload).Encode(body); err != nil {
			return &Error{Category: CategoryInvalidRequest, Message: err.Error()}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return &Error{Category: CategoryInvalidRequest, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[SQUAD] %s %s failed: %v", method, path, err)
		return &Error{Category: CategoryUpstream, Message: err.Error()}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		log.Printf("[SQUAD] %s %s returned undecodable body (status %d): %v", method, path, resp.StatusCode, err)
		return &Error{Category: CategoryUpstream, Code: resp.StatusCode, Message: "invalid gateway response"}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		message := env.Message
		if message == "" {
			message = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
		}
		log.Printf("[SQUAD] %s %s rejected: status=%d message=%q", method, path, resp.StatusCode, message)
		return &Error{Category: categorize(resp.StatusCode, message), Code: resp.StatusCode, Message: message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Error{Category: CategoryUpstream, Code: resp.StatusCode, Message: "invalid gateway response data"}
		}
	}

	return nil
}

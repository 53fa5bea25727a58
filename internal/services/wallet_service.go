package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/unimart/backend/internal/config"
	"github.com/unimart/backend/internal/metrics"
	"github.com/unimart/backend/internal/models"
	"github.com/unimart/backend/internal/squad"
)

var (
	ErrInsufficientFunds = errors.New("insufficient available balance")
	ErrWalletConflict    = errors.New("wallet was modified concurrently, retry")
)

// WalletService owns balances, the transaction ledger, deposits and
// withdrawals. Balance mutations always run in a database transaction:
// row lock, balance update with a version check, ledger insert.
type WalletService struct {
	db        *sql.DB
	squad     *squad.Client
	pricing   *PricingService
	pins      *PINGuard
	metrics   *metrics.Registry
	validator *ValidationHelper
	cfg       *config.Pricing
}

func NewWalletService(db *sql.DB, squadClient *squad.Client, pricing *PricingService, pins *PINGuard, m *metrics.Registry, cfg *config.Pricing) *WalletService {
	return &WalletService{
		db:        db,
		squad:     squadClient,
		pricing:   pricing,
		pins:      pins,
		metrics:   m,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// userIDFromRequest reads the authenticated user ID set by the JWT
// middleware.
func userIDFromRequest(r *http.Request) (int, bool) {
	raw, ok := r.Context().Value("userID").(string)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

// decodeJSONBody enforces the shared request-body discipline: 1MB cap,
// unknown fields rejected, exactly one JSON value.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// GetOrCreateWallet returns the user's wallet, creating an empty one on
// first access.
func (ws *WalletService) GetOrCreateWallet(ctx context.Context, userID int) (*models.Wallet, error) {
	wallet := &models.Wallet{}
	err := ws.db.QueryRowContext(ctx,
		`SELECT id, user_id, balance, escrow_balance, version, created_at, updated_at FROM wallets WHERE user_id = $1`,
		userID,
	).Scan(&wallet.ID, &wallet.UserID, &wallet.Balance, &wallet.EscrowBalance, &wallet.Version, &wallet.CreatedAt, &wallet.UpdatedAt)
	if err == nil {
		return wallet, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}

	err = ws.db.QueryRowContext(ctx,
		`INSERT INTO wallets (user_id, balance, escrow_balance, version, created_at, updated_at) VALUES ($1, 0, 0, 1, NOW(), NOW()) RETURNING id, user_id, balance, escrow_balance, version, created_at, updated_at`,
		userID,
	).Scan(&wallet.ID, &wallet.UserID, &wallet.Balance, &wallet.EscrowBalance, &wallet.Version, &wallet.CreatedAt, &wallet.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	log.Printf("[WALLET] Created wallet %d for user %d", wallet.ID, userID)
	return wallet, nil
}

// lockWallet loads the wallet row FOR UPDATE inside tx.
func (ws *WalletService) lockWallet(tx *sql.Tx, userID int) (*models.Wallet, error) {
	wallet := &models.Wallet{}
	err := tx.QueryRow(
		`SELECT id, user_id, balance, escrow_balance, version FROM wallets WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&wallet.ID, &wallet.UserID, &wallet.Balance, &wallet.EscrowBalance, &wallet.Version)
	if err == sql.ErrNoRows {
		return nil, ErrInsufficientFunds
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return wallet, nil
}

// writeWallet persists new balances with a version check. Zero rows
// affected means another writer got there first.
func (ws *WalletService) writeWallet(tx *sql.Tx, wallet *models.Wallet, balance, escrow float64) error {
	if balance < -0.005 || escrow < -0.005 {
		return ErrInsufficientFunds
	}

	result, err := tx.Exec(
		`UPDATE wallets SET balance = $1, escrow_balance = $2, version = version + 1, updated_at = NOW() WHERE id = $3 AND version = $4`,
		round2(balance), round2(escrow), wallet.ID, wallet.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	if rows == 0 {
		return ErrWalletConflict
	}
	return nil
}

// recordEntry appends a ledger row inside tx.
func (ws *WalletService) recordEntry(tx *sql.Tx, walletID int, txType string, amount float64, status, reference, description string) error {
	_, err := tx.Exec(
		`INSERT INTO transactions (wallet_id, type, amount, status, reference, description, created_at) VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		walletID, txType, round2(amount), status, reference, description,
	)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// UpdateWalletBalance applies a single available-balance adjustment with
// the standard lock-check-write cycle. op is "add" or "subtract".
func (ws *WalletService) UpdateWalletBalance(ctx context.Context, userID int, amount float64, op, txType, reference, description string) error {
	if amount <= 0 {
		return errors.New("amount must be positive")
	}

	tx, err := ws.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	wallet, err := ws.lockWallet(tx, userID)
	if err != nil {
		return err
	}

	balance := wallet.Balance
	switch op {
	case "add":
		balance += amount
	case "subtract":
		if wallet.Balance < amount {
			return ErrInsufficientFunds
		}
		balance -= amount
	default:
		return fmt.Errorf("unknown balance operation %q", op)
	}

	if err := ws.writeWallet(tx, wallet, balance, wallet.EscrowBalance); err != nil {
		return err
	}
	if err := ws.recordEntry(tx, wallet.ID, txType, amount, models.TxStatusCompleted, reference, description); err != nil {
		return err
	}

	return tx.Commit()
}

// HoldEscrow moves amount into the seller's escrow balance when an order
// is paid. The funds come from the buyer's gateway charge, not the
// seller's available balance, so only the escrow side moves. Idempotent
// on the order's ledger entry, so a gateway retry after a partial
// settlement can call it again.
func (ws *WalletService) HoldEscrow(ctx context.Context, sellerID int, amount float64, orderID string) error {
	if _, err := ws.GetOrCreateWallet(ctx, sellerID); err != nil {
		return err
	}

	tx, err := ws.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	wallet, err := ws.lockWallet(tx, sellerID)
	if err != nil {
		return err
	}

	var held bool
	if err := tx.QueryRow(
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE wallet_id = $1 AND reference = $2 AND type = $3)`,
		wallet.ID, orderID, models.TxTypeEscrowHold,
	).Scan(&held); err != nil {
		return fmt.Errorf("failed to check escrow hold: %w", err)
	}
	if held {
		return nil
	}

	if err := ws.writeWallet(tx, wallet, wallet.Balance, wallet.EscrowBalance+amount); err != nil {
		return err
	}
	if err := ws.recordEntry(tx, wallet.ID, models.TxTypeEscrowHold, amount, models.TxStatusCompleted, orderID, "Escrow hold for order "+orderID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("[WALLET] Held %.2f in escrow for seller %d (order %s)", amount, sellerID, orderID)
	return nil
}

// ReleaseEscrow pays the seller out of escrow when an order completes.
func (ws *WalletService) ReleaseEscrow(ctx context.Context, sellerID int, amount float64, orderID string) error {
	tx, err := ws.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	wallet, err := ws.lockWallet(tx, sellerID)
	if err != nil {
		return err
	}
	if wallet.EscrowBalance < amount-0.005 {
		return fmt.Errorf("escrow balance %.2f below release amount %.2f for order %s", wallet.EscrowBalance, amount, orderID)
	}

	if err := ws.writeWallet(tx, wallet, wallet.Balance+amount, wallet.EscrowBalance-amount); err != nil {
		return err
	}
	if err := ws.recordEntry(tx, wallet.ID, models.TxTypeEscrowRelease, amount, models.TxStatusCompleted, orderID, "Escrow released for order "+orderID); err != nil {
		return err
	}
	if err := ws.recordEntry(tx, wallet.ID, models.TxTypeSale, amount, models.TxStatusCompleted, orderID, "Sale proceeds for order "+orderID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("[WALLET] Released %.2f escrow to seller %d (order %s)", amount, sellerID, orderID)
	return nil
}

// RefundOrder reverses a paid order: the seller's escrow hold is voided
// and the buyer is credited the full amount they paid. Both sides commit
// in one transaction so a failure can never void the escrow without the
// buyer seeing the money.
func (ws *WalletService) RefundOrder(ctx context.Context, buyerID, sellerID int, sellerAmount, totalAmount float64, orderID string) error {
	if _, err := ws.GetOrCreateWallet(ctx, buyerID); err != nil {
		return err
	}

	tx, err := ws.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock both wallets in user-ID order so concurrent refunds cannot
	// deadlock against each other.
	first, second := sellerID, buyerID
	if buyerID < sellerID {
		first, second = buyerID, sellerID
	}
	locked := map[int]*models.Wallet{}
	for _, userID := range []int{first, second} {
		wallet, err := ws.lockWallet(tx, userID)
		if err != nil {
			return err
		}
		locked[userID] = wallet
	}
	sellerWallet, buyerWallet := locked[sellerID], locked[buyerID]

	if err := ws.writeWallet(tx, sellerWallet, sellerWallet.Balance, sellerWallet.EscrowBalance-sellerAmount); err != nil {
		return err
	}
	if err := ws.writeWallet(tx, buyerWallet, buyerWallet.Balance+totalAmount, buyerWallet.EscrowBalance); err != nil {
		return err
	}
	if err := ws.recordEntry(tx, buyerWallet.ID, models.TxTypeRefund, totalAmount, models.TxStatusCompleted, orderID, "Refund for order "+orderID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("[WALLET] Refunded %.2f to buyer %d (order %s)", totalAmount, buyerID, orderID)
	return nil
}

// CompleteDeposit credits a wallet once the gateway confirms the charge
// behind a DEP- reference. Idempotent on transaction status.
func (ws *WalletService) CompleteDeposit(ctx context.Context, reference string, amount float64) error {
	tx, err := ws.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var entryID, walletID, userID int
	var status string
	err = tx.QueryRow(
		`SELECT t.id, t.wallet_id, t.status, w.user_id FROM transactions t JOIN wallets w ON w.id = t.wallet_id WHERE t.reference = $1 AND t.type = $2`,
		reference, models.TxTypeDeposit,
	).Scan(&entryID, &walletID, &status, &userID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("no deposit found for reference %s", reference)
	}
	if err != nil {
		return fmt.Errorf("failed to load deposit: %w", err)
	}
	if status == models.TxStatusCompleted {
		return nil
	}

	wallet, err := ws.lockWallet(tx, userID)
	if err != nil {
		return err
	}
	if err := ws.writeWallet(tx, wallet, wallet.Balance+amount, wallet.EscrowBalance); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`UPDATE transactions SET status = $1, amount = $2 WHERE id = $3`,
		models.TxStatusCompleted, round2(amount), entryID,
	); err != nil {
		return fmt.Errorf("failed to complete deposit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("[WALLET] Deposit %s completed: %.2f credited to user %d", reference, amount, userID)
	return nil
}

// GetWallet godoc
// @Summary Get wallet balances
// @Tags Wallet
// @Produce json
// @Success 200 {object} models.Wallet
// @Security BearerAuth
// @Router /api/v1/wallet [get]
func (ws *WalletService) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	wallet, err := ws.GetOrCreateWallet(r.Context(), userID)
	if err != nil {
		log.Printf("[WALLET] Failed to load wallet for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to load wallet", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wallet)
}

// ListTransactions godoc
// @Summary List wallet ledger entries, newest first
// @Tags Wallet
// @Produce json
// @Param limit query int false "Page size (default 20, max 100)"
// @Success 200 {array} models.Transaction
// @Security BearerAuth
// @Router /api/v1/wallet/transactions [get]
func (ws *WalletService) ListTransactions(w http.ResponseWriter, r *http.Request) {
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

	wallet, err := ws.GetOrCreateWallet(r.Context(), userID)
	if err != nil {
		SendErrorResponse(w, "Failed to load wallet", http.StatusInternalServerError, nil)
		return
	}

	rows, err := ws.db.QueryContext(r.Context(),
		`SELECT id, wallet_id, type, amount, status, reference, description, created_at FROM transactions WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2`,
		wallet.ID, limit,
	)
	if err != nil {
		log.Printf("[WALLET] Failed to list transactions for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to load transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entries := []models.Transaction{}
	for rows.Next() {
		var entry models.Transaction
		if err := rows.Scan(&entry.ID, &entry.WalletID, &entry.Type, &entry.Amount, &entry.Status, &entry.Reference, &entry.Description, &entry.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to load transactions", http.StatusInternalServerError, nil)
			return
		}
		entries = append(entries, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": entries,
		"count":        len(entries),
	})
}

type DepositRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
	Method string  `json:"method" validate:"omitempty,oneof=card bank_transfer ussd"`
}

// Deposit godoc
// @Summary Open a gateway checkout session to fund the wallet
// @Tags Wallet
// @Accept json
// @Produce json
// @Param request body DepositRequest true "Deposit details"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/wallet/deposit [post]
func (ws *WalletService) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req DepositRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Amount < ws.cfg.MinDeposit {
		SendErrorResponse(w, fmt.Sprintf("Minimum deposit is %.2f", ws.cfg.MinDeposit), http.StatusBadRequest, nil)
		return
	}

	var email string
	if err := ws.db.QueryRowContext(r.Context(), `SELECT email FROM users WHERE id = $1`, userID).Scan(&email); err != nil {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	wallet, err := ws.GetOrCreateWallet(r.Context(), userID)
	if err != nil {
		SendErrorResponse(w, "Failed to load wallet", http.StatusInternalServerError, nil)
		return
	}

	channels := []string{"card", "bank", "ussd"}
	if req.Method != "" {
		switch req.Method {
		case config.MethodBankTransfer:
			channels = []string{"bank"}
		case config.MethodUSSD:
			channels = []string{"ussd"}
		default:
			channels = []string{"card"}
		}
	}

	reference := "DEP-" + uuid.NewString()
	session, err := ws.squad.InitializePayment(r.Context(), req.Amount, email, reference, channels)
	if err != nil {
		ws.sendGatewayError(w, err)
		return
	}

	tx, err := ws.db.BeginTx(r.Context(), nil)
	if err != nil {
		SendErrorResponse(w, "Failed to start deposit", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	if err := ws.recordEntry(tx, wallet.ID, models.TxTypeDeposit, req.Amount, models.TxStatusPending, reference, "Wallet deposit"); err != nil {
		log.Printf("[WALLET] Failed to record deposit %s: %v", reference, err)
		SendErrorResponse(w, "Failed to start deposit", http.StatusInternalServerError, nil)
		return
	}
	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to start deposit", http.StatusInternalServerError, nil)
		return
	}

	ws.metrics.DepositsInitiatedTotal.Inc()
	log.Printf("[WALLET] Deposit %s initiated for user %d: %.2f", reference, userID, req.Amount)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"checkoutUrl": session.CheckoutURL,
		"reference":   reference,
	})
}

type WithdrawRequest struct {
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	BankCode      string  `json:"bankCode" validate:"required"`
	AccountNumber string  `json:"accountNumber" validate:"required,len=10,numeric"`
	AccountName   string  `json:"accountName" validate:"required"`
	PIN           string  `json:"pin" validate:"required,len=4,numeric"`
}

// Withdraw godoc
// @Summary Withdraw available balance to a bank account
// @Tags Wallet
// @Accept json
// @Produce json
// @Param request body WithdrawRequest true "Withdrawal details"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/wallet/withdraw [post]
func (ws *WalletService) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req WithdrawRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Amount < ws.cfg.MinWithdrawal {
		ws.metrics.RecordWithdrawal("rejected")
		SendErrorResponse(w, fmt.Sprintf("Minimum withdrawal is %.2f", ws.cfg.MinWithdrawal), http.StatusBadRequest, nil)
		return
	}

	var isVerified bool
	var pinHash sql.NullString
	if err := ws.db.QueryRowContext(r.Context(),
		`SELECT is_verified, transaction_pin FROM users WHERE id = $1`, userID,
	).Scan(&isVerified, &pinHash); err != nil {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}
	if !pinHash.Valid || pinHash.String == "" {
		SendErrorResponse(w, "Set a transaction PIN before withdrawing", http.StatusBadRequest, nil)
		return
	}

	check, err := ws.pins.Verify(r.Context(), userID, req.PIN, pinHash.String)
	if err != nil {
		log.Printf("[WALLET] PIN check failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Unable to verify PIN", http.StatusInternalServerError, nil)
		return
	}
	if check.Locked {
		ws.metrics.PinLockoutsTotal.Inc()
		ws.metrics.RecordWithdrawal("locked")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error":             "Too many incorrect PIN attempts, try again later",
			"retryAfterSeconds": int(check.RetryAfter.Seconds()),
		})
		return
	}
	if !check.OK {
		ws.metrics.RecordWithdrawal("bad_pin")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error":        "Incorrect transaction PIN",
			"attemptsLeft": check.AttemptsLeft,
		})
		return
	}

	wallet, err := ws.GetOrCreateWallet(r.Context(), userID)
	if err != nil {
		SendErrorResponse(w, "Failed to load wallet", http.StatusInternalServerError, nil)
		return
	}

	decision := ws.pricing.IsWithdrawalAllowed(req.Amount, isVerified, wallet.Balance)
	if !decision.Allowed {
		ws.metrics.RecordWithdrawal("rejected")
		SendErrorResponse(w, decision.Reason, http.StatusBadRequest, nil)
		return
	}

	reference := "WDL-" + uuid.NewString()
	if err := ws.UpdateWalletBalance(r.Context(), userID, req.Amount, "subtract", models.TxTypeWithdrawal, reference, "Withdrawal to "+req.AccountNumber); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			ws.metrics.RecordWithdrawal("rejected")
			SendErrorResponse(w, "Insufficient available balance", http.StatusBadRequest, nil)
			return
		}
		log.Printf("[WALLET] Failed to debit withdrawal %s: %v", reference, err)
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}

	_, err = ws.squad.InitiateTransfer(r.Context(), req.Amount, req.BankCode, req.AccountNumber, req.AccountName, reference, "UniMart withdrawal")
	if err != nil {
		if squad.IsNotEligibleForTransfers(err) {
			// Funds stay debited; ops settles these by hand. Crediting
			// back here would let an ineligible account retry forever.
			ws.markWithdrawal(r.Context(), reference, models.TxStatusManualReview)
			ws.metrics.RecordWithdrawal("manual_review")
			log.Printf("[WALLET] Withdrawal %s flagged for manual review", reference)

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{
				"status":    models.TxStatusManualReview,
				"message":   "Your withdrawal is being reviewed and will be settled manually",
				"reference": reference,
			})
			return
		}

		if refundErr := ws.UpdateWalletBalance(r.Context(), userID, req.Amount, "add", models.TxTypeRefund, reference, "Withdrawal reversal"); refundErr != nil {
			log.Printf("[WALLET] CRITICAL: failed to reverse withdrawal %s after transfer failure: %v", reference, refundErr)
		}
		ws.markWithdrawal(r.Context(), reference, models.TxStatusFailed)
		ws.metrics.RecordWithdrawal("failed")
		ws.sendGatewayError(w, err)
		return
	}

	ws.markWithdrawal(r.Context(), reference, models.TxStatusCompleted)
	ws.metrics.RecordWithdrawal("completed")
	log.Printf("[WALLET] Withdrawal %s completed for user %d: %.2f", reference, userID, req.Amount)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    models.TxStatusCompleted,
		"reference": reference,
	})
}

func (ws *WalletService) markWithdrawal(ctx context.Context, reference, status string) {
	if _, err := ws.db.ExecContext(ctx,
		`UPDATE transactions SET status = $1 WHERE reference = $2 AND type = $3`,
		status, reference, models.TxTypeWithdrawal,
	); err != nil {
		log.Printf("[WALLET] Failed to mark withdrawal %s as %s: %v", reference, status, err)
	}
}

func (ws *WalletService) sendGatewayError(w http.ResponseWriter, err error) {
	var sqErr *squad.Error
	if errors.As(err, &sqErr) {
		SendErrorResponse(w, sqErr.Message, sqErr.HTTPStatus(), nil)
		return
	}
	SendErrorResponse(w, "Payment gateway unavailable", http.StatusServiceUnavailable, nil)
}

type SetPINRequest struct {
	PIN string `json:"pin" validate:"required,len=4,numeric"`
}

// SetPIN godoc
// @Summary Set or replace the transaction PIN
// @Tags Wallet
// @Accept json
// @Produce json
// @Param request body SetPINRequest true "New PIN"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/wallet/pin [post]
func (ws *WalletService) SetPIN(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req SetPINRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := ws.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hash, err := HashPIN(req.PIN)
	if err != nil {
		SendErrorResponse(w, "Failed to set PIN", http.StatusInternalServerError, nil)
		return
	}

	result, err := ws.db.ExecContext(r.Context(),
		`UPDATE users SET transaction_pin = $1, updated_at = NOW() WHERE id = $2`,
		hash, userID,
	)
	if err != nil {
		log.Printf("[WALLET] Failed to set PIN for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to set PIN", http.StatusInternalServerError, nil)
		return
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[WALLET] Transaction PIN updated for user %d", userID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Transaction PIN updated"})
}

// GetBanks godoc
// @Summary List supported banks for withdrawals
// @Tags Wallet
// @Produce json
// @Success 200 {object} map[string]any
// @Security BearerAuth
// @Router /api/v1/banks [get]
func (ws *WalletService) GetBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := ws.squad.GetBankList(r.Context())
	if err != nil {
		ws.sendGatewayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"banks": banks,
		"count": len(banks),
	})
}

// VerifyBankAccount godoc
// @Summary Resolve a bank account number to its registered name
// @Tags Wallet
// @Produce json
// @Param bank_code query string true "Bank code"
// @Param account_number query string true "Account number"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/banks/verify [get]
func (ws *WalletService) VerifyBankAccount(w http.ResponseWriter, r *http.Request) {
	bankCode := r.URL.Query().Get("bank_code")
	accountNumber := r.URL.Query().Get("account_number")
	if bankCode == "" || accountNumber == "" {
		SendErrorResponse(w, "bank_code and account_number are required", http.StatusBadRequest, nil)
		return
	}

	account, err := ws.squad.VerifyBankAccount(r.Context(), bankCode, accountNumber)
	if err != nil {
		ws.sendGatewayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"accountName":   account.AccountName,
		"accountNumber": account.AccountNumber,
	})
}

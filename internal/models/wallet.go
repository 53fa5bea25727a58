package models

import "time"

// Wallet holds a user's available and escrowed funds. Created lazily on
// first access. Amounts are Naira with two decimal places.
type Wallet struct {
	ID            int       `json:"id" db:"id"`
	UserID        int       `json:"user_id" db:"user_id"`
	Balance       float64   `json:"balance" db:"balance"`
	EscrowBalance float64   `json:"escrow_balance" db:"escrow_balance"`
	Version       int       `json:"-" db:"version"` // for optimistic locking
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction type values
const (
	TxTypeDeposit       = "deposit"
	TxTypeWithdrawal    = "withdrawal"
	TxTypeSale          = "sale"
	TxTypePurchase      = "purchase"
	TxTypeEscrowHold    = "escrow_hold"
	TxTypeEscrowRelease = "escrow_release"
	TxTypeRefund        = "refund"
	TxTypeBonus         = "bonus"
)

// Transaction status values
const (
	TxStatusPending      = "pending"
	TxStatusCompleted    = "completed"
	TxStatusFailed       = "failed"
	TxStatusManualReview = "manual_review"
)

// Transaction is an append-only ledger entry against a wallet. Only the
// status field ever changes after creation.
type Transaction struct {
	ID          int       `json:"id" db:"id"`
	WalletID    int       `json:"wallet_id" db:"wallet_id"`
	Type        string    `json:"type" db:"type"`
	Amount      float64   `json:"amount" db:"amount"`
	Status      string    `json:"status" db:"status"`
	Reference   string    `json:"reference" db:"reference"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

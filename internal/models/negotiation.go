package models

import "time"

// Negotiation status values. Accepted, rejected and cancelled are terminal;
// countered closes the original offer (the buyer starts a new negotiation
// rather than the row re-entering pending).
const (
	NegotiationStatusPending   = "pending"
	NegotiationStatusAccepted  = "accepted"
	NegotiationStatusRejected  = "rejected"
	NegotiationStatusCountered = "countered"
	NegotiationStatusCancelled = "cancelled"
)

// Negotiation is a buyer's price offer on a listed product.
// Invariants: offerPrice <= originalPrice at creation, and any counter
// satisfies offerPrice <= counterPrice <= originalPrice.
type Negotiation struct {
	ID                int       `json:"id" db:"id"`
	ProductID         int       `json:"product_id" db:"product_id"`
	BuyerID           int       `json:"buyer_id" db:"buyer_id"`
	SellerID          int       `json:"seller_id" db:"seller_id"`
	OriginalPrice     float64   `json:"original_price" db:"original_price"`
	OfferPrice        float64   `json:"offer_price" db:"offer_price"`
	CounterOfferPrice *float64  `json:"counter_offer_price,omitempty" db:"counter_offer_price"`
	Status            string    `json:"status" db:"status"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

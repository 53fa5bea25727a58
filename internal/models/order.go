package models

import "time"

// Order status values. Pending is the sole initial state; completed,
// cancelled and refunded are terminal.
const (
	OrderStatusPending         = "pending"
	OrderStatusPaid            = "paid"
	OrderStatusSellerConfirmed = "seller_confirmed"
	OrderStatusPreparing       = "preparing"
	OrderStatusReadyForPickup  = "ready_for_pickup"
	OrderStatusShipped         = "shipped"
	OrderStatusOutForDelivery  = "out_for_delivery"
	OrderStatusDelivered       = "delivered"
	OrderStatusBuyerConfirmed  = "buyer_confirmed"
	OrderStatusCompleted       = "completed"
	OrderStatusCancelled       = "cancelled"
	OrderStatusDisputed        = "disputed"
	OrderStatusRefunded        = "refunded"
)

// Delivery method values
const (
	DeliveryMethodPickup   = "pickup"
	DeliveryMethodDelivery = "delivery"
)

// Order is the central marketplace entity. TotalAmount is the buyer-facing
// price (seller price + commission + gateway fee) snapshotted at creation
// time; later commission-rate changes never touch existing orders.
type Order struct {
	ID             string    `json:"id" db:"id"`
	BuyerID        int       `json:"buyer_id" db:"buyer_id"`
	SellerID       int       `json:"seller_id" db:"seller_id"`
	ProductID      int       `json:"product_id" db:"product_id"`
	TotalAmount    float64   `json:"total_amount" db:"total_amount"`
	SellerAmount   float64   `json:"seller_amount" db:"seller_amount"`
	Commission     float64   `json:"commission" db:"commission"`
	GatewayFee     float64   `json:"gateway_fee" db:"gateway_fee"`
	CommissionRate float64   `json:"commission_rate" db:"commission_rate"`
	PaymentMethod  string    `json:"payment_method" db:"payment_method"`
	DeliveryMethod string    `json:"delivery_method" db:"delivery_method"`
	Status         string    `json:"status" db:"status"`
	PaymentRef     string    `json:"payment_ref" db:"payment_ref"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// OrderStatusHistory is an append-only audit record of one status change.
// Never mutated or deleted. ChangedBy is 0 for system-applied transitions.
type OrderStatusHistory struct {
	ID        int       `json:"id" db:"id"`
	OrderID   string    `json:"order_id" db:"order_id"`
	Status    string    `json:"status" db:"status"`
	ChangedBy int       `json:"changed_by" db:"changed_by"`
	Note      string    `json:"note,omitempty" db:"note"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PricingBreakdown is the three-way split of an order's money between
// buyer, platform and seller. Not persisted; the relevant fields are
// snapshotted onto the Order at creation.
type PricingBreakdown struct {
	SellerPrice        float64 `json:"sellerPrice"`
	PlatformCommission float64 `json:"platformCommission"`
	PaymentFee         float64 `json:"paymentFee"`
	BuyerPays          float64 `json:"buyerPays"`
	SellerReceives     float64 `json:"sellerReceives"`
	CommissionRate     float64 `json:"commissionRate"`
}

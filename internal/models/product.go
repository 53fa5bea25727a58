package models

import "time"

// Product status values
const (
	ProductStatusActive   = "active"
	ProductStatusSold     = "sold"
	ProductStatusDelisted = "delisted"
)

// Product is a marketplace listing. Price is the seller's desired proceeds
// before commission; buyers see the pricing engine's buyerPays figure.
type Product struct {
	ID          int       `json:"id" db:"id"`
	SellerID    int       `json:"seller_id" db:"seller_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Price       float64   `json:"price" db:"price"`
	Status      string    `json:"status" db:"status"`
	ImagePath   string    `json:"image_path" db:"image_path"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

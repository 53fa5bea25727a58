package models

import "time"

type User struct {
	ID             int        `json:"id" example:"1"`                       // User ID
	Email          string     `json:"email" example:"user@example.com"`     // User email
	FirstName      string     `json:"FirstName" example:"John"`             // User first name
	LastName       string     `json:"LastName" example:"Doe"`               // User last name
	PhoneNumber    string     `json:"PhoneNumber" example:"+2348012345678"` // User phone number
	IsVerified     bool       `json:"is_verified"`                          // Campus ID verification
	TransactionPIN string     `json:"-"`                                    // bcrypt hash, empty until set
	LastLogin      *time.Time `json:"last_login,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

package domain

import "time"

type UserRole string

const (
	RoleOwner   UserRole = "owner"
	RolePartner UserRole = "partner"
)

// Weather is the ambient weather context used when scheduling activities
type Weather struct {
	Temperature float64 `json:"temperature"`
	Condition   string  `json:"condition"`
}

// Profile holds per-user planning context: the city events are placed in
// and the last known weather there.
type Profile struct {
	UserID     string    `json:"userId"`
	TelegramID int64     `json:"telegramId,omitempty"`
	Name       string    `json:"name"`
	Role       UserRole  `json:"role"`
	City       string    `json:"city"`
	Weather    Weather   `json:"weather"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

package store

import (
	"time"

	"github.com/google/uuid"

	"keeper/pkg/types"
)

// User is an alert-routing identity.
type User struct {
	ID               uuid.UUID
	Email            string
	MessagingAddress string
	WebhookURL       string
	PrimaryChannel   string
	Deleted          bool
}

// Watch is a user's declared interest in one product.
type Watch struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	ASIN            string
	Title           string
	CurrentPrice    float64
	TargetPrice     float64
	Volatility      float64
	Status          string
	LastChecked     time.Time
	LastPriceChange time.Time
	Domain          types.Domain
}

// Alert is one target-crossing event awaiting delivery.
type Alert struct {
	ID              uuid.UUID
	WatchID         uuid.UUID
	TriggeredPrice  float64
	TargetPrice     float64
	OldPrice        float64
	NewPrice        float64
	DiscountPercent float64
	Status          string
	Channel         string
	TriggeredAt     time.Time
	SentAt          time.Time
}

// AlertContext is an alert joined with its watch and owning user, the unit
// the dispatcher works on.
type AlertContext struct {
	Alert Alert
	Watch Watch
	User  User
}

// DealFilter is a user's saved deal search criteria.
type DealFilter struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Name        string
	Categories  []int64
	MinPrice    float64
	MaxPrice    float64
	MinDiscount float64
	MaxDiscount float64
	MinRating   float64
	Active      bool
}

// FilterWithUser pairs an active filter with its owner for report delivery.
type FilterWithUser struct {
	Filter DealFilter
	User   User
}

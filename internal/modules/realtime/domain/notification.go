package domain

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies a notification event.
type Category string

const (
	CategoryInfo                Category = "info"
	CategoryWarning             Category = "warning"
	CategoryError               Category = "error"
	CategorySuccess             Category = "success"
	CategoryApplicationReceived Category = "application_received"
	CategoryApplicationApproved Category = "application_approved"
	CategoryApplicationRejected Category = "application_rejected"
	CategoryMessageReceived     Category = "message_received"
)

var knownCategories = map[Category]struct{}{
	CategoryInfo:                {},
	CategoryWarning:             {},
	CategoryError:               {},
	CategorySuccess:             {},
	CategoryApplicationReceived: {},
	CategoryApplicationApproved: {},
	CategoryApplicationRejected: {},
	CategoryMessageReceived:     {},
}

// ParseCategory normalizes raw and reports whether it names a known category.
// An empty value defaults to info.
func ParseCategory(raw string) (Category, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if normalized == "" {
		return CategoryInfo, true
	}
	c := Category(normalized)
	_, ok := knownCategories[c]
	return c, ok
}

// Notification is created by an external producer and pushed live when its target is online.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	SenderID  string            `json:"senderId,omitempty"`
	Category  Category          `json:"type"`
	Message   string            `json:"message"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	Read      bool              `json:"read"`
}

// Validate checks the fields a producer must supply.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.UserID) == "" {
		return fmt.Errorf("%w: notification target user is required", ErrValidation)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: notification message is required", ErrValidation)
	}
	if _, ok := knownCategories[n.Category]; !ok {
		return fmt.Errorf("%w: unknown notification type %q", ErrValidation, n.Category)
	}
	return nil
}

// DeliveryOutcome is the result of a notification dispatch.
type DeliveryOutcome int

const (
	// OutcomePending means the target had no live connection; it will pull the notification later.
	OutcomePending DeliveryOutcome = iota
	// OutcomeDelivered means at least one live connection received the push.
	OutcomeDelivered
)

func (o DeliveryOutcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	default:
		return "pending"
	}
}

// MarshalText renders the outcome by name in JSON payloads.
func (o DeliveryOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MainCategory is the required discriminant of a notification category.
type MainCategory string

const (
	CategoryNFT       MainCategory = "nft"
	CategoryGas       MainCategory = "gas"
	CategoryPortfolio MainCategory = "portfolio"
	CategorySystem    MainCategory = "system"
)

// Valid reports whether c is one of the known categories.
func (c MainCategory) Valid() bool {
	switch c {
	case CategoryNFT, CategoryGas, CategoryPortfolio, CategorySystem:
		return true
	default:
		return false
	}
}

// ParseMainCategory normalizes a user supplied category. An empty string is
// returned unchanged so callers can express "any category".
func ParseMainCategory(raw string) (MainCategory, error) {
	c := MainCategory(strings.ToLower(strings.TrimSpace(raw)))
	if c == "" || c.Valid() {
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, raw)
}

// Category tags a notification for filtering. Sub is a free-form label.
type Category struct {
	Main MainCategory `json:"main"`
	Sub  string       `json:"sub,omitempty"`
}

// Priority of a notification. The empty value means "not set".
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Audible reports whether a notification of this priority plays a sound.
// An absent priority is treated like high.
func (p Priority) Audible() bool {
	return p == "" || p == PriorityHigh
}

// Action is an optional follow-up offered to the user.
type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Notification is a committed, persisted record.
type Notification struct {
	ID        string     `json:"id"`
	Category  Category   `json:"category"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
	Read      bool       `json:"read"`
	Priority  Priority   `json:"priority,omitempty"`
	Action    *Action    `json:"action,omitempty"`
	GroupID   string     `json:"groupId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the record is stale at now.
func (n Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

// ErrInvalidRequest is returned for pending requests that cannot be delivered.
var ErrInvalidRequest = errors.New("invalid notification request")

// PendingRequest is the payload callers submit for throttled delivery.
type PendingRequest struct {
	Category  Category   `json:"category"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Priority  Priority   `json:"priority,omitempty"`
	Action    *Action    `json:"action,omitempty"`
	GroupID   string     `json:"groupId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (r PendingRequest) Validate() error {
	if !r.Category.Main.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, r.Category.Main)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, r.Priority)
	}
	if r.Action != nil && strings.TrimSpace(r.Action.URL) == "" {
		return fmt.Errorf("%w: action url is required", ErrInvalidRequest)
	}
	return nil
}

// Commit turns the request into a committed record.
func (r PendingRequest) Commit(id string, now time.Time) Notification {
	n := Notification{
		ID:        id,
		Category:  r.Category,
		Title:     r.Title,
		Message:   r.Message,
		Timestamp: now,
		Priority:  r.Priority,
		GroupID:   r.GroupID,
	}
	if r.Action != nil {
		a := *r.Action
		n.Action = &a
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		n.ExpiresAt = &t
	}
	return n
}

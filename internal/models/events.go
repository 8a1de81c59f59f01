package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeSaleCreated          = "SALE_CREATED"
	EventTypeSessionReconciled    = "SESSION_RECONCILED"
	EventTypeCompRefreshRequested = "COMP_REFRESH_REQUESTED"
	EventTypeCompRefreshed        = "COMP_REFRESHED"
	EventTypeCompRefreshAborted   = "COMP_REFRESH_ABORTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SaleCreatedEvent published for every sale the committer writes
type SaleCreatedEvent struct {
	BaseEvent
	SaleID     int64           `json:"sale_id"`
	SessionID  int64           `json:"session_id"`
	ItemID     int64           `json:"item_id"`
	SlotNumber int             `json:"slot_number"`
	SoldPrice  decimal.Decimal `json:"sold_price"`
	NetProfit  decimal.Decimal `json:"net_profit"`
}

// SessionReconciledEvent published when a session transitions to reconciled
type SessionReconciledEvent struct {
	BaseEvent
	SessionID    int64 `json:"session_id"`
	SalesCreated int   `json:"sales_created"`
}

// CompRefreshRequestedEvent asks the comp worker to refresh a batch of items
type CompRefreshRequestedEvent struct {
	BaseEvent
	ItemIDs []int64 `json:"item_ids"`
}

// CompRefreshedEvent published after an item's comp fields were updated
type CompRefreshedEvent struct {
	BaseEvent
	ItemID     int64            `json:"item_id"`
	SampleSize int              `json:"sample_size"`
	Median     *decimal.Decimal `json:"median,omitempty"`
	Confidence string           `json:"confidence"`
}

// CompRefreshAbortedEvent published when a bulk refresh stops early
type CompRefreshAbortedEvent struct {
	BaseEvent
	Reason    string  `json:"reason"`
	Remaining []int64 `json:"remaining"`
}

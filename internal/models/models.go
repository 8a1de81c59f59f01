package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session represents a livestream sales event
type Session struct {
	ID        int64           `db:"id" json:"id"`
	UserID    int64           `db:"user_id" json:"user_id"`
	Name      string          `db:"name" json:"name"`
	Status    string          `db:"status" json:"status"`
	FeeRate   decimal.Decimal `db:"fee_rate" json:"fee_rate"`
	TaxRate   decimal.Decimal `db:"tax_rate" json:"tax_rate"`
	StartedAt *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// InventoryItem represents a single piece of inventory with its cost basis
type InventoryItem struct {
	ID        int64            `db:"id" json:"id"`
	UserID    int64            `db:"user_id" json:"user_id"`
	Name      string           `db:"name" json:"name"`
	CostBasis decimal.Decimal  `db:"cost_basis" json:"cost_basis"`
	Status    string           `db:"status" json:"status"`
	FeeRate   *decimal.Decimal `db:"fee_rate" json:"fee_rate,omitempty"`
	TaxRate   *decimal.Decimal `db:"tax_rate" json:"tax_rate,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// SessionSlot is a planned sale position within a session
type SessionSlot struct {
	SessionID  int64            `db:"session_id" json:"session_id"`
	SlotNumber int              `db:"slot_number" json:"slot_number"`
	ItemID     int64            `db:"item_id" json:"item_id"`
	CostBasis  decimal.Decimal  `db:"cost_basis" json:"cost_basis"`
	ItemName   string           `db:"item_name" json:"item_name"`
	FeeRate    *decimal.Decimal `db:"fee_rate" json:"fee_rate,omitempty"`
	TaxRate    *decimal.Decimal `db:"tax_rate" json:"tax_rate,omitempty"`
}

// Sale is a persisted financial transaction closing out one inventory item
type Sale struct {
	ID            int64           `db:"id" json:"id"`
	ItemID        int64           `db:"item_id" json:"item_id"`
	SessionID     int64           `db:"session_id" json:"session_id"`
	SoldPrice     decimal.Decimal `db:"sold_price" json:"sold_price"`
	Fees          decimal.Decimal `db:"fees" json:"fees"`
	Taxes         decimal.Decimal `db:"taxes" json:"taxes"`
	ShippingCost  decimal.Decimal `db:"shipping_cost" json:"shipping_cost"`
	NetProfit     decimal.Decimal `db:"net_profit" json:"net_profit"`
	SoldAt        time.Time       `db:"sold_at" json:"sold_at"`
	BuyerUsername string          `db:"buyer_username" json:"buyer_username,omitempty"`
	OrderID       string          `db:"order_id" json:"order_id,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// ItemMetadata is the structured description of an item used to search comparables
type ItemMetadata struct {
	ItemID     int64  `db:"item_id" json:"item_id"`
	Name       string `db:"name" json:"name"`
	Year       string `db:"year" json:"year,omitempty"`
	SetName    string `db:"set_name" json:"set_name,omitempty"`
	Brand      string `db:"brand" json:"brand,omitempty"`
	Player     string `db:"player" json:"player,omitempty"`
	CardNumber string `db:"card_number" json:"card_number,omitempty"`
	Parallel   string `db:"parallel" json:"parallel,omitempty"`
	Grader     string `db:"grader" json:"grader,omitempty"`
	Grade      string `db:"grade" json:"grade,omitempty"`
}

// PriceObservation is one normalized external listing
type PriceObservation struct {
	PriceTotal decimal.Decimal `json:"price_total"`
	PriceItem  decimal.Decimal `json:"price_item"`
	Shipping   decimal.Decimal `json:"shipping"`
	Currency   string          `json:"currency"`
	Title      string          `json:"title"`
	SourceID   string          `json:"source_id"`
}

// CompStats is the aggregate computed from a set of price observations
type CompStats struct {
	SampleSize  int              `json:"sample_size"`
	MedianPrice *decimal.Decimal `json:"median_price"`
	AvgPrice    *decimal.Decimal `json:"avg_price"`
	P25         *decimal.Decimal `json:"p25"`
	P75         *decimal.Decimal `json:"p75"`
	MinTrim     *decimal.Decimal `json:"min_trim"`
	MaxTrim     *decimal.Decimal `json:"max_trim"`
	RangeLow    *decimal.Decimal `json:"range_low"`
	RangeHigh   *decimal.Decimal `json:"range_high"`
	Confidence  string           `json:"confidence"`
}

// CompHistoryRecord is an append-only snapshot of one comp refresh
type CompHistoryRecord struct {
	ID           int64              `db:"id" json:"id"`
	ItemID       int64              `db:"item_id" json:"item_id"`
	Query        string             `db:"query" json:"query"`
	Stats        CompStats          `db:"-" json:"stats"`
	Observations []PriceObservation `db:"-" json:"observations"`
	TrimmedCount int                `db:"trimmed_count" json:"trimmed_count"`
	RetrievedAt  time.Time          `db:"retrieved_at" json:"retrieved_at"`
}

// Session statuses
const (
	SessionStatusPlanned    = "PLANNED"
	SessionStatusLive       = "LIVE"
	SessionStatusEnded      = "ENDED"
	SessionStatusReconciled = "RECONCILED"
)

// Item statuses
const (
	ItemStatusInStock  = "IN_STOCK"
	ItemStatusAssigned = "ASSIGNED"
	ItemStatusSold     = "SOLD"
)

// Comp confidence levels
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// RawListing is one listing as returned by the external marketplace search. Prices are
// kept as the raw strings the API sent.
type RawListing struct {
	SourceID     string `json:"source_id"`
	Title        string `json:"title"`
	Price        string `json:"price"`
	Currency     string `json:"currency"`
	ShippingCost string `json:"shipping_cost,omitempty"`
}

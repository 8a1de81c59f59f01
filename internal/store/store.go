package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"showledger/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a single-row lookup finds nothing
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection for readiness probes
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema; every statement is idempotent
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	var session models.Session
	err := s.db.GetContext(ctx, &session, "SELECT * FROM sessions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSessionSlots retrieves the planned slots of a session joined with item cost data
func (s *Store) GetSessionSlots(ctx context.Context, sessionID int64) ([]models.SessionSlot, error) {
	slots := []models.SessionSlot{}
	err := s.db.SelectContext(ctx, &slots, `
		SELECT ss.session_id, ss.slot_number, ss.item_id,
		       i.cost_basis, i.name AS item_name, i.fee_rate, i.tax_rate
		FROM session_slots ss
		JOIN inventory_items i ON i.id = ss.item_id
		WHERE ss.session_id = $1
		ORDER BY ss.slot_number`, sessionID)
	return slots, err
}

// UpdateSessionStatus updates session status
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET status = $1, updated_at = NOW() WHERE id = $2",
		status, sessionID)
	if err != nil {
		return err
	}
	return expectRow(res, "session", sessionID)
}

// UpdateItemStatus updates an inventory item's lifecycle state
func (s *Store) UpdateItemStatus(ctx context.Context, itemID int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE inventory_items SET status = $1, updated_at = NOW() WHERE id = $2",
		status, itemID)
	if err != nil {
		return err
	}
	return expectRow(res, "item", itemID)
}

// GetItemMetadata retrieves the structured fields used to build comp queries
func (s *Store) GetItemMetadata(ctx context.Context, itemID int64) (*models.ItemMetadata, error) {
	var meta models.ItemMetadata
	err := s.db.GetContext(ctx, &meta, `
		SELECT id AS item_id, name, year, set_name, brand, player,
		       card_number, parallel, grader, grade
		FROM inventory_items WHERE id = $1`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func expectRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}

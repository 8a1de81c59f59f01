package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"showledger/internal/models"
)

type compHistoryRow struct {
	ID           int64     `db:"id"`
	ItemID       int64     `db:"item_id"`
	Query        string    `db:"query"`
	Stats        []byte    `db:"stats"`
	Observations []byte    `db:"observations"`
	TrimmedCount int       `db:"trimmed_count"`
	RetrievedAt  time.Time `db:"retrieved_at"`
}

// SaveCompSnapshot appends a comp history record
func (s *Store) SaveCompSnapshot(ctx context.Context, record *models.CompHistoryRecord) error {
	stats, err := json.Marshal(record.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	observations := record.Observations
	if observations == nil {
		observations = []models.PriceObservation{}
	}
	obs, err := json.Marshal(observations)
	if err != nil {
		return fmt.Errorf("failed to marshal observations: %w", err)
	}

	query := `
		INSERT INTO comp_history (item_id, query, stats, observations, trimmed_count, retrieved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return s.db.GetContext(ctx, &record.ID, query,
		record.ItemID, record.Query, stats, obs, record.TrimmedCount, record.RetrievedAt)
}

// UpdateItemCompFields stores the latest value, range and confidence on the item
func (s *Store) UpdateItemCompFields(ctx context.Context, itemID int64, stats models.CompStats) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET comp_value = $1, comp_low = $2, comp_high = $3, comp_confidence = $4,
		    comp_sample_size = $5, comp_updated_at = NOW(), updated_at = NOW()
		WHERE id = $6`,
		stats.MedianPrice, stats.RangeLow, stats.RangeHigh, stats.Confidence, stats.SampleSize, itemID)
	if err != nil {
		return err
	}
	return expectRow(res, "item", itemID)
}

// GetCompHistory retrieves the most recent snapshots for an item, newest first
func (s *Store) GetCompHistory(ctx context.Context, itemID int64, limit int) ([]models.CompHistoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []compHistoryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, item_id, query, stats, observations, trimmed_count, retrieved_at
		FROM comp_history WHERE item_id = $1
		ORDER BY retrieved_at DESC LIMIT $2`, itemID, limit)
	if err != nil {
		return nil, err
	}

	records := make([]models.CompHistoryRecord, 0, len(rows))
	for _, row := range rows {
		rec := models.CompHistoryRecord{
			ID:           row.ID,
			ItemID:       row.ItemID,
			Query:        row.Query,
			TrimmedCount: row.TrimmedCount,
			RetrievedAt:  row.RetrievedAt,
		}
		if err := json.Unmarshal(row.Stats, &rec.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode stats for snapshot %d: %w", row.ID, err)
		}
		if err := json.Unmarshal(row.Observations, &rec.Observations); err != nil {
			return nil, fmt.Errorf("failed to decode observations for snapshot %d: %w", row.ID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

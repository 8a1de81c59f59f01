package store

import (
	"context"

	"showledger/internal/models"
)

// GetExistingSales retrieves every sale a session has produced
func (s *Store) GetExistingSales(ctx context.Context, sessionID int64) ([]models.Sale, error) {
	sales := []models.Sale{}
	err := s.db.SelectContext(ctx, &sales,
		"SELECT * FROM sales WHERE session_id = $1 ORDER BY id", sessionID)
	return sales, err
}

// CreateSale inserts a sale. The unique item_id constraint rejects a second sale per item.
func (s *Store) CreateSale(ctx context.Context, sale *models.Sale) error {
	query := `
		INSERT INTO sales (item_id, session_id, sold_price, fees, taxes, shipping_cost,
		                   net_profit, sold_at, buyer_username, order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	return s.db.QueryRowxContext(ctx, query,
		sale.ItemID, sale.SessionID, sale.SoldPrice, sale.Fees, sale.Taxes, sale.ShippingCost,
		sale.NetProfit, sale.SoldAt, sale.BuyerUsername, sale.OrderID,
	).Scan(&sale.ID, &sale.CreatedAt)
}

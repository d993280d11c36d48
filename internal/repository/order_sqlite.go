package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rustshop-api/internal/model"

	"github.com/shopspring/decimal"
)

// CreateOrder inserts the order and all of its frozen line items in one
// transaction: either the whole purchase record exists or none of it does.
func (s *ShopStore) CreateOrder(ctx context.Context, order *model.Order) error {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, user_id, steam_id, status, subtotal, total, currency, server_id, note, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID, order.UserID, order.SteamID, string(order.Status),
			order.Subtotal.String(), order.Total.String(), order.Currency,
			order.ServerID, order.Note, order.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, command_template, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare order items: %w", err)
		}
		defer stmt.Close()

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			if item.CreatedAt.IsZero() {
				item.CreatedAt = order.CreatedAt
			}
			_, err := stmt.ExecContext(ctx, item.ID, item.OrderID, item.ProductID,
				item.ProductName, item.Quantity, item.UnitPrice.String(),
				item.CommandTemplate, item.CreatedAt.UTC().Format(timeLayout))
			if err != nil {
				return fmt.Errorf("insert order item %s: %w", item.ID, err)
			}
		}

		return nil
	})
}

// DeleteOrder removes an order and its items; compensation path only.
func (s *ShopStore) DeleteOrder(ctx context.Context, id string) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, id); err != nil {
			return fmt.Errorf("delete order items: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete order: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return ErrOrderNotFound
		}
		return nil
	})
}

func scanOrder(scan func(dest ...interface{}) error) (*model.Order, error) {
	var (
		o           model.Order
		subtotalStr string
		totalStr    string
		serverID    sql.NullString
		createdAt   string
	)

	err := scan(&o.ID, &o.UserID, &o.SteamID, &o.Status, &subtotalStr, &totalStr,
		&o.Currency, &serverID, &o.Note, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.Subtotal, err = decimal.NewFromString(subtotalStr)
	if err != nil {
		return nil, fmt.Errorf("parse subtotal: %w", err)
	}
	o.Total, err = decimal.NewFromString(totalStr)
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if serverID.Valid {
		o.ServerID = &serverID.String
	}
	o.CreatedAt, _ = time.Parse(timeLayout, createdAt)

	return &o, nil
}

const orderColumns = `id, user_id, steam_id, status, subtotal, total, currency, server_id, COALESCE(note, ''), created_at`

// GetOrder returns an order with its line items.
func (s *ShopStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	order, err := scanOrder(row.Scan)
	if err != nil {
		return nil, err
	}

	items, err := s.orderItems(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

// OrdersByUser returns the user's orders with items, newest first.
func (s *ShopStore) OrdersByUser(ctx context.Context, userID int64, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.orderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

func (s *ShopStore) orderItems(ctx context.Context, orderID string) ([]model.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, COALESCE(command_template, ''), created_at
		FROM order_items
		WHERE order_id = ?
		ORDER BY created_at ASC, id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var (
			item      model.OrderItem
			priceStr  string
			createdAt string
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
			&item.Quantity, &priceStr, &item.CommandTemplate, &createdAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.UnitPrice, err = decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse unit price: %w", err)
		}
		item.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		items = append(items, item)
	}

	return items, rows.Err()
}

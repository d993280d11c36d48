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

const productColumns = `id, name, COALESCE(description, ''), COALESCE(category, ''), price, is_active, server_id, COALESCE(command_template, ''), created_at, updated_at`

func scanProduct(scan func(dest ...interface{}) error) (*model.Product, error) {
	var (
		p         model.Product
		priceStr  string
		serverID  sql.NullString
		createdAt string
		updatedAt string
	)

	err := scan(&p.ID, &p.Name, &p.Description, &p.Category, &priceStr,
		&p.IsActive, &serverID, &p.CommandTemplate, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}

	p.Price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	if serverID.Valid {
		p.ServerID = &serverID.String
	}
	p.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	p.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)

	return &p, nil
}

// GetProduct returns a catalog item by id.
func (s *ShopStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	return scanProduct(row.Scan)
}

// ListProducts returns catalog items, optionally only active ones.
func (s *ShopStore) ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}

	return products, rows.Err()
}

// CreateProduct inserts a catalog item.
func (s *ShopStore) CreateProduct(ctx context.Context, p *model.Product) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, category, price, is_active, server_id, command_template, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.Category, p.Price.String(), p.IsActive,
		p.ServerID, p.CommandTemplate, p.CreatedAt.Format(timeLayout), p.UpdatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// UpdateProduct updates a catalog item. Orders keep their frozen snapshots,
// so edits here never change what was already purchased.
func (s *ShopStore) UpdateProduct(ctx context.Context, p *model.Product) error {
	p.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = ?, description = ?, category = ?, price = ?, is_active = ?,
		    server_id = ?, command_template = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Description, p.Category, p.Price.String(), p.IsActive,
		p.ServerID, p.CommandTemplate, p.UpdatedAt.Format(timeLayout), p.ID)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}

// DeleteProduct removes a catalog item.
func (s *ShopStore) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rustshop-api/internal/model"
)

const serverColumns = `id, name, COALESCE(description, ''), COALESCE(region, ''), COALESCE(address, ''), api_key, current_players, max_players, COALESCE(map_name, ''), last_seen_at, created_at, updated_at`

func scanServer(scan func(dest ...interface{}) error) (*model.Server, error) {
	var (
		srv        model.Server
		lastSeenAt sql.NullString
		createdAt  string
		updatedAt  string
	)

	err := scan(&srv.ID, &srv.Name, &srv.Description, &srv.Region, &srv.Address,
		&srv.APIKey, &srv.CurrentPlayers, &srv.MaxPlayers, &srv.MapName,
		&lastSeenAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrServerNotFound
		}
		return nil, fmt.Errorf("scan server: %w", err)
	}

	if lastSeenAt.Valid {
		if t, err := time.Parse(timeLayout, lastSeenAt.String); err == nil {
			srv.LastSeenAt = &t
		}
	}
	srv.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	srv.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)

	return &srv, nil
}

// GetServer returns a server by id.
func (s *ShopStore) GetServer(ctx context.Context, id string) (*model.Server, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	return scanServer(row.Scan)
}

// GetServerByAPIKey resolves a per-server credential.
func (s *ShopStore) GetServerByAPIKey(ctx context.Context, apiKey string) (*model.Server, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE api_key = ?`, apiKey)
	return scanServer(row.Scan)
}

// ListServers returns servers, optionally filtered by region.
func (s *ShopStore) ListServers(ctx context.Context, region string) ([]model.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers`
	var args []interface{}
	if region != "" {
		query += ` WHERE region = ?`
		args = append(args, region)
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()

	var servers []model.Server
	for rows.Next() {
		srv, err := scanServer(rows.Scan)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *srv)
	}

	return servers, rows.Err()
}

// CreateServer registers a server.
func (s *ShopStore) CreateServer(ctx context.Context, srv *model.Server) error {
	now := time.Now().UTC()
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = now
	}
	srv.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (id, name, description, region, address, api_key,
			current_players, max_players, map_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		srv.ID, srv.Name, srv.Description, srv.Region, srv.Address, srv.APIKey,
		srv.CurrentPlayers, srv.MaxPlayers, srv.MapName,
		srv.CreatedAt.Format(timeLayout), srv.UpdatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert server: %w", err)
	}
	return nil
}

// UpdateServer updates display metadata and the credential.
func (s *ShopStore) UpdateServer(ctx context.Context, srv *model.Server) error {
	srv.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE servers
		SET name = ?, description = ?, region = ?, address = ?, api_key = ?,
		    max_players = ?, map_name = ?, updated_at = ?
		WHERE id = ?`,
		srv.Name, srv.Description, srv.Region, srv.Address, srv.APIKey,
		srv.MaxPlayers, srv.MapName, srv.UpdatedAt.Format(timeLayout), srv.ID)
	if err != nil {
		return fmt.Errorf("update server: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrServerNotFound
	}
	return nil
}

// DeleteServer removes a server. Cart entries scoped to it keep their scope;
// they stay claimable once the server is re-registered with the same id.
func (s *ShopStore) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrServerNotFound
	}
	return nil
}

// Heartbeat records liveness and capacity telemetry.
func (s *ShopStore) Heartbeat(ctx context.Context, id string, currentPlayers, maxPlayers int, mapName string, now time.Time) error {
	ts := now.UTC().Format(timeLayout)

	res, err := s.db.ExecContext(ctx, `
		UPDATE servers
		SET current_players = ?, max_players = ?, map_name = ?, last_seen_at = ?, updated_at = ?
		WHERE id = ?`,
		currentPlayers, maxPlayers, mapName, ts, ts, id)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrServerNotFound
	}
	return nil
}

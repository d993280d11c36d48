package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rustshop-api/internal/model"
)

const entryColumns = `id, user_id, steam_id, order_id, product_id, product_name, quantity, command_template, server_id, status, attempt_count, COALESCE(last_error, ''), created_at, updated_at, delivered_at`

func scanEntry(scan func(dest ...interface{}) error) (*model.CartEntry, error) {
	var (
		e           model.CartEntry
		serverID    sql.NullString
		createdAt   string
		updatedAt   string
		deliveredAt sql.NullString
	)

	err := scan(&e.ID, &e.UserID, &e.SteamID, &e.OrderID, &e.ProductID, &e.ProductName,
		&e.Quantity, &e.CommandTemplate, &serverID, &e.Status, &e.AttemptCount,
		&e.LastError, &createdAt, &updatedAt, &deliveredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("scan cart entry: %w", err)
	}

	if serverID.Valid {
		e.ServerID = &serverID.String
	}
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	e.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if deliveredAt.Valid {
		if t, err := time.Parse(timeLayout, deliveredAt.String); err == nil {
			e.DeliveredAt = &t
		}
	}

	return &e, nil
}

// InsertEntries creates pending entries in one transaction.
func (s *ShopStore) InsertEntries(ctx context.Context, entries []model.CartEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO cart_entries (
				id, user_id, steam_id, order_id, product_id, product_name, quantity,
				command_template, server_id, status, attempt_count, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare cart entries: %w", err)
		}
		defer stmt.Close()

		for i := range entries {
			e := &entries[i]
			now := e.CreatedAt
			if now.IsZero() {
				now = time.Now().UTC()
				e.CreatedAt = now
			}
			e.UpdatedAt = now
			e.Status = model.EntryPending

			ts := now.UTC().Format(timeLayout)
			_, err := stmt.ExecContext(ctx, e.ID, e.UserID, e.SteamID, e.OrderID,
				e.ProductID, e.ProductName, e.Quantity, e.CommandTemplate,
				e.ServerID, string(model.EntryPending), ts, ts)
			if err != nil {
				return fmt.Errorf("insert cart entry %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// scopeFilter is the visibility rule: a nil scope sees everything, a scoped
// caller sees unscoped entries plus entries bound to that server.
const scopeFilter = `(? IS NULL OR server_id IS NULL OR server_id = ?)`

// PendingBySteamID returns pending entries visible to the scope, oldest first.
// Read-only: repeated discovery calls are safe.
func (s *ShopStore) PendingBySteamID(ctx context.Context, steamID string, serverScope *string) ([]model.CartEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM cart_entries
		WHERE steam_id = ? AND status = ? AND `+scopeFilter+`
		ORDER BY created_at ASC, id ASC`,
		steamID, string(model.EntryPending), serverScope, serverScope)
	if err != nil {
		return nil, fmt.Errorf("query pending entries: %w", err)
	}
	defer rows.Close()

	var entries []model.CartEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}

	return entries, rows.Err()
}

// ClaimPending atomically transitions the visible pending set to delivering.
// Each entry flips via a guarded update (status = 'pending' in the WHERE
// clause), so when two claimers race, each entry goes to exactly one of
// them: the first committer wins and the loser's set simply excludes it.
func (s *ShopStore) ClaimPending(ctx context.Context, steamID string, serverScope *string) ([]model.CartEntry, error) {
	var claimed []model.CartEntry

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+entryColumns+` FROM cart_entries
			WHERE steam_id = ? AND status = ? AND `+scopeFilter+`
			ORDER BY created_at ASC, id ASC`,
			steamID, string(model.EntryPending), serverScope, serverScope)
		if err != nil {
			return fmt.Errorf("query claimable entries: %w", err)
		}

		var candidates []model.CartEntry
		for rows.Next() {
			e, err := scanEntry(rows.Scan)
			if err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, *e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := time.Now().UTC()
		for i := range candidates {
			res, err := tx.ExecContext(ctx, `
				UPDATE cart_entries
				SET status = ?, updated_at = ?
				WHERE id = ? AND status = ?`,
				string(model.EntryDelivering), now.Format(timeLayout),
				candidates[i].ID, string(model.EntryPending))
			if err != nil {
				return fmt.Errorf("claim entry %s: %w", candidates[i].ID, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if affected == 1 {
				candidates[i].Status = model.EntryDelivering
				candidates[i].UpdatedAt = now
				claimed = append(claimed, candidates[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// GetEntry returns a cart entry by id.
func (s *ShopStore) GetEntry(ctx context.Context, id string) (*model.CartEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM cart_entries WHERE id = ?`, id)
	return scanEntry(row.Scan)
}

// EntriesByUser returns the user's entries, newest first. An empty status
// matches all statuses.
func (s *ShopStore) EntriesByUser(ctx context.Context, userID int64, status model.EntryStatus, limit int) ([]model.CartEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + entryColumns + ` FROM cart_entries WHERE user_id = ?`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query user entries: %w", err)
	}
	defer rows.Close()

	var entries []model.CartEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}

	return entries, rows.Err()
}

// SetDelivering re-marks a claimed entry as still in progress.
func (s *ShopStore) SetDelivering(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cart_entries
		SET status = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(model.EntryDelivering), time.Now().UTC().Format(timeLayout),
		id, string(model.EntryDelivered), string(model.EntryCancelled))
	if err != nil {
		return fmt.Errorf("set delivering: %w", err)
	}
	return s.requireEntry(ctx, id, res, true)
}

// SetDelivered stamps the delivery timestamp. Terminal and idempotent:
// re-acknowledging a delivered entry changes nothing and reports success.
func (s *ShopStore) SetDelivered(ctx context.Context, id string, now time.Time) error {
	ts := now.UTC().Format(timeLayout)

	res, err := s.db.ExecContext(ctx, `
		UPDATE cart_entries
		SET status = ?, updated_at = ?, delivered_at = ?
		WHERE id = ? AND status != ?`,
		string(model.EntryDelivered), ts, ts, id, string(model.EntryCancelled))
	if err != nil {
		return fmt.Errorf("set delivered: %w", err)
	}
	return s.requireEntry(ctx, id, res, true)
}

// ReturnFailed records the error, bumps the attempt count and sets the entry
// back to pending so a future claim retries it.
func (s *ShopStore) ReturnFailed(ctx context.Context, id string, deliveryErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cart_entries
		SET status = ?, attempt_count = attempt_count + 1, last_error = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(model.EntryPending), deliveryErr, time.Now().UTC().Format(timeLayout),
		id, string(model.EntryDelivered), string(model.EntryCancelled))
	if err != nil {
		return fmt.Errorf("return failed entry: %w", err)
	}
	return s.requireEntry(ctx, id, res, true)
}

// Cancel transitions a pending entry to cancelled.
func (s *ShopStore) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cart_entries
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(model.EntryCancelled), time.Now().UTC().Format(timeLayout),
		id, string(model.EntryPending))
	if err != nil {
		return fmt.Errorf("cancel entry: %w", err)
	}
	return s.requireEntry(ctx, id, res, false)
}

// ReclaimStale returns delivering entries last touched before the cutoff to
// pending. The recovery counts as an attempt so operators can spot clients
// that claim and crash in a loop.
func (s *ShopStore) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cart_entries
		SET status = ?, attempt_count = attempt_count + 1,
		    last_error = 'reclaimed: delivery not acknowledged', updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		string(model.EntryPending), time.Now().UTC().Format(timeLayout),
		string(model.EntryDelivering), cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale entries: %w", err)
	}
	return res.RowsAffected()
}

// requireEntry distinguishes "no such entry" from "exists but transition not
// allowed" after a guarded update matched zero rows. Acknowledge-side
// transitions pass deliveredIsNoop so a repeat report on a delivered entry
// succeeds silently; administrative transitions do not.
func (s *ShopStore) requireEntry(ctx context.Context, id string, res sql.Result, deliveredIsNoop bool) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	entry, err := s.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if deliveredIsNoop && entry.Status == model.EntryDelivered {
		return nil
	}
	return ErrInvalidTransition
}

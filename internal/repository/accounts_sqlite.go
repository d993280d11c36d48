package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"rustshop-api/internal/model"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// timeLayout is how timestamps are stored in SQLite (UTC, sortable).
const timeLayout = time.RFC3339Nano

// SQLiteAccountRepository implements AccountRepository using SQLite.
// Balances are stored as decimal strings; all arithmetic happens in Go via
// shopspring/decimal inside a single write transaction, which SQLite
// serializes, so a concurrent over-spend cannot pass the balance check.
type SQLiteAccountRepository struct {
	db *sql.DB
}

// NewSQLiteAccountRepository opens (and if needed creates) the accounts store.
func NewSQLiteAccountRepository(dbPath string) (*SQLiteAccountRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create accounts db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open accounts sqlite: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createAccountTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create account tables: %w", err)
	}

	log.Printf("[SQLiteAccountRepository] Initialized with database: %s", dbPath)
	return &SQLiteAccountRepository{db: db}, nil
}

func createAccountTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		steam_id TEXT UNIQUE NOT NULL,
		nickname TEXT NOT NULL,
		avatar_url TEXT,
		profile_url TEXT,
		balance TEXT NOT NULL DEFAULT '0',
		is_banned INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		last_login_at TEXT
	);
	CREATE TABLE IF NOT EXISTS balance_transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT,
		admin_id INTEGER,
		created_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS balance_tx_user_idx ON balance_transactions(user_id);
	CREATE INDEX IF NOT EXISTS balance_tx_created_idx ON balance_transactions(created_at);
	`
	_, err := db.Exec(query)
	return err
}

const userColumns = `id, steam_id, nickname, COALESCE(avatar_url, ''), COALESCE(profile_url, ''), balance, is_banned, created_at, last_login_at`

func scanUser(row *sql.Row) (*model.User, error) {
	var (
		u           model.User
		balanceStr  string
		createdAt   string
		lastLoginAt sql.NullString
	)

	err := row.Scan(&u.ID, &u.SteamID, &u.Nickname, &u.AvatarURL, &u.ProfileURL,
		&balanceStr, &u.IsBanned, &createdAt, &lastLoginAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.Balance, err = decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	u.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	if lastLoginAt.Valid {
		if t, err := time.Parse(timeLayout, lastLoginAt.String); err == nil {
			u.LastLoginAt = &t
		}
	}

	return &u, nil
}

// GetUser returns a user by internal id.
func (r *SQLiteAccountRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserBySteamID returns a user by Steam id.
func (r *SQLiteAccountRepository) GetUserBySteamID(ctx context.Context, steamID string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE steam_id = ?`, steamID)
	return scanUser(row)
}

// CreateUser inserts a new user with a zero balance.
func (r *SQLiteAccountRepository) CreateUser(ctx context.Context, user *model.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Balance.IsZero() {
		user.Balance = decimal.Zero
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (steam_id, nickname, avatar_url, profile_url, balance, is_banned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.SteamID, user.Nickname, user.AvatarURL, user.ProfileURL,
		user.Balance.String(), user.IsBanned, user.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	user.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("user insert id: %w", err)
	}
	return nil
}

// ApplyTransaction appends a ledger entry and adjusts the balance atomically.
func (r *SQLiteAccountRepository) ApplyTransaction(ctx context.Context, txn *model.BalanceTransaction, allowNegative bool) (*model.BalanceTransaction, error) {
	applied := *txn
	if applied.CreatedAt.IsZero() {
		applied.CreatedAt = time.Now().UTC()
	}

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var balanceStr string
		err := tx.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = ?`, applied.UserID).Scan(&balanceStr)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("read balance: %w", err)
		}

		balance, err := decimal.NewFromString(balanceStr)
		if err != nil {
			return fmt.Errorf("parse balance: %w", err)
		}

		newBalance := balance.Add(applied.Amount)
		if newBalance.IsNegative() && !allowNegative {
			return ErrInsufficientFunds
		}

		_, err = tx.ExecContext(ctx, `UPDATE users SET balance = ? WHERE id = ?`,
			newBalance.String(), applied.UserID)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO balance_transactions (user_id, amount, type, description, admin_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			applied.UserID, applied.Amount.String(), string(applied.Type),
			applied.Description, applied.AdminID, applied.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		applied.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("transaction insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &applied, nil
}

// Transactions returns ledger entries newest first.
func (r *SQLiteAccountRepository) Transactions(ctx context.Context, userID int64, limit int) ([]model.BalanceTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, amount, type, COALESCE(description, ''), admin_id, created_at
		FROM balance_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txns []model.BalanceTransaction
	for rows.Next() {
		var (
			t         model.BalanceTransaction
			amountStr string
			createdAt string
			adminID   sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &amountStr, &t.Type, &t.Description, &adminID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		if adminID.Valid {
			t.AdminID = &adminID.Int64
		}
		t.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		txns = append(txns, t)
	}

	return txns, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteAccountRepository) Close() error {
	return r.db.Close()
}

// Ensure SQLiteAccountRepository implements AccountRepository
var _ AccountRepository = (*SQLiteAccountRepository)(nil)

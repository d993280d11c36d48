package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"rustshop-api/internal/model"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

// MySQLAccountRepository implements AccountRepository using MySQL. Deploys
// that keep the accounts database on a shared MySQL instance use this
// backend; the check-then-write on debit takes a row lock (FOR UPDATE) so
// concurrent purchases by the same user serialize on the balance.
type MySQLAccountRepository struct {
	db *sql.DB
}

// NewMySQLAccountRepository connects to MySQL and prepares the schema.
// The DSN must include parseTime=true.
func NewMySQLAccountRepository(dsn string) (*MySQLAccountRepository, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open accounts mysql: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping accounts mysql: %w", err)
	}

	if err := createAccountTablesMySQL(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create account tables: %w", err)
	}

	log.Printf("[MySQLAccountRepository] Initialized")
	return &MySQLAccountRepository{db: db}, nil
}

func createAccountTablesMySQL(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			steam_id VARCHAR(32) NOT NULL UNIQUE,
			nickname VARCHAR(255) NOT NULL,
			avatar_url VARCHAR(512),
			profile_url VARCHAR(512),
			balance DECIMAL(18,2) NOT NULL DEFAULT 0,
			is_banned TINYINT(1) NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			last_login_at DATETIME NULL
		)`,
		`CREATE TABLE IF NOT EXISTS balance_transactions (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			amount DECIMAL(18,2) NOT NULL,
			type VARCHAR(32) NOT NULL,
			description VARCHAR(512),
			admin_id BIGINT NULL,
			created_at DATETIME NOT NULL,
			INDEX balance_tx_user_idx (user_id),
			INDEX balance_tx_created_idx (created_at)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *MySQLAccountRepository) scanUserRow(row *sql.Row) (*model.User, error) {
	var (
		u           model.User
		balanceStr  string
		lastLoginAt sql.NullTime
	)

	err := row.Scan(&u.ID, &u.SteamID, &u.Nickname, &u.AvatarURL, &u.ProfileURL,
		&balanceStr, &u.IsBanned, &u.CreatedAt, &lastLoginAt)
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
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		u.LastLoginAt = &t
	}

	return &u, nil
}

const mysqlUserColumns = `id, steam_id, nickname, COALESCE(avatar_url, ''), COALESCE(profile_url, ''), balance, is_banned, created_at, last_login_at`

// GetUser returns a user by internal id.
func (r *MySQLAccountRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mysqlUserColumns+` FROM users WHERE id = ?`, id)
	return r.scanUserRow(row)
}

// GetUserBySteamID returns a user by Steam id.
func (r *MySQLAccountRepository) GetUserBySteamID(ctx context.Context, steamID string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mysqlUserColumns+` FROM users WHERE steam_id = ?`, steamID)
	return r.scanUserRow(row)
}

// CreateUser inserts a new user with a zero balance.
func (r *MySQLAccountRepository) CreateUser(ctx context.Context, user *model.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (steam_id, nickname, avatar_url, profile_url, balance, is_banned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.SteamID, user.Nickname, user.AvatarURL, user.ProfileURL,
		user.Balance.String(), user.IsBanned, user.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	user.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("user insert id: %w", err)
	}
	return nil
}

// ApplyTransaction appends a ledger entry and adjusts the balance inside one
// transaction holding a row lock on the user.
func (r *MySQLAccountRepository) ApplyTransaction(ctx context.Context, txn *model.BalanceTransaction, allowNegative bool) (*model.BalanceTransaction, error) {
	applied := *txn
	if applied.CreatedAt.IsZero() {
		applied.CreatedAt = time.Now().UTC()
	}

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var balanceStr string
		err := tx.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = ? FOR UPDATE`, applied.UserID).Scan(&balanceStr)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock/get balance: %w", err)
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
			applied.Description, applied.AdminID, applied.CreatedAt.UTC())
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
func (r *MySQLAccountRepository) Transactions(ctx context.Context, userID int64, limit int) ([]model.BalanceTransaction, error) {
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
			adminID   sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &amountStr, &t.Type, &t.Description, &adminID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		if adminID.Valid {
			t.AdminID = &adminID.Int64
		}
		txns = append(txns, t)
	}

	return txns, rows.Err()
}

// Close closes the database connection.
func (r *MySQLAccountRepository) Close() error {
	return r.db.Close()
}

// Ensure MySQLAccountRepository implements AccountRepository
var _ AccountRepository = (*MySQLAccountRepository)(nil)

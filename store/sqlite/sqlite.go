/*
Package sqlite provides a SQLite-backed implementation of engine.TxStore.

PURPOSE:
  Persists users, products, purchases, recharges, withdrawals, settings
  and the ledger journal. Money is stored as decimal TEXT, never REAL.

KEY TABLES:
  users:       Balance/earnings figures, unique phone
  products:    Price, rate policy (rate_kind, rate_value), duration
  purchases:   Settlement state (next_payout_date, remaining_days, active)
  recharges:   Moderated deposit requests
  withdrawals: Moderated payout requests
  settings:    Key/value, upserted by key
  entries:     Append-only journal, unique idempotency_key

CASCADES:
  purchases, recharges, withdrawals and entries reference users with
  ON DELETE CASCADE. Foreign keys are switched on in the DSN.

CONCURRENCY:
  The pool is capped at one connection, so a transaction in flight holds
  the database until it commits; `_txlock=immediate` takes the write lock
  at BEGIN. On top of that:
  - UpdatePurchase is guarded by (remaining_days, next_payout_date)
  - Transition* only move rows WHERE status = 'pending'
  - entries.idempotency_key is UNIQUE
  so a settlement or a moderation decision can land at most once even if
  two processes share the file.

USAGE:
  store, err := sqlite.New("./data/yield.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/yield-engine/engine"
)

// Store implements engine.TxStore using SQLite.
type Store struct {
	*queries
	db *sql.DB
}

var _ engine.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		phone TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		earnings TEXT NOT NULL DEFAULT '0',
		wallet_address TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		rate_kind TEXT NOT NULL,
		rate_value TEXT NOT NULL,
		duration_days INTEGER NOT NULL CHECK (duration_days > 0),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS purchases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		product_id INTEGER NOT NULL REFERENCES products(id),
		purchased_at TEXT NOT NULL,
		next_payout_date TEXT NOT NULL DEFAULT '',
		remaining_days INTEGER NOT NULL CHECK (remaining_days >= 0),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		total_earned TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- Hot path: active purchases of one user on every dashboard load
	CREATE INDEX IF NOT EXISTS idx_purchases_user_active
		ON purchases(user_id, active);

	CREATE TABLE IF NOT EXISTS recharges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		decided_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_recharges_user ON recharges(user_id);
	CREATE INDEX IF NOT EXISTS idx_recharges_status ON recharges(status);

	CREATE TABLE IF NOT EXISTS withdrawals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		wallet_address TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		decided_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Ledger journal (append-only)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		entry_type TEXT NOT NULL,
		delta TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		reference_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_user ON entries(user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset removes every row except settings. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, table := range []string{"entries", "purchases", "recharges", "withdrawals", "products", "users"} {
		if _, err := sqlTx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - engine.Store over a *sql.DB or *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

var _ engine.Store = (*queries)(nil)

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

const userColumns = `id, phone, password_hash, balance, earnings, wallet_address, created_at`

func (s *queries) CreateUser(ctx context.Context, u engine.User) (engine.User, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO users (phone, password_hash, balance, earnings, wallet_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.Phone, u.PasswordHash, u.Balance.Value.String(), u.Earnings.Value.String(),
		u.WalletAddress, formatTime(u.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.User{}, engine.ErrPhoneTaken
		}
		return engine.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return engine.User{}, err
	}
	u.ID = engine.UserID(id)
	return u, nil
}

func (s *queries) GetUser(ctx context.Context, id engine.UserID) (engine.User, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.User{}, &engine.NotFoundError{Kind: "user", ID: id}
	}
	return u, err
}

func (s *queries) GetUserByPhone(ctx context.Context, phone string) (engine.User, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone = ?`, phone)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.User{}, &engine.NotFoundError{Kind: "user", ID: phone}
	}
	return u, err
}

func (s *queries) ListUsers(ctx context.Context) ([]engine.User, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []engine.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *queries) UpdateUserBalances(ctx context.Context, id engine.UserID, balance, earnings engine.Amount) error {
	return s.execOne(ctx, "user", id,
		`UPDATE users SET balance = ?, earnings = ? WHERE id = ?`,
		balance.Value.String(), earnings.Value.String(), id)
}

func (s *queries) UpdateUserPassword(ctx context.Context, id engine.UserID, hash string) error {
	return s.execOne(ctx, "user", id, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
}

func (s *queries) UpdateUserWallet(ctx context.Context, id engine.UserID, wallet string) error {
	return s.execOne(ctx, "user", id, `UPDATE users SET wallet_address = ? WHERE id = ?`, wallet, id)
}

func (s *queries) DeleteUser(ctx context.Context, id engine.UserID) error {
	return s.execOne(ctx, "user", id, `DELETE FROM users WHERE id = ?`, id)
}

func scanUser(row scanner) (engine.User, error) {
	var (
		u                 engine.User
		balance, earnings string
		createdAt         string
	)
	if err := row.Scan(&u.ID, &u.Phone, &u.PasswordHash, &balance, &earnings, &u.WalletAddress, &createdAt); err != nil {
		return u, err
	}
	u.Balance = parseAmount(balance)
	u.Earnings = parseAmount(earnings)
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

// -----------------------------------------------------------------------------
// Products
// -----------------------------------------------------------------------------

const productColumns = `id, name, price, rate_kind, rate_value, duration_days, created_at`

func (s *queries) CreateProduct(ctx context.Context, p engine.Product) (engine.Product, error) {
	if p.Rate == nil {
		return engine.Product{}, fmt.Errorf("%w: product without rate policy", engine.ErrInvalidInput)
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO products (name, price, rate_kind, rate_value, duration_days, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.Price.Value.String(), string(p.Rate.Kind()), p.Rate.Value().String(),
		p.DurationDays, formatTime(p.CreatedAt),
	)
	if err != nil {
		return engine.Product{}, fmt.Errorf("failed to insert product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return engine.Product{}, err
	}
	p.ID = engine.ProductID(id)
	return p, nil
}

func (s *queries) GetProduct(ctx context.Context, id engine.ProductID) (engine.Product, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Product{}, &engine.NotFoundError{Kind: "product", ID: id}
	}
	return p, err
}

func (s *queries) ListProducts(ctx context.Context) ([]engine.Product, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []engine.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func scanProduct(row scanner) (engine.Product, error) {
	var (
		p                engine.Product
		price, rateValue string
		rateKind         string
		createdAt        string
	)
	if err := row.Scan(&p.ID, &p.Name, &price, &rateKind, &rateValue, &p.DurationDays, &createdAt); err != nil {
		return p, err
	}
	rate, err := engine.ParseRate(rateKind, parseAmount(rateValue).Value)
	if err != nil {
		return p, fmt.Errorf("product %d: %w", p.ID, err)
	}
	p.Price = parseAmount(price)
	p.Rate = rate
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// -----------------------------------------------------------------------------
// Purchases
// -----------------------------------------------------------------------------

const purchaseColumns = `id, user_id, product_id, purchased_at, next_payout_date,
	remaining_days, active, total_earned, created_at`

func (s *queries) CreatePurchase(ctx context.Context, p engine.Purchase) (engine.Purchase, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO purchases (user_id, product_id, purchased_at, next_payout_date,
			remaining_days, active, total_earned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.ProductID, formatTime(p.PurchasedAt), p.NextPayoutDate.String(),
		p.RemainingDays, p.Active, p.TotalEarned.Value.String(), formatTime(p.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return engine.Purchase{}, &engine.NotFoundError{Kind: "user or product", ID: fmt.Sprintf("%d/%d", p.UserID, p.ProductID)}
		}
		return engine.Purchase{}, fmt.Errorf("failed to insert purchase: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return engine.Purchase{}, err
	}
	p.ID = engine.PurchaseID(id)
	return p, nil
}

func (s *queries) GetPurchase(ctx context.Context, id engine.PurchaseID) (engine.Purchase, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = ?`, id)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Purchase{}, &engine.NotFoundError{Kind: "purchase", ID: id}
	}
	return p, err
}

func (s *queries) ListPurchases(ctx context.Context, f engine.PurchaseFilter) ([]engine.Purchase, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ActiveOnly {
		where = append(where, "active = TRUE")
	}

	query := `SELECT ` + purchaseColumns + ` FROM purchases`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	var purchases []engine.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// UpdatePurchase writes settlement state only if the row still matches expect.
func (s *queries) UpdatePurchase(ctx context.Context, p engine.Purchase, expect engine.PurchaseGuard) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE purchases
		SET next_payout_date = ?, remaining_days = ?, active = ?, total_earned = ?
		WHERE id = ? AND remaining_days = ? AND next_payout_date = ?`,
		p.NextPayoutDate.String(), p.RemainingDays, p.Active, p.TotalEarned.Value.String(),
		p.ID, expect.RemainingDays, expect.NextPayoutDate.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update purchase: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetPurchase(ctx, p.ID); err != nil {
		return err
	}
	return engine.ErrConcurrentModification
}

func scanPurchase(row scanner) (engine.Purchase, error) {
	var (
		p                      engine.Purchase
		purchasedAt, createdAt string
		nextPayout             string
		totalEarned            string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.ProductID, &purchasedAt, &nextPayout,
		&p.RemainingDays, &p.Active, &totalEarned, &createdAt)
	if err != nil {
		return p, err
	}
	p.PurchasedAt = parseTime(purchasedAt)
	p.CreatedAt = parseTime(createdAt)
	p.TotalEarned = parseAmount(totalEarned)
	if nextPayout != "" {
		day, err := engine.ParseDay(nextPayout)
		if err != nil {
			return p, fmt.Errorf("purchase %d: bad next_payout_date %q: %w", p.ID, nextPayout, err)
		}
		p.NextPayoutDate = day
	}
	return p, nil
}

// -----------------------------------------------------------------------------
// Recharges
// -----------------------------------------------------------------------------

const rechargeColumns = `id, user_id, amount, status, created_at, decided_at`

func (s *queries) CreateRecharge(ctx context.Context, r engine.Recharge) (engine.Recharge, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO recharges (user_id, amount, status, created_at) VALUES (?, ?, ?, ?)`,
		r.UserID, r.Amount.Value.String(), string(r.Status), formatTime(r.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return engine.Recharge{}, &engine.NotFoundError{Kind: "user", ID: r.UserID}
		}
		return engine.Recharge{}, fmt.Errorf("failed to insert recharge: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return engine.Recharge{}, err
	}
	r.ID = engine.RechargeID(id)
	return r, nil
}

func (s *queries) GetRecharge(ctx context.Context, id engine.RechargeID) (engine.Recharge, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+rechargeColumns+` FROM recharges WHERE id = ?`, id)
	r, err := scanRecharge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Recharge{}, &engine.NotFoundError{Kind: "recharge", ID: id}
	}
	return r, err
}

func (s *queries) ListRecharges(ctx context.Context, f engine.RequestFilter) ([]engine.Recharge, error) {
	query, args := requestQuery(`SELECT `+rechargeColumns+` FROM recharges`, f)
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recharges: %w", err)
	}
	defer rows.Close()

	var out []engine.Recharge
	for rows.Next() {
		r, err := scanRecharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *queries) TransitionRecharge(ctx context.Context, id engine.RechargeID, to engine.Status, at time.Time) error {
	n, err := s.transition(ctx, "recharges", int64(id), to, at)
	if err != nil || n == 1 {
		return err
	}
	r, err := s.GetRecharge(ctx, id)
	if err != nil {
		return err
	}
	return &engine.AlreadySettledError{Kind: "recharge", ID: id, Status: r.Status}
}

func scanRecharge(row scanner) (engine.Recharge, error) {
	var (
		r                 engine.Recharge
		amount, createdAt string
		decidedAt         sql.NullString
	)
	if err := row.Scan(&r.ID, &r.UserID, &amount, &r.Status, &createdAt, &decidedAt); err != nil {
		return r, err
	}
	r.Amount = parseAmount(amount)
	r.CreatedAt = parseTime(createdAt)
	r.DecidedAt = parseNullTime(decidedAt)
	return r, nil
}

// -----------------------------------------------------------------------------
// Withdrawals
// -----------------------------------------------------------------------------

const withdrawalColumns = `id, user_id, amount, wallet_address, status, created_at, decided_at`

func (s *queries) CreateWithdrawal(ctx context.Context, w engine.Withdrawal) (engine.Withdrawal, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO withdrawals (user_id, amount, wallet_address, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		w.UserID, w.Amount.Value.String(), w.WalletAddress, string(w.Status), formatTime(w.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return engine.Withdrawal{}, &engine.NotFoundError{Kind: "user", ID: w.UserID}
		}
		return engine.Withdrawal{}, fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return engine.Withdrawal{}, err
	}
	w.ID = engine.WithdrawalID(id)
	return w, nil
}

func (s *queries) GetWithdrawal(ctx context.Context, id engine.WithdrawalID) (engine.Withdrawal, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = ?`, id)
	w, err := scanWithdrawal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Withdrawal{}, &engine.NotFoundError{Kind: "withdrawal", ID: id}
	}
	return w, err
}

func (s *queries) ListWithdrawals(ctx context.Context, f engine.RequestFilter) ([]engine.Withdrawal, error) {
	query, args := requestQuery(`SELECT `+withdrawalColumns+` FROM withdrawals`, f)
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	var out []engine.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *queries) TransitionWithdrawal(ctx context.Context, id engine.WithdrawalID, to engine.Status, at time.Time) error {
	n, err := s.transition(ctx, "withdrawals", int64(id), to, at)
	if err != nil || n == 1 {
		return err
	}
	w, err := s.GetWithdrawal(ctx, id)
	if err != nil {
		return err
	}
	return &engine.AlreadySettledError{Kind: "withdrawal", ID: id, Status: w.Status}
}

func scanWithdrawal(row scanner) (engine.Withdrawal, error) {
	var (
		w                 engine.Withdrawal
		amount, createdAt string
		decidedAt         sql.NullString
	)
	if err := row.Scan(&w.ID, &w.UserID, &amount, &w.WalletAddress, &w.Status, &createdAt, &decidedAt); err != nil {
		return w, err
	}
	w.Amount = parseAmount(amount)
	w.CreatedAt = parseTime(createdAt)
	w.DecidedAt = parseNullTime(decidedAt)
	return w, nil
}

// transition moves a pending request row to status `to`. Returns rows affected.
func (s *queries) transition(ctx context.Context, table string, id int64, to engine.Status, at time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE `+table+` SET status = ?, decided_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTime(at), id, string(engine.StatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", table, err)
	}
	return res.RowsAffected()
}

func requestQuery(base string, f engine.RequestFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(where) > 0 {
		base += " WHERE " + strings.Join(where, " AND ")
	}
	return base + " ORDER BY id DESC", args
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

func (s *queries) GetSetting(ctx context.Context, key string) (engine.Setting, error) {
	var (
		st        engine.Setting
		updatedAt string
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM settings WHERE key = ?`, key,
	).Scan(&st.Key, &st.Value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Setting{}, &engine.NotFoundError{Kind: "setting", ID: key}
	}
	if err != nil {
		return engine.Setting{}, err
	}
	st.UpdatedAt = parseTime(updatedAt)
	return st, nil
}

func (s *queries) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()),
	)
	return err
}

func (s *queries) ListSettings(ctx context.Context) ([]engine.Setting, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []engine.Setting
	for rows.Next() {
		var (
			st        engine.Setting
			updatedAt string
		)
		if err := rows.Scan(&st.Key, &st.Value, &updatedAt); err != nil {
			return nil, err
		}
		st.UpdatedAt = parseTime(updatedAt)
		settings = append(settings, st)
	}
	return settings, rows.Err()
}

// -----------------------------------------------------------------------------
// Entries
// -----------------------------------------------------------------------------

func (s *queries) AppendEntry(ctx context.Context, e engine.Entry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO entries (id, user_id, entry_type, delta, balance_after,
			reference_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, string(e.Type), e.Delta.Value.String(), e.BalanceAfter.Value.String(),
		nullString(e.ReferenceID), nullString(e.IdempotencyKey), formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (s *queries) ListEntries(ctx context.Context, userID engine.UserID) ([]engine.Entry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, user_id, entry_type, delta, balance_after, reference_id, idempotency_key, created_at
		FROM entries WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []engine.Entry
	for rows.Next() {
		var (
			e              engine.Entry
			delta, after   string
			refID, idemKey sql.NullString
			createdAt      string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &delta, &after, &refID, &idemKey, &createdAt); err != nil {
			return nil, err
		}
		e.Delta = parseAmount(delta)
		e.BalanceAfter = parseAmount(after)
		e.ReferenceID = refID.String
		e.IdempotencyKey = idemKey.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// -----------------------------------------------------------------------------
// Helper functions
// -----------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

// execOne runs a single-row write and maps "no row" to NotFound.
func (s *queries) execOne(ctx context.Context, kind string, id any, query string, args ...any) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &engine.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout is fixed width so TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseAmount(s string) engine.Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return engine.ZeroAmount()
	}
	return engine.AmountOf(d)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

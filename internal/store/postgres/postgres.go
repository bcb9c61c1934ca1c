// Package postgres implements store.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	mpgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"spendwatch/internal/core"
	"spendwatch/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// New connects to connString, runs the embedded migrations and returns a Store.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runMigrations(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

func runMigrations(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	driver, err := mpgx.WithInstance(db, &mpgx.Config{})
	if err != nil {
		return fmt.Errorf("create pgx driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Store) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	now := s.now()
	store.Stamp(&e.CreatedAt, now)
	store.Stamp(&e.UpdatedAt, now)
	e.ExpenseDate = e.ExpenseDate.UTC()
	e.Receipt = nil

	_, err := s.pool.Exec(ctx, `
		INSERT INTO expenses (id, user_id, amount_cents, category, description, expense_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4::expense_category, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.Amount.Cents, string(e.Category), e.Description, e.ExpenseDate, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Expense{}, store.ErrConflict
		}
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}
	return e, nil
}

func (s *Store) AttachReceipt(ctx context.Context, r core.Receipt) (core.Receipt, error) {
	store.Stamp(&r.UploadedAt, s.now())

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO receipts (id, expense_id, storage_path, file_size, mime_type, ocr_text, uploaded_at)
		SELECT $1::text, e.id, $3::text, $4::bigint, $5::text, $6::text, $7::timestamptz FROM expenses e WHERE e.id = $2`,
		r.ID, r.ExpenseID, r.StoragePath, r.FileSize, r.MimeType, r.OCRText, r.UploadedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Receipt{}, store.ErrConflict
		}
		return core.Receipt{}, fmt.Errorf("insert receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.Receipt{}, store.ErrNotFound
	}
	r.UploadedAt = r.UploadedAt.UTC()
	return r, nil
}

const expenseSelect = `
	SELECT e.id, e.user_id, e.amount_cents, e.category::text, e.description, e.expense_date, e.created_at, e.updated_at,
		r.id, r.storage_path, r.file_size, r.mime_type, r.ocr_text, r.uploaded_at
	FROM expenses e LEFT JOIN receipts r ON r.expense_id = e.id`

func scanExpense(row pgx.Row) (core.Expense, error) {
	var (
		e                       core.Expense
		category                string
		rID, rPath, rMime, rOCR *string
		rSize                   *int64
		rUploaded               *time.Time
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.Amount.Cents, &category, &e.Description, &e.ExpenseDate, &e.CreatedAt, &e.UpdatedAt,
		&rID, &rPath, &rSize, &rMime, &rOCR, &rUploaded); err != nil {
		return core.Expense{}, err
	}
	e.Category = core.Category(category)
	e.ExpenseDate = e.ExpenseDate.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	if rID != nil {
		e.Receipt = &core.Receipt{
			ID:          *rID,
			ExpenseID:   e.ID,
			StoragePath: deref(rPath),
			FileSize:    deref(rSize),
			MimeType:    deref(rMime),
			OCRText:     deref(rOCR),
			UploadedAt:  deref(rUploaded).UTC(),
		}
	}
	return e, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (s *Store) GetExpense(ctx context.Context, userID, id string) (core.Expense, error) {
	e, err := scanExpense(s.pool.QueryRow(ctx, expenseSelect+` WHERE e.id = $1 AND e.user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Expense{}, store.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

func (s *Store) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	rows, err := s.pool.Query(ctx, expenseSelect+` WHERE e.user_id = $1 ORDER BY e.expense_date DESC, e.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	out := make([]core.Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return out, nil
}

func (s *Store) SumAmounts(ctx context.Context, userID string, start, end time.Time) (core.Money, error) {
	var cents int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)::bigint FROM expenses
		WHERE user_id = $1 AND expense_date >= $2 AND expense_date < $3`,
		userID, start, end).Scan(&cents)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum expenses: %w", err)
	}
	return core.Money{Cents: cents}, nil
}

func (s *Store) SumByCategory(ctx context.Context, userID string, start, end time.Time) (map[core.Category]core.Money, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category::text, SUM(amount_cents)::bigint FROM expenses
		WHERE user_id = $1 AND expense_date >= $2 AND expense_date < $3
		GROUP BY category`,
		userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("sum by category: %w", err)
	}
	defer rows.Close()

	totals := make(map[core.Category]core.Money)
	for rows.Next() {
		var (
			cat   string
			cents int64
		)
		if err := rows.Scan(&cat, &cents); err != nil {
			return nil, fmt.Errorf("scan category sum: %w", err)
		}
		totals[core.Category(cat)] = core.Money{Cents: cents}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category sums: %w", err)
	}
	return totals, nil
}

func (s *Store) UpsertBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	now := s.now().UTC()
	b.IsActive = true
	b.UpdatedAt = now

	err := s.pool.QueryRow(ctx, `
		INSERT INTO budgets (user_id, monthly_limit_cents, reset_day, alert_threshold, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, TRUE, $5, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			monthly_limit_cents = EXCLUDED.monthly_limit_cents,
			reset_day = EXCLUDED.reset_day,
			alert_threshold = EXCLUDED.alert_threshold,
			is_active = TRUE,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at`,
		b.UserID, b.MonthlyLimit.Cents, b.ResetDay, b.AlertThreshold.String(), now).Scan(&b.CreatedAt)
	if err != nil {
		return core.Budget{}, fmt.Errorf("upsert budget: %w", err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

func (s *Store) GetActiveBudget(ctx context.Context, userID string) (core.Budget, error) {
	var (
		b         core.Budget
		threshold string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, monthly_limit_cents, reset_day, alert_threshold::text, is_active, created_at, updated_at
		FROM budgets WHERE user_id = $1 AND is_active`, userID).
		Scan(&b.UserID, &b.MonthlyLimit.Cents, &b.ResetDay, &threshold, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Budget{}, store.ErrNotFound
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget: %w", err)
	}
	if b.AlertThreshold, err = decimal.NewFromString(threshold); err != nil {
		return core.Budget{}, fmt.Errorf("parse alert threshold %q: %w", threshold, err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func (s *Store) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	now := s.now()
	u.Email = core.NormalizeEmail(u.Email)
	store.Stamp(&u.CreatedAt, now)
	store.Stamp(&u.UpdatedAt, now)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, middle_name, telegram_chat_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.MiddleName, u.TelegramChatID, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return core.User{}, store.ErrConflict
		}
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

const userSelect = `SELECT id, email, password_hash, first_name, last_name, middle_name, telegram_chat_id, created_at, updated_at FROM users`

func scanUser(row pgx.Row) (core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.MiddleName, &u.TelegramChatID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.User{}, store.ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (core.User, error) {
	return scanUser(s.pool.QueryRow(ctx, userSelect+` WHERE id = $1`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	return scanUser(s.pool.QueryRow(ctx, userSelect+` WHERE email = $1`, core.NormalizeEmail(email)))
}

func (s *Store) SetTelegramChatID(ctx context.Context, userID string, chatID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET telegram_chat_id = $1, updated_at = $2 WHERE id = $3`, chatID, s.now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("update telegram chat id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess core.Session) error {
	store.Stamp(&sess.CreatedAt, s.now())
	_, err := s.pool.Exec(ctx, `INSERT INTO sessions (token, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		sess.Token, sess.UserID, sess.ExpiresAt, sess.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, token string) (core.Session, error) {
	var sess core.Session
	err := s.pool.QueryRow(ctx, `SELECT token, user_id, expires_at, created_at FROM sessions WHERE token = $1`, token).
		Scan(&sess.Token, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Session{}, store.ErrNotFound
	}
	if err != nil {
		return core.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"spendwatch/internal/core"
	"spendwatch/internal/store"
)

// Fixed-width so that lexical order on the TEXT columns is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Repository)(nil)

// NewRepository opens (creating if needed) the database at dbPath and
// brings its schema up to date.
func NewRepository(dbPath string) (*Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db, now: time.Now}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func (r *Repository) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	now := r.now()
	store.Stamp(&e.CreatedAt, now)
	store.Stamp(&e.UpdatedAt, now)
	e.ExpenseDate = e.ExpenseDate.UTC()
	e.Receipt = nil

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO expenses (id, user_id, amount_cents, category, description, expense_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Amount.Cents, string(e.Category), e.Description,
		formatTime(e.ExpenseDate), formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Expense{}, store.ErrConflict
		}
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}

	slog.DebugContext(ctx, "Expense saved to SQLite",
		"id", e.ID,
		"user_id", e.UserID,
		"amount_cents", e.Amount.Cents,
		"category", e.Category)
	return e, nil
}

func (r *Repository) AttachReceipt(ctx context.Context, rc core.Receipt) (core.Receipt, error) {
	store.Stamp(&rc.UploadedAt, r.now())

	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM expenses WHERE id = ?`, rc.ExpenseID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Receipt{}, store.ErrNotFound
	}
	if err != nil {
		return core.Receipt{}, fmt.Errorf("check expense: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO receipts (id, expense_id, storage_path, file_size, mime_type, ocr_text, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rc.ID, rc.ExpenseID, rc.StoragePath, rc.FileSize, rc.MimeType, rc.OCRText, formatTime(rc.UploadedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Receipt{}, store.ErrConflict
		}
		return core.Receipt{}, fmt.Errorf("insert receipt: %w", err)
	}
	rc.UploadedAt = rc.UploadedAt.UTC()
	return rc, nil
}

const expenseColumns = `
	e.id, e.user_id, e.amount_cents, e.category, e.description, e.expense_date, e.created_at, e.updated_at,
	r.id, r.storage_path, r.file_size, r.mime_type, r.ocr_text, r.uploaded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e                         core.Expense
		category                  string
		expenseDate, created, upd string
		rID, rPath, rMime, rOCR   sql.NullString
		rSize                     sql.NullInt64
		rUploaded                 sql.NullString
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.Amount.Cents, &category, &e.Description, &expenseDate, &created, &upd,
		&rID, &rPath, &rSize, &rMime, &rOCR, &rUploaded); err != nil {
		return core.Expense{}, err
	}
	e.Category = core.Category(category)

	var err error
	if e.ExpenseDate, err = parseTime(expenseDate); err != nil {
		return core.Expense{}, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return core.Expense{}, err
	}
	if e.UpdatedAt, err = parseTime(upd); err != nil {
		return core.Expense{}, err
	}

	if rID.Valid {
		rc := core.Receipt{
			ID:          rID.String,
			ExpenseID:   e.ID,
			StoragePath: rPath.String,
			FileSize:    rSize.Int64,
			MimeType:    rMime.String,
			OCRText:     rOCR.String,
		}
		if rc.UploadedAt, err = parseTime(rUploaded.String); err != nil {
			return core.Expense{}, err
		}
		e.Receipt = &rc
	}
	return e, nil
}

func (r *Repository) GetExpense(ctx context.Context, userID, id string) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+expenseColumns+`
		FROM expenses e LEFT JOIN receipts r ON r.expense_id = e.id
		WHERE e.id = ? AND e.user_id = ?`, id, userID)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, store.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

func (r *Repository) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+expenseColumns+`
		FROM expenses e LEFT JOIN receipts r ON r.expense_id = e.id
		WHERE e.user_id = ?
		ORDER BY e.expense_date DESC, e.created_at DESC`, userID)
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

func (r *Repository) SumAmounts(ctx context.Context, userID string, start, end time.Time) (core.Money, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM expenses
		WHERE user_id = ? AND expense_date >= ? AND expense_date < ?`,
		userID, formatTime(start), formatTime(end)).Scan(&cents)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum expenses: %w", err)
	}
	return core.Money{Cents: cents}, nil
}

func (r *Repository) SumByCategory(ctx context.Context, userID string, start, end time.Time) (map[core.Category]core.Money, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, SUM(amount_cents) FROM expenses
		WHERE user_id = ? AND expense_date >= ? AND expense_date < ?
		GROUP BY category`,
		userID, formatTime(start), formatTime(end))
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

func (r *Repository) UpsertBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	now := r.now().UTC()
	b.IsActive = true
	b.UpdatedAt = now

	var created string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO budgets (user_id, monthly_limit_cents, reset_day, alert_threshold, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			monthly_limit_cents = excluded.monthly_limit_cents,
			reset_day = excluded.reset_day,
			alert_threshold = excluded.alert_threshold,
			is_active = 1,
			updated_at = excluded.updated_at
		RETURNING created_at`,
		b.UserID, b.MonthlyLimit.Cents, b.ResetDay, b.AlertThreshold.String(), formatTime(now), formatTime(now)).Scan(&created)
	if err != nil {
		return core.Budget{}, fmt.Errorf("upsert budget: %w", err)
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return core.Budget{}, err
	}
	return b, nil
}

func (r *Repository) GetActiveBudget(ctx context.Context, userID string) (core.Budget, error) {
	var (
		b                core.Budget
		threshold        string
		created, updated string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, monthly_limit_cents, reset_day, alert_threshold, is_active, created_at, updated_at
		FROM budgets WHERE user_id = ? AND is_active = 1`, userID).
		Scan(&b.UserID, &b.MonthlyLimit.Cents, &b.ResetDay, &threshold, &b.IsActive, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, store.ErrNotFound
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget: %w", err)
	}
	if b.AlertThreshold, err = decimal.NewFromString(threshold); err != nil {
		return core.Budget{}, fmt.Errorf("parse alert threshold %q: %w", threshold, err)
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return core.Budget{}, err
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return core.Budget{}, err
	}
	return b, nil
}

func (r *Repository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	now := r.now()
	u.Email = core.NormalizeEmail(u.Email)
	store.Stamp(&u.CreatedAt, now)
	store.Stamp(&u.UpdatedAt, now)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, middle_name, telegram_chat_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.MiddleName, u.TelegramChatID,
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.User{}, store.ErrConflict
		}
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

const userColumns = `id, email, password_hash, first_name, last_name, middle_name, telegram_chat_id, created_at, updated_at`

func (r *Repository) scanUser(row rowScanner) (core.User, error) {
	var (
		u                core.User
		created, updated string
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.MiddleName, &u.TelegramChatID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, store.ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("scan user: %w", err)
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return core.User{}, err
	}
	if u.UpdatedAt, err = parseTime(updated); err != nil {
		return core.User{}, err
	}
	return u, nil
}

func (r *Repository) GetUser(ctx context.Context, id string) (core.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, core.NormalizeEmail(email)))
}

func (r *Repository) SetTelegramChatID(ctx context.Context, userID string, chatID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET telegram_chat_id = ?, updated_at = ? WHERE id = ?`,
		chatID, formatTime(r.now()), userID)
	if err != nil {
		return fmt.Errorf("update telegram chat id: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) CreateSession(ctx context.Context, s core.Session) error {
	store.Stamp(&s.CreatedAt, r.now())
	_, err := r.db.ExecContext(ctx, `INSERT INTO sessions (token, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		s.Token, s.UserID, formatTime(s.ExpiresAt), formatTime(s.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, token string) (core.Session, error) {
	var (
		s                core.Session
		expires, created string
	)
	err := r.db.QueryRowContext(ctx, `SELECT token, user_id, expires_at, created_at FROM sessions WHERE token = ?`, token).
		Scan(&s.Token, &s.UserID, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Session{}, store.ErrNotFound
	}
	if err != nil {
		return core.Session{}, fmt.Errorf("get session: %w", err)
	}
	if s.ExpiresAt, err = parseTime(expires); err != nil {
		return core.Session{}, err
	}
	if s.CreatedAt, err = parseTime(created); err != nil {
		return core.Session{}, err
	}
	return s, nil
}

func (r *Repository) DeleteSession(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

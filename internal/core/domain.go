package core

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category is the closed set of spending categories a client may submit.
type Category string

const (
	CategoryFood          Category = "food"
	CategoryTransport     Category = "transport"
	CategoryEducation     Category = "education"
	CategoryEntertainment Category = "entertainment"
	// Spelling matches what deployed clients already send.
	CategoryAmenities Category = "ameneties"
	CategoryRent      Category = "rent"
	CategoryOther     Category = "other"
)

const (
	MaxDescriptionLength = 500
	MaxReceiptSize       = 10 << 20
	DefaultResetDay      = 1
)

// DefaultAlertThreshold is the fraction of the monthly limit that triggers an alert.
var DefaultAlertThreshold = decimal.RequireFromString("0.8")

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrAmountOverflow     = errors.New("amount total out of range")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrDescriptionTooLong = errors.New("description too long (max 500 characters)")
	ErrInvalidDate        = errors.New("invalid expense date")
	ErrInvalidResetDay    = errors.New("reset day must be between 1 and 31")
	ErrInvalidThreshold   = errors.New("alert threshold must be greater than 0 and at most 1")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrMissingPassword    = errors.New("password is required")
	ErrMissingName        = errors.New("first and last name are required")
	ErrReceiptTooLarge    = errors.New("receipt exceeds 10MB")
	ErrReceiptType        = errors.New("receipt must be a JPEG, PNG or PDF")
)

type (
	Expense struct {
		ID          string
		UserID      string
		Amount      Money
		Category    Category
		Description string
		ExpenseDate time.Time
		CreatedAt   time.Time
		UpdatedAt   time.Time
		Receipt     *Receipt
	}

	// Budget is a user's monthly spending limit. ResetDay is stored for
	// clients but periods are always calendar months.
	Budget struct {
		UserID         string
		MonthlyLimit   Money
		ResetDay       int
		AlertThreshold decimal.Decimal
		IsActive       bool
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	Receipt struct {
		ID          string
		ExpenseID   string
		StoragePath string
		FileSize    int64
		MimeType    string
		OCRText     string
		UploadedAt  time.Time
	}

	User struct {
		ID             string
		Email          string
		PasswordHash   string
		FirstName      string
		LastName       string
		MiddleName     string
		TelegramChatID int64
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	Session struct {
		Token     string
		UserID    string
		ExpiresAt time.Time
		CreatedAt time.Time
	}
)

// Categories lists every accepted category in display order.
func Categories() []Category {
	return []Category{
		CategoryFood,
		CategoryTransport,
		CategoryEducation,
		CategoryEntertainment,
		CategoryAmenities,
		CategoryRent,
		CategoryOther,
	}
}

// ParseCategory normalises s and checks it against the accepted set.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", ErrInvalidCategory
	}
	return c, nil
}

func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

func (e Expense) Validate() error {
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if !e.Category.Valid() {
		return ErrInvalidCategory
	}
	if len([]rune(e.Description)) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if e.ExpenseDate.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// NewBudget fills in the defaults a client may omit.
func NewBudget(userID string, limit Money) Budget {
	return Budget{
		UserID:         userID,
		MonthlyLimit:   limit,
		ResetDay:       DefaultResetDay,
		AlertThreshold: DefaultAlertThreshold,
		IsActive:       true,
	}
}

func (b Budget) Validate() error {
	if err := b.MonthlyLimit.Validate(); err != nil {
		return err
	}
	if b.ResetDay < 1 || b.ResetDay > 31 {
		return ErrInvalidResetDay
	}
	if !b.AlertThreshold.IsPositive() || b.AlertThreshold.GreaterThan(decimal.NewFromInt(1)) {
		return ErrInvalidThreshold
	}
	return nil
}

// ThresholdAmount is monthlyLimit × alertThreshold in cents, unrounded.
func (b Budget) ThresholdAmount() decimal.Decimal {
	return decimal.NewFromInt(b.MonthlyLimit.Cents).Mul(b.AlertThreshold)
}

// AllowedReceiptType reports whether mime is one of the accepted upload types.
func AllowedReceiptType(mime string) bool {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/png", "application/pdf":
		return true
	}
	return false
}

func (r Receipt) Validate() error {
	if r.FileSize > MaxReceiptSize {
		return ErrReceiptTooLarge
	}
	if !AllowedReceiptType(r.MimeType) {
		return ErrReceiptType
	}
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// ReceiptStoragePath builds the per-user object key for an uploaded receipt.
func ReceiptStoragePath(userID, expenseID, filename string) string {
	name := unsafeFileChars.ReplaceAllString(filename, "_")
	if strings.Trim(name, ".") == "" {
		name = "receipt"
	}
	return "user_" + userID + "/" + expenseID + "/" + name
}

func (u User) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{u.FirstName, u.MiddleName, u.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func (u User) Validate() error {
	addr, err := mail.ParseAddress(u.Email)
	if err != nil || addr.Address != u.Email {
		return ErrInvalidEmail
	}
	if strings.TrimSpace(u.FirstName) == "" || strings.TrimSpace(u.LastName) == "" {
		return ErrMissingName
	}
	return nil
}

// NormalizeEmail lower-cases and trims an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

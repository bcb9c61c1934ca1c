// Package http provides the REST server and its handlers.
//
// This file implements utilities for parsing and validating request data.
// Expense submissions arrive either as JSON or as multipart forms carrying
// a receipt file; both are read through RequestBodyParser.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"spendwatch/internal/core"
	"spendwatch/internal/services"
)

const (
	maxJSONBody      = 1 << 20
	maxReceiptBytes  = 10 << 20
	maxMultipartBody = maxReceiptBytes + 1<<20
	// Base64 inflates the image by a third.
	maxScanBody  = maxReceiptBytes*4/3 + 1<<20
	receiptField = "receipt"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

// RequestBodyParser reads form values from JSON or multipart bodies.
type RequestBodyParser struct {
	contentType string
	jsonData    map[string]any
	form        *multipart.Form
}

// NewRequestBodyParser reads and parses the body of r. Multipart bodies may
// spill files to disk; call Close when done.
func NewRequestBodyParser(w http.ResponseWriter, r *http.Request) (*RequestBodyParser, error) {
	p := &RequestBodyParser{contentType: r.Header.Get("Content-Type")}
	mediaType, _, _ := mime.ParseMediaType(p.contentType)

	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBody)
		if err := r.ParseMultipartForm(maxMultipartBody); err != nil {
			return nil, bodyError(err)
		}
		p.form = r.MultipartForm
		return p, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		return nil, bodyError(err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	p.jsonData = make(map[string]any)
	if err := dec.Decode(&p.jsonData); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return p, nil
}

// Get returns a sanitised string value.
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.form != nil {
		if vals := p.form.Value[key]; len(vals) > 0 {
			return sanitizeInput(vals[0])
		}
	}
	return ""
}

// File returns the uploaded file under key, or nil when absent.
func (p *RequestBodyParser) File(key string) *multipart.FileHeader {
	if p.form == nil {
		return nil
	}
	if files := p.form.File[key]; len(files) > 0 {
		return files[0]
	}
	return nil
}

func (p *RequestBodyParser) IsMultipart() bool {
	return p.form != nil
}

// Close removes temporary files created for a multipart body.
func (p *RequestBodyParser) Close() {
	if p.form != nil {
		_ = p.form.RemoveAll()
	}
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// sanitizeInput removes control characters except tab, newline and
// carriage return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func bodyError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return errBodyTooLarge
	}
	return fmt.Errorf("invalid request body: %w", err)
}

// validationError is a client mistake reported verbatim as a 400.
type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

// parseExpenseDate accepts RFC 3339 instants and YYYY-MM-DD dates. A bare
// date is midnight in loc.
func parseExpenseDate(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, core.ErrInvalidDate
}

// parseNewExpense builds the service input from a parsed body. The returned
// receipt body, when present, must be closed by the caller.
func parseNewExpense(p *RequestBodyParser, loc *time.Location) (services.NewExpense, io.Closer, error) {
	var in services.NewExpense

	amount := p.Get("amount")
	if amount == "" {
		return in, nil, validationError{"Amount must be a valid number"}
	}
	cents, err := core.ParseDecimalToCents(amount)
	if err != nil {
		return in, nil, validationError{"Amount must be a valid positive number"}
	}
	in.Amount = core.Money{Cents: cents}

	category := p.Get("category")
	if category == "" {
		return in, nil, validationError{"Category is required"}
	}
	if in.Category, err = core.ParseCategory(category); err != nil {
		return in, nil, validationError{"Invalid category"}
	}

	in.Description = p.Get("description")
	if d := p.Get("expense_date"); d != "" {
		if in.ExpenseDate, err = parseExpenseDate(d, loc); err != nil {
			return in, nil, validationError{"Invalid expense date"}
		}
	}

	fh := p.File(receiptField)
	if fh == nil {
		return in, nil, nil
	}
	if fh.Size > maxReceiptBytes {
		return in, nil, validationError{core.ErrReceiptTooLarge.Error()}
	}
	f, err := fh.Open()
	if err != nil {
		return in, nil, fmt.Errorf("open uploaded receipt: %w", err)
	}
	mimeType := fh.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	in.Receipt = &services.ReceiptUpload{
		Filename: fh.Filename,
		MimeType: mimeType,
		Size:     fh.Size,
		Body:     f,
	}
	return in, f, nil
}

// Package ocr proxies receipt images to the Veryfi document API.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spendwatch/internal/log"
)

const (
	DefaultURL      = "https://api.veryfi.com/api/v7/partner/documents"
	unknownMerchant = "Unknown Merchant"
	defaultCategory = "other"
	maxErrorBody    = 4 << 10
)

// ScanError carries the HTTP status and message shown to the client.
// Err holds the underlying cause for logs and development responses.
type ScanError struct {
	Status      int
	UserMessage string
	Err         error
}

func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scan failed (%d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("scan failed (%d): %s", e.Status, e.UserMessage)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ScanResult is the normalised receipt extraction.
type ScanResult struct {
	Merchant string            `json:"merchant"`
	Total    decimal.Decimal   `json:"total"`
	Date     string            `json:"date"`
	Items    []json.RawMessage `json:"items"`
	Category string            `json:"category"`
}

type Credentials struct {
	ClientID string
	Username string
	APIKey   string
}

type Client struct {
	url    string
	creds  Credentials
	http   *http.Client
	logger *log.Logger
	now    func() time.Time
}

// NewClient returns a client posting to url, or DefaultURL when empty.
func NewClient(url string, creds Credentials, timeout time.Duration, logger *log.Logger) *Client {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Client{
		url:    url,
		creds:  creds,
		http:   &http.Client{Timeout: timeout},
		logger: logger.WithComponent(log.ComponentOCR),
		now:    time.Now,
	}
}

type veryfiDocument struct {
	Total  *decimal.Decimal `json:"total"`
	Date   string           `json:"date"`
	Vendor *struct {
		Name string `json:"name"`
	} `json:"vendor"`
	LineItems []json.RawMessage `json:"line_items"`
	Category  string            `json:"category"`
}

// Scan submits a base64-encoded image and returns the extracted fields.
// Every failure is a *ScanError.
func (c *Client) Scan(ctx context.Context, fileData string) (ScanResult, error) {
	if strings.TrimSpace(fileData) == "" {
		return ScanResult{}, &ScanError{
			Status:      http.StatusBadRequest,
			UserMessage: "Please upload a receipt image to scan",
			Err:         errors.New("no file data provided"),
		}
	}

	body, err := json.Marshal(map[string]string{"file_data": fileData})
	if err != nil {
		return ScanResult{}, internalError(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return ScanResult{}, internalError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("CLIENT-ID", c.creds.ClientID)
	req.Header.Set("AUTHORIZATION", fmt.Sprintf("apikey %s:%s", c.creds.Username, c.creds.APIKey))

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return ScanResult{}, &ScanError{
				Status:      http.StatusGatewayTimeout,
				UserMessage: "Scanning service timed out. Please try again.",
				Err:         err,
			}
		}
		return ScanResult{}, internalError(err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "Veryfi responded",
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, c.now().Sub(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ScanResult{}, statusError(resp)
	}

	var doc veryfiDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return ScanResult{}, unreadable(fmt.Errorf("decode veryfi response: %w", err))
	}
	if doc.Total == nil || doc.Total.IsZero() {
		return ScanResult{}, unreadable(errors.New("veryfi response has no total"))
	}
	return c.normalise(doc), nil
}

func (c *Client) normalise(doc veryfiDocument) ScanResult {
	res := ScanResult{
		Merchant: unknownMerchant,
		Total:    *doc.Total,
		Date:     c.now().UTC().Format(time.DateOnly),
		Items:    doc.LineItems,
		Category: defaultCategory,
	}
	if doc.Vendor != nil && strings.TrimSpace(doc.Vendor.Name) != "" {
		res.Merchant = doc.Vendor.Name
	}
	if d, _, _ := strings.Cut(doc.Date, " "); d != "" {
		res.Date = d
	}
	if res.Items == nil {
		res.Items = []json.RawMessage{}
	}
	if doc.Category != "" {
		res.Category = doc.Category
	}
	return res
}

func statusError(resp *http.Response) *ScanError {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := fmt.Errorf("veryfi returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &ScanError{
			Status:      http.StatusUnauthorized,
			UserMessage: "Invalid API credentials. Please contact support.",
			Err:         cause,
		}
	case http.StatusTooManyRequests:
		return &ScanError{
			Status:      http.StatusTooManyRequests,
			UserMessage: "Too many requests. Please try again later.",
			Err:         cause,
		}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &ScanError{
			Status:      resp.StatusCode,
			UserMessage: "We couldn't read the receipt details. Please try again or enter manually.",
			Err:         cause,
		}
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return &ScanError{
			Status:      http.StatusGatewayTimeout,
			UserMessage: "Scanning service timed out. Please try again.",
			Err:         cause,
		}
	default:
		return internalError(cause)
	}
}

func unreadable(err error) *ScanError {
	return &ScanError{
		Status:      http.StatusUnprocessableEntity,
		UserMessage: "We couldn't read the receipt details. Please try again or enter manually.",
		Err:         err,
	}
}

func internalError(err error) *ScanError {
	return &ScanError{
		Status:      http.StatusInternalServerError,
		UserMessage: "Failed to scan receipt. Please try again or enter details manually.",
		Err:         err,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

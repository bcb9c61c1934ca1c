package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"spendwatch/internal/log"
	"spendwatch/internal/ocr"
)

type scanJSON struct {
	Merchant string            `json:"merchant"`
	Total    json.Number       `json:"total"`
	Date     string            `json:"date"`
	Items    []json.RawMessage `json:"items"`
	Category string            `json:"category"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		ErrorResponse(http.StatusServiceUnavailable, "Receipt scanning is not configured").Write(w)
		return
	}

	var req struct {
		FileData string `json:"file_data"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanBody)).Decode(&req); err != nil {
		BadRequestError("Please upload a receipt image to scan").Write(w)
		return
	}

	res, err := s.scanner.Scan(r.Context(), req.FileData)
	if err != nil {
		var se *ocr.ScanError
		if !errors.As(err, &se) {
			se = &ocr.ScanError{
				Status:      http.StatusInternalServerError,
				UserMessage: "Failed to scan receipt. Please try again or enter details manually.",
				Err:         err,
			}
		}
		log.FromContext(r.Context()).WarnContext(r.Context(), "Receipt scan failed",
			log.FieldOperation, log.OpScan,
			log.FieldStatusCode, se.Status,
			log.FieldError, err)

		resp := ErrorResponse(se.Status, se.UserMessage)
		if s.development && se.Err != nil {
			resp.Details(se.Err.Error())
		}
		resp.Write(w)
		return
	}

	NewJSONResponse().Body(scanJSON{
		Merchant: res.Merchant,
		Total:    json.Number(res.Total.String()),
		Date:     res.Date,
		Items:    res.Items,
		Category: res.Category,
	}).Write(w)
}

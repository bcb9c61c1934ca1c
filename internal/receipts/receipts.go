// Package receipts stores uploaded receipt files under their storage path.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"spendwatch/internal/config"
	"spendwatch/internal/log"
)

var (
	ErrNotFound = errors.New("receipt file not found")
	ErrExists   = errors.New("receipt file already exists")
	ErrBadPath  = errors.New("invalid receipt path")
)

// Storage holds receipt files. Put never overwrites an existing path.
type Storage interface {
	Put(ctx context.Context, path string, r io.Reader, size int64, mimeType string) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// New builds the Storage selected by cfg.ReceiptBackend.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (Storage, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentReceipts)

	switch cfg.ReceiptBackend {
	case "", "local":
		s, err := NewLocal(cfg.ReceiptDir)
		if err != nil {
			return nil, err
		}
		logger.Info("Receipt storage ready", log.FieldBackend, "local", "dir", cfg.ReceiptDir)
		return s, nil
	case "drive":
		creds, err := ServiceAccountCredentials(cfg.GoogleServiceAccountJSON, cfg.GoogleServiceAccountFile)
		if err != nil {
			return nil, err
		}
		s, err := NewDrive(ctx, cfg.GoogleDriveFolderID, creds)
		if err != nil {
			return nil, err
		}
		logger.Info("Receipt storage ready", log.FieldBackend, "drive", "folder_id", cfg.GoogleDriveFolderID)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown receipt backend %q", cfg.ReceiptBackend)
	}
}

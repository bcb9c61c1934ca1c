package receipts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local keeps receipts on the filesystem below a root directory.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("receipt directory is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve receipt directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create receipt directory: %w", err)
	}
	return &Local{root: abs}, nil
}

// resolve maps a slash-separated storage path to a file below root.
func (l *Local) resolve(path string) (string, error) {
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "\\") {
		return "", ErrBadPath
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." || part == ".." {
			return "", ErrBadPath
		}
	}
	return filepath.Join(l.root, filepath.FromSlash(path)), nil
}

func (l *Local) Put(ctx context.Context, path string, r io.Reader, size int64, _ string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("create receipt folder: %w", err)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if errors.Is(err, fs.ErrExist) {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("create receipt file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close receipt file: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(full)
		}
	}()

	n, err := io.Copy(f, r)
	if err != nil {
		return fmt.Errorf("write receipt file: %w", err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("write receipt file: wrote %d of %d bytes", n, size)
	}
	return nil
}

func (l *Local) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open receipt file: %w", err)
	}
	return f, nil
}

package receipts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const pathProperty = "spendwatch_path"

// Drive keeps receipts as files in one Google Drive folder. The storage
// path is kept in an app property and used for lookups.
type Drive struct {
	svc      *drive.Service
	folderID string
}

// ServiceAccountCredentials returns inline JSON, the contents of file, or
// the file named by GOOGLE_APPLICATION_CREDENTIALS, in that order.
func ServiceAccountCredentials(inline, file string) ([]byte, error) {
	inline = strings.TrimSpace(inline)
	file = strings.TrimSpace(file)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	switch {
	case inline != "":
		return []byte(inline), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// NewDrive creates a Drive-backed store. Extra options are appended after
// the credentials, so tests can point the client elsewhere.
func NewDrive(ctx context.Context, folderID string, credentialsJSON []byte, opts ...option.ClientOption) (*Drive, error) {
	if folderID == "" {
		return nil, errors.New("missing drive folder id")
	}
	base := []option.ClientOption{option.WithScopes(drive.DriveFileScope)}
	if len(credentialsJSON) > 0 {
		base = append(base, option.WithCredentialsJSON(credentialsJSON))
	}
	svc, err := drive.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Drive{svc: svc, folderID: folderID}, nil
}

func (d *Drive) Put(ctx context.Context, path string, r io.Reader, _ int64, mimeType string) error {
	if path == "" {
		return ErrBadPath
	}
	if _, err := d.find(ctx, path); err == nil {
		return ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	f := &drive.File{
		Name:          strings.ReplaceAll(path, "/", "_"),
		Parents:       []string{d.folderID},
		MimeType:      mimeType,
		AppProperties: map[string]string{pathProperty: path},
	}
	_, err := d.svc.Files.Create(f).
		Media(r, googleapi.ContentType(mimeType)).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("upload receipt to drive: %w", err)
	}
	return nil
}

func (d *Drive) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	id, err := d.find(ctx, path)
	if err != nil {
		return nil, err
	}
	resp, err := d.svc.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("download receipt from drive: %w", err)
	}
	return resp.Body, nil
}

func (d *Drive) find(ctx context.Context, path string) (string, error) {
	list, err := d.svc.Files.List().
		Q(findQuery(d.folderID, path)).
		Fields("files(id)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("search drive: %w", err)
	}
	if len(list.Files) == 0 {
		return "", ErrNotFound
	}
	return list.Files[0].Id, nil
}

func findQuery(folderID, path string) string {
	return fmt.Sprintf("appProperties has { key='%s' and value='%s' } and '%s' in parents and trashed = false",
		pathProperty, escapeQuery(path), escapeQuery(folderID))
}

// escapeQuery escapes a value for a single-quoted Drive query literal.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

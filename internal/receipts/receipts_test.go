package receipts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"spendwatch/internal/config"
)

func TestLocal_PutOpen(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	body := []byte("%PDF-1.4 receipt")
	path := "user_u1/e1/receipt.pdf"
	require.NoError(t, l.Put(ctx, path, bytes.NewReader(body), int64(len(body)), "application/pdf"))

	rc, err := l.Open(ctx, path)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, body, got)

	err = l.Put(ctx, path, bytes.NewReader(body), int64(len(body)), "application/pdf")
	assert.ErrorIs(t, err, ErrExists)

	_, err = l.Open(ctx, "user_u1/e2/missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_ShortWriteRemovesFile(t *testing.T) {
	root := t.TempDir()
	l, err := NewLocal(root)
	require.NoError(t, err)

	err = l.Put(context.Background(), "user_u1/e1/a.png", bytes.NewReader([]byte("abc")), 10, "image/png")
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(root, "user_u1", "e1", "a.png"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLocal_RejectsEscapingPaths(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, p := range []string{"", "/etc/passwd", "../x", "user_u1/../../x", "a//b", `a\b`} {
		t.Run(fmt.Sprintf("%q", p), func(t *testing.T) {
			err := l.Put(context.Background(), p, bytes.NewReader(nil), 0, "image/png")
			assert.ErrorIs(t, err, ErrBadPath)
		})
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.ReceiptDir = t.TempDir()
	s, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)

	cfg.ReceiptBackend = "s3"
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestServiceAccountCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	b, err := ServiceAccountCredentials(` {"type":"service_account"} `, "")
	require.NoError(t, err)
	assert.Equal(t, `{"type":"service_account"}`, string(b))

	file := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"k":1}`), 0o600))
	b, err = ServiceAccountCredentials("", file)
	require.NoError(t, err)
	assert.Equal(t, `{"k":1}`, string(b))

	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", file)
	b, err = ServiceAccountCredentials("", "")
	require.NoError(t, err)
	assert.Equal(t, `{"k":1}`, string(b))

	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	_, err = ServiceAccountCredentials("", "")
	assert.Error(t, err)
}

func TestDriveQuery(t *testing.T) {
	q := findQuery("folder'1", "user_u1/e1/o'brien.png")
	assert.Equal(t,
		`appProperties has { key='spendwatch_path' and value='user_u1/e1/o\'brien.png' } and 'folder\'1' in parents and trashed = false`,
		q)
	assert.True(t, isNotFound(&googleapi.Error{Code: http.StatusNotFound}))
	assert.False(t, isNotFound(&googleapi.Error{Code: http.StatusForbidden}))
}

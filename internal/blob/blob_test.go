package blob

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalPutAndURL(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	store := Local{Dir: dir, BaseURL: "http://example.test/blobs/", Now: func() time.Time { return now }}
	ctx := context.Background()

	handle, size, err := store.Put(ctx, "Proof.PNG", "image/png", bytes.NewReader([]byte("png-bytes")))
	require.NoError(t, err)
	require.Equal(t, int64(9), size)
	require.True(t, strings.HasPrefix(handle, "2025/03/04/"))
	require.True(t, strings.HasSuffix(handle, ".png"))

	data, err := os.ReadFile(store.Path(handle))
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(data))

	u, err := store.URL(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, "http://example.test/blobs/"+handle, u)
}

func TestLocalURLMissing(t *testing.T) {
	store := Local{Dir: t.TempDir(), BaseURL: "/blobs"}
	_, err := store.URL(context.Background(), "2025/01/01/nope.png")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.URL(context.Background(), "../etc/passwd")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestValidHandle(t *testing.T) {
	require.True(t, ValidHandle("2025/01/01/abc.png"))
	for _, h := range []string{"", "/abs", "a/../b", "a//b", `a\b`, "./a"} {
		require.False(t, ValidHandle(h), h)
	}
}

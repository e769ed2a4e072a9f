package archive_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sitewatch/internal/archive"
	"sitewatch/internal/archive/memory"
)

func TestObjectPath(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	path := archive.ObjectPath("https://gov.example.com/news?page=2", at)

	require.True(t, strings.HasPrefix(path, "2025/06/01/gov.example.com/"), path)
	require.True(t, strings.HasSuffix(path, ".html"), path)

	// Same URL, same key; different URL, different key.
	require.Equal(t, path, archive.ObjectPath("https://gov.example.com/news?page=2", at))
	require.NotEqual(t, path, archive.ObjectPath("https://gov.example.com/news?page=3", at))
}

func TestObjectPathUnparsableURL(t *testing.T) {
	t.Parallel()

	path := archive.ObjectPath("::not-a-url", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.Contains(t, path, "/unknown/")
}

func TestNopDiscards(t *testing.T) {
	t.Parallel()

	uri, err := archive.Nop{}.PutObject(context.Background(), "a/b.html", "text/html", strings.NewReader("x"))
	require.NoError(t, err)
	require.Empty(t, uri)
}

func TestMemoryBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	uri, err := store.PutObject(context.Background(), "2025/06/01/x/abc.html", "text/html", strings.NewReader("<html>hi</html>"))
	require.NoError(t, err)
	require.Equal(t, "memory://2025/06/01/x/abc.html", uri)

	body, ok := store.Object("2025/06/01/x/abc.html")
	require.True(t, ok)
	require.Equal(t, "<html>hi</html>", string(body))
	require.Equal(t, 1, store.Len())
}

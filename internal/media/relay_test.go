package media

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayFetch(t *testing.T) {
	payload := []byte("fake-jpeg-bytes")
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(payload)
	}))
	defer src.Close()

	dir := t.TempDir()
	relay := NewRelay(NewDiskProvider(dir, "https://inbox.example"))

	relayed, err := relay.Fetch(src.URL, "", "whatsapp", "image", "tok")
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", relayed.Mime)
	assert.EqualValues(t, len(payload), relayed.Size)
	assert.True(t, strings.HasPrefix(relayed.URL, "https://inbox.example/media/whatsapp/image/"))
	assert.True(t, strings.HasSuffix(relayed.URL, ".jpg"))

	// the bytes landed on disk under the namespaced key
	key := strings.TrimPrefix(relayed.URL, "https://inbox.example/media/")
	stored, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, payload, stored)
}

func TestRelayFetchDeclaredMimeFallback(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("oggs"))
	}))
	defer src.Close()

	relay := NewRelay(NewDiskProvider(t.TempDir(), "http://localhost:8080"))

	relayed, err := relay.Fetch(src.URL, "audio/ogg", "whatsapp", "audio", "")
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg", relayed.Mime)
	assert.True(t, strings.HasSuffix(relayed.URL, ".ogg"))
}

func TestRelayFetchUpstreamError(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusNotFound)
	}))
	defer src.Close()

	relay := NewRelay(NewDiskProvider(t.TempDir(), ""))

	_, err := relay.Fetch(src.URL, "", "facebook", "file", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".mp4", extensionFor("video/mp4"))
	assert.Equal(t, ".bin", extensionFor("application/x-weird"))
	assert.Equal(t, ".bin", extensionFor(""))
}

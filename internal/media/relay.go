// Package media re-hosts provider attachments. Provider media URLs are
// short-lived and often authenticated; the relay downloads them once and
// stores the bytes durably so the inbox can render them forever.
package media

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUploadPlaceholder is the body persisted in place of an attachment that
// could not be relayed.
const ErrUploadPlaceholder = "[Error uploading media]"

// Relayed is the durable replacement for a transient provider URL.
type Relayed struct {
	URL  string
	Mime string
	Size int64
}

type Relay struct {
	Storage StorageProvider
	client  *http.Client
}

func NewRelay(storage StorageProvider) *Relay {
	return &Relay{
		Storage: storage,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch downloads sourceURL (with bearerToken when the provider requires it)
// and stores the bytes under {channelType}/{mediaType}/. The final mime comes
// from the response content-type, falling back to declaredMime.
func (r *Relay) Fetch(sourceURL, declaredMime, channelType, mediaType string, bearerToken string) (*Relayed, error) {
	req, err := http.NewRequest(http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch media: %s - %s", resp.Status, string(body))
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || strings.HasPrefix(mime, "application/octet-stream") {
		if declaredMime != "" {
			mime = declaredMime
		}
	}
	if idx := strings.Index(mime, ";"); idx > 0 {
		mime = strings.TrimSpace(mime[:idx])
	}

	key := fmt.Sprintf("%s/%s/%s%s", channelType, mediaType, uuid.NewString(), extensionFor(mime))
	size, err := r.Storage.Put(key, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("store media: %w", err)
	}

	return &Relayed{
		URL:  r.Storage.PublicURL(key),
		Mime: mime,
		Size: size,
	}, nil
}

var mimeExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/3gpp":      ".3gp",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"audio/mp4":       ".m4a",
	"audio/amr":       ".amr",
	"application/pdf": ".pdf",
}

func extensionFor(mime string) string {
	if ext, ok := mimeExtensions[mime]; ok {
		return ext
	}
	return ".bin"
}

package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// StorageProvider persists attachment bytes under a key and serves them back
// at a long-lived public URL.
type StorageProvider interface {
	Put(key string, r io.Reader) (int64, error)
	PublicURL(key string) string
}

// DiskProvider stores files under a local directory, served at
// {baseURL}/media/{key}.
type DiskProvider struct {
	Dir     string
	BaseURL string
}

func NewDiskProvider(dir, baseURL string) *DiskProvider {
	return &DiskProvider{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (p *DiskProvider) Put(key string, r io.Reader) (int64, error) {
	path := filepath.Join(p.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create media dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create media file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("write media file: %w", err)
	}
	return n, nil
}

func (p *DiskProvider) PublicURL(key string) string {
	return p.BaseURL + "/media/" + key
}

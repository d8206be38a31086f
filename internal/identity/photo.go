// internal/identity/photo.go
package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"fitjourney/internal/apperr"
)

// PhotoStore persists identity photos and returns the URL each is served
// under.
type PhotoStore interface {
	SavePhoto(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

var photoExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// DiskPhotoStore keeps photos below a local directory. Handler serves that
// directory back under urlPrefix.
type DiskPhotoStore struct {
	dir       string
	urlPrefix string
}

func NewDiskPhotoStore(dir, urlPrefix string) (*DiskPhotoStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create photo directory: %w", err)
	}
	return &DiskPhotoStore{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

// SavePhoto writes r to key plus an extension derived from contentType,
// replacing any earlier photo stored under the same key.
func (s *DiskPhotoStore) SavePhoto(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	ext, ok := photoExtensions[contentType]
	if !ok {
		return "", apperr.New(apperr.ErrValidation, fmt.Sprintf("unsupported photo type %s", contentType))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := path.Clean(key) + "." + ext
	if strings.HasPrefix(name, "..") || path.IsAbs(name) {
		return "", fmt.Errorf("invalid photo key %q", key)
	}
	target := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create photo directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create photo file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write photo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write photo: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write photo: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("failed to store photo: %w", err)
	}

	for _, other := range photoExtensions {
		if other != ext {
			_ = os.Remove(filepath.Join(s.dir, filepath.FromSlash(path.Clean(key)+"."+other)))
		}
	}

	return s.urlPrefix + "/" + name, nil
}

// Handler serves stored photos. Directory paths are not listed.
func (s *DiskPhotoStore) Handler() http.Handler {
	files := http.StripPrefix(s.urlPrefix, http.FileServer(http.Dir(s.dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

func photoKey(identity *Identity) string {
	folder := "members"
	if identity.Role == RoleTrainer {
		folder = "trainers"
	}
	return folder + "/user-" + identity.ID.String()
}

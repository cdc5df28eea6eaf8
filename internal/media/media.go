// Package media stores uploaded images on local disk or in S3.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const MaxUploadBytes = 10 << 20

var ErrUnsupportedType = errors.New("unsupported image type")

// Uploader persists an object and returns the URL clients should use.
type Uploader interface {
	Save(ctx context.Context, name, contentType string, data []byte) (string, error)
}

var allowedExt = map[string]string{
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png", ".webp": "image/webp", ".gif": "image/gif",
}

// Sniff decides the extension and content type from the first bytes, falling back to
// the file name when sniffing is inconclusive.
func Sniff(head []byte, filename string) (ext, contentType string, err error) {
	mtype := http.DetectContentType(head)
	switch mtype {
	case "image/jpeg":
		return ".jpg", mtype, nil
	case "image/png":
		return ".png", mtype, nil
	case "image/webp":
		return ".webp", mtype, nil
	case "image/gif":
		return ".gif", mtype, nil
	}
	e := strings.ToLower(filepath.Ext(filename))
	if ct, ok := allowedExt[e]; ok && mtype == "application/octet-stream" {
		return e, ct, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnsupportedType, mtype)
}

// ObjectName builds a timestamped, filesystem-safe name.
func ObjectName(now time.Time, filename, ext string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." {
		base = "img"
	}
	base = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			return r
		}
		return '-'
	}, base)
	return now.UTC().Format("20060102T150405.000") + "_" + base + ext
}

// Local writes into Dir; the router serves Dir under URLPrefix.
type Local struct {
	Dir       string
	URLPrefix string
}

func NewLocal(dir string) *Local { return &Local{Dir: dir, URLPrefix: "/uploads/"} }

func (l *Local) Save(_ context.Context, name, _ string, data []byte) (string, error) {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(l.Dir, filepath.Base(name)), data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return l.URLPrefix + filepath.Base(name), nil
}

// Package photos adapts a directory-backed photo library to the queries the
// recall engine makes: images created within a date range, screenshots excluded.
package photos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/image/draw"
)

var (
	// ErrAccessDenied means the library could not be opened for reading.
	ErrAccessDenied = errors.New("photo library access denied")
	// ErrUnavailable means an asset's data could not be read.
	ErrUnavailable = errors.New("asset data unavailable")
	// ErrDecode means an asset's data could not be decoded or re-encoded.
	ErrDecode = errors.New("asset decode failed")
)

const (
	// MaxDimension bounds the longest side of materialized images.
	MaxDimension = 1024
	// JPEGQuality is the quality used when re-encoding materialized images.
	JPEGQuality = 80
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Asset is a handle to a photo in the library.
type Asset struct {
	ID        string
	CreatedAt time.Time
	path      string
}

// Query selects assets created strictly between Start and End.
type Query struct {
	Start              time.Time
	End                time.Time
	ExcludeScreenshots bool
}

// Library is a photo library rooted at a directory.
type Library struct {
	root string
}

// NewLibrary returns a library rooted at dir.
func NewLibrary(dir string) *Library {
	return &Library{root: dir}
}

// Query returns matching assets sorted newest first.
func (l *Library) Query(ctx context.Context, q Query) ([]Asset, error) {
	if err := l.authorize(); err != nil {
		return nil, err
	}

	var assets []Asset
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return fs.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != l.root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !imageExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if q.ExcludeScreenshots && IsScreenshot(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		created := info.ModTime()
		if !created.After(q.Start) || !created.Before(q.End) {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		assets = append(assets, Asset{ID: filepath.ToSlash(rel), CreatedAt: created, path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}

	sort.Slice(assets, func(i, j int) bool {
		if !assets[i].CreatedAt.Equal(assets[j].CreatedAt) {
			return assets[i].CreatedAt.After(assets[j].CreatedAt)
		}
		return assets[i].ID < assets[j].ID
	})
	return assets, nil
}

// Materialize loads the asset and returns it as a JPEG no larger than
// MaxDimension on either side.
func (l *Library) Materialize(ctx context.Context, a Asset) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := a.path
	if path == "" {
		path = filepath.Join(l.root, filepath.FromSlash(a.ID))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, a.ID, err)
	}
	return Normalize(data)
}

// Normalize decodes an image, scales it down to fit MaxDimension, and encodes it as JPEG.
func Normalize(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	dst := src
	b := src.Bounds()
	if w, h := fitWithin(b.Dx(), b.Dy(), MaxDimension); w != b.Dx() || h != b.Dy() {
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, b, draw.Over, nil)
		dst = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return buf.Bytes(), nil
}

// IsScreenshot reports whether a file name looks like a screenshot.
func IsScreenshot(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "screenshot") || strings.Contains(n, "screen shot") || strings.Contains(n, "screen_shot")
}

func (l *Library) authorize() error {
	info, err := os.Stat(l.root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrAccessDenied, l.root)
	}
	f, err := os.Open(l.root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return f.Close()
}

func fitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}

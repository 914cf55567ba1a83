// Package upload stores exercise photos in cloud storage for participants who
// consented to it, returning a publicly fetchable URL.
package upload

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no upload backend has credentials.
var ErrNotConfigured = errors.New("image upload is not configured")

// ErrRejected wraps non-2xx responses and responses without a URL.
var ErrRejected = errors.New("upload rejected")

// Uploader stores image bytes and returns a public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, name string) (string, error)
}

// Config selects and configures an upload backend.
type Config struct {
	Backend string // "cloudinary" or "cos"; empty picks whichever is configured

	CloudinaryCloud  string
	CloudinaryPreset string
	CloudinaryURL    string // overrides the API base, for tests and proxies

	COSBucket       string
	COSRegion       string
	COSSecretID     string
	COSSecretKey    string
	COSPublicDomain string
}

func (c Config) cloudinaryReady() bool {
	return strings.TrimSpace(c.CloudinaryCloud) != "" && strings.TrimSpace(c.CloudinaryPreset) != ""
}

func (c Config) cosReady() bool {
	return strings.TrimSpace(c.COSSecretID) != "" &&
		strings.TrimSpace(c.COSSecretKey) != "" &&
		strings.TrimSpace(c.COSBucket) != "" &&
		strings.TrimSpace(c.COSPublicDomain) != ""
}

// New returns the configured backend.
func New(cfg Config) (Uploader, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "cloudinary":
		if !cfg.cloudinaryReady() {
			return nil, fmt.Errorf("%w: cloudinary needs cloud name and upload preset", ErrNotConfigured)
		}
		return NewCloudinary(cfg.CloudinaryCloud, cfg.CloudinaryPreset, cfg.CloudinaryURL), nil
	case "cos":
		if !cfg.cosReady() {
			return nil, fmt.Errorf("%w: cos needs bucket, credentials and public domain", ErrNotConfigured)
		}
		return NewCOS(cfg.COSBucket, cfg.COSRegion, cfg.COSSecretID, cfg.COSSecretKey, cfg.COSPublicDomain)
	case "":
		switch {
		case cfg.cloudinaryReady():
			return NewCloudinary(cfg.CloudinaryCloud, cfg.CloudinaryPreset, cfg.CloudinaryURL), nil
		case cfg.cosReady():
			return NewCOS(cfg.COSBucket, cfg.COSRegion, cfg.COSSecretID, cfg.COSSecretKey, cfg.COSPublicDomain)
		}
		return nil, ErrNotConfigured
	default:
		return nil, fmt.Errorf("unknown upload backend %q", cfg.Backend)
	}
}

var fileNamePattern = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func objectKey(name string) string {
	return fmt.Sprintf("reminiscence/%d_%s_%s", time.Now().Unix(), randomHex(4), sanitizeFileName(name))
}

func sanitizeFileName(name string) string {
	base := strings.TrimSpace(filepath.Base(name))
	if base == "" || base == "." || base == "/" {
		base = "photo.jpg"
	}
	base = fileNamePattern.ReplaceAllString(base, "_")
	if base == "" || base == "_" {
		base = "photo.jpg"
	}
	return base
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "r"
	}
	return hex.EncodeToString(buf)
}

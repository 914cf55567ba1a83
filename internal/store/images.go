package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ImageDir is the app-private directory holding photos of exercises generated
// without upload consent. Each file is named after its exercise ID.
type ImageDir struct {
	root string
}

// NewImageDir creates the directory if needed.
func NewImageDir(root string) (*ImageDir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &ImageDir{root: root}, nil
}

// Path returns the file path an exercise's image is stored at.
func (d *ImageDir) Path(exerciseID string) string {
	return filepath.Join(d.root, exerciseID+".jpg")
}

// Save writes the image to a temp file and renames it into place, so a reader
// never observes a partial file.
func (d *ImageDir) Save(exerciseID string, data []byte) (string, error) {
	if exerciseID == "" || strings.ContainsAny(exerciseID, `/\`) {
		return "", fmt.Errorf("invalid exercise id %q", exerciseID)
	}
	f, err := os.CreateTemp(d.root, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close image: %w", err)
	}
	path := d.Path(exerciseID)
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename image: %w", err)
	}
	return path, nil
}

// Remove deletes a stored image. Missing files are not an error.
func (d *ImageDir) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

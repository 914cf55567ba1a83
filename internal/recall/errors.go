package recall

import (
	"context"
	"errors"
)

// Cycle failures. Components wrap the underlying cause with one of these so
// both the category and the cause match errors.Is.
var (
	ErrPhotoAccessDenied     = errors.New("photo library access denied")
	ErrNoPhotosFound         = errors.New("no photos found in any lookback window")
	ErrImageLoadFailed       = errors.New("image load failed")
	ErrImageProcessingFailed = errors.New("image processing failed")
	ErrNetwork               = errors.New("network error")
	ErrGenerationFailed      = errors.New("exercise generation failed")
	ErrPersistenceFailed     = errors.New("persistence failed")
	ErrNotificationFailed    = errors.New("notification enqueue failed")
)

var kinds = []struct {
	err   error
	label string
}{
	{ErrPhotoAccessDenied, "photo_access_denied"},
	{ErrNoPhotosFound, "no_photos"},
	{ErrImageLoadFailed, "image_load_failed"},
	{ErrImageProcessingFailed, "image_processing_failed"},
	{ErrNetwork, "network"},
	{ErrGenerationFailed, "generation_failed"},
	{ErrPersistenceFailed, "persistence_failed"},
	{ErrNotificationFailed, "notification_failed"},
}

// Kind returns a short label for err, used in logs and metrics.
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "expired"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "unknown"
}

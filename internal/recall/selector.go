package recall

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pavelanni/reminisce/internal/model"
	"github.com/pavelanni/reminisce/internal/photos"
)

// AssetSource is the photo library the engine draws candidates from.
type AssetSource interface {
	Query(ctx context.Context, q photos.Query) ([]photos.Asset, error)
	Materialize(ctx context.Context, a photos.Asset) ([]byte, error)
}

// WindowSelector finds the photos taken around a lookback window's target date.
type WindowSelector struct {
	assets AssetSource
	now    func() time.Time
}

func NewWindowSelector(assets AssetSource, now func() time.Time) *WindowSelector {
	if now == nil {
		now = time.Now
	}
	return &WindowSelector{assets: assets, now: now}
}

// Select returns the non-screenshot photos created within one day of
// today minus the window, newest first. An empty result is not an error;
// a denied library is ErrPhotoAccessDenied.
func (s *WindowSelector) Select(ctx context.Context, w model.LookbackWindow) ([]photos.Asset, error) {
	start, end := w.DateRange(s.now())
	assets, err := s.assets.Query(ctx, photos.Query{
		Start:              start,
		End:                end,
		ExcludeScreenshots: true,
	})
	switch {
	case errors.Is(err, photos.ErrAccessDenied):
		return nil, fmt.Errorf("%w: %w", ErrPhotoAccessDenied, err)
	case err != nil:
		return nil, fmt.Errorf("query window %s: %w", w, err)
	}
	slices.SortStableFunc(assets, func(a, b photos.Asset) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return assets, nil
}

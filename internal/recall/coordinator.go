// Package recall generates reminiscence exercises from the participant's own
// photos taken around fixed lookback windows, one exercise per cycle.
package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/reminisce/internal/i18n"
	"github.com/pavelanni/reminisce/internal/metrics"
	"github.com/pavelanni/reminisce/internal/model"
	"github.com/pavelanni/reminisce/internal/photos"
	"github.com/pavelanni/reminisce/internal/tasks"
)

// Periodic task identifiers.
const (
	CycleTaskID   = "reminiscence.generate"
	RefreshTaskID = "reminiscence.refresh"
)

// ReconcileLimit is how many recent exercises a reconciliation pass inspects.
const ReconcileLimit = 50

// Store is the persistence the coordinator needs.
type Store interface {
	ProfileSource
	NotifiedMarker
	GetSettings() (model.Settings, error)
	SaveExercise(e model.Exercise) error
	ListUnnotified(participantID string, limit int) ([]model.Exercise, error)
}

// TaskSubmitter registers the next run of a periodic task.
type TaskSubmitter interface {
	Submit(ctx context.Context, req tasks.Request) error
	Pending(id string) (*tasks.Request, error)
}

// Deps are the collaborators of a Coordinator. Uploader may be nil, in which
// case consented cycles fail with ErrNetwork.
type Deps struct {
	Assets    AssetSource
	Store     Store
	Uploader  Uploader
	Generator Generator
	Images    ImageCache
	Center    NotificationCenter
	Tasks     TaskSubmitter
	Metrics   *metrics.Metrics
}

// Options tune a Coordinator. Zero values get defaults.
type Options struct {
	CallTimeout     time.Duration // per upload or generation call, default 60s
	NotifyHour      int           // local time of day notifications fire, default 15:00
	NotifyMinute    int
	CycleInterval   time.Duration // default 2h
	RefreshInterval time.Duration // default 1h
	Rand            *rand.Rand
	Now             func() time.Time
	NewID           func() string
}

func (o *Options) setDefaults() {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 60 * time.Second
	}
	if o.NotifyHour == 0 && o.NotifyMinute == 0 {
		o.NotifyHour = 15
	}
	if o.CycleInterval <= 0 {
		o.CycleInterval = 2 * time.Hour
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = time.Hour
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
}

// Coordinator runs generation cycles and reconciliation passes.
// Cycles must not overlap; the task scheduler runs them one at a time.
type Coordinator struct {
	selector *WindowSelector
	router   *ConsentRouter
	notifier *Notifier
	assets   AssetSource
	store    Store
	images   ImageCache
	tasks    TaskSubmitter
	metrics  *metrics.Metrics
	rng      *rand.Rand
	now      func() time.Time

	cycleInterval   time.Duration
	refreshInterval time.Duration
}

func New(d Deps, o Options) *Coordinator {
	o.setDefaults()
	if d.Metrics == nil {
		d.Metrics = metrics.NewMetrics()
	}
	return &Coordinator{
		selector: NewWindowSelector(d.Assets, o.Now),
		router: &ConsentRouter{
			profiles:    d.Store,
			uploader:    d.Uploader,
			generator:   d.Generator,
			images:      d.Images,
			rng:         o.Rand,
			newID:       o.NewID,
			now:         o.Now,
			callTimeout: o.CallTimeout,
		},
		notifier: &Notifier{
			center:  d.Center,
			marker:  d.Store,
			metrics: d.Metrics,
			hour:    o.NotifyHour,
			minute:  o.NotifyMinute,
			now:     o.Now,
		},
		assets:          d.Assets,
		store:           d.Store,
		images:          d.Images,
		tasks:           d.Tasks,
		metrics:         d.Metrics,
		rng:             o.Rand,
		now:             o.Now,
		cycleInterval:   o.CycleInterval,
		refreshInterval: o.RefreshInterval,
	}
}

// Notifier returns the coordinator's notification scheduler.
func (c *Coordinator) Notifier() *Notifier { return c.notifier }

type candidates struct {
	window model.LookbackWindow
	assets []photos.Asset
}

// RunCycle generates, stores and schedules at most one exercise. It returns
// the exercise whenever it was persisted, even if scheduling its
// notification failed.
func (c *Coordinator) RunCycle(ctx context.Context) (*model.Exercise, error) {
	st, err := c.store.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("%w: read settings: %w", ErrPersistenceFailed, err)
	}
	log := slog.With("participant_id", st.ParticipantID)

	found, err := c.collect(ctx)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNoPhotosFound
	}

	pick := found[c.rng.IntN(len(found))]
	asset := pick.assets[c.rng.IntN(len(pick.assets))]
	log = log.With("window", pick.window.String(), "asset", asset.ID)
	log.Info("photo selected", "candidate_windows", len(found), "window_assets", len(pick.assets))

	data, err := c.assets.Materialize(ctx, asset)
	switch {
	case errors.Is(err, photos.ErrDecode):
		return nil, fmt.Errorf("%w: %w", ErrImageProcessingFailed, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrImageLoadFailed, err)
	}

	ex, err := c.router.Process(ctx, st, data, pick.window, asset.CreatedAt)
	if err != nil {
		return nil, err
	}

	// Nothing is persisted once the cycle has expired.
	if err := ctx.Err(); err != nil {
		c.discard(ex)
		return nil, fmt.Errorf("cycle abandoned before save: %w", err)
	}
	if err := c.store.SaveExercise(*ex); err != nil {
		c.discard(ex)
		return nil, fmt.Errorf("%w: save exercise: %w", ErrPersistenceFailed, err)
	}
	c.metrics.RecordExercise(imagePath(ex), string(ex.ProblemType))
	log.Info("exercise saved", "exercise_id", ex.ID, "problem_type", ex.ProblemType, "path", imagePath(ex))

	nctx := i18n.WithLanguage(ctx, string(st.NativeLanguage))
	if err := c.notifier.ScheduleOnce(nctx, ex); err != nil {
		return ex, err
	}
	return ex, nil
}

// collect queries every window concurrently. Failed and empty windows are
// skipped; only cancellation aborts the collection.
func (c *Coordinator) collect(ctx context.Context) ([]candidates, error) {
	windows := model.Windows()
	results := make([][]photos.Asset, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range windows {
		g.Go(func() error {
			assets, err := c.selector.Select(gctx, w)
			switch {
			case gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				slog.Warn("window skipped", "window", w.String(), "kind", Kind(err), "error", err)
				c.metrics.RecordWindow(w.String(), Kind(err), 0)
				return nil
			case len(assets) == 0:
				slog.Debug("window empty", "window", w.String())
				c.metrics.RecordWindow(w.String(), "empty", 0)
				return nil
			}
			c.metrics.RecordWindow(w.String(), "found", len(assets))
			results[i] = assets
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collect windows: %w", err)
	}

	var found []candidates
	for i, assets := range results {
		if len(assets) > 0 {
			found = append(found, candidates{window: windows[i], assets: assets})
		}
	}
	return found, nil
}

func (c *Coordinator) discard(ex *model.Exercise) {
	if ex.Image.LocalPath == "" {
		return
	}
	if err := c.images.Remove(ex.Image.LocalPath); err != nil {
		slog.Warn("remove abandoned image", "path", ex.Image.LocalPath, "error", err)
	}
}

func imagePath(ex *model.Exercise) string {
	if ex.Image.RemoteURL != "" {
		return "remote"
	}
	return "local"
}

// Handle is the generation task entry point. It never panics, and it always
// submits the next cycle before returning, including when ctx has expired.
func (c *Coordinator) Handle(ctx context.Context) (err error) {
	start := c.now()
	stop := context.AfterFunc(ctx, func() {
		slog.Warn("generation cycle expired", "elapsed", time.Since(start).Round(time.Millisecond))
	})
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("generation cycle panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("cycle panicked: %v", r)
		}
		c.metrics.RecordCycle(Kind(err), time.Since(start))
		c.resubmit(context.WithoutCancel(ctx), CycleTaskID, c.cycleInterval)
	}()

	ex, err := c.RunCycle(ctx)
	switch {
	case err == nil:
		slog.Info("generation cycle finished", "exercise_id", ex.ID, "duration", time.Since(start).Round(time.Millisecond))
	case errors.Is(err, ErrNoPhotosFound):
		slog.Info("generation cycle found no photos")
	case ex != nil:
		slog.Warn("exercise saved but notification not scheduled", "exercise_id", ex.ID, "kind", Kind(err), "error", err)
	default:
		slog.Error("generation cycle failed", "kind", Kind(err), "error", err)
	}
	return err
}

// HandleRefresh is the reconciliation task entry point.
func (c *Coordinator) HandleRefresh(ctx context.Context) error {
	defer c.resubmit(context.WithoutCancel(ctx), RefreshTaskID, c.refreshInterval)
	n, err := c.Reconcile(ctx)
	if err != nil {
		slog.Error("reconciliation failed", "scheduled", n, "kind", Kind(err), "error", err)
		return err
	}
	slog.Info("reconciliation finished", "scheduled", n)
	return nil
}

// Reconcile schedules notifications for the participant's recent exercises
// that are not yet notified. It returns how many it scheduled.
func (c *Coordinator) Reconcile(ctx context.Context) (int, error) {
	st, err := c.store.GetSettings()
	if err != nil {
		return 0, fmt.Errorf("%w: read settings: %w", ErrPersistenceFailed, err)
	}
	pending, err := c.store.ListUnnotified(st.ParticipantID, ReconcileLimit)
	if err != nil {
		return 0, fmt.Errorf("%w: list exercises: %w", ErrPersistenceFailed, err)
	}

	nctx := i18n.WithLanguage(ctx, string(st.NativeLanguage))
	scheduled := 0
	var errs []error
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return scheduled, err
		}
		if err := c.notifier.ScheduleOnce(nctx, &pending[i]); err != nil {
			errs = append(errs, fmt.Errorf("exercise %s: %w", pending[i].ID, err))
			continue
		}
		scheduled++
	}
	return scheduled, errors.Join(errs...)
}

// SubmitInitial submits the first run of each periodic task unless one is already pending.
func (c *Coordinator) SubmitInitial(ctx context.Context) error {
	for _, id := range []string{CycleTaskID, RefreshTaskID} {
		p, err := c.tasks.Pending(id)
		if err != nil {
			return fmt.Errorf("check pending %s: %w", id, err)
		}
		if p != nil {
			slog.Info("task already pending", "task", id, "earliest_begin", p.EarliestBegin)
			continue
		}
		if err := c.tasks.Submit(ctx, tasks.Request{ID: id, EarliestBegin: c.now()}); err != nil {
			return err
		}
	}
	return nil
}

// RequestCycle asks for a generation cycle as soon as possible.
func (c *Coordinator) RequestCycle(ctx context.Context) error {
	return c.tasks.Submit(ctx, tasks.Request{ID: CycleTaskID, EarliestBegin: c.now()})
}

func (c *Coordinator) resubmit(ctx context.Context, id string, after time.Duration) {
	if c.tasks == nil {
		return
	}
	next := c.now().Add(after)
	if err := c.tasks.Submit(ctx, tasks.Request{ID: id, EarliestBegin: next}); err != nil {
		slog.Error("failed to submit next run", "task", id, "error", err)
		return
	}
	slog.Debug("next run submitted", "task", id, "earliest_begin", next)
}

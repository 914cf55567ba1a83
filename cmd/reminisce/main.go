package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/reminisce/internal/handler"
	appI18n "github.com/pavelanni/reminisce/internal/i18n"
	"github.com/pavelanni/reminisce/internal/llm"
	"github.com/pavelanni/reminisce/internal/metrics"
	"github.com/pavelanni/reminisce/internal/model"
	"github.com/pavelanni/reminisce/internal/notify"
	"github.com/pavelanni/reminisce/internal/photos"
	"github.com/pavelanni/reminisce/internal/recall"
	"github.com/pavelanni/reminisce/internal/store"
	"github.com/pavelanni/reminisce/internal/tasks"
	"github.com/pavelanni/reminisce/internal/upload"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reminisce",
		Short: "Language exercises generated from your own photo memories",
	}

	run := runCmd()
	root.AddCommand(run, cycleCmd(), reconcileCmd(), profileCmd(), exportCmd())

	// Make "run" the default when no subcommand is given.
	root.RunE = run.RunE

	// Register run flags on root so bare `reminisce --addr ...` still works.
	root.Flags().AddFlagSet(run.Flags())

	return root
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the periodic recall engine and the HTTP API",
		RunE:  runRun,
	}
	f := cmd.Flags()
	engineFlags(f)
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.Duration("cycle-interval", 2*time.Hour, "Delay before the next generation cycle")
	f.Duration("refresh-interval", time.Hour, "Delay before the next notification reconciliation")
	f.Duration("task-budget", 5*time.Minute, "Execution budget for one task run")
	f.Duration("poll-interval", 30*time.Second, "How often due tasks and notifications are checked")
	f.String("nats-url", "", "NATS server URL for notification fan-out (empty disables)")
	f.String("nats-subject", "reminisce.notifications", "NATS subject for delivered notifications")
	return cmd
}

func cycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one generation cycle now and exit",
		RunE:  runCycle,
	}
	engineFlags(cmd.Flags())
	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Schedule notifications for recent exercises that never got one",
		RunE:  runReconcile,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.String("lang", "en", "Fallback language for notification text")
	f.Int("notify-hour", 15, "Local hour notifications fire")
	f.Int("notify-minute", 0, "Local minute notifications fire")
	return cmd
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Set consent, problem types and languages for a participant",
		RunE:  runProfile,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.String("participant", "", "Participant ID (defaults to the configured participant)")
	f.Bool("consent", false, "Allow photos to be uploaded to remote storage")
	f.StringSlice("problem-types", nil, "Preferred problem types (word_arrangement, fill_in_the_blank, speaking, writing)")
	f.String("language", "", "Language being learned (ISO 639-1)")
	f.String("native-language", "", "Native language used for explanations (ISO 639-1)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exercises as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.String("participant", "", "Participant ID (empty exports everyone)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func commonFlags(f *pflag.FlagSet) {
	f.String("db", "reminisce.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func engineFlags(f *pflag.FlagSet) {
	commonFlags(f)
	f.String("photos-dir", "", "Photo library directory (required)")
	f.String("images-dir", "images", "Directory for locally kept exercise images")
	f.String("llm-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the LLM (or set REMINISCE_LLM_KEY)")
	f.String("llm-model", "gpt-4o-mini", "Vision-capable LLM model name")
	f.Duration("call-timeout", 60*time.Second, "Timeout for one upload or generation call")
	f.String("upload-backend", "", "Image upload backend (cloudinary, cos); empty picks the configured one")
	f.String("cloudinary-cloud", "", "Cloudinary cloud name")
	f.String("cloudinary-preset", "", "Cloudinary unsigned upload preset")
	f.String("cloudinary-url", "", "Cloudinary API base URL override")
	f.String("cos-bucket", "", "Tencent COS bucket (name-appid)")
	f.String("cos-region", "", "Tencent COS region")
	f.String("cos-secret-id", "", "Tencent COS secret ID")
	f.String("cos-secret-key", "", "Tencent COS secret key")
	f.String("cos-public-domain", "", "Public domain serving uploaded COS objects")
	f.Int("notify-hour", 15, "Local hour notifications fire")
	f.Int("notify-minute", 0, "Local minute notifications fire")
	f.StringP("lang", "l", "en", "Fallback language for notification and API text")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("REMINISCE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("reminisce")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/reminisce")
	v.AddConfigPath("/etc/reminisce")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// newCoordinator builds the recall engine from configuration. sched may be
// nil for one-shot commands, in which case nothing is resubmitted.
func newCoordinator(ctx context.Context, v *viper.Viper, db *store.Store, sched *tasks.Scheduler, m *metrics.Metrics) (*recall.Coordinator, error) {
	photosDir := v.GetString("photos-dir")
	if photosDir == "" {
		return nil, errors.New("photos directory is required: set --photos-dir or REMINISCE_PHOTOS_DIR")
	}

	images, err := store.NewImageDir(v.GetString("images-dir"))
	if err != nil {
		return nil, fmt.Errorf("open images dir: %w", err)
	}

	llmClient := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
	if err := llmClient.Ping(ctx); err != nil {
		// Cycles fail and retry on the next run until the endpoint recovers.
		slog.Warn("LLM health check failed", "url", v.GetString("llm-url"), "error", err)
	} else {
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}

	var uploader recall.Uploader
	up, err := upload.New(upload.Config{
		Backend:          v.GetString("upload-backend"),
		CloudinaryCloud:  v.GetString("cloudinary-cloud"),
		CloudinaryPreset: v.GetString("cloudinary-preset"),
		CloudinaryURL:    v.GetString("cloudinary-url"),
		COSBucket:        v.GetString("cos-bucket"),
		COSRegion:        v.GetString("cos-region"),
		COSSecretID:      v.GetString("cos-secret-id"),
		COSSecretKey:     v.GetString("cos-secret-key"),
		COSPublicDomain:  v.GetString("cos-public-domain"),
	})
	switch {
	case errors.Is(err, upload.ErrNotConfigured):
		slog.Warn("image upload not configured, consented cycles will fail")
	case err != nil:
		return nil, fmt.Errorf("create uploader: %w", err)
	default:
		uploader = up
	}

	d := recall.Deps{
		Assets:    photos.NewLibrary(photosDir),
		Store:     db,
		Uploader:  uploader,
		Generator: llmClient,
		Images:    images,
		Center:    notify.NewCenter(db),
		Metrics:   m,
	}
	if sched != nil {
		d.Tasks = sched
	}
	return recall.New(d, recall.Options{
		CallTimeout:     v.GetDuration("call-timeout"),
		NotifyHour:      v.GetInt("notify-hour"),
		NotifyMinute:    v.GetInt("notify-minute"),
		CycleInterval:   v.GetDuration("cycle-interval"),
		RefreshInterval: v.GetDuration("refresh-interval"),
	}), nil
}

func runRun(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	m := metrics.NewMetrics()
	pollInterval := v.GetDuration("poll-interval")
	sched := tasks.New(db, pollInterval, v.GetDuration("task-budget"), m)

	coord, err := newCoordinator(ctx, v, db, sched, m)
	if err != nil {
		return err
	}
	if err := sched.Register(recall.CycleTaskID, coord.Handle); err != nil {
		return fmt.Errorf("register cycle task: %w", err)
	}
	if err := sched.Register(recall.RefreshTaskID, coord.HandleRefresh); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	if err := coord.SubmitInitial(ctx); err != nil {
		return fmt.Errorf("submit initial tasks: %w", err)
	}

	sinks := []notify.Sink{notify.LogSink{Logger: slog.Default()}}
	if url := v.GetString("nats-url"); url != "" {
		ns, err := notify.NewNATSSink(url, v.GetString("nats-subject"))
		if err != nil {
			return fmt.Errorf("connect NATS: %w", err)
		}
		defer ns.Close()
		sinks = append(sinks, ns)
	}
	dispatcher := notify.NewDispatcher(db, pollInterval, m, sinks...)

	h, err := handler.New(db, coord)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}

	slog.Info("starting recall engine",
		"addr", addr,
		"photos_dir", v.GetString("photos-dir"),
		"model", v.GetString("llm-model"),
		"cycle_interval", v.GetDuration("cycle-interval"),
		"refresh_interval", v.GetDuration("refresh-interval"),
		"nats", v.GetString("nats-url") != "",
		"lang", lang,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(sched.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(dispatcher.Run(gctx)) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("recall engine stopped")
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runCycle(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	coord, err := newCoordinator(ctx, v, db, nil, metrics.NewMetrics())
	if err != nil {
		return err
	}
	ex, err := coord.RunCycle(ctx)
	if errors.Is(err, recall.ErrNoPhotosFound) {
		slog.Info("no photos found in any lookback window")
		return nil
	}
	if ex != nil {
		slog.Info("exercise created",
			"exercise_id", ex.ID,
			"window", ex.Window.String(),
			"problem_type", ex.ProblemType,
			"remote", ex.Image.RemoteURL != "",
		)
	}
	if err != nil {
		return fmt.Errorf("generation cycle: %w", err)
	}
	return nil
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	coord := recall.New(recall.Deps{
		Store:   db,
		Center:  notify.NewCenter(db),
		Metrics: metrics.NewMetrics(),
	}, recall.Options{
		NotifyHour:   v.GetInt("notify-hour"),
		NotifyMinute: v.GetInt("notify-minute"),
	})
	n, err := coord.Reconcile(ctx)
	slog.Info("reconciliation finished", "scheduled", n)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	return nil
}

func runProfile(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var types []model.ProblemType
	for _, s := range v.GetStringSlice("problem-types") {
		pt, err := model.ParseProblemType(s)
		if err != nil {
			return err
		}
		types = append(types, pt)
	}

	st := model.Settings{
		ParticipantID:  strings.TrimSpace(v.GetString("participant")),
		Language:       model.Language(strings.ToLower(v.GetString("language"))),
		NativeLanguage: model.Language(strings.ToLower(v.GetString("native-language"))),
	}
	for _, l := range []model.Language{st.Language, st.NativeLanguage} {
		if l != "" && !l.Valid() {
			return fmt.Errorf("unsupported language %q", l)
		}
	}
	if err := db.SetSettings(st); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	current, err := db.GetSettings()
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	profile := model.UserProfile{
		ParticipantID:         current.ParticipantID,
		ConsentGiven:          v.GetBool("consent"),
		PreferredProblemTypes: types,
	}
	if err := db.UpsertProfile(profile); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	slog.Info("profile updated",
		"participant_id", profile.ParticipantID,
		"consent", profile.ConsentGiven,
		"problem_types", profile.ProblemTypes(),
		"language", current.Language,
		"native_language", current.NativeLanguage,
	)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportExercises(v.GetString("participant"))
	if err != nil {
		return fmt.Errorf("export exercises: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ingestdesk/internal/apiclient"
	"ingestdesk/internal/config"
	fileutil "ingestdesk/internal/file"
	"ingestdesk/internal/render"
	"ingestdesk/internal/report"
	"ingestdesk/internal/state"
	"ingestdesk/internal/tasksync"
	"ingestdesk/internal/transport"
	"ingestdesk/internal/ui"
	"ingestdesk/internal/upload"
	"ingestdesk/internal/view"
)

type app struct {
	store    *state.Store
	storage  state.Storage
	channel  *transport.Channel
	tracker  *tasksync.Tracker
	coord    *upload.Coordinator
	desk     *ui.UI
	recorder *view.Recorder
}

func main() {

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := flag.String("config", "config.yml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)

	for _, dir := range []string{cfg.DownloadsDir, cfg.ReportsDir} {
		if err := fileutil.EnsureDir(dir); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("ensure dir")
		}
	}

	a, err := buildApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build app")
	}

	router := setupRouter()
	a.desk.RegisterRoutes(router)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	a.tracker.SetBaseContext(baseCtx)
	a.coord.SetBaseContext(baseCtx)
	a.desk.SetBaseContext(baseCtx)
	a.channel.Start(baseCtx)
	a.recorder.FilesUpdated(a.store.UploadedFiles())

	uploadArgs(a.coord, flag.Args())

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := newHTTPServer(cfg.UIPort, router, readHeaderTimeout)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("server", cfg.ServerURL).Msg("desk listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, a, shutdownTimeout)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(ui.ZerologLogger())
	return r
}

func openStorage(cfg config.Config) (state.Storage, error) {
	if cfg.State.Backend == "bolt" {
		if err := fileutil.EnsureDir(filepath.Dir(cfg.State.Path)); err != nil {
			return nil, err //nolint:wrapcheck
		}
		bolt, err := state.OpenBoltStorage(cfg.State.Path)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		return bolt, nil
	}
	if err := fileutil.EnsureDir(cfg.State.Path); err != nil {
		return nil, err //nolint:wrapcheck
	}
	return state.NewFileStorage(cfg.State.Path), nil
}

func buildApp(cfg config.Config) (*app, error) {
	storage, err := openStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("open state storage: %w", err)
	}
	client, err := apiclient.New(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}

	renderOpts := render.Options{CorrelationThreshold: cfg.Render.CorrelationThreshold}
	a := &app{
		store:    state.NewStore(storage),
		storage:  storage,
		recorder: view.NewRecorder(),
		channel: transport.NewChannel(transport.Options{
			URL:               cfg.WebSocketURL(),
			ReconnectAttempts: cfg.Channel.ReconnectAttempts,
			ReconnectDelay:    cfg.Channel.ReconnectDelay,
			ReconnectDelayMax: cfg.Channel.ReconnectDelayMax,
			Timeout:           cfg.Channel.Timeout,
		}),
	}
	views := view.Multi{view.NewConsole(os.Stdout, renderOpts), a.recorder}

	a.tracker = tasksync.NewTracker(a.store, a.channel, views, tasksync.Options{
		Downloader:   client,
		DownloadsDir: cfg.DownloadsDir,
		Reports:      report.NewWriter(cfg.ReportsDir, renderOpts),
	})
	a.tracker.Register()

	a.coord = upload.NewCoordinator(client, a.channel, a.store, views, upload.Options{
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		MaxFileSize:       cfg.MaxFileSize(),
		ProcessDelay:      cfg.Upload.ProcessDelay,
	})
	a.desk = ui.NewUI(a.coord, client, a.store, a.recorder, ui.Options{Render: renderOpts, ReportsDir: cfg.ReportsDir})
	a.coord.SetReinit(a.desk.Reset)
	return a, nil
}

// uploadArgs queues files named on the command line as one upload.
func uploadArgs(coord *upload.Coordinator, paths []string) {
	if len(paths) == 0 {
		return
	}
	files := make([]upload.File, 0, len(paths))
	for _, p := range paths {
		f, err := upload.FileFromPath(p)
		if err != nil {
			log.Error().Err(err).Str("path", p).Msg("skipping file")
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return
	}
	if err := coord.UploadFiles(files); err != nil {
		log.Error().Err(err).Msg("startup upload rejected")
	}
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, a *app, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	a.channel.Close()
	if !a.coord.Wait(ctx) || !a.tracker.Wait(ctx) || !a.desk.Wait(ctx) {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	a.store.Close()
	if closer, ok := a.storage.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("closing state storage failed")
		}
	}
	log.Info().Msg("desk exited cleanly")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aktnk/camerad/internal/config"
	"github.com/aktnk/camerad/internal/encoder"
	"github.com/aktnk/camerad/internal/events"
	camerashandler "github.com/aktnk/camerad/internal/http-server/handlers/cameras"
	controlhandler "github.com/aktnk/camerad/internal/http-server/handlers/control"
	encodershandler "github.com/aktnk/camerad/internal/http-server/handlers/encoders"
	mediahandler "github.com/aktnk/camerad/internal/http-server/handlers/media"
	recordingshandler "github.com/aktnk/camerad/internal/http-server/handlers/recordings"
	scheduleshandler "github.com/aktnk/camerad/internal/http-server/handlers/schedules"
	streamshandler "github.com/aktnk/camerad/internal/http-server/handlers/streams"
	systemhandler "github.com/aktnk/camerad/internal/http-server/handlers/system"
	"github.com/aktnk/camerad/internal/http-server/middleware/logger"
	"github.com/aktnk/camerad/internal/lib/sl"
	"github.com/aktnk/camerad/internal/onvif"
	"github.com/aktnk/camerad/internal/runner"
	"github.com/aktnk/camerad/internal/services/cameras"
	"github.com/aktnk/camerad/internal/services/control"
	"github.com/aktnk/camerad/internal/services/recordings"
	"github.com/aktnk/camerad/internal/services/schedules"
	"github.com/aktnk/camerad/internal/services/streams"
	"github.com/aktnk/camerad/internal/source"
	"github.com/aktnk/camerad/internal/storage/sqlite"
	camerastorage "github.com/aktnk/camerad/internal/storage/sqlite/cameras"
	encoderstorage "github.com/aktnk/camerad/internal/storage/sqlite/encoders"
	recordingstorage "github.com/aktnk/camerad/internal/storage/sqlite/recordings"
	schedulestorage "github.com/aktnk/camerad/internal/storage/sqlite/schedules"
	"github.com/aktnk/camerad/internal/uvc"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// mediaLive is the camera-in-use gate for the camera store: a camera row
// cannot be deleted while the live supervisor or the recording manager
// still holds it. Filled in after both services exist.
type mediaLive struct {
	streams  *streams.Supervisor
	recorder *recordings.Manager
}

func (l *mediaLive) InUse(cameraID int) bool {
	if l.streams != nil && l.streams.InUse(cameraID) {
		return true
	}
	if l.recorder != nil && l.recorder.InUse(cameraID) {
		return true
	}

	return false
}

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("starting camerad", slog.String("env", cfg.Env), slog.String("data_dir", cfg.DataDir))

	db, err := sqlite.New(cfg.DBPath())
	if err != nil {
		panic(err)
	}
	defer db.Close()

	live := &mediaLive{}

	cameraStorage := camerastorage.New(db, live)
	recordingStorage := recordingstorage.New(db)
	scheduleStorage := schedulestorage.New(db)
	encoderStorage := encoderstorage.New(db)

	onvifClient := onvif.New(log)
	discoverer := onvif.NewDiscoverer(log)
	uvcProber := uvc.New(log)

	detector := encoder.NewDetector(log)
	selector := encoder.NewSelector(log, detector, encoderStorage)

	launcher := runner.NewLauncher(log)
	hub := events.NewHub(log)
	resolver := source.New(log, onvifClient)

	streamService := streams.New(log, cfg, cameraStorage, resolver, selector, launcher, hub)
	recordingService := recordings.New(log, cfg, cameraStorage, resolver, selector, launcher, recordingStorage, hub, streamService)
	streamService.SetDeviceBusyCheck(recordingService.InUse)

	live.streams = streamService
	live.recorder = recordingService

	scheduleEngine, err := schedules.New(log, scheduleStorage, recordingService)
	if err != nil {
		panic(err)
	}

	cameraService := cameras.New(log, cameraStorage, streamService, recordingService, scheduleEngine, discoverer, uvcProber)
	controlService := control.New(log, cameraStorage, onvifClient, streamService)

	if err := streamService.WipeHLS(); err != nil {
		panic(err)
	}
	if err := os.MkdirAll(cfg.RecordingsDir(), 0o755); err != nil {
		panic(err)
	}
	if err := os.MkdirAll(cfg.ThumbnailsDir(), 0o755); err != nil {
		panic(err)
	}

	if err := scheduleEngine.Start(); err != nil {
		panic(err)
	}

	cameraHandler := camerashandler.New(log, cameraService)
	streamHandler := streamshandler.New(log, streamService)
	recordingHandler := recordingshandler.New(log, recordingService)
	scheduleHandler := scheduleshandler.New(log, scheduleEngine)
	controlHandler := controlhandler.New(log, controlService)
	encoderHandler := encodershandler.New(log, encoderStorage, selector)
	mediaHandler := mediahandler.New(log)
	systemHandler := systemhandler.New(log, cfg.HTTP.Port)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(logger.New(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/cameras", func(r chi.Router) {
			r.Post("/", cameraHandler.Add)
			r.Get("/", cameraHandler.List)
			r.Post("/discover", cameraHandler.Discover)
			r.Get("/uvc", cameraHandler.ProbeUVC)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cameraHandler.Get)
				r.Delete("/", cameraHandler.Delete)

				r.Post("/stream/start", streamHandler.Start)
				r.Post("/stream/stop", streamHandler.Stop)

				r.Post("/recording/start", recordingHandler.Start)
				r.Post("/recording/stop", recordingHandler.Stop)

				r.Get("/ptz", controlHandler.Capabilities)
				r.Post("/ptz/move", controlHandler.Move)
				r.Post("/ptz/stop", controlHandler.StopMove)

				r.Get("/time", controlHandler.Time)
				r.Post("/time/sync", controlHandler.SyncTime)
			})
		})

		r.Route("/streams", func(r chi.Router) {
			r.Get("/", streamHandler.List)
			r.Get("/{id}", streamHandler.Get)
		})

		r.Route("/recordings", func(r chi.Router) {
			r.Get("/", recordingHandler.List)
			r.Get("/jobs", recordingHandler.Jobs)
			r.Get("/{id}", recordingHandler.Get)
			r.Delete("/{id}", recordingHandler.Delete)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", scheduleHandler.Create)
			r.Get("/", scheduleHandler.List)
			r.Get("/{id}", scheduleHandler.Get)
			r.Patch("/{id}", scheduleHandler.Update)
			r.Delete("/{id}", scheduleHandler.Delete)
		})

		r.Route("/encoder", func(r chi.Router) {
			r.Get("/settings", encoderHandler.Get)
			r.Patch("/settings", encoderHandler.Update)
			r.Get("/gpu", encoderHandler.Capabilities)
			r.Post("/detect", encoderHandler.Detect)
		})

		r.Get("/server-info", systemHandler.ServerInfo)
		r.Get("/events", hub.ServeHTTP)
	})

	router.Get("/hls/*", mediaHandler.ServeDir(cfg.HLSDir()))
	router.Get("/recordings/*", mediaHandler.ServeDir(cfg.RecordingsDir()))
	router.Get("/thumbnails/*", mediaHandler.ServeDir(cfg.ThumbnailsDir()))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("http server listening", slog.String("addr", srv.Addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", sl.Err(err))
	}

	scheduleEngine.Stop()
	recordingService.StopAll()
	streamService.StopAll()
	hub.Close()

	log.Info("stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

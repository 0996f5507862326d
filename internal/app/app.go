package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"camviewer/internal/config"
	"camviewer/internal/directory"
	"camviewer/internal/logger"
	"camviewer/internal/repository/sqlite"
	"camviewer/internal/route"
	"camviewer/internal/service"
	"camviewer/internal/service/ai"
	"camviewer/internal/service/events"
	"camviewer/internal/service/storage"
	"camviewer/internal/service/websocket"
	"camviewer/internal/stream"

	"github.com/mattn/go-mjpeg"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config        *config.Config
	logger        *logger.Logger
	db            *sqlite.DB
	detector      *ai.DetectorService
	bufferService *storage.BufferService
	hubService    *websocket.HubService
	mqttEmitter   *events.MQTTEmitter
	mjpegStream   *mjpeg.Stream
	manager       *service.Manager
	server        *http.Server
}

func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Info("Database initialized at %s", cfg.DatabasePath)

	imageRepo := sqlite.NewImageRepository(db)
	cameraRepo := sqlite.NewCameraRepository(db)

	detector := ai.NewDetectorService(cfg, log)
	buffer := storage.NewBufferService(cfg, log, imageRepo)
	hub := websocket.NewHubService(log)
	mjpegStream := mjpeg.NewStream()

	var emitter events.Emitter = events.NopEmitter{}
	var mqttEmitter *events.MQTTEmitter
	if cfg.MQTTBroker != "" {
		mqttEmitter = events.NewMQTTEmitter(cfg, log)
		emitter = mqttEmitter
	}

	controller := stream.NewController(stream.Config{
		Host:           cfg.CameraHost,
		Login:          cfg.CameraLogin,
		ChunkSize:      cfg.ChunkSize,
		BufferCapacity: cfg.BufferCapacity,
		ConnectTimeout: cfg.ConnectTimeout,
		StopTimeout:    cfg.StopTimeout,
	}, stream.NewHTTPOpener(cfg.ConnectTimeout), stream.JPEGDecoder{})

	mng := service.NewManager(cfg, log, service.Dependencies{
		Controller: controller,
		Directory:  directory.NewClient(cfg.CameraHost, cfg.CameraLogin, cfg.ConnectTimeout),
		Cameras:    cameraRepo,
		Detector:   detector,
		Snapshots:  buffer,
		Hub:        hub,
		MJPEG:      mjpegStream,
		Emitter:    emitter,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: route.SetupRoutes(mng, cfg, log, imageRepo),
	}
	// Streaming responses never finish on their own; end them when the server shuts down.
	server.RegisterOnShutdown(func() { mjpegStream.Close() })

	return &App{
		config:        cfg,
		logger:        log,
		db:            db,
		detector:      detector,
		bufferService: buffer,
		hubService:    hub,
		mqttEmitter:   mqttEmitter,
		mjpegStream:   mjpegStream,
		manager:       mng,
		server:        server,
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts everything down in order.
func (a *App) Run(ctx context.Context) error {
	serviceCtx, cancelServices := context.WithCancel(context.Background())
	defer cancelServices()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.bufferService.Run(serviceCtx)
	}()
	go func() {
		defer wg.Done()
		a.hubService.Run(serviceCtx)
	}()

	if a.mqttEmitter != nil {
		if err := a.mqttEmitter.Connect(ctx); err != nil {
			a.logger.Warning("MQTT broker not reachable yet, retrying in background: %v", err)
		}
	}

	go func() {
		if _, err := a.manager.LoadCameras(serviceCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("Error loading cameras: %v", err)
		}
	}()

	a.logger.Info("Camera viewer listening on http://localhost:%d", a.config.Port)
	a.logger.Info("Camera server: %s (login %s)", a.config.CameraHost, a.config.CameraLogin)
	a.logger.Info("Snapshots: %s", a.config.ImageDirectory)

	serveErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http server failed: %w", err)
	}

	a.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Failed to shut down HTTP server: %v", err)
	}

	a.manager.Shutdown()
	cancelServices()
	wg.Wait()

	a.detector.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Error("Failed to close database: %v", err)
	}
	a.logger.Info("Shutdown complete")
	return runErr
}

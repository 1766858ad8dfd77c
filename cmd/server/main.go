package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guestgreet/config"
	"guestgreet/internal/api"
	"guestgreet/internal/api/handlers"
	"guestgreet/internal/cleanup"
	"guestgreet/internal/core/enrollment"
	"guestgreet/internal/core/processor"
	"guestgreet/internal/core/recognition"
	"guestgreet/internal/db"
	"guestgreet/internal/db/repository"
	"guestgreet/internal/greeting"
	"guestgreet/internal/integrations/faceservice"
	"guestgreet/internal/integrations/mqtt"
	"guestgreet/internal/logger"
	"guestgreet/internal/server/sse"

	log "github.com/sirupsen/logrus"
)

const defaultConfigPath = "/config/config.yaml"

func main() {
	configPath := os.Getenv("GUESTGREET_CONFIG_FILE")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logFile, err := logger.Init(cfg.Log)
	if err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}
	defer logFile.Close()

	mainLog := logger.Component("main")

	gdb, err := db.Open(cfg.DB)
	if err != nil {
		mainLog.Fatalf("Failed to initialize database: %v", err)
	}
	repo := repository.NewGormRepository(gdb)

	faceClient := faceservice.NewClient(cfg.FaceService)
	if !faceClient.HealthCheck(context.Background()) {
		// Der Dienst darf später verfügbar werden, Anfragen liefern bis dahin 503
		mainLog.Warnf("Face service at %s is not healthy yet", cfg.FaceService.URL)
	}

	greeter, err := greeting.New(cfg.Recognition.GreetingLanguage)
	if err != nil {
		mainLog.Fatalf("Failed to initialize greetings: %v", err)
	}

	hub := sse.NewHub()
	go hub.Run()

	orchestrator := recognition.NewOrchestrator(recognition.OptionsFromConfig(cfg.Recognition), recognition.Dependencies{
		Candidates: recognition.NewCandidatePool(repo),
		Matcher:    faceClient,
		Cooldown:   recognition.NewCooldownTracker(repo),
		Log:        recognition.NewRecognitionLog(repo),
		Identities: repo,
		Greeter:    greeter,
		Notifiers:  []recognition.Notifier{hub},
	})

	var mqttClient *mqtt.Client
	var greetingPublisher *mqtt.GreetingPublisher
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewClient(cfg.MQTT)
		mqttClient.RegisterHandler(mqtt.NewEmbeddingHandler(orchestrator, cfg.FaceService.Timeout()*2))
		greetingPublisher = mqtt.NewGreetingPublisher(mqttClient, cfg.MQTT.TopicPrefix)
		orchestrator.AddNotifier(greetingPublisher)

		if err := mqttClient.Start(); err != nil {
			// Auto-Reconnect greift erst nach einer erfolgreichen Verbindung
			mainLog.Warnf("MQTT unavailable, continuing without it: %v", err)
		}
	} else {
		mainLog.Info("MQTT is disabled in config")
	}

	framePool := processor.NewFramePool(orchestrator, cfg.Recognition.FrameWorkers)

	cleanupService := cleanup.NewService(gdb, cfg.Cleanup)
	cleanupService.StartBackgroundCleanup()

	router := api.SetupRouter(api.RouterConfig{
		Server:         cfg.Server,
		MetricsEnabled: cfg.Metrics.Enabled,
		Recognition:    handlers.NewRecognitionHandler(orchestrator, framePool, hub),
		Customers:      handlers.NewCustomerHandler(enrollment.NewService(repo, faceClient, cfg.Server)),
		System:         handlers.NewSystemHandler(framePool, faceClient),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		mainLog.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLog.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	mainLog.Infof("Received %s, shutting down...", sig)

	// SSE-Verbindungen zuerst schließen, sonst wartet Shutdown auf offene Streams
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		mainLog.Errorf("HTTP server shutdown failed: %v", err)
	}

	framePool.Shutdown()
	cleanupService.StopBackgroundCleanup()
	if mqttClient != nil {
		greetingPublisher.Close()
		mqttClient.Stop()
	}
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.Close()
	}

	mainLog.Info("Server stopped")
}

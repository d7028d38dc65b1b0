package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"fleet-monitor/fuel-analytics/internal/auth"
	"fleet-monitor/fuel-analytics/internal/config"
	"fleet-monitor/fuel-analytics/internal/domain"
	"fleet-monitor/fuel-analytics/internal/fuel"
	"fleet-monitor/fuel-analytics/internal/pipeline"
	"fleet-monitor/fuel-analytics/internal/sink"
	"fleet-monitor/fuel-analytics/internal/store"
	transporthttp "fleet-monitor/fuel-analytics/internal/transport/http"
	transportmqtt "fleet-monitor/fuel-analytics/internal/transport/mqtt"
	"fleet-monitor/fuel-analytics/internal/transport/ws"
)

func main() {
	godotenv.Load()

	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewTimescaleStore(ctx, cfg)
	if err != nil {
		log.Error("timescaledb connect failed", "error", err)
		os.Exit(1)
	}
	rdb, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	log.Info("stores connected", "db", cfg.DBHost+":"+cfg.DBPort, "redis", cfg.RedisAddr)

	// Activity fan-out: Timescale history, Redis pub/sub, dashboards and,
	// when configured, a Kafka topic for downstream consumers.
	hub := ws.NewHub(log)
	queue := sink.NewQueue(cfg.ActivityQueueSize)
	targets := []sink.Target{
		sink.NewTimescaleTarget(db),
		sink.NewRedisTarget(rdb, log),
		sink.NewHubTarget(hub),
	}
	var kafkaTarget *sink.KafkaTarget
	if len(cfg.KafkaBrokers) > 0 {
		kafkaTarget = sink.NewKafkaTarget(cfg.KafkaBrokers, cfg.KafkaTopic)
		targets = append(targets, kafkaTarget)
		log.Info("kafka activity export enabled",
			"brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	fanout := sink.NewFanout(queue, log, targets...)

	engine := fuel.NewEngine(rdb, rdb, queue, fuel.Params{
		WindowCap:        cfg.WindowCap(),
		SmoothingTarget:  cfg.MinValuesForAverage,
		DetectionTarget:  cfg.MaxValuesForAlerts,
		LookAround:       time.Duration(cfg.LookAroundSeconds) * time.Second,
		LookBack:         time.Duration(cfg.LookBackSeconds) * time.Second,
		DigitalThreshold: cfg.DigitalThresholdLitres,
		AnalogThreshold:  cfg.AnalogThresholdLitres,
		ErrorThreshold:   cfg.FuelErrorThreshold,
	})

	// Rebuild detection windows from stored history before accepting
	// traffic; a restart must not blind the detector.
	warm := pipeline.NewWarmStart(db, engine, cfg.WarmStartWindow(), log)
	if err := warm.Run(ctx); err != nil {
		log.Warn("warm start failed, starting cold", "error", err)
	}

	dispatcher := pipeline.NewDispatcher(cfg.ProcessorWorkers, cfg.IngestQueueSize)
	dbChan := make(chan *domain.Reading, cfg.DBChannelSize)
	stateChan := make(chan *domain.Reading, cfg.DBChannelSize)

	processor := pipeline.NewProcessor(dispatcher, engine, dbChan, stateChan, log)
	dbWriter := pipeline.NewDBWriter(dbChan, db, cfg.DBBatchSize, cfg.DBFlushIntervalMS, log)
	stateWriter := pipeline.NewStateWriter(stateChan, rdb, log)

	// Workers run on the background context: shutdown is close-driven so
	// everything already queued drains instead of being abandoned.
	var workers sync.WaitGroup
	procDone := make(chan struct{})
	workers.Add(1)
	go func() {
		defer workers.Done()
		processor.Run(context.Background())
		close(dbChan)
		close(stateChan)
		close(procDone)
	}()
	workers.Add(1)
	go func() { defer workers.Done(); dbWriter.Run(context.Background()) }()
	workers.Add(1)
	go func() { defer workers.Done(); stateWriter.Run(context.Background()) }()
	workers.Add(1)
	go func() { defer workers.Done(); fanout.Run(context.Background()) }()

	authenticator := auth.NewAuthenticator(cfg, rdb)
	handler := transporthttp.NewHandler(dispatcher, log)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.Routes(transporthttp.NewAuthMiddleware(authenticator), hub),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("http server listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
			stop()
		}
	}()

	var consumer *transportmqtt.Consumer
	if cfg.MQTTBrokerAddr != "" {
		consumer, err = transportmqtt.NewConsumer(ctx,
			cfg.MQTTBrokerAddr, cfg.MQTTTopic, cfg.MQTTClientID, dispatcher, log)
		if err != nil {
			log.Error("mqtt consumer setup failed", "error", err)
			os.Exit(1)
		}
		awaitCtx, cancelAwait := context.WithTimeout(ctx, 10*time.Second)
		if err := consumer.AwaitConnection(awaitCtx); err != nil {
			log.Warn("mqtt broker not reachable yet, retrying in background", "error", err)
		}
		cancelAwait()
		log.Info("mqtt ingest enabled", "broker", cfg.MQTTBrokerAddr, "topic", cfg.MQTTTopic)
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Intake stops first, then the pipeline drains stage by stage: closing
	// the dispatcher lets the processor finish every queued reading, which
	// closes the writer channels, and only then does the activity queue
	// close so the fanout delivers what detection produced on the way down.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	if consumer != nil {
		if err := consumer.Close(shutdownCtx); err != nil {
			log.Warn("mqtt disconnect failed", "error", err)
		}
	}

	dispatcher.Close()
	<-procDone
	queue.Close()
	workers.Wait()

	hub.Close()
	if kafkaTarget != nil {
		if err := kafkaTarget.Close(); err != nil {
			log.Warn("kafka writer close failed", "error", err)
		}
	}
	db.Close()
	rdb.Close()
	log.Info("shutdown complete")
}

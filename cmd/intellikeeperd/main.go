package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"intellikeeper/config"
	"intellikeeper/devicecmd"
	"intellikeeper/engine"
	"intellikeeper/messaging"
	"intellikeeper/metrics"
	"intellikeeper/store"
	"intellikeeper/tagstate"
	"intellikeeper/trigger"
	"intellikeeper/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "intellikeeper.yaml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Println("intellikeeperd", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("intellikeeperd: database open (%s)", cfg.Database.Driver)

	m := metrics.New()

	// Redis presence mirror
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	var cache tagstate.Cache
	redisStore := tagstate.NewRedisStore(redisClient, cfg.Redis.KeyPrefix)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisStore.Ping(pingCtx); err != nil {
		log.Printf("intellikeeperd: redis not available (%v), running without presence mirror", err)
	} else {
		cache = redisStore
		log.Printf("intellikeeperd: redis connected (%s)", cfg.Redis.Address)
	}
	pingCancel()

	// Alarm senders
	engCfg := engine.Config{
		AppConfig: cfg,
		DB:        db,
		Metrics:   m,
		Cache:     cache,
	}
	if sms := trigger.NewTwilioSMS(cfg.Alarms.SMS); sms != nil {
		engCfg.SMS = sms
	} else {
		log.Printf("intellikeeperd: sms alarms disabled")
	}
	if mailer := trigger.NewSMTPMailer(cfg.Alarms.Email); mailer != nil {
		engCfg.Mailer = mailer
	} else {
		log.Printf("intellikeeperd: email alarms disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Engine
	eng := engine.New(engCfg)
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("start engine: %v", err)
	}
	defer eng.Stop()

	// Device command delivery
	publisher := devicecmd.NewMQTTPublisher(cfg.MQTT)
	go func() {
		if err := publisher.Connect(); err != nil {
			if errors.Is(err, devicecmd.ErrPublisherClosed) {
				return
			}
			log.Printf("intellikeeperd: mqtt connect failed (%v)", err)
			return
		}
		log.Printf("intellikeeperd: mqtt connected (%s:%d)", cfg.MQTT.Broker, cfg.MQTT.Port)
	}()
	defer publisher.Close()

	drainer := messaging.NewOutboxDrainer(db, publisher, cfg.Outbox.DrainInterval, cfg.Outbox.BatchSize, cfg.Outbox.MaxRetries, m)
	drainer.Start()
	defer drainer.Stop()

	// Listeners run independently; one failing leaves the others running.
	var g errgroup.Group
	mc := &cfg.Messaging
	listeners := []*messaging.Listener{
		messaging.NewListener(mc.PropsTopic, messaging.NewPartitionReader(mc, mc.PropsTopic), messaging.PropsHandler(eng), mc.MessageTimeout, m, nil),
		messaging.NewListener(mc.ConfigSyncTopic, messaging.NewPartitionReader(mc, mc.ConfigSyncTopic), messaging.ConfigSyncHandler(eng), mc.MessageTimeout, m, nil),
		messaging.NewListener(mc.SensorTopic, messaging.NewPartitionReader(mc, mc.SensorTopic), messaging.SensorHandler(eng), mc.MessageTimeout, m, nil),
	}
	for _, l := range listeners {
		g.Go(func() error {
			err := l.Run(ctx)
			if err != nil {
				log.Printf("intellikeeperd: %v", err)
			}
			return err
		})
	}

	// Web server
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: www.NewRouter(eng),
	}
	g.Go(func() error {
		log.Printf("intellikeeperd: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("intellikeeperd: web server: %v", err)
			return err
		}
		return nil
	})

	log.Printf("intellikeeperd: ready")
	<-ctx.Done()
	log.Printf("intellikeeperd: shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("intellikeeperd: web shutdown: %v", err)
	}
	if err := g.Wait(); err != nil {
		log.Printf("intellikeeperd: stopped with error: %v", err)
	}
	log.Printf("intellikeeperd: stopped")
}

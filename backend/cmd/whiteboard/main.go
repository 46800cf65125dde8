package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"whiteboard/backend/config"
	"whiteboard/backend/internal/auth"
	"whiteboard/backend/internal/cache"
	"whiteboard/backend/internal/collab"
	"whiteboard/backend/internal/httpapi"
	"whiteboard/backend/internal/store"
	"whiteboard/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: store=%s auth=%s fanout=%s redis=%v kafka=%v",
		cfg.Store.Driver, cfg.Auth.Mode, cfg.Fanout.Mode, cfg.Redis.Addrs, cfg.Kafka.Brokers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		log.Fatalf("open store failed: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	events := store.NewEventStore(db)

	rooms := store.NewRoomStore(db)

	// === Redis：可选，负责在线状态、房间缓存和跨进程广播 ===
	var rdb redis.UniversalClient
	var presence cache.PresenceCache
	var roomCache *cache.RoomCache
	if len(cfg.Redis.Addrs) > 0 {
		// 一个地址是单机，多个地址是集群
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("ping redis failed: %v", err)
		}
		defer rdb.Close()
		presence = cache.NewRedisPresence(rdb)
		roomCache = cache.NewRoomCache(rdb, rooms.Exists)
	}

	// === Kafka：可选，图形事件流 ===
	var dispatcher *collab.KafkaDispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()

		dispatcher = collab.NewKafkaDispatcher(
			producer,
			cfg.Kafka.Topic,
			collab.NewSemaphoreControl(collab.DefaultSemaphore),
			collab.KafkaDispatcherOptions{
				QueueSize:   10_000,
				Workers:     4,
				MaxRetry:    3,
				BaseBackoff: 50 * time.Millisecond,
				MaxBackoff:  1 * time.Second,
			},
		)
		defer dispatcher.Close()
	}

	svc := collab.NewLogService(events, dispatcher, cfg.Realtime.HistoryLimit)
	if roomCache != nil {
		svc.SetRoomChecker(roomCache)
	}

	secret := auth.Secret(cfg.Auth.Secret)
	var verifier auth.Verifier
	switch cfg.Auth.Mode {
	case "remote":
		verifier = auth.NewRemoteVerifier(cfg.Auth.Path)
	default:
		verifier = auth.NewLocalVerifier(secret)
	}

	hub := ws.NewHub()
	local := ws.NewLocalFanout(hub)
	var pub ws.Publisher = local
	if cfg.Fanout.Mode == "redis" {
		if rdb == nil {
			log.Fatalf("fanout.mode=redis needs redis.addrs")
		}
		rf := ws.NewRedisFanout(rdb, cfg.Fanout.Channel, local)
		ready := make(chan struct{})
		go func() {
			if err := rf.Run(ctx, ready); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("redis fanout stopped: %v", err)
			}
		}()
		select {
		case <-ready:
		case <-time.After(5 * time.Second):
			log.Fatalf("redis fanout subscribe timeout")
		}
		pub = rf
	}

	manager := ws.NewManager(hub, svc, pub, verifier, presence, ws.Options{
		SendQueue:                      cfg.Realtime.SendQueue,
		SuppressBroadcastOnAppendError: cfg.Realtime.SuppressBroadcastOnAppendError,
		PresenceTTL:                    cfg.Realtime.PresenceTTL,
	})

	r := httpapi.NewRouter(httpapi.Deps{
		Users:     store.NewUserStore(db),
		Rooms:     rooms,
		RoomCache: roomCache,
		Service:   svc,
		Presence:  presence,
		Verifier:  verifier,
		WS:        manager,
		Secret:    secret,
		AccessTTL: cfg.Auth.AccessTTL,
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Running.Port), Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("whiteboard listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("listen: %v", err)
	}
}

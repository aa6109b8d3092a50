package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"pieceTableServer/backend/config"
	"pieceTableServer/backend/internal/cache"
	"pieceTableServer/backend/internal/collab"
	"pieceTableServer/backend/internal/httpapi"
	"pieceTableServer/backend/internal/httpapi/handlers"
	"pieceTableServer/backend/internal/store"
	"pieceTableServer/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: port=%d storage=%s kafka=%v auth=%v", cfg.Running.Port, cfg.Storage.Driver, cfg.Kafka.Brokers, cfg.Auth.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Storage.Driver == "redis" || cfg.Redis.Presence {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("ping redis failed: %v", err)
		}
		defer rdb.Close()
	}

	var backend store.Backend
	switch cfg.Storage.Driver {
	case "file":
		backend = store.NewFileBackend(afero.NewOsFs(), cfg.Storage.Dir)
	case "redis":
		backend = store.NewRedisBackend(rdb, cfg.Redis.Prefix)
	case "mysql":
		db, err := sql.Open("mysql", cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("open mysql failed: %v", err)
		}
		defer db.Close()
		snapshots := store.NewSnapshotBackend(db)
		if err := snapshots.EnsureSchema(ctx); err != nil {
			log.Fatalf("create snapshot table failed: %v", err)
		}
		backend = snapshots
	case "memory":
		// 只能通过 open + content 创建文档，persist 需要显式目标
	}

	var metaRepo *store.MetaRepo
	if cfg.Mysql.DSN != "" {
		gdb, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("open mysql (gorm) failed: %v", err)
		}
		metaRepo = store.NewMetaRepo(gdb)
		if err := metaRepo.AutoMigrate(ctx); err != nil {
			log.Fatalf("migrate document_meta failed: %v", err)
		}
	}

	opts := collab.ServiceOptions{Backend: backend}
	var routerMeta handlers.MetaReader
	if metaRepo != nil {
		opts.Meta = metaRepo
		routerMeta = metaRepo
	}

	var dispatcher *collab.KafkaDispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("connect kafka failed: %v", err)
		}
		defer producer.Close()

		dispatcher = collab.NewKafkaDispatcher(
			producer,
			cfg.Kafka.Topic,
			collab.NewSemaphoreControl(cfg.Kafka.Workers),
			collab.KafkaDispatcherOptions{
				QueueSize:   cfg.Kafka.QueueSize,
				Workers:     cfg.Kafka.Workers,
				MaxRetry:    cfg.Kafka.MaxRetry,
				BaseBackoff: cfg.Kafka.BaseBackoff,
				MaxBackoff:  cfg.Kafka.MaxBackoff,
			},
		)
		defer dispatcher.Close()
		opts.Events = dispatcher
	}

	svc := collab.NewInMemoryService(opts)

	var presence cache.PresenceCache
	if cfg.Redis.Presence {
		presence = cache.NewRedisPresence(rdb)
	}
	manager := ws.NewManager(ws.NewHub(presence), svc, collab.NewSemaphoreControl(collab.DefaultSemaphoreSize))

	// 显式 persist 目标按后端解析；memory 模式下导出到 storage.dir
	targets := backend
	if targets == nil {
		targets = store.NewFileBackend(afero.NewOsFs(), cfg.Storage.Dir)
	}
	routerOpts := httpapi.RouterOptions{EnableCORS: cfg.Cors.Enabled, Meta: routerMeta, Targets: targets}
	if cfg.Auth.Enabled {
		routerOpts.AuthSecret = []byte(cfg.Auth.Secret)
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: httpapi.NewRouter(svc, manager, routerOpts),
	}

	go func() {
		log.Printf("piece table server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down, open documents: %v", svc.Documents())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

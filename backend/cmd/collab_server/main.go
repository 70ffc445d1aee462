package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"collabCore/backend/internal/cache"
	"collabCore/backend/internal/collab"
	"collabCore/backend/internal/directory"
	"collabCore/backend/internal/events"
	"collabCore/backend/internal/httpapi/handlers"
	"collabCore/backend/internal/httpapi/middleware"
	"collabCore/backend/internal/oplog"
	"collabCore/backend/internal/presence"
	"collabCore/backend/internal/store"
	"collabCore/backend/internal/vcs"
	"collabCore/backend/internal/ws"
)

type CollabConfig struct {
	Running struct {
		Port int `mapstructure:"Port"`
	} `mapstructure:"Running"`
	Mysql struct {
		// 空 DSN 表示纯内存部署，不落快照
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		// 空 brokers 表示单实例部署，不做跨实例广播
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Auth struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"Auth"`
	Presence struct {
		TimeoutSeconds int `mapstructure:"timeoutSeconds"`
		SweepSeconds   int `mapstructure:"sweepSeconds"`
	} `mapstructure:"Presence"`
	Versioning struct {
		MaxBranches       int `mapstructure:"maxBranches"`
		MaxVersions       int `mapstructure:"maxVersions"`
		AutoCommitMinutes int `mapstructure:"autoCommitMinutes"` // 0 = 关闭自动快照
	} `mapstructure:"Versioning"`
}

func initConfig() (*CollabConfig, error) {
	cfg := &CollabConfig{}
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: %+v", cfg)

	// === Redis（presence 心跳/光标缓存）===
	var presenceCache cache.PresenceCache
	if len(cfg.Redis.Addrs) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		if err = rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		presenceCache = cache.NewRedisPresence(rdb)
	} else {
		log.Printf("redis not configured, presence cache disabled")
	}

	// === MySQL（快照 + 元数据）===
	var snapshotStore *store.SnapshotStore
	var metaStore *store.MetaStore
	if cfg.Mysql.DSN != "" {
		db, err := sql.Open("mysql", cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		snapshotStore = store.NewSnapshotStore(db)
		if err := snapshotStore.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("Failed to ensure snapshot schema: %v", err)
		}

		gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: db}), &gorm.Config{})
		if err != nil {
			log.Fatalf("Failed to init gorm: %v", err)
		}
		metaStore = store.NewMetaStore(gdb)
		if err := metaStore.AutoMigrate(); err != nil {
			log.Fatalf("Failed to migrate meta tables: %v", err)
		}
	} else {
		log.Printf("mysql not configured, running memory-only")
	}

	// === Kafka Producer（跨实例操作广播）===
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

		kafkaSem := collab.NewSemaphoreControl(0)
		dispatcher = collab.NewKafkaDispatcher(
			producer,
			cfg.Kafka.Topic,
			kafkaSem,
			collab.KafkaDispatcherOptions{
				QueueSize:   10_000,
				Workers:     4,
				MaxRetry:    3,
				BaseBackoff: 50 * time.Millisecond,
				MaxBackoff:  1 * time.Second,
			},
		)
	} else {
		log.Printf("kafka not configured, op events stay in-process")
	}

	// === 核心组件 ===
	bus := events.NewBus(events.BusOptions{})

	trackerOpt := presence.DefaultOptions()
	if cfg.Presence.TimeoutSeconds > 0 {
		trackerOpt.PresenceTimeout = time.Duration(cfg.Presence.TimeoutSeconds) * time.Second
	}
	if cfg.Presence.SweepSeconds > 0 {
		trackerOpt.SweepInterval = time.Duration(cfg.Presence.SweepSeconds) * time.Second
	}
	tracker := presence.NewTracker(trackerOpt, bus)
	tracker.Start()
	defer tracker.Stop()

	opLog := oplog.NewInMemoryLog()
	repos := vcs.NewStore(vcs.Options{
		MaxBranches: cfg.Versioning.MaxBranches,
		MaxVersions: cfg.Versioning.MaxVersions,
	})

	var meta directory.MetaStore
	if metaStore != nil {
		meta = metaStore
	}
	dir := directory.New(opLog, tracker, bus, dispatcher, repos, meta)

	hub := ws.NewHub(presenceCache)
	wsSem := collab.NewSemaphoreControl(0)
	manager := ws.NewManager(hub, dir, tracker, wsSem)

	// 心跳超时由后台 sweep 发现，没有连接路径可以顺带广播，这里统一兜底
	go func() {
		for evt := range bus.Subscribe(events.TypePresenceTimeout) {
			if rec, ok := evt.Payload.(presence.Record); ok && rec.DocumentID != "" {
				hub.BroadcastPresence(rec.DocumentID, tracker.GetDocumentPresence(rec.DocumentID))
			}
		}
	}()

	// 自动快照：按固定间隔把所有在编文档提交进版本仓库
	if cfg.Versioning.AutoCommitMinutes > 0 {
		interval := time.Duration(cfg.Versioning.AutoCommitMinutes) * time.Minute
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for range ticker.C {
				for _, docID := range dir.ListDocumentIDs() {
					if _, err := dir.SnapshotToRepository(docID, "system", "scheduled snapshot", vcs.CommitAuto); err != nil {
						log.Printf("auto snapshot failed doc=%s err=%v", docID, err)
					}
				}
			}
		}()
	}

	workspaceHandler := handlers.NewWorkspaceHandler(dir, tracker)
	documentHandler := handlers.NewDocumentHandler(dir, tracker, snapshotStore)
	versionHandler := handlers.NewVersionHandler(dir, repos, snapshotStore)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	collabGroup := r.Group("/collab")
	// 鉴权中间件：从 Authorization 或 ?token= 提取 token，调用 /v1/auth/verify，写入 userId/username
	collabGroup.Use(middleware.AuthMiddleware(cfg.Auth.Path))

	collabGroup.GET("/ws", manager.WebSocketConnect)

	collabGroup.POST("/workspaces", workspaceHandler.Create)
	collabGroup.GET("/workspaces/:workspaceID", workspaceHandler.Get)
	collabGroup.DELETE("/workspaces/:workspaceID", workspaceHandler.Delete)
	collabGroup.POST("/workspaces/:workspaceID/join", workspaceHandler.Join)
	collabGroup.POST("/workspaces/:workspaceID/invite", workspaceHandler.Invite)
	collabGroup.GET("/workspaces/:workspaceID/presence", workspaceHandler.Presence)
	collabGroup.GET("/presence/stats", workspaceHandler.PresenceStats)

	collabGroup.POST("/documents", documentHandler.Create)
	collabGroup.GET("/documents/:documentID/state", documentHandler.State)
	collabGroup.GET("/documents/:documentID/operations", documentHandler.Operations)
	collabGroup.POST("/documents/:documentID/operations", documentHandler.Apply)
	collabGroup.GET("/documents/:documentID/presence", documentHandler.Presence)
	collabGroup.GET("/documents/:documentID/cursors", documentHandler.Cursors)
	collabGroup.POST("/documents/:documentID/persist", documentHandler.Persist)

	collabGroup.POST("/documents/:documentID/versions/commit", versionHandler.Commit)
	collabGroup.GET("/documents/:documentID/versions/log", versionHandler.Log)
	collabGroup.GET("/documents/:documentID/versions/branches", versionHandler.Branches)
	collabGroup.POST("/documents/:documentID/versions/branches", versionHandler.CreateBranch)
	collabGroup.POST("/documents/:documentID/versions/checkout", versionHandler.Checkout)
	collabGroup.POST("/documents/:documentID/versions/merge", versionHandler.Merge)
	collabGroup.POST("/documents/:documentID/versions/tags", versionHandler.Tag)
	collabGroup.POST("/documents/:documentID/versions/rollback", versionHandler.Rollback)
	collabGroup.GET("/documents/:documentID/versions/export", versionHandler.Export)
	collabGroup.POST("/documents/:documentID/versions/import", versionHandler.Import)
	collabGroup.POST("/documents/:documentID/versions/restore", versionHandler.ImportStored)

	collabGroup.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}

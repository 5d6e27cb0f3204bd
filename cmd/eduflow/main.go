package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/davicafu/eduflow/internal/analytics"
	analyticsClickhouse "github.com/davicafu/eduflow/internal/analytics/clickhouse"
	config "github.com/davicafu/eduflow/internal/config"
	courseApp "github.com/davicafu/eduflow/internal/course/application"
	courseDomain "github.com/davicafu/eduflow/internal/course/domain"
	courseHttp "github.com/davicafu/eduflow/internal/course/infra/inbound/http"
	enrollApp "github.com/davicafu/eduflow/internal/enrollment/application"
	enrollDomain "github.com/davicafu/eduflow/internal/enrollment/domain"
	enrollHttp "github.com/davicafu/eduflow/internal/enrollment/infra/inbound/http"
	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	"github.com/davicafu/eduflow/internal/shared/infra/db/mongodb"
	"github.com/davicafu/eduflow/internal/shared/infra/db/postgres"
	"github.com/davicafu/eduflow/internal/shared/infra/db/sqlite"
	"github.com/davicafu/eduflow/internal/shared/infra/dedup"
	infraEvents "github.com/davicafu/eduflow/internal/shared/infra/events"
	infraRelayer "github.com/davicafu/eduflow/internal/shared/infra/relayer"
	sharedBus "github.com/davicafu/eduflow/internal/shared/infra/platform/bus"
	infraSaga "github.com/davicafu/eduflow/internal/shared/infra/saga"
	"github.com/davicafu/eduflow/internal/shared/utils"

	"github.com/davicafu/eduflow/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	// _ "github.com/mattn/go-sqlite3" // requires gcc
	_ "modernc.org/sqlite"
)

// ---------------- Main ----------------
func main() {
	logger.Init()          // inicializa zap
	log := logger.Logger() // obtiene logger estructurado
	defer log.Sync()       // flush buffers al salir

	ctx := context.Background()
	cfg := config.LoadConfig()

	// ------------ Registro de eventos ------------
	registry := sharedEvents.Merge(
		enrollDomain.NewEventRegistry(),
		courseDomain.NewEventRegistry(),
	)

	// ---------------- DB ----------------
	var (
		eventStore sharedDomain.EventStore
		outboxRepo sharedDomain.OutboxRepository
		sagaStore  sharedDomain.SagaStore
	)

	switch cfg.StoreBackend {
	case "postgres":
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to open Postgres", zap.Error(err))
		}
		defer db.Close()

		// La base de datos puede tardar en aceptar conexiones al arrancar.
		if err := utils.Retry(ctx, 5, 2*time.Second, func() error {
			return db.PingContext(ctx)
		}); err != nil {
			log.Fatal("failed to ping Postgres", zap.Error(err))
		}
		if err := postgres.InitPostgres(db); err != nil {
			log.Fatal("failed to initialize Postgres", zap.Error(err))
		}

		store := postgres.NewEventStorePostgres(db, registry)
		eventStore = store
		outboxRepo = store
		sagaStore = postgres.NewSagaStorePostgres(db)
		log.Info("✅ Event store sobre Postgres")

	default:
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			log.Fatal("failed to open SQLite", zap.Error(err))
		}
		defer db.Close()

		if err := sqlite.InitSQLite(db); err != nil {
			log.Fatal("failed to initialize SQLite", zap.Error(err))
		}

		store := sqlite.NewEventStoreSQLite(db, registry)
		eventStore = store
		outboxRepo = store
		sagaStore = sqlite.NewSagaStoreSQLite(db)
		log.Info("✅ Event store sobre SQLite", zap.String("path", cfg.SQLitePath))
	}

	// ------------ Deduplicación ------------
	var processed sharedDomain.ProcessedStore
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, deduplicación en memoria:", zap.Error(err))
		processed = dedup.NewInMemoryProcessedStore(cfg.DedupTTL)
	} else {
		processed = dedup.NewRedisProcessedStore(rdb, cfg.DedupTTL)
		log.Info("✅ Redis conectado, deduplicación persistente")
	}

	// --------------- Servicios --------------
	dispatcher := infraEvents.NewDispatcher(log)
	enrollService := enrollApp.NewEnrollmentService(eventStore, dispatcher, cfg.CommandMaxRetries, log)
	courseService := courseApp.NewCourseService(eventStore, dispatcher, cfg.CommandMaxRetries, log)

	// ---------------- Saga ----------------
	coordinator := infraSaga.NewCoordinator(sagaStore, processed, registry, cfg.SagaPeriod, cfg.SagaMaxAttempts, log)
	coordinator.Register(enrollApp.NewEnrollmentSaga(enrollService, courseService, cfg.EnrollmentWindow))
	coordinator.Start(ctx)

	// El coordinador también escucha los appends locales: la saga arranca
	// sin esperar la vuelta del evento por el bus (la vuelta se deduplica).
	dispatcher.Register(coordinator)

	// -------- Proyección analítica --------
	var analyticsConsumer *analytics.Consumer
	if cfg.ClickHouseAddr != "" {
		repo, err := analyticsClickhouse.NewEventLogRepo(cfg.ClickHouseAddr, cfg.ClickHouseDB)
		if err != nil {
			log.Warn("⚠️ ClickHouse no disponible, proyección desactivada", zap.Error(err))
		} else if err := repo.InitSchema(); err != nil {
			log.Warn("⚠️ No se pudo crear el esquema de ClickHouse", zap.Error(err))
		} else {
			analyticsConsumer = analytics.NewConsumer(repo, processed, log)
			log.Info("✅ Proyección de eventos hacia ClickHouse activa")
		}
	}

	// ---------------- Bus -----------------
	var bus sharedBus.EventBus

	if cfg.UseKafka {
		log.Info("🚀 Usando Kafka como bus de eventos")

		// Writer genérico: el topic de cada mensaje sale del registro.
		writer := kafka.NewWriter(kafka.WriterConfig{
			Brokers: cfg.KafkaBrokers,
		})
		defer writer.Close()

		bus = infraEvents.NewKafkaPublisher(writer, registry, log)

		for _, topic := range []string{enrollDomain.EnrollmentTopic, courseDomain.CourseTopic} {
			sagaReader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:  cfg.KafkaBrokers,
				Topic:    topic,
				GroupID:  cfg.ServiceName + "-saga",
				MinBytes: 10e3, // 10KB
				MaxBytes: 10e6, // 10MB
			})
			defer sagaReader.Close()
			infraEvents.NewConsumerAdapter(sagaReader, coordinator, log).Start(ctx)

			if analyticsConsumer != nil {
				analyticsReader := kafka.NewReader(kafka.ReaderConfig{
					Brokers:  cfg.KafkaBrokers,
					Topic:    topic,
					GroupID:  cfg.ServiceName + "-analytics",
					MinBytes: 10e3,
					MaxBytes: 10e6,
				})
				defer analyticsReader.Close()
				infraEvents.NewConsumerAdapter(analyticsReader, analyticsConsumer, log).Start(ctx)
			}
		}
	} else {
		log.Info("⚡️Usando bus de eventos en memoria (canales de Go)")

		inMemoryBus := infraEvents.NewInMemoryEventBus()
		bus = inMemoryBus

		log.Info("🎧 Iniciando listener en memoria para la saga")
		infraEvents.BackgroundConsumerChan(ctx, inMemoryBus.Subscribe(64), coordinator)

		if analyticsConsumer != nil {
			log.Info("🎧 Iniciando listener en memoria para analítica")
			infraEvents.BackgroundConsumerChan(ctx, inMemoryBus.Subscribe(64), analyticsConsumer)
		}
	}

	// ------------ Outbox Worker ------------
	// Se podría ejecutar externamente
	outboxWorker := infraRelayer.NewOutboxWorker(
		outboxRepo, bus, cfg.ServiceName,
		cfg.OutboxPeriod, cfg.OutboxLimit, cfg.OutboxMaxAttempts, cfg.OutboxLease,
		log,
	)
	outboxWorker.Start(ctx)

	// Drenaje del outbox externo en MongoDB, si está configurado.
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Warn("⚠️ MongoDB no disponible, outbox externo desactivado", zap.Error(err))
		} else {
			defer mongoClient.Disconnect(ctx)
			mongoOutbox := mongodb.NewOutboxRepoMongoDB(mongoClient, cfg.MongoDB, registry)
			mongoWorker := infraRelayer.NewOutboxWorker(
				mongoOutbox, bus, cfg.ServiceName,
				cfg.OutboxPeriod, cfg.OutboxLimit, cfg.OutboxMaxAttempts, cfg.OutboxLease,
				log,
			)
			mongoWorker.Start(ctx)
			log.Info("✅ Drenando outbox externo en MongoDB")
		}
	}

	// ---------------- HTTP ----------------
	enrollHandler := enrollHttp.NewEnrollmentHandler(enrollService)
	courseHandler := courseHttp.NewCourseHandler(courseService)
	router := gin.Default()
	enrollHttp.RegisterEnrollmentRoutes(router, enrollHandler)
	courseHttp.RegisterCourseRoutes(router, courseHandler)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	log.Info("🚀 Server running",
		zap.String("url", "http://localhost:"+cfg.HTTPPort),
	)
	if err := router.Run(":" + cfg.HTTPPort); err != nil {
		log.Fatal("failed to start server: %v", zap.Error(err))
	}
}

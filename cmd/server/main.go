package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/blockkit/internal/api"
	"github.com/annel0/blockkit/internal/app"
	"github.com/annel0/blockkit/internal/cache"
	"github.com/annel0/blockkit/internal/config"
	"github.com/annel0/blockkit/internal/eventbus"
	"github.com/annel0/blockkit/internal/logging"
	"github.com/annel0/blockkit/internal/observability"
	"github.com/annel0/blockkit/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или BLOCKKIT_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Logging.ToFile {
		if err := logging.InitDefaultLogger(cfg.Logging.Component); err != nil {
			log.Fatalf("Ошибка инициализации логирования: %v", err)
		}
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	logging.SetDefaultLevel(logging.ParseLevel(cfg.Logging.Level))

	logging.Info("Запуск blockkit сервера...")

	ctx := context.Background()
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logging.Error("Ошибка инициализации OpenTelemetry: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	// === ХРАНИЛИЩЕ ===
	var store *storage.FacingsStore
	if cfg.Storage.InMemory {
		store, err = storage.NewInMemoryFacingsStore()
	} else {
		store, err = storage.NewFacingsStore(cfg.Storage.Path)
	}
	if err != nil {
		log.Fatalf("Ошибка открытия хранилища: %v", err)
	}
	logging.Info("Хранилище: in_memory=%v path=%s", cfg.Storage.InMemory, cfg.Storage.Path)

	// === КЕШ ===
	cacheCfg := &cache.CacheConfig{
		RedisURL:      cfg.Cache.RedisURL,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
		DefaultTTL:    cfg.Cache.DefaultTTL,
	}
	var cacheRepo cache.CacheRepo
	if cfg.Cache.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cacheCfg, store)
		if err != nil {
			logging.Warn("Redis недоступен (%v), используется кеш в памяти", err)
			cacheRepo = cache.NewMemoryCache(cacheCfg, store)
		} else {
			cacheRepo = redisCache
		}
	} else {
		cacheRepo = cache.NewMemoryCache(cacheCfg, store)
	}

	// === ШИНА СОБЫТИЙ ===
	bus := eventbus.FromConfig(cfg.EventBus)
	if _, err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("Не удалось запустить логирование событий: %v", err)
	}

	// === МЕТРИКИ ===
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		eventbus.NewCollector(bus),
		observability.NewFacingsCollector(cacheRepo),
	)
	serviceMetrics, err := observability.NewServiceMetrics(registry)
	if err != nil {
		log.Fatalf("Ошибка регистрации метрик: %v", err)
	}

	// === СЕРВИС ===
	hostname, _ := os.Hostname()
	svc, err := app.NewFacingsService(app.ServiceConfig{
		Store:    store,
		Cache:    cacheRepo,
		Bus:      bus,
		Metrics:  serviceMetrics,
		Source:   cfg.Telemetry.ServiceName + "@" + hostname,
		CacheTTL: cfg.Cache.DefaultTTL,
	})
	if err != nil {
		log.Fatalf("Ошибка создания сервиса: %v", err)
	}
	if err := svc.StartInvalidation(ctx); err != nil {
		logging.Warn("Инвалидация кеша по событиям недоступна: %v", err)
	}

	// === REST API ===
	gin.SetMode(gin.ReleaseMode)
	restPort := cfg.Server.GetRESTPort()
	restServer, err := api.NewRestServer(api.Config{
		Port:        restPort,
		ServiceName: cfg.Telemetry.ServiceName,
		Service:     svc,
		Bus:         bus,
		Registry:    registry,
	})
	if err != nil {
		log.Fatalf("Ошибка создания REST API: %v", err)
	}
	if err := restServer.Start(); err != nil {
		log.Fatalf("Ошибка запуска REST API: %v", err)
	}

	logging.Info("Все сервисы запущены")
	logging.Info("   REST API: http://localhost:%d", restPort)
	logging.Info("   Health check: http://localhost:%d/health", restPort)
	logging.Info("   События: ws://localhost:%d/ws/events", restPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := restServer.Stop(stopCtx); err != nil {
		logging.Error("Ошибка остановки REST API: %v", err)
	}
	svc.Close()
	if err := bus.Close(); err != nil {
		logging.Error("Ошибка закрытия шины событий: %v", err)
	}
	if err := cacheRepo.Close(); err != nil {
		logging.Error("Ошибка закрытия кеша: %v", err)
	}
	if err := store.Close(); err != nil {
		logging.Error("Ошибка закрытия хранилища: %v", err)
	}
	if err := shutdownTelemetry(stopCtx); err != nil {
		logging.Error("Ошибка остановки OpenTelemetry: %v", err)
	}

	logging.Info("Сервер успешно остановлен")
}

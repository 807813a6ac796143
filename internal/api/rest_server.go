package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/annel0/blockkit/internal/app"
	"github.com/annel0/blockkit/internal/eventbus"
	"github.com/annel0/blockkit/internal/logging"
	"github.com/annel0/blockkit/internal/middleware"
	"github.com/annel0/blockkit/internal/vec"
	"github.com/annel0/blockkit/internal/world/block"
	"github.com/annel0/blockkit/internal/world/multiblock"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// FacingsService операции над сторонами блоков мира, которые обслуживает API
type FacingsService interface {
	Get(ctx context.Context, pos vec.Vec3) (*block.Facings, error)
	Put(ctx context.Context, pos vec.Vec3, facings *block.Facings) (bool, error)
	SetFace(ctx context.Context, pos vec.Vec3, d block.Direction, value bool) (*block.Facings, error)
	Delete(ctx context.Context, pos vec.Vec3) (bool, error)
	Scan(ctx context.Context, positions []vec.Vec3) (multiblock.Report, error)
	Export(ctx context.Context, w io.Writer) (int, error)
	Import(ctx context.Context, r io.Reader) (app.ImportResult, error)
}

// Registry реестр метрик: регистрация и выдача на /metrics
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port        int              // порт для запуска сервера
	ServiceName string           // имя сервиса для otelgin и префикса метрик
	Service     FacingsService   // обязателен
	Bus         eventbus.EventBus // источник событий для /ws/events; может быть nil
	Registry    Registry         // по умолчанию новый prometheus.Registry
	Logger      *logging.Logger
}

// RestServer REST API и WebSocket поток событий
type RestServer struct {
	router     *gin.Engine
	httpServer *http.Server
	service    FacingsService
	bus        eventbus.EventBus
	metrics    *ServerMetrics
	log        *logging.Logger
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(cfg Config) (*RestServer, error) {
	if cfg.Service == nil {
		return nil, errors.New("rest server: facings service is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 8088
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "blockkit"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetAPILogger()
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.NewRequestLogger(cfg.Logger).Handler())

	promMw, err := middleware.NewPrometheusMiddleware(cfg.ServiceName, cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("регистрация HTTP метрик: %w", err)
	}
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, cfg.Registry)

	rs := &RestServer{
		router:  router,
		service: cfg.Service,
		bus:     cfg.Bus,
		metrics: NewServerMetrics(),
		log:     cfg.Logger,
	}
	rs.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	rs.setupRoutes()
	return rs, nil
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)
	rs.router.GET("/ws/events", rs.handleEvents)

	api := rs.router.Group("/api")
	api.GET("/server", rs.handleServerInfo)
	api.GET("/categories", rs.handleCategories)

	facings := api.Group("/facings")
	{
		facings.GET("/:bits", rs.handleDescribe)
		facings.GET("/:bits/offset", rs.handleOffset)
	}

	blocks := api.Group("/blocks/:x/:y/:z/facings")
	{
		blocks.GET("", rs.handleGetBlock)
		blocks.PUT("", rs.handlePutBlock)
		blocks.DELETE("", rs.handleDeleteBlock)
		blocks.PATCH("/:dir", rs.handleSetFace)
	}

	api.POST("/structures/scan", rs.handleScan)

	api.GET("/snapshot", rs.handleExportSnapshot)
	api.POST("/snapshot", rs.handleImportSnapshot)
}

// Handler возвращает http.Handler сервера (используется в тестах)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start запускает HTTP сервер в отдельной горутине
func (rs *RestServer) Start() error {
	rs.log.Info("REST API слушает %s", rs.httpServer.Addr)
	go func() {
		if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rs.log.Error("Ошибка REST API сервера: %v", err)
		}
	}()
	return nil
}

// Stop останавливает сервер, дожидаясь завершения активных запросов
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.httpServer.Shutdown(ctx)
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "ok",
		Data: gin.H{
			"uptime": rs.metrics.GetUptime(),
		},
	})
}

// handleServerInfo возвращает информацию о сервере
func (rs *RestServer) handleServerInfo(c *gin.Context) {
	info := rs.metrics.Snapshot()
	info.InternedFacings = block.InternedCount()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Информация о сервере",
		Data:    info,
	})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, GenericResponse{Success: false, Message: message})
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/finalverse/finalverse/internal/middleware"
	"github.com/finalverse/finalverse/internal/storage"
	"github.com/finalverse/finalverse/internal/stream"
	"github.com/finalverse/finalverse/internal/vec"
	"github.com/finalverse/finalverse/internal/world"
	"github.com/finalverse/finalverse/internal/world/entity"
)

// RestServer представляет REST API сервер движка мира
type RestServer struct {
	router    *gin.Engine
	store     *world.Store
	streamer  *stream.Streamer
	positions storage.PositionRepo
	metrics   *ServerMetrics
	httpSrv   *http.Server
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port      int
	Store     *world.Store
	Streamer  *stream.Streamer
	Positions storage.PositionRepo // опционален: nil отключает сохранение позиций
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == 0 {
		config.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	router.Use(otelgin.Middleware("world_engine_api"))

	promMw := middleware.NewPrometheusMiddleware("world_api")
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:    router,
		store:     config.Store,
		streamer:  config.Streamer,
		positions: config.Positions,
		metrics:   NewServerMetrics(),
		httpSrv: &http.Server{
			Addr: fmt.Sprintf(":%d", config.Port),
		},
	}
	server.httpSrv.Handler = router

	server.setupRoutes()
	return server
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := rs.router.Group("/api")
	{
		api.GET("/world/state", rs.handleWorldState)
		api.POST("/actions", rs.handleAction)

		api.GET("/regions/:id", rs.handleGetRegion)
		api.POST("/regions/:id/harmony", rs.handleRegionDelta)

		api.POST("/grids/generate", rs.handleGenerateGrid)
		api.GET("/grids/:region/:x/:y/:z", rs.handleGetGrid)

		api.POST("/entities", rs.handleSpawnEntity)
		api.GET("/entities/:id", rs.handleGetEntity)
		api.PUT("/entities/:id/state", rs.handleUpdateEntity)
		api.DELETE("/entities/:id", rs.handleDespawnEntity)
	}

	// Стриминг дельт мира
	rs.router.GET("/ws/updates", rs.handleStreamUpdates)

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// handleWorldState возвращает агрегированный срез мира.
// Параметр ?regions=a,b ограничивает выборку регионов.
func (rs *RestServer) handleWorldState(c *gin.Context) {
	var regionIDs []string
	if raw := c.Query("regions"); raw != "" {
		regionIDs = strings.Split(raw, ",")
	}

	state, err := rs.store.GetWorldState(regionIDs)
	if err != nil {
		if errors.Is(err, world.ErrRegionNotFound) {
			c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: "Внутренняя ошибка сервера"})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Состояние мира",
		Data:    state,
	})
}

// ActionType тип действия игрока
type ActionType string

const (
	ActionMove       ActionType = "Move"
	ActionInteract   ActionType = "Interact"
	ActionUseAbility ActionType = "UseAbility"
	ActionCraft      ActionType = "Craft"
)

// ActionRequest запрос на действие игрока
type ActionRequest struct {
	Type      ActionType     `json:"type" binding:"required"`
	EntityID  entity.ID      `json:"entity_id"`
	Position  *vec.Vec3Float `json:"position,omitempty"`
	Yaw       float64        `json:"yaw,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	AbilityID string         `json:"ability_id,omitempty"`
	TargetID  entity.ID      `json:"target_id,omitempty"`
}

// Гармонические эффекты действий игрока
const (
	interactHarmonyGain = 0.01
	abilityHarmonyGain  = 0.05
)

// handleAction применяет действие игрока к миру
func (rs *RestServer) handleAction(c *gin.Context) {
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Неверный формат запроса"})
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	switch req.Type {
	case ActionMove:
		if req.Position == nil {
			c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Move требует position"})
			return
		}
		err := rs.store.Entities.UpdateTransform(req.EntityID, *req.Position, req.Yaw, req.Timestamp)
		if errors.Is(err, entity.ErrNotFound) {
			c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Сущность не найдена"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
			return
		}

	case ActionInteract, ActionUseAbility:
		// Созидательные действия поднимают гармонию региона
		gain := interactHarmonyGain
		if req.Type == ActionUseAbility {
			gain = abilityHarmonyGain
		}

		regionID, ok := rs.resolveActionRegion(req)
		if !ok {
			c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Не удалось определить регион действия"})
			return
		}

		view, events, err := rs.store.ApplyRegionDelta(regionID, world.RegionDelta{
			HarmonyDelta: gain,
			DiscordDelta: -gain / 2,
			Source:       string(req.Type),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
			return
		}

		c.JSON(http.StatusOK, GenericResponse{
			Success: true,
			Message: "Действие применено",
			Data: gin.H{
				"region": view,
				"events": events,
			},
		})
		return

	case ActionCraft:
		// Крафт не меняет состояние мира напрямую, только подтверждается

	default:
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Неизвестный тип действия"})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Действие применено"})
}

// resolveActionRegion определяет регион, к которому относится действие
func (rs *RestServer) resolveActionRegion(req ActionRequest) (string, bool) {
	if req.Position != nil {
		return rs.store.ResolveRegion(*req.Position)
	}
	if view, err := rs.store.Entities.Get(req.EntityID); err == nil {
		return view.Grid.RegionID, true
	}
	return "", false
}

// handleGetRegion возвращает состояние региона
func (rs *RestServer) handleGetRegion(c *gin.Context) {
	region, err := rs.store.Region(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Регион найден",
		Data:    region.View(),
	})
}

// handleRegionDelta применяет дельту гармонии/дискорда к региону
func (rs *RestServer) handleRegionDelta(c *gin.Context) {
	var delta world.RegionDelta
	if err := c.ShouldBindJSON(&delta); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Неверный формат дельты"})
		return
	}
	if delta.Source == "" {
		delta.Source = "api"
	}

	view, events, err := rs.store.ApplyRegionDelta(c.Param("id"), delta)
	if err != nil {
		if errors.Is(err, world.ErrRegionNotFound) {
			c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Дельта применена",
		Data: gin.H{
			"region": view,
			"events": events,
		},
	})
}

// GenerateGridRequest запрос на генерацию грида
type GenerateGridRequest struct {
	RegionID string   `json:"region_id" binding:"required"`
	Coord    vec.Vec3 `json:"coord"`
	Hint     string   `json:"hint,omitempty"`
}

// handleGenerateGrid генерирует грид (идемпотентно)
func (rs *RestServer) handleGenerateGrid(c *gin.Context) {
	var req GenerateGridRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Неверный формат запроса"})
		return
	}

	view, err := rs.store.GenerateGridWithHint(c.Request.Context(), req.RegionID, req.Coord, req.Hint)
	if err != nil {
		if errors.Is(err, world.ErrRegionNotFound) {
			c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Грид сгенерирован",
		Data:    view,
	})
}

// handleGetGrid возвращает грид, лениво генерируя его при первом обращении
func (rs *RestServer) handleGetGrid(c *gin.Context) {
	coord, err := parseGridCoord(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	view, err := rs.store.GetOrGenerateGrid(c.Request.Context(), c.Param("region"), coord)
	if err != nil {
		if errors.Is(err, world.ErrRegionNotFound) {
			c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Грид найден",
		Data:    view,
	})
}

func parseGridCoord(c *gin.Context) (vec.Vec3, error) {
	x, errX := strconv.Atoi(c.Param("x"))
	y, errY := strconv.Atoi(c.Param("y"))
	z, errZ := strconv.Atoi(c.Param("z"))
	if errX != nil || errY != nil || errZ != nil {
		return vec.Vec3{}, fmt.Errorf("неверная координата грида")
	}
	return vec.Vec3{X: x, Y: y, Z: z}, nil
}

// SpawnRequest запрос на создание сущности
type SpawnRequest struct {
	Type       entity.Type       `json:"type" binding:"required"`
	Position   vec.Vec3Float     `json:"position"`
	Yaw        float64           `json:"yaw"`
	Components entity.Components `json:"components"`
	UserID     uint64            `json:"user_id,omitempty"` // для восстановления позиции игрока
}

// handleSpawnEntity создаёт сущность.
// Для игрока с известным UserID позиция восстанавливается из репозитория.
func (rs *RestServer) handleSpawnEntity(c *gin.Context) {
	var req SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Неверный формат запроса"})
		return
	}

	// Сохранённая позиция имеет приоритет над запрошенной
	if req.Type == entity.TypePlayer && req.UserID != 0 && rs.positions != nil {
		if saved, found, err := rs.positions.Load(c.Request.Context(), req.UserID); err == nil && found {
			req.Position = saved.Position
			req.Yaw = saved.Yaw
		}
	}

	id, err := rs.store.Entities.Spawn(entity.SpawnSpec{
		Type:       req.Type,
		Position:   req.Position,
		Yaw:        req.Yaw,
		Components: req.Components,
	})
	if errors.Is(err, entity.ErrNoRegion) {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Позиция вне границ мира"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	view, _ := rs.store.Entities.Get(id)
	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Сущность создана",
		Data:    view,
	})
}

// handleGetEntity возвращает сущность по ID
func (rs *RestServer) handleGetEntity(c *gin.Context) {
	id, err := parseEntityID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	view, err := rs.store.Entities.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Сущность не найдена"})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Сущность найдена",
		Data:    view,
	})
}

// UpdateStateRequest запрос на обновление transform сущности
type UpdateStateRequest struct {
	Position  vec.Vec3Float `json:"position"`
	Yaw       float64       `json:"yaw"`
	Timestamp time.Time     `json:"timestamp,omitempty"`
	UserID    uint64        `json:"user_id,omitempty"` // для сохранения позиции игрока
}

// handleUpdateEntity обновляет позицию/ориентацию сущности
func (rs *RestServer) handleUpdateEntity(c *gin.Context) {
	id, err := parseEntityID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	var req UpdateStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Неверный формат запроса"})
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	err = rs.store.Entities.UpdateTransform(id, req.Position, req.Yaw, req.Timestamp)
	if errors.Is(err, entity.ErrNotFound) {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Сущность не найдена"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	// Позиция игрока сохраняется асинхронно батчером репозитория
	if req.UserID != 0 && rs.positions != nil {
		view, gerr := rs.store.Entities.Get(id)
		if gerr == nil {
			_ = rs.positions.Save(c.Request.Context(), req.UserID, storage.PlayerPosition{
				Position:  view.Transform.Position,
				Yaw:       view.Transform.Yaw,
				RegionID:  view.Grid.RegionID,
				UpdatedAt: req.Timestamp,
			})
		}
	}

	view, _ := rs.store.Entities.Get(id)
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Состояние обновлено",
		Data:    view,
	})
}

// handleDespawnEntity удаляет сущность
func (rs *RestServer) handleDespawnEntity(c *gin.Context) {
	id, err := parseEntityID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}

	if err := rs.store.Entities.Despawn(id); err != nil {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Сущность не найдена"})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Сущность удалена"})
}

func parseEntityID(c *gin.Context) (entity.ID, error) {
	raw, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("неверный ID сущности")
	}
	return entity.ID(raw), nil
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, _ := rs.metrics.GetCPUUsage()

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"time":        time.Now().Unix(),
		"uptime":      rs.metrics.GetUptime(),
		"memory_mb":   fmt.Sprintf("%.1f", memoryMB),
		"cpu_percent": fmt.Sprintf("%.1f", cpuPercent),
		"world": gin.H{
			"id":          rs.store.WorldID,
			"tick":        rs.store.Tick(),
			"entities":    rs.store.Entities.Count(),
			"grids":       rs.store.GridCount(),
			"subscribers": rs.streamer.SubscriberCount(),
		},
	})
}

// Start запускает REST сервер
func (rs *RestServer) Start() error {
	err := rs.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop останавливает REST сервер с ожиданием активных запросов
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.httpSrv.Shutdown(ctx)
}

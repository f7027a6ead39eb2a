package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finalverse/finalverse/internal/api"
	"github.com/finalverse/finalverse/internal/config"
	"github.com/finalverse/finalverse/internal/eventbus"
	"github.com/finalverse/finalverse/internal/logging"
	"github.com/finalverse/finalverse/internal/observability"
	"github.com/finalverse/finalverse/internal/storage"
	"github.com/finalverse/finalverse/internal/stream"
	"github.com/finalverse/finalverse/internal/world"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("world-engine"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🌍 Запуск Finalverse World Engine...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}

	restPort := cfg.Server.GetRESTPort()
	metricsPort := cfg.Server.GetMetricsPort()
	logging.Info("📡 Конфигурация: REST=:%d, метрики=:%d, тик=%v",
		restPort, metricsPort, cfg.Simulation.TickInterval())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === OBSERVABILITY ===
	// Трейсинг опционален: без OTLP коллектора работаем дальше
	shutdownTelemetry, err := observability.InitTelemetry(ctx, "world-engine")
	if err != nil {
		logging.Warn("OpenTelemetry недоступен: %v", err)
		shutdownTelemetry = nil
	}

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		if retention <= 0 {
			retention = 24 * time.Hour
		}
		jsBus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, retention)
		if err != nil {
			logging.Warn("NATS недоступен (%v), используется in-memory шина", err)
			bus = eventbus.NewMemoryBus(1024)
		} else {
			bus = jsBus
			defer jsBus.Close()
		}
	} else {
		bus = eventbus.NewMemoryBus(1024)
	}

	busMetrics := eventbus.NewMetricsExporter(bus)
	busMetrics.StartHTTP(fmt.Sprintf(":%d", metricsPort))
	defer busMetrics.Stop()

	// === МИР ===
	specs := make([]world.RegionSpec, 0, len(cfg.World.Regions))
	for _, rc := range cfg.World.Regions {
		specs = append(specs, world.RegionSpec{
			ID:             rc.ID,
			Name:           rc.Name,
			Biome:          world.BiomeType(rc.Biome),
			Boundary:       rc.Boundary,
			HarmonyBase:    rc.HarmonyBase,
			DiscordBase:    rc.DiscordBase,
			InitialHarmony: rc.InitialHarmony,
			InitialDiscord: rc.InitialDiscord,
		})
	}

	thresholds := world.Thresholds{
		DiscordHigh:    cfg.Simulation.DiscordHighMark,
		DiscordLow:     cfg.Simulation.DiscordLowMark,
		HarmonyRecover: cfg.Simulation.HarmonyRecoverUp,
		HarmonyLow:     cfg.Simulation.HarmonyRecoverLow,
	}

	store := world.NewStore(cfg.World.ID, cfg.World.Name, cfg.World.Seed, specs, thresholds)

	// === ПЕРСИСТЕНТНОСТЬ ===
	snapshots, err := storage.NewBadgerSnapshotStore(cfg.Storage.DataPath)
	if err != nil {
		logging.Error("❌ Ошибка открытия хранилища снапшотов: %v", err)
		log.Fatalf("❌ Ошибка открытия хранилища снапшотов: %v", err)
	}
	defer snapshots.Close()

	// Восстанавливаем мир из последнего снапшота, если он есть
	if snap, err := snapshots.LoadSnapshot(ctx, cfg.World.ID); err == nil {
		if err := store.Restore(snap); err != nil {
			logging.Warn("Снапшот не применён: %v", err)
		}
	} else if err != storage.ErrSnapshotNotFound {
		logging.Warn("Не удалось загрузить снапшот: %v", err)
	}

	positions := buildPositionRepo(cfg)

	// === СИМУЛЯЦИЯ И СТРИМИНГ ===
	simulator := world.NewSimulator(store, bus, world.SimulatorOptions{
		TickInterval: cfg.Simulation.TickInterval(),
		WorkerCount:  cfg.Simulation.WorkerCount,
		EventChance:  cfg.Simulation.EventChance,
	})
	go simulator.Run(ctx)

	streamer, err := stream.NewStreamer(ctx, store, bus)
	if err != nil {
		logging.Error("❌ Ошибка создания стримера: %v", err)
		log.Fatalf("❌ Ошибка создания стримера: %v", err)
	}
	defer streamer.Close()
	go streamer.Run(ctx, cfg.Simulation.TickInterval())

	// Автосохранение снапшотов
	go snapshotLoop(ctx, store, snapshots, cfg.Storage.SnapshotInterval())

	// === REST API ===
	restServer := api.NewRestServer(api.Config{
		Port:      restPort,
		Store:     store,
		Streamer:  streamer,
		Positions: positions,
	})

	go func() {
		if err := restServer.Start(); err != nil {
			logging.Error("❌ Ошибка REST сервера: %v", err)
		}
	}()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost:%d", restPort)
	logging.Info("   📊 Метрики: http://localhost:%d/metrics", metricsPort)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", restPort)
	logging.Info("   🔌 Стриминг: ws://localhost:%d/ws/updates", restPort)

	// Ждем сигнала для завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := restServer.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}

	// Финальный снапшот перед выходом
	if err := snapshots.SaveSnapshot(shutdownCtx, store.Snapshot()); err != nil {
		logging.Error("❌ Ошибка финального снапшота: %v", err)
	}

	if closer, ok := positions.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logging.Warn("Ошибка закрытия репозитория позиций: %v", err)
		}
	}

	if shutdownTelemetry != nil {
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logging.Warn("Ошибка остановки телеметрии: %v", err)
		}
	}

	logging.Info("👋 Сервер успешно остановлен")
}

// buildPositionRepo выбирает репозиторий позиций по конфигурации:
// MariaDB → Redis → память.
func buildPositionRepo(cfg *config.Config) storage.PositionRepo {
	if cfg.Storage.MariaDSN != "" {
		repo, err := storage.NewMariaPositionRepo(cfg.Storage.MariaDSN)
		if err == nil {
			logging.Info("💾 Позиции игроков: MariaDB")
			return repo
		}
		logging.Warn("MariaDB недоступна (%v), пробуем Redis", err)
	}

	if cfg.Storage.RedisAddr != "" {
		redisCfg := storage.DefaultRedisConfig()
		redisCfg.Addr = cfg.Storage.RedisAddr
		repo, err := storage.NewRedisPositionRepo(redisCfg)
		if err == nil {
			logging.Info("💾 Позиции игроков: Redis")
			return repo
		}
		logging.Warn("Redis недоступен (%v), используется память", err)
	}

	logging.Info("💾 Позиции игроков: in-memory (без персистентности)")
	return storage.NewMemoryPositionRepo()
}

// snapshotLoop периодически сохраняет снапшот мира
func snapshotLoop(ctx context.Context, store *world.Store, snapshots storage.SnapshotStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := snapshots.SaveSnapshot(ctx, store.Snapshot()); err != nil {
				logging.Error("❌ Ошибка автосохранения снапшота: %v", err)
			} else {
				logging.Debug("Снапшот мира сохранён (тик %d)", store.Tick())
			}
		}
	}
}

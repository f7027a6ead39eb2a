package world

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/finalverse/finalverse/internal/eventbus"
	"github.com/finalverse/finalverse/internal/logging"
	"github.com/finalverse/finalverse/internal/vec"
)

// Метрики симуляции
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "world_tick_duration_seconds",
		Help:    "Длительность одного тика симуляции",
		Buckets: prometheus.DefBuckets,
	})
	tickEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "world_events_emitted_total",
		Help: "Мировые события, порождённые симуляцией, по типам",
	}, []string{"type"})
	degradedRegions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "world_region_ticks_degraded_total",
		Help: "Тики регионов, пропущенные из-за паники обработчика",
	})
	regionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "world_regions_active",
		Help: "Число активных регионов мира",
	})
)

// SimulatorOptions параметры цикла симуляции
type SimulatorOptions struct {
	TickInterval time.Duration
	WorkerCount  int     // Размер пула воркеров обработки регионов
	EventChance  float64 // Вероятность стохастического события на регион за тик
}

// Simulator управляет тиками мира: метаболизмом регионов, погодой и
// стохастическими событиями. Эффекты тика каждого региона атомарны —
// наблюдатели видят либо состояние до, либо после целого тика.
type Simulator struct {
	store *Store
	bus   eventbus.EventBus
	opts  SimulatorOptions
}

// NewSimulator создаёт симулятор мира
func NewSimulator(store *Store, bus eventbus.EventBus, opts SimulatorOptions) *Simulator {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 5 * time.Second
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 4
	}
	if opts.EventChance <= 0 {
		opts.EventChance = 0.01
	}
	return &Simulator{store: store, bus: bus, opts: opts}
}

// Run запускает цикл симуляции до отмены контекста
func (s *Simulator) Run(ctx context.Context) {
	logging.Info("📈 Симуляция запущена: тик %v, воркеров %d", s.opts.TickInterval, s.opts.WorkerCount)

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	last := time.Now().UTC()
	for {
		select {
		case <-ctx.Done():
			logging.Info("Симуляция остановлена")
			return
		case now := <-ticker.C:
			now = now.UTC()
			s.RunTick(ctx, now, now.Sub(last).Seconds())
			last = now
		}
	}
}

// RunTick выполняет один тик симуляции: продвигает время мира и
// обрабатывает все регионы пулом воркеров.
func (s *Simulator) RunTick(ctx context.Context, now time.Time, dt float64) {
	started := time.Now()
	tick := s.store.AdvanceTick(dt)

	regions := s.store.Regions()
	regionsGauge.Set(float64(len(regions)))

	jobs := make(chan *Region)
	var wg sync.WaitGroup

	for w := 0; w < s.opts.WorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobs {
				s.tickRegion(ctx, r, now, tick, dt)
			}
		}()
	}

	for _, r := range regions {
		jobs <- r
	}
	close(jobs)
	wg.Wait()

	tickDuration.Observe(time.Since(started).Seconds())
}

// tickRegion обрабатывает один регион. Паника обработчика изолируется:
// регион пропускает тик в деградированном режиме, остальные не затронуты.
func (s *Simulator) tickRegion(ctx context.Context, r *Region, now time.Time, tick uint64, dt float64) {
	defer func() {
		if rec := recover(); rec != nil {
			degradedRegions.Inc()
			logging.Error("❌ Паника в тике региона %s (tick=%d): %v — регион деградирован на тик", r.ID, tick, rec)
		}
	}()

	view, events := r.Tick(now, s.store.Thresholds())

	// Стохастика детерминирована парой (регион, тик): повтор тика с тем же
	// сидом мира воспроизводит те же события.
	rng := rand.New(rand.NewSource(regionTickSeed(s.store.Seed, r.ID, tick)))

	if ev, ok := s.rollStochasticEvent(rng, view); ok {
		events = append(events, ev)
	}

	if weather := rollWeather(rng, view); weather != nil {
		v, we := r.ApplyDelta(RegionDelta{Weather: weather, Source: "simulator"}, s.store.Thresholds())
		view = v
		events = append(events, we...)
	}

	// Существа и Эхо региона делают шаг поведения на том же rng
	s.store.Entities.TickBehaviors(r.ID, view.Boundary, rng, dt, now)

	s.store.RegisterEvents(events)
	s.publish(ctx, events)
}

// rollStochasticEvent с вероятностью EventChance порождает случайное
// мировое событие региона
func (s *Simulator) rollStochasticEvent(rng *rand.Rand, view RegionView) (WorldEvent, bool) {
	if rng.Float64() >= s.opts.EventChance {
		return WorldEvent{}, false
	}

	switch rng.Intn(3) {
	case 0:
		species := []string{"glimmer_moth", "song_deer", "chord_wolf", "resonant_crane"}
		ev := newEvent(EventCreatureMigration, view.ID, eventTTL)
		ev.Species = species[rng.Intn(len(species))]
		ev.FromRegion = view.ID
		ev.ToRegion = view.ID // Миграция внутри региона, пока мир одиночный
		return ev, true
	case 1:
		kinds := []CelestialEventType{CelestialEclipse, CelestialMeteorShower, CelestialAurora, CelestialConvergence}
		ev := newEvent(EventCelestialEvent, view.ID, eventTTL)
		ev.Celestial = kinds[rng.Intn(len(kinds))]
		ev.Duration = time.Duration(10+rng.Intn(50)) * time.Minute
		return ev, true
	default:
		echoes := []EchoType{EchoLumi, EchoKai, EchoTerra, EchoIgnis}
		ev := newEvent(EventEchoAppeared, view.ID, eventTTL)
		ev.Echo = echoes[rng.Intn(len(echoes))]
		ev.Position = randomPointIn(rng, view.Boundary)
		return ev, true
	}
}

// Порог дискорда, при котором над регионом встаёт шторм диссонанса
const stormDiscordMin = 0.75

// rollWeather возвращает новую погоду региона или nil, если смены нет.
// Высокий дискорд детерминированно порождает шторм диссонанса.
func rollWeather(rng *rand.Rand, view RegionView) *WeatherState {
	if view.Discord >= stormDiscordMin {
		if view.Weather.Type == WeatherDissonanceStorm {
			return nil
		}
		return &WeatherState{
			Type:          WeatherDissonanceStorm,
			Intensity:     clamp01(view.Discord),
			WindDirection: rng.Float64() * 360.0,
			WindSpeed:     20.0 + rng.Float64()*30.0,
		}
	}

	// Шторм стихает вместе с дискордом
	if view.Weather.Type == WeatherDissonanceStorm {
		return &WeatherState{Type: WeatherClear}
	}

	// Редкая естественная смена погоды
	if rng.Float64() >= 0.05 {
		return nil
	}
	kinds := []WeatherType{WeatherClear, WeatherRain, WeatherFog, WeatherSnow}
	return &WeatherState{
		Type:          kinds[rng.Intn(len(kinds))],
		Intensity:     rng.Float64(),
		WindDirection: rng.Float64() * 360.0,
		WindSpeed:     rng.Float64() * 15.0,
	}
}

// publish отправляет события в шину. Доставка at-least-once: подписчики
// дедуплицируют по Envelope.ID.
func (s *Simulator) publish(ctx context.Context, events []WorldEvent) {
	if s.bus == nil {
		return
	}
	for _, ev := range events {
		tickEvents.WithLabelValues(string(ev.Type)).Inc()

		// ID конверта совпадает с ID события: повторная доставка несёт
		// тот же идентификатор и отсекается дедупликацией подписчика.
		env := &eventbus.Envelope{
			ID:        ev.ID,
			Timestamp: ev.Timestamp,
			Source:    "simulator",
			EventType: string(ev.Type),
			RegionID:  ev.RegionID,
			Payload:   ev.Marshal(),
		}
		if err := s.bus.Publish(ctx, env); err != nil {
			logging.Warn("Не удалось опубликовать событие %s: %v", ev.Type, err)
		}
	}
}

// regionTickSeed сводит (сид мира, регион, тик) к сиду генератора
func regionTickSeed(worldSeed int64, regionID string, tick uint64) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(regionID))
	return worldSeed ^ int64(h.Sum64()) ^ int64(tick)
}

// randomPointIn возвращает случайную точку внутри границ
func randomPointIn(rng *rand.Rand, box vec.Box) vec.Vec3Float {
	return vec.Vec3Float{
		X: box.Min.X + rng.Float64()*(box.Max.X-box.Min.X),
		Y: box.Min.Y + rng.Float64()*(box.Max.Y-box.Min.Y),
		Z: box.Min.Z + rng.Float64()*(box.Max.Z-box.Min.Z),
	}
}

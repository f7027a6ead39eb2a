package world

import (
	"math"
	"sync"
	"time"

	"github.com/finalverse/finalverse/internal/vec"
)

// BiomeType представляет тип биома региона
type BiomeType string

const (
	BiomePlains    BiomeType = "plains"
	BiomeForest    BiomeType = "forest"
	BiomeDesert    BiomeType = "desert"
	BiomeMountains BiomeType = "mountains"
	BiomeTundra    BiomeType = "tundra"
	BiomeOcean     BiomeType = "ocean"
	BiomeCorrupted BiomeType = "corrupted"

	// Биомы первого часа
	BiomeMemoryGrotto     BiomeType = "memory_grotto"
	BiomeWeaversLanding   BiomeType = "weavers_landing"
	BiomeWhisperwoodGrove BiomeType = "whisperwood_grove"
)

// WeatherType представляет тип погоды
type WeatherType string

const (
	WeatherClear           WeatherType = "clear"
	WeatherRain            WeatherType = "rain"
	WeatherFog             WeatherType = "fog"
	WeatherSnow            WeatherType = "snow"
	WeatherDissonanceStorm WeatherType = "dissonance_storm"
)

// WeatherState описывает текущую погоду региона
type WeatherState struct {
	Type          WeatherType `json:"type"`
	Intensity     float64     `json:"intensity"`
	WindDirection float64     `json:"wind_direction"`
	WindSpeed     float64     `json:"wind_speed"`
}

// Region представляет регион мира.
// Все мутации выполняются под mu: эффекты одного тика атомарны как единое целое.
type Region struct {
	mu sync.Mutex

	ID       string
	WorldID  string
	Name     string
	Boundary vec.Box
	Biome    BiomeType
	Weather  WeatherState

	Harmony float64 // [0,1]
	Discord float64 // [0,1]

	// Биомные базовые уровни, к которым релаксируют значения
	harmonyBase float64
	discordBase float64

	// Защёлки гистерезиса порогов
	silenceLatched bool // дискорд пересёк верхний порог, событие уже выпущено
	harmonyWasLow  bool // гармония была ниже нижнего порога восстановления

	lastTick time.Time
}

// RegionView неизменяемая копия состояния региона для внешних потребителей
type RegionView struct {
	ID       string       `json:"id"`
	WorldID  string       `json:"world_id"`
	Name     string       `json:"name"`
	Boundary vec.Box      `json:"boundary"`
	Biome    BiomeType    `json:"biome"`
	Weather  WeatherState `json:"weather"`
	Harmony  float64      `json:"harmony_level"`
	Discord  float64      `json:"discord_level"`
}

// RegionDelta описывает атомарное изменение региона
type RegionDelta struct {
	HarmonyDelta float64       `json:"harmony_delta"`
	DiscordDelta float64       `json:"discord_delta"`
	Weather      *WeatherState `json:"weather,omitempty"`
	Source       string        `json:"source,omitempty"`
}

// Thresholds параметры гистерезиса порогов гармонии/дискорда
type Thresholds struct {
	DiscordHigh    float64 // Верхний порог дискорда: пересечение вверх → SilenceOutbreak
	DiscordLow     float64 // Нижний порог: сброс защёлки Silence
	HarmonyRecover float64 // Пересечение вверх после спада → HarmonyRestored
	HarmonyLow     float64 // Порог, ниже которого взводится защёлка восстановления
}

// DefaultThresholds возвращает пороги по умолчанию
func DefaultThresholds() Thresholds {
	return Thresholds{
		DiscordHigh:    0.85,
		DiscordLow:     0.70,
		HarmonyRecover: 0.75,
		HarmonyLow:     0.50,
	}
}

const (
	// Время жизни событий в World.ActiveEvents
	eventTTL = 30 * time.Minute

	// Масштаб радиуса SilenceOutbreak от величины превышения порога
	silenceRadiusBase  = 100.0
	silenceRadiusScale = 800.0
)

// clamp01 ограничивает значение диапазоном [0,1]
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RegionSpec статические параметры региона при создании мира
type RegionSpec struct {
	ID             string
	Name           string
	Biome          BiomeType
	Boundary       vec.Box
	HarmonyBase    float64
	DiscordBase    float64
	InitialHarmony float64
	InitialDiscord float64
}

// NewRegion создаёт регион из статического определения
func NewRegion(worldID string, spec RegionSpec) *Region {
	return &Region{
		ID:          spec.ID,
		WorldID:     worldID,
		Name:        spec.Name,
		Boundary:    spec.Boundary,
		Biome:       spec.Biome,
		Weather:     WeatherState{Type: WeatherClear},
		Harmony:     clamp01(spec.InitialHarmony),
		Discord:     clamp01(spec.InitialDiscord),
		harmonyBase: clamp01(spec.HarmonyBase),
		discordBase: clamp01(spec.DiscordBase),
		lastTick:    time.Now().UTC(),
	}
}

// ApplyDelta атомарно применяет дельту и возвращает новое состояние
// вместе с событиями пересечения порогов
func (r *Region) ApplyDelta(delta RegionDelta, th Thresholds) (RegionView, []WorldEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.applyDeltaLocked(delta, th)
	return r.viewLocked(), events
}

// Скорость экспоненциальной релаксации к биомной базе
const relaxRate = 0.05

// Tick выполняет один шаг метаболизма региона: релаксацию гармонии и
// дискорда к биомным базам и проверку порогов. Эффекты тика атомарны.
func (r *Region) Tick(now time.Time, th Thresholds) (RegionView, []WorldEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dt := now.Sub(r.lastTick).Seconds()
	if dt < 0 {
		dt = 0
	}
	r.lastTick = now

	decay := math.Exp(-relaxRate * dt)
	r.Harmony = clamp01(r.harmonyBase + (r.Harmony-r.harmonyBase)*decay)
	r.Discord = clamp01(r.discordBase + (r.Discord-r.discordBase)*decay)

	events := r.checkThresholdsLocked(th)
	return r.viewLocked(), events
}

// Contains проверяет принадлежность мировой позиции региону
func (r *Region) Contains(pos vec.Vec3Float) bool {
	return r.Boundary.Contains(pos)
}

// View возвращает согласованную копию состояния региона
func (r *Region) View() RegionView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *Region) viewLocked() RegionView {
	return RegionView{
		ID:       r.ID,
		WorldID:  r.WorldID,
		Name:     r.Name,
		Boundary: r.Boundary,
		Biome:    r.Biome,
		Weather:  r.Weather,
		Harmony:  r.Harmony,
		Discord:  r.Discord,
	}
}

// applyDeltaLocked применяет дельту и возвращает события, порождённые
// пересечением порогов. Вызывается строго под r.mu.
func (r *Region) applyDeltaLocked(delta RegionDelta, th Thresholds) []WorldEvent {
	r.Harmony = clamp01(r.Harmony + delta.HarmonyDelta)
	r.Discord = clamp01(r.Discord + delta.DiscordDelta)
	if delta.Weather != nil {
		r.Weather = *delta.Weather
	}
	return r.checkThresholdsLocked(th)
}

// checkThresholdsLocked проверяет пороги с гистерезисом.
// Защёлки гарантируют, что дрожание значения у порога не порождает
// лавину повторных событий.
func (r *Region) checkThresholdsLocked(th Thresholds) []WorldEvent {
	var events []WorldEvent

	// Дискорд: пересечение верхнего порога вверх → вспышка Безмолвия.
	if !r.silenceLatched && r.Discord >= th.DiscordHigh {
		r.silenceLatched = true
		overshoot := r.Discord - th.DiscordHigh

		ev := newEvent(EventSilenceOutbreak, r.ID, eventTTL)
		ev.Epicenter = r.Boundary.Centroid()
		ev.Radius = silenceRadiusBase + silenceRadiusScale*overshoot
		ev.Intensity = overshoot
		events = append(events, ev)

		// Вспышка — каскад: Безмолвие мгновенно насыщает дискорд
		// до максимума и разъедает сам ландшафт региона.
		r.Discord = 1.0
		r.Biome = BiomeCorrupted
	} else if r.silenceLatched && r.Discord < th.DiscordLow {
		r.silenceLatched = false
	}

	// Гармония: восстановление фиксируется только после реального спада.
	if r.Harmony < th.HarmonyLow {
		r.harmonyWasLow = true
	} else if r.harmonyWasLow && r.Harmony >= th.HarmonyRecover {
		r.harmonyWasLow = false

		ev := newEvent(EventHarmonyRestored, r.ID, eventTTL)
		ev.Amount = r.Harmony - th.HarmonyLow
		events = append(events, ev)
	}

	return events
}

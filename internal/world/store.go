package world

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/finalverse/finalverse/internal/logging"
	"github.com/finalverse/finalverse/internal/vec"
	"github.com/finalverse/finalverse/internal/world/entity"
)

// Сентинельные ошибки уровня мира
var (
	ErrRegionNotFound = errors.New("world: регион не найден")
	ErrGridNotFound   = errors.New("world: грид не найден")
)

// Игровое время течёт в 60 раз быстрее реального
const timeScale = 60.0

// WorldTime игровое время мира
type WorldTime struct {
	Day  uint64  `json:"day"`
	Hour float64 `json:"hour"` // [0,24)
}

// advance продвигает игровое время на dt реальных секунд
func (t *WorldTime) advance(dt float64) {
	t.Hour += dt * timeScale / 3600.0
	for t.Hour >= 24.0 {
		t.Hour -= 24.0
		t.Day++
	}
}

// WorldState агрегированный срез состояния мира
type WorldState struct {
	WorldID       string       `json:"world_id"`
	Name          string       `json:"name"`
	Tick          uint64       `json:"tick"`
	Time          WorldTime    `json:"time"`
	GlobalHarmony float64      `json:"global_harmony"`
	GlobalDiscord float64      `json:"global_discord"`
	Regions       []RegionView `json:"regions"`
	ActiveEvents  []WorldEvent `json:"active_events"`
}

// Store авторитетное состояние мира: регионы, гриды, сущности,
// активные события и игровое время.
type Store struct {
	WorldID string
	Name    string
	Seed    int64

	mu      sync.RWMutex
	regions map[string]*Region
	grids   map[string]*Grid

	timeMu sync.Mutex
	time   WorldTime
	tick   atomic.Uint64

	eventsMu sync.Mutex
	events   map[string]WorldEvent // активные события по ID

	generator  *GridGenerator
	genGroup   singleflight.Group
	thresholds Thresholds

	Entities *entity.Registry
}

// NewStore создаёт мир из статических определений регионов
func NewStore(worldID, name string, seed int64, specs []RegionSpec, th Thresholds) *Store {
	s := &Store{
		WorldID:    worldID,
		Name:       name,
		Seed:       seed,
		regions:    make(map[string]*Region),
		grids:      make(map[string]*Grid),
		events:     make(map[string]WorldEvent),
		generator:  NewGridGenerator(),
		thresholds: th,
	}

	for _, spec := range specs {
		s.regions[spec.ID] = NewRegion(worldID, spec)
	}

	s.Entities = entity.NewRegistry(s.ResolveRegion)

	logging.Info("Мир %s создан: %d регионов, seed=%d", worldID, len(specs), seed)
	return s
}

// Thresholds возвращает пороги гистерезиса мира
func (s *Store) Thresholds() Thresholds {
	return s.thresholds
}

// ResolveRegion находит регион, содержащий мировую позицию
func (s *Store) ResolveRegion(pos vec.Vec3Float) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, r := range s.regions {
		if r.Contains(pos) {
			return id, true
		}
	}
	return "", false
}

// RegionsIntersecting возвращает ID регионов, пересекающих сферу интереса
func (s *Store) RegionsIntersecting(center vec.Vec3Float, radius float64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, r := range s.regions {
		if r.Boundary.IntersectsSphere(center, radius) {
			out = append(out, id)
		}
	}
	return out
}

// Region возвращает регион по идентификатору
func (s *Store) Region(id string) (*Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRegionNotFound, id)
	}
	return r, nil
}

// Regions возвращает все регионы мира
func (s *Store) Regions() []*Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Region, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, r)
	}
	return out
}

// GetWorldState возвращает агрегированный срез мира.
// Пустой regionIDs означает все регионы.
func (s *Store) GetWorldState(regionIDs []string) (WorldState, error) {
	s.mu.RLock()
	var selected []*Region
	if len(regionIDs) == 0 {
		selected = make([]*Region, 0, len(s.regions))
		for _, r := range s.regions {
			selected = append(selected, r)
		}
	} else {
		for _, id := range regionIDs {
			r, ok := s.regions[id]
			if !ok {
				s.mu.RUnlock()
				return WorldState{}, fmt.Errorf("%w: %s", ErrRegionNotFound, id)
			}
			selected = append(selected, r)
		}
	}
	s.mu.RUnlock()

	views := make([]RegionView, 0, len(selected))
	var harmonySum, discordSum float64
	for _, r := range selected {
		v := r.View()
		views = append(views, v)
		harmonySum += v.Harmony
		discordSum += v.Discord
	}

	state := WorldState{
		WorldID: s.WorldID,
		Name:    s.Name,
		Tick:    s.tick.Load(),
		Time:    s.Time(),
		Regions: views,
	}
	if len(views) > 0 {
		state.GlobalHarmony = harmonySum / float64(len(views))
		state.GlobalDiscord = discordSum / float64(len(views))
	}

	state.ActiveEvents = s.ActiveEvents(regionIDs)
	return state, nil
}

// ApplyRegionDelta атомарно применяет дельту к региону. Порождённые
// пороговые события регистрируются в активных и возвращаются вызывающему.
func (s *Store) ApplyRegionDelta(regionID string, delta RegionDelta) (RegionView, []WorldEvent, error) {
	r, err := s.Region(regionID)
	if err != nil {
		return RegionView{}, nil, err
	}

	view, events := r.ApplyDelta(delta, s.thresholds)
	s.RegisterEvents(events)
	return view, events, nil
}

// GetOrGenerateGrid возвращает грид по координате, генерируя ландшафт при
// первом обращении. Конкурентные запросы одной координаты схлопываются в
// одну генерацию через singleflight.
func (s *Store) GetOrGenerateGrid(ctx context.Context, regionID string, coord vec.Vec3) (GridView, error) {
	if _, err := s.Region(regionID); err != nil {
		return GridView{}, err
	}

	gridID := GridID(regionID, coord)

	s.mu.RLock()
	g, ok := s.grids[gridID]
	s.mu.RUnlock()
	if ok {
		return g.View(), nil
	}

	result, err, _ := s.genGroup.Do(gridID, func() (interface{}, error) {
		// Повторная проверка: параллельный вызов мог успеть вставить грид
		s.mu.RLock()
		g, ok := s.grids[gridID]
		s.mu.RUnlock()
		if ok {
			return g, nil
		}

		terrain := s.generator.Generate(s.WorldID, coord, s.Seed)
		blob, err := terrain.Encode()
		if err != nil {
			return nil, err
		}

		g = newGrid(regionID, coord, blob, terrain.DominantBiome)

		s.mu.Lock()
		s.grids[gridID] = g
		s.mu.Unlock()

		logging.Debug("Грид %s сгенерирован: биом %s, %d байт", gridID, terrain.DominantBiome, len(blob))
		return g, nil
	})
	if err != nil {
		return GridView{}, err
	}

	select {
	case <-ctx.Done():
		return GridView{}, ctx.Err()
	default:
	}

	return result.(*Grid).View(), nil
}

// GenerateGridWithHint генерирует грид с подсказкой биома.
// Подсказка перекрывает доминантный биом (first_hour_biome — именованные
// стартовые зоны), сам ландшафт остаётся детерминированным.
func (s *Store) GenerateGridWithHint(ctx context.Context, regionID string, coord vec.Vec3, hint string) (GridView, error) {
	view, err := s.GetOrGenerateGrid(ctx, regionID, coord)
	if err != nil {
		return GridView{}, err
	}

	if biome, ok := s.generator.BiomeForHint(hint, coord); ok {
		s.mu.RLock()
		g := s.grids[view.ID]
		s.mu.RUnlock()

		g.mu.Lock()
		g.DominantBiome = biome
		g.mu.Unlock()
		view.DominantBiome = biome
	}

	return view, nil
}

// Grid возвращает уже сгенерированный грид
func (s *Store) Grid(regionID string, coord vec.Vec3) (GridView, error) {
	s.mu.RLock()
	g, ok := s.grids[GridID(regionID, coord)]
	s.mu.RUnlock()
	if !ok {
		return GridView{}, fmt.Errorf("%w: %s", ErrGridNotFound, GridID(regionID, coord))
	}
	return g.View(), nil
}

// GridRaw возвращает объект грида для внутренних подсистем (стриминг)
func (s *Store) GridRaw(regionID string, coord vec.Vec3) (*Grid, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grids[GridID(regionID, coord)]
	return g, ok
}

// GridsInRegion возвращает материализованные гриды региона
func (s *Store) GridsInRegion(regionID string) []*Grid {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Grid
	for _, g := range s.grids {
		if g.RegionID == regionID {
			out = append(out, g)
		}
	}
	return out
}

// GridCount возвращает число материализованных гридов
func (s *Store) GridCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.grids)
}

// Time возвращает текущее игровое время
func (s *Store) Time() WorldTime {
	s.timeMu.Lock()
	defer s.timeMu.Unlock()
	return s.time
}

// Tick возвращает номер последнего завершённого тика
func (s *Store) Tick() uint64 {
	return s.tick.Load()
}

// AdvanceTick продвигает счётчик тиков и игровое время, попутно удаляя
// истёкшие события. Возвращает номер нового тика.
func (s *Store) AdvanceTick(dt float64) uint64 {
	s.timeMu.Lock()
	s.time.advance(dt)
	s.timeMu.Unlock()

	s.expireEvents(time.Now().UTC())
	return s.tick.Add(1)
}

// RegisterEvents добавляет события в активные
func (s *Store) RegisterEvents(events []WorldEvent) {
	if len(events) == 0 {
		return
	}
	s.eventsMu.Lock()
	for _, ev := range events {
		s.events[ev.ID] = ev
	}
	s.eventsMu.Unlock()
}

// ActiveEvents возвращает неистёкшие события. Непустой regionIDs
// ограничивает выборку перечисленными регионами (события без региона
// считаются глобальными и попадают в любую выборку).
func (s *Store) ActiveEvents(regionIDs []string) []WorldEvent {
	var want map[string]struct{}
	if len(regionIDs) > 0 {
		want = make(map[string]struct{}, len(regionIDs))
		for _, id := range regionIDs {
			want[id] = struct{}{}
		}
	}

	now := time.Now().UTC()
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	out := make([]WorldEvent, 0, len(s.events))
	for _, ev := range s.events {
		if ev.Expired(now) {
			continue
		}
		if want != nil && ev.RegionID != "" {
			if _, ok := want[ev.RegionID]; !ok {
				continue
			}
		}
		out = append(out, ev)
	}
	return out
}

// expireEvents удаляет истёкшие события
func (s *Store) expireEvents(now time.Time) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	for id, ev := range s.events {
		if ev.Expired(now) {
			delete(s.events, id)
		}
	}
}

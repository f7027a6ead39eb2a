package world

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/finalverse/finalverse/internal/logging"
	"github.com/finalverse/finalverse/internal/vec"
	"github.com/finalverse/finalverse/internal/world/entity"
)

// Версия формата снапшота
const snapshotVersion = 1

// WorldSnapshot полный сериализуемый срез мира для персистентности.
// Восстановленный из снапшота мир структурно эквивалентен исходному:
// совпадают регионы с защёлками порогов, гриды с блобами ландшафта,
// сущности и активные события.
type WorldSnapshot struct {
	Version    int       `json:"version"`
	WorldID    string    `json:"world_id"`
	Name       string    `json:"name"`
	Seed       int64     `json:"seed"`
	CapturedAt time.Time `json:"captured_at"`

	Tick uint64    `json:"tick"`
	Time WorldTime `json:"time"`

	Regions      []RegionSnapshot `json:"regions"`
	Grids        []GridSnapshot   `json:"grids"`
	Entities     []entity.Record  `json:"entities"`
	ActiveEvents []WorldEvent     `json:"active_events"`
}

// RegionSnapshot состояние региона, включая внутренние защёлки гистерезиса
type RegionSnapshot struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Boundary       vec.Box      `json:"boundary"`
	Biome          BiomeType    `json:"biome"`
	Weather        WeatherState `json:"weather"`
	Harmony        float64      `json:"harmony"`
	Discord        float64      `json:"discord"`
	HarmonyBase    float64      `json:"harmony_base"`
	DiscordBase    float64      `json:"discord_base"`
	SilenceLatched bool         `json:"silence_latched"`
	HarmonyWasLow  bool         `json:"harmony_was_low"`
}

// GridSnapshot сериализованный грид
type GridSnapshot struct {
	RegionID      string         `json:"region_id"`
	Coord         vec.Vec3       `json:"coord"`
	TerrainBlob   []byte         `json:"terrain_blob"`
	DominantBiome BiomeType      `json:"dominant_biome"`
	GeneratedAt   time.Time      `json:"generated_at"`
	Modifiers     []GridModifier `json:"modifiers,omitempty"`
}

// Snapshot делает полный срез мира
func (s *Store) Snapshot() *WorldSnapshot {
	snap := &WorldSnapshot{
		Version:    snapshotVersion,
		WorldID:    s.WorldID,
		Name:       s.Name,
		Seed:       s.Seed,
		CapturedAt: time.Now().UTC(),
		Tick:       s.tick.Load(),
		Time:       s.Time(),
	}

	for _, r := range s.Regions() {
		r.mu.Lock()
		snap.Regions = append(snap.Regions, RegionSnapshot{
			ID:             r.ID,
			Name:           r.Name,
			Boundary:       r.Boundary,
			Biome:          r.Biome,
			Weather:        r.Weather,
			Harmony:        r.Harmony,
			Discord:        r.Discord,
			HarmonyBase:    r.harmonyBase,
			DiscordBase:    r.discordBase,
			SilenceLatched: r.silenceLatched,
			HarmonyWasLow:  r.harmonyWasLow,
		})
		r.mu.Unlock()
	}

	s.mu.RLock()
	grids := make([]*Grid, 0, len(s.grids))
	for _, g := range s.grids {
		grids = append(grids, g)
	}
	s.mu.RUnlock()

	for _, g := range grids {
		v := g.View()
		snap.Grids = append(snap.Grids, GridSnapshot{
			RegionID:      v.RegionID,
			Coord:         v.Coord,
			TerrainBlob:   v.TerrainBlob,
			DominantBiome: v.DominantBiome,
			GeneratedAt:   v.GeneratedAt,
			Modifiers:     v.Modifiers,
		})
	}

	snap.Entities = s.Entities.SnapshotAll()
	snap.ActiveEvents = s.ActiveEvents(nil)
	return snap
}

// Restore восстанавливает состояние мира из снапшота
func (s *Store) Restore(snap *WorldSnapshot) error {
	if snap.Version != snapshotVersion {
		return fmt.Errorf("world: неподдерживаемая версия снапшота %d", snap.Version)
	}
	if snap.WorldID != s.WorldID {
		return fmt.Errorf("world: снапшот мира %s не применим к миру %s", snap.WorldID, s.WorldID)
	}

	s.mu.Lock()
	s.regions = make(map[string]*Region, len(snap.Regions))
	for _, rs := range snap.Regions {
		s.regions[rs.ID] = &Region{
			ID:             rs.ID,
			WorldID:        snap.WorldID,
			Name:           rs.Name,
			Boundary:       rs.Boundary,
			Biome:          rs.Biome,
			Weather:        rs.Weather,
			Harmony:        rs.Harmony,
			Discord:        rs.Discord,
			harmonyBase:    rs.HarmonyBase,
			discordBase:    rs.DiscordBase,
			silenceLatched: rs.SilenceLatched,
			harmonyWasLow:  rs.HarmonyWasLow,
			lastTick:       time.Now().UTC(),
		}
	}

	s.grids = make(map[string]*Grid, len(snap.Grids))
	for _, gs := range snap.Grids {
		g := newGrid(gs.RegionID, gs.Coord, gs.TerrainBlob, gs.DominantBiome)
		g.GeneratedAt = gs.GeneratedAt
		g.Modifiers = gs.Modifiers
		s.grids[g.ID] = g
	}
	s.mu.Unlock()

	s.timeMu.Lock()
	s.time = snap.Time
	s.timeMu.Unlock()
	s.tick.Store(snap.Tick)

	s.eventsMu.Lock()
	s.events = make(map[string]WorldEvent, len(snap.ActiveEvents))
	for _, ev := range snap.ActiveEvents {
		s.events[ev.ID] = ev
	}
	s.eventsMu.Unlock()

	s.Entities.RestoreAll(snap.Entities)

	logging.Info("✅ Мир %s восстановлен из снапшота: тик %d, %d регионов, %d гридов, %d сущностей",
		s.WorldID, snap.Tick, len(snap.Regions), len(snap.Grids), len(snap.Entities))
	return nil
}

// MarshalSnapshot сериализует снапшот в JSON
func MarshalSnapshot(snap *WorldSnapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// UnmarshalSnapshot восстанавливает снапшот из JSON
func UnmarshalSnapshot(data []byte) (*WorldSnapshot, error) {
	var snap WorldSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("world: разбор снапшота: %w", err)
	}
	return &snap, nil
}

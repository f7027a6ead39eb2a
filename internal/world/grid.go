package world

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finalverse/finalverse/internal/vec"
)

// Grid единица пространственного разбиения региона (куб 64×64×64 мировых
// единиц). Ландшафт генерируется лениво при первом обращении; блоб после
// генерации неизменяем, мутируется только список модификаторов.
type Grid struct {
	mu sync.Mutex

	ID       string
	RegionID string
	Coord    vec.Vec3

	TerrainBlob   []byte // Сжатый бинарный TerrainState (формат FVTR)
	DominantBiome BiomeType
	GeneratedAt   time.Time

	Modifiers []GridModifier

	viewers atomic.Int64 // Подписчики стриминга, интересующиеся этим гридом
}

// GridModifier пост-генерационное изменение ландшафта грида
type GridModifier struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"` // "corruption", "structure", "crater"...
	Position  vec.Vec3Float `json:"position"`
	Radius    float64       `json:"radius"`
	Magnitude float64       `json:"magnitude"`
	AppliedAt time.Time     `json:"applied_at"`
}

// GridView копия состояния грида для внешних потребителей
type GridView struct {
	ID            string         `json:"id"`
	RegionID      string         `json:"region_id"`
	Coord         vec.Vec3       `json:"coord"`
	TerrainBlob   []byte         `json:"terrain_blob"`
	DominantBiome BiomeType      `json:"dominant_biome"`
	GeneratedAt   time.Time      `json:"generated_at"`
	Modifiers     []GridModifier `json:"modifiers,omitempty"`
	Viewers       int64          `json:"viewers"`
}

// GridID каноничный идентификатор грида: "<регион>:<x>:<y>:<z>"
func GridID(regionID string, coord vec.Vec3) string {
	return fmt.Sprintf("%s:%d:%d:%d", regionID, coord.X, coord.Y, coord.Z)
}

func newGrid(regionID string, coord vec.Vec3, blob []byte, dominant BiomeType) *Grid {
	return &Grid{
		ID:            GridID(regionID, coord),
		RegionID:      regionID,
		Coord:         coord,
		TerrainBlob:   blob,
		DominantBiome: dominant,
		GeneratedAt:   time.Now().UTC(),
	}
}

// View возвращает согласованную копию грида
func (g *Grid) View() GridView {
	g.mu.Lock()
	defer g.mu.Unlock()

	mods := make([]GridModifier, len(g.Modifiers))
	copy(mods, g.Modifiers)

	return GridView{
		ID:            g.ID,
		RegionID:      g.RegionID,
		Coord:         g.Coord,
		TerrainBlob:   g.TerrainBlob,
		DominantBiome: g.DominantBiome,
		GeneratedAt:   g.GeneratedAt,
		Modifiers:     mods,
		Viewers:       g.viewers.Load(),
	}
}

// AddModifier добавляет модификатор ландшафта
func (g *Grid) AddModifier(m GridModifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Modifiers = append(g.Modifiers, m)
}

// AddViewer/RemoveViewer учитывают подписчиков стриминга.
// Счётчик используется планировщиком симуляции для приоритизации гридов.
func (g *Grid) AddViewer() int64    { return g.viewers.Add(1) }
func (g *Grid) RemoveViewer() int64 { return g.viewers.Add(-1) }

package entity

import (
	"time"

	"github.com/finalverse/finalverse/internal/vec"
)

// ID уникальный идентификатор сущности
type ID uint64

// Type представляет тип сущности
type Type string

const (
	TypePlayer        Type = "player"
	TypeCreature      Type = "creature"
	TypeEchoCompanion Type = "echo_companion"
	TypeStaticProp    Type = "static_prop"
)

// Transform позиция и ориентация сущности.
// UpdatedAt используется для разрешения конкурентных обновлений
// по принципу last-timestamp-wins.
type Transform struct {
	Position  vec.Vec3Float `json:"position"`
	Yaw       float64       `json:"yaw"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// GridRef ссылка на грид-владелец: регион + координата грида.
// Используется как ключ шарда и как глобальный порядок захвата блокировок.
type GridRef struct {
	RegionID string   `json:"region_id"`
	Coord    vec.Vec3 `json:"coord"`
}

// Less задаёт фиксированный глобальный порядок гридов.
// Миграция всегда захватывает шарды в этом порядке, что исключает deadlock.
func (g GridRef) Less(other GridRef) bool {
	if g.RegionID != other.RegionID {
		return g.RegionID < other.RegionID
	}
	return g.Coord.Less(other.Coord)
}

// Entity представляет сущность мира.
// Доступ к полям сериализуется шардом грида-владельца.
type Entity struct {
	ID         ID
	Type       Type
	Transform  Transform
	Components Components
	Active     bool
	Despawned  bool
	SpawnedAt  time.Time
}

// View неизменяемая копия сущности для внешних потребителей
type View struct {
	ID         ID         `json:"id"`
	Type       Type       `json:"type"`
	Transform  Transform  `json:"transform"`
	Components Components `json:"components"`
	Grid       GridRef    `json:"grid"`
	Active     bool       `json:"active"`
}

func (e *Entity) view(grid GridRef) View {
	return View{
		ID:         e.ID,
		Type:       e.Type,
		Transform:  e.Transform,
		Components: e.Components.clone(),
		Grid:       grid,
		Active:     e.Active,
	}
}

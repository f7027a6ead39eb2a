package world

import (
	"encoding/json"
	"time"

	"github.com/finalverse/finalverse/internal/vec"
	"github.com/google/uuid"
)

// WorldEventType определяет тип мирового события
type WorldEventType string

const (
	EventCreatureMigration WorldEventType = "CreatureMigration"
	EventCelestialEvent    WorldEventType = "CelestialEvent"
	EventSilenceOutbreak   WorldEventType = "SilenceOutbreak"
	EventHarmonyRestored   WorldEventType = "HarmonyRestored"
	EventEchoAppeared      WorldEventType = "EchoAppeared"
)

// CelestialEventType подтипы небесных событий
type CelestialEventType string

const (
	CelestialEclipse      CelestialEventType = "Eclipse"
	CelestialMeteorShower CelestialEventType = "MeteorShower"
	CelestialAurora       CelestialEventType = "Aurora"
	CelestialConvergence  CelestialEventType = "Convergence"
)

// EchoType типы Эхо — спутников-ИИ, способных вызывать особые события
type EchoType string

const (
	EchoLumi  EchoType = "Lumi"
	EchoKai   EchoType = "Kai"
	EchoTerra EchoType = "Terra"
	EchoIgnis EchoType = "Ignis"
)

// WorldEvent представляет мировое событие.
// Type — дискриминатор; заполнены только поля соответствующего варианта.
// Событие неизменяемо после публикации и живёт в World.ActiveEvents до ExpiresAt.
type WorldEvent struct {
	ID        string         `json:"id"`
	Type      WorldEventType `json:"type"`
	RegionID  string         `json:"region_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	ExpiresAt time.Time      `json:"expires_at"`

	// SilenceOutbreak
	Epicenter vec.Vec3Float `json:"epicenter,omitempty"`
	Radius    float64       `json:"radius,omitempty"`
	Intensity float64       `json:"intensity,omitempty"`

	// HarmonyRestored
	Amount float64 `json:"amount,omitempty"`

	// CreatureMigration
	Species    string `json:"species,omitempty"`
	FromRegion string `json:"from_region,omitempty"`
	ToRegion   string `json:"to_region,omitempty"`

	// CelestialEvent
	Celestial CelestialEventType `json:"celestial,omitempty"`
	Duration  time.Duration      `json:"duration,omitempty"`

	// EchoAppeared
	Echo     EchoType      `json:"echo,omitempty"`
	Position vec.Vec3Float `json:"position,omitempty"`
}

// newEvent создаёт событие с уникальным ID и временем жизни ttl
func newEvent(eventType WorldEventType, regionID string, ttl time.Duration) WorldEvent {
	now := time.Now().UTC()
	return WorldEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		RegionID:  regionID,
		Timestamp: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired возвращает true, если событие истекло к моменту now
func (e WorldEvent) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Marshal сериализует событие для публикации в EventBus
func (e WorldEvent) Marshal() []byte {
	data, _ := json.Marshal(e)
	return data
}

// UnmarshalEvent восстанавливает событие из payload шины
func UnmarshalEvent(data []byte) (WorldEvent, error) {
	var ev WorldEvent
	err := json.Unmarshal(data, &ev)
	return ev, err
}

package storage

import (
	"context"
	"time"

	"github.com/finalverse/finalverse/internal/vec"
)

// PlayerPosition сохраняемая позиция игрока.
// Привязана к UserID (постоянный идентификатор аккаунта), а не к EntityID,
// чтобы переживать пересоздание сущности между сессиями.
type PlayerPosition struct {
	Position  vec.Vec3Float `json:"position"`
	Yaw       float64       `json:"yaw"`
	RegionID  string        `json:"region_id"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// PositionRepo определяет интерфейс для сохранения и загрузки позиций игроков.
type PositionRepo interface {
	// Save сохраняет позицию игрока в хранилище.
	Save(ctx context.Context, userID uint64, pos PlayerPosition) error

	// Load загружает позицию игрока.
	// Второй результат false означает первый вход пользователя.
	Load(ctx context.Context, userID uint64) (PlayerPosition, bool, error)

	// Delete удаляет сохранённую позицию игрока (для тестов или сброса).
	Delete(ctx context.Context, userID uint64) error

	// BatchSave сохраняет позиции нескольких игроков одновременно
	// (для автосохранения всех онлайн игроков).
	BatchSave(ctx context.Context, positions map[uint64]PlayerPosition) error
}

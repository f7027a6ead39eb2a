package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryPositionRepo реализует PositionRepo в памяти.
// Используется как fallback, когда MariaDB недоступна,
// или для CI/локальной разработки без БД.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryPositionRepo struct {
	mu   sync.RWMutex
	data map[uint64]PlayerPosition // userID -> позиция
}

// NewMemoryPositionRepo создает новый репозиторий позиций в памяти.
func NewMemoryPositionRepo() *MemoryPositionRepo {
	return &MemoryPositionRepo{
		data: make(map[uint64]PlayerPosition),
	}
}

// Save сохраняет позицию игрока в памяти.
func (r *MemoryPositionRepo) Save(ctx context.Context, userID uint64, pos PlayerPosition) error {
	if userID == 0 {
		return fmt.Errorf("недействительный userID: %d", userID)
	}

	// Проверяем контекст на отмену
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[userID] = pos
	return nil
}

// Load загружает позицию игрока из памяти.
func (r *MemoryPositionRepo) Load(ctx context.Context, userID uint64) (PlayerPosition, bool, error) {
	if userID == 0 {
		return PlayerPosition{}, false, fmt.Errorf("недействительный userID: %d", userID)
	}

	select {
	case <-ctx.Done():
		return PlayerPosition{}, false, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, exists := r.data[userID]
	return pos, exists, nil
}

// Delete удаляет сохранённую позицию игрока из памяти.
func (r *MemoryPositionRepo) Delete(ctx context.Context, userID uint64) error {
	if userID == 0 {
		return fmt.Errorf("недействительный userID: %d", userID)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[userID]; !exists {
		return fmt.Errorf("позиция для пользователя %d не найдена", userID)
	}

	delete(r.data, userID)
	return nil
}

// BatchSave сохраняет позиции нескольких игроков в памяти.
func (r *MemoryPositionRepo) BatchSave(ctx context.Context, positions map[uint64]PlayerPosition) error {
	if len(positions) == 0 {
		return nil // Нечего сохранять
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Валидация всех записей перед сохранением
	for userID := range positions {
		if userID == 0 {
			return fmt.Errorf("недействительный userID в batch: %d", userID)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, pos := range positions {
		r.data[userID] = pos
	}

	return nil
}

// Count возвращает количество сохранённых позиций (для отладки).
func (r *MemoryPositionRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Clear очищает все сохранённые позиции (для тестов).
func (r *MemoryPositionRepo) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = make(map[uint64]PlayerPosition)
}

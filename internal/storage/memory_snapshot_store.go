package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/finalverse/finalverse/internal/world"
)

// MemorySnapshotStore хранит снапшоты в памяти. Используется в тестах
// и для запуска без персистентности.
type MemorySnapshotStore struct {
	mu      sync.RWMutex
	latest  map[string][]byte            // worldID -> последний снапшот
	history map[string]map[uint64][]byte // worldID -> tick -> снапшот
}

// NewMemorySnapshotStore создаёт in-memory хранилище снапшотов
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		latest:  make(map[string][]byte),
		history: make(map[string]map[uint64][]byte),
	}
}

// SaveSnapshot сохраняет снапшот в памяти.
// Снапшот сериализуется, чтобы поведение совпадало с дисковой реализацией.
func (ms *MemorySnapshotStore) SaveSnapshot(ctx context.Context, snap *world.WorldSnapshot) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := world.MarshalSnapshot(snap)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.latest[snap.WorldID] = data
	if ms.history[snap.WorldID] == nil {
		ms.history[snap.WorldID] = make(map[uint64][]byte)
	}
	ms.history[snap.WorldID][snap.Tick] = data
	return nil
}

// LoadSnapshot загружает последний снапшот мира
func (ms *MemorySnapshotStore) LoadSnapshot(ctx context.Context, worldID string) (*world.WorldSnapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ms.mu.RLock()
	data, ok := ms.latest[worldID]
	ms.mu.RUnlock()

	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return world.UnmarshalSnapshot(data)
}

// ListTicks возвращает тики сохранённых снапшотов по возрастанию
func (ms *MemorySnapshotStore) ListTicks(ctx context.Context, worldID string) ([]uint64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	ticks := make([]uint64, 0, len(ms.history[worldID]))
	for tick := range ms.history[worldID] {
		ticks = append(ticks, tick)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks, nil
}

// Close ничего не освобождает
func (ms *MemorySnapshotStore) Close() error {
	return nil
}

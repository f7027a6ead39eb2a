package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finalverse/finalverse/internal/vec"
	"github.com/finalverse/finalverse/internal/world"
)

func testSnapshot(tick uint64) *world.WorldSnapshot {
	return &world.WorldSnapshot{
		Version:    1,
		WorldID:    "weavers-rest",
		Name:       "Weaver's Rest",
		Seed:       20240607,
		CapturedAt: time.Now().UTC(),
		Tick:       tick,
		Time:       world.WorldTime{Day: 2, Hour: 13.5},
		Regions: []world.RegionSnapshot{
			{
				ID:    "terra_nova",
				Name:  "Terra Nova",
				Biome: world.BiomePlains,
				Boundary: vec.Box{
					Min: vec.Vec3Float{},
					Max: vec.Vec3Float{X: 2048, Y: 512, Z: 2048},
				},
				Harmony: 0.75,
				Discord: 0.05,
			},
		},
	}
}

// TestMemorySnapshotStore проверяет round-trip снапшота через хранилище
func TestMemorySnapshotStore(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()

	// Пустое хранилище — снапшот не найден
	_, err := store.LoadSnapshot(ctx, "weavers-rest")
	assert.ErrorIs(t, err, ErrSnapshotNotFound, "Ожидалась ошибка отсутствия снапшота")

	snap := testSnapshot(42)
	require.NoError(t, store.SaveSnapshot(ctx, snap), "Сохранение снапшота не должно падать")

	loaded, err := store.LoadSnapshot(ctx, "weavers-rest")
	require.NoError(t, err, "Загрузка снапшота не должна падать")

	assert.Equal(t, snap.WorldID, loaded.WorldID)
	assert.Equal(t, snap.Tick, loaded.Tick)
	assert.Equal(t, snap.Time, loaded.Time)
	require.Len(t, loaded.Regions, 1)
	assert.Equal(t, snap.Regions[0], loaded.Regions[0], "Регион должен пережить round-trip без потерь")
}

// TestMemorySnapshotStoreHistory проверяет историю снапшотов по тикам
func TestMemorySnapshotStoreHistory(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()

	for _, tick := range []uint64{10, 5, 20} {
		require.NoError(t, store.SaveSnapshot(ctx, testSnapshot(tick)))
	}

	ticks, err := store.ListTicks(ctx, "weavers-rest")
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 10, 20}, ticks, "Тики должны возвращаться по возрастанию")

	// Последним считается последний сохранённый, а не максимальный тик
	loaded, err := store.LoadSnapshot(ctx, "weavers-rest")
	require.NoError(t, err)
	assert.Equal(t, uint64(20), loaded.Tick)
}

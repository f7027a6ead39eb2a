package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finalverse/finalverse/internal/eventbus"
	"github.com/finalverse/finalverse/internal/vec"
	"github.com/finalverse/finalverse/internal/world"
	"github.com/finalverse/finalverse/internal/world/entity"
)

func streamTestStore() *world.Store {
	specs := []world.RegionSpec{
		{
			ID: "terra_nova", Name: "Terra Nova", Biome: world.BiomePlains,
			Boundary: vec.Box{
				Min: vec.Vec3Float{X: 0, Y: 0, Z: 0},
				Max: vec.Vec3Float{X: 1024, Y: 256, Z: 1024},
			},
			HarmonyBase: 0.6, DiscordBase: 0.1,
			InitialHarmony: 0.7, InitialDiscord: 0.1,
		},
		{
			ID: "umbra", Name: "Umbra", Biome: world.BiomeTundra,
			Boundary: vec.Box{
				Min: vec.Vec3Float{X: 2048, Y: 0, Z: 0},
				Max: vec.Vec3Float{X: 3072, Y: 256, Z: 1024},
			},
			HarmonyBase: 0.4, DiscordBase: 0.2,
			InitialHarmony: 0.5, InitialDiscord: 0.2,
		},
	}
	return world.NewStore("weavers-rest", "Weaver's Rest", 1, specs, world.DefaultThresholds())
}

// tryRecv забирает дельту из канала без блокировки
func tryRecv(ch <-chan *Delta) (*Delta, bool) {
	select {
	case d, ok := <-ch:
		return d, ok
	default:
		return nil, false
	}
}

// TestStreamerInterestScoping проверяет, что подписчик никогда не получает
// обновлений за пределами своей зоны интереса
func TestStreamerInterestScoping(t *testing.T) {
	s := streamTestStore()
	st, err := NewStreamer(context.Background(), s, nil)
	require.NoError(t, err)
	defer st.Close()

	sub := st.Register(Interest{Regions: []string{"terra_nova"}})

	// Первая рассылка несёт стартовый срез зоны интереса
	st.Broadcast()
	first, ok := tryRecv(sub.Updates())
	require.True(t, ok, "Стартовая дельта должна прийти")
	require.Len(t, first.Regions, 1)
	assert.Equal(t, "terra_nova", first.Regions[0].ID)

	// Изменения чужого региона подписчику не видны
	_, _, err = s.ApplyRegionDelta("umbra", world.RegionDelta{HarmonyDelta: 0.05})
	require.NoError(t, err)
	_, err = s.Entities.Spawn(entity.SpawnSpec{
		Type:     entity.TypeCreature,
		Position: vec.Vec3Float{X: 2500, Y: 0, Z: 500},
	})
	require.NoError(t, err)

	st.Broadcast()
	_, ok = tryRecv(sub.Updates())
	assert.False(t, ok, "Изменения вне зоны интереса не должны доставляться")

	// Изменение своего региона доставляется
	_, _, err = s.ApplyRegionDelta("terra_nova", world.RegionDelta{HarmonyDelta: 0.05})
	require.NoError(t, err)

	st.Broadcast()
	d, ok := tryRecv(sub.Updates())
	require.True(t, ok)
	require.Len(t, d.Regions, 1)
	assert.Equal(t, "terra_nova", d.Regions[0].ID)
	assert.Empty(t, d.Entities, "Сущность чужого региона не попадает в дельту")
}

// TestStreamerEntityDeltas проверяет доставку появившихся, изменившихся
// и исчезнувших сущностей
func TestStreamerEntityDeltas(t *testing.T) {
	s := streamTestStore()
	st, err := NewStreamer(context.Background(), s, nil)
	require.NoError(t, err)
	defer st.Close()

	sub := st.Register(Interest{Regions: []string{"terra_nova"}})
	st.Broadcast()
	tryRecv(sub.Updates()) // стартовый срез

	id, err := s.Entities.Spawn(entity.SpawnSpec{
		Type:     entity.TypePlayer,
		Position: vec.Vec3Float{X: 100, Y: 0, Z: 100},
	})
	require.NoError(t, err)

	st.Broadcast()
	d, ok := tryRecv(sub.Updates())
	require.True(t, ok)
	require.Len(t, d.Entities, 1)
	assert.Equal(t, id, d.Entities[0].ID)

	// Без изменений — без дельты
	st.Broadcast()
	_, ok = tryRecv(sub.Updates())
	assert.False(t, ok, "Повторная отправка неизменённой сущности запрещена")

	// Движение сущности доставляется
	require.NoError(t, s.Entities.UpdateTransform(id,
		vec.Vec3Float{X: 150, Y: 0, Z: 150}, 90, time.Now().UTC().Add(time.Second)))

	st.Broadcast()
	d, ok = tryRecv(sub.Updates())
	require.True(t, ok)
	require.Len(t, d.Entities, 1)
	assert.Equal(t, 150.0, d.Entities[0].Transform.Position.X)

	// Удаление сущности приходит как RemovedEntities
	require.NoError(t, s.Entities.Despawn(id))

	st.Broadcast()
	d, ok = tryRecv(sub.Updates())
	require.True(t, ok)
	assert.Empty(t, d.Entities)
	assert.Equal(t, []entity.ID{id}, d.RemovedEntities)
}

// TestStreamerBackpressure проверяет, что медленный потребитель получает
// одну схлопнутую Resync-дельту вместо неограниченного бэклога, после чего
// доставка возвращается к обычному режиму
func TestStreamerBackpressure(t *testing.T) {
	s := streamTestStore()
	st, err := NewStreamer(context.Background(), s, nil)
	require.NoError(t, err)
	defer st.Close()

	sub := st.Register(Interest{Regions: []string{"terra_nova"}})

	// Потребитель молчит: переполняем очередь с запасом
	const rounds = subscriberBuffer + 8
	for i := 0; i < rounds; i++ {
		delta := 0.001
		if i%2 == 1 {
			delta = -0.001
		}
		_, _, err := s.ApplyRegionDelta("terra_nova", world.RegionDelta{HarmonyDelta: delta})
		require.NoError(t, err)
		st.Broadcast()
	}

	// В очереди ровно вместимость канала, хвост схлопнут в pending
	drained := 0
	for {
		d, ok := tryRecv(sub.Updates())
		if !ok {
			break
		}
		assert.False(t, d.Resync, "Дельты из очереди — обычные приращения")
		drained++
	}
	assert.Equal(t, subscriberBuffer, drained, "Бэклог ограничен вместимостью очереди")

	// Следующая рассылка проталкивает накопленный Resync, затем свежую дельту
	_, _, err = s.ApplyRegionDelta("terra_nova", world.RegionDelta{HarmonyDelta: 0.002})
	require.NoError(t, err)
	st.Broadcast()

	resync, ok := tryRecv(sub.Updates())
	require.True(t, ok)
	assert.True(t, resync.Resync, "Схлопнутая дельта помечена Resync")
	require.Len(t, resync.Regions, 1, "Промежуточные версии региона слиты в последнюю")

	fresh, ok := tryRecv(sub.Updates())
	require.True(t, ok)
	assert.False(t, fresh.Resync, "После resync доставка возвращается к обычному режиму")

	_, ok = tryRecv(sub.Updates())
	assert.False(t, ok)
}

// TestStreamerUnregisterIdempotent проверяет повторную отписку
func TestStreamerUnregisterIdempotent(t *testing.T) {
	s := streamTestStore()
	st, err := NewStreamer(context.Background(), s, nil)
	require.NoError(t, err)

	sub := st.Register(Interest{})
	assert.Equal(t, 1, st.SubscriberCount())

	st.Unregister(sub.ID)
	assert.Equal(t, 0, st.SubscriberCount())

	// Канал закрыт ровно один раз
	_, ok := <-sub.Updates()
	assert.False(t, ok)

	assert.NotPanics(t, func() { st.Unregister(sub.ID) })

	// Рассылка после отписки безопасна
	_, _, err = s.ApplyRegionDelta("terra_nova", world.RegionDelta{HarmonyDelta: 0.01})
	require.NoError(t, err)
	assert.NotPanics(t, st.Broadcast)
}

// TestStreamerEventDedup проверяет дедупликацию at-least-once доставки:
// повторный конверт с тем же ID события не доставляется подписчику
func TestStreamerEventDedup(t *testing.T) {
	s := streamTestStore()
	bus := eventbus.NewMemoryBus(64)

	st, err := NewStreamer(context.Background(), s, bus)
	require.NoError(t, err)
	defer st.Close()

	sub := st.Register(Interest{Regions: []string{"terra_nova"}})

	ev := world.WorldEvent{
		ID:        "ev-dedup-1",
		Type:      world.EventCelestialEvent,
		RegionID:  "terra_nova",
		Timestamp: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		Celestial: world.CelestialAurora,
	}
	env := &eventbus.Envelope{
		ID:        ev.ID,
		Timestamp: ev.Timestamp,
		Source:    "test",
		EventType: string(ev.Type),
		RegionID:  ev.RegionID,
		Payload:   ev.Marshal(),
	}

	require.NoError(t, bus.Publish(context.Background(), env))

	require.Eventually(t, func() bool { return len(sub.Updates()) == 1 },
		time.Second, 5*time.Millisecond, "Первая доставка должна дойти")

	d, ok := tryRecv(sub.Updates())
	require.True(t, ok)
	require.Len(t, d.Events, 1)
	assert.Equal(t, ev.ID, d.Events[0].ID)

	// Повторная доставка того же конверта отсекается
	require.NoError(t, bus.Publish(context.Background(), env))
	time.Sleep(50 * time.Millisecond)
	_, ok = tryRecv(sub.Updates())
	assert.False(t, ok, "Дубликат события не должен доставляться")

	// Событие чужого региона не доставляется вовсе
	other := ev
	other.ID = "ev-dedup-2"
	other.RegionID = "umbra"
	require.NoError(t, bus.Publish(context.Background(), &eventbus.Envelope{
		ID: other.ID, EventType: string(other.Type), RegionID: other.RegionID,
		Payload: other.Marshal(),
	}))
	time.Sleep(50 * time.Millisecond)
	_, ok = tryRecv(sub.Updates())
	assert.False(t, ok)
}

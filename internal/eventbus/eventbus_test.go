package eventbus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector потокобезопасно копит доставленные события
type collector struct {
	mu  sync.Mutex
	ids []string
}

func (c *collector) handler(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.ids = append(c.ids, ev.ID)
	c.mu.Unlock()
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func env(id, eventType, regionID string) *Envelope {
	return &Envelope{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Source:    "test",
		EventType: eventType,
		RegionID:  regionID,
	}
}

// TestMemoryBusFanOut проверяет доставку события всем подписчикам
func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	var a, b collector
	_, err := bus.Subscribe(ctx, Filter{}, a.handler)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, Filter{}, b.handler)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, env("e1", "SilenceOutbreak", "terra_nova")))
	require.NoError(t, bus.Publish(ctx, env("e2", "HarmonyRestored", "umbra")))

	assert.Eventually(t, func() bool {
		return len(a.got()) == 2 && len(b.got()) == 2
	}, time.Second, 5*time.Millisecond, "Оба подписчика получают все события")

	assert.Equal(t, []string{"e1", "e2"}, a.got(), "Порядок доставки сохраняется")
}

// TestMemoryBusFilter проверяет фильтрацию по типу и региону
func TestMemoryBusFilter(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	var byType, byRegion collector
	_, err := bus.Subscribe(ctx, Filter{Types: []string{"SilenceOutbreak"}}, byType.handler)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, Filter{Regions: []string{"terra_nova"}}, byRegion.handler)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, env("e1", "SilenceOutbreak", "terra_nova")))
	require.NoError(t, bus.Publish(ctx, env("e2", "HarmonyRestored", "terra_nova")))
	require.NoError(t, bus.Publish(ctx, env("e3", "SilenceOutbreak", "umbra")))

	assert.Eventually(t, func() bool {
		return len(byType.got()) == 2 && len(byRegion.got()) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"e1", "e3"}, byType.got())
	assert.Equal(t, []string{"e1", "e2"}, byRegion.got())
}

// TestMatchFilter проверяет семантику пустого фильтра «все значения»
func TestMatchFilter(t *testing.T) {
	ev := env("e", "SilenceOutbreak", "terra_nova")

	assert.True(t, MatchFilter(ev, Filter{}))
	assert.True(t, MatchFilter(ev, Filter{Types: []string{"SilenceOutbreak"}}))
	assert.True(t, MatchFilter(ev, Filter{Regions: []string{"umbra", "terra_nova"}}))
	assert.False(t, MatchFilter(ev, Filter{Types: []string{"HarmonyRestored"}}))
	assert.False(t, MatchFilter(ev, Filter{
		Types:   []string{"SilenceOutbreak"},
		Regions: []string{"umbra"},
	}))
}

// TestMemoryBusUnsubscribe проверяет идемпотентную отписку
func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	var c collector
	sub, err := bus.Subscribe(ctx, Filter{}, c.handler)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, env("e1", "EchoAppeared", "")))
	assert.Eventually(t, func() bool { return len(c.got()) == 1 }, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	assert.NotPanics(t, sub.Unsubscribe, "Повторная отписка безопасна")

	require.NoError(t, bus.Publish(ctx, env("e2", "EchoAppeared", "")))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"e1"}, c.got(), "После отписки события не доставляются")
}

// TestMemoryBusStats проверяет счётчики шины
func TestMemoryBusStats(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	var c collector
	_, err := bus.Subscribe(ctx, Filter{}, c.handler)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(ctx, env(fmt.Sprintf("e%d", i), "CelestialEvent", "")))
	}

	assert.Eventually(t, func() bool {
		s := bus.Metrics()
		return s.Published == 5 && s.Consumed == 5 && s.InFlight == 0
	}, time.Second, 5*time.Millisecond)
}

// TestMemoryBusBackpressure проверяет at-least-once семантику публикации:
// при заполненном буфере Publish блокируется, а не теряет событие;
// отменённый контекст — единственный путь отказа
func TestMemoryBusBackpressure(t *testing.T) {
	bus := NewMemoryBus(1)
	ctx := context.Background()

	block := make(chan struct{})
	_, err := bus.Subscribe(ctx, Filter{}, func(_ context.Context, _ *Envelope) {
		<-block
	})
	require.NoError(t, err)

	// Первое событие уходит в обработчик и застревает там
	require.NoError(t, bus.Publish(ctx, env("e1", "CelestialEvent", "")))
	assert.Eventually(t, func() bool { return bus.Metrics().InFlight == 0 },
		time.Second, 5*time.Millisecond, "Диспетчер забрал событие")

	// Второе занимает единственное место в буфере
	require.NoError(t, bus.Publish(ctx, env("e2", "CelestialEvent", "")))

	// Третье при отменённом контексте не находит места и отбрасывается с ошибкой
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err = bus.Publish(cancelled, env("e3", "CelestialEvent", ""))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(1), bus.Metrics().Dropped)

	// Разблокируем потребителя: застрявшие события доставляются
	close(block)
	assert.Eventually(t, func() bool { return bus.Metrics().Consumed == 2 },
		time.Second, 5*time.Millisecond, "Принятые события доставлены без потерь")
}

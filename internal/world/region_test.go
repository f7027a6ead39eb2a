package world

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finalverse/finalverse/internal/vec"
)

func terraNovaSpec() RegionSpec {
	return RegionSpec{
		ID:    "terra_nova",
		Name:  "Terra Nova",
		Biome: BiomePlains,
		Boundary: vec.Box{
			Min: vec.Vec3Float{X: 0, Y: 0, Z: 0},
			Max: vec.Vec3Float{X: 2048, Y: 512, Z: 2048},
		},
		HarmonyBase:    0.6,
		DiscordBase:    0.1,
		InitialHarmony: 0.75,
		InitialDiscord: 0.05,
	}
}

// TestRegionClamping проверяет инвариант: гармония и дискорд всегда в [0,1]
func TestRegionClamping(t *testing.T) {
	r := NewRegion("weavers-rest", terraNovaSpec())
	th := DefaultThresholds()

	view, _ := r.ApplyDelta(RegionDelta{HarmonyDelta: 5.0, DiscordDelta: -5.0}, th)
	assert.Equal(t, 1.0, view.Harmony, "Гармония должна быть ограничена сверху")
	assert.Equal(t, 0.0, view.Discord, "Дискорд должен быть ограничен снизу")

	view, _ = r.ApplyDelta(RegionDelta{HarmonyDelta: -10.0, DiscordDelta: 10.0}, th)
	assert.Equal(t, 0.0, view.Harmony)
	assert.Equal(t, 1.0, view.Discord)
}

// TestSilenceOutbreakScenario воспроизводит вспышку Безмолвия в Terra Nova:
// три последовательных скачка дискорда +0.30 дают ровно одно событие
// SilenceOutbreak с эпицентром в центре региона и дискорд ровно 1.0
func TestSilenceOutbreakScenario(t *testing.T) {
	spec := terraNovaSpec()
	r := NewRegion("weavers-rest", spec)
	th := DefaultThresholds()

	var outbreaks []WorldEvent
	for i := 0; i < 3; i++ {
		_, events := r.ApplyDelta(RegionDelta{DiscordDelta: 0.30, Source: "test"}, th)
		for _, ev := range events {
			if ev.Type == EventSilenceOutbreak {
				outbreaks = append(outbreaks, ev)
			}
		}
	}

	view := r.View()
	assert.Equal(t, 1.0, view.Discord, "Дискорд должен быть зажат на 1.0")
	require.Len(t, outbreaks, 1, "Защёлка должна дать ровно одну вспышку Безмолвия")

	ev := outbreaks[0]
	assert.Equal(t, spec.Boundary.Centroid(), ev.Epicenter, "Эпицентр — центроид региона")
	assert.Greater(t, ev.Radius, silenceRadiusBase, "Радиус растёт с превышением порога")
	assert.NotEmpty(t, ev.ID, "Событие должно иметь UUID")
	assert.Equal(t, BiomeCorrupted, view.Biome, "Высокий дискорд разъедает биом")
}

// TestSilenceLatchReset проверяет гистерезис: защёлка сбрасывается только
// ниже нижнего порога, после чего новое пересечение даёт новое событие
func TestSilenceLatchReset(t *testing.T) {
	r := NewRegion("weavers-rest", terraNovaSpec())
	th := DefaultThresholds()

	_, events := r.ApplyDelta(RegionDelta{DiscordDelta: 0.85}, th)
	require.Len(t, events, 1, "Первое пересечение даёт событие")

	// Дрожание у порога не порождает новых событий
	_, events = r.ApplyDelta(RegionDelta{DiscordDelta: -0.10}, th)
	assert.Empty(t, events)
	_, events = r.ApplyDelta(RegionDelta{DiscordDelta: 0.10}, th)
	assert.Empty(t, events, "Защёлка взведена — повторное пересечение молчит")

	// Спад ниже нижнего порога сбрасывает защёлку
	_, events = r.ApplyDelta(RegionDelta{DiscordDelta: -0.40}, th)
	assert.Empty(t, events)

	_, events = r.ApplyDelta(RegionDelta{DiscordDelta: 0.40}, th)
	require.Len(t, events, 1, "После сброса защёлки новое пересечение даёт событие")
	assert.Equal(t, EventSilenceOutbreak, events[0].Type)
}

// TestHarmonyRestored проверяет событие восстановления гармонии:
// фиксируется только после реального спада ниже нижнего порога
func TestHarmonyRestored(t *testing.T) {
	r := NewRegion("weavers-rest", terraNovaSpec())
	th := DefaultThresholds()

	// Рост без предшествующего спада события не даёт
	_, events := r.ApplyDelta(RegionDelta{HarmonyDelta: 0.20}, th)
	assert.Empty(t, events, "Без спада восстановление не фиксируется")

	// Спад ниже HarmonyLow, затем восстановление выше HarmonyRecover
	_, events = r.ApplyDelta(RegionDelta{HarmonyDelta: -0.60}, th)
	assert.Empty(t, events)

	_, events = r.ApplyDelta(RegionDelta{HarmonyDelta: 0.50}, th)
	require.Len(t, events, 1)
	assert.Equal(t, EventHarmonyRestored, events[0].Type)
	assert.Greater(t, events[0].Amount, 0.0, "Amount — превышение над нижним порогом")

	// Повторный рост события не дублирует
	_, events = r.ApplyDelta(RegionDelta{HarmonyDelta: 0.05}, th)
	assert.Empty(t, events)
}

// TestRegionTickRelaxation проверяет релаксацию к биомным базам
func TestRegionTickRelaxation(t *testing.T) {
	spec := terraNovaSpec()
	r := NewRegion("weavers-rest", spec)
	th := DefaultThresholds()

	r.ApplyDelta(RegionDelta{HarmonyDelta: 0.25, DiscordDelta: 0.5}, th) // 1.0 / 0.55

	before := r.View()
	view, _ := r.Tick(time.Now().UTC().Add(10*time.Second), th)

	assert.Less(t, view.Harmony, before.Harmony, "Гармония релаксирует вниз к базе %v", spec.HarmonyBase)
	assert.Greater(t, view.Harmony, spec.HarmonyBase, "Но не проскакивает базу")
	assert.Less(t, view.Discord, before.Discord, "Дискорд релаксирует вниз к базе")
	assert.Greater(t, view.Discord, spec.DiscordBase)
}

// TestRegionWeatherDelta проверяет атомарную смену погоды дельтой
func TestRegionWeatherDelta(t *testing.T) {
	r := NewRegion("weavers-rest", terraNovaSpec())

	storm := WeatherState{Type: WeatherDissonanceStorm, Intensity: 0.9}
	view, _ := r.ApplyDelta(RegionDelta{Weather: &storm}, DefaultThresholds())

	assert.Equal(t, storm, view.Weather)
}

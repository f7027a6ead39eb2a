package entity

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finalverse/finalverse/internal/vec"
)

func behaviorBoundary() vec.Box {
	return vec.Box{
		Min: vec.Vec3Float{X: 0, Y: 0, Z: 0},
		Max: vec.Vec3Float{X: 512, Y: 128, Z: 512},
	}
}

// TestBehaviorWanderStaysInBounds проверяет, что блуждание никогда не
// выводит существо за границы региона
func TestBehaviorWanderStaysInBounds(t *testing.T) {
	r := NewRegistry(testResolver)
	boundary := behaviorBoundary()

	id, err := r.Spawn(SpawnSpec{
		Type:     TypeCreature,
		Position: vec.Vec3Float{X: 5, Y: 0, Z: 5}, // У самого края
		Components: Components{
			Behavior: &BehaviorState{State: BehaviorWander},
		},
	})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	now := time.Now().UTC()
	for i := 0; i < 200; i++ {
		now = now.Add(time.Second)
		r.TickBehaviors("terra_nova", boundary, rng, 1.0, now)
	}

	view, err := r.Get(id)
	require.NoError(t, err)
	assert.True(t, boundary.Contains(view.Transform.Position),
		"Существо не покидает регион: %v", view.Transform.Position)
	require.NotNil(t, view.Components.Behavior)
	assert.Contains(t, []string{BehaviorIdle, BehaviorWander}, view.Components.Behavior.State)
}

// TestBehaviorDeterminism проверяет воспроизводимость блужданий при
// одинаковом сиде
func TestBehaviorDeterminism(t *testing.T) {
	boundary := behaviorBoundary()
	now := time.Now().UTC()

	run := func() vec.Vec3Float {
		r := NewRegistry(testResolver)
		id, err := r.Spawn(SpawnSpec{
			Type:       TypeCreature,
			Position:   vec.Vec3Float{X: 100, Y: 0, Z: 100},
			Components: Components{Behavior: &BehaviorState{State: BehaviorWander}},
		})
		require.NoError(t, err)

		rng := rand.New(rand.NewSource(42))
		ts := now
		for i := 0; i < 50; i++ {
			ts = ts.Add(time.Second)
			r.TickBehaviors("terra_nova", boundary, rng, 1.0, ts)
		}

		view, err := r.Get(id)
		require.NoError(t, err)
		return view.Transform.Position
	}

	assert.Equal(t, run(), run(), "Тот же сид — та же траектория")
}

// TestBehaviorEchoFollows проверяет, что Эхо находит игрока и следует
// за ним, не подходя вплотную
func TestBehaviorEchoFollows(t *testing.T) {
	r := NewRegistry(testResolver)
	boundary := behaviorBoundary()

	player, err := r.Spawn(SpawnSpec{
		Type:     TypePlayer,
		Position: vec.Vec3Float{X: 100, Y: 0, Z: 100},
	})
	require.NoError(t, err)

	echo, err := r.Spawn(SpawnSpec{
		Type:     TypeEchoCompanion,
		Position: vec.Vec3Float{X: 110, Y: 0, Z: 100},
	})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		r.TickBehaviors("terra_nova", boundary, rng, 1.0, now)
	}

	echoView, err := r.Get(echo)
	require.NoError(t, err)
	playerView, err := r.Get(player)
	require.NoError(t, err)

	require.NotNil(t, echoView.Components.Behavior)
	assert.Equal(t, BehaviorFollow, echoView.Components.Behavior.State)
	assert.Equal(t, player, echoView.Components.Behavior.Target)

	dist := echoView.Transform.Position.DistanceTo(playerView.Transform.Position)
	assert.InDelta(t, followKeepDistance, dist, 0.5, "Эхо держит дистанцию спутника")

	// Игрок же остаётся неподвижен: поведение его не касается
	assert.Equal(t, vec.Vec3Float{X: 100, Y: 0, Z: 100}, playerView.Transform.Position)
}

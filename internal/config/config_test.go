package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaults проверяет конфигурацию по умолчанию
func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "weavers-rest", cfg.World.ID)
	assert.Equal(t, int64(20240607), cfg.World.Seed)
	require.Len(t, cfg.World.Regions, 1)
	assert.Equal(t, "terra_nova", cfg.World.Regions[0].ID)

	assert.Equal(t, 0.85, cfg.Simulation.DiscordHighMark)
	assert.Equal(t, 0.70, cfg.Simulation.DiscordLowMark)
	assert.Equal(t, 5*time.Second, cfg.Simulation.TickInterval())
	assert.Equal(t, 5*time.Minute, cfg.Storage.SnapshotInterval())

	assert.Equal(t, 8080, cfg.Server.GetRESTPort())
	assert.Equal(t, 2112, cfg.Server.GetMetricsPort())
}

// TestPortEnvFallback проверяет приоритет: конфиг → ENV → дефолт
func TestPortEnvFallback(t *testing.T) {
	s := ServerConfig{}

	t.Setenv("FINALVERSE_REST_PORT", "9090")
	assert.Equal(t, 9090, s.GetRESTPort(), "ENV перекрывает дефолт")

	t.Setenv("FINALVERSE_REST_PORT", "не-число")
	assert.Equal(t, 8080, s.GetRESTPort(), "Мусор в ENV игнорируется")

	s.RESTPort = 3002
	t.Setenv("FINALVERSE_REST_PORT", "9090")
	assert.Equal(t, 3002, s.GetRESTPort(), "Явный конфиг важнее ENV")
}

// TestLoadYAML проверяет чтение YAML поверх дефолтов
func TestLoadYAML(t *testing.T) {
	raw := `
server:
  rest_port: 3002
simulation:
  tick_seconds: 10
  worker_count: 8
eventbus:
  url: nats://localhost:4222
  stream: WORLD_EVENTS
  retention_hours: 48
world:
  id: aurelia
  name: Aurelia
  seed: 777
  regions:
    - id: first_hour
      name: First Hour
      biome: memory_grotto
      boundary:
        min: {x: 0, y: 0, z: 0}
        max: {x: 512, y: 128, z: 512}
      harmony_base: 0.8
      discord_base: 0.05
      initial_harmony: 0.9
      initial_discord: 0.02
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3002, cfg.Server.GetRESTPort())
	assert.Equal(t, 10*time.Second, cfg.Simulation.TickInterval())
	assert.Equal(t, 8, cfg.Simulation.WorkerCount)
	assert.Equal(t, "nats://localhost:4222", cfg.EventBus.URL)
	assert.Equal(t, 48, cfg.EventBus.Retention)

	assert.Equal(t, "aurelia", cfg.World.ID)
	assert.Equal(t, int64(777), cfg.World.Seed)
	require.Len(t, cfg.World.Regions, 1)
	r := cfg.World.Regions[0]
	assert.Equal(t, "first_hour", r.ID)
	assert.Equal(t, 512.0, r.Boundary.Max.X)
	assert.Equal(t, 0.9, r.InitialHarmony)

	// Незаданные секции наследуют дефолты
	assert.Equal(t, 0.85, cfg.Simulation.DiscordHighMark)

	_, err = Load(filepath.Join(t.TempDir(), "нет-такого.yaml"))
	assert.Error(t, err)
}

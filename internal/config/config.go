package config

import (
	"os"
	"strconv"
	"time"

	"github.com/finalverse/finalverse/internal/vec"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Simulation SimulationConfig `yaml:"simulation"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
	Storage    StorageConfig    `yaml:"storage"`
	World      WorldConfig      `yaml:"world"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type SimulationConfig struct {
	TickSeconds       int     `yaml:"tick_seconds"`        // Интервал тика симуляции (5-10с)
	WorkerCount       int     `yaml:"worker_count"`        // Размер пула воркеров
	DiscordHighMark   float64 `yaml:"discord_high_mark"`   // Верхний порог дискорда (SilenceOutbreak)
	DiscordLowMark    float64 `yaml:"discord_low_mark"`    // Нижний порог для сброса защёлки
	HarmonyRecoverUp  float64 `yaml:"harmony_recover_up"`  // Порог восстановления гармонии
	HarmonyRecoverLow float64 `yaml:"harmony_recover_low"` // Нижний порог взвода защёлки восстановления
	EventChance       float64 `yaml:"event_chance"`        // Вероятность стохастического события за тик
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type StorageConfig struct {
	DataPath        string `yaml:"data_path"`
	SnapshotMinutes int    `yaml:"snapshot_minutes"`
	RedisAddr       string `yaml:"redis_addr"`
	MariaDSN        string `yaml:"maria_dsn"`
}

type WorldConfig struct {
	ID      string         `yaml:"id"`
	Name    string         `yaml:"name"`
	Seed    int64          `yaml:"seed"`
	Regions []RegionConfig `yaml:"regions"`
}

// RegionConfig статическое определение региона, из которого строится мир
type RegionConfig struct {
	ID             string  `yaml:"id"`
	Name           string  `yaml:"name"`
	Biome          string  `yaml:"biome"`
	Boundary       vec.Box `yaml:"boundary"`
	HarmonyBase    float64 `yaml:"harmony_base"`
	DiscordBase    float64 `yaml:"discord_base"`
	InitialHarmony float64 `yaml:"initial_harmony"`
	InitialDiscord float64 `yaml:"initial_discord"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "FINALVERSE_REST_PORT", 8080)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "FINALVERSE_METRICS_PORT", 2112)
}

// TickInterval возвращает интервал тика симуляции
func (s *SimulationConfig) TickInterval() time.Duration {
	if s.TickSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.TickSeconds) * time.Second
}

// SnapshotInterval возвращает интервал периодического сохранения снапшотов
func (s *StorageConfig) SnapshotInterval() time.Duration {
	if s.SnapshotMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.SnapshotMinutes) * time.Minute
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Default возвращает конфигурацию по умолчанию с одним стартовым миром
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			TickSeconds:       5,
			DiscordHighMark:   0.85,
			DiscordLowMark:    0.70,
			HarmonyRecoverUp:  0.75,
			HarmonyRecoverLow: 0.50,
			EventChance:       0.01,
		},
		Storage: StorageConfig{DataPath: "data"},
		World: WorldConfig{
			ID:   "weavers-rest",
			Name: "Weaver's Rest",
			Seed: 20240607,
			Regions: []RegionConfig{
				{
					ID:    "terra_nova",
					Name:  "Terra Nova",
					Biome: "plains",
					Boundary: vec.Box{
						Min: vec.Vec3Float{X: 0, Y: 0, Z: 0},
						Max: vec.Vec3Float{X: 2048, Y: 512, Z: 2048},
					},
					HarmonyBase:    0.6,
					DiscordBase:    0.1,
					InitialHarmony: 0.75,
					InitialDiscord: 0.05,
				},
			},
		},
	}
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV FINALVERSE_CONFIG или возвращает дефолты.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FINALVERSE_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

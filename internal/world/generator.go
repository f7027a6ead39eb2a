package world

import (
	"hash/fnv"

	"github.com/aquilax/go-perlin"
	"github.com/finalverse/finalverse/internal/vec"
)

// Константы высот для классификации биомов
const (
	OceanMax      = 0.25 // Ниже — вода
	MountainStart = 0.80 // Выше — горы
	TundraStart   = 0.70 // Выше при низкой влажности — тундра
)

// Пороги влажности
const (
	DesertMoistureMax  = 0.30
	ForestMoistureMin  = 0.65
)

// GridGenerator генерирует ландшафт гридов.
// Generate — чистая функция своих входов: одинаковые (worldID, coord, seed)
// всегда дают байт-в-байт одинаковый результат.
type GridGenerator struct {
	NoiseScale    float64 // Масштаб основного шума (высота)
	MoistureScale float64 // Масштаб шума влажности
}

// NewGridGenerator создаёт генератор с настройками по умолчанию
func NewGridGenerator() *GridGenerator {
	return &GridGenerator{
		NoiseScale:    0.015, // Сглаженность ландшафта
		MoistureScale: 0.006, // Крупные пятна влажности → крупные биомы
	}
}

// Generate синтезирует ландшафт грида.
// Шум Перлина инициализируется локально от производного сида, поэтому
// конкурентные вызовы не разделяют состояние.
func (g *GridGenerator) Generate(worldID string, coord vec.Vec3, seed int64) *TerrainState {
	gridSeed := deriveSeed(worldID, seed)

	heightNoise := perlin.NewPerlin(2.0, 2.0, 3, gridSeed)
	moistureNoise := perlin.NewPerlin(2.0, 2.0, 3, gridSeed+42)

	n := TerrainResolution * TerrainResolution
	t := &TerrainState{
		Resolution: TerrainResolution,
		Heights:    make([]uint16, n),
		Moisture:   make([]uint8, n),
		Biomes:     make([]uint8, n),
	}

	biomeCounts := make(map[uint8]int)

	for z := 0; z < TerrainResolution; z++ {
		for x := 0; x < TerrainResolution; x++ {
			globalX := float64(coord.X*TerrainResolution + x)
			globalZ := float64(coord.Z*TerrainResolution + z)
			layer := float64(coord.Y)

			height := normalizeNoise(heightNoise.Noise3D(
				globalX*g.NoiseScale, globalZ*g.NoiseScale, layer*0.1))
			moisture := normalizeNoise(moistureNoise.Noise2D(
				globalX*g.MoistureScale, globalZ*g.MoistureScale))

			biome := classifyBiome(height, moisture)

			idx := z*TerrainResolution + x
			t.Heights[idx] = uint16(height * 65535)
			t.Moisture[idx] = uint8(moisture * 255)
			t.Biomes[idx] = biomeCodes[biome]
			biomeCounts[biomeCodes[biome]]++
		}
	}

	t.DominantBiome = dominantBiome(biomeCounts)
	return t
}

// BiomeForHint возвращает биом по подсказке генерации.
// Подсказка first_hour_biome отображает фиксированные координаты стартовой
// зоны в её именованные биомы.
func (g *GridGenerator) BiomeForHint(hint string, coord vec.Vec3) (BiomeType, bool) {
	if hint != "first_hour_biome" {
		if hint == "" {
			return "", false
		}
		// Явная подсказка биома ("forest", "desert"…)
		b := BiomeType(hint)
		if _, known := biomeCodes[b]; known {
			return b, true
		}
		return "", false
	}

	switch (vec.Vec3{X: coord.X, Y: 0, Z: coord.Z}) {
	case vec.Vec3{X: 100, Z: 100}:
		return BiomeMemoryGrotto, true
	case vec.Vec3{X: 101, Z: 101}:
		return BiomeWeaversLanding, true
	case vec.Vec3{X: 102, Z: 101}:
		return BiomeWhisperwoodGrove, true
	}
	return "", false
}

// deriveSeed сводит мировой сид и идентификатор мира к сиду шума
func deriveSeed(worldID string, seed int64) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(worldID))
	return seed ^ int64(h.Sum64())
}

// normalizeNoise переводит значение шума из [-1,1] в [0,1] с отсечкой хвостов
func normalizeNoise(v float64) float64 {
	v = (v + 1.0) / 2.0
	return clamp01(v)
}

// classifyBiome определяет биом ячейки по высоте и влажности
func classifyBiome(height, moisture float64) BiomeType {
	switch {
	case height < OceanMax:
		return BiomeOcean
	case height > MountainStart:
		return BiomeMountains
	case height > TundraStart && moisture < DesertMoistureMax:
		return BiomeTundra
	case moisture < DesertMoistureMax:
		return BiomeDesert
	case moisture > ForestMoistureMin:
		return BiomeForest
	default:
		return BiomePlains
	}
}

// dominantBiome возвращает биом с наибольшим числом ячеек.
// При равенстве побеждает меньший код — выбор детерминирован.
func dominantBiome(counts map[uint8]int) BiomeType {
	best := uint8(0)
	bestCount := -1
	for code, count := range counts {
		if count > bestCount || (count == bestCount && code < best) {
			best = code
			bestCount = count
		}
	}
	return biomeByCode[best]
}

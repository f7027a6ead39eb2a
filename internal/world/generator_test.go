package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finalverse/finalverse/internal/vec"
)

// TestGeneratorDeterminism проверяет, что одинаковые входы дают
// байт-в-байт одинаковый ландшафт
func TestGeneratorDeterminism(t *testing.T) {
	g := NewGridGenerator()
	coord := vec.Vec3{X: 10, Y: 0, Z: -4}

	t1 := g.Generate("weavers-rest", coord, 20240607)
	t2 := g.Generate("weavers-rest", coord, 20240607)

	blob1, err := t1.Encode()
	require.NoError(t, err, "Кодирование не должно падать")
	blob2, err := t2.Encode()
	require.NoError(t, err)

	assert.Equal(t, blob1, blob2, "Повторная генерация должна давать идентичные байты")
}

// TestGeneratorSeedSensitivity проверяет, что сид и мир влияют на результат
func TestGeneratorSeedSensitivity(t *testing.T) {
	g := NewGridGenerator()
	coord := vec.Vec3{X: 0, Y: 0, Z: 0}

	base := g.Generate("weavers-rest", coord, 1)
	otherSeed := g.Generate("weavers-rest", coord, 2)
	otherWorld := g.Generate("another-world", coord, 1)

	assert.NotEqual(t, base.Heights, otherSeed.Heights, "Другой сид должен менять высоты")
	assert.NotEqual(t, base.Heights, otherWorld.Heights, "Другой мир должен менять высоты")
}

// TestGeneratorConcurrent проверяет конкурентную генерацию: инстансы шума
// локальны, гонок по состоянию нет
func TestGeneratorConcurrent(t *testing.T) {
	g := NewGridGenerator()
	coord := vec.Vec3{X: 3, Y: 1, Z: 3}

	expected, err := g.Generate("weavers-rest", coord, 7).Encode()
	require.NoError(t, err)

	const workers = 8
	results := make(chan []byte, workers)
	for i := 0; i < workers; i++ {
		go func() {
			blob, _ := g.Generate("weavers-rest", coord, 7).Encode()
			results <- blob
		}()
	}

	for i := 0; i < workers; i++ {
		assert.Equal(t, expected, <-results, "Конкурентные вызовы должны давать тот же результат")
	}
}

// TestTerrainRoundTrip проверяет round-trip бинарного формата ландшафта
func TestTerrainRoundTrip(t *testing.T) {
	g := NewGridGenerator()
	original := g.Generate("weavers-rest", vec.Vec3{X: 1, Y: 0, Z: 1}, 42)

	blob, err := original.Encode()
	require.NoError(t, err)

	decoded, err := DecodeTerrain(blob)
	require.NoError(t, err, "Декодирование валидного блоба не должно падать")

	assert.Equal(t, original.Resolution, decoded.Resolution)
	assert.Equal(t, original.Heights, decoded.Heights)
	assert.Equal(t, original.Moisture, decoded.Moisture)
	assert.Equal(t, original.Biomes, decoded.Biomes)
	assert.Equal(t, original.DominantBiome, decoded.DominantBiome)
}

// TestDecodeTerrainRejectsGarbage проверяет валидацию входных данных
func TestDecodeTerrainRejectsGarbage(t *testing.T) {
	_, err := DecodeTerrain([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err, "Мусор не должен декодироваться")
}

// TestBiomeForHint проверяет подсказки генерации
func TestBiomeForHint(t *testing.T) {
	g := NewGridGenerator()

	tests := []struct {
		hint  string
		coord vec.Vec3
		biome BiomeType
		ok    bool
	}{
		{"first_hour_biome", vec.Vec3{X: 100, Z: 100}, BiomeMemoryGrotto, true},
		{"first_hour_biome", vec.Vec3{X: 101, Z: 101}, BiomeWeaversLanding, true},
		{"first_hour_biome", vec.Vec3{X: 102, Z: 101}, BiomeWhisperwoodGrove, true},
		{"first_hour_biome", vec.Vec3{X: 0, Z: 0}, "", false},
		{"forest", vec.Vec3{}, BiomeForest, true},
		{"volcano", vec.Vec3{}, "", false},
		{"", vec.Vec3{}, "", false},
	}

	for _, tc := range tests {
		biome, ok := g.BiomeForHint(tc.hint, tc.coord)
		assert.Equal(t, tc.ok, ok, "hint=%s coord=%v", tc.hint, tc.coord)
		assert.Equal(t, tc.biome, biome, "hint=%s coord=%v", tc.hint, tc.coord)
	}
}

// TestClassifyBiome проверяет классификацию биомов по высоте и влажности
func TestClassifyBiome(t *testing.T) {
	assert.Equal(t, BiomeOcean, classifyBiome(0.1, 0.5))
	assert.Equal(t, BiomeMountains, classifyBiome(0.9, 0.5))
	assert.Equal(t, BiomeTundra, classifyBiome(0.75, 0.1))
	assert.Equal(t, BiomeDesert, classifyBiome(0.5, 0.1))
	assert.Equal(t, BiomeForest, classifyBiome(0.5, 0.8))
	assert.Equal(t, BiomePlains, classifyBiome(0.5, 0.5))
}

package world

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// TerrainResolution количество ячеек карты высот по стороне грида
const TerrainResolution = 32

// Магическое число и версия бинарного формата terrain-блоба
const (
	terrainMagic   = 0x46565452 // "FVTR"
	terrainVersion = 1
)

// TerrainState содержит результат генерации ландшафта грида:
// карту высот, карту влажности и поклеточную классификацию биомов.
type TerrainState struct {
	Resolution    int
	Heights       []uint16 // Квантованные высоты [0..65535], Resolution^2 значений
	Moisture      []uint8  // Влажность [0..255]
	Biomes        []uint8  // Код биома на ячейку
	DominantBiome BiomeType
}

// Общие zstd кодек-инстансы: EncodeAll/DecodeAll безопасны для конкурентного вызова.
var (
	terrainEncoder *zstd.Encoder
	terrainDecoder *zstd.Decoder
)

func init() {
	terrainEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	terrainDecoder, _ = zstd.NewReader(nil)
}

// Коды биомов в бинарном формате
var biomeCodes = map[BiomeType]uint8{
	BiomePlains:           0,
	BiomeForest:           1,
	BiomeDesert:           2,
	BiomeMountains:        3,
	BiomeTundra:           4,
	BiomeOcean:            5,
	BiomeCorrupted:        6,
	BiomeMemoryGrotto:     7,
	BiomeWeaversLanding:   8,
	BiomeWhisperwoodGrove: 9,
}

var biomeByCode = func() map[uint8]BiomeType {
	m := make(map[uint8]BiomeType, len(biomeCodes))
	for b, c := range biomeCodes {
		m[c] = b
	}
	return m
}()

// Encode сериализует TerrainState в компактную бинарную форму:
// заголовок + высоты + влажность + биомы, сжатые zstd.
// Формат детерминирован: одинаковый TerrainState даёт одинаковые байты.
func (t *TerrainState) Encode() ([]byte, error) {
	n := t.Resolution * t.Resolution
	if len(t.Heights) != n || len(t.Moisture) != n || len(t.Biomes) != n {
		return nil, fmt.Errorf("terrain: несогласованные размеры карт (resolution=%d)", t.Resolution)
	}

	raw := make([]byte, 0, 12+n*2+n+n)
	raw = binary.LittleEndian.AppendUint32(raw, terrainMagic)
	raw = append(raw, terrainVersion)
	raw = binary.LittleEndian.AppendUint16(raw, uint16(t.Resolution))
	raw = append(raw, biomeCodes[t.DominantBiome])

	for _, h := range t.Heights {
		raw = binary.LittleEndian.AppendUint16(raw, h)
	}
	raw = append(raw, t.Moisture...)
	raw = append(raw, t.Biomes...)

	return terrainEncoder.EncodeAll(raw, nil), nil
}

// DecodeTerrain восстанавливает TerrainState из бинарного блоба
func DecodeTerrain(blob []byte) (*TerrainState, error) {
	raw, err := terrainDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("terrain: zstd decode: %w", err)
	}
	if len(raw) < 8 {
		return nil, fmt.Errorf("terrain: блоб слишком короткий (%d байт)", len(raw))
	}
	if binary.LittleEndian.Uint32(raw[0:4]) != terrainMagic {
		return nil, fmt.Errorf("terrain: неверное магическое число")
	}
	if raw[4] != terrainVersion {
		return nil, fmt.Errorf("terrain: неподдерживаемая версия %d", raw[4])
	}

	res := int(binary.LittleEndian.Uint16(raw[5:7]))
	dominant := biomeByCode[raw[7]]
	n := res * res

	expected := 8 + n*2 + n + n
	if len(raw) != expected {
		return nil, fmt.Errorf("terrain: ожидалось %d байт, получено %d", expected, len(raw))
	}

	t := &TerrainState{
		Resolution:    res,
		Heights:       make([]uint16, n),
		Moisture:      make([]uint8, n),
		Biomes:        make([]uint8, n),
		DominantBiome: dominant,
	}

	off := 8
	for i := 0; i < n; i++ {
		t.Heights[i] = binary.LittleEndian.Uint16(raw[off : off+2])
		off += 2
	}
	copy(t.Moisture, raw[off:off+n])
	off += n
	copy(t.Biomes, raw[off:off+n])

	return t, nil
}

package vec

import "fmt"

// GridSize задаёт размер стороны грида в мировых единицах.
const GridSize = 64.0

// Vec3 представляет целочисленные 3D координаты (координаты грида)
type Vec3 struct {
	X, Y, Z int
}

// String возвращает строковое представление координат
func (v Vec3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}

// Less задаёт глобальный порядок координат (для упорядоченного захвата блокировок)
func (v Vec3) Less(other Vec3) bool {
	if v.X != other.X {
		return v.X < other.X
	}
	if v.Y != other.Y {
		return v.Y < other.Y
	}
	return v.Z < other.Z
}

// Center возвращает центр грида в мировых координатах
func (v Vec3) Center() Vec3Float {
	return Vec3Float{
		X: (float64(v.X) + 0.5) * GridSize,
		Y: (float64(v.Y) + 0.5) * GridSize,
		Z: (float64(v.Z) + 0.5) * GridSize,
	}
}

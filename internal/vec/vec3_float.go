package vec

import "math"

// Vec3Float представляет 3D координаты с плавающей точкой
type Vec3Float struct {
	X, Y, Z float64
}

// ToGridCoord преобразует мировую позицию в координаты грида
func (v Vec3Float) ToGridCoord() Vec3 {
	return Vec3{
		X: int(math.Floor(v.X / GridSize)),
		Y: int(math.Floor(v.Y / GridSize)),
		Z: int(math.Floor(v.Z / GridSize)),
	}
}

// Add складывает два вектора
func (v Vec3Float) Add(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает вектор
func (v Vec3Float) Sub(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Mul умножает вектор на скаляр
func (v Vec3Float) Mul(scalar float64) Vec3Float {
	return Vec3Float{X: v.X * scalar, Y: v.Y * scalar, Z: v.Z * scalar}
}

// Length возвращает длину вектора
func (v Vec3Float) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec3Float) DistanceTo(other Vec3Float) float64 {
	return v.Sub(other).Length()
}

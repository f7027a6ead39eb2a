package vec

// Box представляет выровненную по осям границу региона
type Box struct {
	Min Vec3Float `json:"min" yaml:"min"`
	Max Vec3Float `json:"max" yaml:"max"`
}

// Centroid возвращает геометрический центр границы
func (b Box) Centroid() Vec3Float {
	return Vec3Float{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// Contains проверяет, находится ли точка внутри границы
func (b Box) Contains(p Vec3Float) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// IntersectsSphere проверяет пересечение границы со сферой (зона интереса по радиусу)
func (b Box) IntersectsSphere(center Vec3Float, radius float64) bool {
	closest := Vec3Float{
		X: clampf(center.X, b.Min.X, b.Max.X),
		Y: clampf(center.Y, b.Min.Y, b.Max.Y),
		Z: clampf(center.Z, b.Min.Z, b.Max.Z),
	}
	return closest.DistanceTo(center) <= radius
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package entity

import (
	"math"
	"math/rand"
	"time"

	"github.com/finalverse/finalverse/internal/vec"
)

// Имена состояний поведения, сохраняемые в компоненте BehaviorState
const (
	BehaviorIdle   = "idle"
	BehaviorWander = "wander"
	BehaviorFollow = "follow"
)

// Скорости перемещения, мировых единиц в секунду
const (
	wanderSpeed = 1.5
	followSpeed = 3.0

	// Радиус, в котором Эхо ищет спутника-игрока
	followSearchRadius = 30.0
	// Дистанция, ближе которой Эхо не подходит
	followKeepDistance = 2.0
)

// Surroundings то, что видит существо вокруг себя за один тик поведения
type Surroundings struct {
	Boundary vec.Box
	RNG      *rand.Rand
	Dt       float64
	Nearby   func(center vec.Vec3Float, radius float64) []View
}

// Actor изменяемое состояние существа на время одного тика.
// Изменения применяются к реестру после выхода из Update.
type Actor struct {
	View View

	pos    vec.Vec3Float
	yaw    float64
	mood   float64
	target ID
}

// State состояние конечного автомата поведения.
// Между тиками сохраняется только имя состояния (в компоненте BehaviorState):
// конкретное State восстанавливается по имени на каждом тике.
type State interface {
	Name() string
	Update(a *Actor, s Surroundings) State
}

// stateByName восстанавливает состояние из сохранённого имени
func stateByName(name string) State {
	switch name {
	case BehaviorWander:
		return wanderState{}
	case BehaviorFollow:
		return followState{}
	default:
		return idleState{}
	}
}

// idleState бездействие: существо стоит, настроение медленно выравнивается
type idleState struct{}

func (idleState) Name() string { return BehaviorIdle }

func (idleState) Update(a *Actor, s Surroundings) State {
	a.mood += (0.5 - a.mood) * 0.1 * s.Dt

	// Эхо тянется к ближайшему игроку
	if a.View.Type == TypeEchoCompanion {
		if id, ok := nearestPlayer(a, s); ok {
			a.target = id
			return followState{}
		}
	}

	// Вероятность начать блуждание растёт с длиной тика
	if s.RNG.Float64() < 0.3*s.Dt {
		return wanderState{}
	}
	return idleState{}
}

// wanderState блуждание: шаг в случайном направлении внутри границ региона
type wanderState struct{}

func (wanderState) Name() string { return BehaviorWander }

func (wanderState) Update(a *Actor, s Surroundings) State {
	angle := s.RNG.Float64() * 2 * math.Pi
	step := wanderSpeed * s.Dt

	next := a.pos
	next.X += step * math.Cos(angle)
	next.Z += step * math.Sin(angle)

	// За границу региона не выходим — разворачиваемся в бездействие
	if !s.Boundary.Contains(next) {
		return idleState{}
	}

	a.pos = next
	a.yaw = angle * 180 / math.Pi
	a.mood += 0.05 * s.Dt

	if s.RNG.Float64() < 0.2*s.Dt {
		return idleState{}
	}
	return wanderState{}
}

// followState следование Эхо за игроком-спутником
type followState struct{}

func (followState) Name() string { return BehaviorFollow }

func (followState) Update(a *Actor, s Surroundings) State {
	companion, ok := findByID(a.target, s.Nearby(a.pos, followSearchRadius))
	if !ok {
		a.target = 0
		return idleState{}
	}

	dir := companion.Transform.Position.Sub(a.pos)
	dist := dir.Length()
	if dist <= followKeepDistance {
		return followState{}
	}

	step := followSpeed * s.Dt
	if step > dist-followKeepDistance {
		step = dist - followKeepDistance
	}

	a.pos = a.pos.Add(dir.Mul(step / dist))
	a.yaw = math.Atan2(dir.Z, dir.X) * 180 / math.Pi
	a.mood += 0.1 * s.Dt
	return followState{}
}

// nearestPlayer возвращает ближайшего игрока в радиусе поиска
func nearestPlayer(a *Actor, s Surroundings) (ID, bool) {
	best := ID(0)
	bestDist := math.MaxFloat64
	for _, v := range s.Nearby(a.pos, followSearchRadius) {
		if v.Type != TypePlayer || v.ID == a.View.ID {
			continue
		}
		if d := v.Transform.Position.DistanceTo(a.pos); d < bestDist {
			best, bestDist = v.ID, d
		}
	}
	return best, best != 0
}

func findByID(id ID, views []View) (View, bool) {
	for _, v := range views {
		if v.ID == id {
			return v, true
		}
	}
	return View{}, false
}

// TickBehaviors выполняет один шаг поведения существ и Эхо региона.
// Переходы детерминированы переданным rng: повтор тика с тем же сидом
// воспроизводит те же блуждания.
func (r *Registry) TickBehaviors(regionID string, boundary vec.Box, rng *rand.Rand, dt float64, now time.Time) {
	if dt <= 0 {
		return
	}

	s := Surroundings{
		Boundary: boundary,
		RNG:      rng,
		Dt:       dt,
		Nearby:   r.InRadius,
	}

	for _, view := range r.InRegions([]string{regionID}) {
		if view.Type != TypeCreature && view.Type != TypeEchoCompanion {
			continue
		}

		a := &Actor{
			View: view,
			pos:  view.Transform.Position,
			yaw:  view.Transform.Yaw,
		}
		current := idleState{}.Name()
		if b := view.Components.Behavior; b != nil {
			current = b.State
			a.mood = b.Mood
			a.target = b.Target
		}

		next := stateByName(current).Update(a, s)

		if a.pos != view.Transform.Position || a.yaw != view.Transform.Yaw {
			// Сущность могла быть удалена конкурентно — это не ошибка тика
			_ = r.UpdateTransform(view.ID, a.pos, a.yaw, now)
		}
		_ = r.UpdateBehavior(view.ID, &BehaviorState{
			State:  next.Name(),
			Target: a.target,
			Mood:   clampMood(a.mood),
		})
	}
}

func clampMood(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

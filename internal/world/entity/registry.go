package entity

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finalverse/finalverse/internal/logging"
	"github.com/finalverse/finalverse/internal/vec"
)

// ErrNotFound возвращается при обращении к неизвестной сущности
var ErrNotFound = errors.New("entity: сущность не найдена")

// ErrNoRegion возвращается, когда позиция не принадлежит ни одному региону
var ErrNoRegion = errors.New("entity: позиция вне всех регионов")

// RegionResolver отображает мировую позицию в идентификатор региона
type RegionResolver func(pos vec.Vec3Float) (string, bool)

// SpawnSpec описывает запрос на создание сущности
type SpawnSpec struct {
	Type       Type
	Position   vec.Vec3Float
	Yaw        float64
	GridCoord  *vec.Vec3 // Явная координата грида; nil — вычислить из позиции
	Components Components
}

// Registry — авторитетное хранилище пространственных сущностей и их
// принадлежности гридам. Мутации одного грида сериализуются его шардом;
// index гарантирует, что сущность в каждый момент принадлежит ровно
// одному гриду (или ни одному — после despawn).
type Registry struct {
	mu     sync.RWMutex
	shards map[GridRef]*shard
	index  map[ID]GridRef

	nextID  atomic.Uint64
	resolve RegionResolver

	conflicts atomic.Uint64 // проигравшие last-timestamp-wins обновления
}

// NewRegistry создаёт реестр сущностей
func NewRegistry(resolve RegionResolver) *Registry {
	r := &Registry{
		shards:  make(map[GridRef]*shard),
		index:   make(map[ID]GridRef),
		resolve: resolve,
	}
	// Начинаем с 1000, чтобы избежать конфликтов с малыми служебными ID
	r.nextID.Store(1000)
	return r
}

// Spawn создаёт новую сущность и возвращает её ID
func (r *Registry) Spawn(spec SpawnSpec) (ID, error) {
	regionID, ok := r.resolve(spec.Position)
	if !ok {
		return 0, ErrNoRegion
	}

	coord := spec.Position.ToGridCoord()
	if spec.GridCoord != nil {
		coord = *spec.GridCoord
	}
	ref := GridRef{RegionID: regionID, Coord: coord}

	id := ID(r.nextID.Add(1))
	e := &Entity{
		ID:   id,
		Type: spec.Type,
		Transform: Transform{
			Position:  spec.Position,
			Yaw:       spec.Yaw,
			UpdatedAt: time.Now().UTC(),
		},
		Components: spec.Components,
		Active:     true,
		SpawnedAt:  time.Now().UTC(),
	}

	r.mu.Lock()
	sh := r.shardLocked(ref)
	sh.mu.Lock()
	sh.entities[id] = e
	sh.mu.Unlock()
	r.index[id] = ref
	r.mu.Unlock()

	return id, nil
}

// Despawn удаляет сущность. Повторный вызов для уже удалённой сущности
// возвращает ErrNotFound.
func (r *Registry) Despawn(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.index[id]
	if !ok {
		return ErrNotFound
	}

	sh := r.shards[ref]
	sh.mu.Lock()
	if e, exists := sh.entities[id]; exists {
		e.Despawned = true
		e.Active = false
		delete(sh.entities, id)
	}
	sh.mu.Unlock()

	delete(r.index, id)
	return nil
}

// UpdateTransform обновляет позицию/ориентацию сущности и при пересечении
// границы грида переносит её в новый шард. Конфликтующие конкурентные
// обновления разрешаются last-timestamp-wins: проигравшее логируется и
// отбрасывается без ошибки.
func (r *Registry) UpdateTransform(id ID, pos vec.Vec3Float, yaw float64, ts time.Time) error {
	r.mu.RLock()
	ref, ok := r.index[id]
	if !ok {
		r.mu.RUnlock()
		return ErrNotFound
	}
	sh := r.shards[ref]
	r.mu.RUnlock()

	sh.mu.Lock()
	e, exists := sh.entities[id]
	if !exists {
		// Сущность мигрировала между нашим чтением index и захватом шарда
		sh.mu.Unlock()
		return r.UpdateTransform(id, pos, yaw, ts)
	}

	if ts.Before(e.Transform.UpdatedAt) {
		sh.mu.Unlock()
		r.conflicts.Add(1)
		logging.Debug("Конфликт transform для сущности %d: %v < %v, обновление отброшено",
			id, ts, e.Transform.UpdatedAt)
		return nil
	}

	e.Transform = Transform{Position: pos, Yaw: yaw, UpdatedAt: ts}
	sh.mu.Unlock()

	return r.MigrateIfNeeded(id)
}

// UpdateBehavior замещает компонент поведения сущности
func (r *Registry) UpdateBehavior(id ID, bs *BehaviorState) error {
	r.mu.RLock()
	ref, ok := r.index[id]
	if !ok {
		r.mu.RUnlock()
		return ErrNotFound
	}
	sh := r.shards[ref]
	r.mu.RUnlock()

	sh.mu.Lock()
	e, exists := sh.entities[id]
	if !exists {
		sh.mu.Unlock()
		return r.UpdateBehavior(id, bs)
	}
	if bs == nil {
		e.Components.Behavior = nil
	} else {
		b := *bs
		e.Components.Behavior = &b
	}
	sh.mu.Unlock()
	return nil
}

// MigrateIfNeeded переносит сущность в грид, соответствующий её текущей
// позиции. Перенос атомарен для наблюдателей: нет момента, когда сущность
// принадлежит нулю или двум гридам.
func (r *Registry) MigrateIfNeeded(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	srcRef, ok := r.index[id]
	if !ok {
		return ErrNotFound
	}
	src := r.shards[srcRef]

	src.mu.Lock()
	e, exists := src.entities[id]
	if !exists {
		src.mu.Unlock()
		return ErrNotFound
	}
	pos := e.Transform.Position
	src.mu.Unlock()

	regionID, found := r.resolve(pos)
	if !found {
		// Позиция вышла за пределы всех регионов — сущность остаётся
		// во владении прежнего грида до возвращения в мир.
		return nil
	}

	dstRef := GridRef{RegionID: regionID, Coord: pos.ToGridCoord()}
	if dstRef == srcRef {
		return nil
	}

	dst := r.shardLocked(dstRef)

	// Шарды источника и назначения захватываются в фиксированном
	// глобальном порядке ключей.
	unlock := lockPair(srcRef, src, dstRef, dst)
	if e, exists := src.entities[id]; exists {
		delete(src.entities, id)
		dst.entities[id] = e
		r.index[id] = dstRef
	}
	unlock()

	return nil
}

// Get возвращает копию сущности
func (r *Registry) Get(id ID) (View, error) {
	r.mu.RLock()
	ref, ok := r.index[id]
	if !ok {
		r.mu.RUnlock()
		return View{}, ErrNotFound
	}
	sh := r.shards[ref]
	r.mu.RUnlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, exists := sh.entities[id]
	if !exists {
		return View{}, ErrNotFound
	}
	return e.view(ref), nil
}

// InGrid возвращает сущности указанного грида
func (r *Registry) InGrid(ref GridRef) []View {
	r.mu.RLock()
	sh, ok := r.shards[ref]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	out := make([]View, 0, len(sh.entities))
	for _, e := range sh.entities {
		out = append(out, e.view(ref))
	}
	return out
}

// InRegions возвращает сущности всех гридов перечисленных регионов
func (r *Registry) InRegions(regionIDs []string) []View {
	want := make(map[string]struct{}, len(regionIDs))
	for _, id := range regionIDs {
		want[id] = struct{}{}
	}

	r.mu.RLock()
	refs := make([]GridRef, 0)
	for ref := range r.shards {
		if _, ok := want[ref.RegionID]; ok {
			refs = append(refs, ref)
		}
	}
	r.mu.RUnlock()

	var out []View
	for _, ref := range refs {
		out = append(out, r.InGrid(ref)...)
	}
	return out
}

// InRadius возвращает сущности в радиусе от точки
func (r *Registry) InRadius(center vec.Vec3Float, radius float64) []View {
	r.mu.RLock()
	refs := make([]GridRef, 0, len(r.shards))
	for ref := range r.shards {
		refs = append(refs, ref)
	}
	r.mu.RUnlock()

	var out []View
	for _, ref := range refs {
		// Грид отстоит дальше радиуса + диагонали — пропускаем целиком
		if ref.Coord.Center().DistanceTo(center) > radius+vec.GridSize*2 {
			continue
		}
		for _, v := range r.InGrid(ref) {
			if v.Transform.Position.DistanceTo(center) <= radius {
				out = append(out, v)
			}
		}
	}
	return out
}

// Count возвращает число живых сущностей
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// Conflicts возвращает число отброшенных конфликтующих обновлений
func (r *Registry) Conflicts() uint64 {
	return r.conflicts.Load()
}

// Record сериализуемое представление сущности для снапшота
type Record struct {
	View
	SpawnedAt time.Time `json:"spawned_at"`
}

// SnapshotAll возвращает записи всех сущностей для сохранения
func (r *Registry) SnapshotAll() []Record {
	r.mu.RLock()
	refs := make([]GridRef, 0, len(r.shards))
	for ref := range r.shards {
		refs = append(refs, ref)
	}
	r.mu.RUnlock()

	var out []Record
	for _, ref := range refs {
		r.mu.RLock()
		sh := r.shards[ref]
		r.mu.RUnlock()

		sh.mu.Lock()
		for _, e := range sh.entities {
			out = append(out, Record{View: e.view(ref), SpawnedAt: e.SpawnedAt})
		}
		sh.mu.Unlock()
	}
	return out
}

// RestoreAll восстанавливает сущности из снапшота, замещая текущее состояние
func (r *Registry) RestoreAll(records []Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.shards = make(map[GridRef]*shard)
	r.index = make(map[ID]GridRef)

	maxID := uint64(1000)
	for _, rec := range records {
		sh := r.shardLocked(rec.Grid)
		e := &Entity{
			ID:         rec.ID,
			Type:       rec.Type,
			Transform:  rec.Transform,
			Components: rec.Components.clone(),
			Active:     rec.Active,
			SpawnedAt:  rec.SpawnedAt,
		}
		sh.mu.Lock()
		sh.entities[rec.ID] = e
		sh.mu.Unlock()
		r.index[rec.ID] = rec.Grid

		if uint64(rec.ID) > maxID {
			maxID = uint64(rec.ID)
		}
	}
	r.nextID.Store(maxID)
}

// shardLocked возвращает шард грида, создавая его при необходимости.
// Вызывается под r.mu (Lock или эквивалент).
func (r *Registry) shardLocked(ref GridRef) *shard {
	sh, ok := r.shards[ref]
	if !ok {
		sh = newShard()
		r.shards[ref] = sh
	}
	return sh
}

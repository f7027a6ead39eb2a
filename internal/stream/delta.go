package stream

import (
	"github.com/finalverse/finalverse/internal/world"
	"github.com/finalverse/finalverse/internal/world/entity"
)

// Delta инкрементальное обновление мира для одного подписчика.
// Resync=true означает, что из-за переполнения очереди промежуточные
// дельты были схлопнуты: клиент должен считать дельту полным срезом
// своей зоны интереса, а не приращением.
type Delta struct {
	Tick   uint64          `json:"tick"`
	Time   world.WorldTime `json:"time"`
	Resync bool            `json:"resync,omitempty"`

	Regions         []world.RegionView `json:"regions,omitempty"`
	Entities        []entity.View      `json:"entities,omitempty"`
	RemovedEntities []entity.ID        `json:"removed_entities,omitempty"`
	Events          []world.WorldEvent `json:"events,omitempty"`
}

// empty сообщает, несёт ли дельта хоть какие-то изменения
func (d *Delta) empty() bool {
	return !d.Resync &&
		len(d.Regions) == 0 &&
		len(d.Entities) == 0 &&
		len(d.RemovedEntities) == 0 &&
		len(d.Events) == 0
}

// merge вливает more в d, схлопывая промежуточные состояния:
// по каждому региону и сущности остаётся последняя версия,
// события объединяются без дубликатов.
func (d *Delta) merge(more *Delta) {
	d.Tick = more.Tick
	d.Time = more.Time

	d.Regions = mergeByKey(d.Regions, more.Regions, func(v world.RegionView) string { return v.ID })
	d.Entities = mergeByKey(d.Entities, more.Entities, func(v entity.View) entity.ID { return v.ID })

	removed := make(map[entity.ID]struct{}, len(d.RemovedEntities)+len(more.RemovedEntities))
	for _, id := range d.RemovedEntities {
		removed[id] = struct{}{}
	}
	for _, id := range more.RemovedEntities {
		removed[id] = struct{}{}
	}
	d.RemovedEntities = d.RemovedEntities[:0]
	for id := range removed {
		d.RemovedEntities = append(d.RemovedEntities, id)
	}

	seen := make(map[string]struct{}, len(d.Events))
	for _, ev := range d.Events {
		seen[ev.ID] = struct{}{}
	}
	for _, ev := range more.Events {
		if _, ok := seen[ev.ID]; !ok {
			d.Events = append(d.Events, ev)
		}
	}
}

// mergeByKey заменяет элементы base более новыми из more по ключу
func mergeByKey[T any, K comparable](base, more []T, key func(T) K) []T {
	if len(more) == 0 {
		return base
	}
	idx := make(map[K]int, len(base))
	for i, v := range base {
		idx[key(v)] = i
	}
	for _, v := range more {
		if i, ok := idx[key(v)]; ok {
			base[i] = v
		} else {
			idx[key(v)] = len(base)
			base = append(base, v)
		}
	}
	return base
}

package entity

import "sync"

// shard хранит сущности одного грида.
// Все мутации сущностей грида сериализуются mu, поэтому разные гриды
// обрабатываются параллельно, а внутри грида действует один писатель.
type shard struct {
	mu       sync.Mutex
	entities map[ID]*Entity
}

func newShard() *shard {
	return &shard{entities: make(map[ID]*Entity)}
}

// lockPair захватывает мьютексы двух шардов в фиксированном глобальном
// порядке ключей. Возвращает функцию освобождения в обратном порядке.
func lockPair(aRef GridRef, a *shard, bRef GridRef, b *shard) func() {
	if a == b {
		a.mu.Lock()
		return a.mu.Unlock
	}
	if aRef.Less(bRef) {
		a.mu.Lock()
		b.mu.Lock()
		return func() {
			b.mu.Unlock()
			a.mu.Unlock()
		}
	}
	b.mu.Lock()
	a.mu.Lock()
	return func() {
		a.mu.Unlock()
		b.mu.Unlock()
	}
}

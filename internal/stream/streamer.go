package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/finalverse/finalverse/internal/eventbus"
	"github.com/finalverse/finalverse/internal/logging"
	"github.com/finalverse/finalverse/internal/vec"
	"github.com/finalverse/finalverse/internal/world"
	"github.com/finalverse/finalverse/internal/world/entity"
)

// Размер очереди дельт подписчика
const subscriberBuffer = 32

// Максимум запомненных ID событий для дедупликации at-least-once доставки
const seenEventsCap = 4096

// Метрики стриминга
var (
	deltasSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_deltas_sent_total",
		Help: "Дельты, доставленные подписчикам",
	})
	deltasCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_deltas_coalesced_total",
		Help: "Дельты, схлопнутые из-за переполнения очереди подписчика",
	})
	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stream_subscribers",
		Help: "Активные подписчики стриминга",
	})
)

// Interest зона интереса подписчика: явный список регионов либо сфера
// вокруг точки. Пустой Interest означает весь мир.
type Interest struct {
	Regions []string       `json:"regions,omitempty"`
	Center  *vec.Vec3Float `json:"center,omitempty"`
	Radius  float64        `json:"radius,omitempty"`
}

// Subscriber получатель инкрементальных обновлений мира.
// Медленный потребитель не блокирует симуляцию: при переполнении очереди
// дельты схлопываются в одну с флагом Resync.
type Subscriber struct {
	ID       string
	Interest Interest

	ch chan *Delta

	mu      sync.Mutex
	pending *Delta // Схлопнутая дельта, ожидающая места в очереди
	closed  bool

	// Дедупликация событий at-least-once доставки
	seenEvents map[string]struct{}
	seenOrder  []string

	// Последнее доставленное состояние для вычисления диффа
	lastRegions  map[string]world.RegionView
	lastEntities map[entity.ID]time.Time

	// Гриды, на которых учтён счётчик наблюдателей
	countedGrids []*world.Grid
}

// Updates канал дельт подписчика
func (s *Subscriber) Updates() <-chan *Delta {
	return s.ch
}

// markSeen регистрирует событие; возвращает false для уже виденного ID
func (s *Subscriber) markSeen(eventID string) bool {
	if _, ok := s.seenEvents[eventID]; ok {
		return false
	}
	s.seenEvents[eventID] = struct{}{}
	s.seenOrder = append(s.seenOrder, eventID)
	if len(s.seenOrder) > seenEventsCap {
		oldest := s.seenOrder[0]
		s.seenOrder = s.seenOrder[1:]
		delete(s.seenEvents, oldest)
	}
	return true
}

// Streamer управляет подписчиками и рассылкой дельт, ограниченных зоной
// интереса каждого подписчика.
type Streamer struct {
	store *world.Store

	mu   sync.RWMutex
	subs map[string]*Subscriber

	busSub eventbus.Subscription
}

// NewStreamer создаёт менеджер стриминга. При наличии шины подписывается
// на мировые события и транслирует их заинтересованным подписчикам.
func NewStreamer(ctx context.Context, store *world.Store, bus eventbus.EventBus) (*Streamer, error) {
	st := &Streamer{
		store: store,
		subs:  make(map[string]*Subscriber),
	}

	if bus != nil {
		sub, err := bus.Subscribe(ctx, eventbus.Filter{}, st.onBusEvent)
		if err != nil {
			return nil, err
		}
		st.busSub = sub
	}

	return st, nil
}

// Register создаёт подписчика с указанной зоной интереса
func (st *Streamer) Register(interest Interest) *Subscriber {
	sub := &Subscriber{
		ID:           uuid.NewString(),
		Interest:     interest,
		ch:           make(chan *Delta, subscriberBuffer),
		seenEvents:   make(map[string]struct{}),
		lastRegions:  make(map[string]world.RegionView),
		lastEntities: make(map[entity.ID]time.Time),
	}

	// Счётчик наблюдателей материализованных гридов зоны интереса
	for _, regionID := range st.interestRegions(sub) {
		for _, g := range st.store.GridsInRegion(regionID) {
			g.AddViewer()
			sub.countedGrids = append(sub.countedGrids, g)
		}
	}

	st.mu.Lock()
	st.subs[sub.ID] = sub
	st.mu.Unlock()

	subscribersGauge.Inc()
	logging.Debug("Подписчик %s зарегистрирован: регионы %v", sub.ID, interest.Regions)
	return sub
}

// Unregister удаляет подписчика. Идемпотентен.
func (st *Streamer) Unregister(subID string) {
	st.mu.Lock()
	sub, ok := st.subs[subID]
	if ok {
		delete(st.subs, subID)
	}
	st.mu.Unlock()
	if !ok {
		return
	}

	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	sub.mu.Unlock()

	for _, g := range sub.countedGrids {
		g.RemoveViewer()
	}

	subscribersGauge.Dec()
	logging.Debug("Подписчик %s отписан", subID)
}

// Close отписывает всех подписчиков и отключается от шины
func (st *Streamer) Close() {
	if st.busSub != nil {
		st.busSub.Unsubscribe()
	}

	st.mu.RLock()
	ids := make([]string, 0, len(st.subs))
	for id := range st.subs {
		ids = append(ids, id)
	}
	st.mu.RUnlock()

	for _, id := range ids {
		st.Unregister(id)
	}
}

// SubscriberCount возвращает число активных подписчиков
func (st *Streamer) SubscriberCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.subs)
}

// Run рассылает дельты с заданным интервалом до отмены контекста
func (st *Streamer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Broadcast()
		}
	}
}

// Broadcast вычисляет и доставляет каждому подписчику дифф его зоны
// интереса относительно последней доставленной версии.
func (st *Streamer) Broadcast() {
	st.mu.RLock()
	subs := make([]*Subscriber, 0, len(st.subs))
	for _, s := range st.subs {
		subs = append(subs, s)
	}
	st.mu.RUnlock()

	for _, sub := range subs {
		delta := st.buildDelta(sub)
		if delta.empty() {
			continue
		}
		st.push(sub, delta)
	}
}

// onBusEvent транслирует событие шины заинтересованным подписчикам
func (st *Streamer) onBusEvent(_ context.Context, env *eventbus.Envelope) {
	ev, err := world.UnmarshalEvent(env.Payload)
	if err != nil {
		logging.Warn("Не удалось разобрать событие шины %s: %v", env.ID, err)
		return
	}

	st.mu.RLock()
	subs := make([]*Subscriber, 0, len(st.subs))
	for _, s := range st.subs {
		subs = append(subs, s)
	}
	st.mu.RUnlock()

	for _, sub := range subs {
		if ev.RegionID != "" && !st.interested(sub, ev.RegionID) {
			continue
		}

		sub.mu.Lock()
		fresh := sub.markSeen(ev.ID)
		sub.mu.Unlock()
		if !fresh {
			continue
		}

		st.push(sub, &Delta{
			Tick:   st.store.Tick(),
			Time:   st.store.Time(),
			Events: []world.WorldEvent{ev},
		})
	}
}

// buildDelta строит дифф зоны интереса подписчика
func (st *Streamer) buildDelta(sub *Subscriber) *Delta {
	regionIDs := st.interestRegions(sub)

	delta := &Delta{
		Tick: st.store.Tick(),
		Time: st.store.Time(),
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	// Изменившиеся регионы
	for _, id := range regionIDs {
		r, err := st.store.Region(id)
		if err != nil {
			continue
		}
		v := r.View()
		if last, ok := sub.lastRegions[id]; !ok || regionChanged(last, v) {
			delta.Regions = append(delta.Regions, v)
			sub.lastRegions[id] = v
		}
	}

	// Сущности зоны интереса: новые и изменившиеся
	var views []entity.View
	if sub.Interest.Center != nil {
		views = st.store.Entities.InRadius(*sub.Interest.Center, sub.Interest.Radius)
	} else {
		views = st.store.Entities.InRegions(regionIDs)
	}

	present := make(map[entity.ID]struct{}, len(views))
	for _, v := range views {
		present[v.ID] = struct{}{}
		if last, ok := sub.lastEntities[v.ID]; !ok || v.Transform.UpdatedAt.After(last) {
			delta.Entities = append(delta.Entities, v)
			sub.lastEntities[v.ID] = v.Transform.UpdatedAt
		}
	}

	// Сущности, покинувшие зону интереса или удалённые
	for id := range sub.lastEntities {
		if _, ok := present[id]; !ok {
			delta.RemovedEntities = append(delta.RemovedEntities, id)
			delete(sub.lastEntities, id)
		}
	}

	// Активные события зоны интереса, ещё не доставленные подписчику
	for _, ev := range st.store.ActiveEvents(regionIDs) {
		if sub.markSeen(ev.ID) {
			delta.Events = append(delta.Events, ev)
		}
	}

	return delta
}

// push ставит дельту в очередь подписчика. При переполнении дельта
// сливается в pending с флагом Resync; pending уходит первым, как только
// потребитель освободит место.
func (st *Streamer) push(sub *Subscriber, delta *Delta) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return
	}

	// Сначала пытаемся протолкнуть накопленный pending
	if sub.pending != nil {
		select {
		case sub.ch <- sub.pending:
			sub.pending = nil
			deltasSent.Inc()
		default:
		}
	}

	if sub.pending != nil {
		// Очередь всё ещё полна — вливаем новую дельту в pending
		sub.pending.merge(delta)
		deltasCoalesced.Inc()
		return
	}

	select {
	case sub.ch <- delta:
		deltasSent.Inc()
	default:
		// Потребитель не успевает: переходим в режим coalesce
		delta.Resync = true
		sub.pending = delta
		deltasCoalesced.Inc()
	}
}

// interestRegions возвращает регионы зоны интереса подписчика
func (st *Streamer) interestRegions(sub *Subscriber) []string {
	if len(sub.Interest.Regions) > 0 {
		return sub.Interest.Regions
	}
	if sub.Interest.Center != nil {
		return st.store.RegionsIntersecting(*sub.Interest.Center, sub.Interest.Radius)
	}

	// Пустой интерес — весь мир
	regions := st.store.Regions()
	out := make([]string, 0, len(regions))
	for _, r := range regions {
		out = append(out, r.ID)
	}
	return out
}

// interested проверяет принадлежность региона зоне интереса
func (st *Streamer) interested(sub *Subscriber, regionID string) bool {
	for _, id := range st.interestRegions(sub) {
		if id == regionID {
			return true
		}
	}
	return false
}

// regionChanged сравнивает доставленную и текущую версии региона
func regionChanged(a, b world.RegionView) bool {
	return a.Harmony != b.Harmony ||
		a.Discord != b.Discord ||
		a.Biome != b.Biome ||
		a.Weather != b.Weather
}

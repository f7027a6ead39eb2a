package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/finalverse/finalverse/internal/eventbus"
)

const (
	defaultServerURL = "nats://localhost:4222"
	subjectAll       = "world.events.*"
)

// event-cli — консольная утилита для наблюдения за мировыми событиями
// в JetStream: живой хвост, статистика за окно времени, список типов.
func main() {
	var (
		serverURL  = flag.String("server", defaultServerURL, "Адрес NATS сервера")
		command    = flag.String("cmd", "tail", "Команда: tail, stats, types")
		eventTypes = flag.String("types", "", "Фильтр типов событий (через запятую)")
		regions    = flag.String("regions", "", "Фильтр регионов (через запятую)")
		since      = flag.String("since", "1h", "Окно времени для stats/types (например 30m, 1h)")
		limit      = flag.Int("limit", 100, "Максимум событий для tail без -follow")
		follow     = flag.Bool("follow", false, "Следить за новыми событиями (как tail -f)")
	)
	flag.Parse()

	nc, err := nats.Connect(*serverURL)
	if err != nil {
		log.Fatalf("❌ Не удалось подключиться к NATS: %v", err)
	}
	defer nc.Drain()

	js, err := nc.JetStream()
	if err != nil {
		log.Fatalf("❌ JetStream недоступен: %v", err)
	}

	filter := eventbus.Filter{
		Types:   parseStringList(*eventTypes),
		Regions: parseStringList(*regions),
	}

	window, err := time.ParseDuration(*since)
	if err != nil {
		log.Fatalf("❌ Неверное окно времени %q: %v", *since, err)
	}

	switch *command {
	case "tail":
		err = tailEvents(js, filter, *limit, *follow)
	case "stats":
		err = showStats(js, filter, window)
	case "types":
		err = showTypes(js, window)
	default:
		fmt.Printf("❌ Неизвестная команда: %s\n", *command)
		fmt.Println("Доступные команды: tail, stats, types")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// tailEvents печатает события по мере поступления
func tailEvents(js nats.JetStreamContext, filter eventbus.Filter, limit int, follow bool) error {
	printed := 0
	done := make(chan struct{})

	sub, err := js.Subscribe(subjectFor(filter), func(msg *nats.Msg) {
		defer msg.Ack()

		env, ok := decode(msg.Data, filter)
		if !ok {
			return
		}
		printEvent(env)

		printed++
		if !follow && printed >= limit {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	}, nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("подписка: %w", err)
	}
	defer sub.Unsubscribe()

	fmt.Printf("📡 Слушаем %s (типы=%v, регионы=%v)...\n",
		subjectFor(filter), filter.Types, filter.Regions)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case <-done:
	}
	return nil
}

// showStats считает события за окно времени по типам и регионам
func showStats(js nats.JetStreamContext, filter eventbus.Filter, window time.Duration) error {
	byType := make(map[string]int)
	byRegion := make(map[string]int)
	total := 0

	err := replayWindow(js, filter, window, func(env *eventbus.Envelope) {
		total++
		byType[env.EventType]++
		if env.RegionID != "" {
			byRegion[env.RegionID]++
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("📊 Событий за %v: %d\n\n", window, total)
	fmt.Println("По типам:")
	printCounts(byType)
	fmt.Println("\nПо регионам:")
	printCounts(byRegion)
	return nil
}

// showTypes перечисляет типы событий, встретившиеся за окно времени
func showTypes(js nats.JetStreamContext, window time.Duration) error {
	seen := make(map[string]struct{})

	err := replayWindow(js, eventbus.Filter{}, window, func(env *eventbus.Envelope) {
		seen[env.EventType] = struct{}{}
	})
	if err != nil {
		return err
	}

	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)

	fmt.Printf("Типы событий за %v:\n", window)
	for _, t := range types {
		fmt.Printf("  %s %s\n", eventEmoji(t), t)
	}
	return nil
}

// replayWindow перечитывает стрим с начала окна и зовёт fn для каждого
// подходящего события. Конец потока определяется затишьем.
func replayWindow(js nats.JetStreamContext, filter eventbus.Filter, window time.Duration, fn func(*eventbus.Envelope)) error {
	syncSub, err := js.SubscribeSync(subjectFor(filter),
		nats.OrderedConsumer(), nats.StartTime(time.Now().Add(-window)))
	if err != nil {
		return fmt.Errorf("подписка: %w", err)
	}
	defer syncSub.Unsubscribe()

	for {
		msg, err := syncSub.NextMsg(500 * time.Millisecond)
		if err != nil {
			if err == nats.ErrTimeout {
				return nil // Стрим дочитан
			}
			return err
		}
		if env, ok := decode(msg.Data, filter); ok {
			fn(env)
		}
	}
}

// subjectFor сужает subject до типа, когда фильтр задаёт ровно один
func subjectFor(filter eventbus.Filter) string {
	if len(filter.Types) == 1 {
		return "world.events." + filter.Types[0]
	}
	return subjectAll
}

// decode разбирает конверт и применяет фильтр подписчика
func decode(data []byte, filter eventbus.Filter) (*eventbus.Envelope, bool) {
	var env eventbus.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	if !eventbus.MatchFilter(&env, filter) {
		return nil, false
	}
	return &env, true
}

func printEvent(env *eventbus.Envelope) {
	region := env.RegionID
	if region == "" {
		region = "мир"
	}
	fmt.Printf("%s [%s] %s %s  %s\n",
		env.Timestamp.Format("15:04:05"),
		region,
		eventEmoji(env.EventType),
		env.EventType,
		compactPayload(env.Payload))
}

func printCounts(counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return counts[keys[i]] > counts[keys[j]] })
	for _, k := range keys {
		fmt.Printf("  %6d  %s\n", counts[k], k)
	}
}

// compactPayload сжимает JSON payload до одной строки для вывода
func compactPayload(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	s := string(payload)
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

func eventEmoji(eventType string) string {
	switch eventType {
	case "SilenceOutbreak":
		return "🌑"
	case "HarmonyRestored":
		return "🎵"
	case "CreatureMigration":
		return "🦌"
	case "CelestialEvent":
		return "✨"
	case "EchoAppeared":
		return "👁"
	default:
		return "📦"
	}
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

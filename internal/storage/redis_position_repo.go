package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/finalverse/finalverse/internal/logging"
)

// RedisPositionRepo хранит позиции игроков в Redis для быстрого доступа.
// Записи батчируются: Save кладёт позицию в буфер, фоновая горутина
// периодически сбрасывает буфер пайплайном.
type RedisPositionRepo struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	batchSize int

	batchMu     sync.Mutex
	batchBuffer map[uint64]PlayerPosition

	batchTicker *time.Ticker
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr         string        // Адрес Redis сервера
	Password     string        // Пароль (пустой если не требуется)
	DB           int           // Номер базы данных
	KeyPrefix    string        // Префикс для ключей
	TTL          time.Duration // Время жизни записей
	BatchSize    int           // Размер батча для записи
	BatchFlushMs int           // Интервал сброса батча в миллисекундах
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		KeyPrefix:    "fv:pos:",
		TTL:          5 * time.Minute,
		BatchSize:    100,
		BatchFlushMs: 100,
	}
}

// NewRedisPositionRepo создаёт новый Redis репозиторий для позиций
func NewRedisPositionRepo(config *RedisConfig) (*RedisPositionRepo, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	// Проверяем подключение
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	repo := &RedisPositionRepo{
		client:      client,
		keyPrefix:   config.KeyPrefix,
		ttl:         config.TTL,
		batchSize:   config.BatchSize,
		batchBuffer: make(map[uint64]PlayerPosition),
		batchTicker: time.NewTicker(time.Duration(config.BatchFlushMs) * time.Millisecond),
		shutdown:    make(chan struct{}),
	}

	repo.wg.Add(1)
	go repo.batchFlusher()

	logging.Info("🔴 Redis подключен: %s", config.Addr)
	return repo, nil
}

// Save кладёт позицию игрока в батч-буфер
func (r *RedisPositionRepo) Save(ctx context.Context, userID uint64, pos PlayerPosition) error {
	if userID == 0 {
		return fmt.Errorf("недействительный userID: %d", userID)
	}

	r.batchMu.Lock()
	r.batchBuffer[userID] = pos

	// Если буфер заполнен, сбрасываем немедленно
	if len(r.batchBuffer) >= r.batchSize {
		batch := r.batchBuffer
		r.batchBuffer = make(map[uint64]PlayerPosition)
		r.batchMu.Unlock()

		return r.flushBatch(ctx, batch)
	}

	r.batchMu.Unlock()
	return nil
}

// Load загружает позицию игрока. Сначала смотрит батч-буфер (последняя
// записанная, ещё не сброшенная версия), затем Redis.
func (r *RedisPositionRepo) Load(ctx context.Context, userID uint64) (PlayerPosition, bool, error) {
	if userID == 0 {
		return PlayerPosition{}, false, fmt.Errorf("недействительный userID: %d", userID)
	}

	r.batchMu.Lock()
	if pos, ok := r.batchBuffer[userID]; ok {
		r.batchMu.Unlock()
		return pos, true, nil
	}
	r.batchMu.Unlock()

	data, err := r.client.Get(ctx, r.key(userID)).Result()
	if err == redis.Nil {
		return PlayerPosition{}, false, nil
	} else if err != nil {
		return PlayerPosition{}, false, fmt.Errorf("ошибка чтения позиции: %w", err)
	}

	var pos PlayerPosition
	if err := json.Unmarshal([]byte(data), &pos); err != nil {
		return PlayerPosition{}, false, fmt.Errorf("ошибка разбора позиции: %w", err)
	}

	return pos, true, nil
}

// Delete удаляет позицию игрока
func (r *RedisPositionRepo) Delete(ctx context.Context, userID uint64) error {
	if userID == 0 {
		return fmt.Errorf("недействительный userID: %d", userID)
	}

	r.batchMu.Lock()
	delete(r.batchBuffer, userID)
	r.batchMu.Unlock()

	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("ошибка удаления позиции: %w", err)
	}

	return nil
}

// BatchSave сохраняет позиции нескольких игроков одним пайплайном
func (r *RedisPositionRepo) BatchSave(ctx context.Context, positions map[uint64]PlayerPosition) error {
	if len(positions) == 0 {
		return nil
	}
	for userID := range positions {
		if userID == 0 {
			return fmt.Errorf("недействительный userID в batch: %d", userID)
		}
	}
	return r.flushBatch(ctx, positions)
}

// ActiveCount возвращает количество игроков с актуальной позицией
func (r *RedisPositionRepo) ActiveCount(ctx context.Context) (int64, error) {
	var count int64
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()

	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта игроков: %w", err)
	}

	return count, nil
}

// Close останавливает батч-флашер, сбрасывает остатки и закрывает соединение
func (r *RedisPositionRepo) Close() error {
	close(r.shutdown)
	r.wg.Wait()

	r.batchMu.Lock()
	if len(r.batchBuffer) > 0 {
		if err := r.flushBatch(context.Background(), r.batchBuffer); err != nil {
			logging.Warn("Не удалось сбросить остаток батча при закрытии: %v", err)
		}
	}
	r.batchMu.Unlock()

	return r.client.Close()
}

func (r *RedisPositionRepo) key(userID uint64) string {
	return fmt.Sprintf("%s%d", r.keyPrefix, userID)
}

// batchFlusher периодически сбрасывает батч-буфер
func (r *RedisPositionRepo) batchFlusher() {
	defer r.wg.Done()

	for {
		select {
		case <-r.shutdown:
			r.batchTicker.Stop()
			return
		case <-r.batchTicker.C:
			r.batchMu.Lock()
			if len(r.batchBuffer) == 0 {
				r.batchMu.Unlock()
				continue
			}
			batch := r.batchBuffer
			r.batchBuffer = make(map[uint64]PlayerPosition)
			r.batchMu.Unlock()

			if err := r.flushBatch(context.Background(), batch); err != nil {
				logging.Error("❌ Ошибка сброса батча позиций: %v", err)
			}
		}
	}
}

// flushBatch записывает батч позиций в Redis одним пайплайном
func (r *RedisPositionRepo) flushBatch(ctx context.Context, batch map[uint64]PlayerPosition) error {
	if len(batch) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()

	for userID, pos := range batch {
		data, err := json.Marshal(pos)
		if err != nil {
			logging.Warn("Не удалось сериализовать позицию пользователя %d: %v", userID, err)
			continue
		}
		pipe.Set(ctx, r.key(userID), data, r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка выполнения пайплайна: %w", err)
	}

	return nil
}

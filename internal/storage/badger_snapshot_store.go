package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/finalverse/finalverse/internal/world"
)

// BadgerSnapshotStore хранит снапшоты мира в BadgerDB.
// Ключи:
//
//	snap:<worldID>:latest        — последний снапшот
//	snap:<worldID>:tick:<tick>   — история по тикам (big-endian для порядка)
type BadgerSnapshotStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerSnapshotStore открывает хранилище снапшотов
func NewBadgerSnapshotStore(dataPath string) (*BadgerSnapshotStore, error) {
	dbPath := filepath.Join(dataPath, "snapshots")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerSnapshotStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище
func (bs *BadgerSnapshotStore) Close() error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if !bs.isReady {
		return nil
	}

	bs.isReady = false
	return bs.db.Close()
}

// SaveSnapshot сохраняет снапшот как последний и в историю по тику
func (bs *BadgerSnapshotStore) SaveSnapshot(ctx context.Context, snap *world.WorldSnapshot) error {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := world.MarshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("ошибка сериализации снапшота: %w", err)
	}

	return bs.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(latestKey(snap.WorldID), data); err != nil {
			return fmt.Errorf("ошибка записи latest: %w", err)
		}
		if err := txn.Set(tickKey(snap.WorldID, snap.Tick), data); err != nil {
			return fmt.Errorf("ошибка записи истории: %w", err)
		}
		return nil
	})
}

// LoadSnapshot загружает последний снапшот мира
func (bs *BadgerSnapshotStore) LoadSnapshot(ctx context.Context, worldID string) (*world.WorldSnapshot, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var data []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey(worldID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	return world.UnmarshalSnapshot(data)
}

// ListTicks возвращает тики сохранённых снапшотов мира по возрастанию
func (bs *BadgerSnapshotStore) ListTicks(ctx context.Context, worldID string) ([]uint64, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	prefix := []byte(fmt.Sprintf("snap:%s:tick:", worldID))
	var ticks []uint64

	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			raw := key[len(prefix):]
			if len(raw) != 8 {
				continue
			}
			ticks = append(ticks, binary.BigEndian.Uint64(raw))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода истории: %w", err)
	}

	return ticks, nil
}

func latestKey(worldID string) []byte {
	return []byte(fmt.Sprintf("snap:%s:latest", worldID))
}

func tickKey(worldID string, tick uint64) []byte {
	key := []byte(fmt.Sprintf("snap:%s:tick:", worldID))
	return binary.BigEndian.AppendUint64(key, tick)
}

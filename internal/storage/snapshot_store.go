package storage

import (
	"context"
	"errors"

	"github.com/finalverse/finalverse/internal/world"
)

// ErrSnapshotNotFound возвращается при отсутствии снапшота мира
var ErrSnapshotNotFound = errors.New("storage: снапшот не найден")

// SnapshotStore определяет интерфейс персистентности снапшотов мира.
// Реализации: BadgerDB (диск) и in-memory (тесты, CI).
type SnapshotStore interface {
	// SaveSnapshot сохраняет снапшот как последний для его мира
	// и в историю по номеру тика.
	SaveSnapshot(ctx context.Context, snap *world.WorldSnapshot) error

	// LoadSnapshot загружает последний снапшот мира.
	// Возвращает ErrSnapshotNotFound, если мир ещё не сохранялся.
	LoadSnapshot(ctx context.Context, worldID string) (*world.WorldSnapshot, error)

	// ListTicks возвращает номера тиков сохранённых снапшотов мира.
	ListTicks(ctx context.Context, worldID string) ([]uint64, error)

	// Close освобождает ресурсы хранилища.
	Close() error
}

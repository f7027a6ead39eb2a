package storage

import (
	"context"
	"testing"
	"time"

	"github.com/finalverse/finalverse/internal/vec"
)

// TestMemoryPositionRepo тестирует in-memory репозиторий позиций
func TestMemoryPositionRepo(t *testing.T) {
	repo := NewMemoryPositionRepo()
	ctx := context.Background()

	t.Run("Save and Load", func(t *testing.T) {
		userID := uint64(123)
		expected := PlayerPosition{
			Position: vec.Vec3Float{X: 10, Y: 20, Z: 30},
			Yaw:      90,
			RegionID: "terra_nova",
		}

		err := repo.Save(ctx, userID, expected)
		if err != nil {
			t.Fatalf("Ошибка сохранения позиции: %v", err)
		}

		actual, found, err := repo.Load(ctx, userID)
		if err != nil {
			t.Fatalf("Ошибка загрузки позиции: %v", err)
		}

		if !found {
			t.Fatal("Позиция не найдена")
		}

		if actual != expected {
			t.Errorf("Неверная позиция: ожидалась %+v, получена %+v", expected, actual)
		}
	})

	t.Run("Load Non-Existent User", func(t *testing.T) {
		pos, found, err := repo.Load(ctx, 999)
		if err != nil {
			t.Fatalf("Ошибка при загрузке несуществующего пользователя: %v", err)
		}

		if found {
			t.Error("Позиция найдена для несуществующего пользователя")
		}

		if pos != (PlayerPosition{}) {
			t.Errorf("Ожидалась пустая позиция, получена: %+v", pos)
		}
	})

	t.Run("Update Position", func(t *testing.T) {
		userID := uint64(456)
		first := PlayerPosition{Position: vec.Vec3Float{X: 1, Y: 2, Z: 3}, RegionID: "terra_nova"}
		second := PlayerPosition{Position: vec.Vec3Float{X: 4, Y: 5, Z: 6}, RegionID: "terra_nova"}

		if err := repo.Save(ctx, userID, first); err != nil {
			t.Fatalf("Ошибка сохранения первой позиции: %v", err)
		}
		if err := repo.Save(ctx, userID, second); err != nil {
			t.Fatalf("Ошибка обновления позиции: %v", err)
		}

		actual, found, err := repo.Load(ctx, userID)
		if err != nil {
			t.Fatalf("Ошибка загрузки обновленной позиции: %v", err)
		}
		if !found {
			t.Fatal("Обновленная позиция не найдена")
		}
		if actual != second {
			t.Errorf("Неверная обновленная позиция: ожидалась %+v, получена %+v", second, actual)
		}
	})

	t.Run("Delete Position", func(t *testing.T) {
		userID := uint64(789)
		pos := PlayerPosition{Position: vec.Vec3Float{X: 5, Y: 6, Z: 7}}

		if err := repo.Save(ctx, userID, pos); err != nil {
			t.Fatalf("Ошибка сохранения позиции: %v", err)
		}
		if err := repo.Delete(ctx, userID); err != nil {
			t.Fatalf("Ошибка удаления позиции: %v", err)
		}

		_, found, err := repo.Load(ctx, userID)
		if err != nil {
			t.Fatalf("Ошибка загрузки после удаления: %v", err)
		}
		if found {
			t.Error("Позиция найдена после удаления")
		}
	})

	t.Run("BatchSave", func(t *testing.T) {
		positions := map[uint64]PlayerPosition{
			100: {Position: vec.Vec3Float{X: 10, Y: 11, Z: 12}, RegionID: "terra_nova"},
			200: {Position: vec.Vec3Float{X: 20, Y: 21, Z: 22}, RegionID: "terra_nova"},
			300: {Position: vec.Vec3Float{X: 30, Y: 31, Z: 32}, RegionID: "terra_nova"},
		}

		if err := repo.BatchSave(ctx, positions); err != nil {
			t.Fatalf("Ошибка пакетного сохранения: %v", err)
		}

		for userID, expected := range positions {
			actual, found, err := repo.Load(ctx, userID)
			if err != nil {
				t.Fatalf("Ошибка загрузки позиции для пользователя %d: %v", userID, err)
			}
			if !found {
				t.Errorf("Позиция не найдена для пользователя %d", userID)
				continue
			}
			if actual != expected {
				t.Errorf("Неверная позиция для пользователя %d: ожидалась %+v, получена %+v",
					userID, expected, actual)
			}
		}
	})

	t.Run("Validation", func(t *testing.T) {
		err := repo.Save(ctx, 0, PlayerPosition{})
		if err == nil {
			t.Error("Ожидалась ошибка для недействительного userID")
		}
	})

	t.Run("Context Cancellation", func(t *testing.T) {
		canceledCtx, cancel := context.WithCancel(context.Background())
		cancel()

		err := repo.Save(canceledCtx, 555, PlayerPosition{})
		if err != context.Canceled {
			t.Errorf("Ожидалась ошибка отмены контекста, получена: %v", err)
		}
	})
}

// TestConcurrentAccess тестирует concurrent доступ к репозиторию
func TestConcurrentAccess(t *testing.T) {
	repo := NewMemoryPositionRepo()
	ctx := context.Background()

	const numGoroutines = 10
	const numOperations = 100

	done := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(goroutineID int) {
			defer func() { done <- true }()

			for j := 0; j < numOperations; j++ {
				userID := uint64(goroutineID*numOperations + j + 1) // +1 чтобы избежать userID = 0
				pos := PlayerPosition{
					Position: vec.Vec3Float{X: float64(goroutineID), Y: float64(j)},
					RegionID: "terra_nova",
				}

				if err := repo.Save(ctx, userID, pos); err != nil {
					t.Errorf("Ошибка сохранения в горутине %d: %v", goroutineID, err)
					return
				}

				loaded, found, err := repo.Load(ctx, userID)
				if err != nil {
					t.Errorf("Ошибка загрузки в горутине %d: %v", goroutineID, err)
					return
				}
				if !found {
					t.Errorf("Позиция не найдена в горутине %d для пользователя %d",
						goroutineID, userID)
					return
				}
				if loaded != pos {
					t.Errorf("Неверная позиция в горутине %d: ожидалась %+v, получена %+v",
						goroutineID, pos, loaded)
					return
				}
			}
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Тест превысил таймаут")
		}
	}

	expectedCount := numGoroutines * numOperations
	if repo.Count() != expectedCount {
		t.Errorf("Ожидалось %d позиций после concurrent теста, получено: %d",
			expectedCount, repo.Count())
	}
}

package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MariaPositionRepo реализует PositionRepo для базы данных MariaDB/MySQL.
// Использует таблицу player_positions для хранения позиций игроков.
type MariaPositionRepo struct {
	db *sql.DB
}

// NewMariaPositionRepo создает новый репозиторий позиций для MariaDB.
// Автоматически создает таблицу, если она не существует.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMariaPositionRepo(dsn string) (*MariaPositionRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := &MariaPositionRepo{db: db}

	if err := repo.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}

	return repo, nil
}

// createTable создает таблицу player_positions, если она не существует.
func (r *MariaPositionRepo) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS player_positions (
			user_id    BIGINT       PRIMARY KEY,
			x          DOUBLE       NOT NULL,
			y          DOUBLE       NOT NULL,
			z          DOUBLE       NOT NULL,
			yaw        DOUBLE       NOT NULL DEFAULT 0,
			region_id  VARCHAR(64)  NOT NULL DEFAULT '',
			updated_at TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE    CURRENT_TIMESTAMP,
			INDEX idx_region (region_id),
			INDEX idx_updated_at (updated_at)
		) ENGINE=InnoDB
	`

	_, err := r.db.Exec(query)
	if err != nil {
		return fmt.Errorf("ошибка создания таблицы player_positions: %w", err)
	}

	return nil
}

// Save сохраняет позицию игрока в базе данных.
// Использует INSERT ... ON DUPLICATE KEY UPDATE для обновления существующих записей.
func (r *MariaPositionRepo) Save(ctx context.Context, userID uint64, pos PlayerPosition) error {
	if userID == 0 {
		return fmt.Errorf("недействительный userID: %d", userID)
	}

	query := `
		INSERT INTO player_positions (user_id, x, y, z, yaw, region_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			x = VALUES(x),
			y = VALUES(y),
			z = VALUES(z),
			yaw = VALUES(yaw),
			region_id = VALUES(region_id),
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.db.ExecContext(ctx, query, userID,
		pos.Position.X, pos.Position.Y, pos.Position.Z, pos.Yaw, pos.RegionID)
	if err != nil {
		return fmt.Errorf("ошибка сохранения позиции для пользователя %d: %w", userID, err)
	}

	return nil
}

// Load загружает позицию игрока из базы данных.
func (r *MariaPositionRepo) Load(ctx context.Context, userID uint64) (PlayerPosition, bool, error) {
	if userID == 0 {
		return PlayerPosition{}, false, fmt.Errorf("недействительный userID: %d", userID)
	}

	query := `SELECT x, y, z, yaw, region_id, updated_at FROM player_positions WHERE user_id = ?`

	var pos PlayerPosition
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&pos.Position.X, &pos.Position.Y, &pos.Position.Z, &pos.Yaw, &pos.RegionID, &pos.UpdatedAt)

	if err == sql.ErrNoRows {
		// Позиция не найдена - первый вход пользователя
		return PlayerPosition{}, false, nil
	}

	if err != nil {
		return PlayerPosition{}, false, fmt.Errorf("ошибка загрузки позиции для пользователя %d: %w", userID, err)
	}

	return pos, true, nil
}

// Delete удаляет сохранённую позицию игрока.
func (r *MariaPositionRepo) Delete(ctx context.Context, userID uint64) error {
	if userID == 0 {
		return fmt.Errorf("недействительный userID: %d", userID)
	}

	query := `DELETE FROM player_positions WHERE user_id = ?`

	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("ошибка удаления позиции для пользователя %d: %w", userID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("позиция для пользователя %d не найдена", userID)
	}

	return nil
}

// BatchSave сохраняет позиции нескольких игроков в одной транзакции.
// Это оптимизация для автосохранения всех онлайн игроков.
func (r *MariaPositionRepo) BatchSave(ctx context.Context, positions map[uint64]PlayerPosition) error {
	if len(positions) == 0 {
		return nil // Нечего сохранять
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() // Откат в случае ошибки

	query := `
		INSERT INTO player_positions (user_id, x, y, z, yaw, region_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			x = VALUES(x),
			y = VALUES(y),
			z = VALUES(z),
			yaw = VALUES(yaw),
			region_id = VALUES(region_id),
			updated_at = CURRENT_TIMESTAMP
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for userID, pos := range positions {
		if userID == 0 {
			return fmt.Errorf("недействительный userID в batch: %d", userID)
		}

		_, err = stmt.ExecContext(ctx, userID,
			pos.Position.X, pos.Position.Y, pos.Position.Z, pos.Yaw, pos.RegionID)
		if err != nil {
			return fmt.Errorf("ошибка сохранения позиции для пользователя %d в batch: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return nil
}

// Close закрывает соединение с базой данных.
func (r *MariaPositionRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

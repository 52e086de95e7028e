package repository

import (
	"context"
	"time"

	"beatquiz/model"

	"gorm.io/gorm"
)

// LobbyRepository is the lobby data access interface.
type LobbyRepository interface {
	Create(ctx context.Context, lobby *model.Lobby) error
	GetByCode(ctx context.Context, code string) (*model.Lobby, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	UpdateStatus(ctx context.Context, code, status string) error
	UpdateRound(ctx context.Context, code string, round int) error
	SetHost(ctx context.Context, code string, hostID int64) error
	Finish(ctx context.Context, code string) error
	Delete(ctx context.Context, code string) error

	AddPlayer(ctx context.Context, player *model.LobbyPlayer) error
	GetPlayer(ctx context.Context, code string, userID int64) (*model.LobbyPlayer, error)
	RemovePlayer(ctx context.Context, code string, userID int64) error
	GetActivePlayers(ctx context.Context, code string) ([]*model.LobbyPlayer, error)
	CountActivePlayers(ctx context.Context, code string) (int64, error)
	UpdatePlayerScore(ctx context.Context, code string, userID int64, points int) error
	SetPlayerHost(ctx context.Context, code string, userID int64, isHost bool) error

	SaveResults(ctx context.Context, results []*model.GameResult) error
	GetResults(ctx context.Context, code string) ([]*model.GameResult, error)
}

type gormLobbyRepository struct {
	db *gorm.DB
}

// NewGormLobbyRepository creates a GORM-backed lobby repository.
func NewGormLobbyRepository(db *gorm.DB) LobbyRepository {
	return &gormLobbyRepository{db: db}
}

// ========== Lobby CRUD ==========

func (r *gormLobbyRepository) Create(ctx context.Context, lobby *model.Lobby) error {
	return r.db.WithContext(ctx).Create(lobby).Error
}

// GetByCode returns nil when the lobby does not exist or is finished.
func (r *gormLobbyRepository) GetByCode(ctx context.Context, code string) (*model.Lobby, error) {
	var lobby model.Lobby
	err := r.db.WithContext(ctx).
		Where("code = ? AND status <> ?", code, model.LobbyStatusFinished).
		First(&lobby).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &lobby, nil
}

func (r *gormLobbyRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Lobby{}).
		Where("code = ?", code).
		Count(&count).Error
	return count > 0, err
}

func (r *gormLobbyRepository) UpdateStatus(ctx context.Context, code, status string) error {
	return r.db.WithContext(ctx).Model(&model.Lobby{}).
		Where("code = ?", code).
		Update("status", status).Error
}

func (r *gormLobbyRepository) UpdateRound(ctx context.Context, code string, round int) error {
	return r.db.WithContext(ctx).Model(&model.Lobby{}).
		Where("code = ?", code).
		Update("round", round).Error
}

func (r *gormLobbyRepository) SetHost(ctx context.Context, code string, hostID int64) error {
	return r.db.WithContext(ctx).Model(&model.Lobby{}).
		Where("code = ?", code).
		Update("host_id", hostID).Error
}

func (r *gormLobbyRepository) Finish(ctx context.Context, code string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Lobby{}).
		Where("code = ?", code).
		Updates(map[string]interface{}{
			"status":      model.LobbyStatusFinished,
			"finished_at": now,
		}).Error
}

func (r *gormLobbyRepository) Delete(ctx context.Context, code string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("lobby_code = ?", code).Delete(&model.LobbyPlayer{}).Error; err != nil {
			return err
		}
		return tx.Where("code = ?", code).Delete(&model.Lobby{}).Error
	})
}

// ========== Players ==========

func (r *gormLobbyRepository) AddPlayer(ctx context.Context, player *model.LobbyPlayer) error {
	return r.db.WithContext(ctx).Create(player).Error
}

func (r *gormLobbyRepository) GetPlayer(ctx context.Context, code string, userID int64) (*model.LobbyPlayer, error) {
	var player model.LobbyPlayer
	err := r.db.WithContext(ctx).
		Where("lobby_code = ? AND user_id = ? AND left_at IS NULL", code, userID).
		First(&player).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &player, nil
}

// RemovePlayer marks the player as departed rather than deleting the row.
func (r *gormLobbyRepository) RemovePlayer(ctx context.Context, code string, userID int64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.LobbyPlayer{}).
		Where("lobby_code = ? AND user_id = ? AND left_at IS NULL", code, userID).
		Update("left_at", now).Error
}

func (r *gormLobbyRepository) GetActivePlayers(ctx context.Context, code string) ([]*model.LobbyPlayer, error) {
	var players []*model.LobbyPlayer
	err := r.db.WithContext(ctx).
		Where("lobby_code = ? AND left_at IS NULL", code).
		Order("joined_at ASC").
		Find(&players).Error
	return players, err
}

func (r *gormLobbyRepository) CountActivePlayers(ctx context.Context, code string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.LobbyPlayer{}).
		Where("lobby_code = ? AND left_at IS NULL", code).
		Count(&count).Error
	return count, err
}

// UpdatePlayerScore adds points to a player's persisted score.
func (r *gormLobbyRepository) UpdatePlayerScore(ctx context.Context, code string, userID int64, points int) error {
	return r.db.WithContext(ctx).Model(&model.LobbyPlayer{}).
		Where("lobby_code = ? AND user_id = ? AND left_at IS NULL", code, userID).
		Update("score", gorm.Expr("score + ?", points)).Error
}

func (r *gormLobbyRepository) SetPlayerHost(ctx context.Context, code string, userID int64, isHost bool) error {
	return r.db.WithContext(ctx).Model(&model.LobbyPlayer{}).
		Where("lobby_code = ? AND user_id = ? AND left_at IS NULL", code, userID).
		Update("is_host", isHost).Error
}

// ========== Results ==========

func (r *gormLobbyRepository) SaveResults(ctx context.Context, results []*model.GameResult) error {
	if len(results) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(results).Error
}

func (r *gormLobbyRepository) GetResults(ctx context.Context, code string) ([]*model.GameResult, error) {
	var results []*model.GameResult
	err := r.db.WithContext(ctx).
		Where("lobby_code = ?", code).
		Order("score DESC").
		Find(&results).Error
	return results, err
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"marketchat/internal/logger"
	"marketchat/internal/models"
)

type RoomRepo interface {
	Get(ctx context.Context, roomID string) (*models.Room, error)
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
}

type PostgresRoomRepo struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func NewRoomRepo(pool *pgxpool.Pool, log *logger.Logger) RoomRepo {
	return &PostgresRoomRepo{pool: pool, log: log.With("component", "REPO")}
}

func (r *PostgresRoomRepo) Get(ctx context.Context, roomID string) (*models.Room, error) {
	const query = `
		SELECT u.id, u.username, u.avatar
		FROM rooms ro
		JOIN room_participants p ON p.room_id = ro.id
		JOIN users u ON u.id = p.user_id
		WHERE ro.id = $1
		ORDER BY p.joined_at, u.id`

	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		r.log.Error("room lookup failed", "room", roomID, "error", err)
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	defer rows.Close()

	room := &models.Room{ID: roomID}
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Avatar); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		room.Participants = append(room.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	if len(room.Participants) == 0 {
		return nil, ErrNotFound
	}
	return room, nil
}

func (r *PostgresRoomRepo) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM room_participants WHERE room_id = $1 AND user_id::text = $2)`
	var ok bool
	if err := r.pool.QueryRow(ctx, query, roomID, userID).Scan(&ok); err != nil {
		r.log.Error("participant check failed", "room", roomID, "user", userID, "error", err)
		return false, fmt.Errorf("check participant: %w", err)
	}
	return ok, nil
}

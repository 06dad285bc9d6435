package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketchat/internal/logger"
	"marketchat/internal/models"
	"marketchat/internal/types"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrNotAuthor = errors.New("only the author may do this")
)

const (
	DefaultPageSize = 30
	MaxPageSize     = 100
)

type MessageRepo interface {
	Save(ctx context.Context, m *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	Page(ctx context.Context, roomID, cursor string, limit int) (types.HistoryPage, error)
	// MarkSeen adds userID to the seen set. It reports whether the set grew.
	MarkSeen(ctx context.Context, roomID, messageID, userID string) (bool, error)
	SoftDelete(ctx context.Context, roomID, messageID, userID string) error
}

type PostgresMessagesRepo struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func NewMessagesRepo(pool *pgxpool.Pool, log *logger.Logger) MessageRepo {
	return &PostgresMessagesRepo{
		pool: pool,
		log:  log.With("component", "REPO"),
	}
}

const selectMessage = `
	SELECT m.id, m.room_id, m.sender_id, su.username, su.avatar,
	       m.text, m.media_url, m.file_name, m.seen_by, m.deleted, m.created_at,
	       r.id, ru.id, ru.username, r.text, r.file_name, r.deleted
	FROM messages m
	JOIN users su ON su.id = m.sender_id
	LEFT JOIN messages r ON r.id = m.reply_to
	LEFT JOIN users ru ON ru.id = r.sender_id`

func scanMessage(row pgx.Row) (*models.Message, error) {
	m := &models.Message{}
	var (
		replyID, replySenderID, replySender, replyText, replyFile *string
		replyDeleted                                              *bool
	)
	err := row.Scan(
		&m.ID, &m.RoomID, &m.Sender.ID, &m.Sender.Name, &m.Sender.Avatar,
		&m.Text, &m.MediaURL, &m.FileName, &m.SeenBy, &m.Deleted, &m.CreatedAt,
		&replyID, &replySenderID, &replySender, &replyText, &replyFile, &replyDeleted,
	)
	if err != nil {
		return nil, err
	}
	if replyID != nil {
		ref := &models.ReplyRef{ID: *replyID}
		if replySenderID != nil {
			ref.Sender = models.Participant{ID: *replySenderID, Name: deref(replySender)}
		}
		if replyDeleted == nil || !*replyDeleted {
			ref.Text = deref(replyText)
			ref.FileName = deref(replyFile)
		}
		m.ReplyTo = ref
	}
	if m.SeenBy == nil {
		m.SeenBy = []string{}
	}
	return m, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Save persists a new message. ID and CreatedAt are assigned here when
// empty; the sender display fields are filled from users.
func (r *PostgresMessagesRepo) Save(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	var replyTo *string
	if m.ReplyTo != nil {
		replyTo = &m.ReplyTo.ID
	}
	const query = `
		WITH ins AS (
			INSERT INTO messages (id, room_id, sender_id, text, media_url, file_name, reply_to)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING sender_id, created_at
		)
		SELECT u.username, u.avatar, ins.created_at FROM ins JOIN users u ON u.id = ins.sender_id`

	err := r.pool.QueryRow(ctx, query,
		m.ID, m.RoomID, m.Sender.ID, m.Text, m.MediaURL, m.FileName, replyTo,
	).Scan(&m.Sender.Name, &m.Sender.Avatar, &m.CreatedAt)
	if err != nil {
		r.log.Error("save failed", "message", m.ID, "room", m.RoomID, "error", err)
		return fmt.Errorf("save message: %w", err)
	}
	m.SeenBy = []string{}
	return nil
}

func (r *PostgresMessagesRepo) Get(ctx context.Context, id string) (*models.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	m, err := scanMessage(r.pool.QueryRow(ctx, selectMessage+` WHERE m.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return m, nil
}

// Page returns up to limit messages older than cursor in ascending order.
func (r *PostgresMessagesRepo) Page(ctx context.Context, roomID, cursor string, limit int) (types.HistoryPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	var (
		rows pgx.Rows
		err  error
	)
	if cursor == "" {
		rows, err = r.pool.Query(ctx, selectMessage+`
			WHERE m.room_id = $1
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $2`, roomID, limit+1)
	} else {
		c, cerr := DecodeCursor(cursor)
		if cerr != nil {
			return types.HistoryPage{}, cerr
		}
		rows, err = r.pool.Query(ctx, selectMessage+`
			WHERE m.room_id = $1 AND (m.created_at, m.id) < ($2, $3::uuid)
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $4`, roomID, c.CreatedAt, c.ID, limit+1)
	}
	if err != nil {
		r.log.Error("page query failed", "room", roomID, "error", err)
		return types.HistoryPage{}, fmt.Errorf("page room %s: %w", roomID, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit+1)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return types.HistoryPage{}, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return types.HistoryPage{}, fmt.Errorf("page room %s: %w", roomID, err)
	}
	return buildPage(messages, limit), nil
}

// buildPage trims the probe row, flips newest-first rows to ascending
// order and derives the next cursor.
func buildPage(newestFirst []models.Message, limit int) types.HistoryPage {
	page := types.HistoryPage{Messages: newestFirst}
	if len(newestFirst) > limit {
		page.HasMore = true
		page.Messages = newestFirst[:limit]
	}
	slices.Reverse(page.Messages)
	if page.HasMore && len(page.Messages) > 0 {
		oldest := page.Messages[0]
		page.NextCursor = Cursor{CreatedAt: oldest.CreatedAt, ID: oldest.ID}.Encode()
	}
	return page
}

func (r *PostgresMessagesRepo) MarkSeen(ctx context.Context, roomID, messageID, userID string) (bool, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return false, ErrNotFound
	}
	const query = `
		UPDATE messages
		SET seen_by = array_append(seen_by, $3)
		WHERE id = $1 AND room_id = $2
		  AND sender_id::text <> $3
		  AND NOT ($3 = ANY(seen_by))`

	tag, err := r.pool.Exec(ctx, query, messageID, roomID, userID)
	if err != nil {
		r.log.Error("mark seen failed", "message", messageID, "error", err)
		return false, fmt.Errorf("mark seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.log.Debug("seen set unchanged", "message", messageID, "user", userID)
		return false, nil
	}
	return true, nil
}

// SoftDelete tombstones a message. The body and attachment are cleared;
// the row stays so replies and pagination keep their anchors.
func (r *PostgresMessagesRepo) SoftDelete(ctx context.Context, roomID, messageID, userID string) error {
	if _, err := uuid.Parse(messageID); err != nil {
		return ErrNotFound
	}
	const query = `
		UPDATE messages
		SET deleted = TRUE, text = '', media_url = '', file_name = ''
		WHERE id = $1 AND room_id = $2 AND sender_id = $3::uuid AND NOT deleted`

	tag, err := r.pool.Exec(ctx, query, messageID, roomID, userID)
	if err != nil {
		r.log.Error("soft delete failed", "message", messageID, "error", err)
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	m, err := r.Get(ctx, messageID)
	if err != nil {
		return err
	}
	switch {
	case m.RoomID != roomID || m.Deleted:
		return ErrNotFound
	case m.Sender.ID != userID:
		return ErrNotAuthor
	}
	return ErrNotFound
}

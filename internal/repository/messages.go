package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillhall/scribe/internal/models"
)

// MessagesRepository handles messages table operations. Every statement
// carries its precedence condition, so a stale write is an atomic no-op
// rather than a read-compare-write race.
type MessagesRepository struct {
	pool *pgxpool.Pool
}

// NewMessagesRepository creates a new messages repository.
func NewMessagesRepository(pool *pgxpool.Pool) *MessagesRepository {
	return &MessagesRepository{pool: pool}
}

// Create inserts a message row if the key is absent. Re-discovery of an
// existing message (the crawl path confirming live state) is a no-op.
func (r *MessagesRepository) Create(ctx context.Context, m models.Message) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO messages (message_id, channel_id, guild_id, user_id, message_type,
		                      content, system_content, embeds, attachments, webhook_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (message_id) DO NOTHING
	`, m.MessageID, m.ChannelID, m.GuildID, m.UserID, m.Type,
		m.Content, m.SystemContent, m.Embeds, m.Attachments, m.WebhookID, m.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("create message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Edit advances the content+edited_at attribute group. The row must not
// be deleted, and the incoming timestamp must be strictly newer than
// the group's recorded timestamp; ties lose to the first commit.
func (r *MessagesRepository) Edit(ctx context.Context, messageID int64, content string, embeds int16, editedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET content = $2, embeds = $3, edited_at = $4
		WHERE message_id = $1
		  AND deleted_at IS NULL
		  AND COALESCE(edited_at, created_at) < $4
	`, messageID, content, embeds, editedAt)
	if err != nil {
		return false, fmt.Errorf("edit message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete sets deleted_at once. The transition is terminal; repeated
// deletions are no-ops.
func (r *MessagesRepository) Delete(ctx context.Context, messageID int64, deletedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET deleted_at = $2
		WHERE message_id = $1 AND deleted_at IS NULL
	`, messageID, deletedAt)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

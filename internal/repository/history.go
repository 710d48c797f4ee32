package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillhall/scribe/internal/models"
)

// ReactionsRepository handles reactions table operations.
type ReactionsRepository struct {
	pool *pgxpool.Pool
}

// NewReactionsRepository creates a new reactions repository.
func NewReactionsRepository(pool *pgxpool.Pool) *ReactionsRepository {
	return &ReactionsRepository{pool: pool}
}

// Add inserts a reaction row. Rows are only distinguishable by the full
// composite key, so a duplicate (including one with a NULL timestamp)
// collapses silently.
func (r *ReactionsRepository) Add(ctx context.Context, re models.Reaction) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO reactions (message_id, emoji_id, emoji_unicode, user_id,
		                       channel_id, guild_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT uq_reactions DO NOTHING
	`, re.MessageID, re.EmojiID, re.EmojiUnicode, re.UserID, re.ChannelID, re.GuildID, re.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("add reaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Remove soft-deletes the user's live reaction rows for the emoji.
func (r *ReactionsRepository) Remove(ctx context.Context, messageID, emojiID int64, emojiUnicode string, userID int64, deletedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reactions
		SET deleted_at = $5
		WHERE message_id = $1 AND emoji_id = $2 AND emoji_unicode = $3 AND user_id = $4
		  AND deleted_at IS NULL
	`, messageID, emojiID, emojiUnicode, userID, deletedAt)
	if err != nil {
		return false, fmt.Errorf("remove reaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// TypingRepository handles typing table operations.
type TypingRepository struct {
	pool *pgxpool.Pool
}

// NewTypingRepository creates a new typing repository.
func NewTypingRepository(pool *pgxpool.Pool) *TypingRepository {
	return &TypingRepository{pool: pool}
}

// Insert records a typing observation; redeliveries collapse on uq_typing.
func (r *TypingRepository) Insert(ctx context.Context, t models.TypingEvent) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO typing (timestamp, user_id, channel_id, guild_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT uq_typing DO NOTHING
	`, t.Timestamp, t.UserID, t.ChannelID, t.GuildID)
	if err != nil {
		return false, fmt.Errorf("insert typing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PinsRepository handles pins table operations.
type PinsRepository struct {
	pool *pgxpool.Pool
}

// NewPinsRepository creates a new pins repository.
func NewPinsRepository(pool *pgxpool.Pool) *PinsRepository {
	return &PinsRepository{pool: pool}
}

// Insert records a pinning action.
func (r *PinsRepository) Insert(ctx context.Context, p models.Pin) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO pins (pin_id, message_id, pinner_id, user_id, channel_id, guild_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pin_id, message_id) DO NOTHING
	`, p.PinID, p.MessageID, p.PinnerID, p.UserID, p.ChannelID, p.GuildID)
	if err != nil {
		return false, fmt.Errorf("insert pin: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MentionsRepository handles mentions table operations.
type MentionsRepository struct {
	pool *pgxpool.Pool
}

// NewMentionsRepository creates a new mentions repository.
func NewMentionsRepository(pool *pgxpool.Pool) *MentionsRepository {
	return &MentionsRepository{pool: pool}
}

// InsertAll inserts the distinct mention rows of one message and
// returns how many were new. Duplicates within the batch or against
// stored rows collapse on uq_mention.
func (r *MentionsRepository) InsertAll(ctx context.Context, rows []models.Mention) (int, error) {
	inserted := 0
	for _, m := range rows {
		tag, err := r.pool.Exec(ctx, `
			INSERT INTO mentions (mentioned_id, type, message_id, channel_id, guild_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT ON CONSTRAINT uq_mention DO NOTHING
		`, m.MentionedID, m.Kind, m.MessageID, m.ChannelID, m.GuildID)
		if err != nil {
			return inserted, fmt.Errorf("insert mention: %w", err)
		}
		if tag.RowsAffected() > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// AuditLogRepository handles audit_log table operations.
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new audit log repository.
func NewAuditLogRepository(pool *pgxpool.Pool) *AuditLogRepository {
	return &AuditLogRepository{pool: pool}
}

// Insert appends an audit log entry; re-discovery is a no-op.
func (r *AuditLogRepository) Insert(ctx context.Context, e models.AuditLogEntry) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (audit_entry_id, guild_id, action, actor_id, target_id,
		                       reason, category, before, after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT ON CONSTRAINT uq_audit_log DO NOTHING
	`, e.AuditEntryID, e.GuildID, e.Action, e.ActorID, e.TargetID,
		e.Reason, e.Category, e.Before, e.After)
	if err != nil {
		return false, fmt.Errorf("insert audit log entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Cursor is the persisted progress of one crawl scope.
type Cursor struct {
	LastID     int64
	IsComplete bool
	IsStalled  bool
}

// CrawlRepository handles the internal channel_crawl and
// audit_log_crawl progress tables. Cursors only move forward: advancing
// uses GREATEST so a replayed page can never regress a scope.
type CrawlRepository struct {
	pool *pgxpool.Pool
}

// NewCrawlRepository creates a new crawl progress repository.
func NewCrawlRepository(pool *pgxpool.Pool) *CrawlRepository {
	return &CrawlRepository{pool: pool}
}

// ChannelCursor returns the cursor for a channel scope, creating an
// empty one on first sight.
func (r *CrawlRepository) ChannelCursor(ctx context.Context, channelID, guildID int64) (Cursor, error) {
	var c Cursor
	err := r.pool.QueryRow(ctx, `
		INSERT INTO channel_crawl (channel_id, guild_id)
		VALUES ($1, $2)
		ON CONFLICT (channel_id) DO UPDATE SET guild_id = EXCLUDED.guild_id
		RETURNING last_message_id, is_complete, is_stalled
	`, channelID, guildID).Scan(&c.LastID, &c.IsComplete, &c.IsStalled)
	if err != nil {
		return Cursor{}, fmt.Errorf("channel cursor: %w", err)
	}
	return c, nil
}

// AdvanceChannel moves a channel cursor forward after a page has been
// fully applied. A stalled flag is cleared by any successful advance.
func (r *CrawlRepository) AdvanceChannel(ctx context.Context, channelID, lastMessageID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channel_crawl
		SET last_message_id = GREATEST(last_message_id, $2),
		    is_stalled = FALSE,
		    updated_at = NOW()
		WHERE channel_id = $1
	`, channelID, lastMessageID)
	if err != nil {
		return fmt.Errorf("advance channel cursor: %w", err)
	}
	return nil
}

// SetChannelComplete flips the completion flag for a channel scope.
// Complete scopes are revisited by later cycles to pick up new history,
// except ones completed because the channel no longer exists.
func (r *CrawlRepository) SetChannelComplete(ctx context.Context, channelID int64, complete bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channel_crawl
		SET is_complete = $2, updated_at = NOW()
		WHERE channel_id = $1
	`, channelID, complete)
	if err != nil {
		return fmt.Errorf("set channel crawl complete: %w", err)
	}
	return nil
}

// MarkChannelStalled records retry-budget exhaustion; the scope is
// retried on the next scheduled cycle.
func (r *CrawlRepository) MarkChannelStalled(ctx context.Context, channelID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channel_crawl
		SET is_stalled = TRUE, updated_at = NOW()
		WHERE channel_id = $1
	`, channelID)
	if err != nil {
		return fmt.Errorf("mark channel crawl stalled: %w", err)
	}
	return nil
}

// AuditCursor returns the cursor for a guild's audit log scope,
// creating an empty one on first sight.
func (r *CrawlRepository) AuditCursor(ctx context.Context, guildID int64) (Cursor, error) {
	var c Cursor
	err := r.pool.QueryRow(ctx, `
		INSERT INTO audit_log_crawl (guild_id)
		VALUES ($1)
		ON CONFLICT (guild_id) DO UPDATE SET updated_at = audit_log_crawl.updated_at
		RETURNING last_audit_entry_id, is_complete, is_stalled
	`, guildID).Scan(&c.LastID, &c.IsComplete, &c.IsStalled)
	if err != nil {
		return Cursor{}, fmt.Errorf("audit cursor: %w", err)
	}
	return c, nil
}

// AdvanceAudit moves a guild's audit log cursor forward.
func (r *CrawlRepository) AdvanceAudit(ctx context.Context, guildID, lastEntryID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE audit_log_crawl
		SET last_audit_entry_id = GREATEST(last_audit_entry_id, $2),
		    is_stalled = FALSE,
		    updated_at = NOW()
		WHERE guild_id = $1
	`, guildID, lastEntryID)
	if err != nil {
		return fmt.Errorf("advance audit cursor: %w", err)
	}
	return nil
}

// SetAuditComplete flips the completion flag for an audit log scope.
func (r *CrawlRepository) SetAuditComplete(ctx context.Context, guildID int64, complete bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE audit_log_crawl
		SET is_complete = $2, updated_at = NOW()
		WHERE guild_id = $1
	`, guildID, complete)
	if err != nil {
		return fmt.Errorf("set audit crawl complete: %w", err)
	}
	return nil
}

// MarkAuditStalled records retry-budget exhaustion for an audit scope.
func (r *CrawlRepository) MarkAuditStalled(ctx context.Context, guildID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE audit_log_crawl
		SET is_stalled = TRUE, updated_at = NOW()
		WHERE guild_id = $1
	`, guildID)
	if err != nil {
		return fmt.Errorf("mark audit crawl stalled: %w", err)
	}
	return nil
}

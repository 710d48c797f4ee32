package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillhall/scribe/internal/models"
)

// LookupsRepository handles the snapshot tables: guilds, channels,
// voice_channels, channel_categories, users, roles and emojis. Each
// upsert overwrites mutable attributes only when the incoming snapshot
// is strictly newer than the stored one (as_of), and never on rows
// already marked deleted, which stay frozen. is_deleted itself only
// ever transitions false -> true.
type LookupsRepository struct {
	pool *pgxpool.Pool
}

// NewLookupsRepository creates a new lookups repository.
func NewLookupsRepository(pool *pgxpool.Pool) *LookupsRepository {
	return &LookupsRepository{pool: pool}
}

// UpsertGuild merges a guild snapshot observed at the given time.
func (r *LookupsRepository) UpsertGuild(ctx context.Context, g models.Guild, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO guilds (guild_id, owner_id, name, icon, splash, afk_channel_id,
		                    afk_timeout, mfa, verification_level, explicit_content_filter,
		                    features, is_deleted, as_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (guild_id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			icon = EXCLUDED.icon,
			splash = EXCLUDED.splash,
			afk_channel_id = EXCLUDED.afk_channel_id,
			afk_timeout = EXCLUDED.afk_timeout,
			mfa = EXCLUDED.mfa,
			verification_level = EXCLUDED.verification_level,
			explicit_content_filter = EXCLUDED.explicit_content_filter,
			features = EXCLUDED.features,
			is_deleted = guilds.is_deleted OR EXCLUDED.is_deleted,
			as_of = EXCLUDED.as_of
		WHERE NOT guilds.is_deleted AND EXCLUDED.as_of > guilds.as_of
	`, g.GuildID, g.OwnerID, g.Name, g.Icon, g.Splash, g.AfkChannelID,
		g.AfkTimeout, g.MFA, g.VerificationLevel, g.ExplicitContentFilter,
		g.Features, g.IsDeleted, at)
	if err != nil {
		return false, fmt.Errorf("upsert guild: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertChannel merges a text channel snapshot observed at the given time.
func (r *LookupsRepository) UpsertChannel(ctx context.Context, c models.Channel, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO channels (channel_id, guild_id, category_id, name, topic,
		                      position, is_nsfw, is_deleted, as_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (channel_id) DO UPDATE SET
			category_id = EXCLUDED.category_id,
			name = EXCLUDED.name,
			topic = EXCLUDED.topic,
			position = EXCLUDED.position,
			is_nsfw = EXCLUDED.is_nsfw,
			is_deleted = channels.is_deleted OR EXCLUDED.is_deleted,
			as_of = EXCLUDED.as_of
		WHERE NOT channels.is_deleted AND EXCLUDED.as_of > channels.as_of
	`, c.ChannelID, c.GuildID, c.CategoryID, c.Name, c.Topic, c.Position, c.IsNSFW, c.IsDeleted, at)
	if err != nil {
		return false, fmt.Errorf("upsert channel: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertVoiceChannel merges a voice channel snapshot observed at the given time.
func (r *LookupsRepository) UpsertVoiceChannel(ctx context.Context, c models.VoiceChannel, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO voice_channels (voice_channel_id, guild_id, category_id, name,
		                            position, bitrate, user_limit, is_deleted, as_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (voice_channel_id) DO UPDATE SET
			category_id = EXCLUDED.category_id,
			name = EXCLUDED.name,
			position = EXCLUDED.position,
			bitrate = EXCLUDED.bitrate,
			user_limit = EXCLUDED.user_limit,
			is_deleted = voice_channels.is_deleted OR EXCLUDED.is_deleted,
			as_of = EXCLUDED.as_of
		WHERE NOT voice_channels.is_deleted AND EXCLUDED.as_of > voice_channels.as_of
	`, c.VoiceChannelID, c.GuildID, c.CategoryID, c.Name, c.Position, c.Bitrate, c.UserLimit, c.IsDeleted, at)
	if err != nil {
		return false, fmt.Errorf("upsert voice channel: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertCategory merges a channel category snapshot observed at the given time.
func (r *LookupsRepository) UpsertCategory(ctx context.Context, c models.ChannelCategory, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO channel_categories (category_id, guild_id, name, position, is_nsfw, is_deleted, as_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (category_id) DO UPDATE SET
			name = EXCLUDED.name,
			position = EXCLUDED.position,
			is_nsfw = EXCLUDED.is_nsfw,
			is_deleted = channel_categories.is_deleted OR EXCLUDED.is_deleted,
			as_of = EXCLUDED.as_of
		WHERE NOT channel_categories.is_deleted AND EXCLUDED.as_of > channel_categories.as_of
	`, c.CategoryID, c.GuildID, c.Name, c.Position, c.IsNSFW, c.IsDeleted, at)
	if err != nil {
		return false, fmt.Errorf("upsert channel category: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertUser merges a user snapshot observed at the given time.
func (r *LookupsRepository) UpsertUser(ctx context.Context, u models.User, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO users (user_id, name, discriminator, avatar, is_bot, is_deleted, as_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name,
			discriminator = EXCLUDED.discriminator,
			avatar = EXCLUDED.avatar,
			is_bot = EXCLUDED.is_bot,
			is_deleted = users.is_deleted OR EXCLUDED.is_deleted,
			as_of = EXCLUDED.as_of
		WHERE NOT users.is_deleted AND EXCLUDED.as_of > users.as_of
	`, u.UserID, u.Name, u.Discriminator, u.Avatar, u.IsBot, u.IsDeleted, at)
	if err != nil {
		return false, fmt.Errorf("upsert user: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertRole merges a role snapshot observed at the given time.
func (r *LookupsRepository) UpsertRole(ctx context.Context, role models.Role, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO roles (role_id, guild_id, name, color, raw_permissions, position,
		                   is_hoisted, is_managed, is_mentionable, is_deleted, as_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (role_id) DO UPDATE SET
			name = EXCLUDED.name,
			color = EXCLUDED.color,
			raw_permissions = EXCLUDED.raw_permissions,
			position = EXCLUDED.position,
			is_hoisted = EXCLUDED.is_hoisted,
			is_managed = EXCLUDED.is_managed,
			is_mentionable = EXCLUDED.is_mentionable,
			is_deleted = roles.is_deleted OR EXCLUDED.is_deleted,
			as_of = EXCLUDED.as_of
		WHERE NOT roles.is_deleted AND EXCLUDED.as_of > roles.as_of
	`, role.RoleID, role.GuildID, role.Name, role.Color, role.RawPermissions, role.Position,
		role.IsHoisted, role.IsManaged, role.IsMentionable, role.IsDeleted, at)
	if err != nil {
		return false, fmt.Errorf("upsert role: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertEmoji merges an emoji union row keyed on (emoji_id, emoji_unicode),
// observed at the given time.
func (r *LookupsRepository) UpsertEmoji(ctx context.Context, e models.Emoji, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO emojis (emoji_id, emoji_unicode, is_custom, is_managed, is_deleted,
		                    name, category, roles, guild_id, as_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT ON CONSTRAINT uq_emoji DO UPDATE SET
			is_managed = EXCLUDED.is_managed,
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			roles = EXCLUDED.roles,
			is_deleted = emojis.is_deleted OR EXCLUDED.is_deleted,
			as_of = EXCLUDED.as_of
		WHERE NOT emojis.is_deleted AND EXCLUDED.as_of > emojis.as_of
	`, e.EmojiID, e.EmojiUnicode, e.IsCustom, e.IsManaged, e.IsDeleted,
		e.Name, e.Category, e.Roles, e.GuildID, at)
	if err != nil {
		return false, fmt.Errorf("upsert emoji: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillhall/scribe/internal/models"
)

// MembershipRepository handles guild_membership and role_membership.
type MembershipRepository struct {
	pool *pgxpool.Pool
}

// NewMembershipRepository creates a new membership repository.
func NewMembershipRepository(pool *pgxpool.Pool) *MembershipRepository {
	return &MembershipRepository{pool: pool}
}

// UpsertGuildMembership merges membership state for (user, guild)
// observed at the given time. A stale observation never overwrites a
// newer one. joined_at is retained when the new observation lacks it,
// so a leave event keeps the original join time. is_member=false with
// a non-null joined_at is a valid state, not an error.
func (r *MembershipRepository) UpsertGuildMembership(ctx context.Context, m models.GuildMembership, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO guild_membership (user_id, guild_id, is_member, joined_at, nick, as_of)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ON CONSTRAINT uq_guild_membership DO UPDATE SET
			is_member = EXCLUDED.is_member,
			joined_at = COALESCE(EXCLUDED.joined_at, guild_membership.joined_at),
			nick = EXCLUDED.nick,
			as_of = EXCLUDED.as_of
		WHERE EXCLUDED.as_of > guild_membership.as_of
	`, m.UserID, m.GuildID, m.IsMember, m.JoinedAt, m.Nick, at)
	if err != nil {
		return false, fmt.Errorf("upsert guild membership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AddRoleMembership appends a role membership row. Rows are retained
// even when the user later leaves the guild.
func (r *MembershipRepository) AddRoleMembership(ctx context.Context, m models.RoleMembership) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO role_membership (role_id, user_id, guild_id)
		VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT uq_role_membership DO NOTHING
	`, m.RoleID, m.UserID, m.GuildID)
	if err != nil {
		return false, fmt.Errorf("add role membership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

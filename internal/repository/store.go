// Package repository implements the persistence contract: natural-keyed
// tables with explicit per-entity upserts that express the precedence
// rule directly in SQL.
package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillhall/scribe/internal/models"
)

// Store bundles every repository behind the single surface the write
// coordinator consumes.
type Store struct {
	Messages   *MessagesRepository
	Reactions  *ReactionsRepository
	Typing     *TypingRepository
	Pins       *PinsRepository
	Mentions   *MentionsRepository
	AuditLog   *AuditLogRepository
	Lookups    *LookupsRepository
	Membership *MembershipRepository
	Crawl      *CrawlRepository
}

// NewStore creates all repositories over one shared pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Messages:   NewMessagesRepository(pool),
		Reactions:  NewReactionsRepository(pool),
		Typing:     NewTypingRepository(pool),
		Pins:       NewPinsRepository(pool),
		Mentions:   NewMentionsRepository(pool),
		AuditLog:   NewAuditLogRepository(pool),
		Lookups:    NewLookupsRepository(pool),
		Membership: NewMembershipRepository(pool),
		Crawl:      NewCrawlRepository(pool),
	}
}

// The delegation methods below satisfy coordinator.Store.

func (s *Store) CreateMessage(ctx context.Context, m models.Message) (bool, error) {
	return s.Messages.Create(ctx, m)
}

func (s *Store) EditMessage(ctx context.Context, id int64, content string, embeds int16, editedAt time.Time) (bool, error) {
	return s.Messages.Edit(ctx, id, content, embeds, editedAt)
}

func (s *Store) DeleteMessage(ctx context.Context, id int64, deletedAt time.Time) (bool, error) {
	return s.Messages.Delete(ctx, id, deletedAt)
}

func (s *Store) AddReaction(ctx context.Context, r models.Reaction) (bool, error) {
	return s.Reactions.Add(ctx, r)
}

func (s *Store) RemoveReaction(ctx context.Context, messageID, emojiID int64, emojiUnicode string, userID int64, at time.Time) (bool, error) {
	return s.Reactions.Remove(ctx, messageID, emojiID, emojiUnicode, userID, at)
}

func (s *Store) InsertTyping(ctx context.Context, t models.TypingEvent) (bool, error) {
	return s.Typing.Insert(ctx, t)
}

func (s *Store) InsertPin(ctx context.Context, p models.Pin) (bool, error) {
	return s.Pins.Insert(ctx, p)
}

func (s *Store) InsertMentions(ctx context.Context, rows []models.Mention) (int, error) {
	return s.Mentions.InsertAll(ctx, rows)
}

func (s *Store) InsertAuditLogEntry(ctx context.Context, e models.AuditLogEntry) (bool, error) {
	return s.AuditLog.Insert(ctx, e)
}

func (s *Store) UpsertGuild(ctx context.Context, g models.Guild, at time.Time) (bool, error) {
	return s.Lookups.UpsertGuild(ctx, g, at)
}

func (s *Store) UpsertChannel(ctx context.Context, c models.Channel, at time.Time) (bool, error) {
	return s.Lookups.UpsertChannel(ctx, c, at)
}

func (s *Store) UpsertVoiceChannel(ctx context.Context, c models.VoiceChannel, at time.Time) (bool, error) {
	return s.Lookups.UpsertVoiceChannel(ctx, c, at)
}

func (s *Store) UpsertCategory(ctx context.Context, c models.ChannelCategory, at time.Time) (bool, error) {
	return s.Lookups.UpsertCategory(ctx, c, at)
}

func (s *Store) UpsertUser(ctx context.Context, u models.User, at time.Time) (bool, error) {
	return s.Lookups.UpsertUser(ctx, u, at)
}

func (s *Store) UpsertRole(ctx context.Context, r models.Role, at time.Time) (bool, error) {
	return s.Lookups.UpsertRole(ctx, r, at)
}

func (s *Store) UpsertEmoji(ctx context.Context, e models.Emoji, at time.Time) (bool, error) {
	return s.Lookups.UpsertEmoji(ctx, e, at)
}

func (s *Store) UpsertGuildMembership(ctx context.Context, m models.GuildMembership, at time.Time) (bool, error) {
	return s.Membership.UpsertGuildMembership(ctx, m, at)
}

func (s *Store) AddRoleMembership(ctx context.Context, m models.RoleMembership) (bool, error) {
	return s.Membership.AddRoleMembership(ctx, m)
}

// Package listener subscribes to the live gateway and turns events into
// mutations for the write coordinator. All persistence decisions stay in
// the coordinator; the listener only normalizes and forwards.
package listener

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/quillhall/scribe/internal/coordinator"
	"github.com/quillhall/scribe/internal/logger"
	"github.com/quillhall/scribe/internal/models"
	"github.com/quillhall/scribe/internal/mutation"
	"github.com/quillhall/scribe/internal/normalize"
	"github.com/quillhall/scribe/internal/snowflake"
)

// Applier accepts mutations for application. Satisfied by the write
// coordinator.
type Applier interface {
	Apply(ctx context.Context, m mutation.Mutation) (coordinator.Result, error)
}

// Listener owns the gateway session and its event handlers.
type Listener struct {
	session *discordgo.Session
	applier Applier
	log     *logger.Logger

	// guilds to archive; empty means every guild the account can see
	guilds map[int64]struct{}

	ctx      context.Context
	removers []func()
}

// New creates a listener over an unopened session.
func New(session *discordgo.Session, applier Applier, guildIDs []int64, log *logger.Logger) *Listener {
	guilds := make(map[int64]struct{}, len(guildIDs))
	for _, id := range guildIDs {
		guilds[id] = struct{}{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Listener{
		session: session,
		applier: applier,
		log:     log,
		guilds:  guilds,
	}
}

// Start registers handlers and opens the gateway connection. ctx bounds
// every apply issued by the handlers.
func (l *Listener) Start(ctx context.Context) error {
	l.ctx = ctx

	l.session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMembers |
		discordgo.IntentGuildModeration |
		discordgo.IntentGuildEmojis |
		discordgo.IntentGuildMessages |
		discordgo.IntentGuildMessageReactions |
		discordgo.IntentGuildMessageTyping |
		discordgo.IntentMessageContent

	l.removers = []func(){
		l.session.AddHandler(l.onReady),
		l.session.AddHandler(l.onMessageCreate),
		l.session.AddHandler(l.onMessageUpdate),
		l.session.AddHandler(l.onMessageDelete),
		l.session.AddHandler(l.onMessageDeleteBulk),
		l.session.AddHandler(l.onReactionAdd),
		l.session.AddHandler(l.onReactionRemove),
		l.session.AddHandler(l.onTypingStart),
		l.session.AddHandler(l.onGuildCreate),
		l.session.AddHandler(l.onGuildUpdate),
		l.session.AddHandler(l.onGuildDelete),
		l.session.AddHandler(l.onChannelCreate),
		l.session.AddHandler(l.onChannelUpdate),
		l.session.AddHandler(l.onChannelDelete),
		l.session.AddHandler(l.onMemberAdd),
		l.session.AddHandler(l.onMemberUpdate),
		l.session.AddHandler(l.onMemberRemove),
		l.session.AddHandler(l.onRoleCreate),
		l.session.AddHandler(l.onRoleUpdate),
		l.session.AddHandler(l.onRoleDelete),
		l.session.AddHandler(l.onEmojisUpdate),
		l.session.AddHandler(l.onAuditLogEntry),
	}

	if err := l.session.Open(); err != nil {
		return fmt.Errorf("open gateway session: %w", err)
	}
	return nil
}

// Close detaches handlers and closes the gateway connection.
func (l *Listener) Close() error {
	for _, remove := range l.removers {
		remove()
	}
	l.removers = nil
	if err := l.session.Close(); err != nil {
		return fmt.Errorf("close gateway session: %w", err)
	}
	return nil
}

// allowed reports whether events for the guild should be archived.
// Direct messages carry no guild id and are never archived.
func (l *Listener) allowed(guildID string) bool {
	if guildID == "" {
		return false
	}
	if len(l.guilds) == 0 {
		return true
	}
	id, err := snowflake.Parse(guildID)
	if err != nil {
		return false
	}
	_, ok := l.guilds[id]
	return ok
}

// apply forwards mutations in order, stopping the batch on persistence
// failure. Skips and rejections are expected outcomes and only logged.
func (l *Listener) apply(muts ...mutation.Mutation) {
	for _, m := range muts {
		res, err := l.applier.Apply(l.ctx, m)
		if err != nil {
			l.log.Error().Err(err).Str("key", m.Key()).Msg("failed to apply gateway mutation")
			return
		}
		l.log.Debug().
			Str("key", m.Key()).
			Str("status", res.Status.String()).
			Str("reason", res.Reason).
			Msg("applied gateway mutation")
	}
}

func (l *Listener) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	l.log.Info().
		Str("username", r.User.Username).
		Int("guilds", len(r.Guilds)).
		Msg("gateway session ready")
}

func (l *Listener) onMessageCreate(_ *discordgo.Session, e *discordgo.MessageCreate) {
	if !l.allowed(e.GuildID) {
		return
	}
	muts, err := normalize.Message(e.Message)
	if err != nil {
		l.log.Warn().Err(err).Str("message_id", e.ID).Msg("dropped malformed message event")
		return
	}
	l.apply(muts...)
}

// onMessageUpdate emits a create before the edit: history crawling can
// lag the gateway, so the edited message may not exist yet. The create
// collapses to a skip when it does.
func (l *Listener) onMessageUpdate(_ *discordgo.Session, e *discordgo.MessageUpdate) {
	if !l.allowed(e.GuildID) {
		return
	}
	messageID, err := snowflake.Parse(e.ID)
	if err != nil {
		l.log.Warn().Err(err).Str("message_id", e.ID).Msg("dropped malformed message update")
		return
	}

	var muts []mutation.Mutation
	if e.Author != nil {
		created, err := normalize.Message(e.Message)
		if err == nil {
			muts = append(muts, created...)
		}
	}

	editedAt := time.Now().UTC()
	if e.EditedTimestamp != nil {
		editedAt = e.EditedTimestamp.UTC()
	}
	muts = append(muts, mutation.MessageEdit{
		MessageID: messageID,
		Content:   e.Content,
		Embeds:    int16(len(e.Embeds)),
		EditedAt:  editedAt,
	})
	l.apply(muts...)
}

func (l *Listener) onMessageDelete(_ *discordgo.Session, e *discordgo.MessageDelete) {
	if !l.allowed(e.GuildID) {
		return
	}
	messageID, err := snowflake.Parse(e.ID)
	if err != nil {
		l.log.Warn().Err(err).Str("message_id", e.ID).Msg("dropped malformed message delete")
		return
	}
	l.apply(mutation.MessageDelete{MessageID: messageID, DeletedAt: time.Now().UTC()})
}

func (l *Listener) onMessageDeleteBulk(_ *discordgo.Session, e *discordgo.MessageDeleteBulk) {
	if !l.allowed(e.GuildID) {
		return
	}
	deletedAt := time.Now().UTC()
	for _, raw := range e.Messages {
		messageID, err := snowflake.Parse(raw)
		if err != nil {
			continue
		}
		l.apply(mutation.MessageDelete{MessageID: messageID, DeletedAt: deletedAt})
	}
}

func (l *Listener) onReactionAdd(_ *discordgo.Session, e *discordgo.MessageReactionAdd) {
	if !l.allowed(e.GuildID) {
		return
	}
	now := time.Now().UTC()
	emojiMut, reaction, err := normalize.Reaction(e.MessageReaction, now)
	if err != nil {
		l.log.Warn().Err(err).Str("message_id", e.MessageID).Msg("dropped malformed reaction event")
		return
	}
	l.apply(emojiMut, mutation.ReactionAdd{Reaction: reaction, At: now})
}

func (l *Listener) onReactionRemove(_ *discordgo.Session, e *discordgo.MessageReactionRemove) {
	if !l.allowed(e.GuildID) {
		return
	}
	now := time.Now().UTC()
	_, reaction, err := normalize.Reaction(e.MessageReaction, now)
	if err != nil {
		l.log.Warn().Err(err).Str("message_id", e.MessageID).Msg("dropped malformed reaction removal")
		return
	}
	l.apply(mutation.ReactionRemove{
		MessageID:    reaction.MessageID,
		EmojiID:      reaction.EmojiID,
		EmojiUnicode: reaction.EmojiUnicode,
		UserID:       reaction.UserID,
		DeletedAt:    now,
	})
}

func (l *Listener) onTypingStart(_ *discordgo.Session, e *discordgo.TypingStart) {
	if !l.allowed(e.GuildID) {
		return
	}
	event, err := normalize.Typing(e)
	if err != nil {
		l.log.Warn().Err(err).Str("channel_id", e.ChannelID).Msg("dropped malformed typing event")
		return
	}
	l.apply(mutation.Typing{Event: event})
}

// onGuildCreate seeds the lookup tables from the full guild payload the
// gateway sends on connect. Categories go first so channel rows can
// reference them.
func (l *Listener) onGuildCreate(_ *discordgo.Session, e *discordgo.GuildCreate) {
	if !l.allowed(e.ID) {
		return
	}
	l.applyGuildSnapshot(e.Guild)
}

func (l *Listener) applyGuildSnapshot(g *discordgo.Guild) {
	now := time.Now().UTC()

	record, err := normalize.Guild(g, false)
	if err != nil {
		l.log.Warn().Err(err).Str("guild_id", g.ID).Msg("dropped malformed guild payload")
		return
	}
	guildID := record.GuildID
	l.apply(mutation.GuildUpsert{Guild: record, At: now})

	for _, c := range g.Channels {
		if c.Type == discordgo.ChannelTypeGuildCategory {
			l.applyChannel(c, false)
		}
	}
	for _, c := range g.Channels {
		if c.Type != discordgo.ChannelTypeGuildCategory {
			l.applyChannel(c, false)
		}
	}

	for _, r := range g.Roles {
		role, err := normalize.Role(r, guildID, false)
		if err != nil {
			continue
		}
		l.apply(mutation.RoleUpsert{Role: role, At: now})
	}

	for _, e := range g.Emojis {
		l.applyCustomEmoji(e, guildID)
	}

	for _, m := range g.Members {
		m.GuildID = g.ID
		muts, err := normalize.Member(m, true, now)
		if err != nil {
			continue
		}
		l.apply(muts...)
	}
}

func (l *Listener) onGuildUpdate(_ *discordgo.Session, e *discordgo.GuildUpdate) {
	if !l.allowed(e.ID) {
		return
	}
	record, err := normalize.Guild(e.Guild, false)
	if err != nil {
		l.log.Warn().Err(err).Str("guild_id", e.ID).Msg("dropped malformed guild update")
		return
	}
	l.apply(mutation.GuildUpsert{Guild: record, At: time.Now().UTC()})
}

func (l *Listener) onGuildDelete(_ *discordgo.Session, e *discordgo.GuildDelete) {
	// an unavailable guild is an outage, not a removal
	if e.Unavailable || !l.allowed(e.ID) {
		return
	}
	record, err := normalize.Guild(e.Guild, true)
	if err != nil {
		l.log.Warn().Err(err).Str("guild_id", e.ID).Msg("dropped malformed guild delete")
		return
	}
	l.apply(mutation.GuildUpsert{Guild: record, At: time.Now().UTC()})
}

func (l *Listener) onChannelCreate(_ *discordgo.Session, e *discordgo.ChannelCreate) {
	if !l.allowed(e.GuildID) {
		return
	}
	l.applyChannel(e.Channel, false)
}

func (l *Listener) onChannelUpdate(_ *discordgo.Session, e *discordgo.ChannelUpdate) {
	if !l.allowed(e.GuildID) {
		return
	}
	l.applyChannel(e.Channel, false)
}

func (l *Listener) onChannelDelete(_ *discordgo.Session, e *discordgo.ChannelDelete) {
	if !l.allowed(e.GuildID) {
		return
	}
	l.applyChannel(e.Channel, true)
}

func (l *Listener) applyChannel(c *discordgo.Channel, deleted bool) {
	mut, err := normalize.Channel(c, deleted, time.Now().UTC())
	if err != nil {
		l.log.Warn().Err(err).Str("channel_id", c.ID).Msg("dropped malformed channel payload")
		return
	}
	if mut == nil {
		return
	}
	l.apply(mut)
}

func (l *Listener) onMemberAdd(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
	if !l.allowed(e.GuildID) {
		return
	}
	l.applyMember(e.Member, true)
}

func (l *Listener) onMemberUpdate(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) {
	if !l.allowed(e.GuildID) {
		return
	}
	l.applyMember(e.Member, true)
}

func (l *Listener) onMemberRemove(_ *discordgo.Session, e *discordgo.GuildMemberRemove) {
	if !l.allowed(e.GuildID) {
		return
	}
	l.applyMember(e.Member, false)
}

func (l *Listener) applyMember(m *discordgo.Member, isMember bool) {
	muts, err := normalize.Member(m, isMember, time.Now().UTC())
	if err != nil {
		l.log.Warn().Err(err).Str("guild_id", m.GuildID).Msg("dropped malformed member payload")
		return
	}
	l.apply(muts...)
}

func (l *Listener) onRoleCreate(_ *discordgo.Session, e *discordgo.GuildRoleCreate) {
	if !l.allowed(e.GuildID) {
		return
	}
	l.applyRole(e.Role, e.GuildID, false)
}

func (l *Listener) onRoleUpdate(_ *discordgo.Session, e *discordgo.GuildRoleUpdate) {
	if !l.allowed(e.GuildID) {
		return
	}
	l.applyRole(e.Role, e.GuildID, false)
}

// onRoleDelete only carries ids; deletion freezes the row so the last
// observed attributes persist through the upsert's freeze condition once
// the flag lands.
func (l *Listener) onRoleDelete(_ *discordgo.Session, e *discordgo.GuildRoleDelete) {
	if !l.allowed(e.GuildID) {
		return
	}
	roleID, err := snowflake.Parse(e.RoleID)
	if err != nil {
		return
	}
	guildID, err := snowflake.Parse(e.GuildID)
	if err != nil {
		return
	}
	l.apply(mutation.RoleUpsert{
		Role: models.Role{RoleID: roleID, GuildID: guildID, IsDeleted: true},
		At:   time.Now().UTC(),
	})
}

func (l *Listener) applyRole(r *discordgo.Role, rawGuildID string, deleted bool) {
	guildID, err := snowflake.Parse(rawGuildID)
	if err != nil {
		return
	}
	role, err := normalize.Role(r, guildID, deleted)
	if err != nil {
		l.log.Warn().Err(err).Str("guild_id", rawGuildID).Msg("dropped malformed role payload")
		return
	}
	l.apply(mutation.RoleUpsert{Role: role, At: time.Now().UTC()})
}

func (l *Listener) onEmojisUpdate(_ *discordgo.Session, e *discordgo.GuildEmojisUpdate) {
	if !l.allowed(e.GuildID) {
		return
	}
	guildID, err := snowflake.Parse(e.GuildID)
	if err != nil {
		return
	}
	for _, em := range e.Emojis {
		l.applyCustomEmoji(em, guildID)
	}
}

func (l *Listener) applyCustomEmoji(e *discordgo.Emoji, guildID int64) {
	enc, err := normalize.EncodeEmoji(e, guildID)
	if err != nil {
		l.log.Warn().Err(err).Str("emoji", e.Name).Msg("dropped malformed emoji payload")
		return
	}
	l.apply(mutation.EmojiUpsert{Emoji: normalize.EmojiRecord(enc), At: time.Now().UTC()})
}

func (l *Listener) onAuditLogEntry(_ *discordgo.Session, e *discordgo.GuildAuditLogEntryCreate) {
	if !l.allowed(e.GuildID) {
		return
	}
	guildID, err := snowflake.Parse(e.GuildID)
	if err != nil {
		return
	}
	entry, err := normalize.AuditEntry(e.AuditLogEntry, guildID)
	if err != nil {
		l.log.Warn().Err(err).Str("guild_id", e.GuildID).Msg("dropped malformed audit log entry")
		return
	}
	l.apply(mutation.AuditLogCreate{Entry: entry, At: time.Now().UTC()})
}

// Package mutation defines the closed set of entity mutations that both
// ingestion paths produce. Each variant carries its natural key, the
// mutable attribute group it touches, and an effective timestamp used
// by the write coordinator's precedence rule.
package mutation

import (
	"errors"
	"fmt"
	"time"

	"github.com/quillhall/scribe/internal/models"
)

// ErrMissingKey reports a mutation whose natural key is absent.
var ErrMissingKey = errors.New("mutation is missing its natural key")

// Mutation is implemented by every variant in this package and nothing
// else; the coordinator switches over the concrete types.
type Mutation interface {
	// Entity names the entity kind, e.g. "message".
	Entity() string
	// Key is the serialized natural key. Mutations with equal keys are
	// serialized onto the same coordinator partition.
	Key() string
	// EffectiveAt is the explicit event time if the upstream reported
	// one, otherwise the instant decoded from the entity's id.
	EffectiveAt() time.Time
	// Validate reports whether the mutation is well formed.
	Validate() error
}

// MessageCreate inserts a message row if absent. The crawl path only
// ever produces this message variant.
type MessageCreate struct {
	Message models.Message
}

func (m MessageCreate) Entity() string         { return "message" }
func (m MessageCreate) Key() string            { return fmt.Sprintf("message:%d", m.Message.MessageID) }
func (m MessageCreate) EffectiveAt() time.Time { return m.Message.CreatedAt }

func (m MessageCreate) Validate() error {
	if m.Message.MessageID == 0 || m.Message.ChannelID == 0 || m.Message.GuildID == 0 {
		return ErrMissingKey
	}
	return nil
}

// MessageEdit advances the content+edited_at attribute group.
type MessageEdit struct {
	MessageID int64
	Content   string
	Embeds    int16
	EditedAt  time.Time
}

func (m MessageEdit) Entity() string         { return "message" }
func (m MessageEdit) Key() string            { return fmt.Sprintf("message:%d", m.MessageID) }
func (m MessageEdit) EffectiveAt() time.Time { return m.EditedAt }

func (m MessageEdit) Validate() error {
	if m.MessageID == 0 {
		return ErrMissingKey
	}
	return nil
}

// MessageDelete sets deleted_at. Terminal: later mutations to the same
// message are skipped, except an idempotent delete confirmation.
type MessageDelete struct {
	MessageID int64
	DeletedAt time.Time
}

func (m MessageDelete) Entity() string         { return "message" }
func (m MessageDelete) Key() string            { return fmt.Sprintf("message:%d", m.MessageID) }
func (m MessageDelete) EffectiveAt() time.Time { return m.DeletedAt }

func (m MessageDelete) Validate() error {
	if m.MessageID == 0 {
		return ErrMissingKey
	}
	return nil
}

// ReactionAdd inserts a reaction row; duplicates over the composite key
// collapse silently.
type ReactionAdd struct {
	Reaction models.Reaction
	At       time.Time
}

func (m ReactionAdd) Entity() string { return "reaction" }

func (m ReactionAdd) Key() string {
	r := m.Reaction
	return fmt.Sprintf("reaction:%d:%d:%s:%d", r.MessageID, r.EmojiID, r.EmojiUnicode, r.UserID)
}

func (m ReactionAdd) EffectiveAt() time.Time { return m.At }

func (m ReactionAdd) Validate() error {
	r := m.Reaction
	if r.MessageID == 0 || r.UserID == 0 {
		return ErrMissingKey
	}
	if r.EmojiID == 0 && r.EmojiUnicode == "" {
		return ErrMissingKey
	}
	return nil
}

// ReactionRemove soft-deletes the matching reaction row.
type ReactionRemove struct {
	MessageID    int64
	EmojiID      int64
	EmojiUnicode string
	UserID       int64
	DeletedAt    time.Time
}

func (m ReactionRemove) Entity() string { return "reaction" }

func (m ReactionRemove) Key() string {
	return fmt.Sprintf("reaction:%d:%d:%s:%d", m.MessageID, m.EmojiID, m.EmojiUnicode, m.UserID)
}

func (m ReactionRemove) EffectiveAt() time.Time { return m.DeletedAt }

func (m ReactionRemove) Validate() error {
	if m.MessageID == 0 || m.UserID == 0 {
		return ErrMissingKey
	}
	if m.EmojiID == 0 && m.EmojiUnicode == "" {
		return ErrMissingKey
	}
	return nil
}

// Typing records an ephemeral typing observation.
type Typing struct {
	Event models.TypingEvent
}

func (m Typing) Entity() string { return "typing" }

func (m Typing) Key() string {
	e := m.Event
	return fmt.Sprintf("typing:%d:%d:%d", e.UserID, e.ChannelID, e.Timestamp.UnixMilli())
}

func (m Typing) EffectiveAt() time.Time { return m.Event.Timestamp }

func (m Typing) Validate() error {
	if m.Event.UserID == 0 || m.Event.ChannelID == 0 || m.Event.Timestamp.IsZero() {
		return ErrMissingKey
	}
	return nil
}

// Mentions records the distinct (target, kind) pairs of one message.
type Mentions struct {
	MessageID int64
	Rows      []models.Mention
	At        time.Time
}

func (m Mentions) Entity() string         { return "mention" }
func (m Mentions) Key() string            { return fmt.Sprintf("mention:%d", m.MessageID) }
func (m Mentions) EffectiveAt() time.Time { return m.At }

func (m Mentions) Validate() error {
	if m.MessageID == 0 {
		return ErrMissingKey
	}
	for _, r := range m.Rows {
		if r.MentionedID == 0 || r.MessageID != m.MessageID {
			return ErrMissingKey
		}
	}
	return nil
}

// PinCreate records a pinning action.
type PinCreate struct {
	Pin models.Pin
	At  time.Time
}

func (m PinCreate) Entity() string         { return "pin" }
func (m PinCreate) Key() string            { return fmt.Sprintf("pin:%d", m.Pin.PinID) }
func (m PinCreate) EffectiveAt() time.Time { return m.At }

func (m PinCreate) Validate() error {
	if m.Pin.PinID == 0 || m.Pin.MessageID == 0 {
		return ErrMissingKey
	}
	return nil
}

// GuildUpsert merges a guild snapshot. IsDeleted=true marks the guild
// deleted and freezes every other attribute.
type GuildUpsert struct {
	Guild models.Guild
	At    time.Time
}

func (m GuildUpsert) Entity() string         { return "guild" }
func (m GuildUpsert) Key() string            { return fmt.Sprintf("guild:%d", m.Guild.GuildID) }
func (m GuildUpsert) EffectiveAt() time.Time { return m.At }

func (m GuildUpsert) Validate() error {
	if m.Guild.GuildID == 0 {
		return ErrMissingKey
	}
	return nil
}

// ChannelUpsert merges a text channel snapshot.
type ChannelUpsert struct {
	Channel models.Channel
	At      time.Time
}

func (m ChannelUpsert) Entity() string         { return "channel" }
func (m ChannelUpsert) Key() string            { return fmt.Sprintf("channel:%d", m.Channel.ChannelID) }
func (m ChannelUpsert) EffectiveAt() time.Time { return m.At }

func (m ChannelUpsert) Validate() error {
	if m.Channel.ChannelID == 0 || m.Channel.GuildID == 0 {
		return ErrMissingKey
	}
	return nil
}

// VoiceChannelUpsert merges a voice channel snapshot.
type VoiceChannelUpsert struct {
	Channel models.VoiceChannel
	At      time.Time
}

func (m VoiceChannelUpsert) Entity() string { return "voice_channel" }

func (m VoiceChannelUpsert) Key() string {
	return fmt.Sprintf("voice_channel:%d", m.Channel.VoiceChannelID)
}

func (m VoiceChannelUpsert) EffectiveAt() time.Time { return m.At }

func (m VoiceChannelUpsert) Validate() error {
	if m.Channel.VoiceChannelID == 0 || m.Channel.GuildID == 0 {
		return ErrMissingKey
	}
	return nil
}

// CategoryUpsert merges a channel category snapshot.
type CategoryUpsert struct {
	Category models.ChannelCategory
	At       time.Time
}

func (m CategoryUpsert) Entity() string { return "channel_category" }

func (m CategoryUpsert) Key() string {
	return fmt.Sprintf("channel_category:%d", m.Category.CategoryID)
}

func (m CategoryUpsert) EffectiveAt() time.Time { return m.At }

func (m CategoryUpsert) Validate() error {
	if m.Category.CategoryID == 0 || m.Category.GuildID == 0 {
		return ErrMissingKey
	}
	return nil
}

// UserUpsert merges a user snapshot.
type UserUpsert struct {
	User models.User
	At   time.Time
}

func (m UserUpsert) Entity() string         { return "user" }
func (m UserUpsert) Key() string            { return fmt.Sprintf("user:%d", m.User.UserID) }
func (m UserUpsert) EffectiveAt() time.Time { return m.At }

func (m UserUpsert) Validate() error {
	if m.User.UserID == 0 {
		return ErrMissingKey
	}
	return nil
}

// RoleUpsert merges a role snapshot.
type RoleUpsert struct {
	Role models.Role
	At   time.Time
}

func (m RoleUpsert) Entity() string         { return "role" }
func (m RoleUpsert) Key() string            { return fmt.Sprintf("role:%d", m.Role.RoleID) }
func (m RoleUpsert) EffectiveAt() time.Time { return m.At }

func (m RoleUpsert) Validate() error {
	if m.Role.RoleID == 0 || m.Role.GuildID == 0 {
		return ErrMissingKey
	}
	return nil
}

// GuildMembershipUpsert merges per-guild membership state.
type GuildMembershipUpsert struct {
	Membership models.GuildMembership
	At         time.Time
}

func (m GuildMembershipUpsert) Entity() string { return "guild_membership" }

func (m GuildMembershipUpsert) Key() string {
	return fmt.Sprintf("guild_membership:%d:%d", m.Membership.UserID, m.Membership.GuildID)
}

func (m GuildMembershipUpsert) EffectiveAt() time.Time { return m.At }

func (m GuildMembershipUpsert) Validate() error {
	if m.Membership.UserID == 0 || m.Membership.GuildID == 0 {
		return ErrMissingKey
	}
	return nil
}

// RoleMembershipAdd appends a role membership row. Rows are retained
// even after the user leaves the guild.
type RoleMembershipAdd struct {
	Membership models.RoleMembership
	At         time.Time
}

func (m RoleMembershipAdd) Entity() string { return "role_membership" }

func (m RoleMembershipAdd) Key() string {
	return fmt.Sprintf("role_membership:%d:%d", m.Membership.RoleID, m.Membership.UserID)
}

func (m RoleMembershipAdd) EffectiveAt() time.Time { return m.At }

func (m RoleMembershipAdd) Validate() error {
	if m.Membership.RoleID == 0 || m.Membership.UserID == 0 || m.Membership.GuildID == 0 {
		return ErrMissingKey
	}
	return nil
}

// EmojiUpsert merges an emoji union row.
type EmojiUpsert struct {
	Emoji models.Emoji
	At    time.Time
}

func (m EmojiUpsert) Entity() string { return "emoji" }

func (m EmojiUpsert) Key() string {
	return fmt.Sprintf("emoji:%d:%s", m.Emoji.EmojiID, m.Emoji.EmojiUnicode)
}

func (m EmojiUpsert) EffectiveAt() time.Time { return m.At }

func (m EmojiUpsert) Validate() error {
	if m.Emoji.EmojiID == 0 && m.Emoji.EmojiUnicode == "" {
		return ErrMissingKey
	}
	return nil
}

// AuditLogCreate appends an audit log entry.
type AuditLogCreate struct {
	Entry models.AuditLogEntry
	At    time.Time
}

func (m AuditLogCreate) Entity() string { return "audit_log" }

func (m AuditLogCreate) Key() string {
	return fmt.Sprintf("audit_log:%d:%d", m.Entry.AuditEntryID, m.Entry.GuildID)
}

func (m AuditLogCreate) EffectiveAt() time.Time { return m.At }

func (m AuditLogCreate) Validate() error {
	if m.Entry.AuditEntryID == 0 || m.Entry.GuildID == 0 {
		return ErrMissingKey
	}
	return nil
}

// Package models defines the entity records as they are stored.
// Natural keys replace surrogate ids throughout: every record is
// addressed by the identifier the upstream platform assigned it.
package models

import "time"

// MessageType mirrors the upstream message type enum.
type MessageType int16

// Message is a single chat message. content, edited_at and deleted_at
// are the only mutable fields; the delete transition is terminal.
type Message struct {
	MessageID int64
	ChannelID int64
	GuildID   int64
	UserID    int64

	Type          MessageType
	Content       string
	SystemContent string
	Embeds        int16
	Attachments   int16
	WebhookID     *int64

	CreatedAt time.Time
	EditedAt  *time.Time
	DeletedAt *time.Time
}

// Reaction has no single-row identity; the composite
// (message_id, emoji_id, emoji_unicode, user_id, created_at) is the key.
// CreatedAt is always nil: no upstream feed reports when a reaction was
// placed, and stamping a local clock would give redeliveries of the
// same reaction distinct keys.
type Reaction struct {
	MessageID    int64
	EmojiID      int64
	EmojiUnicode string
	UserID       int64
	ChannelID    int64
	GuildID      int64
	CreatedAt    *time.Time
	DeletedAt    *time.Time
}

// TypingEvent is ephemeral: no edit or delete lifecycle.
type TypingEvent struct {
	Timestamp time.Time
	UserID    int64
	ChannelID int64
	GuildID   int64
}

// MentionKind distinguishes what a mention points at.
type MentionKind string

const (
	MentionUser    MentionKind = "user"
	MentionRole    MentionKind = "role"
	MentionChannel MentionKind = "channel"
)

// Mention is one row per distinct (target, kind) per message.
type Mention struct {
	MentionedID int64
	Kind        MentionKind
	MessageID   int64
	ChannelID   int64
	GuildID     int64
}

// Pin links a pinning action to the pinned message. PinID is the id of
// the system message announcing the pin, so its snowflake carries the
// pin timestamp.
type Pin struct {
	PinID     int64
	MessageID int64
	PinnerID  int64
	UserID    int64
	ChannelID int64
	GuildID   int64
}

// Guild is a snapshot entity: each observation overwrites the mutable
// attributes, except after deletion, when they freeze.
type Guild struct {
	GuildID               int64
	OwnerID               int64
	Name                  string
	Icon                  string
	Splash                *string
	AfkChannelID          *int64
	AfkTimeout            int32
	MFA                   bool
	VerificationLevel     int16
	ExplicitContentFilter int16
	Features              []string
	IsDeleted             bool
}

// Channel is a text channel snapshot.
type Channel struct {
	ChannelID  int64
	GuildID    int64
	CategoryID *int64
	Name       string
	Topic      *string
	Position   int16
	IsNSFW     bool
	IsDeleted  bool
}

// VoiceChannel is a voice channel snapshot.
type VoiceChannel struct {
	VoiceChannelID int64
	GuildID        int64
	CategoryID     *int64
	Name           string
	Position       int16
	Bitrate        int32
	UserLimit      int16
	IsDeleted      bool
}

// ChannelCategory is a category snapshot.
type ChannelCategory struct {
	CategoryID int64
	GuildID    int64
	Name       string
	Position   int16
	IsNSFW     bool
	IsDeleted  bool
}

// User is a user snapshot.
type User struct {
	UserID        int64
	Name          string
	Discriminator int16
	Avatar        *string
	IsBot         bool
	IsDeleted     bool
}

// Role is a role snapshot.
type Role struct {
	RoleID         int64
	GuildID        int64
	Name           string
	Color          int32
	RawPermissions int64
	Position       int16
	IsHoisted      bool
	IsManaged      bool
	IsMentionable  bool
	IsDeleted      bool
}

// GuildMembership tracks current membership state per (user, guild).
// is_member=false with a non-nil JoinedAt means the user left after
// joining; that combination is valid.
type GuildMembership struct {
	UserID   int64
	GuildID  int64
	IsMember bool
	JoinedAt *time.Time
	Nick     *string
}

// RoleMembership rows are append/retain: never removed when a user
// leaves the guild.
type RoleMembership struct {
	RoleID  int64
	UserID  int64
	GuildID int64
}

// Emoji is the union entity keyed by (emoji_id, emoji_unicode); exactly
// one key part is real per occurrence.
type Emoji struct {
	EmojiID      int64
	EmojiUnicode string
	IsCustom     bool
	IsManaged    bool
	IsDeleted    bool
	Name         []string
	Category     []string
	Roles        []int64
	GuildID      *int64
}

// AuditLogEntry records a moderation action with a before/after
// snapshot pair sharing the same key set.
type AuditLogEntry struct {
	AuditEntryID int64
	GuildID      int64
	Action       string
	ActorID      int64
	TargetID     *int64
	Reason       *string
	Category     *string
	Before       map[string]any
	After        map[string]any
}

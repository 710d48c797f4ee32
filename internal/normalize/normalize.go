// Package normalize converts upstream gateway and REST payloads into
// entity records and mutations. Both ingestion paths share these
// conversions so live and crawled observations of the same fact are
// byte-for-byte identical.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/quillhall/scribe/internal/emoji"
	"github.com/quillhall/scribe/internal/models"
	"github.com/quillhall/scribe/internal/mutation"
	"github.com/quillhall/scribe/internal/snowflake"
)

// channelMentionRE matches inline channel references, which the gateway
// does not surface as structured mention data.
var channelMentionRE = regexp.MustCompile(`<#(\d+)>`)

// Message converts an inbound message into the mutations it
// implies: the message row itself, its mention rows, and a pin row when
// the message is a pin announcement.
func Message(m *discordgo.Message) ([]mutation.Mutation, error) {
	messageID, err := snowflake.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse message id: %w", err)
	}
	channelID, err := snowflake.Parse(m.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("parse channel id: %w", err)
	}
	guildID, err := snowflake.Parse(m.GuildID)
	if err != nil {
		return nil, fmt.Errorf("parse guild id: %w", err)
	}

	var userID int64
	if m.Author != nil {
		userID, err = snowflake.Parse(m.Author.ID)
		if err != nil {
			return nil, fmt.Errorf("parse author id: %w", err)
		}
	}

	createdAt := m.Timestamp.UTC()
	if createdAt.IsZero() {
		if ts, err := snowflake.Time(messageID); err == nil {
			createdAt = ts
		}
	}

	record := models.Message{
		MessageID:     messageID,
		ChannelID:     channelID,
		GuildID:       guildID,
		UserID:        userID,
		Type:          models.MessageType(m.Type),
		Content:       m.Content,
		SystemContent: systemContent(m),
		Embeds:        int16(len(m.Embeds)),
		Attachments:   int16(len(m.Attachments)),
		CreatedAt:     createdAt,
	}
	if m.WebhookID != "" {
		id, err := snowflake.Parse(m.WebhookID)
		if err != nil {
			return nil, fmt.Errorf("parse webhook id: %w", err)
		}
		record.WebhookID = &id
	}

	muts := []mutation.Mutation{mutation.MessageCreate{Message: record}}

	if rows := mentionRows(m, messageID, channelID, guildID); len(rows) > 0 {
		muts = append(muts, mutation.Mentions{MessageID: messageID, Rows: rows, At: createdAt})
	}

	if m.Type == discordgo.MessageTypeChannelPinnedMessage && m.MessageReference != nil {
		pin, err := pinFromAnnouncement(m, messageID, channelID, guildID, userID)
		if err != nil {
			return nil, err
		}
		muts = append(muts, mutation.PinCreate{Pin: pin, At: createdAt})
	}

	return muts, nil
}

// mentionRows collects the distinct (target, kind) pairs of one message.
// User and role mentions arrive structured; channel mentions only exist
// as inline markup.
func mentionRows(m *discordgo.Message, messageID, channelID, guildID int64) []models.Mention {
	seen := make(map[models.Mention]struct{})
	var rows []models.Mention

	add := func(id int64, kind models.MentionKind) {
		row := models.Mention{
			MentionedID: id,
			Kind:        kind,
			MessageID:   messageID,
			ChannelID:   channelID,
			GuildID:     guildID,
		}
		if _, ok := seen[row]; ok {
			return
		}
		seen[row] = struct{}{}
		rows = append(rows, row)
	}

	for _, u := range m.Mentions {
		if id, err := snowflake.Parse(u.ID); err == nil {
			add(id, models.MentionUser)
		}
	}
	for _, r := range m.MentionRoles {
		if id, err := snowflake.Parse(r); err == nil {
			add(id, models.MentionRole)
		}
	}
	for _, match := range channelMentionRE.FindAllStringSubmatch(m.Content, -1) {
		if id, err := snowflake.Parse(match[1]); err == nil {
			add(id, models.MentionChannel)
		}
	}

	return rows
}

func pinFromAnnouncement(m *discordgo.Message, messageID, channelID, guildID, pinnerID int64) (models.Pin, error) {
	pinnedID, err := snowflake.Parse(m.MessageReference.MessageID)
	if err != nil {
		return models.Pin{}, fmt.Errorf("parse pinned message id: %w", err)
	}
	return models.Pin{
		PinID:     messageID,
		MessageID: pinnedID,
		PinnerID:  pinnerID,
		UserID:    pinnerID,
		ChannelID: channelID,
		GuildID:   guildID,
	}, nil
}

// systemContent renders the text a client would display for system
// messages, which carry no content of their own.
func systemContent(m *discordgo.Message) string {
	name := ""
	if m.Author != nil {
		name = m.Author.Username
	}
	switch m.Type {
	case discordgo.MessageTypeChannelPinnedMessage:
		return fmt.Sprintf("%s pinned a message to this channel.", name)
	case discordgo.MessageTypeGuildMemberJoin:
		return fmt.Sprintf("%s joined the server.", name)
	case discordgo.MessageTypeRecipientAdd:
		return fmt.Sprintf("%s added a recipient.", name)
	case discordgo.MessageTypeRecipientRemove:
		return fmt.Sprintf("%s removed a recipient.", name)
	case discordgo.MessageTypeChannelNameChange:
		return fmt.Sprintf("%s changed the channel name: %s", name, m.Content)
	case discordgo.MessageTypeUserPremiumGuildSubscription:
		return fmt.Sprintf("%s just boosted the server!", name)
	default:
		return ""
	}
}

// Reaction converts a reaction event plus the emoji registration it
// implies. Neither the gateway nor the history endpoint reports when a
// reaction was placed, so the record carries no timestamp and the same
// reaction normalizes identically on every delivery. at only stamps
// the emoji snapshot.
func Reaction(r *discordgo.MessageReaction, at time.Time) (mutation.EmojiUpsert, models.Reaction, error) {
	messageID, err := snowflake.Parse(r.MessageID)
	if err != nil {
		return mutation.EmojiUpsert{}, models.Reaction{}, fmt.Errorf("parse message id: %w", err)
	}
	userID, err := snowflake.Parse(r.UserID)
	if err != nil {
		return mutation.EmojiUpsert{}, models.Reaction{}, fmt.Errorf("parse user id: %w", err)
	}
	channelID, err := snowflake.Parse(r.ChannelID)
	if err != nil {
		return mutation.EmojiUpsert{}, models.Reaction{}, fmt.Errorf("parse channel id: %w", err)
	}
	guildID, err := snowflake.Parse(r.GuildID)
	if err != nil {
		return mutation.EmojiUpsert{}, models.Reaction{}, fmt.Errorf("parse guild id: %w", err)
	}

	enc, err := EncodeEmoji(&r.Emoji, guildID)
	if err != nil {
		return mutation.EmojiUpsert{}, models.Reaction{}, err
	}

	reaction := models.Reaction{
		MessageID:    messageID,
		EmojiID:      enc.ID,
		EmojiUnicode: enc.Unicode,
		UserID:       userID,
		ChannelID:    channelID,
		GuildID:      guildID,
	}
	return mutation.EmojiUpsert{Emoji: EmojiRecord(enc), At: at}, reaction, nil
}

func EncodeEmoji(e *discordgo.Emoji, guildID int64) (emoji.Encoded, error) {
	if e.ID == "" {
		return emoji.EncodeNative(e.Name), nil
	}
	id, err := snowflake.Parse(e.ID)
	if err != nil {
		return emoji.Encoded{}, fmt.Errorf("parse emoji id: %w", err)
	}
	roles := make([]int64, 0, len(e.Roles))
	for _, r := range e.Roles {
		if rid, err := snowflake.Parse(r); err == nil {
			roles = append(roles, rid)
		}
	}
	return emoji.EncodeCustom(emoji.Custom{
		ID:      id,
		Name:    e.Name,
		GuildID: guildID,
		Managed: e.Managed,
		Roles:   roles,
	}), nil
}

func EmojiRecord(enc emoji.Encoded) models.Emoji {
	rec := models.Emoji{
		EmojiID:      enc.ID,
		EmojiUnicode: enc.Unicode,
		IsCustom:     enc.Custom,
		IsManaged:    enc.Managed,
		Name:         enc.Name,
		Category:     enc.Category,
		Roles:        enc.Roles,
	}
	if enc.GuildID != 0 {
		gid := enc.GuildID
		rec.GuildID = &gid
	}
	return rec
}

func Guild(g *discordgo.Guild, deleted bool) (models.Guild, error) {
	guildID, err := snowflake.Parse(g.ID)
	if err != nil {
		return models.Guild{}, fmt.Errorf("parse guild id: %w", err)
	}
	ownerID, _ := snowflake.Parse(g.OwnerID)

	features := make([]string, 0, len(g.Features))
	for _, f := range g.Features {
		features = append(features, string(f))
	}

	record := models.Guild{
		GuildID:               guildID,
		OwnerID:               ownerID,
		Name:                  g.Name,
		Icon:                  g.Icon,
		AfkTimeout:            int32(g.AfkTimeout),
		MFA:                   g.MfaLevel == discordgo.MfaLevelElevated,
		VerificationLevel:     int16(g.VerificationLevel),
		ExplicitContentFilter: int16(g.ExplicitContentFilter),
		Features:              features,
		IsDeleted:             deleted,
	}
	if g.Splash != "" {
		splash := g.Splash
		record.Splash = &splash
	}
	if g.AfkChannelID != "" {
		if id, err := snowflake.Parse(g.AfkChannelID); err == nil {
			record.AfkChannelID = &id
		}
	}
	return record, nil
}

// Channel routes a channel payload to the entity its type maps
// to. Unsupported channel types return no mutation.
func Channel(c *discordgo.Channel, deleted bool, at time.Time) (mutation.Mutation, error) {
	channelID, err := snowflake.Parse(c.ID)
	if err != nil {
		return nil, fmt.Errorf("parse channel id: %w", err)
	}
	guildID, err := snowflake.Parse(c.GuildID)
	if err != nil {
		return nil, fmt.Errorf("parse guild id: %w", err)
	}

	var categoryID *int64
	if c.ParentID != "" {
		if id, err := snowflake.Parse(c.ParentID); err == nil {
			categoryID = &id
		}
	}

	switch c.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		record := models.Channel{
			ChannelID:  channelID,
			GuildID:    guildID,
			CategoryID: categoryID,
			Name:       c.Name,
			Position:   int16(c.Position),
			IsNSFW:     c.NSFW,
			IsDeleted:  deleted,
		}
		if c.Topic != "" {
			topic := c.Topic
			record.Topic = &topic
		}
		return mutation.ChannelUpsert{Channel: record, At: at}, nil
	case discordgo.ChannelTypeGuildVoice:
		return mutation.VoiceChannelUpsert{
			Channel: models.VoiceChannel{
				VoiceChannelID: channelID,
				GuildID:        guildID,
				CategoryID:     categoryID,
				Name:           c.Name,
				Position:       int16(c.Position),
				Bitrate:        int32(c.Bitrate),
				UserLimit:      int16(c.UserLimit),
				IsDeleted:      deleted,
			},
			At: at,
		}, nil
	case discordgo.ChannelTypeGuildCategory:
		return mutation.CategoryUpsert{
			Category: models.ChannelCategory{
				CategoryID: channelID,
				GuildID:    guildID,
				Name:       c.Name,
				Position:   int16(c.Position),
				IsNSFW:     c.NSFW,
				IsDeleted:  deleted,
			},
			At: at,
		}, nil
	default:
		return nil, nil
	}
}

func User(u *discordgo.User) (models.User, error) {
	userID, err := snowflake.Parse(u.ID)
	if err != nil {
		return models.User{}, fmt.Errorf("parse user id: %w", err)
	}
	record := models.User{
		UserID: userID,
		Name:   u.Username,
		IsBot:  u.Bot,
	}
	if d, err := strconv.ParseInt(u.Discriminator, 10, 16); err == nil {
		record.Discriminator = int16(d)
	}
	if u.Avatar != "" {
		avatar := u.Avatar
		record.Avatar = &avatar
	}
	return record, nil
}

// Member expands a member payload into the user snapshot, the
// membership row, and one role membership per role.
func Member(m *discordgo.Member, isMember bool, at time.Time) ([]mutation.Mutation, error) {
	if m.User == nil {
		return nil, fmt.Errorf("member payload has no user")
	}
	user, err := User(m.User)
	if err != nil {
		return nil, err
	}
	guildID, err := snowflake.Parse(m.GuildID)
	if err != nil {
		return nil, fmt.Errorf("parse guild id: %w", err)
	}

	membership := models.GuildMembership{
		UserID:   user.UserID,
		GuildID:  guildID,
		IsMember: isMember,
	}
	if !m.JoinedAt.IsZero() {
		joined := m.JoinedAt.UTC()
		membership.JoinedAt = &joined
	}
	if m.Nick != "" {
		nick := m.Nick
		membership.Nick = &nick
	}

	muts := []mutation.Mutation{
		mutation.UserUpsert{User: user, At: at},
		mutation.GuildMembershipUpsert{Membership: membership, At: at},
	}
	for _, r := range m.Roles {
		roleID, err := snowflake.Parse(r)
		if err != nil {
			continue
		}
		muts = append(muts, mutation.RoleMembershipAdd{
			Membership: models.RoleMembership{RoleID: roleID, UserID: user.UserID, GuildID: guildID},
			At:         at,
		})
	}
	return muts, nil
}

func Role(r *discordgo.Role, guildID int64, deleted bool) (models.Role, error) {
	roleID, err := snowflake.Parse(r.ID)
	if err != nil {
		return models.Role{}, fmt.Errorf("parse role id: %w", err)
	}
	return models.Role{
		RoleID:         roleID,
		GuildID:        guildID,
		Name:           r.Name,
		Color:          int32(r.Color),
		RawPermissions: r.Permissions,
		Position:       int16(r.Position),
		IsHoisted:      r.Hoist,
		IsManaged:      r.Managed,
		IsMentionable:  r.Mentionable,
		IsDeleted:      deleted,
	}, nil
}

func Typing(t *discordgo.TypingStart) (models.TypingEvent, error) {
	userID, err := snowflake.Parse(t.UserID)
	if err != nil {
		return models.TypingEvent{}, fmt.Errorf("parse user id: %w", err)
	}
	channelID, err := snowflake.Parse(t.ChannelID)
	if err != nil {
		return models.TypingEvent{}, fmt.Errorf("parse channel id: %w", err)
	}
	guildID, err := snowflake.Parse(t.GuildID)
	if err != nil {
		return models.TypingEvent{}, fmt.Errorf("parse guild id: %w", err)
	}
	return models.TypingEvent{
		Timestamp: time.Unix(int64(t.Timestamp), 0).UTC(),
		UserID:    userID,
		ChannelID: channelID,
		GuildID:   guildID,
	}, nil
}

// AuditEntry converts one audit log entry. Change lists become
// before/after maps keyed by the changed attribute.
func AuditEntry(e *discordgo.AuditLogEntry, guildID int64) (models.AuditLogEntry, error) {
	entryID, err := snowflake.Parse(e.ID)
	if err != nil {
		return models.AuditLogEntry{}, fmt.Errorf("parse audit entry id: %w", err)
	}
	actorID, _ := snowflake.Parse(e.UserID)

	record := models.AuditLogEntry{
		AuditEntryID: entryID,
		GuildID:      guildID,
		Action:       auditActionName(e.ActionType),
		ActorID:      actorID,
		Before:       map[string]any{},
		After:        map[string]any{},
	}
	if e.TargetID != "" {
		if id, err := snowflake.Parse(e.TargetID); err == nil {
			record.TargetID = &id
		}
	}
	if e.Reason != "" {
		reason := e.Reason
		record.Reason = &reason
	}
	if cat := auditActionCategory(e.ActionType); cat != "" {
		record.Category = &cat
	}
	for _, ch := range e.Changes {
		if ch.Key == nil {
			continue
		}
		key := string(*ch.Key)
		if ch.OldValue != nil {
			record.Before[key] = ch.OldValue
		}
		if ch.NewValue != nil {
			record.After[key] = ch.NewValue
		}
	}
	return record, nil
}

func auditActionName(a *discordgo.AuditLogAction) string {
	if a == nil {
		return "unknown"
	}
	switch *a {
	case discordgo.AuditLogActionGuildUpdate:
		return "guild_update"
	case discordgo.AuditLogActionChannelCreate:
		return "channel_create"
	case discordgo.AuditLogActionChannelUpdate:
		return "channel_update"
	case discordgo.AuditLogActionChannelDelete:
		return "channel_delete"
	case discordgo.AuditLogActionChannelOverwriteCreate:
		return "overwrite_create"
	case discordgo.AuditLogActionChannelOverwriteUpdate:
		return "overwrite_update"
	case discordgo.AuditLogActionChannelOverwriteDelete:
		return "overwrite_delete"
	case discordgo.AuditLogActionMemberKick:
		return "kick"
	case discordgo.AuditLogActionMemberPrune:
		return "member_prune"
	case discordgo.AuditLogActionMemberBanAdd:
		return "ban"
	case discordgo.AuditLogActionMemberBanRemove:
		return "unban"
	case discordgo.AuditLogActionMemberUpdate:
		return "member_update"
	case discordgo.AuditLogActionMemberRoleUpdate:
		return "member_role_update"
	case discordgo.AuditLogActionRoleCreate:
		return "role_create"
	case discordgo.AuditLogActionRoleUpdate:
		return "role_update"
	case discordgo.AuditLogActionRoleDelete:
		return "role_delete"
	case discordgo.AuditLogActionInviteCreate:
		return "invite_create"
	case discordgo.AuditLogActionInviteUpdate:
		return "invite_update"
	case discordgo.AuditLogActionInviteDelete:
		return "invite_delete"
	case discordgo.AuditLogActionWebhookCreate:
		return "webhook_create"
	case discordgo.AuditLogActionWebhookUpdate:
		return "webhook_update"
	case discordgo.AuditLogActionWebhookDelete:
		return "webhook_delete"
	case discordgo.AuditLogActionEmojiCreate:
		return "emoji_create"
	case discordgo.AuditLogActionEmojiUpdate:
		return "emoji_update"
	case discordgo.AuditLogActionEmojiDelete:
		return "emoji_delete"
	case discordgo.AuditLogActionMessageDelete:
		return "message_delete"
	case discordgo.AuditLogActionMessageBulkDelete:
		return "message_bulk_delete"
	case discordgo.AuditLogActionMessagePin:
		return "message_pin"
	case discordgo.AuditLogActionMessageUnpin:
		return "message_unpin"
	default:
		return fmt.Sprintf("action_%d", int(*a))
	}
}

// auditActionCategory folds actions into the create/update/delete triad.
func auditActionCategory(a *discordgo.AuditLogAction) string {
	if a == nil {
		return ""
	}
	switch *a {
	case discordgo.AuditLogActionChannelCreate,
		discordgo.AuditLogActionChannelOverwriteCreate,
		discordgo.AuditLogActionRoleCreate,
		discordgo.AuditLogActionInviteCreate,
		discordgo.AuditLogActionWebhookCreate,
		discordgo.AuditLogActionEmojiCreate:
		return "create"
	case discordgo.AuditLogActionGuildUpdate,
		discordgo.AuditLogActionChannelUpdate,
		discordgo.AuditLogActionChannelOverwriteUpdate,
		discordgo.AuditLogActionMemberUpdate,
		discordgo.AuditLogActionMemberRoleUpdate,
		discordgo.AuditLogActionRoleUpdate,
		discordgo.AuditLogActionInviteUpdate,
		discordgo.AuditLogActionWebhookUpdate,
		discordgo.AuditLogActionEmojiUpdate:
		return "update"
	case discordgo.AuditLogActionChannelDelete,
		discordgo.AuditLogActionChannelOverwriteDelete,
		discordgo.AuditLogActionRoleDelete,
		discordgo.AuditLogActionInviteDelete,
		discordgo.AuditLogActionWebhookDelete,
		discordgo.AuditLogActionEmojiDelete,
		discordgo.AuditLogActionMessageDelete,
		discordgo.AuditLogActionMessageBulkDelete:
		return "delete"
	default:
		return ""
	}
}

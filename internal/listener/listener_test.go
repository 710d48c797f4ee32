package listener

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhall/scribe/internal/coordinator"
	"github.com/quillhall/scribe/internal/logger"
	"github.com/quillhall/scribe/internal/mutation"
)

type recordingApplier struct {
	mu   sync.Mutex
	muts []mutation.Mutation
}

func (a *recordingApplier) Apply(_ context.Context, m mutation.Mutation) (coordinator.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muts = append(a.muts, m)
	return coordinator.Result{Status: coordinator.StatusApplied}, nil
}

func (a *recordingApplier) applied() []mutation.Mutation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]mutation.Mutation(nil), a.muts...)
}

func newTestListener(applier Applier, guilds ...int64) *Listener {
	l := New(nil, applier, guilds, logger.Nop())
	l.ctx = context.Background()
	return l
}

func testMessage(id, guildID string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: "200",
		GuildID:   guildID,
		Author:    &discordgo.User{ID: "400", Username: "archivist"},
		Content:   "hello",
		Timestamp: time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC),
	}
}

func TestListenerGuildFilter(t *testing.T) {
	applier := &recordingApplier{}
	l := newTestListener(applier, 300)

	l.onMessageCreate(nil, &discordgo.MessageCreate{Message: testMessage("1000", "300")})
	l.onMessageCreate(nil, &discordgo.MessageCreate{Message: testMessage("1001", "999")})
	// direct messages carry no guild id
	l.onMessageCreate(nil, &discordgo.MessageCreate{Message: testMessage("1002", "")})

	muts := applier.applied()
	require.Len(t, muts, 1)
	assert.Equal(t, "message:1000", muts[0].Key())
}

func TestListenerEmptyFilterAllowsAll(t *testing.T) {
	applier := &recordingApplier{}
	l := newTestListener(applier)

	l.onMessageCreate(nil, &discordgo.MessageCreate{Message: testMessage("1000", "300")})
	l.onMessageCreate(nil, &discordgo.MessageCreate{Message: testMessage("1001", "301")})

	assert.Len(t, applier.applied(), 2)
}

func TestListenerMessageUpdateEmitsCreateFirst(t *testing.T) {
	applier := &recordingApplier{}
	l := newTestListener(applier, 300)

	editedAt := time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)
	m := testMessage("1000", "300")
	m.EditedTimestamp = &editedAt
	m.Content = "hello, edited"

	l.onMessageUpdate(nil, &discordgo.MessageUpdate{Message: m})

	muts := applier.applied()
	require.Len(t, muts, 2)

	create, ok := muts[0].(mutation.MessageCreate)
	require.True(t, ok)
	assert.Equal(t, "hello, edited", create.Message.Content)

	edit, ok := muts[1].(mutation.MessageEdit)
	require.True(t, ok)
	assert.True(t, edit.EditedAt.Equal(editedAt))
}

func TestListenerMessageDelete(t *testing.T) {
	applier := &recordingApplier{}
	l := newTestListener(applier, 300)

	l.onMessageDelete(nil, &discordgo.MessageDelete{
		Message: &discordgo.Message{ID: "1000", ChannelID: "200", GuildID: "300"},
	})

	muts := applier.applied()
	require.Len(t, muts, 1)
	del, ok := muts[0].(mutation.MessageDelete)
	require.True(t, ok)
	assert.Equal(t, int64(1000), del.MessageID)
	assert.False(t, del.DeletedAt.IsZero())
}

func TestListenerReactionAddRegistersEmoji(t *testing.T) {
	applier := &recordingApplier{}
	l := newTestListener(applier, 300)

	l.onReactionAdd(nil, &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			MessageID: "1000",
			UserID:    "400",
			ChannelID: "200",
			GuildID:   "300",
			Emoji:     discordgo.Emoji{Name: "😀"},
		},
	})

	muts := applier.applied()
	require.Len(t, muts, 2)
	assert.IsType(t, mutation.EmojiUpsert{}, muts[0])

	add, ok := muts[1].(mutation.ReactionAdd)
	require.True(t, ok)
	assert.Nil(t, add.Reaction.CreatedAt)
}

func TestListenerReactionRedeliveryIsDeterministic(t *testing.T) {
	applier := &recordingApplier{}
	l := newTestListener(applier, 300)

	event := func() *discordgo.MessageReactionAdd {
		return &discordgo.MessageReactionAdd{
			MessageReaction: &discordgo.MessageReaction{
				MessageID: "1000",
				UserID:    "400",
				ChannelID: "200",
				GuildID:   "300",
				Emoji:     discordgo.Emoji{Name: "😀"},
			},
		}
	}

	// the gateway redelivers events after reconnects; both deliveries
	// must produce the same reaction record so the store collapses them
	l.onReactionAdd(nil, event())
	l.onReactionAdd(nil, event())

	muts := applier.applied()
	require.Len(t, muts, 4)
	first, ok := muts[1].(mutation.ReactionAdd)
	require.True(t, ok)
	second, ok := muts[3].(mutation.ReactionAdd)
	require.True(t, ok)
	assert.Equal(t, first.Reaction, second.Reaction)
	assert.Equal(t, first.Key(), second.Key())
}

func TestListenerUnavailableGuildNotDeleted(t *testing.T) {
	applier := &recordingApplier{}
	l := newTestListener(applier, 300)

	l.onGuildDelete(nil, &discordgo.GuildDelete{
		Guild: &discordgo.Guild{ID: "300", Unavailable: true},
	})
	assert.Empty(t, applier.applied())

	l.onGuildDelete(nil, &discordgo.GuildDelete{
		Guild: &discordgo.Guild{ID: "300", Name: "The Archive"},
	})
	muts := applier.applied()
	require.Len(t, muts, 1)
	assert.True(t, muts[0].(mutation.GuildUpsert).Guild.IsDeleted)
}

func TestListenerRoleDeleteMarksDeleted(t *testing.T) {
	applier := &recordingApplier{}
	l := newTestListener(applier, 300)

	l.onRoleDelete(nil, &discordgo.GuildRoleDelete{RoleID: "600", GuildID: "300"})

	muts := applier.applied()
	require.Len(t, muts, 1)
	role := muts[0].(mutation.RoleUpsert)
	assert.True(t, role.Role.IsDeleted)
	assert.Equal(t, int64(600), role.Role.RoleID)
}

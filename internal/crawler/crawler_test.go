package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhall/scribe/internal/coordinator"
	"github.com/quillhall/scribe/internal/logger"
	"github.com/quillhall/scribe/internal/mutation"
	"github.com/quillhall/scribe/internal/ratelimit"
	"github.com/quillhall/scribe/internal/repository"
)

type fakeHistory struct {
	mu            sync.Mutex
	channels      []*discordgo.Channel
	messages      map[string][]*discordgo.Message
	reactionUsers map[string][]*discordgo.User
	audit         []*discordgo.AuditLogEntry
	auditUsers    []*discordgo.User

	messagesErr error
	fetches     int
}

func (h *fakeHistory) GuildChannels(string, ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return h.channels, nil
}

func (h *fakeHistory) ChannelMessages(channelID string, limit int, _, afterID, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetches++
	if h.messagesErr != nil {
		return nil, h.messagesErr
	}

	after := int64(0)
	if afterID != "" {
		after, _ = strconv.ParseInt(afterID, 10, 64)
	}

	var page []*discordgo.Message
	for _, m := range h.messages[channelID] {
		id, err := strconv.ParseInt(m.ID, 10, 64)
		if err != nil || id > after {
			page = append(page, m)
		}
	}
	byID := func(m *discordgo.Message) int64 {
		id, _ := strconv.ParseInt(m.ID, 10, 64)
		return id
	}
	sort.Slice(page, func(i, j int) bool { return byID(page[i]) < byID(page[j]) })
	if len(page) > limit {
		page = page[:limit]
	}
	// the API hands pages back newest-first
	sort.Slice(page, func(i, j int) bool { return byID(page[i]) > byID(page[j]) })
	return page, nil
}

func (h *fakeHistory) MessageReactions(channelID, messageID, emojiID string, limit int, _, afterID string, _ ...discordgo.RequestOption) ([]*discordgo.User, error) {
	if afterID != "" {
		return nil, nil
	}
	return h.reactionUsers[channelID+":"+messageID+":"+emojiID], nil
}

func (h *fakeHistory) GuildAuditLog(_, _, beforeID string, _, limit int, _ ...discordgo.RequestOption) (*discordgo.GuildAuditLog, error) {
	before := int64(1<<62 - 1)
	if beforeID != "" {
		before, _ = strconv.ParseInt(beforeID, 10, 64)
	}

	var page []*discordgo.AuditLogEntry
	for _, e := range h.audit {
		id, _ := strconv.ParseInt(e.ID, 10, 64)
		if id < before {
			page = append(page, e)
		}
	}
	byID := func(e *discordgo.AuditLogEntry) int64 {
		id, _ := strconv.ParseInt(e.ID, 10, 64)
		return id
	}
	sort.Slice(page, func(i, j int) bool { return byID(page[i]) > byID(page[j]) })
	if len(page) > limit {
		page = page[:limit]
	}
	return &discordgo.GuildAuditLog{AuditLogEntries: page, Users: h.auditUsers}, nil
}

type fakeCursors struct {
	mu       sync.Mutex
	channel  map[int64]repository.Cursor
	audit    map[int64]repository.Cursor
	stalled  map[int64]bool
	complete map[int64]bool
}

func newFakeCursors() *fakeCursors {
	return &fakeCursors{
		channel:  make(map[int64]repository.Cursor),
		audit:    make(map[int64]repository.Cursor),
		stalled:  make(map[int64]bool),
		complete: make(map[int64]bool),
	}
}

func (f *fakeCursors) ChannelCursor(_ context.Context, channelID, _ int64) (repository.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channel[channelID], nil
}

func (f *fakeCursors) AdvanceChannel(_ context.Context, channelID, lastMessageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.channel[channelID]
	if lastMessageID > c.LastID {
		c.LastID = lastMessageID
	}
	f.channel[channelID] = c
	return nil
}

func (f *fakeCursors) SetChannelComplete(_ context.Context, channelID int64, complete bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.complete[channelID] = complete
	return nil
}

func (f *fakeCursors) MarkChannelStalled(_ context.Context, channelID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stalled[channelID] = true
	return nil
}

func (f *fakeCursors) AuditCursor(_ context.Context, guildID int64) (repository.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audit[guildID], nil
}

func (f *fakeCursors) AdvanceAudit(_ context.Context, guildID, lastEntryID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.audit[guildID]
	if lastEntryID > c.LastID {
		c.LastID = lastEntryID
	}
	f.audit[guildID] = c
	return nil
}

func (f *fakeCursors) SetAuditComplete(_ context.Context, guildID int64, complete bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.complete[guildID] = complete
	return nil
}

func (f *fakeCursors) MarkAuditStalled(_ context.Context, guildID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stalled[guildID] = true
	return nil
}

type recordingApplier struct {
	mu      sync.Mutex
	muts    []mutation.Mutation
	failKey string
}

func (a *recordingApplier) Apply(_ context.Context, m mutation.Mutation) (coordinator.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failKey != "" && m.Key() == a.failKey {
		return coordinator.Result{}, errors.New("database unavailable")
	}
	a.muts = append(a.muts, m)
	return coordinator.Result{Status: coordinator.StatusApplied}, nil
}

func (a *recordingApplier) byType() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	counts := make(map[string]int)
	for _, m := range a.muts {
		counts[fmt.Sprintf("%T", m)]++
	}
	return counts
}

func (a *recordingApplier) keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.muts))
	for i, m := range a.muts {
		out[i] = m.Key()
	}
	return out
}

// crawlMessage builds a message the way the history endpoint returns
// them: without guild_id, which only gateway payloads carry.
func crawlMessage(id int64) *discordgo.Message {
	return &discordgo.Message{
		ID:        strconv.FormatInt(id, 10),
		ChannelID: "200",
		Author:    &discordgo.User{ID: "400", Username: "archivist"},
		Content:   "archived",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Second),
	}
}

func fastLimiter() *ratelimit.Limiter {
	return ratelimit.New(10000, 1000)
}

func TestCrawlChannelPagesAndAdvancesCursor(t *testing.T) {
	history := &fakeHistory{messages: map[string][]*discordgo.Message{"200": {}}}
	for i := int64(1); i <= 150; i++ {
		history.messages["200"] = append(history.messages["200"], crawlMessage(i))
	}
	cursors := newFakeCursors()
	applier := &recordingApplier{}
	c := New(history, applier, cursors, fastLimiter(), logger.Nop())

	require.NoError(t, c.CrawlChannel(context.Background(), 300, 200))

	assert.Equal(t, int64(150), cursors.channel[200].LastID)
	assert.True(t, cursors.complete[200])

	counts := applier.byType()
	assert.Equal(t, 150, counts["mutation.MessageCreate"])
	assert.Equal(t, 150, counts["mutation.UserUpsert"])
}

func TestCrawlChannelStampsGuildID(t *testing.T) {
	history := &fakeHistory{messages: map[string][]*discordgo.Message{"200": {crawlMessage(10)}}}
	cursors := newFakeCursors()
	applier := &recordingApplier{}
	c := New(history, applier, cursors, fastLimiter(), logger.Nop())

	require.NoError(t, c.CrawlChannel(context.Background(), 300, 200))

	var creates []mutation.MessageCreate
	for _, mut := range applier.muts {
		if create, ok := mut.(mutation.MessageCreate); ok {
			creates = append(creates, create)
		}
	}
	// history messages arrive without guild_id; the crawl scope fills it in
	require.Len(t, creates, 1)
	assert.Equal(t, int64(300), creates[0].Message.GuildID)
	assert.Equal(t, int64(10), creates[0].Message.MessageID)
}

func TestCrawlChannelResumesFromCursor(t *testing.T) {
	history := &fakeHistory{messages: map[string][]*discordgo.Message{"200": {}}}
	for i := int64(1); i <= 150; i++ {
		history.messages["200"] = append(history.messages["200"], crawlMessage(i))
	}
	cursors := newFakeCursors()
	cursors.channel[200] = repository.Cursor{LastID: 100}
	applier := &recordingApplier{}
	c := New(history, applier, cursors, fastLimiter(), logger.Nop())

	require.NoError(t, c.CrawlChannel(context.Background(), 300, 200))

	assert.Equal(t, int64(150), cursors.channel[200].LastID)
	assert.Equal(t, 50, applier.byType()["mutation.MessageCreate"])
}

func TestCrawlChannelEmptyMarksComplete(t *testing.T) {
	history := &fakeHistory{messages: map[string][]*discordgo.Message{}}
	cursors := newFakeCursors()
	c := New(history, &recordingApplier{}, cursors, fastLimiter(), logger.Nop())

	require.NoError(t, c.CrawlChannel(context.Background(), 300, 200))

	assert.True(t, cursors.complete[200])
	assert.Equal(t, int64(0), cursors.channel[200].LastID)
}

func TestCrawlChannelStalledOnMissingAccess(t *testing.T) {
	history := &fakeHistory{
		messagesErr: &discordgo.RESTError{
			Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingAccess},
		},
	}
	cursors := newFakeCursors()
	c := New(history, &recordingApplier{}, cursors, fastLimiter(), logger.Nop())

	require.NoError(t, c.CrawlChannel(context.Background(), 300, 200))

	assert.True(t, cursors.stalled[200])
	assert.False(t, cursors.complete[200])
	// permanent failures must not be retried
	assert.Equal(t, 1, history.fetches)
}

func TestCrawlChannelCompleteOnUnknownChannel(t *testing.T) {
	history := &fakeHistory{
		messagesErr: &discordgo.RESTError{
			Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownChannel},
		},
	}
	cursors := newFakeCursors()
	c := New(history, &recordingApplier{}, cursors, fastLimiter(), logger.Nop())

	require.NoError(t, c.CrawlChannel(context.Background(), 300, 200))

	// a deleted channel has nothing left to read; it must finish, not
	// stall and retry forever
	assert.True(t, cursors.complete[200])
	assert.False(t, cursors.stalled[200])
	assert.Equal(t, 1, history.fetches)
}

func TestCrawlChannelSkipsUnparseableIDs(t *testing.T) {
	broken := crawlMessage(0)
	broken.ID = "not-a-snowflake"
	history := &fakeHistory{messages: map[string][]*discordgo.Message{
		"200": {crawlMessage(5), broken, crawlMessage(6)},
	}}
	cursors := newFakeCursors()
	applier := &recordingApplier{}
	c := New(history, applier, cursors, fastLimiter(), logger.Nop())

	require.NoError(t, c.CrawlChannel(context.Background(), 300, 200))

	// the malformed id is dropped instead of sorting as zero and
	// dragging the cursor down
	assert.Equal(t, 2, applier.byType()["mutation.MessageCreate"])
	assert.Equal(t, int64(6), cursors.channel[200].LastID)
	assert.True(t, cursors.complete[200])
}

func TestCrawlChannelPersistenceErrorKeepsCursor(t *testing.T) {
	history := &fakeHistory{messages: map[string][]*discordgo.Message{"200": {}}}
	for i := int64(101); i <= 150; i++ {
		history.messages["200"] = append(history.messages["200"], crawlMessage(i))
	}
	cursors := newFakeCursors()
	cursors.channel[200] = repository.Cursor{LastID: 100}
	applier := &recordingApplier{failKey: "message:120"}
	c := New(history, applier, cursors, fastLimiter(), logger.Nop())

	err := c.CrawlChannel(context.Background(), 300, 200)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")

	// the partially-applied page is not acknowledged
	assert.Equal(t, int64(100), cursors.channel[200].LastID)
	assert.False(t, cursors.complete[200])
}

func TestCrawlChannelExpandsReactions(t *testing.T) {
	m := crawlMessage(10)
	m.Reactions = []*discordgo.MessageReactions{
		{Count: 2, Emoji: &discordgo.Emoji{Name: "😀"}},
	}
	history := &fakeHistory{
		messages: map[string][]*discordgo.Message{"200": {m}},
		reactionUsers: map[string][]*discordgo.User{
			"200:10:😀": {{ID: "400"}, {ID: "401"}},
		},
	}
	cursors := newFakeCursors()
	applier := &recordingApplier{}
	c := New(history, applier, cursors, fastLimiter(), logger.Nop())

	require.NoError(t, c.CrawlChannel(context.Background(), 300, 200))

	var adds []mutation.ReactionAdd
	for _, mut := range applier.muts {
		if add, ok := mut.(mutation.ReactionAdd); ok {
			adds = append(adds, add)
		}
	}
	require.Len(t, adds, 2)
	for _, add := range adds {
		// history gives no placement time
		assert.Nil(t, add.Reaction.CreatedAt)
		assert.Equal(t, "😀", add.Reaction.EmojiUnicode)
	}
}

func TestCrawlAuditLogFiltersBelowCursor(t *testing.T) {
	action := discordgo.AuditLogActionMemberBanAdd
	history := &fakeHistory{
		auditUsers: []*discordgo.User{{ID: "400", Username: "mod"}},
	}
	for i := int64(1); i <= 10; i++ {
		history.audit = append(history.audit, &discordgo.AuditLogEntry{
			ID:         strconv.FormatInt(i, 10),
			UserID:     "400",
			ActionType: &action,
		})
	}
	cursors := newFakeCursors()
	cursors.audit[300] = repository.Cursor{LastID: 5}
	applier := &recordingApplier{}
	c := New(history, applier, cursors, fastLimiter(), logger.Nop())

	require.NoError(t, c.CrawlAuditLog(context.Background(), 300))

	assert.Equal(t, int64(10), cursors.audit[300].LastID)
	assert.True(t, cursors.complete[300])

	var entryKeys []string
	for _, key := range applier.keys() {
		if len(key) > 9 && key[:9] == "audit_log" {
			entryKeys = append(entryKeys, key)
		}
	}
	// entries at or below the cursor are already stored
	require.Len(t, entryKeys, 5)
	// ascending application order
	assert.Equal(t, "audit_log:6:300", entryKeys[0])
	assert.Equal(t, "audit_log:10:300", entryKeys[4])
}

func TestManagerRunCycle(t *testing.T) {
	history := &fakeHistory{
		channels: []*discordgo.Channel{
			{ID: "200", GuildID: "300", Type: discordgo.ChannelTypeGuildText},
			{ID: "202", GuildID: "300", Type: discordgo.ChannelTypeGuildVoice},
		},
		messages: map[string][]*discordgo.Message{"200": {crawlMessage(10)}},
	}
	cursors := newFakeCursors()
	applier := &recordingApplier{}
	c := New(history, applier, cursors, fastLimiter(), logger.Nop())
	m := NewManager(c, []int64{300}, 2, logger.Nop())

	require.NoError(t, m.RunCycle(context.Background()))

	// voice channels are not crawlable scopes
	assert.True(t, cursors.complete[200])
	_, crawledVoice := cursors.channel[202]
	assert.False(t, crawledVoice)
	// the audit scope ran too
	assert.True(t, cursors.complete[300])
	assert.Equal(t, 1, applier.byType()["mutation.MessageCreate"])
}

func TestManagerRejectsOverlappingCycles(t *testing.T) {
	c := New(&fakeHistory{}, &recordingApplier{}, newFakeCursors(), fastLimiter(), logger.Nop())
	m := NewManager(c, nil, 1, logger.Nop())

	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	err := m.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleRunning)
}

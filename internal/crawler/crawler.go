// Package crawler walks channel and audit log history through the REST
// API and feeds the discovered facts to the write coordinator. Crawls
// are resumable: a persistent cursor per scope records the highest id
// whose page has been fully applied.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v4"

	"github.com/quillhall/scribe/internal/coordinator"
	"github.com/quillhall/scribe/internal/logger"
	"github.com/quillhall/scribe/internal/mutation"
	"github.com/quillhall/scribe/internal/normalize"
	"github.com/quillhall/scribe/internal/ratelimit"
	"github.com/quillhall/scribe/internal/repository"
	"github.com/quillhall/scribe/internal/snowflake"
)

// pageSize is the REST maximum for message and audit log pages.
const pageSize = 100

// maxFetchRetries bounds transient-error retries per page fetch.
const maxFetchRetries = 5

// Applier accepts mutations for application. Satisfied by the write
// coordinator.
type Applier interface {
	Apply(ctx context.Context, m mutation.Mutation) (coordinator.Result, error)
}

// History is the REST surface the crawler reads. *discordgo.Session
// satisfies it.
type History interface {
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	MessageReactions(channelID, messageID, emojiID string, limit int, beforeID, afterID string, options ...discordgo.RequestOption) ([]*discordgo.User, error)
	GuildAuditLog(guildID, userID, beforeID string, actionType, limit int, options ...discordgo.RequestOption) (*discordgo.GuildAuditLog, error)
}

// Cursors is the crawl bookkeeping surface. Satisfied by
// *repository.CrawlRepository.
type Cursors interface {
	ChannelCursor(ctx context.Context, channelID, guildID int64) (repository.Cursor, error)
	AdvanceChannel(ctx context.Context, channelID, lastMessageID int64) error
	SetChannelComplete(ctx context.Context, channelID int64, complete bool) error
	MarkChannelStalled(ctx context.Context, channelID int64) error
	AuditCursor(ctx context.Context, guildID int64) (repository.Cursor, error)
	AdvanceAudit(ctx context.Context, guildID, lastEntryID int64) error
	SetAuditComplete(ctx context.Context, guildID int64, complete bool) error
	MarkAuditStalled(ctx context.Context, guildID int64) error
}

// errScopeStalled marks a scope the account can no longer read. The
// cursor is flagged and the scope skipped until access returns.
var errScopeStalled = errors.New("crawl scope is inaccessible")

// errScopeGone marks a scope that no longer exists upstream. There is
// nothing left to read, so the crawl is marked complete rather than
// retried.
var errScopeGone = errors.New("crawl scope no longer exists")

// Crawler crawls one scope at a time; the manager fans it out across
// channels and guilds.
type Crawler struct {
	history History
	applier Applier
	cursors Cursors
	limiter *ratelimit.Limiter
	log     *logger.Logger
}

// New creates a crawler. The limiter is shared with every other crawl
// task so concurrent scopes stay inside one request budget.
func New(history History, applier Applier, cursors Cursors, limiter *ratelimit.Limiter, log *logger.Logger) *Crawler {
	if limiter == nil {
		limiter = ratelimit.Default()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Crawler{
		history: history,
		applier: applier,
		cursors: cursors,
		limiter: limiter,
		log:     log,
	}
}

// TextChannels lists the guild's crawlable text channels.
func (c *Crawler) TextChannels(ctx context.Context, guildID int64) ([]*discordgo.Channel, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	channels, err := c.history.GuildChannels(snowflake.Format(guildID))
	if err != nil {
		return nil, fmt.Errorf("list guild channels: %w", err)
	}
	crawlable := channels[:0]
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText || ch.Type == discordgo.ChannelTypeGuildNews {
			crawlable = append(crawlable, ch)
		}
	}
	return crawlable, nil
}

// CrawlChannel walks one channel's history upward from its cursor until
// the present. The cursor only advances after a page has been fully
// applied, so an interrupted crawl re-reads at most one page.
func (c *Crawler) CrawlChannel(ctx context.Context, guildID, channelID int64) error {
	cursor, err := c.cursors.ChannelCursor(ctx, channelID, guildID)
	if err != nil {
		return fmt.Errorf("load channel cursor: %w", err)
	}
	after := cursor.LastID

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := c.fetchMessagePage(ctx, channelID, after)
		if errors.Is(err, errScopeGone) {
			c.log.Info().Int64("channel_id", channelID).Msg("channel gone upstream, marking crawl complete")
			return c.cursors.SetChannelComplete(ctx, channelID, true)
		}
		if errors.Is(err, errScopeStalled) {
			c.log.Warn().Int64("channel_id", channelID).Msg("channel inaccessible, marking crawl stalled")
			return c.cursors.MarkChannelStalled(ctx, channelID)
		}
		if err != nil {
			return fmt.Errorf("fetch message page: %w", err)
		}

		if len(page) == 0 {
			if err := c.cursors.SetChannelComplete(ctx, channelID, true); err != nil {
				return fmt.Errorf("mark channel complete: %w", err)
			}
			c.log.Debug().Int64("channel_id", channelID).Int64("cursor", after).Msg("channel crawl caught up")
			return nil
		}

		fetched := len(page)
		page = c.parseablePage(page)
		if len(page) == 0 {
			return fmt.Errorf("message page for channel %d had no parseable ids", channelID)
		}

		// ascending order so the cursor invariant holds within the page
		sort.Slice(page, func(i, j int) bool { return pageID(page[i]) < pageID(page[j]) })

		for _, m := range page {
			if err := c.applyMessage(ctx, m, guildID); err != nil {
				return err
			}
		}

		after = pageID(page[len(page)-1])
		if err := c.cursors.AdvanceChannel(ctx, channelID, after); err != nil {
			return fmt.Errorf("advance channel cursor: %w", err)
		}

		if fetched < pageSize {
			if err := c.cursors.SetChannelComplete(ctx, channelID, true); err != nil {
				return fmt.Errorf("mark channel complete: %w", err)
			}
			return nil
		}
	}
}

// parseablePage drops messages whose id is not a valid snowflake. A
// zero id would corrupt both the page ordering and the cursor.
func (c *Crawler) parseablePage(page []*discordgo.Message) []*discordgo.Message {
	kept := page[:0]
	for _, m := range page {
		if _, err := snowflake.Parse(m.ID); err != nil {
			c.log.Warn().Err(err).Str("message_id", m.ID).Msg("dropped message with unparseable id")
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

func pageID(m *discordgo.Message) int64 {
	id, _ := snowflake.Parse(m.ID)
	return id
}

func (c *Crawler) fetchMessagePage(ctx context.Context, channelID, after int64) ([]*discordgo.Message, error) {
	afterID := ""
	if after > 0 {
		afterID = snowflake.Format(after)
	}
	var page []*discordgo.Message
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var err error
		page, err = c.history.ChannelMessages(snowflake.Format(channelID), pageSize, "", afterID, "")
		return c.classify(err)
	}
	if err := c.retry(ctx, op); err != nil {
		return nil, err
	}
	return page, nil
}

// applyMessage converts one crawled message and applies everything it
// implies, then walks its reaction summary. A persistence error aborts
// the page so the cursor stays put. The REST endpoint omits guild_id
// on messages, so the crawl scope's guild is stamped in before
// conversion.
func (c *Crawler) applyMessage(ctx context.Context, m *discordgo.Message, guildID int64) error {
	if m.GuildID == "" {
		m.GuildID = snowflake.Format(guildID)
	}

	if m.Author != nil {
		if user, err := normalize.User(m.Author); err == nil {
			if err := c.apply(ctx, mutation.UserUpsert{User: user, At: m.Timestamp.UTC()}); err != nil {
				return err
			}
		}
	}

	muts, err := normalize.Message(m)
	if err != nil {
		c.log.Warn().Err(err).Str("message_id", m.ID).Msg("dropped malformed crawled message")
		return nil
	}
	for _, mut := range muts {
		if err := c.apply(ctx, mut); err != nil {
			return err
		}
	}

	if m.EditedTimestamp != nil {
		edit := mutation.MessageEdit{
			MessageID: pageID(m),
			Content:   m.Content,
			Embeds:    int16(len(m.Embeds)),
			EditedAt:  m.EditedTimestamp.UTC(),
		}
		if err := c.apply(ctx, edit); err != nil {
			return err
		}
	}

	return c.crawlReactions(ctx, m)
}

// crawlReactions expands the reaction count summary into per-user rows.
// The history endpoint does not report placement times, so crawled
// reactions carry a nil timestamp.
func (c *Crawler) crawlReactions(ctx context.Context, m *discordgo.Message) error {
	for _, summary := range m.Reactions {
		if summary.Emoji == nil {
			continue
		}
		users, err := c.fetchReactionUsers(ctx, m.ChannelID, m.ID, summary.Emoji)
		if errors.Is(err, errScopeStalled) || errors.Is(err, errScopeGone) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch reaction users: %w", err)
		}

		for _, u := range users {
			reaction := &discordgo.MessageReaction{
				MessageID: m.ID,
				UserID:    u.ID,
				ChannelID: m.ChannelID,
				GuildID:   m.GuildID,
				Emoji:     *summary.Emoji,
			}
			emojiMut, record, err := normalize.Reaction(reaction, time.Now().UTC())
			if err != nil {
				continue
			}
			if err := c.apply(ctx, emojiMut); err != nil {
				return err
			}
			if err := c.apply(ctx, mutation.ReactionAdd{Reaction: record, At: time.Now().UTC()}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Crawler) fetchReactionUsers(ctx context.Context, channelID, messageID string, e *discordgo.Emoji) ([]*discordgo.User, error) {
	var all []*discordgo.User
	after := ""
	for {
		var page []*discordgo.User
		op := func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
			var err error
			page, err = c.history.MessageReactions(channelID, messageID, e.APIName(), pageSize, "", after)
			return c.classify(err)
		}
		if err := c.retry(ctx, op); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		after = page[len(page)-1].ID
	}
}

// CrawlAuditLog walks a guild's audit log. The endpoint only pages
// newest-first, so pages are fetched backward until the cursor is
// reached, then applied in ascending order.
func (c *Crawler) CrawlAuditLog(ctx context.Context, guildID int64) error {
	cursor, err := c.cursors.AuditCursor(ctx, guildID)
	if err != nil {
		return fmt.Errorf("load audit cursor: %w", err)
	}

	entries, users, err := c.collectAuditEntries(ctx, guildID, cursor.LastID)
	if errors.Is(err, errScopeGone) {
		c.log.Info().Int64("guild_id", guildID).Msg("guild gone upstream, marking audit crawl complete")
		return c.cursors.SetAuditComplete(ctx, guildID, true)
	}
	if errors.Is(err, errScopeStalled) {
		c.log.Warn().Int64("guild_id", guildID).Msg("audit log inaccessible, marking crawl stalled")
		return c.cursors.MarkAuditStalled(ctx, guildID)
	}
	if err != nil {
		return err
	}

	for _, u := range users {
		if user, err := normalize.User(u); err == nil {
			if err := c.apply(ctx, mutation.UserUpsert{User: user, At: time.Now().UTC()}); err != nil {
				return err
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entryID(entries[i]) < entryID(entries[j]) })

	last := cursor.LastID
	for _, e := range entries {
		record, err := normalize.AuditEntry(e, guildID)
		if err != nil {
			c.log.Warn().Err(err).Str("entry_id", e.ID).Msg("dropped malformed audit entry")
			continue
		}
		at := time.Now().UTC()
		if ts, err := snowflake.Time(record.AuditEntryID); err == nil {
			at = ts
		}
		if err := c.apply(ctx, mutation.AuditLogCreate{Entry: record, At: at}); err != nil {
			return err
		}
		if record.AuditEntryID > last {
			last = record.AuditEntryID
			if err := c.cursors.AdvanceAudit(ctx, guildID, last); err != nil {
				return fmt.Errorf("advance audit cursor: %w", err)
			}
		}
	}

	return c.cursors.SetAuditComplete(ctx, guildID, true)
}

func entryID(e *discordgo.AuditLogEntry) int64 {
	id, _ := snowflake.Parse(e.ID)
	return id
}

// collectAuditEntries pages backward and keeps entries above the cursor.
func (c *Crawler) collectAuditEntries(ctx context.Context, guildID, cursorID int64) ([]*discordgo.AuditLogEntry, []*discordgo.User, error) {
	var (
		entries []*discordgo.AuditLogEntry
		users   []*discordgo.User
		before  string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		var log *discordgo.GuildAuditLog
		op := func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
			var err error
			log, err = c.history.GuildAuditLog(snowflake.Format(guildID), "", before, 0, pageSize)
			return c.classify(err)
		}
		if err := c.retry(ctx, op); err != nil {
			return nil, nil, err
		}

		if len(log.AuditLogEntries) == 0 {
			return entries, users, nil
		}
		users = append(users, log.Users...)

		reachedCursor := false
		var oldest int64
		for _, e := range log.AuditLogEntries {
			id, err := snowflake.Parse(e.ID)
			if err != nil {
				c.log.Warn().Err(err).Str("entry_id", e.ID).Msg("dropped audit entry with unparseable id")
				continue
			}
			if oldest == 0 || id < oldest {
				oldest = id
			}
			if id > cursorID {
				entries = append(entries, e)
			} else {
				reachedCursor = true
			}
		}
		if reachedCursor || len(log.AuditLogEntries) < pageSize {
			return entries, users, nil
		}
		if oldest == 0 {
			return nil, nil, fmt.Errorf("audit page for guild %d had no parseable entry ids", guildID)
		}
		before = snowflake.Format(oldest)
	}
}

func (c *Crawler) apply(ctx context.Context, m mutation.Mutation) error {
	res, err := c.applier.Apply(ctx, m)
	if err != nil {
		return fmt.Errorf("apply %s: %w", m.Key(), err)
	}
	c.log.Debug().
		Str("key", m.Key()).
		Str("status", res.Status.String()).
		Msg("applied crawled mutation")
	return nil
}

func (c *Crawler) retry(ctx context.Context, op backoff.Operation) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxFetchRetries), ctx)
	return backoff.Retry(op, b)
}

// classify maps REST failures onto retry behavior: a deleted scope is
// finished, an access failure is permanent for the scope but may heal,
// rate limits feed the shared limiter, and everything else is
// transient.
func (c *Crawler) classify(err error) error {
	if err == nil {
		return nil
	}

	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		c.limiter.SetRetryAfter(rateErr.RetryAfter)
		c.log.Debug().Dur("retry_after", rateErr.RetryAfter).Msg("rate limited by upstream")
		return err
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownGuild:
			return backoff.Permanent(fmt.Errorf("%w: %v", errScopeGone, err))
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return backoff.Permanent(fmt.Errorf("%w: %v", errScopeStalled, err))
		}
	}
	return err
}

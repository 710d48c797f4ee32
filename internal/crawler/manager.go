package crawler

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/quillhall/scribe/internal/logger"
	"github.com/quillhall/scribe/internal/snowflake"
)

// ErrCycleRunning reports an attempt to start a cycle while the
// previous one is still in flight.
var ErrCycleRunning = errors.New("crawl cycle already running")

// Manager fans the crawler out across guilds and channels and reruns
// full cycles on a schedule. Cycles never overlap; a scheduled cycle
// that fires while one is running is skipped.
type Manager struct {
	crawler     *Crawler
	guilds      []int64
	concurrency int
	log         *logger.Logger

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewManager creates a manager crawling the given guilds.
// concurrency bounds how many channel scopes run at once.
func NewManager(c *Crawler, guilds []int64, concurrency int, log *logger.Logger) *Manager {
	if concurrency <= 0 {
		concurrency = 2
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		crawler:     c,
		guilds:      guilds,
		concurrency: concurrency,
		log:         log,
	}
}

// RunCycle crawls every configured guild once: all text channels, then
// the audit log. Scope failures are logged and do not abort the cycle;
// their cursors simply stay put until the next one.
func (m *Manager) RunCycle(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrCycleRunning
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	cycleID := uuid.NewString()
	log := m.log.With().Str("cycle_id", cycleID).Logger()
	log.Info().Int("guilds", len(m.guilds)).Msg("starting crawl cycle")

	for _, guildID := range m.guilds {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.crawlGuild(ctx, guildID, log)
	}

	log.Info().Msg("crawl cycle finished")
	return nil
}

func (m *Manager) crawlGuild(ctx context.Context, guildID int64, log zerolog.Logger) {
	channels, err := m.crawler.TextChannels(ctx, guildID)
	if err != nil {
		log.Error().Err(err).Int64("guild_id", guildID).Msg("failed to list channels for crawl")
		return
	}
	log.Info().Int64("guild_id", guildID).Int("channels", len(channels)).Msg("crawling guild")

	sem := make(chan struct{}, m.concurrency)
	var wg sync.WaitGroup
	for _, ch := range channels {
		channelID := snowflake.MustParse(ch.ID)
		if channelID == 0 {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := m.crawler.CrawlChannel(ctx, guildID, channelID); err != nil {
				log.Error().Err(err).Int64("channel_id", channelID).Msg("channel crawl failed")
			}
		}()
	}
	wg.Wait()

	if err := m.crawler.CrawlAuditLog(ctx, guildID); err != nil {
		log.Error().Err(err).Int64("guild_id", guildID).Msg("audit log crawl failed")
	}
}

// Schedule registers recurring cycles with the given cron spec, e.g.
// "@every 1h", and starts the scheduler.
func (m *Manager) Schedule(ctx context.Context, spec string) error {
	m.cron = cron.New()
	_, err := m.cron.AddFunc(spec, func() {
		if err := m.RunCycle(ctx); err != nil {
			if errors.Is(err, ErrCycleRunning) {
				m.log.Warn().Msg("skipping scheduled crawl, previous cycle still running")
				return
			}
			if !errors.Is(err, context.Canceled) {
				m.log.Error().Err(err).Msg("scheduled crawl cycle failed")
			}
		}
	})
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// Stop halts the scheduler. Already-running cycles are bounded by their
// context, not by Stop.
func (m *Manager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
}

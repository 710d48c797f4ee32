// Package coordinator is the reconciliation core: the single writer of
// record. Both ingestion paths submit mutations here; the coordinator
// serializes writes per natural key and applies the timestamp
// precedence rule, so a late historical discovery can never regress
// state already advanced by a live event.
package coordinator

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quillhall/scribe/internal/logger"
	"github.com/quillhall/scribe/internal/models"
	"github.com/quillhall/scribe/internal/mutation"
)

// Status is the outcome class of one mutation.
type Status int

const (
	// StatusApplied means the mutation changed stored state.
	StatusApplied Status = iota
	// StatusSkipped means the mutation was stale or duplicate. A normal
	// outcome, not a failure.
	StatusSkipped
	// StatusRejected means the mutation was malformed. Isolated to the
	// one mutation; the stream continues.
	StatusRejected
)

// String renders the status for logs.
func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusSkipped:
		return "skipped"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result reports what happened to one mutation. Reason is set for
// skipped and rejected outcomes.
type Result struct {
	Status Status
	Reason string
}

// Store is the persistence surface the coordinator writes through.
// Every method returns whether the write changed state; false means the
// conditional expression in the statement decided the mutation was
// stale or duplicate.
type Store interface {
	CreateMessage(ctx context.Context, m models.Message) (bool, error)
	EditMessage(ctx context.Context, id int64, content string, embeds int16, editedAt time.Time) (bool, error)
	DeleteMessage(ctx context.Context, id int64, deletedAt time.Time) (bool, error)

	AddReaction(ctx context.Context, r models.Reaction) (bool, error)
	RemoveReaction(ctx context.Context, messageID, emojiID int64, emojiUnicode string, userID int64, at time.Time) (bool, error)
	InsertTyping(ctx context.Context, t models.TypingEvent) (bool, error)
	InsertPin(ctx context.Context, p models.Pin) (bool, error)
	InsertMentions(ctx context.Context, rows []models.Mention) (int, error)
	InsertAuditLogEntry(ctx context.Context, e models.AuditLogEntry) (bool, error)

	UpsertGuild(ctx context.Context, g models.Guild, at time.Time) (bool, error)
	UpsertChannel(ctx context.Context, c models.Channel, at time.Time) (bool, error)
	UpsertVoiceChannel(ctx context.Context, c models.VoiceChannel, at time.Time) (bool, error)
	UpsertCategory(ctx context.Context, c models.ChannelCategory, at time.Time) (bool, error)
	UpsertUser(ctx context.Context, u models.User, at time.Time) (bool, error)
	UpsertRole(ctx context.Context, r models.Role, at time.Time) (bool, error)
	UpsertEmoji(ctx context.Context, e models.Emoji, at time.Time) (bool, error)
	UpsertGuildMembership(ctx context.Context, m models.GuildMembership, at time.Time) (bool, error)
	AddRoleMembership(ctx context.Context, m models.RoleMembership) (bool, error)
}

// AppliedEvent describes a mutation that changed state, for downstream
// consumers on the event bus.
type AppliedEvent struct {
	Entity      string    `json:"entity"`
	Key         string    `json:"key"`
	EffectiveAt time.Time `json:"effective_at"`
}

// Publisher publishes applied-mutation events. Optional; a nil
// publisher disables publishing.
type Publisher interface {
	PublishApplied(ctx context.Context, event AppliedEvent) error
}

// Stats counts outcomes since startup.
type Stats struct {
	Applied  uint64
	Skipped  uint64
	Rejected uint64
}

// Coordinator routes each mutation to the worker owning its key-hash
// partition. Mutations for the same natural key always land on the same
// worker, which gives per-key serialization without locking around the
// store call.
type Coordinator struct {
	store Store
	pub   Publisher
	log   *logger.Logger

	partitions []chan task
	wg         sync.WaitGroup
	started    bool
	mu         sync.Mutex

	applied  atomic.Uint64
	skipped  atomic.Uint64
	rejected atomic.Uint64
}

type task struct {
	ctx context.Context
	m   mutation.Mutation
	res chan outcome
}

type outcome struct {
	result Result
	err    error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher attaches an applied-event publisher.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.pub = p }
}

// New creates a coordinator with the given partition count and per-
// partition queue capacity.
func New(store Store, workers, queueSize int, log *logger.Logger, opts ...Option) *Coordinator {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if log == nil {
		log = logger.Nop()
	}
	c := &Coordinator{
		store:      store,
		log:        log,
		partitions: make([]chan task, workers),
	}
	for i := range c.partitions {
		c.partitions[i] = make(chan task, queueSize)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the partition workers. They run until ctx is
// cancelled; Wait blocks until they have drained.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	for i, ch := range c.partitions {
		c.wg.Add(1)
		go c.worker(ctx, i, ch)
	}
}

// Wait blocks until all workers have exited.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Stats returns outcome counters since startup.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Applied:  c.applied.Load(),
		Skipped:  c.skipped.Load(),
		Rejected: c.rejected.Load(),
	}
}

// Apply submits one mutation and waits for its outcome. Malformed
// mutations are rejected without touching the store. A non-nil error
// means the persistence layer failed and the caller should back off and
// retry; it is never returned for stale or duplicate mutations.
func (c *Coordinator) Apply(ctx context.Context, m mutation.Mutation) (Result, error) {
	if err := m.Validate(); err != nil {
		c.rejected.Add(1)
		c.log.Warn().
			Str("entity", m.Entity()).
			Str("key", m.Key()).
			Err(err).
			Msg("rejected malformed mutation")
		return Result{Status: StatusRejected, Reason: err.Error()}, nil
	}

	t := task{ctx: ctx, m: m, res: make(chan outcome, 1)}
	p := c.partitions[partition(m.Key(), len(c.partitions))]

	select {
	case p <- t:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case out := <-t.res:
		return out.result, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (c *Coordinator) worker(ctx context.Context, id int, ch chan task) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ch:
			res, err := c.dispatch(t.ctx, t.m)
			c.count(res, err)
			if err == nil && res.Status == StatusApplied {
				c.publish(t.ctx, t.m)
			}
			t.res <- outcome{result: res, err: err}
		}
	}
}

func (c *Coordinator) count(res Result, err error) {
	if err != nil {
		return
	}
	switch res.Status {
	case StatusApplied:
		c.applied.Add(1)
	case StatusSkipped:
		c.skipped.Add(1)
	case StatusRejected:
		c.rejected.Add(1)
	}
}

func (c *Coordinator) publish(ctx context.Context, m mutation.Mutation) {
	if c.pub == nil {
		return
	}
	event := AppliedEvent{Entity: m.Entity(), Key: m.Key(), EffectiveAt: m.EffectiveAt()}
	if err := c.pub.PublishApplied(ctx, event); err != nil {
		c.log.Warn().Err(err).Str("key", event.Key).Msg("failed to publish applied event")
	}
}

// dispatch runs inside the partition worker: this is the per-key
// critical section. It only compares and writes; no network I/O beyond
// the store statement itself.
func (c *Coordinator) dispatch(ctx context.Context, m mutation.Mutation) (Result, error) {
	switch v := m.(type) {
	case mutation.MessageCreate:
		applied, err := c.store.CreateMessage(ctx, v.Message)
		return c.outcome(applied, err, "message already recorded")
	case mutation.MessageEdit:
		applied, err := c.store.EditMessage(ctx, v.MessageID, v.Content, v.Embeds, v.EditedAt)
		return c.outcome(applied, err, "stale edit or deleted message")
	case mutation.MessageDelete:
		applied, err := c.store.DeleteMessage(ctx, v.MessageID, v.DeletedAt)
		return c.outcome(applied, err, "deletion already recorded")
	case mutation.ReactionAdd:
		applied, err := c.store.AddReaction(ctx, v.Reaction)
		return c.outcome(applied, err, "duplicate reaction")
	case mutation.ReactionRemove:
		applied, err := c.store.RemoveReaction(ctx, v.MessageID, v.EmojiID, v.EmojiUnicode, v.UserID, v.DeletedAt)
		return c.outcome(applied, err, "no live reaction to remove")
	case mutation.Typing:
		applied, err := c.store.InsertTyping(ctx, v.Event)
		return c.outcome(applied, err, "duplicate typing event")
	case mutation.PinCreate:
		applied, err := c.store.InsertPin(ctx, v.Pin)
		return c.outcome(applied, err, "pin already recorded")
	case mutation.Mentions:
		n, err := c.store.InsertMentions(ctx, v.Rows)
		if err != nil {
			return Result{}, err
		}
		if n == 0 {
			return Result{Status: StatusSkipped, Reason: "mentions already recorded"}, nil
		}
		return Result{Status: StatusApplied}, nil
	case mutation.AuditLogCreate:
		applied, err := c.store.InsertAuditLogEntry(ctx, v.Entry)
		return c.outcome(applied, err, "audit entry already recorded")
	case mutation.GuildUpsert:
		applied, err := c.store.UpsertGuild(ctx, v.Guild, v.At)
		return c.outcome(applied, err, "stale or frozen guild snapshot")
	case mutation.ChannelUpsert:
		applied, err := c.store.UpsertChannel(ctx, v.Channel, v.At)
		return c.outcome(applied, err, "stale or frozen channel snapshot")
	case mutation.VoiceChannelUpsert:
		applied, err := c.store.UpsertVoiceChannel(ctx, v.Channel, v.At)
		return c.outcome(applied, err, "stale or frozen voice channel snapshot")
	case mutation.CategoryUpsert:
		applied, err := c.store.UpsertCategory(ctx, v.Category, v.At)
		return c.outcome(applied, err, "stale or frozen category snapshot")
	case mutation.UserUpsert:
		applied, err := c.store.UpsertUser(ctx, v.User, v.At)
		return c.outcome(applied, err, "stale or frozen user snapshot")
	case mutation.RoleUpsert:
		applied, err := c.store.UpsertRole(ctx, v.Role, v.At)
		return c.outcome(applied, err, "stale or frozen role snapshot")
	case mutation.EmojiUpsert:
		applied, err := c.store.UpsertEmoji(ctx, v.Emoji, v.At)
		return c.outcome(applied, err, "stale or frozen emoji snapshot")
	case mutation.GuildMembershipUpsert:
		applied, err := c.store.UpsertGuildMembership(ctx, v.Membership, v.At)
		return c.outcome(applied, err, "stale membership snapshot")
	case mutation.RoleMembershipAdd:
		applied, err := c.store.AddRoleMembership(ctx, v.Membership)
		return c.outcome(applied, err, "role membership already recorded")
	default:
		c.log.Error().Str("entity", m.Entity()).Msg("unhandled mutation variant")
		return Result{Status: StatusRejected, Reason: "unhandled mutation variant"}, nil
	}
}

func (c *Coordinator) outcome(applied bool, err error, skipReason string) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	if !applied {
		return Result{Status: StatusSkipped, Reason: skipReason}, nil
	}
	return Result{Status: StatusApplied}, nil
}

func partition(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

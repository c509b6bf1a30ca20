// Package autosave runs the client-side save scheduler: one cooperative
// loop per open document that batches local edits, issues conditional
// saves, interprets conflicts and rate limits, and falls back to a
// durable offline queue when the server is unreachable.
package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	clientapi "github.com/coeditd/coeditd/internal/client/api"
	"github.com/coeditd/coeditd/internal/client/storage"
	"github.com/coeditd/coeditd/internal/models"
	"github.com/coeditd/coeditd/pkg/api"
)

// State is the coordinator's scheduler state.
type State int

// Scheduler states. Conflict is entered only after the single automatic
// fast-forward also lost the race; it waits for the user to edit again.
const (
	Idle State = iota
	Pending
	Saving
	Saved
	Conflict
	RateLimited
	Offline
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Saving:
		return "saving"
	case Saved:
		return "saved"
	case Conflict:
		return "conflict"
	case RateLimited:
		return "rate_limited"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// SaveClient is the slice of the HTTP client the coordinator needs.
type SaveClient interface {
	SaveDocument(ctx context.Context, documentID string, req api.SaveRequest) (*api.SaveAccepted, error)
}

// Config tunes the scheduler. Zero values fall back to defaults.
type Config struct {
	// Debounce is the trailing quiet window after an edit before a save fires
	Debounce time.Duration
	// MaxWait caps how long a typing burst can defer a save
	MaxWait time.Duration
	// OfflineRetry is the pause between reconnect attempts while Offline
	OfflineRetry time.Duration
	// MaxQueueRetries bounds per-entry drain attempts before the entry is
	// surfaced as a permanent failure
	MaxQueueRetries int
}

const (
	defaultDebounce        = 2 * time.Second
	defaultMaxWait         = 10 * time.Second
	defaultOfflineRetry    = 15 * time.Second
	defaultMaxQueueRetries = 5
	defaultRateLimitDelay  = time.Second
)

type editEvent struct {
	content []models.ContentBlock
	at      time.Time
}

type drainRequest struct {
	reply chan error
}

type syncRequest struct {
	reply chan State
}

// Coordinator schedules saves for one document. All state below the
// channels is owned by the Run loop; at most one save request is in
// flight at any moment.
type Coordinator struct {
	documentID string
	logger     *slog.Logger
	client     SaveClient
	queue      storage.QueueStorage
	cfg        Config

	edits  chan editEvent
	drains chan drainRequest
	syncs  chan syncRequest
	stop   chan struct{}
	done   chan struct{}

	draining atomic.Bool

	// loop-owned
	state       State
	baseVersion uint64
	pending     []models.ContentBlock
	firstEditAt time.Time

	// OnConflict fires after the automatic fast-forward also conflicted;
	// the caller must merge manually and edit again.
	OnConflict func(latest *api.SaveConflict)
	// OnFatal fires when a queued entry is given up on after bounded
	// retries. The entry has already been removed from the queue.
	OnFatal func(entry *models.OfflineQueueEntry, err error)

	newOpID func() string
	nowFunc func() time.Time
}

// New creates a coordinator for one open document. baseVersion is the
// version the caller last observed from the server.
func New(documentID string, baseVersion uint64, client SaveClient, queue storage.QueueStorage, logger *slog.Logger, cfg Config) *Coordinator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.OfflineRetry <= 0 {
		cfg.OfflineRetry = defaultOfflineRetry
	}
	if cfg.MaxQueueRetries <= 0 {
		cfg.MaxQueueRetries = defaultMaxQueueRetries
	}

	return &Coordinator{
		documentID:  documentID,
		logger:      logger,
		client:      client,
		queue:       queue,
		cfg:         cfg,
		edits:       make(chan editEvent, 16),
		drains:      make(chan drainRequest),
		syncs:       make(chan syncRequest),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		state:       Idle,
		baseVersion: baseVersion,
		newOpID: func() string {
			return uuid.New().String()
		},
		nowFunc: time.Now,
	}
}

// Edit submits the full current content after a local change. The content
// is replaced wholesale on save, never merged, so each call must carry
// the complete document.
func (c *Coordinator) Edit(content []models.ContentBlock) {
	select {
	case <-c.done:
	case c.edits <- editEvent{content: models.CloneContent(content), at: c.nowFunc()}:
	}
}

// Drain flushes the offline queue in FIFO order and blocks until the
// queue is empty or a transport error interrupts the pass.
func (c *Coordinator) Drain(ctx context.Context) error {
	req := drainRequest{reply: make(chan error, 1)}
	select {
	case <-c.done:
		return errors.New("coordinator stopped")
	case c.drains <- req:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-req.reply:
		return err
	}
}

// Sync forces an immediate save of any pending content, skipping the
// debounce. Returns the scheduler state after the attempt; callers use it
// to tell a clean exit from one that left work queued or conflicted.
func (c *Coordinator) Sync(ctx context.Context) State {
	req := syncRequest{reply: make(chan State, 1)}
	select {
	case <-c.done:
		return c.state
	case c.syncs <- req:
	}
	select {
	case <-ctx.Done():
		return Saving
	case state := <-req.reply:
		return state
	}
}

// Draining reports whether an offline-queue drain is in progress. The
// collaboration session checks this before applying a full-document reset.
func (c *Coordinator) Draining() bool {
	return c.draining.Load()
}

// Stop terminates the Run loop and waits for it to exit.
func (c *Coordinator) Stop() {
	close(c.stop)
	<-c.done
}

// BaseVersion returns the last server version the coordinator saved
// against. Only safe to read after Stop.
func (c *Coordinator) BaseVersion() uint64 {
	return c.baseVersion
}

// State returns the scheduler state. Only safe to read after Stop.
func (c *Coordinator) State() State {
	return c.state
}

// Run processes edits and timers until Stop is called. Must be called
// exactly once, on its own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	schedule := func(d time.Duration) {
		if armed && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
		armed = true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case ev := <-c.edits:
			c.applyEdit(ev, schedule)
		case req := <-c.drains:
			err := c.performDrain(ctx)
			req.reply <- err
			if c.state == Offline {
				if empty, qerr := c.queueEmpty(ctx); err == nil && qerr == nil && empty {
					c.state = Idle
					c.toIdleOrPending(schedule)
				} else {
					schedule(c.cfg.OfflineRetry)
				}
			}
		case req := <-c.syncs:
			// pull in any edits still sitting in the channel first
			for len(c.edits) > 0 {
				c.applyEdit(<-c.edits, schedule)
			}
			if c.state == Pending && c.pending != nil {
				c.flush(ctx, schedule)
			}
			req.reply <- c.state
		case <-timer.C:
			armed = false
			c.onTimer(ctx, schedule)
		}
	}
}

func (c *Coordinator) applyEdit(ev editEvent, schedule func(time.Duration)) {
	c.pending = ev.content

	switch c.state {
	case Idle, Saved, Conflict:
		c.state = Pending
		c.firstEditAt = ev.at
		schedule(c.cfg.Debounce)
	case Pending:
		// trailing debounce, capped so a long burst still flushes
		deadline := ev.at.Add(c.cfg.Debounce)
		if latest := c.firstEditAt.Add(c.cfg.MaxWait); deadline.After(latest) {
			deadline = latest
		}
		schedule(deadline.Sub(c.nowFunc()))
	case Saving, RateLimited, Offline:
		// coalesced into the already-scheduled attempt
	}
}

func (c *Coordinator) onTimer(ctx context.Context, schedule func(time.Duration)) {
	switch c.state {
	case Pending, RateLimited:
		c.flush(ctx, schedule)
	case Offline:
		if err := c.performDrain(ctx); err != nil {
			c.logger.Warn("Reconnect attempt failed",
				"document_id", c.documentID,
				"error", err)
			schedule(c.cfg.OfflineRetry)
			return
		}
		if c.pending != nil {
			c.flush(ctx, schedule)
			return
		}
		c.state = Idle
	}
}

// flush performs one save attempt with the current pending content.
func (c *Coordinator) flush(ctx context.Context, schedule func(time.Duration)) {
	// never let a direct save overtake queued entries
	if empty, err := c.queueEmpty(ctx); err == nil && !empty {
		c.enqueuePending(ctx, c.newOpID())
		c.state = Offline
		schedule(c.cfg.OfflineRetry)
		return
	}

	c.state = Saving
	content := c.pending

	opID := c.newOpID()
	result, err := c.save(ctx, opID, content, c.baseVersion)
	switch {
	case err == nil:
		c.baseVersion = result.NewVersion
		c.state = Saved
		c.toIdleOrPending(schedule)
		if c.pending == nil {
			c.state = Idle
		}

	case isConflict(err):
		c.fastForward(ctx, content, err, schedule)

	case isRateLimited(err):
		delay := rateLimitDelay(err)
		c.logger.Info("Save rate limited",
			"document_id", c.documentID,
			"retry_after", delay)
		c.state = RateLimited
		schedule(delay)

	default:
		c.logger.Warn("Save failed, queueing offline",
			"document_id", c.documentID,
			"error", err)
		// keep the op id that went over the wire; a save that landed
		// server-side must replay as a cache hit, not a second apply
		c.enqueuePending(ctx, opID)
		c.state = Offline
		schedule(c.cfg.OfflineRetry)
	}
}

// fastForward retries a conflicted save exactly once against the latest
// version, keeping the user's content. A second conflict escalates.
func (c *Coordinator) fastForward(ctx context.Context, content []models.ContentBlock, conflictErr error, schedule func(time.Duration)) {
	latest := asConflict(conflictErr).Latest

	opID := c.newOpID()
	result, err := c.save(ctx, opID, content, latest.LatestVersion)
	switch {
	case err == nil:
		c.baseVersion = result.NewVersion
		c.state = Saved
		c.toIdleOrPending(schedule)
		if c.pending == nil {
			c.state = Idle
		}

	case isConflict(err):
		latest = asConflict(err).Latest
		c.logger.Warn("Fast-forward conflicted, manual resolution required",
			"document_id", c.documentID,
			"latest_version", latest.LatestVersion)
		c.baseVersion = latest.LatestVersion
		c.pending = nil
		c.state = Conflict
		if c.OnConflict != nil {
			c.OnConflict(latest)
		}

	case isRateLimited(err):
		c.state = RateLimited
		schedule(rateLimitDelay(err))

	default:
		c.baseVersion = latest.LatestVersion
		c.enqueuePending(ctx, opID)
		c.state = Offline
		schedule(c.cfg.OfflineRetry)
	}
}

// toIdleOrPending re-arms the debounce if edits arrived during the save.
func (c *Coordinator) toIdleOrPending(schedule func(time.Duration)) {
	select {
	case ev := <-c.edits:
		c.pending = ev.content
		c.state = Pending
		c.firstEditAt = ev.at
		schedule(c.cfg.Debounce)
	default:
		c.pending = nil
	}
}

// enqueuePending moves the current pending content into the durable
// queue under the given op id. The local base version advances
// optimistically so later entries line up behind this one.
func (c *Coordinator) enqueuePending(ctx context.Context, opID string) {
	if c.pending == nil {
		return
	}

	entry := &models.OfflineQueueEntry{
		OpID:        opID,
		DocumentID:  c.documentID,
		Content:     c.pending,
		BaseVersion: c.baseVersion,
		EnqueueTime: c.nowFunc(),
	}
	if err := c.queue.Enqueue(ctx, entry); err != nil {
		c.logger.Error("Failed to enqueue offline save",
			"document_id", c.documentID,
			"error", err)
		return
	}

	c.baseVersion++
	c.pending = nil
}

// performDrain flushes the queue head-first. Stops on the first transport
// error and leaves the remaining entries queued.
func (c *Coordinator) performDrain(ctx context.Context) error {
	c.draining.Store(true)
	defer c.draining.Store(false)

	for {
		entry, err := c.queue.Peek(ctx)
		if errors.Is(err, storage.ErrQueueEmpty) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := c.drainEntry(ctx, entry); err != nil {
			return err
		}
	}
}

// drainEntry replays one queued save with its original op id, so a save
// that actually landed before the disconnect is answered from the
// idempotency cache instead of being applied twice.
func (c *Coordinator) drainEntry(ctx context.Context, entry *models.OfflineQueueEntry) error {
	result, err := c.saveTo(ctx, entry.DocumentID, entry.OpID, entry.Content, entry.BaseVersion)
	switch {
	case err == nil:
		if result.NewVersion > c.baseVersion {
			c.baseVersion = result.NewVersion
		}
		return c.queue.Ack(ctx, entry.OpID)

	case isConflict(err):
		// fresh op id: replaying the original would just return the
		// cached conflict
		latest := asConflict(err).Latest
		result, ffErr := c.saveTo(ctx, entry.DocumentID, c.newOpID(), entry.Content, latest.LatestVersion)
		if ffErr == nil {
			if result.NewVersion > c.baseVersion {
				c.baseVersion = result.NewVersion
			}
			return c.queue.Ack(ctx, entry.OpID)
		}
		if isConflict(ffErr) {
			c.surfaceFatal(ctx, entry, ffErr)
			return nil
		}
		return c.retryOrGiveUp(ctx, entry, ffErr)

	default:
		return c.retryOrGiveUp(ctx, entry, err)
	}
}

// retryOrGiveUp counts one failed attempt against the entry's retry
// budget. Within budget the drain pass stops and the entry stays queued;
// past it the entry is surfaced as a permanent failure.
func (c *Coordinator) retryOrGiveUp(ctx context.Context, entry *models.OfflineQueueEntry, cause error) error {
	if entry.RetryCount+1 >= c.cfg.MaxQueueRetries {
		c.surfaceFatal(ctx, entry, cause)
		return nil
	}

	if err := c.queue.BumpRetry(ctx, entry.OpID); err != nil {
		return err
	}
	return cause
}

func (c *Coordinator) surfaceFatal(ctx context.Context, entry *models.OfflineQueueEntry, cause error) {
	c.logger.Error("Giving up on queued save",
		"document_id", c.documentID,
		"op_id", entry.OpID,
		"retries", entry.RetryCount,
		"error", cause)

	if err := c.queue.Ack(ctx, entry.OpID); err != nil {
		c.logger.Error("Failed to remove queued save",
			"op_id", entry.OpID,
			"error", err)
	}
	if c.OnFatal != nil {
		c.OnFatal(entry, cause)
	}
}

func (c *Coordinator) save(ctx context.Context, opID string, content []models.ContentBlock, baseVersion uint64) (*api.SaveAccepted, error) {
	return c.saveTo(ctx, c.documentID, opID, content, baseVersion)
}

func (c *Coordinator) saveTo(ctx context.Context, documentID, opID string, content []models.ContentBlock, baseVersion uint64) (*api.SaveAccepted, error) {
	return c.client.SaveDocument(ctx, documentID, api.SaveRequest{
		OpID:            opID,
		Content:         contentToAPI(content),
		BaseVersion:     baseVersion,
		ClientTimestamp: c.nowFunc(),
	})
}

func (c *Coordinator) queueEmpty(ctx context.Context) (bool, error) {
	n, err := c.queue.Len(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func contentToAPI(blocks []models.ContentBlock) []api.ContentBlock {
	out := make([]api.ContentBlock, len(blocks))
	for i, b := range blocks {
		out[i] = api.ContentBlock{Type: b.Type, Payload: b.Payload}
	}
	return out
}

func isConflict(err error) bool {
	var conflict *clientapi.ConflictError
	return errors.As(err, &conflict)
}

func asConflict(err error) *clientapi.ConflictError {
	conflict := &clientapi.ConflictError{}
	if errors.As(err, &conflict) {
		return conflict
	}
	return nil
}

func isRateLimited(err error) bool {
	var limited *clientapi.RateLimitedError
	return errors.As(err, &limited)
}

func rateLimitDelay(err error) time.Duration {
	var limited *clientapi.RateLimitedError
	if errors.As(err, &limited) && limited.RetryAfter > 0 {
		return limited.RetryAfter
	}
	return defaultRateLimitDelay
}

package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/art-volia/tg-analyzer/heartbeat"
)

const defaultFloodGrace = 5 * time.Second

// Pacer supplies the randomized cadence values. Every call draws fresh.
type Pacer interface {
	BatchLimit() int
	MicroEvery() int
	PauseBetweenBatches(ctx context.Context) error
	PauseBetweenChats(ctx context.Context) error
	MicroPause(ctx context.Context) error
}

// Liveness receives a beat after every significant action. Implementations
// swallow their own failures.
type Liveness interface {
	Beat(u heartbeat.Update)
}

type Options struct {
	// Chats are the configured conversation references, processed strictly in
	// order, never in parallel.
	Chats []string
	// IncludeDialogs enables the personal-dialog scan before the main pass.
	IncludeDialogs bool
	// FloodGrace is added on top of every platform-mandated cool-down.
	FloodGrace time.Duration
	// Sleep overrides the cool-down sleep, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Engine struct {
	client   PlatformClient
	cursors  CursorStore
	store    Persister
	pacer    Pacer
	heart    Liveness
	notifier Notifier
	log      *slog.Logger

	chats          []string
	includeDialogs bool
	floodGrace     time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

func NewEngine(client PlatformClient, cursors CursorStore, store Persister, pacer Pacer, heart Liveness, notifier Notifier, log *slog.Logger, opts Options) *Engine {
	if log == nil {
		log = slog.Default()
	}
	grace := opts.FloodGrace
	if grace == 0 {
		grace = defaultFloodGrace
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Engine{
		client:         client,
		cursors:        cursors,
		store:          store,
		pacer:          pacer,
		heart:          heart,
		notifier:       notifier,
		log:            log,
		chats:          opts.Chats,
		includeDialogs: opts.IncludeDialogs,
		floodGrace:     grace,
		sleep:          sleep,
	}
}

// Run executes one full collection pass: the optional personal-dialog scan,
// then every configured chat in sequence. A failure inside one chat is
// logged and does not abort the run; only context cancellation does.
func (e *Engine) Run(ctx context.Context, accountID int64) error {
	e.heart.Beat(heartbeat.Update{Action: heartbeat.ActionStart, Mode: heartbeat.ModeInit})

	directPeers := 0
	if e.includeDialogs {
		n, err := e.ScanDirects(ctx, accountID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.log.Error("scan_directs_failed", "error", err.Error())
		}
		directPeers = n
	}

	for _, ref := range e.chats {
		if err := e.processChat(ctx, ref, accountID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.log.Error("chat_failed", "chat", ref, "error", err.Error())
		}
		if err := e.pacer.PauseBetweenChats(ctx); err != nil {
			return err
		}
	}

	e.heart.Beat(heartbeat.Update{Action: heartbeat.ActionFinish, Mode: heartbeat.ModeDone})
	if e.notifier != nil {
		if err := e.notifier.RunFinished(ctx, directPeers); err != nil {
			e.log.Warn("notify_run_finished_failed", "error", err.Error())
		}
	}
	return nil
}

func (e *Engine) processChat(ctx context.Context, ref string, accountID int64) error {
	entity, err := e.client.ResolveEntity(ctx, ref)
	if err != nil {
		return err
	}
	if err := e.store.EnsureChat(ctx, entity, accountID); err != nil {
		return err
	}
	if saved, err := e.fetchIncremental(ctx, entity, accountID); err != nil {
		return err
	} else if saved > 0 {
		e.log.Info("incremental_saved", "chat_id", entity.ID, "count", saved)
	}
	if saved, err := e.fetchBackfill(ctx, entity, accountID); err != nil {
		return err
	} else if saved > 0 {
		e.log.Info("backfill_saved", "chat_id", entity.ID, "count", saved)
	}
	return nil
}

// fetchIncremental walks upward from the stored high watermark until the
// platform reports no newer messages. When no watermark exists the anchor is
// the top-of-stream sentinel: the first page is the newest available one,
// and the phase ends after it (backfill then covers everything below).
func (e *Engine) fetchIncremental(ctx context.Context, entity Entity, accountID int64) (int64, error) {
	cur, err := e.cursors.GetOrCreate(ctx, entity.ID)
	if err != nil {
		return 0, err
	}

	var got int64
	newest := cur.NewestFetchedID
	for {
		e.heart.Beat(heartbeat.Update{Action: heartbeat.ActionLoop, Mode: heartbeat.ModeIncremental, ChatID: entity.ID})

		limit := e.pacer.BatchLimit()
		var anchor, minID int64
		if newest > 0 {
			anchor = newest + 1
			minID = newest
		}
		page, err := e.fetchPage(ctx, entity, anchor, limit, 0, minID)
		if err != nil {
			return got, err
		}
		if len(page) == 0 {
			break
		}

		saved, err := e.persistPage(ctx, entity.ID, accountID, page, heartbeat.ModeIncremental)
		if err != nil {
			return got, err
		}
		got += saved

		if top := maxMessageID(page); top > newest {
			if err := e.cursors.AdvanceNewest(ctx, entity.ID, top); err != nil {
				return got, err
			}
			newest = top
		}
		if err := e.pacer.PauseBetweenBatches(ctx); err != nil {
			return got, err
		}
	}
	return got, nil
}

// fetchBackfill walks downward from the stored low watermark toward id 1, or
// toward the operator window's floor when one is configured.
func (e *Engine) fetchBackfill(ctx context.Context, entity Entity, accountID int64) (int64, error) {
	cur, err := e.cursors.GetOrCreate(ctx, entity.ID)
	if err != nil {
		return 0, err
	}
	win, err := e.cursors.Window(ctx, entity.ID)
	if err != nil {
		return 0, err
	}
	var maxID, floor int64
	if win != nil {
		maxID = win.MaxID
		floor = win.MinID
	}

	var total int64
	offset := cur.OldestFetchedID
	newest := cur.NewestFetchedID
	for {
		if floor > 0 && offset > 0 && offset <= floor {
			break // window exhausted
		}
		e.heart.Beat(heartbeat.Update{Action: heartbeat.ActionLoop, Mode: heartbeat.ModeBackfill, ChatID: entity.ID})

		limit := e.pacer.BatchLimit()
		page, err := e.fetchPage(ctx, entity, offset, limit, maxID, 0)
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			break
		}

		saved, err := e.persistPage(ctx, entity.ID, accountID, page, heartbeat.ModeBackfill)
		if err != nil {
			return total, err
		}
		total += saved

		newOldest := minMessageID(page)
		if err := e.cursors.AdvanceOldest(ctx, entity.ID, newOldest); err != nil {
			return total, err
		}
		if newest == 0 {
			// First page of a fresh chat also pins the high watermark.
			top := maxMessageID(page)
			if err := e.cursors.AdvanceNewest(ctx, entity.ID, top); err != nil {
				return total, err
			}
			newest = top
		}

		offset = newOldest
		if err := e.pacer.PauseBetweenBatches(ctx); err != nil {
			return total, err
		}
	}
	return total, nil
}

// fetchPage requests one history page, waiting out any cool-down and
// retrying the identical request. The pending batch is never skipped or
// shrunk on a rate limit.
func (e *Engine) fetchPage(ctx context.Context, entity Entity, anchorID int64, limit int, maxID, minID int64) ([]MessageDescriptor, error) {
	for {
		page, err := e.client.FetchHistoryPage(ctx, entity, anchorID, limit, maxID, minID)
		if err == nil {
			return page, nil
		}
		var rl *RateLimitedError
		if !errors.As(err, &rl) {
			return nil, err
		}
		wait := time.Duration(rl.Seconds)*time.Second + e.floodGrace
		e.log.Warn("flood_wait", "chat_id", entity.ID, "seconds", rl.Seconds, "grace", e.floodGrace.String())
		if err := e.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// persistPage applies the intra-batch micro-pause cadence, commits the page
// and reports the insertion through the heartbeat and the notifier.
func (e *Engine) persistPage(ctx context.Context, chatID, accountID int64, page []MessageDescriptor, mode heartbeat.Mode) (int64, error) {
	every := e.pacer.MicroEvery()
	for i := range page {
		if every > 0 && (i+1)%every == 0 {
			if err := e.pacer.MicroPause(ctx); err != nil {
				return 0, err
			}
		}
	}

	saved, err := e.store.PersistBatch(ctx, chatID, accountID, page)
	if err != nil {
		return 0, err
	}
	e.heart.Beat(heartbeat.Update{Action: heartbeat.ActionSaveMessages, Mode: mode, ChatID: chatID, Saved: saved})
	if e.notifier != nil {
		if err := e.notifier.BatchPersisted(ctx, chatID, saved, string(mode)); err != nil {
			e.log.Warn("notify_batch_failed", "chat_id", chatID, "error", err.Error())
		}
	}
	return saved, nil
}

func maxMessageID(page []MessageDescriptor) int64 {
	var m int64
	for _, msg := range page {
		if msg.ID > m {
			m = msg.ID
		}
	}
	return m
}

func minMessageID(page []MessageDescriptor) int64 {
	m := page[0].ID
	for _, msg := range page[1:] {
		if msg.ID < m {
			m = msg.ID
		}
	}
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

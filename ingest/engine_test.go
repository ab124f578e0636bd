package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/art-volia/tg-analyzer/heartbeat"
)

// fakePlatform simulates a chat whose history is a set of message ids,
// honoring the boundary contract documented on PlatformClient.
type fakePlatform struct {
	entities map[string]Entity
	history  map[int64][]int64 // ascending ids per chat
	dialogs  []Dialog

	// rateLimitOnRequest maps a request ordinal (1-based, counted across all
	// history calls) to a cool-down in seconds, fired once.
	rateLimitOnRequest map[int]int
	failChats          map[int64]error

	requests []historyRequest
}

type historyRequest struct {
	ChatID int64
	Anchor int64
	Limit  int
	MaxID  int64
	MinID  int64
}

func (f *fakePlatform) ResolveEntity(ctx context.Context, ref string) (Entity, error) {
	ent, ok := f.entities[ref]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return ent, nil
}

func (f *fakePlatform) FetchHistoryPage(ctx context.Context, entity Entity, anchorID int64, limit int, maxID, minID int64) ([]MessageDescriptor, error) {
	f.requests = append(f.requests, historyRequest{ChatID: entity.ID, Anchor: anchorID, Limit: limit, MaxID: maxID, MinID: minID})

	if f.rateLimitOnRequest != nil {
		if secs, ok := f.rateLimitOnRequest[len(f.requests)]; ok {
			delete(f.rateLimitOnRequest, len(f.requests))
			return nil, &RateLimitedError{Seconds: secs}
		}
	}
	if err, ok := f.failChats[entity.ID]; ok {
		return nil, err
	}

	ids := f.history[entity.ID]
	var selected []int64
	switch {
	case minID > 0:
		// Oldest unfetched ids above the watermark, walking upward.
		for _, id := range ids {
			if id > minID {
				selected = append(selected, id)
			}
			if len(selected) == limit {
				break
			}
		}
	default:
		// Walk downward from the anchor (or the top when anchor is zero).
		for i := len(ids) - 1; i >= 0; i-- {
			id := ids[i]
			if anchorID > 0 && id >= anchorID {
				continue
			}
			if maxID > 0 && id > maxID {
				continue
			}
			selected = append(selected, id)
			if len(selected) == limit {
				break
			}
		}
	}

	// Newest first, like the platform.
	sort.Slice(selected, func(i, j int) bool { return selected[i] > selected[j] })
	page := make([]MessageDescriptor, 0, len(selected))
	for _, id := range selected {
		page = append(page, MessageDescriptor{ID: id, Date: time.Unix(id, 0), Text: fmt.Sprintf("msg %d", id)})
	}
	return page, nil
}

func (f *fakePlatform) EnumerateDialogs(ctx context.Context, limit int) ([]Dialog, error) {
	return f.dialogs, nil
}

type fakeCursors struct {
	cursors map[int64]*Cursor
	windows map[int64]Window
}

func newFakeCursors() *fakeCursors {
	return &fakeCursors{cursors: map[int64]*Cursor{}, windows: map[int64]Window{}}
}

func (f *fakeCursors) GetOrCreate(ctx context.Context, chatID int64) (Cursor, error) {
	cur, ok := f.cursors[chatID]
	if !ok {
		cur = &Cursor{ChatID: chatID}
		f.cursors[chatID] = cur
	}
	return *cur, nil
}

func (f *fakeCursors) AdvanceNewest(ctx context.Context, chatID, candidateID int64) error {
	cur := f.cursors[chatID]
	if candidateID > cur.NewestFetchedID {
		cur.NewestFetchedID = candidateID
	}
	return nil
}

func (f *fakeCursors) AdvanceOldest(ctx context.Context, chatID, candidateID int64) error {
	cur := f.cursors[chatID]
	if cur.OldestFetchedID == 0 || candidateID < cur.OldestFetchedID {
		cur.OldestFetchedID = candidateID
	}
	return nil
}

func (f *fakeCursors) Window(ctx context.Context, chatID int64) (*Window, error) {
	if win, ok := f.windows[chatID]; ok {
		return &win, nil
	}
	return nil, nil
}

type storedKey struct {
	ChatID    int64
	MessageID int64
}

type fakePersister struct {
	stored      map[storedKey]bool
	chatsSeen   map[int64]bool
	directPeers []SenderInfo
	batchSaves  []int64 // inserted counts per batch, in order
}

func newFakePersister() *fakePersister {
	return &fakePersister{stored: map[storedKey]bool{}, chatsSeen: map[int64]bool{}}
}

func (f *fakePersister) EnsureChat(ctx context.Context, entity Entity, accountID int64) error {
	f.chatsSeen[entity.ID] = true
	return nil
}

func (f *fakePersister) PersistBatch(ctx context.Context, chatID, accountID int64, msgs []MessageDescriptor) (int64, error) {
	var saved int64
	for _, m := range msgs {
		key := storedKey{ChatID: chatID, MessageID: m.ID}
		if !f.stored[key] {
			f.stored[key] = true
			saved++
		}
	}
	f.batchSaves = append(f.batchSaves, saved)
	return saved, nil
}

func (f *fakePersister) RecordDirectPeer(ctx context.Context, accountID int64, peer SenderInfo) error {
	f.directPeers = append(f.directPeers, peer)
	return nil
}

func (f *fakePersister) storedInChat(chatID int64) int {
	n := 0
	for key := range f.stored {
		if key.ChatID == chatID {
			n++
		}
	}
	return n
}

// fixedPacer returns constant draws and never sleeps.
type fixedPacer struct {
	limit int
	every int
}

func (p fixedPacer) BatchLimit() int                               { return p.limit }
func (p fixedPacer) MicroEvery() int                               { return p.every }
func (p fixedPacer) PauseBetweenBatches(ctx context.Context) error { return ctx.Err() }
func (p fixedPacer) PauseBetweenChats(ctx context.Context) error   { return ctx.Err() }
func (p fixedPacer) MicroPause(ctx context.Context) error          { return ctx.Err() }

type recordingHeart struct {
	updates []heartbeat.Update
}

func (h *recordingHeart) Beat(u heartbeat.Update) {
	h.updates = append(h.updates, u)
}

func ascending(from, to int64) []int64 {
	ids := make([]int64, 0, to-from+1)
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(platform *fakePlatform, cursors *fakeCursors, persister *fakePersister, pacer Pacer, heart Liveness, opts Options) *Engine {
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	}
	return NewEngine(platform, cursors, persister, pacer, heart, nil, testLogger(), opts)
}

func TestEngineCompleteness(t *testing.T) {
	const chatID = 9001
	platform := &fakePlatform{
		entities: map[string]Entity{"@research": {ID: chatID, Kind: KindGroup, Title: "research"}},
		history:  map[int64][]int64{chatID: ascending(1, 137)},
	}
	cursors := newFakeCursors()
	persister := newFakePersister()

	engine := newTestEngine(platform, cursors, persister, fixedPacer{limit: 25}, &recordingHeart{}, Options{Chats: []string{"@research"}})
	if err := engine.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	cur := cursors.cursors[chatID]
	if cur.OldestFetchedID != 1 || cur.NewestFetchedID != 137 {
		t.Fatalf("cursor = (%d, %d), want (1, 137)", cur.OldestFetchedID, cur.NewestFetchedID)
	}
	if got := persister.storedInChat(chatID); got != 137 {
		t.Fatalf("stored %d messages, want 137", got)
	}

	// A second pass over an unchanged chat stores nothing new.
	if err := engine.Run(context.Background(), 1); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if got := persister.storedInChat(chatID); got != 137 {
		t.Fatalf("stored %d messages after second pass, want 137", got)
	}
}

func TestEngineEmptyChat(t *testing.T) {
	const chatID = 42
	platform := &fakePlatform{
		entities: map[string]Entity{"42": {ID: chatID, Kind: KindChannel}},
		history:  map[int64][]int64{},
	}
	cursors := newFakeCursors()
	persister := newFakePersister()

	engine := newTestEngine(platform, cursors, persister, fixedPacer{limit: 50}, &recordingHeart{}, Options{Chats: []string{"42"}})
	if err := engine.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	cur := cursors.cursors[chatID]
	if cur.OldestFetchedID != 0 || cur.NewestFetchedID != 0 {
		t.Fatalf("cursor = (%d, %d), want (0, 0)", cur.OldestFetchedID, cur.NewestFetchedID)
	}
	if len(persister.stored) != 0 {
		t.Fatalf("stored %d messages, want 0", len(persister.stored))
	}
	// One empty-page observation per phase.
	if len(platform.requests) != 2 {
		t.Fatalf("made %d history requests, want 2: %+v", len(platform.requests), platform.requests)
	}
}

func TestEngineFixedSizeBackfill(t *testing.T) {
	const chatID = 777
	platform := &fakePlatform{
		entities: map[string]Entity{"archive": {ID: chatID, Kind: KindChannel, Title: "archive"}},
		history:  map[int64][]int64{chatID: ascending(1, 250)},
	}
	cursors := newFakeCursors()
	persister := newFakePersister()

	engine := newTestEngine(platform, cursors, persister, fixedPacer{limit: 100}, &recordingHeart{}, Options{Chats: []string{"archive"}})
	if err := engine.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	cur := cursors.cursors[chatID]
	if cur.NewestFetchedID != 250 {
		t.Fatalf("newest = %d, want 250", cur.NewestFetchedID)
	}
	if cur.OldestFetchedID != 1 {
		t.Fatalf("oldest = %d, want 1", cur.OldestFetchedID)
	}
	if got := persister.storedInChat(chatID); got != 250 {
		t.Fatalf("stored %d messages, want 250", got)
	}

	// Incremental: top page + empty confirmation. Backfill: the top page
	// again (all duplicates), then two full pages, then empty.
	wantSaves := []int64{100, 0, 100, 50}
	if len(persister.batchSaves) != len(wantSaves) {
		t.Fatalf("persisted %d batches (%v), want %v", len(persister.batchSaves), persister.batchSaves, wantSaves)
	}
	for i, want := range wantSaves {
		if persister.batchSaves[i] != want {
			t.Fatalf("batch %d saved %d rows, want %d (all: %v)", i, persister.batchSaves[i], want, persister.batchSaves)
		}
	}
}

func TestEngineRateLimitRetriesSameRequest(t *testing.T) {
	const chatID = 5150
	platform := &fakePlatform{
		entities:           map[string]Entity{"5150": {ID: chatID, Kind: KindGroup}},
		history:            map[int64][]int64{chatID: ascending(1, 30)},
		rateLimitOnRequest: map[int]int{1: 7},
	}
	cursors := newFakeCursors()
	persister := newFakePersister()

	var slept []time.Duration
	engine := newTestEngine(platform, cursors, persister, fixedPacer{limit: 50}, &recordingHeart{}, Options{
		Chats:      []string{"5150"},
		FloodGrace: 5 * time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	})
	if err := engine.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(slept) == 0 {
		t.Fatal("expected a cool-down sleep")
	}
	if want := 12 * time.Second; slept[0] != want {
		t.Fatalf("slept %v, want %v (mandated wait + grace)", slept[0], want)
	}
	if len(platform.requests) < 2 {
		t.Fatalf("made %d requests, want the throttled one retried", len(platform.requests))
	}
	if platform.requests[0] != platform.requests[1] {
		t.Fatalf("retry differs from original: %+v vs %+v", platform.requests[0], platform.requests[1])
	}
	if got := persister.storedInChat(chatID); got != 30 {
		t.Fatalf("stored %d messages, want 30", got)
	}
}

func TestEngineChatFailureDoesNotAbortRun(t *testing.T) {
	const brokenID, healthyID = 1, 2
	platform := &fakePlatform{
		entities: map[string]Entity{
			"broken":  {ID: brokenID, Kind: KindGroup},
			"healthy": {ID: healthyID, Kind: KindGroup},
		},
		history:   map[int64][]int64{brokenID: ascending(1, 10), healthyID: ascending(1, 10)},
		failChats: map[int64]error{brokenID: errors.New("server unhappy")},
	}
	cursors := newFakeCursors()
	persister := newFakePersister()

	engine := newTestEngine(platform, cursors, persister, fixedPacer{limit: 50}, &recordingHeart{}, Options{Chats: []string{"broken", "healthy"}})
	if err := engine.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := persister.storedInChat(brokenID); got != 0 {
		t.Fatalf("broken chat stored %d messages, want 0", got)
	}
	if got := persister.storedInChat(healthyID); got != 10 {
		t.Fatalf("healthy chat stored %d messages, want 10", got)
	}
}

func TestEngineWindowCapsBackfill(t *testing.T) {
	const chatID = 31337
	platform := &fakePlatform{
		entities: map[string]Entity{"31337": {ID: chatID, Kind: KindChannel}},
		history:  map[int64][]int64{chatID: ascending(1, 250)},
	}
	cursors := newFakeCursors()
	cursors.windows[chatID] = Window{MinID: 100, MaxID: 200}
	persister := newFakePersister()

	engine := newTestEngine(platform, cursors, persister, fixedPacer{limit: 50}, &recordingHeart{}, Options{Chats: []string{"31337"}})
	if err := engine.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, req := range platform.requests {
		if req.Anchor > 0 && req.MinID == 0 && req.MaxID != 200 {
			t.Fatalf("backfill request without window cap: %+v", req)
		}
	}
	cur := cursors.cursors[chatID]
	if cur.OldestFetchedID == 0 || cur.OldestFetchedID > 100 {
		t.Fatalf("backfill stopped at oldest=%d, want at or below the window floor's page", cur.OldestFetchedID)
	}
	for id := int64(1); id <= 50; id++ {
		if persister.stored[storedKey{ChatID: chatID, MessageID: id}] {
			t.Fatalf("stored id %d below the window floor's final page", id)
		}
	}
	// Incremental's top pages plus the windowed range down to the floor page.
	if got := persister.storedInChat(chatID); got != 200 {
		t.Fatalf("stored %d messages, want 200", got)
	}
}

func TestEngineHeartbeatSequence(t *testing.T) {
	const chatID = 64
	platform := &fakePlatform{
		entities: map[string]Entity{"64": {ID: chatID, Kind: KindGroup}},
		history:  map[int64][]int64{chatID: ascending(1, 5)},
	}
	heart := &recordingHeart{}
	engine := newTestEngine(platform, newFakeCursors(), newFakePersister(), fixedPacer{limit: 10}, heart, Options{Chats: []string{"64"}})
	if err := engine.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(heart.updates) == 0 {
		t.Fatal("no heartbeat updates recorded")
	}
	first, last := heart.updates[0], heart.updates[len(heart.updates)-1]
	if first.Action != heartbeat.ActionStart || first.Mode != heartbeat.ModeInit {
		t.Fatalf("first beat = %+v, want start/init", first)
	}
	if last.Action != heartbeat.ActionFinish || last.Mode != heartbeat.ModeDone {
		t.Fatalf("last beat = %+v, want finish/done", last)
	}
	var sawSave bool
	for _, u := range heart.updates {
		if u.Action == heartbeat.ActionSaveMessages {
			sawSave = true
			if u.ChatID != chatID || u.Saved != 5 {
				t.Fatalf("save beat = %+v, want chat %d with 5 rows", u, chatID)
			}
		}
	}
	if !sawSave {
		t.Fatal("no save_messages beat recorded")
	}
}

func TestScanDirectsSkipsServiceAccount(t *testing.T) {
	boolPtr := func(v bool) *bool { return &v }
	platform := &fakePlatform{
		dialogs: []Dialog{
			{Entity: Entity{ID: ServiceNotificationsID, Kind: KindDirect}, User: &SenderInfo{UserID: ServiceNotificationsID, FirstName: "Telegram"}},
			{Entity: Entity{ID: 1010, Kind: KindDirect}, User: &SenderInfo{UserID: 1010, Username: "alice"}},
			{Entity: Entity{ID: 2020, Kind: KindDirect}, User: &SenderInfo{UserID: 2020, Username: "helperbot", IsBot: boolPtr(true)}},
			{Entity: Entity{ID: -500, Kind: KindGroup, Title: "some group"}},
		},
	}
	persister := newFakePersister()
	engine := newTestEngine(platform, newFakeCursors(), persister, fixedPacer{limit: 10}, &recordingHeart{}, Options{})

	count, err := engine.ScanDirects(context.Background(), 1)
	if err != nil {
		t.Fatalf("ScanDirects() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("discovered %d peers, want 2", count)
	}
	for _, peer := range persister.directPeers {
		if peer.UserID == ServiceNotificationsID {
			t.Fatalf("service account %d must not be recorded", ServiceNotificationsID)
		}
	}
}

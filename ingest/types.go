// Package ingest drives the per-chat two-phase history collection loop. The
// engine is pure orchestration: the platform client, the cursor store, the
// persister and the pacing policy are all injected, so every piece of
// behavior is testable against fakes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ServiceNotificationsID is Telegram's reserved service account. Personal
// dialog scans skip it.
const ServiceNotificationsID int64 = 777000

type EntityKind string

const (
	KindChannel EntityKind = "channel"
	KindGroup   EntityKind = "group"
	KindDirect  EntityKind = "direct"
)

// Entity is a resolved chat reference. The id is immutable; the title may
// change between runs.
type Entity struct {
	ID    int64
	Kind  EntityKind
	Title string
}

// SenderInfo describes the author of a message or a personal-dialog peer.
// IsBot is tri-state: nil when the platform did not say.
type SenderInfo struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	IsBot     *bool
}

// MessageDescriptor is one fetched message. Sender is nil for service
// messages and anonymous channel posts.
type MessageDescriptor struct {
	ID     int64
	Date   time.Time
	Text   string
	Sender *SenderInfo
}

// Dialog is one entry of a personal-dialog enumeration. User is set only for
// direct dialogs.
type Dialog struct {
	Entity Entity
	User   *SenderInfo
}

// RateLimitedError is the platform's cool-down signal. The pending request is
// retried in place after Seconds plus a grace period; it is never skipped.
type RateLimitedError struct {
	Seconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited for %ds", e.Seconds)
}

// ErrNotFound reports that a chat reference cannot be resolved.
var ErrNotFound = errors.New("entity not found")

// PlatformClient is the messaging-platform collaborator.
//
// FetchHistoryPage returns up to limit messages ordered newest-first. The
// boundary parameters pin down the direction of travel:
//
//   - minID > 0: the oldest unfetched messages with id > minID (the
//     incremental phase walking upward); anchorID carries the same boundary
//     as minID+1.
//   - anchorID > 0, minID == 0: the page directly below anchorID (the
//     backfill phase walking downward), additionally capped by maxID when
//     maxID > 0.
//   - anchorID == 0, minID == 0: the newest available page ("top of
//     stream" — the first-run sentinel).
//
// An empty page means no more history in that direction.
type PlatformClient interface {
	ResolveEntity(ctx context.Context, ref string) (Entity, error)
	FetchHistoryPage(ctx context.Context, entity Entity, anchorID int64, limit int, maxID, minID int64) ([]MessageDescriptor, error)
	EnumerateDialogs(ctx context.Context, limit int) ([]Dialog, error)
}

// Cursor is the per-chat watermark pair. Zero means unset.
type Cursor struct {
	ChatID          int64
	OldestFetchedID int64
	NewestFetchedID int64
}

// Window caps how far backfill may travel for one chat.
type Window struct {
	MinID int64
	MaxID int64
}

// CursorStore persists watermarks. AdvanceNewest never lowers the high mark;
// AdvanceOldest only lowers a set low mark (or sets an unset one).
type CursorStore interface {
	GetOrCreate(ctx context.Context, chatID int64) (Cursor, error)
	AdvanceNewest(ctx context.Context, chatID, candidateID int64) error
	AdvanceOldest(ctx context.Context, chatID, candidateID int64) error
	Window(ctx context.Context, chatID int64) (*Window, error)
}

// Persister is the idempotent storage collaborator. PersistBatch returns the
// number of rows actually inserted, which is smaller than the batch size when
// a previous run already stored part of the page.
type Persister interface {
	EnsureChat(ctx context.Context, entity Entity, accountID int64) error
	PersistBatch(ctx context.Context, chatID, accountID int64, msgs []MessageDescriptor) (int64, error)
	RecordDirectPeer(ctx context.Context, accountID int64, peer SenderInfo) error
}

// Notifier receives post-commit signals. Implementations must not fail the
// run; the engine logs and continues on error.
type Notifier interface {
	BatchPersisted(ctx context.Context, chatID, saved int64, mode string) error
	RunFinished(ctx context.Context, directPeers int) error
}

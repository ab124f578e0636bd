// Package heartbeat maintains the single overwritten liveness snapshot that
// external monitors read to decide whether the worker is running, stalled or
// done. Writes are atomic (temp file + rename) and failures are swallowed:
// liveness reporting must never interrupt ingestion.
package heartbeat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type Action string

const (
	ActionStart        Action = "start"
	ActionLoop         Action = "loop"
	ActionSaveMessages Action = "save_messages"
	ActionScanDirects  Action = "scan_directs"
	ActionFinish       Action = "finish"
)

type Mode string

const (
	ModeInit        Mode = "init"
	ModeIncremental Mode = "incremental"
	ModeBackfill    Mode = "backfill"
	ModeScanDirects Mode = "scan_directs"
	ModeDone        Mode = "done"
)

// Snapshot is the on-disk payload.
type Snapshot struct {
	PID                int       `json:"pid"`
	Session            string    `json:"session"`
	RunID              string    `json:"run_id"`
	StartedAt          time.Time `json:"started_at"`
	LastTick           time.Time `json:"last_tick"`
	LastAction         Action    `json:"last_action"`
	Mode               Mode      `json:"mode"`
	LastChatID         int64     `json:"last_chat_id,omitempty"`
	SavedMessagesTotal int64     `json:"saved_messages_total"`
}

// Update is what one beat carries; the reporter fills in the process fields.
type Update struct {
	Action Action
	Mode   Mode
	ChatID int64
	Saved  int64
}

type Options struct {
	Now    func() time.Time
	PID    int
	RunID  string
	Logger *slog.Logger
}

type Reporter struct {
	path      string
	session   string
	runID     string
	pid       int
	startedAt time.Time
	now       func() time.Time
	log       *slog.Logger
}

func NewReporter(path, session string, opts Options) *Reporter {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	pid := opts.PID
	if pid == 0 {
		pid = os.Getpid()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{
		path:      path,
		session:   session,
		runID:     opts.RunID,
		pid:       pid,
		startedAt: now(),
		now:       now,
		log:       log,
	}
}

// Beat overwrites the snapshot. Errors are logged at debug and dropped.
func (r *Reporter) Beat(u Update) {
	if r == nil {
		return
	}
	snap := Snapshot{
		PID:                r.pid,
		Session:            r.session,
		RunID:              r.runID,
		StartedAt:          r.startedAt,
		LastTick:           r.now(),
		LastAction:         u.Action,
		Mode:               u.Mode,
		LastChatID:         u.ChatID,
		SavedMessagesTotal: u.Saved,
	}
	if err := writeJSONAtomic(r.path, snap); err != nil {
		r.log.Debug("heartbeat_write_failed", "path", r.path, "error", err.Error())
	}
}

// Path returns the snapshot location, for the guard's cleanup.
func (r *Reporter) Path() string {
	return r.path
}

// Read loads a snapshot. The second return is false when no snapshot exists.
func Read(path string) (Snapshot, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("read heartbeat %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode heartbeat %s: %w", path, err)
	}
	return snap, true, nil
}

// Stale reports whether the last tick is older than maxAge.
func (s Snapshot) Stale(maxAge time.Duration, now time.Time) bool {
	return now.Sub(s.LastTick) > maxAge
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

package store

import (
	"context"
	"fmt"

	"github.com/art-volia/tg-analyzer/db/models"
	"github.com/art-volia/tg-analyzer/ingest"
)

// GetOrCreate returns the chat's watermark pair, creating the (0, 0) row on
// first contact. Cursor rows are never deleted.
func (s *Store) GetOrCreate(ctx context.Context, chatID int64) (ingest.Cursor, error) {
	var cur models.Cursor
	err := s.db.WithContext(ctx).
		Where(models.Cursor{ChatID: chatID}).
		FirstOrCreate(&cur).Error
	if err != nil {
		return ingest.Cursor{}, fmt.Errorf("get or create cursor %d: %w", chatID, err)
	}
	return ingest.Cursor{
		ChatID:          cur.ChatID,
		OldestFetchedID: cur.OldestFetchedID,
		NewestFetchedID: cur.NewestFetchedID,
	}, nil
}

// AdvanceNewest raises the high watermark, never lowers it.
func (s *Store) AdvanceNewest(ctx context.Context, chatID, candidateID int64) error {
	err := s.db.WithContext(ctx).Model(&models.Cursor{}).
		Where("chat_id = ? AND newest_fetched_id < ?", chatID, candidateID).
		Update("newest_fetched_id", candidateID).Error
	if err != nil {
		return fmt.Errorf("advance newest for chat %d: %w", chatID, err)
	}
	return nil
}

// AdvanceOldest lowers the low watermark, or sets it when still zero.
func (s *Store) AdvanceOldest(ctx context.Context, chatID, candidateID int64) error {
	err := s.db.WithContext(ctx).Model(&models.Cursor{}).
		Where("chat_id = ? AND (oldest_fetched_id = 0 OR oldest_fetched_id > ?)", chatID, candidateID).
		Update("oldest_fetched_id", candidateID).Error
	if err != nil {
		return fmt.Errorf("advance oldest for chat %d: %w", chatID, err)
	}
	return nil
}

// Window returns the operator-authored backfill cap for a chat, or nil when
// backfill is unbounded. With several rows present the most permissive one
// (largest max_id) wins.
func (s *Store) Window(ctx context.Context, chatID int64) (*ingest.Window, error) {
	var rows []models.Window
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("max_id DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("window lookup for chat %d: %w", chatID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &ingest.Window{MinID: rows[0].MinID, MaxID: rows[0].MaxID}, nil
}

// UpsertWindow replaces any existing window rows for the chat with the given
// bounds. Used by the windows import command, never by the engine.
func (s *Store) UpsertWindow(ctx context.Context, chatID, minID, maxID int64) error {
	gdb := s.db.WithContext(ctx)
	// A window may be authored before the chat's first ingestion; create the
	// chat stub so the foreign key holds.
	var chat models.Chat
	if err := gdb.Where(models.Chat{ChatID: chatID}).FirstOrCreate(&chat).Error; err != nil {
		return fmt.Errorf("ensure chat %d for window: %w", chatID, err)
	}
	if err := gdb.Where("chat_id = ?", chatID).Delete(&models.Window{}).Error; err != nil {
		return fmt.Errorf("clear windows for chat %d: %w", chatID, err)
	}
	win := models.Window{ChatID: chatID, MinID: minID, MaxID: maxID}
	if err := gdb.Create(&win).Error; err != nil {
		return fmt.Errorf("create window for chat %d: %w", chatID, err)
	}
	return nil
}

// ListWindows returns all configured windows, for the windows list command.
func (s *Store) ListWindows(ctx context.Context) ([]models.Window, error) {
	var rows []models.Window
	if err := s.db.WithContext(ctx).Order("chat_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	return rows, nil
}

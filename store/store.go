// Package store is the gorm-backed persistence layer. All message writes are
// insert-or-ignore on (chat_id, message_id), so replaying a page after a
// crash or restart is harmless. The store implements the engine's
// CursorStore and Persister contracts.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/art-volia/tg-analyzer/db/models"
	"github.com/art-volia/tg-analyzer/ingest"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func New(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// GetOrCreateAccount returns the local operator identity for a session name,
// creating it on first run.
func (s *Store) GetOrCreateAccount(ctx context.Context, sessionName string) (models.Account, error) {
	sessionName = strings.TrimSpace(sessionName)
	if sessionName == "" {
		return models.Account{}, fmt.Errorf("session name is required")
	}
	var acc models.Account
	err := s.db.WithContext(ctx).
		Where(models.Account{SessionName: sessionName}).
		Attrs(models.Account{DisplayName: sessionName}).
		FirstOrCreate(&acc).Error
	if err != nil {
		return models.Account{}, fmt.Errorf("get or create account %q: %w", sessionName, err)
	}
	return acc, nil
}

// EnsureChat registers the chat on first contact and merges the
// account-to-chat association. The title is refreshed on every run; the id
// and kind flags are set once.
func (s *Store) EnsureChat(ctx context.Context, entity ingest.Entity, accountID int64) error {
	gdb := s.db.WithContext(ctx)

	var chat models.Chat
	err := gdb.Where(models.Chat{ChatID: entity.ID}).
		Attrs(models.Chat{
			Title:     entity.Title,
			Type:      string(entity.Kind),
			IsGroup:   entity.Kind == ingest.KindGroup,
			IsChannel: entity.Kind == ingest.KindChannel,
		}).
		FirstOrCreate(&chat).Error
	if err != nil {
		return fmt.Errorf("ensure chat %d: %w", entity.ID, err)
	}
	if entity.Title != "" && chat.Title != entity.Title {
		if err := gdb.Model(&models.Chat{}).
			Where("chat_id = ?", entity.ID).
			Update("title", entity.Title).Error; err != nil {
			return fmt.Errorf("update chat %d title: %w", entity.ID, err)
		}
	}

	link := models.AccountChat{AccountID: accountID, ChatID: entity.ID}
	if err := gdb.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
		return fmt.Errorf("link account %d to chat %d: %w", accountID, entity.ID, err)
	}
	return nil
}

// PersistBatch upserts the senders referenced by the page, then performs one
// bulk insert-or-ignore across the whole batch. The returned count is the
// number of rows actually inserted, not the batch size.
func (s *Store) PersistBatch(ctx context.Context, chatID, accountID int64, msgs []ingest.MessageDescriptor) (int64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	var saved int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows := make([]models.Message, 0, len(msgs))
		for _, m := range msgs {
			var userID *int64
			if m.Sender != nil {
				if err := ensureUser(tx, *m.Sender); err != nil {
					return err
				}
				uid := m.Sender.UserID
				userID = &uid
				if m.Sender.IsBot != nil && *m.Sender.IsBot {
					bot := models.ChatBot{ChatID: chatID, BotUserID: uid}
					if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&bot).Error; err != nil {
						return fmt.Errorf("record chat bot %d in %d: %w", uid, chatID, err)
					}
				}
			}
			accID := accountID
			rows = append(rows, models.Message{
				ChatID:    chatID,
				MessageID: m.ID,
				AccountID: &accID,
				UserID:    userID,
				Date:      m.Date,
				Text:      strings.TrimSpace(m.Text),
			})
		}

		res := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "message_id"}},
			DoNothing: true,
		}).Create(&rows)
		if res.Error != nil {
			return fmt.Errorf("bulk insert %d messages into chat %d: %w", len(rows), chatID, res.Error)
		}
		saved = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// ensureUser creates the identity if absent. A known IsBot flag is filled in
// once and never overwritten; display fields follow the latest observation.
func ensureUser(tx *gorm.DB, sender ingest.SenderInfo) error {
	var user models.User
	err := tx.Where(models.User{UserID: sender.UserID}).
		Attrs(models.User{
			Username:  optStr(sender.Username),
			FirstName: optStr(sender.FirstName),
			LastName:  optStr(sender.LastName),
			IsBot:     sender.IsBot,
		}).
		FirstOrCreate(&user).Error
	if err != nil {
		return fmt.Errorf("ensure user %d: %w", sender.UserID, err)
	}
	if user.IsBot == nil && sender.IsBot != nil {
		if err := tx.Model(&models.User{}).
			Where("user_id = ?", sender.UserID).
			Update("is_bot", *sender.IsBot).Error; err != nil {
			return fmt.Errorf("backfill bot flag for user %d: %w", sender.UserID, err)
		}
	}
	return nil
}

// RecordDirectPeer ensures the peer identity exists before the association
// row is written, so the foreign key holds, then merges the association.
func (s *Store) RecordDirectPeer(ctx context.Context, accountID int64, peer ingest.SenderInfo) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUser(tx, peer); err != nil {
			return err
		}
		dp := models.DirectPeer{AccountID: accountID, UserID: peer.UserID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&dp).Error; err != nil {
			return fmt.Errorf("record direct peer %d: %w", peer.UserID, err)
		}
		return nil
	})
}

func optStr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

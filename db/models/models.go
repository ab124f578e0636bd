// Package models declares the gorm schema shared by the worker and the
// dashboard. Telegram ids exceed int32, so every external id column is an
// int64 mapped to BIGINT.
package models

import "time"

// Account is the local operator identity, keyed by session name.
type Account struct {
	ID          int64     `gorm:"primaryKey"`
	SessionName string    `gorm:"size:255;uniqueIndex;not null"`
	DisplayName string    `gorm:"size:255"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// User is a Telegram identity. IsBot is tri-state: nil means "not yet
// observed"; once set it is never overwritten.
type User struct {
	UserID    int64   `gorm:"primaryKey;autoIncrement:false"`
	Username  *string `gorm:"size:255;index"`
	FirstName *string `gorm:"size:255"`
	LastName  *string `gorm:"size:255"`
	IsBot     *bool
}

type Chat struct {
	ChatID    int64  `gorm:"primaryKey;autoIncrement:false"`
	Title     string `gorm:"size:512;index"`
	Type      string `gorm:"size:64"`
	IsGroup   bool   `gorm:"index"`
	IsChannel bool   `gorm:"index"`
}

// Message rows are append-only. Uniqueness on (chat_id, message_id) backs the
// insert-or-ignore batch upsert; rows are never updated after insert.
type Message struct {
	ID        int64     `gorm:"primaryKey"`
	ChatID    int64     `gorm:"not null;index;uniqueIndex:uq_message_chat_msg,priority:1"`
	MessageID int64     `gorm:"not null;uniqueIndex:uq_message_chat_msg,priority:2"`
	AccountID *int64    `gorm:"index"`
	UserID    *int64    `gorm:"index"`
	Date      time.Time `gorm:"index"`
	Text      string    `gorm:"type:text"`

	Chat    Chat     `gorm:"foreignKey:ChatID;references:ChatID;constraint:OnDelete:CASCADE"`
	Account *Account `gorm:"foreignKey:AccountID;references:ID;constraint:OnDelete:SET NULL"`
	User    *User    `gorm:"foreignKey:UserID;references:UserID;constraint:OnDelete:SET NULL"`
}

// Cursor holds the per-chat ingestion watermarks. Zero means unset. Rows are
// created on first contact with a chat and never deleted, so a restarted
// worker resumes where the previous run stopped.
type Cursor struct {
	ChatID          int64 `gorm:"primaryKey;autoIncrement:false"`
	OldestFetchedID int64
	NewestFetchedID int64

	Chat Chat `gorm:"foreignKey:ChatID;references:ChatID;constraint:OnDelete:CASCADE"`
}

// Window is an operator-authored cap on how far backfill may reach for one
// chat. The worker only ever reads these rows.
type Window struct {
	ID     int64 `gorm:"primaryKey"`
	ChatID int64 `gorm:"not null;index"`
	MinID  int64
	MaxID  int64

	Chat Chat `gorm:"foreignKey:ChatID;references:ChatID;constraint:OnDelete:CASCADE"`
}

// AccountChat links an account to every chat it has touched.
type AccountChat struct {
	AccountID int64 `gorm:"primaryKey;autoIncrement:false"`
	ChatID    int64 `gorm:"primaryKey;autoIncrement:false"`

	Account Account `gorm:"foreignKey:AccountID;references:ID;constraint:OnDelete:CASCADE"`
	Chat    Chat    `gorm:"foreignKey:ChatID;references:ChatID;constraint:OnDelete:CASCADE"`
}

// ChatBot records that a bot identity has posted in a chat.
type ChatBot struct {
	ChatID    int64 `gorm:"primaryKey;autoIncrement:false"`
	BotUserID int64 `gorm:"primaryKey;autoIncrement:false"`

	Chat Chat `gorm:"foreignKey:ChatID;references:ChatID;constraint:OnDelete:CASCADE"`
	User User `gorm:"foreignKey:BotUserID;references:UserID;constraint:OnDelete:CASCADE"`
}

// DirectPeer records a personal dialog discovered by the direct scan.
type DirectPeer struct {
	AccountID int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID    int64 `gorm:"primaryKey;autoIncrement:false"`

	Account Account `gorm:"foreignKey:AccountID;references:ID;constraint:OnDelete:CASCADE"`
	User    User    `gorm:"foreignKey:UserID;references:UserID;constraint:OnDelete:CASCADE"`
}

// ChatMeta, ChatTopic and ChatLanguage are dashboard-owned annotation tables.
// The worker migrates them but never writes to them.
type ChatMeta struct {
	ChatID  int64  `gorm:"primaryKey;autoIncrement:false"`
	Country string `gorm:"size:64"`

	Chat Chat `gorm:"foreignKey:ChatID;references:ChatID;constraint:OnDelete:CASCADE"`
}

type ChatTopic struct {
	ID     int64  `gorm:"primaryKey"`
	ChatID int64  `gorm:"not null;index"`
	Topic  string `gorm:"size:128;index"`

	Chat Chat `gorm:"foreignKey:ChatID;references:ChatID;constraint:OnDelete:CASCADE"`
}

type ChatLanguage struct {
	ID       int64  `gorm:"primaryKey"`
	ChatID   int64  `gorm:"not null;index"`
	Language string `gorm:"size:64;index"`

	Chat Chat `gorm:"foreignKey:ChatID;references:ChatID;constraint:OnDelete:CASCADE"`
}

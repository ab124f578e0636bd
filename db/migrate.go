package db

import (
	"fmt"

	"github.com/art-volia/tg-analyzer/db/models"
	"gorm.io/gorm"
)

func AutoMigrate(gdb *gorm.DB) error {
	if gdb == nil {
		return fmt.Errorf("nil gorm db")
	}
	return gdb.AutoMigrate(
		&models.Account{},
		&models.User{},
		&models.Chat{},
		&models.Message{},
		&models.Cursor{},
		&models.Window{},
		&models.AccountChat{},
		&models.ChatBot{},
		&models.DirectPeer{},
		&models.ChatMeta{},
		&models.ChatTopic{},
		&models.ChatLanguage{},
	)
}

package database

import (
	"smartmeet/app/model"

	"gorm.io/gorm"
)

// AutoMigrate 自动迁移表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Meeting{},
		&model.Transcript{},
		&model.UserAIConfig{},
	)
}

package services

import (
	"git.solsynth.dev/hypernet/meeting/pkg/internal/database"
	"git.solsynth.dev/hypernet/meeting/pkg/internal/models"
	"gorm.io/gorm/clause"
)

// EnsureAccount keeps the local copy of the provider profile in sync.
func EnsureAccount(account models.Account) (models.Account, error) {
	err := database.C.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "nick", "avatar", "updated_at"}),
	}).Create(&account).Error
	return account, err
}

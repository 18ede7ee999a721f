package postgres

import (
	"gorm.io/gorm"
)

// involving scopes a query to rows where userID is either participant.
func involving(userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("coach_id = ? OR client_id = ?", userID, userID)
	}
}

// affected turns a write that matched no row into gorm.ErrRecordNotFound.
func affected(result *gorm.DB) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// updateAll writes every column of value except its identity.
func updateAll(db *gorm.DB, value interface{}) error {
	return affected(db.Model(value).Select("*").Omit("id", "created_at").Updates(value))
}

package db

import (
	"context"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"production-test/internal/model"
)

// readingBatch is the insert batch size for readings.
const readingBatch = 500

// openORM opens a GORM SQLite connection with sane defaults.
func openORM(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// migrateORM ensures the schema for all models exists.
func migrateORM(db *gorm.DB) error {
	return db.AutoMigrate(&model.TestRun{}, &model.Reading{})
}

// closeORM closes the underlying SQL DB associated with the GORM connection.
func closeORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// insertRun writes a run and its readings in one transaction.
func insertRun(ctx context.Context, db *gorm.DB, run *model.TestRun, readings []model.Reading) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Readings").Create(run).Error; err != nil {
			return err
		}
		if len(readings) == 0 {
			return nil
		}
		return tx.CreateInBatches(readings, readingBatch).Error
	})
}

// deleteRun removes a run and its readings.
func deleteRun(ctx context.Context, db *gorm.DB, sessionID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.Reading{}).Error; err != nil {
			return err
		}
		return tx.Where("session_id = ?", sessionID).Delete(&model.TestRun{}).Error
	})
}

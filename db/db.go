package db

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gear_checkout/lifecycle"
	"gear_checkout/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConnectDB opens Postgres, retrying while the database comes up, and
// migrates the schema.
func ConnectDB(dsn string, attempts int) (*gorm.DB, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			lastErr = err
			log.Printf("[db] connection attempt %d/%d failed: %v", i+1, attempts, err)
			time.Sleep(2 * time.Second)
			continue
		}
		if err := Migrate(conn); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Println("[db] database connected")
		return conn, nil
	}
	return nil, fmt.Errorf("connect database after %d attempts: %w", attempts, lastErr)
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.User{}, &models.Equipment{}, &models.Transaction{}, &models.Log{}, &models.Credential{}, &models.Invite{}); err != nil {
		return err
	}

	// membership lookups: "which OPEN transaction holds this item"
	if err := db.Exec(fmt.Sprintf(`
	  CREATE INDEX IF NOT EXISTS %s_open_items_gin
	  ON %s USING GIN (items jsonb_path_ops)
	  WHERE status = 'OPEN';
	`, models.TransactionTable, models.TransactionTable)).Error; err != nil {
		return err
	}

	// held items must carry a holder, everything else must not
	if err := db.Exec(fmt.Sprintf(`
	  DO $$ BEGIN
	    ALTER TABLE %s ADD CONSTRAINT %s_assignment_matches_status CHECK (
	      (status IN ('CHECKED_OUT','PENDING_VERIFICATION')) = (assigned_to IS NOT NULL)
	    ) NOT VALID;
	  EXCEPTION WHEN duplicate_object THEN NULL;
	  END $$;
	`, models.EquipmentTable, models.EquipmentTable)).Error; err != nil {
		return err
	}
	return nil
}

// storeErr maps gorm errors onto the lifecycle store sentinels.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return lifecycle.ErrRecordNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", lifecycle.ErrDuplicate, err)
	}
	return err
}

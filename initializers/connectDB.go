package initializers

import (
	"fmt"
	"log"

	model "github.com/Itish41/virtualbackroom/models"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ConnectDB opens the store database selected by cfg.DatabaseDriver.
func ConnectDB(cfg Config) (*gorm.DB, error) {
	log.Printf("Connecting to %s database", cfg.DatabaseDriver)

	switch cfg.DatabaseDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			log.Println("DIRECT_URL variable not loading...")
			return nil, fmt.Errorf("env variable DIRECT_URL is empty")
		}
		pgConfig := postgres.Config{
			PreferSimpleProtocol: true, // Disable implicit prepared statement usage
			DriverName:           "postgres",
			DSN:                  cfg.DatabaseURL,
		}
		db, err := gorm.Open(postgres.New(pgConfig), &gorm.Config{
			PrepareStmt:          false,
			DisableAutomaticPing: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to the database: %w", err)
		}
		log.Println("Database connection successful")
		return db, nil

	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database %s: %w", cfg.SQLitePath, err)
		}
		// golang-migrate is only wired for postgres; sqlite gets its schema from the model.
		if err := db.AutoMigrate(&model.KVEntry{}); err != nil {
			return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
		}
		log.Println("Database connection successful")
		return db, nil
	}
	return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q (expected postgres or sqlite)", cfg.DatabaseDriver)
}

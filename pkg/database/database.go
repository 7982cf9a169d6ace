package database

import (
	"log"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Init() *gorm.DB {
	dsn := os.Getenv("DATABASE_URL")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		// Map driver unique-violation errors to gorm.ErrDuplicatedKey so the
		// plan gateway can resolve create races without parsing pg codes.
		TranslateError: true,
	})
	if err != nil {
		log.Fatal("failed to connect database:", err)
	}
	return db
}
